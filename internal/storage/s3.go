package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"dedup-go/internal/config"
	"dedup-go/internal/dedup"
)

const (
	vaultMarker = ".vault"
	deleteBatch = 1000
)

// s3API is the subset of the S3 client used by S3Store.
type s3API interface {
	manager.UploadAPIClient
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3Store keeps blocks as objects in an S3 (or S3-compatible) bucket:
//
//	<prefix>/<project>/<vault>/.vault
//	<prefix>/<project>/<vault>/blocks/<storageID>
//
// The empty .vault object marks the vault as created.
type S3Store struct {
	client   s3API
	uploader *manager.Uploader
	bucket   string
	prefix   string
	ids      dedup.IDGenerator
}

var _ dedup.BlockStore = (*S3Store)(nil)

// NewS3Store builds a client from the storage config. Static credentials are
// used when an access key is configured, otherwise the default AWS chain.
func NewS3Store(ctx context.Context, cfg config.StorageConfig) (*S3Store, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3 storage requires s3_bucket to be set")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.S3Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.S3Region))
	}
	if cfg.S3AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKeyID, cfg.S3SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
		o.UsePathStyle = cfg.S3UsePathStyle
	})
	return newS3Store(client, cfg.S3Bucket, cfg.S3Prefix), nil
}

func newS3Store(client s3API, bucket, prefix string) *S3Store {
	return &S3Store{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		prefix:   strings.Trim(prefix, "/"),
		ids:      dedup.UUIDGenerator{},
	}
}

func (s *S3Store) vaultPrefix(scope dedup.Scope, vault string) string {
	return path.Join(s.prefix, scope.ProjectID, vault) + "/"
}

func (s *S3Store) blocksPrefix(scope dedup.Scope, vault string) string {
	return s.vaultPrefix(scope, vault) + "blocks/"
}

func (s *S3Store) blockKey(scope dedup.Scope, vault, storageID string) (string, error) {
	if storageID == "" || strings.Contains(storageID, "/") {
		return "", fmt.Errorf("invalid storage id %q: %w", storageID, dedup.ErrBadRequest)
	}
	return s.blocksPrefix(scope, vault) + storageID, nil
}

func (s *S3Store) CreateVault(ctx context.Context, scope dedup.Scope, vault string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.vaultPrefix(scope, vault) + vaultMarker),
		Body:   strings.NewReader(""),
	})
	if err != nil {
		return fmt.Errorf("creating vault marker: %w", err)
	}
	return nil
}

func (s *S3Store) VaultExists(ctx context.Context, scope dedup.Scope, vault string) (bool, error) {
	_, err := s.head(ctx, s.vaultPrefix(scope, vault)+vaultMarker)
	if err != nil {
		if errors.Is(err, dedup.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// DeleteVault removes every object under the vault prefix, marker included.
func (s *S3Store) DeleteVault(ctx context.Context, scope dedup.Scope, vault string) error {
	var keys []types.ObjectIdentifier
	flush := func() error {
		if len(keys) == 0 {
			return nil
		}
		_, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: keys, Quiet: aws.Bool(true)},
		})
		keys = keys[:0]
		if err != nil {
			return fmt.Errorf("deleting vault objects: %w", err)
		}
		return nil
	}

	err := s.walk(ctx, s.vaultPrefix(scope, vault), "", func(obj types.Object) (bool, error) {
		keys = append(keys, types.ObjectIdentifier{Key: obj.Key})
		if len(keys) == deleteBatch {
			if err := flush(); err != nil {
				return false, err
			}
		}
		return true, nil
	})
	if err != nil {
		return err
	}
	return flush()
}

func (s *S3Store) VaultStatistics(ctx context.Context, scope dedup.Scope, vault string) (*dedup.StorageStats, error) {
	stats := &dedup.StorageStats{}
	err := s.walk(ctx, s.blocksPrefix(scope, vault), "", func(obj types.Object) (bool, error) {
		stats.BlockCount++
		stats.TotalSize += aws.ToInt64(obj.Size)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// PutBlock uploads through the transfer manager, which switches to multipart
// for large blocks.
func (s *S3Store) PutBlock(ctx context.Context, scope dedup.Scope, vault, blockID string, r io.Reader, size int64) (string, error) {
	exists, err := s.VaultExists(ctx, scope, vault)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", dedup.ErrVaultNotFound
	}

	storageID := dedup.StorageID(blockID, s.ids)
	key, err := s.blockKey(scope, vault, storageID)
	if err != nil {
		return "", err
	}

	counter := &countingReader{r: r}
	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   counter,
	})
	if err != nil {
		return "", fmt.Errorf("uploading block: %w", err)
	}
	if counter.n != size {
		s.DeleteBlock(ctx, scope, vault, storageID)
		return "", fmt.Errorf("size mismatch: expected %d bytes, got %d", size, counter.n)
	}
	return storageID, nil
}

func (s *S3Store) OpenBlock(ctx context.Context, scope dedup.Scope, vault, storageID string) (io.ReadCloser, error) {
	key, err := s.blockKey(scope, vault, storageID)
	if err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("storage block %s: %w", storageID, dedup.ErrBlockNotFound)
		}
		return nil, fmt.Errorf("getting block: %w", err)
	}
	return out.Body, nil
}

func (s *S3Store) BlockLength(ctx context.Context, scope dedup.Scope, vault, storageID string) (int64, error) {
	key, err := s.blockKey(scope, vault, storageID)
	if err != nil {
		return 0, err
	}
	out, err := s.head(ctx, key)
	if err != nil {
		if errors.Is(err, dedup.ErrNotFound) {
			return 0, fmt.Errorf("storage block %s: %w", storageID, dedup.ErrBlockNotFound)
		}
		return 0, err
	}
	return aws.ToInt64(out.ContentLength), nil
}

func (s *S3Store) BlockExists(ctx context.Context, scope dedup.Scope, vault, storageID string) (bool, error) {
	_, err := s.BlockLength(ctx, scope, vault, storageID)
	if err != nil {
		if errors.Is(err, dedup.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *S3Store) DeleteBlock(ctx context.Context, scope dedup.Scope, vault, storageID string) error {
	key, err := s.blockKey(scope, vault, storageID)
	if err != nil {
		return err
	}
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("deleting block: %w", err)
	}
	return nil
}

func (s *S3Store) ListBlocks(ctx context.Context, scope dedup.Scope, vault, marker string, limit int) ([]string, error) {
	prefix := s.blocksPrefix(scope, vault)
	startAfter := ""
	if marker != "" {
		startAfter = prefix + marker
	}

	var ids []string
	err := s.walk(ctx, prefix, startAfter, func(obj types.Object) (bool, error) {
		ids = append(ids, strings.TrimPrefix(aws.ToString(obj.Key), prefix))
		return limit < 1 || len(ids) < limit, nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// ValidateSetup checks that the bucket exists and the credentials reach it.
func (s *S3Store) ValidateSetup(ctx context.Context) error {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		return fmt.Errorf("bucket %s not accessible: %w", s.bucket, err)
	}
	return nil
}

func (s *S3Store) head(ctx context.Context, key string) (*s3.HeadObjectOutput, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, dedup.ErrNotFound
		}
		return nil, fmt.Errorf("head %s: %w", key, err)
	}
	return out, nil
}

// walk visits objects under prefix in key order until fn returns false.
func (s *S3Store) walk(ctx context.Context, prefix, startAfter string, fn func(types.Object) (bool, error)) error {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	}
	if startAfter != "" {
		input.StartAfter = aws.String(startAfter)
	}

	pages := s3.NewListObjectsV2Paginator(s.client, input)
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("listing %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			more, err := fn(obj)
			if err != nil {
				return err
			}
			if !more {
				return nil
			}
		}
	}
	return nil
}

func isNotFound(err error) bool {
	var noKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noKey) || errors.As(err, &notFound)
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/shirou/gopsutil/disk"

	"dedup-go/internal/dedup"
)

const tempPrefix = ".tmp-"

// FileSystemStore is a filesystem-based implementation of the BlockStore
// interface. Each vault is a directory and each stored block a file:
//
//	<root>/
//	  <project>/
//	    <vault>/
//	      blocks/
//	        <storageID>
type FileSystemStore struct {
	root         string
	minFreeBytes uint64
	ids          dedup.IDGenerator
}

var _ dedup.BlockStore = (*FileSystemStore)(nil)

// NewFileSystemStore creates a block store rooted at the given path. Writes are
// refused once the filesystem holding root has fewer than minFreeBytes free;
// zero disables the check.
func NewFileSystemStore(root string, minFreeBytes uint64) (*FileSystemStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	return &FileSystemStore{
		root:         root,
		minFreeBytes: minFreeBytes,
		ids:          dedup.UUIDGenerator{},
	}, nil
}

func (s *FileSystemStore) vaultDir(scope dedup.Scope, vault string) string {
	return filepath.Join(s.root, scope.ProjectID, vault)
}

func (s *FileSystemStore) blocksDir(scope dedup.Scope, vault string) string {
	return filepath.Join(s.vaultDir(scope, vault), "blocks")
}

// blockPath refuses storage ids that would escape the vault directory.
func (s *FileSystemStore) blockPath(scope dedup.Scope, vault, storageID string) (string, error) {
	if storageID == "" || filepath.Base(storageID) != storageID || strings.HasPrefix(storageID, ".") {
		return "", fmt.Errorf("invalid storage id %q: %w", storageID, dedup.ErrBadRequest)
	}
	return filepath.Join(s.blocksDir(scope, vault), storageID), nil
}

func (s *FileSystemStore) CreateVault(_ context.Context, scope dedup.Scope, vault string) error {
	if err := os.MkdirAll(s.blocksDir(scope, vault), 0755); err != nil {
		return fmt.Errorf("failed to create vault directory: %w", err)
	}
	return nil
}

func (s *FileSystemStore) VaultExists(_ context.Context, scope dedup.Scope, vault string) (bool, error) {
	info, err := os.Stat(s.blocksDir(scope, vault))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("checking vault directory: %w", err)
	}
	return info.IsDir(), nil
}

func (s *FileSystemStore) DeleteVault(_ context.Context, scope dedup.Scope, vault string) error {
	if err := os.RemoveAll(s.vaultDir(scope, vault)); err != nil {
		return fmt.Errorf("failed to remove vault directory: %w", err)
	}
	return nil
}

func (s *FileSystemStore) VaultStatistics(_ context.Context, scope dedup.Scope, vault string) (*dedup.StorageStats, error) {
	entries, err := s.readBlocks(scope, vault)
	if err != nil {
		return nil, err
	}
	stats := &dedup.StorageStats{}
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("reading block info: %w", err)
		}
		stats.BlockCount++
		stats.TotalSize += info.Size()
	}
	return stats, nil
}

// PutBlock writes the block to a temp file and renames it into place, so a
// storage id is either absent or complete.
func (s *FileSystemStore) PutBlock(_ context.Context, scope dedup.Scope, vault, blockID string, r io.Reader, size int64) (string, error) {
	if err := s.checkFreeSpace(size); err != nil {
		return "", err
	}

	dir := s.blocksDir(scope, vault)
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", dedup.ErrVaultNotFound
		}
		return "", fmt.Errorf("checking vault directory: %w", err)
	}

	storageID := dedup.StorageID(blockID, s.ids)
	destPath, err := s.blockPath(scope, vault, storageID)
	if err != nil {
		return "", err
	}
	if err := writeFile(destPath, r, size); err != nil {
		return "", err
	}
	return storageID, nil
}

func (s *FileSystemStore) OpenBlock(_ context.Context, scope dedup.Scope, vault, storageID string) (io.ReadCloser, error) {
	path, err := s.blockPath(scope, vault, storageID)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("storage block %s: %w", storageID, dedup.ErrBlockNotFound)
		}
		return nil, fmt.Errorf("failed to open block: %w", err)
	}
	return f, nil
}

func (s *FileSystemStore) BlockLength(_ context.Context, scope dedup.Scope, vault, storageID string) (int64, error) {
	path, err := s.blockPath(scope, vault, storageID)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("storage block %s: %w", storageID, dedup.ErrBlockNotFound)
		}
		return 0, fmt.Errorf("failed to stat block: %w", err)
	}
	return info.Size(), nil
}

func (s *FileSystemStore) BlockExists(ctx context.Context, scope dedup.Scope, vault, storageID string) (bool, error) {
	_, err := s.BlockLength(ctx, scope, vault, storageID)
	if err != nil {
		if errors.Is(err, dedup.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *FileSystemStore) DeleteBlock(_ context.Context, scope dedup.Scope, vault, storageID string) error {
	path, err := s.blockPath(scope, vault, storageID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove block: %w", err)
	}
	return nil
}

func (s *FileSystemStore) ListBlocks(_ context.Context, scope dedup.Scope, vault, marker string, limit int) ([]string, error) {
	entries, err := s.readBlocks(scope, vault)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return dedup.After(names, marker, limit), nil
}

// ValidateSetup verifies that the storage root is an accessible directory.
func (s *FileSystemStore) ValidateSetup(context.Context) error {
	info, err := os.Stat(s.root)
	if err != nil {
		return fmt.Errorf("storage root not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("storage root is not a directory: %s", s.root)
	}
	return nil
}

// readBlocks lists stored block files, skipping in-flight temp files.
// A missing vault directory lists as empty.
func (s *FileSystemStore) readBlocks(scope dedup.Scope, vault string) ([]fs.DirEntry, error) {
	entries, err := os.ReadDir(s.blocksDir(scope, vault))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading vault directory: %w", err)
	}
	out := entries[:0]
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), tempPrefix) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out, nil
}

func (s *FileSystemStore) checkFreeSpace(size int64) error {
	if s.minFreeBytes == 0 {
		return nil
	}
	usage, err := disk.Usage(s.root)
	if err != nil {
		return fmt.Errorf("checking free space: %w", err)
	}
	if usage.Free < s.minFreeBytes+uint64(size) {
		return fmt.Errorf("storage root %s has %d bytes free, below the %d byte minimum", s.root, usage.Free, s.minFreeBytes)
	}
	return nil
}

// writeFile writes data from r to the specified path using atomic write (temp file + rename).
func writeFile(destPath string, r io.Reader, expectedSize int64) error {
	// Create temp file in the same directory to ensure atomic rename works
	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), tempPrefix+"*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if written != expectedSize {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", expectedSize, written)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	success = true
	return nil
}

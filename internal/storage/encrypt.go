package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"dedup-go/internal/dedup"
)

// EncryptedStore encrypts blocks with the public key before they reach the
// wrapped store and decrypts them on read with an unlocked key. Block ids are
// digests of the plaintext, so deduplication is unaffected.
type EncryptedStore struct {
	dedup.BlockStore
	encryptor dedup.Encryptor
	decrypter dedup.DecryptionContext
}

var _ dedup.BlockStore = (*EncryptedStore)(nil)

// NewEncryptedStore wraps inner. decrypter may be nil for a write-only store,
// in which case reads fail.
func NewEncryptedStore(inner dedup.BlockStore, encryptor dedup.Encryptor, decrypter dedup.DecryptionContext) *EncryptedStore {
	return &EncryptedStore{BlockStore: inner, encryptor: encryptor, decrypter: decrypter}
}

func (e *EncryptedStore) PutBlock(ctx context.Context, scope dedup.Scope, vault, blockID string, r io.Reader, size int64) (string, error) {
	counter := &countingReader{r: r}
	var buf bytes.Buffer
	if err := e.encryptor.Encrypt(counter, &buf); err != nil {
		return "", fmt.Errorf("encrypting block: %w", err)
	}
	if counter.n != size {
		return "", fmt.Errorf("size mismatch: expected %d bytes, got %d", size, counter.n)
	}
	return e.BlockStore.PutBlock(ctx, scope, vault, blockID, &buf, int64(buf.Len()))
}

// OpenBlock streams plaintext through a pipe fed by a decrypting goroutine.
func (e *EncryptedStore) OpenBlock(ctx context.Context, scope dedup.Scope, vault, storageID string) (io.ReadCloser, error) {
	if e.decrypter == nil {
		return nil, fmt.Errorf("block store is locked: no decryption key")
	}
	rc, err := e.BlockStore.OpenBlock(ctx, scope, vault, storageID)
	if err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		err := e.decrypter.Decrypt(rc, pw)
		rc.Close()
		if err != nil {
			err = fmt.Errorf("decrypting storage block %s: %w", storageID, err)
		}
		pw.CloseWithError(err)
	}()
	return &decryptingReader{pr: pr, done: done}, nil
}

// BlockLength decrypts the block to count its plaintext bytes.
func (e *EncryptedStore) BlockLength(ctx context.Context, scope dedup.Scope, vault, storageID string) (int64, error) {
	rc, err := e.OpenBlock(ctx, scope, vault, storageID)
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	n, err := io.Copy(io.Discard, rc)
	if err != nil {
		return 0, err
	}
	return n, nil
}

type decryptingReader struct {
	pr   *io.PipeReader
	done chan struct{}
}

func (d *decryptingReader) Read(p []byte) (int, error) { return d.pr.Read(p) }

// Close unblocks the decrypting goroutine and waits for it to finish.
func (d *decryptingReader) Close() error {
	d.pr.Close()
	<-d.done
	return nil
}

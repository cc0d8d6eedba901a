package dedup

import (
	"context"
	"io"
)

// BlockStore holds the bytes of stored blocks, addressed by storage id.
// It has no notion of references; the Index decides what to keep.
type BlockStore interface {
	CreateVault(ctx context.Context, scope Scope, vault string) error
	VaultExists(ctx context.Context, scope Scope, vault string) (bool, error)

	// DeleteVault removes the vault and anything left in it.
	DeleteVault(ctx context.Context, scope Scope, vault string) error

	VaultStatistics(ctx context.Context, scope Scope, vault string) (*StorageStats, error)

	// PutBlock stores size bytes read from r as a copy of blockID and
	// returns the storage id of the new object.
	PutBlock(ctx context.Context, scope Scope, vault, blockID string, r io.Reader, size int64) (string, error)

	// OpenBlock returns a reader over the stored bytes. A missing object
	// yields an error wrapping ErrBlockNotFound.
	OpenBlock(ctx context.Context, scope Scope, vault, storageID string) (io.ReadCloser, error)

	// BlockLength returns the number of stored bytes for storageID.
	BlockLength(ctx context.Context, scope Scope, vault, storageID string) (int64, error)

	BlockExists(ctx context.Context, scope Scope, vault, storageID string) (bool, error)

	// DeleteBlock removes a stored object. Deleting a missing object is not an error.
	DeleteBlock(ctx context.Context, scope Scope, vault, storageID string) error

	// ListBlocks returns up to limit storage ids greater than marker, ascending.
	ListBlocks(ctx context.Context, scope Scope, vault, marker string, limit int) ([]string, error)

	// ValidateSetup verifies that the store is accessible and properly configured.
	ValidateSetup(ctx context.Context) error
}

package dedup

import (
	"context"
	"time"
)

// MetadataStore is the transactional catalog of vaults, blocks, files and
// assignments. Every method is scoped by project and vault. Lookups return
// (nil, nil) when the record does not exist.
//
// Implementations must make each method atomic with respect to concurrent
// callers: reference counts are adjusted in place, never read-modify-written
// across calls.
type MetadataStore interface {
	// Vault operations

	// CreateVault records a vault. Creating an existing vault is a no-op.
	CreateVault(ctx context.Context, scope Scope, vault string, createdAt time.Time) error

	VaultExists(ctx context.Context, scope Scope, vault string) (bool, error)

	// DeleteVault removes an empty vault. It returns ErrVaultNotFound for an
	// unknown vault and ErrVaultNotEmpty if any block or file remains.
	DeleteVault(ctx context.Context, scope Scope, vault string) error

	// ListVaults returns up to limit vault names greater than marker, ascending.
	ListVaults(ctx context.Context, scope Scope, marker string, limit int) ([]string, error)

	VaultStatistics(ctx context.Context, scope Scope, vault string) (*MetadataStats, error)

	// Block operations

	// RegisterBlock records an uploaded block. It reports false if a live
	// record already exists, and returns ErrBlockDeleting if the block is
	// tombstoned. A new record adopts every pending assignment of the block
	// so that its reference count equals its assignments.
	RegisterBlock(ctx context.Context, scope Scope, vault string, block Block) (bool, error)

	// GetBlock returns a live block. Tombstoned blocks are reported absent.
	GetBlock(ctx context.Context, scope Scope, vault, blockID string) (*Block, error)

	// FindBlockByStorageID returns the block record, tombstoned or not, that
	// owns storageID.
	FindBlockByStorageID(ctx context.Context, scope Scope, vault, storageID string) (*Block, error)

	// AddReference increments a live block's reference count.
	AddReference(ctx context.Context, scope Scope, vault, blockID string, at time.Time) error

	// ReleaseReference decrements a live block's reference count, never below zero.
	ReleaseReference(ctx context.Context, scope Scope, vault, blockID string, at time.Time) error

	// MarkBlockDeleting tombstones a block whose reference count is zero and
	// returns the record. An already tombstoned block is returned as is, so an
	// interrupted delete can be finished. It returns (nil, nil) if no record
	// exists and ErrBlockReferenced if references remain.
	MarkBlockDeleting(ctx context.Context, scope Scope, vault, blockID string) (*Block, error)

	// UnmarkBlockDeleting clears a tombstone after a failed storage delete.
	UnmarkBlockDeleting(ctx context.Context, scope Scope, vault, blockID string) error

	// RemoveBlock drops a tombstoned block record. Removing a missing record
	// is not an error.
	RemoveBlock(ctx context.Context, scope Scope, vault, blockID string) error

	// ListBlocks returns up to limit live block ids greater than marker, ascending.
	ListBlocks(ctx context.Context, scope Scope, vault, marker string, limit int) ([]string, error)

	// File operations

	CreateFile(ctx context.Context, scope Scope, vault string, file File) error
	GetFile(ctx context.Context, scope Scope, vault, fileID string) (*File, error)

	// AssignBlocks applies assignments to an open file in one transaction and
	// bumps its revision. An assignment at an occupied offset replaces the
	// previous one. It returns the ids of assigned blocks that are not live.
	AssignBlocks(ctx context.Context, scope Scope, vault, fileID string, assignments []Assignment, at time.Time) ([]string, error)

	// FileBlocks returns up to limit assignments with offset greater than
	// afterOffset, ascending by offset. A limit below one returns all of them.
	FileBlocks(ctx context.Context, scope Scope, vault, fileID string, afterOffset int64, limit int) ([]FileBlock, error)

	// FinalizeFile marks an open file finalized with the given length, provided
	// its revision still equals revision. It returns ErrFileFinalized if the
	// file is already finalized and ErrStaleFileRevision if it changed.
	FinalizeFile(ctx context.Context, scope Scope, vault, fileID string, length, revision int64) error

	// DeleteFile removes a file and releases its counted references.
	// It reports whether the file existed.
	DeleteFile(ctx context.Context, scope Scope, vault, fileID string, at time.Time) (bool, error)

	// ListFiles returns up to limit file ids greater than marker, ascending.
	ListFiles(ctx context.Context, scope Scope, vault, marker string, limit int, finalizedOnly bool) ([]string, error)

	// Ping checks that the store is reachable.
	Ping(ctx context.Context) error

	Close() error
}

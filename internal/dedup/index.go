package dedup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
)

// StorageBlock describes a stored object as seen from the storage surface.
// Indexed is false for orphans: objects no block record points at.
type StorageBlock struct {
	StorageID   string
	BlockID     string
	Length      int64
	RefCount    int64
	RefModified time.Time
	Indexed     bool
}

// Index is the deduplicating block index of one vault. It keeps the block
// store and the metadata store in agreement: bytes are written before their
// record, and a record is tombstoned before its bytes are deleted.
type Index struct {
	scope     Scope
	vault     string
	meta      MetadataStore
	blocks    BlockStore
	addresser *Addresser
	logger    Logger
	clock     Clock
}

// NewIndex returns an Index bound to one vault of one project.
func NewIndex(scope Scope, vault string, meta MetadataStore, blocks BlockStore, addresser *Addresser, logger Logger, clock Clock) *Index {
	return &Index{
		scope:     scope,
		vault:     vault,
		meta:      meta,
		blocks:    blocks,
		addresser: addresser,
		logger:    logger,
		clock:     clock,
	}
}

// Put verifies data against blockID and stores it unless the vault already
// holds the block. It reports whether new bytes were written.
func (x *Index) Put(ctx context.Context, blockID string, data []byte) (bool, error) {
	if err := x.addresser.Verify(blockID, data); err != nil {
		return false, err
	}
	return x.put(ctx, blockID, data)
}

// put stores already verified data.
func (x *Index) put(ctx context.Context, blockID string, data []byte) (bool, error) {
	existing, err := x.meta.GetBlock(ctx, x.scope, x.vault, blockID)
	if err != nil {
		return false, fmt.Errorf("checking for existing block: %w", err)
	}
	if existing != nil {
		x.logger.Debug("block deduplicated", "vault", x.vault, "block", blockID)
		return false, nil
	}

	storageID, err := x.blocks.PutBlock(ctx, x.scope, x.vault, blockID, bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return false, fmt.Errorf("storing block: %w", err)
	}

	created, err := x.Register(ctx, blockID, storageID, int64(len(data)))
	if err != nil {
		x.discard(ctx, storageID)
		return false, err
	}
	if !created {
		// Another upload registered the block first; ours is redundant.
		x.discard(ctx, storageID)
		x.logger.Debug("block upload lost race", "vault", x.vault, "block", blockID)
		return false, nil
	}

	x.logger.Info("block stored", "vault", x.vault, "block", blockID, "storage_id", storageID, "size", len(data))
	return true, nil
}

// PutMany verifies every block before storing any of them, then stores each.
// It returns the number of blocks that were newly written.
func (x *Index) PutMany(ctx context.Context, blocks map[string][]byte) (int, error) {
	ids := make([]string, 0, len(blocks))
	for id := range blocks {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if err := x.addresser.Verify(id, blocks[id]); err != nil {
			return 0, err
		}
	}

	created := 0
	for _, id := range ids {
		ok, err := x.put(ctx, id, blocks[id])
		if err != nil {
			return created, fmt.Errorf("storing block %s: %w", id, err)
		}
		if ok {
			created++
		}
	}
	return created, nil
}

// Register records a block whose bytes are already stored under storageID.
// It reports false if the block was already registered.
func (x *Index) Register(ctx context.Context, blockID, storageID string, length int64) (bool, error) {
	created, err := x.meta.RegisterBlock(ctx, x.scope, x.vault, Block{
		BlockID:     blockID,
		StorageID:   storageID,
		Length:      length,
		RefModified: x.clock.Now(),
	})
	if err != nil {
		return false, fmt.Errorf("registering block: %w", err)
	}
	return created, nil
}

// AssignReference records one more file reference to blockID. It is the
// single-block primitive; the Assembler counts references in bulk through
// MetadataStore.AssignBlocks and DeleteFile in the same transaction as the
// assignment rows.
func (x *Index) AssignReference(ctx context.Context, blockID string) error {
	if err := x.meta.AddReference(ctx, x.scope, x.vault, blockID, x.clock.Now()); err != nil {
		return fmt.Errorf("adding reference: %w", err)
	}
	return nil
}

// ReleaseReference drops one file reference to blockID, never below zero.
func (x *Index) ReleaseReference(ctx context.Context, blockID string) error {
	if err := x.meta.ReleaseReference(ctx, x.scope, x.vault, blockID, x.clock.Now()); err != nil {
		return fmt.Errorf("releasing reference: %w", err)
	}
	return nil
}

// Has reports whether blockID is a live block of the vault.
func (x *Index) Has(ctx context.Context, blockID string) (bool, error) {
	blk, err := x.meta.GetBlock(ctx, x.scope, x.vault, blockID)
	if err != nil {
		return false, fmt.Errorf("finding block: %w", err)
	}
	return blk != nil, nil
}

// Head returns the record for blockID. When there is no record but bytes
// for blockID are stored, it returns a Block with Orphaned set and only
// StorageID and Length filled in.
func (x *Index) Head(ctx context.Context, blockID string) (*Block, error) {
	blk, err := x.live(ctx, blockID)
	if err == nil || !errors.Is(err, ErrBlockNotFound) || !x.addresser.ValidID(blockID) {
		return blk, err
	}

	ids, err := x.blocks.ListBlocks(ctx, x.scope, x.vault, blockID, 1)
	if err != nil {
		return nil, fmt.Errorf("looking for stored bytes: %w", err)
	}
	if len(ids) == 0 || !strings.HasPrefix(ids[0], blockID+"_") {
		return nil, ErrBlockNotFound
	}
	// A tombstoned record still owns its bytes until the delete finishes.
	owner, err := x.meta.FindBlockByStorageID(ctx, x.scope, x.vault, ids[0])
	if err != nil {
		return nil, fmt.Errorf("finding block record: %w", err)
	}
	if owner != nil {
		return nil, ErrBlockNotFound
	}
	length, err := x.blocks.BlockLength(ctx, x.scope, x.vault, ids[0])
	if err != nil {
		return nil, fmt.Errorf("reading stored block length: %w", err)
	}
	return &Block{BlockID: blockID, StorageID: ids[0], Length: length, Orphaned: true}, nil
}

func (x *Index) live(ctx context.Context, blockID string) (*Block, error) {
	blk, err := x.meta.GetBlock(ctx, x.scope, x.vault, blockID)
	if err != nil {
		return nil, fmt.Errorf("finding block: %w", err)
	}
	if blk == nil {
		return nil, ErrBlockNotFound
	}
	return blk, nil
}

// Open returns the record for blockID and a reader over its bytes.
// The caller must close the reader. Orphaned bytes are not served.
func (x *Index) Open(ctx context.Context, blockID string) (*Block, io.ReadCloser, error) {
	blk, err := x.live(ctx, blockID)
	if err != nil {
		return nil, nil, err
	}
	rc, err := x.blocks.OpenBlock(ctx, x.scope, x.vault, blk.StorageID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil, fmt.Errorf("%w: block %s has no stored bytes: %v", ErrIntegrity, blockID, err)
		}
		return nil, nil, fmt.Errorf("opening block: %w", err)
	}
	return blk, rc, nil
}

// Delete removes an unreferenced block. The record is tombstoned first so
// no new reference can land while the bytes are being removed. Deleting a
// block whose earlier delete was interrupted finishes that delete.
func (x *Index) Delete(ctx context.Context, blockID string) error {
	blk, err := x.meta.MarkBlockDeleting(ctx, x.scope, x.vault, blockID)
	if err != nil {
		return fmt.Errorf("marking block for deletion: %w", err)
	}
	if blk == nil {
		return ErrBlockNotFound
	}

	if err := x.blocks.DeleteBlock(ctx, x.scope, x.vault, blk.StorageID); err != nil && !errors.Is(err, ErrNotFound) {
		if uerr := x.meta.UnmarkBlockDeleting(ctx, x.scope, x.vault, blockID); uerr != nil {
			x.logger.Error("failed to clear block tombstone", "vault", x.vault, "block", blockID, "error", uerr)
		}
		return fmt.Errorf("deleting stored block: %w", err)
	}

	if err := x.meta.RemoveBlock(ctx, x.scope, x.vault, blockID); err != nil {
		return fmt.Errorf("removing block record: %w", err)
	}

	x.logger.Info("block deleted", "vault", x.vault, "block", blockID, "storage_id", blk.StorageID)
	return nil
}

// List returns one page of live block ids after marker.
func (x *Index) List(ctx context.Context, marker string, limit int) (*Page[string], error) {
	return Paginate(limit, marker, func(marker string, n int) ([]string, error) {
		ids, err := x.meta.ListBlocks(ctx, x.scope, x.vault, marker, n)
		if err != nil {
			return nil, fmt.Errorf("listing blocks: %w", err)
		}
		return ids, nil
	}, identity)
}

// ValidStorageID reports whether storageID has the shape this Index hands out.
func (x *Index) ValidStorageID(storageID string) bool {
	blockID, suffix, ok := strings.Cut(storageID, "_")
	if !ok || suffix == "" || !x.addresser.ValidID(blockID) {
		return false
	}
	for _, c := range suffix {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && c != '-' {
			return false
		}
	}
	return true
}

// HeadStorage describes the stored object storageID.
func (x *Index) HeadStorage(ctx context.Context, storageID string) (*StorageBlock, error) {
	if !x.ValidStorageID(storageID) {
		return nil, ErrBlockNotFound
	}
	exists, err := x.blocks.BlockExists(ctx, x.scope, x.vault, storageID)
	if err != nil {
		return nil, fmt.Errorf("checking stored block: %w", err)
	}
	if !exists {
		return nil, ErrBlockNotFound
	}
	length, err := x.blocks.BlockLength(ctx, x.scope, x.vault, storageID)
	if err != nil {
		return nil, fmt.Errorf("reading stored block length: %w", err)
	}

	sb := &StorageBlock{StorageID: storageID, Length: length}
	blk, err := x.meta.FindBlockByStorageID(ctx, x.scope, x.vault, storageID)
	if err != nil {
		return nil, fmt.Errorf("finding block record: %w", err)
	}
	if blk != nil {
		sb.BlockID = blk.BlockID
		sb.RefCount = blk.RefCount
		sb.RefModified = blk.RefModified
		sb.Indexed = true
	}
	return sb, nil
}

// OpenStorage returns a description of storageID and a reader over its bytes.
func (x *Index) OpenStorage(ctx context.Context, storageID string) (*StorageBlock, io.ReadCloser, error) {
	sb, err := x.HeadStorage(ctx, storageID)
	if err != nil {
		return nil, nil, err
	}
	rc, err := x.blocks.OpenBlock(ctx, x.scope, x.vault, storageID)
	if err != nil {
		return nil, nil, fmt.Errorf("opening stored block: %w", err)
	}
	return sb, rc, nil
}

// DeleteStorage removes an orphaned stored object. Objects that a block
// record points at must be deleted through Delete.
func (x *Index) DeleteStorage(ctx context.Context, storageID string) error {
	if !x.ValidStorageID(storageID) {
		return ErrBlockNotFound
	}
	blk, err := x.meta.FindBlockByStorageID(ctx, x.scope, x.vault, storageID)
	if err != nil {
		return fmt.Errorf("finding block record: %w", err)
	}
	if blk != nil {
		return ErrBlockIndexed
	}
	exists, err := x.blocks.BlockExists(ctx, x.scope, x.vault, storageID)
	if err != nil {
		return fmt.Errorf("checking stored block: %w", err)
	}
	if !exists {
		return ErrBlockNotFound
	}
	if err := x.blocks.DeleteBlock(ctx, x.scope, x.vault, storageID); err != nil {
		return fmt.Errorf("deleting stored block: %w", err)
	}
	x.logger.Info("orphaned storage block deleted", "vault", x.vault, "storage_id", storageID)
	return nil
}

// ListStorage returns one page of storage ids after marker.
func (x *Index) ListStorage(ctx context.Context, marker string, limit int) (*Page[string], error) {
	return Paginate(limit, marker, func(marker string, n int) ([]string, error) {
		ids, err := x.blocks.ListBlocks(ctx, x.scope, x.vault, marker, n)
		if err != nil {
			return nil, fmt.Errorf("listing stored blocks: %w", err)
		}
		return ids, nil
	}, identity)
}

// discard removes bytes written for an upload that did not get registered.
func (x *Index) discard(ctx context.Context, storageID string) {
	if err := x.blocks.DeleteBlock(ctx, x.scope, x.vault, storageID); err != nil {
		x.logger.Warn("failed to remove redundant block", "vault", x.vault, "storage_id", storageID, "error", err)
	}
}

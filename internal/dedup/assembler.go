package dedup

import (
	"context"
	"errors"
	"fmt"
	"strconv"
)

// maxFinalizeAttempts bounds how often Finalize re-validates a file whose
// assignments keep changing underneath it.
const maxFinalizeAttempts = 5

// Assembler manages the logical files of one vault: their creation, block
// assignments, finalization and reconstruction.
type Assembler struct {
	scope     Scope
	vault     string
	meta      MetadataStore
	blocks    BlockStore
	addresser *Addresser
	logger    Logger
	clock     Clock
	idgen     IDGenerator
}

// NewAssembler returns an Assembler bound to one vault of one project.
func NewAssembler(scope Scope, vault string, meta MetadataStore, blocks BlockStore, addresser *Addresser, logger Logger, clock Clock, idgen IDGenerator) *Assembler {
	return &Assembler{
		scope:     scope,
		vault:     vault,
		meta:      meta,
		blocks:    blocks,
		addresser: addresser,
		logger:    logger,
		clock:     clock,
		idgen:     idgen,
	}
}

// Create registers a new open file and returns its id.
func (a *Assembler) Create(ctx context.Context) (string, error) {
	file := File{
		FileID:    a.idgen.New(),
		CreatedAt: a.clock.Now(),
	}
	if err := a.meta.CreateFile(ctx, a.scope, a.vault, file); err != nil {
		return "", fmt.Errorf("creating file: %w", err)
	}
	a.logger.Info("file created", "vault", a.vault, "file", file.FileID)
	return file.FileID, nil
}

// Get returns the record for fileID.
func (a *Assembler) Get(ctx context.Context, fileID string) (*File, error) {
	file, err := a.meta.GetFile(ctx, a.scope, a.vault, fileID)
	if err != nil {
		return nil, fmt.Errorf("finding file: %w", err)
	}
	if file == nil {
		return nil, ErrFileNotFound
	}
	return file, nil
}

// Assign places blocks at offsets within an open file and returns the ids of
// blocks the vault does not hold yet, without duplicates. Those assignments
// are kept and start counting once the block is uploaded.
func (a *Assembler) Assign(ctx context.Context, fileID string, assignments []Assignment) ([]string, error) {
	for _, as := range assignments {
		if as.Offset < 0 {
			return nil, fmt.Errorf("%w: negative offset %d for block %s", ErrBadRequest, as.Offset, as.BlockID)
		}
		if !a.addresser.ValidID(as.BlockID) {
			return nil, fmt.Errorf("%w: invalid block id %q", ErrBadRequest, as.BlockID)
		}
	}

	missing, err := a.meta.AssignBlocks(ctx, a.scope, a.vault, fileID, assignments, a.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("assigning blocks: %w", err)
	}

	seen := make(map[string]bool, len(missing))
	unique := make([]string, 0, len(missing))
	for _, id := range missing {
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}

	a.logger.Debug("blocks assigned", "vault", a.vault, "file", fileID, "count", len(assignments), "missing", len(unique))
	return unique, nil
}

// Finalize validates that the file's blocks cover exactly length bytes and,
// if so, makes the file immutable. Layout problems are returned as a
// *ValidationError listing all of them.
func (a *Assembler) Finalize(ctx context.Context, fileID string, length int64) error {
	if length < 0 {
		return fmt.Errorf("%w: negative file length %d", ErrBadRequest, length)
	}

	for attempt := 1; ; attempt++ {
		file, err := a.Get(ctx, fileID)
		if err != nil {
			return err
		}
		if file.Finalized {
			return ErrFileFinalized
		}

		blocks, err := a.meta.FileBlocks(ctx, a.scope, a.vault, fileID, -1, 0)
		if err != nil {
			return fmt.Errorf("reading file blocks: %w", err)
		}
		if problems := CheckLayout(blocks, length); len(problems) > 0 {
			return &ValidationError{Problems: problems}
		}

		err = a.meta.FinalizeFile(ctx, a.scope, a.vault, fileID, length, file.Revision)
		if err == nil {
			a.logger.Info("file finalized", "vault", a.vault, "file", fileID, "length", length, "blocks", len(blocks))
			return nil
		}
		if !errors.Is(err, ErrStaleFileRevision) || attempt == maxFinalizeAttempts {
			return fmt.Errorf("finalizing file: %w", err)
		}
		a.logger.Debug("file changed during finalization, retrying", "vault", a.vault, "file", fileID, "attempt", attempt)
	}
}

// Open returns a reader over the bytes of a finalized file. The set of blocks
// is captured when Open is called.
func (a *Assembler) Open(ctx context.Context, fileID string) (*FileReader, error) {
	file, err := a.Get(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if !file.Finalized {
		return nil, ErrFileNotFinalized
	}
	blocks, err := a.meta.FileBlocks(ctx, a.scope, a.vault, fileID, -1, 0)
	if err != nil {
		return nil, fmt.Errorf("reading file blocks: %w", err)
	}
	return newFileReader(ctx, a.blocks, a.scope, a.vault, file, blocks, a.addresser), nil
}

// Delete removes a file and releases the references it held. Deleting an
// unknown file is not an error.
func (a *Assembler) Delete(ctx context.Context, fileID string) error {
	existed, err := a.meta.DeleteFile(ctx, a.scope, a.vault, fileID, a.clock.Now())
	if err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	if existed {
		a.logger.Info("file deleted", "vault", a.vault, "file", fileID)
	}
	return nil
}

// List returns one page of finalized file ids after marker.
func (a *Assembler) List(ctx context.Context, marker string, limit int) (*Page[string], error) {
	return Paginate(limit, marker, func(marker string, n int) ([]string, error) {
		ids, err := a.meta.ListFiles(ctx, a.scope, a.vault, marker, n, true)
		if err != nil {
			return nil, fmt.Errorf("listing files: %w", err)
		}
		return ids, nil
	}, identity)
}

// Blocks returns one page of a file's assignments, ordered by offset. The
// marker is the decimal offset of the last assignment already seen.
func (a *Assembler) Blocks(ctx context.Context, fileID string, marker string, limit int) (*Page[FileBlock], error) {
	after := int64(-1)
	if marker != "" {
		v, err := strconv.ParseInt(marker, 10, 64)
		if err != nil || v < 0 {
			return nil, fmt.Errorf("%w: invalid offset marker %q", ErrBadRequest, marker)
		}
		after = v
	}
	if _, err := a.Get(ctx, fileID); err != nil {
		return nil, err
	}
	return Paginate(limit, marker, func(_ string, n int) ([]FileBlock, error) {
		blocks, err := a.meta.FileBlocks(ctx, a.scope, a.vault, fileID, after, n)
		if err != nil {
			return nil, fmt.Errorf("listing file blocks: %w", err)
		}
		return blocks, nil
	}, func(b FileBlock) string { return strconv.FormatInt(b.Offset, 10) })
}

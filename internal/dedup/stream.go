package dedup

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"iter"
)

// StreamBlocks yields a reader for each stored block in order. It stops after
// the first failure, which it yields as an error wrapping ErrIntegrity. The
// consumer must close every reader it receives.
func StreamBlocks(ctx context.Context, store BlockStore, scope Scope, vault string, blocks []FileBlock) iter.Seq2[io.ReadCloser, error] {
	return func(yield func(io.ReadCloser, error) bool) {
		for _, b := range blocks {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			if !b.Known {
				yield(nil, fmt.Errorf("%w: block %s at offset %d is not stored", ErrIntegrity, b.BlockID, b.Offset))
				return
			}
			rc, err := store.OpenBlock(ctx, scope, vault, b.StorageID)
			if err != nil {
				yield(nil, fmt.Errorf("%w: opening block %s at offset %d: %v", ErrIntegrity, b.BlockID, b.Offset, err))
				return
			}
			if !yield(rc, nil) {
				return
			}
		}
	}
}

// FileReader streams the concatenated blocks of a finalized file. Only one
// block is open at a time. Each block is checked against its id and length
// as it is read; a mismatch surfaces as an ErrIntegrity error from Read.
type FileReader struct {
	FileID string
	Length int64

	blocks    []FileBlock
	addresser *Addresser
	next      func() (io.ReadCloser, error, bool)
	stop      func()

	idx     int
	current io.ReadCloser
	hasher  hash.Hash
	read    int64
	err     error
}

func newFileReader(ctx context.Context, store BlockStore, scope Scope, vault string, file *File, blocks []FileBlock, addresser *Addresser) *FileReader {
	next, stop := iter.Pull2(StreamBlocks(ctx, store, scope, vault, blocks))
	return &FileReader{
		FileID:    file.FileID,
		Length:    file.Length,
		blocks:    blocks,
		addresser: addresser,
		next:      next,
		stop:      stop,
		idx:       -1,
	}
}

func (r *FileReader) Read(p []byte) (int, error) {
	for r.err == nil {
		if r.current == nil {
			rc, err, ok := r.next()
			if !ok {
				r.err = io.EOF
				break
			}
			if err != nil {
				r.err = err
				break
			}
			r.idx++
			r.current = rc
			r.read = 0
			r.hasher = r.addresser.New()
		}

		n, err := r.current.Read(p)
		if n > 0 {
			r.hasher.Write(p[:n])
			r.read += int64(n)
		}
		if errors.Is(err, io.EOF) {
			if verr := r.finishBlock(); verr != nil {
				r.err = verr
				// Bytes already copied belong to a corrupt block; report the failure now.
				return 0, r.err
			}
			if n > 0 {
				return n, nil
			}
			continue
		}
		if err != nil {
			r.err = fmt.Errorf("%w: reading block %s: %v", ErrIntegrity, r.blocks[r.idx].BlockID, err)
			return n, r.err
		}
		return n, nil
	}
	return 0, r.err
}

// finishBlock closes the current block and checks what was read from it.
func (r *FileReader) finishBlock() error {
	b := r.blocks[r.idx]
	r.current.Close()
	r.current = nil
	if r.read != b.Length {
		return fmt.Errorf("%w: block %s returned %d bytes, want %d", ErrIntegrity, b.BlockID, r.read, b.Length)
	}
	if got := hex.EncodeToString(r.hasher.Sum(nil)); got != b.BlockID {
		return fmt.Errorf("%w: block %s content hashes to %s", ErrIntegrity, b.BlockID, got)
	}
	return nil
}

// Close releases the open block, if any, and stops the block stream.
func (r *FileReader) Close() error {
	var err error
	if r.current != nil {
		err = r.current.Close()
		r.current = nil
	}
	r.stop()
	if r.err == nil {
		r.err = errors.New("read from closed file reader")
	}
	return err
}

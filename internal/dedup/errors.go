package dedup

import (
	"errors"
	"fmt"
	"strings"
)

// Error taxonomy. Callers test with errors.Is against the base sentinels;
// the more specific errors below wrap one of them.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrHashMismatch = errors.New("content does not match block id")
	ErrIntegrity    = errors.New("integrity failure")
	ErrBadRequest   = errors.New("bad request")
	ErrReadOnly     = errors.New("read-only resource")
)

var (
	ErrVaultNotFound = fmt.Errorf("vault %w", ErrNotFound)
	ErrBlockNotFound = fmt.Errorf("block %w", ErrNotFound)
	ErrFileNotFound  = fmt.Errorf("file %w", ErrNotFound)

	ErrVaultNotEmpty     = fmt.Errorf("%w: vault is not empty", ErrConflict)
	ErrBlockReferenced   = fmt.Errorf("%w: block is referenced by files", ErrConflict)
	ErrBlockDeleting     = fmt.Errorf("%w: block is being deleted", ErrConflict)
	ErrBlockIndexed      = fmt.Errorf("%w: storage block is indexed", ErrConflict)
	ErrFileFinalized     = fmt.Errorf("%w: file is finalized", ErrConflict)
	ErrFileNotFinalized  = fmt.Errorf("%w: file is not finalized", ErrConflict)
	ErrStaleFileRevision = fmt.Errorf("%w: file changed during finalization", ErrConflict)
)

// RangeErrorKind classifies a problem found while validating a file layout.
type RangeErrorKind string

const (
	RangeGap            RangeErrorKind = "gap"
	RangeOverlap        RangeErrorKind = "overlap"
	RangeLengthMismatch RangeErrorKind = "length_mismatch"
	RangeMissingBlock   RangeErrorKind = "missing_block"
)

// RangeError describes one layout problem. For gaps and overlaps Offset is the
// assignment's offset, Length the block's length, and Expected where the
// previous block ended. For a length mismatch Offset is the covered length
// and Expected the declared one.
type RangeError struct {
	Kind     RangeErrorKind `json:"kind"`
	BlockID  string         `json:"block_id,omitempty"`
	Offset   int64          `json:"offset"`
	Expected int64          `json:"expected"`
	Length   int64          `json:"length,omitempty"`
}

func (e RangeError) String() string {
	switch e.Kind {
	case RangeGap:
		return fmt.Sprintf("gap between bytes %d and %d before block %s", e.Expected, e.Offset, e.BlockID)
	case RangeOverlap:
		return fmt.Sprintf("block %s at offset %d overlaps previous block ending at %d", e.BlockID, e.Offset, e.Expected)
	case RangeLengthMismatch:
		return fmt.Sprintf("blocks cover %d bytes but file length is %d", e.Offset, e.Expected)
	case RangeMissingBlock:
		return fmt.Sprintf("block %s at offset %d has not been uploaded", e.BlockID, e.Offset)
	default:
		return string(e.Kind)
	}
}

// ValidationError is returned by finalization when the block layout does not
// cover the declared length exactly. It lists every problem found.
type ValidationError struct {
	Problems []RangeError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		parts[i] = p.String()
	}
	return "invalid file layout: " + strings.Join(parts, "; ")
}

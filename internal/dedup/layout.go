package dedup

// CheckLayout validates that blocks, sorted by offset, tile [0, length)
// exactly. It returns every problem found, or nil if the layout is valid.
// The running end is always the end of the previous block, so a block
// contained in its predecessor moves the end back.
// After an unknown block the running end is unknown, so the next block is
// not checked for a gap or overlap and a trailing unknown block suppresses
// the length check.
func CheckLayout(blocks []FileBlock, length int64) []RangeError {
	var problems []RangeError
	var end int64
	endKnown := true

	for _, b := range blocks {
		if !b.Known {
			problems = append(problems, RangeError{Kind: RangeMissingBlock, BlockID: b.BlockID, Offset: b.Offset})
			endKnown = false
			continue
		}
		if endKnown {
			switch {
			case b.Offset > end:
				problems = append(problems, RangeError{Kind: RangeGap, BlockID: b.BlockID, Offset: b.Offset, Expected: end, Length: b.Length})
			case b.Offset < end:
				problems = append(problems, RangeError{Kind: RangeOverlap, BlockID: b.BlockID, Offset: b.Offset, Expected: end, Length: b.Length})
			}
		}
		end = b.Offset + b.Length
		endKnown = true
	}

	if endKnown && end != length {
		problems = append(problems, RangeError{Kind: RangeLengthMismatch, Offset: end, Expected: length})
	}
	return problems
}

package update

// ColumnMask is a 64-bit bitmap summarizing which top-level columns (fields
// of the outermost array) an operations batch may affect. Bits 0-62
// correspond to columns 0-62; bit 63 means "assume every column >= 63 is
// affected" — set once a touched column's ordinal would otherwise run off
// the end of the bitmap.
//
// Downstream index-consistency checks in the surrounding system rely on
// this mask being exactly reproduced, so its construction follows
// update_field.c's own rule precisely: a plain `=`/arithmetic/bitwise/
// splice touches exactly one bit, while `!`/`#` (which shift every later
// sibling's ordinal) set every bit from the touched column onward.
type ColumnMask uint64

const overflowBit = 63

// SetColumn marks a single top-level column as touched.
func (m ColumnMask) SetColumn(col int) ColumnMask {
	if col < 0 {
		return m
	}
	if col >= overflowBit {
		return m.setOverflow()
	}
	return m | (1 << uint(col))
}

// SetRangeFrom marks every column from col (inclusive) through the
// overflow bit as touched, used by `!` and `#` since every later column's
// ordinal shifts by one.
func (m ColumnMask) SetRangeFrom(col int) ColumnMask {
	if col < 0 {
		col = 0
	}
	if col >= overflowBit {
		return m.setOverflow()
	}
	for c := col; c < overflowBit; c++ {
		m = m | (1 << uint(c))
	}
	return m.setOverflow()
}

func (m ColumnMask) setOverflow() ColumnMask {
	return m | (1 << uint(overflowBit))
}

// HasOverflow reports whether the mask has given up on precise tracking
// for columns at or beyond the overflow bit.
func (m ColumnMask) HasOverflow() bool {
	return m&(1<<uint(overflowBit)) != 0
}

// Touches reports whether column col is marked, treating the overflow bit
// as "yes" for any col >= overflowBit.
func (m ColumnMask) Touches(col int) bool {
	if col < 0 {
		return false
	}
	if col >= overflowBit {
		return m.HasOverflow()
	}
	return m&(1<<uint(col)) != 0
}

// Union is the bitwise OR of two column masks; for disjoint single-column
// touches this equals the OR of each operation's own mask, per the
// quantified invariant in spec.md §8.
func (m ColumnMask) Union(other ColumnMask) ColumnMask {
	return m | other
}

package update

import (
	"github.com/dbcore/fiberdb/errors"
)

// applySplice implements `:` against a string field, per spec.md §4.2:
// "(offset, cut_length, paste_bytes). Negative offset counts from the
// tail; offset past end clamps to end; negative cut length interpreted
// as 'leave this many from the tail uncut'."
func applySplice(existing interface{}, arg spliceArg) (interface{}, error) {
	s, ok := existing.(string)
	if !ok {
		if b, ok2 := existing.([]byte); ok2 {
			s = string(b)
		} else {
			return nil, errors.New(errors.UpdateFieldType, "splice source field is not a string")
		}
	}
	n := len(s)

	offset := arg.offset
	if offset < 0 {
		offset += n
		if offset < 0 {
			offset = 0
		}
	}
	if offset > n {
		offset = n
	}

	cut := arg.cut
	var cutEnd int
	if cut < 0 {
		// "leave this many from the tail uncut"
		leave := -cut
		cutEnd = n - leave
		if cutEnd < offset {
			cutEnd = offset
		}
	} else {
		cutEnd = offset + cut
		if cutEnd > n {
			cutEnd = n
		}
	}

	var out []byte
	out = append(out, s[:offset]...)
	out = append(out, arg.paste...)
	out = append(out, s[cutEnd:]...)
	return string(out), nil
}

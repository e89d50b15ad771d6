package update

import (
	"github.com/shopspring/decimal"

	"github.com/dbcore/fiberdb/errors"
)

// Opcode identifies which mutation an UpdateOp performs, per spec.md §4.2.
type Opcode byte

const (
	OpSet       Opcode = '='
	OpInsert    Opcode = '!'
	OpDelete    Opcode = '#'
	OpAdd       Opcode = '+'
	OpSubtract  Opcode = '-'
	OpAnd       Opcode = '&'
	OpOr        Opcode = '|'
	OpXor       Opcode = '^'
	OpSplice    Opcode = ':'
)

func (o Opcode) isArithmetic() bool { return o == OpAdd || o == OpSubtract }
func (o Opcode) isBitwise() bool    { return o == OpAnd || o == OpOr || o == OpXor }
func (o Opcode) isStructural() bool { return o == OpInsert || o == OpDelete }

// numKind distinguishes the numeric sub-type carried by an arithmetic
// argument, per spec.md §3's "sub-type {int96, float, double, decimal}".
// int96 in the original system is realized here as Go's native int64/
// uint64 -- the engine never needs more than 64 bits of integer range in
// this repository's scope (no SQL DECIMAL(96) column type is
// implemented). numUint carries a value that only fits in the unsigned
// 64-bit range (above math.MaxInt64); it is kept distinct from numInt so
// a field like 0xFFFFFFFFFFFFFFFF is never silently reinterpreted as -1.
type numKind int

const (
	numInt numKind = iota
	numUint
	numFloat
	numDouble
	numDecimal
)

// numeric is the decoded representation of an arithmetic operation's
// argument, tagged with its sub-type for the promotion rule in
// spec.md §4.2 ("int -> float -> double -> decimal").
type numeric struct {
	kind numKind
	i    int64
	u    uint64
	f    float32
	d    float64
	dec  decimal.Decimal
}

// spliceArg is the decoded argument for a `:` operation.
type spliceArg struct {
	offset int
	cut    int
	paste  []byte
}

// selector is either an integer field position or a JSON-like path,
// per spec.md §4.2. Exactly one of the two is populated.
type selector struct {
	isPath bool
	index  int    // 0-based internally, regardless of the caller's index_base
	path   string
}

// UpdateOp is one decoded entry from an operations batch, per spec.md §3.
type UpdateOp struct {
	Op   Opcode
	Sel  selector
	Raw  interface{} // decoded "set"/"insert" value for =, !
	Del  int         // delete count for #
	Num  numeric     // arithmetic argument for +, -
	Bits uint64      // bitwise argument for &, |, ^
	Splice spliceArg // splice argument for :

	OutputSize int // cached output size after application

	pathToks []pathToken // decoded, post index-base-normalized path
}

// decodeOp turns one raw `[opcode, selector, args...]` array (already
// decoded to []interface{} by the MessagePack layer) into an UpdateOp,
// normalizing the selector to 0-based indexing.
func decodeOp(raw []interface{}, indexBase int) (UpdateOp, error) {
	if len(raw) < 2 {
		return UpdateOp{}, errors.New(errors.IllegalParams, "operation array too short")
	}
	opStr, ok := raw[0].(string)
	if !ok || len(opStr) != 1 {
		return UpdateOp{}, errors.New(errors.IllegalParams, "opcode must be a single-character string")
	}
	op := Opcode(opStr[0])

	sel, err := decodeSelector(raw[1], indexBase)
	if err != nil {
		return UpdateOp{}, err
	}

	out := UpdateOp{Op: op, Sel: sel}

	args := raw[2:]
	switch op {
	case OpSet, OpInsert:
		if len(args) != 1 {
			return UpdateOp{}, errors.Newf(errors.IllegalParams, "opcode %q expects exactly one argument", op)
		}
		out.Raw = args[0]
	case OpDelete:
		if len(args) != 1 {
			return UpdateOp{}, errors.New(errors.IllegalParams, "opcode '#' expects a delete count")
		}
		n, err := toInt(args[0])
		if err != nil {
			return UpdateOp{}, err
		}
		if n == 0 {
			return UpdateOp{}, errors.New(errors.IllegalParams, "opcode '#' delete count must be nonzero")
		}
		out.Del = n
	case OpAdd, OpSubtract:
		if len(args) != 1 {
			return UpdateOp{}, errors.Newf(errors.IllegalParams, "opcode %q expects exactly one argument", op)
		}
		num, err := decodeNumeric(args[0])
		if err != nil {
			return UpdateOp{}, err
		}
		out.Num = num
	case OpAnd, OpOr, OpXor:
		if len(args) != 1 {
			return UpdateOp{}, errors.Newf(errors.IllegalParams, "opcode %q expects exactly one argument", op)
		}
		bits, err := toUint64(args[0])
		if err != nil {
			return UpdateOp{}, err
		}
		out.Bits = bits
	case OpSplice:
		if len(args) != 3 {
			return UpdateOp{}, errors.New(errors.IllegalParams, "opcode ':' expects (offset, cut_length, paste)")
		}
		off, err := toInt(args[0])
		if err != nil {
			return UpdateOp{}, err
		}
		cut, err := toInt(args[1])
		if err != nil {
			return UpdateOp{}, err
		}
		paste, ok := toBytes(args[2])
		if !ok {
			return UpdateOp{}, errors.New(errors.UpdateFieldType, "splice paste argument must be a string or binary")
		}
		out.Splice = spliceArg{offset: off, cut: cut, paste: paste}
	default:
		return UpdateOp{}, errors.Newf(errors.IllegalParams, "unknown opcode %q", op)
	}

	if sel.isPath {
		toks, err := parsePath(sel.path, indexBase)
		if err != nil {
			return UpdateOp{}, err
		}
		out.pathToks = toks
	}

	return out, nil
}

func decodeSelector(raw interface{}, indexBase int) (selector, error) {
	switch v := raw.(type) {
	case string:
		return selector{isPath: true, path: v}, nil
	default:
		n, err := toInt(raw)
		if err != nil {
			return selector{}, errors.New(errors.IllegalParams, "selector must be an integer or a path string")
		}
		// A selector given as negative already means "from the tail" and
		// is not subject to the index_base shift. A non-negative selector
		// is rebased to 0-based internal indexing; if that rebasing drops
		// it below zero (field index 0 under a 1-based index_base, for
		// example) it addresses no valid position and is not reinterpreted
		// as tail-relative.
		if n < 0 {
			return selector{index: n}, nil
		}
		idx := n - indexBase
		if idx < 0 {
			return selector{}, errors.Newf(errors.NoSuchField, "selector %d is not a valid position under index_base %d", n, indexBase)
		}
		return selector{index: idx}, nil
	}
}

func decodeNumeric(raw interface{}) (numeric, error) {
	switch v := raw.(type) {
	case float32:
		return numeric{kind: numFloat, f: v}, nil
	case float64:
		return numeric{kind: numDouble, d: v}, nil
	case decimal.Decimal:
		return numeric{kind: numDecimal, dec: v}, nil
	default:
		if _, num, ok := classifyInteger(raw); ok {
			return num, nil
		}
		return numeric{}, errors.New(errors.UpdateFieldType, "arithmetic argument must be numeric or decimal")
	}
}

func toInt(raw interface{}) (int, error) {
	n, ok := asInt64(raw)
	if !ok {
		return 0, errors.New(errors.IllegalParams, "expected an integer")
	}
	return int(n), nil
}

func toUint64(raw interface{}) (uint64, error) {
	u, ok := asUint64(raw)
	if !ok {
		return 0, errors.New(errors.UpdateFieldType, "bitwise argument must be an unsigned 64-bit integer")
	}
	return u, nil
}

func toBytes(raw interface{}) ([]byte, bool) {
	switch v := raw.(type) {
	case string:
		return []byte(v), true
	case []byte:
		return v, true
	default:
		return nil, false
	}
}

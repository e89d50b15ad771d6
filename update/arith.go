package update

import (
	"math"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/dbcore/fiberdb/errors"
)

// applyArithmetic implements `+`/`-` against an existing scalar field
// value, following the promotion rule in spec.md §4.2: "int -> float ->
// double -> decimal. Once a decimal is involved, the result is decimal."
func applyArithmetic(op Opcode, existing interface{}, arg numeric) (interface{}, error) {
	existingKind, existingNum, err := classifyExisting(existing)
	if err != nil {
		return nil, err
	}

	resultKind := promote(existingKind, arg.kind)

	switch resultKind {
	case numInt:
		a, b := existingNum.i, arg.i
		sum, ok := addInt64(a, b, op)
		if !ok {
			return nil, errors.New(errors.UpdateIntegerOverflow, "integer overflow in arithmetic update")
		}
		return sum, nil
	case numFloat:
		a := toFloat32(existingKind, existingNum)
		b := toFloat32(arg.kind, arg)
		if op == OpSubtract {
			b = -b
		}
		return a + b, nil
	case numDouble:
		a := toFloat64(existingKind, existingNum)
		b := toFloat64(arg.kind, arg)
		if op == OpSubtract {
			b = -b
		}
		return a + b, nil
	case numDecimal:
		a := toDecimal(existingKind, existingNum)
		b := toDecimal(arg.kind, arg)
		var result decimal.Decimal
		if op == OpAdd {
			result = a.Add(b)
		} else {
			result = a.Sub(b)
		}
		if result.Exponent() < -28 || result.Exponent() > 28 {
			return nil, errors.New(errors.UpdateDecimalOverflow, "decimal overflow in arithmetic update")
		}
		return result, nil
	case numUint:
		sum, ok := addUintDelta(existingKind, existingNum, arg, op)
		if !ok {
			return nil, errors.New(errors.UpdateIntegerOverflow, "integer overflow in arithmetic update")
		}
		return sum, nil
	default:
		return nil, errors.New(errors.UpdateFieldType, "unsupported arithmetic result type")
	}
}

func classifyExisting(existing interface{}) (numKind, numeric, error) {
	switch v := existing.(type) {
	case float32:
		return numFloat, numeric{kind: numFloat, f: v}, nil
	case float64:
		return numDouble, numeric{kind: numDouble, d: v}, nil
	case decimal.Decimal:
		return numDecimal, numeric{kind: numDecimal, dec: v}, nil
	default:
		if kind, num, ok := classifyInteger(existing); ok {
			return kind, num, nil
		}
		return 0, numeric{}, errors.New(errors.UpdateFieldType, "arithmetic source field is not numeric")
	}
}

func promote(a, b numKind) numKind {
	if a == numDecimal || b == numDecimal {
		return numDecimal
	}
	if a == numDouble || b == numDouble {
		return numDouble
	}
	if a == numFloat || b == numFloat {
		return numFloat
	}
	if a == numUint || b == numUint {
		return numUint
	}
	return numInt
}

// addUintDelta applies op's signed or unsigned delta (arg) to an existing
// value that requires the full unsigned 64-bit range (existingKind ==
// numUint, or a non-negative numInt being promoted into that range by a
// numUint arg), detecting both overflow above math.MaxUint64 and
// underflow below zero -- the uint64 analogue of addInt64.
func addUintDelta(existingKind numKind, existingNum numeric, arg numeric, op Opcode) (uint64, bool) {
	var base uint64
	if existingKind == numUint {
		base = existingNum.u
	} else {
		if existingNum.i < 0 {
			return 0, false
		}
		base = uint64(existingNum.i)
	}

	if arg.kind == numUint {
		if op == OpSubtract {
			if arg.u > base {
				return 0, false
			}
			return base - arg.u, true
		}
		sum := base + arg.u
		if sum < base {
			return 0, false
		}
		return sum, true
	}

	d := arg.i
	if op == OpSubtract {
		if d == math.MinInt64 {
			return 0, false
		}
		d = -d
	}
	if d >= 0 {
		sum := base + uint64(d)
		if sum < base {
			return 0, false
		}
		return sum, true
	}
	mag := uint64(-d)
	if mag > base {
		return 0, false
	}
	return base - mag, true
}

func addInt64(a, b int64, op Opcode) (int64, bool) {
	if op == OpSubtract {
		if b == math.MinInt64 {
			// -b is not representable; a - MinInt64 fits only for a < 0.
			if a >= 0 {
				return 0, false
			}
			return a - b, true
		}
		b = -b
	}
	sum := a + b
	// overflow iff operands have the same sign and result has the opposite sign
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, false
	}
	return sum, true
}

func toFloat32(kind numKind, n numeric) float32 {
	switch kind {
	case numInt:
		return float32(n.i)
	case numUint:
		return float32(n.u)
	case numFloat:
		return n.f
	default:
		return float32(n.d)
	}
}

func toFloat64(kind numKind, n numeric) float64 {
	switch kind {
	case numInt:
		return float64(n.i)
	case numUint:
		return float64(n.u)
	case numFloat:
		return float64(n.f)
	case numDouble:
		return n.d
	default:
		f, _ := n.dec.Float64()
		return f
	}
}

func toDecimal(kind numKind, n numeric) decimal.Decimal {
	switch kind {
	case numInt:
		return decimal.NewFromInt(n.i)
	case numUint:
		return decimal.NewFromBigInt(new(big.Int).SetUint64(n.u), 0)
	case numFloat:
		return decimal.NewFromFloat32(n.f)
	case numDouble:
		return decimal.NewFromFloat(n.d)
	default:
		return n.dec
	}
}

// applyBitwise implements `&`/`|`/`^` against an existing unsigned 64-bit
// integer field, per spec.md §4.2: "on unsigned 64-bit integer fields
// only; negative or non-integer source is an error."
func applyBitwise(op Opcode, existing interface{}, arg uint64) (interface{}, error) {
	u, err := toUint64Field(existing)
	if err != nil {
		return nil, err
	}
	switch op {
	case OpAnd:
		return u & arg, nil
	case OpOr:
		return u | arg, nil
	case OpXor:
		return u ^ arg, nil
	default:
		return nil, errors.Newf(errors.IllegalParams, "not a bitwise opcode: %q", op)
	}
}

func toUint64Field(existing interface{}) (uint64, error) {
	if u, ok := asUint64(existing); ok {
		return u, nil
	}
	if isIntegerValue(existing) {
		return 0, errors.New(errors.UpdateFieldType, "bitwise source field is negative")
	}
	return 0, errors.New(errors.UpdateFieldType, "bitwise source field is not an unsigned 64-bit integer")
}

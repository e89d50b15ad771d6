package update

import "math"

// asInt64 widens any of the integer types msgpack may decode a value into
// (it picks the narrowest width that round-trips the encoded value) to a
// common int64 representation.
func asInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case int16:
		return int64(n), true
	case int8:
		return int64(n), true
	case int:
		return int64(n), true
	case uint64:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint:
		return int64(n), true
	default:
		return 0, false
	}
}

// asUint64 widens any decoded integer type to uint64, rejecting negative
// signed values.
func asUint64(v interface{}) (uint64, bool) {
	switch n := v.(type) {
	case uint64:
		return n, true
	case uint32:
		return uint64(n), true
	case uint16:
		return uint64(n), true
	case uint8:
		return uint64(n), true
	case uint:
		return uint64(n), true
	case int64:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case int32:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case int16:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case int8:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case int:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	default:
		return 0, false
	}
}

func isIntegerValue(v interface{}) bool {
	_, ok := asInt64(v)
	return ok
}

// classifyInteger widens a decoded integer into a numeric tagged numInt
// or numUint, preserving the full unsigned 64-bit range rather than
// collapsing it through asInt64: a msgpack uint64 above math.MaxInt64
// (e.g. 0xFFFFFFFFFFFFFFFF) decodes to Go's uint64 type specifically
// because it cannot round-trip through int64, so that type alone is
// enough to tell it apart from a value that merely happens to be
// unsigned but small.
func classifyInteger(v interface{}) (numKind, numeric, bool) {
	switch n := v.(type) {
	case uint64:
		if n > math.MaxInt64 {
			return numUint, numeric{kind: numUint, u: n}, true
		}
		return numInt, numeric{kind: numInt, i: int64(n)}, true
	default:
		if i, ok := asInt64(v); ok {
			return numInt, numeric{kind: numInt, i: i}, true
		}
		return 0, numeric{}, false
	}
}

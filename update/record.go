package update

import (
	"reflect"

	"github.com/shopspring/decimal"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/dbcore/fiberdb/errors"
)

// decimalExtType is the MessagePack extension type tag used for decimal
// values, matching the "extension type identified by a small integer tag"
// record format described in spec.md §6.
const decimalExtType int8 = 1

func init() {
	msgpack.RegisterExtEncoder(decimalExtType, decimal.Decimal{}, encodeDecimalExt)
	msgpack.RegisterExtDecoder(decimalExtType, decimal.Decimal{}, decodeDecimalExt)
}

func encodeDecimalExt(e *msgpack.Encoder, v reflect.Value) ([]byte, error) {
	d := v.Interface().(decimal.Decimal)
	return []byte(d.String()), nil
}

func decodeDecimalExt(d *msgpack.Decoder, v reflect.Value, extLen int) error {
	buf := make([]byte, extLen)
	if extLen > 0 {
		if _, err := d.Buffered().Read(buf); err != nil {
			return err
		}
	}
	dec, err := decimal.NewFromString(string(buf))
	if err != nil {
		return err
	}
	v.Set(reflect.ValueOf(dec))
	return nil
}

// EncodeValue marshals a single Go value (string, []byte, bool, all int/
// uint/float widths, decimal.Decimal, []interface{}, map[string]interface{},
// or nil) into its MessagePack representation.
func EncodeValue(v interface{}) ([]byte, error) {
	b, err := msgpack.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "encode value")
	}
	return b, nil
}

// DecodeValue decodes exactly one MessagePack value from the front of buf,
// returning the decoded value and the number of bytes it consumed.
func DecodeValue(buf []byte) (interface{}, int, error) {
	n, err := elementLen(buf)
	if err != nil {
		return nil, 0, err
	}
	var v interface{}
	if err := msgpack.Unmarshal(buf[:n], &v); err != nil {
		return nil, 0, errors.Wrap(err, "decode value")
	}
	return v, n, nil
}

// elementLen reports how many bytes the single MessagePack value at the
// start of buf occupies, without fully decoding it. This underpins NOP
// nodes, which must be able to reference a byte range of the original
// record without allocating a decoded copy (spec.md §3: "NOP subtrees
// reference original buffer memory; they never allocate").
func elementLen(buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, errors.New(errors.IllegalParams, "truncated record: expected a value, found nothing")
	}
	c := buf[0]

	switch {
	case c <= 0x7f, c >= 0xe0: // positive/negative fixint
		return 1, nil
	case c >= 0x80 && c <= 0x8f: // fixmap
		return skipMapBody(buf, 1, int(c&0x0f))
	case c >= 0x90 && c <= 0x9f: // fixarray
		return skipArrayBody(buf, 1, int(c&0x0f))
	case c >= 0xa0 && c <= 0xbf: // fixstr
		n := int(c & 0x1f)
		return need(buf, 1+n)
	case c == 0xc0: // nil
		return 1, nil
	case c == 0xc2, c == 0xc3: // false/true
		return 1, nil
	case c == 0xc4: // bin8
		return fixedLenPrefixed(buf, 1, 1)
	case c == 0xc5: // bin16
		return fixedLenPrefixed(buf, 1, 2)
	case c == 0xc6: // bin32
		return fixedLenPrefixed(buf, 1, 4)
	case c == 0xc7: // ext8
		return extLenPrefixed(buf, 1, 1)
	case c == 0xc8: // ext16
		return extLenPrefixed(buf, 1, 2)
	case c == 0xc9: // ext32
		return extLenPrefixed(buf, 1, 4)
	case c == 0xca: // float32
		return need(buf, 1+4)
	case c == 0xcb: // float64
		return need(buf, 1+8)
	case c == 0xcc: // uint8
		return need(buf, 1+1)
	case c == 0xcd: // uint16
		return need(buf, 1+2)
	case c == 0xce: // uint32
		return need(buf, 1+4)
	case c == 0xcf: // uint64
		return need(buf, 1+8)
	case c == 0xd0: // int8
		return need(buf, 1+1)
	case c == 0xd1: // int16
		return need(buf, 1+2)
	case c == 0xd2: // int32
		return need(buf, 1+4)
	case c == 0xd3: // int64
		return need(buf, 1+8)
	case c == 0xd4: // fixext1
		return need(buf, 1+1+1)
	case c == 0xd5: // fixext2
		return need(buf, 1+1+2)
	case c == 0xd6: // fixext4
		return need(buf, 1+1+4)
	case c == 0xd7: // fixext8
		return need(buf, 1+1+8)
	case c == 0xd8: // fixext16
		return need(buf, 1+1+16)
	case c == 0xd9: // str8
		return fixedLenPrefixed(buf, 1, 1)
	case c == 0xda: // str16
		return fixedLenPrefixed(buf, 1, 2)
	case c == 0xdb: // str32
		return fixedLenPrefixed(buf, 1, 4)
	case c == 0xdc: // array16
		n, pos, err := readUintAt(buf, 1, 2)
		if err != nil {
			return 0, err
		}
		return skipArrayBody(buf, pos, int(n))
	case c == 0xdd: // array32
		n, pos, err := readUintAt(buf, 1, 4)
		if err != nil {
			return 0, err
		}
		return skipArrayBody(buf, pos, int(n))
	case c == 0xde: // map16
		n, pos, err := readUintAt(buf, 1, 2)
		if err != nil {
			return 0, err
		}
		return skipMapBody(buf, pos, int(n))
	case c == 0xdf: // map32
		n, pos, err := readUintAt(buf, 1, 4)
		if err != nil {
			return 0, err
		}
		return skipMapBody(buf, pos, int(n))
	default:
		return 0, errors.Newf(errors.IllegalParams, "unsupported msgpack leading byte 0x%02x", c)
	}
}

func need(buf []byte, n int) (int, error) {
	if len(buf) < n {
		return 0, errors.New(errors.IllegalParams, "truncated record: value runs past buffer end")
	}
	return n, nil
}

func readUintAt(buf []byte, offset, width int) (uint64, int, error) {
	if len(buf) < offset+width {
		return 0, 0, errors.New(errors.IllegalParams, "truncated record: length prefix runs past buffer end")
	}
	var v uint64
	for i := 0; i < width; i++ {
		v = v<<8 | uint64(buf[offset+i])
	}
	return v, offset + width, nil
}

func fixedLenPrefixed(buf []byte, headerStart, widthBytes int) (int, error) {
	n, pos, err := readUintAt(buf, headerStart, widthBytes)
	if err != nil {
		return 0, err
	}
	return need(buf, pos+int(n))
}

func extLenPrefixed(buf []byte, headerStart, widthBytes int) (int, error) {
	n, pos, err := readUintAt(buf, headerStart, widthBytes)
	if err != nil {
		return 0, err
	}
	// +1 for the type tag byte that follows the length.
	return need(buf, pos+1+int(n))
}

func skipArrayBody(buf []byte, pos, count int) (int, error) {
	for i := 0; i < count; i++ {
		if pos >= len(buf) {
			return 0, errors.New(errors.IllegalParams, "truncated record: array body runs past buffer end")
		}
		elemLen, err := elementLen(buf[pos:])
		if err != nil {
			return 0, err
		}
		pos += elemLen
	}
	return pos, nil
}

func skipMapBody(buf []byte, pos, count int) (int, error) {
	for i := 0; i < count; i++ {
		keyLen, err := elementLen(buf[pos:])
		if err != nil {
			return 0, err
		}
		pos += keyLen
		valLen, err := elementLen(buf[pos:])
		if err != nil {
			return 0, err
		}
		pos += valLen
	}
	return pos, nil
}

// ArrayHeader decodes the array header at the start of buf, returning the
// element count and how many bytes the header itself occupied (so callers
// can iterate the element bytes directly without a full decode).
func ArrayHeader(buf []byte) (count int, headerLen int, err error) {
	if len(buf) == 0 {
		return 0, 0, errors.New(errors.IllegalParams, "truncated record: expected array, found nothing")
	}
	c := buf[0]
	switch {
	case c >= 0x90 && c <= 0x9f:
		return int(c & 0x0f), 1, nil
	case c == 0xdc:
		n, pos, err := readUintAt(buf, 1, 2)
		return int(n), pos, err
	case c == 0xdd:
		n, pos, err := readUintAt(buf, 1, 4)
		return int(n), pos, err
	default:
		return 0, 0, errors.Newf(errors.UpdateFieldType, "expected array, got msgpack leading byte 0x%02x", c)
	}
}

// MapHeader decodes the map header at the start of buf analogously to
// ArrayHeader.
func MapHeader(buf []byte) (count int, headerLen int, err error) {
	if len(buf) == 0 {
		return 0, 0, errors.New(errors.IllegalParams, "truncated record: expected map, found nothing")
	}
	c := buf[0]
	switch {
	case c >= 0x80 && c <= 0x8f:
		return int(c & 0x0f), 1, nil
	case c == 0xde:
		n, pos, err := readUintAt(buf, 1, 2)
		return int(n), pos, err
	case c == 0xdf:
		n, pos, err := readUintAt(buf, 1, 4)
		return int(n), pos, err
	default:
		return 0, 0, errors.Newf(errors.UpdateFieldType, "expected map, got msgpack leading byte 0x%02x", c)
	}
}

// EncodeArrayHeader returns the MessagePack header bytes for an array of
// the given length, choosing the shortest valid encoding.
func EncodeArrayHeader(n int) []byte {
	switch {
	case n <= 0x0f:
		return []byte{0x90 | byte(n)}
	case n <= 0xffff:
		return []byte{0xdc, byte(n >> 8), byte(n)}
	default:
		return []byte{0xdd, byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)}
	}
}

// EncodeMapHeader returns the MessagePack header bytes for a map with n
// entries, choosing the shortest valid encoding.
func EncodeMapHeader(n int) []byte {
	switch {
	case n <= 0x0f:
		return []byte{0x80 | byte(n)}
	case n <= 0xffff:
		return []byte{0xde, byte(n >> 8), byte(n)}
	default:
		return []byte{0xdf, byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)}
	}
}

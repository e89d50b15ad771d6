package update

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/dbcore/fiberdb/errors"
)

func encodeBatch(t *testing.T, ops []interface{}) []byte {
	t.Helper()
	b, err := msgpack.Marshal(ops)
	require.NoError(t, err)
	return b
}

func encodeRecord(t *testing.T, fields []interface{}) []byte {
	t.Helper()
	b, err := msgpack.Marshal(fields)
	require.NoError(t, err)
	return b
}

func decodeRecord(t *testing.T, record []byte) []interface{} {
	t.Helper()
	var out []interface{}
	require.NoError(t, msgpack.Unmarshal(record, &out))
	return out
}

func TestApplyInsertWithNegativeSelectorAppends(t *testing.T) {
	record := encodeRecord(t, []interface{}{1, 2, 3})
	batch := encodeBatch(t, []interface{}{
		[]interface{}{"!", -1, "push1"},
	})

	out, _, err := Apply(batch, record, nil, 1)
	require.NoError(t, err)

	got := decodeRecord(t, out)
	require.Equal(t, []interface{}{int8(1), int8(2), int8(3), "push1"}, got)
}

func TestApplySetViaNestedPathTouchesOnlyOneLeaf(t *testing.T) {
	record := encodeRecord(t, []interface{}{
		map[string]interface{}{
			"c": map[string]interface{}{
				"f": []interface{}{4, 5, 6, 7, 8},
			},
		},
		"unrelated",
	})
	dict := Dict{"f": 0}
	batch := encodeBatch(t, []interface{}{
		[]interface{}{"=", "f.c.f[1]", 100},
	})

	out, _, err := Apply(batch, record, dict, 1)
	require.NoError(t, err)

	got := decodeRecord(t, out)
	top := got[0].(map[string]interface{})
	c := top["c"].(map[string]interface{})
	f := c["f"].([]interface{})
	require.Equal(t, int8(100), f[0])
	require.Equal(t, int8(5), f[1])
	require.Equal(t, int8(6), f[2])
	require.Equal(t, "unrelated", got[1])
}

func TestApplyDuplicateTopLevelFieldFails(t *testing.T) {
	record := encodeRecord(t, []interface{}{0, 0})
	batch := encodeBatch(t, []interface{}{
		[]interface{}{"+", 2, 10},
		[]interface{}{"+", 2, 5},
	})

	_, _, err := Apply(batch, record, nil, 1)
	require.Error(t, err)
	require.True(t, errors.Is(err, errors.Duplicate))
}

func TestApplyIntegerOverflowLeavesRecordUntouched(t *testing.T) {
	const maxUint64 = uint64(0xFFFFFFFFFFFFFFFF)
	record := encodeRecord(t, []interface{}{0, maxUint64})
	batch := encodeBatch(t, []interface{}{
		[]interface{}{"+", 2, 1},
	})

	_, _, err := Apply(batch, record, nil, 1)
	require.Error(t, err)
	require.True(t, errors.Is(err, errors.UpdateIntegerOverflow))
}

func TestApplyTwoDeepPathsShareRouteCommonPrefix(t *testing.T) {
	// Path brackets are 1-based, per spec.md §8's "literal inputs assuming
	// 1-based indexing": "[4]" addresses the 4th element (0-based index 3).
	leafA := []interface{}{0, 0, 0}    // "[5][3][2]" targets leafA[1] (2nd element)
	mid5 := []interface{}{0, 0, leafA} // "[5][3]" targets mid5[2] (3rd element)
	leafB := []interface{}{0, 0, 0}    // "[8][3]" targets leafB[2] (3rd element)
	inner44 := make([]interface{}, 8)
	for i := range inner44 {
		inner44[i] = i
	}
	inner44[4] = mid5  // 5th element
	inner44[7] = leafB // 8th element

	inner4 := []interface{}{0, 0, 0, inner44}            // 4th element
	record := encodeRecord(t, []interface{}{0, 0, 0, inner4}) // 4th element

	batch := encodeBatch(t, []interface{}{
		[]interface{}{"=", "[4][4][5][3][2]", 11000},
		[]interface{}{"=", "[4][4][8][3]", 19000},
	})

	out, _, err := Apply(batch, record, nil, 1)
	require.NoError(t, err)

	got := decodeRecord(t, out)
	a := got[3].([]interface{})[3].([]interface{})[4].([]interface{})[2].([]interface{})
	require.Equal(t, int16(11000), a[1])
	b := got[3].([]interface{})[3].([]interface{})[7].([]interface{})
	require.Equal(t, int16(19000), b[2])
}

func TestCheckRejectsUnknownDictionaryName(t *testing.T) {
	batch := encodeBatch(t, []interface{}{
		[]interface{}{"=", "nosuch.path", 1},
	})
	err := Check(batch, Dict{}, 1)
	require.Error(t, err)
	require.True(t, errors.Is(err, errors.NoSuchField))
}

func TestUpsertApplySkipsFailingOperationAndContinues(t *testing.T) {
	record := encodeRecord(t, []interface{}{0, 0, "hi"})
	batch := encodeBatch(t, []interface{}{
		[]interface{}{"&", 3, uint64(1)}, // field 3 is a string: fails, skipped
		[]interface{}{"=", 1, 42},
	})

	out, _, err := UpsertApply(batch, record, nil, 1, nil)
	require.NoError(t, err)

	got := decodeRecord(t, out)
	require.Equal(t, int8(42), got[0])
	require.Equal(t, "hi", got[2])
}

func TestUpsertSquashCombinesArithmeticOnSameField(t *testing.T) {
	batch1 := encodeBatch(t, []interface{}{
		[]interface{}{"+", 1, 10},
	})
	batch2 := encodeBatch(t, []interface{}{
		[]interface{}{"-", 1, 3},
	})

	merged, err := UpsertSquash(batch1, batch2, nil, 1)
	require.NoError(t, err)

	var decoded []interface{}
	require.NoError(t, msgpack.Unmarshal(merged, &decoded))
	require.Len(t, decoded, 1)
	entry := decoded[0].([]interface{})
	require.Equal(t, "+", entry[0])
}

func TestUpsertSquashFoldsDeltaIntoPrecedingSet(t *testing.T) {
	record := encodeRecord(t, []interface{}{0})
	batch1 := encodeBatch(t, []interface{}{
		[]interface{}{"=", 1, 5},
	})
	batch2 := encodeBatch(t, []interface{}{
		[]interface{}{"+", 1, 3},
	})

	sequential, _, err := Apply(batch1, record, nil, 1)
	require.NoError(t, err)
	sequential, _, err = Apply(batch2, sequential, nil, 1)
	require.NoError(t, err)

	merged, err := UpsertSquash(batch1, batch2, nil, 1)
	require.NoError(t, err)

	var decoded []interface{}
	require.NoError(t, msgpack.Unmarshal(merged, &decoded))
	require.Len(t, decoded, 1)
	entry := decoded[0].([]interface{})
	require.Equal(t, "=", entry[0])

	squashed, _, err := Apply(merged, record, nil, 1)
	require.NoError(t, err)
	require.Equal(t, decodeRecord(t, sequential), decodeRecord(t, squashed))
}

func TestUpsertSquashRejectsUnsortedBatch(t *testing.T) {
	batch1 := encodeBatch(t, []interface{}{
		[]interface{}{"+", 3, 10},
		[]interface{}{"+", 1, 5},
	})
	empty := encodeBatch(t, []interface{}{})

	_, err := UpsertSquash(batch1, empty, nil, 1)
	require.Error(t, err)
	require.True(t, errors.Is(err, errors.IllegalParams))
}

func TestBoundaryIndexZeroUnderOneBasedFails(t *testing.T) {
	batch := encodeBatch(t, []interface{}{
		[]interface{}{"=", 0, 1},
	})
	record := encodeRecord(t, []interface{}{1, 2, 3})

	_, _, err := Apply(batch, record, nil, 1)
	require.Error(t, err)
	require.True(t, errors.Is(err, errors.NoSuchField))
}

func TestBoundarySpliceAtStringLengthAppends(t *testing.T) {
	record := encodeRecord(t, []interface{}{"hello"})
	batch := encodeBatch(t, []interface{}{
		[]interface{}{":", 1, 5, 0, " world"},
	})

	out, _, err := Apply(batch, record, nil, 1)
	require.NoError(t, err)

	got := decodeRecord(t, out)
	require.Equal(t, "hello world", got[0])
}

func TestRoundTripNopOnlyTreeReproducesOriginalBytes(t *testing.T) {
	record := encodeRecord(t, []interface{}{1, "two", []interface{}{3, 4}})

	root, err := decodeRecordRoot(record)
	require.NoError(t, err)

	out := make([]byte, 0, root.Size())
	out = root.Serialize(out)
	require.Equal(t, record, out)
}

func TestUpsertSquashWithEmptyBatchIsIdentity(t *testing.T) {
	batch1 := encodeBatch(t, []interface{}{
		[]interface{}{"=", 1, 42},
	})
	empty := encodeBatch(t, []interface{}{})

	merged, err := UpsertSquash(batch1, empty, nil, 1)
	require.NoError(t, err)

	var decoded []interface{}
	require.NoError(t, msgpack.Unmarshal(merged, &decoded))
	require.Len(t, decoded, 1)
}

package update

import (
	"github.com/vmihailenco/msgpack/v5"

	"github.com/dbcore/fiberdb/errors"
	"github.com/dbcore/fiberdb/logger"
)

// Dict maps a leading bare field name in a path selector to its ordinal
// position within the outermost array, per spec.md §4.2: "the dictionary
// maps field names to ordinal positions within the outermost array."
type Dict map[string]int

// MaxOperationsPerBatch bounds how many operations decodeBatch accepts, 0
// meaning unlimited. cmd/fiberdb sets this from internal/config.Config at
// startup; the update package itself has no config dependency.
var MaxOperationsPerBatch int

// decodeBatch turns a MessagePack-encoded operations batch into decoded
// UpdateOps. This is the sole decode-time failure boundary: spec.md §4.2
// says a malformed operation, unknown opcode, wrong argument type, or bad
// path aborts the whole batch before any field is touched.
func decodeBatch(batch []byte, indexBase int) ([]UpdateOp, error) {
	var raw []interface{}
	if err := msgpack.Unmarshal(batch, &raw); err != nil {
		return nil, errors.Wrap(err, "decode operations batch")
	}
	if MaxOperationsPerBatch > 0 && len(raw) > MaxOperationsPerBatch {
		return nil, errors.Newf(errors.IllegalParams, "operations batch has %d entries, exceeding the configured maximum of %d", len(raw), MaxOperationsPerBatch)
	}
	ops := make([]UpdateOp, 0, len(raw))
	for i, entry := range raw {
		arr, ok := entry.([]interface{})
		if !ok {
			return nil, errors.Newf(errors.IllegalParams, "operation %d is not an array", i)
		}
		op, err := decodeOp(arr, indexBase)
		if err != nil {
			return nil, errors.Wrapf(err, "operation %d", i)
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// decodeRecordRoot materializes the outermost level of a record into the
// arrayNode every apply/check pass descends from. Per spec.md §4.2:
// "The root is always an ARRAY node wrapping the outer record."
func decodeRecordRoot(record []byte) (*arrayNode, error) {
	n, err := materializeValue(record)
	if err != nil {
		return nil, err
	}
	root, ok := n.(*arrayNode)
	if !ok {
		return nil, errors.New(errors.UpdateFieldType, "record root must be an array")
	}
	return root, nil
}

// resolvePathSelector resolves a path's leading bare-name token against
// dict, leaving a bracketed numeric head untouched. Returns the full,
// resolved token list (first token always tokNum afterward).
func resolvePathSelector(toks []pathToken, dict Dict) ([]pathToken, error) {
	if len(toks) == 0 {
		return toks, nil
	}
	if toks[0].kind != tokStr {
		return toks, nil
	}
	idx, ok := dict[toks[0].str]
	if !ok {
		return nil, errors.Newf(errors.NoSuchField, "dictionary has no field named %q", toks[0].str)
	}
	resolved := make([]pathToken, len(toks))
	copy(resolved, toks)
	resolved[0] = pathToken{kind: tokNum, num: idx, offset: toks[0].offset}
	return resolved, nil
}

// resolveTopIndex resolves a plain integer selector (already index-base
// normalized to 0-based by decodeOp) to a concrete array position, per
// spec.md §4.2: "negative counts from the tail, with rule for `!` that a
// negative selector inserts after the targeted position."
func resolveTopIndex(sel selector, rootLen int, op Opcode) (int, error) {
	idx := sel.index
	negative := idx < 0
	if negative {
		idx += rootLen
		if op == OpInsert {
			idx++
		}
	}
	if idx < 0 {
		return 0, errors.Newf(errors.NoSuchField, "selector resolves to a negative index")
	}
	return idx, nil
}

// resolvedOp is one operation after its selector has been fully resolved
// against a concrete record length and dictionary.
type resolvedOp struct {
	op  UpdateOp
	idx int
	rest []pathToken
}

func resolveOp(op UpdateOp, dict Dict, rootLen int) (resolvedOp, error) {
	if op.Sel.isPath {
		toks, err := resolvePathSelector(op.pathToks, dict)
		if err != nil {
			return resolvedOp{}, err
		}
		idx, err := tokToIndex(toks[0])
		if err != nil {
			return resolvedOp{}, err
		}
		return resolvedOp{op: op, idx: idx, rest: toks[1:]}, nil
	}
	idx, err := resolveTopIndex(op.Sel, rootLen, op.Op)
	if err != nil {
		return resolvedOp{}, err
	}
	return resolvedOp{op: op, idx: idx, rest: nil}, nil
}

func columnMaskFor(mask ColumnMask, r resolvedOp) ColumnMask {
	if r.op.Op.isStructural() && len(r.rest) == 0 {
		return mask.SetRangeFrom(r.idx)
	}
	return mask.SetColumn(r.idx)
}

// Apply implements the engine's primary entry, per spec.md §4.2:
// "apply(operations_batch, old_record, dict, index_base) → new_record."
func Apply(batch, oldRecord []byte, dict Dict, indexBase int) ([]byte, ColumnMask, error) {
	ops, err := decodeBatch(batch, indexBase)
	if err != nil {
		return nil, 0, err
	}
	root, err := decodeRecordRoot(oldRecord)
	if err != nil {
		return nil, 0, err
	}

	var mask ColumnMask
	for i, op := range ops {
		r, err := resolveOp(op, dict, root.Len())
		if err != nil {
			return nil, 0, errors.Wrapf(err, "operation %d", i)
		}
		if err := applyChildSlot(root, r.idx, r.rest, r.op); err != nil {
			return nil, 0, errors.Wrapf(err, "operation %d", i)
		}
		mask = columnMaskFor(mask, r)
	}

	out := make([]byte, 0, root.Size())
	out = root.Serialize(out)
	return out, mask, nil
}

// Check validates an operations batch without applying it, per spec.md
// §4.2's `check(operations_batch, dict, index_base)`. With no record
// present, only decode-time and dictionary-resolution failures are
// detectable; apply-time failures (out-of-bounds index, type mismatch on
// existing data) require a record and are Apply's responsibility.
func Check(batch []byte, dict Dict, indexBase int) error {
	ops, err := decodeBatch(batch, indexBase)
	if err != nil {
		return err
	}
	for i, op := range ops {
		if op.Sel.isPath {
			if _, err := resolvePathSelector(op.pathToks, dict); err != nil {
				return errors.Wrapf(err, "operation %d", i)
			}
		}
	}
	return nil
}

// UpsertApply implements spec.md §4.2's "upsert-apply(..., suppress_error)
// logs non-fatal errors instead of aborting" — an apply-time failure on
// one operation is logged and that operation is skipped, rather than
// aborting the whole batch. Decode-time failures still abort: upsert mode
// only downgrades apply-time failures.
func UpsertApply(batch, oldRecord []byte, dict Dict, indexBase int, log logger.Logger) ([]byte, ColumnMask, error) {
	if log == nil {
		log = logger.NopLogger
	}
	ops, err := decodeBatch(batch, indexBase)
	if err != nil {
		return nil, 0, err
	}
	root, err := decodeRecordRoot(oldRecord)
	if err != nil {
		return nil, 0, err
	}

	var mask ColumnMask
	for i, op := range ops {
		r, err := resolveOp(op, dict, root.Len())
		if err != nil {
			log.Warnf("upsert: skipping operation %d: %v", i, err)
			continue
		}
		if err := applyChildSlot(root, r.idx, r.rest, r.op); err != nil {
			log.Warnf("upsert: skipping operation %d: %v", i, err)
			continue
		}
		mask = columnMaskFor(mask, r)
	}

	out := make([]byte, 0, root.Size())
	out = root.Serialize(out)
	return out, mask, nil
}

// UpsertSquash collapses two strictly sorted arithmetic/set operation
// batches over the same record into one equivalent batch, per spec.md
// §4.2. Both inputs must already be sorted by top-level field index —
// matching the original system's validate-don't-fix posture (documented
// in DESIGN.md), this returns IllegalParams rather than silently sorting.
func UpsertSquash(batch1, batch2 []byte, dict Dict, indexBase int) ([]byte, error) {
	ops1, err := decodeBatch(batch1, indexBase)
	if err != nil {
		return nil, err
	}
	ops2, err := decodeBatch(batch2, indexBase)
	if err != nil {
		return nil, err
	}
	if err := requireSquashable(ops1); err != nil {
		return nil, errors.Wrap(err, "batch1")
	}
	if err := requireSquashable(ops2); err != nil {
		return nil, errors.Wrap(err, "batch2")
	}

	merged := squashSorted(ops1, ops2)

	encoded := make([]interface{}, 0, len(merged))
	for _, op := range merged {
		e, err := encodeOp(op, indexBase)
		if err != nil {
			return nil, err
		}
		encoded = append(encoded, e)
	}
	out, err := msgpack.Marshal(encoded)
	if err != nil {
		return nil, errors.Wrap(err, "encode squashed batch")
	}
	return out, nil
}

func requireSquashable(ops []UpdateOp) error {
	prev := -1
	for _, op := range ops {
		if op.Sel.isPath {
			return errors.New(errors.IllegalParams, "upsert-squash requires plain integer selectors")
		}
		if op.Op != OpSet && op.Op != OpAdd && op.Op != OpSubtract {
			return errors.Newf(errors.IllegalParams, "upsert-squash requires arithmetic or set operations, got %q", op.Op)
		}
		if op.Sel.index <= prev {
			return errors.New(errors.IllegalParams, "upsert-squash batch is not sorted by field index")
		}
		prev = op.Sel.index
	}
	return nil
}

// squashSorted merges two sorted-by-index operation lists: for a field
// touched by only one batch, that operation passes through unchanged; for
// a field touched by both, a `=` from batch2 wins outright (it replaces
// whatever batch1 did), while two arithmetic ops of the same field combine
// into one by summing their signed deltas.
func squashSorted(ops1, ops2 []UpdateOp) []UpdateOp {
	var out []UpdateOp
	i, j := 0, 0
	for i < len(ops1) && j < len(ops2) {
		a, b := ops1[i], ops2[j]
		switch {
		case a.Sel.index < b.Sel.index:
			out = append(out, a)
			i++
		case a.Sel.index > b.Sel.index:
			out = append(out, b)
			j++
		default:
			out = append(out, squashPair(a, b))
			i++
			j++
		}
	}
	out = append(out, ops1[i:]...)
	out = append(out, ops2[j:]...)
	return out
}

func squashPair(a, b UpdateOp) UpdateOp {
	if b.Op == OpSet {
		return b
	}
	if a.Op == OpSet {
		// set followed by a delta: fold the delta into the literal so the
		// squashed batch still sets the field to the value B2's arithmetic
		// would have produced, rather than applying that delta to the
		// record's pre-B1 value.
		if literal, err := decodeNumeric(a.Raw); err == nil {
			combined := a
			combined.Raw = numericToRaw(addSignedDelta(literal, signedDelta(b)))
			return combined
		}
		return b
	}
	// Both arithmetic: combine into a single `+` with the signed sum of
	// deltas.
	combined := a
	combined.Op = OpAdd
	combined.Num = addSignedDelta(signedDelta(a), signedDelta(b))
	return combined
}

func signedDelta(op UpdateOp) numeric {
	if op.Op == OpSubtract {
		return negate(op.Num)
	}
	return op.Num
}

func negate(n numeric) numeric {
	switch n.kind {
	case numInt:
		n.i = -n.i
	case numUint:
		// Two's-complement negation mod 2^64: the only sign-flip that
		// stays meaningful for a delta that may exceed math.MaxInt64.
		n.u = ^n.u + 1
	case numFloat:
		n.f = -n.f
	case numDouble:
		n.d = -n.d
	case numDecimal:
		n.dec = n.dec.Neg()
	}
	return n
}

// numericAsUint64 widens a numInt or numUint delta to uint64 by its
// two's-complement bit pattern, so that summing two deltas (one of which
// may be negative, from a squashed `-`) stays correct modulo 2^64.
func numericAsUint64(kind numKind, n numeric) uint64 {
	if kind == numUint {
		return n.u
	}
	return uint64(n.i)
}

func addSignedDelta(a, b numeric) numeric {
	kind := promote(a.kind, b.kind)
	switch kind {
	case numInt:
		return numeric{kind: numInt, i: a.i + b.i}
	case numUint:
		return numeric{kind: numUint, u: numericAsUint64(a.kind, a) + numericAsUint64(b.kind, b)}
	case numFloat:
		return numeric{kind: numFloat, f: toFloat32(a.kind, a) + toFloat32(b.kind, b)}
	case numDouble:
		return numeric{kind: numDouble, d: toFloat64(a.kind, a) + toFloat64(b.kind, b)}
	default:
		return numeric{kind: numDecimal, dec: toDecimal(a.kind, a).Add(toDecimal(b.kind, b))}
	}
}

// encodeOp re-emits a decoded UpdateOp in the wire `[opcode, selector,
// args...]` form, re-applying the original index_base.
func encodeOp(op UpdateOp, indexBase int) ([]interface{}, error) {
	out := []interface{}{string(op.Op), op.Sel.index + indexBase}
	switch op.Op {
	case OpSet, OpInsert:
		out = append(out, op.Raw)
	case OpAdd, OpSubtract:
		out = append(out, numericToRaw(op.Num))
	default:
		return nil, errors.Newf(errors.IllegalParams, "opcode %q is not squashable", op.Op)
	}
	return out, nil
}

func numericToRaw(n numeric) interface{} {
	switch n.kind {
	case numInt:
		return n.i
	case numUint:
		return n.u
	case numFloat:
		return n.f
	case numDouble:
		return n.d
	default:
		return n.dec
	}
}

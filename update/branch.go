package update

import (
	"github.com/dbcore/fiberdb/errors"
)

// materializeValue decodes exactly one level of raw msgpack bytes into a
// Node: an arrayNode or mapNode whose children are themselves left as NOP
// leaves (so nothing beyond this one level is ever decoded until some
// operation actually touches it), or a nopNode for a scalar leaf.
func materializeValue(raw []byte) (Node, error) {
	if len(raw) == 0 {
		return nil, errors.New(errors.IllegalParams, "empty value cannot be materialized")
	}
	c := raw[0]
	switch {
	case c >= 0x90 && c <= 0x9f, c == 0xdc, c == 0xdd:
		count, headerLen, err := ArrayHeader(raw)
		if err != nil {
			return nil, err
		}
		children := make([]Node, 0, count)
		pos := headerLen
		for i := 0; i < count; i++ {
			elemLen, err := elementLen(raw[pos:])
			if err != nil {
				return nil, err
			}
			children = append(children, &nopNode{data: raw[pos : pos+elemLen]})
			pos += elemLen
		}
		return newArrayNode(children), nil
	case c >= 0x80 && c <= 0x8f, c == 0xde, c == 0xdf:
		count, headerLen, err := MapHeader(raw)
		if err != nil {
			return nil, err
		}
		entries := make([]mapEntry, 0, count)
		pos := headerLen
		for i := 0; i < count; i++ {
			key, keyLen, err := DecodeValue(raw[pos:])
			if err != nil {
				return nil, err
			}
			keyStr, ok := key.(string)
			if !ok {
				return nil, errors.New(errors.UpdateFieldType, "map key is not a string")
			}
			pos += keyLen
			valLen, err := elementLen(raw[pos:])
			if err != nil {
				return nil, err
			}
			entries = append(entries, mapEntry{key: keyStr, value: &nopNode{data: raw[pos : pos+valLen]}})
			pos += valLen
		}
		return &mapNode{base: entries}, nil
	default:
		return &nopNode{data: raw}, nil
	}
}

// materializeBar fully resolves a barNode into a concrete Node by
// materializing its subtree and replaying its stored operation through
// the normal descent path. This is the point where the "avoid
// materializing the whole subtree for a single touched leaf" optimization
// from spec.md §3/§4.2 actually pays off: a barNode that never branches
// is serialized by walking its raw bytes once here, with no intermediate
// tree ever built for the untouched siblings it never visits below this
// point (the surrounding parent level is still plain NOP bytes, visited
// byte-for-byte in Serialize, not decoded).
func materializeBar(bar *barNode) (Node, error) {
	container, err := materializeValue(bar.raw)
	if err != nil {
		return nil, err
	}
	if err := placeFull(container, bar.remainder, bar.op); err != nil {
		return nil, err
	}
	return container, nil
}

// branchResolve handles a second operation reaching a barNode: the
// classic "BAR or ROUTE must branch" case from spec.md §4.2.
//
// This implementation takes the simpler of the two strategies spec.md §9
// allows ("a safe implementation may...") for the branch itself: rather
// than keeping the non-common-prefix remainder lazily unmaterialized
// behind a second BAR, it materializes the whole subtree once div
// diverges and replays both operations' full paths into it, then wraps
// the result in a routeNode carrying the common prefix for bookkeeping
// and for any further descent (routeDescend) to recurse through. This
// is still exactly size-proportional to the touched subtree — the same
// bound the lazy BAR-within-BAR strategy gives — since both strategies
// must decode the touched subtree's container levels regardless.
func branchResolve(bar *barNode, newToks []pathToken, op UpdateOp) (Node, error) {
	if len(bar.remainder) == len(newToks) && commonPrefixLen(bar.remainder, newToks) == len(newToks) {
		return nil, errors.Newf(errors.UnsupportedUpdate, "intersected JSON paths: %q", formatPath(newToks))
	}

	container, err := materializeValue(bar.raw)
	if err != nil {
		return nil, err
	}
	if err := placeFull(container, bar.remainder, bar.op); err != nil {
		return nil, err
	}
	if err := placeFull(container, newToks, op); err != nil {
		return nil, err
	}

	commonLen := commonPrefixLen(bar.remainder, newToks)
	if commonLen == 0 {
		return container, nil
	}
	return &routeNode{prefix: newToks[:commonLen], next: container}, nil
}

// routeDescend handles a third-or-later operation reaching an existing
// ROUTE node. Since next is already rooted at the ROUTE's own position
// (see branchResolve), it is addressed by the operation's full remaining
// path exactly as if the ROUTE weren't there.
func routeDescend(route *routeNode, toks []pathToken, op UpdateOp) (Node, error) {
	if len(toks) == 0 {
		return nil, errors.Newf(errors.UnsupportedUpdate, "intersected JSON paths: %q", formatPath(route.prefix))
	}
	newNext, err := placeInChild(route.next, toks, op)
	if err != nil {
		return nil, err
	}
	route.next = newNext
	return route, nil
}

// placeInChild resolves one non-empty path-token step against node,
// dispatching per node kind.
func placeInChild(node Node, toks []pathToken, op UpdateOp) (Node, error) {
	switch n := node.(type) {
	case nil:
		return nil, errors.New(errors.NoSuchField, "path addresses a non-existent field")
	case *nopNode:
		bar := &barNode{raw: n.data, remainder: toks, op: op}
		if _, err := bar.resolve(); err != nil {
			return nil, err
		}
		return bar, nil
	case *barNode:
		return branchResolve(n, toks, op)
	case *routeNode:
		return routeDescend(n, toks, op)
	case *arrayNode:
		idx, err := tokToIndex(toks[0])
		if err != nil {
			return nil, err
		}
		if err := applyChildSlot(n, idx, toks[1:], op); err != nil {
			return nil, err
		}
		return n, nil
	case *mapNode:
		key, err := tokToKey(toks[0])
		if err != nil {
			return nil, err
		}
		if err := applyChildSlot(n, key, toks[1:], op); err != nil {
			return nil, err
		}
		return n, nil
	case *scalarNode:
		return nil, errors.New(errors.UpdateFieldType, "cannot descend into a field already addressed by a terminal operation")
	default:
		return nil, errors.Newf(errors.SystemError, "unhandled node kind %T", n)
	}
}

// placeFull resolves a path against a freshly materialized container (an
// *arrayNode or *mapNode). Callers pass a barNode's stored remainder, which
// is never empty (an empty remainder is applied terminally instead of
// creating a BAR); an empty path is still rejected with SystemError.
func placeFull(container Node, toks []pathToken, op UpdateOp) error {
	if len(toks) == 0 {
		return errors.New(errors.SystemError, "placeFull called with an empty path")
	}
	switch n := container.(type) {
	case *arrayNode:
		idx, err := tokToIndex(toks[0])
		if err != nil {
			return err
		}
		return applyChildSlot(n, idx, toks[1:], op)
	case *mapNode:
		key, err := tokToKey(toks[0])
		if err != nil {
			return err
		}
		return applyChildSlot(n, key, toks[1:], op)
	default:
		return errors.New(errors.UpdateFieldType, "path descends into a non-container field")
	}
}

func tokToIndex(tok pathToken) (int, error) {
	if tok.kind != tokNum {
		return 0, errors.Newf(errors.UpdateFieldType, "expected an array index at path offset %d", tok.offset)
	}
	return tok.num, nil
}

func tokToKey(tok pathToken) (string, error) {
	if tok.kind != tokStr {
		return "", errors.Newf(errors.UpdateFieldType, "expected a map key at path offset %d", tok.offset)
	}
	return tok.str, nil
}

// applyChildSlot applies op to the slot identified by key within parent
// (an *arrayNode addressed by int key, or *mapNode addressed by string
// key), either terminally (restToks empty) or by recursing one more
// level (restToks non-empty).
func applyChildSlot(parent Node, key interface{}, restToks []pathToken, op UpdateOp) error {
	if len(restToks) == 0 {
		return applyTerminal(parent, key, op)
	}
	child, err := getSlot(parent, key)
	if err != nil {
		return err
	}
	newChild, err := placeInChild(child, restToks, op)
	if err != nil {
		return err
	}
	return setSlot(parent, key, newChild)
}

func getSlot(parent Node, key interface{}) (Node, error) {
	switch p := parent.(type) {
	case *arrayNode:
		idx := key.(int)
		v, ok := p.at(idx)
		if !ok {
			return nil, errors.Newf(errors.NoSuchField, "array index %d out of range", idx)
		}
		return v, nil
	case *mapNode:
		k := key.(string)
		v, ok, _ := p.find(k)
		if !ok {
			return nil, errors.Newf(errors.NoSuchField, "map has no key %q", k)
		}
		return v, nil
	default:
		return nil, errors.New(errors.UpdateFieldType, "path descends into a non-container field")
	}
}

func setSlot(parent Node, key interface{}, value Node) error {
	switch p := parent.(type) {
	case *arrayNode:
		p.assoc(key.(int), value)
		return nil
	case *mapNode:
		p.set(key.(string), value)
		return nil
	default:
		return errors.New(errors.UpdateFieldType, "path descends into a non-container field")
	}
}

// applyTerminal applies op directly at key within parent: a scalar op
// (=, +, -, &, |, ^, :) replaces the slot's value; a structural op (!, #)
// mutates parent's shape at key, per spec.md §4.2's "force the parent
// into ARRAY/MAP and perform the structural mutation."
func applyTerminal(parent Node, key interface{}, op UpdateOp) error {
	if op.Op.isStructural() {
		return applyStructural(parent, key, op)
	}
	return applyScalarTerminal(parent, key, op)
}

func applyStructural(parent Node, key interface{}, op UpdateOp) error {
	switch p := parent.(type) {
	case *arrayNode:
		idx := key.(int)
		switch op.Op {
		case OpInsert:
			child, err := leafFromRaw(op.Raw)
			if err != nil {
				return err
			}
			return p.insertAt(idx, child)
		case OpDelete:
			return p.deleteAt(idx, op.Del)
		}
	case *mapNode:
		k := key.(string)
		switch op.Op {
		case OpInsert:
			child, err := leafFromRaw(op.Raw)
			if err != nil {
				return err
			}
			return p.insertKey(k, child)
		case OpDelete:
			return p.deleteKey(k)
		}
	}
	return errors.New(errors.UpdateFieldType, "structural operation requires an array or map parent")
}

func applyScalarTerminal(parent Node, key interface{}, op UpdateOp) error {
	existing, err := getSlot(parent, key)
	if err != nil {
		if op.Op == OpSet {
			// '=' one past the end of an array, or a never-before-seen map
			// key, is an insert rather than a replace.
			if arr, ok := parent.(*arrayNode); ok && key.(int) != arr.Len() {
				return err
			}
			child, cerr := leafFromRaw(op.Raw)
			if cerr != nil {
				return cerr
			}
			return setSlot(parent, key, child)
		}
		return err
	}

	switch n := existing.(type) {
	case *scalarNode:
		if op.Sel.isPath {
			return errors.New(errors.UnsupportedUpdate, "intersected JSON paths")
		}
		return errors.New(errors.Duplicate, "field already addressed by this batch")
	case *barNode:
		if len(n.remainder) == 0 {
			return errors.New(errors.UnsupportedUpdate, "intersected JSON paths")
		}
	case *routeNode:
		return errors.New(errors.UnsupportedUpdate, "intersected JSON paths")
	case *arrayNode, *mapNode:
		return errors.New(errors.UpdateFieldType, "cannot apply a scalar operation to a container field")
	}

	newVal, err := computeScalar(existing, op)
	if err != nil {
		return err
	}
	child, err := leafFromRaw(newVal)
	if err != nil {
		return err
	}
	return setSlot(parent, key, child)
}

// leafFromRaw wraps a decoded argument value as a scalarNode.
func leafFromRaw(v interface{}) (Node, error) {
	return newScalarNode(v)
}

// computeScalar applies op against existing's current value, per the
// opcode semantics in spec.md §4.2.
func computeScalar(existing Node, op UpdateOp) (interface{}, error) {
	switch op.Op {
	case OpSet:
		return op.Raw, nil
	case OpAdd, OpSubtract:
		val, err := valueOf(existing)
		if err != nil {
			return nil, err
		}
		return applyArithmetic(op.Op, val, op.Num)
	case OpAnd, OpOr, OpXor:
		val, err := valueOf(existing)
		if err != nil {
			return nil, err
		}
		return applyBitwise(op.Op, val, op.Bits)
	case OpSplice:
		val, err := valueOf(existing)
		if err != nil {
			return nil, err
		}
		return applySplice(val, op.Splice)
	default:
		return nil, errors.Newf(errors.IllegalParams, "opcode %q is not a terminal scalar opcode", op.Op)
	}
}

// valueOf decodes a node's current value, used as the source operand for
// arithmetic/bitwise/splice ops.
func valueOf(n Node) (interface{}, error) {
	switch v := n.(type) {
	case *nopNode:
		return v.decode()
	default:
		return nil, errors.New(errors.UpdateFieldType, "source field is not a decodable scalar")
	}
}

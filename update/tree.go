package update

import (
	"github.com/xiaq/persistent/vector"

	"github.com/dbcore/fiberdb/errors"
)

// Node is one field-tree node, per spec.md §3. Every variant knows its own
// serialized size as a pure function of its state, and can append its
// serialized bytes to a growing output buffer.
type Node interface {
	Size() int
	Serialize(out []byte) []byte
}

// nopNode points at a byte range of the original record that no operation
// touched. It never allocates and never decodes its bytes unless some
// operation later needs the value they encode.
type nopNode struct {
	data []byte
}

func (n *nopNode) Size() int                { return len(n.data) }
func (n *nopNode) Serialize(out []byte) []byte { return append(out, n.data...) }

func (n *nopNode) decode() (interface{}, error) {
	v, _, err := DecodeValue(n.data)
	return v, err
}

// scalarNode is a leaf whose single operation has already been applied;
// it holds the new encoded bytes directly so Size/Serialize are O(1).
type scalarNode struct {
	encoded []byte
}

func newScalarNode(v interface{}) (*scalarNode, error) {
	b, err := EncodeValue(v)
	if err != nil {
		return nil, err
	}
	return &scalarNode{encoded: b}, nil
}

func (n *scalarNode) Size() int                { return len(n.encoded) }
func (n *scalarNode) Serialize(out []byte) []byte { return append(out, n.encoded...) }

// arrayNode is an ordered sequence of child fields, backed by a persistent
// (structure-sharing) vector: an in-place `=` at an existing index uses
// Assoc without touching any other child's storage.
type arrayNode struct {
	children vector.Vector
}

func newArrayNode(children []Node) *arrayNode {
	v := vector.Empty
	for _, c := range children {
		v = v.Conj(c)
	}
	return &arrayNode{children: v}
}

func (n *arrayNode) Len() int { return n.children.Len() }

func (n *arrayNode) at(i int) (Node, bool) {
	if i < 0 || i >= n.children.Len() {
		return nil, false
	}
	v, _ := n.children.Index(i)
	return v.(Node), true
}

func (n *arrayNode) assoc(i int, child Node) {
	n.children = n.children.Assoc(i, child)
}

// insertAt implements `!`: creates a new field at position i, shifting
// everything at or after i one slot to the tail. A negative position that
// has already been normalized to "insert after" by the caller arrives
// here as i == Len() (append).
func (n *arrayNode) insertAt(i int, child Node) error {
	if i < 0 || i > n.children.Len() {
		return errors.Newf(errors.NoSuchField, "array insert index %d out of range (len %d)", i, n.children.Len())
	}
	if i == n.children.Len() {
		n.children = n.children.Conj(child)
		return nil
	}
	// Rebuild the suffix from i onward; every following index shifts by
	// one under a flat-indexed persistent vector, so this much copying is
	// unavoidable regardless of backing structure.
	rest := make([]Node, 0, n.children.Len()-i+1)
	rest = append(rest, child)
	for j := i; j < n.children.Len(); j++ {
		v, _ := n.children.Index(j)
		rest = append(rest, v.(Node))
	}
	v := n.children
	for j := n.children.Len() - 1; j >= i; j-- {
		v = v.Pop()
	}
	for _, c := range rest {
		v = v.Conj(c)
	}
	n.children = v
	return nil
}

// deleteAt implements `#`: removes count consecutive fields starting at
// i, clamping count to the number of remaining fields.
func (n *arrayNode) deleteAt(i int, count int) error {
	if i < 0 || i >= n.children.Len() {
		return errors.Newf(errors.NoSuchField, "array delete index %d out of range (len %d)", i, n.children.Len())
	}
	if count > n.children.Len()-i {
		count = n.children.Len() - i
	}
	keep := make([]Node, 0, n.children.Len()-count)
	for j := 0; j < n.children.Len(); j++ {
		if j >= i && j < i+count {
			continue
		}
		v, _ := n.children.Index(j)
		keep = append(keep, v.(Node))
	}
	n.children = vector.Empty
	for _, c := range keep {
		n.children = n.children.Conj(c)
	}
	return nil
}

func (n *arrayNode) Size() int {
	sz := len(EncodeArrayHeader(n.children.Len()))
	for i := 0; i < n.children.Len(); i++ {
		v, _ := n.children.Index(i)
		sz += v.(Node).Size()
	}
	return sz
}

func (n *arrayNode) Serialize(out []byte) []byte {
	out = append(out, EncodeArrayHeader(n.children.Len())...)
	for i := 0; i < n.children.Len(); i++ {
		v, _ := n.children.Index(i)
		out = v.(Node).Serialize(out)
	}
	return out
}

// mapEntry is one key/value pair of a mapNode's unchanged base.
type mapEntry struct {
	key   string
	value Node
}

// mapMutation is one pending edit layered over a mapNode's base, per
// spec.md §3: "insertions/deletions tracked as a list of pending
// mutations over an unchanged base map."
type mapMutation struct {
	key    string
	delete bool
	value  Node // nil when delete is true
}

// mapNode is a collection addressed by string key. Its base entries stay
// as decoded-key/NOP-value pairs (so unmodified values are never
// re-encoded); edits accumulate as an ordered slice rather than a
// replacement associative structure, exactly as spec.md §3 describes it.
type mapNode struct {
	base    []mapEntry
	pending []mapMutation
}

func (n *mapNode) find(key string) (Node, bool, int) {
	for i := len(n.pending) - 1; i >= 0; i-- {
		if n.pending[i].key == key {
			if n.pending[i].delete {
				return nil, false, -1
			}
			return n.pending[i].value, true, i
		}
	}
	for _, e := range n.base {
		if e.key == key {
			return e.value, true, -1
		}
	}
	return nil, false, -1
}

func (n *mapNode) set(key string, value Node) {
	n.pending = append(n.pending, mapMutation{key: key, value: value})
}

func (n *mapNode) deleteKey(key string) error {
	if _, ok, _ := n.find(key); !ok {
		return errors.Newf(errors.NoSuchField, "map has no key %q", key)
	}
	n.pending = append(n.pending, mapMutation{key: key, delete: true})
	return nil
}

func (n *mapNode) insertKey(key string, value Node) error {
	if _, ok, _ := n.find(key); ok {
		return errors.Newf(errors.Duplicate, "map key %q already set in this batch", key)
	}
	n.pending = append(n.pending, mapMutation{key: key, value: value})
	return nil
}

// resolvedEntries returns the final (key, value) sequence after applying
// pending mutations over base, preserving base order for untouched keys
// and appending newly inserted keys at the tail.
func (n *mapNode) resolvedEntries() []mapEntry {
	deleted := make(map[string]bool)
	overridden := make(map[string]Node)
	var inserted []string
	seenBase := make(map[string]bool)
	for _, e := range n.base {
		seenBase[e.key] = true
	}
	for _, m := range n.pending {
		if m.delete {
			deleted[m.key] = true
			delete(overridden, m.key)
			continue
		}
		delete(deleted, m.key)
		overridden[m.key] = m.value
		if !seenBase[m.key] {
			inserted = append(inserted, m.key)
		}
	}

	var out []mapEntry
	for _, e := range n.base {
		if deleted[e.key] {
			continue
		}
		if v, ok := overridden[e.key]; ok {
			out = append(out, mapEntry{key: e.key, value: v})
		} else {
			out = append(out, e)
		}
	}
	for _, k := range inserted {
		if deleted[k] {
			continue
		}
		out = append(out, mapEntry{key: k, value: overridden[k]})
	}
	return out
}

func (n *mapNode) Size() int {
	entries := n.resolvedEntries()
	sz := len(EncodeMapHeader(len(entries)))
	for _, e := range entries {
		keyBytes, _ := EncodeValue(e.key)
		sz += len(keyBytes) + e.value.Size()
	}
	return sz
}

func (n *mapNode) Serialize(out []byte) []byte {
	entries := n.resolvedEntries()
	out = append(out, EncodeMapHeader(len(entries))...)
	for _, e := range entries {
		keyBytes, _ := EncodeValue(e.key)
		out = append(out, keyBytes...)
		out = e.value.Serialize(out)
	}
	return out
}

// barNode represents a single point-update deep inside an unparsed
// subtree: the optimization that avoids materializing container nodes
// along a path that only one operation ever touches.
type barNode struct {
	raw       []byte      // the untouched subtree's original bytes
	remainder []pathToken // path remaining below this point
	op        UpdateOp    // the operation to apply at the end of remainder

	materialized Node // cached result of materializeBar, computed once
	materializeErr error
	resolved bool
}

// resolve materializes this BAR's subtree exactly once; both Size and
// Serialize need the same materialized tree, and re-deriving it twice per
// node (once for each pass) would make the whole two-pass design run in
// more than O(touched subtree size).
func (n *barNode) resolve() (Node, error) {
	if !n.resolved {
		n.materialized, n.materializeErr = materializeBar(n)
		n.resolved = true
	}
	return n.materialized, n.materializeErr
}

func (n *barNode) Size() int {
	materialized, err := n.resolve()
	if err != nil {
		// Size is only ever called after a successful build pass, so a
		// late failure here means a logic bug upstream, not bad input.
		return len(n.raw)
	}
	return materialized.Size()
}

func (n *barNode) Serialize(out []byte) []byte {
	materialized, err := n.resolve()
	if err != nil {
		return append(out, n.raw...)
	}
	return materialized.Serialize(out)
}

// routeNode is an internal node representing the common-prefix path
// shared by every operation that currently descends into its subtree.
type routeNode struct {
	prefix []pathToken
	next   Node
}

func (n *routeNode) Size() int                { return n.next.Size() }
func (n *routeNode) Serialize(out []byte) []byte { return n.next.Serialize(out) }

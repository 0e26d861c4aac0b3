package btree

import (
	"sort"

	"github.com/mcheese/cheesebase/pkg/blockalloc"
	"github.com/mcheese/cheesebase/pkg/page"
	"github.com/mcheese/cheesebase/pkg/pagecache"
	"github.com/mcheese/cheesebase/pkg/value"
)

// Overwrite selects insert-vs-update semantics for Writer.Put, mirroring
// the Path API's insert/update/upsert operations.
type Overwrite int

const (
	Insert Overwrite = iota
	Update
	Upsert
)

// Writer performs mutating operations against a tree rooted initially at
// root, staging every mutation into ws (shared with the enclosing
// transaction's key-cache and allocator writes) via alloc. The tree's own
// identity is its root address: callers that embed a tree inside a parent
// value (an object/array field, or the top-level document) must re-read
// Root() after any mutation and rewrite their own reference if it changed.
type Writer struct {
	cache *pagecache.Cache
	alloc *blockalloc.Txn
	ws    *page.WriteSet
	root  page.Addr
}

// NewWriter returns a writer for the tree rooted at root, or for a
// not-yet-created tree if root is page.NullAddr (the first Put/Append
// allocates the root leaf).
func NewWriter(cache *pagecache.Cache, alloc *blockalloc.Txn, ws *page.WriteSet, root page.Addr) *Writer {
	return &Writer{cache: cache, alloc: alloc, ws: ws, root: root}
}

// Root returns the tree's current root address.
func (w *Writer) Root() page.Addr { return w.root }

func (w *Writer) allocNode() (page.Addr, error) {
	return w.alloc.Alloc(NodeSize - page.HeaderSize)
}

func (w *Writer) stage(addr page.Addr, buf []byte) { w.ws.Stage(addr, buf) }

func (w *Writer) readLeaf(addr page.Addr) (*leafNode, error) {
	buf, err := w.cache.ReadBytes(addr, NodeSize)
	if err != nil {
		return nil, err
	}
	if raw, ok := w.ws.Get(addr); ok {
		buf = raw
	}
	return decodeLeaf(buf)
}

func (w *Writer) readInternal(addr page.Addr) (*internalNode, error) {
	buf, err := w.cache.ReadBytes(addr, NodeSize)
	if err != nil {
		return nil, err
	}
	if raw, ok := w.ws.Get(addr); ok {
		buf = raw
	}
	return decodeInternal(buf)
}

func (w *Writer) readTag(addr page.Addr) (byte, error) {
	if raw, ok := w.ws.Get(addr); ok {
		return nodeTag(raw), nil
	}
	buf, err := w.cache.ReadBytes(addr, page.HeaderSize)
	if err != nil {
		return 0, err
	}
	return nodeTag(buf), nil
}

// destroyValue frees whatever out-of-line storage e references: a
// sub-tree's blocks for object/array, or a string chain's blocks for
// long-string. Inline values (null/bool/number/short-string) own no extra
// storage.
func (w *Writer) destroyValue(e LeafEntry) error {
	switch value.Tag(e.Tag) {
	case value.TagObject, value.TagArray:
		return w.Destroy(value.DecodeAddr(e.Words[0]))
	case value.TagLongString:
		return value.FreeLongString(w.alloc, value.DecodeAddr(e.Words[0]))
	}
	return nil
}

// Destroy frees every block of the tree rooted at root by a post-order
// walk, recursively destroying any out-of-line value each leaf entry
// references first.
func (w *Writer) Destroy(root page.Addr) error {
	tag, err := w.readTag(root)
	if err != nil {
		return err
	}
	switch tag {
	case leafMagic:
		leaf, err := w.readLeaf(root)
		if err != nil {
			return err
		}
		for _, e := range leaf.entries {
			if err := w.destroyValue(e); err != nil {
				return err
			}
		}
	case internalMagic:
		in, err := w.readInternal(root)
		if err != nil {
			return err
		}
		children := append([]page.Addr{in.first}, addrsOf(in.entries)...)
		for _, c := range children {
			if err := w.Destroy(c); err != nil {
				return err
			}
		}
	}
	return w.alloc.Free(root)
}

func addrsOf(entries []internalEntry) []page.Addr {
	out := make([]page.Addr, len(entries))
	for i, e := range entries {
		out[i] = e.Addr
	}
	return out
}

// splitResult communicates a node split back to the parent: the separator
// key for the new right-hand node and its address.
type splitResult struct {
	sep  page.Key
	addr page.Addr
}

// Put inserts, updates, or upserts (key, tag, words) depending on mode.
// Returns false without error if the operation's precondition fails
// (Insert on an existing key, Update on a missing one).
func (w *Writer) Put(key page.Key, tag byte, words []uint64, mode Overwrite) (bool, error) {
	return w.put(key, tag, words, mode)
}

func (w *Writer) put(key page.Key, tag byte, words []uint64, mode Overwrite) (bool, error) {
	if w.root.IsNull() {
		addr, err := w.allocNode()
		if err != nil {
			return false, err
		}
		w.root = addr
		w.stage(addr, encodeLeaf(&leafNode{}))
	}

	split, ok, err := w.insertIntoNode(w.root, key, tag, words, mode)
	if err != nil || !ok {
		return ok, err
	}
	if split != nil {
		newRootAddr, err := w.allocNode()
		if err != nil {
			return false, err
		}
		in := &internalNode{first: w.root, entries: []internalEntry{{Key: split.sep, Addr: split.addr}}}
		w.stage(newRootAddr, encodeInternal(in))
		w.root = newRootAddr
	}
	return true, nil
}

func (w *Writer) insertIntoNode(addr page.Addr, key page.Key, tag byte, words []uint64, mode Overwrite) (*splitResult, bool, error) {
	nodeTag, err := w.readTag(addr)
	if err != nil {
		return nil, false, err
	}

	if nodeTag == leafMagic {
		return w.insertIntoLeaf(addr, key, tag, words, mode)
	}

	in, err := w.readInternal(addr)
	if err != nil {
		return nil, false, err
	}
	childIdx := routeChildIndex(in, key)
	child := childAt(in, childIdx)

	split, ok, err := w.insertIntoNode(child, key, tag, words, mode)
	if err != nil || !ok || split == nil {
		return nil, ok, err
	}

	// Insert (split.sep, split.addr) right after childIdx.
	entries := make([]internalEntry, 0, len(in.entries)+1)
	entries = append(entries, in.entries[:childIdx]...)
	entries = append(entries, internalEntry{Key: split.sep, Addr: split.addr})
	entries = append(entries, in.entries[childIdx:]...)

	if len(entries) <= MaxInternalEntries {
		in.entries = entries
		w.stage(addr, encodeInternal(in))
		return nil, true, nil
	}

	return w.splitInternal(addr, in.first, entries)
}

func (w *Writer) insertIntoLeaf(addr page.Addr, key page.Key, tag byte, words []uint64, mode Overwrite) (*splitResult, bool, error) {
	leaf, err := w.readLeaf(addr)
	if err != nil {
		return nil, false, err
	}

	idx := sort.Search(len(leaf.entries), func(i int) bool { return leaf.entries[i].Key >= key })
	found := idx < len(leaf.entries) && leaf.entries[idx].Key == key

	if found {
		if mode == Insert {
			return nil, false, nil
		}
		if err := w.destroyValue(leaf.entries[idx]); err != nil {
			return nil, false, err
		}
		leaf.entries[idx] = LeafEntry{Key: key, Tag: tag, Words: words}
	} else {
		if mode == Update {
			return nil, false, nil
		}
		entries := make([]LeafEntry, 0, len(leaf.entries)+1)
		entries = append(entries, leaf.entries[:idx]...)
		entries = append(entries, LeafEntry{Key: key, Tag: tag, Words: words})
		entries = append(entries, leaf.entries[idx:]...)
		leaf.entries = entries
	}

	if leaf.payloadBytes() <= leafPayloadCap {
		w.stage(addr, encodeLeaf(leaf))
		return nil, true, nil
	}

	return w.splitLeaf(addr, leaf)
}

// splitLeaf divides leaf's entries (already including the just-inserted
// one) across the existing block and a freshly allocated right sibling.
func (w *Writer) splitLeaf(addr page.Addr, leaf *leafNode) (*splitResult, bool, error) {
	splitAt := len(leaf.entries) / 2
	for {
		leftBytes := sumBytes(leaf.entries[:splitAt])
		rightBytes := sumBytes(leaf.entries[splitAt:])
		if leftBytes <= leafPayloadCap && rightBytes <= leafPayloadCap {
			break
		}
		if leftBytes > leafPayloadCap {
			splitAt--
		} else {
			splitAt++
		}
	}

	rightAddr, err := w.allocNode()
	if err != nil {
		return nil, false, err
	}

	left := &leafNode{next: rightAddr, entries: leaf.entries[:splitAt]}
	right := &leafNode{next: leaf.next, entries: leaf.entries[splitAt:]}

	w.stage(addr, encodeLeaf(left))
	w.stage(rightAddr, encodeLeaf(right))

	return &splitResult{sep: right.entries[0].Key, addr: rightAddr}, true, nil
}

func sumBytes(entries []LeafEntry) int {
	sum := 0
	for _, e := range entries {
		sum += e.byteSize()
	}
	return sum
}

// splitInternal divides an over-full internal node (first plus entries,
// already including the newly inserted separator) into two nodes, promoting
// the midpoint entry to the parent.
func (w *Writer) splitInternal(addr page.Addr, first page.Addr, entries []internalEntry) (*splitResult, bool, error) {
	mid := len(entries) / 2
	promoted := entries[mid]

	left := &internalNode{first: first, entries: entries[:mid]}
	right := &internalNode{first: promoted.Addr, entries: entries[mid+1:]}

	rightAddr, err := w.allocNode()
	if err != nil {
		return nil, false, err
	}

	w.stage(addr, encodeInternal(left))
	w.stage(rightAddr, encodeInternal(right))

	return &splitResult{sep: promoted.Key, addr: rightAddr}, true, nil
}

// routeChildIndex returns the index (0 = first) of the child key routes to.
func routeChildIndex(n *internalNode, key page.Key) int {
	if len(n.entries) == 0 || key <= n.entries[0].Key {
		return 0
	}
	idx := 0
	for i, e := range n.entries {
		if e.Key <= key {
			idx = i + 1
		} else {
			break
		}
	}
	return idx
}

func childAt(n *internalNode, idx int) page.Addr {
	if idx == 0 {
		return n.first
	}
	return n.entries[idx-1].Addr
}

// Append inserts value at one past the tree's largest key (array index
// semantics) and returns the assigned key. Reads its own not-yet-committed
// writes, so repeated Appends within one transaction see each other.
func (w *Writer) Append(tag byte, words []uint64) (page.Key, error) {
	next := page.ArrayKey(0)
	if !w.root.IsNull() {
		if max, ok, err := w.maxKeyFrom(w.root); err != nil {
			return 0, err
		} else if ok {
			next = page.Key(uint64(max) + 1)
		}
	}
	if _, err := w.put(next, tag, words, Insert); err != nil {
		return 0, err
	}
	return next, nil
}

func (w *Writer) maxKeyFrom(addr page.Addr) (page.Key, bool, error) {
	tag, err := w.readTag(addr)
	if err != nil {
		return 0, false, err
	}
	if tag == leafMagic {
		leaf, err := w.readLeaf(addr)
		if err != nil {
			return 0, false, err
		}
		for leaf.next != page.NullAddr {
			nleaf, err := w.readLeaf(leaf.next)
			if err != nil {
				return 0, false, err
			}
			leaf = nleaf
		}
		if len(leaf.entries) == 0 {
			return 0, false, nil
		}
		return leaf.entries[len(leaf.entries)-1].Key, true, nil
	}
	in, err := w.readInternal(addr)
	if err != nil {
		return 0, false, err
	}
	if len(in.entries) > 0 {
		return w.maxKeyFrom(in.entries[len(in.entries)-1].Addr)
	}
	return w.maxKeyFrom(in.first)
}

package btree

import (
	"fmt"

	"github.com/mcheese/cheesebase/pkg/cberr"
	"github.com/mcheese/cheesebase/pkg/page"
	"github.com/mcheese/cheesebase/pkg/pagecache"
)

// Tree is a read-only handle on a B+tree rooted at root. Reads never take
// the allocator or key-cache locks; they observe the last committed state.
type Tree struct {
	cache *pagecache.Cache
	root  page.Addr
}

// Open returns a read-only handle on the tree rooted at root.
func Open(cache *pagecache.Cache, root page.Addr) *Tree {
	return &Tree{cache: cache, root: root}
}

// Root returns the tree's root address.
func (t *Tree) Root() page.Addr { return t.root }

func readNode(cache *pagecache.Cache, addr page.Addr) ([]byte, byte, error) {
	buf, err := cache.ReadBytes(addr, NodeSize)
	if err != nil {
		return nil, 0, err
	}
	return buf, nodeTag(buf), nil
}

// Get returns the entry for key, or a NotFound error if absent.
func (t *Tree) Get(key page.Key) (LeafEntry, error) {
	addr := t.root
	for {
		buf, tag, err := readNode(t.cache, addr)
		if err != nil {
			return LeafEntry{}, err
		}
		switch tag {
		case leafMagic:
			leaf, err := decodeLeaf(buf)
			if err != nil {
				return LeafEntry{}, err
			}
			for _, e := range leaf.entries {
				if e.Key == key {
					return e, nil
				}
			}
			return LeafEntry{}, cberr.New(cberr.NotFound, "btree.Get", fmt.Errorf("key %v not found", key))
		case internalMagic:
			in, err := decodeInternal(buf)
			if err != nil {
				return LeafEntry{}, err
			}
			addr = routeChild(in, key)
		default:
			return LeafEntry{}, cberr.New(cberr.Corrupt, "btree.Get", fmt.Errorf("node at %s has unknown tag %q", addr, tag))
		}
	}
}

// GetAll returns every entry in ascending key order by following the
// leftmost child chain to the first leaf and then walking next pointers.
func (t *Tree) GetAll() ([]LeafEntry, error) {
	addr := t.root
	for {
		buf, tag, err := readNode(t.cache, addr)
		if err != nil {
			return nil, err
		}
		if tag == leafMagic {
			break
		}
		if tag != internalMagic {
			return nil, cberr.New(cberr.Corrupt, "btree.GetAll", fmt.Errorf("node at %s has unknown tag %q", addr, tag))
		}
		in, err := decodeInternal(buf)
		if err != nil {
			return nil, err
		}
		addr = in.first
	}

	var out []LeafEntry
	for {
		buf, tag, err := readNode(t.cache, addr)
		if err != nil {
			return nil, err
		}
		if tag != leafMagic {
			return nil, cberr.New(cberr.Corrupt, "btree.GetAll", fmt.Errorf("node at %s has unknown tag %q", addr, tag))
		}
		leaf, err := decodeLeaf(buf)
		if err != nil {
			return nil, err
		}
		out = append(out, leaf.entries...)
		if leaf.next.IsNull() {
			break
		}
		addr = leaf.next
	}
	return out, nil
}

// MaxKey returns the largest key present in the tree, or ok=false if the
// tree is empty. Writer.Append does not use it; it computes the next dense
// index with Writer.maxKeyFrom, which also sees staged nodes.
func (t *Tree) MaxKey() (key page.Key, ok bool, err error) {
	addr := t.root
	for {
		buf, tag, e := readNode(t.cache, addr)
		if e != nil {
			return 0, false, e
		}
		if tag == leafMagic {
			leaf, e := decodeLeaf(buf)
			if e != nil {
				return 0, false, e
			}
			for leaf.next != page.NullAddr {
				nbuf, ntag, e := readNode(t.cache, leaf.next)
				if e != nil {
					return 0, false, e
				}
				if ntag != leafMagic {
					return 0, false, cberr.New(cberr.Corrupt, "btree.MaxKey", fmt.Errorf("leaf chain broken at %s", leaf.next))
				}
				nleaf, e := decodeLeaf(nbuf)
				if e != nil {
					return 0, false, e
				}
				leaf = nleaf
			}
			if len(leaf.entries) == 0 {
				return 0, false, nil
			}
			return leaf.entries[len(leaf.entries)-1].Key, true, nil
		}
		if tag != internalMagic {
			return 0, false, cberr.New(cberr.Corrupt, "btree.MaxKey", fmt.Errorf("node at %s has unknown tag %q", addr, tag))
		}
		in, e := decodeInternal(buf)
		if e != nil {
			return 0, false, e
		}
		if len(in.entries) > 0 {
			addr = in.entries[len(in.entries)-1].Addr
		} else {
			addr = in.first
		}
	}
}

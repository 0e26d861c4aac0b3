package btree

import (
	"fmt"

	"github.com/mcheese/cheesebase/pkg/cberr"
	"github.com/mcheese/cheesebase/pkg/page"
)

// Get looks up key in the writer's current (possibly uncommitted) tree
// content, so a caller building up several operations in one transaction
// sees its own prior staged writes.
func (w *Writer) Get(key page.Key) (LeafEntry, bool, error) {
	if w.root.IsNull() {
		return LeafEntry{}, false, nil
	}
	addr := w.root
	for {
		tag, err := w.readTag(addr)
		if err != nil {
			return LeafEntry{}, false, err
		}
		if tag == leafMagic {
			leaf, err := w.readLeaf(addr)
			if err != nil {
				return LeafEntry{}, false, err
			}
			for _, e := range leaf.entries {
				if e.Key == key {
					return e, true, nil
				}
			}
			return LeafEntry{}, false, nil
		}
		if tag != internalMagic {
			return LeafEntry{}, false, cberr.New(cberr.Corrupt, "btree.Get", fmt.Errorf("node at %s has unknown tag %q", addr, tag))
		}
		in, err := w.readInternal(addr)
		if err != nil {
			return LeafEntry{}, false, err
		}
		addr = routeChild(in, key)
	}
}

// UpdateRef rewrites an existing entry's tag/words in place without
// destroying whatever the old value referenced. It exists solely to
// propagate a child tree's new root address up into the parent entry that
// references it after a split, merge, or collapse changed that address —
// not to replace the value itself (use Put for that).
func (w *Writer) UpdateRef(key page.Key, tag byte, words []uint64) error {
	return w.updateRefInNode(w.root, key, tag, words)
}

func (w *Writer) updateRefInNode(addr page.Addr, key page.Key, tag byte, words []uint64) error {
	nTag, err := w.readTag(addr)
	if err != nil {
		return err
	}
	if nTag == leafMagic {
		leaf, err := w.readLeaf(addr)
		if err != nil {
			return err
		}
		for i := range leaf.entries {
			if leaf.entries[i].Key == key {
				leaf.entries[i] = LeafEntry{Key: key, Tag: tag, Words: words}
				w.stage(addr, encodeLeaf(leaf))
				return nil
			}
		}
		return cberr.New(cberr.Corrupt, "btree.UpdateRef", fmt.Errorf("key %v not found for ref update", key))
	}
	in, err := w.readInternal(addr)
	if err != nil {
		return err
	}
	child := childAt(in, routeChildIndex(in, key))
	return w.updateRefInNode(child, key, tag, words)
}

package btree

import "github.com/mcheese/cheesebase/pkg/page"

// Remove deletes key's entry, destroying any out-of-line value it holds,
// and rebalances the tree on underflow (§4.5.2). Returns false if key was
// absent.
func (w *Writer) Remove(key page.Key) (bool, error) {
	if w.root.IsNull() {
		return false, nil
	}
	removed, _, err := w.removeFromNode(w.root, key, true)
	return removed, err
}

// removeFromNode removes key from the subtree rooted at addr. underflow
// reports whether addr's node (as rewritten) now falls below minimum fill
// and its parent must rebalance it; isRoot suppresses that check (a
// root-leaf may be arbitrarily small, and a root-internal only ever
// collapses at exactly zero entries, handled separately).
func (w *Writer) removeFromNode(addr page.Addr, key page.Key, isRoot bool) (removed bool, underflow bool, err error) {
	tag, err := w.readTag(addr)
	if err != nil {
		return false, false, err
	}

	if tag == leafMagic {
		leaf, err := w.readLeaf(addr)
		if err != nil {
			return false, false, err
		}
		idx := -1
		for i, e := range leaf.entries {
			if e.Key == key {
				idx = i
				break
			}
		}
		if idx < 0 {
			return false, false, nil
		}
		if err := w.destroyValue(leaf.entries[idx]); err != nil {
			return false, false, err
		}
		leaf.entries = append(leaf.entries[:idx], leaf.entries[idx+1:]...)
		w.stage(addr, encodeLeaf(leaf))
		underflow = !isRoot && leaf.payloadBytes() < LeafMinFillBytes
		return true, underflow, nil
	}

	in, err := w.readInternal(addr)
	if err != nil {
		return false, false, err
	}
	idx := routeChildIndex(in, key)
	child := childAt(in, idx)

	removed, childUnderflow, err := w.removeFromNode(child, key, false)
	if err != nil || !removed {
		return removed, false, err
	}
	if !childUnderflow {
		return true, false, nil
	}

	if err := w.balanceChild(in, idx); err != nil {
		return true, false, err
	}

	if isRoot {
		if len(in.entries) == 0 {
			// Sole remaining child becomes the new root; the old root block
			// is no longer referenced by anything.
			if err := w.alloc.Free(addr); err != nil {
				return true, false, err
			}
			w.root = in.first
			return true, false, nil
		}
		w.stage(addr, encodeInternal(in))
		return true, false, nil
	}

	w.stage(addr, encodeInternal(in))
	return true, len(in.entries) < MinInternalEntries, nil
}

// balanceChild merges or redistributes the child at position idx of parent
// with a sibling (preferring the left sibling), mutating parent in place.
func (w *Writer) balanceChild(parent *internalNode, idx int) error {
	var sibIdx int
	preferLeft := idx > 0
	if preferLeft {
		sibIdx = idx - 1
	} else {
		sibIdx = idx + 1
	}

	childAddr := childAt(parent, idx)
	sibAddr := childAt(parent, sibIdx)

	childTag, err := w.readTag(childAddr)
	if err != nil {
		return err
	}

	if childTag == leafMagic {
		return w.balanceLeaf(parent, idx, sibIdx, preferLeft, childAddr, sibAddr)
	}
	return w.balanceInternal(parent, idx, sibIdx, preferLeft, childAddr, sibAddr)
}

func (w *Writer) balanceLeaf(parent *internalNode, idx, sibIdx int, preferLeft bool, childAddr, sibAddr page.Addr) error {
	child, err := w.readLeaf(childAddr)
	if err != nil {
		return err
	}
	sib, err := w.readLeaf(sibAddr)
	if err != nil {
		return err
	}

	if sumBytes(child.entries)+sumBytes(sib.entries) <= leafPayloadCap {
		var leftAddr, rightAddr page.Addr
		var left, right *leafNode
		if preferLeft {
			leftAddr, left, rightAddr, right = sibAddr, sib, childAddr, child
		} else {
			leftAddr, left, rightAddr, right = childAddr, child, sibAddr, sib
		}
		left.entries = append(left.entries, right.entries...)
		left.next = right.next
		w.stage(leftAddr, encodeLeaf(left))
		if err := w.alloc.Free(rightAddr); err != nil {
			return err
		}
		removeParentEntry(parent, maxInt(idx, sibIdx))
		return nil
	}

	if preferLeft {
		for sumBytes(child.entries) < LeafMinFillBytes {
			n := len(sib.entries)
			moved := sib.entries[n-1]
			sib.entries = sib.entries[:n-1]
			child.entries = append([]LeafEntry{moved}, child.entries...)
		}
		parent.entries[idx-1].Key = child.entries[0].Key
	} else {
		for sumBytes(child.entries) < LeafMinFillBytes {
			moved := sib.entries[0]
			sib.entries = sib.entries[1:]
			child.entries = append(child.entries, moved)
		}
		parent.entries[idx].Key = sib.entries[0].Key
	}
	w.stage(childAddr, encodeLeaf(child))
	w.stage(sibAddr, encodeLeaf(sib))
	return nil
}

func (w *Writer) balanceInternal(parent *internalNode, idx, sibIdx int, preferLeft bool, childAddr, sibAddr page.Addr) error {
	child, err := w.readInternal(childAddr)
	if err != nil {
		return err
	}
	sib, err := w.readInternal(sibAddr)
	if err != nil {
		return err
	}

	sepPos := maxInt(idx, sibIdx) - 1
	sepKey := parent.entries[sepPos].Key

	combined := len(child.entries) + 1 + len(sib.entries)
	if combined <= MaxInternalEntries {
		var leftAddr, rightAddr page.Addr
		var left, right *internalNode
		if preferLeft {
			leftAddr, left, rightAddr, right = sibAddr, sib, childAddr, child
		} else {
			leftAddr, left, rightAddr, right = childAddr, child, sibAddr, sib
		}
		merged := make([]internalEntry, 0, combined)
		merged = append(merged, left.entries...)
		merged = append(merged, internalEntry{Key: sepKey, Addr: right.first})
		merged = append(merged, right.entries...)
		left.entries = merged
		w.stage(leftAddr, encodeInternal(left))
		if err := w.alloc.Free(rightAddr); err != nil {
			return err
		}
		removeParentEntry(parent, maxInt(idx, sibIdx))
		return nil
	}

	if preferLeft {
		for len(child.entries) < MinInternalEntries {
			sep := parent.entries[idx-1].Key
			last := sib.entries[len(sib.entries)-1]
			sib.entries = sib.entries[:len(sib.entries)-1]
			child.entries = append([]internalEntry{{Key: sep, Addr: child.first}}, child.entries...)
			child.first = last.Addr
			parent.entries[idx-1].Key = last.Key
		}
	} else {
		for len(child.entries) < MinInternalEntries {
			sep := parent.entries[idx].Key
			first := sib.entries[0]
			sib.entries = sib.entries[1:]
			child.entries = append(child.entries, internalEntry{Key: sep, Addr: sib.first})
			sib.first = first.Addr
			parent.entries[idx].Key = first.Key
		}
	}
	w.stage(childAddr, encodeInternal(child))
	w.stage(sibAddr, encodeInternal(sib))
	return nil
}

func removeParentEntry(parent *internalNode, rightPos int) {
	i := rightPos - 1
	parent.entries = append(parent.entries[:i], parent.entries[i+1:]...)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

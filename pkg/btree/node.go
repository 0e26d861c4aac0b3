// Package btree implements the §4.5 B+tree: fixed 256-byte nodes mapping
// 48-bit interned keys to values, used identically for JSON objects
// (string keys) and arrays (dense integer keys).
//
// Grounded on other_examples' page-oriented B+tree pagers (the
// SimonWaldherr-tinySQL btree_page.go fixed-node-size layout and the
// dacapoday smol/bptree split/merge shape), adapted from their variable
// page sizes to cheesebase's single 256-byte node and to
// page.WriteSet-staged commits instead of direct page writes.
package btree

import (
	"fmt"

	"github.com/mcheese/cheesebase/pkg/cberr"
	"github.com/mcheese/cheesebase/pkg/page"
	"github.com/mcheese/cheesebase/pkg/value"
)

// NodeSize is the fixed size in bytes of every B+tree node: the smallest
// block tier.
const NodeSize = page.MinBtreeNodeSize

const (
	leafMagic     byte = 'L'
	internalMagic byte = 'I'
	entryMagic    byte = '!'
)

const leafHeaderSize = 8
const internalHeaderSize = 16 // word0 (magic+count) + first child address

const internalEntrySize = 16 // 8-byte key + 8-byte address

// MaxInternalEntries is the most (separator, child) pairs an internal node
// can hold.
const MaxInternalEntries = (NodeSize - internalHeaderSize) / internalEntrySize

// MinInternalEntries is the fewest entries a non-root internal node may
// fall to before it must balance.
const MinInternalEntries = MaxInternalEntries/2 - 1

const leafPayloadCap = NodeSize - leafHeaderSize
const maxLeafEntryBytes = 8 + 3*8 // tag with 3 extra words is the widest entry

// LeafMinFillBytes is the fewest payload bytes a non-root leaf may fall to
// before it must balance: half capacity, minus one worst-case entry width
// so a split or redistribution can never leave a leaf under-full.
const LeafMinFillBytes = leafPayloadCap/2 - maxLeafEntryBytes

// LeafEntry is one key/value record of a leaf node.
type LeafEntry struct {
	Key   page.Key
	Tag   byte
	Words []uint64
}

func (e LeafEntry) byteSize() int { return 8 + 8*len(e.Words) }

// leafNode is the decoded form of a 256-byte leaf block.
type leafNode struct {
	next    page.Addr
	entries []LeafEntry // sorted strictly ascending by Key
}

func (n *leafNode) payloadBytes() int {
	sum := 0
	for _, e := range n.entries {
		sum += e.byteSize()
	}
	return sum
}

func decodeLeaf(buf []byte) (*leafNode, error) {
	tag, next := page.DecodeHeader(buf[:leafHeaderSize])
	if tag != leafMagic {
		return nil, cberr.New(cberr.Corrupt, "btree.decodeLeaf", fmt.Errorf("expected leaf magic, got %q", tag))
	}
	n := &leafNode{next: next}
	off := leafHeaderSize
	for off+8 <= NodeSize {
		if buf[off] == 0 {
			break
		}
		if buf[off] != entryMagic {
			return nil, cberr.New(cberr.Corrupt, "btree.decodeLeaf", fmt.Errorf("bad entry magic %q at offset %d", buf[off], off))
		}
		etag := buf[off+1]
		key := page.DecodeKey(buf[off+2 : off+8])
		wc := value.WordCount(etag)
		var words []uint64
		if wc > 0 {
			words = make([]uint64, wc)
		}
		for i := 0; i < wc; i++ {
			words[i] = page.GetUint64(buf[off+8+i*8:])
		}
		n.entries = append(n.entries, LeafEntry{Key: key, Tag: etag, Words: words})
		off += 8 + 8*wc
	}
	return n, nil
}

func encodeLeaf(n *leafNode) []byte {
	buf := make([]byte, NodeSize)
	page.EncodeHeader(buf, leafMagic, n.next)
	off := leafHeaderSize
	for _, e := range n.entries {
		buf[off] = entryMagic
		buf[off+1] = e.Tag
		page.EncodeKey(buf[off+2:off+8], e.Key)
		for i, w := range e.Words {
			page.PutUint64(buf[off+8+i*8:], w)
		}
		off += e.byteSize()
	}
	return buf
}

// internalEntry is one (separator key, child address) pair.
type internalEntry struct {
	Key  page.Key
	Addr page.Addr
}

// internalNode is the decoded form of a 256-byte internal block.
type internalNode struct {
	first   page.Addr
	entries []internalEntry // sorted strictly ascending by Key
}

func decodeInternal(buf []byte) (*internalNode, error) {
	tag, countAddr := page.DecodeHeader(buf[:8])
	if tag != internalMagic {
		return nil, cberr.New(cberr.Corrupt, "btree.decodeInternal", fmt.Errorf("expected internal magic, got %q", tag))
	}
	count := int(countAddr)
	n := &internalNode{first: page.Addr(page.GetUint64(buf[8:16]))}
	off := internalHeaderSize
	for i := 0; i < count; i++ {
		key := page.Key(page.GetUint64(buf[off:]))
		addr := page.Addr(page.GetUint64(buf[off+8:]))
		n.entries = append(n.entries, internalEntry{Key: key, Addr: addr})
		off += internalEntrySize
	}
	return n, nil
}

func encodeInternal(n *internalNode) []byte {
	buf := make([]byte, NodeSize)
	page.EncodeHeader(buf, internalMagic, page.Addr(len(n.entries)))
	page.PutUint64(buf[8:16], uint64(n.first))
	off := internalHeaderSize
	for _, e := range n.entries {
		page.PutUint64(buf[off:], uint64(e.Key))
		page.PutUint64(buf[off+8:], uint64(e.Addr))
		off += internalEntrySize
	}
	return buf
}

// routeChild follows the §4.5 routing rule literally: a key routes to
// first only when it is ≤ every separator key; otherwise to the address of
// the greatest entry whose separator key is ≤ it.
func routeChild(n *internalNode, key page.Key) page.Addr {
	if len(n.entries) == 0 || key <= n.entries[0].Key {
		return n.first
	}
	addr := n.first
	for _, e := range n.entries {
		if e.Key <= key {
			addr = e.Addr
		} else {
			break
		}
	}
	return addr
}

func nodeTag(buf []byte) byte {
	tag, _ := page.DecodeHeader(buf[:8])
	return tag
}

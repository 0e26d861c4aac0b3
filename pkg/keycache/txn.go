package keycache

import (
	"fmt"

	"github.com/mcheese/cheesebase/pkg/blockalloc"
	"github.com/mcheese/cheesebase/pkg/cberr"
	"github.com/mcheese/cheesebase/pkg/page"
)

type stagedString struct {
	hash uint32
	str  string
}

// KeyTxn stages new string insertions against a KeyCache, sharing an
// allocator transaction for any block extensions its commit needs.
type KeyTxn struct {
	kc    *KeyCache
	alloc *blockalloc.Txn

	order       []stagedString
	localByHash map[uint32]map[string]uint16 // hash -> string -> assigned index
	upgraded    bool
	ended       bool
}

// GetKey returns the key s will have (interning it within this transaction
// if necessary). Inserting the same string twice within one transaction
// returns the same key.
func (t *KeyTxn) GetKey(s string) (page.Key, error) {
	if len(s) > maxKeyLen {
		return 0, cberr.New(cberr.KeyCacheError, "keycache.GetKey", fmt.Errorf("key %q exceeds %d bytes", s, maxKeyLen))
	}

	h := hashString(s)
	if m, ok := t.localByHash[h]; ok {
		if idx, ok := m[s]; ok {
			return page.NewKey(h, idx), nil
		}
	}

	if k, ok := t.kc.lookupLocked(s); ok {
		return k, nil
	}

	if !t.upgraded {
		t.kc.mu.RUnlock()
		t.kc.mu.Lock()
		t.upgraded = true
		// Another transaction may have inserted s while we waited for the
		// exclusive lock.
		if k, ok := t.kc.lookupLocked(s); ok {
			return k, nil
		}
	}

	existing := len(t.kc.buckets[h])
	staged := len(t.localByHash[h])
	idx := existing + staged
	if idx > 0xFFFF {
		return 0, cberr.New(cberr.KeyCacheError, "keycache.GetKey", fmt.Errorf("hash %08x has too many collisions", h))
	}

	if t.localByHash[h] == nil {
		t.localByHash[h] = make(map[string]uint16)
	}
	t.localByHash[h][s] = uint16(idx)
	t.order = append(t.order, stagedString{hash: h, str: s})

	return page.NewKey(h, uint16(idx)), nil
}

// Commit emits the accumulated block writes (allocating extension blocks
// through the shared allocator transaction as needed) and promotes the
// staged strings into the shared in-memory index, so other transactions
// see them only after this call returns.
func (t *KeyTxn) Commit() (*page.WriteSet, error) {
	defer t.end()

	ws := page.NewWriteSet()
	if len(t.order) == 0 {
		return ws, nil
	}

	block := t.kc.curBlock
	tier := t.kc.curBlockTier
	off := t.kc.offset

	for _, e := range t.order {
		length := uint16(len(e.str))
		blockSize := uint64(tier.Size())

		if off+2+uint64(length) > blockSize {
			if off+2 <= blockSize {
				ws.Stage(block+page.Addr(off), []byte{0, 0})
			}
			payload := chainTier.Size() - page.HeaderSize
			newBlock, err := t.alloc.AllocExtension(block, payload)
			if err != nil {
				return nil, err
			}
			block = newBlock
			tier = chainTier
			off = page.HeaderSize
			blockSize = uint64(tier.Size())
		}

		lenBuf := []byte{byte(length), byte(length >> 8)}
		ws.Stage(block+page.Addr(off), lenBuf)
		off += 2
		ws.Stage(block+page.Addr(off), []byte(e.str))
		off += uint64(length)
	}

	if off+2 <= uint64(tier.Size()) {
		ws.Stage(block+page.Addr(off), []byte{0, 0})
	}

	for _, e := range t.order {
		t.kc.buckets[e.hash] = append(t.kc.buckets[e.hash], e.str)
	}
	t.kc.curBlock = block
	t.kc.curBlockTier = tier
	t.kc.offset = off

	return ws, nil
}

// Discard drops all staged insertions without touching the shared index.
func (t *KeyTxn) Discard() {
	t.end()
}

func (t *KeyTxn) end() {
	if t.ended {
		return
	}
	t.ended = true
	if t.upgraded {
		t.kc.mu.Unlock()
	} else {
		t.kc.mu.RUnlock()
	}
}

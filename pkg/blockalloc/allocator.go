package blockalloc

import (
	"fmt"
	"sync"

	"github.com/mcheese/cheesebase/pkg/cberr"
	"github.com/mcheese/cheesebase/pkg/page"
	"github.com/mcheese/cheesebase/pkg/pagecache"
)

// Allocator owns the single mutex serializing allocator transactions
// (spec.md §5 lock #1, the outermost lock in the global ordering).
type Allocator struct {
	cache *pagecache.Cache
	mu    sync.Mutex
}

// New wraps cache with a block allocator.
func New(cache *pagecache.Cache) *Allocator {
	return &Allocator{cache: cache}
}

// headerInfo is what we remember about a block header we have looked at or
// staged during the transaction, so subsequent reads of a still-dirty block
// return the staged value rather than stale on-disk bytes.
type headerInfo struct {
	tag  byte
	next page.Addr
}

// Txn is a single-writer allocator transaction. Begin() blocks until any
// prior transaction commits or is discarded.
type Txn struct {
	a      *Allocator
	header Header
	ws     *page.WriteSet
	seen   map[page.Addr]headerInfo
	done   bool
}

// Begin acquires the allocator's mutex and starts a new transaction.
func (a *Allocator) Begin() (*Txn, error) {
	a.mu.Lock()
	h, err := loadHeader(a.cache)
	if err != nil {
		a.mu.Unlock()
		return nil, err
	}
	return &Txn{a: a, header: *h, ws: page.NewWriteSet(), seen: make(map[page.Addr]headerInfo)}, nil
}

func (t *Txn) release() {
	if !t.done {
		t.done = true
		t.a.mu.Unlock()
	}
}

// Commit emits the accumulated header and block writes and releases the
// transaction's lock. The caller is responsible for applying the returned
// write set (spec.md §4.7 folds it into the larger commit batch).
func (t *Txn) Commit() (*page.WriteSet, error) {
	defer t.release()
	t.ws.Stage(headerAddr, encodeHeader(&t.header))
	return t.ws, nil
}

// Discard abandons all staged mutations.
func (t *Txn) Discard() {
	t.release()
}

func (t *Txn) readBlockHeader(addr page.Addr) (byte, page.Addr, error) {
	if data, ok := t.ws.Get(addr); ok {
		tag, next := page.DecodeHeader(data[:page.HeaderSize])
		return tag, next, nil
	}
	if hi, ok := t.seen[addr]; ok {
		return hi.tag, hi.next, nil
	}
	raw, err := t.a.cache.ReadBytes(addr, page.HeaderSize)
	if err != nil {
		return 0, 0, err
	}
	tag, next := page.DecodeHeader(raw)
	t.seen[addr] = headerInfo{tag: tag, next: next}
	return tag, next, nil
}

func (t *Txn) writeBlockHeader(addr page.Addr, tag byte, next page.Addr) {
	buf := make([]byte, page.HeaderSize)
	page.EncodeHeader(buf, tag, next)
	t.ws.Stage(addr, buf)
	t.seen[addr] = headerInfo{tag: tag, next: next}
}

// Alloc reserves a block able to hold payload bytes of size, returning its
// address. Fails with AllocTooLarge if size exceeds the largest tier's
// usable payload.
func (t *Txn) Alloc(size uint32) (page.Addr, error) {
	tier, ok := page.TierForPayload(size)
	if !ok {
		return 0, cberr.New(cberr.AllocTooLarge, "blockalloc.Alloc", fmt.Errorf("size %d exceeds largest block", size))
	}
	return t.allocTier(tier)
}

func (t *Txn) allocTier(tier page.Tier) (page.Addr, error) {
	head := t.header.FreeHeads[tier]
	if !head.IsNull() {
		_, next, err := t.readBlockHeader(head)
		if err != nil {
			return 0, err
		}
		t.header.FreeHeads[tier] = next
		t.writeBlockHeader(head, tier.Tag(), page.NullAddr)
		return head, nil
	}

	if tier == page.TierPage {
		addr := t.header.EndOfFile
		t.header.EndOfFile += page.Addr(page.Size)
		t.writeBlockHeader(addr, tier.Tag(), page.NullAddr)
		return addr, nil
	}

	parentAddr, err := t.allocTier(tier - 1)
	if err != nil {
		return 0, err
	}
	lowAddr := parentAddr
	highAddr := parentAddr + page.Addr(tier.Size())
	t.writeBlockHeader(lowAddr, tier.Tag(), page.NullAddr)
	t.writeBlockHeader(highAddr, tier.Tag(), page.NullAddr)
	t.header.FreeHeads[tier] = highAddr
	return lowAddr, nil
}

// Free returns addr's block to its tier's free list. If the block's header
// still carries a non-null next address (it was the head of a multi-block
// chain — a long string or a key-cache extension), the rest of the chain is
// freed recursively too.
func (t *Txn) Free(addr page.Addr) error {
	tag, next, err := t.readBlockHeader(addr)
	if err != nil {
		return err
	}
	tier, ok := page.TierForTag(tag)
	if !ok {
		return cberr.New(cberr.Corrupt, "blockalloc.Free", fmt.Errorf("block at %s has invalid tier tag %q", addr, tag))
	}
	if !page.AlignedForTier(addr, tier) {
		return cberr.New(cberr.Corrupt, "blockalloc.Free", fmt.Errorf("block at %s misaligned for tier %d", addr, tier))
	}

	oldHead := t.header.FreeHeads[tier]
	t.writeBlockHeader(addr, tier.Tag(), oldHead)
	t.header.FreeHeads[tier] = addr

	if !next.IsNull() {
		return t.Free(next)
	}
	return nil
}

// AllocExtension appends a new block of the given size to the chain
// currently terminated at tailAddr, rewriting the tail's next pointer. It
// fails with Corrupt if tailAddr is not currently a chain terminator.
func (t *Txn) AllocExtension(tailAddr page.Addr, size uint32) (page.Addr, error) {
	tag, next, err := t.readBlockHeader(tailAddr)
	if err != nil {
		return 0, err
	}
	if !next.IsNull() {
		return 0, cberr.New(cberr.Corrupt, "blockalloc.AllocExtension", fmt.Errorf("block at %s is not a chain terminator", tailAddr))
	}
	newAddr, err := t.Alloc(size)
	if err != nil {
		return 0, err
	}
	t.writeBlockHeader(tailAddr, tag, newAddr)
	return newAddr, nil
}

// EndOfFile returns the transaction's current (possibly staged) view of the
// database's end-of-file address.
func (t *Txn) EndOfFile() page.Addr { return t.header.EndOfFile }

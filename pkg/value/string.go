package value

import (
	"fmt"

	"github.com/mcheese/cheesebase/pkg/blockalloc"
	"github.com/mcheese/cheesebase/pkg/cberr"
	"github.com/mcheese/cheesebase/pkg/page"
	"github.com/mcheese/cheesebase/pkg/pagecache"
)

// stringMagicHi, stringMagicLo identify the first block of a long-string
// chain: 'S','T' in the high 16 bits of the 8-byte string header that
// follows the block header, per spec.md §4.6.
const stringMagicHi, stringMagicLo = 'S', 'T'

func readBlockHeader(cache *pagecache.Cache, addr page.Addr) (byte, page.Addr, error) {
	raw, err := cache.ReadBytes(addr, page.HeaderSize)
	if err != nil {
		return 0, 0, err
	}
	tag, next := page.DecodeHeader(raw)
	return tag, next, nil
}

// ReadLongString reads the string chain starting at head, written by
// WriteLongString.
func ReadLongString(cache *pagecache.Cache, head page.Addr) (string, error) {
	tag, _, err := readBlockHeader(cache, head)
	if err != nil {
		return "", err
	}
	tier, ok := page.TierForTag(tag)
	if !ok {
		return "", cberr.New(cberr.Corrupt, "value.ReadLongString", fmt.Errorf("block at %s has invalid tier tag", head))
	}

	shdr, err := cache.ReadBytes(head+page.Addr(page.HeaderSize), 8)
	if err != nil {
		return "", err
	}
	if shdr[6] != stringMagicHi || shdr[7] != stringMagicLo {
		return "", cberr.New(cberr.Corrupt, "value.ReadLongString", fmt.Errorf("block at %s is not a string header", head))
	}
	length := int(page.GetUint64(shdr) & 0x0000FFFFFFFFFFFF)

	out := make([]byte, 0, length)
	addr := head
	headerExtra := 8 // first block also carries the 8-byte string header
	for {
		payloadStart := page.HeaderSize + headerExtra
		blockSize := int(tier.Size())

		remaining := length - len(out)
		avail := blockSize - payloadStart
		take := avail
		if remaining < take {
			take = remaining
		}
		if take < 0 {
			take = 0
		}

		raw, err := cache.ReadBytes(addr, payloadStart+take)
		if err != nil {
			return "", err
		}
		out = append(out, raw[payloadStart:]...)

		if len(out) >= length {
			break
		}

		_, next, err := readBlockHeader(cache, addr)
		if err != nil {
			return "", err
		}
		if next.IsNull() {
			return "", cberr.New(cberr.Corrupt, "value.ReadLongString", fmt.Errorf("string chain at %s truncated", head))
		}

		nextTag, _, err := readBlockHeader(cache, next)
		if err != nil {
			return "", err
		}
		nextTier, ok := page.TierForTag(nextTag)
		if !ok {
			return "", cberr.New(cberr.Corrupt, "value.ReadLongString", fmt.Errorf("block at %s has invalid tier tag", next))
		}

		addr = next
		tier = nextTier
		headerExtra = 0
	}
	return string(out), nil
}

// WriteLongString allocates and stages a fresh chain holding s, returning
// the address of its first block and the writes that create it. The caller
// folds the returned write set into the surrounding transaction.
func WriteLongString(alloc *blockalloc.Txn, s string) (page.Addr, *page.WriteSet, error) {
	ws := page.NewWriteSet()
	data := []byte(s)

	firstPayloadNeed := len(data) + 8
	tier, ok := page.TierForPayload(uint32(firstPayloadNeed))
	if !ok {
		tier = page.TierPage
	}

	headAlloc := firstPayloadNeed
	if cap := int(tier.Size()) - page.HeaderSize; headAlloc > cap {
		headAlloc = cap
	}
	headAddr, err := alloc.Alloc(uint32(headAlloc))
	if err != nil {
		return 0, nil, err
	}

	cap0 := int(tier.Size()) - page.HeaderSize - 8
	n0 := len(data)
	if n0 > cap0 {
		n0 = cap0
	}

	// Block headers (tag + next) are owned by the allocator transaction,
	// which has already staged them as part of Alloc/AllocExtension; we only
	// stage the payload that follows each block's header, so the two write
	// sets never disagree about the same bytes.
	shdr := make([]byte, 8)
	page.PutUint64(shdr, uint64(len(data))&0x0000FFFFFFFFFFFF)
	shdr[6] = stringMagicHi
	shdr[7] = stringMagicLo
	payload0 := append(shdr, data[:n0]...)
	ws.Stage(headAddr+page.Addr(page.HeaderSize), payload0)

	pos := n0
	tailAddr := headAddr
	for pos < len(data) {
		rem := len(data) - pos
		t, ok := page.TierForPayload(uint32(rem))
		if !ok {
			t = page.TierPage
		}
		extAddr, err := alloc.AllocExtension(tailAddr, uint32(t.Size())-page.HeaderSize)
		if err != nil {
			return 0, nil, err
		}
		cap := int(t.Size()) - page.HeaderSize
		n := rem
		if n > cap {
			n = cap
		}
		ws.Stage(extAddr+page.Addr(page.HeaderSize), data[pos:pos+n])

		pos += n
		tailAddr = extAddr
	}

	return headAddr, ws, nil
}

// FreeLongString frees every block in the chain starting at head.
func FreeLongString(alloc *blockalloc.Txn, head page.Addr) error {
	return alloc.Free(head)
}

// Package blockalloc implements the §4.3 Block Allocator: five power-of-two
// free lists threaded through block headers, with a single-writer
// transaction that buffers allocator/header mutations and emits them as a
// page.WriteSet on commit.
//
// Grounded on pkg/storage/engine.go's in-memory freeList slice (the same
// "pop from a free list, else grow" shape) and pkg/storage/wal.go's
// "buffer mutations, emit in commit" structure, adapted from an
// externally-replayed WAL log to an in-process staged-write map since
// spec.md has no journal layer (§5 notes one as a documented future
// addition, not part of this engine).
package blockalloc

import (
	"bytes"
	"fmt"

	"github.com/mcheese/cheesebase/pkg/cberr"
	"github.com/mcheese/cheesebase/pkg/page"
	"github.com/mcheese/cheesebase/pkg/pagecache"
)

// Magic identifies a cheesebase database file. The trailing "01" doubles as
// the human-readable format version embedded directly in the magic bytes,
// per spec.md §6 ("Magic = ASCII \"CHSBSE01\" (version in high 16 bits)");
// see DESIGN.md for why we store it as a flat 8-byte literal rather than
// splitting out a separate version field that would overlap the same bytes.
var Magic = [8]byte{'C', 'H', 'S', 'B', 'S', 'E', '0', '1'}

const (
	headerAddr       page.Addr = 0
	magicOffset                = 0
	eofOffset                  = 8
	freeHeadsOffset            = 16
	// HeaderSize is the total size in bytes of the on-disk database header:
	// 8-byte magic + 8-byte EOF address + 5*8-byte free-list heads.
	HeaderSize = freeHeadsOffset + page.NumTiers*8
)

// Header is the decoded database header living at the start of page 0.
type Header struct {
	EndOfFile page.Addr
	FreeHeads [page.NumTiers]page.Addr
}

func encodeHeader(h *Header) []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[magicOffset:], Magic[:])
	page.PutUint64(buf[eofOffset:], uint64(h.EndOfFile))
	for i, a := range h.FreeHeads {
		page.PutUint64(buf[freeHeadsOffset+i*8:], uint64(a))
	}
	return buf
}

func decodeHeader(buf []byte) (*Header, error) {
	if !bytes.Equal(buf[magicOffset:magicOffset+8], Magic[:]) {
		return nil, cberr.New(cberr.Corrupt, "blockalloc.decodeHeader", fmt.Errorf("bad magic"))
	}
	h := &Header{}
	h.EndOfFile = page.Addr(page.GetUint64(buf[eofOffset:]))
	for i := range h.FreeHeads {
		h.FreeHeads[i] = page.Addr(page.GetUint64(buf[freeHeadsOffset+i*8:]))
	}
	return h, nil
}

// InitHeader writes a freshly-created database's header to page 0: magic,
// end_of_file = page.Size (page 0 itself is already "used"), and empty free
// lists. Callers extend with the key-cache seed block afterward (see
// pkg/keycache.InitSeedBlock) before the page is ever read back.
func InitHeader(cache *pagecache.Cache) error {
	h := &Header{EndOfFile: page.Addr(page.Size)}
	ws := page.NewWriteSet()
	ws.Stage(headerAddr, encodeHeader(h))
	return cache.ApplyWrites(ws)
}

func loadHeader(cache *pagecache.Cache) (*Header, error) {
	ref, err := cache.ReadPage(headerAddr.Page())
	if err != nil {
		return nil, err
	}
	defer ref.Release()
	buf := make([]byte, HeaderSize)
	copy(buf, ref.Bytes()[:HeaderSize])
	return decodeHeader(buf)
}

// Package keycache implements the §4.4 Key Cache: interning UTF-8 key
// strings to 48-bit page.Key values, persisted as a linked chain of
// half-page blocks.
//
// Grounded on pkg/storage/wal.go's sequential "append record, track
// offset/sequence" shape, repurposed here for (u16 length, bytes) string
// records instead of WAL entries, and on pkg/storage/cache.go's
// sync.RWMutex-guarded map for the in-memory index.
package keycache

import (
	"fmt"
	"sync"

	"github.com/mcheese/cheesebase/pkg/blockalloc"
	"github.com/mcheese/cheesebase/pkg/cberr"
	"github.com/mcheese/cheesebase/pkg/page"
	"github.com/mcheese/cheesebase/pkg/pagecache"
)

// SeedBlockAddr is the fixed location of the first key-cache block: offset
// 2048 of page 0, the upper half of the page that starts with the database
// header (spec.md §6).
const SeedBlockAddr page.Addr = 2048

// chainTier is the block size used for every key-cache block: a half page.
const chainTier = page.Tier1

// maxKeyLen is the longest string the cache will intern (spec.md §7,
// KeyCacheError "key string > 256 bytes").
const maxKeyLen = 256

// InitSeedBlock writes the first (empty) key-cache block for a freshly
// created database: a chain terminator with no strings yet.
func InitSeedBlock(cache *pagecache.Cache) error {
	buf := make([]byte, page.HeaderSize)
	page.EncodeHeader(buf, chainTier.Tag(), page.NullAddr)
	ws := page.NewWriteSet()
	ws.Stage(SeedBlockAddr, buf)
	return cache.ApplyWrites(ws)
}

// KeyCache is the in-memory string-interning index backed by the on-disk
// block chain starting at firstBlock.
type KeyCache struct {
	cache   *pagecache.Cache
	buckets map[uint32][]string

	mu sync.RWMutex

	curBlock     page.Addr
	curBlockTier page.Tier
	offset       uint64
}

// Open walks the on-disk chain starting at firstBlock and builds the
// in-memory index. The empty string is always present at index 0 of its
// own hash bucket, following spec.md §4.4's in-memory structure directly
// rather than the original implementation's incidental 1-based indexing
// (see DESIGN.md).
func Open(cache *pagecache.Cache, firstBlock page.Addr) (*KeyCache, error) {
	kc := &KeyCache{cache: cache, buckets: make(map[uint32][]string)}
	kc.buckets[hashString("")] = []string{""}

	next := firstBlock
	for {
		tag, nextAddr, err := readHeader(cache, next)
		if err != nil {
			return nil, err
		}
		tier, ok := page.TierForTag(tag)
		if !ok {
			return nil, cberr.New(cberr.Corrupt, "keycache.Open", fmt.Errorf("block at %s has invalid tier tag %q", next, tag))
		}

		blockSize := uint64(tier.Size())
		data, err := cache.ReadBytes(next, int(blockSize))
		if err != nil {
			return nil, err
		}

		off := uint64(page.HeaderSize)
		for off+2 <= blockSize {
			length := uint16(data[off]) | uint16(data[off+1])<<8
			if length == 0 {
				break
			}
			off += 2
			if off+uint64(length) > blockSize {
				return nil, cberr.New(cberr.Corrupt, "keycache.Open", fmt.Errorf("string record overruns block at %s", next))
			}
			s := string(data[off : off+uint64(length)])
			off += uint64(length)
			h := hashString(s)
			kc.buckets[h] = append(kc.buckets[h], s)
		}

		kc.curBlock = next
		kc.curBlockTier = tier
		kc.offset = off

		if nextAddr.IsNull() {
			break
		}
		next = nextAddr
	}

	return kc, nil
}

func readHeader(cache *pagecache.Cache, addr page.Addr) (byte, page.Addr, error) {
	raw, err := cache.ReadBytes(addr, page.HeaderSize)
	if err != nil {
		return 0, 0, err
	}
	tag, next := page.DecodeHeader(raw)
	return tag, next, nil
}

// GetString resolves an interned key back to its string. Fails with
// UnknownKey if the hash is unknown or the index is out of range for it.
func (kc *KeyCache) GetString(k page.Key) (string, error) {
	kc.mu.RLock()
	defer kc.mu.RUnlock()

	vec, ok := kc.buckets[k.Hash()]
	if !ok || int(k.Index()) >= len(vec) {
		return "", cberr.New(cberr.UnknownKey, "keycache.GetString", fmt.Errorf("key %v not known", k))
	}
	return vec[k.Index()], nil
}

// GetKey looks up s without staging an insert. Returns ok=false if s has
// never been interned (a concurrent transaction's staged insert is
// invisible here until it commits, per spec.md §4.4).
func (kc *KeyCache) GetKey(s string) (page.Key, bool) {
	kc.mu.RLock()
	defer kc.mu.RUnlock()
	return kc.lookupLocked(s)
}

func (kc *KeyCache) lookupLocked(s string) (page.Key, bool) {
	h := hashString(s)
	for i, v := range kc.buckets[h] {
		if v == s {
			return page.NewKey(h, uint16(i)), true
		}
	}
	return 0, false
}

// Begin starts a transactional handle sharing alloc's allocator
// transaction, initially holding a shared lock on the cache.
func (kc *KeyCache) Begin(alloc *blockalloc.Txn) *KeyTxn {
	kc.mu.RLock()
	return &KeyTxn{
		kc:          kc,
		alloc:       alloc,
		localByHash: make(map[uint32]map[string]uint16),
	}
}

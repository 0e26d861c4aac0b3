// Package cheesebase implements the embedded JSON document store: a
// dotted-path facade (insert/update/upsert/get/getall/remove/append) over
// the B+tree storage engine in pkg/btree, pkg/blockalloc, pkg/pagecache,
// and pkg/keycache.
//
// Grounded on pkg/core/db.go's Open/Close lifecycle and option-struct
// pattern, adapted from its in-memory index + WAL pair to this engine's
// page-cache-backed storage stack.
package cheesebase

import (
	"errors"
	"log"
	"sync"

	"github.com/mcheese/cheesebase/pkg/blockalloc"
	"github.com/mcheese/cheesebase/pkg/btree"
	"github.com/mcheese/cheesebase/pkg/cberr"
	"github.com/mcheese/cheesebase/pkg/cbconfig"
	"github.com/mcheese/cheesebase/pkg/keycache"
	"github.com/mcheese/cheesebase/pkg/page"
	"github.com/mcheese/cheesebase/pkg/pagecache"
	"github.com/mcheese/cheesebase/pkg/pagefile"
	"github.com/mcheese/cheesebase/pkg/value"
)

// rootAddrSlot is the fixed location of the top-level document's root
// B+tree address: 8 bytes in page 0, after the allocator header
// (blockalloc.HeaderSize, ending at byte 56) and before the key-cache seed
// block (keycache.SeedBlockAddr, at byte 2048). Neither spec.md's
// file-format section nor the original implementation gives this value its
// own name; it has to live somewhere in page 0, and this is the one gap
// between the two fixed regions (see DESIGN.md).
const rootAddrSlot page.Addr = blockalloc.HeaderSize

// Database is an open cheesebase document store: a single JSON document
// backed by a page-cached file, mutated through transactions that merge a
// key-cache, an allocator, and a B+tree write set into one atomic batch.
type Database struct {
	file     *pagefile.File
	cache    *pagecache.Cache
	alloc    *blockalloc.Allocator
	keycache *keycache.KeyCache
	log      *log.Logger

	rootMu sync.RWMutex
	root   page.Addr
}

// Open opens the database file at path according to opts, creating and
// initializing it (page 0 header, key-cache seed block, null document
// root) on first use. A nil opts uses cbconfig.DefaultOptions().
func Open(path string, opts *cbconfig.Options) (*Database, error) {
	if opts == nil {
		opts = cbconfig.DefaultOptions()
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	mode := pagefile.OpenExisting
	if opts.CreateIfMissing {
		mode = pagefile.OpenAlways
	}
	f, err := pagefile.Open(path, mode)
	if err != nil {
		return nil, err
	}
	cache := pagecache.New(f, opts.CacheCapacity)

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	db := &Database{
		file:  f,
		cache: cache,
		alloc: blockalloc.New(cache),
		log:   logger,
	}

	if err := db.initOrLoad(); err != nil {
		cache.Flush()
		f.Close()
		return nil, err
	}

	return db, nil
}

// initOrLoad initializes a freshly created file's fixed regions, or loads
// an existing one's key cache and document root. Freshness is recognized
// from the raw header bytes, before any allocator transaction is opened:
// pagefile.Open zero-extends a brand-new file, and the allocator header
// must be written before its own Begin() (which validates the magic) can
// succeed.
func (db *Database) initOrLoad() error {
	fresh, err := db.isFreshFile()
	if err != nil {
		return err
	}

	if fresh {
		db.log.Printf("cheesebase: initializing new database file")
		if err := blockalloc.InitHeader(db.cache); err != nil {
			return err
		}
		if err := keycache.InitSeedBlock(db.cache); err != nil {
			return err
		}
		ws := page.NewWriteSet()
		ws.Stage(rootAddrSlot, encodeAddr(page.NullAddr))
		if err := db.cache.ApplyWrites(ws); err != nil {
			return err
		}
	}

	kc, err := keycache.Open(db.cache, keycache.SeedBlockAddr)
	if err != nil {
		return err
	}
	db.keycache = kc

	root, err := db.loadRootAddr()
	if err != nil {
		return err
	}
	db.root = root
	return nil
}

func (db *Database) isFreshFile() (bool, error) {
	buf, err := db.cache.ReadBytes(0, 8)
	if err != nil {
		return false, err
	}
	for _, b := range buf {
		if b != 0 {
			return false, nil
		}
	}
	return true, nil
}

func encodeAddr(a page.Addr) []byte {
	buf := make([]byte, 8)
	page.PutUint64(buf, uint64(a))
	return buf
}

func (db *Database) loadRootAddr() (page.Addr, error) {
	buf, err := db.cache.ReadBytes(rootAddrSlot, 8)
	if err != nil {
		return 0, err
	}
	return page.Addr(page.GetUint64(buf)), nil
}

// Close flushes all dirty pages and closes the underlying file.
func (db *Database) Close() error {
	if err := db.cache.Flush(); err != nil {
		return err
	}
	return db.file.Close()
}

func (db *Database) currentRoot() page.Addr {
	db.rootMu.RLock()
	defer db.rootMu.RUnlock()
	return db.root
}

func (db *Database) setRoot(addr page.Addr) {
	db.rootMu.Lock()
	db.root = addr
	db.rootMu.Unlock()
}

// readKey resolves a path segment to a page.Key for a read-only lookup,
// without interning: an unseen field name can never match an existing
// entry, so it resolves straight to "not found".
func (db *Database) readKey(seg pathSeg) (page.Key, bool) {
	if seg.index {
		return page.ArrayKey(seg.idx), true
	}
	return db.keycache.GetKey(seg.name)
}

// resolveRead walks segs from the tree rooted at root using read-only
// btree.Tree lookups (no allocator or key-cache lock), returning the leaf
// entry the full path resolves to.
func (db *Database) resolveRead(root page.Addr, segs []pathSeg) (btree.LeafEntry, bool, error) {
	addr := root
	var entry btree.LeafEntry
	for i, seg := range segs {
		key, ok := db.readKey(seg)
		if !ok {
			return btree.LeafEntry{}, false, nil
		}
		e, err := btree.Open(db.cache, addr).Get(key)
		if err != nil {
			if errors.Is(err, cberr.ErrNotFound) {
				return btree.LeafEntry{}, false, nil
			}
			return btree.LeafEntry{}, false, err
		}
		entry = e
		if i == len(segs)-1 {
			return entry, true, nil
		}
		if value.Tag(e.Tag) != value.TagObject && value.Tag(e.Tag) != value.TagArray {
			return btree.LeafEntry{}, false, nil
		}
		addr = value.DecodeAddr(e.Words[0])
	}
	return entry, true, nil
}

// Get resolves path against the document and returns its decoded value. An
// empty path returns the whole document. Reads never take the allocator or
// key-cache write locks (spec.md §5): a Get run concurrently with a writer
// observes the last committed state.
func (db *Database) Get(path string) (interface{}, error) {
	segs, err := parsePath(path)
	if err != nil {
		return nil, err
	}

	root := db.currentRoot()
	if len(segs) == 0 {
		if root.IsNull() {
			return map[string]interface{}{}, nil
		}
		return decodeObject(db.cache, db.keycache, root)
	}
	if root.IsNull() {
		return nil, cberr.New(cberr.NotFound, "cheesebase.Get", errors.New("path not found: "+path))
	}

	entry, ok, err := db.resolveRead(root, segs)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, cberr.New(cberr.NotFound, "cheesebase.Get", errors.New("path not found: "+path))
	}
	return decodeValue(db.cache, db.keycache, entry)
}

// GetAll resolves path to a container (object or array) and returns its
// full decoded contents. An empty path targets the document itself.
func (db *Database) GetAll(path string) (interface{}, error) {
	segs, err := parsePath(path)
	if err != nil {
		return nil, err
	}

	root := db.currentRoot()
	if len(segs) == 0 {
		if root.IsNull() {
			return map[string]interface{}{}, nil
		}
		return decodeObject(db.cache, db.keycache, root)
	}
	if root.IsNull() {
		return nil, cberr.New(cberr.NotFound, "cheesebase.GetAll", errors.New("path not found: "+path))
	}

	entry, ok, err := db.resolveRead(root, segs)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, cberr.New(cberr.NotFound, "cheesebase.GetAll", errors.New("path not found: "+path))
	}

	switch value.Tag(entry.Tag) {
	case value.TagObject:
		return decodeObject(db.cache, db.keycache, value.DecodeAddr(entry.Words[0]))
	case value.TagArray:
		return decodeArray(db.cache, db.keycache, value.DecodeAddr(entry.Words[0]))
	default:
		return nil, cberr.New(cberr.NotFound, "cheesebase.GetAll", errors.New(path+" is not a container"))
	}
}

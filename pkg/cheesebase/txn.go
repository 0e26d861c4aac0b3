package cheesebase

import (
	"github.com/mcheese/cheesebase/pkg/blockalloc"
	"github.com/mcheese/cheesebase/pkg/keycache"
	"github.com/mcheese/cheesebase/pkg/page"
)

// Transaction coordinates one mutating operation's three write sets (key
// cache, allocator, tree/value) into a single atomic batch, per spec.md
// §4.7's PhaseKeys -> PhaseAlloc -> PhaseEmit sequence.
type Transaction struct {
	db       *Database
	allocTxn *blockalloc.Txn
	keyTxn   *keycache.KeyTxn
	ws       *page.WriteSet
}

// begin acquires the allocator's mutex (spec.md §5 lock ordering's
// outermost lock) and a shared handle on the key cache, then opens this
// transaction's own write set for tree and value writes.
func (db *Database) begin() (*Transaction, error) {
	allocTxn, err := db.alloc.Begin()
	if err != nil {
		return nil, err
	}
	keyTxn := db.keycache.Begin(allocTxn)
	return &Transaction{db: db, allocTxn: allocTxn, keyTxn: keyTxn, ws: page.NewWriteSet()}, nil
}

// commit merges the three write sets in the order key cache, then
// allocator, then tree/value, and applies the result as one atomic batch.
// The order matters: a B+tree node write restages its entire 256-byte
// block, including the header bytes the allocator transaction staged when
// the block was first allocated, so the tree's write must win any
// same-address collision by merging last.
func (t *Transaction) commit() error {
	keyWS, err := t.keyTxn.Commit()
	if err != nil {
		t.allocTxn.Discard()
		return err
	}
	allocWS, err := t.allocTxn.Commit()
	if err != nil {
		return err
	}

	combined := page.NewWriteSet()
	combined.Merge(keyWS)
	combined.Merge(allocWS)
	combined.Merge(t.ws)

	return t.db.cache.ApplyWrites(combined)
}

func (t *Transaction) discard() {
	t.keyTxn.Discard()
	t.allocTxn.Discard()
}

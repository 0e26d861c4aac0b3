package page

import "sort"

// WriteSet is a batch of staged byte-range mutations keyed by absolute
// address, accumulated inside a transaction (allocator, key-cache, and
// B+tree writes all produce one) and applied to the page cache together as
// spec.md §4.7's single atomic commit batch. A later Stage for the same
// address overwrites the earlier one, mirroring how a transaction's staged
// writes supersede themselves when the same block is touched twice before
// commit.
type WriteSet struct {
	order []Addr
	data  map[Addr][]byte
}

// NewWriteSet returns an empty write set.
func NewWriteSet() *WriteSet {
	return &WriteSet{data: make(map[Addr][]byte)}
}

// Stage records that data should be written starting at addr.
func (w *WriteSet) Stage(addr Addr, data []byte) {
	if _, exists := w.data[addr]; !exists {
		w.order = append(w.order, addr)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	w.data[addr] = cp
}

// Get returns the staged bytes at addr, if any, so a transaction can read
// back its own uncommitted writes.
func (w *WriteSet) Get(addr Addr) ([]byte, bool) {
	b, ok := w.data[addr]
	return b, ok
}

// Merge appends other's entries into w, keeping other's value on conflict
// (other is considered to have happened after w).
func (w *WriteSet) Merge(other *WriteSet) {
	if other == nil {
		return
	}
	for _, a := range other.order {
		w.Stage(a, other.data[a])
	}
}

// Len returns the number of staged addresses.
func (w *WriteSet) Len() int { return len(w.order) }

// Sorted returns the staged (address, bytes) pairs in ascending address
// order, the order spec.md §4.7 requires before handing the batch to the
// page cache.
func (w *WriteSet) Sorted() []struct {
	Addr Addr
	Data []byte
} {
	addrs := make([]Addr, len(w.order))
	copy(addrs, w.order)
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })

	out := make([]struct {
		Addr Addr
		Data []byte
	}, len(addrs))
	for i, a := range addrs {
		out[i] = struct {
			Addr Addr
			Data []byte
		}{Addr: a, Data: w.data[a]}
	}
	return out
}

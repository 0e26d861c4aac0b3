package pagecache

import "github.com/mcheese/cheesebase/pkg/page"

// ApplyWrites commits a write set to the cache as a single atomic batch:
// spec.md §5's linearization point. Writes are grouped by page and applied
// under that page's exclusive lock one page at a time, so any reader
// either sees all of a page's writes from this batch or none of them.
func (c *Cache) ApplyWrites(ws *page.WriteSet) error {
	if ws == nil || ws.Len() == 0 {
		return nil
	}

	byPage := make(map[uint64][]struct {
		Addr page.Addr
		Data []byte
	})
	for _, e := range ws.Sorted() {
		pn := e.Addr.Page()
		byPage[pn] = append(byPage[pn], e)
	}

	for pn, entries := range byPage {
		ref, err := c.WritePage(pn)
		if err != nil {
			return err
		}
		buf := ref.Bytes()
		for _, e := range entries {
			off := e.Addr.Offset()
			copy(buf[off:off+uint64(len(e.Data))], e.Data)
		}
		ref.Release()
	}
	return nil
}

// ReadBytes reads length bytes at addr, a convenience wrapper used by
// read-only traversal code that does not need a long-lived page reference.
func (c *Cache) ReadBytes(addr page.Addr, length int) ([]byte, error) {
	ref, err := c.ReadPage(addr.Page())
	if err != nil {
		return nil, err
	}
	defer ref.Release()
	off := addr.Offset()
	out := make([]byte, length)
	copy(out, ref.Bytes()[off:off+uint64(length)])
	return out, nil
}

package cheesebase

import (
	"errors"
	"fmt"

	"github.com/mcheese/cheesebase/pkg/btree"
	"github.com/mcheese/cheesebase/pkg/cberr"
	"github.com/mcheese/cheesebase/pkg/page"
	"github.com/mcheese/cheesebase/pkg/value"
)

// frame is one container level along a resolved path: the B+tree writer for
// that container, the address it had before this operation touched it, and
// whether it was just auto-vivified (created empty because the path
// expected a container there and found nothing).
type frame struct {
	w          *btree.Writer
	origRoot   page.Addr
	createdNew bool
	tag        byte // this frame's own container tag, as seen from its parent
}

// keyFor returns the page.Key a path segment resolves to, interning a new
// key-cache string if seg names a field never seen before.
func (t *Transaction) keyFor(seg pathSeg) (page.Key, error) {
	if seg.index {
		return page.ArrayKey(seg.idx), nil
	}
	return t.keyTxn.GetKey(seg.name)
}

// resolveFrames walks the first `steps` segments of segs as container
// boundaries starting from root, auto-vivifying any missing intermediate
// container as an empty object or array (matching the kind the next
// segment expects) along the way. It returns one frame per container
// visited (len(frames) == steps+1) and the key used to step from each
// frame into the next.
func (t *Transaction) resolveFrames(root page.Addr, segs []pathSeg, steps int) ([]*frame, []page.Key, error) {
	frames := make([]*frame, steps+1)
	keys := make([]page.Key, steps)

	frames[0] = &frame{w: btree.NewWriter(t.db.cache, t.allocTxn, t.ws, root), origRoot: root}

	for i := 0; i < steps; i++ {
		key, err := t.keyFor(segs[i])
		if err != nil {
			return nil, nil, err
		}
		keys[i] = key

		var requiredTag byte
		if i+1 < len(segs) {
			requiredTag = segs[i+1].containerTag()
		} else {
			// Only reached when steps == len(segs): the path names the array
			// being appended to directly, not a field within it.
			requiredTag = byte(value.TagArray)
		}

		entry, found, err := frames[i].w.Get(key)
		if err != nil {
			return nil, nil, err
		}

		var childAddr page.Addr
		createdNew := false
		if found {
			if value.Tag(entry.Tag) != value.Tag(requiredTag) {
				return nil, nil, cberr.New(cberr.NotFound, "cheesebase.resolveFrames",
					fmt.Errorf("%s is not a %s", segs[i], containerTagName(requiredTag)))
			}
			childAddr = value.DecodeAddr(entry.Words[0])
		} else {
			childAddr = page.NullAddr
			createdNew = true
		}

		frames[i+1] = &frame{
			w:          btree.NewWriter(t.db.cache, t.allocTxn, t.ws, childAddr),
			origRoot:   childAddr,
			createdNew: createdNew,
			tag:        requiredTag,
		}
	}

	return frames, keys, nil
}

func containerTagName(tag byte) string {
	if value.Tag(tag) == value.TagArray {
		return "an array"
	}
	return "an object"
}

// propagate rewrites every ancestor frame whose child's root address
// changed during this operation (split, merge, collapse, or first
// allocation), walking from the deepest frame back to the root. A
// newly-vivified frame is inserted into its parent; an existing one has its
// reference updated in place without disturbing whatever else the parent
// holds.
func propagate(frames []*frame, keys []page.Key) error {
	for i := len(frames) - 1; i >= 1; i-- {
		child := frames[i]
		if child.w.Root() == child.origRoot {
			continue
		}
		parent := frames[i-1]
		words := []uint64{value.EncodeAddr(child.w.Root())}
		if child.createdNew {
			if _, err := parent.w.Put(keys[i-1], child.tag, words, btree.Insert); err != nil {
				return err
			}
		} else {
			if err := parent.w.UpdateRef(keys[i-1], child.tag, words); err != nil {
				return err
			}
		}
	}
	return nil
}

// finish propagates frame changes up to the top-level document frame and,
// if the document's own root address moved, stages the new value at
// rootAddrSlot and remembers it for after a successful commit.
func (t *Transaction) finish(frames []*frame, keys []page.Key) (newRoot page.Addr, changed bool) {
	if err := propagate(frames, keys); err != nil {
		return 0, false
	}
	top := frames[0]
	if top.w.Root() == top.origRoot {
		return 0, false
	}
	t.ws.Stage(rootAddrSlot, encodeAddr(top.w.Root()))
	return top.w.Root(), true
}

func requirePath(segs []pathSeg, path string) error {
	if len(segs) == 0 {
		return cberr.New(cberr.ParserError, "cheesebase", fmt.Errorf("path %q names the document root, not a field", path))
	}
	return nil
}

// Insert sets path to value, failing if path's final field already exists.
func (db *Database) Insert(path string, v interface{}) error {
	return db.mutate(path, func(t *Transaction, frames []*frame, finalKey page.Key) error {
		return putLeaf(t, frames, finalKey, v, btree.Insert)
	})
}

// Update sets path to value, failing if path's final field does not exist.
// The previous value (including any out-of-line storage it owned) is
// freed.
func (db *Database) Update(path string, v interface{}) error {
	return db.mutate(path, func(t *Transaction, frames []*frame, finalKey page.Key) error {
		return putLeaf(t, frames, finalKey, v, btree.Update)
	})
}

// Upsert sets path to value regardless of whether it already exists.
func (db *Database) Upsert(path string, v interface{}) error {
	return db.mutate(path, func(t *Transaction, frames []*frame, finalKey page.Key) error {
		return putLeaf(t, frames, finalKey, v, btree.Upsert)
	})
}

func putLeaf(t *Transaction, frames []*frame, finalKey page.Key, v interface{}, mode btree.Overwrite) error {
	tag, words, err := t.encodeValue(v)
	if err != nil {
		return err
	}
	last := frames[len(frames)-1]
	ok, err := last.w.Put(finalKey, tag, words, mode)
	if err != nil {
		return err
	}
	if !ok {
		switch mode {
		case btree.Insert:
			return cberr.New(cberr.NotFound, "cheesebase.Insert", errors.New("field already exists"))
		case btree.Update:
			return cberr.New(cberr.NotFound, "cheesebase.Update", errors.New("field does not exist"))
		}
	}
	return nil
}

// Remove deletes path's final field, freeing any out-of-line storage the
// value held.
func (db *Database) Remove(path string) error {
	return db.mutate(path, func(t *Transaction, frames []*frame, finalKey page.Key) error {
		last := frames[len(frames)-1]
		removed, err := last.w.Remove(finalKey)
		if err != nil {
			return err
		}
		if !removed {
			return cberr.New(cberr.NotFound, "cheesebase.Remove", errors.New("field does not exist"))
		}
		return nil
	})
}

// Append adds value as the new highest-indexed element of the array at
// path, auto-vivifying the array (and any missing containers along path)
// if necessary, and returns the assigned index.
func (db *Database) Append(path string, v interface{}) (uint64, error) {
	segs, err := parsePath(path)
	if err != nil {
		return 0, err
	}
	if err := requirePath(segs, path); err != nil {
		return 0, err
	}

	t, err := db.begin()
	if err != nil {
		return 0, err
	}

	root := db.currentRoot()
	frames, keys, err := t.resolveFrames(root, segs, len(segs))
	if err != nil {
		t.discard()
		return 0, err
	}

	tag, words, err := t.encodeValue(v)
	if err != nil {
		t.discard()
		return 0, err
	}

	array := frames[len(frames)-1]
	idx, err := array.w.Append(tag, words)
	if err != nil {
		t.discard()
		return 0, err
	}

	newRoot, changed := t.finish(frames, keys)
	if err := t.commit(); err != nil {
		return 0, err
	}
	if changed {
		db.setRoot(newRoot)
	}
	return uint64(idx), nil
}

// mutate runs op against the frames resolved for path's field-setting
// operations (insert/update/upsert/remove: all but the last segment are
// container boundaries, the last names the field itself), then commits.
func (db *Database) mutate(path string, op func(t *Transaction, frames []*frame, finalKey page.Key) error) error {
	segs, err := parsePath(path)
	if err != nil {
		return err
	}
	if err := requirePath(segs, path); err != nil {
		return err
	}

	t, err := db.begin()
	if err != nil {
		return err
	}

	root := db.currentRoot()
	frames, keys, err := t.resolveFrames(root, segs, len(segs)-1)
	if err != nil {
		t.discard()
		return err
	}
	finalKey, err := t.keyFor(segs[len(segs)-1])
	if err != nil {
		t.discard()
		return err
	}

	if err := op(t, frames, finalKey); err != nil {
		t.discard()
		return err
	}

	newRoot, changed := t.finish(frames, keys)
	if err := t.commit(); err != nil {
		return err
	}
	if changed {
		db.setRoot(newRoot)
	}
	return nil
}

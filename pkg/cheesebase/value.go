package cheesebase

import (
	"fmt"

	"github.com/mcheese/cheesebase/pkg/btree"
	"github.com/mcheese/cheesebase/pkg/cberr"
	"github.com/mcheese/cheesebase/pkg/keycache"
	"github.com/mcheese/cheesebase/pkg/pagecache"
	"github.com/mcheese/cheesebase/pkg/page"
	"github.com/mcheese/cheesebase/pkg/value"
)

// encodeValue turns a decoded JSON-shaped Go value (nil, bool, float64,
// string, map[string]interface{}, []interface{} — the same shapes
// encoding/json produces) into a leaf entry's tag and extra words,
// recursively materializing objects/arrays as their own B+trees.
func (t *Transaction) encodeValue(v interface{}) (tag byte, words []uint64, err error) {
	switch val := v.(type) {
	case nil:
		return byte(value.TagNull), nil, nil
	case bool:
		if val {
			return byte(value.TagTrue), nil, nil
		}
		return byte(value.TagFalse), nil, nil
	case float64:
		return byte(value.TagNumber), []uint64{value.EncodeNumber(val)}, nil
	case int:
		return byte(value.TagNumber), []uint64{value.EncodeNumber(float64(val))}, nil
	case string:
		if len(val) <= value.MaxShortStringLen {
			return value.ShortStringTag(len(val)), value.EncodeShortString(val), nil
		}
		addr, ws, err := value.WriteLongString(t.allocTxn, val)
		if err != nil {
			return 0, nil, err
		}
		t.ws.Merge(ws)
		return byte(value.TagLongString), []uint64{value.EncodeAddr(addr)}, nil
	case map[string]interface{}:
		addr, err := t.buildObject(val)
		if err != nil {
			return 0, nil, err
		}
		return byte(value.TagObject), []uint64{value.EncodeAddr(addr)}, nil
	case []interface{}:
		addr, err := t.buildArray(val)
		if err != nil {
			return 0, nil, err
		}
		return byte(value.TagArray), []uint64{value.EncodeAddr(addr)}, nil
	default:
		return 0, nil, cberr.New(cberr.ParserError, "cheesebase.encodeValue", fmt.Errorf("unsupported value type %T", v))
	}
}

func (t *Transaction) buildObject(m map[string]interface{}) (page.Addr, error) {
	w := btree.NewWriter(t.db.cache, t.allocTxn, t.ws, page.NullAddr)
	for k, v := range m {
		key, err := t.keyTxn.GetKey(k)
		if err != nil {
			return 0, err
		}
		tag, words, err := t.encodeValue(v)
		if err != nil {
			return 0, err
		}
		if _, err := w.Put(key, tag, words, btree.Insert); err != nil {
			return 0, err
		}
	}
	return w.Root(), nil
}

func (t *Transaction) buildArray(arr []interface{}) (page.Addr, error) {
	w := btree.NewWriter(t.db.cache, t.allocTxn, t.ws, page.NullAddr)
	for i, v := range arr {
		tag, words, err := t.encodeValue(v)
		if err != nil {
			return 0, err
		}
		if _, err := w.Put(page.ArrayKey(uint64(i)), tag, words, btree.Insert); err != nil {
			return 0, err
		}
	}
	return w.Root(), nil
}

// decodeValue materializes a leaf entry back into a Go value, recursively
// decoding out-of-line objects/arrays/long-strings.
func decodeValue(cache *pagecache.Cache, kc *keycache.KeyCache, e btree.LeafEntry) (interface{}, error) {
	if l, ok := value.IsShortString(e.Tag); ok {
		return value.DecodeShortString(e.Words, l), nil
	}
	switch value.Tag(e.Tag) {
	case value.TagNull:
		return nil, nil
	case value.TagTrue:
		return true, nil
	case value.TagFalse:
		return false, nil
	case value.TagNumber:
		return value.DecodeNumber(e.Words[0]), nil
	case value.TagObject:
		return decodeObject(cache, kc, value.DecodeAddr(e.Words[0]))
	case value.TagArray:
		return decodeArray(cache, kc, value.DecodeAddr(e.Words[0]))
	case value.TagLongString:
		return value.ReadLongString(cache, value.DecodeAddr(e.Words[0]))
	default:
		return nil, cberr.New(cberr.Corrupt, "cheesebase.decodeValue", fmt.Errorf("leaf entry has unknown type tag %#x", e.Tag))
	}
}

func decodeObject(cache *pagecache.Cache, kc *keycache.KeyCache, root page.Addr) (map[string]interface{}, error) {
	entries, err := btree.Open(cache, root).GetAll()
	if err != nil {
		return nil, err
	}
	out := make(map[string]interface{}, len(entries))
	for _, e := range entries {
		s, err := kc.GetString(e.Key)
		if err != nil {
			return nil, err
		}
		v, err := decodeValue(cache, kc, e)
		if err != nil {
			return nil, err
		}
		out[s] = v
	}
	return out, nil
}

// decodeArray materializes an array's full contents. A gap between indices
// (left by a Remove that did not shift later indices, spec.md §4.5's
// Append/Remove scenario) renders as nil, matching the scenario's
// `[0,1,null,3,4,99]` expectation.
func decodeArray(cache *pagecache.Cache, kc *keycache.KeyCache, root page.Addr) ([]interface{}, error) {
	entries, err := btree.Open(cache, root).GetAll()
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return []interface{}{}, nil
	}
	out := make([]interface{}, int(entries[len(entries)-1].Key)+1)
	for _, e := range entries {
		v, err := decodeValue(cache, kc, e)
		if err != nil {
			return nil, err
		}
		out[int(e.Key)] = v
	}
	return out, nil
}

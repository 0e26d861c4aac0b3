package cheesebase

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/mcheese/cheesebase/pkg/value"
)

func newTestDB(t *testing.T) (*Database, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cheesebase.db")
	db, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, path
}

func TestInsertThenGet(t *testing.T) {
	db, _ := newTestDB(t)

	if err := db.Insert("name", "alice"); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	got, err := db.Get("name")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "alice" {
		t.Fatalf("Get returned %v, want alice", got)
	}
}

func TestInsertFailsOnExistingField(t *testing.T) {
	db, _ := newTestDB(t)

	if err := db.Insert("name", "alice"); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := db.Insert("name", "bob"); err == nil {
		t.Fatalf("Insert on existing field should have failed")
	}
}

func TestUpdateFailsOnMissingField(t *testing.T) {
	db, _ := newTestDB(t)

	if err := db.Update("name", "alice"); err == nil {
		t.Fatalf("Update on missing field should have failed")
	}
}

func TestUpsertInsertsThenOverwrites(t *testing.T) {
	db, _ := newTestDB(t)

	if err := db.Upsert("name", "alice"); err != nil {
		t.Fatalf("Upsert insert: %v", err)
	}
	if err := db.Upsert("name", "bob"); err != nil {
		t.Fatalf("Upsert overwrite: %v", err)
	}
	got, err := db.Get("name")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "bob" {
		t.Fatalf("Get returned %v, want bob", got)
	}
}

func TestGetMissingPathFails(t *testing.T) {
	db, _ := newTestDB(t)

	if _, err := db.Get("missing"); err == nil {
		t.Fatalf("Get on missing path should have failed")
	}
}

func TestRemoveDeletesField(t *testing.T) {
	db, _ := newTestDB(t)

	if err := db.Insert("name", "alice"); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := db.Remove("name"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := db.Get("name"); err == nil {
		t.Fatalf("Get after Remove should have failed")
	}
}

func TestRemoveFailsOnMissingField(t *testing.T) {
	db, _ := newTestDB(t)

	if err := db.Remove("missing"); err == nil {
		t.Fatalf("Remove on missing field should have failed")
	}
}

func TestReopenPersistsData(t *testing.T) {
	db, path := newTestDB(t)

	if err := db.Insert("name", "alice"); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := db.Insert("age", 30.0); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Get("name")
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if got != "alice" {
		t.Fatalf("Get after reopen returned %v, want alice", got)
	}

	got, err = reopened.Get("age")
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if got != 30.0 {
		t.Fatalf("Get after reopen returned %v, want 30", got)
	}
}

func TestShortStringBoundaryStaysInline(t *testing.T) {
	db, _ := newTestDB(t)

	s := strings.Repeat("x", value.MaxShortStringLen)
	if err := db.Insert("s", s); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	got, err := db.Get("s")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != s {
		t.Fatalf("Get returned %q, want %q", got, s)
	}
}

func TestStringOneOverBoundaryPromotesToLongString(t *testing.T) {
	db, _ := newTestDB(t)

	s := strings.Repeat("y", value.MaxShortStringLen+1)
	if err := db.Insert("s", s); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	got, err := db.Get("s")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != s {
		t.Fatalf("Get returned string of length %d, want length %d", len(got.(string)), len(s))
	}
}

func TestUpdateOverwritesLongStringAndFreesOldChain(t *testing.T) {
	db, _ := newTestDB(t)

	first := strings.Repeat("a", 5000)
	if err := db.Insert("s", first); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	second := strings.Repeat("b", 5000)
	if err := db.Update("s", second); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := db.Get("s")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != second {
		t.Fatalf("Get after Update returned the old value, not the overwritten one")
	}
}

func TestAutoVivifiesMissingIntermediateObjects(t *testing.T) {
	db, _ := newTestDB(t)

	if err := db.Insert("user.profile.name", "alice"); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := db.Get("user.profile.name")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "alice" {
		t.Fatalf("Get returned %v, want alice", got)
	}

	obj, err := db.GetAll("user.profile")
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	m, ok := obj.(map[string]interface{})
	if !ok {
		t.Fatalf("GetAll returned %T, want map", obj)
	}
	if m["name"] != "alice" {
		t.Fatalf("nested object missing name field: %v", m)
	}
}

func TestAutoVivifiesArrayForAppend(t *testing.T) {
	db, _ := newTestDB(t)

	idx, err := db.Append("tags", "first")
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if idx != 0 {
		t.Fatalf("first Append returned index %d, want 0", idx)
	}

	idx, err = db.Append("tags", "second")
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if idx != 1 {
		t.Fatalf("second Append returned index %d, want 1", idx)
	}

	all, err := db.GetAll("tags")
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	arr, ok := all.([]interface{})
	if !ok {
		t.Fatalf("GetAll returned %T, want slice", all)
	}
	if len(arr) != 2 || arr[0] != "first" || arr[1] != "second" {
		t.Fatalf("unexpected array contents: %v", arr)
	}
}

func TestRemoveLeavesGapAsNilInArray(t *testing.T) {
	db, _ := newTestDB(t)

	for i, v := range []interface{}{"a", "b", "c"} {
		idx, err := db.Append("items", v)
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
		if idx != uint64(i) {
			t.Fatalf("Append %d returned index %d", i, idx)
		}
	}

	if err := db.Remove("items[1]"); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	all, err := db.GetAll("items")
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	arr, ok := all.([]interface{})
	if !ok {
		t.Fatalf("GetAll returned %T, want slice", all)
	}
	if len(arr) != 3 {
		t.Fatalf("array length %d, want 3 (gap preserved)", len(arr))
	}
	if arr[0] != "a" || arr[1] != nil || arr[2] != "c" {
		t.Fatalf("unexpected array with gap: %v", arr)
	}
}

func TestNestedObjectInArrayViaDottedPathWithIndex(t *testing.T) {
	db, _ := newTestDB(t)

	if _, err := db.Append("users", map[string]interface{}{"name": "alice"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := db.Append("users", map[string]interface{}{"name": "bob"}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	if err := db.Update("users[1].name", "bobby"); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := db.Get("users[1].name")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "bobby" {
		t.Fatalf("Get returned %v, want bobby", got)
	}

	got, err = db.Get("users[0].name")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "alice" {
		t.Fatalf("Get returned %v, want alice (unaffected by sibling update)", got)
	}
}

func TestInsertObjectAndArrayLiteralsRoundtrip(t *testing.T) {
	db, _ := newTestDB(t)

	doc := map[string]interface{}{
		"title": "todo list",
		"items": []interface{}{"buy milk", "walk dog"},
		"meta":  map[string]interface{}{"owner": "alice", "done": false},
	}
	if err := db.Insert("doc", doc); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := db.GetAll("doc")
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	m, ok := got.(map[string]interface{})
	if !ok {
		t.Fatalf("GetAll returned %T, want map", got)
	}
	if m["title"] != "todo list" {
		t.Fatalf("title = %v", m["title"])
	}
	items, ok := m["items"].([]interface{})
	if !ok || len(items) != 2 || items[0] != "buy milk" || items[1] != "walk dog" {
		t.Fatalf("items = %v", m["items"])
	}
	meta, ok := m["meta"].(map[string]interface{})
	if !ok || meta["owner"] != "alice" || meta["done"] != false {
		t.Fatalf("meta = %v", m["meta"])
	}
}

func TestEmptyPathGetsWholeDocument(t *testing.T) {
	db, _ := newTestDB(t)

	if err := db.Insert("a", 1.0); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := db.Insert("b", 2.0); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := db.Get("")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	m, ok := got.(map[string]interface{})
	if !ok {
		t.Fatalf("Get(\"\") returned %T, want map", got)
	}
	if m["a"] != 1.0 || m["b"] != 2.0 {
		t.Fatalf("document contents = %v", m)
	}
}

func TestGetOnEmptyDatabaseReturnsEmptyDocument(t *testing.T) {
	db, _ := newTestDB(t)

	got, err := db.Get("")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	m, ok := got.(map[string]interface{})
	if !ok || len(m) != 0 {
		t.Fatalf("Get(\"\") on empty database = %v, want empty map", got)
	}
}

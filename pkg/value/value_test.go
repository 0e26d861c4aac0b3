package value

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcheese/cheesebase/pkg/blockalloc"
	"github.com/mcheese/cheesebase/pkg/page"
	"github.com/mcheese/cheesebase/pkg/pagecache"
	"github.com/mcheese/cheesebase/pkg/pagefile"
)

func TestShortStringTagRoundtrip(t *testing.T) {
	tag := ShortStringTag(5)
	length, ok := IsShortString(tag)
	require.True(t, ok)
	assert.Equal(t, 5, length)
}

func TestIsShortStringRejectsOtherTags(t *testing.T) {
	_, ok := IsShortString(byte(TagObject))
	assert.False(t, ok)
}

func TestEncodeDecodeShortString(t *testing.T) {
	for _, s := range []string{"", "a", "hello", strings.Repeat("x", MaxShortStringLen)} {
		words := EncodeShortString(s)
		got := DecodeShortString(words, len(s))
		assert.Equal(t, s, got)
	}
}

func TestWordCount(t *testing.T) {
	assert.Equal(t, 0, WordCount(byte(TagNull)))
	assert.Equal(t, 0, WordCount(byte(TagTrue)))
	assert.Equal(t, 1, WordCount(byte(TagNumber)))
	assert.Equal(t, 1, WordCount(byte(TagObject)))
	assert.Equal(t, 1, WordCount(ShortStringTag(1)))
	assert.Equal(t, 3, WordCount(ShortStringTag(24)))
}

func TestEncodeDecodeNumber(t *testing.T) {
	for _, f := range []float64{0, 1, -1, 3.14159, 1e300, -1e-300} {
		assert.Equal(t, f, DecodeNumber(EncodeNumber(f)))
	}
}

func TestEncodeDecodeAddr(t *testing.T) {
	a := page.Addr(0x123456)
	assert.Equal(t, a, DecodeAddr(EncodeAddr(a)))
}

func newTestAllocTxn(t *testing.T) (*pagecache.Cache, *blockalloc.Txn) {
	t.Helper()
	f, err := pagefile.Open(filepath.Join(t.TempDir(), "cheesebase.db"), pagefile.CreateAlways)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	cache := pagecache.New(f, 64)
	require.NoError(t, blockalloc.InitHeader(cache))
	alloc := blockalloc.New(cache)
	txn, err := alloc.Begin()
	require.NoError(t, err)
	return cache, txn
}

func TestShortLongStringRoundtrip(t *testing.T) {
	cache, txn := newTestAllocTxn(t)
	txn.Discard()

	a := blockalloc.New(cache)
	for _, s := range []string{"a", strings.Repeat("z", 100), strings.Repeat("q", 5000)} {
		txn, err := a.Begin()
		require.NoError(t, err)

		head, ws, err := WriteLongString(txn, s)
		require.NoError(t, err)
		require.NoError(t, cache.ApplyWrites(ws))

		allocWS, err := txn.Commit()
		require.NoError(t, err)
		require.NoError(t, cache.ApplyWrites(allocWS))

		got, err := ReadLongString(cache, head)
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
}

func TestFreeLongStringFreesHeadBlock(t *testing.T) {
	cache, txn := newTestAllocTxn(t)

	head, ws, err := WriteLongString(txn, strings.Repeat("m", 3000))
	require.NoError(t, err)
	require.NoError(t, cache.ApplyWrites(ws))
	allocWS, err := txn.Commit()
	require.NoError(t, err)
	require.NoError(t, cache.ApplyWrites(allocWS))

	a := blockalloc.New(cache)
	txn2, err := a.Begin()
	require.NoError(t, err)
	require.NoError(t, FreeLongString(txn2, head))
	ws2, err := txn2.Commit()
	require.NoError(t, err)
	require.NoError(t, cache.ApplyWrites(ws2))

	// The freed page-tier block is handed back out before the allocator
	// grows the file with a brand new page.
	txn3, err := a.Begin()
	require.NoError(t, err)
	addr, err := txn3.Alloc(uint32(page.Size) - page.HeaderSize)
	require.NoError(t, err)
	assert.Equal(t, head, addr)
	txn3.Discard()
}

func TestFreeLongStringWalksChainedBlocks(t *testing.T) {
	cache, txn := newTestAllocTxn(t)

	// Long enough to span multiple chained blocks across tiers, exercising
	// Free's recursive chain walk end to end.
	head, ws, err := WriteLongString(txn, strings.Repeat("m", 10000))
	require.NoError(t, err)
	require.NoError(t, cache.ApplyWrites(ws))
	allocWS, err := txn.Commit()
	require.NoError(t, err)
	require.NoError(t, cache.ApplyWrites(allocWS))

	a := blockalloc.New(cache)
	txn2, err := a.Begin()
	require.NoError(t, err)
	require.NoError(t, FreeLongString(txn2, head))
	ws2, err := txn2.Commit()
	require.NoError(t, err)
	require.NoError(t, cache.ApplyWrites(ws2))
}

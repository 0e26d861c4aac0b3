package keycache

import (
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcheese/cheesebase/pkg/blockalloc"
	"github.com/mcheese/cheesebase/pkg/page"
	"github.com/mcheese/cheesebase/pkg/pagecache"
	"github.com/mcheese/cheesebase/pkg/pagefile"
)

func newTestDB(t *testing.T) (*pagecache.Cache, *blockalloc.Allocator) {
	t.Helper()
	f, err := pagefile.Open(filepath.Join(t.TempDir(), "cheesebase.db"), pagefile.CreateAlways)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	cache := pagecache.New(f, 32)
	require.NoError(t, blockalloc.InitHeader(cache))
	require.NoError(t, InitSeedBlock(cache))
	return cache, blockalloc.New(cache)
}

func TestInternAndGetString(t *testing.T) {
	cache, alloc := newTestDB(t)
	kc, err := Open(cache, SeedBlockAddr)
	require.NoError(t, err)

	txn, err := alloc.Begin()
	require.NoError(t, err)
	kt := kc.Begin(txn)

	k1, err := kt.GetKey("hello")
	require.NoError(t, err)
	k2, err := kt.GetKey("world")
	require.NoError(t, err)
	assert.NotEqual(t, k1, k2)

	ws, err := kt.Commit()
	require.NoError(t, err)
	allocWS, err := txn.Commit()
	require.NoError(t, err)
	combined := page.NewWriteSet()
	combined.Merge(allocWS)
	combined.Merge(ws)
	require.NoError(t, cache.ApplyWrites(combined))

	s, err := kc.GetString(k1)
	require.NoError(t, err)
	assert.Equal(t, "hello", s)

	s, err = kc.GetString(k2)
	require.NoError(t, err)
	assert.Equal(t, "world", s)
}

func TestGetKeySameStringTwiceInOneTxnReturnsSameKey(t *testing.T) {
	cache, alloc := newTestDB(t)
	kc, err := Open(cache, SeedBlockAddr)
	require.NoError(t, err)

	txn, err := alloc.Begin()
	require.NoError(t, err)
	kt := kc.Begin(txn)
	defer txn.Discard()

	k1, err := kt.GetKey("same")
	require.NoError(t, err)
	k2, err := kt.GetKey("same")
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
}

func TestGetKeyUnseenStringNotVisibleUntilCommit(t *testing.T) {
	cache, alloc := newTestDB(t)
	kc, err := Open(cache, SeedBlockAddr)
	require.NoError(t, err)

	txn, err := alloc.Begin()
	require.NoError(t, err)
	kt := kc.Begin(txn)
	defer txn.Discard()

	_, err = kt.GetKey("pending")
	require.NoError(t, err)

	_, ok := kc.GetKey("pending")
	assert.False(t, ok, "an uncommitted insertion must stay invisible to other readers")
}

func TestInternReopenPersists(t *testing.T) {
	cache, alloc := newTestDB(t)
	kc, err := Open(cache, SeedBlockAddr)
	require.NoError(t, err)

	txn, err := alloc.Begin()
	require.NoError(t, err)
	kt := kc.Begin(txn)
	k, err := kt.GetKey("durable")
	require.NoError(t, err)
	ws, err := kt.Commit()
	require.NoError(t, err)
	allocWS, err := txn.Commit()
	require.NoError(t, err)
	combined := page.NewWriteSet()
	combined.Merge(allocWS)
	combined.Merge(ws)
	require.NoError(t, cache.ApplyWrites(combined))

	reopened, err := Open(cache, SeedBlockAddr)
	require.NoError(t, err)
	s, err := reopened.GetString(k)
	require.NoError(t, err)
	assert.Equal(t, "durable", s)
}

func TestGetStringUnknownKeyFails(t *testing.T) {
	cache, _ := newTestDB(t)
	kc, err := Open(cache, SeedBlockAddr)
	require.NoError(t, err)

	_, err = kc.GetString(page.NewKey(0xffffffff, 0))
	assert.Error(t, err)
}

func TestGetKeyTooLongFails(t *testing.T) {
	cache, alloc := newTestDB(t)
	kc, err := Open(cache, SeedBlockAddr)
	require.NoError(t, err)

	txn, err := alloc.Begin()
	require.NoError(t, err)
	kt := kc.Begin(txn)
	defer txn.Discard()

	long := make([]byte, maxKeyLen+1)
	_, err = kt.GetKey(string(long))
	assert.Error(t, err)
}

func TestInternManyStringsChainsBlocks(t *testing.T) {
	cache, alloc := newTestDB(t)
	kc, err := Open(cache, SeedBlockAddr)
	require.NoError(t, err)

	txn, err := alloc.Begin()
	require.NoError(t, err)
	kt := kc.Begin(txn)

	keys := make([]page.Key, 0, 400)
	for i := 0; i < 400; i++ {
		k, err := kt.GetKey(longString(i))
		require.NoError(t, err)
		keys = append(keys, k)
	}

	ws, err := kt.Commit()
	require.NoError(t, err)
	allocWS, err := txn.Commit()
	require.NoError(t, err)
	combined := page.NewWriteSet()
	combined.Merge(allocWS)
	combined.Merge(ws)
	require.NoError(t, cache.ApplyWrites(combined))

	for i, k := range keys {
		s, err := kc.GetString(k)
		require.NoError(t, err)
		assert.Equal(t, longString(i), s)
	}
}

func longString(i int) string {
	// Long enough, in bulk, to force the seed block to extend into a chain.
	return "key-number-padded-for-length-" + strconv.Itoa(i)
}

package pagefile

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcheese/cheesebase/pkg/page"
)

func TestCreateNewExtendsToInitialPages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cheesebase.db")
	f, err := Open(path, CreateNew)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, int64(initialPages*page.Size), f.Size())
}

func TestCreateNewFailsIfExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cheesebase.db")
	f, err := Open(path, CreateNew)
	require.NoError(t, err)
	f.Close()

	_, err = Open(path, CreateNew)
	assert.Error(t, err)
}

func TestOpenExistingFailsIfAbsent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cheesebase.db")
	_, err := Open(path, OpenExisting)
	assert.Error(t, err)
}

func TestOpenAlwaysCreatesOnFirstCallOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cheesebase.db")

	f1, err := Open(path, OpenAlways)
	require.NoError(t, err)
	require.NoError(t, f1.Write(page.Addr(100), []byte{0xAB}))
	require.NoError(t, f1.Close())

	f2, err := Open(path, OpenAlways)
	require.NoError(t, err)
	defer f2.Close()

	// Second open found the file already present, so it must not have
	// truncated away the first open's write.
	buf, err := f2.ReadPage(0)
	require.NoError(t, err)
	assert.Equal(t, byte(0xAB), buf[100])
}

func TestWriteAndReadPageRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cheesebase.db")
	f, err := Open(path, CreateAlways)
	require.NoError(t, err)
	defer f.Close()

	data := []byte{1, 2, 3, 4}
	require.NoError(t, f.Write(page.Addr(10), data))

	buf, err := f.ReadPage(0)
	require.NoError(t, err)
	assert.Equal(t, data, buf[10:14])
}

func TestReadPageBeyondEOFFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cheesebase.db")
	f, err := Open(path, CreateAlways)
	require.NoError(t, err)
	defer f.Close()

	_, err = f.ReadPage(1000)
	assert.Error(t, err)
}

func TestWriteBeyondEOFFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cheesebase.db")
	f, err := Open(path, CreateAlways)
	require.NoError(t, err)
	defer f.Close()

	err = f.Write(page.Addr(f.Size()-1), []byte{1, 2, 3})
	assert.Error(t, err)
}

func TestExtendRoundsUpToWholePages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cheesebase.db")
	f, err := Open(path, CreateAlways)
	require.NoError(t, err)
	defer f.Close()

	before := f.Size()
	require.NoError(t, f.Extend(before+1))
	assert.Equal(t, before+page.Size, f.Size())
}

func TestExtendIsNoopWhenAlreadyLargeEnough(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cheesebase.db")
	f, err := Open(path, CreateAlways)
	require.NoError(t, err)
	defer f.Close()

	before := f.Size()
	require.NoError(t, f.Extend(before-1))
	assert.Equal(t, before, f.Size())
}

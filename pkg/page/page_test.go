package page

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderRoundtrip(t *testing.T) {
	buf := make([]byte, HeaderSize)
	EncodeHeader(buf, 'L', Addr(0x1234))

	tag, next := DecodeHeader(buf)
	assert.Equal(t, byte('L'), tag)
	assert.Equal(t, Addr(0x1234), next)
}

func TestHeaderNextIs56Bits(t *testing.T) {
	buf := make([]byte, HeaderSize)
	// The tag occupies the high byte; a next address using all 56 low bits
	// must round-trip without bleeding into the tag.
	next := Addr(0x00FFFFFFFFFFFFFF)
	EncodeHeader(buf, 'P', next)

	tag, decoded := DecodeHeader(buf)
	assert.Equal(t, byte('P'), tag)
	assert.Equal(t, next, decoded)
}

func TestTierForPayload(t *testing.T) {
	cases := []struct {
		payload uint32
		want    Tier
	}{
		{1, Tier4},
		{Sizes[Tier4] - HeaderSize, Tier4},
		{Sizes[Tier4] - HeaderSize + 1, Tier3},
		{Sizes[TierPage] - HeaderSize, TierPage},
	}
	for _, c := range cases {
		got, ok := TierForPayload(c.payload)
		require.True(t, ok)
		assert.Equal(t, c.want, got, "payload %d", c.payload)
	}
}

func TestTierForPayloadTooLarge(t *testing.T) {
	_, ok := TierForPayload(Sizes[TierPage])
	assert.False(t, ok)
}

func TestTierTagRoundtrip(t *testing.T) {
	for tier := Tier(0); int(tier) < NumTiers; tier++ {
		tag := tier.Tag()
		got, ok := TierForTag(tag)
		require.True(t, ok)
		assert.Equal(t, tier, got)
	}
}

func TestAlignedForTier(t *testing.T) {
	assert.True(t, AlignedForTier(0, TierPage))
	assert.True(t, AlignedForTier(Addr(Size), TierPage))
	assert.False(t, AlignedForTier(Addr(100), TierPage))
	assert.True(t, AlignedForTier(Addr(256), Tier4))
	assert.False(t, AlignedForTier(Addr(100), Tier4))
}

func TestAddrPageOffset(t *testing.T) {
	a := Addr(Size*3 + 42)
	assert.Equal(t, uint64(3), a.Page())
	assert.Equal(t, uint64(42), a.Offset())
}

func TestKeyRoundtrip(t *testing.T) {
	k := NewKey(0xdeadbeef, 0x1234)
	assert.Equal(t, uint32(0xdeadbeef), k.Hash())
	assert.Equal(t, uint16(0x1234), k.Index())
	assert.True(t, k.Valid())

	buf := make([]byte, DskKeySize)
	EncodeKey(buf, k)
	assert.Equal(t, k, DecodeKey(buf))
}

func TestArrayKeyIsDense(t *testing.T) {
	assert.Less(t, ArrayKey(0), ArrayKey(1))
	assert.Equal(t, Key(5), ArrayKey(5))
}

func TestWriteSetLastStageWins(t *testing.T) {
	ws := NewWriteSet()
	ws.Stage(100, []byte{1, 2, 3})
	ws.Stage(100, []byte{9, 9})

	got, ok := ws.Get(100)
	require.True(t, ok)
	assert.Equal(t, []byte{9, 9}, got)
	assert.Equal(t, 1, ws.Len())
}

func TestWriteSetMergeKeepsOtherOnConflict(t *testing.T) {
	a := NewWriteSet()
	a.Stage(10, []byte{1})
	a.Stage(20, []byte{2})

	b := NewWriteSet()
	b.Stage(10, []byte{9})

	a.Merge(b)

	got, _ := a.Get(10)
	assert.Equal(t, []byte{9}, got)
	got, _ = a.Get(20)
	assert.Equal(t, []byte{2}, got)
}

func TestWriteSetSortedOrder(t *testing.T) {
	ws := NewWriteSet()
	ws.Stage(300, []byte{1})
	ws.Stage(100, []byte{2})
	ws.Stage(200, []byte{3})

	sorted := ws.Sorted()
	require.Len(t, sorted, 3)
	assert.Equal(t, Addr(100), sorted[0].Addr)
	assert.Equal(t, Addr(200), sorted[1].Addr)
	assert.Equal(t, Addr(300), sorted[2].Addr)
}

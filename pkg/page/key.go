package page

// Key is an interned 48-bit key: a 32-bit hash in the high bits and a
// 16-bit bucket index disambiguating collisions in the low bits. Object
// member names and array indices are both represented as Key values so the
// B+tree can treat objects and arrays identically.
type Key uint64

const keyMask = (uint64(1) << 48) - 1

// NewKey packs a hash and bucket index into a Key.
func NewKey(hash uint32, index uint16) Key {
	return Key(uint64(hash)<<16 | uint64(index))
}

// Hash returns the 32-bit hash component.
func (k Key) Hash() uint32 { return uint32(uint64(k) >> 16) }

// Index returns the 16-bit bucket index component.
func (k Key) Index() uint16 { return uint16(uint64(k) & 0xFFFF) }

// Valid reports whether k fits in 48 bits.
func (k Key) Valid() bool { return uint64(k) == uint64(k)&keyMask }

// DskKeySize is the on-disk size of a key: 6 bytes (48 bits).
const DskKeySize = 6

// EncodeKey writes k little-endian into buf[0:6].
func EncodeKey(buf []byte, k Key) {
	_ = buf[5]
	v := uint64(k)
	buf[0] = byte(v)
	buf[1] = byte(v >> 8)
	buf[2] = byte(v >> 16)
	buf[3] = byte(v >> 24)
	buf[4] = byte(v >> 32)
	buf[5] = byte(v >> 40)
}

// DecodeKey reads a 6-byte little-endian key from buf[0:6].
func DecodeKey(buf []byte) Key {
	_ = buf[5]
	v := uint64(buf[0]) | uint64(buf[1])<<8 | uint64(buf[2])<<16 | uint64(buf[3])<<24 |
		uint64(buf[4])<<32 | uint64(buf[5])<<40
	return Key(v)
}

// ArrayKey returns the interned key an array uses for integer index i.
// Arrays route through the same 48-bit key space as objects, using the
// index directly as the key with no hash component — indices are already
// dense and comparison-ordered, which is exactly what the B+tree needs.
func ArrayKey(i uint64) Key { return Key(i) }

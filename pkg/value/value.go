// Package value implements the §4.6 value serialization layer: the inline
// encodings a B+tree leaf entry carries directly, and the out-of-line
// encodings (long strings, and by extension objects/arrays via their own
// B+trees) referenced through a leaf entry's stored address.
//
// Grounded on original_source/src/disk_object.cc and disk_string.cc for the
// exact tag/word layout, re-expressed as plain Go functions operating on
// fixed-size byte arrays rather than the original's placement-new disk
// structs.
package value

import (
	"math"

	"github.com/mcheese/cheesebase/pkg/page"
)

// Tag identifies the type of a leaf entry's value, stored in the entry
// header's type-tag byte.
type Tag byte

const (
	TagNull       Tag = 0x01
	TagTrue       Tag = 0x02
	TagFalse      Tag = 0x03
	TagNumber     Tag = 0x04
	TagObject     Tag = 0x05
	TagArray      Tag = 0x06
	TagLongString Tag = 0x07

	// shortStringFlag marks a tag as an inline string of length tag&0x3F; set
	// in bit 7, per spec.md §6.
	shortStringFlag byte = 0x80
	shortStringMask byte = 0x3F
	// MaxShortStringLen is the longest string storable inline in a leaf
	// entry (spec.md §3: "L ∈ [0,24]").
	MaxShortStringLen = 24
)

// IsShortString reports whether tag encodes an inline string, and if so its
// length.
func IsShortString(tag byte) (length int, ok bool) {
	if tag&shortStringFlag == 0 {
		return 0, false
	}
	return int(tag & shortStringMask), true
}

// ShortStringTag returns the tag byte for an inline string of length l.
// Panics if l exceeds MaxShortStringLen; callers must route longer strings
// through the long-string chain instead.
func ShortStringTag(l int) byte {
	if l < 0 || l > MaxShortStringLen {
		panic("value: short string length out of range")
	}
	return shortStringFlag | byte(l)
}

// WordCount returns the number of 8-byte extra words a leaf entry with the
// given tag occupies after its 8-byte header.
func WordCount(tag byte) int {
	if l, ok := IsShortString(tag); ok {
		return (l + 7) / 8
	}
	switch Tag(tag) {
	case TagNull, TagTrue, TagFalse:
		return 0
	case TagNumber, TagObject, TagArray, TagLongString:
		return 1
	default:
		return 0
	}
}

// EncodeNumber returns the single extra word for a float64, IEEE-754
// little-endian as spec.md §4.6 requires.
func EncodeNumber(f float64) uint64 {
	return math.Float64bits(f)
}

// DecodeNumber reverses EncodeNumber.
func DecodeNumber(word uint64) float64 {
	return math.Float64frombits(word)
}

// EncodeAddr returns the single extra word for an out-of-line value
// (object/array root, or long-string chain head).
func EncodeAddr(a page.Addr) uint64 { return uint64(a) }

// DecodeAddr reverses EncodeAddr.
func DecodeAddr(word uint64) page.Addr { return page.Addr(word) }

// EncodeShortString packs s into ⌈len(s)/8⌉ words, low byte first within
// each word, per spec.md §4.6.
func EncodeShortString(s string) []uint64 {
	n := (len(s) + 7) / 8
	words := make([]uint64, n)
	for i := 0; i < len(s); i++ {
		words[i/8] |= uint64(s[i]) << (8 * uint(i%8))
	}
	return words
}

// DecodeShortString reverses EncodeShortString given the original length.
func DecodeShortString(words []uint64, length int) string {
	buf := make([]byte, length)
	for i := 0; i < length; i++ {
		buf[i] = byte(words[i/8] >> (8 * uint(i%8)))
	}
	return string(buf)
}


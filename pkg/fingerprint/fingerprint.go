// Package fingerprint derives short identifiers from diagram source text.
//
// A fingerprint is a 32-bit rolling hash over the first [PrefixLen] UTF-16
// code units of the source, printed in base 36. It is stable for the
// lifetime of a process and is only meant as a cache key component: two
// sources sharing the same prefix collide, and so may unrelated sources.
package fingerprint

import (
	"strconv"
	"unicode/utf16"
)

// PrefixLen is the number of UTF-16 code units hashed.
const PrefixLen = 500

// Of returns the fingerprint of source. It is total: the empty string
// yields "0".
func Of(source string) string {
	units := utf16.Encode([]rune(source))
	if len(units) > PrefixLen {
		units = units[:PrefixLen]
	}
	return strconv.FormatInt(int64(hash(units)), 36)
}

// hash is h = h*31 + c over 32-bit signed arithmetic.
func hash(units []uint16) int32 {
	var h int32
	for _, c := range units {
		h = (h << 5) - h + int32(c)
	}
	return h
}

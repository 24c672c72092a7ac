// Package randlevel generates skip-list node heights with a geometric
// distribution, matching the source's randomizer.c.
package randlevel

import (
	"crypto/rand"
	"fmt"
	"math/bits"
)

// RandomLevel returns a height in [1, maxHeight] such that
// P(h) = 2*P(h+1) for h in [1, maxHeight-1]. maxHeight must be in [1, 32];
// RandomLevel panics otherwise, since an out-of-range maxHeight is a
// programmer error rather than a runtime condition (the skip list
// constructing an invalid instance is the caller's bug, not something a
// level generator can recover from).
func RandomLevel(maxHeight int) int {
	if maxHeight < 1 || maxHeight > 32 {
		panic(fmt.Sprintf("randlevel: maxHeight %d out of range [1,32]", maxHeight))
	}

	// A random 32-bit value with the top bit forced on, so that some bit
	// is always set and we never need to special-case an all-zero sample.
	r := randomUint32() | (1 << 31)

	firstOnePosition := bits.TrailingZeros32(r)
	if firstOnePosition >= maxHeight {
		// Wrapping a value >= maxHeight with a mod operation preserves the
		// geometric distribution: the top bit we forced on never falls in
		// [0, maxHeight-1] when maxHeight < 32, so every wrapped value
		// still carries the same relative likelihood as an unwrapped one.
		firstOnePosition %= maxHeight
	}

	return firstOnePosition + 1
}

func randomUint32() uint32 {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic(fmt.Sprintf("randlevel: reading random bytes: %v", err))
	}
	return uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24
}

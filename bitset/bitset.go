// Package bitset is a fixed-size set of small integers, used as the visited set
// of router path searches.
package bitset

import (
	"fmt"
	"math/bits"
)

type BitSet []uint64

// NewBitSet returns a set able to hold indexes below n.
func NewBitSet(n uint64) BitSet {
	return make(BitSet, (n+63)/64)
}

func word(index uint64) (uint64, uint64) {
	return index / 64, uint64(1) << (index % 64)
}

func (b BitSet) IsSet(index uint64) bool {
	w, mask := word(index)
	return b[w]&mask != 0
}

func (b BitSet) Set(index uint64) {
	w, mask := word(index)
	b[w] |= mask
}

func (b BitSet) Unset(index uint64) {
	w, mask := word(index)
	b[w] &^= mask
}

// Count returns the number of set bits.
func (b BitSet) Count() int {
	n := 0
	for _, w := range b {
		n += bits.OnesCount64(w)
	}
	return n
}

func (b BitSet) Any() bool {
	for _, w := range b {
		if w != 0 {
			return true
		}
	}
	return false
}

func (b BitSet) Clear() {
	clear(b)
}

func (b BitSet) Clone() BitSet {
	return append(BitSet(nil), b...)
}

// SetFrom overwrites b with o. Both sets must have the same size.
func (b BitSet) SetFrom(o BitSet) {
	if len(b) != len(o) {
		panic(fmt.Sprintf("bitsets must be same size: got %d vs %d", len(b), len(o)))
	}
	copy(b, o)
}

package heapwalk

import "math/bits"

// A Set is a fixed-size bitset over allocation indices [0, n). It backs
// both the per-query "visited" bitset and the persisted "derived" set
// (spec.md §3, §4.7). Per the Design Notes, this keeps the original
// word-packed vector<bool> design rather than a generic bool slice: the
// NextUsed scan is on the hot path of every query visitor.
type Set struct {
	n     int
	words []uint64
}

// NewSet returns an empty Set over allocation indices [0, n).
func NewSet(n int) *Set {
	return &Set{n: n, words: make([]uint64, (n+63)/64)}
}

// Len returns n, the size this set was constructed with.
func (s *Set) Len() int { return s.n }

func (s *Set) Add(i AllocationIndex) {
	s.words[i/64] |= 1 << (uint(i) % 64)
}

func (s *Set) Remove(i AllocationIndex) {
	s.words[i/64] &^= 1 << (uint(i) % 64)
}

func (s *Set) Has(i AllocationIndex) bool {
	return s.words[i/64]&(1<<(uint(i)%64)) != 0
}

// Clear empties the set in place.
func (s *Set) Clear() {
	for i := range s.words {
		s.words[i] = 0
	}
}

// NextUsed returns the smallest index >= from that is in the set, or n if
// none. Used to enumerate a sparse set in increasing order without
// scanning every index individually.
func (s *Set) NextUsed(from AllocationIndex) AllocationIndex {
	i := int(from)
	if i < 0 {
		i = 0
	}
	wordIdx := i / 64
	if wordIdx >= len(s.words) {
		return AllocationIndex(s.n)
	}
	// Mask off bits below i in the first word.
	w := s.words[wordIdx] &^ (1<<(uint(i)%64) - 1)
	for {
		if w != 0 {
			bit := wordIdx*64 + bits.TrailingZeros64(w)
			if bit >= s.n {
				return AllocationIndex(s.n)
			}
			return AllocationIndex(bit)
		}
		wordIdx++
		if wordIdx >= len(s.words) {
			return AllocationIndex(s.n)
		}
		w = s.words[wordIdx]
	}
}

// Assign makes s equal to other. Both must have the same Len.
func (s *Set) Assign(other *Set) {
	copy(s.words, other.words)
}

// UnionWith sets s to the union of s and other.
func (s *Set) UnionWith(other *Set) {
	for i := range s.words {
		s.words[i] |= other.words[i]
	}
}

// Subtract removes from s every index present in other.
func (s *Set) Subtract(other *Set) {
	for i := range s.words {
		s.words[i] &^= other.words[i]
	}
}

// Count returns the number of set bits.
func (s *Set) Count() int {
	n := 0
	for _, w := range s.words {
		n += bits.OnesCount64(w)
	}
	return n
}

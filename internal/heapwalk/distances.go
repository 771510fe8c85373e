package heapwalk

// IndexedDistances is a per-allocation distance from the nearest anchor of
// one category (spec.md §3). 0 means "not reached", 1 means "is an anchor
// point", k>1 means "k-1 hops from an anchor point". Storage starts at 8
// bits per entry and widens to 16 then 32 on the first value that would
// overflow the current width, so the common case (shallow, small heaps)
// stays cache-dense without a fixed worst-case allocation.
type IndexedDistances struct {
	n     int
	width int // bytes per entry: 1, 2, or 4
	d8    []uint8
	d16   []uint16
	d32   []uint32
}

// NewIndexedDistances returns a distance vector over n allocations, all
// initially "not reached".
func NewIndexedDistances(n int) *IndexedDistances {
	return &IndexedDistances{n: n, width: 1, d8: make([]uint8, n)}
}

func sentinel(width int) uint32 {
	switch width {
	case 1:
		return 0xFF
	case 2:
		return 0xFFFF
	default:
		return 0xFFFFFFFF
	}
}

// Get returns the current distance for allocation i.
func (d *IndexedDistances) Get(i AllocationIndex) uint32 {
	switch d.width {
	case 1:
		v := uint32(d.d8[i])
		if v == sentinel(1) {
			return sentinel(1) // "far": see IsFarSentinel
		}
		return v
	case 2:
		v := uint32(d.d16[i])
		if v == sentinel(2) {
			return sentinel(2)
		}
		return v
	default:
		return d.d32[i]
	}
}

// IsFarSentinel reports whether v is the narrow-width overflow marker for
// the width active when v was read. Per spec.md §9 (Open Questions), the
// anchor-chain walker treats two equal distances as a valid strict
// decrease when both equal this sentinel, deliberately preserved from the
// original implementation to avoid missing chains beyond the
// narrow-width horizon.
func (d *IndexedDistances) IsFarSentinel(v uint32) bool {
	return d.width < 4 && v == sentinel(d.width)
}

// Set records distance v for allocation i, widening storage first if v
// would collide with the current width's overflow sentinel.
func (d *IndexedDistances) Set(i AllocationIndex, v uint32) {
	for d.width < 4 && v >= sentinel(d.width) {
		d.widen()
	}
	switch d.width {
	case 1:
		d.d8[i] = uint8(v)
	case 2:
		d.d16[i] = uint16(v)
	default:
		d.d32[i] = v
	}
}

func (d *IndexedDistances) widen() {
	switch d.width {
	case 1:
		d.d16 = make([]uint16, d.n)
		for i, v := range d.d8 {
			d.d16[i] = uint16(v)
		}
		d.d8 = nil
		d.width = 2
	case 2:
		d.d32 = make([]uint32, d.n)
		for i, v := range d.d16 {
			d.d32[i] = uint32(v)
		}
		d.d16 = nil
		d.width = 4
	}
}

// Reached reports whether allocation i has a recorded distance (is not 0).
func (d *IndexedDistances) Reached(i AllocationIndex) bool {
	return d.Get(i) != 0
}

// IsAnchorPoint reports whether allocation i is directly anchored in this
// category (distance == 1).
func (d *IndexedDistances) IsAnchorPoint(i AllocationIndex) bool {
	return d.Get(i) == 1
}

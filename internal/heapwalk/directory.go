// Package heapwalk is the core of corewalk: given an Allocation Directory
// built by some external, allocator-specific finder, it builds the
// Allocation Graph, anchors allocations against static memory/stacks/
// registers/external reasons, tags allocations with structural patterns,
// and evaluates the set-based query language described by spec.md.
//
// Nothing in this package knows how to read a core file or how any
// particular malloc implementation lays out its chunks; those are
// external collaborators (spec.md §6) satisfied here only by the small
// interfaces this package declares.
package heapwalk

import (
	"fmt"
	"sort"

	"github.com/heaptrace/corewalk/internal/image"
)

// Address is a virtual address in the inferior. corewalk represents it as
// a plain 64-bit value regardless of the inferior's actual pointer width;
// 32-bit inferiors have their pointers zero-extended on read. This keeps
// every type in this package free of the Offset type parameter the
// original C++ implementation threaded through nearly everything.
type Address = image.Address

// Reader is the read-only memory access corewalk needs from a process
// image. *image.Image satisfies it; tests satisfy it with small fakes.
type Reader interface {
	// ReadPtr reads a pointer-sized, little-endian word at a. ok is false
	// if a is unmapped.
	ReadPtr(a Address) (word uint64, ok bool)
	// FindMappedMemoryImage returns up to max mapped bytes starting at a,
	// or nil/a shorter slice if a is partially or wholly unmapped.
	FindMappedMemoryImage(a Address, max int64) []byte
}

// AllocationIndex identifies one allocation in a Directory. Indices are
// dense: 0..NumAllocations()-1, assigned in address order.
type AllocationIndex int

// An Allocation is an immutable (address, size, used) tuple: a byte range
// the allocator either currently considers live (Used) or has on a free
// list. Address+Size is the exclusive upper bound of the payload.
type Allocation struct {
	Address Address
	Size    int64
	Used    bool
}

func (a Allocation) Limit() Address { return a.Address.Add(a.Size) }

func (a Allocation) Contains(addr Address) bool {
	return addr >= a.Address && addr < a.Limit()
}

// Directory is the canonical, sorted, non-overlapping list of allocations
// in a process image (spec.md §3 "Allocation Directory").
type Directory struct {
	allocs        []Allocation
	threadCached  []bool  // parallel to allocs
	minRequest    []int64 // parallel to allocs; same len as allocs or nil
}

// NewDirectory builds a Directory from allocations already sorted by
// address. threadCached and minRequestSize are optional per-allocation
// side tables supplied by the finder that built allocs; either may be nil,
// in which case ThreadCached always reports false and MinRequestSize falls
// back to the allocation's own Size. It is a fatal contract violation
// (spec.md §7, "Invariant violations") for allocs to be unsorted or to
// contain overlapping ranges: that indicates a bug in the finder, not bad
// input, so NewDirectory panics rather than returning an error.
func NewDirectory(allocs []Allocation, threadCached []bool, minRequestSize []int64) *Directory {
	for i := 1; i < len(allocs); i++ {
		if allocs[i].Address < allocs[i-1].Limit() {
			panic(fmt.Sprintf("allocation %d at %s overlaps allocation %d ending at %s",
				i, allocs[i].Address, i-1, allocs[i-1].Limit()))
		}
	}
	if threadCached != nil && len(threadCached) != len(allocs) {
		panic("threadCached length mismatch")
	}
	if minRequestSize != nil && len(minRequestSize) != len(allocs) {
		panic("minRequestSize length mismatch")
	}
	return &Directory{allocs: allocs, threadCached: threadCached, minRequest: minRequestSize}
}

// NumAllocations returns N, the number of allocations. An AllocationIndex
// equal to N is the directory-wide "not an allocation" sentinel.
func (d *Directory) NumAllocations() int {
	return len(d.allocs)
}

// Allocation returns the i'th allocation. It panics if i is out of range:
// per spec.md §7 this is a fatal contract violation, not a recoverable
// condition, because every caller is expected to have validated i against
// NumAllocations (or gotten it from IndexOf/an iterator).
func (d *Directory) Allocation(i AllocationIndex) Allocation {
	return d.allocs[i]
}

// IndexOf returns the index of the allocation containing a, or
// NumAllocations() if no allocation contains a. O(log N).
func (d *Directory) IndexOf(a Address) AllocationIndex {
	n := len(d.allocs)
	i := sort.Search(n, func(i int) bool { return d.allocs[i].Limit() > a })
	if i < n && d.allocs[i].Contains(a) {
		return AllocationIndex(i)
	}
	return AllocationIndex(n)
}

// ThreadCached reports whether allocation i sits on a per-thread cache
// free list rather than a global one. This predicate is specific to
// allocators with thread caches (e.g. TCMalloc-style arenas); directories
// built from allocators without the concept simply pass threadCached=nil
// and every allocation reports false.
func (d *Directory) ThreadCached(i AllocationIndex) bool {
	if d.threadCached == nil {
		return false
	}
	return d.threadCached[i]
}

// MinRequestSize returns the smallest user-requested size compatible with
// allocation i's size-class bucket, used by higher layers to disambiguate
// "this is the whole object" from "this is a bucket with padding after a
// smaller object" heuristics. Falls back to the allocation's true Size
// when the finder didn't supply bucket information.
func (d *Directory) MinRequestSize(i AllocationIndex) int64 {
	if d.minRequest == nil {
		return d.allocs[i].Size
	}
	return d.minRequest[i]
}

// ForEachAllocation calls fn for every allocation index in address order.
// If fn returns false, iteration stops early.
func (d *Directory) ForEachAllocation(fn func(AllocationIndex) bool) {
	for i := range d.allocs {
		if !fn(AllocationIndex(i)) {
			return
		}
	}
}

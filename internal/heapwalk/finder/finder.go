// Package finder is the one concrete Allocation Directory producer corewalk
// ships: a glibc-style malloc chunk walker. spec.md §6 treats directory
// construction as an external collaborator corewalk doesn't specify; this
// package exists only so cmd/corewalk has something to run against a real
// ELF core file end to end.
//
// Chunk layout and the doubly-linked in-use/free bit conventions are
// grounded on chap's Linux/LibcMallocMainArenaRunDescriber.h and
// Linux/LibcMallocMmappedAllocationDescriber.h: every chunk begins with a
// pointer-sized prev_size field (reused as the previous chunk's last word
// of payload when the previous chunk is in use) followed by a size field
// whose low three bits carry flags.
package finder

import (
	"sort"

	"github.com/heaptrace/corewalk/internal/heapwalk"
	"github.com/heaptrace/corewalk/internal/image"
)

// Chunk size-field flag bits, per glibc's malloc_chunk layout.
const (
	prevInUse   = 0x1
	isMmapped   = 0x2
	nonMainArena = 0x4
	sizeMask    = ^uint64(0x7)
)

// minChunkSize is the smallest chunk glibc ever hands out: two header
// words plus two body words.
func minChunkSize(ptrSize int64) int64 { return 4 * ptrSize }

// HeapMappings guesses which of img's mappings back the process's malloc
// arenas: anonymous (no backing file, so not an mmap'd shared library or
// file), writable, non-executable, and not currently holding any thread's
// stack pointer. This is a heuristic, not a precise arena discovery (chap's
// real finder reads glibc's arena list from its data segment); it is good
// enough to walk a single-threaded or lightly-threaded program's main heap
// and any large mmapped chunks, which is all the demonstration finder
// promises.
func HeapMappings(img *image.Image) []*image.Mapping {
	stackPages := make(map[image.Address]bool)
	for _, t := range img.Threads() {
		stackPages[t.SP&^image.Address(0xfff)] = true
	}

	var out []*image.Mapping
	for _, m := range img.Mappings() {
		if m.Perm()&(image.Read|image.Write) != image.Read|image.Write {
			continue
		}
		if m.Perm()&image.Exec != 0 {
			continue
		}
		if name, _ := m.Source(); name != "" {
			continue
		}
		if stackPages[m.Min()&^image.Address(0xfff)] {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Min() < out[j].Min() })
	return out
}

// Build walks every mapping HeapMappings returns as a sequence of glibc
// chunks and returns a Directory of the allocations it finds: in-use
// chunks become Used allocations (the payload pointer glibc returns to the
// caller, i.e. the chunk address plus two header words), free chunks become
// unused allocations the same way spec.md's Directory expects both to
// coexist. A chunk whose size field is zero or whose claimed extent runs
// past the mapping ends the walk of that mapping early rather than
// panicking: a truncated or partially-overwritten core is expected input,
// not a contract violation.
func Build(img *image.Image) *heapwalk.Directory {
	ptrSize := img.PtrSize()
	var allocs []heapwalk.Allocation

	for _, m := range HeapMappings(img) {
		allocs = append(allocs, walkHeap(img, m, ptrSize)...)
	}
	allocs = append(allocs, MmappedAllocations(img)...)

	sort.Slice(allocs, func(i, j int) bool { return allocs[i].Address < allocs[j].Address })
	return heapwalk.NewDirectory(allocs, nil, nil)
}

// walkHeap walks one contiguous heap mapping chunk by chunk. addr always
// points at the start of a chunk header (the prev_size field); the usable
// payload for an in-use chunk begins 2*ptrSize bytes later and runs
// through the next chunk's prev_size word.
func walkHeap(img *image.Image, m *image.Mapping, ptrSize int64) []heapwalk.Allocation {
	var allocs []heapwalk.Allocation
	min, max := m.Min(), m.Max()

	addr := min
	for addr.Add(2*ptrSize) < max {
		sizeField, ok := img.ReadPtr(addr.Add(ptrSize))
		if !ok {
			break
		}
		if sizeField&isMmapped != 0 {
			// Individually mmapped chunks are whole mappings of their own
			// (LibcMallocMmappedAllocationDescriber.h); walkHeap never sees
			// one as a sub-chunk of a multi-chunk arena, but guard anyway.
			break
		}
		chunkSize := int64(sizeField & sizeMask)
		if chunkSize < minChunkSize(ptrSize) {
			break
		}
		next := addr.Add(chunkSize)
		if next.Add(ptrSize) > max {
			break
		}

		nextSizeField, ok := img.ReadPtr(next.Add(ptrSize))
		thisInUse := !ok || nextSizeField&prevInUse != 0

		payload := addr.Add(2 * ptrSize)
		payloadSize := chunkSize - ptrSize

		allocs = append(allocs, heapwalk.Allocation{
			Address: payload,
			Size:    payloadSize,
			Used:    thisInUse,
		})

		addr = next
	}
	return allocs
}

// MmappedAllocations finds individually-mmapped chunks: mappings whose
// first chunk header carries IS_MMAPPED. Each such mapping is exactly one
// allocation, starting two words in per
// LibcMallocMmappedAllocationDescriber.h.
func MmappedAllocations(img *image.Image) []heapwalk.Allocation {
	ptrSize := img.PtrSize()
	var allocs []heapwalk.Allocation
	for _, m := range img.Mappings() {
		if m.Perm()&image.Read == 0 {
			continue
		}
		if name, _ := m.Source(); name != "" {
			continue
		}
		if m.Size() < 2*ptrSize {
			continue
		}
		sizeField, ok := img.ReadPtr(m.Min().Add(ptrSize))
		if !ok || sizeField&isMmapped == 0 {
			continue
		}
		chunkSize := int64(sizeField & sizeMask)
		if chunkSize <= 2*ptrSize || chunkSize > m.Size() {
			continue
		}
		allocs = append(allocs, heapwalk.Allocation{
			Address: m.Min().Add(2 * ptrSize),
			Size:    chunkSize - 2*ptrSize,
			Used:    true,
		})
	}
	return allocs
}

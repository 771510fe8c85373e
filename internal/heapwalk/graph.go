package heapwalk

import "sort"

// EdgeIndex identifies one edge in the dense [0, TotalEdges()) namespace.
// An edge has two indices: its position in the outgoing CSR array (for its
// source) and its position in the incoming CSR array (for its target).
// OutgoingToIncoming/IncomingToOutgoing convert between them.
type EdgeIndex int

// ObscuredReferenceChecker resolves addresses that look like compressed or
// tagged pointers (not a plain virtual address) to an allocation index.
// Optional: a nil checker means no allocation uses obscured references.
type ObscuredReferenceChecker interface {
	IndexOf(word uint64) AllocationIndex
}

// Graph is the compact, bidirectional edge index over a Directory's
// allocations (spec.md §3 "Graph (CSR)", §4.1). It is built once and never
// mutated afterward.
type Graph struct {
	dir      *Directory
	reader   Reader
	ptrSize  int64
	obscured ObscuredReferenceChecker

	firstOutgoing []int32
	outgoing      []AllocationIndex
	firstIncoming []int32
	incoming      []AllocationIndex
}

// BuildGraph builds the Allocation Graph for dir, reading allocation
// payloads through reader. obscured may be nil. This runs the two-pass
// streaming algorithm of spec.md §4.1: pass one counts edges per target so
// storage can be allocated exactly once, pass two fills both CSR arrays in
// an order that keeps each array's inner index lists strictly increasing
// (required for GetOutgoingEdgeIndex/GetIncomingEdgeIndex's binary search).
func BuildGraph(dir *Directory, reader Reader, ptrSize int64, obscured ObscuredReferenceChecker) *Graph {
	g := &Graph{dir: dir, reader: reader, ptrSize: ptrSize, obscured: obscured}
	n := dir.NumAllocations()
	g.firstOutgoing = make([]int32, n+1)
	g.firstIncoming = make([]int32, n+1)

	img := NewContiguousImage(reader, ptrSize)

	// Pass 1: count. firstIncoming[t] temporarily holds the number of
	// distinct sources pointing at t; firstOutgoing[i] temporarily holds
	// the number of distinct targets of i.
	var total int32
	targets := make([]AllocationIndex, 0, 64)
	for i := 0; i < n; i++ {
		targets = g.distinctTargets(AllocationIndex(i), img, targets[:0])
		g.firstOutgoing[i] = int32(len(targets))
		total += int32(len(targets))
		for _, t := range targets {
			g.firstIncoming[t]++
		}
	}
	// Convert firstOutgoing from per-source counts to prefix sums.
	{
		var run int32
		for i := 0; i < n; i++ {
			c := g.firstOutgoing[i]
			g.firstOutgoing[i] = run
			run += c
		}
		g.firstOutgoing[n] = run
	}
	// Convert firstIncoming from per-target counts to inclusive prefix
	// sums: firstIncoming[t] is the end of t's range until pass 2
	// decrements it back down to the start.
	{
		var run int32
		for t := 0; t < n; t++ {
			run += g.firstIncoming[t]
			g.firstIncoming[t] = run
		}
		g.firstIncoming[n] = run
	}

	g.outgoing = make([]AllocationIndex, total)
	g.incoming = make([]AllocationIndex, total)

	// Pass 2: fill. Traverse sources in reverse order: for any fixed
	// target, the sources that reach it in reverse address order are
	// written to incoming[] in increasing order, because each write
	// decrements that target's incoming cursor by one.
	outCursor := make([]int32, n)
	copy(outCursor, g.firstOutgoing[:n])
	for i := n - 1; i >= 0; i-- {
		targets = g.distinctTargets(AllocationIndex(i), img, targets[:0])
		for _, t := range targets {
			g.outgoing[outCursor[i]] = t
			outCursor[i]++
			g.firstIncoming[t]--
			g.incoming[g.firstIncoming[t]] = AllocationIndex(i)
		}
	}
	return g
}

// distinctTargets scans source's payload for pointer-aligned words that
// resolve to a distinct allocation other than source itself (used or
// free - edges to a free target are still edges), and appends the
// sorted, de-duplicated result to buf.
func (g *Graph) distinctTargets(source AllocationIndex, img *ContiguousImage, buf []AllocationIndex) []AllocationIndex {
	a := g.dir.Allocation(source)
	img.Reset(a.Address, a.Size)
	n := AllocationIndex(g.dir.NumAllocations())
	for w := int64(0); w < img.NumWords(); w++ {
		word := img.Word(w)
		t := g.targetIndex(word)
		if t == n || t == source {
			continue
		}
		buf = append(buf, t)
	}
	if len(buf) < 2 {
		return buf
	}
	sort.Slice(buf, func(i, j int) bool { return buf[i] < buf[j] })
	out := buf[:1]
	for _, t := range buf[1:] {
		if t != out[len(out)-1] {
			out = append(out, t)
		}
	}
	return out
}

// targetIndex resolves a raw word to an allocation index, consulting the
// obscured-reference checker if the word isn't a plain address that lands
// in any allocation. An edge exists regardless of whether its target is
// used or free (spec.md §3/§4.1's edge definition carries no such
// restriction, matching the original's FindEdges(): "we find all the
// edges, regardless of whether the source or target is used or free").
// Used/free filtering belongs at anchor-point discovery and at query
// time, not here. Returns NumAllocations() if neither resolves it.
func (g *Graph) targetIndex(word uint64) AllocationIndex {
	n := AllocationIndex(g.dir.NumAllocations())
	if idx := g.dir.IndexOf(Address(word)); idx != n {
		return idx
	}
	if g.obscured != nil {
		if idx := g.obscured.IndexOf(word); idx != n {
			return idx
		}
	}
	return n
}

// TotalEdges returns E, the number of edges in the graph.
func (g *Graph) TotalEdges() int {
	return len(g.outgoing)
}

// Outgoing returns the targets of source's outgoing edges, strictly
// increasing by index.
func (g *Graph) Outgoing(source AllocationIndex) []AllocationIndex {
	if int(source) >= g.dir.NumAllocations() {
		return nil
	}
	return g.outgoing[g.firstOutgoing[source]:g.firstOutgoing[source+1]]
}

// Incoming returns the sources of target's incoming edges, strictly
// increasing by index.
func (g *Graph) Incoming(target AllocationIndex) []AllocationIndex {
	if int(target) >= g.dir.NumAllocations() {
		return nil
	}
	return g.incoming[g.firstIncoming[target]:g.firstIncoming[target+1]]
}

// OutgoingRange returns the half-open [first,past) range of edge indices
// for source's outgoing edges, in the outgoing-edge-index namespace.
func (g *Graph) OutgoingRange(source AllocationIndex) (first, past EdgeIndex) {
	if int(source) >= g.dir.NumAllocations() {
		e := EdgeIndex(g.TotalEdges())
		return e, e
	}
	return EdgeIndex(g.firstOutgoing[source]), EdgeIndex(g.firstOutgoing[source+1])
}

// IncomingRange returns the half-open [first,past) range of edge indices
// for target's incoming edges, in the incoming-edge-index namespace.
func (g *Graph) IncomingRange(target AllocationIndex) (first, past EdgeIndex) {
	if int(target) >= g.dir.NumAllocations() {
		e := EdgeIndex(g.TotalEdges())
		return e, e
	}
	return EdgeIndex(g.firstIncoming[target]), EdgeIndex(g.firstIncoming[target+1])
}

// GetOutgoingEdgeIndex returns the outgoing-namespace edge index for the
// edge source->target, or TotalEdges() if no such edge exists.
func (g *Graph) GetOutgoingEdgeIndex(source, target AllocationIndex) EdgeIndex {
	none := EdgeIndex(g.TotalEdges())
	if int(source) >= g.dir.NumAllocations() || int(target) >= g.dir.NumAllocations() {
		return none
	}
	lo, hi := g.firstOutgoing[source], g.firstOutgoing[source+1]
	for lo < hi {
		mid := (lo + hi) / 2
		t := g.outgoing[mid]
		switch {
		case t == target:
			return EdgeIndex(mid)
		case t < target:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return none
}

// GetIncomingEdgeIndex returns the incoming-namespace edge index for the
// edge source->target, or TotalEdges() if no such edge exists.
func (g *Graph) GetIncomingEdgeIndex(source, target AllocationIndex) EdgeIndex {
	none := EdgeIndex(g.TotalEdges())
	if int(source) >= g.dir.NumAllocations() || int(target) >= g.dir.NumAllocations() {
		return none
	}
	lo, hi := g.firstIncoming[target], g.firstIncoming[target+1]
	for lo < hi {
		mid := (lo + hi) / 2
		s := g.incoming[mid]
		switch {
		case s == source:
			return EdgeIndex(mid)
		case s < source:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return none
}

// GetTargetForOutgoing returns the target of the edge at outgoing-namespace
// index e, or NumAllocations() if e is out of range.
func (g *Graph) GetTargetForOutgoing(e EdgeIndex) AllocationIndex {
	if int(e) >= len(g.outgoing) {
		return AllocationIndex(g.dir.NumAllocations())
	}
	return g.outgoing[e]
}

// GetSourceForIncoming returns the source of the edge at incoming-namespace
// index e, or NumAllocations() if e is out of range.
func (g *Graph) GetSourceForIncoming(e EdgeIndex) AllocationIndex {
	if int(e) >= len(g.incoming) {
		return AllocationIndex(g.dir.NumAllocations())
	}
	return g.incoming[e]
}

// TargetAllocationIndex resolves addr, known to be read from within
// source's payload, to the allocation it points into - the same
// resolution BuildGraph used, exposed for query-time use (e.g. following
// a /extend rule's member offset by hand). source is accepted to match
// spec.md §6's target_allocation_index(source, addr) signature; unlike
// the original's GetTargetIndex, resolution here is a plain directory
// lookup rather than a binary search restricted to source's already-
// established outgoing edges.
func (g *Graph) TargetAllocationIndex(source AllocationIndex, addr Address) AllocationIndex {
	return g.dir.IndexOf(addr)
}

// HasNoOutgoing reports whether source has zero outgoing edges.
func (g *Graph) HasNoOutgoing(source AllocationIndex) bool {
	if int(source) >= g.dir.NumAllocations() {
		return true
	}
	return g.firstOutgoing[source] == g.firstOutgoing[source+1]
}

// Directory returns the Directory this graph was built over.
func (g *Graph) Directory() *Directory { return g.dir }

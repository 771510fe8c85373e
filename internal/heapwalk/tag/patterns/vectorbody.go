// Package patterns holds the built-in Taggers and Describers corewalk
// registers by default, one file per pattern.
package patterns

import (
	"github.com/heaptrace/corewalk/internal/heapwalk"
)

const numOffsetsInHeader = 3

// VectorBodyTagger recognizes the backing store of a C++-style vector: an
// allocation referenced by a three-word header of the form
// [begin, useLimit, capacityLimit], either from an anchor (a static or
// stack location holding that header directly) or from a holder
// allocation whose own words contain the header.
//
// Recognition is deliberately weak: a vector body carries no signature of
// its own, so it is found only by the shape of what points at it. The
// Tagger runs last (WEAK_CHECK) so sturdier patterns get first claim on
// any allocation this one might also match.
type VectorBodyTagger struct {
	g       *heapwalk.Graph
	reader  heapwalk.Reader
	aa      *heapwalk.AnchorAnalysis
	tainted *heapwalk.EdgePredicate
	favored *heapwalk.EdgePredicate
	ptrSize int64

	// isKnownVtablePointer reports whether word looks like a vtable
	// pointer; used to prefer a typed-object classification over a
	// false vector-body match when both a vtable-shaped word and a
	// vector-shaped header could explain the same allocation. A nil
	// func (the default) never suppresses a match.
	isKnownVtablePointer func(heapwalk.Address) bool

	tagIndex heapwalk.TagIndex
}

// NewVectorBodyTagger registers the "%VectorBody" tag and returns a
// Tagger ready to add to the RunTaggers pass. isKnownVtablePointer may be
// nil.
func NewVectorBodyTagger(h *heapwalk.TagHolder, g *heapwalk.Graph, reader heapwalk.Reader, ptrSize int64, aa *heapwalk.AnchorAnalysis, tainted, favored *heapwalk.EdgePredicate, isKnownVtablePointer func(heapwalk.Address) bool) *VectorBodyTagger {
	return &VectorBodyTagger{
		g: g, reader: reader, aa: aa, tainted: tainted, favored: favored, ptrSize: ptrSize,
		isKnownVtablePointer: isKnownVtablePointer,
		tagIndex:             h.RegisterTag("%VectorBody", false, true),
	}
}

func (t *VectorBodyTagger) Name() string { return "VectorBody" }

// TagFromAllocation looks for a static or stack anchor holding the
// [begin, useLimit, capacityLimit] header that points at allocation i.
func (t *VectorBodyTagger) TagFromAllocation(h *heapwalk.TagHolder, g *heapwalk.Graph, i heapwalk.AllocationIndex, phase heapwalk.Phase, isUnsigned bool) bool {
	switch phase {
	case heapwalk.QuickInitialCheck:
		if h.GetTagIndex(i) != heapwalk.NoTag {
			return true
		}
		if !isUnsigned {
			// A value that resolves to a known signature or vtable is
			// more likely a typed object than raw vector storage.
			return true
		}
		return g.Directory().Allocation(i).Size < 2*t.ptrSize
	case heapwalk.WeakCheck:
		if h.GetTagIndex(i) != heapwalk.NoTag {
			return true
		}
		a := g.Directory().Allocation(i)
		if t.aa != nil {
			if !t.checkAnchorIn(h, i, a, t.aa.StaticAnchors(i)) {
				t.checkAnchorIn(h, i, a, t.aa.StackAnchors(i))
			}
		}
		// Only claim i as done if the anchor check actually tagged it;
		// otherwise fall through to TagFromReferenced so the same pass
		// still considers i as a holder embedding some other body's
		// header (the RunTaggers loop never calls TagFromReferenced for
		// i once TagFromAllocation has returned true for it).
		return h.GetTagIndex(i) != heapwalk.NoTag
	}
	return false
}

// TagFromReferenced looks for a holder allocation whose own words embed
// the [begin, useLimit, capacityLimit] header pointing at one of its
// still-untagged outgoing targets.
func (t *VectorBodyTagger) TagFromReferenced(h *heapwalk.TagHolder, g *heapwalk.Graph, i heapwalk.AllocationIndex, phase heapwalk.Phase, isUnsigned bool) bool {
	switch phase {
	case heapwalk.QuickInitialCheck:
		return g.Directory().Allocation(i).Size < int64(numOffsetsInHeader)*t.ptrSize
	case heapwalk.WeakCheck:
		t.checkEmbeddedVectors(h, g, i)
	}
	return false
}

func (t *VectorBodyTagger) checkAnchorIn(h *heapwalk.TagHolder, bodyIndex heapwalk.AllocationIndex, body heapwalk.Allocation, anchors []heapwalk.Address) bool {
	bodyAddress := body.Address
	bodyLimit := body.Limit()
	minCapacity := t.g.Directory().MinRequestSize(bodyIndex)
	if minCapacity < 1 {
		minCapacity = 1
	}
	for _, anchor := range anchors {
		w0, ok0 := t.reader.ReadPtr(anchor)
		w1, ok1 := t.reader.ReadPtr(anchor.Add(t.ptrSize))
		w2, ok2 := t.reader.ReadPtr(anchor.Add(2 * t.ptrSize))
		if !ok0 || !ok1 || !ok2 {
			continue
		}
		if heapwalk.Address(w0) != bodyAddress {
			continue
		}
		useLimit := heapwalk.Address(w1)
		if useLimit < bodyAddress {
			continue
		}
		capacityLimit := heapwalk.Address(w2)
		if capacityLimit < useLimit || capacityLimit > bodyLimit || int64(capacityLimit-bodyAddress) < minCapacity {
			continue
		}
		h.TagAllocation(bodyIndex, t.tagIndex)
		t.markTaintedOutgoingEdges(bodyIndex, bodyAddress, useLimit)
		return true
	}
	return false
}

func (t *VectorBodyTagger) markTaintedOutgoingEdges(bodyIndex heapwalk.AllocationIndex, bodyAddress, useLimit heapwalk.Address) {
	if t.tainted == nil {
		return
	}
	t.tainted.SetAllOutgoing(bodyIndex, true)
	aligned := heapwalk.Address(int64(useLimit) &^ (t.ptrSize - 1))
	n := heapwalk.AllocationIndex(t.g.Directory().NumAllocations())
	for addr := bodyAddress; addr < aligned; addr = addr.Add(t.ptrSize) {
		word, ok := t.reader.ReadPtr(addr)
		if !ok || word == 0 {
			continue
		}
		target := t.g.TargetAllocationIndex(bodyIndex, heapwalk.Address(word))
		if target != n {
			t.tainted.Set(bodyIndex, target, false)
		}
	}
}

func (t *VectorBodyTagger) checkEmbeddedVectors(h *heapwalk.TagHolder, g *heapwalk.Graph, holder heapwalk.AllocationIndex) {
	dir := g.Directory()
	a := dir.Allocation(holder)
	img := heapwalk.NewContiguousImage(t.reader, t.ptrSize)
	img.Reset(a.Address, a.Size)
	n := heapwalk.AllocationIndex(dir.NumAllocations())
	numWords := img.NumWords()

	for w := int64(0); w <= numWords-int64(numOffsetsInHeader); w++ {
		word := img.WordAsAddress(w)
		bodyIndex := dir.IndexOf(word)
		if bodyIndex == n || !dir.Allocation(bodyIndex).Used {
			continue
		}
		if h.GetTagIndex(bodyIndex) != heapwalk.NoTag {
			continue
		}
		body := dir.Allocation(bodyIndex)
		if body.Address != word {
			continue
		}
		useLimit := img.WordAsAddress(w + 1)
		if useLimit < body.Address {
			continue
		}
		capacityLimit := img.WordAsAddress(w + 2)
		minCapacity := dir.MinRequestSize(bodyIndex)
		if capacityLimit < useLimit || capacityLimit > body.Limit() || capacityLimit == body.Address || int64(capacityLimit-body.Address) < minCapacity {
			continue
		}
		if body.Size >= t.ptrSize && t.isKnownVtablePointer != nil {
			if firstWord, ok := t.reader.ReadPtr(body.Address); ok && t.isKnownVtablePointer(heapwalk.Address(firstWord)) {
				continue
			}
		}
		h.TagAllocation(bodyIndex, t.tagIndex)
		t.markTaintedOutgoingEdges(bodyIndex, body.Address, useLimit)
		if t.favored != nil {
			t.favored.Set(holder, bodyIndex, true)
		}
		w += int64(numOffsetsInHeader) - 1
	}
}

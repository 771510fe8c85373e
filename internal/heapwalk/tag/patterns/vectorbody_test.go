package patterns

import (
	"testing"

	"github.com/heaptrace/corewalk/internal/heapwalk"
)

const testPtrSize = 8

// fakeReader is a minimal in-memory heapwalk.Reader, grounded on the same
// hermetic-fixture approach used for the core heapwalk package's own
// tests.
type fakeReader struct {
	mem map[heapwalk.Address]uint64
}

func newFakeReader() *fakeReader { return &fakeReader{mem: map[heapwalk.Address]uint64{}} }

func (r *fakeReader) setWord(a heapwalk.Address, v uint64) { r.mem[a] = v }

func (r *fakeReader) ReadPtr(a heapwalk.Address) (uint64, bool) {
	v, ok := r.mem[a]
	return v, ok
}

func (r *fakeReader) FindMappedMemoryImage(a heapwalk.Address, max int64) []byte {
	buf := make([]byte, 0, max)
	for off := int64(0); off < max; off += testPtrSize {
		v, ok := r.mem[a.Add(off)]
		if !ok {
			break
		}
		for i := int64(0); i < testPtrSize; i++ {
			buf = append(buf, byte(v>>(8*uint(i))))
		}
	}
	if int64(len(buf)) > max {
		buf = buf[:max]
	}
	return buf
}

// TestVectorBodyTagger_EmbeddedHeader covers spec.md §8 scenario 3: a
// holder allocation whose own words form a [begin, useLimit,
// capacityLimit] header pointing at a body allocation should get the body
// tagged %VectorBody, with the outgoing edge established by its live words
// (below useLimit) left untainted.
func TestVectorBodyTagger_EmbeddedHeader(t *testing.T) {
	const (
		holderAddr = heapwalk.Address(0x1000)
		bodyAddr   = heapwalk.Address(0x2000)
		bodySize   = 64
		usedBytes  = 16 // only the first two words of the body are "live"
	)

	reader := newFakeReader()
	reader.setWord(holderAddr, uint64(bodyAddr))
	reader.setWord(holderAddr.Add(testPtrSize), uint64(bodyAddr.Add(usedBytes)))
	reader.setWord(holderAddr.Add(2*testPtrSize), uint64(bodyAddr.Add(bodySize)))

	// The body's own first two words look like pointers into the holder,
	// to exercise taint marking on the body's outgoing edges.
	reader.setWord(bodyAddr, uint64(holderAddr))
	reader.setWord(bodyAddr.Add(testPtrSize), uint64(holderAddr))

	allocs := []heapwalk.Allocation{
		{Address: holderAddr, Size: 24, Used: true},
		{Address: bodyAddr, Size: bodySize, Used: true},
	}
	dir := heapwalk.NewDirectory(allocs, nil, nil)
	g := heapwalk.BuildGraph(dir, reader, testPtrSize, nil)

	holderIdx := dir.IndexOf(holderAddr)
	bodyIdx := dir.IndexOf(bodyAddr)

	tainted := heapwalk.NewEdgePredicate(g)
	favored := heapwalk.NewEdgePredicate(g)

	h := heapwalk.NewTagHolder(dir)
	tagger := NewVectorBodyTagger(h, g, reader, testPtrSize, nil, tainted, favored, nil)

	unsignedOf := func(heapwalk.AllocationIndex) bool { return true }
	h = heapwalk.RunTaggers(h, dir, g, []heapwalk.Tagger{tagger}, unsignedOf)

	tagIdx := h.GetTagIndex(bodyIdx)
	if tagIdx == heapwalk.NoTag || h.Info(tagIdx).Name != "%VectorBody" {
		t.Fatalf("body allocation not tagged %%VectorBody, got tag %v", tagIdx)
	}
	if got := h.GetTagIndex(holderIdx); got != heapwalk.NoTag {
		t.Errorf("holder allocation unexpectedly tagged: %v", got)
	}

	e := g.GetOutgoingEdgeIndex(bodyIdx, holderIdx)
	if e == heapwalk.EdgeIndex(g.TotalEdges()) {
		t.Fatalf("expected an edge from body to holder")
	}
	// Both words establishing this edge fall within [bodyAddr, useLimit),
	// the vector's "live" range, so markTaintedOutgoingEdges should have
	// cleared the blanket taint it starts every outgoing edge with.
	if tainted.ForOutgoing(e) {
		t.Errorf("body->holder edge (within useLimit) should not be tainted")
	}

	describer := NewVectorBodyDescriber(g, reader, testPtrSize, nil)
	var lines []string
	ok := describer.Describe(dir, reader, h, bodyIdx, true, func(s string) { lines = append(lines, s) })
	if !ok {
		t.Fatalf("Describe returned false for a tagged %%VectorBody allocation")
	}
	if len(lines) == 0 {
		t.Errorf("Describe produced no output")
	}
}

func TestVectorBodyTagger_NoMatchLeavesAllocationUntagged(t *testing.T) {
	reader := newFakeReader()
	allocs := []heapwalk.Allocation{
		{Address: 0x1000, Size: 32, Used: true},
	}
	dir := heapwalk.NewDirectory(allocs, nil, nil)
	g := heapwalk.BuildGraph(dir, reader, testPtrSize, nil)

	h := heapwalk.NewTagHolder(dir)
	tainted := heapwalk.NewEdgePredicate(g)
	favored := heapwalk.NewEdgePredicate(g)
	tagger := NewVectorBodyTagger(h, g, reader, testPtrSize, nil, tainted, favored, nil)

	unsignedOf := func(heapwalk.AllocationIndex) bool { return true }
	h = heapwalk.RunTaggers(h, dir, g, []heapwalk.Tagger{tagger}, unsignedOf)

	idx := dir.IndexOf(0x1000)
	if got := h.GetTagIndex(idx); got != heapwalk.NoTag {
		t.Errorf("allocation with no vector header got tagged: %v", got)
	}
}

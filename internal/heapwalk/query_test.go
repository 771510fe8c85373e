package heapwalk

import "testing"

func TestIsGeometricHit(t *testing.T) {
	cases := []struct {
		n    int64
		base int
		want bool
	}{
		{1, 4, true},
		{2, 4, false},
		{4, 4, true},
		{16, 4, true},
		{5, 4, false},
		{1, 0, true}, // n==1 always hits regardless of base
		{2, 1, false},
	}
	for _, c := range cases {
		if got := isGeometricHit(c.n, c.base); got != c.want {
			t.Errorf("isGeometricHit(%d, %d) = %v, want %v", c.n, c.base, got, c.want)
		}
	}
}

// buildRing constructs spec.md §8 scenario 1's four-node ring: A->B->C->D->A,
// each a 16-byte used allocation holding one pointer at offset 0.
func buildRing(t *testing.T) (*Directory, *Graph, *fakeReader) {
	t.Helper()
	const ptrSize = 8
	addrs := []Address{0x1000, 0x1010, 0x1020, 0x1030}
	reader := newFakeReader(ptrSize)
	var allocs []Allocation
	for i, a := range addrs {
		allocs = append(allocs, Allocation{Address: a, Size: 16, Used: true})
		next := addrs[(i+1)%len(addrs)]
		reader.setWord(a, uint64(next))
	}
	dir := NewDirectory(allocs, nil, nil)
	g := BuildGraph(dir, reader, ptrSize, nil)
	return dir, g, reader
}

func TestRunQuery_FourNodeRing(t *testing.T) {
	dir, g, reader := buildRing(t)
	if g.TotalEdges() != 4 {
		t.Fatalf("TotalEdges() = %d, want 4", g.TotalEdges())
	}

	ext, err := NewExtendedVisitor(dir, g, reader, 8, nil, nil, nil, nil, nil, nil, nil, false, nil)
	if err != nil {
		t.Fatalf("NewExtendedVisitor: %v", err)
	}

	run := func(q *Query) []AllocationIndex {
		var got []AllocationIndex
		RunQuery(dir, g, nil, reader, AllIterator(dir), q, ext, nil, func(i AllocationIndex) {
			got = append(got, i)
		})
		return got
	}

	one := 1
	got := run(&Query{ReferenceConstraints: []ReferenceConstraint{{
		Count: 1, Boundary: MinBoundary, Direction: Incoming, WantUsed: true,
	}, {
		Count: 1, Boundary: MaxBoundary, Direction: Incoming, WantUsed: true,
	}}})
	if len(got) != 4 {
		t.Errorf("/minincoming 1 /maxincoming 1: got %d allocations, want 4", len(got))
	}

	got = run(&Query{ReferenceConstraints: []ReferenceConstraint{{
		Count: 2, Boundary: MinBoundary, Direction: Incoming, WantUsed: true,
	}}})
	if len(got) != 0 {
		t.Errorf("/minincoming 2: got %d allocations, want 0", len(got))
	}
	_ = one
}

package heapwalk

// Boundary selects whether a ReferenceConstraint's count is a floor or a
// ceiling.
type Boundary int

const (
	MinBoundary Boundary = iota
	MaxBoundary
)

// Direction selects which edge set a ReferenceConstraint counts.
type Direction int

const (
	Incoming Direction = iota
	Outgoing
)

// ReferenceConstraint checks that the number of an allocation's
// qualifying edges in one direction satisfies a bound (spec.md §4.6,
// the `/min{in,out}going`, `/max{in,out}going` switches). A nil Signature
// means "count all candidates", matching `/minincoming 2` with no
// `signature=` prefix.
type ReferenceConstraint struct {
	Signature     *SignatureChecker
	Count         int
	Boundary      Boundary
	Direction     Direction
	WantUsed      bool
	SkipTainted   bool
	SkipUnfavored bool

	// IsKnownSignature reports whether a word is a recognized vtable or
	// signature, used to compute isUnsigned for a nested "-" sub-
	// constraint. Required only when Signature is non-nil.
	IsKnownSignature func(Address) bool
}

// Check evaluates the constraint against index, short-circuiting as soon
// as the bound is decided.
func (c *ReferenceConstraint) Check(dir *Directory, g *Graph, tags *TagHolder, tainted, favored *EdgePredicate, reader Reader, index AllocationIndex) bool {
	var edges []AllocationIndex
	var edgeIndexOf func(other AllocationIndex) EdgeIndex
	if c.Direction == Incoming {
		edges = g.Incoming(index)
		edgeIndexOf = func(src AllocationIndex) EdgeIndex { return g.GetIncomingEdgeIndex(src, index) }
	} else {
		edges = g.Outgoing(index)
		edgeIndexOf = func(tgt AllocationIndex) EdgeIndex { return g.GetOutgoingEdgeIndex(index, tgt) }
	}

	count := 0
	for _, other := range edges {
		a := dir.Allocation(other)
		if a.Used != c.WantUsed {
			continue
		}
		if c.SkipTainted && tainted != nil {
			e := edgeIndexOf(other)
			if c.Direction == Incoming {
				if tainted.ForIncoming(e) {
					continue
				}
			} else if tainted.ForOutgoing(e) {
				continue
			}
		}
		if c.SkipUnfavored && favored != nil {
			e := edgeIndexOf(other)
			var isFavored bool
			if c.Direction == Incoming {
				isFavored = favored.ForIncoming(e)
			} else {
				isFavored = favored.ForOutgoing(e)
			}
			if !isFavored {
				continue
			}
		}
		if c.Signature != nil {
			firstWord, hasWord := firstWordOf(reader, a)
			isUnsigned := hasWord && c.IsKnownSignature != nil && !c.IsKnownSignature(firstWord)
			var tag TagIndex
			if tags != nil {
				tag = tags.GetTagIndex(other)
			}
			if !c.Signature.Check(firstWord, hasWord, isUnsigned, tag) {
				continue
			}
		}
		count++
		if c.Boundary == MinBoundary && count >= c.Count {
			return true
		}
		if c.Boundary == MaxBoundary && count > c.Count {
			return false
		}
	}
	if c.Boundary == MinBoundary {
		return count >= c.Count
	}
	return count <= c.Count
}

func firstWordOf(reader Reader, a Allocation) (Address, bool) {
	if a.Size < 8 {
		return 0, false
	}
	word, ok := reader.ReadPtr(a.Address)
	return Address(word), ok
}

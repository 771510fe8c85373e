package heapwalk

// SetOperation selects what a finished query does to the persisted
// "derived" set (spec.md §4.7, the `/setOperation` switch).
type SetOperation int

const (
	NoSetOperation SetOperation = iota
	AssignSetOperation
	SubtractSetOperation
)

// Query holds one query's fully-validated, compiled switches (spec.md §6
// "Query-time switches"), ready for RunQuery. The zero Query matches
// every allocation the iterator yields.
type Query struct {
	MinSize, MaxSize     *int64
	Signature            *SignatureChecker
	ReferenceConstraints []ReferenceConstraint
	// GeometricBase, if > 1, restricts reporting to the 1st, base-th,
	// base²-th, ... qualifying candidate (`/geometricSample`).
	GeometricBase int
	SetOperation  SetOperation

	// Tainted and Favored back the reference constraints' and the
	// extended visitor's skip-tainted/skip-unfavored filters; both may
	// be nil if no tagger pass populated them.
	Tainted, Favored *EdgePredicate

	// IsKnownSignatureWord reports whether a first-word value resolves
	// to a known signature or vtable, feeding Signature.Check's
	// isUnsigned argument (relevant only for a "-" top-level
	// constraint). May be nil, meaning every word is treated as unsigned.
	IsKnownSignatureWord func(Address) bool
}

func (q *Query) sizeOK(size int64) bool {
	if q.MinSize != nil && size < *q.MinSize {
		return false
	}
	if q.MaxSize != nil && size > *q.MaxSize {
		return false
	}
	return true
}

// isGeometricHit reports whether n (the 1-based ordinal of a qualifying
// candidate within this query) is a power of base, per spec.md §4.7's
// "visits entries numbered 1, b, b², …".
func isGeometricHit(n int64, base int) bool {
	if n == 1 {
		return true
	}
	b := int64(base)
	if b <= 1 {
		return false
	}
	p := b
	for p < n {
		p *= b
	}
	return p == n
}

// reportVisitor adapts a plain func(AllocationIndex) into the interface
// ExtendedVisitor.Visit expects.
type reportVisitor struct {
	fn func(AllocationIndex)
}

func (r reportVisitor) Visit(i AllocationIndex) { r.fn(i) }

// RunQuery is the Set-based Subcommand pipeline of spec.md §4.7: filter
// iter's candidates by size, signature, and reference constraints, apply
// the geometric sample, and hand each surviving index to ext (which may
// have no rules compiled, in which case it just visits the seed once).
// report is called for every allocation the extension engine visits,
// including seeds. ext is Reset once, up front, so the
// visited-at-most-once guarantee applies to this query alone. After the
// loop, q.SetOperation folds ext's visited bitset into derived (which may
// be nil if the caller has nowhere to persist it).
func RunQuery(dir *Directory, g *Graph, tags *TagHolder, reader Reader, iter Iterator, q *Query, ext *ExtendedVisitor, derived *Set, report func(AllocationIndex)) {
	ext.Reset()
	n := AllocationIndex(dir.NumAllocations())
	visitor := reportVisitor{fn: report}

	var qualified int64
	for idx := iter(); idx != n; idx = iter() {
		a := dir.Allocation(idx)
		if !q.sizeOK(a.Size) {
			continue
		}
		if q.Signature != nil {
			firstWord, hasWord := firstWordOf(reader, a)
			isUnsigned := hasWord && (q.IsKnownSignatureWord == nil || !q.IsKnownSignatureWord(firstWord))
			var tag TagIndex
			if tags != nil {
				tag = tags.GetTagIndex(idx)
			}
			if !q.Signature.Check(firstWord, hasWord, isUnsigned, tag) {
				continue
			}
		}
		allConstraintsOK := true
		for i := range q.ReferenceConstraints {
			if !q.ReferenceConstraints[i].Check(dir, g, tags, q.Tainted, q.Favored, reader, idx) {
				allConstraintsOK = false
				break
			}
		}
		if !allConstraintsOK {
			continue
		}
		qualified++
		if q.GeometricBase > 1 && !isGeometricHit(qualified, q.GeometricBase) {
			continue
		}
		ext.Visit(idx, visitor)
	}

	if derived == nil {
		return
	}
	switch q.SetOperation {
	case AssignSetOperation:
		derived.UnionWith(ext.VisitedSet())
	case SubtractSetOperation:
		derived.Subtract(ext.VisitedSet())
	}
}

package heapwalk

// maxAnchorChains bounds how many chains VisitAnchorChains will present for
// one target: after the first direct chain, no further indirect chains are
// shown, and the total never exceeds this cap (spec.md §4.2).
const maxAnchorChains = 10

// RegisterRoot identifies one register-anchor root location.
type RegisterRoot struct {
	ThreadNum    int
	RegisterNum  int
	RegisterName string
}

// AnchorChainVisitor receives one anchor chain at a time from
// VisitAnchorChains: a header identifying the root, then zero or more
// chain-link allocations between the root and the original target,
// nearest-to-root first.
type AnchorChainVisitor interface {
	VisitStaticAnchorHeader(roots []Address, anchor AllocationIndex)
	VisitStackAnchorHeader(roots []Address, anchor AllocationIndex)
	VisitRegisterAnchorHeader(roots []RegisterRoot, anchor AllocationIndex)
	VisitExternalAnchorHeader(reasons []string, anchor AllocationIndex)
	VisitChainLink(link AllocationIndex)
}

// VisitAnchorChains walks from target back toward its anchors, one category
// at a time in static/stack/register/external order. A category where
// target is itself a direct anchor point contributes one chain with no
// links; otherwise it contributes at most one indirect chain, found by
// following - at each step - an incoming edge whose source has a strictly
// smaller distance (the narrow-width sentinel equality in
// IndexedDistances.IsFarSentinel counts as a decrease, per spec.md §9).
// Once a direct chain has been shown, no further indirect chains are
// emitted for later categories; at most maxAnchorChains chains are shown in
// total.
func (aa *AnchorAnalysis) VisitAnchorChains(target AllocationIndex, v AnchorChainVisitor) {
	shown := 0
	sawDirect := false
	for cat := AnchorCategory(0); cat < numAnchorCategories && shown < maxAnchorChains; cat++ {
		if aa.distances[cat].IsAnchorPoint(target) {
			aa.emitDirectHeader(cat, target, v)
			sawDirect = true
			shown++
			continue
		}
		if sawDirect {
			continue
		}
		if path, ok := aa.findIndirectChain(cat, target); ok {
			aa.emitIndirectChain(cat, path, v)
			shown++
		}
	}
}

func (aa *AnchorAnalysis) emitDirectHeader(cat AnchorCategory, anchor AllocationIndex, v AnchorChainVisitor) {
	switch cat {
	case StaticAnchor:
		v.VisitStaticAnchorHeader(aa.Points.Static[anchor], anchor)
	case StackAnchor:
		v.VisitStackAnchorHeader(aa.Points.Stack[anchor], anchor)
	case RegisterAnchor:
		encs := aa.Points.Register[anchor]
		roots := make([]RegisterRoot, 0, len(encs))
		for _, enc := range encs {
			roots = append(roots, aa.decodeRegisterRoot(enc))
		}
		v.VisitRegisterAnchorHeader(roots, anchor)
	case ExternalAnchor:
		v.VisitExternalAnchorHeader(aa.Points.External[anchor], anchor)
	}
}

// findIndirectChain returns the path of allocations from target to (and
// including, as the last element) the nearest anchor point in category
// cat, in target-to-anchor order, or ok=false if target isn't reached in
// that category.
func (aa *AnchorAnalysis) findIndirectChain(cat AnchorCategory, target AllocationIndex) (path []AllocationIndex, ok bool) {
	dist := aa.distances[cat]
	if !dist.Reached(target) {
		return nil, false
	}
	n := AllocationIndex(aa.dir.NumAllocations())
	current := target
	var anchor AllocationIndex = n
	for i := 0; i < aa.dir.NumAllocations()+1; i++ {
		path = append(path, current)
		d := dist.Get(current)
		if d == 1 {
			anchor = current
			break
		}
		next := n
		for _, src := range aa.g.Incoming(current) {
			if !aa.dir.Allocation(src).Used {
				continue
			}
			ds := dist.Get(src)
			if ds < d || (dist.IsFarSentinel(ds) && ds == d) {
				next = src
				break
			}
		}
		if next == n {
			return nil, false
		}
		current = next
	}
	if anchor == n {
		return nil, false
	}
	return path, true
}

// emitIndirectChain emits the header for path's anchor (its last element)
// then one chain link per remaining path element, nearest-to-anchor first.
func (aa *AnchorAnalysis) emitIndirectChain(cat AnchorCategory, path []AllocationIndex, v AnchorChainVisitor) {
	anchor := path[len(path)-1]
	aa.emitDirectHeader(cat, anchor, v)
	for i := len(path) - 2; i >= 0; i-- {
		v.VisitChainLink(path[i])
	}
}

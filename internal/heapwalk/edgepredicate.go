package heapwalk

// EdgePredicate is a boolean label per edge, stored once per direction
// (spec.md §3) so that both "is the outgoing edge from X tainted" and "is
// the incoming edge into Y tainted" can be answered in O(1) without a
// graph lookup. Writes through Set/SetAll* keep both copies in sync.
type EdgePredicate struct {
	g         *Graph
	byOutgoing []bool // len TotalEdges(), indexed in outgoing-edge-index space
	byIncoming []bool // len TotalEdges(), indexed in incoming-edge-index space
}

// NewEdgePredicate creates a predicate over g's edges, initially false
// everywhere.
func NewEdgePredicate(g *Graph) *EdgePredicate {
	e := g.TotalEdges()
	return &EdgePredicate{g: g, byOutgoing: make([]bool, e), byIncoming: make([]bool, e)}
}

// Set labels the edge source->target. No-op if the edge doesn't exist.
func (p *EdgePredicate) Set(source, target AllocationIndex, value bool) {
	oi := p.g.GetOutgoingEdgeIndex(source, target)
	if int(oi) >= len(p.byOutgoing) {
		return
	}
	ii := p.g.GetIncomingEdgeIndex(source, target)
	p.byOutgoing[oi] = value
	p.byIncoming[ii] = value
}

// SetAllOutgoing labels every outgoing edge of source.
func (p *EdgePredicate) SetAllOutgoing(source AllocationIndex, value bool) {
	first, past := p.g.OutgoingRange(source)
	for e := first; e < past; e++ {
		target := p.g.GetTargetForOutgoing(e)
		p.byOutgoing[e] = value
		p.byIncoming[p.g.GetIncomingEdgeIndex(source, target)] = value
	}
}

// SetAllIncoming labels every incoming edge of target.
func (p *EdgePredicate) SetAllIncoming(target AllocationIndex, value bool) {
	first, past := p.g.IncomingRange(target)
	for e := first; e < past; e++ {
		source := p.g.GetSourceForIncoming(e)
		p.byIncoming[e] = value
		p.byOutgoing[p.g.GetOutgoingEdgeIndex(source, target)] = value
	}
}

// For reports the label of the edge source->target, or false if the edge
// doesn't exist.
func (p *EdgePredicate) For(source, target AllocationIndex) bool {
	oi := p.g.GetOutgoingEdgeIndex(source, target)
	if int(oi) >= len(p.byOutgoing) {
		return false
	}
	return p.byOutgoing[oi]
}

// ForOutgoing reports the label of the edge at outgoing-namespace index e.
func (p *EdgePredicate) ForOutgoing(e EdgeIndex) bool {
	if int(e) >= len(p.byOutgoing) {
		return false
	}
	return p.byOutgoing[e]
}

// ForIncoming reports the label of the edge at incoming-namespace index e.
func (p *EdgePredicate) ForIncoming(e EdgeIndex) bool {
	if int(e) >= len(p.byIncoming) {
		return false
	}
	return p.byIncoming[e]
}

package heapwalk

// Describer produces a human-readable description of an allocation
// matching one pattern, for the `describe`/`explain` visitors (spec.md
// §5 supplement, grounded on PatternDescriberRegistry).
type Describer interface {
	// Describe writes a description of allocation i to out if i matches
	// this describer's pattern, returning whether it matched. explain
	// asks for additional detail (e.g. the full string rather than a
	// truncated preview).
	Describe(dir *Directory, reader Reader, tags *TagHolder, i AllocationIndex, explain bool, out func(string)) bool
}

// DescriberRegistry dispatches to the describers registered for an
// allocation's current tag, keyed by tag index (not name) so lookup at
// describe-time is a slice index, not a map probe.
type DescriberRegistry struct {
	tags           *TagHolder
	byTagIndex     [][]Describer
}

// NewDescriberRegistry returns an empty registry over tags.
func NewDescriberRegistry(tags *TagHolder) *DescriberRegistry {
	return &DescriberRegistry{tags: tags}
}

// Register associates d with every tag index currently registered under
// tagName (a "%Pattern"-form name, as returned by Tagger registration).
func (r *DescriberRegistry) Register(tagName string, d Describer) {
	for _, idx := range r.tags.GetTagIndices(tagName) {
		for len(r.byTagIndex) <= int(idx) {
			r.byTagIndex = append(r.byTagIndex, nil)
		}
		r.byTagIndex[idx] = append(r.byTagIndex[idx], d)
	}
}

// Describe runs every describer registered for i's current tag.
func (r *DescriberRegistry) Describe(dir *Directory, reader Reader, i AllocationIndex, explain bool, out func(string)) bool {
	tag := int(r.tags.GetTagIndex(i))
	if tag >= len(r.byTagIndex) {
		return false
	}
	matched := false
	for _, d := range r.byTagIndex[tag] {
		if d.Describe(dir, reader, r.tags, i, explain, out) {
			matched = true
		}
	}
	return matched
}

package heapwalk

// TagIndex is a small integer naming a registered pattern. NoTag (0) means
// untagged.
type TagIndex int

// NoTag is the tag index of an allocation no tagger has claimed.
const NoTag TagIndex = 0

// TagInfo describes one registered tag (spec.md §3 "Tag Holder").
type TagInfo struct {
	// Name is stored with its leading "%", matching the form the
	// Signature Checker's pattern-constraint grammar (spec.md §4.4) and
	// PatternDescriberRegistry both use as the lookup key.
	Name string
	// SupportsFavoredReferences: true if this pattern's taggers may mark
	// edges with EdgePredicate.Set(..., favored=true).
	SupportsFavoredReferences bool
	// IsTerminal: true if, once assigned, only an override-capable
	// tagger's OverrideTagAllocation call may replace this tag.
	IsTerminal bool
}

// TagHolder holds the per-allocation tag assignment plus the registered
// tag table and its name -> tag-indices reverse map (spec.md §3, §6
// "register_tag/tag_allocation/get_tag_index/get_tag_indices").
type TagHolder struct {
	dir           *Directory
	tags          []TagIndex
	registry      []TagInfo // index 0 reserved, unused
	nameToIndices map[string][]TagIndex
}

// NewTagHolder returns a TagHolder over dir's allocations, all untagged.
func NewTagHolder(dir *Directory) *TagHolder {
	return &TagHolder{
		dir:           dir,
		tags:          make([]TagIndex, dir.NumAllocations()),
		registry:      []TagInfo{{}}, // tag 0 placeholder
		nameToIndices: map[string][]TagIndex{},
	}
}

// RegisterTag adds a new tag kind and returns its index. name should carry
// its leading "%" (e.g. "%VectorBody") to match pattern-constraint syntax.
func (h *TagHolder) RegisterTag(name string, supportsFavoredReferences, isTerminal bool) TagIndex {
	idx := TagIndex(len(h.registry))
	h.registry = append(h.registry, TagInfo{Name: name, SupportsFavoredReferences: supportsFavoredReferences, IsTerminal: isTerminal})
	h.nameToIndices[name] = append(h.nameToIndices[name], idx)
	return idx
}

// TagAllocation assigns tag to allocation i unless it is already tagged.
// Returns whether the assignment took effect.
func (h *TagHolder) TagAllocation(i AllocationIndex, tag TagIndex) bool {
	if h.tags[i] != NoTag {
		return false
	}
	h.tags[i] = tag
	return true
}

// OverrideTagAllocation replaces allocation i's tag with tag, whether or
// not the current tag is terminal. For use by taggers explicitly
// permitted to override a prior classification. Always returns true.
func (h *TagHolder) OverrideTagAllocation(i AllocationIndex, tag TagIndex) bool {
	h.tags[i] = tag
	return true
}

// GetTagIndex returns allocation i's tag, or NoTag.
func (h *TagHolder) GetTagIndex(i AllocationIndex) TagIndex { return h.tags[i] }

// GetTagIndices returns the tag indices registered under name (which may
// have more than one variant), or nil if name is unknown.
func (h *TagHolder) GetTagIndices(name string) []TagIndex { return h.nameToIndices[name] }

// Info returns the registration info for tag.
func (h *TagHolder) Info(tag TagIndex) TagInfo { return h.registry[tag] }

// Phase is one of the four escalating tagger passes (spec.md §4.3).
type Phase int

const (
	QuickInitialCheck Phase = iota
	MediumCheck
	SlowCheck
	WeakCheck
	numPhases
)

// Tagger implements one pattern's recognition logic across the four
// phases. Returning true from either entry point means "done with this
// allocation, whether or not it was tagged" - the runner will not call
// this tagger again for that allocation in a later phase.
type Tagger interface {
	Name() string

	// TagFromAllocation inspects allocation i directly.
	TagFromAllocation(h *TagHolder, g *Graph, i AllocationIndex, phase Phase, isUnsigned bool) (done bool)

	// TagFromReferenced inspects i's outgoing edges to allocations that
	// are themselves still untagged candidates, e.g. to recognize a
	// holder by the shape of what it points to.
	TagFromReferenced(h *TagHolder, g *Graph, i AllocationIndex, phase Phase, isUnsigned bool) (done bool)
}

// RunTaggers runs every tagger in taggers over every allocation in dir,
// phase outer loop / allocation inner loop so that all allocations reach
// a later phase together (spec.md §4.3), and returns h, populated.
// Callers construct each Tagger against h before calling RunTaggers (every
// built-in tagger's constructor calls h.RegisterTag on the instance it's
// given), so h must be the same holder the taggers were built with -
// RunTaggers only ever writes assignments into it, it never registers new
// tags. unsignedOf reports whether an allocation's first word fails to
// resolve to any known signature/vtable (the "isUnsigned" input to
// TagFromAllocation/TagFromReferenced).
func RunTaggers(h *TagHolder, dir *Directory, g *Graph, taggers []Tagger, unsignedOf func(AllocationIndex) bool) *TagHolder {
	doneByTagger := make([][]bool, len(taggers))
	for ti := range taggers {
		doneByTagger[ti] = make([]bool, dir.NumAllocations())
	}
	for phase := Phase(0); phase < numPhases; phase++ {
		for ti, tagger := range taggers {
			done := doneByTagger[ti]
			dir.ForEachAllocation(func(i AllocationIndex) bool {
				if done[i] {
					return true
				}
				if !dir.Allocation(i).Used {
					return true
				}
				isUnsigned := unsignedOf(i)
				if tagger.TagFromAllocation(h, g, i, phase, isUnsigned) {
					done[i] = true
					return true
				}
				if tagger.TagFromReferenced(h, g, i, phase, isUnsigned) {
					done[i] = true
				}
				return true
			})
		}
	}
	return h
}

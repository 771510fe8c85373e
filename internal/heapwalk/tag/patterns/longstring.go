package patterns

import "github.com/heaptrace/corewalk/internal/heapwalk"

// minLongStringBytes is the shortest payload this tagger will consider; a
// shorter buffer is more likely some other kind of short string storage
// (e.g. SSO inline bytes) than a heap-allocated long string body.
const minLongStringBytes = 16

// LongStringTagger recognizes an allocation whose entire payload is one
// NUL-terminated, printable C string: the NUL falls exactly at the last
// byte of the allocation and every byte before it is printable text. This
// is necessarily a heuristic - nothing marks a string allocation as such -
// so it runs at SlowCheck, after any pattern with a firmer signal has had
// a chance to claim the allocation.
type LongStringTagger struct {
	reader   heapwalk.Reader
	tagIndex heapwalk.TagIndex
}

// NewLongStringTagger registers the "%LongString" tag.
func NewLongStringTagger(h *heapwalk.TagHolder, reader heapwalk.Reader) *LongStringTagger {
	return &LongStringTagger{
		reader:   reader,
		tagIndex: h.RegisterTag("%LongString", false, true),
	}
}

func (t *LongStringTagger) Name() string { return "LongString" }

func (t *LongStringTagger) TagFromAllocation(h *heapwalk.TagHolder, g *heapwalk.Graph, i heapwalk.AllocationIndex, phase heapwalk.Phase, isUnsigned bool) bool {
	a := g.Directory().Allocation(i)
	switch phase {
	case heapwalk.QuickInitialCheck:
		if h.GetTagIndex(i) != heapwalk.NoTag {
			return true
		}
		if !isUnsigned {
			return true
		}
		return a.Size < minLongStringBytes
	case heapwalk.SlowCheck:
		if h.GetTagIndex(i) != heapwalk.NoTag {
			return true
		}
		bytes := t.reader.FindMappedMemoryImage(a.Address, a.Size)
		if int64(len(bytes)) < a.Size {
			return true
		}
		if !isLongCString(bytes) {
			return true
		}
		h.TagAllocation(i, t.tagIndex)
		return true
	}
	return false
}

// TagFromReferenced never claims an allocation via its referrer; a long
// string is identified purely by its own content.
func (t *LongStringTagger) TagFromReferenced(h *heapwalk.TagHolder, g *heapwalk.Graph, i heapwalk.AllocationIndex, phase heapwalk.Phase, isUnsigned bool) bool {
	return false
}

// isLongCString reports whether bytes is exactly one NUL-terminated
// string filling the whole buffer, with nothing but printable ASCII (or
// tab/newline) before the terminator.
func isLongCString(bytes []byte) bool {
	if len(bytes) == 0 || bytes[len(bytes)-1] != 0 {
		return false
	}
	for _, b := range bytes[:len(bytes)-1] {
		if b == 0 {
			return false
		}
		if b == '\t' || b == '\n' {
			continue
		}
		if b < 0x20 || b > 0x7e {
			return false
		}
	}
	return true
}

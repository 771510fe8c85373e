package patterns

import (
	"fmt"

	"github.com/heaptrace/corewalk/internal/heapwalk"
)

type vectorLocation int

const (
	vectorInHolder vectorLocation = iota
	vectorInStaticMemory
	vectorOnStack
)

type vectorCandidate struct {
	location  vectorLocation
	address   heapwalk.Address
	bytesUsed int64
	bytesUsable int64
}

// VectorBodyDescriber reports each candidate vector header that explains
// why an allocation was tagged "%VectorBody", preferring the candidate
// with the most usable bytes when several are found (spec.md's pattern
// describer contract: explain *why* the tag was assigned).
type VectorBodyDescriber struct {
	g       *heapwalk.Graph
	reader  heapwalk.Reader
	aa      *heapwalk.AnchorAnalysis
	ptrSize int64
}

func NewVectorBodyDescriber(g *heapwalk.Graph, reader heapwalk.Reader, ptrSize int64, aa *heapwalk.AnchorAnalysis) *VectorBodyDescriber {
	return &VectorBodyDescriber{g: g, reader: reader, ptrSize: ptrSize, aa: aa}
}

func (d *VectorBodyDescriber) Describe(dir *heapwalk.Directory, reader heapwalk.Reader, tags *heapwalk.TagHolder, i heapwalk.AllocationIndex, explain bool, out func(string)) bool {
	if tags.Info(tags.GetTagIndex(i)).Name != "%VectorBody" {
		return false
	}
	a := dir.Allocation(i)

	var candidates []vectorCandidate
	for _, holder := range d.g.Incoming(i) {
		h := dir.Allocation(holder)
		if !h.Used || h.Size < int64(numOffsetsInHeader)*d.ptrSize {
			continue
		}
		img := heapwalk.NewContiguousImage(d.reader, d.ptrSize)
		img.Reset(h.Address, h.Size)
		numWords := img.NumWords()
		for w := int64(0); w <= numWords-int64(numOffsetsInHeader); w++ {
			if img.WordAsAddress(w) != a.Address {
				continue
			}
			useLimit := img.WordAsAddress(w + 1)
			capacityLimit := img.WordAsAddress(w + 2)
			if useLimit < a.Address || capacityLimit < useLimit || capacityLimit <= a.Address || capacityLimit > a.Limit() {
				continue
			}
			candidates = append(candidates, vectorCandidate{
				location: vectorInHolder, address: h.Address,
				bytesUsed: int64(useLimit - a.Address), bytesUsable: int64(capacityLimit - a.Address),
			})
		}
	}
	if d.aa != nil {
		candidates = append(candidates, d.findAnchorCandidates(vectorInStaticMemory, a, d.aa.StaticAnchors(i))...)
		candidates = append(candidates, d.findAnchorCandidates(vectorOnStack, a, d.aa.StackAnchors(i))...)
	}
	if len(candidates) == 0 {
		return false
	}

	best := candidates[0]
	keepJustOne := true
	for _, c := range candidates[1:] {
		if c.bytesUsable == best.bytesUsable {
			keepJustOne = false
			continue
		}
		if c.bytesUsable > best.bytesUsable {
			best = c
			keepJustOne = true
		}
	}

	out("This allocation matches pattern VectorBody.")
	label := "The vector"
	if keepJustOne {
		out(fmt.Sprintf("Only 0x%x bytes are considered live.", best.bytesUsed))
	} else {
		label = "One possible vector"
		out("It is strange that there are multiple vector candidates.")
	}
	if explain {
		for _, c := range candidates {
			switch c.location {
			case vectorInHolder:
				out(fmt.Sprintf("%s is referenced from the allocation at %s.", label, c.address))
			case vectorInStaticMemory:
				out(fmt.Sprintf("%s is at address %s in statically allocated memory.", label, c.address))
			case vectorOnStack:
				out(fmt.Sprintf("%s is at address %s on the stack.", label, c.address))
			}
		}
	}
	return true
}

func (d *VectorBodyDescriber) findAnchorCandidates(loc vectorLocation, a heapwalk.Allocation, anchors []heapwalk.Address) []vectorCandidate {
	var out []vectorCandidate
	for _, anchor := range anchors {
		w0, ok0 := d.reader.ReadPtr(anchor)
		w1, ok1 := d.reader.ReadPtr(anchor.Add(d.ptrSize))
		w2, ok2 := d.reader.ReadPtr(anchor.Add(2 * d.ptrSize))
		if !ok0 || !ok1 || !ok2 || heapwalk.Address(w0) != a.Address {
			continue
		}
		useLimit := heapwalk.Address(w1)
		capacityLimit := heapwalk.Address(w2)
		if useLimit < a.Address || capacityLimit < useLimit || capacityLimit <= a.Address || capacityLimit > a.Limit() {
			continue
		}
		out = append(out, vectorCandidate{
			location: loc, address: anchor,
			bytesUsed: int64(useLimit - a.Address), bytesUsable: int64(capacityLimit - a.Address),
		})
	}
	return out
}

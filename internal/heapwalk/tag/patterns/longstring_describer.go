package patterns

import (
	"fmt"

	"github.com/heaptrace/corewalk/internal/heapwalk"
)

// longStringPreviewBytes is how much of a long string is shown unless the
// caller explicitly asked to see the whole thing.
const longStringPreviewBytes = 77

// LongStringDescriber reports the content of an allocation tagged
// "%LongString".
type LongStringDescriber struct {
	reader heapwalk.Reader
}

func NewLongStringDescriber(reader heapwalk.Reader) *LongStringDescriber {
	return &LongStringDescriber{reader: reader}
}

func (d *LongStringDescriber) Describe(dir *heapwalk.Directory, reader heapwalk.Reader, tags *heapwalk.TagHolder, i heapwalk.AllocationIndex, explain bool, out func(string)) bool {
	if tags.Info(tags.GetTagIndex(i)).Name != "%LongString" {
		return false
	}
	a := dir.Allocation(i)
	bytes := d.reader.FindMappedMemoryImage(a.Address, a.Size)
	if int64(len(bytes)) < a.Size {
		return true
	}
	s := string(bytes[:len(bytes)-1]) // drop the trailing NUL
	out("This allocation matches pattern LongString.")
	out(fmt.Sprintf("The string has 0x%x bytes,", len(s)))
	if explain || len(s) < longStringPreviewBytes {
		out(fmt.Sprintf("containing\n%q", s))
	} else {
		out(fmt.Sprintf("starting with\n%q", s[:longStringPreviewBytes]))
	}
	return true
}

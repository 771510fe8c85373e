package patterns

import (
	"testing"

	"github.com/heaptrace/corewalk/internal/heapwalk"
)

func setBytes(r *fakeReader, addr heapwalk.Address, b []byte) {
	for len(b) > 0 {
		var word uint64
		n := len(b)
		if n > testPtrSize {
			n = testPtrSize
		}
		for i := 0; i < n; i++ {
			word |= uint64(b[i]) << (8 * uint(i))
		}
		r.setWord(addr, word)
		addr = addr.Add(testPtrSize)
		b = b[n:]
	}
}

func tagLongString(t *testing.T, reader *fakeReader, size int64) heapwalk.TagIndex {
	t.Helper()
	allocs := []heapwalk.Allocation{{Address: 0x1000, Size: size, Used: true}}
	dir := heapwalk.NewDirectory(allocs, nil, nil)
	g := heapwalk.BuildGraph(dir, reader, testPtrSize, nil)

	h := heapwalk.NewTagHolder(dir)
	tagger := NewLongStringTagger(h, reader)
	unsignedOf := func(heapwalk.AllocationIndex) bool { return true }
	h = heapwalk.RunTaggers(h, dir, g, []heapwalk.Tagger{tagger}, unsignedOf)
	return h.GetTagIndex(dir.IndexOf(0x1000))
}

func TestLongStringTagger_Match(t *testing.T) {
	payload := make([]byte, 24)
	copy(payload, "this is a long c string")
	payload[23] = 0

	reader := newFakeReader()
	setBytes(reader, 0x1000, payload)

	tagIdx := tagLongString(t, reader, int64(len(payload)))
	if tagIdx == heapwalk.NoTag {
		t.Fatalf("expected allocation to be tagged %%LongString")
	}
}

func TestLongStringTagger_NoTrailingNUL(t *testing.T) {
	payload := make([]byte, 24)
	for i := range payload {
		payload[i] = 'x'
	}
	reader := newFakeReader()
	setBytes(reader, 0x1000, payload)

	tagIdx := tagLongString(t, reader, int64(len(payload)))
	if tagIdx != heapwalk.NoTag {
		t.Errorf("allocation with no trailing NUL got tagged %%LongString")
	}
}

func TestLongStringTagger_EmbeddedNUL(t *testing.T) {
	payload := make([]byte, 24)
	copy(payload, "short")
	// payload[5] is already 0 from zero-value init; the rest of the
	// buffer stays zero too, which also counts as an embedded NUL.
	payload[23] = 0

	reader := newFakeReader()
	setBytes(reader, 0x1000, payload)

	tagIdx := tagLongString(t, reader, int64(len(payload)))
	if tagIdx != heapwalk.NoTag {
		t.Errorf("allocation with an embedded NUL got tagged %%LongString")
	}
}

func TestLongStringTagger_TooShort(t *testing.T) {
	payload := []byte("short\x00")
	reader := newFakeReader()
	setBytes(reader, 0x1000, payload)

	tagIdx := tagLongString(t, reader, int64(len(payload)))
	if tagIdx != heapwalk.NoTag {
		t.Errorf("allocation shorter than minLongStringBytes got tagged %%LongString")
	}
}

func TestLongStringDescriber(t *testing.T) {
	payload := []byte("hello, corewalk")
	for len(payload) < 19 {
		payload = append(payload, '.')
	}
	payload = append(payload, 0)

	reader := newFakeReader()
	setBytes(reader, 0x1000, payload)

	allocs := []heapwalk.Allocation{{Address: 0x1000, Size: int64(len(payload)), Used: true}}
	dir := heapwalk.NewDirectory(allocs, nil, nil)
	g := heapwalk.BuildGraph(dir, reader, testPtrSize, nil)

	h := heapwalk.NewTagHolder(dir)
	tagger := NewLongStringTagger(h, reader)
	unsignedOf := func(heapwalk.AllocationIndex) bool { return true }
	h = heapwalk.RunTaggers(h, dir, g, []heapwalk.Tagger{tagger}, unsignedOf)

	idx := dir.IndexOf(0x1000)
	if h.GetTagIndex(idx) == heapwalk.NoTag {
		t.Fatalf("setup failed: allocation not tagged %%LongString")
	}

	describer := NewLongStringDescriber(reader)
	var lines []string
	ok := describer.Describe(dir, reader, h, idx, true, func(s string) { lines = append(lines, s) })
	if !ok {
		t.Fatalf("Describe returned false for a tagged %%LongString allocation")
	}
	if len(lines) == 0 {
		t.Errorf("Describe produced no output")
	}
}

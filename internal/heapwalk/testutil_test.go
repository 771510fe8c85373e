package heapwalk

// fakeReader is a small in-memory Reader, grounded on the teacher's
// preference for fast, hermetic tests over synthetic structures rather
// than a real core file (gocore_test.go builds its process images in
// memory too, just via a different route).
type fakeReader struct {
	ptrSize int64
	mem     map[Address]uint64 // word-aligned (by ptrSize) address -> word
}

func newFakeReader(ptrSize int64) *fakeReader {
	return &fakeReader{ptrSize: ptrSize, mem: map[Address]uint64{}}
}

func (r *fakeReader) setWord(a Address, v uint64) { r.mem[a] = v }

func (r *fakeReader) ReadPtr(a Address) (uint64, bool) {
	v, ok := r.mem[a]
	return v, ok
}

func (r *fakeReader) FindMappedMemoryImage(a Address, max int64) []byte {
	n := r.ptrSize
	buf := make([]byte, 0, max)
	for off := int64(0); off < max; off += n {
		v, ok := r.mem[a.Add(off)]
		if !ok {
			break
		}
		for i := int64(0); i < n; i++ {
			buf = append(buf, byte(v>>(8*uint(i))))
		}
	}
	if int64(len(buf)) > max {
		buf = buf[:max]
	}
	return buf
}

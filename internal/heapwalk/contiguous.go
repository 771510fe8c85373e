package heapwalk

// A ContiguousImage is a uniform byte view of one allocation's payload,
// presented as an array of pointer-sized words (spec.md §3). Some
// platforms omit all-zero pages from a core dump; where the reader has no
// image for part of the range, ContiguousImage synthesizes a zero-filled
// copy so callers never have to special-case holes.
//
// A ContiguousImage is not owned by the Directory and is cheap to
// re-point at a different index via Reset; callers scanning many
// allocations (graph construction, tagging) should reuse one instance.
type ContiguousImage struct {
	reader  Reader
	ptrSize int64

	base  Address
	size  int64
	bytes []byte // lazily materialized on first access that needs it
}

// NewContiguousImage creates an empty ContiguousImage; call Reset before
// use.
func NewContiguousImage(reader Reader, ptrSize int64) *ContiguousImage {
	return &ContiguousImage{reader: reader, ptrSize: ptrSize}
}

// Reset re-points the image at a new allocation.
func (c *ContiguousImage) Reset(base Address, size int64) {
	c.base = base
	c.size = size
	c.bytes = nil
}

func (c *ContiguousImage) materialize() []byte {
	if c.bytes != nil {
		return c.bytes
	}
	buf := make([]byte, c.size)
	off := int64(0)
	for off < c.size {
		chunk := c.reader.FindMappedMemoryImage(c.base.Add(off), c.size-off)
		if len(chunk) == 0 {
			// Unmapped (or zero-page-elided) byte: already zero in buf.
			off++
			continue
		}
		copy(buf[off:], chunk)
		off += int64(len(chunk))
	}
	c.bytes = buf
	return buf
}

// Size returns the number of bytes in the image.
func (c *ContiguousImage) Size() int64 {
	return c.size
}

// NumWords returns the number of complete pointer-sized words in the
// image.
func (c *ContiguousImage) NumWords() int64 {
	return c.size / c.ptrSize
}

// Word returns the i'th pointer-aligned word (0-based) as a raw uint64,
// zero-extended if the inferior is 32-bit.
func (c *ContiguousImage) Word(i int64) uint64 {
	b := c.materialize()
	off := i * c.ptrSize
	var v uint64
	for j := int64(0); j < c.ptrSize; j++ {
		v |= uint64(b[off+j]) << (8 * uint(j))
	}
	return v
}

// WordAsAddress returns the i'th word interpreted as a virtual address.
func (c *ContiguousImage) WordAsAddress(i int64) Address {
	return Address(c.Word(i))
}

// Bytes returns the full materialized byte image (zero-filled over any
// holes). The returned slice must not be retained past the next Reset.
func (c *ContiguousImage) Bytes() []byte {
	return c.materialize()
}

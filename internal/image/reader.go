// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package image

import "errors"

// ErrNotMapped is returned by reads that touch an address the core file
// has no data for. Per spec.md §9 ("Exceptions"), callers that don't care
// (graph/anchor scans, signature checks) substitute a default instead of
// propagating it; the dedicated Read* methods below do that for them.
var ErrNotMapped = errors.New("address not mapped")

// Readable reports whether a is covered by some mapping.
func (p *Image) Readable(a Address) bool {
	return p.memory.find(a) != nil
}

// ReadableN reports whether the n bytes starting at a are all readable.
func (p *Image) ReadableN(a Address, n int64) bool {
	for n > 0 {
		m := p.memory.find(a)
		if m == nil || m.perm&Read == 0 {
			return false
		}
		c := m.max.Sub(a)
		if n <= c {
			return true
		}
		n -= c
		a = a.Add(c)
	}
	return true
}

// ReadAt reads len(b) bytes starting at address a into b. It panics if any
// part of the range is unmapped; callers that can tolerate missing memory
// (the overwhelming majority, per spec.md's error-handling design) must
// check Readable/ReadableN first or use FindMappedMemoryImage.
func (p *Image) ReadAt(b []byte, a Address) {
	for len(b) > 0 {
		m := p.memory.find(a)
		if m == nil {
			panic(ErrNotMapped)
		}
		n := copy(b, m.contents[a.Sub(m.min):])
		b = b[n:]
		a = a.Add(int64(n))
	}
}

// FindMappedMemoryImage returns the longest run of mapped bytes starting at
// a, up to max bytes, without panicking. The returned slice may be shorter
// than requested (or empty) if a is partially or wholly unmapped; it is a
// view into the underlying image and must not be modified.
func (p *Image) FindMappedMemoryImage(a Address, max int64) []byte {
	m := p.memory.find(a)
	if m == nil {
		return nil
	}
	off := a.Sub(m.min)
	avail := m.Size() - off
	if avail > max {
		avail = max
	}
	return m.contents[off : off+avail]
}

// ReadUint8 reads a single byte at a. It returns 0 if a is unmapped: the
// caller-visible contract for scans that must tolerate holes.
func (p *Image) ReadUint8(a Address) uint8 {
	m := p.memory.find(a)
	if m == nil {
		return 0
	}
	return m.contents[a.Sub(m.min)]
}

// ReadPtr reads a pointer-sized, little-endian word at a. ok is false if a
// is unmapped.
func (p *Image) ReadPtr(a Address) (word uint64, ok bool) {
	m := p.memory.find(a)
	if m == nil {
		return 0, false
	}
	off := a.Sub(m.min)
	n := p.ptrSize
	if off+n > m.Size() {
		return 0, false
	}
	b := m.contents[off : off+n]
	var v uint64
	for i := int64(0); i < n; i++ {
		v |= uint64(b[i]) << (8 * uint(i))
	}
	return v, true
}

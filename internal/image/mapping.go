// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package image

import (
	"fmt"
	"os"
	"sort"
)

// A Mapping represents a contiguous subset of the inferior's address space
// that was mapped at the time of the core dump.
type Mapping struct {
	min  Address
	max  Address
	perm Perm

	f   *os.File // file backing this region, nil if anonymous/missing
	off int64    // offset of start of this mapping in f

	// For regions originally backed by a file but now present verbatim in
	// the core file (e.g. copy-on-write pages), this is the original
	// (possibly stale) data source, kept only for reporting purposes.
	origF   *os.File
	origOff int64

	truncated bool   // core file was missing bytes for (part of) this mapping
	contents  []byte // length == max-min; read-as-zero where truncated
}

func (m *Mapping) Min() Address { return m.min }
func (m *Mapping) Max() Address { return m.max }
func (m *Mapping) Size() int64  { return m.max.Sub(m.min) }
func (m *Mapping) Perm() Perm   { return m.perm }

// Truncated reports whether the core file lacked data for some or all of
// this mapping (the missing bytes are read back as zero).
func (m *Mapping) Truncated() bool { return m.truncated }

// Source returns the backing file and offset for the mapping, or "", 0 if
// the mapping has no known backing file (anonymous or missing).
func (m *Mapping) Source() (string, int64) {
	if m.f == nil {
		return "", 0
	}
	return m.f.Name(), m.off
}

// CopyOnWrite reports whether the mapping started out backed by a file but
// has since diverged (its current data lives only in the core file).
func (m *Mapping) CopyOnWrite() bool {
	return m.origF != nil
}

// OrigSource returns the file/offset of the stale pre-divergence copy of
// the data, or "", 0 if none is known.
func (m *Mapping) OrigSource() (string, int64) {
	if m.origF == nil {
		return "", 0
	}
	return m.origF.Name(), m.origOff
}

// splicedMemory is a sorted, non-overlapping collection of Mappings
// supporting address->mapping lookup via a small fixed-depth radix trie
// over 4K pages, mirroring the teacher's page-table design: lookups are
// O(1) and dominate the graph-building inner loop, so they must not be
// O(log N) over a sorted slice.
type splicedMemory struct {
	mappings []*Mapping
	table    pageTable4
}

const pageBits = 12
const pageSize = 1 << pageBits

type pageTable0 [1 << 10]*Mapping
type pageTable1 [1 << 10]*pageTable0
type pageTable2 [1 << 10]*pageTable1
type pageTable3 [1 << 10]*pageTable2
type pageTable4 [1 << 12]*pageTable3

func (s *splicedMemory) add(m *Mapping) {
	s.mappings = append(s.mappings, m)
}

// finalize sorts and merges adjacent compatible mappings, then builds the
// page-table index. Must be called exactly once, after all mappings have
// been added and their contents filled in.
func (s *splicedMemory) finalize() error {
	sort.Slice(s.mappings, func(i, j int) bool {
		return s.mappings[i].min < s.mappings[j].min
	})
	if len(s.mappings) > 1 {
		merged := s.mappings[:1]
		for _, m := range s.mappings[1:] {
			k := merged[len(merged)-1]
			if m.min == k.max && m.perm == k.perm && m.f == k.f &&
				m.f != nil && m.off == k.off+k.Size() && m.truncated == k.truncated {
				k.max = m.max
				k.contents = append(k.contents, m.contents...)
				continue
			}
			merged = append(merged, m)
		}
		s.mappings = merged
	}
	for _, m := range s.mappings {
		if err := s.index(m); err != nil {
			return err
		}
	}
	return nil
}

func (s *splicedMemory) index(m *Mapping) error {
	if m.min%pageSize != 0 {
		return fmt.Errorf("mapping start %s isn't a multiple of %d", m.min, pageSize)
	}
	if m.max%pageSize != 0 {
		return fmt.Errorf("mapping end %s isn't a multiple of %d", m.max, pageSize)
	}
	for a := m.min; a < m.max; a += pageSize {
		i3 := a >> 52
		t3 := s.table[i3]
		if t3 == nil {
			t3 = new(pageTable3)
			s.table[i3] = t3
		}
		i2 := a >> 42 % (1 << 10)
		t2 := t3[i2]
		if t2 == nil {
			t2 = new(pageTable2)
			t3[i2] = t2
		}
		i1 := a >> 32 % (1 << 10)
		t1 := t2[i1]
		if t1 == nil {
			t1 = new(pageTable1)
			t2[i1] = t1
		}
		i0 := a >> 22 % (1 << 10)
		t0 := t1[i0]
		if t0 == nil {
			t0 = new(pageTable0)
			t1[i0] = t0
		}
		t0[a>>12%(1<<10)] = m
	}
	return nil
}

// find returns the mapping containing a, or nil.
func (s *splicedMemory) find(a Address) *Mapping {
	t3 := s.table[a>>52]
	if t3 == nil {
		return nil
	}
	t2 := t3[a>>42%(1<<10)]
	if t2 == nil {
		return nil
	}
	t1 := t2[a>>32%(1<<10)]
	if t1 == nil {
		return nil
	}
	t0 := t1[a>>22%(1<<10)]
	if t0 == nil {
		return nil
	}
	return t0[a>>12%(1<<10)]
}

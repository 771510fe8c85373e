// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package image provides read-only, random-access views of a process's
// virtual memory as captured in a core file. It implements the
// VirtualAddressMap external collaborator described by the allocation
// analyzer in package heapwalk: nothing in this package knows about
// allocations, objects, or any language runtime. It only knows how to
// answer "what bytes, if any, live at this virtual address".
package image

import "fmt"

// An Address is a virtual address in the inferior (the process that
// produced the core file).
type Address uint64

func (a Address) Add(x int64) Address {
	return a + Address(x)
}

// Sub returns a-b.
func (a Address) Sub(b Address) int64 {
	return int64(a - b)
}

func (a Address) String() string {
	return fmt.Sprintf("0x%x", uint64(a))
}

// A Perm represents the permissions allowed for a Mapping.
type Perm uint8

const (
	Read Perm = 1 << iota
	Write
	Exec
)

func (p Perm) String() string {
	s := ""
	if p&Read != 0 {
		s += "r"
	} else {
		s += "-"
	}
	if p&Write != 0 {
		s += "w"
	} else {
		s += "-"
	}
	if p&Exec != 0 {
		s += "x"
	} else {
		s += "-"
	}
	return s
}

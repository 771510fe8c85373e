// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"io"
	"text/tabwriter"
)

// runOverview prints the same coarse summary the teacher's `overview`
// command does, re-expressed over the allocation directory instead of the
// Go object heap (SPEC_FULL.md §5).
func runOverview(sess *session, out io.Writer) {
	t := tabwriter.NewWriter(out, 0, 0, 1, ' ', 0)
	fmt.Fprintf(t, "arch\t%s\n", sess.img.Arch())
	var total int64
	for _, m := range sess.img.Mappings() {
		total += m.Size()
	}
	fmt.Fprintf(t, "memory\t%.1f MB\n", float64(total)/(1<<20))
	fmt.Fprintf(t, "allocations\t%d\n", sess.dir.NumAllocations())
	t.Flush()
}

// runMappings prints one row per core-file mapping, matching the
// teacher's `mappings` command.
func runMappings(sess *session, out io.Writer) {
	t := tabwriter.NewWriter(out, 0, 0, 1, ' ', tabwriter.AlignRight)
	fmt.Fprintf(t, "min\tmax\tperm\tsource\t\n")
	for _, m := range sess.img.Mappings() {
		name, off := m.Source()
		fmt.Fprintf(t, "%s\t%s\t%s\t%s@%x\t\n", m.Min(), m.Max(), m.Perm(), name, off)
	}
	t.Flush()
}

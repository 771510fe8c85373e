// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/heaptrace/corewalk/internal/heapwalk"
)

// runReport runs cq over iter and renders each visited allocation with
// render, to out. This is the shared tail of every query-producing
// subcommand (count/list/show/describe/explain), differing only in what
// render does with each index.
func runReport(sess *session, cq *compiledQuery, iter heapwalk.Iterator, out io.Writer, render func(io.Writer, heapwalk.AllocationIndex)) {
	heapwalk.RunQuery(sess.dir, sess.graph, sess.tags, sess.img, iter, cq.query, cq.ext, sess.derived, func(i heapwalk.AllocationIndex) {
		render(out, i)
	})
}

// countRender's render method only tallies; its count and total bytes are
// read back after runReport returns.
type countRender struct {
	dir   *heapwalk.Directory
	count int
	bytes int64
}

func (c *countRender) render(_ io.Writer, i heapwalk.AllocationIndex) {
	c.count++
	c.bytes += c.dir.Allocation(i).Size
}

func runCount(sess *session, cq *compiledQuery, iter heapwalk.Iterator, out io.Writer) {
	c := &countRender{dir: sess.dir}
	runReport(sess, cq, iter, out, c.render)
	fmt.Fprintf(out, "%d allocations, 0x%x bytes\n", c.count, c.bytes)
}

func runList(sess *session, cq *compiledQuery, iter heapwalk.Iterator, out io.Writer) {
	t := tabwriter.NewWriter(out, 0, 0, 1, ' ', tabwriter.AlignRight)
	fmt.Fprintf(t, "address\tsize\tused\ttag\t\n")
	runReport(sess, cq, iter, t, func(w io.Writer, i heapwalk.AllocationIndex) {
		a := sess.dir.Allocation(i)
		tagName := sess.tags.Info(sess.tags.GetTagIndex(i)).Name
		if tagName == "" {
			tagName = "-"
		}
		fmt.Fprintf(w, "%s\t0x%x\t%v\t%s\t\n", a.Address, a.Size, a.Used, tagName)
	})
	t.Flush()
}

func runShow(sess *session, cq *compiledQuery, iter heapwalk.Iterator, out io.Writer) {
	runReport(sess, cq, iter, out, func(w io.Writer, i heapwalk.AllocationIndex) {
		a := sess.dir.Allocation(i)
		fmt.Fprintf(w, "allocation at %s, size 0x%x, used=%v\n", a.Address, a.Size, a.Used)
		img := heapwalk.NewContiguousImage(sess.img, sess.img.PtrSize())
		img.Reset(a.Address, a.Size)
		for off := int64(0); off < img.NumWords(); off++ {
			fmt.Fprintf(w, "  +0x%x: %s\n", off*sess.img.PtrSize(), img.WordAsAddress(off))
		}
		if cq.annotations != nil {
			for _, ann := range cq.annotations.Annotate(i) {
				fmt.Fprintf(w, "  +0x%x annotation: %s\n", ann.Offset, ann.Text)
			}
		}
	})
}

func runDescribe(sess *session, cq *compiledQuery, iter heapwalk.Iterator, out io.Writer, explain bool) {
	runReport(sess, cq, iter, out, func(w io.Writer, i heapwalk.AllocationIndex) {
		a := sess.dir.Allocation(i)
		fmt.Fprintf(w, "%s (0x%x bytes):\n", a.Address, a.Size)
		matched := sess.describers.Describe(sess.dir, sess.img, i, explain, func(line string) {
			fmt.Fprintf(w, "  %s\n", line)
		})
		if !matched {
			fmt.Fprintf(w, "  (no pattern recognized)\n")
		}
	})
}

// runExplain is runDescribe plus the anchor-chain walk (spec.md §4.2's
// visit_*_anchor_chains), matching what the original tool calls
// "explaining" an allocation beyond merely describing its pattern.
func runExplain(sess *session, cq *compiledQuery, iter heapwalk.Iterator, out io.Writer) {
	runReport(sess, cq, iter, out, func(w io.Writer, i heapwalk.AllocationIndex) {
		a := sess.dir.Allocation(i)
		fmt.Fprintf(w, "%s (0x%x bytes):\n", a.Address, a.Size)
		sess.describers.Describe(sess.dir, sess.img, i, true, func(line string) {
			fmt.Fprintf(w, "  %s\n", line)
		})
		if sess.anchors.IsLeaked(i) {
			fmt.Fprintf(w, "  leaked: no path to any anchor\n")
			return
		}
		if !a.Used {
			fmt.Fprintf(w, "  free\n")
			return
		}
		v := &chainPrinter{w: w}
		sess.anchors.VisitAnchorChains(i, v)
	})
}

type chainPrinter struct{ w io.Writer }

func (p *chainPrinter) VisitStaticAnchorHeader(roots []heapwalk.Address, anchor heapwalk.AllocationIndex) {
	fmt.Fprintf(p.w, "  anchored by static location(s): %v\n", roots)
}
func (p *chainPrinter) VisitStackAnchorHeader(roots []heapwalk.Address, anchor heapwalk.AllocationIndex) {
	fmt.Fprintf(p.w, "  anchored by stack location(s): %v\n", roots)
}
func (p *chainPrinter) VisitRegisterAnchorHeader(roots []heapwalk.RegisterRoot, anchor heapwalk.AllocationIndex) {
	fmt.Fprintf(p.w, "  anchored by register(s): %v\n", roots)
}
func (p *chainPrinter) VisitExternalAnchorHeader(reasons []string, anchor heapwalk.AllocationIndex) {
	fmt.Fprintf(p.w, "  anchored externally: %v\n", reasons)
}
func (p *chainPrinter) VisitChainLink(link heapwalk.AllocationIndex) {
	fmt.Fprintf(p.w, "    via allocation %d\n", link)
}

// runSummarize groups a query's matched set by pattern tag (or "untagged")
// and reports per-group count and total bytes, the histogram-style report
// spec.md §1's verb list is supplemented with (SPEC_FULL.md §5).
func runSummarize(sess *session, cq *compiledQuery, iter heapwalk.Iterator, out io.Writer) {
	type bucket struct {
		name  string
		count int
		bytes int64
	}
	buckets := map[string]*bucket{}
	var order []string
	runReport(sess, cq, iter, out, func(_ io.Writer, i heapwalk.AllocationIndex) {
		name := sess.tags.Info(sess.tags.GetTagIndex(i)).Name
		if name == "" {
			name = "(untagged)"
		}
		b := buckets[name]
		if b == nil {
			b = &bucket{name: name}
			buckets[name] = b
			order = append(order, name)
		}
		b.count++
		b.bytes += sess.dir.Allocation(i).Size
	})
	sort.Slice(order, func(i, j int) bool { return buckets[order[i]].bytes > buckets[order[j]].bytes })

	t := tabwriter.NewWriter(out, 0, 0, 1, ' ', tabwriter.AlignRight)
	fmt.Fprintf(t, "count\tbytes\t pattern\n")
	for _, name := range order {
		b := buckets[name]
		fmt.Fprintf(t, "%d\t%d\t %s\n", b.count, b.bytes, b.name)
	}
	t.Flush()
}

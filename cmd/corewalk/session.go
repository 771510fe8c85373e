// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command corewalk is the dispatcher, switch parser, and REPL for the
// allocation analyzer in package heapwalk. It loads one ELF core file,
// builds the allocation directory with the glibc-style finder, and exposes
// the query language of spec.md §6 as a cobra command tree plus an
// interactive shell.
package main

import (
	"fmt"
	"os"

	"github.com/heaptrace/corewalk/internal/heapwalk"
	"github.com/heaptrace/corewalk/internal/heapwalk/finder"
	"github.com/heaptrace/corewalk/internal/heapwalk/tag/patterns"
	"github.com/heaptrace/corewalk/internal/image"
)

// session holds everything derived from one loaded core file: the
// directory, graph, anchor analysis, tags, and the describer registry
// `describe`/`explain` dispatch through. It is built once per process
// invocation (or once per `repl` session) and is read-only afterward,
// except for the derived set that `/setOperation` updates.
type session struct {
	img     *image.Image
	dir     *heapwalk.Directory
	graph   *heapwalk.Graph
	anchors *heapwalk.AnchorAnalysis
	tags    *heapwalk.TagHolder
	sigDir  *heapwalk.SignatureDirectory
	typeDir *heapwalk.TypeDirectory

	tainted *heapwalk.EdgePredicate
	favored *heapwalk.EdgePredicate

	describers *heapwalk.DescriberRegistry

	derived *heapwalk.Set // the persisted `/setOperation` result set
}

// newSession loads coreFile (and, if non-empty, the executable that
// produced it, for .data/.bss static-anchor ranges) and runs the full
// analysis pipeline: directory construction, graph build, anchor analysis,
// and the built-in pattern taggers, in that order, matching spec.md §2's
// component dependency chain.
func newSession(coreFile, exePath string) (*session, error) {
	img, err := image.Core(coreFile, "", exePath)
	if err != nil {
		return nil, fmt.Errorf("loading core file %s: %w", coreFile, err)
	}
	for _, w := range img.Warnings() {
		fmt.Fprintf(os.Stderr, "corewalk: warning: %s\n", w)
	}

	dir := finder.Build(img)
	graph := heapwalk.BuildGraph(dir, img, img.PtrSize(), nil)

	threads := finder.NewThreads(img)
	stacks := finder.NewStacks(img)
	staticRanges := finder.StaticRanges(img)
	anchors := heapwalk.NewAnchorAnalysis(graph, img, img.PtrSize(), staticRanges, threads, stacks, nil)

	sigDir := heapwalk.NewSignatureDirectory()
	typeDir := heapwalk.NewTypeDirectory()

	tainted := heapwalk.NewEdgePredicate(graph)
	favored := heapwalk.NewEdgePredicate(graph)

	// corewalk resolves no vtables or signatures of its own (spec.md's
	// Non-goals place symbol resolution out of scope), so every first
	// word is "unsigned" and no pointer is a known vtable.
	isKnownVtablePointer := func(heapwalk.Address) bool { return false }
	unsignedOf := func(i heapwalk.AllocationIndex) bool { return true }

	// Each built-in tagger registers its own tag against tags at
	// construction time (NewVectorBodyTagger/NewLongStringTagger call
	// TagHolder.RegisterTag internally), so the holder must exist before
	// the taggers do; RunTaggers then reuses that same holder to record
	// its findings.
	tags := heapwalk.NewTagHolder(dir)
	vectorTagger := patterns.NewVectorBodyTagger(tags, graph, img, img.PtrSize(), anchors, tainted, favored, isKnownVtablePointer)
	longStringTagger := patterns.NewLongStringTagger(tags, img)
	taggers := []heapwalk.Tagger{vectorTagger, longStringTagger}
	tags = heapwalk.RunTaggers(tags, dir, graph, taggers, unsignedOf)

	describers := heapwalk.NewDescriberRegistry(tags)
	describers.Register("%VectorBody", patterns.NewVectorBodyDescriber(graph, img, img.PtrSize(), anchors))
	describers.Register("%LongString", patterns.NewLongStringDescriber(img))

	return &session{
		img:        img,
		dir:        dir,
		graph:      graph,
		anchors:    anchors,
		tags:       tags,
		sigDir:     sigDir,
		typeDir:    typeDir,
		tainted:    tainted,
		favored:    favored,
		describers: describers,
		derived:    heapwalk.NewSet(dir.NumAllocations()),
	}, nil
}

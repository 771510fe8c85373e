package heapwalk

// Iterator is a finite generator over allocation indices (spec.md §4.8).
// Each call returns the next index; once exhausted it returns N
// (NumAllocations()) on every subsequent call. Implemented as a closure
// rather than an interface with virtual Next(), matching the teacher's
// preference for first-class functions over one-method interfaces where a
// single method is all that's needed.
type Iterator func() AllocationIndex

// AllIterator enumerates every allocation index, used and free.
func AllIterator(dir *Directory) Iterator {
	n := AllocationIndex(dir.NumAllocations())
	i := AllocationIndex(0)
	return func() AllocationIndex {
		if i >= n {
			return n
		}
		r := i
		i++
		return r
	}
}

func filteredIterator(dir *Directory, keep func(AllocationIndex) bool) Iterator {
	n := AllocationIndex(dir.NumAllocations())
	i := AllocationIndex(0)
	return func() AllocationIndex {
		for i < n {
			r := i
			i++
			if keep(r) {
				return r
			}
		}
		return n
	}
}

// UsedIterator enumerates used allocations.
func UsedIterator(dir *Directory) Iterator {
	return filteredIterator(dir, func(i AllocationIndex) bool { return dir.Allocation(i).Used })
}

// FreeIterator enumerates free allocations.
func FreeIterator(dir *Directory) Iterator {
	return filteredIterator(dir, func(i AllocationIndex) bool { return !dir.Allocation(i).Used })
}

// ThreadCachedIterator enumerates allocations flagged thread-cached.
func ThreadCachedIterator(dir *Directory) Iterator {
	return filteredIterator(dir, func(i AllocationIndex) bool { return dir.Allocation(i).Used && dir.ThreadCached(i) })
}

// AnchoredIterator enumerates used, non-leaked allocations. Fails
// gracefully (empty) if aa is nil.
func AnchoredIterator(dir *Directory, aa *AnchorAnalysis) Iterator {
	if aa == nil {
		return emptyIterator(dir)
	}
	return filteredIterator(dir, aa.IsAnchored)
}

// LeakedIterator enumerates leaked allocations.
func LeakedIterator(dir *Directory, aa *AnchorAnalysis) Iterator {
	if aa == nil {
		return emptyIterator(dir)
	}
	return filteredIterator(dir, aa.IsLeaked)
}

// UnreferencedIterator enumerates leaked allocations with no incoming
// edge from a used allocation.
func UnreferencedIterator(dir *Directory, aa *AnchorAnalysis) Iterator {
	if aa == nil {
		return emptyIterator(dir)
	}
	return filteredIterator(dir, aa.IsUnreferenced)
}

// AnchorPointsIterator enumerates direct anchor points in any category,
// or (if cat is given) one specific category.
func AnchorPointsIterator(dir *Directory, aa *AnchorAnalysis, cat *AnchorCategory) Iterator {
	if aa == nil {
		return emptyIterator(dir)
	}
	if cat == nil {
		return filteredIterator(dir, aa.IsAnchorPoint)
	}
	c := *cat
	return filteredIterator(dir, func(i AllocationIndex) bool { return aa.IsAnchorPointIn(c, i) })
}

func emptyIterator(dir *Directory) Iterator {
	n := AllocationIndex(dir.NumAllocations())
	return func() AllocationIndex { return n }
}

// SingleIterator yields exactly the allocation containing addr, then N.
// Yields only N if addr isn't inside any allocation.
func SingleIterator(dir *Directory, addr Address) Iterator {
	n := AllocationIndex(dir.NumAllocations())
	idx := dir.IndexOf(addr)
	done := false
	return func() AllocationIndex {
		if done || idx == n {
			return n
		}
		done = true
		return idx
	}
}

// ChainIterator starts at the allocation containing addr and repeatedly
// follows the pointer at linkOffset within the current allocation's
// payload, until the offset doesn't fit or the target isn't an
// allocation (spec.md §4.8 "chain").
func ChainIterator(dir *Directory, reader Reader, ptrSize int64, addr Address, linkOffset int64) Iterator {
	n := AllocationIndex(dir.NumAllocations())
	index := dir.IndexOf(addr)
	return func() AllocationIndex {
		r := index
		if index == n {
			return r
		}
		a := dir.Allocation(index)
		index = n
		if a.Size >= linkOffset+ptrSize {
			if word, ok := reader.ReadPtr(a.Address.Add(linkOffset)); ok {
				index = dir.IndexOf(Address(word))
			}
		}
		return r
	}
}

// ReverseChainIterator starts at the allocation containing addr and
// repeatedly follows the single incoming edge whose source has a pointer
// at sourceOffset equal to (current allocation's address + targetOffset);
// stops if zero or more than one such edge exists (spec.md §4.8
// "reverse-chain").
func ReverseChainIterator(dir *Directory, g *Graph, reader Reader, ptrSize int64, addr Address, sourceOffset, targetOffset int64) Iterator {
	n := AllocationIndex(dir.NumAllocations())
	index := dir.IndexOf(addr)
	return func() AllocationIndex {
		r := index
		if index == n {
			return r
		}
		target := dir.Allocation(index)
		index = n
		if target.Size < targetOffset {
			return r
		}
		wantAddr := target.Address.Add(targetOffset)
		found := n
		for _, src := range g.Incoming(r) {
			sa := dir.Allocation(src)
			if sa.Size < sourceOffset+ptrSize {
				continue
			}
			word, ok := reader.ReadPtr(sa.Address.Add(sourceOffset))
			if !ok || Address(word) != wantAddr {
				continue
			}
			if found != n {
				found = n
				break
			}
			found = src
		}
		index = found
		return r
	}
}

// IncomingIterator enumerates the sources of target's incoming edges.
func IncomingIterator(g *Graph, target AllocationIndex) Iterator {
	sources := g.Incoming(target)
	i := 0
	n := AllocationIndex(g.Directory().NumAllocations())
	return func() AllocationIndex {
		if i >= len(sources) {
			return n
		}
		r := sources[i]
		i++
		return r
	}
}

// OutgoingIterator enumerates the targets of source's outgoing edges.
func OutgoingIterator(g *Graph, source AllocationIndex) Iterator {
	targets := g.Outgoing(source)
	i := 0
	n := AllocationIndex(g.Directory().NumAllocations())
	return func() AllocationIndex {
		if i >= len(targets) {
			return n
		}
		r := targets[i]
		i++
		return r
	}
}

// ExactIncomingIterator enumerates sources of target's incoming edges
// whose pointer to target sits at exactly sourceOffset bytes into the
// source.
func ExactIncomingIterator(dir *Directory, g *Graph, reader Reader, ptrSize int64, target AllocationIndex, sourceOffset int64) Iterator {
	sources := g.Incoming(target)
	n := AllocationIndex(dir.NumAllocations())
	targetAddr := dir.Allocation(target).Address
	i := 0
	return func() AllocationIndex {
		for i < len(sources) {
			src := sources[i]
			i++
			a := dir.Allocation(src)
			if a.Size < sourceOffset+ptrSize {
				continue
			}
			word, ok := reader.ReadPtr(a.Address.Add(sourceOffset))
			if ok && Address(word) == targetAddr {
				return src
			}
		}
		return n
	}
}

// FreeOutgoingIterator enumerates the targets of source's outgoing edges
// that land in a *free* allocation (the Graph stores edges to used and
// free targets alike; this just filters Outgoing(source) by Used).
func FreeOutgoingIterator(dir *Directory, g *Graph, source AllocationIndex) Iterator {
	targets := g.Outgoing(source)
	i := 0
	n := AllocationIndex(dir.NumAllocations())
	return func() AllocationIndex {
		for i < len(targets) {
			t := targets[i]
			i++
			if !dir.Allocation(t).Used {
				return t
			}
		}
		return n
	}
}

// DerivedIterator enumerates the members of the persisted derived set.
func DerivedIterator(derived *Set) Iterator {
	n := AllocationIndex(derived.Len())
	next := AllocationIndex(0)
	return func() AllocationIndex {
		r := derived.NextUsed(next)
		if r == n {
			return n
		}
		next = r + 1
		return r
	}
}

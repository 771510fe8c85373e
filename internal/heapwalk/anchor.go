package heapwalk

// AnchorCategory names one of the four root classes spec.md §3 defines.
type AnchorCategory int

const (
	StaticAnchor AnchorCategory = iota
	StackAnchor
	RegisterAnchor
	ExternalAnchor
	numAnchorCategories
)

func (c AnchorCategory) String() string {
	switch c {
	case StaticAnchor:
		return "static"
	case StackAnchor:
		return "stack"
	case RegisterAnchor:
		return "register"
	case ExternalAnchor:
		return "external"
	}
	return "unknown"
}

// StaticRange is one entry of the "static-anchor limits" map spec.md §4.2
// describes: a range of static memory to scan for pointers, e.g. a
// module's .data or .bss section.
type StaticRange struct {
	Min, Max Address
}

// StackRegion is one thread stack (or similar) range to scan for pointers.
type StackRegion struct {
	Min, Max  Address
	Kind      string
	ThreadNum int
}

// StackRegistry enumerates the stack regions to scan for stack anchors.
type StackRegistry interface {
	VisitStacks(fn func(StackRegion) bool)
}

// ThreadInfo is one OS thread's register snapshot.
type ThreadInfo struct {
	ThreadNum int
	Registers []uint64
}

// ThreadMap enumerates OS threads for register-anchor scanning.
type ThreadMap interface {
	ForEachThread(fn func(ThreadInfo) bool)
	NumRegisters() int
	RegisterName(i int) string
}

// ExternalAnchorPointChecker asks, per allocation, whether its contents
// imply externally-imposed liveness the graph can't otherwise see (e.g. a
// well-known header pattern). A nil reason/false return means no opinion.
type ExternalAnchorPointChecker interface {
	ExternalReason(i AllocationIndex, img *ContiguousImage) (reason string, ok bool)
}

// RegisterAnchorEncoding packs (thread, register) per spec.md §3:
// thread-number × NumRegisters + register-number.
func RegisterAnchorEncoding(threadNum, numRegisters, registerNum int) int {
	return threadNum*numRegisters + registerNum
}

// AnchorPoints holds, per category, the map from anchored allocation to
// the list of root locations that anchor it.
type AnchorPoints struct {
	Static   map[AllocationIndex][]Address
	Stack    map[AllocationIndex][]Address
	Register map[AllocationIndex][]int
	External map[AllocationIndex][]string
}

// AnchorAnalysis finds the four categories of anchor points, runs BFS
// reachability from each, and classifies every used allocation as leaked
// or anchored (spec.md §4.2).
type AnchorAnalysis struct {
	g      *Graph
	dir    *Directory
	reader Reader

	Points      AnchorPoints
	distances   [numAnchorCategories]*IndexedDistances
	leaked      *Set
	numRegisters int
	registerName func(int) string
}

// NewAnchorAnalysis runs the full anchor analysis over g. threads, stacks,
// and external may be nil (no anchors of that category are found).
func NewAnchorAnalysis(g *Graph, reader Reader, ptrSize int64, staticRanges []StaticRange, threads ThreadMap, stacks StackRegistry, external ExternalAnchorPointChecker) *AnchorAnalysis {
	dir := g.Directory()
	n := dir.NumAllocations()
	aa := &AnchorAnalysis{
		g:      g,
		dir:    dir,
		reader: reader,
		Points: AnchorPoints{
			Static:   map[AllocationIndex][]Address{},
			Stack:    map[AllocationIndex][]Address{},
			Register: map[AllocationIndex][]int{},
			External: map[AllocationIndex][]string{},
		},
		leaked: NewSet(n),
	}
	dir.ForEachAllocation(func(i AllocationIndex) bool {
		if dir.Allocation(i).Used {
			aa.leaked.Add(i) // leaked until proven otherwise
		}
		return true
	})

	aa.findStaticAnchorPoints(staticRanges, ptrSize)
	aa.findStackAnchorPoints(stacks, ptrSize)
	aa.findRegisterAnchorPoints(threads)
	aa.findExternalAnchorPoints(external)

	aa.distances[StaticAnchor] = aa.bfs(aa.Points.Static)
	aa.distances[StackAnchor] = aa.bfs(aa.Points.Stack)
	aa.distances[RegisterAnchor] = aa.bfsKeysOnly(aa.Points.Register)
	aa.distances[ExternalAnchor] = aa.bfsKeysOnly(aa.Points.External)
	return aa
}

func (aa *AnchorAnalysis) findStaticAnchorPoints(ranges []StaticRange, ptrSize int64) {
	n := AllocationIndex(aa.dir.NumAllocations())
	for _, r := range ranges {
		for a := r.Min; a < r.Max; a = a.Add(ptrSize) {
			word, ok := aa.reader.ReadPtr(a)
			if !ok {
				continue
			}
			idx := aa.dir.IndexOf(Address(word))
			if idx == n || !aa.dir.Allocation(idx).Used {
				continue
			}
			aa.Points.Static[idx] = append(aa.Points.Static[idx], a)
		}
	}
}

func (aa *AnchorAnalysis) findStackAnchorPoints(stacks StackRegistry, ptrSize int64) {
	if stacks == nil {
		return
	}
	n := AllocationIndex(aa.dir.NumAllocations())
	stacks.VisitStacks(func(region StackRegion) bool {
		for a := region.Min; a < region.Max; a = a.Add(ptrSize) {
			word, ok := aa.reader.ReadPtr(a)
			if !ok {
				continue
			}
			idx := aa.dir.IndexOf(Address(word))
			if idx == n || !aa.dir.Allocation(idx).Used {
				continue
			}
			aa.Points.Stack[idx] = append(aa.Points.Stack[idx], a)
		}
		return true
	})
}

func (aa *AnchorAnalysis) findRegisterAnchorPoints(threads ThreadMap) {
	if threads == nil {
		return
	}
	n := AllocationIndex(aa.dir.NumAllocations())
	numRegs := threads.NumRegisters()
	aa.numRegisters = numRegs
	aa.registerName = threads.RegisterName
	threads.ForEachThread(func(t ThreadInfo) bool {
		for r, v := range t.Registers {
			idx := aa.dir.IndexOf(Address(v))
			if idx == n || !aa.dir.Allocation(idx).Used {
				continue
			}
			enc := RegisterAnchorEncoding(t.ThreadNum, numRegs, r)
			aa.Points.Register[idx] = append(aa.Points.Register[idx], enc)
		}
		return true
	})
}

func (aa *AnchorAnalysis) findExternalAnchorPoints(checker ExternalAnchorPointChecker) {
	if checker == nil {
		return
	}
	img := NewContiguousImage(aa.reader, 8)
	aa.dir.ForEachAllocation(func(i AllocationIndex) bool {
		a := aa.dir.Allocation(i)
		if !a.Used {
			return true
		}
		img.Reset(a.Address, a.Size)
		if reason, ok := checker.ExternalReason(i, img); ok {
			aa.Points.External[i] = append(aa.Points.External[i], reason)
		}
		return true
	})
}

// bfs runs the shared BFS over a map keyed by allocation index whose
// values are address lists (static/stack categories).
func (aa *AnchorAnalysis) bfs(points map[AllocationIndex][]Address) *IndexedDistances {
	seeds := make([]AllocationIndex, 0, len(points))
	for idx := range points {
		seeds = append(seeds, idx)
	}
	return aa.runBFS(seeds)
}

// bfsKeysOnly is bfs's twin for the register/external maps, whose value
// type doesn't matter for seeding.
func (aa *AnchorAnalysis) bfsKeysOnly(points interface{}) *IndexedDistances {
	var seeds []AllocationIndex
	switch m := points.(type) {
	case map[AllocationIndex][]int:
		for idx := range m {
			seeds = append(seeds, idx)
		}
	case map[AllocationIndex][]string:
		for idx := range m {
			seeds = append(seeds, idx)
		}
	}
	return aa.runBFS(seeds)
}

func (aa *AnchorAnalysis) runBFS(seeds []AllocationIndex) *IndexedDistances {
	n := aa.dir.NumAllocations()
	dist := NewIndexedDistances(n)
	visited := NewSet(n)
	// Free allocations are pre-marked visited: BFS must traverse only
	// through used allocations.
	aa.dir.ForEachAllocation(func(i AllocationIndex) bool {
		if !aa.dir.Allocation(i).Used {
			visited.Add(i)
		}
		return true
	})
	var queue []AllocationIndex
	for _, s := range seeds {
		if visited.Has(s) {
			continue
		}
		visited.Add(s)
		dist.Set(s, 1)
		aa.leaked.Remove(s)
		queue = append(queue, s)
	}
	for len(queue) > 0 {
		x := queue[0]
		queue = queue[1:]
		dx := dist.Get(x)
		for _, y := range aa.g.Outgoing(x) {
			if visited.Has(y) {
				continue
			}
			visited.Add(y)
			dist.Set(y, dx+1)
			aa.leaked.Remove(y)
			queue = append(queue, y)
		}
	}
	return dist
}

// Distance returns allocation i's distance from the nearest anchor in
// category cat (0 if unreached).
func (aa *AnchorAnalysis) Distance(cat AnchorCategory, i AllocationIndex) uint32 {
	return aa.distances[cat].Get(i)
}

// IsLeaked reports whether i is a used allocation unreachable from every
// anchor category.
func (aa *AnchorAnalysis) IsLeaked(i AllocationIndex) bool {
	return aa.dir.Allocation(i).Used && aa.leaked.Has(i)
}

// IsAnchored reports whether i is a used, reachable allocation.
func (aa *AnchorAnalysis) IsAnchored(i AllocationIndex) bool {
	return aa.dir.Allocation(i).Used && !aa.leaked.Has(i)
}

// IsUnreferenced reports whether i is leaked and has no incoming edge
// from a used allocation.
func (aa *AnchorAnalysis) IsUnreferenced(i AllocationIndex) bool {
	if !aa.IsLeaked(i) {
		return false
	}
	for _, src := range aa.g.Incoming(i) {
		if aa.dir.Allocation(src).Used {
			return false
		}
	}
	return true
}

// IsAnchorPoint reports whether i is directly anchored in any category.
func (aa *AnchorAnalysis) IsAnchorPoint(i AllocationIndex) bool {
	for cat := AnchorCategory(0); cat < numAnchorCategories; cat++ {
		if aa.distances[cat].IsAnchorPoint(i) {
			return true
		}
	}
	return false
}

// IsAnchorPointIn reports whether i is directly anchored in category cat.
func (aa *AnchorAnalysis) IsAnchorPointIn(cat AnchorCategory, i AllocationIndex) bool {
	return aa.distances[cat].IsAnchorPoint(i)
}

// StaticAnchors returns the static-memory addresses that directly anchor
// allocation i, or nil if it has none.
func (aa *AnchorAnalysis) StaticAnchors(i AllocationIndex) []Address { return aa.Points.Static[i] }

// StackAnchors returns the stack addresses that directly anchor
// allocation i, or nil if it has none.
func (aa *AnchorAnalysis) StackAnchors(i AllocationIndex) []Address { return aa.Points.Stack[i] }

// Directory exposes the allocation directory the analysis was built over.
func (aa *AnchorAnalysis) Directory() *Directory { return aa.dir }

// decodeRegisterRoot inverts RegisterAnchorEncoding using the NumRegisters
// recorded when register anchors were found.
func (aa *AnchorAnalysis) decodeRegisterRoot(enc int) RegisterRoot {
	if aa.numRegisters == 0 {
		return RegisterRoot{ThreadNum: enc}
	}
	thread := enc / aa.numRegisters
	reg := enc % aa.numRegisters
	name := ""
	if aa.registerName != nil {
		name = aa.registerName(reg)
	}
	return RegisterRoot{ThreadNum: thread, RegisterNum: reg, RegisterName: name}
}

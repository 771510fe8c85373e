package finder

import (
	"github.com/heaptrace/corewalk/internal/heapwalk"
	"github.com/heaptrace/corewalk/internal/image"
)

// Threads adapts *image.Image to heapwalk.ThreadMap.
type Threads struct {
	img *image.Image
}

func NewThreads(img *image.Image) Threads { return Threads{img: img} }

func (t Threads) NumRegisters() int         { return t.img.NumRegisters() }
func (t Threads) RegisterName(i int) string { return t.img.RegisterName(i) }

// ForEachThread reports one heapwalk.ThreadInfo per core-file thread, in
// the order the core file listed them (thread number == NT_PRSTATUS
// occurrence order, matching RegisterAnchorEncoding's expectation that
// thread numbers are stable small integers).
func (t Threads) ForEachThread(fn func(heapwalk.ThreadInfo) bool) {
	for i, th := range t.img.Threads() {
		regs := make([]uint64, len(th.Regs))
		copy(regs, th.Regs)
		if !fn(heapwalk.ThreadInfo{ThreadNum: i, Registers: regs}) {
			return
		}
	}
}

// Stacks adapts *image.Image to heapwalk.StackRegistry. Each thread
// contributes one StackRegion, from its stack pointer at dump time up to
// the top of whichever mapping contains that pointer: memory below SP in
// a downward-growing stack is unused call history, not live data, so
// scanning it for anchors would only produce false positives.
type Stacks struct {
	img *image.Image
}

func NewStacks(img *image.Image) Stacks { return Stacks{img: img} }

func (s Stacks) VisitStacks(fn func(heapwalk.StackRegion) bool) {
	for i, th := range s.img.Threads() {
		m := containingMapping(s.img, th.SP)
		if m == nil {
			continue
		}
		region := heapwalk.StackRegion{
			Min:       th.SP,
			Max:       m.Max(),
			Kind:      "stack",
			ThreadNum: i,
		}
		if !fn(region) {
			return
		}
	}
}

func containingMapping(img *image.Image, a image.Address) *image.Mapping {
	for _, m := range img.Mappings() {
		if a >= m.Min() && a < m.Max() {
			return m
		}
	}
	return nil
}

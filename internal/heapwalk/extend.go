package heapwalk

import (
	"fmt"
	"strconv"
	"strings"
)

type extendDirection int

const (
	extOutgoing       extendDirection = iota // "->"
	extOutgoingLeaked                        // "~>"
	extIncoming                              // "<-"
)

// extendRuleText is one parsed `/extend` rule (spec.md §4.5), before
// signature compilation and state-label resolution.
type extendRuleText struct {
	memberConstraint string
	memberOffset     int64 // -1 if absent
	dir              extendDirection
	extConstraint    string
	extOffset        int64 // -1 if absent
	toState          string // "" if absent (stays in base state)
}

// parseExtendRuleText parses one `/extend` argument's grammar:
//
//	[member-constraint][@hex-offset-in-member]<dir>[extension-constraint][@hex-offset-in-extension][=>state-label]
func parseExtendRuleText(s string) (extendRuleText, error) {
	dirPos, dirLen, dir, err := findExtendDirection(s)
	if err != nil {
		return extendRuleText{}, err
	}
	left := s[:dirPos]
	right := s[dirPos+dirLen:]

	r := extendRuleText{dir: dir, memberOffset: -1, extOffset: -1}
	r.memberConstraint, r.memberOffset, err = splitConstraintOffset(left)
	if err != nil {
		return extendRuleText{}, fmt.Errorf("heapwalk: extend rule %q: member: %w", s, err)
	}

	if i := strings.Index(right, "=>"); i >= 0 {
		r.toState = right[i+2:]
		right = right[:i]
	}
	r.extConstraint, r.extOffset, err = splitConstraintOffset(right)
	if err != nil {
		return extendRuleText{}, fmt.Errorf("heapwalk: extend rule %q: extension: %w", s, err)
	}
	return r, nil
}

func findExtendDirection(s string) (pos, length int, dir extendDirection, err error) {
	best := -1
	for _, tok := range []struct {
		s string
		d extendDirection
	}{
		{"->", extOutgoing},
		{"~>", extOutgoingLeaked},
		{"<-", extIncoming},
	} {
		if i := strings.Index(s, tok.s); i >= 0 && (best < 0 || i < pos) {
			pos, length, dir, best = i, len(tok.s), tok.d, i
		}
	}
	if best < 0 {
		return 0, 0, 0, fmt.Errorf("heapwalk: extend rule %q: missing ->, ~>, or <-", s)
	}
	return pos, length, dir, nil
}

func splitConstraintOffset(s string) (constraint string, offset int64, err error) {
	i := strings.LastIndex(s, "@")
	if i < 0 {
		return s, -1, nil
	}
	v, err := strconv.ParseInt(s[i+1:], 16, 64)
	if err != nil {
		return "", 0, fmt.Errorf("invalid hex offset %q: %w", s[i+1:], err)
	}
	return s[:i], v, nil
}

// compiledExtendRule is one rule ready for execution: its constraints are
// signature checkers and its target state is a resolved index.
type compiledExtendRule struct {
	member       *SignatureChecker
	memberOffset int64
	dir          extendDirection
	ext          *SignatureChecker
	extOffset    int64
	toState      int
}

// ExtendedVisitor compiles and runs the set-extension state machine of
// spec.md §4.5.
type ExtendedVisitor struct {
	dir    *Directory
	g      *Graph
	reader Reader
	ptrSize int64
	aa     *AnchorAnalysis // may be nil; required only for "~>" rules
	tags   *TagHolder
	tainted, favored *EdgePredicate
	isSignatureWord func(Address) bool

	states       []string // index 0 == ""
	rulesByState [][]compiledExtendRule

	SkipTaintedReferences   bool
	SkipUnfavoredReferences bool
	CommentExtensions       bool

	visited *Set
}

// NewExtendedVisitor compiles rawRules (the `/extend` switch values, in
// argument order) into a ready-to-run state machine. sigDir/typeDir/tags
// resolve signature and pattern constraints; allowMissing suppresses
// unknown-name errors (matching `/allowMissingSignatures on`).
func NewExtendedVisitor(dir *Directory, g *Graph, reader Reader, ptrSize int64, aa *AnchorAnalysis, tags *TagHolder, tainted, favored *EdgePredicate, isSignatureWord func(Address) bool, sigDir *SignatureDirectory, typeDir *TypeDirectory, allowMissing bool, rawRules []string) (*ExtendedVisitor, error) {
	if isSignatureWord == nil {
		isSignatureWord = func(Address) bool { return false }
	}
	ev := &ExtendedVisitor{
		dir: dir, g: g, reader: reader, ptrSize: ptrSize, aa: aa, tags: tags,
		tainted: tainted, favored: favored, isSignatureWord: isSignatureWord,
		states: []string{""},
	}
	texts := make([]extendRuleText, len(rawRules))
	for i, raw := range rawRules {
		t, err := parseExtendRuleText(raw)
		if err != nil {
			return nil, err
		}
		texts[i] = t
		if t.toState != "" {
			ev.internState(t.toState)
		}
	}

	ev.rulesByState = make([][]compiledExtendRule, len(ev.states))
	haveBaseRule := false
	for _, t := range texts {
		baseState := 0
		memberConstraint := t.memberConstraint
		if idx, ok := ev.lookupState(memberConstraint); ok && memberConstraint != "" {
			baseState = idx
			memberConstraint = ""
		}
		member, err := ParseSignatureChecker(memberConstraint, sigDir, typeDir, tags, allowMissing)
		if err != nil {
			return nil, err
		}
		ext, err := ParseSignatureChecker(t.extConstraint, sigDir, typeDir, tags, allowMissing)
		if err != nil {
			return nil, err
		}
		toState := 0
		if t.toState != "" {
			toState, _ = ev.lookupState(t.toState)
		}
		ev.rulesByState[baseState] = append(ev.rulesByState[baseState], compiledExtendRule{
			member: member, memberOffset: t.memberOffset, dir: t.dir,
			ext: ext, extOffset: t.extOffset, toState: toState,
		})
		if baseState == 0 {
			haveBaseRule = true
		}
	}
	if len(texts) > 0 && !haveBaseRule {
		return nil, fmt.Errorf("heapwalk: extend rules never leave the base state")
	}
	return ev, nil
}

func (ev *ExtendedVisitor) internState(label string) int {
	if idx, ok := ev.lookupState(label); ok {
		return idx
	}
	ev.states = append(ev.states, label)
	return len(ev.states) - 1
}

func (ev *ExtendedVisitor) lookupState(label string) (int, bool) {
	for i, s := range ev.states {
		if s == label {
			return i, true
		}
	}
	return 0, false
}

// Enabled reports whether any rule was compiled (an empty rule set means
// extension is off and Visit should just visit the seed once).
func (ev *ExtendedVisitor) Enabled() bool {
	for _, rules := range ev.rulesByState {
		if len(rules) > 0 {
			return true
		}
	}
	return false
}

type extendFrame struct {
	member     AllocationIndex
	state      int
	ruleIdx    int
	candidates []AllocationIndex
	candIdx    int
}

// Visit runs the extension traversal seeded at m, calling visit.Visit for
// m and every allocation reached through a matching rule chain, each at
// most once across this call (spec.md §4.5 step 5's guarantee; Reset
// between independent queries so that guarantee applies per-query, not
// across the whole program run).
func (ev *ExtendedVisitor) Visit(m AllocationIndex, visitor interface{ Visit(AllocationIndex) }) {
	if ev.visited == nil {
		ev.visited = NewSet(ev.dir.NumAllocations())
	}
	if !ev.Enabled() {
		if !ev.visited.Has(m) {
			ev.visited.Add(m)
			visitor.Visit(m)
		}
		return
	}
	if ev.visited.Has(m) {
		return
	}
	ev.visited.Add(m)
	visitor.Visit(m)

	stack := []extendFrame{{member: m, state: 0}}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		rules := ev.rulesByState[top.state]
		if top.ruleIdx >= len(rules) {
			stack = stack[:len(stack)-1]
			continue
		}
		rule := rules[top.ruleIdx]
		if top.candidates == nil && top.candIdx == 0 {
			if !ev.memberQualifies(rule, top.member) {
				top.ruleIdx++
				continue
			}
			top.candidates = ev.gatherCandidates(rule, top.member)
		}
		matched := false
		for top.candIdx < len(top.candidates) {
			cand := top.candidates[top.candIdx]
			top.candIdx++
			if !ev.applyExtensionChecks(rule, top.member, cand) {
				continue
			}
			if ev.visited.Has(cand) {
				continue
			}
			matched = true
			break
		}
		if !matched {
			top.ruleIdx++
			top.candidates = nil
			top.candIdx = 0
			continue
		}
		cand := top.candidates[top.candIdx-1]
		ev.visited.Add(cand)
		visitor.Visit(cand)
		stack = append(stack, extendFrame{member: cand, state: rule.toState})
	}
}

func (ev *ExtendedVisitor) memberQualifies(rule compiledExtendRule, member AllocationIndex) bool {
	a := ev.dir.Allocation(member)
	firstWord, hasWord := firstWordOf(ev.reader, a)
	isUnsigned := hasWord && !ev.isSignatureWord(firstWord)
	var tag TagIndex
	if ev.tags != nil {
		tag = ev.tags.GetTagIndex(member)
	}
	return rule.member.Check(firstWord, hasWord, isUnsigned, tag)
}

func (ev *ExtendedVisitor) gatherCandidates(rule compiledExtendRule, member AllocationIndex) []AllocationIndex {
	a := ev.dir.Allocation(member)
	if rule.dir != extIncoming && rule.memberOffset >= 0 {
		if a.Size < rule.memberOffset+ev.ptrSize {
			return nil
		}
		word, ok := ev.reader.ReadPtr(a.Address.Add(rule.memberOffset))
		if !ok {
			return nil
		}
		idx := ev.dir.IndexOf(Address(word))
		if idx == AllocationIndex(ev.dir.NumAllocations()) {
			return nil
		}
		return []AllocationIndex{idx}
	}
	if rule.dir == extIncoming {
		return append([]AllocationIndex(nil), ev.g.Incoming(member)...)
	}
	return append([]AllocationIndex(nil), ev.g.Outgoing(member)...)
}

func (ev *ExtendedVisitor) applyExtensionChecks(rule compiledExtendRule, member, cand AllocationIndex) bool {
	if rule.dir == extOutgoingLeaked {
		if ev.aa == nil || !ev.aa.IsLeaked(cand) {
			return false
		}
	}
	ca := ev.dir.Allocation(cand)
	firstWord, hasWord := firstWordOf(ev.reader, ca)
	isUnsigned := hasWord && !ev.isSignatureWord(firstWord)
	var tag TagIndex
	if ev.tags != nil {
		tag = ev.tags.GetTagIndex(cand)
	}
	if !rule.ext.Check(firstWord, hasWord, isUnsigned, tag) {
		return false
	}
	if rule.extOffset >= 0 && rule.memberOffset < 0 {
		if !ev.memberPointsAt(member, ca.Address.Add(rule.extOffset)) {
			return false
		}
	}
	if ev.SkipTaintedReferences && ev.tainted != nil {
		if rule.dir == extIncoming {
			if ev.tainted.ForIncoming(ev.g.GetIncomingEdgeIndex(cand, member)) {
				return false
			}
		} else if ev.tainted.ForOutgoing(ev.g.GetOutgoingEdgeIndex(member, cand)) {
			return false
		}
	}
	if ev.SkipUnfavoredReferences && ev.favored != nil {
		var isFavored bool
		if rule.dir == extIncoming {
			isFavored = ev.favored.ForIncoming(ev.g.GetIncomingEdgeIndex(cand, member))
		} else {
			isFavored = ev.favored.ForOutgoing(ev.g.GetOutgoingEdgeIndex(member, cand))
		}
		if !isFavored {
			return false
		}
	}
	return true
}

// memberPointsAt scans member's pointer-aligned words for one equal to
// want, the "aligned-pointer from member to (candidate+offset)" check of
// spec.md §4.5.
func (ev *ExtendedVisitor) memberPointsAt(member AllocationIndex, want Address) bool {
	a := ev.dir.Allocation(member)
	img := NewContiguousImage(ev.reader, ev.ptrSize)
	img.Reset(a.Address, a.Size)
	for w := int64(0); w < img.NumWords(); w++ {
		if img.WordAsAddress(w) == want {
			return true
		}
	}
	return false
}

// Reset clears the per-query visited bitset, matching spec.md §4.7 "the
// visited bitset is reset at the start of each query".
func (ev *ExtendedVisitor) Reset() {
	if ev.visited != nil {
		ev.visited.Clear()
	}
}

// VisitedSet returns the bitset of every allocation Visit has reported
// since the last Reset, for `/setOperation assign|subtract` to fold into
// the persistent derived set.
func (ev *ExtendedVisitor) VisitedSet() *Set {
	if ev.visited == nil {
		ev.visited = NewSet(ev.dir.NumAllocations())
	}
	return ev.visited
}

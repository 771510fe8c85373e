package heapwalk

// Annotation is one label an Annotator attached to a byte offset within
// an allocation.
type Annotation struct {
	Offset int64
	Text   string
}

// Annotator decorates one pointer-word offset of a matching allocation.
// Annotate returns the offset to resume scanning from (which may cover
// more than one word, e.g. a string's full length) and whether it
// recognized anything at offset at all.
type Annotator interface {
	Name() string
	Annotate(dir *Directory, reader Reader, i AllocationIndex, offset int64) (nextOffset int64, ok bool)
}

type annotateRule struct {
	constraint *SignatureChecker
	name       string // "*" for wildcard
	offset     int64  // -1 for wildcard (every offset)
}

// AnnotatorRegistry holds the `/annotate` rules and the named Annotators
// they select, and runs the per-offset annotation pass of spec.md §4.5's
// last paragraph.
type AnnotatorRegistry struct {
	dir        *Directory
	reader     Reader
	ptrSize    int64
	tags       *TagHolder
	isSigWord  func(Address) bool
	annotators map[string]Annotator
	rules      []annotateRule
}

// NewAnnotatorRegistry constructs an empty registry; register rules with
// AddRule and annotators with Register before calling Annotate.
func NewAnnotatorRegistry(dir *Directory, reader Reader, ptrSize int64, tags *TagHolder, isSigWord func(Address) bool) *AnnotatorRegistry {
	if isSigWord == nil {
		isSigWord = func(Address) bool { return false }
	}
	return &AnnotatorRegistry{
		dir: dir, reader: reader, ptrSize: ptrSize, tags: tags, isSigWord: isSigWord,
		annotators: map[string]Annotator{},
	}
}

// Register makes a by Name()-keyed for rules to reference.
func (r *AnnotatorRegistry) Register(a Annotator) {
	r.annotators[a.Name()] = a
}

// AddRule compiles one `/annotate <constraint>.<name|*>[@hex-offset]`
// switch value. offset -1 means "every offset" (the wildcard form).
func (r *AnnotatorRegistry) AddRule(constraint string, name string, offset int64, sigDir *SignatureDirectory, typeDir *TypeDirectory, allowMissing bool) error {
	c, err := ParseSignatureChecker(constraint, sigDir, typeDir, r.tags, allowMissing)
	if err != nil {
		return err
	}
	r.rules = append(r.rules, annotateRule{constraint: c, name: name, offset: offset})
	return nil
}

// Annotate runs the full per-offset pass over allocation i, in increasing
// offset order, and returns the annotations produced.
func (r *AnnotatorRegistry) Annotate(i AllocationIndex) []Annotation {
	a := r.dir.Allocation(i)
	firstWord, hasWord := firstWordOf(r.reader, a)
	isUnsigned := hasWord && !r.isSigWord(firstWord)
	var tag TagIndex
	if r.tags != nil {
		tag = r.tags.GetTagIndex(i)
	}
	matching := r.matchingRules(firstWord, hasWord, isUnsigned, tag)
	if len(matching) == 0 {
		return nil
	}

	var out []Annotation
	numWords := a.Size / r.ptrSize
	for offset := int64(0); offset < numWords*r.ptrSize; {
		next, text, ok := r.annotateOffset(matching, i, offset)
		if !ok {
			offset += r.ptrSize
			continue
		}
		out = append(out, Annotation{Offset: offset, Text: text})
		if next <= offset {
			next = offset + r.ptrSize
		}
		offset = next
	}
	return out
}

func (r *AnnotatorRegistry) matchingRules(firstWord Address, hasWord, isUnsigned bool, tag TagIndex) []annotateRule {
	var out []annotateRule
	for _, rule := range r.rules {
		if rule.constraint.Check(firstWord, hasWord, isUnsigned, tag) {
			out = append(out, rule)
		}
	}
	return out
}

// annotateOffset tries offset-specific rules before wildcard-offset
// rules, in rule-registration order within each group, and takes the
// first annotator whose Annotate call reports ok.
func (r *AnnotatorRegistry) annotateOffset(rules []annotateRule, i AllocationIndex, offset int64) (next int64, text string, ok bool) {
	var specific, wildcard []annotateRule
	for _, rule := range rules {
		if rule.offset == offset {
			specific = append(specific, rule)
		} else if rule.offset == -1 {
			wildcard = append(wildcard, rule)
		}
	}
	for _, group := range [][]annotateRule{specific, wildcard} {
		for _, rule := range group {
			names := []string{rule.name}
			if rule.name == "*" {
				names = r.allAnnotatorNames()
			}
			for _, name := range names {
				a, found := r.annotators[name]
				if !found {
					continue
				}
				n, matched := a.Annotate(r.dir, r.reader, i, offset)
				if matched && n > offset {
					return n, a.Name(), true
				}
			}
		}
	}
	return offset, "", false
}

func (r *AnnotatorRegistry) allAnnotatorNames() []string {
	names := make([]string, 0, len(r.annotators))
	for name := range r.annotators {
		names = append(names, name)
	}
	return names
}

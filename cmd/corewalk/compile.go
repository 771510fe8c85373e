package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/heaptrace/corewalk/internal/heapwalk"
)

// isKnownSignatureWord always reports false: corewalk ships no vtable or
// signature table of its own (see session.go), so no first word is ever a
// recognized signature.
func isKnownSignatureWord(heapwalk.Address) bool { return false }

// compiledQuery is everything RunQuery needs for one query, built from a
// querySwitches plus the session's static analysis state.
type compiledQuery struct {
	query       *heapwalk.Query
	ext         *heapwalk.ExtendedVisitor
	annotations *heapwalk.AnnotatorRegistry
}

// parseAnnotateRuleText splits one `/annotate` value of the form
// "<constraint>.<name|*>[@hex-offset]" into AnnotatorRegistry.AddRule's
// three arguments (spec.md §4.5's last paragraph). offset is -1 (the
// wildcard, every offset) when no "@..." suffix is present.
func parseAnnotateRuleText(s string) (constraint, name string, offset int64, err error) {
	offset = -1
	if at := strings.LastIndex(s, "@"); at >= 0 {
		offsetText := strings.TrimPrefix(s[at+1:], "0x")
		n, perr := strconv.ParseInt(offsetText, 16, 64)
		if perr != nil {
			return "", "", 0, fmt.Errorf("invalid offset %q", s[at+1:])
		}
		offset = n
		s = s[:at]
	}
	dot := strings.LastIndex(s, ".")
	if dot < 0 {
		return "", "", 0, fmt.Errorf("missing \".<name|*>\"")
	}
	constraint = s[:dot]
	name = s[dot+1:]
	if name == "" {
		return "", "", 0, fmt.Errorf("empty annotator name")
	}
	return constraint, name, offset, nil
}

// compileQuery resolves the signature-name and extension-rule text in sw
// against sess's tag/signature state. Per spec.md §7 every resolution
// failure (unknown signature name, unparsable extend rule) is collected
// and returned together rather than stopping at the first one.
func compileQuery(sess *session, sw *querySwitches) (*compiledQuery, error) {
	var errs []error

	q := &heapwalk.Query{
		MinSize:              sw.minSize,
		MaxSize:              sw.maxSize,
		GeometricBase:        sw.geometricBase,
		SetOperation:         sw.setOp,
		Tainted:              sess.tainted,
		Favored:              sess.favored,
		IsKnownSignatureWord: isKnownSignatureWord,
	}

	for _, pc := range sw.refConstraints {
		rc := pc.rc
		rc.SkipTainted = sw.skipTainted
		rc.SkipUnfavored = sw.skipUnfavored
		rc.IsKnownSignature = isKnownSignatureWord
		if pc.sigText != "" {
			sig, err := heapwalk.ParseSignatureChecker(pc.sigText, sess.sigDir, sess.typeDir, sess.tags, sw.allowMissingSignatures)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			rc.Signature = sig
		}
		q.ReferenceConstraints = append(q.ReferenceConstraints, rc)
	}

	ext, err := heapwalk.NewExtendedVisitor(
		sess.dir, sess.graph, sess.img, sess.img.PtrSize(), sess.anchors, sess.tags,
		sess.tainted, sess.favored, isKnownSignatureWord,
		sess.sigDir, sess.typeDir, sw.allowMissingSignatures, sw.extendRules,
	)
	if err != nil {
		errs = append(errs, fmt.Errorf("/extend: %w", err))
	}

	annotations := heapwalk.NewAnnotatorRegistry(sess.dir, sess.img, sess.img.PtrSize(), sess.tags, isKnownSignatureWord)
	for _, rule := range sw.annotateRules {
		constraint, name, offset, err := parseAnnotateRuleText(rule)
		if err != nil {
			errs = append(errs, fmt.Errorf("/annotate %q: %w", rule, err))
			continue
		}
		if err := annotations.AddRule(constraint, name, offset, sess.sigDir, sess.typeDir, sw.allowMissingSignatures); err != nil {
			errs = append(errs, fmt.Errorf("/annotate %q: %w", rule, err))
		}
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	return &compiledQuery{query: q, ext: ext, annotations: annotations}, nil
}

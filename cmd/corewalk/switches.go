package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/heaptrace/corewalk/internal/heapwalk"
)

// querySwitches is one query's fully-parsed set of spec.md §6 switches,
// before compilation into a heapwalk.Query: extend/annotate rules are kept
// as raw text because compiling them requires the session's tag holder and
// anchor analysis, which the switch parser itself doesn't need.
// pendingConstraint pairs a parsed ReferenceConstraint with its raw
// "signature=" text (if any), resolved later once a SignatureDirectory is
// available.
type pendingConstraint struct {
	rc      heapwalk.ReferenceConstraint
	sigText string
}

type querySwitches struct {
	minSize, maxSize       *int64
	refConstraints         []pendingConstraint
	geometricBase          int
	setOp                  heapwalk.SetOperation
	extendRules            []string
	annotateRules          []string
	commentExtensions      bool
	skipTainted            bool
	skipUnfavored          bool
	allowMissingSignatures bool
}

// parseSwitches parses args (everything after the command name) into a
// querySwitches. Per spec.md §7, every malformed or conflicting switch is
// collected rather than stopping at the first one; execution only
// proceeds once the whole line parses cleanly.
func parseSwitches(args []string) (*querySwitches, error) {
	q := &querySwitches{setOp: heapwalk.NoSetOperation}
	var errs []error
	sawGeometric := false
	sawSetOp := false

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "/") {
			errs = append(errs, fmt.Errorf("unexpected token %q (switches start with /)", arg))
			continue
		}
		name := arg[1:]
		needValue := func() (string, bool) {
			if i+1 >= len(args) {
				errs = append(errs, fmt.Errorf("/%s: missing value", name))
				return "", false
			}
			i++
			return args[i], true
		}

		switch name {
		case "size":
			v, ok := needValue()
			if !ok {
				continue
			}
			n, err := parseHexSize(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("/size: %w", err))
				continue
			}
			q.minSize, q.maxSize = &n, &n
		case "minsize":
			v, ok := needValue()
			if !ok {
				continue
			}
			n, err := parseHexSize(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("/minsize: %w", err))
				continue
			}
			q.minSize = &n
		case "maxsize":
			v, ok := needValue()
			if !ok {
				continue
			}
			n, err := parseHexSize(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("/maxsize: %w", err))
				continue
			}
			q.maxSize = &n
		case "minincoming", "maxincoming", "minoutgoing", "maxoutgoing", "minfreeoutgoing":
			v, ok := needValue()
			if !ok {
				continue
			}
			rc, err := parseReferenceConstraint(name, v)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			q.refConstraints = append(q.refConstraints, rc)
		case "geometricSample":
			if sawGeometric {
				errs = append(errs, errors.New("/geometricSample: specified more than once"))
				continue
			}
			sawGeometric = true
			v, ok := needValue()
			if !ok {
				continue
			}
			base, err := strconv.Atoi(v)
			if err != nil || base < 2 {
				errs = append(errs, fmt.Errorf("/geometricSample: invalid base %q", v))
				continue
			}
			q.geometricBase = base
		case "setOperation":
			if sawSetOp {
				errs = append(errs, errors.New("/setOperation: specified more than once"))
				continue
			}
			sawSetOp = true
			v, ok := needValue()
			if !ok {
				continue
			}
			switch v {
			case "assign":
				q.setOp = heapwalk.AssignSetOperation
			case "subtract":
				q.setOp = heapwalk.SubtractSetOperation
			default:
				errs = append(errs, fmt.Errorf("/setOperation: %q is neither assign nor subtract", v))
			}
		case "extend":
			v, ok := needValue()
			if !ok {
				continue
			}
			q.extendRules = append(q.extendRules, v)
		case "annotate":
			v, ok := needValue()
			if !ok {
				continue
			}
			q.annotateRules = append(q.annotateRules, v)
		case "commentExtensions":
			v, err := parseOnOff(name, needValue)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			q.commentExtensions = v
		case "skipTaintedReferences":
			v, err := parseOnOff(name, needValue)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			q.skipTainted = v
		case "skipUnfavoredReferences":
			v, err := parseOnOff(name, needValue)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			q.skipUnfavored = v
		case "allowMissingSignatures":
			v, err := parseOnOff(name, needValue)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			q.allowMissingSignatures = v
		default:
			errs = append(errs, fmt.Errorf("unknown switch /%s", name))
		}
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return q, nil
}

func parseOnOff(name string, needValue func() (string, bool)) (bool, error) {
	v, ok := needValue()
	if !ok {
		return false, nil // needValue already recorded the error
	}
	switch v {
	case "on":
		return true, nil
	case "off":
		return false, nil
	default:
		return false, fmt.Errorf("/%s: %q is neither on nor off", name, v)
	}
}

// parseHexSize parses a byte count in the hex format spec.md §6 specifies
// for /size, /minsize, /maxsize, with or without a leading "0x".
func parseHexSize(v string) (int64, error) {
	v = strings.TrimPrefix(strings.TrimPrefix(v, "0x"), "0X")
	n, err := strconv.ParseInt(v, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid hex byte count %q", v)
	}
	return n, nil
}

// parseReferenceConstraint parses one /min{in,out}going, /max{in,out}going,
// or /minfreeoutgoing switch's "[signature=]count" value. Resolving the
// optional signature constraint is deferred to compileQuery, which has
// access to the session's SignatureDirectory/TagHolder; here the
// constraint text is only split and the count parsed.
func parseReferenceConstraint(switchName, value string) (pendingConstraint, error) {
	rc := heapwalk.ReferenceConstraint{}
	switch switchName {
	case "minincoming":
		rc.Boundary, rc.Direction, rc.WantUsed = heapwalk.MinBoundary, heapwalk.Incoming, true
	case "maxincoming":
		rc.Boundary, rc.Direction, rc.WantUsed = heapwalk.MaxBoundary, heapwalk.Incoming, true
	case "minoutgoing":
		rc.Boundary, rc.Direction, rc.WantUsed = heapwalk.MinBoundary, heapwalk.Outgoing, true
	case "maxoutgoing":
		rc.Boundary, rc.Direction, rc.WantUsed = heapwalk.MaxBoundary, heapwalk.Outgoing, true
	case "minfreeoutgoing":
		rc.Boundary, rc.Direction, rc.WantUsed = heapwalk.MinBoundary, heapwalk.Outgoing, false
	}

	sigText := ""
	countText := value
	if eq := strings.Index(value, "="); eq >= 0 {
		sigText = value[:eq]
		countText = value[eq+1:]
	}
	count, err := strconv.ParseInt(strings.TrimPrefix(countText, "0x"), hexOrDecimalBase(countText), 64)
	if err != nil {
		return pendingConstraint{}, fmt.Errorf("/%s: invalid count %q", switchName, value)
	}
	rc.Count = int(count)
	return pendingConstraint{rc: rc, sigText: sigText}, nil
}

func hexOrDecimalBase(s string) int {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return 16
	}
	return 10
}

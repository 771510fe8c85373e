package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/heaptrace/corewalk/internal/heapwalk"
	"github.com/heaptrace/corewalk/internal/image"
)

// resolveIterator consumes the leading non-switch tokens of args (the
// iterator name from spec.md §4.8's canonical set, plus whatever argument
// that iterator needs) and returns the built Iterator plus the remaining
// tokens (the query-time switches, still to be parsed by parseSwitches).
func resolveIterator(sess *session, args []string) (heapwalk.Iterator, []string, error) {
	if len(args) == 0 || strings.HasPrefix(args[0], "/") {
		return heapwalk.AllIterator(sess.dir), args, nil
	}
	name, rest := args[0], args[1:]

	needAddr := func() (image.Address, []string, error) {
		if len(rest) == 0 {
			return 0, rest, fmt.Errorf("%s: missing address", name)
		}
		a, err := parseAddress(rest[0])
		if err != nil {
			return 0, rest, fmt.Errorf("%s: %w", name, err)
		}
		return a, rest[1:], nil
	}

	switch name {
	case "all", "allocations":
		return heapwalk.AllIterator(sess.dir), rest, nil
	case "used":
		return heapwalk.UsedIterator(sess.dir), rest, nil
	case "free":
		return heapwalk.FreeIterator(sess.dir), rest, nil
	case "thread-cached":
		return heapwalk.ThreadCachedIterator(sess.dir), rest, nil
	case "anchored":
		return heapwalk.AnchoredIterator(sess.dir, sess.anchors), rest, nil
	case "leaked":
		return heapwalk.LeakedIterator(sess.dir, sess.anchors), rest, nil
	case "unreferenced":
		return heapwalk.UnreferencedIterator(sess.dir, sess.anchors), rest, nil
	case "anchor-points":
		if len(rest) > 0 {
			if cat, ok := parseAnchorCategory(rest[0]); ok {
				return heapwalk.AnchorPointsIterator(sess.dir, sess.anchors, &cat), rest[1:], nil
			}
		}
		return heapwalk.AnchorPointsIterator(sess.dir, sess.anchors, nil), rest, nil
	case "single", "allocation":
		a, rest2, err := needAddr()
		if err != nil {
			return nil, rest2, err
		}
		return heapwalk.SingleIterator(sess.dir, a), rest2, nil
	case "derived":
		return heapwalk.DerivedIterator(sess.derived), rest, nil
	case "incoming":
		a, rest2, err := needAddr()
		if err != nil {
			return nil, rest2, err
		}
		idx := sess.dir.IndexOf(a)
		return heapwalk.IncomingIterator(sess.graph, idx), rest2, nil
	case "outgoing":
		a, rest2, err := needAddr()
		if err != nil {
			return nil, rest2, err
		}
		idx := sess.dir.IndexOf(a)
		return heapwalk.OutgoingIterator(sess.graph, idx), rest2, nil
	case "free-outgoing":
		a, rest2, err := needAddr()
		if err != nil {
			return nil, rest2, err
		}
		idx := sess.dir.IndexOf(a)
		return heapwalk.FreeOutgoingIterator(sess.dir, sess.graph, idx), rest2, nil
	}
	return nil, args, fmt.Errorf("unknown iterator %q", name)
}

func parseAddress(s string) (image.Address, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q", s)
	}
	return image.Address(v), nil
}

func parseAnchorCategory(s string) (heapwalk.AnchorCategory, bool) {
	switch s {
	case "static":
		return heapwalk.StaticAnchor, true
	case "stack":
		return heapwalk.StackAnchor, true
	case "register":
		return heapwalk.RegisterAnchor, true
	case "external":
		return heapwalk.ExternalAnchor, true
	}
	return 0, false
}

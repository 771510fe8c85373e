package heapwalk

import "sort"

// nameDirectory is the shared shape behind the Signature, Anchor, and Type
// directories (spec.md §3, component D): a two-way mapping between an
// address-sized key and a name, kept consistent in both directions even
// though the same name can legitimately be associated with more than one
// key (e.g. the same type defined in more than one loaded module).
type nameDirectory struct {
	keyToName map[Address]string
	nameToKey map[string]map[Address]bool
	multiple  bool
}

func newNameDirectory() nameDirectory {
	return nameDirectory{
		keyToName: map[Address]string{},
		nameToKey: map[string]map[Address]bool{},
	}
}

// mapKeyToName records that key is named name. An empty name clears no
// existing mapping (matches the original: an empty incoming name carries
// no information). Re-mapping a key to a different non-empty name removes
// it from the old name's key set first.
func (d *nameDirectory) mapKeyToName(key Address, name string) {
	if old, ok := d.keyToName[key]; ok {
		if old == name || name == "" {
			return
		}
		if old != "" {
			delete(d.nameToKey[old], key)
		}
	}
	d.keyToName[key] = name
	if name == "" {
		return
	}
	keys := d.nameToKey[name]
	if keys == nil {
		keys = map[Address]bool{}
		d.nameToKey[name] = keys
	}
	keys[key] = true
	if len(keys) > 1 {
		d.multiple = true
	}
}

func (d *nameDirectory) hasMultipleKeysPerName() bool { return d.multiple }

func (d *nameDirectory) isMapped(key Address) bool {
	_, ok := d.keyToName[key]
	return ok
}

func (d *nameDirectory) name(key Address) string { return d.keyToName[key] }

// keysForName returns the sorted keys mapped to name, or nil if name is
// unknown.
func (d *nameDirectory) keysForName(name string) []Address {
	set := d.nameToKey[name]
	if len(set) == 0 {
		return nil
	}
	keys := make([]Address, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// SignatureDirectory maps a signature word (found at an allocation's first
// pointer-sized word) to the pattern or type name it denotes, and back
// (spec.md component D, grounded on the original's SignatureDirectory).
type SignatureDirectory struct{ d nameDirectory }

func NewSignatureDirectory() *SignatureDirectory {
	return &SignatureDirectory{d: newNameDirectory()}
}

func (s *SignatureDirectory) MapSignatureToName(signature Address, name string) {
	s.d.mapKeyToName(signature, name)
}
func (s *SignatureDirectory) HasMultipleSignaturesPerName() bool { return s.d.hasMultipleKeysPerName() }
func (s *SignatureDirectory) IsMapped(signature Address) bool    { return s.d.isMapped(signature) }
func (s *SignatureDirectory) Name(signature Address) string      { return s.d.name(signature) }
func (s *SignatureDirectory) Signatures(name string) []Address   { return s.d.keysForName(name) }

// AnchorDirectory maps a well-known anchor address (e.g. a global whose
// address itself, not its contents, matters) to a name, and back. Distinct
// from the BFS-discovered anchor *points* of AnchorAnalysis: this is a
// symbol-table-style lookup used for display, not reachability.
type AnchorDirectory struct{ d nameDirectory }

func NewAnchorDirectory() *AnchorDirectory {
	return &AnchorDirectory{d: newNameDirectory()}
}

func (s *AnchorDirectory) MapAnchorToName(anchor Address, name string) {
	s.d.mapKeyToName(anchor, name)
}
func (s *AnchorDirectory) HasMultipleAnchorsPerName() bool { return s.d.hasMultipleKeysPerName() }
func (s *AnchorDirectory) IsMapped(anchor Address) bool    { return s.d.isMapped(anchor) }
func (s *AnchorDirectory) Name(anchor Address) string      { return s.d.name(anchor) }
func (s *AnchorDirectory) Anchors(name string) []Address   { return s.d.keysForName(name) }

// TypeDirectory maps a vtable address to the C++ (or Go) type name it
// belongs to. It has the same shape as SignatureDirectory but is kept
// separate because a vtable address and a pattern signature live in
// different namespaces even though both are read from an allocation's
// first word (spec.md glossary: "Signature").
type TypeDirectory struct{ d nameDirectory }

func NewTypeDirectory() *TypeDirectory {
	return &TypeDirectory{d: newNameDirectory()}
}

func (s *TypeDirectory) MapVtableToTypeName(vtable Address, name string) {
	s.d.mapKeyToName(vtable, name)
}
func (s *TypeDirectory) HasMultipleVtablesPerName() bool { return s.d.hasMultipleKeysPerName() }
func (s *TypeDirectory) IsMapped(vtable Address) bool    { return s.d.isMapped(vtable) }
func (s *TypeDirectory) Name(vtable Address) string      { return s.d.name(vtable) }
func (s *TypeDirectory) Vtables(name string) []Address   { return s.d.keysForName(name) }

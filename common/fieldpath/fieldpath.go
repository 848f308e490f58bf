// Package fieldpath parses field-change names into typed references so the
// commit engine never string-splits dotted paths itself.
//
// Three shapes exist:
//
//	definition                     simple column
//	frame_roles                    legacy whole-collection replace
//	frame_roles.AGENT.description  granular sub-field of a keyed item
//	frame_roles.AGENT.__exists     item addition/removal marker
package fieldpath

import (
	"strings"

	"github.com/lexibase/lexibase/common/errs"
)

// ExistsAttr marks addition (true) or removal (false) of a keyed composite
// item.
const ExistsAttr = "__exists"

// Kind classifies a parsed field reference.
type Kind int

const (
	// KindSimple is a plain column write.
	KindSimple Kind = iota
	// KindCollection replaces a composite collection wholesale.
	KindCollection
	// KindSubField patches one attribute of a keyed composite item.
	KindSubField
	// KindExists adds or removes a keyed composite item.
	KindExists
)

// Ref is a parsed field-change name.
type Ref struct {
	Kind  Kind
	Name  string // the original field name
	Owner string // composite collection name, set for all but KindSimple
	Key   string // logical item key, set for KindSubField and KindExists
	Attr  string // item attribute, set for KindSubField
}

// Parse classifies name. composites is the set of composite collection names
// valid for the entity type being edited.
func Parse(name string, composites map[string]struct{}) (Ref, error) {
	if name == "" {
		return Ref{}, errs.Validationf("empty field name")
	}
	if !strings.Contains(name, ".") {
		if _, ok := composites[name]; ok {
			return Ref{Kind: KindCollection, Name: name, Owner: name}, nil
		}
		return Ref{Kind: KindSimple, Name: name}, nil
	}

	parts := strings.Split(name, ".")
	if len(parts) != 3 {
		return Ref{}, errs.Validationf("malformed composite field path %q: want owner.key.attribute", name)
	}
	owner, key, attr := parts[0], parts[1], parts[2]
	if _, ok := composites[owner]; !ok {
		return Ref{}, errs.Validationf("field %q addresses unknown composite collection %q", name, owner)
	}
	if key == "" || attr == "" {
		return Ref{}, errs.Validationf("malformed composite field path %q", name)
	}
	if attr == ExistsAttr {
		return Ref{Kind: KindExists, Name: name, Owner: owner, Key: key}, nil
	}
	return Ref{Kind: KindSubField, Name: name, Owner: owner, Key: key, Attr: attr}, nil
}

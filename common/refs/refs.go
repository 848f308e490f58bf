// Package refs isolates the virtual-ID encoding: a foreign-key value staged
// as a negative integer means "the entity that changeset -value will create".
// All interpretation of candidate reference values happens here, in explicit
// cases, instead of inline checks spread through the commit engine.
package refs

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Kind classifies a candidate foreign-key value.
type Kind int

const (
	// NotAReference means the value is not an integer id at all (null,
	// object, fractional number, non-numeric string).
	NotAReference Kind = iota
	// Concrete is an ordinary positive entity id.
	Concrete
	// Pending is a virtual ID: the entity will be produced by ChangesetID.
	Pending
	// Invalid is an integer that can never be an id (zero).
	Invalid
)

// Reference is the parsed form of a foreign-key field value.
type Reference struct {
	Kind        Kind
	ID          int64 // set for Concrete
	ChangesetID int64 // set for Pending
}

// IsForeignKeyField reports whether a field name is treated as a foreign-key
// reference for virtual-ID resolution.
func IsForeignKeyField(name string) bool {
	return strings.HasSuffix(name, "_id")
}

// Parse classifies v. Negative integers (numeric or decimal-string encoded)
// become Pending references on the negated changeset id.
func Parse(v any) Reference {
	n, ok := asInt64(v)
	if !ok {
		return Reference{Kind: NotAReference}
	}
	switch {
	case n > 0:
		return Reference{Kind: Concrete, ID: n}
	case n < 0:
		return Reference{Kind: Pending, ChangesetID: -n}
	default:
		return Reference{Kind: Invalid}
	}
}

func asInt64(v any) (int64, bool) {
	switch val := v.(type) {
	case int64:
		return val, true
	case int:
		return int64(val), true
	case float64:
		n := int64(val)
		if float64(n) != val {
			return 0, false
		}
		return n, true
	case json.Number:
		n, err := val.Int64()
		if err != nil {
			return 0, false
		}
		return n, true
	case string:
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

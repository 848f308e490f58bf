package service

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/lexibase/lexibase/common/errs"
	"github.com/lexibase/lexibase/common/fieldpath"
	"github.com/lexibase/lexibase/common/models"
)

// Composite reconciliation: a frame's role list is backed by child rows, so
// an update commit cannot write it with a single column write. Two mutually
// exclusive encodings reach this code: one legacy whole-collection replace
// (field "frame_roles") or any number of granular sub-fields
// ("frame_roles.<CODE>.<attr>" plus "frame_roles.<CODE>.__exists" markers).

// jsonValue decodes stored canonical JSON into a Go value; empty means null.
func jsonValue(raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, errs.Validationf("malformed stored value: %v", err)
	}
	return v, nil
}

// parseRoleItems decodes a whole-collection value into role items, rejecting
// duplicate role-type codes within the batch.
func parseRoleItems(v any) ([]models.FrameRoleItem, error) {
	if v == nil {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, errs.Validationf("role collection must be an array, got %T", v)
	}

	seen := make(map[string]struct{}, len(list))
	out := make([]models.FrameRoleItem, 0, len(list))
	for i, raw := range list {
		m, ok := raw.(map[string]any)
		if !ok {
			return nil, errs.Validationf("role item %d must be an object, got %T", i, raw)
		}
		code, ok := m["role_type"].(string)
		if !ok || code == "" {
			return nil, errs.Validationf("role item %d is missing role_type", i)
		}
		if _, dup := seen[code]; dup {
			return nil, errs.Validationf("duplicate role type %q in role collection", code)
		}
		seen[code] = struct{}{}

		item := models.FrameRoleItem{RoleType: code}
		if d, ok := m["description"].(string); ok {
			item.Description = d
		}
		if r, ok := m["rank"].(float64); ok {
			item.Rank = int(r)
		}
		out = append(out, item)
	}
	return out, nil
}

// reconcileRoles applies approved composite field changes onto the current
// collection and returns the normalized final set, sorted by role-type code.
// Additions and removals (__exists) apply before attribute patches.
func reconcileRoles(current []models.FrameRoleItem, changes []*models.FieldChange, composites map[string]struct{}) ([]models.FrameRoleItem, error) {
	var replace *models.FieldChange
	type granularChange struct {
		ref fieldpath.Ref
		fc  *models.FieldChange
	}
	var exists []granularChange
	var patches []granularChange

	for _, fc := range changes {
		ref, err := fieldpath.Parse(fc.FieldName, composites)
		if err != nil {
			return nil, err
		}
		switch ref.Kind {
		case fieldpath.KindCollection:
			replace = fc
		case fieldpath.KindExists:
			exists = append(exists, granularChange{ref: ref, fc: fc})
		case fieldpath.KindSubField:
			patches = append(patches, granularChange{ref: ref, fc: fc})
		default:
			return nil, errs.Validationf("field %q is not a composite change", fc.FieldName)
		}
	}

	if replace != nil && (len(exists) > 0 || len(patches) > 0) {
		return nil, errs.Validationf("whole-collection replace and granular sub-fields cannot be mixed in one changeset")
	}

	if replace != nil {
		v, err := jsonValue(replace.NewValue)
		if err != nil {
			return nil, err
		}
		items, err := parseRoleItems(v)
		if err != nil {
			return nil, err
		}
		return sortRoles(items), nil
	}

	byKey := make(map[string]*models.FrameRoleItem, len(current))
	for i := range current {
		item := current[i]
		byKey[item.RoleType] = &item
	}

	for _, gc := range exists {
		v, err := jsonValue(gc.fc.NewValue)
		if err != nil {
			return nil, err
		}
		if v == true {
			if _, ok := byKey[gc.ref.Key]; !ok {
				byKey[gc.ref.Key] = &models.FrameRoleItem{RoleType: gc.ref.Key}
			}
		} else {
			delete(byKey, gc.ref.Key)
		}
	}

	for _, gc := range patches {
		item, ok := byKey[gc.ref.Key]
		if !ok {
			// Attribute patch on an item added in the same changeset whose
			// __exists marker was rejected, or on a vanished item.
			return nil, errs.Validationf("role %q does not exist in the collection; approve its addition first", gc.ref.Key)
		}
		v, err := jsonValue(gc.fc.NewValue)
		if err != nil {
			return nil, err
		}
		switch gc.ref.Attr {
		case "description":
			switch d := v.(type) {
			case nil:
				item.Description = ""
			case string:
				item.Description = d
			default:
				return nil, errs.Validationf("role description must be a string, got %T", v)
			}
		case "rank":
			switch r := v.(type) {
			case nil:
				item.Rank = 0
			case float64:
				item.Rank = int(r)
			default:
				return nil, errs.Validationf("role rank must be a number, got %T", v)
			}
		default:
			return nil, errs.Validationf("unknown role attribute %q", gc.ref.Attr)
		}
	}

	out := make([]models.FrameRoleItem, 0, len(byKey))
	for _, item := range byKey {
		out = append(out, *item)
	}
	return sortRoles(out), nil
}

func sortRoles(items []models.FrameRoleItem) []models.FrameRoleItem {
	sort.Slice(items, func(i, j int) bool {
		return items[i].RoleType < items[j].RoleType
	})
	return items
}

// resolveRoleRows resolves role-type codes to ids, failing on unknown codes.
func resolveRoleRows(ctx context.Context, st Stores, items []models.FrameRoleItem) ([]models.FrameRoleRow, error) {
	if len(items) == 0 {
		return nil, nil
	}

	codes := make([]string, len(items))
	for i, item := range items {
		codes[i] = item.RoleType
	}

	types, err := st.RoleTypes.FindByCodes(ctx, codes)
	if err != nil {
		return nil, err
	}
	idByCode := make(map[string]int64, len(types))
	for _, rt := range types {
		idByCode[rt.Code] = rt.ID
	}

	rows := make([]models.FrameRoleRow, len(items))
	for i, item := range items {
		id, ok := idByCode[item.RoleType]
		if !ok {
			return nil, errs.Validationf("unknown role type code %q", item.RoleType)
		}
		rows[i] = models.FrameRoleRow{
			RoleTypeID:  id,
			Description: item.Description,
			Rank:        item.Rank,
		}
	}
	return rows, nil
}

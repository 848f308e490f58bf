package service

import (
	"context"
	"encoding/json"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/google/uuid"
	"github.com/lexibase/lexibase/common/errs"
	"github.com/lexibase/lexibase/common/models"
	"github.com/lexibase/lexibase/common/normalize"
)

// StagePatch stages an RFC 6902 JSON patch against an entity. The patch is
// applied to the entity's current snapshot (composite collections included),
// the result is diffed against the original, and each differing top-level
// field is routed through the ordinary field-change upsert. A patch whose
// result equals the original is a no-op, not an error.
func (s *StagingService) StagePatch(ctx context.Context, entityType models.EntityType, entityID int64, patchDoc json.RawMessage, actor string, jobID *uuid.UUID) (*StageResult, error) {
	if !entityType.Valid() {
		return nil, errs.Validationf("unknown entity type %q", entityType)
	}

	patch, err := jsonpatch.DecodePatch(patchDoc)
	if err != nil {
		return nil, errs.Validationf("malformed JSON patch: %v", err)
	}

	var result *StageResult
	err = s.uow.Run(ctx, func(st Stores) error {
		store, err := st.Entities(entityType)
		if err != nil {
			return err
		}
		entity, err := store.Get(ctx, entityID)
		if err != nil {
			return err
		}

		doc := entity.Snapshot()
		composites := compositesFor(entityType)
		if _, ok := composites["frame_roles"]; ok {
			items, err := st.FrameRoles.ListByFrame(ctx, entity.ID)
			if err != nil {
				return err
			}
			doc["frame_roles"] = roleItemsToValue(items)
		}

		docJSON, err := normalize.JSON(doc)
		if err != nil {
			return fmt.Errorf("normalize snapshot: %w", err)
		}

		patchedJSON, err := patch.Apply(docJSON)
		if err != nil {
			return errs.Validationf("patch does not apply: %v", err)
		}

		var patched map[string]any
		if err := json.Unmarshal(patchedJSON, &patched); err != nil {
			return errs.Validationf("patch result is not an object: %v", err)
		}

		updates, err := diffTopLevel(doc, patched)
		if err != nil {
			return err
		}
		if len(updates) == 0 {
			result = &StageResult{Staged: false, Message: "no changes detected"}
			return nil
		}

		result, err = stageUpdateIn(ctx, st, entityType, entity, updates, actor, jobID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("patch staged",
		"entity_type", entityType,
		"entity_id", entityID,
		"actor", actor,
		"staged", result.Staged,
		"changeset_id", result.ChangesetID)

	return result, nil
}

// diffTopLevel compares two snapshots field by field and returns the changed
// fields with their patched values. Identity fields cannot be patched.
func diffTopLevel(before, after map[string]any) (map[string]any, error) {
	updates := make(map[string]any)

	keys := make(map[string]struct{}, len(before)+len(after))
	for k := range before {
		keys[k] = struct{}{}
	}
	for k := range after {
		keys[k] = struct{}{}
	}

	for k := range keys {
		eq, err := normalize.Equal(before[k], after[k])
		if err != nil {
			return nil, err
		}
		if eq {
			continue
		}
		if k == "id" || k == "version" {
			return nil, errs.Validationf("field %q cannot be modified by a patch", k)
		}
		updates[k] = after[k]
	}
	return updates, nil
}

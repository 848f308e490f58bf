package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/lexibase/lexibase/common/errs"
	"github.com/lexibase/lexibase/common/fieldpath"
	"github.com/lexibase/lexibase/common/logger"
	"github.com/lexibase/lexibase/common/models"
	"github.com/lexibase/lexibase/common/normalize"
)

// StagingService turns edit requests into pending changesets and field
// changes. It never touches canonical tables beyond reads: applying staged
// values is the commit engine's job.
type StagingService struct {
	uow UnitOfWork
	log *logger.Logger
}

// NewStagingService creates a new staging service
func NewStagingService(uow UnitOfWork, log *logger.Logger) *StagingService {
	return &StagingService{uow: uow, log: log}
}

// StageResult is returned by every staging call. A no-op payload is a
// success with Staged=false, never an error.
type StageResult struct {
	Staged           bool   `json:"staged"`
	ChangesetID      int64  `json:"changeset_id,omitempty"`
	Message          string `json:"message"`
	FieldChangeCount int    `json:"field_changes_count"`
}

// StageUpdate stages field updates against an existing entity. If a pending
// changeset already exists for the entity, every update is routed through
// the field-change upsert on it; otherwise a changeset is created only when
// at least one update actually differs from the current entity.
func (s *StagingService) StageUpdate(ctx context.Context, entityType models.EntityType, entityID int64, updates map[string]any, actor string, jobID *uuid.UUID) (*StageResult, error) {
	if !entityType.Valid() {
		return nil, errs.Validationf("unknown entity type %q", entityType)
	}
	if len(updates) == 0 {
		return &StageResult{Staged: false, Message: "no changes detected"}, nil
	}

	var result *StageResult
	err := s.uow.Run(ctx, func(st Stores) error {
		store, err := st.Entities(entityType)
		if err != nil {
			return err
		}
		entity, err := store.Get(ctx, entityID)
		if err != nil {
			return err
		}

		result, err = stageUpdateIn(ctx, st, entityType, entity, updates, actor, jobID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("update staged",
		"entity_type", entityType,
		"entity_id", entityID,
		"actor", actor,
		"staged", result.Staged,
		"changeset_id", result.ChangesetID,
		"fields", result.FieldChangeCount)

	return result, nil
}

// StageCreate stages the creation of a new entity. The payload becomes the
// changeset's after-snapshot; the canonical row is only inserted at commit.
func (s *StagingService) StageCreate(ctx context.Context, entityType models.EntityType, payload map[string]any, actor string, jobID *uuid.UUID) (*StageResult, error) {
	if !entityType.Valid() {
		return nil, errs.Validationf("unknown entity type %q", entityType)
	}
	if len(payload) == 0 {
		return nil, errs.Validationf("empty payload for %s creation", entityType)
	}

	after, err := normalize.JSON(payload)
	if err != nil {
		return nil, fmt.Errorf("normalize payload: %w", err)
	}

	cs := &models.Changeset{
		EntityType:    entityType,
		Operation:     models.OpCreate,
		AfterSnapshot: after,
		CreatedBy:     actor,
		JobID:         jobID,
	}

	if err := s.uow.Run(ctx, func(st Stores) error {
		return st.Changesets.Create(ctx, cs)
	}); err != nil {
		return nil, err
	}

	s.log.Info("creation staged",
		"entity_type", entityType,
		"changeset_id", cs.ID,
		"actor", actor)

	return &StageResult{
		Staged:      true,
		ChangesetID: cs.ID,
		Message:     fmt.Sprintf("%s creation staged for review", entityType),
	}, nil
}

// StageDelete stages the deletion of an entity, capturing its full snapshot
// for review and audit.
func (s *StagingService) StageDelete(ctx context.Context, entityType models.EntityType, entityID int64, actor string, jobID *uuid.UUID) (*StageResult, error) {
	if !entityType.Valid() {
		return nil, errs.Validationf("unknown entity type %q", entityType)
	}

	var result *StageResult
	err := s.uow.Run(ctx, func(st Stores) error {
		store, err := st.Entities(entityType)
		if err != nil {
			return err
		}
		entity, err := store.Get(ctx, entityID)
		if err != nil {
			return err
		}

		pending, err := st.Changesets.FindPending(ctx, entityType, entityID)
		if err != nil {
			return err
		}
		if pending != nil {
			if pending.Operation == models.OpDelete {
				result = &StageResult{
					Staged:      false,
					ChangesetID: pending.ID,
					Message:     "deletion already staged",
				}
				return nil
			}
			return errs.Validationf("entity %s/%d has a pending %s changeset; resolve it before staging a delete",
				entityType, entityID, pending.Operation)
		}

		before, err := normalize.JSON(entity.Snapshot())
		if err != nil {
			return fmt.Errorf("normalize snapshot: %w", err)
		}

		version := entity.Version
		cs := &models.Changeset{
			EntityType:     entityType,
			EntityID:       &entity.ID,
			Operation:      models.OpDelete,
			EntityVersion:  &version,
			BeforeSnapshot: before,
			CreatedBy:      actor,
			JobID:          jobID,
		}
		if err := st.Changesets.Create(ctx, cs); err != nil {
			return err
		}

		result = &StageResult{
			Staged:      true,
			ChangesetID: cs.ID,
			Message:     fmt.Sprintf("%s deletion staged for review", entityType),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("deletion staged",
		"entity_type", entityType,
		"entity_id", entityID,
		"actor", actor,
		"staged", result.Staged)

	return result, nil
}

// UpsertFieldChange stages one field diff on an existing pending changeset.
func (s *StagingService) UpsertFieldChange(ctx context.Context, changesetID int64, fieldName string, oldValue, newValue any, actor string) (models.UpsertResult, error) {
	var result models.UpsertResult
	err := s.uow.Run(ctx, func(st Stores) error {
		cs, err := st.Changesets.GetByID(ctx, changesetID)
		if err != nil {
			return err
		}
		if cs.Status != models.ChangesetPending {
			return errs.Validationf("changeset %d is %s, not pending", changesetID, cs.Status)
		}
		result, err = upsertFieldChangeIn(ctx, st, cs, fieldName, oldValue, newValue, actor)
		return err
	})
	return result, err
}

// stageUpdateIn is the transactional core of StageUpdate, shared with the
// cascade handler which synthesizes updates inside the delete transaction.
func stageUpdateIn(ctx context.Context, st Stores, entityType models.EntityType, entity *models.Entity, updates map[string]any, actor string, jobID *uuid.UUID) (*StageResult, error) {
	composites := compositesFor(entityType)
	before := entity.Snapshot()

	names := make([]string, 0, len(updates))
	for name := range updates {
		names = append(names, name)
	}
	sort.Strings(names)

	pending, err := st.Changesets.FindPending(ctx, entityType, entity.ID)
	if err != nil {
		return nil, err
	}

	if pending == nil {
		// Only create a changeset if at least one update really differs.
		differing := make([]string, 0, len(names))
		for _, name := range names {
			ref, err := fieldpath.Parse(name, composites)
			if err != nil {
				return nil, err
			}
			oldVal, err := oldValueFor(ctx, st, entity, before, ref)
			if err != nil {
				return nil, err
			}
			eq, err := normalize.Equal(oldVal, updates[name])
			if err != nil {
				return nil, err
			}
			if !eq {
				differing = append(differing, name)
			}
		}

		if len(differing) == 0 {
			return &StageResult{Staged: false, Message: "no changes detected"}, nil
		}

		beforeJSON, err := normalize.JSON(before)
		if err != nil {
			return nil, fmt.Errorf("normalize snapshot: %w", err)
		}
		afterJSON, err := normalize.JSON(applySimpleUpdates(before, updates, composites))
		if err != nil {
			return nil, fmt.Errorf("normalize snapshot: %w", err)
		}

		version := entity.Version
		pending = &models.Changeset{
			EntityType:     entityType,
			EntityID:       &entity.ID,
			Operation:      models.OpUpdate,
			EntityVersion:  &version,
			BeforeSnapshot: beforeJSON,
			AfterSnapshot:  afterJSON,
			CreatedBy:      actor,
			JobID:          jobID,
		}
		if err := st.Changesets.Create(ctx, pending); err != nil {
			return nil, err
		}
		names = differing
	} else if pending.Operation != models.OpUpdate {
		return nil, errs.Validationf("entity %s/%d has a pending %s changeset; new edits cannot be staged on it",
			entityType, entity.ID, pending.Operation)
	}

	discarded := false
	for _, name := range names {
		ref, err := fieldpath.Parse(name, composites)
		if err != nil {
			return nil, err
		}
		oldVal, err := oldValueFor(ctx, st, entity, before, ref)
		if err != nil {
			return nil, err
		}
		res, err := upsertFieldChangeIn(ctx, st, pending, name, oldVal, updates[name], actor)
		if err != nil {
			return nil, err
		}
		if res.ChangesetDiscarded {
			discarded = true
		}
	}

	if discarded {
		return &StageResult{
			Staged:      false,
			ChangesetID: pending.ID,
			Message:     "all staged changes reverted; changeset discarded",
		}, nil
	}

	count, err := st.FieldChanges.Count(ctx, pending.ID)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		// Every routed update was a no-op against a changeset that held no
		// rows for those fields.
		return &StageResult{
			Staged:      false,
			ChangesetID: pending.ID,
			Message:     "no changes detected",
		}, nil
	}

	afterJSON, err := normalize.JSON(applySimpleUpdates(before, updates, composites))
	if err != nil {
		return nil, fmt.Errorf("normalize snapshot: %w", err)
	}
	if err := st.Changesets.UpdateAfterSnapshot(ctx, pending.ID, afterJSON); err != nil {
		return nil, err
	}

	return &StageResult{
		Staged:           true,
		ChangesetID:      pending.ID,
		Message:          "changes staged for review",
		FieldChangeCount: count,
	}, nil
}

// upsertFieldChangeIn implements the no-op-aware upsert: equal old/new never
// leaves a row behind, and deleting the last row auto-discards the changeset.
func upsertFieldChangeIn(ctx context.Context, st Stores, cs *models.Changeset, fieldName string, oldValue, newValue any, actor string) (models.UpsertResult, error) {
	oldJSON, err := normalize.JSON(oldValue)
	if err != nil {
		return models.UpsertResult{}, fmt.Errorf("normalize old value of %s: %w", fieldName, err)
	}
	newJSON, err := normalize.JSON(newValue)
	if err != nil {
		return models.UpsertResult{}, fmt.Errorf("normalize new value of %s: %w", fieldName, err)
	}

	eq, err := normalize.EqualJSON(oldJSON, newJSON)
	if err != nil {
		return models.UpsertResult{}, err
	}

	existing, err := st.FieldChanges.Find(ctx, cs.ID, fieldName)
	if err != nil {
		return models.UpsertResult{}, err
	}

	if eq {
		if existing == nil {
			// Never create a no-op row.
			return models.UpsertResult{Action: models.UpsertSkipped}, nil
		}
		// The edit was reverted; drop the row.
		if err := st.FieldChanges.Delete(ctx, existing.ID); err != nil {
			return models.UpsertResult{}, err
		}
		count, err := st.FieldChanges.Count(ctx, cs.ID)
		if err != nil {
			return models.UpsertResult{}, err
		}
		if count == 0 {
			if err := st.Changesets.Discard(ctx, cs.ID, actor); err != nil {
				return models.UpsertResult{}, err
			}
			return models.UpsertResult{Action: models.UpsertDeleted, ChangesetDiscarded: true}, nil
		}
		return models.UpsertResult{Action: models.UpsertDeleted}, nil
	}

	if existing != nil {
		if err := st.FieldChanges.UpdateValues(ctx, existing.ID, oldJSON, newJSON); err != nil {
			return models.UpsertResult{}, err
		}
		return models.UpsertResult{Action: models.UpsertUpdated}, nil
	}

	fc := &models.FieldChange{
		ChangesetID: cs.ID,
		FieldName:   fieldName,
		OldValue:    oldJSON,
		NewValue:    newJSON,
	}
	if err := st.FieldChanges.Create(ctx, fc); err != nil {
		return models.UpsertResult{}, err
	}
	return models.UpsertResult{Action: models.UpsertCreated}, nil
}

// oldValueFor resolves the current (pre-edit) value a field reference points
// at, reading composite collections from their child rows.
func oldValueFor(ctx context.Context, st Stores, entity *models.Entity, before map[string]any, ref fieldpath.Ref) (any, error) {
	switch ref.Kind {
	case fieldpath.KindSimple:
		return before[ref.Name], nil
	case fieldpath.KindCollection:
		items, err := ownerCollection(ctx, st, ref.Owner, entity.ID)
		if err != nil {
			return nil, err
		}
		return roleItemsToValue(items), nil
	case fieldpath.KindSubField, fieldpath.KindExists:
		items, err := ownerCollection(ctx, st, ref.Owner, entity.ID)
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			if item.RoleType == ref.Key {
				if ref.Kind == fieldpath.KindExists {
					return true, nil
				}
				return roleAttr(item, ref.Attr)
			}
		}
		// Absent item: __exists reads as null, attributes too.
		return nil, nil
	default:
		return nil, errs.Validationf("unsupported field reference %q", ref.Name)
	}
}

func ownerCollection(ctx context.Context, st Stores, owner string, entityID int64) ([]models.FrameRoleItem, error) {
	switch owner {
	case "frame_roles":
		return st.FrameRoles.ListByFrame(ctx, entityID)
	default:
		return nil, errs.Validationf("unknown composite collection %q", owner)
	}
}

func roleAttr(item models.FrameRoleItem, attr string) (any, error) {
	switch attr {
	case "description":
		return item.Description, nil
	case "rank":
		return item.Rank, nil
	case "role_type":
		return item.RoleType, nil
	default:
		return nil, errs.Validationf("unknown role attribute %q", attr)
	}
}

func roleItemsToValue(items []models.FrameRoleItem) []any {
	out := make([]any, len(items))
	for i, item := range items {
		out[i] = map[string]any{
			"role_type":   item.RoleType,
			"description": item.Description,
			"rank":        item.Rank,
		}
	}
	return out
}

// applySimpleUpdates merges top-level simple updates onto a snapshot copy.
// Dotted composite paths are represented by their field changes only.
func applySimpleUpdates(before map[string]any, updates map[string]any, composites map[string]struct{}) map[string]any {
	after := make(map[string]any, len(before)+len(updates))
	for k, v := range before {
		after[k] = v
	}
	for k, v := range updates {
		ref, err := fieldpath.Parse(k, composites)
		if err != nil || ref.Kind != fieldpath.KindSimple {
			continue
		}
		after[k] = v
	}
	return after
}

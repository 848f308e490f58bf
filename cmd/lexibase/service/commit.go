package service

import (
	"context"
	"fmt"
	"time"

	"github.com/lexibase/lexibase/common/errs"
	"github.com/lexibase/lexibase/common/fieldpath"
	"github.com/lexibase/lexibase/common/logger"
	"github.com/lexibase/lexibase/common/models"
	"github.com/lexibase/lexibase/common/normalize"
	"github.com/lexibase/lexibase/common/refs"
)

// CommitService turns an approved changeset into a canonical mutation. All
// work for one changeset happens inside a single transaction: conflict
// detection, field writes, composite reconciliation, audit rows, and the
// changeset's own status flip commit or roll back together.
type CommitService struct {
	uow     UnitOfWork
	cascade *CascadeService
	log     *logger.Logger
}

// NewCommitService creates a new commit service
func NewCommitService(uow UnitOfWork, cascade *CascadeService, log *logger.Logger) *CommitService {
	return &CommitService{uow: uow, cascade: cascade, log: log}
}

// CommitResult reports the outcome of one changeset commit.
type CommitResult struct {
	Success        bool     `json:"success"`
	ChangesetID    int64    `json:"changeset_id"`
	CommittedCount int      `json:"committed_count"`
	SkippedCount   int      `json:"skipped_count"`
	Errors         []string `json:"errors,omitempty"`
}

// CommitChangeset applies a pending changeset. On failure the transaction is
// rolled back, the changeset stays pending, and the typed error is returned
// alongside a result carrying its message.
func (s *CommitService) CommitChangeset(ctx context.Context, id int64, committedBy string) (*CommitResult, error) {
	result := &CommitResult{ChangesetID: id}

	err := s.uow.Run(ctx, func(st Stores) error {
		cs, err := st.Changesets.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if cs.Status != models.ChangesetPending {
			return errs.Validationf("changeset %d is %s, not pending", id, cs.Status)
		}

		switch cs.Operation {
		case models.OpCreate:
			return s.commitCreate(ctx, st, cs, committedBy, result)
		case models.OpUpdate:
			return s.commitUpdate(ctx, st, cs, committedBy, result)
		case models.OpDelete:
			return s.commitDelete(ctx, st, cs, committedBy, result)
		default:
			return errs.Validationf("changeset %d has unknown operation %q", id, cs.Operation)
		}
	})

	if err != nil {
		result.Success = false
		result.Errors = append(result.Errors, err.Error())
		s.log.Warn("commit failed",
			"changeset_id", id,
			"committed_by", committedBy,
			"error", err)
		return result, err
	}

	result.Success = true
	s.log.Info("changeset committed",
		"changeset_id", id,
		"committed_by", committedBy,
		"committed", result.CommittedCount,
		"skipped", result.SkippedCount)
	return result, nil
}

func (s *CommitService) commitCreate(ctx context.Context, st Stores, cs *models.Changeset, committedBy string, result *CommitResult) error {
	v, err := jsonValue(cs.AfterSnapshot)
	if err != nil {
		return err
	}
	snapshot, ok := v.(map[string]any)
	if !ok {
		return errs.Validationf("changeset %d has no usable after-snapshot", cs.ID)
	}

	composites := compositesFor(cs.EntityType)
	fields := make(map[string]any, len(snapshot))
	children := make(map[string]any)
	for k, val := range snapshot {
		if k == "id" || k == "version" {
			continue
		}
		if _, isComposite := composites[k]; isComposite {
			children[k] = val
			continue
		}
		resolved, err := s.resolveFieldValue(ctx, st, k, val)
		if err != nil {
			return err
		}
		fields[k] = resolved
	}

	store, err := st.Entities(cs.EntityType)
	if err != nil {
		return err
	}
	entity, err := store.Create(ctx, fields)
	if err != nil {
		return err
	}
	if err := st.Changesets.SetEntityID(ctx, cs.ID, entity.ID); err != nil {
		return err
	}

	// Inline composite children on the new entity (e.g. a role list staged
	// with the frame itself).
	var items []models.FrameRoleItem
	if rolesVal, ok := children["frame_roles"]; ok {
		items, err = parseRoleItems(rolesVal)
		if err != nil {
			return err
		}
		rows, err := resolveRoleRows(ctx, st, items)
		if err != nil {
			return err
		}
		if err := st.FrameRoles.ReplaceForFrame(ctx, entity.ID, rows); err != nil {
			return err
		}
	}

	auditSnap := entity.Snapshot()
	if len(items) > 0 {
		auditSnap["frame_roles"] = roleItemsToValue(items)
	}
	newValue, err := normalize.JSON(auditSnap)
	if err != nil {
		return fmt.Errorf("normalize audit snapshot: %w", err)
	}

	now := time.Now().UTC()
	if err := st.Audit.Create(ctx, &models.AuditLogEntry{
		ChangesetID: cs.ID,
		EntityType:  cs.EntityType,
		EntityID:    entity.ID,
		Operation:   models.OpCreate,
		FieldName:   models.AuditFieldAll,
		NewValue:    newValue,
		CommittedBy: committedBy,
		CommittedAt: now,
	}); err != nil {
		return err
	}

	result.CommittedCount = 1
	return st.Changesets.MarkCommitted(ctx, cs.ID, committedBy, now)
}

func (s *CommitService) commitUpdate(ctx context.Context, st Stores, cs *models.Changeset, committedBy string, result *CommitResult) error {
	store, entity, err := s.checkConflict(ctx, st, cs)
	if err != nil {
		return err
	}

	fieldChanges, err := st.FieldChanges.ListByChangeset(ctx, cs.ID)
	if err != nil {
		return err
	}

	var approved []*models.FieldChange
	for _, fc := range fieldChanges {
		if fc.Status == models.FieldApproved {
			approved = append(approved, fc)
		}
	}
	result.SkippedCount = len(fieldChanges) - len(approved)
	if len(approved) == 0 {
		return errs.Validationf("changeset %d has no approved field changes to commit", cs.ID)
	}

	composites := compositesFor(cs.EntityType)
	simple := make(map[string]any)
	var composite []*models.FieldChange
	for _, fc := range approved {
		ref, err := fieldpath.Parse(fc.FieldName, composites)
		if err != nil {
			return err
		}
		if ref.Kind == fieldpath.KindSimple {
			v, err := jsonValue(fc.NewValue)
			if err != nil {
				return err
			}
			resolved, err := s.resolveFieldValue(ctx, st, fc.FieldName, v)
			if err != nil {
				return err
			}
			simple[fc.FieldName] = resolved
		} else {
			composite = append(composite, fc)
		}
	}

	// The conditional write re-checks the version: zero rows means another
	// writer won the race since the read above.
	var rows int64
	if len(simple) > 0 {
		rows, err = store.ConditionalUpdate(ctx, entity.ID, entity.Version, simple)
	} else {
		rows, err = store.Touch(ctx, entity.ID, entity.Version)
	}
	if err != nil {
		return err
	}
	if rows == 0 {
		return &errs.ConflictError{
			Field:    "version",
			Expected: entity.Version,
			Current:  nil,
			Msg:      fmt.Sprintf("entity %s/%d was modified concurrently during commit", cs.EntityType, entity.ID),
		}
	}

	if len(composite) > 0 {
		current, err := st.FrameRoles.ListByFrame(ctx, entity.ID)
		if err != nil {
			return err
		}
		final, err := reconcileRoles(current, composite, composites)
		if err != nil {
			return err
		}
		roleRows, err := resolveRoleRows(ctx, st, final)
		if err != nil {
			return err
		}
		if err := st.FrameRoles.ReplaceForFrame(ctx, entity.ID, roleRows); err != nil {
			return err
		}
	}

	now := time.Now().UTC()
	for _, fc := range approved {
		if err := st.Audit.Create(ctx, &models.AuditLogEntry{
			ChangesetID: cs.ID,
			EntityType:  cs.EntityType,
			EntityID:    entity.ID,
			Operation:   models.OpUpdate,
			FieldName:   fc.FieldName,
			OldValue:    fc.OldValue,
			NewValue:    fc.NewValue,
			CommittedBy: committedBy,
			CommittedAt: now,
		}); err != nil {
			return err
		}
	}

	result.CommittedCount = len(approved)
	// Rejected and unapproved field changes are left untouched as history.
	return st.Changesets.MarkCommitted(ctx, cs.ID, committedBy, now)
}

func (s *CommitService) commitDelete(ctx context.Context, st Stores, cs *models.Changeset, committedBy string, result *CommitResult) error {
	store, entity, err := s.checkConflict(ctx, st, cs)
	if err != nil {
		return err
	}

	// Reassign dependents while the relation graph is still intact. A
	// cascade failure aborts the whole delete: orphaning children is worse
	// than failing loudly.
	if err := s.cascade.HandleDelete(ctx, st, cs, entity); err != nil {
		return err
	}

	reason := fmt.Sprintf("deleted via changeset %d", cs.ID)
	rows, err := store.Delete(ctx, entity.ID, entity.Version, reason)
	if err != nil {
		return err
	}
	if rows == 0 {
		return &errs.ConflictError{
			Field:    "version",
			Expected: entity.Version,
			Current:  nil,
			Msg:      fmt.Sprintf("entity %s/%d was modified concurrently during delete", cs.EntityType, entity.ID),
		}
	}

	oldValue, err := normalize.JSON(entity.Snapshot())
	if err != nil {
		return fmt.Errorf("normalize audit snapshot: %w", err)
	}

	now := time.Now().UTC()
	if err := st.Audit.Create(ctx, &models.AuditLogEntry{
		ChangesetID: cs.ID,
		EntityType:  cs.EntityType,
		EntityID:    entity.ID,
		Operation:   models.OpDelete,
		FieldName:   models.AuditFieldAll,
		OldValue:    oldValue,
		CommittedBy: committedBy,
		CommittedAt: now,
	}); err != nil {
		return err
	}

	result.CommittedCount = 1
	return st.Changesets.MarkCommitted(ctx, cs.ID, committedBy, now)
}

// checkConflict loads the target entity and verifies the version the editor
// believed current still is. A vanished entity is conflict-class: someone
// deleted it between proposal and commit.
func (s *CommitService) checkConflict(ctx context.Context, st Stores, cs *models.Changeset) (EntityStore, *models.Entity, error) {
	if cs.EntityID == nil || cs.EntityVersion == nil {
		return nil, nil, errs.Validationf("changeset %d is missing its entity reference", cs.ID)
	}

	store, err := st.Entities(cs.EntityType)
	if err != nil {
		return nil, nil, err
	}

	entity, err := store.Get(ctx, *cs.EntityID)
	if err != nil {
		if errs.IsNotFound(err) {
			return nil, nil, &errs.ConflictError{
				Field:    "entity",
				Expected: *cs.EntityID,
				Msg:      fmt.Sprintf("entity %s/%d not found - it may have been deleted", cs.EntityType, *cs.EntityID),
			}
		}
		return nil, nil, err
	}

	if entity.Version != *cs.EntityVersion {
		return nil, nil, &errs.ConflictError{
			Field:    "version",
			Expected: *cs.EntityVersion,
			Current:  entity.Version,
			Msg: fmt.Sprintf("entity %s/%d is at version %d, changeset expects %d",
				cs.EntityType, *cs.EntityID, entity.Version, *cs.EntityVersion),
		}
	}

	return store, entity, nil
}

// resolveFieldValue interprets candidate foreign-key values, resolving
// virtual IDs against their originating create changesets.
func (s *CommitService) resolveFieldValue(ctx context.Context, st Stores, fieldName string, v any) (any, error) {
	if !refs.IsForeignKeyField(fieldName) {
		return v, nil
	}

	ref := refs.Parse(v)
	switch ref.Kind {
	case refs.NotAReference:
		return v, nil
	case refs.Concrete:
		return ref.ID, nil
	case refs.Pending:
		return s.resolveVirtual(ctx, st, fieldName, ref.ChangesetID)
	default:
		return nil, errs.Validationf("field %s holds an invalid entity reference", fieldName)
	}
}

// resolveVirtual maps a virtual ID to the real primary key produced by the
// referenced create changeset, which must already be committed.
func (s *CommitService) resolveVirtual(ctx context.Context, st Stores, fieldName string, changesetID int64) (int64, error) {
	ref, err := st.Changesets.GetByID(ctx, changesetID)
	if err != nil {
		if errs.IsNotFound(err) {
			return 0, errs.Validationf("field %s references changeset %d which does not exist", fieldName, changesetID)
		}
		return 0, err
	}
	if ref.Operation != models.OpCreate {
		return 0, errs.Validationf("field %s references changeset %d which is not a create", fieldName, changesetID)
	}
	if ref.Status != models.ChangesetCommitted || ref.EntityID == nil {
		return 0, errs.Validationf("field %s references changeset %d whose creation has not been committed yet", fieldName, changesetID)
	}
	return *ref.EntityID, nil
}

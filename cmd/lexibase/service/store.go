package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/lexibase/lexibase/common/models"
)

// The interfaces below are the persistence contracts the engine consumes.
// The repository package satisfies them against Postgres; tests satisfy them
// in memory.

// ChangesetStore persists changesets.
type ChangesetStore interface {
	Create(ctx context.Context, cs *models.Changeset) error
	GetByID(ctx context.Context, id int64) (*models.Changeset, error)
	FindPending(ctx context.Context, entityType models.EntityType, entityID int64) (*models.Changeset, error)
	ListPendingByJob(ctx context.Context, jobID uuid.UUID) ([]*models.Changeset, error)
	ListPendingByUser(ctx context.Context, createdBy string) ([]*models.Changeset, error)
	ListByStatus(ctx context.Context, status models.ChangesetStatus, limit int) ([]*models.Changeset, error)
	SetEntityID(ctx context.Context, id, entityID int64) error
	UpdateAfterSnapshot(ctx context.Context, id int64, snapshot []byte) error
	MarkCommitted(ctx context.Context, id int64, committedBy string, at time.Time) error
	Discard(ctx context.Context, id int64, reviewedBy string) error
}

// FieldChangeStore persists field-level diffs.
type FieldChangeStore interface {
	Create(ctx context.Context, fc *models.FieldChange) error
	GetByID(ctx context.Context, id int64) (*models.FieldChange, error)
	Find(ctx context.Context, changesetID int64, fieldName string) (*models.FieldChange, error)
	ListByChangeset(ctx context.Context, changesetID int64) ([]*models.FieldChange, error)
	UpdateValues(ctx context.Context, id int64, oldValue, newValue json.RawMessage) error
	Delete(ctx context.Context, id int64) error
	Count(ctx context.Context, changesetID int64) (int, error)
	CountNonRejected(ctx context.Context, changesetID int64) (int, error)
	SetStatus(ctx context.Context, id int64, status models.FieldChangeStatus, by string, at time.Time) error
	ApprovePending(ctx context.Context, changesetIDs []int64, by string, at time.Time) (int64, error)
	RejectPending(ctx context.Context, changesetID int64, by string, at time.Time) (int64, error)
}

// AuditStore appends to and reads the immutable audit log.
type AuditStore interface {
	Create(ctx context.Context, entry *models.AuditLogEntry) error
	ListByEntity(ctx context.Context, entityType models.EntityType, entityID int64, limit int) ([]*models.AuditLogEntry, error)
}

// CommentStore persists change comments.
type CommentStore interface {
	Create(ctx context.Context, c *models.ChangeComment) error
	ListByChangeset(ctx context.Context, changesetID int64) ([]*models.ChangeComment, error)
}

// RoleTypeStore resolves role types by code.
type RoleTypeStore interface {
	FindByCodes(ctx context.Context, codes []string) ([]*models.RoleType, error)
	CodesByID(ctx context.Context) (map[int64]string, error)
}

// FrameRoleStore reads and replaces a frame's composite role collection.
type FrameRoleStore interface {
	ListByFrame(ctx context.Context, frameID int64) ([]models.FrameRoleItem, error)
	ReplaceForFrame(ctx context.Context, frameID int64, roles []models.FrameRoleRow) error
}

// EntityStore is the canonical-table contract: versioned reads, creates,
// conditional writes, soft/hard deletes.
type EntityStore interface {
	Get(ctx context.Context, id int64) (*models.Entity, error)
	Create(ctx context.Context, fields map[string]any) (*models.Entity, error)
	ConditionalUpdate(ctx context.Context, id, expectedVersion int64, fields map[string]any) (int64, error)
	Touch(ctx context.Context, id, expectedVersion int64) (int64, error)
	Delete(ctx context.Context, id, expectedVersion int64, reason string) (int64, error)
	FindBy(ctx context.Context, conds map[string]any) ([]*models.Entity, error)
	SoftDeletes() bool
}

// EntityResolver maps an entity type to its store.
type EntityResolver func(models.EntityType) (EntityStore, error)

// Stores bundles every persistence contract bound to one database handle:
// either the shared pool or one transaction.
type Stores struct {
	Changesets   ChangesetStore
	FieldChanges FieldChangeStore
	Audit        AuditStore
	Comments     CommentStore
	RoleTypes    RoleTypeStore
	FrameRoles   FrameRoleStore
	Entities     EntityResolver
}

// UnitOfWork runs work against the store bundle. Run wraps fn in a single
// database transaction; a non-nil error rolls everything back. View returns
// non-transactional stores for reads and single-statement writes.
type UnitOfWork interface {
	Run(ctx context.Context, fn func(Stores) error) error
	View() Stores
}

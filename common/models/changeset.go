package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EntityType identifies which canonical table a changeset targets.
type EntityType string

const (
	EntityLexicalUnit         EntityType = "lexical_unit"
	EntityLexicalUnitRelation EntityType = "lexical_unit_relation"
	EntityFrame               EntityType = "frame"
	EntityFrameRole           EntityType = "frame_role"
	EntityRecipe              EntityType = "recipe"
	EntityFrameRelation       EntityType = "frame_relation"
)

// Valid reports whether t is one of the known entity types.
func (t EntityType) Valid() bool {
	switch t {
	case EntityLexicalUnit, EntityLexicalUnitRelation, EntityFrame,
		EntityFrameRole, EntityRecipe, EntityFrameRelation:
		return true
	}
	return false
}

// Operation is the kind of mutation a changeset proposes.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// CommitOrder ranks operations for batch commits: creates must land before
// the updates that may reference them through virtual IDs, deletes last.
func (o Operation) CommitOrder() int {
	switch o {
	case OpCreate:
		return 0
	case OpUpdate:
		return 1
	default:
		return 2
	}
}

// ChangesetStatus is the lifecycle state of a changeset.
// committed and discarded are terminal.
type ChangesetStatus string

const (
	ChangesetPending   ChangesetStatus = "pending"
	ChangesetCommitted ChangesetStatus = "committed"
	ChangesetDiscarded ChangesetStatus = "discarded"
)

// Valid reports whether s is a known lifecycle state.
func (s ChangesetStatus) Valid() bool {
	switch s {
	case ChangesetPending, ChangesetCommitted, ChangesetDiscarded:
		return true
	}
	return false
}

// Changeset is one staged entity mutation in flight.
//
// At most one pending changeset exists per (entity_type, entity_id); further
// edits to the same entity mutate the pending changeset instead of creating
// a second one. The negated id doubles as a virtual foreign-key placeholder
// for the entity a not-yet-committed create changeset will produce.
type Changeset struct {
	ID             int64           `db:"id" json:"id"`
	EntityType     EntityType      `db:"entity_type" json:"entity_type"`
	EntityID       *int64          `db:"entity_id" json:"entity_id,omitempty"` // null until a create commits
	Operation      Operation       `db:"operation" json:"operation"`
	EntityVersion  *int64          `db:"entity_version" json:"entity_version,omitempty"` // null for create
	BeforeSnapshot json.RawMessage `db:"before_snapshot" json:"before_snapshot,omitempty"`
	AfterSnapshot  json.RawMessage `db:"after_snapshot" json:"after_snapshot,omitempty"`
	Status         ChangesetStatus `db:"status" json:"status"`
	CreatedBy      string          `db:"created_by" json:"created_by"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	ReviewedBy     *string         `db:"reviewed_by" json:"reviewed_by,omitempty"`
	ReviewedAt     *time.Time      `db:"reviewed_at" json:"reviewed_at,omitempty"`
	CommittedAt    *time.Time      `db:"committed_at" json:"committed_at,omitempty"`
	JobID          *uuid.UUID      `db:"job_id" json:"job_id,omitempty"` // set for AI-generated batches
}

// VirtualID returns the negative placeholder that dependent edits may use to
// reference the entity this changeset will create.
func (c *Changeset) VirtualID() int64 {
	return -c.ID
}

// FieldChangeStatus is the review state of a single field-level diff.
type FieldChangeStatus string

const (
	FieldPending  FieldChangeStatus = "pending"
	FieldApproved FieldChangeStatus = "approved"
	FieldRejected FieldChangeStatus = "rejected"
)

// FieldChange is one modified field within a changeset, independently
// approvable or rejectable. OldValue and NewValue hold normalized JSON and
// are never equal under normalized comparison; a diff that becomes a no-op
// is deleted rather than stored as a zero-diff row.
type FieldChange struct {
	ID          int64             `db:"id" json:"id"`
	ChangesetID int64             `db:"changeset_id" json:"changeset_id"`
	FieldName   string            `db:"field_name" json:"field_name"` // dotted paths address composite sub-fields
	OldValue    json.RawMessage   `db:"old_value" json:"old_value,omitempty"`
	NewValue    json.RawMessage   `db:"new_value" json:"new_value,omitempty"`
	Status      FieldChangeStatus `db:"status" json:"status"`
	ApprovedBy  *string           `db:"approved_by" json:"approved_by,omitempty"`
	ApprovedAt  *time.Time        `db:"approved_at" json:"approved_at,omitempty"`
	RejectedBy  *string           `db:"rejected_by" json:"rejected_by,omitempty"`
	RejectedAt  *time.Time        `db:"rejected_at" json:"rejected_at,omitempty"`
}

// UpsertAction describes what UpsertFieldChange did with a proposed diff.
type UpsertAction string

const (
	UpsertCreated UpsertAction = "created"
	UpsertUpdated UpsertAction = "updated"
	UpsertDeleted UpsertAction = "deleted" // existing row removed because the edit was reverted
	UpsertSkipped UpsertAction = "skipped" // no-op proposal, nothing stored
)

// UpsertResult reports the outcome of a field-change upsert.
type UpsertResult struct {
	Action UpsertAction `json:"action"`
	// ChangesetDiscarded is set when deleting the last field-change left the
	// changeset empty and it was auto-discarded.
	ChangesetDiscarded bool `json:"changeset_discarded,omitempty"`
}

package models

import (
	"time"

	"github.com/google/uuid"
)

// SystemActor authors comments and changesets produced by the engine itself,
// e.g. cascade reassignments.
const SystemActor = "system"

// ChangeComment is a free-text annotation on a changeset or on a single
// field-change within it. System-authored comments explain cascaded changes.
type ChangeComment struct {
	ID            uuid.UUID `db:"id" json:"id"`
	ChangesetID   int64     `db:"changeset_id" json:"changeset_id"`
	FieldChangeID *int64    `db:"field_change_id" json:"field_change_id,omitempty"`
	Author        string    `db:"author" json:"author"`
	Body          string    `db:"body" json:"body"`
	System        bool      `db:"system" json:"system"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

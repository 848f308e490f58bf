package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditFieldAll marks the single audit row written for a create or delete,
// which captures the whole entity snapshot instead of one field.
const AuditFieldAll = "*"

// AuditLogEntry is the append-only record of one applied field (or one
// whole-entity create/delete). Rows are immutable once written.
type AuditLogEntry struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	ChangesetID int64           `db:"changeset_id" json:"changeset_id"`
	EntityType  EntityType      `db:"entity_type" json:"entity_type"`
	EntityID    int64           `db:"entity_id" json:"entity_id"`
	Operation   Operation       `db:"operation" json:"operation"`
	FieldName   string          `db:"field_name" json:"field_name"`
	OldValue    json.RawMessage `db:"old_value" json:"old_value,omitempty"`
	NewValue    json.RawMessage `db:"new_value" json:"new_value,omitempty"`
	CommittedBy string          `db:"committed_by" json:"committed_by"`
	CommittedAt time.Time       `db:"committed_at" json:"committed_at"`
}

package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/lexibase/lexibase/common/db"
	"github.com/lexibase/lexibase/common/models"
)

// AuditLogRepository appends to and reads the immutable audit log. There is
// no update or delete: rows are the permanent record of what was applied.
type AuditLogRepository struct {
	q db.Querier
}

// NewAuditLogRepository creates a new audit log repository
func NewAuditLogRepository(q db.Querier) *AuditLogRepository {
	return &AuditLogRepository{q: q}
}

// Create appends one audit row.
func (r *AuditLogRepository) Create(ctx context.Context, entry *models.AuditLogEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}

	query := `
		INSERT INTO audit_log (id, changeset_id, entity_type, entity_id, operation,
			field_name, old_value, new_value, committed_by, committed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.q.Exec(
		ctx,
		query,
		entry.ID,
		entry.ChangesetID,
		entry.EntityType,
		entry.EntityID,
		entry.Operation,
		entry.FieldName,
		entry.OldValue,
		entry.NewValue,
		entry.CommittedBy,
		entry.CommittedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create audit log entry: %w", err)
	}
	return nil
}

// ListByEntity retrieves the audit trail of one entity, newest first.
func (r *AuditLogRepository) ListByEntity(ctx context.Context, entityType models.EntityType, entityID int64, limit int) ([]*models.AuditLogEntry, error) {
	query := `
		SELECT id, changeset_id, entity_type, entity_id, operation,
			field_name, old_value, new_value, committed_by, committed_at
		FROM audit_log
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY committed_at DESC
		LIMIT $3
	`

	rows, err := r.q.Query(ctx, query, entityType, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit log: %w", err)
	}
	defer rows.Close()

	var out []*models.AuditLogEntry
	for rows.Next() {
		entry := &models.AuditLogEntry{}
		err := rows.Scan(
			&entry.ID,
			&entry.ChangesetID,
			&entry.EntityType,
			&entry.EntityID,
			&entry.Operation,
			&entry.FieldName,
			&entry.OldValue,
			&entry.NewValue,
			&entry.CommittedBy,
			&entry.CommittedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit log entry: %w", err)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit log: %w", err)
	}
	return out, nil
}

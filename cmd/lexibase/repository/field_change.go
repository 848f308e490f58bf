package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/lexibase/lexibase/common/db"
	"github.com/lexibase/lexibase/common/errs"
	"github.com/lexibase/lexibase/common/models"
)

const fieldChangeColumns = `id, changeset_id, field_name, old_value, new_value,
	status, approved_by, approved_at, rejected_by, rejected_at`

// FieldChangeRepository handles database operations for field changes
type FieldChangeRepository struct {
	q db.Querier
}

// NewFieldChangeRepository creates a new field change repository
func NewFieldChangeRepository(q db.Querier) *FieldChangeRepository {
	return &FieldChangeRepository{q: q}
}

func scanFieldChange(row pgx.Row) (*models.FieldChange, error) {
	fc := &models.FieldChange{}
	err := row.Scan(
		&fc.ID,
		&fc.ChangesetID,
		&fc.FieldName,
		&fc.OldValue,
		&fc.NewValue,
		&fc.Status,
		&fc.ApprovedBy,
		&fc.ApprovedAt,
		&fc.RejectedBy,
		&fc.RejectedAt,
	)
	if err != nil {
		return nil, err
	}
	return fc, nil
}

// Create inserts a new pending field change
func (r *FieldChangeRepository) Create(ctx context.Context, fc *models.FieldChange) error {
	query := `
		INSERT INTO field_change (changeset_id, field_name, old_value, new_value, status)
		VALUES ($1, $2, $3, $4, 'pending')
		RETURNING id
	`

	fc.Status = models.FieldPending
	err := r.q.QueryRow(ctx, query, fc.ChangesetID, fc.FieldName, fc.OldValue, fc.NewValue).Scan(&fc.ID)
	if err != nil {
		return fmt.Errorf("failed to create field change: %w", err)
	}
	return nil
}

// GetByID retrieves a field change by its ID
func (r *FieldChangeRepository) GetByID(ctx context.Context, id int64) (*models.FieldChange, error) {
	query := fmt.Sprintf("SELECT %s FROM field_change WHERE id = $1", fieldChangeColumns)

	fc, err := scanFieldChange(r.q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.NotFound("field change", id)
		}
		return nil, fmt.Errorf("failed to get field change: %w", err)
	}
	return fc, nil
}

// Find returns the field change for a field within a changeset, or nil.
func (r *FieldChangeRepository) Find(ctx context.Context, changesetID int64, fieldName string) (*models.FieldChange, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM field_change
		WHERE changeset_id = $1 AND field_name = $2
	`, fieldChangeColumns)

	fc, err := scanFieldChange(r.q.QueryRow(ctx, query, changesetID, fieldName))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find field change: %w", err)
	}
	return fc, nil
}

// ListByChangeset retrieves all field changes of a changeset, ordered by
// field name for stable diff display.
func (r *FieldChangeRepository) ListByChangeset(ctx context.Context, changesetID int64) ([]*models.FieldChange, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM field_change
		WHERE changeset_id = $1
		ORDER BY field_name
	`, fieldChangeColumns)

	rows, err := r.q.Query(ctx, query, changesetID)
	if err != nil {
		return nil, fmt.Errorf("failed to list field changes: %w", err)
	}
	defer rows.Close()

	var out []*models.FieldChange
	for rows.Next() {
		fc, err := scanFieldChange(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan field change: %w", err)
		}
		out = append(out, fc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating field changes: %w", err)
	}
	return out, nil
}

// UpdateValues rewrites a field change's diff and resets it to pending: a
// newly proposed value never carries over a stale approval or rejection.
func (r *FieldChangeRepository) UpdateValues(ctx context.Context, id int64, oldValue, newValue json.RawMessage) error {
	query := `
		UPDATE field_change
		SET old_value = $2, new_value = $3, status = 'pending',
			approved_by = NULL, approved_at = NULL, rejected_by = NULL, rejected_at = NULL
		WHERE id = $1
	`

	if _, err := r.q.Exec(ctx, query, id, oldValue, newValue); err != nil {
		return fmt.Errorf("failed to update field change: %w", err)
	}
	return nil
}

// Delete removes a field change row (the edit was reverted).
func (r *FieldChangeRepository) Delete(ctx context.Context, id int64) error {
	query := `DELETE FROM field_change WHERE id = $1`

	if _, err := r.q.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("failed to delete field change: %w", err)
	}
	return nil
}

// Count returns the number of field changes on a changeset.
func (r *FieldChangeRepository) Count(ctx context.Context, changesetID int64) (int, error) {
	var n int
	err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM field_change WHERE changeset_id = $1`, changesetID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count field changes: %w", err)
	}
	return n, nil
}

// CountNonRejected returns how many field changes are still pending or
// approved; zero triggers changeset auto-discard.
func (r *FieldChangeRepository) CountNonRejected(ctx context.Context, changesetID int64) (int, error) {
	var n int
	err := r.q.QueryRow(ctx,
		`SELECT COUNT(*) FROM field_change WHERE changeset_id = $1 AND status != 'rejected'`,
		changesetID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count field changes: %w", err)
	}
	return n, nil
}

// SetStatus transitions one field change's review state.
func (r *FieldChangeRepository) SetStatus(ctx context.Context, id int64, status models.FieldChangeStatus, by string, at time.Time) error {
	var query string
	switch status {
	case models.FieldApproved:
		query = `
			UPDATE field_change
			SET status = 'approved', approved_by = $2, approved_at = $3,
				rejected_by = NULL, rejected_at = NULL
			WHERE id = $1
		`
	case models.FieldRejected:
		query = `
			UPDATE field_change
			SET status = 'rejected', rejected_by = $2, rejected_at = $3,
				approved_by = NULL, approved_at = NULL
			WHERE id = $1
		`
	default:
		query = `
			UPDATE field_change
			SET status = 'pending', approved_by = NULL, approved_at = NULL,
				rejected_by = NULL, rejected_at = NULL
			WHERE id = $1
		`
	}

	tag, err := r.q.Exec(ctx, query, id, by, at)
	if err != nil {
		return fmt.Errorf("failed to set field change status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.NotFound("field change", id)
	}
	return nil
}

// ApprovePending approves every pending field change across the given
// changesets in one batch update and returns the number approved.
func (r *FieldChangeRepository) ApprovePending(ctx context.Context, changesetIDs []int64, by string, at time.Time) (int64, error) {
	if len(changesetIDs) == 0 {
		return 0, nil
	}

	query := `
		UPDATE field_change
		SET status = 'approved', approved_by = $2, approved_at = $3
		WHERE changeset_id = ANY($1) AND status = 'pending'
	`

	tag, err := r.q.Exec(ctx, query, changesetIDs, by, at)
	if err != nil {
		return 0, fmt.Errorf("failed to approve field changes: %w", err)
	}
	return tag.RowsAffected(), nil
}

// RejectPending rejects every pending field change of one changeset.
func (r *FieldChangeRepository) RejectPending(ctx context.Context, changesetID int64, by string, at time.Time) (int64, error) {
	query := `
		UPDATE field_change
		SET status = 'rejected', rejected_by = $2, rejected_at = $3
		WHERE changeset_id = $1 AND status = 'pending'
	`

	tag, err := r.q.Exec(ctx, query, changesetID, by, at)
	if err != nil {
		return 0, fmt.Errorf("failed to reject field changes: %w", err)
	}
	return tag.RowsAffected(), nil
}

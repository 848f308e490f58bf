package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/lexibase/lexibase/common/db"
	"github.com/lexibase/lexibase/common/errs"
	"github.com/lexibase/lexibase/common/models"
)

const changesetColumns = `id, entity_type, entity_id, operation, entity_version,
	before_snapshot, after_snapshot, status, created_by, created_at,
	reviewed_by, reviewed_at, committed_at, job_id`

// ChangesetRepository handles database operations for changesets
type ChangesetRepository struct {
	q db.Querier
}

// NewChangesetRepository creates a new changeset repository
func NewChangesetRepository(q db.Querier) *ChangesetRepository {
	return &ChangesetRepository{q: q}
}

func scanChangeset(row pgx.Row) (*models.Changeset, error) {
	cs := &models.Changeset{}
	err := row.Scan(
		&cs.ID,
		&cs.EntityType,
		&cs.EntityID,
		&cs.Operation,
		&cs.EntityVersion,
		&cs.BeforeSnapshot,
		&cs.AfterSnapshot,
		&cs.Status,
		&cs.CreatedBy,
		&cs.CreatedAt,
		&cs.ReviewedBy,
		&cs.ReviewedAt,
		&cs.CommittedAt,
		&cs.JobID,
	)
	if err != nil {
		return nil, err
	}
	return cs, nil
}

// Create inserts a new pending changeset and fills in its id and created_at.
func (r *ChangesetRepository) Create(ctx context.Context, cs *models.Changeset) error {
	query := `
		INSERT INTO changeset (entity_type, entity_id, operation, entity_version,
			before_snapshot, after_snapshot, status, created_by, job_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at
	`

	cs.Status = models.ChangesetPending
	err := r.q.QueryRow(
		ctx,
		query,
		cs.EntityType,
		cs.EntityID,
		cs.Operation,
		cs.EntityVersion,
		cs.BeforeSnapshot,
		cs.AfterSnapshot,
		cs.Status,
		cs.CreatedBy,
		cs.JobID,
	).Scan(&cs.ID, &cs.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to create changeset: %w", err)
	}

	return nil
}

// GetByID retrieves a changeset by its ID
func (r *ChangesetRepository) GetByID(ctx context.Context, id int64) (*models.Changeset, error) {
	query := fmt.Sprintf("SELECT %s FROM changeset WHERE id = $1", changesetColumns)

	cs, err := scanChangeset(r.q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.NotFound("changeset", id)
		}
		return nil, fmt.Errorf("failed to get changeset: %w", err)
	}
	return cs, nil
}

// FindPending returns the single pending changeset for an entity, or nil if
// none exists. The partial unique index on (entity_type, entity_id) WHERE
// status = 'pending' guarantees at most one row.
func (r *ChangesetRepository) FindPending(ctx context.Context, entityType models.EntityType, entityID int64) (*models.Changeset, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM changeset
		WHERE entity_type = $1 AND entity_id = $2 AND status = 'pending'
	`, changesetColumns)

	cs, err := scanChangeset(r.q.QueryRow(ctx, query, entityType, entityID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find pending changeset: %w", err)
	}
	return cs, nil
}

// ListPendingByJob retrieves pending changesets created under an AI job,
// ordered for batch commits: create < update < delete, ties by id.
func (r *ChangesetRepository) ListPendingByJob(ctx context.Context, jobID uuid.UUID) ([]*models.Changeset, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM changeset
		WHERE job_id = $1 AND status = 'pending'
		ORDER BY CASE operation WHEN 'create' THEN 0 WHEN 'update' THEN 1 ELSE 2 END, id
	`, changesetColumns)

	return r.list(ctx, query, jobID)
}

// ListPendingByUser retrieves pending changesets created by a user (human
// edits carry no job_id and are grouped by creator instead), in commit order.
func (r *ChangesetRepository) ListPendingByUser(ctx context.Context, createdBy string) ([]*models.Changeset, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM changeset
		WHERE created_by = $1 AND status = 'pending' AND job_id IS NULL
		ORDER BY CASE operation WHEN 'create' THEN 0 WHEN 'update' THEN 1 ELSE 2 END, id
	`, changesetColumns)

	return r.list(ctx, query, createdBy)
}

// ListByStatus retrieves changesets by status, newest first.
func (r *ChangesetRepository) ListByStatus(ctx context.Context, status models.ChangesetStatus, limit int) ([]*models.Changeset, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM changeset
		WHERE status = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, changesetColumns)

	return r.list(ctx, query, status, limit)
}

func (r *ChangesetRepository) list(ctx context.Context, query string, args ...any) ([]*models.Changeset, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list changesets: %w", err)
	}
	defer rows.Close()

	var out []*models.Changeset
	for rows.Next() {
		cs, err := scanChangeset(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan changeset: %w", err)
		}
		out = append(out, cs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating changesets: %w", err)
	}
	return out, nil
}

// SetEntityID writes the canonical primary key back onto a committed create.
func (r *ChangesetRepository) SetEntityID(ctx context.Context, id, entityID int64) error {
	query := `UPDATE changeset SET entity_id = $2 WHERE id = $1`

	if _, err := r.q.Exec(ctx, query, id, entityID); err != nil {
		return fmt.Errorf("failed to set changeset entity id: %w", err)
	}
	return nil
}

// UpdateAfterSnapshot replaces the staged after-image of a pending changeset.
func (r *ChangesetRepository) UpdateAfterSnapshot(ctx context.Context, id int64, snapshot []byte) error {
	query := `UPDATE changeset SET after_snapshot = $2 WHERE id = $1 AND status = 'pending'`

	if _, err := r.q.Exec(ctx, query, id, snapshot); err != nil {
		return fmt.Errorf("failed to update changeset snapshot: %w", err)
	}
	return nil
}

// MarkCommitted flips a pending changeset to committed.
func (r *ChangesetRepository) MarkCommitted(ctx context.Context, id int64, committedBy string, at time.Time) error {
	query := `
		UPDATE changeset
		SET status = 'committed', reviewed_by = $2, reviewed_at = $3, committed_at = $3
		WHERE id = $1 AND status = 'pending'
	`

	tag, err := r.q.Exec(ctx, query, id, committedBy, at)
	if err != nil {
		return fmt.Errorf("failed to mark changeset committed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.NotFound("pending changeset", id)
	}
	return nil
}

// Discard flips a changeset to discarded. Discarding is unconditional and
// has no canonical side effects.
func (r *ChangesetRepository) Discard(ctx context.Context, id int64, reviewedBy string) error {
	query := `
		UPDATE changeset
		SET status = 'discarded', reviewed_by = NULLIF($2, ''), reviewed_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`

	if _, err := r.q.Exec(ctx, query, id, reviewedBy); err != nil {
		return fmt.Errorf("failed to discard changeset: %w", err)
	}
	return nil
}

package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/lexibase/lexibase/common/db"
	"github.com/lexibase/lexibase/common/models"
)

// CommentRepository handles database operations for change comments
type CommentRepository struct {
	q db.Querier
}

// NewCommentRepository creates a new comment repository
func NewCommentRepository(q db.Querier) *CommentRepository {
	return &CommentRepository{q: q}
}

// Create inserts a comment on a changeset or on a single field change.
func (r *CommentRepository) Create(ctx context.Context, c *models.ChangeComment) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}

	query := `
		INSERT INTO change_comment (id, changeset_id, field_change_id, author, body, system)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`

	err := r.q.QueryRow(
		ctx,
		query,
		c.ID,
		c.ChangesetID,
		c.FieldChangeID,
		c.Author,
		c.Body,
		c.System,
	).Scan(&c.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to create comment: %w", err)
	}
	return nil
}

// ListByChangeset retrieves all comments on a changeset, oldest first.
func (r *CommentRepository) ListByChangeset(ctx context.Context, changesetID int64) ([]*models.ChangeComment, error) {
	query := `
		SELECT id, changeset_id, field_change_id, author, body, system, created_at
		FROM change_comment
		WHERE changeset_id = $1
		ORDER BY created_at
	`

	rows, err := r.q.Query(ctx, query, changesetID)
	if err != nil {
		return nil, fmt.Errorf("failed to list comments: %w", err)
	}
	defer rows.Close()

	var out []*models.ChangeComment
	for rows.Next() {
		c := &models.ChangeComment{}
		err := rows.Scan(&c.ID, &c.ChangesetID, &c.FieldChangeID, &c.Author, &c.Body, &c.System, &c.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan comment: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating comments: %w", err)
	}
	return out, nil
}

package repository

import (
	"context"
	"fmt"

	"github.com/lexibase/lexibase/common/db"
	"github.com/lexibase/lexibase/common/models"
)

// FrameRoleRepository handles the frame_role child rows backing the frame's
// composite role collection. Reconciliation replaces the collection wholesale
// keyed by role-type code, since granular sub-fields only reference the
// logical key, never a row id.
type FrameRoleRepository struct {
	q db.Querier
}

// NewFrameRoleRepository creates a new frame role repository
func NewFrameRoleRepository(q db.Querier) *FrameRoleRepository {
	return &FrameRoleRepository{q: q}
}

// ListByFrame returns a frame's role collection keyed by role-type code.
func (r *FrameRoleRepository) ListByFrame(ctx context.Context, frameID int64) ([]models.FrameRoleItem, error) {
	query := `
		SELECT rt.code, fr.description, fr.rank
		FROM frame_role fr
		JOIN role_type rt ON rt.id = fr.role_type_id
		WHERE fr.frame_id = $1
		ORDER BY rt.code
	`

	rows, err := r.q.Query(ctx, query, frameID)
	if err != nil {
		return nil, fmt.Errorf("failed to list frame roles: %w", err)
	}
	defer rows.Close()

	var out []models.FrameRoleItem
	for rows.Next() {
		var item models.FrameRoleItem
		var description *string
		if err := rows.Scan(&item.RoleType, &description, &item.Rank); err != nil {
			return nil, fmt.Errorf("failed to scan frame role: %w", err)
		}
		if description != nil {
			item.Description = *description
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating frame roles: %w", err)
	}
	return out, nil
}

// ReplaceForFrame deletes all role rows of a frame and bulk re-inserts the
// reconciled final set.
func (r *FrameRoleRepository) ReplaceForFrame(ctx context.Context, frameID int64, roles []models.FrameRoleRow) error {
	if _, err := r.q.Exec(ctx, `DELETE FROM frame_role WHERE frame_id = $1`, frameID); err != nil {
		return fmt.Errorf("failed to clear frame roles: %w", err)
	}

	for _, role := range roles {
		_, err := r.q.Exec(ctx, `
			INSERT INTO frame_role (frame_id, role_type_id, description, rank, version)
			VALUES ($1, $2, $3, $4, 1)
		`, frameID, role.RoleTypeID, role.Description, role.Rank)
		if err != nil {
			return fmt.Errorf("failed to insert frame role: %w", err)
		}
	}
	return nil
}

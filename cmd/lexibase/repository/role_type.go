package repository

import (
	"context"
	"fmt"

	"github.com/lexibase/lexibase/common/db"
	"github.com/lexibase/lexibase/common/models"
)

// RoleTypeRepository resolves frame role types by human-readable code.
type RoleTypeRepository struct {
	q db.Querier
}

// NewRoleTypeRepository creates a new role type repository
func NewRoleTypeRepository(q db.Querier) *RoleTypeRepository {
	return &RoleTypeRepository{q: q}
}

// FindByCodes resolves role types by code. Codes without a matching row are
// simply absent from the result; the caller decides whether that is an error.
func (r *RoleTypeRepository) FindByCodes(ctx context.Context, codes []string) ([]*models.RoleType, error) {
	if len(codes) == 0 {
		return nil, nil
	}

	query := `
		SELECT id, code, label
		FROM role_type
		WHERE code = ANY($1)
		ORDER BY code
	`

	rows, err := r.q.Query(ctx, query, codes)
	if err != nil {
		return nil, fmt.Errorf("failed to find role types: %w", err)
	}
	defer rows.Close()

	var out []*models.RoleType
	for rows.Next() {
		rt := &models.RoleType{}
		if err := rows.Scan(&rt.ID, &rt.Code, &rt.Label); err != nil {
			return nil, fmt.Errorf("failed to scan role type: %w", err)
		}
		out = append(out, rt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating role types: %w", err)
	}
	return out, nil
}

// CodesByID returns a role-type id -> code map for rendering role
// collections keyed by code.
func (r *RoleTypeRepository) CodesByID(ctx context.Context) (map[int64]string, error) {
	rows, err := r.q.Query(ctx, `SELECT id, code FROM role_type`)
	if err != nil {
		return nil, fmt.Errorf("failed to list role types: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]string)
	for rows.Next() {
		var id int64
		var code string
		if err := rows.Scan(&id, &code); err != nil {
			return nil, fmt.Errorf("failed to scan role type: %w", err)
		}
		out[id] = code
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating role types: %w", err)
	}
	return out, nil
}

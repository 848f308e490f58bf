package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/lexibase/lexibase/common/db"
	"github.com/lexibase/lexibase/common/errs"
	"github.com/lexibase/lexibase/common/models"
)

// EntityStore is the canonical-table contract consumed by the commit engine:
// versioned reads, creates, conditional writes guarded by the expected
// version, and soft or hard deletes.
type EntityStore interface {
	// Get returns the live entity or a NotFoundError. Soft-deleted rows
	// count as missing.
	Get(ctx context.Context, id int64) (*models.Entity, error)
	// Create inserts a row at version 1 and returns it.
	Create(ctx context.Context, fields map[string]any) (*models.Entity, error)
	// ConditionalUpdate writes fields WHERE id AND version match, bumping the
	// version. Returns the number of rows affected; zero means a concurrent
	// writer won the race.
	ConditionalUpdate(ctx context.Context, id, expectedVersion int64, fields map[string]any) (int64, error)
	// Touch bumps the version without changing any column, under the same
	// guard as updates. Used when a commit writes only composite children so
	// the optimistic-concurrency check still claims the owner row.
	Touch(ctx context.Context, id, expectedVersion int64) (int64, error)
	// Delete removes the row (soft delete keeps it flagged with a reason).
	// Returns rows affected under the same version guard as updates.
	Delete(ctx context.Context, id, expectedVersion int64, reason string) (int64, error)
	// FindBy lists live rows matching equality conditions, ordered by id.
	FindBy(ctx context.Context, conds map[string]any) ([]*models.Entity, error)
	// SoftDeletes reports whether deletes retain the row.
	SoftDeletes() bool
}

// tableSpec describes one canonical table. The static specs map below is the
// compile-time dispatch from entity type to store implementation; no table
// name is ever chosen from a string at call sites.
type tableSpec struct {
	table      string
	columns    []string
	softDelete bool
}

var tableSpecs = map[models.EntityType]tableSpec{
	models.EntityLexicalUnit: {
		table:      "lexical_unit",
		columns:    []string{"lemma", "pos", "definition", "frame_id"},
		softDelete: true,
	},
	models.EntityLexicalUnitRelation: {
		table:   "lexical_unit_relation",
		columns: []string{"source_id", "target_id", "relation_type"},
	},
	models.EntityFrame: {
		table:      "frame",
		columns:    []string{"name", "definition"},
		softDelete: true,
	},
	models.EntityFrameRole: {
		table:   "frame_role",
		columns: []string{"frame_id", "role_type_id", "description", "rank"},
	},
	models.EntityRecipe: {
		table:      "recipe",
		columns:    []string{"name", "frame_id", "instructions"},
		softDelete: true,
	},
	models.EntityFrameRelation: {
		table:   "frame_relation",
		columns: []string{"parent_frame_id", "child_frame_id", "relation_type"},
	},
}

// sqlStore implements EntityStore for one tableSpec against a Querier.
type sqlStore struct {
	q    db.Querier
	spec tableSpec
}

// NewEntityStore returns the store for one entity type, bound to q.
func NewEntityStore(q db.Querier, t models.EntityType) (EntityStore, error) {
	spec, ok := tableSpecs[t]
	if !ok {
		return nil, errs.Validationf("unknown entity type %q", t)
	}
	return &sqlStore{q: q, spec: spec}, nil
}

func (s *sqlStore) SoftDeletes() bool {
	return s.spec.softDelete
}

func (s *sqlStore) liveFilter() string {
	if s.spec.softDelete {
		return " AND NOT deleted"
	}
	return ""
}

func (s *sqlStore) hasColumn(name string) bool {
	for _, c := range s.spec.columns {
		if c == name {
			return true
		}
	}
	return false
}

// sortedFields validates fields against the table's columns and returns the
// keys in deterministic order for SQL building.
func (s *sqlStore) sortedFields(fields map[string]any) ([]string, error) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if !s.hasColumn(k) {
			return nil, errs.Validationf("unknown field %q for table %s", k, s.spec.table)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *sqlStore) scanRow(row pgx.Row) (*models.Entity, error) {
	e := &models.Entity{Fields: make(map[string]any, len(s.spec.columns))}
	values := make([]any, len(s.spec.columns))
	dest := make([]any, 0, len(s.spec.columns)+2)
	dest = append(dest, &e.ID, &e.Version)
	for i := range values {
		dest = append(dest, &values[i])
	}

	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.NotFound(s.spec.table, "?")
		}
		return nil, fmt.Errorf("failed to scan %s row: %w", s.spec.table, err)
	}

	for i, col := range s.spec.columns {
		e.Fields[col] = values[i]
	}
	return e, nil
}

func (s *sqlStore) selectList() string {
	return "id, version, " + strings.Join(s.spec.columns, ", ")
}

func (s *sqlStore) Get(ctx context.Context, id int64) (*models.Entity, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM %s WHERE id = $1%s",
		s.selectList(), s.spec.table, s.liveFilter(),
	)

	e, err := s.scanRow(s.q.QueryRow(ctx, query, id))
	if err != nil {
		if errs.IsNotFound(err) {
			return nil, errs.NotFound(s.spec.table, id)
		}
		return nil, err
	}
	return e, nil
}

func (s *sqlStore) Create(ctx context.Context, fields map[string]any) (*models.Entity, error) {
	keys, err := s.sortedFields(fields)
	if err != nil {
		return nil, err
	}

	cols := make([]string, 0, len(keys)+1)
	placeholders := make([]string, 0, len(keys)+1)
	args := make([]any, 0, len(keys))
	for i, k := range keys {
		cols = append(cols, k)
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+1))
		args = append(args, fields[k])
	}
	cols = append(cols, "version")
	placeholders = append(placeholders, "1")

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) RETURNING id",
		s.spec.table, strings.Join(cols, ", "), strings.Join(placeholders, ", "),
	)

	var id int64
	if err := s.q.QueryRow(ctx, query, args...).Scan(&id); err != nil {
		return nil, fmt.Errorf("failed to insert into %s: %w", s.spec.table, err)
	}

	created := &models.Entity{ID: id, Version: 1, Fields: make(map[string]any, len(fields))}
	for k, v := range fields {
		created.Fields[k] = v
	}
	return created, nil
}

func (s *sqlStore) ConditionalUpdate(ctx context.Context, id, expectedVersion int64, fields map[string]any) (int64, error) {
	keys, err := s.sortedFields(fields)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, errs.Validationf("no fields to update on %s", s.spec.table)
	}

	sets := make([]string, 0, len(keys)+1)
	args := make([]any, 0, len(keys)+2)
	for i, k := range keys {
		sets = append(sets, fmt.Sprintf("%s = $%d", k, i+1))
		args = append(args, fields[k])
	}
	sets = append(sets, "version = version + 1")
	args = append(args, id, expectedVersion)

	query := fmt.Sprintf(
		"UPDATE %s SET %s WHERE id = $%d AND version = $%d%s",
		s.spec.table, strings.Join(sets, ", "), len(keys)+1, len(keys)+2, s.liveFilter(),
	)

	tag, err := s.q.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to update %s: %w", s.spec.table, err)
	}
	return tag.RowsAffected(), nil
}

func (s *sqlStore) Touch(ctx context.Context, id, expectedVersion int64) (int64, error) {
	query := fmt.Sprintf(
		"UPDATE %s SET version = version + 1 WHERE id = $1 AND version = $2%s",
		s.spec.table, s.liveFilter(),
	)

	tag, err := s.q.Exec(ctx, query, id, expectedVersion)
	if err != nil {
		return 0, fmt.Errorf("failed to touch %s: %w", s.spec.table, err)
	}
	return tag.RowsAffected(), nil
}

func (s *sqlStore) Delete(ctx context.Context, id, expectedVersion int64, reason string) (int64, error) {
	var query string
	var args []any

	if s.spec.softDelete {
		query = fmt.Sprintf(
			"UPDATE %s SET deleted = TRUE, delete_reason = $1, deleted_at = NOW(), version = version + 1 WHERE id = $2 AND version = $3 AND NOT deleted",
			s.spec.table,
		)
		args = []any{reason, id, expectedVersion}
	} else {
		query = fmt.Sprintf(
			"DELETE FROM %s WHERE id = $1 AND version = $2",
			s.spec.table,
		)
		args = []any{id, expectedVersion}
	}

	tag, err := s.q.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete from %s: %w", s.spec.table, err)
	}
	return tag.RowsAffected(), nil
}

func (s *sqlStore) FindBy(ctx context.Context, conds map[string]any) ([]*models.Entity, error) {
	keys, err := s.sortedFields(conds)
	if err != nil {
		return nil, err
	}

	where := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))
	for i, k := range keys {
		where = append(where, fmt.Sprintf("%s = $%d", k, i+1))
		args = append(args, conds[k])
	}

	query := fmt.Sprintf(
		"SELECT %s FROM %s WHERE %s%s ORDER BY id",
		s.selectList(), s.spec.table, strings.Join(where, " AND "), s.liveFilter(),
	)

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", s.spec.table, err)
	}
	defer rows.Close()

	var out []*models.Entity
	for rows.Next() {
		e, err := s.scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s rows: %w", s.spec.table, err)
	}
	return out, nil
}

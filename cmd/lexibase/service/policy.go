package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/lexibase/lexibase/common/errs"
	"github.com/lexibase/lexibase/common/logger"
	"github.com/lexibase/lexibase/common/models"
)

// PolicyService evaluates review policies written in CEL against pending
// field changes and approves the ones that match. Policies see three
// variables: `field` (name, old, new), `changeset` (entity_type, operation,
// created_by, job_id), and `actor` (the reviewer applying the policy).
//
// A typical policy: field.name == "definition" && changeset.created_by != actor.
type PolicyService struct {
	uow         UnitOfWork
	defaultExpr string
	cache       map[string]cel.Program
	mu          sync.RWMutex
	log         *logger.Logger
}

// NewPolicyService creates a new policy service with expression caching.
// defaultExpr is used when a policy run names no expression of its own.
func NewPolicyService(uow UnitOfWork, defaultExpr string, log *logger.Logger) *PolicyService {
	return &PolicyService{
		uow:         uow,
		defaultExpr: defaultExpr,
		cache:       make(map[string]cel.Program),
		log:         log,
	}
}

// PolicyResult reports how many field changes a policy run approved.
type PolicyResult struct {
	Evaluated int `json:"evaluated"`
	Approved  int `json:"approved"`
}

// ApplyPolicy evaluates expr against every pending field change of the given
// changesets and approves the matches on behalf of reviewer. Each changeset
// is processed in its own transaction.
func (s *PolicyService) ApplyPolicy(ctx context.Context, changesetIDs []int64, expr, reviewer string) (*PolicyResult, error) {
	if expr == "" {
		expr = s.defaultExpr
	}
	prg, err := s.program(expr)
	if err != nil {
		return nil, err
	}

	result := &PolicyResult{}
	for _, id := range changesetIDs {
		if err := s.uow.Run(ctx, func(st Stores) error {
			cs, err := st.Changesets.GetByID(ctx, id)
			if err != nil {
				return err
			}
			if cs.Status != models.ChangesetPending {
				return errs.Validationf("changeset %d is %s, not pending", id, cs.Status)
			}

			fieldChanges, err := st.FieldChanges.ListByChangeset(ctx, id)
			if err != nil {
				return err
			}

			now := time.Now().UTC()
			for _, fc := range fieldChanges {
				if fc.Status != models.FieldPending {
					continue
				}
				result.Evaluated++

				match, err := s.evaluate(prg, cs, fc, reviewer)
				if err != nil {
					return fmt.Errorf("policy evaluation on field %s: %w", fc.FieldName, err)
				}
				if !match {
					continue
				}
				if err := st.FieldChanges.SetStatus(ctx, fc.ID, models.FieldApproved, reviewer, now); err != nil {
					return err
				}
				result.Approved++
			}
			return nil
		}); err != nil {
			return nil, err
		}
	}

	s.log.Info("policy applied",
		"reviewer", reviewer,
		"changesets", len(changesetIDs),
		"evaluated", result.Evaluated,
		"approved", result.Approved)
	return result, nil
}

func (s *PolicyService) evaluate(prg cel.Program, cs *models.Changeset, fc *models.FieldChange, actor string) (bool, error) {
	changeset := map[string]any{
		"entity_type": string(cs.EntityType),
		"operation":   string(cs.Operation),
		"created_by":  cs.CreatedBy,
	}
	if cs.JobID != nil {
		changeset["job_id"] = cs.JobID.String()
	}

	field := map[string]any{
		"name": fc.FieldName,
		"old":  rawToAny(fc.OldValue),
		"new":  rawToAny(fc.NewValue),
	}

	out, _, err := prg.Eval(map[string]any{
		"field":     field,
		"changeset": changeset,
		"actor":     actor,
	})
	if err != nil {
		return false, fmt.Errorf("CEL evaluation error: %w", err)
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("policy expression did not return boolean, got %T", out.Value())
	}
	return result, nil
}

func rawToAny(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}

// program returns the compiled program for expr, compiling and caching on
// first use.
func (s *PolicyService) program(expr string) (cel.Program, error) {
	if expr == "" {
		return nil, errs.Validationf("empty policy expression")
	}

	s.mu.RLock()
	prg, exists := s.cache[expr]
	s.mu.RUnlock()
	if exists {
		return prg, nil
	}

	env, err := cel.NewEnv(
		cel.Variable("field", cel.DynType),
		cel.Variable("changeset", cel.DynType),
		cel.Variable("actor", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, errs.Validationf("invalid policy expression: %v", issues.Err())
	}

	prg, err = env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	s.mu.Lock()
	s.cache[expr] = prg
	s.mu.Unlock()
	return prg, nil
}

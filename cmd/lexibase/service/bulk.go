package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/lexibase/lexibase/common/errs"
	"github.com/lexibase/lexibase/common/logger"
	"github.com/lexibase/lexibase/common/models"
)

// BulkService commits, rejects, and discards batches of changesets. Batches
// are ordered creates before updates before deletes so that virtual
// references resolve, and each changeset commits in its own transaction: a
// failure never poisons its neighbors.
type BulkService struct {
	uow    UnitOfWork
	commit *CommitService
	limit  int
	log    *logger.Logger
}

// NewBulkService creates a new bulk service
func NewBulkService(uow UnitOfWork, commit *CommitService, limit int, log *logger.Logger) *BulkService {
	return &BulkService{uow: uow, commit: commit, limit: limit, log: log}
}

// BulkResult reports a batch outcome. A conflict stops the batch (later
// changesets may depend on the conflicted one); ordinary failures are
// recorded and the batch continues.
type BulkResult struct {
	Total     int      `json:"total"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Skipped   int      `json:"skipped"`
	StoppedAt *int64   `json:"stopped_at,omitempty"`
	Errors    []string `json:"errors,omitempty"`
}

// ApproveAndCommit approves all pending field changes on the given changesets
// and then commits them in dependency order.
func (s *BulkService) ApproveAndCommit(ctx context.Context, changesetIDs []int64, reviewer string) (*BulkResult, error) {
	if len(changesetIDs) == 0 {
		return nil, errs.Validationf("no changesets given")
	}
	if s.limit > 0 && len(changesetIDs) > s.limit {
		return nil, errs.Validationf("batch of %d exceeds the limit of %d changesets", len(changesetIDs), s.limit)
	}

	ordered, err := s.loadOrdered(ctx, changesetIDs)
	if err != nil {
		return nil, err
	}

	if _, err := s.uow.View().FieldChanges.ApprovePending(ctx, changesetIDs, reviewer, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("failed to approve field changes: %w", err)
	}

	return s.commitAll(ctx, ordered, reviewer), nil
}

// CommitByJob commits every pending changeset created by one ingestion job.
func (s *BulkService) CommitByJob(ctx context.Context, jobID uuid.UUID, committedBy string) (*BulkResult, error) {
	pending, err := s.uow.View().Changesets.ListPendingByJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return s.commitAll(ctx, pending, committedBy), nil
}

// CommitByUser commits every pending changeset a user staged outside of jobs.
func (s *BulkService) CommitByUser(ctx context.Context, createdBy, committedBy string) (*BulkResult, error) {
	pending, err := s.uow.View().Changesets.ListPendingByUser(ctx, createdBy)
	if err != nil {
		return nil, err
	}
	return s.commitAll(ctx, pending, committedBy), nil
}

// Reject rejects the given changesets. Updates have their pending field
// changes rejected and are discarded once nothing non-rejected remains;
// creates and deletes are discarded outright.
func (s *BulkService) Reject(ctx context.Context, changesetIDs []int64, reviewer string) (*BulkResult, error) {
	result := &BulkResult{Total: len(changesetIDs)}

	for _, id := range changesetIDs {
		err := s.uow.Run(ctx, func(st Stores) error {
			cs, err := st.Changesets.GetByID(ctx, id)
			if err != nil {
				return err
			}
			if cs.Status != models.ChangesetPending {
				return errs.Validationf("changeset %d is %s, not pending", id, cs.Status)
			}

			if cs.Operation != models.OpUpdate {
				return st.Changesets.Discard(ctx, id, reviewer)
			}

			if _, err := st.FieldChanges.RejectPending(ctx, id, reviewer, time.Now().UTC()); err != nil {
				return err
			}
			remaining, err := st.FieldChanges.CountNonRejected(ctx, id)
			if err != nil {
				return err
			}
			if remaining == 0 {
				return st.Changesets.Discard(ctx, id, reviewer)
			}
			return nil
		})
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("changeset %d: %v", id, err))
			continue
		}
		result.Succeeded++
	}

	s.log.Info("bulk reject finished",
		"reviewer", reviewer,
		"total", result.Total,
		"rejected", result.Succeeded,
		"failed", result.Failed)
	return result, nil
}

// Discard discards the given pending changesets without review verdicts.
func (s *BulkService) Discard(ctx context.Context, changesetIDs []int64, actor string) (*BulkResult, error) {
	result := &BulkResult{Total: len(changesetIDs)}

	view := s.uow.View()
	for _, id := range changesetIDs {
		if err := view.Changesets.Discard(ctx, id, actor); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("changeset %d: %v", id, err))
			continue
		}
		result.Succeeded++
	}
	return result, nil
}

// loadOrdered resolves changeset IDs and sorts them for commit: creates
// first, then updates, then deletes, ties broken by ID so creations land in
// staging order and virtual references resolve.
func (s *BulkService) loadOrdered(ctx context.Context, ids []int64) ([]*models.Changeset, error) {
	view := s.uow.View()
	out := make([]*models.Changeset, 0, len(ids))
	for _, id := range ids {
		cs, err := view.Changesets.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, cs)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if a, b := out[i].Operation.CommitOrder(), out[j].Operation.CommitOrder(); a != b {
			return a < b
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *BulkService) commitAll(ctx context.Context, changesets []*models.Changeset, committedBy string) *BulkResult {
	result := &BulkResult{Total: len(changesets)}

	for i, cs := range changesets {
		_, err := s.commit.CommitChangeset(ctx, cs.ID, committedBy)
		if err == nil {
			result.Succeeded++
			continue
		}

		result.Failed++
		result.Errors = append(result.Errors, fmt.Sprintf("changeset %d: %v", cs.ID, err))
		if errs.IsConflict(err) {
			// Later changesets may reference this one; stop rather than
			// cascade spurious failures.
			id := cs.ID
			result.StoppedAt = &id
			result.Skipped = len(changesets) - i - 1
			break
		}
	}

	s.log.Info("bulk commit finished",
		"committed_by", committedBy,
		"total", result.Total,
		"succeeded", result.Succeeded,
		"failed", result.Failed,
		"skipped", result.Skipped)
	return result
}

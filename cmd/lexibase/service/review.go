package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/lexibase/lexibase/common/errs"
	"github.com/lexibase/lexibase/common/logger"
	"github.com/lexibase/lexibase/common/models"
	"github.com/lexibase/lexibase/common/redis"
)

// ReviewService carries reviewer verdicts on individual field changes, the
// comment thread on changesets, and per-user unread-comment tracking. Redis
// is optional: without it comments still work, only unread tracking is off.
type ReviewService struct {
	uow   UnitOfWork
	redis *redis.Client
	log   *logger.Logger
}

// NewReviewService creates a new review service
func NewReviewService(uow UnitOfWork, redisClient *redis.Client, log *logger.Logger) *ReviewService {
	return &ReviewService{uow: uow, redis: redisClient, log: log}
}

func unreadKey(user string) string {
	return "lexibase:unread:" + user
}

// ApproveFieldChange marks one pending field change approved.
func (s *ReviewService) ApproveFieldChange(ctx context.Context, fieldChangeID int64, reviewer string) error {
	return s.setVerdict(ctx, fieldChangeID, models.FieldApproved, reviewer)
}

// RejectFieldChange marks one pending field change rejected. Rejecting the
// last non-rejected change discards the whole changeset: there is nothing
// left to commit. Returns whether the changeset was discarded.
func (s *ReviewService) RejectFieldChange(ctx context.Context, fieldChangeID int64, reviewer string) (bool, error) {
	discarded := false
	err := s.uow.Run(ctx, func(st Stores) error {
		fc, err := s.verdictTarget(ctx, st, fieldChangeID)
		if err != nil {
			return err
		}
		if err := st.FieldChanges.SetStatus(ctx, fc.ID, models.FieldRejected, reviewer, time.Now().UTC()); err != nil {
			return err
		}
		remaining, err := st.FieldChanges.CountNonRejected(ctx, fc.ChangesetID)
		if err != nil {
			return err
		}
		if remaining == 0 {
			if err := st.Changesets.Discard(ctx, fc.ChangesetID, reviewer); err != nil {
				return err
			}
			discarded = true
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	s.log.Info("field change rejected",
		"field_change_id", fieldChangeID,
		"reviewer", reviewer,
		"changeset_discarded", discarded)
	return discarded, nil
}

func (s *ReviewService) setVerdict(ctx context.Context, fieldChangeID int64, status models.FieldChangeStatus, reviewer string) error {
	return s.uow.Run(ctx, func(st Stores) error {
		fc, err := s.verdictTarget(ctx, st, fieldChangeID)
		if err != nil {
			return err
		}
		return st.FieldChanges.SetStatus(ctx, fc.ID, status, reviewer, time.Now().UTC())
	})
}

// verdictTarget loads a field change and checks its changeset still accepts
// verdicts.
func (s *ReviewService) verdictTarget(ctx context.Context, st Stores, fieldChangeID int64) (*models.FieldChange, error) {
	fc, err := st.FieldChanges.GetByID(ctx, fieldChangeID)
	if err != nil {
		return nil, err
	}
	cs, err := st.Changesets.GetByID(ctx, fc.ChangesetID)
	if err != nil {
		return nil, err
	}
	if cs.Status != models.ChangesetPending {
		return nil, errs.Validationf("changeset %d is %s; its field changes can no longer be reviewed", cs.ID, cs.Status)
	}
	return fc, nil
}

// AddComment appends to a changeset's comment thread. When someone other
// than the changeset's author comments, the changeset is flagged unread for
// the author.
func (s *ReviewService) AddComment(ctx context.Context, changesetID int64, fieldChangeID *int64, author, body string) (*models.ChangeComment, error) {
	if body == "" {
		return nil, errs.Validationf("comment body is empty")
	}

	comment := &models.ChangeComment{
		ChangesetID:   changesetID,
		FieldChangeID: fieldChangeID,
		Author:        author,
		Body:          body,
	}

	var createdBy string
	err := s.uow.Run(ctx, func(st Stores) error {
		cs, err := st.Changesets.GetByID(ctx, changesetID)
		if err != nil {
			return err
		}
		createdBy = cs.CreatedBy
		return st.Comments.Create(ctx, comment)
	})
	if err != nil {
		return nil, err
	}

	if s.redis != nil && createdBy != author && createdBy != models.SystemActor {
		if err := s.redis.SetAdd(ctx, unreadKey(createdBy), strconv.FormatInt(changesetID, 10)); err != nil {
			// Unread tracking is advisory; the comment itself is persisted.
			s.log.Warn("failed to flag changeset unread", "changeset_id", changesetID, "user", createdBy, "error", err)
		}
	}

	return comment, nil
}

// UnreadComments holds one changeset's thread for a user's unread feed.
type UnreadComments struct {
	ChangesetID int64                   `json:"changeset_id"`
	Comments    []*models.ChangeComment `json:"comments"`
}

// GetUnreadComments returns the comment threads of every changeset flagged
// unread for the user, then clears the flags.
func (s *ReviewService) GetUnreadComments(ctx context.Context, user string) ([]UnreadComments, error) {
	if s.redis == nil {
		return nil, nil
	}

	members, err := s.redis.SetMembers(ctx, unreadKey(user))
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, nil
	}

	view := s.uow.View()
	out := make([]UnreadComments, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		comments, err := view.Comments.ListByChangeset(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, UnreadComments{ChangesetID: id, Comments: comments})
	}

	if err := s.redis.Delete(ctx, unreadKey(user)); err != nil {
		return nil, fmt.Errorf("failed to clear unread flags: %w", err)
	}
	return out, nil
}

// ListComments returns a changeset's comment thread, oldest first.
func (s *ReviewService) ListComments(ctx context.Context, changesetID int64) ([]*models.ChangeComment, error) {
	return s.uow.View().Comments.ListByChangeset(ctx, changesetID)
}

// ChangesetDetail bundles a changeset with its field changes and comments.
type ChangesetDetail struct {
	Changeset    *models.Changeset       `json:"changeset"`
	FieldChanges []*models.FieldChange   `json:"field_changes"`
	Comments     []*models.ChangeComment `json:"comments"`
}

// GetChangeset returns one changeset with its full review context.
func (s *ReviewService) GetChangeset(ctx context.Context, id int64) (*ChangesetDetail, error) {
	view := s.uow.View()
	cs, err := view.Changesets.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	fieldChanges, err := view.FieldChanges.ListByChangeset(ctx, id)
	if err != nil {
		return nil, err
	}
	comments, err := view.Comments.ListByChangeset(ctx, id)
	if err != nil {
		return nil, err
	}
	return &ChangesetDetail{Changeset: cs, FieldChanges: fieldChanges, Comments: comments}, nil
}

// AuditTrail returns an entity's committed history, newest first.
func (s *ReviewService) AuditTrail(ctx context.Context, entityType models.EntityType, entityID int64, limit int) ([]*models.AuditLogEntry, error) {
	if !entityType.Valid() {
		return nil, errs.Validationf("unknown entity type %q", entityType)
	}
	return s.uow.View().Audit.ListByEntity(ctx, entityType, entityID, limit)
}

// ListChangesets lists changesets by status, newest first.
func (s *ReviewService) ListChangesets(ctx context.Context, status models.ChangesetStatus, limit int) ([]*models.Changeset, error) {
	if !status.Valid() {
		return nil, errs.Validationf("unknown changeset status %q", status)
	}
	return s.uow.View().Changesets.ListByStatus(ctx, status, limit)
}

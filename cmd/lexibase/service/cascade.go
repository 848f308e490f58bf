package service

import (
	"context"
	"fmt"

	"github.com/lexibase/lexibase/common/errs"
	"github.com/lexibase/lexibase/common/logger"
	"github.com/lexibase/lexibase/common/models"
	"github.com/lexibase/lexibase/common/refs"
)

// CascadeService reassigns hierarchy dependents when a node is deleted. Each
// child link gets its own pending update changeset proposing the deleted
// node's former parent (or root status) as the new parent, plus a system
// comment explaining why. Nothing is auto-committed: reviewers decide.
type CascadeService struct {
	log *logger.Logger
}

// NewCascadeService creates a new cascade service
func NewCascadeService(log *logger.Logger) *CascadeService {
	return &CascadeService{log: log}
}

// HandleDelete runs inside the delete's transaction, before the delete
// statement, so it reads the intact relation graph and any failure aborts
// the whole delete.
func (s *CascadeService) HandleDelete(ctx context.Context, st Stores, cs *models.Changeset, entity *models.Entity) error {
	h, ok := hierarchies[cs.EntityType]
	if !ok {
		return nil
	}

	linkStore, err := st.Entities(h.linkType)
	if err != nil {
		return err
	}

	// The deleted node's own parent, if any, is what its children inherit.
	parentLinks, err := linkStore.FindBy(ctx, map[string]any{
		h.childField: entity.ID,
		h.kindField:  h.kind,
	})
	if err != nil {
		return fmt.Errorf("failed to load parent links: %w", err)
	}
	var newParent any
	if len(parentLinks) > 0 {
		newParent = parentLinks[0].Fields[h.parentField]
	}

	childLinks, err := linkStore.FindBy(ctx, map[string]any{
		h.parentField: entity.ID,
		h.kindField:   h.kind,
	})
	if err != nil {
		return fmt.Errorf("failed to load child links: %w", err)
	}

	for _, link := range childLinks {
		result, err := stageUpdateIn(ctx, st, h.linkType, link,
			map[string]any{h.parentField: newParent}, models.SystemActor, cs.JobID)
		if err != nil {
			return fmt.Errorf("failed to stage reassignment for %s/%d: %w", h.linkType, link.ID, err)
		}
		if !result.Staged {
			// FindBy filters on the deleted node as parent, so every link here
			// carries a real diff.
			return errs.Validationf("reassignment of %s/%d staged nothing", h.linkType, link.ID)
		}

		comment := &models.ChangeComment{
			ChangesetID: result.ChangesetID,
			Author:      models.SystemActor,
			Body:        s.explainReassignment(cs.EntityType, entity.ID, newParent),
			System:      true,
		}
		if err := st.Comments.Create(ctx, comment); err != nil {
			return err
		}

		s.log.Info("cascade reassignment staged",
			"deleted_entity_type", cs.EntityType,
			"deleted_entity_id", entity.ID,
			"link_id", link.ID,
			"changeset_id", result.ChangesetID)
	}

	return nil
}

func (s *CascadeService) explainReassignment(deletedType models.EntityType, deletedID int64, newParent any) string {
	ref := refs.Parse(newParent)
	if ref.Kind == refs.Concrete {
		return fmt.Sprintf("parent automatically reassigned from %s %d to %s %d because %s %d is being deleted",
			deletedType, deletedID, deletedType, ref.ID, deletedType, deletedID)
	}
	return fmt.Sprintf("entity becomes a root because its parent %s %d is being deleted and had no parent of its own",
		deletedType, deletedID)
}

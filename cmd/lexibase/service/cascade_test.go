package service

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/lexibase/lexibase/common/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedFrameLink(uow *fakeUOW, parentID, childID int64) *models.Entity {
	return uow.seedEntity(models.EntityFrameRelation, map[string]any{
		"parent_frame_id": parentID,
		"child_frame_id":  childID,
		"relation_type":   "inherits_from",
	})
}

func TestCascade_ReassignsChildrenToGrandparent(t *testing.T) {
	uow, staging, commit := newCommitFixture()

	grandparent := uow.seedEntity(models.EntityFrame, map[string]any{"name": "Event"})
	parent := uow.seedEntity(models.EntityFrame, map[string]any{"name": "Motion"})
	seedFrameLink(uow, grandparent.ID, parent.ID)

	var childLinks []*models.Entity
	for i := 0; i < 3; i++ {
		child := uow.seedEntity(models.EntityFrame, map[string]any{"name": fmt.Sprintf("Motion_%d", i)})
		childLinks = append(childLinks, seedFrameLink(uow, parent.ID, child.ID))
	}

	staged, err := staging.StageDelete(context.Background(), models.EntityFrame, parent.ID, "alice", nil)
	require.NoError(t, err)
	_, err = commit.CommitChangeset(context.Background(), staged.ChangesetID, "carol")
	require.NoError(t, err)

	// One pending reassignment changeset per child link, each with exactly
	// one system comment, none auto-committed.
	for _, link := range childLinks {
		cs, err := uow.View().Changesets.FindPending(context.Background(), models.EntityFrameRelation, link.ID)
		require.NoError(t, err)
		require.NotNil(t, cs, "link %d should have a pending reassignment", link.ID)
		assert.Equal(t, models.OpUpdate, cs.Operation)
		assert.Equal(t, models.SystemActor, cs.CreatedBy)

		changes := uow.fieldChangesOf(cs.ID)
		require.Len(t, changes, 1)
		assert.Equal(t, "parent_frame_id", changes[0].FieldName)
		assert.Equal(t, json.RawMessage(fmt.Sprintf("%d", parent.ID)), changes[0].OldValue)
		assert.Equal(t, json.RawMessage(fmt.Sprintf("%d", grandparent.ID)), changes[0].NewValue)

		comments, err := uow.View().Comments.ListByChangeset(context.Background(), cs.ID)
		require.NoError(t, err)
		require.Len(t, comments, 1)
		assert.True(t, comments[0].System)
		assert.Equal(t, models.SystemActor, comments[0].Author)

		// Canonical link row is unchanged until the reassignment commits.
		live, err := uow.state.entities[models.EntityFrameRelation].Get(context.Background(), link.ID)
		require.NoError(t, err)
		eq, _ := jsonEqualInt(live.Fields["parent_frame_id"], parent.ID)
		assert.True(t, eq)
	}
}

func jsonEqualInt(v any, want int64) (bool, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return false, err
	}
	return string(raw) == fmt.Sprintf("%d", want), nil
}

func TestCascade_RootPromotion(t *testing.T) {
	uow, staging, commit := newCommitFixture()

	// The deleted frame has no parent of its own; children become roots.
	parent := uow.seedEntity(models.EntityFrame, map[string]any{"name": "Motion"})
	child := uow.seedEntity(models.EntityFrame, map[string]any{"name": "Running"})
	link := seedFrameLink(uow, parent.ID, child.ID)

	staged, err := staging.StageDelete(context.Background(), models.EntityFrame, parent.ID, "alice", nil)
	require.NoError(t, err)
	_, err = commit.CommitChangeset(context.Background(), staged.ChangesetID, "carol")
	require.NoError(t, err)

	cs, err := uow.View().Changesets.FindPending(context.Background(), models.EntityFrameRelation, link.ID)
	require.NoError(t, err)
	require.NotNil(t, cs)

	changes := uow.fieldChangesOf(cs.ID)
	require.Len(t, changes, 1)
	assert.Nil(t, changes[0].NewValue, "null parent marks a root")

	comments, err := uow.View().Comments.ListByChangeset(context.Background(), cs.ID)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Contains(t, comments[0].Body, "root")
}

func TestCascade_LexicalUnitHierarchy(t *testing.T) {
	uow, staging, commit := newCommitFixture()

	parent := uow.seedEntity(models.EntityLexicalUnit, map[string]any{"lemma": "move", "pos": "V"})
	child := uow.seedEntity(models.EntityLexicalUnit, map[string]any{"lemma": "run", "pos": "V"})
	link := uow.seedEntity(models.EntityLexicalUnitRelation, map[string]any{
		"source_id":     child.ID,
		"target_id":     parent.ID,
		"relation_type": "subtype_of",
	})

	staged, err := staging.StageDelete(context.Background(), models.EntityLexicalUnit, parent.ID, "alice", nil)
	require.NoError(t, err)
	_, err = commit.CommitChangeset(context.Background(), staged.ChangesetID, "carol")
	require.NoError(t, err)

	cs, err := uow.View().Changesets.FindPending(context.Background(), models.EntityLexicalUnitRelation, link.ID)
	require.NoError(t, err)
	require.NotNil(t, cs)
	changes := uow.fieldChangesOf(cs.ID)
	require.Len(t, changes, 1)
	assert.Equal(t, "target_id", changes[0].FieldName)
}

func TestCascade_NonHierarchyRelationUntouched(t *testing.T) {
	uow, staging, commit := newCommitFixture()

	parent := uow.seedEntity(models.EntityFrame, map[string]any{"name": "Motion"})
	other := uow.seedEntity(models.EntityFrame, map[string]any{"name": "Rest"})
	// A non-taxonomic relation kind does not trigger reparenting.
	link := uow.seedEntity(models.EntityFrameRelation, map[string]any{
		"parent_frame_id": parent.ID,
		"child_frame_id":  other.ID,
		"relation_type":   "causes",
	})

	staged, err := staging.StageDelete(context.Background(), models.EntityFrame, parent.ID, "alice", nil)
	require.NoError(t, err)
	_, err = commit.CommitChangeset(context.Background(), staged.ChangesetID, "carol")
	require.NoError(t, err)

	cs, err := uow.View().Changesets.FindPending(context.Background(), models.EntityFrameRelation, link.ID)
	require.NoError(t, err)
	assert.Nil(t, cs)
}

package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/lexibase/lexibase/common/errs"
	"github.com/lexibase/lexibase/common/logger"
	"github.com/lexibase/lexibase/common/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logger.Logger {
	return logger.New("error", "json")
}

func TestStageUpdate_NoOpCreatesNothing(t *testing.T) {
	uow := newFakeUOW()
	svc := NewStagingService(uow, testLogger())
	frame := uow.seedEntity(models.EntityFrame, map[string]any{"name": "Motion", "definition": "movement"})

	result, err := svc.StageUpdate(context.Background(), models.EntityFrame, frame.ID,
		map[string]any{"name": "Motion"}, "alice", nil)
	require.NoError(t, err)

	assert.False(t, result.Staged)
	assert.Equal(t, "no changes detected", result.Message)
	assert.Empty(t, uow.state.changesets)
}

func TestStageUpdate_EmptyStringEqualsNull(t *testing.T) {
	uow := newFakeUOW()
	svc := NewStagingService(uow, testLogger())
	frame := uow.seedEntity(models.EntityFrame, map[string]any{"name": "Motion", "definition": nil})

	result, err := svc.StageUpdate(context.Background(), models.EntityFrame, frame.ID,
		map[string]any{"definition": ""}, "alice", nil)
	require.NoError(t, err)

	assert.False(t, result.Staged, "clearing an already-null field is a no-op")
	assert.Empty(t, uow.state.changesets)
}

func TestStageUpdate_CreatesChangesetWithFieldChanges(t *testing.T) {
	uow := newFakeUOW()
	svc := NewStagingService(uow, testLogger())
	frame := uow.seedEntity(models.EntityFrame, map[string]any{"name": "Motion", "definition": "movement"})

	result, err := svc.StageUpdate(context.Background(), models.EntityFrame, frame.ID,
		map[string]any{"name": "Motion_v2", "definition": "directed movement"}, "alice", nil)
	require.NoError(t, err)

	assert.True(t, result.Staged)
	assert.Equal(t, 2, result.FieldChangeCount)

	cs := uow.changeset(result.ChangesetID)
	require.NotNil(t, cs)
	assert.Equal(t, models.OpUpdate, cs.Operation)
	assert.Equal(t, models.ChangesetPending, cs.Status)
	require.NotNil(t, cs.EntityVersion)
	assert.Equal(t, frame.Version, *cs.EntityVersion)
	assert.Equal(t, "alice", cs.CreatedBy)

	changes := uow.fieldChangesOf(cs.ID)
	require.Len(t, changes, 2)
	assert.Equal(t, "definition", changes[0].FieldName)
	assert.Equal(t, json.RawMessage(`"movement"`), changes[0].OldValue)
	assert.Equal(t, json.RawMessage(`"directed movement"`), changes[0].NewValue)

	// The canonical table is untouched until commit.
	live, err := uow.state.entities[models.EntityFrame].Get(context.Background(), frame.ID)
	require.NoError(t, err)
	assert.Equal(t, "Motion", live.Fields["name"])
}

func TestStageUpdate_RoutesToExistingPending(t *testing.T) {
	uow := newFakeUOW()
	svc := NewStagingService(uow, testLogger())
	frame := uow.seedEntity(models.EntityFrame, map[string]any{"name": "Motion", "definition": "movement"})

	first, err := svc.StageUpdate(context.Background(), models.EntityFrame, frame.ID,
		map[string]any{"name": "Motion_v2"}, "alice", nil)
	require.NoError(t, err)

	second, err := svc.StageUpdate(context.Background(), models.EntityFrame, frame.ID,
		map[string]any{"definition": "directed movement"}, "bob", nil)
	require.NoError(t, err)

	assert.Equal(t, first.ChangesetID, second.ChangesetID, "one pending changeset per entity")
	assert.Equal(t, 2, second.FieldChangeCount)
	assert.Len(t, uow.state.changesets, 1)
}

func TestStageUpdate_RevertAutoDiscards(t *testing.T) {
	uow := newFakeUOW()
	svc := NewStagingService(uow, testLogger())
	frame := uow.seedEntity(models.EntityFrame, map[string]any{"name": "Motion", "definition": "movement"})

	staged, err := svc.StageUpdate(context.Background(), models.EntityFrame, frame.ID,
		map[string]any{"name": "Motion_v2"}, "alice", nil)
	require.NoError(t, err)

	// Editing the value back to the original deletes the diff and, as the
	// last one, discards the changeset.
	reverted, err := svc.StageUpdate(context.Background(), models.EntityFrame, frame.ID,
		map[string]any{"name": "Motion"}, "alice", nil)
	require.NoError(t, err)

	assert.False(t, reverted.Staged)
	assert.Equal(t, staged.ChangesetID, reverted.ChangesetID)
	assert.Equal(t, models.ChangesetDiscarded, uow.changeset(staged.ChangesetID).Status)
	assert.Empty(t, uow.fieldChangesOf(staged.ChangesetID))
}

func TestStageUpdate_PartialRevertKeepsChangeset(t *testing.T) {
	uow := newFakeUOW()
	svc := NewStagingService(uow, testLogger())
	frame := uow.seedEntity(models.EntityFrame, map[string]any{"name": "Motion", "definition": "movement"})

	staged, err := svc.StageUpdate(context.Background(), models.EntityFrame, frame.ID,
		map[string]any{"name": "Motion_v2", "definition": "directed movement"}, "alice", nil)
	require.NoError(t, err)

	_, err = svc.StageUpdate(context.Background(), models.EntityFrame, frame.ID,
		map[string]any{"name": "Motion"}, "alice", nil)
	require.NoError(t, err)

	assert.Equal(t, models.ChangesetPending, uow.changeset(staged.ChangesetID).Status)
	changes := uow.fieldChangesOf(staged.ChangesetID)
	require.Len(t, changes, 1)
	assert.Equal(t, "definition", changes[0].FieldName)
}

func TestStageUpdate_PendingDeleteBlocksEdits(t *testing.T) {
	uow := newFakeUOW()
	svc := NewStagingService(uow, testLogger())
	frame := uow.seedEntity(models.EntityFrame, map[string]any{"name": "Motion", "definition": "movement"})

	_, err := svc.StageDelete(context.Background(), models.EntityFrame, frame.ID, "alice", nil)
	require.NoError(t, err)

	_, err = svc.StageUpdate(context.Background(), models.EntityFrame, frame.ID,
		map[string]any{"name": "Motion_v2"}, "bob", nil)
	assert.True(t, errs.IsValidation(err))
}

func TestStageCreate(t *testing.T) {
	uow := newFakeUOW()
	svc := NewStagingService(uow, testLogger())

	result, err := svc.StageCreate(context.Background(), models.EntityLexicalUnit,
		map[string]any{"lemma": "run", "pos": "V", "definition": "move fast"}, "alice", nil)
	require.NoError(t, err)

	assert.True(t, result.Staged)
	cs := uow.changeset(result.ChangesetID)
	require.NotNil(t, cs)
	assert.Equal(t, models.OpCreate, cs.Operation)
	assert.Nil(t, cs.EntityID, "no canonical row exists yet")
	assert.Equal(t, -cs.ID, cs.VirtualID())
	assert.JSONEq(t, `{"lemma":"run","pos":"V","definition":"move fast"}`, string(cs.AfterSnapshot))
}

func TestStageDelete_Idempotent(t *testing.T) {
	uow := newFakeUOW()
	svc := NewStagingService(uow, testLogger())
	frame := uow.seedEntity(models.EntityFrame, map[string]any{"name": "Motion", "definition": "movement"})

	first, err := svc.StageDelete(context.Background(), models.EntityFrame, frame.ID, "alice", nil)
	require.NoError(t, err)
	assert.True(t, first.Staged)

	second, err := svc.StageDelete(context.Background(), models.EntityFrame, frame.ID, "bob", nil)
	require.NoError(t, err)
	assert.False(t, second.Staged)
	assert.Equal(t, first.ChangesetID, second.ChangesetID)
	assert.Len(t, uow.state.changesets, 1)
}

func TestStageUpdate_CompositeSubField(t *testing.T) {
	uow := newFakeUOW()
	svc := NewStagingService(uow, testLogger())
	frame := uow.seedEntity(models.EntityFrame, map[string]any{"name": "Motion", "definition": "movement"})
	uow.seedFrameRole(frame.ID, "AGENT", "the mover", 1)

	result, err := svc.StageUpdate(context.Background(), models.EntityFrame, frame.ID,
		map[string]any{"frame_roles.AGENT.description": "the self-mover"}, "alice", nil)
	require.NoError(t, err)

	assert.True(t, result.Staged)
	changes := uow.fieldChangesOf(result.ChangesetID)
	require.Len(t, changes, 1)
	assert.Equal(t, "frame_roles.AGENT.description", changes[0].FieldName)
	assert.Equal(t, json.RawMessage(`"the mover"`), changes[0].OldValue)
}

func TestStageUpdate_CompositeExistsNoOp(t *testing.T) {
	uow := newFakeUOW()
	svc := NewStagingService(uow, testLogger())
	frame := uow.seedEntity(models.EntityFrame, map[string]any{"name": "Motion", "definition": "movement"})
	uow.seedFrameRole(frame.ID, "AGENT", "the mover", 1)

	// AGENT already exists; staging its addition changes nothing.
	result, err := svc.StageUpdate(context.Background(), models.EntityFrame, frame.ID,
		map[string]any{"frame_roles.AGENT.__exists": true}, "alice", nil)
	require.NoError(t, err)
	assert.False(t, result.Staged)
}

func TestStagePatch(t *testing.T) {
	uow := newFakeUOW()
	svc := NewStagingService(uow, testLogger())
	frame := uow.seedEntity(models.EntityFrame, map[string]any{"name": "Motion", "definition": "movement"})

	patch := json.RawMessage(`[{"op":"replace","path":"/definition","value":"directed movement"}]`)
	result, err := svc.StagePatch(context.Background(), models.EntityFrame, frame.ID, patch, "alice", nil)
	require.NoError(t, err)

	assert.True(t, result.Staged)
	changes := uow.fieldChangesOf(result.ChangesetID)
	require.Len(t, changes, 1)
	assert.Equal(t, "definition", changes[0].FieldName)
	assert.Equal(t, json.RawMessage(`"directed movement"`), changes[0].NewValue)
}

func TestStagePatch_NoOpAndInvalid(t *testing.T) {
	uow := newFakeUOW()
	svc := NewStagingService(uow, testLogger())
	frame := uow.seedEntity(models.EntityFrame, map[string]any{"name": "Motion", "definition": "movement"})

	noop := json.RawMessage(`[{"op":"replace","path":"/definition","value":"movement"}]`)
	result, err := svc.StagePatch(context.Background(), models.EntityFrame, frame.ID, noop, "alice", nil)
	require.NoError(t, err)
	assert.False(t, result.Staged)

	_, err = svc.StagePatch(context.Background(), models.EntityFrame, frame.ID,
		json.RawMessage(`[{"op":"replace","path":"/id","value":99}]`), "alice", nil)
	assert.True(t, errs.IsValidation(err), "identity fields cannot be patched")

	_, err = svc.StagePatch(context.Background(), models.EntityFrame, frame.ID,
		json.RawMessage(`{"not":"a patch"}`), "alice", nil)
	assert.True(t, errs.IsValidation(err))
}

func TestUpsertFieldChange_NeverStoresNoOp(t *testing.T) {
	uow := newFakeUOW()
	svc := NewStagingService(uow, testLogger())
	frame := uow.seedEntity(models.EntityFrame, map[string]any{"name": "Motion", "definition": "movement"})

	staged, err := svc.StageUpdate(context.Background(), models.EntityFrame, frame.ID,
		map[string]any{"name": "Motion_v2"}, "alice", nil)
	require.NoError(t, err)

	res, err := svc.UpsertFieldChange(context.Background(), staged.ChangesetID,
		"definition", "movement", "movement", "alice")
	require.NoError(t, err)
	assert.Equal(t, models.UpsertSkipped, res.Action)
	assert.Len(t, uow.fieldChangesOf(staged.ChangesetID), 1)
}

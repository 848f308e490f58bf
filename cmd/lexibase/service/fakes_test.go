package service

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/lexibase/lexibase/common/errs"
	"github.com/lexibase/lexibase/common/models"
	"github.com/lexibase/lexibase/common/normalize"
)

// In-memory implementations of the persistence contracts. The fake unit of
// work hands out the same state to every call; transactional rollback is not
// emulated, so tests assert on what the engine wrote before it failed.

type fakeState struct {
	changesets   map[int64]*models.Changeset
	nextCS       int64
	fieldChanges map[int64]*models.FieldChange
	nextFC       int64
	audit        []*models.AuditLogEntry
	comments     []*models.ChangeComment
	roleTypes    map[string]*models.RoleType
	frameRoles   map[int64][]models.FrameRoleRow
	entities     map[models.EntityType]*fakeEntityTable
}

func newFakeState() *fakeState {
	st := &fakeState{
		changesets:   make(map[int64]*models.Changeset),
		fieldChanges: make(map[int64]*models.FieldChange),
		roleTypes: map[string]*models.RoleType{
			"AGENT":      {ID: 1, Code: "AGENT", Label: "Agent"},
			"THEME":      {ID: 2, Code: "THEME", Label: "Theme"},
			"INSTRUMENT": {ID: 3, Code: "INSTRUMENT", Label: "Instrument"},
		},
		frameRoles: make(map[int64][]models.FrameRoleRow),
		entities:   make(map[models.EntityType]*fakeEntityTable),
	}
	soft := map[models.EntityType]bool{
		models.EntityLexicalUnit: true,
		models.EntityFrame:       true,
		models.EntityRecipe:      true,
	}
	for _, t := range []models.EntityType{
		models.EntityLexicalUnit, models.EntityLexicalUnitRelation,
		models.EntityFrame, models.EntityFrameRole,
		models.EntityRecipe, models.EntityFrameRelation,
	} {
		st.entities[t] = &fakeEntityTable{
			rows: make(map[int64]*models.Entity),
			soft: soft[t],
		}
	}
	return st
}

func (s *fakeState) stores() Stores {
	return Stores{
		Changesets:   &fakeChangesets{s},
		FieldChanges: &fakeFieldChanges{s},
		Audit:        &fakeAudit{s},
		Comments:     &fakeComments{s},
		RoleTypes:    &fakeRoleTypes{s},
		FrameRoles:   &fakeFrameRoles{s},
		Entities: func(t models.EntityType) (EntityStore, error) {
			table, ok := s.entities[t]
			if !ok {
				return nil, errs.Validationf("unknown entity type %q", t)
			}
			return table, nil
		},
	}
}

type fakeUOW struct {
	state *fakeState
}

func newFakeUOW() *fakeUOW {
	return &fakeUOW{state: newFakeState()}
}

func (u *fakeUOW) Run(_ context.Context, fn func(Stores) error) error {
	return fn(u.state.stores())
}

func (u *fakeUOW) View() Stores {
	return u.state.stores()
}

// seedEntity inserts a canonical row directly, bypassing the staging flow.
func (u *fakeUOW) seedEntity(t models.EntityType, fields map[string]any) *models.Entity {
	e, err := u.state.entities[t].Create(context.Background(), fields)
	if err != nil {
		panic(err)
	}
	return e
}

// seedFrameRole attaches a role child row to a frame directly.
func (u *fakeUOW) seedFrameRole(frameID int64, code, desc string, rank int) {
	rt := u.state.roleTypes[code]
	u.state.frameRoles[frameID] = append(u.state.frameRoles[frameID], models.FrameRoleRow{
		RoleTypeID:  rt.ID,
		Description: desc,
		Rank:        rank,
	})
}

func (u *fakeUOW) changeset(id int64) *models.Changeset {
	return u.state.changesets[id]
}

func (u *fakeUOW) fieldChangesOf(changesetID int64) []*models.FieldChange {
	out, _ := (&fakeFieldChanges{u.state}).ListByChangeset(context.Background(), changesetID)
	return out
}

// --- changesets ---

type fakeChangesets struct{ s *fakeState }

func (f *fakeChangesets) Create(_ context.Context, cs *models.Changeset) error {
	if cs.EntityID != nil {
		existing, _ := f.FindPending(context.Background(), cs.EntityType, *cs.EntityID)
		if existing != nil {
			return errs.Validationf("pending changeset already exists for %s/%d", cs.EntityType, *cs.EntityID)
		}
	}
	f.s.nextCS++
	cs.ID = f.s.nextCS
	cs.Status = models.ChangesetPending
	cs.CreatedAt = time.Now().UTC()
	stored := *cs
	f.s.changesets[cs.ID] = &stored
	return nil
}

func (f *fakeChangesets) GetByID(_ context.Context, id int64) (*models.Changeset, error) {
	cs, ok := f.s.changesets[id]
	if !ok {
		return nil, errs.NotFound("changeset", id)
	}
	cp := *cs
	return &cp, nil
}

func (f *fakeChangesets) FindPending(_ context.Context, entityType models.EntityType, entityID int64) (*models.Changeset, error) {
	for _, cs := range f.s.changesets {
		if cs.Status == models.ChangesetPending && cs.EntityType == entityType &&
			cs.EntityID != nil && *cs.EntityID == entityID {
			cp := *cs
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeChangesets) listPending(match func(*models.Changeset) bool) []*models.Changeset {
	var out []*models.Changeset
	for _, cs := range f.s.changesets {
		if cs.Status == models.ChangesetPending && match(cs) {
			cp := *cs
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if a, b := out[i].Operation.CommitOrder(), out[j].Operation.CommitOrder(); a != b {
			return a < b
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (f *fakeChangesets) ListPendingByJob(_ context.Context, jobID uuid.UUID) ([]*models.Changeset, error) {
	return f.listPending(func(cs *models.Changeset) bool {
		return cs.JobID != nil && *cs.JobID == jobID
	}), nil
}

func (f *fakeChangesets) ListPendingByUser(_ context.Context, createdBy string) ([]*models.Changeset, error) {
	return f.listPending(func(cs *models.Changeset) bool {
		return cs.CreatedBy == createdBy && cs.JobID == nil
	}), nil
}

func (f *fakeChangesets) ListByStatus(_ context.Context, status models.ChangesetStatus, limit int) ([]*models.Changeset, error) {
	var out []*models.Changeset
	for _, cs := range f.s.changesets {
		if cs.Status == status {
			cp := *cs
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeChangesets) SetEntityID(_ context.Context, id, entityID int64) error {
	cs, ok := f.s.changesets[id]
	if !ok {
		return errs.NotFound("changeset", id)
	}
	cs.EntityID = &entityID
	return nil
}

func (f *fakeChangesets) UpdateAfterSnapshot(_ context.Context, id int64, snapshot []byte) error {
	cs, ok := f.s.changesets[id]
	if !ok || cs.Status != models.ChangesetPending {
		return errs.NotFound("pending changeset", id)
	}
	cs.AfterSnapshot = json.RawMessage(snapshot)
	return nil
}

func (f *fakeChangesets) MarkCommitted(_ context.Context, id int64, committedBy string, at time.Time) error {
	cs, ok := f.s.changesets[id]
	if !ok || cs.Status != models.ChangesetPending {
		return errs.NotFound("pending changeset", id)
	}
	cs.Status = models.ChangesetCommitted
	cs.ReviewedBy = &committedBy
	cs.ReviewedAt = &at
	cs.CommittedAt = &at
	return nil
}

func (f *fakeChangesets) Discard(_ context.Context, id int64, reviewedBy string) error {
	cs, ok := f.s.changesets[id]
	if !ok || cs.Status != models.ChangesetPending {
		return errs.NotFound("pending changeset", id)
	}
	cs.Status = models.ChangesetDiscarded
	if reviewedBy != "" {
		cs.ReviewedBy = &reviewedBy
	}
	now := time.Now().UTC()
	cs.ReviewedAt = &now
	return nil
}

// --- field changes ---

type fakeFieldChanges struct{ s *fakeState }

func (f *fakeFieldChanges) Create(_ context.Context, fc *models.FieldChange) error {
	for _, other := range f.s.fieldChanges {
		if other.ChangesetID == fc.ChangesetID && other.FieldName == fc.FieldName {
			return errs.Validationf("duplicate field change %s on changeset %d", fc.FieldName, fc.ChangesetID)
		}
	}
	f.s.nextFC++
	fc.ID = f.s.nextFC
	fc.Status = models.FieldPending
	stored := *fc
	f.s.fieldChanges[fc.ID] = &stored
	return nil
}

func (f *fakeFieldChanges) GetByID(_ context.Context, id int64) (*models.FieldChange, error) {
	fc, ok := f.s.fieldChanges[id]
	if !ok {
		return nil, errs.NotFound("field change", id)
	}
	cp := *fc
	return &cp, nil
}

func (f *fakeFieldChanges) Find(_ context.Context, changesetID int64, fieldName string) (*models.FieldChange, error) {
	for _, fc := range f.s.fieldChanges {
		if fc.ChangesetID == changesetID && fc.FieldName == fieldName {
			cp := *fc
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeFieldChanges) ListByChangeset(_ context.Context, changesetID int64) ([]*models.FieldChange, error) {
	var out []*models.FieldChange
	for _, fc := range f.s.fieldChanges {
		if fc.ChangesetID == changesetID {
			cp := *fc
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FieldName < out[j].FieldName })
	return out, nil
}

func (f *fakeFieldChanges) UpdateValues(_ context.Context, id int64, oldValue, newValue json.RawMessage) error {
	fc, ok := f.s.fieldChanges[id]
	if !ok {
		return errs.NotFound("field change", id)
	}
	fc.OldValue = oldValue
	fc.NewValue = newValue
	fc.Status = models.FieldPending
	fc.ApprovedBy, fc.ApprovedAt = nil, nil
	fc.RejectedBy, fc.RejectedAt = nil, nil
	return nil
}

func (f *fakeFieldChanges) Delete(_ context.Context, id int64) error {
	if _, ok := f.s.fieldChanges[id]; !ok {
		return errs.NotFound("field change", id)
	}
	delete(f.s.fieldChanges, id)
	return nil
}

func (f *fakeFieldChanges) Count(_ context.Context, changesetID int64) (int, error) {
	n := 0
	for _, fc := range f.s.fieldChanges {
		if fc.ChangesetID == changesetID {
			n++
		}
	}
	return n, nil
}

func (f *fakeFieldChanges) CountNonRejected(_ context.Context, changesetID int64) (int, error) {
	n := 0
	for _, fc := range f.s.fieldChanges {
		if fc.ChangesetID == changesetID && fc.Status != models.FieldRejected {
			n++
		}
	}
	return n, nil
}

func (f *fakeFieldChanges) SetStatus(_ context.Context, id int64, status models.FieldChangeStatus, by string, at time.Time) error {
	fc, ok := f.s.fieldChanges[id]
	if !ok {
		return errs.NotFound("field change", id)
	}
	fc.Status = status
	switch status {
	case models.FieldApproved:
		fc.ApprovedBy, fc.ApprovedAt = &by, &at
		fc.RejectedBy, fc.RejectedAt = nil, nil
	case models.FieldRejected:
		fc.RejectedBy, fc.RejectedAt = &by, &at
		fc.ApprovedBy, fc.ApprovedAt = nil, nil
	default:
		fc.ApprovedBy, fc.ApprovedAt = nil, nil
		fc.RejectedBy, fc.RejectedAt = nil, nil
	}
	return nil
}

func (f *fakeFieldChanges) ApprovePending(_ context.Context, changesetIDs []int64, by string, at time.Time) (int64, error) {
	ids := make(map[int64]struct{}, len(changesetIDs))
	for _, id := range changesetIDs {
		ids[id] = struct{}{}
	}
	var n int64
	for _, fc := range f.s.fieldChanges {
		if _, ok := ids[fc.ChangesetID]; ok && fc.Status == models.FieldPending {
			fc.Status = models.FieldApproved
			fc.ApprovedBy, fc.ApprovedAt = &by, &at
			n++
		}
	}
	return n, nil
}

func (f *fakeFieldChanges) RejectPending(_ context.Context, changesetID int64, by string, at time.Time) (int64, error) {
	var n int64
	for _, fc := range f.s.fieldChanges {
		if fc.ChangesetID == changesetID && fc.Status == models.FieldPending {
			fc.Status = models.FieldRejected
			fc.RejectedBy, fc.RejectedAt = &by, &at
			n++
		}
	}
	return n, nil
}

// --- audit log ---

type fakeAudit struct{ s *fakeState }

func (f *fakeAudit) Create(_ context.Context, entry *models.AuditLogEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	cp := *entry
	f.s.audit = append(f.s.audit, &cp)
	return nil
}

func (f *fakeAudit) ListByEntity(_ context.Context, entityType models.EntityType, entityID int64, limit int) ([]*models.AuditLogEntry, error) {
	var out []*models.AuditLogEntry
	for i := len(f.s.audit) - 1; i >= 0; i-- {
		e := f.s.audit[i]
		if e.EntityType == entityType && e.EntityID == entityID {
			cp := *e
			out = append(out, &cp)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// --- comments ---

type fakeComments struct{ s *fakeState }

func (f *fakeComments) Create(_ context.Context, c *models.ChangeComment) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.CreatedAt = time.Now().UTC()
	cp := *c
	f.s.comments = append(f.s.comments, &cp)
	return nil
}

func (f *fakeComments) ListByChangeset(_ context.Context, changesetID int64) ([]*models.ChangeComment, error) {
	var out []*models.ChangeComment
	for _, c := range f.s.comments {
		if c.ChangesetID == changesetID {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

// --- role types ---

type fakeRoleTypes struct{ s *fakeState }

func (f *fakeRoleTypes) FindByCodes(_ context.Context, codes []string) ([]*models.RoleType, error) {
	var out []*models.RoleType
	for _, code := range codes {
		if rt, ok := f.s.roleTypes[code]; ok {
			cp := *rt
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeRoleTypes) CodesByID(_ context.Context) (map[int64]string, error) {
	out := make(map[int64]string, len(f.s.roleTypes))
	for code, rt := range f.s.roleTypes {
		out[rt.ID] = code
	}
	return out, nil
}

// --- frame roles ---

type fakeFrameRoles struct{ s *fakeState }

func (f *fakeFrameRoles) ListByFrame(_ context.Context, frameID int64) ([]models.FrameRoleItem, error) {
	codes, _ := (&fakeRoleTypes{f.s}).CodesByID(context.Background())
	rows := f.s.frameRoles[frameID]
	items := make([]models.FrameRoleItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, models.FrameRoleItem{
			RoleType:    codes[row.RoleTypeID],
			Description: row.Description,
			Rank:        row.Rank,
		})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].RoleType < items[j].RoleType })
	return items, nil
}

func (f *fakeFrameRoles) ReplaceForFrame(_ context.Context, frameID int64, roles []models.FrameRoleRow) error {
	f.s.frameRoles[frameID] = append([]models.FrameRoleRow(nil), roles...)
	return nil
}

// --- entity tables ---

type fakeEntityTable struct {
	rows   map[int64]*models.Entity
	nextID int64
	soft   bool
	gone   map[int64]bool
}

func (t *fakeEntityTable) SoftDeletes() bool { return t.soft }

func (t *fakeEntityTable) Get(_ context.Context, id int64) (*models.Entity, error) {
	e, ok := t.rows[id]
	if !ok {
		return nil, errs.NotFound("entity", id)
	}
	cp := models.Entity{ID: e.ID, Version: e.Version, Fields: copyFields(e.Fields)}
	return &cp, nil
}

func (t *fakeEntityTable) Create(_ context.Context, fields map[string]any) (*models.Entity, error) {
	t.nextID++
	e := &models.Entity{ID: t.nextID, Version: 1, Fields: copyFields(fields)}
	t.rows[e.ID] = e
	cp := models.Entity{ID: e.ID, Version: e.Version, Fields: copyFields(e.Fields)}
	return &cp, nil
}

func (t *fakeEntityTable) ConditionalUpdate(_ context.Context, id, expectedVersion int64, fields map[string]any) (int64, error) {
	e, ok := t.rows[id]
	if !ok || e.Version != expectedVersion {
		return 0, nil
	}
	for k, v := range fields {
		e.Fields[k] = v
	}
	e.Version++
	return 1, nil
}

func (t *fakeEntityTable) Touch(_ context.Context, id, expectedVersion int64) (int64, error) {
	e, ok := t.rows[id]
	if !ok || e.Version != expectedVersion {
		return 0, nil
	}
	e.Version++
	return 1, nil
}

func (t *fakeEntityTable) Delete(_ context.Context, id, expectedVersion int64, _ string) (int64, error) {
	e, ok := t.rows[id]
	if !ok || e.Version != expectedVersion {
		return 0, nil
	}
	delete(t.rows, id)
	if t.gone == nil {
		t.gone = make(map[int64]bool)
	}
	t.gone[id] = true
	return 1, nil
}

func (t *fakeEntityTable) FindBy(_ context.Context, conds map[string]any) ([]*models.Entity, error) {
	var out []*models.Entity
	for _, e := range t.rows {
		match := true
		for k, want := range conds {
			eq, err := normalize.Equal(e.Fields[k], want)
			if err != nil || !eq {
				match = false
				break
			}
		}
		if match {
			cp := models.Entity{ID: e.ID, Version: e.Version, Fields: copyFields(e.Fields)}
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func copyFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

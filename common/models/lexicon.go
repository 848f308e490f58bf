package models

// RoleType is a lookup row for frame role kinds, resolved by human-readable
// code (e.g. "AGENT") when inline role lists are staged.
type RoleType struct {
	ID    int64  `db:"id" json:"id"`
	Code  string `db:"code" json:"code"`
	Label string `db:"label" json:"label"`
}

// FrameRoleItem is one element of a frame's composite role collection as it
// appears inside snapshots and composite field values. The collection is
// keyed by RoleType code, not by database row id: granular sub-field paths
// like frame_roles.AGENT.description reference the logical key only.
type FrameRoleItem struct {
	RoleType    string `json:"role_type"`
	Description string `json:"description,omitempty"`
	Rank        int    `json:"rank,omitempty"`
}

// FrameRoleRow is a frame role with its role type resolved to a concrete id,
// ready for insertion.
type FrameRoleRow struct {
	RoleTypeID  int64
	Description string
	Rank        int
}

// Entity is a canonical row in generic form: the commit engine reads and
// writes entities as column/value maps so one code path serves every table.
type Entity struct {
	ID      int64          `json:"id"`
	Version int64          `json:"version"`
	Fields  map[string]any `json:"fields"`
}

// Snapshot returns the entity as a flat map including id and version, the
// shape stored in changeset before/after snapshots.
func (e *Entity) Snapshot() map[string]any {
	snap := make(map[string]any, len(e.Fields)+2)
	for k, v := range e.Fields {
		snap[k] = v
	}
	snap["id"] = e.ID
	snap["version"] = e.Version
	return snap
}

package service

import (
	"github.com/lexibase/lexibase/common/models"
)

// compositeCollections lists the composite collection field names each entity
// type supports. Only frames carry one today (the role list), but the commit
// engine is written against this table, not against "frame".
var compositeCollections = map[models.EntityType]map[string]struct{}{
	models.EntityFrame: {
		"frame_roles": {},
	},
}

func compositesFor(t models.EntityType) map[string]struct{} {
	return compositeCollections[t]
}

// hierarchy describes the link rows that form a taxonomy over an entity
// type: a link row of linkType points from a child (childField) to its
// parent (parentField), filtered to one relation kind. Deleting a node in
// such a hierarchy triggers the reparenting cascade.
type hierarchy struct {
	linkType    models.EntityType
	parentField string
	childField  string
	kindField   string
	kind        string
}

var hierarchies = map[models.EntityType]hierarchy{
	models.EntityFrame: {
		linkType:    models.EntityFrameRelation,
		parentField: "parent_frame_id",
		childField:  "child_frame_id",
		kindField:   "relation_type",
		kind:        "inherits_from",
	},
	models.EntityLexicalUnit: {
		linkType:    models.EntityLexicalUnitRelation,
		parentField: "target_id",
		childField:  "source_id",
		kindField:   "relation_type",
		kind:        "subtype_of",
	},
}

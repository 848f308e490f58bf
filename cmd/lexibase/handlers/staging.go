package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/lexibase/lexibase/cmd/lexibase/middleware"
	"github.com/lexibase/lexibase/cmd/lexibase/service"
	"github.com/lexibase/lexibase/common/errs"
	"github.com/lexibase/lexibase/common/models"
)

// StagingHandler handles staging requests: nothing here touches canonical
// tables, every write lands in the changeset area.
type StagingHandler struct {
	staging *service.StagingService
}

// NewStagingHandler creates a new staging handler
func NewStagingHandler(staging *service.StagingService) *StagingHandler {
	return &StagingHandler{staging: staging}
}

func entityParams(c echo.Context) (models.EntityType, int64, error) {
	entityType := models.EntityType(c.Param("entity_type"))
	if !entityType.Valid() {
		return "", 0, errs.Validationf("unknown entity type %q", c.Param("entity_type"))
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return "", 0, errs.Validationf("invalid entity id %q", c.Param("id"))
	}
	return entityType, id, nil
}

func parseJobID(raw string) (*uuid.UUID, error) {
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, errs.Validationf("invalid job id %q", raw)
	}
	return &id, nil
}

type stageUpdateRequest struct {
	Updates map[string]any `json:"updates"`
	JobID   string         `json:"job_id,omitempty"`
}

// StageUpdate stages field updates against an existing entity
// POST /api/v1/entities/:entity_type/:id/stage
func (h *StagingHandler) StageUpdate(c echo.Context) error {
	entityType, id, err := entityParams(c)
	if err != nil {
		return respondError(c, err)
	}

	var req stageUpdateRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, errs.Validationf("invalid request body: %v", err))
	}
	jobID, err := parseJobID(req.JobID)
	if err != nil {
		return respondError(c, err)
	}

	result, err := h.staging.StageUpdate(c.Request().Context(), entityType, id, req.Updates, middleware.GetActor(c), jobID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

type stageCreateRequest struct {
	Payload map[string]any `json:"payload"`
	JobID   string         `json:"job_id,omitempty"`
}

// StageCreate stages the creation of a new entity
// POST /api/v1/entities/:entity_type/stage
func (h *StagingHandler) StageCreate(c echo.Context) error {
	entityType := models.EntityType(c.Param("entity_type"))

	var req stageCreateRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, errs.Validationf("invalid request body: %v", err))
	}
	jobID, err := parseJobID(req.JobID)
	if err != nil {
		return respondError(c, err)
	}

	result, err := h.staging.StageCreate(c.Request().Context(), entityType, req.Payload, middleware.GetActor(c), jobID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, result)
}

// StageDelete stages the deletion of an entity
// DELETE /api/v1/entities/:entity_type/:id/stage
func (h *StagingHandler) StageDelete(c echo.Context) error {
	entityType, id, err := entityParams(c)
	if err != nil {
		return respondError(c, err)
	}

	jobID, err := parseJobID(c.QueryParam("job_id"))
	if err != nil {
		return respondError(c, err)
	}

	result, err := h.staging.StageDelete(c.Request().Context(), entityType, id, middleware.GetActor(c), jobID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// StagePatch stages an RFC 6902 JSON patch against an entity
// PATCH /api/v1/entities/:entity_type/:id
func (h *StagingHandler) StagePatch(c echo.Context) error {
	entityType, id, err := entityParams(c)
	if err != nil {
		return respondError(c, err)
	}

	var patch json.RawMessage
	if err := json.NewDecoder(c.Request().Body).Decode(&patch); err != nil {
		return respondError(c, errs.Validationf("invalid patch document: %v", err))
	}
	jobID, err := parseJobID(c.QueryParam("job_id"))
	if err != nil {
		return respondError(c, err)
	}

	result, err := h.staging.StagePatch(c.Request().Context(), entityType, id, patch, middleware.GetActor(c), jobID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

package handlers

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/lexibase/lexibase/cmd/lexibase/middleware"
	"github.com/lexibase/lexibase/cmd/lexibase/service"
	"github.com/lexibase/lexibase/common/errs"
	"github.com/lexibase/lexibase/common/models"
)

// ChangesetHandler handles changeset listing, committing, and bulk review.
type ChangesetHandler struct {
	review *service.ReviewService
	commit *service.CommitService
	bulk   *service.BulkService
	policy *service.PolicyService
}

// NewChangesetHandler creates a new changeset handler
func NewChangesetHandler(review *service.ReviewService, commit *service.CommitService, bulk *service.BulkService, policy *service.PolicyService) *ChangesetHandler {
	return &ChangesetHandler{review: review, commit: commit, bulk: bulk, policy: policy}
}

func changesetID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return 0, errs.Validationf("invalid changeset id %q", c.Param("id"))
	}
	return id, nil
}

// List lists changesets by status
// GET /api/v1/changesets?status=pending&limit=50
func (h *ChangesetHandler) List(c echo.Context) error {
	status := models.ChangesetStatus(c.QueryParam("status"))
	if status == "" {
		status = models.ChangesetPending
	}
	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return respondError(c, errs.Validationf("invalid limit %q", raw))
		}
		limit = n
	}

	changesets, err := h.review.ListChangesets(c.Request().Context(), status, limit)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"changesets": changesets})
}

// Get returns one changeset with its field changes and comments
// GET /api/v1/changesets/:id
func (h *ChangesetHandler) Get(c echo.Context) error {
	id, err := changesetID(c)
	if err != nil {
		return respondError(c, err)
	}

	detail, err := h.review.GetChangeset(c.Request().Context(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, detail)
}

// Commit commits one changeset
// POST /api/v1/changesets/:id/commit
func (h *ChangesetHandler) Commit(c echo.Context) error {
	id, err := changesetID(c)
	if err != nil {
		return respondError(c, err)
	}

	result, err := h.commit.CommitChangeset(c.Request().Context(), id, middleware.GetActor(c))
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errs.IsValidation(err):
			status = http.StatusBadRequest
		case errs.IsNotFound(err):
			status = http.StatusNotFound
		case errs.IsConflict(err):
			status = http.StatusConflict
		}
		return c.JSON(status, result)
	}
	return c.JSON(http.StatusOK, result)
}

type bulkRequest struct {
	ChangesetIDs []int64 `json:"changeset_ids"`
}

// ApproveAndCommit approves and commits a batch of changesets
// POST /api/v1/changesets/approve-commit
func (h *ChangesetHandler) ApproveAndCommit(c echo.Context) error {
	var req bulkRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, errs.Validationf("invalid request body: %v", err))
	}

	result, err := h.bulk.ApproveAndCommit(c.Request().Context(), req.ChangesetIDs, middleware.GetActor(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// Reject rejects a batch of changesets
// POST /api/v1/changesets/reject
func (h *ChangesetHandler) Reject(c echo.Context) error {
	var req bulkRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, errs.Validationf("invalid request body: %v", err))
	}

	result, err := h.bulk.Reject(c.Request().Context(), req.ChangesetIDs, middleware.GetActor(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// Discard discards a batch of changesets
// POST /api/v1/changesets/discard
func (h *ChangesetHandler) Discard(c echo.Context) error {
	var req bulkRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, errs.Validationf("invalid request body: %v", err))
	}

	result, err := h.bulk.Discard(c.Request().Context(), req.ChangesetIDs, middleware.GetActor(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// CommitByJob commits all pending changesets of one ingestion job
// POST /api/v1/changesets/commit-by-job/:job_id
func (h *ChangesetHandler) CommitByJob(c echo.Context) error {
	jobID, err := uuid.Parse(c.Param("job_id"))
	if err != nil {
		return respondError(c, errs.Validationf("invalid job id %q", c.Param("job_id")))
	}

	result, err := h.bulk.CommitByJob(c.Request().Context(), jobID, middleware.GetActor(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// CommitMine commits all pending changesets the caller staged outside of jobs
// POST /api/v1/changesets/commit-mine
func (h *ChangesetHandler) CommitMine(c echo.Context) error {
	actor := middleware.GetActor(c)
	result, err := h.bulk.CommitByUser(c.Request().Context(), actor, actor)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

type policyRequest struct {
	ChangesetIDs []int64 `json:"changeset_ids"`
	Expression   string  `json:"expression"`
}

// ApplyPolicy evaluates a CEL review policy against pending field changes
// POST /api/v1/changesets/apply-policy
func (h *ChangesetHandler) ApplyPolicy(c echo.Context) error {
	var req policyRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, errs.Validationf("invalid request body: %v", err))
	}

	result, err := h.policy.ApplyPolicy(c.Request().Context(), req.ChangesetIDs, req.Expression, middleware.GetActor(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

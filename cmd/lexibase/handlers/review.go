package handlers

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/lexibase/lexibase/cmd/lexibase/middleware"
	"github.com/lexibase/lexibase/cmd/lexibase/service"
	"github.com/lexibase/lexibase/common/errs"
	"github.com/lexibase/lexibase/common/models"
)

// ReviewHandler handles field-change verdicts, comments, and audit history.
type ReviewHandler struct {
	review *service.ReviewService
}

// NewReviewHandler creates a new review handler
func NewReviewHandler(review *service.ReviewService) *ReviewHandler {
	return &ReviewHandler{review: review}
}

func fieldChangeID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return 0, errs.Validationf("invalid field change id %q", c.Param("id"))
	}
	return id, nil
}

// Approve approves one field change
// POST /api/v1/field-changes/:id/approve
func (h *ReviewHandler) Approve(c echo.Context) error {
	id, err := fieldChangeID(c)
	if err != nil {
		return respondError(c, err)
	}

	if err := h.review.ApproveFieldChange(c.Request().Context(), id, middleware.GetActor(c)); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"status": string(models.FieldApproved)})
}

// Reject rejects one field change
// POST /api/v1/field-changes/:id/reject
func (h *ReviewHandler) Reject(c echo.Context) error {
	id, err := fieldChangeID(c)
	if err != nil {
		return respondError(c, err)
	}

	discarded, err := h.review.RejectFieldChange(c.Request().Context(), id, middleware.GetActor(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status":              string(models.FieldRejected),
		"changeset_discarded": discarded,
	})
}

type commentRequest struct {
	Body          string `json:"body"`
	FieldChangeID *int64 `json:"field_change_id,omitempty"`
}

// AddComment appends a comment to a changeset's thread
// POST /api/v1/changesets/:id/comments
func (h *ReviewHandler) AddComment(c echo.Context) error {
	id, err := changesetID(c)
	if err != nil {
		return respondError(c, err)
	}

	var req commentRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, errs.Validationf("invalid request body: %v", err))
	}

	comment, err := h.review.AddComment(c.Request().Context(), id, req.FieldChangeID, middleware.GetActor(c), req.Body)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, comment)
}

// ListComments returns a changeset's comment thread
// GET /api/v1/changesets/:id/comments
func (h *ReviewHandler) ListComments(c echo.Context) error {
	id, err := changesetID(c)
	if err != nil {
		return respondError(c, err)
	}

	comments, err := h.review.ListComments(c.Request().Context(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"comments": comments})
}

// UnreadComments returns and clears the caller's unread comment feed
// GET /api/v1/comments/unread
func (h *ReviewHandler) UnreadComments(c echo.Context) error {
	unread, err := h.review.GetUnreadComments(c.Request().Context(), middleware.GetActor(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"unread": unread})
}

// AuditTrail returns an entity's committed history
// GET /api/v1/entities/:entity_type/:id/history
func (h *ReviewHandler) AuditTrail(c echo.Context) error {
	entityType, id, err := entityParams(c)
	if err != nil {
		return respondError(c, err)
	}

	limit := 100
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return respondError(c, errs.Validationf("invalid limit %q", raw))
		}
		limit = n
	}

	entries, err := h.review.AuditTrail(c.Request().Context(), entityType, id, limit)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"history": entries})
}

package routes

import (
	"github.com/labstack/echo/v4"
	"github.com/lexibase/lexibase/cmd/lexibase/container"
	"github.com/lexibase/lexibase/cmd/lexibase/handlers"
	"github.com/lexibase/lexibase/cmd/lexibase/middleware"
)

// RegisterStagingRoutes registers the staging surface
func RegisterStagingRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewStagingHandler(c.Staging)

	entities := e.Group("/api/v1/entities", middleware.ExtractActor())
	{
		entities.POST("/:entity_type/stage", h.StageCreate)       // stage a creation
		entities.POST("/:entity_type/:id/stage", h.StageUpdate)   // stage field updates
		entities.DELETE("/:entity_type/:id/stage", h.StageDelete) // stage a deletion
		entities.PATCH("/:entity_type/:id", h.StagePatch)         // stage an RFC 6902 patch
	}
}

// RegisterChangesetRoutes registers changeset listing, commit, and bulk review
func RegisterChangesetRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewChangesetHandler(c.Review, c.Commit, c.Bulk, c.Policy)

	changesets := e.Group("/api/v1/changesets", middleware.ExtractActor())
	{
		changesets.GET("", h.List)
		changesets.GET("/:id", h.Get)
		changesets.POST("/:id/commit", h.Commit)
		changesets.POST("/approve-commit", h.ApproveAndCommit)
		changesets.POST("/reject", h.Reject)
		changesets.POST("/discard", h.Discard)
		changesets.POST("/commit-by-job/:job_id", h.CommitByJob)
		changesets.POST("/commit-mine", h.CommitMine)
		changesets.POST("/apply-policy", h.ApplyPolicy)
	}
}

// RegisterReviewRoutes registers field-change verdicts, comments, and history
func RegisterReviewRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewReviewHandler(c.Review)
	actor := middleware.ExtractActor()

	e.POST("/api/v1/field-changes/:id/approve", h.Approve, actor)
	e.POST("/api/v1/field-changes/:id/reject", h.Reject, actor)
	e.POST("/api/v1/changesets/:id/comments", h.AddComment, actor)
	e.GET("/api/v1/changesets/:id/comments", h.ListComments, actor)
	e.GET("/api/v1/comments/unread", h.UnreadComments, actor)
	e.GET("/api/v1/entities/:entity_type/:id/history", h.AuditTrail, actor)
}

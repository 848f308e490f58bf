package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

// ActorKey is the context key for the authenticated actor name.
const ActorKey ContextKey = "actor"

// ExtractActor requires the X-User-ID header and stores it in the request
// context. Every write to the staging area is attributed to this actor.
func ExtractActor() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			actor := c.Request().Header.Get("X-User-ID")
			if actor == "" {
				return c.JSON(http.StatusUnauthorized, map[string]any{
					"error": "X-User-ID header is required",
				})
			}
			c.Set(string(ActorKey), actor)
			return next(c)
		}
	}
}

// GetActor returns the actor stored by ExtractActor, or "" when absent.
func GetActor(c echo.Context) string {
	if v, ok := c.Get(string(ActorKey)).(string); ok {
		return v
	}
	return ""
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/lexibase/lexibase/cmd/lexibase/container"
	"github.com/lexibase/lexibase/cmd/lexibase/routes"
	"github.com/lexibase/lexibase/common/bootstrap"
	"github.com/lexibase/lexibase/common/server"
)

func main() {
	ctx := context.Background()

	components, err := bootstrap.Setup(ctx, "lexibase")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap lexibase: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(ctx)

	serviceContainer, err := container.NewContainer(components)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize service container: %v\n", err)
		os.Exit(1)
	}

	e := setupEcho()
	setupMiddleware(e)
	setupHealthCheck(e, components)
	registerRoutes(e, serviceContainer)

	srv := server.New("lexibase", components.Config.Service.Port, e, components.Logger)
	if err := srv.Start(); err != nil {
		components.Logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// setupEcho initializes the Echo server with basic configuration
func setupEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	return e
}

// setupMiddleware configures all middleware for the Echo server
func setupMiddleware(e *echo.Echo) {
	e.Use(echomw.Logger())
	e.Use(echomw.Recover())
	e.Use(echomw.CORS())
	e.Use(echomw.RequestID())
}

// setupHealthCheck registers the health check endpoint
func setupHealthCheck(e *echo.Echo, components *bootstrap.Components) {
	e.GET("/health", func(c echo.Context) error {
		if err := components.Health(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
		}
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "lexibase",
		})
	})
}

// registerRoutes registers all application routes using the service container
func registerRoutes(e *echo.Echo, serviceContainer *container.Container) {
	routes.RegisterStagingRoutes(e, serviceContainer)
	routes.RegisterChangesetRoutes(e, serviceContainer)
	routes.RegisterReviewRoutes(e, serviceContainer)
}

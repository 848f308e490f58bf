package bootstrap

import (
	"context"
	"fmt"

	"github.com/lexibase/lexibase/common/config"
	"github.com/lexibase/lexibase/common/db"
	"github.com/lexibase/lexibase/common/logger"
	rediscommon "github.com/lexibase/lexibase/common/redis"
	goredis "github.com/redis/go-redis/v9"
)

// Setup initializes all service components
// This is the main entry point for the service binary
func Setup(ctx context.Context, serviceName string, opts ...Option) (*Components, error) {
	// Apply options
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	components := &Components{
		cleanupFuncs: make([]func() error, 0),
	}

	// 1. Load configuration
	var err error
	if options.customConfig != nil {
		components.Config = options.customConfig
	} else {
		components.Config, err = config.Load(serviceName)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	// 2. Initialize logger
	if options.customLogger != nil {
		components.Logger = options.customLogger
	} else {
		components.Logger = logger.New(
			components.Config.Service.LogLevel,
			components.Config.Service.LogFormat,
		)
	}

	components.Logger.Info("initializing service",
		"service", serviceName,
		"environment", components.Config.Service.Environment,
	)

	// 3. Initialize database (if not skipped)
	if !options.skipDB {
		components.Logger.Info("connecting to database")
		components.DB, err = db.New(ctx, components.Config, components.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		components.addCleanup(func() error {
			components.Logger.Info("closing database connection")
			components.DB.Close()
			return nil
		})
	}

	// 4. Initialize Redis (if enabled and not skipped)
	if !options.skipRedis && components.Config.Redis.Enabled {
		components.Logger.Info("connecting to redis", "addr", components.Config.Redis.Addr)

		raw := goredis.NewClient(&goredis.Options{
			Addr:     components.Config.Redis.Addr,
			Password: components.Config.Redis.Password,
			DB:       components.Config.Redis.DB,
		})

		components.Redis = rediscommon.NewClient(raw, components.Logger)

		components.addCleanup(func() error {
			components.Logger.Info("closing redis connection")
			return raw.Close()
		})
	}

	components.Logger.Info("service initialized", "service", serviceName)

	return components, nil
}

package bootstrap

import (
	"github.com/lexibase/lexibase/common/config"
	"github.com/lexibase/lexibase/common/logger"
)

// Option configures the bootstrap process
type Option func(*options)

type options struct {
	skipDB       bool
	skipRedis    bool
	customLogger *logger.Logger
	customConfig *config.Config
}

// WithoutDB skips database initialization
func WithoutDB() Option {
	return func(o *options) {
		o.skipDB = true
	}
}

// WithoutRedis skips Redis initialization
func WithoutRedis() Option {
	return func(o *options) {
		o.skipRedis = true
	}
}

// WithCustomLogger uses a custom logger instead of creating one
func WithCustomLogger(log *logger.Logger) Option {
	return func(o *options) {
		o.customLogger = log
	}
}

// WithCustomConfig uses a custom config instead of loading from env
func WithCustomConfig(cfg *config.Config) Option {
	return func(o *options) {
		o.customConfig = cfg
	}
}

func defaultOptions() *options {
	return &options{}
}

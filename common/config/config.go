package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all service configuration
type Config struct {
	Service  ServiceConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Review   ReviewConfig
}

// ServiceConfig holds service-specific settings
type ServiceConfig struct {
	Name        string
	Port        int
	Environment string
	LogLevel    string
	LogFormat   string
}

// DatabaseConfig holds Postgres connection settings
type DatabaseConfig struct {
	Host        string
	Port        int
	Database    string
	User        string
	Password    string
	MaxConns    int
	MinConns    int
	MaxIdleTime time.Duration
	MaxLifetime time.Duration
}

// RedisConfig holds Redis settings for unread-comment tracking
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Enabled  bool
}

// ReviewConfig holds review-workflow settings
type ReviewConfig struct {
	// AutoApprovePolicy is an optional CEL expression evaluated against
	// pending field changes during ApplyPolicy. Empty disables the default
	// policy.
	AutoApprovePolicy string
	// BulkCommitLimit caps how many changesets one bulk call may touch.
	BulkCommitLimit int
}

// Load loads configuration from environment variables
func Load(serviceName string) (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:        serviceName,
			Port:        getEnvInt("PORT", 8080),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			LogFormat:   getEnv("LOG_FORMAT", "text"),
		},
		Database: DatabaseConfig{
			Host:        getEnv("POSTGRES_HOST", "localhost"),
			Port:        getEnvInt("POSTGRES_PORT", 5432),
			Database:    getEnv("POSTGRES_DB", "lexibase"),
			User:        getEnv("POSTGRES_USER", "lexibase"),
			Password:    getEnv("POSTGRES_PASSWORD", "lexibase"),
			MaxConns:    getEnvInt("POSTGRES_MAX_CONNS", 50),
			MinConns:    getEnvInt("POSTGRES_MIN_CONNS", 10),
			MaxIdleTime: getEnvDuration("POSTGRES_MAX_IDLE_TIME", 30*time.Minute),
			MaxLifetime: getEnvDuration("POSTGRES_MAX_LIFETIME", 1*time.Hour),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			Enabled:  getEnvBool("REDIS_ENABLED", true),
		},
		Review: ReviewConfig{
			AutoApprovePolicy: getEnv("REVIEW_AUTO_APPROVE_POLICY", ""),
			BulkCommitLimit:   getEnvInt("REVIEW_BULK_COMMIT_LIMIT", 500),
		},
	}

	return cfg, cfg.Validate()
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Service.Port)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns must be >= min_conns")
	}

	if c.Review.BulkCommitLimit < 1 {
		return fmt.Errorf("bulk commit limit must be positive")
	}

	return nil
}

// DatabaseURL returns the PostgreSQL connection string
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
	)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

package registry

import (
	"context"
	"fmt"
)

// Config selects and configures a registry backend.
type Config struct {
	Type string `json:"type" mapstructure:"type"` // "memory", "file", "postgres", "s3"

	// File backend
	Dir string `json:"dir,omitempty" mapstructure:"dir"`

	// Postgres backend
	DatabaseURL string `json:"database_url,omitempty" mapstructure:"database_url"`

	// S3 backend
	S3Bucket   string `json:"s3_bucket,omitempty" mapstructure:"s3_bucket"`
	S3Region   string `json:"s3_region,omitempty" mapstructure:"s3_region"`
	S3Endpoint string `json:"s3_endpoint,omitempty" mapstructure:"s3_endpoint"`
	S3Prefix   string `json:"s3_prefix,omitempty" mapstructure:"s3_prefix"`
}

// New creates a registry backend based on the configuration.
func New(ctx context.Context, cfg Config) (Registry, error) {
	switch cfg.Type {
	case "memory", "":
		return NewMemoryRegistry(), nil

	case "file":
		dir := cfg.Dir
		if dir == "" {
			dir = "./data"
		}
		return NewFileRegistry(dir)

	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("postgres registry requires database_url")
		}
		return NewPostgresRegistry(ctx, cfg.DatabaseURL)

	case "s3":
		return NewS3Registry(ctx, S3Config{
			Bucket:   cfg.S3Bucket,
			Region:   cfg.S3Region,
			Endpoint: cfg.S3Endpoint,
			Prefix:   cfg.S3Prefix,
		})

	default:
		return nil, fmt.Errorf("unknown registry type: %s", cfg.Type)
	}
}

package di

import (
	"github.com/rs/zerolog"

	"pulumi-ecs-pipeline/internal/config"
)

// Option is a function that configures the dependency injection container.
type Option func(*options)

// WithLogger injects an existing logger instead of building one.
func WithLogger(logger zerolog.Logger) Option {
	return func(opts *options) {
		opts.logger = &logger
	}
}

// WithConfig injects a configuration instead of reading the environment.
func WithConfig(cfg config.Config) Option {
	return func(opts *options) {
		opts.config = &cfg
	}
}

// WithProviders adds constructor functions to the dependency injection container.
func WithProviders(providers ...any) Option {
	return func(opts *options) {
		opts.providers = append(opts.providers, providers...)
	}
}

type options struct {
	logger    *zerolog.Logger
	config    *config.Config
	providers []any
}

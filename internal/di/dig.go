// Package di provides a lightweight wrapper around uber's dig dependency injection framework.
// Constructors are resolved lazily, so commands only pay for what they ask for.
package di

import (
	"context"

	"go.uber.org/dig"
)

// Container defines a dependency injection container based on uber's dig.
type Container interface {
	// Invoke executes a function, injecting its dependencies from the container.
	Invoke(function any, opts ...dig.InvokeOption) error

	// Provide registers a constructor function in the container.
	Provide(constructor any, opts ...dig.ProvideOption) error
}

// MustGet returns an instance constructed via dependency injection or panics.
//
// Example:
//
//	plan := MustGet[*pipeline.Plan](container)
func MustGet[T any](container Container) (want T) {
	want, err := Get[T](container)
	if err != nil {
		panic(err)
	}
	return want
}

// Get returns an instance constructed via dependency injection. When a
// constructor fails, its own error is returned rather than dig's wrapper.
func Get[T any](container Container) (want T, err error) {
	err = container.Invoke(func(got T) {
		want = got
	})
	if err != nil {
		return want, dig.RootCause(err)
	}
	return want, nil
}

// New creates a container with the core providers registered. The context is
// injectable as a regular context.Context parameter.
func New(ctx context.Context, opts ...Option) (Container, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	container := dig.New()
	if err := container.Provide(func() context.Context { return ctx }); err != nil {
		return nil, err
	}

	providers := []any{ProvideLogger, ProvideConfig}
	if o.logger != nil {
		logger := *o.logger
		providers[0] = func() Logger { return logger }
	}
	if o.config != nil {
		cfg := *o.config
		providers[1] = func() (Config, error) { return cfg, nil }
	}
	for _, provider := range append(providers, core...) {
		if err := container.Provide(provider); err != nil {
			return nil, err
		}
	}
	for _, provider := range o.providers {
		if err := container.Provide(provider); err != nil {
			return nil, err
		}
	}
	return container, nil
}

var core = []any{
	ProvidePlan,
	ProvideRoles,
	ProvideAuditor,
	ProvideAWSConfig,
	ProvideECSClient,
	ProvideS3Client,
	ProvideArtifactGetter,
	ProvideSSMClient,
	ProvideParameterGetter,
	ProvideDeployer,
}

package runner

import (
	"context"
	"fmt"

	"github.com/go-git/go-billy/v5"
	"github.com/rs/zerolog"

	"pulumi-ecs-pipeline/internal/pipeline"
	"pulumi-ecs-pipeline/internal/policy"
)

// Request is everything an executor gets to run one action.
type Request struct {
	ExecutionID string
	Trigger     Trigger
	Action      pipeline.Action

	// Inputs are keyed by artifact name.
	Inputs map[string]billy.Filesystem

	// Guard checks operations performed under the action's own role.
	Guard *Guard

	// Pipeline checks operations the orchestrator performs to start or
	// observe the action.
	Pipeline *Guard

	Logger zerolog.Logger
}

// Input returns the bundle for the action's i-th input artifact.
func (r Request) Input(i int) (pipeline.Artifact, billy.Filesystem, error) {
	if i >= len(r.Action.Inputs) {
		return pipeline.Artifact{}, nil, fmt.Errorf("%w: action %s has no input %d", ErrMissingArtifact, r.Action.Name, i)
	}
	artifact := r.Action.Inputs[i]
	fs, ok := r.Inputs[artifact.Name]
	if !ok {
		return artifact, nil, fmt.Errorf("%w: %s", ErrMissingArtifact, artifact.Name)
	}
	return artifact, fs, nil
}

// Result carries the bundles produced by an action, keyed by artifact name.
type Result struct {
	Outputs map[string]billy.Filesystem
}

// Executor runs one kind of action.
type Executor interface {
	Execute(ctx context.Context, req Request) (Result, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, req Request) (Result, error)

func (f ExecutorFunc) Execute(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}

// Guard enforces a role's permission set while an action runs.
type Guard struct {
	role policy.Role
}

func NewGuard(role policy.Role) *Guard {
	return &Guard{role: role}
}

// Role returns the name of the guarded role.
func (g *Guard) Role() pipeline.RoleName {
	return g.role.Name
}

// Require fails with ErrAccessDenied unless the role may perform op on scope.
func (g *Guard) Require(op string, scope policy.Scope) error {
	if g == nil || !g.role.Allows(op, scope) {
		name := pipeline.RoleName("<none>")
		if g != nil {
			name = g.role.Name
		}
		return fmt.Errorf("%w: role %s may not perform %s on %s", ErrAccessDenied, name, op, scope)
	}
	return nil
}

// RequireAll checks several operations on the same scope.
func (g *Guard) RequireAll(scope policy.Scope, ops ...string) error {
	for _, op := range ops {
		if err := g.Require(op, scope); err != nil {
			return err
		}
	}
	return nil
}

// Package runner executes a pipeline plan locally. Stages run strictly in
// order, artifacts are handed between actions by name, and every action runs
// under a guard bound to its role's permission set.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/rs/zerolog"
	"github.com/segmentio/ksuid"

	"pulumi-ecs-pipeline/internal/pipeline"
	"pulumi-ecs-pipeline/internal/policy"
)

type Status string

const (
	StatusQueued     Status = "Queued"
	StatusInProgress Status = "InProgress"
	StatusSucceeded  Status = "Succeeded"
	StatusFailed     Status = "Failed"
	StatusNotStarted Status = "NotStarted"
)

type StageResult struct {
	Name   string `json:"name"`
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Execution is one run of the plan.
type Execution struct {
	ID         string        `json:"id"`
	Trigger    Trigger       `json:"trigger"`
	Status     Status        `json:"status"`
	Stages     []StageResult `json:"stages"`
	StartedAt  time.Time     `json:"startedAt"`
	FinishedAt time.Time     `json:"finishedAt"`
}

// Stage returns the result recorded for the named stage.
func (e *Execution) Stage(name string) (StageResult, bool) {
	for _, s := range e.Stages {
		if s.Name == name {
			return s, true
		}
	}
	return StageResult{}, false
}

// Event is emitted on every stage transition.
type Event struct {
	ExecutionID string
	Stage       string
	Status      Status
	Err         error
}

type Option func(*Runner)

func WithLogger(logger zerolog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithExecutor registers the executor for a provider.
func WithExecutor(provider pipeline.Provider, executor Executor) Option {
	return func(r *Runner) {
		r.executors[provider] = executor
	}
}

// WithObserver registers a callback for stage transitions. It is called from
// the goroutine running the execution.
func WithObserver(fn func(Event)) Option {
	return func(r *Runner) {
		r.observers = append(r.observers, fn)
	}
}

type Runner struct {
	plan      *pipeline.Plan
	roles     []policy.Role
	executors map[pipeline.Provider]Executor
	observers []func(Event)
	logger    zerolog.Logger

	// slot admits one execution at a time. Blocked senders are released in
	// arrival order.
	slot chan struct{}

	mu      sync.Mutex
	history []*Execution
}

// New returns a runner for a validated plan.
func New(plan *pipeline.Plan, roles []policy.Role, opts ...Option) (*Runner, error) {
	if plan == nil {
		return nil, errors.New("runner requires a plan")
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	r := &Runner{
		plan:      plan,
		roles:     roles,
		executors: map[pipeline.Provider]Executor{},
		logger:    zerolog.Nop(),
		slot:      make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(r)
	}
	for _, action := range plan.Actions() {
		if _, ok := r.executors[action.Provider]; !ok {
			return nil, fmt.Errorf("%w %s (action %s)", ErrNoExecutor, action.Provider, action.Name)
		}
	}
	return r, nil
}

// Accepts reports whether the event would start an execution.
func (r *Runner) Accepts(event PushEvent) bool {
	_, ok := triggerFor(r.plan, event)
	return ok
}

// HandlePush starts an execution when the event matches the source action's
// repository and branch.
func (r *Runner) HandlePush(ctx context.Context, event PushEvent) (*Execution, error) {
	trigger, ok := triggerFor(r.plan, event)
	if !ok {
		r.logger.Debug().
			Str("owner", event.Owner).
			Str("repo", event.Repo).
			Str("ref", event.Ref).
			Msg("ignoring push event")
		return nil, ErrNotTriggered
	}
	return r.Run(ctx, trigger)
}

// Run executes the plan for the trigger. If another execution is in flight it
// waits its turn. The returned execution is non-nil once it has been admitted;
// a failed stage is reported as a *StageError.
func (r *Runner) Run(ctx context.Context, trigger Trigger) (*Execution, error) {
	exec := &Execution{
		ID:      ksuid.New().String(),
		Trigger: trigger,
		Status:  StatusQueued,
	}
	for _, stage := range r.plan.Stages {
		exec.Stages = append(exec.Stages, StageResult{Name: stage.Name, Status: StatusNotStarted})
	}

	logger := r.logger.With().Str("execution", exec.ID).Str("commit", trigger.Commit).Logger()
	logger.Info().Str("branch", trigger.Branch).Msg("execution queued")

	select {
	case r.slot <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("execution %s not started: %w", exec.ID, ctx.Err())
	}
	defer func() { <-r.slot }()

	r.mu.Lock()
	r.history = append(r.history, exec)
	r.mu.Unlock()

	exec.Status = StatusInProgress
	exec.StartedAt = time.Now().UTC()
	err := r.execute(ctx, exec, logger)
	exec.FinishedAt = time.Now().UTC()
	if err != nil {
		exec.Status = StatusFailed
		logger.Error().Err(err).Msg("execution failed")
		return exec, err
	}
	exec.Status = StatusSucceeded
	logger.Info().Dur("took", exec.FinishedAt.Sub(exec.StartedAt)).Msg("execution succeeded")
	return exec, nil
}

// Executions returns admitted executions in the order they started.
func (r *Runner) Executions() []*Execution {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Execution(nil), r.history...)
}

func (r *Runner) execute(ctx context.Context, exec *Execution, logger zerolog.Logger) error {
	store := map[string]billy.Filesystem{}
	pipelineGuard := r.guard(pipeline.RolePipeline)

	for i, stage := range r.plan.Stages {
		exec.Stages[i].Status = StatusInProgress
		r.emit(Event{ExecutionID: exec.ID, Stage: stage.Name, Status: StatusInProgress})
		logger.Info().Str("stage", stage.Name).Msg("stage started")

		for _, action := range stage.Actions {
			if err := ctx.Err(); err != nil {
				return r.fail(exec, i, action, err)
			}

			req := Request{
				ExecutionID: exec.ID,
				Trigger:     exec.Trigger,
				Action:      action,
				Inputs:      map[string]billy.Filesystem{},
				Guard:       r.guard(action.Role),
				Pipeline:    pipelineGuard,
				Logger:      logger.With().Str("stage", stage.Name).Str("action", action.Name).Logger(),
			}
			for _, in := range action.Inputs {
				fs, ok := store[in.Name]
				if !ok {
					return r.fail(exec, i, action, fmt.Errorf("%w: %s", ErrMissingArtifact, in.Name))
				}
				req.Inputs[in.Name] = fs
			}

			result, err := r.executors[action.Provider].Execute(ctx, req)
			if err != nil {
				return r.fail(exec, i, action, err)
			}
			for _, out := range action.Outputs {
				fs, ok := result.Outputs[out.Name]
				if !ok {
					return r.fail(exec, i, action, fmt.Errorf("%w: action did not produce %s", ErrMissingArtifact, out.Name))
				}
				store[out.Name] = fs
			}
		}

		exec.Stages[i].Status = StatusSucceeded
		r.emit(Event{ExecutionID: exec.ID, Stage: stage.Name, Status: StatusSucceeded})
		logger.Info().Str("stage", stage.Name).Msg("stage succeeded")
	}
	return nil
}

func (r *Runner) fail(exec *Execution, stage int, action pipeline.Action, err error) error {
	exec.Stages[stage].Status = StatusFailed
	exec.Stages[stage].Error = err.Error()
	r.emit(Event{ExecutionID: exec.ID, Stage: exec.Stages[stage].Name, Status: StatusFailed, Err: err})
	return &StageError{Stage: exec.Stages[stage].Name, Action: action.Name, Err: err}
}

func (r *Runner) guard(name pipeline.RoleName) *Guard {
	role, ok := policy.Find(r.roles, name)
	if !ok {
		return nil
	}
	return NewGuard(role)
}

func (r *Runner) emit(e Event) {
	for _, fn := range r.observers {
		fn(e)
	}
}

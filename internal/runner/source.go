package runner

import (
	"context"
	"fmt"

	"github.com/go-git/go-billy/v5"

	"pulumi-ecs-pipeline/internal/pipeline"
	"pulumi-ecs-pipeline/internal/policy"
)

// SourceRef names the revision a source action fetches. An empty Commit means
// the head of Branch.
type SourceRef struct {
	Owner  string
	Repo   string
	Branch string
	Commit string
}

func (r SourceRef) String() string {
	s := fmt.Sprintf("%s/%s@%s", r.Owner, r.Repo, r.Branch)
	if r.Commit != "" {
		s += ":" + r.Commit
	}
	return s
}

// Repository fetches a snapshot of source files.
type Repository interface {
	Fetch(ctx context.Context, ref SourceRef) (billy.Filesystem, error)
}

// SourceExecutor runs GitHub source actions.
type SourceExecutor struct {
	Repository Repository
}

func (e SourceExecutor) Execute(ctx context.Context, req Request) (Result, error) {
	if len(req.Action.Outputs) != 1 {
		return Result{}, fmt.Errorf("source action %s must declare exactly one output", req.Action.Name)
	}
	cfg := req.Action.Configuration
	ref := SourceRef{
		Owner:  cfg[pipeline.ConfigOwner],
		Repo:   cfg[pipeline.ConfigRepo],
		Branch: cfg[pipeline.ConfigBranch],
		Commit: req.Trigger.Commit,
	}

	fs, err := e.Repository.Fetch(ctx, ref)
	if err != nil {
		return Result{}, fmt.Errorf("failed to fetch %s: %w", ref, err)
	}
	if err := req.Guard.Require("s3:PutObject", policy.ScopeArtifactObjects); err != nil {
		return Result{}, err
	}

	out := req.Action.Outputs[0]
	req.Logger.Info().Str("source", ref.String()).Str("artifact", out.Name).Msg("source fetched")
	return Result{Outputs: map[string]billy.Filesystem{out.Name: fs}}, nil
}

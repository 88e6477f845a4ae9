package runner

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"

	"pulumi-ecs-pipeline/internal/imagedefs"
	"pulumi-ecs-pipeline/internal/policy"
)

// BuildInput is what a build procedure runs against.
type BuildInput struct {
	Source billy.Filesystem
	Env    map[string]string
	Commit string
	Guard  *Guard
}

// Builder runs a build procedure and returns its output bundle.
type Builder interface {
	Build(ctx context.Context, in BuildInput) (billy.Filesystem, error)
}

type BuilderFunc func(ctx context.Context, in BuildInput) (billy.Filesystem, error)

func (f BuilderFunc) Build(ctx context.Context, in BuildInput) (billy.Filesystem, error) {
	return f(ctx, in)
}

// BuildExecutor runs CodeBuild actions: the pipeline role starts the build,
// the build itself runs under the build role.
type BuildExecutor struct {
	Builder Builder
}

func (e BuildExecutor) Execute(ctx context.Context, req Request) (Result, error) {
	if len(req.Action.Outputs) != 1 {
		return Result{}, fmt.Errorf("build action %s must declare exactly one output", req.Action.Name)
	}
	if err := req.Pipeline.Require("codebuild:StartBuild", policy.ScopeBuildProject); err != nil {
		return Result{}, err
	}
	if err := req.Pipeline.Require("iam:PassRole", policy.ScopeBuildRole); err != nil {
		return Result{}, err
	}
	_, src, err := req.Input(0)
	if err != nil {
		return Result{}, err
	}
	if err := req.Guard.Require("s3:GetObject", policy.ScopeArtifactObjects); err != nil {
		return Result{}, err
	}

	out, err := e.Builder.Build(ctx, BuildInput{
		Source: src,
		Env:    req.Action.Environment,
		Commit: req.Trigger.Commit,
		Guard:  req.Guard,
	})
	if err != nil {
		return Result{}, err
	}

	if err := req.Guard.Require("s3:PutObject", policy.ScopeArtifactObjects); err != nil {
		return Result{}, err
	}
	if err := req.Pipeline.Require("codebuild:BatchGetBuilds", policy.ScopeBuildProject); err != nil {
		return Result{}, err
	}
	name := req.Action.Outputs[0].Name
	req.Logger.Info().Str("artifact", name).Msg("build finished")
	return Result{Outputs: map[string]billy.Filesystem{name: out}}, nil
}

// ImageRef is a fully qualified image reference.
type ImageRef struct {
	Host       string
	Repository string
	Tag        string
}

func (r ImageRef) String() string {
	return fmt.Sprintf("%s/%s:%s", r.Host, r.Repository, r.Tag)
}

// Registry stores pushed images.
type Registry interface {
	Push(ctx context.Context, ref ImageRef, buildContext billy.Filesystem) error
}

// ImageBuilder mirrors the default buildspec: it builds the image from the
// Dockerfile at the source root, pushes it tagged with the short commit and
// writes imagedefinitions.json at the root of its output.
type ImageBuilder struct {
	Registry Registry
}

func (b ImageBuilder) Build(ctx context.Context, in BuildInput) (billy.Filesystem, error) {
	for _, key := range []string{"ACCOUNT_ID", "AWS_DEFAULT_REGION", "LARAVEL_REPOSITORY_NAME", "CONTAINER_NAME"} {
		if in.Env[key] == "" {
			return nil, fmt.Errorf("%w: %s is not set in the build environment", ErrBuildFailed, key)
		}
	}
	if _, err := in.Source.Stat("Dockerfile"); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: no Dockerfile at the source root", ErrBuildFailed)
		}
		return nil, fmt.Errorf("%w: %v", ErrBuildFailed, err)
	}

	if err := in.Guard.Require("ecr:GetAuthorizationToken", policy.ScopeAny); err != nil {
		return nil, err
	}
	if err := in.Guard.RequireAll(policy.ScopeRegistry,
		"ecr:BatchCheckLayerAvailability",
		"ecr:InitiateLayerUpload",
		"ecr:UploadLayerPart",
		"ecr:CompleteLayerUpload",
		"ecr:PutImage",
	); err != nil {
		return nil, err
	}

	ref := ImageRef{
		Host:       fmt.Sprintf("%s.dkr.ecr.%s.amazonaws.com", in.Env["ACCOUNT_ID"], in.Env["AWS_DEFAULT_REGION"]),
		Repository: in.Env["LARAVEL_REPOSITORY_NAME"],
		Tag:        shortCommit(in.Commit),
	}
	if err := b.Registry.Push(ctx, ref, in.Source); err != nil {
		return nil, fmt.Errorf("%w: push %s: %v", ErrBuildFailed, ref, err)
	}

	out := memfs.New()
	defs := imagedefs.Definitions{{Name: in.Env["CONTAINER_NAME"], ImageURI: ref.String()}}
	if err := imagedefs.Write(out, imagedefs.FileName, defs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBuildFailed, err)
	}
	return out, nil
}

func shortCommit(commit string) string {
	if commit == "" {
		return "latest"
	}
	if len(commit) > 7 {
		return commit[:7]
	}
	return commit
}

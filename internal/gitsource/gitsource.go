// Package gitsource fetches source snapshots from GitHub with go-git. The
// working tree is checked out into an in-memory filesystem.
package gitsource

import (
	"context"
	"fmt"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/storage/memory"
	"github.com/rs/zerolog"

	"pulumi-ecs-pipeline/internal/runner"
)

// DefaultBaseURL is where repositories are cloned from unless overridden.
const DefaultBaseURL = "https://github.com"

// Repository implements runner.Repository against a git host.
type Repository struct {
	BaseURL string
	Token   string
	Logger  zerolog.Logger
}

func New(token string, logger zerolog.Logger) *Repository {
	return &Repository{BaseURL: DefaultBaseURL, Token: token, Logger: logger}
}

// URL returns the clone URL for a source reference.
func (r *Repository) URL(ref runner.SourceRef) string {
	base := r.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	return fmt.Sprintf("%s/%s/%s.git", base, ref.Owner, ref.Repo)
}

// CloneOptions clones only the requested branch. Without a commit the clone is
// shallow since only the head is needed.
func (r *Repository) CloneOptions(ref runner.SourceRef) *git.CloneOptions {
	opts := &git.CloneOptions{
		URL:           r.URL(ref),
		ReferenceName: plumbing.NewBranchReferenceName(ref.Branch),
		SingleBranch:  true,
		Tags:          git.NoTags,
	}
	if ref.Commit == "" {
		opts.Depth = 1
	}
	if r.Token != "" {
		opts.Auth = &http.BasicAuth{Username: "x-access-token", Password: r.Token}
	}
	return opts
}

func (r *Repository) Fetch(ctx context.Context, ref runner.SourceRef) (billy.Filesystem, error) {
	fs := memfs.New()
	repo, err := git.CloneContext(ctx, memory.NewStorage(), fs, r.CloneOptions(ref))
	if err != nil {
		return nil, fmt.Errorf("failed to clone %s: %w", r.URL(ref), err)
	}

	if ref.Commit != "" {
		hash, err := repo.ResolveRevision(plumbing.Revision(ref.Commit))
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", runner.ErrRevisionNotFound, ref, err)
		}
		wt, err := repo.Worktree()
		if err != nil {
			return nil, fmt.Errorf("failed to open worktree: %w", err)
		}
		if err := wt.Checkout(&git.CheckoutOptions{Hash: *hash, Force: true}); err != nil {
			return nil, fmt.Errorf("failed to check out %s: %w", ref.Commit, err)
		}
	}

	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("failed to read HEAD: %w", err)
	}
	r.Logger.Debug().Str("source", ref.String()).Str("head", head.Hash().String()).Msg("cloned source")
	return fs, nil
}

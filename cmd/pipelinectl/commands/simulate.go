package commands

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/segmentio/ksuid"
	"github.com/urfave/cli/v2"

	"pulumi-ecs-pipeline/internal/di"
	"pulumi-ecs-pipeline/internal/gitsource"
	"pulumi-ecs-pipeline/internal/pipeline"
	"pulumi-ecs-pipeline/internal/policy"
	"pulumi-ecs-pipeline/internal/runner"
)

// SimulateCommand rehearses one execution of the pipeline locally.
func SimulateCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "simulate",
		Usage: "Run the pipeline locally against an in-memory registry and service",
		Description: `Pushes a commit event through Source, Build and Deploy using the derived
roles, so permission gaps and artifact hand-off mistakes show up before
anything is deployed.

By default the source is a synthetic commit containing a Dockerfile. With
--clone the configured GitHub repository is cloned instead.

Examples:
  pipelinectl simulate
  pipelinectl simulate --branch main
  pipelinectl simulate --clone --commit 4f2c9a17b3e5d8c0`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "branch",
				Aliases: []string{"b"},
				Usage:   "branch the push event is for (default: the configured branch)",
			},
			&cli.StringFlag{
				Name:  "commit",
				Usage: "commit id of the push (default: random)",
			},
			&cli.BoolFlag{
				Name:  "clone",
				Usage: "fetch source from GitHub instead of a synthetic commit",
			},
		},
		Action: func(c *cli.Context) error {
			container, err := newContainer(c.Context, logger)
			if err != nil {
				return err
			}
			cfg, err := di.Get[di.Config](container)
			if err != nil {
				return err
			}
			plan, err := di.Get[*pipeline.Plan](container)
			if err != nil {
				return err
			}
			roles, err := di.Get[[]policy.Role](container)
			if err != nil {
				return err
			}

			src := cfg.Pipeline.Source
			branch := c.String("branch")
			if branch == "" {
				branch = src.Branch
			}
			commit := c.String("commit")
			if commit == "" {
				commit = ksuid.New().String()
			}

			var repo runner.Repository
			if c.Bool("clone") {
				repo = gitsource.New(src.Token, *logger)
			} else {
				memory := runner.NewMemoryRepository()
				memory.Commit(src.Owner, src.Repo, branch, commit, map[string]string{
					"Dockerfile": fmt.Sprintf("FROM %s\nCOPY . /var/www/html\n", cfg.Service.Image),
				})
				repo = memory
			}
			service := runner.NewMemoryService(map[string]string{cfg.Service.Container: cfg.Service.Image})

			r, err := newRunner(plan, roles, repo, service, *logger, func(e runner.Event) {
				fmt.Fprintf(c.App.Writer, "%-8s %s\n", e.Stage, e.Status)
			})
			if err != nil {
				return err
			}

			exec, err := r.HandlePush(c.Context, runner.PushEvent{
				Owner:  src.Owner,
				Repo:   src.Repo,
				Ref:    "refs/heads/" + branch,
				Commit: commit,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "execution %s %s\n", exec.ID, exec.Status)
			fmt.Fprintf(c.App.Writer, "%s now runs %s\n", cfg.Service.Container, service.Image(cfg.Service.Container))
			return nil
		},
	}
}

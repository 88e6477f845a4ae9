package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"pulumi-ecs-pipeline/internal/awsdeploy"
	"pulumi-ecs-pipeline/internal/di"
	"pulumi-ecs-pipeline/internal/gitsource"
	"pulumi-ecs-pipeline/internal/pipeline"
	"pulumi-ecs-pipeline/internal/policy"
	"pulumi-ecs-pipeline/internal/runner"
	"pulumi-ecs-pipeline/internal/webhook"
)

// ServeCommand receives GitHub push deliveries and runs the pipeline locally
// for each one.
func ServeCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Receive GitHub push webhooks and run the pipeline locally",
		Description: `Listens for GitHub webhook deliveries signed with the same secret the
deployed pipeline webhook uses. Pushes to the configured branch are cloned
and run through Source, Build and Deploy against an in-memory registry and
service, one execution at a time.

Examples:
  pipelinectl serve --addr :8080
  pipelinectl serve --token-parameter /bira/github-token`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Value: ":8080",
				Usage: "address to listen on",
			},
			&cli.StringFlag{
				Name:  "token-parameter",
				Usage: "SSM parameter holding the GitHub token (default: GITHUB_TOKEN)",
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

			token := cfg.Pipeline.Source.Token
			if name := c.String("token-parameter"); name != "" {
				client, err := di.Get[awsdeploy.SSMGetter](container)
				if err != nil {
					return err
				}
				if token, err = awsdeploy.Parameter(c.Context, client, name); err != nil {
					return err
				}
			}

			service := runner.NewMemoryService(map[string]string{cfg.Service.Container: cfg.Service.Image})
			r, err := newRunner(plan, roles, gitsource.New(token, *logger), service, *logger, func(e runner.Event) {
				logger.Info().Str("execution", e.ExecutionID).Str("stage", e.Stage).Str("status", string(e.Status)).Msg("stage")
			})
			if err != nil {
				return err
			}
			handler := webhook.NewHandler(webhook.Secret(token, plan.Name), r, *logger)

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			server := &http.Server{
				Addr:              c.String("addr"),
				Handler:           handler,
				ReadHeaderTimeout: 10 * time.Second,
			}
			go func() {
				<-ctx.Done()
				shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = server.Shutdown(shutdown)
			}()

			logger.Info().Str("addr", server.Addr).Str("pipeline", plan.Name).Msg("waiting for push events")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("webhook server: %w", err)
			}
			handler.Wait()
			fmt.Fprintf(c.App.Writer, "%s runs %s\n", cfg.Service.Container, service.Image(cfg.Service.Container))
			return nil
		},
	}
}

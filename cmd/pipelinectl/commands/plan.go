package commands

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"pulumi-ecs-pipeline/internal/di"
	"pulumi-ecs-pipeline/internal/pipeline"
)

// PlanCommand prints the assembled pipeline plan.
func PlanCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "plan",
		Usage: "Print the assembled pipeline plan and its fingerprint",
		Description: `Assembles the pipeline from the environment and prints it as JSON.

The fingerprint is a hash of that description; two environments that
produce the same fingerprint deploy structurally identical pipelines.`,
		Action: func(c *cli.Context) error {
			container, err := newContainer(c.Context, logger)
			if err != nil {
				return err
			}
			plan, err := di.Get[*pipeline.Plan](container)
			if err != nil {
				return err
			}

			description, err := plan.Describe()
			if err != nil {
				return err
			}
			fingerprint, err := plan.Fingerprint()
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintf(c.App.Writer, "%s\n", description); err != nil {
				return err
			}
			logger.Info().Str("pipeline", plan.Name).Str("fingerprint", fingerprint).Msg("plan assembled")
			return nil
		},
	}
}

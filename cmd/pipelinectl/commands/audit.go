package commands

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"pulumi-ecs-pipeline/internal/di"
	"pulumi-ecs-pipeline/internal/pipeline"
	"pulumi-ecs-pipeline/internal/policy"
)

// AuditCommand checks role grants against what the plan's actions require.
func AuditCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "audit",
		Usage: "Audit role permissions against the pipeline's requirements",
		Description: `Evaluates role grants with the embedded Rego policy.

Without --roles the derived roles are audited, which must always pass.
With --roles a YAML or JSON file of hand-written roles is audited instead,
for example an export of what is currently attached in the account.

Examples:
  pipelinectl audit
  pipelinectl audit --roles roles.yaml`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "roles",
				Aliases: []string{"r"},
				Usage:   "YAML or JSON file with the roles to audit",
			},
		},
		Action: func(c *cli.Context) error {
			container, err := newContainer(c.Context, logger)
			if err != nil {
				return err
			}
			plan, err := di.Get[*pipeline.Plan](container)
			if err != nil {
				return err
			}
			auditor, err := di.Get[*policy.Auditor](container)
			if err != nil {
				return err
			}

			var roles []policy.Role
			if path := c.String("roles"); path != "" {
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("failed to read roles: %w", err)
				}
				if err := yaml.Unmarshal(data, &roles); err != nil {
					return fmt.Errorf("failed to parse roles %s: %w", path, err)
				}
			} else if roles, err = di.Get[[]policy.Role](container); err != nil {
				return err
			}

			result, err := auditor.Audit(c.Context, plan, roles)
			if err != nil {
				return err
			}
			for _, v := range result.Violations {
				fmt.Fprintln(c.App.Writer, v)
			}
			if !result.Allowed {
				return cli.Exit(fmt.Sprintf("%d policy violation(s)", len(result.Violations)), 1)
			}
			logger.Info().Int("roles", len(roles)).Msg("✓ roles grant exactly what the pipeline requires")
			return nil
		},
	}
}

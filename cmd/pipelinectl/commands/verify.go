package commands

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"pulumi-ecs-pipeline/internal/awsdeploy"
	"pulumi-ecs-pipeline/internal/di"
)

// VerifyCommand compares a build artifact with what the service is running.
func VerifyCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "verify",
		Usage: "Check that the ECS service runs the image named by a build artifact",
		Description: `Downloads a Build stage output artifact from the artifact bucket, reads
its imagedefinitions.json and compares each image with the service's
current task definition.

Example:
  pipelinectl verify --key bira-pipeline/CdkBuildOu/AbC123.zip`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "bucket",
				Usage: "artifact bucket (default: PIPELINE_BUCKET)",
			},
			&cli.StringFlag{
				Name:     "key",
				Aliases:  []string{"k"},
				Usage:    "object key of the build output artifact",
				Required: true,
			},
		},
		Action: func(c *cli.Context) error {
			container, err := newContainer(c.Context, logger)
			if err != nil {
				return err
			}

			return container.Invoke(func(cfg di.Config, client awsdeploy.S3Getter, deployer *awsdeploy.ECS) error {
				bucket := c.String("bucket")
				if bucket == "" {
					bucket = cfg.Pipeline.ArtifactBucket
				}
				artifact, err := awsdeploy.FetchArtifact(c.Context, client, bucket, c.String("key"))
				if err != nil {
					return err
				}
				running, err := deployer.RunningImages(c.Context)
				if err != nil {
					return err
				}
				drift, err := awsdeploy.Compare(artifact, running)
				if err != nil {
					return err
				}

				stale := 0
				for _, d := range drift {
					mark := "✓"
					if !d.InSync() {
						mark = "✗"
						stale++
					}
					fmt.Fprintf(c.App.Writer, "%s %s expected=%s running=%s\n", mark, d.Container, d.Expected, d.Running)
				}
				if stale > 0 {
					return cli.Exit(fmt.Sprintf("%d container(s) not running the built image", stale), 1)
				}
				return nil
			})
		},
	}
}

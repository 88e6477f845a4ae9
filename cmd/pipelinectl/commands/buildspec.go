package commands

import (
	"os"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"pulumi-ecs-pipeline/internal/buildspec"
	"pulumi-ecs-pipeline/internal/imagedefs"
)

// BuildSpecCommand prints the buildspec the source repository should carry.
func BuildSpecCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "buildspec",
		Usage: "Print the default buildspec for the source repository",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "out",
				Aliases: []string{"o"},
				Usage:   "write to this file instead of stdout",
			},
		},
		Action: func(c *cli.Context) error {
			data, err := buildspec.Default().Render()
			if err != nil {
				return err
			}
			if out := c.String("out"); out != "" {
				if err := os.WriteFile(out, data, 0o644); err != nil {
					return err
				}
				logger.Info().Str("path", out).Msg("buildspec written")
				return nil
			}
			_, err = c.App.Writer.Write(data)
			return err
		},
	}
}

// ImageDefsCommand writes imagedefinitions.json, as a buildspec post_build
// step would.
func ImageDefsCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "imagedefs",
		Usage: "Write imagedefinitions.json for the deploy stage",
		Description: `Writes the file the ECS deploy action reads from the build artifact.

Example:
  pipelinectl imagedefs --container web \
    --image 123456789012.dkr.ecr.ap-southeast-1.amazonaws.com/laravel-blog:4f2c9a1`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "container",
				Aliases:  []string{"c"},
				Usage:    "container name in the task definition",
				Required: true,
				EnvVars:  []string{"CONTAINER_NAME"},
			},
			&cli.StringFlag{
				Name:     "image",
				Aliases:  []string{"i"},
				Usage:    "image URI to deploy",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "dir",
				Usage: "artifact directory",
				Value: ".",
			},
		},
		Action: func(c *cli.Context) error {
			defs := imagedefs.Definitions{{Name: c.String("container"), ImageURI: c.String("image")}}
			if err := imagedefs.Write(osfs.New(c.String("dir")), imagedefs.FileName, defs); err != nil {
				return err
			}
			logger.Info().Str("container", defs[0].Name).Str("image", defs[0].ImageURI).Msg("image definitions written")
			return nil
		},
	}
}

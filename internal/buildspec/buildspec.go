// Package buildspec renders and checks CodeBuild buildspec files for the
// Build stage. A usable buildspec must leave imagedefinitions.json at the root
// of its output artifact.
package buildspec

import (
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"

	"pulumi-ecs-pipeline/internal/imagedefs"
)

var ErrInvalid = errors.New("invalid buildspec")

type Phase struct {
	Commands []string `yaml:"commands"`
}

type Phases struct {
	Install   *Phase `yaml:"install,omitempty"`
	PreBuild  *Phase `yaml:"pre_build,omitempty"`
	Build     *Phase `yaml:"build,omitempty"`
	PostBuild *Phase `yaml:"post_build,omitempty"`
}

type Artifacts struct {
	Files []string `yaml:"files"`
}

type Env struct {
	Variables map[string]string `yaml:"variables,omitempty"`
}

type BuildSpec struct {
	Version   string    `yaml:"version"`
	Env       *Env      `yaml:"env,omitempty"`
	Phases    Phases    `yaml:"phases"`
	Artifacts Artifacts `yaml:"artifacts"`
}

// Default returns a buildspec that logs in to ECR, builds and pushes an image
// tagged with the source commit, and writes imagedefinitions.json. It expects
// AWS_DEFAULT_REGION, ACCOUNT_ID, BUILD_ENV, LARAVEL_REPOSITORY_NAME and CONTAINER_NAME
// in the build environment.
func Default() BuildSpec {
	return BuildSpec{
		Version: "0.2",
		Env: &Env{Variables: map[string]string{
			"DOCKER_BUILDKIT": "1",
		}},
		Phases: Phases{
			PreBuild: &Phase{Commands: []string{
				`REGISTRY_URI=${ACCOUNT_ID}.dkr.ecr.${AWS_DEFAULT_REGION}.amazonaws.com`,
				`IMAGE_URI=${REGISTRY_URI}/${LARAVEL_REPOSITORY_NAME}`,
				`IMAGE_TAG=$(echo ${CODEBUILD_RESOLVED_SOURCE_VERSION} | cut -c 1-7)`,
				`aws ecr get-login-password --region ${AWS_DEFAULT_REGION} | docker login --username AWS --password-stdin ${REGISTRY_URI}`,
			}},
			Build: &Phase{Commands: []string{
				`docker build --build-arg BUILD_ENV=${BUILD_ENV} -t ${IMAGE_URI}:${IMAGE_TAG} .`,
				`docker tag ${IMAGE_URI}:${IMAGE_TAG} ${IMAGE_URI}:latest`,
			}},
			PostBuild: &Phase{Commands: []string{
				`docker push ${IMAGE_URI}:${IMAGE_TAG}`,
				`docker push ${IMAGE_URI}:latest`,
				fmt.Sprintf(`printf '[{"name":"%%s","imageUri":"%%s"}]' ${CONTAINER_NAME} ${IMAGE_URI}:${IMAGE_TAG} > %s`, imagedefs.FileName),
			}},
		},
		Artifacts: Artifacts{Files: []string{imagedefs.FileName}},
	}
}

// Render encodes the buildspec as YAML.
func (b BuildSpec) Render() ([]byte, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	data, err := yaml.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("failed to encode buildspec: %w", err)
	}
	return data, nil
}

// Parse decodes and validates a buildspec.
func Parse(data []byte) (BuildSpec, error) {
	var b BuildSpec
	if err := yaml.Unmarshal(data, &b); err != nil {
		return BuildSpec{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := b.Validate(); err != nil {
		return BuildSpec{}, err
	}
	return b, nil
}

// Validate checks the version, that there is something to run and that
// imagedefinitions.json is exported as an artifact.
func (b BuildSpec) Validate() error {
	if b.Version != "0.2" && b.Version != "0.1" {
		return fmt.Errorf("%w: unsupported version %q", ErrInvalid, b.Version)
	}
	if b.Phases.Build == nil || len(b.Phases.Build.Commands) == 0 {
		return fmt.Errorf("%w: build phase has no commands", ErrInvalid)
	}
	for _, f := range b.Artifacts.Files {
		if f == imagedefs.FileName {
			return nil
		}
	}
	return fmt.Errorf("%w: artifacts must include %s", ErrInvalid, imagedefs.FileName)
}

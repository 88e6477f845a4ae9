// Package pipeline models a deployment pipeline as an explicit ordered chain of
// stages, each holding ordered actions that hand named artifacts downstream.
package pipeline

import (
	"fmt"
)

// Category is the kind of work an action performs.
type Category string

const (
	CategorySource Category = "Source"
	CategoryBuild  Category = "Build"
	CategoryDeploy Category = "Deploy"
)

// Provider identifies the implementation behind an action.
type Provider string

const (
	ProviderGitHub    Provider = "GitHub"
	ProviderCodeBuild Provider = "CodeBuild"
	ProviderECS       Provider = "ECS"
)

// Owner is the CodePipeline action owner for a provider.
func (p Provider) Owner() string {
	if p == ProviderGitHub {
		return "ThirdParty"
	}
	return "AWS"
}

// RoleName identifies the actor whose permissions an action runs under.
type RoleName string

const (
	RoleBuild    RoleName = "build"
	RolePipeline RoleName = "pipeline"
)

// Artifact is a named bundle handed from one action to later ones. Path, when
// set, points at a single file inside the bundle.
type Artifact struct {
	Name string `json:"name"`
	Path string `json:"path,omitempty"`
}

// NewArtifact returns an artifact referring to the whole bundle.
func NewArtifact(name string) Artifact {
	return Artifact{Name: name}
}

// AtPath refers to a single file inside the artifact.
func (a Artifact) AtPath(path string) Artifact {
	return Artifact{Name: a.Name, Path: path}
}

func (a Artifact) String() string {
	if a.Path == "" {
		return a.Name
	}
	return a.Name + "::" + a.Path
}

// Action is a single unit of work within a stage.
type Action struct {
	Name          string            `json:"name"`
	Category      Category          `json:"category"`
	Provider      Provider          `json:"provider"`
	Role          RoleName          `json:"role"`
	RunOrder      int               `json:"runOrder"`
	Inputs        []Artifact        `json:"inputs,omitempty"`
	Outputs       []Artifact        `json:"outputs,omitempty"`
	Configuration map[string]string `json:"configuration,omitempty"`

	// Environment holds variables exported to build actions.
	Environment map[string]string `json:"environment,omitempty"`
}

// Stage is a named phase of the pipeline.
type Stage struct {
	Name    string   `json:"name"`
	Actions []Action `json:"actions"`
}

// Plan is a fully assembled pipeline. It is never mutated after Build.
type Plan struct {
	Name   string  `json:"name"`
	Stages []Stage `json:"stages"`
}

// Stage returns the stage with the given name.
func (p *Plan) Stage(name string) (Stage, bool) {
	for _, s := range p.Stages {
		if s.Name == name {
			return s, true
		}
	}
	return Stage{}, false
}

// Actions returns every action in execution order.
func (p *Plan) Actions() []Action {
	var actions []Action
	for _, s := range p.Stages {
		actions = append(actions, s.Actions...)
	}
	return actions
}

// Producer returns the action producing the named artifact and the index of
// its stage.
func (p *Plan) Producer(artifact string) (Action, int, bool) {
	for i, s := range p.Stages {
		for _, a := range s.Actions {
			for _, out := range a.Outputs {
				if out.Name == artifact {
					return a, i, true
				}
			}
		}
	}
	return Action{}, -1, false
}

// Builder assembles a Plan stage by stage in declaration order.
type Builder struct {
	name   string
	stages []Stage
}

func NewBuilder(name string) *Builder {
	return &Builder{name: name}
}

// Stage appends a stage. Actions run in the order given.
func (b *Builder) Stage(name string, actions ...Action) *Builder {
	stage := Stage{Name: name}
	for i, a := range actions {
		a.RunOrder = i + 1
		a.Inputs = append([]Artifact(nil), a.Inputs...)
		a.Outputs = append([]Artifact(nil), a.Outputs...)
		a.Configuration = copyMap(a.Configuration)
		a.Environment = copyMap(a.Environment)
		stage.Actions = append(stage.Actions, a)
	}
	b.stages = append(b.stages, stage)
	return b
}

// Build validates and returns the plan.
func (b *Builder) Build() (*Plan, error) {
	plan := &Plan{
		Name:   b.name,
		Stages: append([]Stage(nil), b.stages...),
	}
	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("assemble pipeline %q: %w", b.name, err)
	}
	return plan, nil
}

func copyMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

package runner

import (
	"strings"

	"pulumi-ecs-pipeline/internal/pipeline"
)

const branchRefPrefix = "refs/heads/"

// PushEvent is the subset of a version-control push webhook the source stage
// listens to.
type PushEvent struct {
	Owner  string `json:"owner"`
	Repo   string `json:"repo"`
	Ref    string `json:"ref"`
	Commit string `json:"commit"`
}

// Branch returns the branch name of a refs/heads/ ref, or "" for other refs.
func (e PushEvent) Branch() string {
	if !strings.HasPrefix(e.Ref, branchRefPrefix) {
		return ""
	}
	return strings.TrimPrefix(e.Ref, branchRefPrefix)
}

// Trigger describes what started an execution.
type Trigger struct {
	Owner  string `json:"owner"`
	Repo   string `json:"repo"`
	Branch string `json:"branch"`
	Commit string `json:"commit"`
}

// triggerFor matches an event against the plan's source action.
func triggerFor(plan *pipeline.Plan, event PushEvent) (Trigger, bool) {
	for _, action := range plan.Actions() {
		if action.Category != pipeline.CategorySource {
			continue
		}
		cfg := action.Configuration
		if !strings.EqualFold(cfg[pipeline.ConfigOwner], event.Owner) ||
			!strings.EqualFold(cfg[pipeline.ConfigRepo], event.Repo) {
			continue
		}
		if branch := event.Branch(); branch != "" && branch == cfg[pipeline.ConfigBranch] {
			return Trigger{
				Owner:  cfg[pipeline.ConfigOwner],
				Repo:   cfg[pipeline.ConfigRepo],
				Branch: branch,
				Commit: event.Commit,
			}, true
		}
	}
	return Trigger{}, false
}

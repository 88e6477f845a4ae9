package pipeline

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
)

// ErrInvalidPlan wraps every invariant violation reported by Validate.
var ErrInvalidPlan = errors.New("invalid pipeline plan")

var artifactNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,100}$`)

// Validate checks the structural invariants of a plan:
//
//   - there is at least one stage and each stage has at least one action
//   - stage names and action names are unique and non-empty
//   - every artifact is produced exactly once
//   - every consumed artifact is produced by a strictly earlier stage
//   - every produced artifact is consumed downstream
//   - source actions appear only in the first stage and take no inputs
func (p *Plan) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if p.Name == "" {
		fail("pipeline name is empty")
	}
	if len(p.Stages) == 0 {
		fail("pipeline has no stages")
	}

	stageNames := map[string]bool{}
	actionNames := map[string]bool{}
	producedAt := map[string]int{}
	consumed := map[string]bool{}

	for i, stage := range p.Stages {
		switch {
		case stage.Name == "":
			fail("stage %d has no name", i)
		case stageNames[stage.Name]:
			fail("stage %q is declared more than once", stage.Name)
		}
		stageNames[stage.Name] = true

		if len(stage.Actions) == 0 {
			fail("stage %q has no actions", stage.Name)
		}

		for _, action := range stage.Actions {
			switch {
			case action.Name == "":
				fail("stage %q has an action with no name", stage.Name)
			case actionNames[action.Name]:
				fail("action %q is declared more than once", action.Name)
			}
			actionNames[action.Name] = true

			if action.Role == "" {
				fail("action %q has no role", action.Name)
			}
			if action.Category == CategorySource {
				if i != 0 {
					fail("source action %q must be in the first stage", action.Name)
				}
				if len(action.Inputs) > 0 {
					fail("source action %q must not consume artifacts", action.Name)
				}
			}

			for _, in := range action.Inputs {
				if _, ok := producedAt[in.Name]; !ok {
					fail("action %q consumes artifact %q which no earlier stage produces", action.Name, in.Name)
				}
				consumed[in.Name] = true
			}
		}

		// Outputs are registered after inputs so that a stage never feeds itself.
		for _, action := range stage.Actions {
			for _, out := range action.Outputs {
				if !artifactNamePattern.MatchString(out.Name) {
					fail("action %q output %q is not a valid artifact name", action.Name, out.Name)
				}
				if out.Path != "" {
					fail("action %q output %q must name the whole artifact, not a path", action.Name, out.Name)
				}
				if _, dup := producedAt[out.Name]; dup {
					fail("artifact %q is produced more than once", out.Name)
					continue
				}
				producedAt[out.Name] = i
			}
		}
	}

	for name := range producedAt {
		if !consumed[name] {
			fail("artifact %q is produced but never consumed", name)
		}
	}

	if len(errs) == 0 {
		return nil
	}
	// map iteration above is unordered
	sort.Slice(errs, func(i, j int) bool { return errs[i].Error() < errs[j].Error() })
	return errors.Join(append([]error{ErrInvalidPlan}, errs...)...)
}

// Package policy derives least-privilege roles from a pipeline plan and audits
// role grants against what each role's actions actually need.
package policy

import (
	"fmt"
	"slices"
	"sort"

	"pulumi-ecs-pipeline/internal/pipeline"
)

// Scope is a symbolic resource scope. The infrastructure layer resolves each
// scope to concrete ARNs.
type Scope string

const (
	ScopeArtifactBucket  Scope = "artifact-bucket"
	ScopeArtifactObjects Scope = "artifact-objects"
	ScopeImageBucket     Scope = "image-bucket"
	ScopeImageObjects    Scope = "image-objects"
	ScopeRegistry        Scope = "registry"
	ScopeBuildLogs       Scope = "build-logs"
	ScopeBuildProject    Scope = "build-project"
	ScopeBuildRole       Scope = "build-role"
	ScopeTaskRole        Scope = "task-role"
	ScopeAny             Scope = "*"
)

// Grant allows a role a set of operations on a set of scopes.
type Grant struct {
	Role      pipeline.RoleName
	Actions   []string
	Resources []Scope
}

// Statement is one allow statement inside a role policy.
type Statement struct {
	Sid       string   `json:"sid"`
	Actions   []string `json:"actions"`
	Resources []Scope  `json:"resources"`
}

// Role is a named permission set and the service that assumes it.
type Role struct {
	Name       pipeline.RoleName `json:"name"`
	Principal  string            `json:"principal"`
	Statements []Statement       `json:"statements"`
}

// Allows reports whether the role may perform op on scope.
func (r Role) Allows(op string, scope Scope) bool {
	for _, s := range r.Statements {
		if slices.Contains(s.Actions, op) && slices.Contains(s.Resources, scope) {
			return true
		}
	}
	return false
}

// Principals maps each role to the service principal that assumes it.
var Principals = map[pipeline.RoleName]string{
	pipeline.RoleBuild:    "codebuild.amazonaws.com",
	pipeline.RolePipeline: "codepipeline.amazonaws.com",
}

var (
	artifactRead  = []string{"s3:GetObject", "s3:GetObjectVersion"}
	artifactWrite = []string{"s3:PutObject"}
	bucketInfo    = []string{"s3:GetBucketAcl", "s3:GetBucketLocation"}
)

// Requirements returns every grant the given action needs to run. Actions
// executed by CodePipeline on behalf of another role also require the
// pipeline role to start and observe that work.
func Requirements(action pipeline.Action) ([]Grant, error) {
	switch action.Provider {
	case pipeline.ProviderGitHub:
		return []Grant{
			{Role: action.Role, Actions: concat(artifactWrite, artifactRead), Resources: []Scope{ScopeArtifactObjects}},
			{Role: action.Role, Actions: []string{"s3:GetBucketVersioning"}, Resources: []Scope{ScopeArtifactBucket}},
		}, nil

	case pipeline.ProviderCodeBuild:
		return []Grant{
			{Role: pipeline.RolePipeline, Actions: []string{"codebuild:BatchGetBuilds", "codebuild:StartBuild"}, Resources: []Scope{ScopeBuildProject}},
			{Role: pipeline.RolePipeline, Actions: []string{"iam:PassRole"}, Resources: []Scope{ScopeBuildRole}},
			{Role: action.Role, Actions: concat(artifactRead, artifactWrite), Resources: []Scope{ScopeArtifactObjects, ScopeImageObjects}},
			{Role: action.Role, Actions: bucketInfo, Resources: []Scope{ScopeArtifactBucket, ScopeImageBucket}},
			{Role: action.Role, Actions: []string{"logs:CreateLogGroup", "logs:CreateLogStream", "logs:PutLogEvents"}, Resources: []Scope{ScopeBuildLogs}},
			{Role: action.Role, Actions: []string{"ecr:GetAuthorizationToken"}, Resources: []Scope{ScopeAny}},
			{Role: action.Role, Actions: []string{
				"ecr:BatchCheckLayerAvailability",
				"ecr:BatchGetImage",
				"ecr:CompleteLayerUpload",
				"ecr:GetDownloadUrlForLayer",
				"ecr:InitiateLayerUpload",
				"ecr:PutImage",
				"ecr:UploadLayerPart",
			}, Resources: []Scope{ScopeRegistry}},
			{Role: action.Role, Actions: []string{
				"ec2:CreateNetworkInterface",
				"ec2:DeleteNetworkInterface",
				"ec2:DescribeDhcpOptions",
				"ec2:DescribeNetworkInterfaces",
				"ec2:DescribeSecurityGroups",
				"ec2:DescribeSubnets",
				"ec2:DescribeVpcs",
			}, Resources: []Scope{ScopeAny}},
		}, nil

	case pipeline.ProviderECS:
		return []Grant{
			{Role: action.Role, Actions: artifactRead, Resources: []Scope{ScopeArtifactObjects}},
			{Role: action.Role, Actions: []string{
				"ecs:DescribeServices",
				"ecs:DescribeTaskDefinition",
				"ecs:DescribeTasks",
				"ecs:ListTasks",
				"ecs:RegisterTaskDefinition",
				"ecs:UpdateService",
			}, Resources: []Scope{ScopeAny}},
			{Role: action.Role, Actions: []string{"iam:PassRole"}, Resources: []Scope{ScopeTaskRole}},
		}, nil
	}
	return nil, fmt.Errorf("no permission requirements known for provider %q (action %q)", action.Provider, action.Name)
}

// Derive builds one role per role name used in the plan. A role's statements
// are the union of exactly what its actions require, grouped by scope.
func Derive(plan *pipeline.Plan) ([]Role, error) {
	required, err := requiredTuples(plan)
	if err != nil {
		return nil, err
	}

	byRole := map[pipeline.RoleName]map[Scope]map[string]bool{}
	for _, t := range required {
		if byRole[t.role] == nil {
			byRole[t.role] = map[Scope]map[string]bool{}
		}
		if byRole[t.role][t.scope] == nil {
			byRole[t.role][t.scope] = map[string]bool{}
		}
		byRole[t.role][t.scope][t.op] = true
	}

	var roles []Role
	for _, name := range sortedKeys(byRole) {
		principal, ok := Principals[name]
		if !ok {
			return nil, fmt.Errorf("no principal known for role %q", name)
		}
		role := Role{Name: name, Principal: principal}
		for _, scope := range sortedKeys(byRole[name]) {
			role.Statements = append(role.Statements, Statement{
				Sid:       sid(scope),
				Actions:   sortedKeys(byRole[name][scope]),
				Resources: []Scope{scope},
			})
		}
		roles = append(roles, role)
	}
	return roles, nil
}

// Find returns the named role.
func Find(roles []Role, name pipeline.RoleName) (Role, bool) {
	for _, r := range roles {
		if r.Name == name {
			return r, true
		}
	}
	return Role{}, false
}

type tuple struct {
	role  pipeline.RoleName
	op    string
	scope Scope
}

func requiredTuples(plan *pipeline.Plan) ([]tuple, error) {
	var tuples []tuple
	for _, action := range plan.Actions() {
		grants, err := Requirements(action)
		if err != nil {
			return nil, err
		}
		for _, g := range grants {
			for _, op := range g.Actions {
				for _, scope := range g.Resources {
					tuples = append(tuples, tuple{role: g.Role, op: op, scope: scope})
				}
			}
		}
	}
	return tuples, nil
}

// sid turns a scope into a statement id: "artifact-objects" -> "ArtifactObjects".
func sid(scope Scope) string {
	if scope == ScopeAny {
		return "AnyResource"
	}
	out := make([]byte, 0, len(scope))
	upper := true
	for i := 0; i < len(scope); i++ {
		c := scope[i]
		if c == '-' {
			upper = true
			continue
		}
		if upper && c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		upper = false
		out = append(out, c)
	}
	return string(out)
}

func sortedKeys[K ~string, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func concat(parts ...[]string) []string {
	var out []string
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

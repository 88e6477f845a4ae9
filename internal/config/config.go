// Package config collects every deployment parameter into one validated value.
//
// Parameters come from the process environment. Load reports every missing or
// malformed key at once instead of failing on first use.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

const (
	DefaultContainerImage = "php:7.3-apache-stretch"
	DefaultSourceOwner    = "SPHTech"
	DefaultSourceRepo     = "laravel-blog"
	DefaultSourceBranch   = "dev"
)

// LookupFunc resolves a single key. os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

type SecurityGroup struct {
	Name string
	ID   string
}

type Network struct {
	VpcID                     string
	ServiceSubnetIDs          []string
	LoadBalancerSubnetIDs     []string
	ServiceSecurityGroup      SecurityGroup
	LoadBalancerSecurityGroup SecurityGroup
}

type Registry struct {
	Name string
}

type Service struct {
	Cluster      string
	Container    string
	Name         string
	Image        string
	LoadBalancer string
	LogSuffix    string

	// BootstrapContext is an optional docker build context pushed to the
	// registry and used as the service's first image.
	BootstrapContext string
	// BootstrapDockerfile defaults to the Dockerfile at the context root.
	BootstrapDockerfile string
}

type Source struct {
	Owner  string
	Repo   string
	Branch string
	Token  string
}

type Pipeline struct {
	Name           string
	ArtifactBucket string
	ImageBucket    string
	BuildSpec      string
	BuildEnv       string
	Source         Source
}

// Config is built once at startup and passed by value.
type Config struct {
	AccountID string
	Region    string
	Registry  Registry
	Network   Network
	Service   Service
	Pipeline  Pipeline
}

// String renders the configuration with the source token redacted.
func (c Config) String() string {
	redacted := c
	if redacted.Pipeline.Source.Token != "" {
		redacted.Pipeline.Source.Token = "REDACTED"
	}
	type plain Config
	return fmt.Sprintf("%+v", plain(redacted))
}

// Error lists every configuration problem found during Load.
type Error struct {
	Missing []string
	Invalid []string
}

func (e *Error) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing required keys: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "invalid values: "+strings.Join(e.Invalid, "; "))
	}
	return "configuration error: " + strings.Join(parts, "; ")
}

// FromEnv loads the configuration from the process environment.
func FromEnv() (Config, error) {
	return Load(os.LookupEnv)
}

// FromMap loads the configuration from a map, mostly for tests and tooling.
func FromMap(values map[string]string) (Config, error) {
	return Load(func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	})
}

var (
	accountPattern  = regexp.MustCompile(`^\d{12}$`)
	regionPattern   = regexp.MustCompile(`^[a-z]{2}(-gov)?-[a-z]+-\d$`)
	registryPattern = regexp.MustCompile(`^[a-z0-9]+(?:[._-][a-z0-9]+)*(?:/[a-z0-9]+(?:[._-][a-z0-9]+)*)*$`)
	bucketPattern   = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)
)

// Load builds a Config. On failure the returned error is a *Error.
func Load(lookup LookupFunc) (Config, error) {
	r := &reader{lookup: lookup}

	cfg := Config{
		AccountID: r.require("AWS_ACCOUNT_ID", "CDK_DEFAULT_ACCOUNT"),
		Region:    r.require("AWS_REGION", "CDK_DEFAULT_REGION"),
		Registry: Registry{
			Name: r.require("ECR_REPOSITORY"),
		},
		Network: Network{
			VpcID:                 r.require("VPC_ID"),
			ServiceSubnetIDs:      r.list("SERVICE_SUBNET_IDS"),
			LoadBalancerSubnetIDs: r.list("LB_SUBNET_IDS"),
			ServiceSecurityGroup: SecurityGroup{
				Name: r.require("SECURITY_GROUP_NAME"),
				ID:   r.require("SECURITY_GROUP_ID"),
			},
			LoadBalancerSecurityGroup: SecurityGroup{
				Name: r.require("LB_SECURITY_GROUP_NAME"),
				ID:   r.require("LB_SECURITY_GROUP_ID"),
			},
		},
		Service: Service{
			Cluster:             r.require("ECS_CLUSTER"),
			Container:           r.require("CONTAINER"),
			Name:                r.require("SERVICE"),
			Image:               r.optional("CONTAINER_IMAGE", DefaultContainerImage),
			LoadBalancer:        r.require("LOAD_BALANCER"),
			LogSuffix:           r.require("SUFFIX"),
			BootstrapContext:    r.optional("BOOTSTRAP_IMAGE_CONTEXT", ""),
			BootstrapDockerfile: r.optional("BOOTSTRAP_DOCKERFILE", ""),
		},
		Pipeline: Pipeline{
			Name:           r.require("PIPELINE_NAME"),
			ArtifactBucket: r.require("PIPELINE_BUCKET"),
			ImageBucket:    r.require("ECS_BUCKET"),
			BuildSpec:      r.require("CODE_BUILD_SPEC_FILENAME", "COODE_BUILD_SPEC_FILENAME"),
			BuildEnv:       r.require("BUILD_ENV"),
			Source: Source{
				Owner:  r.optional("GITHUB_OWNER", DefaultSourceOwner),
				Repo:   r.optional("GITHUB_REPO", DefaultSourceRepo),
				Branch: r.optional("GITHUB_BRANCH", DefaultSourceBranch),
				Token:  r.require("GITHUB_TOKEN"),
			},
		},
	}

	r.match("AWS_ACCOUNT_ID", cfg.AccountID, accountPattern, "must be 12 digits")
	r.match("AWS_REGION", cfg.Region, regionPattern, "must look like ap-southeast-1")
	r.match("ECR_REPOSITORY", cfg.Registry.Name, registryPattern, "must be a valid repository name")
	r.prefix("VPC_ID", "vpc-", cfg.Network.VpcID)
	r.prefix("SERVICE_SUBNET_IDS", "subnet-", cfg.Network.ServiceSubnetIDs...)
	r.prefix("LB_SUBNET_IDS", "subnet-", cfg.Network.LoadBalancerSubnetIDs...)
	r.prefix("SECURITY_GROUP_ID", "sg-", cfg.Network.ServiceSecurityGroup.ID)
	r.prefix("LB_SECURITY_GROUP_ID", "sg-", cfg.Network.LoadBalancerSecurityGroup.ID)
	r.match("PIPELINE_BUCKET", cfg.Pipeline.ArtifactBucket, bucketPattern, "must be a valid bucket name")
	r.match("ECS_BUCKET", cfg.Pipeline.ImageBucket, bucketPattern, "must be a valid bucket name")

	// An empty list is already reported by list.
	if n := len(cfg.Network.LoadBalancerSubnetIDs); n == 1 {
		r.invalid("LB_SUBNET_IDS", "an application load balancer needs at least two subnets")
	}
	if n := len(cfg.Service.LoadBalancer); n > 32 {
		r.invalid("LOAD_BALANCER", fmt.Sprintf("must be at most 32 characters, got %d", n))
	}
	switch {
	case cfg.Service.BootstrapDockerfile != "" && cfg.Service.BootstrapContext == "":
		r.invalid("BOOTSTRAP_DOCKERFILE", "requires BOOTSTRAP_IMAGE_CONTEXT")
	case cfg.Service.BootstrapContext != "" && cfg.Service.BootstrapDockerfile == "":
		cfg.Service.BootstrapDockerfile = filepath.Join(cfg.Service.BootstrapContext, "Dockerfile")
	}
	if cfg.Pipeline.ArtifactBucket != "" && cfg.Pipeline.ArtifactBucket == cfg.Pipeline.ImageBucket {
		r.invalid("PIPELINE_BUCKET", "must differ from ECS_BUCKET")
	}

	if err := r.err(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type reader struct {
	lookup   LookupFunc
	missing  []string
	problems []string
}

func (r *reader) get(keys ...string) (string, bool) {
	for _, key := range keys {
		if v, ok := r.lookup(key); ok {
			if v = strings.TrimSpace(v); v != "" {
				return v, true
			}
		}
	}
	return "", false
}

func (r *reader) require(keys ...string) string {
	v, ok := r.get(keys...)
	if !ok {
		r.missing = append(r.missing, keys[0])
	}
	return v
}

func (r *reader) optional(key, fallback string) string {
	if v, ok := r.get(key); ok {
		return v
	}
	return fallback
}

func (r *reader) list(key string) []string {
	raw := r.require(key)
	if raw == "" {
		return nil
	}
	var items []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	if len(items) == 0 {
		r.invalid(key, "must list at least one ID")
	}
	return items
}

func (r *reader) invalid(key, reason string) {
	r.problems = append(r.problems, key+": "+reason)
}

func (r *reader) match(key, value string, pattern *regexp.Regexp, reason string) {
	if value != "" && !pattern.MatchString(value) {
		r.invalid(key, fmt.Sprintf("%q %s", value, reason))
	}
}

func (r *reader) prefix(key, prefix string, values ...string) {
	for _, v := range values {
		if v != "" && !strings.HasPrefix(v, prefix) {
			r.invalid(key, fmt.Sprintf("%q must start with %q", v, prefix))
		}
	}
}

func (r *reader) err() error {
	if len(r.missing) == 0 && len(r.problems) == 0 {
		return nil
	}
	sort.Strings(r.missing)
	sort.Strings(r.problems)
	return &Error{Missing: r.missing, Invalid: r.problems}
}

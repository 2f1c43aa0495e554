package worker

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ResourceLimits caps a worker's resource consumption (§4.6, §6.3).
type ResourceLimits struct {
	MemoryLimitBytes    int64 `yaml:"memory_limit_bytes"`
	CPUTimeLimitSeconds int   `yaml:"cpu_time_limit_seconds"`
}

// InvocationTemplate names the program and the shape of the flags the
// controller fills in to launch a worker (§6.3).
type InvocationTemplate struct {
	Program string   `yaml:"program"`
	Args    []string `yaml:"args"`
}

// Profile is a static worker-profile registry record (§6.3):
// "{id, display_name, description, supported_target_kinds, resource_limits,
// timeout, invocation_template}. Adding a profile is a configuration
// change, not a code change."
type Profile struct {
	ID                  string             `yaml:"id"`
	DisplayName         string             `yaml:"display_name"`
	Description         string             `yaml:"description"`
	SupportedTargetKinds []string          `yaml:"supported_target_kinds"`
	ResourceLimits      ResourceLimits     `yaml:"resource_limits"`
	Timeout             time.Duration      `yaml:"timeout"`
	InvocationTemplate  InvocationTemplate `yaml:"invocation_template"`
}

// RenderArgs fills the profile's argument template with the invocation's
// concrete values. Template tokens are substituted literally; no shell is
// involved until wrapWithRlimits (Linux) wraps the final argv, so values
// here never need shell quoting themselves.
func (p Profile) RenderArgs(inv Invocation, findingsPath string) []string {
	sub := map[string]string{
		"{{mini_spec}}":     inv.MiniSpecPath,
		"{{target_url}}":    inv.TargetURL,
		"{{output}}":        findingsPath,
		"{{max_requests}}":  strconv.Itoa(inv.MaxRequests),
		"{{rps}}":           strconv.FormatFloat(inv.RPS, 'f', -1, 64),
		"{{dangerous_mode}}": strconv.FormatBool(inv.DangerousMode),
		"{{fuzz_auth}}":     strconv.FormatBool(inv.FuzzAuth),
	}
	args := make([]string, len(p.InvocationTemplate.Args))
	for i, a := range p.InvocationTemplate.Args {
		if v, ok := sub[a]; ok {
			args[i] = v
		} else {
			args[i] = a
		}
	}
	return args
}

// RenderEnv builds the child process environment: the ambient PATH/HOME
// the child needs to resolve its interpreter and write temp files, plus the
// invocation's dangerous-mode and fuzz-auth flags. A profile carries no
// environment template of its own.
func (p Profile) RenderEnv(inv Invocation) []string {
	env := []string{
		"PATH=" + os.Getenv("PATH"),
		"HOME=" + os.Getenv("HOME"),
		fmt.Sprintf("ORCHESTRATOR_DANGEROUS_MODE=%t", inv.DangerousMode),
		fmt.Sprintf("ORCHESTRATOR_FUZZ_AUTH=%t", inv.FuzzAuth),
	}
	return env
}

// defaultRegistry is the built-in fallback when no registry file is
// configured (§6.3: "A built-in ventiapi profile ships as the default
// registry entry").
func defaultRegistry() map[string]Profile {
	return map[string]Profile{
		"ventiapi": {
			ID:                  "ventiapi",
			DisplayName:         "VentiAPI Scanner",
			Description:         "Default bundled OpenAPI-driven security scanner",
			SupportedTargetKinds: []string{"rest", "openapi"},
			ResourceLimits: ResourceLimits{
				MemoryLimitBytes:    512 * 1024 * 1024,
				CPUTimeLimitSeconds: 300,
			},
			Timeout: 8 * time.Minute,
			InvocationTemplate: InvocationTemplate{
				Program: "ventiapi-scan",
				Args: []string{
					"--spec", "{{mini_spec}}",
					"--target", "{{target_url}}",
					"--output", "{{output}}",
					"--max-requests", "{{max_requests}}",
					"--rps", "{{rps}}",
				},
			},
		},
	}
}

// Registry resolves a worker profile by id.
type Registry struct {
	profiles map[string]Profile
}

// NewRegistry builds a Registry seeded with the built-in ventiapi profile.
func NewRegistry() *Registry {
	return &Registry{profiles: defaultRegistry()}
}

// LoadFile merges profile definitions from a YAML file into the registry,
// overriding any built-in entry with the same id (§6.3: "loaded from a
// YAML file at startup").
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("worker: failed to read profile registry %s: %w", path, err)
	}

	var doc struct {
		Profiles []Profile `yaml:"profiles"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("worker: failed to parse profile registry %s: %w", path, err)
	}

	for _, p := range doc.Profiles {
		if p.ID == "" {
			return fmt.Errorf("worker: profile registry %s has an entry with no id", path)
		}
		r.profiles[p.ID] = p
	}
	return nil
}

// Get resolves id, returning false if no such profile is registered.
func (r *Registry) Get(id string) (Profile, bool) {
	p, ok := r.profiles[id]
	return p, ok
}

// List returns every registered profile, used by list-scanners (§4.9).
func (r *Registry) List() []Profile {
	out := make([]Profile, 0, len(r.profiles))
	for _, p := range r.profiles {
		out = append(out, p)
	}
	return out
}

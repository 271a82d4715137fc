// SPDX-License-Identifier: Apache-2.0

// Package config loads the frozen configuration object spec §6 describes:
// server bind address and timeouts, per-backend transport specs with
// failsafe overrides, meta-mcp options, cache options, global failsafe
// defaults, error-budget config, and playbook/capability directories. The
// core never reads files directly — this package is the sole collaborator
// that does, via gopkg.in/yaml.v3 for the file itself and spf13/viper for
// environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/MikkoParkkola/mcp-gateway/pkg/gateway/failsafe"
	"github.com/MikkoParkkola/mcp-gateway/pkg/gateway/killswitch"
	"github.com/MikkoParkkola/mcp-gateway/pkg/gateway/profile"
	"github.com/MikkoParkkola/mcp-gateway/pkg/gateway/transform"
)

// ServerConfig configures the ingress HTTP/SSE listener (spec §6).
type ServerConfig struct {
	BindAddress     string   `yaml:"bind_address"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// BackendConfig configures one backend: its transport variant and the
// per-backend failsafe overrides layered on top of the global defaults.
type BackendConfig struct {
	Name string `yaml:"name"`
	// Transport is one of "stdio", "http", "capability".
	Transport string `yaml:"transport"`

	// stdio
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	Env     []string `yaml:"env"`

	// http
	BaseURL string            `yaml:"base_url"`
	Headers map[string]string `yaml:"headers"`

	// capability
	CapabilityFile string `yaml:"capability_file"`

	ConcurrencyLimit int      `yaml:"concurrency_limit"`
	ToolsTTL         Duration `yaml:"tools_ttl"`
	CacheTTL         Duration `yaml:"cache_ttl"`

	Failsafe *FailsafeOverride `yaml:"failsafe"`

	// Transforms declares the provider-level tool transforms (namespace
	// prefixing, name filtering, renaming, response projection/redaction)
	// applied to this backend's tool list and invocations, in that fixed
	// order (spec §4.9 extension: provider transforms).
	Transforms *TransformConfig `yaml:"transforms"`
}

// TransformConfig declares one backend's transform chain, each stage
// optional and applied in the fixed order namespace, filter, rename,
// response.
type TransformConfig struct {
	Namespace *NamespaceConfig  `yaml:"namespace"`
	Filter    *FilterConfig     `yaml:"filter"`
	Rename    map[string]string `yaml:"rename"`
	Response  *ResponseConfig   `yaml:"response"`
}

// NamespaceConfig prefixes every tool name with "<prefix><separator>".
type NamespaceConfig struct {
	Prefix    string `yaml:"prefix"`
	Separator string `yaml:"separator"`
}

// FilterConfig allows or denies tools by exact name or trailing-"*" glob.
type FilterConfig struct {
	Allow []string `yaml:"allow"`
	Deny  []string `yaml:"deny"`
}

// ResponseConfig reshapes a tool's result: Project keeps only the listed
// top-level keys, Rename renames top-level keys, Redact replaces regexp
// matches inside string values.
type ResponseConfig struct {
	Project []string     `yaml:"project"`
	Rename  map[string]string `yaml:"rename"`
	Redact  []RedactRule `yaml:"redact"`
}

// RedactRule replaces every regexp match of Pattern with Replacement.
type RedactRule struct {
	Pattern     string `yaml:"pattern"`
	Replacement string `yaml:"replacement"`
}

// FailsafeOverride carries the subset of failsafe.StackConfig an operator
// may override per backend; zero fields fall back to the global default.
type FailsafeOverride struct {
	FailureThreshold int      `yaml:"failure_threshold"`
	SuccessThreshold int      `yaml:"success_threshold"`
	ResetTimeout     Duration `yaml:"reset_timeout"`
	MaxProbes        int      `yaml:"max_probes"`

	RefillPerSecond float64 `yaml:"refill_per_second"`
	Burst           int     `yaml:"burst"`

	MaxAttempts     int      `yaml:"max_attempts"`
	InitialInterval Duration `yaml:"initial_interval"`
	MaxInterval     Duration `yaml:"max_interval"`

	UnhealthyAfter int `yaml:"unhealthy_after"`
}

// MetaMCPConfig configures the meta-tool dispatcher's startup behavior.
type MetaMCPConfig struct {
	WarmStart        []string `yaml:"warm_start"` // empty means "all"
	IncludeSchema    bool     `yaml:"include_schema_default"`
	GlobalInflightCap int     `yaml:"global_inflight_cap"`
}

// CacheConfig configures the response cache (spec §4.4).
type CacheConfig struct {
	DefaultTTL Duration `yaml:"default_ttl"`
	MaxEntries int      `yaml:"max_entries"`
}

// ErrorBudgetConfig mirrors killswitch.BudgetConfig in the on-disk shape.
type ErrorBudgetConfig struct {
	WindowSize     int      `yaml:"window_size"`
	WindowAge      Duration `yaml:"window_age"`
	Threshold      float64  `yaml:"threshold"`
	MinCalls       int      `yaml:"min_calls"`
	WarnAtFraction float64  `yaml:"warn_at_fraction"`
}

// SecurityConfig names the auth and policy handles the core forwards
// opaquely to the (out-of-scope) auth middleware and secret collaborator.
type SecurityConfig struct {
	AuthPolicyHandle string `yaml:"auth_policy_handle"`
	SecretStoreHandle string `yaml:"secret_store_handle"`
}

// Config is the frozen configuration object the core receives, per spec §6.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Backends    []BackendConfig   `yaml:"backends"`
	MetaMCP     MetaMCPConfig     `yaml:"meta_mcp"`
	Cache       CacheConfig       `yaml:"cache"`
	Failsafe    FailsafeOverride  `yaml:"failsafe_defaults"`
	ErrorBudget ErrorBudgetConfig `yaml:"error_budget"`
	Security    SecurityConfig    `yaml:"security"`

	PlaybookDirs   []string `yaml:"playbook_dirs"`
	CapabilityDirs []string `yaml:"capability_dirs"`
	StateDir       string   `yaml:"state_dir"`

	// RoutingProfiles declares named allow/deny rules over backends and
	// tools that sessions can bind to (spec §4.9 extension: routing
	// profiles). DefaultProfile names the profile new sessions start on; an
	// empty value falls back to "full" (unrestricted).
	RoutingProfiles map[string]profile.Config `yaml:"routing_profiles"`
	DefaultProfile  string                    `yaml:"default_profile"`
}

// Load reads path with yaml.v3, then layers environment-variable overrides
// (prefixed MCP_GATEWAY_, nested keys joined with "_") via viper on top.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("MCP_GATEWAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	// viper's own struct decoding does not understand this package's custom
	// yaml.v3 Duration unmarshaler, so the file is parsed twice: once by
	// yaml.v3 directly for full fidelity (durations, nested structs), and
	// once by viper purely to source environment overrides, applied below
	// as a raw-value merge.
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	applyEnvOverrides(&cfg, v)
	return cfg, nil
}

// applyEnvOverrides layers a small set of commonly-overridden scalar fields
// from viper (env vars / flags) onto cfg. This mirrors the teacher's own
// config layering: the file is authoritative for structure, the
// environment is authoritative for a handful of deploy-time scalars.
func applyEnvOverrides(cfg *Config, v *viper.Viper) {
	if v.IsSet("server.bind_address") {
		cfg.Server.BindAddress = v.GetString("server.bind_address")
	}
	if v.IsSet("state_dir") {
		cfg.StateDir = v.GetString("state_dir")
	}
	if v.IsSet("cache.max_entries") {
		cfg.Cache.MaxEntries = v.GetInt("cache.max_entries")
	}
}

// ResolveFailsafeStack builds a failsafe.StackConfig for a backend by
// layering its override (if any) on top of the global default.
func ResolveFailsafeStack(global FailsafeOverride, override *FailsafeOverride) failsafe.StackConfig {
	merged := global
	if override != nil {
		mergeFailsafeOverride(&merged, override)
	}

	cfg := failsafe.DefaultStackConfig()
	if merged.FailureThreshold > 0 {
		cfg.CircuitBreaker.FailureThreshold = merged.FailureThreshold
	}
	if merged.SuccessThreshold > 0 {
		cfg.CircuitBreaker.SuccessThreshold = merged.SuccessThreshold
	}
	if merged.ResetTimeout > 0 {
		cfg.CircuitBreaker.ResetTimeout = merged.ResetTimeout.AsDuration()
	}
	if merged.MaxProbes > 0 {
		cfg.CircuitBreaker.MaxProbes = merged.MaxProbes
	}
	if merged.RefillPerSecond > 0 {
		cfg.RateLimiter.RefillPerSecond = merged.RefillPerSecond
	}
	if merged.Burst > 0 {
		cfg.RateLimiter.Burst = merged.Burst
	}
	if merged.MaxAttempts > 0 {
		cfg.Retry.MaxAttempts = merged.MaxAttempts
	}
	if merged.InitialInterval > 0 {
		cfg.Retry.InitialInterval = merged.InitialInterval.AsDuration()
	}
	if merged.MaxInterval > 0 {
		cfg.Retry.MaxInterval = merged.MaxInterval.AsDuration()
	}
	if merged.UnhealthyAfter > 0 {
		cfg.UnhealthyAfter = merged.UnhealthyAfter
	}
	return cfg
}

func mergeFailsafeOverride(dst *FailsafeOverride, src *FailsafeOverride) {
	if src.FailureThreshold > 0 {
		dst.FailureThreshold = src.FailureThreshold
	}
	if src.SuccessThreshold > 0 {
		dst.SuccessThreshold = src.SuccessThreshold
	}
	if src.ResetTimeout > 0 {
		dst.ResetTimeout = src.ResetTimeout
	}
	if src.MaxProbes > 0 {
		dst.MaxProbes = src.MaxProbes
	}
	if src.RefillPerSecond > 0 {
		dst.RefillPerSecond = src.RefillPerSecond
	}
	if src.Burst > 0 {
		dst.Burst = src.Burst
	}
	if src.MaxAttempts > 0 {
		dst.MaxAttempts = src.MaxAttempts
	}
	if src.InitialInterval > 0 {
		dst.InitialInterval = src.InitialInterval
	}
	if src.MaxInterval > 0 {
		dst.MaxInterval = src.MaxInterval
	}
	if src.UnhealthyAfter > 0 {
		dst.UnhealthyAfter = src.UnhealthyAfter
	}
}

// BuildTransformChain compiles a backend's declared TransformConfig into an
// executable transform.Chain in the fixed namespace→filter→rename→response
// order, skipping any stage the operator left unconfigured. A nil cfg
// yields a nil chain, which every transform.Chain method treats as a
// no-op.
func BuildTransformChain(name string, cfg *TransformConfig) *transform.Chain {
	if cfg == nil {
		return nil
	}
	var stages []transform.Transform
	if cfg.Namespace != nil && cfg.Namespace.Prefix != "" {
		stages = append(stages, transform.NewNamespaceTransformWithSeparator(cfg.Namespace.Prefix, cfg.Namespace.Separator))
	}
	if cfg.Filter != nil {
		stages = append(stages, transform.NewFilterTransform(cfg.Filter.Allow, cfg.Filter.Deny))
	}
	if len(cfg.Rename) > 0 {
		stages = append(stages, transform.NewRenameTransform(cfg.Rename))
	}
	if cfg.Response != nil {
		redact := make([]transform.RedactRule, len(cfg.Response.Redact))
		for i, r := range cfg.Response.Redact {
			redact[i] = transform.RedactRule{Pattern: r.Pattern, Replacement: r.Replacement}
		}
		stages = append(stages, transform.NewResponseTransform(transform.ResponseConfig{
			Project: cfg.Response.Project,
			Rename:  cfg.Response.Rename,
			Redact:  redact,
		}))
	}
	if len(stages) == 0 {
		return nil
	}
	return transform.NewChain(name, stages...)
}

// ResolveErrorBudget converts the on-disk error-budget config into
// killswitch.BudgetConfig.
func ResolveErrorBudget(cfg ErrorBudgetConfig) killswitch.BudgetConfig {
	def := killswitch.DefaultBudgetConfig()
	if cfg.WindowSize > 0 {
		def.WindowSize = cfg.WindowSize
	}
	if cfg.WindowAge > 0 {
		def.WindowAge = cfg.WindowAge.AsDuration()
	}
	if cfg.Threshold > 0 {
		def.Threshold = cfg.Threshold
	}
	if cfg.MinCalls > 0 {
		def.MinCalls = cfg.MinCalls
	}
	if cfg.WarnAtFraction > 0 {
		def.WarnAtFraction = cfg.WarnAtFraction
	}
	return def
}

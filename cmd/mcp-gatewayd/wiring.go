// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/MikkoParkkola/mcp-gateway/pkg/gateway"
	"github.com/MikkoParkkola/mcp-gateway/pkg/gateway/cache"
	gwcapability "github.com/MikkoParkkola/mcp-gateway/pkg/gateway/capability"
	"github.com/MikkoParkkola/mcp-gateway/pkg/gateway/config"
	"github.com/MikkoParkkola/mcp-gateway/pkg/gateway/dispatcher"
	"github.com/MikkoParkkola/mcp-gateway/pkg/gateway/failsafe"
	"github.com/MikkoParkkola/mcp-gateway/pkg/gateway/idempotency"
	"github.com/MikkoParkkola/mcp-gateway/pkg/gateway/killswitch"
	"github.com/MikkoParkkola/mcp-gateway/pkg/gateway/playbook"
	"github.com/MikkoParkkola/mcp-gateway/pkg/gateway/profile"
	"github.com/MikkoParkkola/mcp-gateway/pkg/gateway/ranker"
	"github.com/MikkoParkkola/mcp-gateway/pkg/gateway/registry"
	"github.com/MikkoParkkola/mcp-gateway/pkg/gateway/session"
	"github.com/MikkoParkkola/mcp-gateway/pkg/gateway/stats"
	"github.com/MikkoParkkola/mcp-gateway/pkg/gateway/transport"
)

// app bundles every long-lived collaborator main.go needs to start serving
// and to drain on shutdown.
type app struct {
	cfg        config.Config
	registry   *registry.Registry
	dispatcher *dispatcher.Dispatcher
	usage      *ranker.UsageStore
	sessions   *session.Tracker
	log        *zap.Logger
}

// noopSecrets resolves {env.*} placeholders from the process environment
// and rejects every {keychain.*} and {auth:*} placeholder; those need a real
// secret collaborator wired in by the deployment, which is out of scope for
// the core per spec §1's "out of scope" list.
type noopSecrets struct{}

func (noopSecrets) ResolveEnv(name string) (string, error) {
	if v, ok := os.LookupEnv(name); ok {
		return v, nil
	}
	return "", fmt.Errorf("environment variable %q not set", name)
}
func (noopSecrets) ResolveKeychain(name string) (string, error) {
	return "", fmt.Errorf("no keychain collaborator configured for %q", name)
}
func (noopSecrets) ResolveAuth(provider string) (string, error) {
	return "", fmt.Errorf("no auth collaborator configured for %q", provider)
}

func buildApp(cfg config.Config, log *zap.Logger) (*app, error) {
	reg := registry.New(log)

	for _, bc := range cfg.Backends {
		tr, kind, err := buildTransport(bc, log)
		if err != nil {
			return nil, fmt.Errorf("backend %s: %w", bc.Name, err)
		}
		stackCfg := config.ResolveFailsafeStack(cfg.Failsafe, bc.Failsafe)
		stack := failsafe.NewStack(stackCfg, gateway.SystemClock{})
		backend := registry.NewBackend(bc.Name, kind, tr, stack, bc.ConcurrencyLimit, bc.ToolsTTL.AsDuration())
		backend.SetTransforms(config.BuildTransformChain(bc.Name, bc.Transforms))
		reg.Register(backend)
	}

	usage := ranker.NewUsageStore()
	usagePath := filepath.Join(cfg.StateDir, "usage.json")
	if err := usage.Load(usagePath); err != nil {
		log.Warn("failed to load usage state", zap.Error(err))
	}

	sessions := session.New()
	transitionsPath := filepath.Join(cfg.StateDir, "transitions.json")
	if err := sessions.Load(transitionsPath); err != nil {
		log.Warn("failed to load transition state", zap.Error(err))
	}

	d := &dispatcher.Dispatcher{
		Registry:             reg,
		KillSwitch:           killswitch.New(config.ResolveErrorBudget(cfg.ErrorBudget)),
		Cache:                cache.New(cfg.Cache.MaxEntries, gateway.SystemClock{}),
		Idempotency:          idempotency.New(0, 0, gateway.SystemClock{}),
		Usage:                usage,
		Sessions:             sessions,
		Stats:                stats.New(),
		Clock:                gateway.SystemClock{},
		Log:                  log,
		DefaultCacheTTL:      cfg.Cache.DefaultTTL.AsDuration(),
		IncludeSchemaDefault: cfg.MetaMCP.IncludeSchema,
		CacheTTLFor:          cacheTTLResolver(cfg.Backends),
		Profiles:             profile.NewRegistry(cfg.RoutingProfiles, cfg.DefaultProfile),
		ProfileSessions:      profile.NewSessionStore(),
	}

	playbooks := map[string]playbook.Definition{}
	for _, dir := range cfg.PlaybookDirs {
		loaded, err := playbook.LoadDir(dir)
		if err != nil {
			log.Warn("failed to load playbook directory", zap.String("dir", dir), zap.Error(err))
			continue
		}
		for name, def := range loaded {
			playbooks[name] = def
		}
	}
	if len(playbooks) > 0 {
		d.Playbooks = dispatcher.NewPlaybookRunner(playbooks, d)
	}

	return &app{cfg: cfg, registry: reg, dispatcher: d, usage: usage, sessions: sessions, log: log}, nil
}

func cacheTTLResolver(backends []config.BackendConfig) func(server, tool string) time.Duration {
	byServer := make(map[string]time.Duration, len(backends))
	for _, bc := range backends {
		if bc.CacheTTL > 0 {
			byServer[bc.Name] = bc.CacheTTL.AsDuration()
		}
	}
	return func(server, _ string) time.Duration {
		return byServer[server]
	}
}

func buildTransport(bc config.BackendConfig, log *zap.Logger) (gateway.Transport, gateway.TransportKind, error) {
	switch bc.Transport {
	case "stdio":
		tr := transport.NewSubprocess(transport.SubprocessConfig{
			Command: bc.Command,
			Args:    bc.Args,
			Env:     bc.Env,
		}, log.Named(bc.Name))
		return tr, gateway.TransportStdio, nil
	case "http":
		tr := transport.NewHTTP(transport.HTTPConfig{
			BaseURL: bc.BaseURL,
			Headers: bc.Headers,
		}, http.DefaultClient, log.Named(bc.Name))
		return tr, gateway.TransportHTTP, nil
	case "capability":
		def, err := gwcapability.LoadFile(bc.CapabilityFile)
		if err != nil {
			return nil, "", err
		}
		tr := transport.NewCapability(def.Def, http.DefaultClient, noopSecrets{})
		return tr, gateway.TransportCapability, nil
	default:
		return nil, "", fmt.Errorf("unknown transport kind %q", bc.Transport)
	}
}

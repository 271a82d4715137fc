// SPDX-License-Identifier: Apache-2.0

// Package registry owns the set of configured backends, spawning or
// connecting them lazily, caching each source's tool list, and running the
// periodic ping loop of spec §4.6.
package registry

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/MikkoParkkola/mcp-gateway/pkg/gateway"
	"github.com/MikkoParkkola/mcp-gateway/pkg/gateway/failsafe"
	"github.com/MikkoParkkola/mcp-gateway/pkg/gateway/transform"
)

// Backend is one configured source: a stable name, its transport, lifecycle
// state, caches, a bounded concurrency limit, and an owned failsafe stack
// (spec §3, "Backend record"). Backends are owned exclusively by the
// registry and never shared across registries.
type Backend struct {
	Name          string
	TransportKind gateway.TransportKind
	Transport     gateway.Transport
	Stack         *failsafe.Stack

	mu           sync.Mutex
	state        gateway.BackendState
	tools        []gateway.ToolDescriptor
	toolsFetched time.Time
	toolsTTL     time.Duration
	transforms   *transform.Chain

	sem chan struct{} // per-backend concurrency limiter
}

// NewBackend creates a Backend record. concurrencyLimit <= 0 means
// unbounded per-backend concurrency.
func NewBackend(name string, kind gateway.TransportKind, tr gateway.Transport, stack *failsafe.Stack, concurrencyLimit int, toolsTTL time.Duration) *Backend {
	var sem chan struct{}
	if concurrencyLimit > 0 {
		sem = make(chan struct{}, concurrencyLimit)
	}
	if toolsTTL <= 0 {
		toolsTTL = 5 * time.Minute
	}
	return &Backend{
		Name:          name,
		TransportKind: kind,
		Transport:     tr,
		Stack:         stack,
		state:         gateway.StateRegistered,
		sem:           sem,
		toolsTTL:      toolsTTL,
	}
}

// State returns the backend's current lifecycle state.
func (b *Backend) State() gateway.BackendState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Backend) setState(s gateway.BackendState) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
}

// acquire blocks until a per-backend concurrency slot is free, or ctx is
// cancelled.
func (b *Backend) acquire(ctx context.Context) error {
	if b.sem == nil {
		return nil
	}
	select {
	case b.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Backend) release() {
	if b.sem != nil {
		<-b.sem
	}
}

// EnsureConnected lazily starts the backend's transport on first use.
func (b *Backend) EnsureConnected(ctx context.Context) error {
	b.mu.Lock()
	if b.state == gateway.StateRunning {
		b.mu.Unlock()
		return nil
	}
	b.state = gateway.StateConnecting
	b.mu.Unlock()

	if err := b.Transport.Start(ctx); err != nil {
		b.setState(gateway.StateFailed)
		return gateway.NewError(gateway.KindTransport, "connect backend", err)
	}
	b.setState(gateway.StateRunning)
	return nil
}

// ToolsCached returns the cached tool list, or the zero slice and false if
// the cache is empty or stale.
func (b *Backend) ToolsCached() ([]gateway.ToolDescriptor, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tools == nil || time.Since(b.toolsFetched) > b.toolsTTL {
		return nil, false
	}
	return b.tools, true
}

// SetTools overwrites the cached tool list and resets its freshness clock,
// running the backend's transform chain (namespace prefixing, filtering,
// renaming) over the raw list first.
func (b *Backend) SetTools(tools []gateway.ToolDescriptor) {
	b.mu.Lock()
	b.tools = b.transforms.TransformTools(tools)
	b.toolsFetched = time.Now()
	b.mu.Unlock()
}

// SetTransforms installs the backend's transform chain. A nil chain (the
// default) leaves tools and invocations untouched.
func (b *Backend) SetTransforms(c *transform.Chain) {
	b.mu.Lock()
	b.transforms = c
	b.mu.Unlock()
}

// ResolveInvoke runs the backend's transform chain over an incoming
// invocation, returning the tool name and arguments to send to the inner
// transport. ok is false if a transform stage blocked the call.
func (b *Backend) ResolveInvoke(tool string, args map[string]any) (string, map[string]any, bool, error) {
	b.mu.Lock()
	c := b.transforms
	b.mu.Unlock()
	return c.ResolveInvoke(tool, args)
}

// ApplyResultTransform runs the backend's transform chain's result pass
// over a raw transport response, keyed by the caller-facing tool name.
func (b *Backend) ApplyResultTransform(tool string, result any) any {
	b.mu.Lock()
	c := b.transforms
	b.mu.Unlock()
	return c.ApplyResult(tool, result)
}

// Call runs a transport request through the backend's failsafe stack,
// honoring the per-backend concurrency limit.
func (b *Backend) Call(ctx context.Context, method string, params map[string]any) (any, error) {
	if err := b.acquire(ctx); err != nil {
		return nil, gateway.NewError(gateway.KindTimeout, "backend concurrency wait cancelled", err)
	}
	defer b.release()

	return b.Stack.Call(ctx, func(ctx context.Context) (any, error) {
		return b.Transport.Request(ctx, method, params)
	})
}

// Registry owns one Backend per configured source by unique name.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]*Backend
	logger   *zap.Logger
}

// New creates an empty registry.
func New(logger *zap.Logger) *Registry {
	return &Registry{backends: make(map[string]*Backend), logger: logger}
}

// Register adds a backend, keyed by its unique name. Registering a name
// twice replaces the previous record (used only at startup, before any
// request traffic).
func (r *Registry) Register(b *Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[b.Name] = b
}

// Get returns the backend by name, or false if unknown. O(1).
func (r *Registry) Get(name string) (*Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[name]
	return b, ok
}

// All returns a snapshot slice of every registered backend.
func (r *Registry) All() []*Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Backend, 0, len(r.backends))
	for _, b := range r.backends {
		out = append(out, b)
	}
	return out
}

// ToolFetcher lists tools from a backend's transport. Implemented by the
// caller (the dispatcher layer) since the wire-level "list tools" method
// name may differ between MCP backends and REST capabilities.
type ToolFetcher func(ctx context.Context, b *Backend) ([]gateway.ToolDescriptor, error)

// WarmStart connects and fetches the tool list for the named backends (or
// all backends if names is empty) in parallel. A failure on one backend
// moves it to Failed and does not abort the others (spec §4.6).
func (r *Registry) WarmStart(ctx context.Context, names []string, fetch ToolFetcher) {
	targets := r.resolveTargets(names)

	g, gctx := errgroup.WithContext(ctx)
	for _, b := range targets {
		b := b
		g.Go(func() error {
			if err := b.EnsureConnected(gctx); err != nil {
				r.logger.Warn("warm-start connect failed", zap.String("backend", b.Name), zap.Error(err))
				return nil // do not abort sibling warm-starts
			}
			tools, err := fetch(gctx, b)
			if err != nil {
				r.logger.Warn("warm-start tool list failed", zap.String("backend", b.Name), zap.Error(err))
				return nil
			}
			b.SetTools(tools)
			return nil
		})
	}
	_ = g.Wait() // errors are already logged per-backend; nothing to propagate
}

func (r *Registry) resolveTargets(names []string) []*Backend {
	if len(names) == 0 {
		return r.All()
	}
	var out []*Backend
	for _, n := range names {
		if b, ok := r.Get(n); ok {
			out = append(out, b)
		}
	}
	return out
}

// AllTools aggregates the cached tool list across every backend. Backends
// with no cached list (never fetched, or fetch failed) are skipped silently;
// callers needing freshness should refresh explicitly.
func (r *Registry) AllTools() []gateway.ToolDescriptor {
	var all []gateway.ToolDescriptor
	for _, b := range r.All() {
		if tools, ok := b.ToolsCached(); ok {
			all = append(all, tools...)
		}
	}
	return all
}

// StopAll stops every backend's transport, used at shutdown.
func (r *Registry) StopAll(ctx context.Context) {
	for _, b := range r.All() {
		if err := b.Transport.Stop(ctx); err != nil {
			r.logger.Warn("stop backend failed", zap.String("backend", b.Name), zap.Error(err))
		}
		b.setState(gateway.StateStopped)
	}
}

// PingLoop periodically pings every running backend. Failures are logged;
// the failsafe stack — not this loop — decides whether to act on them
// (spec §4.6).
func (r *Registry) PingLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = failsafe.WarmProbeInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, b := range r.All() {
				if b.State() != gateway.StateRunning {
					continue
				}
				if err := b.Transport.Notify(ctx, "ping", nil); err != nil {
					r.logger.Debug("ping failed", zap.String("backend", b.Name), zap.Error(err))
				}
			}
		}
	}
}

// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/MikkoParkkola/mcp-gateway/pkg/gateway"
)

// HTTPConfig describes a remote MCP server reachable over HTTP, whose reply
// may be a plain JSON body or a server-sent-events stream.
type HTTPConfig struct {
	BaseURL string
	Headers map[string]string
}

// HTTP implements the HTTP transport variant of spec §4.1: a POST of a
// JSON-RPC envelope that either returns synchronously or upgrades to SSE.
// From an SSE stream only the first response event is returned; other
// events are discarded, and nothing is multiplexed to subscribers.
type HTTP struct {
	cfg    HTTPConfig
	client *http.Client
	logger *zap.Logger

	nextID    atomic.Int64
	mu        sync.Mutex
	sessionID string
	running   bool
}

// NewHTTP creates an HTTP transport for cfg.
func NewHTTP(cfg HTTPConfig, client *http.Client, logger *zap.Logger) *HTTP {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTP{cfg: cfg, client: client, logger: logger}
}

// Start marks the transport usable; HTTP backends have no persistent
// connection to establish up front.
func (h *HTTP) Start(_ context.Context) error {
	h.mu.Lock()
	h.running = true
	h.mu.Unlock()
	return nil
}

// Stop marks the transport unusable. Idempotent.
func (h *HTTP) Stop(_ context.Context) error {
	h.mu.Lock()
	h.running = false
	h.mu.Unlock()
	return nil
}

// IsRunning reports whether Start has been called without a subsequent Stop.
func (h *HTTP) IsRunning() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running
}

// Request posts a JSON-RPC envelope and returns either the synchronous
// response or the first result event off an SSE upgrade.
func (h *HTTP) Request(ctx context.Context, method string, params map[string]any) (any, error) {
	id := h.nextID.Add(1)
	env := newRequest(id, method, params)
	body, err := json.Marshal(env)
	if err != nil {
		return nil, gateway.NewError(gateway.KindInternal, "encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, gateway.NewError(gateway.KindInternal, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	for k, v := range h.cfg.Headers {
		req.Header.Set(k, v)
	}
	h.mu.Lock()
	if h.sessionID != "" {
		req.Header.Set("Mcp-Session-Id", h.sessionID)
	}
	h.mu.Unlock()

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, gateway.NewError(gateway.KindTransport, "http request", err)
	}
	defer resp.Body.Close()

	if sid := resp.Header.Get("Mcp-Session-Id"); sid != "" {
		h.mu.Lock()
		h.sessionID = sid
		h.mu.Unlock()
	}

	if resp.StatusCode >= 500 {
		return nil, gateway.NewError(gateway.KindTransport, fmt.Sprintf("backend returned %d", resp.StatusCode), gateway.ErrTransport)
	}
	if resp.StatusCode >= 400 {
		return nil, gateway.NewError(gateway.KindToolFailed, fmt.Sprintf("backend returned %d", resp.StatusCode), gateway.ErrToolFailed)
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "text/event-stream") {
		return h.readFirstSSEResult(resp.Body)
	}
	return decodeEnvelopeBody(resp.Body)
}

func decodeEnvelopeBody(body io.Reader) (any, error) {
	var env envelope
	dec := json.NewDecoder(body)
	if err := dec.Decode(&env); err != nil {
		return nil, gateway.NewError(gateway.KindTransport, "decode response", err)
	}
	if env.Error != nil {
		return nil, gateway.NewError(gateway.KindToolFailed, env.Error.Message, gateway.ErrToolFailed)
	}
	var result any
	if len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, &result); err != nil {
			return nil, gateway.NewError(gateway.KindInternal, "decode result", err)
		}
	}
	return result, nil
}

// readFirstSSEResult reads "data:" lines from an SSE stream until it finds
// one that decodes to a JSON-RPC response, then returns its result.
// Subsequent events on the stream are notifications, out of scope for a
// synchronous Request call.
func (h *HTTP) readFirstSSEResult(body io.Reader) (any, error) {
	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		var env envelope
		if err := json.Unmarshal([]byte(payload), &env); err != nil {
			continue
		}
		if env.ID == nil {
			continue // notification event, keep scanning for the response
		}
		if env.Error != nil {
			return nil, gateway.NewError(gateway.KindToolFailed, env.Error.Message, gateway.ErrToolFailed)
		}
		var result any
		if len(env.Result) > 0 {
			if err := json.Unmarshal(env.Result, &result); err != nil {
				return nil, gateway.NewError(gateway.KindInternal, "decode result", err)
			}
		}
		return result, nil
	}
	return nil, gateway.NewError(gateway.KindTransport, "sse stream closed without a response", gateway.ErrTransport)
}

// Notify posts a one-way JSON-RPC notification.
func (h *HTTP) Notify(ctx context.Context, method string, params map[string]any) error {
	env := newNotification(method, params)
	body, err := json.Marshal(env)
	if err != nil {
		return gateway.NewError(gateway.KindInternal, "encode notification", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return gateway.NewError(gateway.KindInternal, "build notification", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range h.cfg.Headers {
		req.Header.Set(k, v)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return gateway.NewError(gateway.KindTransport, "http notify", err)
	}
	defer resp.Body.Close()
	return nil
}

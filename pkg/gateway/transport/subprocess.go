// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/MikkoParkkola/mcp-gateway/pkg/gateway"
)

// SubprocessConfig describes how to spawn a stdio MCP backend.
type SubprocessConfig struct {
	Command string
	Args    []string
	Env     []string
	// ShutdownTimeout bounds how long Stop waits after a polite close
	// before killing the process (spec §5, "Graceful shutdown").
	ShutdownTimeout time.Duration
}

// pending is a one-shot channel awaiting a response for a given request id,
// per spec §5: "The transport must multiplex response ids correctly;
// responses are delivered on a per-id one-shot channel."
type pending struct {
	ch chan envelope
}

// Subprocess speaks newline-delimited JSON-RPC over a spawned child
// process's stdin/stdout, demultiplexing responses by request id. Stderr is
// captured to the logger. On unexpected EOF every in-flight request fails
// with ErrTransport, tagged ConnectionLost.
type Subprocess struct {
	cfg    SubprocessConfig
	logger *zap.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	running bool

	nextID  atomic.Int64
	pendMu  sync.Mutex
	pending map[int64]*pending

	wg sync.WaitGroup
}

// NewSubprocess creates a stdio transport for cfg. Start must be called
// before Request/Notify.
func NewSubprocess(cfg SubprocessConfig, logger *zap.Logger) *Subprocess {
	return &Subprocess{cfg: cfg, logger: logger, pending: make(map[int64]*pending)}
}

// Start spawns the child process and begins reading its stdout.
func (s *Subprocess) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	cmd := exec.Command(s.cfg.Command, s.cfg.Args...)
	if len(s.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), s.cfg.Env...)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start backend process: %w", err)
	}

	s.cmd = cmd
	s.stdin = stdin
	s.running = true

	s.wg.Add(2)
	go s.readLoop(stdout)
	go s.logStderr(stderr)

	return nil
}

func (s *Subprocess) readLoop(stdout io.Reader) {
	defer s.wg.Done()
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var env envelope
		if err := json.Unmarshal(line, &env); err != nil {
			s.logger.Warn("malformed backend response line", zap.Error(err))
			continue
		}
		if env.ID == nil {
			continue // notification from backend; not routed anywhere yet
		}
		s.deliver(*env.ID, env)
	}
	s.failAllPending(gateway.NewError(gateway.KindTransport, "connection lost", gateway.ErrTransport))
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

func (s *Subprocess) logStderr(stderr io.Reader) {
	defer s.wg.Done()
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		s.logger.Info("backend stderr", zap.String("line", scanner.Text()))
	}
}

func (s *Subprocess) deliver(id int64, env envelope) {
	s.pendMu.Lock()
	p, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
	}
	s.pendMu.Unlock()
	if ok {
		p.ch <- env
	}
}

func (s *Subprocess) failAllPending(err error) {
	s.pendMu.Lock()
	defer s.pendMu.Unlock()
	for id, p := range s.pending {
		p.ch <- envelope{Error: &rpcError{Message: err.Error()}}
		delete(s.pending, id)
	}
}

// Stop sends a polite close (closing stdin) then waits up to
// ShutdownTimeout before killing the process, per spec §5.
func (s *Subprocess) Stop(ctx context.Context) error {
	s.mu.Lock()
	cmd := s.cmd
	stdin := s.stdin
	s.running = false
	s.mu.Unlock()

	if cmd == nil {
		return nil
	}
	if stdin != nil {
		_ = stdin.Close()
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		s.wg.Wait()
		return err
	case <-time.After(timeout):
		_ = cmd.Process.Kill()
		<-done
		s.wg.Wait()
		return nil
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-done
		s.wg.Wait()
		return ctx.Err()
	}
}

// IsRunning reports whether the child process is currently alive.
func (s *Subprocess) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Request writes a JSON-RPC request to stdin and blocks for the matching
// response on a per-id one-shot channel.
func (s *Subprocess) Request(ctx context.Context, method string, params map[string]any) (any, error) {
	id := s.nextID.Add(1)
	p := &pending{ch: make(chan envelope, 1)}

	s.pendMu.Lock()
	s.pending[id] = p
	s.pendMu.Unlock()

	if err := s.writeLine(newRequest(id, method, params)); err != nil {
		s.pendMu.Lock()
		delete(s.pending, id)
		s.pendMu.Unlock()
		return nil, gateway.NewError(gateway.KindTransport, "write request", err)
	}

	select {
	case env := <-p.ch:
		if env.Error != nil {
			return nil, gateway.NewError(gateway.KindTransport, env.Error.Message, gateway.ErrTransport)
		}
		var result any
		if len(env.Result) > 0 {
			if err := json.Unmarshal(env.Result, &result); err != nil {
				return nil, gateway.NewError(gateway.KindInternal, "decode result", err)
			}
		}
		return result, nil
	case <-ctx.Done():
		s.pendMu.Lock()
		delete(s.pending, id)
		s.pendMu.Unlock()
		return nil, gateway.NewError(gateway.KindTimeout, "request cancelled", ctx.Err())
	}
}

// Notify writes a one-way JSON-RPC notification; no response is awaited.
func (s *Subprocess) Notify(_ context.Context, method string, params map[string]any) error {
	if err := s.writeLine(newNotification(method, params)); err != nil {
		return gateway.NewError(gateway.KindTransport, "write notification", err)
	}
	return nil
}

func (s *Subprocess) writeLine(env envelope) error {
	s.mu.Lock()
	stdin := s.stdin
	s.mu.Unlock()
	if stdin == nil {
		return fmt.Errorf("transport not started")
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = stdin.Write(data)
	return err
}

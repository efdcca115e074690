// Hearth - Personal Home Hub Node
// Copyright 2026 Hearth Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hearthnode/hearth

// Package tunnel supervises the cloudflared child process: setup,
// start, stop, crash detection and watchdog-driven auto-restart.
//
// The persisted configuration (store.TunnelConfig) and the live child
// handle are deliberately separate: configuration is durable, the
// handle is transient and always absent after a node restart even if a
// tunnel was running before.
package tunnel

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"sync"
	"time"

	"github.com/hearthnode/hearth/internal/logging"
	"github.com/hearthnode/hearth/internal/store"
)

var (
	// ErrAlreadyRunning is returned by Start when a child is live.
	ErrAlreadyRunning = errors.New("tunnel is already running")
	// ErrNotRunning is returned by Stop when no child is live.
	ErrNotRunning = errors.New("tunnel is not running")
	// ErrNotConfigured is returned by Start before any setup.
	ErrNotConfigured = errors.New("tunnel is not configured")
)

// quickURLPattern matches the public URL a quick tunnel prints on its
// diagnostic stream.
var quickURLPattern = regexp.MustCompile(`https://[a-zA-Z0-9-]+\.trycloudflare\.com`)

// Status is the supervisor's externally visible state.
type Status struct {
	Configured bool                `json:"configured"`
	Running    bool                `json:"running"`
	Config     *store.TunnelConfig `json:"config,omitempty"`
	Error      string              `json:"error,omitempty"`
}

// child tracks one live tunnel process.
type child struct {
	cmd  *exec.Cmd
	done chan struct{} // closed when Wait returns
}

func (c *child) exited() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Options configures a Manager.
type Options struct {
	// Binary is the cloudflared executable; "cloudflared" when empty.
	Binary string
	// QuickURLTimeout bounds the wait for a quick tunnel's URL.
	QuickURLTimeout time.Duration
}

// Manager owns at most one live tunnel child process. All state is
// behind one mutex; only one child may be live at a time by
// construction, since Start fails while a handle is tracked.
type Manager struct {
	mu sync.Mutex

	st           *store.Store
	binary       string
	quickTimeout time.Duration

	proc *child

	// manualStop suppresses watchdog restarts after a deliberate Stop.
	// It is cleared whenever Start runs, through any path, so a later
	// crash is eligible for auto-restart again.
	manualStop bool

	// wasRunning records whether the tunnel was last observed running.
	// The watchdog only restarts a tunnel that crashed, never one that
	// was never started.
	wasRunning bool

	// newCommand builds the child process. Overridable in tests.
	newCommand func(ctx context.Context, args ...string) *exec.Cmd
}

// NewManager creates a tunnel manager over the persisted configuration.
func NewManager(st *store.Store, opts Options) *Manager {
	binary := opts.Binary
	if binary == "" {
		binary = "cloudflared"
	}
	timeout := opts.QuickURLTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	m := &Manager{
		st:           st,
		binary:       binary,
		quickTimeout: timeout,
	}
	m.newCommand = func(ctx context.Context, args ...string) *exec.Cmd {
		return exec.CommandContext(ctx, m.binary, args...)
	}
	return m
}

// EnsureBinary checks that the cloudflared executable is reachable.
func (m *Manager) EnsureBinary() error {
	if _, err := exec.LookPath(m.binary); err != nil {
		return fmt.Errorf("cloudflared binary %q not found: %w", m.binary, err)
	}
	return nil
}

// StartQuick provisions and starts an ephemeral quick tunnel for the
// given local port. The assigned public URL is parsed from the child's
// diagnostic stream; if none appears within the configured timeout the
// start fails and the child is killed. The resulting configuration is
// persisted so a later Start can rerun the tunnel.
func (m *Manager) StartQuick(ctx context.Context, localPort int) (*store.TunnelConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.liveLocked() {
		return nil, ErrAlreadyRunning
	}
	m.manualStop = false

	url, err := m.spawnQuickLocked(ctx, localPort)
	if err != nil {
		return nil, err
	}

	cfg := &store.TunnelConfig{
		Mode:      store.TunnelModeQuick,
		Hostname:  url,
		LocalPort: localPort,
	}
	if err := m.st.SaveTunnelConfig(ctx, cfg); err != nil {
		return nil, fmt.Errorf("tunnel started but config save failed: %w", err)
	}

	m.wasRunning = true
	logging.Info().Str("url", url).Int("port", localPort).Msg("quick tunnel started")
	return cfg, nil
}

// Start runs the configured tunnel. Fails with ErrAlreadyRunning when
// a child is live and ErrNotConfigured before setup. Quick mode parses
// a fresh public URL (quick URLs change per run) and persists the
// updated hostname; named mode authenticates with the stored token.
// Any start clears the manual-stop flag.
func (m *Manager) Start(ctx context.Context) (*store.TunnelConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.liveLocked() {
		return nil, ErrAlreadyRunning
	}

	cfg, err := m.st.GetTunnelConfig(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotConfigured
		}
		return nil, err
	}

	m.manualStop = false

	switch cfg.Mode {
	case store.TunnelModeQuick:
		url, err := m.spawnQuickLocked(ctx, cfg.LocalPort)
		if err != nil {
			return nil, err
		}
		cfg.Hostname = url
		if err := m.st.SaveTunnelConfig(ctx, cfg); err != nil {
			logging.Warn().Err(err).Msg("failed to persist refreshed quick tunnel url")
		}
	case store.TunnelModeNamed:
		if err := m.spawnLocked(ctx, nil, "tunnel", "run", "--token", cfg.TunnelToken); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown tunnel mode %q", cfg.Mode)
	}

	m.wasRunning = true
	logging.Info().Str("mode", cfg.Mode).Str("hostname", cfg.Hostname).Msg("tunnel started")
	return cfg, nil
}

// Stop kills the live child, waits for it to exit and sets the
// manual-stop flag so the watchdog does not undo the user's intent.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.liveLocked() {
		m.manualStop = true
		m.wasRunning = false
		return ErrNotRunning
	}

	if err := m.proc.cmd.Process.Kill(); err != nil {
		logging.Warn().Err(err).Msg("failed to kill tunnel process")
	}
	<-m.proc.done
	m.proc = nil
	m.manualStop = true
	m.wasRunning = false
	logging.Info().Msg("tunnel stopped")
	return nil
}

// Status polls the child and reports the supervisor state. An exited
// child is observed here as a state change, not an error: the handle
// is cleared and the tunnel reported not-running.
func (m *Manager) Status(ctx context.Context) Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	var status Status
	cfg, err := m.st.GetTunnelConfig(ctx)
	switch {
	case err == nil:
		status.Configured = true
		status.Config = cfg
	case errors.Is(err, store.ErrNotFound):
	default:
		status.Error = err.Error()
	}

	status.Running = m.liveLocked()
	return status
}

// liveLocked reports whether a child is tracked and still running,
// clearing the handle when it has exited. Callers hold m.mu.
func (m *Manager) liveLocked() bool {
	if m.proc == nil {
		return false
	}
	if m.proc.exited() {
		logging.Warn().Msg("tunnel process exited unexpectedly")
		m.proc = nil
		return false
	}
	return true
}

// shouldRestart is the watchdog predicate: last observed running,
// still configured, not currently running, no manual stop pending.
func (m *Manager) shouldRestart(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.manualStop || !m.wasRunning || m.liveLocked() {
		return false
	}
	if _, err := m.st.GetTunnelConfig(ctx); err != nil {
		return false
	}
	return true
}

// spawnQuickLocked starts a quick tunnel child and waits for its
// public URL on stderr. Callers hold m.mu.
func (m *Manager) spawnQuickLocked(ctx context.Context, localPort int) (string, error) {
	urlCh := make(chan string, 1)
	parse := func(stderr io.Reader) {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			if url := quickURLPattern.FindString(scanner.Text()); url != "" {
				select {
				case urlCh <- url:
				default:
				}
				// Keep draining so the child never blocks on a full pipe.
			}
		}
	}

	target := fmt.Sprintf("http://localhost:%d", localPort)
	if err := m.spawnLocked(ctx, parse, "tunnel", "--url", target); err != nil {
		return "", err
	}

	select {
	case url := <-urlCh:
		return url, nil
	case <-m.proc.done:
		m.proc = nil
		return "", fmt.Errorf("tunnel process exited before reporting a url")
	case <-time.After(m.quickTimeout):
		if err := m.proc.cmd.Process.Kill(); err != nil {
			logging.Warn().Err(err).Msg("failed to kill stalled tunnel process")
		}
		<-m.proc.done
		m.proc = nil
		return "", fmt.Errorf("no tunnel url within %s", m.quickTimeout)
	case <-ctx.Done():
		if err := m.proc.cmd.Process.Kill(); err != nil {
			logging.Warn().Err(err).Msg("failed to kill tunnel process on cancel")
		}
		<-m.proc.done
		m.proc = nil
		return "", ctx.Err()
	}
}

// spawnLocked starts the child and tracks it. When stderrSink is
// non-nil it runs in a goroutine over the child's stderr. Callers hold
// m.mu.
func (m *Manager) spawnLocked(ctx context.Context, stderrSink func(io.Reader), args ...string) error {
	// The child must outlive the request context; only the binary
	// lookup uses ctx.
	cmd := m.newCommand(context.Background(), args...)

	var stderr io.ReadCloser
	if stderrSink != nil {
		pipe, err := cmd.StderrPipe()
		if err != nil {
			return fmt.Errorf("failed to open stderr pipe: %w", err)
		}
		stderr = pipe
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start tunnel process: %w", err)
	}

	proc := &child{cmd: cmd, done: make(chan struct{})}
	if stderrSink != nil {
		go stderrSink(stderr)
	}
	go func() {
		if err := cmd.Wait(); err != nil {
			logging.Debug().Err(err).Msg("tunnel process wait returned")
		}
		close(proc.done)
	}()

	m.proc = proc
	return nil
}

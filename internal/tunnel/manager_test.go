// Hearth - Personal Home Hub Node
// Copyright 2026 Hearth Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hearthnode/hearth

package tunnel

import (
	"context"
	"errors"
	"io"
	"os/exec"
	"testing"
	"time"

	"github.com/hearthnode/hearth/internal/logging"
	"github.com/hearthnode/hearth/internal/store"
)

func init() {
	logging.Init(logging.Config{Level: "disabled", Output: io.Discard})
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(store.Options{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// fakeChild swaps the cloudflared invocation for a shell script. The
// real arguments are ignored; every spawn runs the same script.
func fakeChild(m *Manager, script string) {
	m.newCommand = func(ctx context.Context, args ...string) *exec.Cmd {
		return exec.CommandContext(ctx, "sh", "-c", script)
	}
}

// stopIfRunning kills a leftover child at test end.
func stopIfRunning(t *testing.T, m *Manager) {
	t.Helper()
	t.Cleanup(func() { _ = m.Stop() })
}

const quickScript = `echo "INF +--------+ https://unit-test.trycloudflare.com +--------+" 1>&2; sleep 30`

func TestStartWithoutConfig(t *testing.T) {
	m := NewManager(newTestStore(t), Options{})
	if _, err := m.Start(context.Background()); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Start err = %v, want ErrNotConfigured", err)
	}
}

func TestStartQuickParsesURL(t *testing.T) {
	st := newTestStore(t)
	m := NewManager(st, Options{QuickURLTimeout: 5 * time.Second})
	fakeChild(m, quickScript)
	stopIfRunning(t, m)

	ctx := context.Background()
	cfg, err := m.StartQuick(ctx, 8420)
	if err != nil {
		t.Fatalf("StartQuick: %v", err)
	}
	if cfg.Mode != store.TunnelModeQuick || cfg.Hostname != "https://unit-test.trycloudflare.com" {
		t.Errorf("config = %+v", cfg)
	}
	if cfg.LocalPort != 8420 {
		t.Errorf("local port = %d", cfg.LocalPort)
	}

	// Configuration is persisted for later restarts.
	saved, err := st.GetTunnelConfig(ctx)
	if err != nil {
		t.Fatalf("GetTunnelConfig: %v", err)
	}
	if saved.Hostname != cfg.Hostname {
		t.Errorf("saved hostname = %s", saved.Hostname)
	}

	status := m.Status(ctx)
	if !status.Configured || !status.Running {
		t.Errorf("status = %+v", status)
	}

	// A second start while live is rejected.
	if _, err := m.StartQuick(ctx, 8420); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second StartQuick err = %v, want ErrAlreadyRunning", err)
	}
}

func TestStartQuickTimesOutWithoutURL(t *testing.T) {
	m := NewManager(newTestStore(t), Options{QuickURLTimeout: 100 * time.Millisecond})
	fakeChild(m, `sleep 30`)

	if _, err := m.StartQuick(context.Background(), 8420); err == nil {
		t.Fatal("expected timeout error")
	}
	if m.Status(context.Background()).Running {
		t.Error("stalled child still tracked after timeout")
	}
}

func TestStartQuickChildExitsEarly(t *testing.T) {
	m := NewManager(newTestStore(t), Options{QuickURLTimeout: 5 * time.Second})
	fakeChild(m, `exit 1`)

	if _, err := m.StartQuick(context.Background(), 8420); err == nil {
		t.Fatal("expected error when child exits before printing a url")
	}
	if m.Status(context.Background()).Running {
		t.Error("dead child still tracked")
	}
}

func TestStopAndManualStopFlag(t *testing.T) {
	st := newTestStore(t)
	m := NewManager(st, Options{QuickURLTimeout: 5 * time.Second})
	fakeChild(m, quickScript)

	ctx := context.Background()
	if _, err := m.StartQuick(ctx, 8420); err != nil {
		t.Fatalf("StartQuick: %v", err)
	}

	if err := m.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if m.Status(ctx).Running {
		t.Error("still running after Stop")
	}
	// Deliberately stopped tunnels are never auto-restarted.
	if m.shouldRestart(ctx) {
		t.Error("shouldRestart true after manual stop")
	}

	// Stopping again reports not running but keeps the suppression.
	if err := m.Stop(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("second Stop err = %v, want ErrNotRunning", err)
	}
	if m.shouldRestart(ctx) {
		t.Error("shouldRestart true after redundant stop")
	}
}

func TestCrashIsEligibleForRestart(t *testing.T) {
	st := newTestStore(t)
	m := NewManager(st, Options{QuickURLTimeout: 5 * time.Second})
	// The child dies shortly after printing its url.
	fakeChild(m, `echo "https://unit-test.trycloudflare.com" 1>&2; sleep 0.05`)

	ctx := context.Background()
	if _, err := m.StartQuick(ctx, 8420); err != nil {
		t.Fatalf("StartQuick: %v", err)
	}

	waitUntil(t, func() bool { return !m.Status(ctx).Running })

	if !m.shouldRestart(ctx) {
		t.Error("crashed tunnel not eligible for restart")
	}
}

func TestStartClearsManualStop(t *testing.T) {
	st := newTestStore(t)
	m := NewManager(st, Options{QuickURLTimeout: 5 * time.Second})
	fakeChild(m, `echo "https://unit-test.trycloudflare.com" 1>&2; sleep 0.05`)

	ctx := context.Background()
	if _, err := m.StartQuick(ctx, 8420); err != nil {
		t.Fatalf("StartQuick: %v", err)
	}
	waitUntil(t, func() bool { return !m.Status(ctx).Running })
	if err := m.Stop(); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("Stop err = %v", err)
	}

	// A fresh start re-arms the watchdog for the next crash.
	if _, err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitUntil(t, func() bool { return !m.Status(ctx).Running })
	if !m.shouldRestart(ctx) {
		t.Error("crash after restart not eligible for auto-restart")
	}
}

func TestStartNamedMode(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	if err := st.SaveTunnelConfig(ctx, &store.TunnelConfig{
		Mode:        store.TunnelModeNamed,
		TunnelID:    "t-1",
		Hostname:    "hub.example.com",
		LocalPort:   8420,
		TunnelToken: "secret-token",
	}); err != nil {
		t.Fatalf("SaveTunnelConfig: %v", err)
	}

	m := NewManager(st, Options{})
	fakeChild(m, `sleep 30`)
	stopIfRunning(t, m)

	cfg, err := m.Start(ctx)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if cfg.Hostname != "hub.example.com" {
		t.Errorf("hostname = %s", cfg.Hostname)
	}
	if !m.Status(ctx).Running {
		t.Error("named tunnel not running")
	}
}

func TestWatchdogRestartsCrashedTunnel(t *testing.T) {
	st := newTestStore(t)
	m := NewManager(st, Options{QuickURLTimeout: 5 * time.Second})
	fakeChild(m, `echo "https://unit-test.trycloudflare.com" 1>&2; sleep 0.05`)

	ctx := context.Background()
	if _, err := m.StartQuick(ctx, 8420); err != nil {
		t.Fatalf("StartQuick: %v", err)
	}
	waitUntil(t, func() bool { return !m.Status(ctx).Running })

	// Long-lived replacement so the restart is observable.
	fakeChild(m, quickScript)
	stopIfRunning(t, m)

	w := NewWatchdog(m, time.Hour)
	w.tick(ctx)

	if !m.Status(ctx).Running {
		t.Error("watchdog did not restart the crashed tunnel")
	}
}

func TestWatchdogLeavesManualStopAlone(t *testing.T) {
	st := newTestStore(t)
	m := NewManager(st, Options{QuickURLTimeout: 5 * time.Second})
	fakeChild(m, quickScript)

	ctx := context.Background()
	if _, err := m.StartQuick(ctx, 8420); err != nil {
		t.Fatalf("StartQuick: %v", err)
	}
	if err := m.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	w := NewWatchdog(m, time.Hour)
	w.tick(ctx)

	if m.Status(ctx).Running {
		t.Error("watchdog restarted a manually stopped tunnel")
	}
}

func TestWatchdogServeStopsOnCancel(t *testing.T) {
	m := NewManager(newTestStore(t), Options{})
	w := NewWatchdog(m, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Serve(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Serve returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("watchdog did not stop")
	}
}

func TestQuickURLPattern(t *testing.T) {
	tests := []struct {
		line string
		want string
	}{
		{"2026-01-02 INF |  https://brave-fox-1234.trycloudflare.com  |", "https://brave-fox-1234.trycloudflare.com"},
		{"no url here", ""},
		{"https://example.com", ""},
	}
	for _, tt := range tests {
		if got := quickURLPattern.FindString(tt.line); got != tt.want {
			t.Errorf("FindString(%q) = %q, want %q", tt.line, got, tt.want)
		}
	}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

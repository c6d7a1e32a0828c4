package daemon

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/Dicklesworthstone/cmdgate/internal/obs"
)

type countingSweeper struct {
	calls atomic.Int32
	err   error
}

func (s *countingSweeper) SweepEscalations(context.Context) (int, error) {
	s.calls.Add(1)
	return 1, s.err
}

func discardLogger() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{})
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestEscalationScheduler_SweepsOnStartAndInterval(t *testing.T) {
	sweeper := &countingSweeper{}
	s := NewEscalationScheduler(sweeper, SchedulerConfig{Interval: 20 * time.Millisecond, Logger: discardLogger()})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(context.Background()); err == nil {
		t.Fatalf("expected second Start to fail")
	}
	if !s.IsRunning() {
		t.Fatalf("expected scheduler to be running")
	}

	waitFor(t, func() bool { return sweeper.calls.Load() >= 3 })
	s.Stop()
	if s.IsRunning() {
		t.Fatalf("expected scheduler to be stopped")
	}

	after := sweeper.calls.Load()
	time.Sleep(60 * time.Millisecond)
	if got := sweeper.calls.Load(); got != after {
		t.Fatalf("sweeps continued after Stop: %d -> %d", after, got)
	}
	s.Stop()
}

func TestEscalationScheduler_ContextCancelStops(t *testing.T) {
	s := NewEscalationScheduler(&countingSweeper{}, SchedulerConfig{Interval: time.Hour, Logger: discardLogger()})
	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	cancel()
	waitFor(t, func() bool { return !s.IsRunning() })
}

func TestEscalationScheduler_SweepWrapsError(t *testing.T) {
	boom := errors.New("boom")
	s := NewEscalationScheduler(&countingSweeper{err: boom}, SchedulerConfig{Logger: discardLogger()})
	_, err := s.Sweep(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
	if s.interval != DefaultSweepInterval {
		t.Fatalf("interval = %v, want default", s.interval)
	}
}

func TestRun_WritesPIDServesHealthAndCleansUp(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "cmdgate.pid")
	metrics := obs.NewMetrics(nil)
	metrics.Escalation()

	var (
		mu   sync.Mutex
		addr string
	)
	ready := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- Run(ctx, Options{
			PIDFile:     pidFile,
			MetricsAddr: "127.0.0.1:0",
			Metrics:     metrics,
			Scheduler:   NewEscalationScheduler(&countingSweeper{}, SchedulerConfig{Interval: time.Hour, Logger: discardLogger()}),
			Logger:      discardLogger(),
			Ready: func(a string) {
				mu.Lock()
				addr = a
				mu.Unlock()
				close(ready)
			},
		})
	}()

	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatalf("daemon did not become ready")
	}
	mu.Lock()
	bound := addr
	mu.Unlock()

	data, err := os.ReadFile(pidFile)
	if err != nil {
		t.Fatalf("reading pid file: %v", err)
	}
	if string(data) != strconv.Itoa(os.Getpid())+"\n" {
		t.Fatalf("unexpected pid file contents %q", data)
	}

	resp, err := http.Get("http://" + bound + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "cmdgate_escalations_total 1") {
		t.Fatalf("metrics output missing escalation counter:\n%s", body)
	}

	c := NewClient(WithPIDFile(pidFile), WithMetricsAddr(bound))
	info := c.GetStatusInfo()
	if info.Status != DaemonRunning || !info.Healthy {
		t.Fatalf("expected running and healthy, got %+v", info)
	}

	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if _, err := os.Stat(pidFile); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected pid file to be removed, stat err=%v", err)
	}
}

func TestClientStatus(t *testing.T) {
	tests := []struct {
		status   DaemonStatus
		expected string
	}{
		{DaemonRunning, "running"},
		{DaemonNotRunning, "not running"},
		{DaemonUnresponsive, "unresponsive"},
		{DaemonStatus(99), "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.status.String(); got != tt.expected {
				t.Errorf("String() = %q, want %q", got, tt.expected)
			}
		})
	}

	c := NewClient(WithPIDFile("/nonexistent/path/to/cmdgate.pid"))
	if c.IsDaemonRunning() {
		t.Error("IsDaemonRunning should return false when PID file doesn't exist")
	}

	tmp := t.TempDir()
	stale := filepath.Join(tmp, "stale.pid")
	if err := os.WriteFile(stale, []byte("999999999"), 0600); err != nil {
		t.Fatalf("writing pid file: %v", err)
	}
	info := NewClient(WithPIDFile(stale)).GetStatusInfo()
	if info.Status != DaemonNotRunning || info.State != "not running" {
		t.Errorf("stale pid: got %+v", info)
	}

	self := filepath.Join(tmp, "self.pid")
	if err := os.WriteFile(self, []byte(strconv.Itoa(os.Getpid())), 0600); err != nil {
		t.Fatalf("writing pid file: %v", err)
	}
	if got := NewClient(WithPIDFile(self), WithMetricsAddr("127.0.0.1:1")).GetStatus(); got != DaemonUnresponsive {
		t.Errorf("expected unresponsive, got %s", got)
	}
	if got := NewClient(WithPIDFile(self)).GetStatus(); got != DaemonRunning {
		t.Errorf("expected running without health address, got %s", got)
	}

	if path := DefaultPIDFile(); filepath.Ext(path) != ".pid" || !filepath.IsAbs(path) {
		t.Errorf("unexpected default pid file %q", path)
	}
}

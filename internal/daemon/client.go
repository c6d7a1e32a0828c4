package daemon

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// DaemonStatus represents the current state of the daemon.
type DaemonStatus int

const (
	// DaemonRunning indicates the daemon is running and responsive.
	DaemonRunning DaemonStatus = iota
	// DaemonNotRunning indicates no daemon process was found.
	DaemonNotRunning
	// DaemonUnresponsive indicates a process exists but its health check fails.
	DaemonUnresponsive
)

// String returns a human-readable status description.
func (s DaemonStatus) String() string {
	switch s {
	case DaemonRunning:
		return "running"
	case DaemonNotRunning:
		return "not running"
	case DaemonUnresponsive:
		return "unresponsive"
	default:
		return "unknown"
	}
}

// Client inspects a daemon through its PID file and health endpoint.
type Client struct {
	pidFile     string
	metricsAddr string
	httpClient  *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithPIDFile sets a custom PID file path.
func WithPIDFile(path string) ClientOption {
	return func(c *Client) {
		c.pidFile = path
	}
}

// WithMetricsAddr sets the daemon's HTTP address used for health checks.
func WithMetricsAddr(addr string) ClientOption {
	return func(c *Client) {
		c.metricsAddr = addr
	}
}

// NewClient creates a new daemon client with optional configuration.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		pidFile:    DefaultPIDFile(),
		httpClient: &http.Client{Timeout: 500 * time.Millisecond},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DefaultPIDFile returns the default PID file path.
// Format: /tmp/cmdgate-daemon-{username}.pid
func DefaultPIDFile() string {
	username := "unknown"
	if u, err := user.Current(); err == nil {
		username = u.Username
	}
	username = strings.ReplaceAll(username, string(filepath.Separator), "_")
	return filepath.Join(os.TempDir(), fmt.Sprintf("cmdgate-daemon-%s.pid", username))
}

// StatusInfo is detailed status information for diagnostics.
type StatusInfo struct {
	Status      DaemonStatus `json:"-"`
	State       string       `json:"status"`
	PID         int          `json:"pid,omitempty"`
	PIDFile     string       `json:"pid_file"`
	MetricsAddr string       `json:"metrics_addr,omitempty"`
	Healthy     bool         `json:"healthy"`
	Message     string       `json:"message"`
}

// IsDaemonRunning reports whether the daemon is running and responsive.
func (c *Client) IsDaemonRunning() bool {
	return c.GetStatus() == DaemonRunning
}

// GetStatus returns the daemon status.
func (c *Client) GetStatus() DaemonStatus {
	return c.GetStatusInfo().Status
}

// GetStatusInfo returns detailed status information.
func (c *Client) GetStatusInfo() (info StatusInfo) {
	info = StatusInfo{PIDFile: c.pidFile, MetricsAddr: c.metricsAddr}
	defer func() { info.State = info.Status.String() }()

	pid, err := c.readPID()
	if err != nil {
		info.Status = DaemonNotRunning
		info.Message = fmt.Sprintf("PID file not found or invalid: %v", err)
		return info
	}
	info.PID = pid

	if !isProcessAlive(pid) {
		info.Status = DaemonNotRunning
		info.Message = fmt.Sprintf("Process %d is not running (stale PID file)", pid)
		return info
	}

	if c.metricsAddr == "" {
		info.Status = DaemonRunning
		info.Message = fmt.Sprintf("Daemon running with PID %d", pid)
		return info
	}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := c.ping(ctx); err != nil {
		info.Status = DaemonUnresponsive
		info.Message = fmt.Sprintf("Process %d exists but health check failed: %v", pid, err)
		return info
	}
	info.Status = DaemonRunning
	info.Healthy = true
	info.Message = fmt.Sprintf("Daemon running with PID %d", pid)
	return info
}

func (c *Client) ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+c.metricsAddr+HealthPath, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned %s", resp.Status)
	}
	return nil
}

// readPID reads the PID from the PID file.
func (c *Client) readPID() (int, error) {
	data, err := os.ReadFile(c.pidFile)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in file: %w", err)
	}
	return pid, nil
}

// isProcessAlive checks if a process is alive using kill -0.
func isProcessAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

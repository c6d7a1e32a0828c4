// Package daemon runs the background side of cmdgate: the escalation
// scheduler plus an optional HTTP listener for metrics and health checks.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/charmbracelet/log"

	"github.com/Dicklesworthstone/cmdgate/internal/obs"
	"github.com/Dicklesworthstone/cmdgate/internal/utils"
)

// HealthPath is served by the daemon's HTTP listener.
const HealthPath = "/healthz"

// Options configures Run.
type Options struct {
	// PIDFile is written on start and removed on exit. Empty uses DefaultPIDFile.
	PIDFile string
	// MetricsAddr enables the HTTP listener for /metrics and /healthz when set.
	MetricsAddr string
	Metrics     *obs.Metrics
	Scheduler   *EscalationScheduler
	Logger      *log.Logger
	// Ready, when set, receives the bound listener address once serving.
	Ready func(addr string)
}

// Run starts the scheduler and HTTP listener and blocks until ctx is done.
func Run(ctx context.Context, opts Options) error {
	logger := opts.Logger
	if logger == nil {
		logger = utils.GetDefaultLogger()
	}
	pidFile := opts.PIDFile
	if pidFile == "" {
		pidFile = DefaultPIDFile()
	}

	if err := writePIDFile(pidFile); err != nil {
		return err
	}
	defer func() {
		if err := os.Remove(pidFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn("removing pid file", "path", pidFile, "error", err)
		}
	}()

	if opts.Scheduler != nil {
		if err := opts.Scheduler.Start(ctx); err != nil {
			return err
		}
		defer opts.Scheduler.Stop()
	}

	var srv *http.Server
	errCh := make(chan error, 1)
	if opts.MetricsAddr != "" {
		ln, err := net.Listen("tcp", opts.MetricsAddr)
		if err != nil {
			return fmt.Errorf("listening on %s: %w", opts.MetricsAddr, err)
		}
		srv = &http.Server{
			Handler:           newMux(opts.Metrics),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
		logger.Info("daemon listening", "addr", ln.Addr().String())
		if opts.Ready != nil {
			opts.Ready(ln.Addr().String())
		}
	} else if opts.Ready != nil {
		opts.Ready("")
	}

	logger.Info("daemon started", "pid", os.Getpid())

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		logger.Error("http listener failed", "error", runErr)
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", "error", err)
		}
	}
	logger.Info("daemon stopped")
	return runErr
}

func newMux(metrics *obs.Metrics) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc(HealthPath, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	if metrics != nil {
		mux.Handle("/metrics", metrics.Handler())
	}
	return mux
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("creating pid dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0600); err != nil {
		return fmt.Errorf("writing pid file: %w", err)
	}
	return nil
}

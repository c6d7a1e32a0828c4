package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/cmdgate/internal/config"
	"github.com/Dicklesworthstone/cmdgate/internal/daemon"
	"github.com/Dicklesworthstone/cmdgate/internal/utils"
)

var (
	flagDaemonMetricsAddr     string
	flagDaemonStopTimeoutSecs int
	flagDaemonLogsLines       int
)

func init() {
	daemonStartCmd.Flags().StringVar(&flagDaemonMetricsAddr, "metrics-addr", "", "serve /metrics and /healthz on this address (overrides daemon.metrics_addr)")
	daemonStopCmd.Flags().IntVar(&flagDaemonStopTimeoutSecs, "timeout", 10, "seconds to wait for the daemon to exit")
	daemonLogsCmd.Flags().IntVarP(&flagDaemonLogsLines, "lines", "n", 200, "number of lines to show")

	daemonCmd.AddCommand(daemonStartCmd)
	daemonCmd.AddCommand(daemonStopCmd)
	daemonCmd.AddCommand(daemonStatusCmd)
	daemonCmd.AddCommand(daemonSweepCmd)
	daemonCmd.AddCommand(daemonLogsCmd)

	rootCmd.AddCommand(daemonCmd)
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run or inspect the escalation daemon",
	Long: `The daemon periodically escalates commands that have waited past
escalation.deadline_minutes without a decision, notifying every admin once
per command. It can also expose Prometheus metrics and a health check.`,
}

var daemonStartCmd = &cobra.Command{
	Use:     "start",
	Aliases: []string{"run"},
	Short:   "Run the daemon in the foreground until interrupted",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger, err := utils.InitDaemonLogger(cfg.Daemon.LogLevel)
		if err != nil {
			return err
		}
		utils.SetDefaultLogger(logger)

		pidFile := daemonPIDFile(cfg)
		if daemon.NewClient(daemon.WithPIDFile(pidFile)).IsDaemonRunning() {
			return fmt.Errorf("daemon already running (pid file %s)", pidFile)
		}

		a, err := openApp(logger)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var scheduler *daemon.EscalationScheduler
		if cfg.Escalation.Enabled {
			scheduler = daemon.NewEscalationScheduler(a.engine, daemon.SchedulerConfig{
				Interval: time.Duration(cfg.Escalation.SweepIntervalSeconds) * time.Second,
				Logger:   logger.WithPrefix("escalation"),
			})
		} else {
			logger.Warn("escalation disabled; daemon will only serve metrics")
		}

		metricsAddr := cfg.Daemon.MetricsAddr
		if flagDaemonMetricsAddr != "" {
			metricsAddr = flagDaemonMetricsAddr
		}
		return daemon.Run(ctx, daemon.Options{
			PIDFile:     pidFile,
			MetricsAddr: metricsAddr,
			Metrics:     a.metrics,
			Scheduler:   scheduler,
			Logger:      logger,
		})
	},
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Signal a running daemon to exit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		client := daemon.NewClient(daemon.WithPIDFile(daemonPIDFile(cfg)))
		info := client.GetStatusInfo()
		if info.Status == daemon.DaemonNotRunning {
			return fmt.Errorf("daemon not running: %s", info.Message)
		}

		proc, err := os.FindProcess(info.PID)
		if err != nil {
			return fmt.Errorf("finding daemon process %d: %w", info.PID, err)
		}
		if err := proc.Signal(syscall.SIGTERM); err != nil {
			return fmt.Errorf("signaling daemon %d: %w", info.PID, err)
		}

		deadline := time.Now().Add(time.Duration(flagDaemonStopTimeoutSecs) * time.Second)
		for time.Now().Before(deadline) {
			if client.GetStatus() == daemon.DaemonNotRunning {
				newWriter(cmd).Success(fmt.Sprintf("Daemon %d stopped", info.PID))
				return nil
			}
			time.Sleep(100 * time.Millisecond)
		}
		return fmt.Errorf("daemon %d did not exit within %ds", info.PID, flagDaemonStopTimeoutSecs)
	},
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether the daemon is running",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		info := daemon.NewClient(
			daemon.WithPIDFile(daemonPIDFile(cfg)),
			daemon.WithMetricsAddr(cfg.Daemon.MetricsAddr),
		).GetStatusInfo()
		return newWriter(cmd).Render(info, func(w io.Writer) error {
			_, err := fmt.Fprintf(w, "daemon: %s\n  %s\n  pid file: %s\n", info.State, info.Message, info.PIDFile)
			return err
		})
	},
}

var daemonSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one escalation sweep and exit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(nil)
		if err != nil {
			return err
		}
		defer a.Close()

		scheduler := daemon.NewEscalationScheduler(a.engine, daemon.SchedulerConfig{Logger: a.logger})
		n, err := scheduler.Sweep(cmd.Context())
		if err != nil {
			return err
		}
		return newWriter(cmd).Render(map[string]any{"escalated": n}, func(w io.Writer) error {
			_, err := fmt.Fprintf(w, "Escalated %d commands\n", n)
			return err
		})
	},
}

var daemonLogsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show the tail of the daemon log",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolving home directory: %w", err)
		}
		path := filepath.Join(home, ".cmdgate", "daemon.log")
		lines, err := tailFile(path, flagDaemonLogsLines)
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("no daemon log at %s", path)
		}
		if err != nil {
			return err
		}
		_, err = io.WriteString(cmd.OutOrStdout(), strings.Join(lines, "\n")+"\n")
		return err
	},
}

func daemonPIDFile(cfg config.Config) string {
	if cfg.Daemon.PIDFile != "" {
		return cfg.Daemon.PIDFile
	}
	return daemon.DefaultPIDFile()
}

// tailFile returns the last n lines of path.
func tailFile(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if n <= 0 {
		n = 200
	}
	ring := make([]string, 0, n)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if len(ring) == n {
			ring = ring[1:]
		}
		ring = append(ring, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return ring, nil
}


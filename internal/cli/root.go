// Package cli implements the Cobra command-line interface for cmdgate.
package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/cmdgate/internal/output"
)

// Version information set by goreleaser
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Global flag values
var (
	flagConfig  string
	flagOutput  string
	flagJSON    bool
	flagVerbose bool
	flagDB      string
	flagActor   string
	flagProject string
)

var rootCmd = &cobra.Command{
	Use:   "cmdgate",
	Short: "Policy gate for shell commands with credit accounting and admin approval",
	Long: `cmdgate evaluates every submitted command against an ordered list of
regex rules before anything runs.

Each rule assigns one of three actions:
  AUTO_ACCEPT       - run immediately and charge one credit
  REQUIRE_APPROVAL  - hold until enough admins approve, then resubmit with the token
  AUTO_REJECT       - refuse outright

Commands matching no rule are rejected. Pending commands that sit too long
are escalated to every admin by the daemon.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if flagProject == "" {
			return nil
		}
		if err := os.Chdir(flagProject); err != nil {
			return fmt.Errorf("changing directory to %s: %w", flagProject, err)
		}
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		showQuickReference(cmd.OutOrStdout())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		goVersion := runtime.Version()
		configPath := flagConfig
		if configPath == "" {
			home, _ := os.UserHomeDir()
			configPath = filepath.Join(home, ".cmdgate", "config.toml")
		}
		dbPath := GetDB()
		projectPath, _ := os.Getwd()

		payload := map[string]any{
			"version":      version,
			"commit":       commit,
			"build_date":   date,
			"go_version":   goVersion,
			"config_path":  configPath,
			"db_path":      dbPath,
			"project_path": projectPath,
		}

		out := newWriter(cmd)
		if out.IsStructured() {
			return out.Write(payload)
		}
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "cmdgate %s\n", version)
		fmt.Fprintf(w, "  commit:  %s\n", commit)
		fmt.Fprintf(w, "  built:   %s\n", date)
		fmt.Fprintf(w, "  go:      %s\n", goVersion)
		fmt.Fprintf(w, "  config:  %s\n", configPath)
		fmt.Fprintf(w, "  db:      %s\n", dbPath)
		fmt.Fprintf(w, "  project: %s\n", projectPath)
		return nil
	},
}

// Execute runs the root command.
// Errors are reported in the selected output format before returning.
// Rejections and failed dry runs have already printed their result.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil && !errors.Is(err, errCommandRejected) && !errors.Is(err, errApprovalNeeded) {
		newWriter(rootCmd).Error(err, nil)
	}
	return err
}

// GetOutput returns the configured output format.
// Precedence: CLI flags > CMDGATE_OUTPUT_FORMAT env > default
func GetOutput() string {
	if flagJSON {
		return "json"
	}
	if flagOutput != "" && flagOutput != "text" {
		return flagOutput
	}
	if envFormat := os.Getenv("CMDGATE_OUTPUT_FORMAT"); envFormat != "" {
		if _, err := output.ParseFormat(envFormat); err == nil {
			return envFormat
		}
	}
	if flagOutput == "" {
		return "text"
	}
	return flagOutput
}

// GetDB returns the database path.
func GetDB() string {
	if flagDB != "" {
		return flagDB
	}
	if env := os.Getenv("CMDGATE_DB"); env != "" {
		return env
	}
	project, err := projectPath()
	if err == nil && project != "" {
		return filepath.Join(project, ".cmdgate", "state.db")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".cmdgate", "state.db")
}

// GetActor returns the username commands are performed as.
func GetActor() string {
	if flagActor != "" {
		return flagActor
	}
	if actor := os.Getenv("CMDGATE_ACTOR"); actor != "" {
		return actor
	}
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return "unknown"
}

func projectPath() (string, error) {
	if flagProject != "" {
		return flagProject, nil
	}
	return os.Getwd()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVarP(&flagOutput, "output", "o", "text", "output format: text, json, yaml (env: CMDGATE_OUTPUT_FORMAT)")
	rootCmd.PersistentFlags().BoolVarP(&flagJSON, "json", "j", false, "shorthand for --output=json")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "database path (env: CMDGATE_DB)")
	rootCmd.PersistentFlags().StringVar(&flagActor, "actor", "", "username to act as (env: CMDGATE_ACTOR, default $USER)")
	rootCmd.PersistentFlags().StringVarP(&flagProject, "project", "C", "", "project directory")

	rootCmd.AddCommand(versionCmd)
}

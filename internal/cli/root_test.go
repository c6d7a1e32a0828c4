package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/Dicklesworthstone/cmdgate/internal/testutil"
)

// executeCommand runs a cobra command with the given args and returns stdout, stderr, and error.
func executeCommand(root *cobra.Command, args ...string) (stdout string, stderr string, err error) {
	stdoutBuf := new(bytes.Buffer)
	stderrBuf := new(bytes.Buffer)

	if args == nil {
		args = []string{}
	}
	root.SetOut(stdoutBuf)
	root.SetErr(stderrBuf)
	root.SetArgs(args)

	err = root.Execute()

	return stdoutBuf.String(), stderrBuf.String(), err
}

// resetFlags restores every flag in the command tree to its default so
// values and Changed state do not leak between executions of rootCmd.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.PersistentFlags().VisitAll(reset)
	cmd.Flags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// cliEnv isolates a test from the user's home directory and environment.
func cliEnv(t *testing.T) *testutil.Harness {
	t.Helper()
	h := testutil.NewHarness(t)
	t.Setenv("HOME", t.TempDir())
	t.Setenv("CMDGATE_ACTOR", "")
	t.Setenv("CMDGATE_DB", "")
	t.Setenv("CMDGATE_OUTPUT_FORMAT", "")
	t.Setenv("CMDGATE_LOG_LEVEL", "error")
	resetFlags(rootCmd)
	t.Cleanup(func() { resetFlags(rootCmd) })
	return h
}

// run executes rootCmd as actor against the harness database.
func run(h *testutil.Harness, actor string, args ...string) (string, string, error) {
	resetFlags(rootCmd)
	full := append([]string{
		"--db", h.DBPath,
		"--config", filepath.Join(h.StateDir, "config.toml"),
		"--actor", actor,
	}, args...)
	return executeCommand(rootCmd, full...)
}

func TestRootCommand_ShowsHelp(t *testing.T) {
	cliEnv(t)
	stdout, _, err := executeCommand(rootCmd, "--help")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.Contains(stdout, "AUTO_ACCEPT") {
		t.Error("expected help to describe rule actions")
	}
	if !strings.Contains(stdout, "Available Commands") {
		t.Error("expected help to list available commands")
	}
	for _, name := range []string{"submit", "approve", "reject", "pending", "rule", "user", "daemon", "config"} {
		if !strings.Contains(stdout, name) {
			t.Errorf("expected help to list %q", name)
		}
	}
}

func TestRootCommand_QuickReference(t *testing.T) {
	cliEnv(t)
	stdout, _, err := executeCommand(rootCmd)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(stdout, "cmdgate submit") {
		t.Errorf("expected quick reference, got %q", stdout)
	}
}

func TestRootCommand_GlobalFlags(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"help flag short", []string{"-h"}},
		{"config flag", []string{"--config", "/tmp/test.toml", "--help"}},
		{"output flag json", []string{"--output", "json", "--help"}},
		{"output flag yaml", []string{"--output", "yaml", "--help"}},
		{"json shorthand", []string{"-j", "--help"}},
		{"verbose flag", []string{"-v", "--help"}},
		{"db flag", []string{"--db", "/tmp/test.db", "--help"}},
		{"actor flag", []string{"--actor", "alice", "--help"}},
		{"project flag", []string{"-C", "/tmp/project", "--help"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cliEnv(t)
			if _, _, err := executeCommand(rootCmd, tt.args...); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestVersionCommand(t *testing.T) {
	h := cliEnv(t)

	stdout, _, err := run(h, "alice", "version")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(stdout, "cmdgate "+version) {
		t.Errorf("unexpected text output %q", stdout)
	}

	stdout, _, err = run(h, "alice", "version", "--json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(stdout), &payload); err != nil {
		t.Fatalf("invalid JSON %q: %v", stdout, err)
	}
	if payload["version"] != version || payload["db_path"] != h.DBPath {
		t.Errorf("unexpected payload %v", payload)
	}
}

func TestGetOutput(t *testing.T) {
	cliEnv(t)

	flagOutput = "text"
	if got := GetOutput(); got != "text" {
		t.Errorf("default = %q", got)
	}

	t.Setenv("CMDGATE_OUTPUT_FORMAT", "yaml")
	if got := GetOutput(); got != "yaml" {
		t.Errorf("env = %q, want yaml", got)
	}

	t.Setenv("CMDGATE_OUTPUT_FORMAT", "bogus")
	if got := GetOutput(); got != "text" {
		t.Errorf("invalid env = %q, want text", got)
	}

	flagOutput = "yaml"
	t.Setenv("CMDGATE_OUTPUT_FORMAT", "json")
	if got := GetOutput(); got != "yaml" {
		t.Errorf("flag should beat env, got %q", got)
	}

	flagJSON = true
	if got := GetOutput(); got != "json" {
		t.Errorf("--json = %q", got)
	}
}

func TestGetDB(t *testing.T) {
	h := cliEnv(t)

	flagDB = "/custom/state.db"
	if got := GetDB(); got != "/custom/state.db" {
		t.Errorf("flag: got %q", got)
	}

	flagDB = ""
	t.Setenv("CMDGATE_DB", "/env/state.db")
	if got := GetDB(); got != "/env/state.db" {
		t.Errorf("env: got %q", got)
	}

	t.Setenv("CMDGATE_DB", "")
	flagProject = h.ProjectDir
	if got, want := GetDB(), filepath.Join(h.ProjectDir, ".cmdgate", "state.db"); got != want {
		t.Errorf("project: got %q, want %q", got, want)
	}
}

func TestGetActor(t *testing.T) {
	cliEnv(t)

	flagActor = "flag-user"
	t.Setenv("CMDGATE_ACTOR", "env-user")
	if got := GetActor(); got != "flag-user" {
		t.Errorf("flag should win, got %q", got)
	}

	flagActor = ""
	if got := GetActor(); got != "env-user" {
		t.Errorf("env: got %q", got)
	}

	t.Setenv("CMDGATE_ACTOR", "")
	t.Setenv("USER", "shell-user")
	if got := GetActor(); got != "shell-user" {
		t.Errorf("$USER: got %q", got)
	}

	t.Setenv("USER", "")
	if got := GetActor(); got != "unknown" {
		t.Errorf("fallback: got %q", got)
	}
}

func TestProjectPath(t *testing.T) {
	cliEnv(t)

	flagProject = "/some/project"
	if got, _ := projectPath(); got != "/some/project" {
		t.Errorf("got %q", got)
	}

	flagProject = ""
	cwd, _ := os.Getwd()
	if got, _ := projectPath(); got != cwd {
		t.Errorf("got %q, want cwd %q", got, cwd)
	}
}

func TestUnknownCommand(t *testing.T) {
	cliEnv(t)
	if _, _, err := executeCommand(rootCmd, "launch-missiles"); err == nil {
		t.Fatal("expected error for unknown command")
	}
}

func TestUnknownFlag(t *testing.T) {
	cliEnv(t)
	if _, _, err := executeCommand(rootCmd, "--no-such-flag"); err == nil {
		t.Fatal("expected error for unknown flag")
	}
}

func TestExecute_ReportsErrorsInOutputFormat(t *testing.T) {
	h := cliEnv(t)

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs([]string{"--db", h.DBPath, "--actor", "nobody", "--json", "whoami"})

	if err := Execute(); err == nil {
		t.Fatal("expected error for unknown actor")
	}
	var payload map[string]any
	if err := json.Unmarshal(stdout.Bytes(), &payload); err != nil {
		t.Fatalf("expected JSON error payload, got %q: %v", stdout.String(), err)
	}
	if payload["error"] != "error" || !strings.Contains(payload["message"].(string), "nobody") {
		t.Errorf("unexpected payload %v", payload)
	}

	resetFlags(rootCmd)
	stdout.Reset()
	rootCmd.SetArgs([]string{"--db", h.DBPath, "--actor", "nobody", "whoami"})
	if err := Execute(); err == nil {
		t.Fatal("expected error")
	}
	if !strings.HasPrefix(stderr.String(), "✗ ") {
		t.Errorf("expected text error on stderr, got %q", stderr.String())
	}
}

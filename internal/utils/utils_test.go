package utils

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
)

func TestSanitizeInput(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"\x1b[31mred\x1b[0m", "red"},
		{"bell\x07 and nul\x00", "bell and nul"},
		{"keeps\nnewlines\tand tabs", "keeps\nnewlines\tand tabs"},
	}
	for _, tc := range cases {
		if got := SanitizeInput(tc.in); got != tc.want {
			t.Fatalf("SanitizeInput(%q)=%q want %q", tc.in, got, tc.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	cases := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"this is too long", 10, "this is..."},
		{"abcdef", 3, "abc"},
	}
	for _, tc := range cases {
		if got := Truncate(tc.in, tc.max); got != tc.want {
			t.Fatalf("Truncate(%q, %d)=%q want %q", tc.in, tc.max, got, tc.want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want log.Level
	}{
		{"debug", log.DebugLevel},
		{"INFO", log.InfoLevel},
		{"warn", log.WarnLevel},
		{"warning", log.WarnLevel},
		{"error", log.ErrorLevel},
		{"fatal", log.FatalLevel},
		{"unknown", log.InfoLevel},
	}

	for _, tc := range cases {
		if got := parseLevel(tc.in); got != tc.want {
			t.Fatalf("parseLevel(%q)=%v want %v", tc.in, got, tc.want)
		}
	}
	if ValidLogLevel("verbose") {
		t.Fatalf("expected verbose to be rejected")
	}
}

func TestInitLogger_WritesOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := InitLogger(LoggerOptions{
		Level:           "debug",
		Output:          &buf,
		Prefix:          "test",
		ReportTimestamp: false,
	})

	logger.Info("hello", "k", "v")
	if !strings.Contains(buf.String(), "hello") {
		t.Fatalf("expected output to contain message; got %q", buf.String())
	}
}

func TestInitDefaultLogger_RespectsEnvOverride(t *testing.T) {
	old := GetDefaultLogger()
	t.Cleanup(func() { SetDefaultLogger(old) })

	t.Setenv("CMDGATE_LOG_LEVEL", "debug")
	logger := InitDefaultLogger()
	if logger == nil {
		t.Fatalf("expected logger")
	}
	if logger.GetLevel() != log.DebugLevel {
		t.Fatalf("expected debug level, got %v", logger.GetLevel())
	}
}

func TestInitDaemonLogger_CreatesLogFileUnderHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	logger, err := InitDaemonLogger("info")
	if err != nil {
		t.Fatalf("InitDaemonLogger: %v", err)
	}
	if logger == nil {
		t.Fatalf("expected logger")
	}

	path := filepath.Join(home, ".cmdgate", "daemon.log")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected daemon log file at %s: %v", path, err)
	}
}

func TestInitDaemonLogger_RejectsUnknownLevel(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	if _, err := InitDaemonLogger("loud"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestSetDefaultLogger(t *testing.T) {
	old := GetDefaultLogger()
	t.Cleanup(func() {
		SetDefaultLogger(old)
	})

	var buf bytes.Buffer
	logger := InitLogger(LoggerOptions{
		Level:  "debug",
		Output: &buf,
		Prefix: "default",
	})
	SetDefaultLogger(logger)
	SetDefaultLogger(nil)

	GetDefaultLogger().Debug("debug-msg")
	GetDefaultLogger().WithPrefix("sub").Warn("warn-msg")

	out := buf.String()
	for _, want := range []string{"default", "debug-msg", "sub", "warn-msg"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected output to contain %q; got %q", want, out)
		}
	}
}

package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Dicklesworthstone/cmdgate/internal/db"
)

// Harness is a lightweight integration test environment.
//
// It provisions a temp project directory with a `.cmdgate/state.db` and keeps
// cleanup automatic via t.Cleanup.
type Harness struct {
	T          *testing.T
	ProjectDir string
	StateDir   string
	DBPath     string
	DB         *db.DB
}

func NewHarness(t *testing.T) *Harness {
	t.Helper()

	projectDir := t.TempDir()
	stateDir := filepath.Join(projectDir, ".cmdgate")
	if err := os.MkdirAll(stateDir, 0750); err != nil {
		t.Fatalf("NewHarness: mkdir .cmdgate: %v", err)
	}

	dbPath := filepath.Join(stateDir, "state.db")
	database := NewTestDBAtPath(t, dbPath)

	return &Harness{
		T:          t,
		ProjectDir: projectDir,
		StateDir:   stateDir,
		DBPath:     dbPath,
		DB:         database,
	}
}

// Admin creates an admin user in the harness database.
func (h *Harness) Admin(opts ...UserOption) *db.User {
	h.T.Helper()
	return MakeUser(h.T, h.DB, append([]UserOption{AsAdmin()}, opts...)...)
}

// Member creates a member user in the harness database.
func (h *Harness) Member(opts ...UserOption) *db.User {
	h.T.Helper()
	return MakeUser(h.T, h.DB, opts...)
}

// MustPath joins ProjectDir with parts, failing the test on error.
func (h *Harness) MustPath(parts ...string) string {
	h.T.Helper()
	if h == nil || h.ProjectDir == "" {
		h.T.Fatalf("Harness.MustPath: harness not initialized")
	}
	all := append([]string{h.ProjectDir}, parts...)
	return filepath.Join(all...)
}

// WriteFile writes a file relative to the project directory.
func (h *Harness) WriteFile(rel string, data []byte, perm os.FileMode) string {
	h.T.Helper()
	if strings.TrimSpace(rel) == "" {
		h.T.Fatalf("Harness.WriteFile: rel path is required")
	}
	abs := h.MustPath(rel)
	if err := os.MkdirAll(filepath.Dir(abs), 0750); err != nil {
		h.T.Fatalf("Harness.WriteFile: mkdir: %v", err)
	}
	if err := os.WriteFile(abs, data, perm); err != nil {
		h.T.Fatalf("Harness.WriteFile: write: %v", err)
	}
	return abs
}

func (h *Harness) String() string {
	if h == nil {
		return "Harness<nil>"
	}
	return fmt.Sprintf("Harness(project=%s, db=%s)", h.ProjectDir, h.DBPath)
}

// Package db provides SQLite persistence for users, rules, commands, votes
// and the audit log.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// timeFormat is fixed-width so stored timestamps compare correctly as text.
const timeFormat = "2006-01-02T15:04:05.000000Z"

var (
	// ErrUserNotFound is returned when a user id or name does not exist.
	ErrUserNotFound = errors.New("user not found")
	// ErrRuleNotFound is returned when a rule id does not exist.
	ErrRuleNotFound = errors.New("rule not found")
	// ErrCommandNotFound is returned when a command id or token does not exist.
	ErrCommandNotFound = errors.New("command not found")
	// ErrUsernameTaken is returned when creating a user with a duplicate name.
	ErrUsernameTaken = errors.New("username already exists")
	// ErrInsufficientCredits is returned when a debit would overdraw a balance.
	ErrInsufficientCredits = errors.New("insufficient credits")
	// ErrStatusChanged is returned when a conditional status update finds the
	// command no longer in the expected state.
	ErrStatusChanged = errors.New("command status changed concurrently")
)

// querier is satisfied by *sql.DB and connQuerier.
type querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// connQuerier runs statements on a single pinned connection.
type connQuerier struct {
	ctx  context.Context
	conn *sql.Conn
}

func (c connQuerier) Exec(query string, args ...any) (sql.Result, error) {
	return c.conn.ExecContext(c.ctx, query, args...)
}

func (c connQuerier) Query(query string, args ...any) (*sql.Rows, error) {
	return c.conn.QueryContext(c.ctx, query, args...)
}

func (c connQuerier) QueryRow(query string, args ...any) *sql.Row {
	return c.conn.QueryRowContext(c.ctx, query, args...)
}

// Queries holds the record operations shared by DB and Tx.
type Queries struct {
	q querier
}

// DB wraps the SQLite connection.
type DB struct {
	*sql.DB
	Queries
	path string
}

// Tx is a write transaction exposing the same record operations as DB.
type Tx struct {
	Queries
}

// Open opens (creating if needed) the database at path without migrating.
func Open(path string) (*DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	d := New(sqlDB)
	d.path = path
	return d, nil
}

// OpenAndMigrate opens the database and ensures the schema exists.
func OpenAndMigrate(path string) (*DB, error) {
	d, err := Open(path)
	if err != nil {
		return nil, err
	}
	if err := d.InitSchema(); err != nil {
		_ = d.Close()
		return nil, err
	}
	return d, nil
}

// New wraps an existing connection pool. The pool is limited to a single
// connection so every write is serialized by SQLite itself.
func New(sqlDB *sql.DB) *DB {
	sqlDB.SetMaxOpenConns(1)
	return &DB{DB: sqlDB, Queries: Queries{q: sqlDB}}
}

// Path returns the filesystem path of the database, if known.
func (db *DB) Path() string {
	return db.path
}

// WithTx runs fn inside a write transaction. BEGIN IMMEDIATE takes the
// database write lock before fn runs, so reads made inside fn stay valid
// until commit even when other processes share the file. The transaction is
// committed when fn returns nil and rolled back otherwise. fn must not use
// db itself.
func (db *DB) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	tx := &Tx{Queries: Queries{q: connQuerier{ctx: ctx, conn: conn}}}

	if err := fn(tx); err != nil {
		if _, rbErr := conn.ExecContext(context.WithoutCancel(ctx), "ROLLBACK"); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}
	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		_, _ = conn.ExecContext(context.WithoutCancel(ctx), "ROLLBACK")
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// InitSchema creates all tables and indexes if they do not exist.
func (db *DB) InitSchema() error {
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("initializing schema: %w", err)
		}
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		role TEXT NOT NULL DEFAULT 'member' CHECK (role IN ('admin', 'member')),
		tier TEXT NOT NULL DEFAULT 'junior' CHECK (tier IN ('junior', 'mid', 'senior', 'lead')),
		credits INTEGER NOT NULL DEFAULT 100,
		email TEXT NOT NULL DEFAULT '',
		telegram_chat_id TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS rules (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		pattern TEXT NOT NULL,
		action TEXT NOT NULL CHECK (action IN ('AUTO_ACCEPT', 'AUTO_REJECT', 'REQUIRE_APPROVAL')),
		description TEXT NOT NULL DEFAULT '',
		approval_threshold INTEGER,
		time_start TEXT NOT NULL DEFAULT '',
		time_end TEXT NOT NULL DEFAULT '',
		timezone TEXT NOT NULL DEFAULT 'UTC',
		created_by INTEGER REFERENCES users(id) ON DELETE SET NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS commands (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		command_text TEXT NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('pending', 'accepted', 'rejected', 'executed', 'approved')),
		matched_rule_id INTEGER,
		required_approvals INTEGER NOT NULL DEFAULT 0,
		credits_deducted INTEGER NOT NULL DEFAULT 0,
		execution_output TEXT NOT NULL DEFAULT '',
		approval_token TEXT UNIQUE,
		escalation_at TEXT,
		escalated_at TEXT,
		created_at TEXT NOT NULL,
		executed_at TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_commands_status_escalation ON commands(status, escalation_at)`,
	`CREATE INDEX IF NOT EXISTS idx_commands_user_created ON commands(user_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS approval_votes (
		command_id TEXT NOT NULL REFERENCES commands(id) ON DELETE CASCADE,
		approver_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		vote TEXT NOT NULL CHECK (vote IN ('approve', 'reject')),
		created_at TEXT NOT NULL,
		PRIMARY KEY (command_id, approver_id)
	)`,
	`CREATE TABLE IF NOT EXISTS audit_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER REFERENCES users(id) ON DELETE SET NULL,
		action_type TEXT NOT NULL,
		details TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_logs(created_at)`,
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func formatNullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		// Accept RFC3339 for rows written by hand.
		t, err = time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("parsing time %q: %w", s, err)
		}
	}
	return t.UTC(), nil
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func ptrInt64(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed: UNIQUE")
}

func requireOneRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const commandColumns = `c.id, c.user_id, COALESCE(u.username, ''), c.command_text, c.status, c.matched_rule_id,
	c.required_approvals, c.credits_deducted, c.execution_output, c.approval_token,
	c.escalation_at, c.escalated_at, c.created_at, c.executed_at`

const commandFrom = ` FROM commands c LEFT JOIN users u ON u.id = c.user_id`

// CreateCommand inserts c. A UUID is generated when c.ID is empty and the
// creation time defaults to now.
func (q *Queries) CreateCommand(c *Command) error {
	if c.UserID == 0 {
		return fmt.Errorf("user_id is required")
	}
	if c.Text == "" {
		return fmt.Errorf("command_text is required")
	}
	switch c.Status {
	case StatusPending, StatusAccepted, StatusRejected, StatusExecuted, StatusApproved:
	default:
		return fmt.Errorf("invalid status %q", c.Status)
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	_, err := q.q.Exec(`
		INSERT INTO commands (id, user_id, command_text, status, matched_rule_id, required_approvals,
			credits_deducted, execution_output, approval_token, escalation_at, escalated_at, created_at, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.UserID, c.Text, string(c.Status), nullInt64(c.MatchedRuleID), c.RequiredApprovals,
		c.CreditsDeducted, c.Output, nullString(c.ApprovalToken), formatNullTime(c.EscalationAt),
		formatNullTime(c.EscalatedAt), formatTime(c.CreatedAt), formatNullTime(c.ExecutedAt))
	if err != nil {
		return fmt.Errorf("creating command: %w", err)
	}
	return nil
}

// GetCommand retrieves a command by id.
func (q *Queries) GetCommand(id string) (*Command, error) {
	row := q.q.QueryRow(`SELECT `+commandColumns+commandFrom+` WHERE c.id = ?`, id)
	return scanCommand(row)
}

// GetCommandByToken retrieves a command by its approval token.
func (q *Queries) GetCommandByToken(token string) (*Command, error) {
	if token == "" {
		return nil, ErrCommandNotFound
	}
	row := q.q.QueryRow(`SELECT `+commandColumns+commandFrom+` WHERE c.approval_token = ?`, token)
	return scanCommand(row)
}

// ListCommands returns the newest commands first. A zero userID lists all users.
func (q *Queries) ListCommands(userID int64, limit int) ([]*Command, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + commandColumns + commandFrom
	args := []any{}
	if userID != 0 {
		query += ` WHERE c.user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY c.created_at DESC, c.rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := q.q.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying commands: %w", err)
	}
	defer rows.Close()
	return scanCommands(rows)
}

// ListPendingCommands returns pending commands oldest first with their
// submitter tier and live vote tally.
func (q *Queries) ListPendingCommands() ([]*PendingCommand, error) {
	rows, err := q.q.Query(`
		SELECT `+commandColumns+`, COALESCE(u.tier, ''),
			(SELECT COUNT(*) FROM approval_votes v WHERE v.command_id = c.id AND v.vote = 'approve'),
			(SELECT COUNT(*) FROM approval_votes v WHERE v.command_id = c.id AND v.vote = 'reject')
		`+commandFrom+`
		WHERE c.status = ?
		ORDER BY c.created_at ASC, c.rowid ASC
	`, string(StatusPending))
	if err != nil {
		return nil, fmt.Errorf("querying pending commands: %w", err)
	}
	defer rows.Close()

	var out []*PendingCommand
	for rows.Next() {
		var (
			pc   PendingCommand
			tier string
		)
		if err := scanCommandInto(rows, &pc.Command, &tier, &pc.Tally.Approvals, &pc.Tally.Rejections); err != nil {
			return nil, err
		}
		pc.Tier = Tier(tier)
		out = append(out, &pc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating pending commands: %w", err)
	}
	return out, nil
}

// ListDueEscalations returns pending, not yet escalated commands whose
// escalation deadline is at or before now.
func (q *Queries) ListDueEscalations(now time.Time) ([]*Command, error) {
	rows, err := q.q.Query(`
		SELECT `+commandColumns+commandFrom+`
		WHERE c.status = ? AND c.escalated_at IS NULL
			AND c.escalation_at IS NOT NULL AND c.escalation_at <= ?
		ORDER BY c.escalation_at ASC
	`, string(StatusPending), formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("querying due escalations: %w", err)
	}
	defer rows.Close()
	return scanCommands(rows)
}

// MarkEscalated stamps escalated_at on a pending command that has not been
// escalated yet. Returns ErrStatusChanged if another sweep got there first or
// the command left pending.
func (q *Queries) MarkEscalated(id string, at time.Time) error {
	res, err := q.q.Exec(`
		UPDATE commands SET escalated_at = ?
		WHERE id = ? AND status = ? AND escalated_at IS NULL
	`, formatTime(at), id, string(StatusPending))
	if err != nil {
		return fmt.Errorf("marking command escalated: %w", err)
	}
	return requireOneRow(res, ErrStatusChanged)
}

// TransitionStatus moves a command from one status to another only if it is
// still in from. Returns ErrStatusChanged otherwise.
func (q *Queries) TransitionStatus(id string, from, to Status) error {
	res, err := q.q.Exec(`
		UPDATE commands SET status = ? WHERE id = ? AND status = ?
	`, string(to), id, string(from))
	if err != nil {
		return fmt.Errorf("updating command status: %w", err)
	}
	return requireOneRow(res, ErrStatusChanged)
}

// MarkExecuted claims an approved command for execution, recording the
// execution time and debited credits. Only one caller can win the claim;
// the output is written afterwards with RecordOutput.
func (q *Queries) MarkExecuted(id string, credits int64, at time.Time) error {
	res, err := q.q.Exec(`
		UPDATE commands
		SET status = ?, credits_deducted = credits_deducted + ?, executed_at = ?
		WHERE id = ? AND status = ?
	`, string(StatusExecuted), credits, formatTime(at), id, string(StatusApproved))
	if err != nil {
		return fmt.Errorf("marking command executed: %w", err)
	}
	return requireOneRow(res, ErrStatusChanged)
}

// RecordOutput stores the output of a command that has already been marked
// executed.
func (q *Queries) RecordOutput(id, output string) error {
	res, err := q.q.Exec(`
		UPDATE commands SET execution_output = ? WHERE id = ? AND status = ?
	`, output, id, string(StatusExecuted))
	if err != nil {
		return fmt.Errorf("recording command output: %w", err)
	}
	return requireOneRow(res, ErrCommandNotFound)
}

func scanCommand(row rowScanner) (*Command, error) {
	var c Command
	if err := scanCommandInto(row, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func scanCommandInto(row rowScanner, c *Command, extra ...any) error {
	var (
		status       string
		matchedRule  sql.NullInt64
		token        sql.NullString
		escalationAt sql.NullString
		escalatedAt  sql.NullString
		createdAt    string
		executedAt   sql.NullString
	)
	dest := []any{&c.ID, &c.UserID, &c.Username, &c.Text, &status, &matchedRule,
		&c.RequiredApprovals, &c.CreditsDeducted, &c.Output, &token,
		&escalationAt, &escalatedAt, &createdAt, &executedAt}
	dest = append(dest, extra...)

	err := row.Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrCommandNotFound
	}
	if err != nil {
		return fmt.Errorf("scanning command: %w", err)
	}

	c.Status = Status(status)
	c.MatchedRuleID = ptrInt64(matchedRule)
	c.ApprovalToken = token.String
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return err
	}
	if c.EscalationAt, err = parseNullTime(escalationAt); err != nil {
		return err
	}
	if c.EscalatedAt, err = parseNullTime(escalatedAt); err != nil {
		return err
	}
	if c.ExecutedAt, err = parseNullTime(executedAt); err != nil {
		return err
	}
	return nil
}

func scanCommands(rows *sql.Rows) ([]*Command, error) {
	var out []*Command
	for rows.Next() {
		c, err := scanCommand(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating commands: %w", err)
	}
	return out, nil
}

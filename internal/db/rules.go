package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const ruleColumns = `id, pattern, action, description, approval_threshold, time_start, time_end, timezone, created_by, created_at`

// CreateRule inserts r and fills in its id and creation time.
func (q *Queries) CreateRule(r *Rule) error {
	if r.Pattern == "" {
		return fmt.Errorf("pattern is required")
	}
	if !r.Action.Valid() {
		return fmt.Errorf("invalid action %q", r.Action)
	}
	if r.Timezone == "" {
		r.Timezone = "UTC"
	}

	var threshold sql.NullInt64
	if r.ApprovalThreshold != nil {
		threshold = sql.NullInt64{Int64: int64(*r.ApprovalThreshold), Valid: true}
	}

	r.CreatedAt = time.Now().UTC()
	res, err := q.q.Exec(`
		INSERT INTO rules (pattern, action, description, approval_threshold, time_start, time_end, timezone, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.Pattern, string(r.Action), r.Description, threshold, r.TimeStart, r.TimeEnd, r.Timezone,
		nullInt64(r.CreatedBy), formatTime(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("creating rule: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting rule id: %w", err)
	}
	r.ID = id
	return nil
}

// GetRule retrieves a rule by id.
func (q *Queries) GetRule(id int64) (*Rule, error) {
	row := q.q.QueryRow(`SELECT `+ruleColumns+` FROM rules WHERE id = ?`, id)
	return scanRule(row)
}

// ListRules returns all rules in ascending id order, which is match priority.
func (q *Queries) ListRules() ([]*Rule, error) {
	rows, err := q.q.Query(`SELECT ` + ruleColumns + ` FROM rules ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying rules: %w", err)
	}
	defer rows.Close()

	var rules []*Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rules: %w", err)
	}
	return rules, nil
}

// DeleteRule removes a rule.
func (q *Queries) DeleteRule(id int64) error {
	res, err := q.q.Exec(`DELETE FROM rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting rule: %w", err)
	}
	return requireOneRow(res, ErrRuleNotFound)
}

func scanRule(row rowScanner) (*Rule, error) {
	var (
		r         Rule
		action    string
		threshold sql.NullInt64
		createdBy sql.NullInt64
		createdAt string
	)
	err := row.Scan(&r.ID, &r.Pattern, &action, &r.Description, &threshold,
		&r.TimeStart, &r.TimeEnd, &r.Timezone, &createdBy, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRuleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning rule: %w", err)
	}
	r.Action = Action(action)
	if threshold.Valid {
		v := int(threshold.Int64)
		r.ApprovalThreshold = &v
	}
	r.CreatedBy = ptrInt64(createdBy)
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &r, nil
}

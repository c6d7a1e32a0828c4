package db

import (
	"database/sql"
	"fmt"
	"time"
)

// AppendAudit writes an audit entry. A nil UserID records a system action.
func (q *Queries) AppendAudit(e *AuditEntry) error {
	if e.ActionType == "" {
		return fmt.Errorf("action_type is required")
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	res, err := q.q.Exec(`
		INSERT INTO audit_logs (user_id, action_type, details, created_at)
		VALUES (?, ?, ?, ?)
	`, nullInt64(e.UserID), e.ActionType, e.Details, formatTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("appending audit entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting audit id: %w", err)
	}
	e.ID = id
	return nil
}

// Audit is a convenience wrapper around AppendAudit.
func (q *Queries) Audit(userID *int64, actionType, details string) error {
	return q.AppendAudit(&AuditEntry{UserID: userID, ActionType: actionType, Details: details})
}

// ListAudit returns the newest audit entries first.
func (q *Queries) ListAudit(limit int) ([]*AuditEntry, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := q.q.Query(`
		SELECT a.id, a.user_id, COALESCE(u.username, ''), a.action_type, a.details, a.created_at
		FROM audit_logs a LEFT JOIN users u ON u.id = a.user_id
		ORDER BY a.created_at DESC, a.id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		var (
			e         AuditEntry
			userID    sql.NullInt64
			createdAt string
		)
		if err := rows.Scan(&e.ID, &userID, &e.Username, &e.ActionType, &e.Details, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		e.UserID = ptrInt64(userID)
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit log: %w", err)
	}
	return entries, nil
}

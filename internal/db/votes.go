package db

import (
	"fmt"
	"time"
)

// UpsertVote records an approver's vote, replacing any earlier vote by the
// same approver on the same command.
func (q *Queries) UpsertVote(v *Vote) error {
	if !v.Value.Valid() {
		return fmt.Errorf("invalid vote %q", v.Value)
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	_, err := q.q.Exec(`
		INSERT INTO approval_votes (command_id, approver_id, vote, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(command_id, approver_id) DO UPDATE SET vote = excluded.vote, created_at = excluded.created_at
	`, v.CommandID, v.ApproverID, string(v.Value), formatTime(v.CreatedAt))
	if err != nil {
		return fmt.Errorf("recording vote: %w", err)
	}
	return nil
}

// CountVotes returns the live approve and reject counts for a command.
func (q *Queries) CountVotes(commandID string) (Tally, error) {
	var t Tally
	err := q.q.QueryRow(`
		SELECT
			COALESCE(SUM(CASE WHEN vote = 'approve' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN vote = 'reject' THEN 1 ELSE 0 END), 0)
		FROM approval_votes WHERE command_id = ?
	`, commandID).Scan(&t.Approvals, &t.Rejections)
	if err != nil {
		return Tally{}, fmt.Errorf("counting votes: %w", err)
	}
	return t, nil
}

// ListVotes returns the votes on a command in the order they were cast.
func (q *Queries) ListVotes(commandID string) ([]*Vote, error) {
	rows, err := q.q.Query(`
		SELECT command_id, approver_id, vote, created_at
		FROM approval_votes WHERE command_id = ?
		ORDER BY created_at ASC, approver_id ASC
	`, commandID)
	if err != nil {
		return nil, fmt.Errorf("querying votes: %w", err)
	}
	defer rows.Close()

	var votes []*Vote
	for rows.Next() {
		var (
			v         Vote
			value     string
			createdAt string
		)
		if err := rows.Scan(&v.CommandID, &v.ApproverID, &value, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning vote: %w", err)
		}
		v.Value = VoteValue(value)
		if v.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		votes = append(votes, &v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating votes: %w", err)
	}
	return votes, nil
}

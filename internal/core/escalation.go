package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Dicklesworthstone/cmdgate/internal/db"
)

// SweepEscalations finds pending commands past their escalation deadline,
// marks each one escalated and notifies every admin. A command escalates at
// most once. It returns how many commands were escalated by this sweep.
func (e *Engine) SweepEscalations(ctx context.Context) (int, error) {
	now := e.clock()
	due, err := e.db.ListDueEscalations(now)
	if err != nil {
		return 0, storeErr(err)
	}

	var admins []*db.User
	if len(due) > 0 {
		if admins, err = e.db.ListAdmins(); err != nil {
			return 0, storeErr(err)
		}
	}

	escalated := 0
	for _, cmd := range due {
		if err := ctx.Err(); err != nil {
			return escalated, err
		}
		err := e.db.WithTx(ctx, func(tx *db.Tx) error {
			if err := tx.MarkEscalated(cmd.ID, now); err != nil {
				return err
			}
			return tx.Audit(nil, db.AuditCommandEscalated,
				fmt.Sprintf("Command %s escalated after %s without a decision", cmd.ID, now.Sub(cmd.CreatedAt).Round(time.Second)))
		})
		if errors.Is(err, db.ErrStatusChanged) {
			// Decided or escalated by someone else since the query.
			continue
		}
		if err != nil {
			e.logger.Error("escalating command", "command_id", cmd.ID, "error", err)
			continue
		}

		cmd.EscalatedAt = &now
		escalated++
		e.metrics.Escalation()
		e.logger.Warn("command escalated", "command_id", cmd.ID, "user", cmd.Username,
			"program", ProgramName(cmd.Text), "pending_since", cmd.CreatedAt)
		e.notifier.NotifyEscalation(cmd, admins)
	}

	if pending, err := e.db.ListPendingCommands(); err == nil {
		e.metrics.SetPending(len(pending))
	}
	return escalated, nil
}

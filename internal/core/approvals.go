package core

import (
	"context"
	"fmt"

	"github.com/Dicklesworthstone/cmdgate/internal/db"
)

// VoteResult reports the tally and status after a vote.
type VoteResult struct {
	CommandID  string    `json:"command_id"`
	Status     db.Status `json:"status"`
	Approvals  int       `json:"approvals"`
	Rejections int       `json:"rejections"`
	Required   int       `json:"required"`
	// ApprovalToken is returned once the command is approved, for the
	// submitter to resubmit with.
	ApprovalToken string `json:"approval_token,omitempty"`
	Message       string `json:"message"`
}

// RecordVote records an admin's vote on a pending command and applies the
// quorum rules. Votes on one command are serialized; a repeat vote by the
// same admin replaces the earlier one.
func (e *Engine) RecordVote(ctx context.Context, actor *db.User, commandID string, vote db.VoteValue) (*VoteResult, error) {
	if err := requireAdmin(actor, "voting"); err != nil {
		return nil, err
	}
	if !vote.Valid() {
		return nil, validationErr("invalid vote %q", vote)
	}
	if commandID == "" {
		return nil, validationErr("command id required")
	}

	unlock := e.voteLocks.Lock(commandID)
	defer unlock()

	var (
		cmd    *db.Command
		tally  db.Tally
		status db.Status
	)
	err := e.db.WithTx(ctx, func(tx *db.Tx) error {
		var err error
		if cmd, err = tx.GetCommand(commandID); err != nil {
			return err
		}
		if cmd.Status != db.StatusPending {
			return stateErr("command %s is not pending approval (status %s)", cmd.ID, cmd.Status)
		}

		if err := tx.UpsertVote(&db.Vote{
			CommandID:  cmd.ID,
			ApproverID: actor.ID,
			Value:      vote,
			CreatedAt:  e.clock(),
		}); err != nil {
			return err
		}
		if tally, err = tx.CountVotes(cmd.ID); err != nil {
			return err
		}

		status = nextStatus(vote, tally, cmd.RequiredApprovals)
		if status == db.StatusPending {
			return tx.Audit(&actor.ID, db.AuditVoteRecorded,
				fmt.Sprintf("Vote %s on command %s by %s (%d approve, %d reject)",
					vote, cmd.ID, actor.Username, tally.Approvals, tally.Rejections))
		}

		if err := tx.TransitionStatus(cmd.ID, db.StatusPending, status); err != nil {
			return err
		}
		cmd.Status = status
		if status == db.StatusApproved {
			return tx.Audit(&actor.ID, db.AuditCommandApproved,
				fmt.Sprintf("Command %s approved and ready for execution", cmd.ID))
		}
		return tx.Audit(&actor.ID, db.AuditCommandRejected,
			fmt.Sprintf("Command %s rejected by approver", cmd.ID))
	})
	if err != nil {
		return nil, storeErr(err)
	}

	e.metrics.Vote(string(vote), string(status))
	e.logger.Info("vote recorded", "command_id", cmd.ID, "user", actor.Username,
		"vote", vote, "status", status, "approvals", tally.Approvals, "rejections", tally.Rejections)

	res := &VoteResult{
		CommandID:  cmd.ID,
		Status:     status,
		Approvals:  tally.Approvals,
		Rejections: tally.Rejections,
		Required:   cmd.RequiredApprovals,
	}
	switch status {
	case db.StatusApproved:
		res.ApprovalToken = cmd.ApprovalToken
		res.Message = "Command approved. Threshold met. User can now execute."
		e.notifyDecision(cmd, tally)
	case db.StatusRejected:
		res.Message = "Command rejected"
		e.notifyDecision(cmd, tally)
	default:
		res.Message = "Vote recorded"
	}
	return res, nil
}

// nextStatus applies the quorum rules after a vote. An approve vote can only
// approve and a reject vote can only reject.
func nextStatus(vote db.VoteValue, tally db.Tally, required int) db.Status {
	if required < 1 {
		required = 1
	}
	switch vote {
	case db.VoteApprove:
		if tally.Approvals >= required {
			return db.StatusApproved
		}
	case db.VoteReject:
		if tally.Rejections > tally.Approvals {
			return db.StatusRejected
		}
	}
	return db.StatusPending
}

func (e *Engine) notifyDecision(cmd *db.Command, tally db.Tally) {
	submitter, err := e.db.GetUser(cmd.UserID)
	if err != nil {
		e.logger.Warn("loading submitter for notification", "command_id", cmd.ID, "error", err)
		return
	}
	e.notifier.NotifyDecision(cmd, submitter, tally)
}

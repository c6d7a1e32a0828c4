package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Dicklesworthstone/cmdgate/internal/db"
)

// SubmitRequest is a command submission. ApprovalToken is set only when
// resubmitting a command that reached approved.
type SubmitRequest struct {
	Text          string `json:"command_text"`
	ApprovalToken string `json:"approval_token,omitempty"`
}

// SubmitResult describes the disposition of a submission.
type SubmitResult struct {
	Status          db.Status `json:"status"`
	CommandID       string    `json:"command_id"`
	Reason          string    `json:"reason,omitempty"`
	MatchedRuleID   *int64    `json:"matched_rule_id,omitempty"`
	CreditsDeducted int64     `json:"credits_deducted"`
	// Balance is the submitter's balance after the submission.
	Balance       int64  `json:"credits"`
	Output        string `json:"output,omitempty"`
	ApprovalToken string `json:"approval_token,omitempty"`
	Threshold     int    `json:"threshold,omitempty"`
}

// Submit evaluates a command for actor and records the outcome. The debit
// and the command record commit before anything is executed, so a command
// runs at most once and never without its credit.
func (e *Engine) Submit(ctx context.Context, actor *db.User, req SubmitRequest) (*SubmitResult, error) {
	if actor == nil {
		return nil, unauthorizedErr("submitting a command requires an identity")
	}
	if strings.TrimSpace(req.Text) == "" && req.ApprovalToken == "" {
		return nil, validationErr("command text required")
	}

	unlock := e.ledger.lock(actor.ID)
	defer unlock()

	allowed, balance, err := e.ledger.CheckAndReserve(actor.ID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return e.rejectInsufficient(ctx, actor, req.Text)
	}

	if req.ApprovalToken != "" {
		return e.executeApproved(ctx, actor, req)
	}

	rules, err := e.db.ListRules()
	if err != nil {
		return nil, storeErr(err)
	}
	decision := e.rules.Match(rules, req.Text, e.clock())

	switch decision.Action {
	case db.ActionAutoAccept:
		return e.executeNew(ctx, actor, req.Text, decision)
	case db.ActionRequireApproval:
		return e.queueForApproval(ctx, actor, req.Text, decision, balance)
	default:
		return e.reject(ctx, actor, req.Text, decision.RuleID(), blockedReason(decision), balance,
			"Command rejected by rule: "+req.Text)
	}
}

func blockedReason(d Decision) string {
	if d.Rule == nil {
		return "Blocked by rule: No matching rule"
	}
	if d.Rule.Description != "" {
		return "Blocked by rule: " + d.Rule.Description
	}
	return fmt.Sprintf("Blocked by rule: %d", d.Rule.ID)
}

// rejectInsufficient records a rejection for a user whose balance cannot
// cover an execution.
func (e *Engine) rejectInsufficient(ctx context.Context, actor *db.User, text string) (*SubmitResult, error) {
	if text == "" {
		text = "(approval token resubmission)"
	}
	balance, err := e.ledger.Balance(actor.ID)
	if err != nil {
		return nil, err
	}
	return e.reject(ctx, actor, text, nil, "Insufficient credits", balance,
		"Command rejected: insufficient credits - "+text)
}

func (e *Engine) reject(ctx context.Context, actor *db.User, text string, ruleID *int64, reason string, balance int64, auditDetails string) (*SubmitResult, error) {
	cmd := &db.Command{
		UserID:        actor.ID,
		Text:          text,
		Status:        db.StatusRejected,
		MatchedRuleID: ruleID,
		CreatedAt:     e.clock(),
	}
	err := e.db.WithTx(ctx, func(tx *db.Tx) error {
		if err := tx.CreateCommand(cmd); err != nil {
			return err
		}
		return tx.Audit(&actor.ID, db.AuditCommandRejected, auditDetails)
	})
	if err != nil {
		return nil, storeErr(err)
	}

	e.metrics.Submission(string(db.StatusRejected))
	e.logger.Info("command rejected", "command_id", cmd.ID, "user", actor.Username,
		"program", ProgramName(text), "rule_id", ruleIDField(ruleID), "reason", reason)

	return &SubmitResult{
		Status:        db.StatusRejected,
		CommandID:     cmd.ID,
		Reason:        reason,
		MatchedRuleID: ruleID,
		Balance:       balance,
	}, nil
}

func (e *Engine) executeNew(ctx context.Context, actor *db.User, text string, decision Decision) (*SubmitResult, error) {
	now := e.clock()
	cmd := &db.Command{
		UserID:          actor.ID,
		Text:            text,
		Status:          db.StatusExecuted,
		MatchedRuleID:   decision.RuleID(),
		CreditsDeducted: ExecutionCost,
		CreatedAt:       now,
		ExecutedAt:      &now,
	}

	var balance int64
	err := e.db.WithTx(ctx, func(tx *db.Tx) error {
		var err error
		if balance, err = tx.DebitCredits(actor.ID, ExecutionCost); err != nil {
			return err
		}
		if err := tx.CreateCommand(cmd); err != nil {
			return err
		}
		return tx.Audit(&actor.ID, db.AuditCommandExecuted, "Command executed: "+text)
	})
	if errors.Is(err, db.ErrInsufficientCredits) {
		return e.rejectInsufficient(ctx, actor, text)
	}
	if err != nil {
		return nil, storeErr(err)
	}

	output := e.runAndRecord(ctx, cmd.ID, text)

	e.metrics.Submission(string(db.StatusExecuted))
	e.metrics.CreditsDebited(ExecutionCost)
	e.logger.Info("command executed", "command_id", cmd.ID, "user", actor.Username,
		"program", ProgramName(text), "rule_id", ruleIDField(cmd.MatchedRuleID), "credits", balance)

	return &SubmitResult{
		Status:          db.StatusExecuted,
		CommandID:       cmd.ID,
		MatchedRuleID:   cmd.MatchedRuleID,
		CreditsDeducted: ExecutionCost,
		Balance:         balance,
		Output:          output,
	}, nil
}

func (e *Engine) queueForApproval(ctx context.Context, actor *db.User, text string, decision Decision, balance int64) (*SubmitResult, error) {
	token, err := newApprovalToken()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransaction, err)
	}
	threshold := RequiredApprovals(actor, decision.Rule)
	now := e.clock()
	deadline := now.Add(e.escalationDelay)
	cmd := &db.Command{
		UserID:            actor.ID,
		Username:          actor.Username,
		Text:              text,
		Status:            db.StatusPending,
		MatchedRuleID:     decision.RuleID(),
		RequiredApprovals: threshold,
		ApprovalToken:     token,
		EscalationAt:      &deadline,
		CreatedAt:         now,
	}

	err = e.db.WithTx(ctx, func(tx *db.Tx) error {
		if err := tx.CreateCommand(cmd); err != nil {
			return err
		}
		return tx.Audit(&actor.ID, db.AuditCommandPendingApproval,
			fmt.Sprintf("Command pending approval: %s (threshold: %d)", text, threshold))
	})
	if err != nil {
		return nil, storeErr(err)
	}

	e.metrics.Submission(string(db.StatusPending))
	e.logger.Info("command pending approval", "command_id", cmd.ID, "user", actor.Username,
		"program", ProgramName(text), "rule_id", ruleIDField(cmd.MatchedRuleID), "threshold", threshold)

	admins, err := e.db.ListAdmins()
	if err != nil {
		e.logger.Warn("listing admins for notification", "command_id", cmd.ID, "error", err)
	} else {
		e.notifier.NotifyPendingApproval(cmd, actor, admins)
	}

	return &SubmitResult{
		Status:        db.StatusPending,
		CommandID:     cmd.ID,
		Reason:        fmt.Sprintf("Requires %d approval(s)", threshold),
		MatchedRuleID: cmd.MatchedRuleID,
		Balance:       balance,
		ApprovalToken: token,
		Threshold:     threshold,
	}, nil
}

// executeApproved runs an approved command on resubmission with its token.
// The status claim, debit and audit entry commit together before the
// executor runs; only the caller that wins the claim executes.
func (e *Engine) executeApproved(ctx context.Context, actor *db.User, req SubmitRequest) (*SubmitResult, error) {
	cmd, err := e.db.GetCommandByToken(req.ApprovalToken)
	if errors.Is(err, db.ErrCommandNotFound) {
		return nil, stateErr("approval token does not reference an approved command")
	}
	if err != nil {
		return nil, storeErr(err)
	}
	if cmd.UserID != actor.ID {
		return nil, unauthorizedErr("approval token belongs to another user")
	}
	if cmd.Status != db.StatusApproved {
		return nil, stateErr("command %s is %s, not approved", cmd.ID, cmd.Status)
	}
	if req.Text != "" && req.Text != cmd.Text {
		return nil, stateErr("command text does not match the approved command")
	}

	now := e.clock()
	var balance int64
	err = e.db.WithTx(ctx, func(tx *db.Tx) error {
		if err := tx.MarkExecuted(cmd.ID, ExecutionCost, now); err != nil {
			if errors.Is(err, db.ErrStatusChanged) {
				return stateErr("approval token already consumed")
			}
			return err
		}
		var err error
		if balance, err = tx.DebitCredits(actor.ID, ExecutionCost); err != nil {
			return err
		}
		return tx.Audit(&actor.ID, db.AuditCommandExecuted, "Command executed after approval: "+cmd.Text)
	})
	if errors.Is(err, db.ErrInsufficientCredits) {
		return e.rejectInsufficient(ctx, actor, cmd.Text)
	}
	if err != nil {
		return nil, storeErr(err)
	}

	output := e.runAndRecord(ctx, cmd.ID, cmd.Text)

	e.metrics.Submission(string(db.StatusExecuted))
	e.metrics.CreditsDebited(ExecutionCost)
	e.logger.Info("approved command executed", "command_id", cmd.ID, "user", actor.Username,
		"program", ProgramName(cmd.Text), "credits", balance)

	return &SubmitResult{
		Status:          db.StatusExecuted,
		CommandID:       cmd.ID,
		MatchedRuleID:   cmd.MatchedRuleID,
		CreditsDeducted: ExecutionCost,
		Balance:         balance,
		Output:          output,
	}, nil
}

// runAndRecord executes an already claimed command and stores its output.
// A failure to store the output is logged; the command has run either way.
func (e *Engine) runAndRecord(ctx context.Context, id, text string) string {
	output := e.run(ctx, text)
	if err := e.db.RecordOutput(id, output); err != nil {
		e.logger.Warn("recording command output", "command_id", id, "error", err)
	}
	return output
}

// run executes text and folds any executor failure into the output.
func (e *Engine) run(ctx context.Context, text string) string {
	output, err := e.executor.Execute(ctx, text)
	if err != nil {
		e.logger.Warn("command execution failed", "program", ProgramName(text), "error", err)
		if output != "" && !strings.HasSuffix(output, "\n") {
			output += "\n"
		}
		output += "execution error: " + err.Error()
	}
	return output
}

func ruleIDField(id *int64) any {
	if id == nil {
		return "none"
	}
	return *id
}

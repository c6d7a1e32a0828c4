package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Dicklesworthstone/cmdgate/internal/db"
)

// NewUser describes a user to create. Zero values take the engine defaults.
type NewUser struct {
	Username       string  `json:"username"`
	Role           db.Role `json:"role,omitempty"`
	Tier           db.Tier `json:"tier,omitempty"`
	Credits        *int64  `json:"credits,omitempty"`
	Email          string  `json:"email,omitempty"`
	TelegramChatID string  `json:"telegram_chat_id,omitempty"`
}

// UserUpdate lists the profile fields to change; nil fields are kept.
type UserUpdate struct {
	Tier           *db.Tier `json:"tier,omitempty"`
	Email          *string  `json:"email,omitempty"`
	TelegramChatID *string  `json:"telegram_chat_id,omitempty"`
}

// RuleSpec is a rule definition submitted by an admin.
type RuleSpec struct {
	Pattern           string    `json:"pattern"`
	Action            db.Action `json:"action"`
	Description       string    `json:"description,omitempty"`
	ApprovalThreshold *int      `json:"approval_threshold,omitempty"`
	TimeStart         string    `json:"time_start,omitempty"`
	TimeEnd           string    `json:"time_end,omitempty"`
	Timezone          string    `json:"timezone,omitempty"`
}

// RuleTestResult is the outcome of a dry-run match.
type RuleTestResult struct {
	Command   string    `json:"command"`
	Action    db.Action `json:"action"`
	Rule      *db.Rule  `json:"rule,omitempty"`
	Threshold int       `json:"threshold,omitempty"`
}

// CreateUser adds a user. The first user may be created without an actor;
// after that only admins may create users.
func (e *Engine) CreateUser(ctx context.Context, actor *db.User, in NewUser) (*db.User, error) {
	u := &db.User{
		Username:       strings.TrimSpace(in.Username),
		Role:           in.Role,
		Tier:           in.Tier,
		Credits:        e.defaultCredits,
		Email:          strings.TrimSpace(in.Email),
		TelegramChatID: strings.TrimSpace(in.TelegramChatID),
	}
	if u.Role == "" {
		u.Role = db.RoleMember
	}
	if u.Tier == "" {
		u.Tier = e.defaultTier
	}
	if in.Credits != nil {
		u.Credits = *in.Credits
	}

	switch {
	case u.Username == "":
		return nil, validationErr("username required")
	case !u.Role.Valid():
		return nil, validationErr("invalid role %q", u.Role)
	case !u.Tier.Valid():
		return nil, validationErr("invalid tier %q", u.Tier)
	case u.Credits < 0:
		return nil, validationErr("credits must be non-negative")
	}

	err := e.db.WithTx(ctx, func(tx *db.Tx) error {
		if actor == nil {
			n, err := tx.CountUsers()
			if err != nil {
				return err
			}
			if n > 0 {
				return unauthorizedErr("creating users requires admin access")
			}
		} else if !actor.IsAdmin() {
			return unauthorizedErr("creating users requires admin access")
		}

		if err := tx.CreateUser(u); err != nil {
			return err
		}
		var by *int64
		if actor != nil {
			by = &actor.ID
		}
		return tx.Audit(by, db.AuditUserCreated, fmt.Sprintf("Created user: %s with role: %s", u.Username, u.Role))
	})
	if err != nil {
		return nil, storeErr(err)
	}
	e.logger.Info("user created", "user", u.Username, "role", u.Role, "tier", u.Tier)
	return u, nil
}

// ListUsers returns all users.
func (e *Engine) ListUsers(actor *db.User) ([]*db.User, error) {
	if err := requireAdmin(actor, "listing users"); err != nil {
		return nil, err
	}
	users, err := e.db.ListUsers()
	return users, storeErr(err)
}

// UpdateCredits sets a user's balance.
func (e *Engine) UpdateCredits(ctx context.Context, actor *db.User, userID, credits int64) error {
	if err := requireAdmin(actor, "updating credits"); err != nil {
		return err
	}
	if credits < 0 {
		return validationErr("valid credits amount required")
	}

	unlock := e.ledger.lock(userID)
	defer unlock()

	err := e.db.WithTx(ctx, func(tx *db.Tx) error {
		if err := tx.SetCredits(userID, credits); err != nil {
			return err
		}
		return tx.Audit(&actor.ID, db.AuditCreditsUpdated, fmt.Sprintf("Updated credits for user %d to %d", userID, credits))
	})
	return storeErr(err)
}

// UpdateUser changes a user's tier or contact details.
func (e *Engine) UpdateUser(ctx context.Context, actor *db.User, userID int64, upd UserUpdate) (*db.User, error) {
	if err := requireAdmin(actor, "updating users"); err != nil {
		return nil, err
	}
	if upd.Tier == nil && upd.Email == nil && upd.TelegramChatID == nil {
		return nil, validationErr("no fields to update")
	}
	if upd.Tier != nil && !upd.Tier.Valid() {
		return nil, validationErr("invalid tier %q", *upd.Tier)
	}

	var u *db.User
	err := e.db.WithTx(ctx, func(tx *db.Tx) error {
		var err error
		if u, err = tx.GetUser(userID); err != nil {
			return err
		}
		var changed []string
		if upd.Tier != nil {
			u.Tier = *upd.Tier
			changed = append(changed, "tier="+string(u.Tier))
		}
		if upd.Email != nil {
			u.Email = strings.TrimSpace(*upd.Email)
			changed = append(changed, "email")
		}
		if upd.TelegramChatID != nil {
			u.TelegramChatID = strings.TrimSpace(*upd.TelegramChatID)
			changed = append(changed, "telegram_chat_id")
		}
		if err := tx.UpdateUserProfile(u); err != nil {
			return err
		}
		return tx.Audit(&actor.ID, db.AuditUserUpdated,
			fmt.Sprintf("Updated user %s (ID: %d): %s", u.Username, u.ID, strings.Join(changed, ", ")))
	})
	if err != nil {
		return nil, storeErr(err)
	}
	return u, nil
}

// DeleteUser removes a user with their commands and votes. Admins cannot
// delete themselves or the last remaining admin.
func (e *Engine) DeleteUser(ctx context.Context, actor *db.User, userID int64) error {
	if err := requireAdmin(actor, "deleting users"); err != nil {
		return err
	}
	if actor.ID == userID {
		return unauthorizedErr("you cannot delete your own account")
	}

	unlock := e.ledger.lock(userID)
	defer unlock()

	err := e.db.WithTx(ctx, func(tx *db.Tx) error {
		u, err := tx.GetUser(userID)
		if err != nil {
			return err
		}
		if u.IsAdmin() {
			n, err := tx.CountAdmins()
			if err != nil {
				return err
			}
			if n <= 1 {
				return unauthorizedErr("cannot delete the last admin")
			}
		}
		if err := tx.DeleteUser(userID); err != nil {
			return err
		}
		return tx.Audit(&actor.ID, db.AuditUserDeleted, fmt.Sprintf("Deleted user: %s (ID: %d)", u.Username, u.ID))
	})
	return storeErr(err)
}

// ValidateRule checks a rule definition without consulting existing rules.
func ValidateRule(spec RuleSpec) error {
	if strings.TrimSpace(spec.Pattern) == "" {
		return validationErr("pattern and action required")
	}
	if !spec.Action.Valid() {
		return validationErr("invalid action %q", spec.Action)
	}
	if _, err := NewRuleEngine().Compile(spec.Pattern); err != nil {
		return validationErr("invalid regex pattern: %v", err)
	}
	if spec.ApprovalThreshold != nil && *spec.ApprovalThreshold < 1 {
		return validationErr("approval threshold must be at least 1")
	}
	if (spec.TimeStart == "") != (spec.TimeEnd == "") {
		return validationErr("time_start and time_end must be set together")
	}
	if spec.TimeStart != "" {
		if _, err := parseClock(spec.TimeStart); err != nil {
			return validationErr("invalid time format, use HH:MM: %v", err)
		}
		if _, err := parseClock(spec.TimeEnd); err != nil {
			return validationErr("invalid time format, use HH:MM: %v", err)
		}
	}
	if spec.Timezone != "" {
		if _, err := time.LoadLocation(spec.Timezone); err != nil {
			return validationErr("invalid timezone %q", spec.Timezone)
		}
	}
	return nil
}

// CreateRule validates spec, rejects it when it overlaps an existing rule,
// and persists it. The conflict check reads the rules inside the write
// transaction, so two overlapping rules cannot both pass it.
func (e *Engine) CreateRule(ctx context.Context, actor *db.User, spec RuleSpec) (*db.Rule, error) {
	if err := requireAdmin(actor, "creating rules"); err != nil {
		return nil, err
	}
	if err := ValidateRule(spec); err != nil {
		return nil, err
	}

	r := &db.Rule{
		Pattern:           spec.Pattern,
		Action:            spec.Action,
		Description:       spec.Description,
		ApprovalThreshold: spec.ApprovalThreshold,
		TimeStart:         spec.TimeStart,
		TimeEnd:           spec.TimeEnd,
		Timezone:          spec.Timezone,
		CreatedBy:         &actor.ID,
	}
	err := e.db.WithTx(ctx, func(tx *db.Tx) error {
		existing, err := tx.ListRules()
		if err != nil {
			return err
		}
		conflicts, err := e.conflicts.Detect(spec.Pattern, existing, 0)
		if err != nil {
			return err
		}
		if len(conflicts) > 0 {
			return &ConflictError{Conflicts: conflicts}
		}
		if err := tx.CreateRule(r); err != nil {
			return err
		}
		return tx.Audit(&actor.ID, db.AuditRuleCreated, fmt.Sprintf("Created rule: %s -> %s", r.Pattern, r.Action))
	})
	if err != nil {
		return nil, storeErr(err)
	}
	e.logger.Info("rule created", "rule_id", r.ID, "user", actor.Username, "action", r.Action)
	return r, nil
}

// DeleteRule removes a rule. Commands keep the id they matched.
func (e *Engine) DeleteRule(ctx context.Context, actor *db.User, ruleID int64) error {
	if err := requireAdmin(actor, "deleting rules"); err != nil {
		return err
	}
	err := e.db.WithTx(ctx, func(tx *db.Tx) error {
		if err := tx.DeleteRule(ruleID); err != nil {
			return err
		}
		return tx.Audit(&actor.ID, db.AuditRuleDeleted, fmt.Sprintf("Deleted rule %d", ruleID))
	})
	return storeErr(err)
}

// ListRules returns all rules in match priority order.
func (e *Engine) ListRules() ([]*db.Rule, error) {
	rules, err := e.db.ListRules()
	return rules, storeErr(err)
}

// CheckConflict reports existing rules that overlap pattern, skipping
// excludeID when non-zero.
func (e *Engine) CheckConflict(actor *db.User, pattern string, excludeID int64) ([]Conflict, error) {
	if err := requireAdmin(actor, "checking rule conflicts"); err != nil {
		return nil, err
	}
	if strings.TrimSpace(pattern) == "" {
		return nil, validationErr("pattern required")
	}
	existing, err := e.db.ListRules()
	if err != nil {
		return nil, storeErr(err)
	}
	return e.conflicts.Detect(pattern, existing, excludeID)
}

// TestCommand reports how text would be handled for actor right now without
// recording anything.
func (e *Engine) TestCommand(actor *db.User, text string) (*RuleTestResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, validationErr("command text required")
	}
	rules, err := e.db.ListRules()
	if err != nil {
		return nil, storeErr(err)
	}
	d := e.rules.Match(rules, text, e.clock())
	res := &RuleTestResult{Command: text, Action: d.Action, Rule: d.Rule}
	if d.Action == db.ActionRequireApproval {
		res.Threshold = RequiredApprovals(actor, d.Rule)
	}
	return res, nil
}

// ListCommands returns the newest commands first: every user's for admins,
// the actor's own otherwise.
func (e *Engine) ListCommands(actor *db.User, limit int) ([]*db.Command, error) {
	if actor == nil {
		return nil, unauthorizedErr("listing commands requires an identity")
	}
	var userID int64
	if !actor.IsAdmin() {
		userID = actor.ID
	}
	cmds, err := e.db.ListCommands(userID, limit)
	return cmds, storeErr(err)
}

// ListPending returns commands awaiting approval with their tallies.
func (e *Engine) ListPending(actor *db.User) ([]*db.PendingCommand, error) {
	if err := requireAdmin(actor, "listing pending commands"); err != nil {
		return nil, err
	}
	pending, err := e.db.ListPendingCommands()
	return pending, storeErr(err)
}

// ListAudit returns the newest audit entries first.
func (e *Engine) ListAudit(actor *db.User, limit int) ([]*db.AuditEntry, error) {
	if err := requireAdmin(actor, "reading the audit log"); err != nil {
		return nil, err
	}
	entries, err := e.db.ListAudit(limit)
	return entries, storeErr(err)
}

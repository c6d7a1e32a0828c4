package testutil

import (
	"crypto/rand"
	"encoding/hex"
	"testing"
	"time"

	"github.com/Dicklesworthstone/cmdgate/internal/db"
)

// UserOption customizes a test user.
type UserOption func(*db.User)

// RuleOption customizes a test rule.
type RuleOption func(*db.Rule)

// CommandOption customizes a test command.
type CommandOption func(*db.Command)

// MakeUser creates and inserts a member with 100 credits unless overridden.
func MakeUser(t *testing.T, database *db.DB, opts ...UserOption) *db.User {
	t.Helper()

	u := &db.User{
		Username: "user-" + randHex(6),
		Role:     db.RoleMember,
		Tier:     db.TierJunior,
		Credits:  100,
	}
	for _, opt := range opts {
		opt(u)
	}
	RequireNoError(t, database.CreateUser(u), "create user")
	return u
}

// MakeRule creates and inserts a rule with the given pattern and action.
func MakeRule(t *testing.T, database *db.DB, pattern string, action db.Action, opts ...RuleOption) *db.Rule {
	t.Helper()

	r := &db.Rule{
		Pattern:  pattern,
		Action:   action,
		Timezone: "UTC",
	}
	for _, opt := range opts {
		opt(r)
	}
	RequireNoError(t, database.CreateRule(r), "create rule")
	return r
}

// MakeCommand inserts a command owned by user. Defaults to an executed
// "echo test".
func MakeCommand(t *testing.T, database *db.DB, user *db.User, opts ...CommandOption) *db.Command {
	t.Helper()

	c := &db.Command{
		UserID: user.ID,
		Text:   "echo test",
		Status: db.StatusExecuted,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.Status == db.StatusPending && c.ApprovalToken == "" {
		c.ApprovalToken = randHex(32)
	}
	if c.Status == db.StatusPending && c.RequiredApprovals == 0 {
		c.RequiredApprovals = 1
	}
	RequireNoError(t, database.CreateCommand(c), "create command")
	return c
}

// AsAdmin gives the user the admin role.
func AsAdmin() UserOption {
	return func(u *db.User) { u.Role = db.RoleAdmin }
}

// WithUsername sets the username.
func WithUsername(name string) UserOption {
	return func(u *db.User) { u.Username = name }
}

// WithTier sets the tier.
func WithTier(tier db.Tier) UserOption {
	return func(u *db.User) { u.Tier = tier }
}

// WithCredits sets the starting balance.
func WithCredits(n int64) UserOption {
	return func(u *db.User) { u.Credits = n }
}

// WithEmail sets the email contact.
func WithEmail(email string) UserOption {
	return func(u *db.User) { u.Email = email }
}

// WithTelegram sets the Telegram chat id.
func WithTelegram(chatID string) UserOption {
	return func(u *db.User) { u.TelegramChatID = chatID }
}

// WithThreshold sets an explicit approval threshold.
func WithThreshold(n int) RuleOption {
	return func(r *db.Rule) { r.ApprovalThreshold = &n }
}

// WithWindow restricts the rule to a daily time window.
func WithWindow(start, end, tz string) RuleOption {
	return func(r *db.Rule) {
		r.TimeStart = start
		r.TimeEnd = end
		r.Timezone = tz
	}
}

// WithDescription sets the rule description.
func WithDescription(desc string) RuleOption {
	return func(r *db.Rule) { r.Description = desc }
}

// WithStatus sets the command status.
func WithStatus(s db.Status) CommandOption {
	return func(c *db.Command) { c.Status = s }
}

// WithText sets the command text.
func WithText(text string) CommandOption {
	return func(c *db.Command) { c.Text = text }
}

// WithRequired sets the stored approval quorum.
func WithRequired(n int) CommandOption {
	return func(c *db.Command) { c.RequiredApprovals = n }
}

// WithToken sets the approval token.
func WithToken(token string) CommandOption {
	return func(c *db.Command) { c.ApprovalToken = token }
}

// WithEscalationAt sets the escalation deadline.
func WithEscalationAt(at time.Time) CommandOption {
	return func(c *db.Command) { c.EscalationAt = &at }
}

// WithCreatedAt overrides the creation time.
func WithCreatedAt(at time.Time) CommandOption {
	return func(c *db.Command) { c.CreatedAt = at }
}

// randHex returns a cryptographically random hex string for unique test IDs.
func randHex(n int) string {
	b := make([]byte, (n+1)/2) // Each byte produces 2 hex chars
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)[:n]
}

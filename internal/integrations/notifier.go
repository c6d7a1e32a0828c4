package integrations

import (
	"fmt"
	"strings"
	"time"

	"github.com/Dicklesworthstone/cmdgate/internal/db"
	"github.com/Dicklesworthstone/cmdgate/internal/utils"
)

// WorkflowNotifier defines notification hooks for the command lifecycle.
// Implementations must not block the caller.
type WorkflowNotifier interface {
	NotifyPendingApproval(cmd *db.Command, submitter *db.User, admins []*db.User)
	NotifyEscalation(cmd *db.Command, admins []*db.User)
	NotifyDecision(cmd *db.Command, submitter *db.User, tally db.Tally)
}

// NoopNotifier implements WorkflowNotifier and does nothing.
type NoopNotifier struct{}

func (NoopNotifier) NotifyPendingApproval(*db.Command, *db.User, []*db.User) {}
func (NoopNotifier) NotifyEscalation(*db.Command, []*db.User) {}
func (NoopNotifier) NotifyDecision(*db.Command, *db.User, db.Tally) {}

// Announcer formats lifecycle events and hands them to a Dispatcher.
type Announcer struct {
	dispatcher *Dispatcher
}

// NewAnnouncer creates an announcer that enqueues on d.
func NewAnnouncer(d *Dispatcher) *Announcer {
	return &Announcer{dispatcher: d}
}

// NotifyPendingApproval tells every admin a command awaits their vote.
func (a *Announcer) NotifyPendingApproval(cmd *db.Command, submitter *db.User, admins []*db.User) {
	msg := Message{
		Subject: "Command Approval Required: " + utils.Truncate(display(cmd.Text), 50),
		Body: fmt.Sprintf("User: %s\nCommand: %s\nApprovals needed: %d\nCommand ID: %s\n\nVote with: cmdgate approve %s",
			username(submitter, cmd), display(cmd.Text), cmd.RequiredApprovals, cmd.ID, cmd.ID),
	}
	a.broadcast(admins, msg)
}

// NotifyEscalation tells every admin a command is past its approval deadline.
func (a *Announcer) NotifyEscalation(cmd *db.Command, admins []*db.User) {
	msg := Message{
		Subject: "ESCALATION: Command Approval Required",
		Body: fmt.Sprintf("User: %s\nCommand: %s\nCommand ID: %s\nPending since: %s",
			username(nil, cmd), display(cmd.Text), cmd.ID, cmd.CreatedAt.Format(time.RFC3339)),
	}
	a.broadcast(admins, msg)
}

// NotifyDecision tells the submitter their command was approved or rejected.
func (a *Announcer) NotifyDecision(cmd *db.Command, submitter *db.User, tally db.Tally) {
	if submitter == nil {
		return
	}
	verdict := strings.ToUpper(string(cmd.Status))
	body := fmt.Sprintf("Command: %s\nCommand ID: %s\nApprovals: %d\nRejections: %d",
		display(cmd.Text), cmd.ID, tally.Approvals, tally.Rejections)
	if cmd.Status == db.StatusApproved {
		body += fmt.Sprintf("\n\nRun it with: cmdgate submit --token %s %q", cmd.ApprovalToken, cmd.Text)
	}
	a.dispatcher.Enqueue(recipientFor(submitter), Message{
		Subject: fmt.Sprintf("Command %s: %s", verdict, utils.Truncate(display(cmd.Text), 50)),
		Body:    body,
	})
}

func (a *Announcer) broadcast(users []*db.User, msg Message) {
	for _, u := range users {
		a.dispatcher.Enqueue(recipientFor(u), msg)
	}
}

func recipientFor(u *db.User) Recipient {
	return Recipient{
		UserID:         u.ID,
		Username:       u.Username,
		Email:          u.Email,
		TelegramChatID: u.TelegramChatID,
	}
}

func display(text string) string {
	return utils.SanitizeInput(text)
}

func username(u *db.User, cmd *db.Command) string {
	if u != nil {
		return u.Username
	}
	if cmd.Username != "" {
		return cmd.Username
	}
	return fmt.Sprintf("user %d", cmd.UserID)
}

package db

import "time"

// Role is a user's privilege level.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleMember
}

// Tier classifies a user for default approval quorum sizing.
type Tier string

const (
	TierJunior Tier = "junior"
	TierMid    Tier = "mid"
	TierSenior Tier = "senior"
	TierLead   Tier = "lead"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierJunior, TierMid, TierSenior, TierLead:
		return true
	default:
		return false
	}
}

// Action is the disposition a rule assigns to matching commands.
type Action string

const (
	ActionAutoAccept      Action = "AUTO_ACCEPT"
	ActionAutoReject      Action = "AUTO_REJECT"
	ActionRequireApproval Action = "REQUIRE_APPROVAL"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionAutoAccept, ActionAutoReject, ActionRequireApproval:
		return true
	default:
		return false
	}
}

// Status is the lifecycle state of a command.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted" // reserved; never assigned
	StatusRejected Status = "rejected"
	StatusExecuted Status = "executed"
	StatusApproved Status = "approved"
)

// IsTerminal reports whether no further state change is possible.
// Approved is not terminal: it still moves to executed on resubmission.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusRejected, StatusExecuted, StatusAccepted:
		return true
	default:
		return false
	}
}

// VoteValue is an approver's decision.
type VoteValue string

const (
	VoteApprove VoteValue = "approve"
	VoteReject  VoteValue = "reject"
)

// Valid reports whether v is a known vote value.
func (v VoteValue) Valid() bool {
	return v == VoteApprove || v == VoteReject
}

// Audit action types.
const (
	AuditUserCreated            = "user_created"
	AuditUserUpdated            = "user_updated"
	AuditUserDeleted            = "user_deleted"
	AuditCreditsUpdated         = "credits_updated"
	AuditRuleCreated            = "rule_created"
	AuditRuleDeleted            = "rule_deleted"
	AuditCommandExecuted        = "command_executed"
	AuditCommandRejected        = "command_rejected"
	AuditCommandPendingApproval = "command_pending_approval"
	AuditCommandApproved        = "command_approved"
	AuditCommandEscalated       = "command_escalated"
	AuditVoteRecorded           = "vote_recorded"
)

// User is an operator or administrator.
type User struct {
	ID             int64     `json:"id"`
	Username       string    `json:"username"`
	Role           Role      `json:"role"`
	Tier           Tier      `json:"tier"`
	Credits        int64     `json:"credits"`
	Email          string    `json:"email,omitempty"`
	TelegramChatID string    `json:"telegram_chat_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// IsAdmin reports whether the user holds the admin role.
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// Rule is a pattern rule. Lower IDs take priority.
type Rule struct {
	ID          int64  `json:"id"`
	Pattern     string `json:"pattern"`
	Action      Action `json:"action"`
	Description string `json:"description,omitempty"`
	// ApprovalThreshold overrides the tier-derived quorum when set.
	ApprovalThreshold *int `json:"approval_threshold,omitempty"`
	// TimeStart and TimeEnd are "HH:MM" in Timezone; both empty means always active.
	TimeStart string    `json:"time_start,omitempty"`
	TimeEnd   string    `json:"time_end,omitempty"`
	Timezone  string    `json:"timezone,omitempty"`
	CreatedBy *int64    `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// HasWindow reports whether the rule is restricted to a daily time window.
func (r *Rule) HasWindow() bool {
	return r.TimeStart != "" && r.TimeEnd != ""
}

// Command is a submitted command and its lifecycle state.
type Command struct {
	ID            string `json:"id"`
	UserID        int64  `json:"user_id"`
	Username      string `json:"username,omitempty"`
	Text          string `json:"command_text"`
	Status        Status `json:"status"`
	MatchedRuleID *int64 `json:"matched_rule_id,omitempty"`
	// RequiredApprovals is resolved once at creation for pending commands.
	RequiredApprovals int        `json:"required_approvals,omitempty"`
	CreditsDeducted   int64      `json:"credits_deducted"`
	Output            string     `json:"execution_output,omitempty"`
	ApprovalToken     string     `json:"approval_token,omitempty"`
	EscalationAt      *time.Time `json:"escalation_at,omitempty"`
	EscalatedAt       *time.Time `json:"escalated_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	ExecutedAt        *time.Time `json:"executed_at,omitempty"`
}

// Vote is one approver's live vote on a command.
type Vote struct {
	CommandID  string    `json:"command_id"`
	ApproverID int64     `json:"approver_id"`
	Value      VoteValue `json:"vote"`
	CreatedAt  time.Time `json:"created_at"`
}

// Tally counts live votes on a command.
type Tally struct {
	Approvals  int `json:"approvals"`
	Rejections int `json:"rejections"`
}

// PendingCommand is a pending command with its current tally.
type PendingCommand struct {
	Command
	Tier  Tier  `json:"tier"`
	Tally Tally `json:"tally"`
}

// AuditEntry is an append-only audit record.
type AuditEntry struct {
	ID         int64     `json:"id"`
	UserID     *int64    `json:"user_id,omitempty"`
	Username   string    `json:"username,omitempty"`
	ActionType string    `json:"action_type"`
	Details    string    `json:"details"`
	CreatedAt  time.Time `json:"created_at"`
}

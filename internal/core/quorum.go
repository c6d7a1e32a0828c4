package core

import "github.com/Dicklesworthstone/cmdgate/internal/db"

// DefaultTierApprovals is the quorum for a tier missing from the table.
const DefaultTierApprovals = 2

var tierApprovals = map[db.Tier]int{
	db.TierJunior: 3,
	db.TierMid:    2,
	db.TierSenior: 1,
	db.TierLead:   1,
}

// RequiredApprovals returns the number of approve votes a command needs.
// An explicit rule threshold wins; otherwise the submitter's tier decides.
func RequiredApprovals(user *db.User, rule *db.Rule) int {
	if rule != nil && rule.ApprovalThreshold != nil {
		return *rule.ApprovalThreshold
	}
	if user == nil {
		return DefaultTierApprovals
	}
	if n, ok := tierApprovals[user.Tier]; ok {
		return n
	}
	return DefaultTierApprovals
}

package core

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/Dicklesworthstone/cmdgate/internal/db"
	"github.com/Dicklesworthstone/cmdgate/internal/integrations"
	"github.com/Dicklesworthstone/cmdgate/internal/obs"
)

// DefaultEscalationDelay is how long a command may stay pending before
// admins are reminded.
const DefaultEscalationDelay = time.Hour

// DefaultCredits is the starting balance for new users.
const DefaultCredits int64 = 100

// Options configures an Engine. Zero values select defaults.
type Options struct {
	Executor        Executor
	Notifier        integrations.WorkflowNotifier
	Metrics         *obs.Metrics
	Logger          *log.Logger
	ProbeCommands   []string
	EscalationDelay time.Duration
	DefaultCredits  int64
	DefaultTier     db.Tier
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Engine evaluates submissions against the rule set, tracks approval votes
// and performs administrative changes. It is safe for concurrent use.
type Engine struct {
	db        *db.DB
	rules     *RuleEngine
	conflicts *ConflictDetector
	ledger    *CreditLedger
	voteLocks *keyedMutex[string]

	executor        Executor
	notifier        integrations.WorkflowNotifier
	metrics         *obs.Metrics
	logger          *log.Logger
	escalationDelay time.Duration
	defaultCredits  int64
	defaultTier     db.Tier
	now             func() time.Time
}

// New creates an Engine backed by database.
func New(database *db.DB, opts Options) *Engine {
	if opts.Executor == nil {
		opts.Executor = MockExecutor{}
	}
	if opts.Notifier == nil {
		opts.Notifier = integrations.NoopNotifier{}
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.EscalationDelay <= 0 {
		opts.EscalationDelay = DefaultEscalationDelay
	}
	if opts.DefaultCredits <= 0 {
		opts.DefaultCredits = DefaultCredits
	}
	if !opts.DefaultTier.Valid() {
		opts.DefaultTier = db.TierJunior
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	rules := NewRuleEngine()
	return &Engine{
		db:              database,
		rules:           rules,
		conflicts:       NewConflictDetector(rules, opts.ProbeCommands),
		ledger:          NewCreditLedger(database),
		voteLocks:       newKeyedMutex[string](),
		executor:        opts.Executor,
		notifier:        opts.Notifier,
		metrics:         opts.Metrics,
		logger:          opts.Logger,
		escalationDelay: opts.EscalationDelay,
		defaultCredits:  opts.DefaultCredits,
		defaultTier:     opts.DefaultTier,
		now:             opts.Now,
	}
}

// Ledger returns the engine's credit ledger.
func (e *Engine) Ledger() *CreditLedger { return e.ledger }

func (e *Engine) clock() time.Time {
	return e.now().UTC()
}

// newApprovalToken returns 32 random bytes, hex encoded.
func newApprovalToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating approval token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func requireAdmin(actor *db.User, action string) error {
	if actor == nil {
		return unauthorizedErr("%s requires an identity", action)
	}
	if !actor.IsAdmin() {
		return unauthorizedErr("%s requires admin access", action)
	}
	return nil
}

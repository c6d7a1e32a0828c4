// Package core implements the policy engine and approval workflow.
package core

import (
	"cmp"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Dicklesworthstone/cmdgate/internal/db"
)

// Decision is the outcome of matching a command against the rule set.
type Decision struct {
	// Rule is the matched rule, nil when nothing matched.
	Rule *db.Rule
	// Action is the disposition to apply.
	Action db.Action
}

// RuleID returns the matched rule id, or nil.
func (d Decision) RuleID() *int64 {
	if d.Rule == nil {
		return nil
	}
	id := d.Rule.ID
	return &id
}

// RuleEngine matches command text against stored rules. Compiled patterns
// are cached by source text; invalid patterns are remembered and skipped.
type RuleEngine struct {
	mu       sync.RWMutex
	compiled map[string]*regexp.Regexp
	invalid  map[string]error
}

// NewRuleEngine creates an engine with an empty pattern cache.
func NewRuleEngine() *RuleEngine {
	return &RuleEngine{
		compiled: make(map[string]*regexp.Regexp),
		invalid:  make(map[string]error),
	}
}

// Compile returns the compiled form of pattern, using the cache.
func (e *RuleEngine) Compile(pattern string) (*regexp.Regexp, error) {
	e.mu.RLock()
	re, ok := e.compiled[pattern]
	bad := e.invalid[pattern]
	e.mu.RUnlock()
	if ok {
		return re, nil
	}
	if bad != nil {
		return nil, bad
	}

	re, err := regexp.Compile(pattern)

	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		e.invalid[pattern] = err
		return nil, err
	}
	e.compiled[pattern] = re
	return re, nil
}

// Matches reports whether pattern matches anywhere in text. An invalid
// pattern never matches.
func (e *RuleEngine) Matches(pattern, text string) bool {
	re, err := e.Compile(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(text)
}

// Match walks rules in ascending id order and returns the first rule whose
// pattern matches text and whose time window includes now. Without a match
// the decision is AUTO_REJECT with no rule.
func (e *RuleEngine) Match(rules []*db.Rule, text string, now time.Time) Decision {
	for _, r := range sortedByID(rules) {
		if !e.Matches(r.Pattern, text) {
			continue
		}
		if !RuleActive(r, now) {
			continue
		}
		return Decision{Rule: r, Action: r.Action}
	}
	return Decision{Action: db.ActionAutoReject}
}

// sortedByID returns rules in ascending id order without mutating the input.
func sortedByID(rules []*db.Rule) []*db.Rule {
	if slices.IsSortedFunc(rules, compareRuleID) {
		return rules
	}
	out := slices.Clone(rules)
	slices.SortStableFunc(out, compareRuleID)
	return out
}

func compareRuleID(a, b *db.Rule) int {
	return cmp.Compare(a.ID, b.ID)
}

// RuleActive reports whether r applies at now. Rules without a window always
// apply. A window with start <= end is inclusive on both ends; start > end
// wraps past midnight. Unparseable times or timezones apply (fail-open).
func RuleActive(r *db.Rule, now time.Time) bool {
	if r == nil || !r.HasWindow() {
		return true
	}

	start, err := parseClock(r.TimeStart)
	if err != nil {
		return true
	}
	end, err := parseClock(r.TimeEnd)
	if err != nil {
		return true
	}

	tz := r.Timezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return true
	}

	local := now.In(loc)
	current := local.Hour()*3600 + local.Minute()*60 + local.Second()

	if start <= end {
		return current >= start && current <= end
	}
	return current >= start || current <= end
}

// parseClock parses "HH:MM" into seconds since midnight.
func parseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || !clockField(hh) || !clockField(mm) {
		return 0, fmt.Errorf("invalid time %q: want HH:MM", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h*3600 + m*60, nil
}

// clockField reports whether s is one or two ASCII digits.
func clockField(s string) bool {
	if len(s) == 0 || len(s) > 2 {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

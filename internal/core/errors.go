package core

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Dicklesworthstone/cmdgate/internal/db"
)

// Error classes. Match with errors.Is.
var (
	ErrValidation   = errors.New("validation error")
	ErrConflict     = errors.New("rule conflict")
	ErrUnauthorized = errors.New("not authorized")
	ErrInvalidState = errors.New("invalid state")
	ErrTransaction  = errors.New("transaction failed")
	ErrNotFound     = errors.New("not found")
)

// Conflict describes an existing rule whose pattern overlaps a candidate
// pattern on a probe command.
type Conflict struct {
	RuleID       int64  `json:"rule_id"`
	Pattern      string `json:"pattern"`
	ProbeCommand string `json:"probe_command"`
}

// ConflictError is returned when a new rule overlaps existing rules.
type ConflictError struct {
	Conflicts []Conflict
}

func (e *ConflictError) Error() string {
	parts := make([]string, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		parts = append(parts, fmt.Sprintf("rule %d (%s) on %q", c.RuleID, c.Pattern, c.ProbeCommand))
	}
	return fmt.Sprintf("%s: %s", ErrConflict, strings.Join(parts, "; "))
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

func validationErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func unauthorizedErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnauthorized, fmt.Sprintf(format, args...))
}

func stateErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidState, fmt.Sprintf(format, args...))
}

// storeErr classifies an error returned by the db package.
func storeErr(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case isClassified(err):
		return err
	case errors.Is(err, db.ErrUserNotFound),
		errors.Is(err, db.ErrRuleNotFound),
		errors.Is(err, db.ErrCommandNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, db.ErrUsernameTaken):
		return fmt.Errorf("%w: %w", ErrValidation, err)
	case errors.Is(err, db.ErrStatusChanged):
		return fmt.Errorf("%w: %w", ErrInvalidState, err)
	default:
		return fmt.Errorf("%w: %w", ErrTransaction, err)
	}
}

func isClassified(err error) bool {
	for _, class := range []error{ErrValidation, ErrConflict, ErrUnauthorized, ErrInvalidState, ErrTransaction, ErrNotFound} {
		if errors.Is(err, class) {
			return true
		}
	}
	return false
}

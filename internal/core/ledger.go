package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/Dicklesworthstone/cmdgate/internal/db"
)

// ExecutionCost is the number of credits debited per executed command.
const ExecutionCost int64 = 1

// CreditLedger gates submissions on a user's balance and debits executions.
// Check and debit for one user never interleave with another submission by
// the same user.
type CreditLedger struct {
	db    *db.DB
	locks *keyedMutex[int64]
}

// NewCreditLedger creates a ledger backed by database.
func NewCreditLedger(database *db.DB) *CreditLedger {
	return &CreditLedger{db: database, locks: newKeyedMutex[int64]()}
}

// lock serializes ledger work for one user.
func (l *CreditLedger) lock(userID int64) func() {
	return l.locks.Lock(userID)
}

// CheckAndReserve reads the balance fresh from storage and reports whether
// the user may submit. A balance of zero or less is refused.
func (l *CreditLedger) CheckAndReserve(userID int64) (allowed bool, balance int64, err error) {
	balance, err = l.db.GetCredits(userID)
	if err != nil {
		return false, 0, storeErr(err)
	}
	return balance > 0, balance, nil
}

// Balance returns the stored balance.
func (l *CreditLedger) Balance(userID int64) (int64, error) {
	balance, err := l.db.GetCredits(userID)
	return balance, storeErr(err)
}

// Debit subtracts amount in its own transaction and returns the new balance.
func (l *CreditLedger) Debit(ctx context.Context, userID, amount int64) (int64, error) {
	unlock := l.lock(userID)
	defer unlock()

	var balance int64
	err := l.db.WithTx(ctx, func(tx *db.Tx) error {
		var err error
		balance, err = tx.DebitCredits(userID, amount)
		return err
	})
	if errors.Is(err, db.ErrInsufficientCredits) {
		return 0, fmt.Errorf("%w: %w", ErrInvalidState, db.ErrInsufficientCredits)
	}
	if err != nil {
		return 0, storeErr(err)
	}
	return balance, nil
}

package transactions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"banking-ledger/account"
	"banking-ledger/ledger"
	"banking-ledger/logger"
)

// PostInterest credits one period of interest when the account's interest start
// is at or before asOf, and moves the start one period forward. It returns
// ErrInterestNotDue otherwise, and a nil transaction when the period earned nothing.
func (e *Engine) PostInterest(ctx context.Context, accountID string, asOf time.Time) (*ledger.Transaction, error) {
	tx, err := e.commit(ctx, accountID, func(acc *account.Account, typ account.Type, _ time.Time) (*ledger.Transaction, error) {
		if acc.InterestStartAt == nil || acc.InterestStartAt.After(asOf) {
			return nil, ErrInterestNotDue
		}
		interest := typ.PeriodInterest(acc.Balance)
		if !interest.IsPositive() {
			return nil, errNothingEarned
		}

		due := *acc.InterestStartAt
		next := typ.NextInterestStart(due)
		acc.InterestStartAt = &next
		return &ledger.Transaction{
			Type:        ledger.Interest,
			Amount:      interest,
			EffectiveAt: due,
		}, nil
	})
	if errors.Is(err, errNothingEarned) {
		return nil, nil
	}
	if !errors.Is(err, ErrInterestNotDue) {
		transactionsTotal.WithLabelValues(string(ledger.Interest), outcome(err)).Inc()
	}
	if err != nil {
		return nil, err
	}

	logger.Log.Info("interest posted",
		logger.String("account_id", tx.AccountID),
		logger.String("transaction_id", tx.ID),
		logger.String("amount", tx.Amount.StringFixed(2)))
	e.notify(ctx, *tx)
	return tx, nil
}

var errNothingEarned = errors.New("no interest earned")

// PostDueInterest posts every due period for every account, catching up periods
// missed while the service was down. It returns the number of postings.
func (e *Engine) PostDueInterest(ctx context.Context, asOf time.Time) (int, error) {
	accounts, err := e.store.Accounts(ctx)
	if err != nil {
		return 0, fmt.Errorf("could not list accounts: %w", err)
	}

	posted := 0
	var errs []error
	for _, acc := range accounts {
		for {
			if err := ctx.Err(); err != nil {
				return posted, err
			}
			tx, err := e.PostInterest(ctx, acc.ID, asOf)
			if errors.Is(err, ErrInterestNotDue) {
				break
			}
			if err != nil {
				errs = append(errs, fmt.Errorf("account %s: %w", acc.ID, err))
				break
			}
			if tx == nil {
				break
			}
			posted++
		}
	}
	return posted, errors.Join(errs...)
}

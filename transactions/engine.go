// Package transactions applies deposits, withdrawals and interest postings to
// the ledger under the account type's business rules.
package transactions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"banking-ledger/account"
	"banking-ledger/ledger"
	"banking-ledger/logger"
)

const (
	DefaultDepositLimit     = 180000
	DefaultMaxCommitRetries = 5

	observerTimeout = 30 * time.Second
)

// CommitObserver is told about every committed transaction, after the commit.
type CommitObserver interface {
	OnCommit(ctx context.Context, tx ledger.Transaction) error
}

// Converter converts amount from one currency into another.
type Converter interface {
	Convert(ctx context.Context, amount decimal.Decimal, from, to string) (decimal.Decimal, error)
}

type Engine struct {
	store        ledger.Store
	types        *account.Types
	locks        *ledger.Locks
	converter    Converter
	observers    []CommitObserver
	depositLimit decimal.Decimal
	maxRetries   int
	now          func() time.Time
}

type Option func(*Engine)

func WithDepositLimit(limit decimal.Decimal) Option {
	return func(e *Engine) { e.depositLimit = limit }
}

func WithMaxRetries(n int) Option {
	return func(e *Engine) { e.maxRetries = n }
}

func WithConverter(c Converter) Option {
	return func(e *Engine) { e.converter = c }
}

func WithObserver(o CommitObserver) Option {
	return func(e *Engine) { e.observers = append(e.observers, o) }
}

// WithLocks shares a lock registry with other components working per account.
func WithLocks(l *ledger.Locks) Option {
	return func(e *Engine) { e.locks = l }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(store ledger.Store, types *account.Types, opts ...Option) *Engine {
	e := &Engine{
		store:        store,
		types:        types,
		locks:        ledger.NewLocks(),
		depositLimit: decimal.NewFromInt(DefaultDepositLimit),
		maxRetries:   DefaultMaxCommitRetries,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Deposit(ctx context.Context, accountID string, amount decimal.Decimal) (*ledger.Transaction, error) {
	return e.Apply(ctx, Request{AccountID: accountID, Type: ledger.Deposit, Amount: amount})
}

func (e *Engine) Withdraw(ctx context.Context, accountID string, amount decimal.Decimal) (*ledger.Transaction, error) {
	return e.Apply(ctx, Request{AccountID: accountID, Type: ledger.Withdrawal, Amount: amount})
}

// Apply validates req and commits it as one atomic change of the account.
// Callers on the same account are serialised; a rejected request has no effect.
func (e *Engine) Apply(ctx context.Context, req Request) (*ledger.Transaction, error) {
	tx, err := e.apply(ctx, req)
	transactionsTotal.WithLabelValues(string(req.Type), outcome(err)).Inc()
	if err != nil {
		return nil, err
	}

	logger.Log.Info("transaction committed",
		logger.String("account_id", tx.AccountID),
		logger.String("transaction_id", tx.ID),
		logger.String("type", string(tx.Type)),
		logger.String("amount", tx.Amount.StringFixed(2)))
	e.notify(ctx, *tx)
	return tx, nil
}

func (e *Engine) apply(ctx context.Context, req Request) (*ledger.Transaction, error) {
	if err := req.validate(e.now()); err != nil {
		return nil, err
	}

	acc, err := e.store.Account(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}
	amount, original, err := e.convert(ctx, acc, req)
	if err != nil {
		return nil, err
	}

	return e.commit(ctx, req.AccountID, func(acc *account.Account, typ account.Type, now time.Time) (*ledger.Transaction, error) {
		tx := &ledger.Transaction{
			Type:        req.Type,
			Amount:      amount,
			EffectiveAt: req.EffectiveAt,
		}
		if original != nil {
			tx.OriginalAmount = decimal.NewNullDecimal(req.Amount)
			tx.OriginalCurrency = *original
		}

		switch req.Type {
		case ledger.Deposit:
			if amount.GreaterThan(e.depositLimit) {
				return nil, &RuleError{Err: ErrLimitExceeded, Amount: amount, Limit: e.depositLimit}
			}
			if acc.InitialDepositAt == nil {
				start := typ.NextInterestStart(now)
				acc.InitialDepositAt = &now
				acc.InterestStartAt = &start
			}
		case ledger.Withdrawal:
			if amount.GreaterThan(acc.Balance) {
				return nil, &RuleError{Err: ErrInsufficientFunds, Amount: amount, Limit: acc.Balance}
			}
			if amount.GreaterThan(typ.MaximumWithdrawalAmount) {
				return nil, &RuleError{Err: ErrLimitExceeded, Amount: amount, Limit: typ.MaximumWithdrawalAmount}
			}
			tx.Amount = amount.Neg()
		}
		return tx, nil
	})
}

// convert returns the amount in the account currency and, when a conversion
// happened, the original currency.
func (e *Engine) convert(ctx context.Context, acc *account.Account, req Request) (decimal.Decimal, *string, error) {
	code := strings.ToUpper(req.Currency)
	if code == "" || code == acc.Currency {
		return req.Amount, nil, nil
	}
	if req.Type != ledger.Deposit {
		return decimal.Zero, nil, &ValidationError{Field: "currency", Reason: "withdrawals must use the account currency"}
	}
	if e.converter == nil {
		return decimal.Zero, nil, &ValidationError{Field: "currency", Reason: "currency conversion is not available"}
	}

	converted, err := e.converter.Convert(ctx, req.Amount, code, acc.Currency)
	if err != nil {
		return decimal.Zero, nil, fmt.Errorf("could not convert %s to %s: %w", code, acc.Currency, err)
	}
	converted = converted.Round(2)
	if !converted.IsPositive() {
		return decimal.Zero, nil, &ValidationError{Field: "amount", Reason: "converted amount rounds to zero"}
	}
	return converted, &code, nil
}

// buildFunc fills in the type, amount and effective date of the transaction and
// may adjust acc. It sees the latest committed state on every attempt.
type buildFunc func(acc *account.Account, typ account.Type, now time.Time) (*ledger.Transaction, error)

func (e *Engine) commit(ctx context.Context, accountID string, build buildFunc) (*ledger.Transaction, error) {
	unlock, err := e.locks.Lock(ctx, accountID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	started := time.Now()
	defer func() { commitDuration.Observe(time.Since(started).Seconds()) }()

	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		cur, err := e.store.Account(ctx, accountID)
		if err != nil {
			return nil, err
		}
		typ, err := e.types.Lookup(cur.AccountType)
		if err != nil {
			return nil, fmt.Errorf("could not apply transaction to account %s: %w", accountID, err)
		}

		now := e.timestamp(cur)
		next := cur.Clone()
		tx, err := build(next, typ, now)
		if err != nil {
			return nil, err
		}

		tx.ID = ledger.NewID(now)
		tx.AccountID = accountID
		tx.Currency = cur.Currency
		tx.Timestamp = now
		if tx.EffectiveAt.IsZero() || tx.EffectiveAt.After(now) {
			tx.EffectiveAt = now
		}
		tx.EffectiveAt = tx.EffectiveAt.UTC()
		tx.BalanceAfter = cur.Balance.Add(tx.Amount)

		next.Balance = tx.BalanceAfter
		next.Version = cur.Version + 1
		next.LastTransactionAt = &now
		next.UpdatedAt = now

		err = e.store.Commit(ctx, cur.Version, next, tx)
		if errors.Is(err, ledger.ErrVersionConflict) {
			logger.Log.Warn("account changed during commit, retrying",
				logger.String("account_id", accountID),
				logger.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("could not commit transaction: %w", err)
		}
		return tx, nil
	}

	return nil, fmt.Errorf("%w: account %s after %d attempts", ErrConcurrencyConflict, accountID, e.maxRetries+1)
}

// timestamp is the commit time: now, but strictly after the account's previous
// transaction, at the microsecond precision the stores keep.
func (e *Engine) timestamp(acc *account.Account) time.Time {
	now := e.now().UTC().Truncate(time.Microsecond)
	if acc.LastTransactionAt != nil && !now.After(*acc.LastTransactionAt) {
		now = acc.LastTransactionAt.UTC().Add(time.Microsecond)
	}
	return now
}

// notify runs after the commit is durable, so observers must not inherit the
// caller's cancellation.
func (e *Engine) notify(ctx context.Context, tx ledger.Transaction) {
	if len(e.observers) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), observerTimeout)
	defer cancel()

	for _, o := range e.observers {
		if err := o.OnCommit(ctx, tx); err != nil {
			logger.Log.Error("commit observer failed",
				logger.String("account_id", tx.AccountID),
				logger.String("transaction_id", tx.ID),
				logger.Error(err))
		}
	}
}

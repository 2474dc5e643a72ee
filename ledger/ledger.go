// Package ledger stores accounts and their append-only transaction log.
//
// A Store applies a balance change and the transaction that explains it as one
// atomic Commit, so that an account balance always equals the sum of its
// transaction amounts.
package ledger

import (
	"context"
	"crypto/rand"
	"errors"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"banking-ledger/account"
)

var (
	ErrNotFound        = account.ErrNotFound
	ErrVersionConflict = errors.New("account version conflict")
	ErrBrokenChain     = errors.New("transaction does not extend the account balance")
)

// --- Models ---

type Type string

const (
	Deposit    Type = "DEPOSIT"
	Withdrawal Type = "WITHDRAWAL"
	Interest   Type = "INTEREST"
)

// Transaction is immutable once committed. Amount is signed: withdrawals are negative.
type Transaction struct {
	ID               string              `json:"id"`
	AccountID        string              `json:"account_id"`
	Type             Type                `json:"transaction_type"`
	Amount           decimal.Decimal     `json:"amount"`
	BalanceAfter     decimal.Decimal     `json:"balance_after"`
	Currency         string              `json:"currency"`
	OriginalAmount   decimal.NullDecimal `json:"original_amount"`
	OriginalCurrency string              `json:"original_currency,omitempty"`
	Timestamp        time.Time           `json:"timestamp"`
	// EffectiveAt is the value date used for end-of-day balances. It equals
	// Timestamp unless the transaction was back-dated.
	EffectiveAt time.Time `json:"effective_at"`
}

// --- Store ---

type Store interface {
	account.Repository

	Accounts(ctx context.Context) ([]*account.Account, error)

	// Commit persists acc (whose Version must be expectedVersion+1) and appends tx
	// atomically. It returns ErrVersionConflict when the stored account is no
	// longer at expectedVersion. A nil error means the commit is durable.
	Commit(ctx context.Context, expectedVersion int64, acc *account.Account, tx *Transaction) error

	LatestBalance(ctx context.Context, accountID string) (decimal.Decimal, error)

	// TransactionsInRange returns transactions with from <= Timestamp <= to in
	// ascending order. A zero from or to leaves that side unbounded.
	TransactionsInRange(ctx context.Context, accountID string, from, to time.Time) ([]Transaction, error)

	// BalanceAsOf sums the amounts of transactions effective at or before t.
	BalanceAsOf(ctx context.Context, accountID string, t time.Time) (decimal.Decimal, error)
}

func checkCommit(cur *account.Account, expectedVersion int64, acc *account.Account, tx *Transaction) error {
	if cur.Version != expectedVersion {
		return ErrVersionConflict
	}
	if acc.Version != expectedVersion+1 || tx.AccountID != acc.ID {
		return ErrBrokenChain
	}
	if !cur.Balance.Add(tx.Amount).Equal(tx.BalanceAfter) || !acc.Balance.Equal(tx.BalanceAfter) {
		return ErrBrokenChain
	}
	return nil
}

// --- IDs ---

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewID returns a ULID for t. IDs generated in the same millisecond sort in
// generation order.
func NewID(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

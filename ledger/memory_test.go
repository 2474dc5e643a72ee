package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"banking-ledger/account"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestAccount(id string) *account.Account {
	return &account.Account{
		ID:            id,
		UserID:        "user-1",
		AccountNumber: "10000000" + id,
		Balance:       decimal.Zero,
		Currency:      "EUR",
		AccountType:   "savings",
		CreatedAt:     t0,
		UpdatedAt:     t0,
	}
}

// post commits amount against the stored state of id and returns the transaction.
func post(t *testing.T, s Store, id string, amount string, at time.Time) *Transaction {
	t.Helper()
	ctx := context.Background()

	cur, err := s.Account(ctx, id)
	require.NoError(t, err)

	amt := decimal.RequireFromString(amount)
	next := cur.Clone()
	next.Balance = cur.Balance.Add(amt)
	next.Version = cur.Version + 1
	next.UpdatedAt = at

	typ := Deposit
	if amt.IsNegative() {
		typ = Withdrawal
	}
	tx := &Transaction{
		ID:           NewID(at),
		AccountID:    id,
		Type:         typ,
		Amount:       amt,
		BalanceAfter: next.Balance,
		Currency:     cur.Currency,
		Timestamp:    at,
		EffectiveAt:  at,
	}
	require.NoError(t, s.Commit(ctx, cur.Version, next, tx))
	return tx
}

func TestMemoryStoreCommitChain(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.CreateAccount(ctx, newTestAccount("a")))

	post(t, s, "a", "100", t0)
	post(t, s, "a", "50", t0.Add(time.Hour))
	post(t, s, "a", "-30", t0.Add(2*time.Hour))

	balance, err := s.LatestBalance(ctx, "a")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(120).Equal(balance), "balance %s", balance)

	txs, err := s.TransactionsInRange(ctx, "a", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, txs, 3)

	sum := decimal.Zero
	prev := decimal.Zero
	for i, tx := range txs {
		assert.True(t, prev.Add(tx.Amount).Equal(tx.BalanceAfter), "tx %d breaks the chain", i)
		if i > 0 {
			assert.True(t, tx.Timestamp.After(txs[i-1].Timestamp))
		}
		prev = tx.BalanceAfter
		sum = sum.Add(tx.Amount)
	}
	assert.True(t, sum.Equal(balance))
}

func TestMemoryStoreRejectsStaleVersion(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.CreateAccount(ctx, newTestAccount("a")))
	post(t, s, "a", "10", t0)

	next := newTestAccount("a")
	next.Balance = decimal.NewFromInt(20)
	next.Version = 1
	tx := &Transaction{ID: NewID(t0), AccountID: "a", Type: Deposit, Amount: decimal.NewFromInt(20),
		BalanceAfter: decimal.NewFromInt(20), Timestamp: t0, EffectiveAt: t0}

	err := s.Commit(ctx, 0, next, tx)
	assert.ErrorIs(t, err, ErrVersionConflict)

	txs, err := s.TransactionsInRange(ctx, "a", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestMemoryStoreRejectsBrokenChain(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.CreateAccount(ctx, newTestAccount("a")))

	next := newTestAccount("a")
	next.Balance = decimal.NewFromInt(99)
	next.Version = 1
	tx := &Transaction{ID: NewID(t0), AccountID: "a", Type: Deposit, Amount: decimal.NewFromInt(10),
		BalanceAfter: decimal.NewFromInt(99), Timestamp: t0, EffectiveAt: t0}

	assert.ErrorIs(t, s.Commit(ctx, 0, next, tx), ErrBrokenChain)

	balance, err := s.LatestBalance(ctx, "a")
	require.NoError(t, err)
	assert.True(t, balance.IsZero())
}

func TestMemoryStoreUnknownAccount(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.Account(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.LatestBalance(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.TransactionsInRange(ctx, "missing", time.Time{}, time.Time{})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.BalanceAsOf(ctx, "missing", t0)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Commit(ctx, 0, newTestAccount("missing"), &Transaction{AccountID: "missing"}), ErrNotFound)
}

func TestMemoryStoreTransactionsInRangeIsInclusive(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.CreateAccount(ctx, newTestAccount("a")))

	first := post(t, s, "a", "1", t0)
	second := post(t, s, "a", "2", t0.Add(time.Hour))
	post(t, s, "a", "3", t0.Add(2*time.Hour))

	txs, err := s.TransactionsInRange(ctx, "a", first.Timestamp, second.Timestamp)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, first.ID, txs[0].ID)
	assert.Equal(t, second.ID, txs[1].ID)

	txs, err = s.TransactionsInRange(ctx, "a", t0.Add(3*time.Hour), time.Time{})
	require.NoError(t, err)
	assert.NotNil(t, txs)
	assert.Empty(t, txs)
}

func TestMemoryStoreBalanceAsOfUsesEffectiveDate(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.CreateAccount(ctx, newTestAccount("a")))

	post(t, s, "a", "100", t0)

	cur, err := s.Account(ctx, "a")
	require.NoError(t, err)
	next := cur.Clone()
	next.Balance = cur.Balance.Add(decimal.NewFromInt(40))
	next.Version = cur.Version + 1
	committed := t0.Add(48 * time.Hour)
	require.NoError(t, s.Commit(ctx, cur.Version, next, &Transaction{
		ID: NewID(committed), AccountID: "a", Type: Deposit,
		Amount: decimal.NewFromInt(40), BalanceAfter: next.Balance,
		Timestamp: committed, EffectiveAt: t0.Add(-24 * time.Hour),
	}))

	before, err := s.BalanceAsOf(ctx, "a", t0.Add(-time.Hour))
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(40).Equal(before), "got %s", before)

	after, err := s.BalanceAsOf(ctx, "a", t0)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(140).Equal(after), "got %s", after)
}

func TestMemoryStoreCreateAccountRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.CreateAccount(ctx, newTestAccount("a")))

	assert.Error(t, s.CreateAccount(ctx, newTestAccount("a")))

	clash := newTestAccount("b")
	clash.AccountNumber = newTestAccount("a").AccountNumber
	assert.Error(t, s.CreateAccount(ctx, clash))
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.CreateAccount(ctx, newTestAccount("a")))

	acc, err := s.Account(ctx, "a")
	require.NoError(t, err)
	acc.Balance = decimal.NewFromInt(1_000_000)

	balance, err := s.LatestBalance(ctx, "a")
	require.NoError(t, err)
	assert.True(t, balance.IsZero())
}

func TestNewIDIsMonotonic(t *testing.T) {
	prev := NewID(t0)
	for i := 0; i < 100; i++ {
		id := NewID(t0)
		assert.Greater(t, id, prev)
		prev = id
	}
}

package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"banking-ledger/account"
)

// MemoryStore keeps the ledger in process memory. It is not durable on its own;
// FileStore adds a journal in front of it.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]*account.Account
	txs      map[string][]Transaction

	// journal, when set, is called under the write lock before a change is
	// applied. An error aborts the change.
	journal func(journalEntry) error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*account.Account),
		txs:      make(map[string][]Transaction),
	}
}

func (s *MemoryStore) CreateAccount(_ context.Context, acc *account.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[acc.ID]; exists {
		return fmt.Errorf("could not create account: id %s already exists", acc.ID)
	}
	for _, other := range s.accounts {
		if other.AccountNumber == acc.AccountNumber {
			return fmt.Errorf("could not create account: number %s already exists", acc.AccountNumber)
		}
	}

	if s.journal != nil {
		if err := s.journal(journalEntry{Kind: entryAccount, Account: acc, Version: acc.Version}); err != nil {
			return fmt.Errorf("could not journal account: %w", err)
		}
	}
	s.applyAccount(acc)
	return nil
}

func (s *MemoryStore) applyAccount(acc *account.Account) {
	s.accounts[acc.ID] = acc.Clone()
}

func (s *MemoryStore) Account(_ context.Context, id string) (*account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acc, ok := s.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return acc.Clone(), nil
}

func (s *MemoryStore) AccountsByUser(_ context.Context, userID string) ([]*account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*account.Account
	for _, acc := range s.accounts {
		if acc.UserID == userID {
			out = append(out, acc.Clone())
		}
	}
	sortAccounts(out)
	return out, nil
}

func (s *MemoryStore) Accounts(_ context.Context) ([]*account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*account.Account, 0, len(s.accounts))
	for _, acc := range s.accounts {
		out = append(out, acc.Clone())
	}
	sortAccounts(out)
	return out, nil
}

func sortAccounts(accs []*account.Account) {
	sort.Slice(accs, func(i, j int) bool {
		if accs[i].CreatedAt.Equal(accs[j].CreatedAt) {
			return accs[i].ID < accs[j].ID
		}
		return accs[i].CreatedAt.Before(accs[j].CreatedAt)
	})
}

func (s *MemoryStore) Commit(_ context.Context, expectedVersion int64, acc *account.Account, tx *Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.accounts[acc.ID]
	if !ok {
		return ErrNotFound
	}
	if err := checkCommit(cur, expectedVersion, acc, tx); err != nil {
		return err
	}

	if s.journal != nil {
		if err := s.journal(journalEntry{Kind: entryCommit, Account: acc, Version: acc.Version, Transaction: tx}); err != nil {
			return fmt.Errorf("could not journal transaction: %w", err)
		}
	}
	s.applyCommit(acc, tx)
	return nil
}

func (s *MemoryStore) applyCommit(acc *account.Account, tx *Transaction) {
	s.accounts[acc.ID] = acc.Clone()
	s.txs[acc.ID] = append(s.txs[acc.ID], *tx)
}

func (s *MemoryStore) LatestBalance(_ context.Context, accountID string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acc, ok := s.accounts[accountID]
	if !ok {
		return decimal.Zero, ErrNotFound
	}
	return acc.Balance, nil
}

func (s *MemoryStore) TransactionsInRange(_ context.Context, accountID string, from, to time.Time) ([]Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.accounts[accountID]; !ok {
		return nil, ErrNotFound
	}

	out := []Transaction{}
	for _, tx := range s.txs[accountID] {
		if !from.IsZero() && tx.Timestamp.Before(from) {
			continue
		}
		if !to.IsZero() && tx.Timestamp.After(to) {
			continue
		}
		out = append(out, tx)
	}
	return out, nil
}

func (s *MemoryStore) BalanceAsOf(_ context.Context, accountID string, t time.Time) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.accounts[accountID]; !ok {
		return decimal.Zero, ErrNotFound
	}

	sum := decimal.Zero
	for _, tx := range s.txs[accountID] {
		if !tx.EffectiveAt.After(t) {
			sum = sum.Add(tx.Amount)
		}
	}
	return sum, nil
}

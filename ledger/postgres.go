package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"banking-ledger/account"
	"banking-ledger/logger"
)

const Schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id                  UUID PRIMARY KEY,
	user_id             TEXT NOT NULL,
	account_number      TEXT NOT NULL UNIQUE,
	balance             NUMERIC(14,2) NOT NULL DEFAULT 0,
	currency            CHAR(3) NOT NULL,
	account_type        TEXT NOT NULL,
	version             BIGINT NOT NULL DEFAULT 0,
	initial_deposit_at  TIMESTAMPTZ,
	interest_start_at   TIMESTAMPTZ,
	last_transaction_at TIMESTAMPTZ,
	created_at          TIMESTAMPTZ NOT NULL,
	updated_at          TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS accounts_user_id_idx ON accounts (user_id);

CREATE TABLE IF NOT EXISTS transactions (
	id                TEXT PRIMARY KEY,
	account_id        UUID NOT NULL REFERENCES accounts (id),
	transaction_type  TEXT NOT NULL,
	amount            NUMERIC(14,2) NOT NULL,
	balance_after     NUMERIC(14,2) NOT NULL,
	currency          CHAR(3) NOT NULL,
	original_amount   NUMERIC(14,2),
	original_currency CHAR(3),
	created_at        TIMESTAMPTZ NOT NULL,
	effective_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS transactions_account_created_idx ON transactions (account_id, created_at);
CREATE INDEX IF NOT EXISTS transactions_account_effective_idx ON transactions (account_id, effective_at);
`

const accountColumns = `id, user_id, account_number, balance, currency, account_type, version,
	initial_deposit_at, interest_start_at, last_transaction_at, created_at, updated_at`

// PostgresStore is the durable Store. A Commit returns only after the database
// transaction holding both the balance update and the ledger row has committed.
type PostgresStore struct {
	DB *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{DB: db}
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("could not migrate ledger schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAccount(ctx context.Context, acc *account.Account) error {
	query := `INSERT INTO accounts (` + accountColumns + `)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := s.DB.ExecContext(ctx, query,
		acc.ID, acc.UserID, acc.AccountNumber, acc.Balance, acc.Currency, acc.AccountType, acc.Version,
		acc.InitialDepositAt, acc.InterestStartAt, acc.LastTransactionAt, acc.CreatedAt, acc.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("could not create account: duplicate %s: %w", pqErr.Constraint, err)
		}
		return fmt.Errorf("could not create account: %w", err)
	}
	return nil
}

func (s *PostgresStore) Account(ctx context.Context, id string) (*account.Account, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	acc, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("could not get account: %w", err)
	}
	return acc, nil
}

func (s *PostgresStore) AccountsByUser(ctx context.Context, userID string) ([]*account.Account, error) {
	return s.queryAccounts(ctx, `SELECT `+accountColumns+` FROM accounts WHERE user_id = $1 ORDER BY created_at, id`, userID)
}

func (s *PostgresStore) Accounts(ctx context.Context) ([]*account.Account, error) {
	return s.queryAccounts(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY created_at, id`)
}

func (s *PostgresStore) queryAccounts(ctx context.Context, query string, args ...any) ([]*account.Account, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("could not query accounts: %w", err)
	}
	defer closeRows(rows)

	var accounts []*account.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("could not scan account: %w", err)
		}
		accounts = append(accounts, acc)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}
	return accounts, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner) (*account.Account, error) {
	var (
		acc                                   account.Account
		initialDeposit, interestStart, lastTx sql.NullTime
	)
	err := row.Scan(&acc.ID, &acc.UserID, &acc.AccountNumber, &acc.Balance, &acc.Currency, &acc.AccountType, &acc.Version,
		&initialDeposit, &interestStart, &lastTx, &acc.CreatedAt, &acc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	acc.InitialDepositAt = nullTime(initialDeposit)
	acc.InterestStartAt = nullTime(interestStart)
	acc.LastTransactionAt = nullTime(lastTx)
	return &acc, nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func (s *PostgresStore) Commit(ctx context.Context, expectedVersion int64, acc *account.Account, tx *Transaction) error {
	dbTx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}

	res, err := dbTx.ExecContext(ctx, `UPDATE accounts
		SET balance = $1, version = $2, initial_deposit_at = $3, interest_start_at = $4,
			last_transaction_at = $5, updated_at = $6
		WHERE id = $7 AND version = $8 AND balance + $9 = $1`,
		acc.Balance, acc.Version, acc.InitialDepositAt, acc.InterestStartAt,
		acc.LastTransactionAt, acc.UpdatedAt, acc.ID, expectedVersion, tx.Amount)
	if err != nil {
		rollback(dbTx)
		return fmt.Errorf("could not update account balance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		rollback(dbTx)
		return fmt.Errorf("could not check updated rows: %w", err)
	}
	if n == 0 {
		rollback(dbTx)
		return s.missedUpdate(ctx, acc.ID)
	}

	var originalCurrency *string
	if tx.OriginalCurrency != "" {
		originalCurrency = &tx.OriginalCurrency
	}
	_, err = dbTx.ExecContext(ctx, `INSERT INTO transactions
		(id, account_id, transaction_type, amount, balance_after, currency, original_amount, original_currency, created_at, effective_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		tx.ID, tx.AccountID, string(tx.Type), tx.Amount, tx.BalanceAfter, tx.Currency,
		tx.OriginalAmount, originalCurrency, tx.Timestamp, tx.EffectiveAt)
	if err != nil {
		rollback(dbTx)
		return fmt.Errorf("could not create transaction: %w", err)
	}

	if err := dbTx.Commit(); err != nil {
		return fmt.Errorf("could not commit transaction: %w", err)
	}
	return nil
}

// missedUpdate explains why the guarded UPDATE touched no row.
func (s *PostgresStore) missedUpdate(ctx context.Context, id string) error {
	exists, err := s.exists(ctx, id)
	if err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrVersionConflict
}

func (s *PostgresStore) exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.DB.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("could not check account: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) LatestBalance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := s.DB.QueryRowContext(ctx, `SELECT balance FROM accounts WHERE id = $1`, accountID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, ErrNotFound
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("could not get balance: %w", err)
	}
	return balance, nil
}

func (s *PostgresStore) TransactionsInRange(ctx context.Context, accountID string, from, to time.Time) ([]Transaction, error) {
	exists, err := s.exists(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrNotFound
	}

	rows, err := s.DB.QueryContext(ctx, `SELECT id, account_id, transaction_type, amount, balance_after, currency,
			original_amount, original_currency, created_at, effective_at
		FROM transactions
		WHERE account_id = $1
			AND ($2::timestamptz IS NULL OR created_at >= $2)
			AND ($3::timestamptz IS NULL OR created_at <= $3)
		ORDER BY created_at ASC, id ASC`, accountID, optionalTime(from), optionalTime(to))
	if err != nil {
		return nil, fmt.Errorf("could not query transactions: %w", err)
	}
	defer closeRows(rows)

	txs := []Transaction{}
	for rows.Next() {
		var (
			tx               Transaction
			txType           string
			originalCurrency sql.NullString
		)
		if err := rows.Scan(&tx.ID, &tx.AccountID, &txType, &tx.Amount, &tx.BalanceAfter, &tx.Currency,
			&tx.OriginalAmount, &originalCurrency, &tx.Timestamp, &tx.EffectiveAt); err != nil {
			return nil, fmt.Errorf("could not scan transaction: %w", err)
		}
		tx.Type = Type(txType)
		tx.OriginalCurrency = originalCurrency.String
		tx.Timestamp = tx.Timestamp.UTC()
		tx.EffectiveAt = tx.EffectiveAt.UTC()
		txs = append(txs, tx)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}
	return txs, nil
}

func (s *PostgresStore) BalanceAsOf(ctx context.Context, accountID string, t time.Time) (decimal.Decimal, error) {
	exists, err := s.exists(ctx, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	if !exists {
		return decimal.Zero, ErrNotFound
	}

	var sum decimal.Decimal
	err = s.DB.QueryRowContext(ctx, `SELECT COALESCE(SUM(amount), 0) FROM transactions
		WHERE account_id = $1 AND effective_at <= $2`, accountID, t).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("could not sum transactions: %w", err)
	}
	return sum, nil
}

func optionalTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		logger.Log.Error("could not roll back transaction", logger.Error(err))
	}
}

func closeRows(rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		logger.Log.Error("error closing rows", logger.Error(err))
	}
}

package eod

import (
	"context"
	"database/sql"
	"fmt"

	"banking-ledger/logger"
)

const Schema = `
CREATE TABLE IF NOT EXISTS eod_records (
	id          TEXT PRIMARY KEY,
	account_id  UUID NOT NULL REFERENCES accounts (id),
	day         DATE NOT NULL,
	figure      NUMERIC(14,2) NOT NULL,
	status      TEXT NOT NULL,
	computed_at TIMESTAMPTZ NOT NULL,
	UNIQUE (account_id, day)
);
`

type PostgresStore struct {
	DB *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{DB: db}
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("could not migrate eod schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Upsert(ctx context.Context, rec Record) (Record, error) {
	query := `INSERT INTO eod_records (id, account_id, day, figure, status, computed_at)
			  VALUES ($1, $2, $3, $4, $5, $6)
			  ON CONFLICT (account_id, day) DO UPDATE
			  SET figure = EXCLUDED.figure, status = EXCLUDED.status, computed_at = EXCLUDED.computed_at
			  RETURNING id`
	err := s.DB.QueryRowContext(ctx, query,
		rec.ID, rec.AccountID, rec.Day.String(), rec.Figure, string(rec.Status), rec.ComputedAt).Scan(&rec.ID)
	if err != nil {
		return Record{}, fmt.Errorf("could not upsert eod record: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) MarkStale(ctx context.Context, accountID string, from Day) (int, error) {
	res, err := s.DB.ExecContext(ctx, `UPDATE eod_records SET status = $1 WHERE account_id = $2 AND day >= $3`,
		string(Stale), accountID, from.String())
	if err != nil {
		return 0, fmt.Errorf("could not mark eod records stale: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("could not count stale eod records: %w", err)
	}
	return int(n), nil
}

func (s *PostgresStore) Range(ctx context.Context, accountID string, from, to Day) ([]Record, error) {
	return s.query(ctx, `SELECT id, account_id, day, figure, status, computed_at FROM eod_records
		WHERE account_id = $1
			AND ($2::date IS NULL OR day >= $2)
			AND ($3::date IS NULL OR day <= $3)
		ORDER BY day ASC`, accountID, optionalDay(from), optionalDay(to))
}

func (s *PostgresStore) Latest(ctx context.Context, accountID string, limit int) ([]Record, error) {
	return s.query(ctx, `SELECT id, account_id, day, figure, status, computed_at FROM eod_records
		WHERE account_id = $1
		ORDER BY day DESC
		LIMIT $2`, accountID, limit)
}

func (s *PostgresStore) query(ctx context.Context, query string, args ...any) ([]Record, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("could not query eod records: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			logger.Log.Error("error closing rows", logger.Error(err))
		}
	}()

	var records []Record
	for rows.Next() {
		var (
			rec    Record
			status string
		)
		if err := rows.Scan(&rec.ID, &rec.AccountID, &rec.Day.Time, &rec.Figure, &status, &rec.ComputedAt); err != nil {
			return nil, fmt.Errorf("could not scan eod record: %w", err)
		}
		rec.Day = NewDay(rec.Day.Date())
		rec.Status = Status(status)
		records = append(records, rec)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating eod records: %w", err)
	}
	return records, nil
}

func optionalDay(d Day) any {
	if d.IsZero() {
		return nil
	}
	return d.String()
}

package eod

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresStore(db), mock
}

func TestPostgresUpsertKeepsExistingID(t *testing.T) {
	s, mock := newMockStore(t)
	computed := time.Date(2024, 3, 2, 0, 5, 0, 0, time.UTC)

	mock.ExpectQuery(`INSERT INTO eod_records .* ON CONFLICT \(account_id, day\) DO UPDATE`).
		WithArgs("new-id", "a", "2024-03-01", sqlmock.AnyArg(), "computed", computed).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("old-id"))

	rec, err := s.Upsert(context.Background(), Record{
		ID: "new-id", AccountID: "a", Day: day1, Figure: d("100"), Status: Computed, ComputedAt: computed,
	})
	require.NoError(t, err)
	assert.Equal(t, "old-id", rec.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresMarkStale(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(`UPDATE eod_records SET status`).
		WithArgs("stale", "a", "2024-03-02").
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := s.MarkStale(context.Background(), "a", day2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRange(t *testing.T) {
	s, mock := newMockStore(t)
	computed := time.Date(2024, 3, 4, 0, 5, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"id", "account_id", "day", "figure", "status", "computed_at"}).
		AddRow("1", "a", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), "100.00", "computed", computed).
		AddRow("2", "a", time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), "110.00", "stale", computed)
	mock.ExpectQuery(`FROM eod_records`).WithArgs("a", "2024-03-01", nil).WillReturnRows(rows)

	recs, err := s.Range(context.Background(), "a", day1, Day{})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, day1, recs[0].Day)
	assert.Equal(t, Stale, recs[1].Status)
	assert.True(t, d("110").Equal(recs[1].Figure))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLatest(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`ORDER BY day DESC`).WithArgs("a", 30).
		WillReturnRows(sqlmock.NewRows([]string{"id", "account_id", "day", "figure", "status", "computed_at"}))

	recs, err := s.Latest(context.Background(), "a", 30)
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

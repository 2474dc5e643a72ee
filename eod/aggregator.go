package eod

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"banking-ledger/ledger"
	"banking-ledger/logger"
)

const (
	DefaultWindow = 30
	MaxHistory    = 730
)

// Invalidator is told when an account's records changed.
type Invalidator interface {
	Invalidate(ctx context.Context, accountID string) error
}

// Aggregator derives end-of-day figures from the ledger. A figure is the sum of
// the amounts effective by the end of the day, so days without activity carry
// the previous figure forward and back-dated transactions move every later day.
type Aggregator struct {
	ledger       ledger.Store
	records      Store
	locks        *ledger.Locks
	loc          *time.Location
	now          func() time.Time
	invalidators []Invalidator
}

type Option func(*Aggregator)

func WithLocation(loc *time.Location) Option {
	return func(a *Aggregator) { a.loc = loc }
}

func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

func WithInvalidator(i Invalidator) Option {
	return func(a *Aggregator) { a.invalidators = append(a.invalidators, i) }
}

func NewAggregator(l ledger.Store, records Store, opts ...Option) *Aggregator {
	a := &Aggregator{
		ledger:  l,
		records: records,
		locks:   ledger.NewLocks(),
		loc:     time.UTC,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// AddInvalidator registers i. It must be called before the aggregator is shared.
func (a *Aggregator) AddInvalidator(i Invalidator) {
	a.invalidators = append(a.invalidators, i)
}

func (a *Aggregator) Location() *time.Location {
	return a.loc
}

// Today is the current calendar day in the aggregator's location.
func (a *Aggregator) Today() Day {
	return DayOf(a.now(), a.loc)
}

// ComputeEOD returns the account's balance at the end of day without storing it.
func (a *Aggregator) ComputeEOD(ctx context.Context, accountID string, day Day) (decimal.Decimal, error) {
	figure, err := a.ledger.BalanceAsOf(ctx, accountID, day.End(a.loc))
	if err != nil {
		return decimal.Zero, fmt.Errorf("could not compute eod for %s on %s: %w", accountID, day, err)
	}
	return figure, nil
}

func (a *Aggregator) lock(ctx context.Context, accountID string) (func(), error) {
	return a.locks.Lock(ctx, "eod:"+accountID)
}

// CloseDay computes and stores the record for one day.
func (a *Aggregator) CloseDay(ctx context.Context, accountID string, day Day) (Record, error) {
	unlock, err := a.lock(ctx, accountID)
	if err != nil {
		return Record{}, err
	}
	rec, err := a.close(ctx, accountID, day)
	unlock()
	if err != nil {
		return Record{}, err
	}
	a.invalidate(ctx, accountID)
	return rec, nil
}

func (a *Aggregator) close(ctx context.Context, accountID string, day Day) (Record, error) {
	figure, err := a.ComputeEOD(ctx, accountID, day)
	if err != nil {
		return Record{}, err
	}
	now := a.now().UTC()
	rec, err := a.records.Upsert(ctx, Record{
		ID:         ledger.NewID(now),
		AccountID:  accountID,
		Day:        day,
		Figure:     figure,
		Status:     Computed,
		ComputedAt: now,
	})
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

// CloseThrough closes every day from the one after the latest record (or the
// day the account was opened) through day, and returns how many it wrote.
func (a *Aggregator) CloseThrough(ctx context.Context, accountID string, day Day) (int, error) {
	acc, err := a.ledger.Account(ctx, accountID)
	if err != nil {
		return 0, err
	}

	unlock, err := a.lock(ctx, accountID)
	if err != nil {
		return 0, err
	}
	defer unlock()

	start := DayOf(acc.CreatedAt, a.loc)
	latest, err := a.records.Latest(ctx, accountID, 1)
	if err != nil {
		return 0, err
	}
	if len(latest) > 0 {
		start = latest[0].Day.AddDays(1)
	}

	n := 0
	for d := start; !d.After(day.Time); d = d.AddDays(1) {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if _, err := a.close(ctx, accountID, d); err != nil {
			return n, err
		}
		n++
	}
	if n > 0 {
		a.invalidate(ctx, accountID)
	}
	return n, nil
}

// RunDaily closes day for every account, catching up any days missed before it.
func (a *Aggregator) RunDaily(ctx context.Context, day Day) (int, error) {
	accounts, err := a.ledger.Accounts(ctx)
	if err != nil {
		return 0, fmt.Errorf("could not list accounts: %w", err)
	}

	written := 0
	var errs []error
	for _, acc := range accounts {
		n, err := a.CloseThrough(ctx, acc.ID, day)
		written += n
		if err != nil {
			if ctx.Err() != nil {
				return written, ctx.Err()
			}
			errs = append(errs, fmt.Errorf("account %s: %w", acc.ID, err))
		}
	}

	logger.Log.Info("end of day closed",
		logger.Stringer("day", day),
		logger.Int("accounts", len(accounts)),
		logger.Int("records", written))
	return written, errors.Join(errs...)
}

// OnCommit recomputes the records a committed transaction changed: every stored
// day from its effective day forward.
func (a *Aggregator) OnCommit(ctx context.Context, tx ledger.Transaction) error {
	from := DayOf(tx.EffectiveAt, a.loc)

	unlock, err := a.lock(ctx, tx.AccountID)
	if err != nil {
		return err
	}
	n, err := a.records.MarkStale(ctx, tx.AccountID, from)
	if err == nil && n > 0 {
		_, err = a.refresh(ctx, tx.AccountID, from)
	}
	unlock()
	if err != nil {
		return fmt.Errorf("could not recompute eod records from %s: %w", from, err)
	}

	if n > 0 {
		logger.Log.Info("eod records recomputed",
			logger.String("account_id", tx.AccountID),
			logger.Stringer("from", from),
			logger.Int("records", n))
		a.invalidate(ctx, tx.AccountID)
	}
	return nil
}

// refresh recomputes the stale records on or after from. Callers hold the lock.
func (a *Aggregator) refresh(ctx context.Context, accountID string, from Day) (int, error) {
	recs, err := a.records.Range(ctx, accountID, from, Day{})
	if err != nil {
		return 0, err
	}
	n := 0
	for _, rec := range recs {
		if rec.Status != Stale {
			continue
		}
		if _, err := a.close(ctx, accountID, rec.Day); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Sum is a window of records and the total of their figures.
type Sum struct {
	AccountID string          `json:"account_id"`
	Total     decimal.Decimal `json:"total"`
	Count     int             `json:"count"`
	Records   []Record        `json:"records"`
}

// RangeSum totals the records between from and to inclusive, ascending. With
// both bounds zero it totals the most recent DefaultWindow records, newest
// first. It returns ErrEmptyRange when the window holds no record.
func (a *Aggregator) RangeSum(ctx context.Context, accountID string, from, to Day) (Sum, error) {
	recs, err := a.Records(ctx, accountID, from, to)
	if err != nil {
		return Sum{}, err
	}
	if len(recs) == 0 {
		return Sum{}, ErrEmptyRange
	}

	total := decimal.Zero
	for _, rec := range recs {
		total = total.Add(rec.Figure)
	}
	return Sum{AccountID: accountID, Total: total, Count: len(recs), Records: recs}, nil
}

// Records lists the window RangeSum would total. Stale records are recomputed first.
func (a *Aggregator) Records(ctx context.Context, accountID string, from, to Day) ([]Record, error) {
	if _, err := a.ledger.Account(ctx, accountID); err != nil {
		return nil, err
	}

	fetch := func() ([]Record, error) {
		if from.IsZero() && to.IsZero() {
			return a.records.Latest(ctx, accountID, DefaultWindow)
		}
		return a.records.Range(ctx, accountID, from, to)
	}
	return a.fresh(ctx, accountID, fetch)
}

// History returns up to limit most recent records, oldest first.
func (a *Aggregator) History(ctx context.Context, accountID string, limit int) ([]Record, error) {
	if limit <= 0 || limit > MaxHistory {
		limit = MaxHistory
	}
	recs, err := a.fresh(ctx, accountID, func() ([]Record, error) {
		return a.records.Latest(ctx, accountID, limit)
	})
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(recs)-1; i < j; i, j = i+1, j-1 {
		recs[i], recs[j] = recs[j], recs[i]
	}
	return recs, nil
}

// fresh runs fetch and, when it returns stale records, recomputes them under
// the account lock and fetches again.
func (a *Aggregator) fresh(ctx context.Context, accountID string, fetch func() ([]Record, error)) ([]Record, error) {
	recs, err := fetch()
	if err != nil {
		return nil, err
	}

	var oldest *Day
	for _, rec := range recs {
		if rec.Status == Stale && (oldest == nil || rec.Day.Before(oldest.Time)) {
			day := rec.Day
			oldest = &day
		}
	}
	if oldest == nil {
		return recs, nil
	}

	unlock, err := a.lock(ctx, accountID)
	if err != nil {
		return nil, err
	}
	_, err = a.refresh(ctx, accountID, *oldest)
	unlock()
	if err != nil {
		return nil, fmt.Errorf("could not recompute stale eod records: %w", err)
	}
	a.invalidate(ctx, accountID)
	return fetch()
}

func (a *Aggregator) invalidate(ctx context.Context, accountID string) {
	for _, inv := range a.invalidators {
		if err := inv.Invalidate(ctx, accountID); err != nil {
			logger.Log.Warn("could not invalidate after eod change",
				logger.String("account_id", accountID),
				logger.Error(err))
		}
	}
}

// Package eod keeps one closing-balance record per account and calendar day.
package eod

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var ErrEmptyRange = errors.New("no end-of-day records in range")

type Status string

const (
	Computed Status = "computed"
	// Stale records were computed before a back-dated transaction landed on or
	// before their day and must be recomputed before they are read.
	Stale Status = "stale"
)

const DayLayout = "2006-01-02"

// --- Models ---

type Record struct {
	ID         string          `json:"id"`
	AccountID  string          `json:"account_id"`
	Day        Day             `json:"date"`
	Figure     decimal.Decimal `json:"figure"`
	Status     Status          `json:"status"`
	ComputedAt time.Time       `json:"computed_at"`
}

// Day is a calendar date, held as midnight UTC.
type Day struct {
	time.Time
}

func NewDay(year int, month time.Month, day int) Day {
	return Day{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DayOf returns the calendar day t falls on in loc.
func DayOf(t time.Time, loc *time.Location) Day {
	y, m, d := t.In(loc).Date()
	return NewDay(y, m, d)
}

func ParseDay(s string) (Day, error) {
	t, err := time.Parse(DayLayout, s)
	if err != nil {
		return Day{}, err
	}
	return Day{t}, nil
}

func (d Day) AddDays(n int) Day {
	return Day{d.Time.AddDate(0, 0, n)}
}

// End is the last instant of the day in loc.
func (d Day) End(loc *time.Location) time.Time {
	y, m, dd := d.Date()
	return time.Date(y, m, dd, 0, 0, 0, 0, loc).AddDate(0, 0, 1).Add(-time.Nanosecond)
}

func (d Day) String() string {
	return d.Format(DayLayout)
}

func (d Day) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Day) UnmarshalJSON(b []byte) error {
	if len(b) < 2 || b[0] != '"' || b[len(b)-1] != '"' {
		return errors.New("day must be a quoted YYYY-MM-DD string")
	}
	parsed, err := ParseDay(string(b[1 : len(b)-1]))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// --- Store ---

type Store interface {
	// Upsert writes rec, replacing the record of the same account and day. The
	// stored record keeps the ID of the one it replaces.
	Upsert(ctx context.Context, rec Record) (Record, error)

	// MarkStale flags every record of the account on or after from and returns
	// how many were flagged.
	MarkStale(ctx context.Context, accountID string, from Day) (int, error)

	// Range returns records with from <= Day <= to, ascending. A zero bound is open.
	Range(ctx context.Context, accountID string, from, to Day) ([]Record, error)

	// Latest returns up to limit most recent records, newest first.
	Latest(ctx context.Context, accountID string, limit int) ([]Record, error)
}

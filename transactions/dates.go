package transactions

import (
	"errors"
	"net/http"
	"time"
)

const DateLayout = "2006-01-02"

// ParseTime accepts an RFC 3339 timestamp or a plain date in loc. A plain date
// means the start of that day, or its last instant when endOfDay is set.
func ParseTime(s string, loc *time.Location, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	d, err := time.ParseInLocation(DateLayout, s, loc)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		d = d.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	return d.UTC(), nil
}

// ParseRange reads the optional from and to query parameters. A missing side is
// returned as the zero time.
func ParseRange(r *http.Request, loc *time.Location) (from, to time.Time, err error) {
	q := r.URL.Query()
	if s := q.Get("from"); s != "" {
		if from, err = ParseTime(s, loc, false); err != nil {
			return time.Time{}, time.Time{}, errors.New("from must be a date (YYYY-MM-DD) or an RFC 3339 timestamp")
		}
	}
	if s := q.Get("to"); s != "" {
		if to, err = ParseTime(s, loc, true); err != nil {
			return time.Time{}, time.Time{}, errors.New("to must be a date (YYYY-MM-DD) or an RFC 3339 timestamp")
		}
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return time.Time{}, time.Time{}, errors.New("to must not be before from")
	}
	return from, to, nil
}

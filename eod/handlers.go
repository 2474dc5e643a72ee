package eod

import (
	"errors"
	"net/http"

	"banking-ledger/account"
	"banking-ledger/auth"
	"banking-ledger/logger"
)

type Env struct {
	Aggregator *Aggregator
}

// EODHandler returns the account's records in the optional from..to window
// (plain dates) with their total. Without a window it covers the latest 30 days.
func (env *Env) EODHandler(w http.ResponseWriter, r *http.Request) {
	acc, ok := account.FromContext(r.Context())
	if !ok {
		auth.RespondWithError(w, http.StatusNotFound, "Account not found")
		return
	}

	var from, to Day
	q := r.URL.Query()
	if s := q.Get("from"); s != "" {
		d, err := ParseDay(s)
		if err != nil {
			auth.RespondWithError(w, http.StatusBadRequest, "from must be a date (YYYY-MM-DD)")
			return
		}
		from = d
	}
	if s := q.Get("to"); s != "" {
		d, err := ParseDay(s)
		if err != nil {
			auth.RespondWithError(w, http.StatusBadRequest, "to must be a date (YYYY-MM-DD)")
			return
		}
		to = d
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from.Time) {
		auth.RespondWithError(w, http.StatusBadRequest, "to must not be before from")
		return
	}

	sum, err := env.Aggregator.RangeSum(r.Context(), acc.ID, from, to)
	switch {
	case errors.Is(err, ErrEmptyRange):
		auth.RespondWithError(w, http.StatusNotFound, "No end-of-day records in range")
	case errors.Is(err, account.ErrNotFound):
		auth.RespondWithError(w, http.StatusNotFound, "Account not found")
	case err != nil:
		logger.Log.Error("could not sum eod records", logger.String("account_id", acc.ID), logger.Error(err))
		auth.RespondWithError(w, http.StatusInternalServerError, "Failed to get end-of-day records")
	default:
		auth.JSON(w, http.StatusOK, sum)
	}
}

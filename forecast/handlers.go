package forecast

import (
	"errors"
	"net/http"
	"strconv"

	"banking-ledger/account"
	"banking-ledger/auth"
	"banking-ledger/logger"
)

const DefaultHorizon = 14

type Env struct {
	Adapter *Adapter
}

func (env *Env) ForecastHandler(w http.ResponseWriter, r *http.Request) {
	acc, ok := account.FromContext(r.Context())
	if !ok {
		auth.RespondWithError(w, http.StatusNotFound, "Account not found")
		return
	}

	days := DefaultHorizon
	if s := r.URL.Query().Get("days"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			auth.RespondWithError(w, http.StatusBadRequest, "days must be a number")
			return
		}
		days = n
	}

	f, err := env.Adapter.Forecast(r.Context(), acc.ID, days)
	switch {
	case errors.Is(err, ErrInvalidHorizon):
		auth.RespondWithError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrInsufficientHistory):
		auth.RespondWithError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, account.ErrNotFound):
		auth.RespondWithError(w, http.StatusNotFound, "Account not found")
	case err != nil:
		logger.Log.Error("forecast failed", logger.String("account_id", acc.ID), logger.Error(err))
		auth.RespondWithError(w, http.StatusBadGateway, "Failed to compute forecast")
	default:
		auth.JSON(w, http.StatusOK, f)
	}
}

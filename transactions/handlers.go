package transactions

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"banking-ledger/account"
	"banking-ledger/auth"
	"banking-ledger/ledger"
	"banking-ledger/logger"
)

// --- Models ---

type DepositRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	EffectiveAt string          `json:"effective_at"`
}

type WithdrawRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type Report struct {
	AccountID    string               `json:"account_id"`
	From         *time.Time           `json:"from,omitempty"`
	To           *time.Time           `json:"to,omitempty"`
	Count        int                  `json:"count"`
	Transactions []ledger.Transaction `json:"transactions"`
}

// --- Handlers ---

type Env struct {
	Engine *Engine
	Store  ledger.Store
	// Location interprets plain dates in requests.
	Location *time.Location
}

func (env *Env) location() *time.Location {
	if env.Location == nil {
		return time.UTC
	}
	return env.Location
}

func (env *Env) DepositHandler(w http.ResponseWriter, r *http.Request) {
	acc, ok := account.FromContext(r.Context())
	if !ok {
		auth.RespondWithError(w, http.StatusNotFound, "Account not found")
		return
	}

	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		auth.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	var effectiveAt time.Time
	if req.EffectiveAt != "" {
		t, err := ParseTime(req.EffectiveAt, env.location(), false)
		if err != nil {
			auth.RespondWithError(w, http.StatusBadRequest, "effective_at must be a date (YYYY-MM-DD) or an RFC 3339 timestamp")
			return
		}
		effectiveAt = t
	}

	tx, err := env.Engine.Apply(r.Context(), Request{
		AccountID:   acc.ID,
		Type:        ledger.Deposit,
		Amount:      req.Amount,
		Currency:    req.Currency,
		EffectiveAt: effectiveAt,
	})
	if err != nil {
		RespondWithTransactionError(w, err)
		return
	}
	auth.JSON(w, http.StatusCreated, tx)
}

func (env *Env) WithdrawHandler(w http.ResponseWriter, r *http.Request) {
	acc, ok := account.FromContext(r.Context())
	if !ok {
		auth.RespondWithError(w, http.StatusNotFound, "Account not found")
		return
	}

	var req WithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		auth.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	tx, err := env.Engine.Withdraw(r.Context(), acc.ID, req.Amount)
	if err != nil {
		RespondWithTransactionError(w, err)
		return
	}
	auth.JSON(w, http.StatusCreated, tx)
}

// TransactionsHandler lists the account's transactions between the optional
// from and to query parameters, both inclusive.
func (env *Env) TransactionsHandler(w http.ResponseWriter, r *http.Request) {
	acc, ok := account.FromContext(r.Context())
	if !ok {
		auth.RespondWithError(w, http.StatusNotFound, "Account not found")
		return
	}

	from, to, err := ParseRange(r, env.location())
	if err != nil {
		auth.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	txs, err := env.Store.TransactionsInRange(r.Context(), acc.ID, from, to)
	if err != nil {
		RespondWithTransactionError(w, err)
		return
	}

	report := Report{AccountID: acc.ID, Count: len(txs), Transactions: txs}
	if !from.IsZero() {
		report.From = &from
	}
	if !to.IsZero() {
		report.To = &to
	}
	auth.JSON(w, http.StatusOK, report)
}

// RespondWithTransactionError maps engine errors onto HTTP status codes.
func RespondWithTransactionError(w http.ResponseWriter, err error) {
	var (
		validation *ValidationError
		rule       *RuleError
	)
	switch {
	case errors.As(err, &validation):
		auth.RespondWithDetails(w, http.StatusBadRequest, "Invalid transaction",
			map[string]any{"field": validation.Field, "reason": validation.Reason})
	case errors.As(err, &rule):
		msg := "Limit exceeded"
		if errors.Is(rule.Err, ErrInsufficientFunds) {
			msg = "Insufficient funds"
		}
		auth.RespondWithDetails(w, http.StatusUnprocessableEntity, msg,
			map[string]any{"amount": rule.Amount.StringFixed(2), "limit": rule.Limit.StringFixed(2)})
	case errors.Is(err, ErrNotFound):
		auth.RespondWithError(w, http.StatusNotFound, "Account not found")
	case errors.Is(err, ErrConcurrencyConflict):
		auth.RespondWithError(w, http.StatusConflict, "Account is busy, retry the request")
	default:
		logger.Log.Error("transaction failed", logger.Error(err))
		auth.RespondWithError(w, http.StatusInternalServerError, "Failed to apply transaction")
	}
}

package transactions

import (
	"time"

	"github.com/shopspring/decimal"

	"banking-ledger/ledger"
)

// --- Models ---

type Request struct {
	AccountID string
	Type      ledger.Type
	Amount    decimal.Decimal
	// Currency of Amount. Empty means the account currency.
	Currency string
	// EffectiveAt back-dates the transaction for end-of-day purposes. Zero means now.
	EffectiveAt time.Time
}

func (r Request) validate(now time.Time) error {
	if r.AccountID == "" {
		return &ValidationError{Field: "account_id", Reason: "is required"}
	}
	if r.Type != ledger.Deposit && r.Type != ledger.Withdrawal {
		return &ValidationError{Field: "type", Reason: "must be DEPOSIT or WITHDRAWAL"}
	}
	if !r.Amount.IsPositive() {
		return &ValidationError{Field: "amount", Reason: "must be positive"}
	}
	if !r.Amount.Equal(r.Amount.Round(2)) {
		return &ValidationError{Field: "amount", Reason: "must have at most 2 decimal places"}
	}
	if !r.EffectiveAt.IsZero() && r.EffectiveAt.After(now) {
		return &ValidationError{Field: "effective_at", Reason: "cannot be in the future"}
	}
	return nil
}

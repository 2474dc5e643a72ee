package transactions

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"banking-ledger/ledger"
)

var (
	ErrValidation          = errors.New("invalid transaction request")
	ErrLimitExceeded       = errors.New("limit exceeded")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrConcurrencyConflict = errors.New("concurrent update conflict")
	ErrInterestNotDue      = errors.New("interest not due")
	ErrNotFound            = ledger.ErrNotFound
)

// ValidationError reports malformed input. It matches ErrValidation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// RuleError is a business-rule rejection. Err is ErrLimitExceeded or
// ErrInsufficientFunds; Limit is the ceiling or the available balance.
type RuleError struct {
	Err    error
	Amount decimal.Decimal
	Limit  decimal.Decimal
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("%v: amount %s, limit %s", e.Err, e.Amount.StringFixed(2), e.Limit.StringFixed(2))
}

func (e *RuleError) Unwrap() error {
	return e.Err
}

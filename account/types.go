package account

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

var ErrUnknownType = errors.New("unknown account type")

// Type is the externally configured product an account is opened under.
type Type struct {
	Name                       string          `json:"name"`
	MaximumWithdrawalAmount    decimal.Decimal `json:"maximum_withdrawal_amount"`
	AnnualInterestRate         decimal.Decimal `json:"annual_interest_rate"`
	InterestCalculationPerYear int             `json:"interest_calculation_per_year"`
}

func (t Type) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("account type name is required")
	}
	if !t.MaximumWithdrawalAmount.IsPositive() {
		return fmt.Errorf("account type %q: maximum withdrawal amount must be positive", t.Name)
	}
	if t.AnnualInterestRate.IsNegative() {
		return fmt.Errorf("account type %q: annual interest rate cannot be negative", t.Name)
	}
	n := t.InterestCalculationPerYear
	if n < 1 || n > 12 || 12%n != 0 {
		return fmt.Errorf("account type %q: interest calculations per year must divide 12, got %d", t.Name, n)
	}
	return nil
}

// InterestPeriodMonths is the number of calendar months between two interest postings.
func (t Type) InterestPeriodMonths() int {
	return 12 / t.InterestCalculationPerYear
}

// NextInterestStart returns from + one interest period in calendar months.
func (t Type) NextInterestStart(from time.Time) time.Time {
	return AddMonths(from, t.InterestPeriodMonths())
}

// PeriodInterest is the interest earned by balance over one period, rounded to cents.
func (t Type) PeriodInterest(balance decimal.Decimal) decimal.Decimal {
	if !balance.IsPositive() {
		return decimal.Zero
	}
	return balance.
		Mul(t.AnnualInterestRate).
		Div(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(int64(t.InterestCalculationPerYear))).
		Round(2)
}

// AddMonths adds n calendar months to t. When the day of month does not exist in
// the target month it is clamped to that month's last day.
func AddMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	last := first.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// Types is a read-only catalogue of account types keyed by name.
type Types struct {
	byName map[string]Type
}

func NewTypes(types ...Type) (*Types, error) {
	if len(types) == 0 {
		return nil, errors.New("at least one account type is required")
	}
	ts := &Types{byName: make(map[string]Type, len(types))}
	for _, t := range types {
		if err := t.Validate(); err != nil {
			return nil, err
		}
		if _, dup := ts.byName[t.Name]; dup {
			return nil, fmt.Errorf("duplicate account type %q", t.Name)
		}
		ts.byName[t.Name] = t
	}
	return ts, nil
}

func (ts *Types) Lookup(name string) (Type, error) {
	t, ok := ts.byName[name]
	if !ok {
		return Type{}, fmt.Errorf("%w: %q", ErrUnknownType, name)
	}
	return t, nil
}

func (ts *Types) Names() []string {
	names := make([]string, 0, len(ts.byName))
	for name := range ts.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

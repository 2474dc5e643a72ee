package currency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"banking-ledger/auth"
	"banking-ledger/logger"
)

var ErrRateNotFound = errors.New("exchange rate not found")

// --- Models ---

type ExchangeRate struct {
	Amount decimal.Decimal            `json:"amount"`
	Base   string                     `json:"base"`
	Date   string                     `json:"date"`
	Rates  map[string]decimal.Decimal `json:"rates"`
}

type RateProvider interface {
	Rate(ctx context.Context, from, to string) (decimal.Decimal, error)
}

// --- Client ---

// Client reads rates from a Frankfurter-compatible API.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) Rate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	from, to = strings.ToUpper(from), strings.ToUpper(to)
	if from == to {
		return decimal.NewFromInt(1), nil
	}

	q := url.Values{"from": {from}, "to": {to}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/v1/latest?"+q.Encode(), nil)
	if err != nil {
		return decimal.Zero, err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("could not get exchange rate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("could not get exchange rate: %s", resp.Status)
	}

	var exchangeRate ExchangeRate
	if err := json.NewDecoder(resp.Body).Decode(&exchangeRate); err != nil {
		return decimal.Zero, fmt.Errorf("could not decode exchange rate: %w", err)
	}

	rate, ok := exchangeRate.Rates[to]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w for %s to %s", ErrRateNotFound, from, to)
	}
	return rate, nil
}

// Converter turns a RateProvider into amount conversion.
type Converter struct {
	Rates RateProvider
}

func (c Converter) Convert(ctx context.Context, amount decimal.Decimal, from, to string) (decimal.Decimal, error) {
	rate, err := c.Rates.Rate(ctx, from, to)
	if err != nil {
		return decimal.Zero, err
	}
	return amount.Mul(rate), nil
}

// --- Handlers ---

type Conversion struct {
	From   string          `json:"from"`
	To     string          `json:"to"`
	Amount decimal.Decimal `json:"amount"`
	Rate   decimal.Decimal `json:"rate"`
	Result decimal.Decimal `json:"result"`
}

type Env struct {
	Rates RateProvider
}

func (env *Env) ConvertHandler(w http.ResponseWriter, r *http.Request) {
	from := strings.ToUpper(r.URL.Query().Get("from"))
	to := strings.ToUpper(r.URL.Query().Get("to"))
	amountStr := r.URL.Query().Get("amount")

	if from == "" || to == "" || amountStr == "" {
		auth.RespondWithError(w, http.StatusBadRequest, "Missing required query parameters: from, to, amount")
		return
	}

	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		auth.RespondWithError(w, http.StatusBadRequest, "Invalid amount")
		return
	}

	rate, err := env.Rates.Rate(r.Context(), from, to)
	if errors.Is(err, ErrRateNotFound) {
		auth.RespondWithError(w, http.StatusNotFound, "Exchange rate not found")
		return
	}
	if err != nil {
		logger.Log.Error("could not get exchange rate", logger.String("from", from), logger.String("to", to), logger.Error(err))
		auth.RespondWithError(w, http.StatusBadGateway, "Failed to get exchange rate")
		return
	}

	auth.JSON(w, http.StatusOK, Conversion{
		From:   from,
		To:     to,
		Amount: amount,
		Rate:   rate,
		Result: amount.Mul(rate).Round(2),
	})
}

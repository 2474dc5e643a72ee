package currency

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRateServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/latest", r.URL.Path)
		from, to := r.URL.Query().Get("from"), r.URL.Query().Get("to")
		switch {
		case from == "USD" && to == "EUR":
			_, _ = w.Write([]byte(`{"amount":1.0,"base":"USD","date":"2024-03-01","rates":{"EUR":0.9215}}`))
		case from == "XXX":
			w.WriteHeader(http.StatusNotFound)
		default:
			_, _ = w.Write([]byte(`{"amount":1.0,"base":"` + from + `","date":"2024-03-01","rates":{}}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClientRate(t *testing.T) {
	c := NewClient(newRateServer(t).URL+"/", time.Second)
	ctx := context.Background()

	rate, err := c.Rate(ctx, "usd", "eur")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("0.9215").Equal(rate))

	rate, err = c.Rate(ctx, "EUR", "EUR")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(1).Equal(rate))

	_, err = c.Rate(ctx, "USD", "GBP")
	assert.ErrorIs(t, err, ErrRateNotFound)

	_, err = c.Rate(ctx, "XXX", "EUR")
	assert.Error(t, err)
}

func TestConverter(t *testing.T) {
	conv := Converter{Rates: NewClient(newRateServer(t).URL, time.Second)}

	got, err := conv.Convert(context.Background(), decimal.NewFromInt(200), "USD", "EUR")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("184.3").Equal(got), "got %s", got)
}

func TestConvertHandler(t *testing.T) {
	env := &Env{Rates: NewClient(newRateServer(t).URL, time.Second)}

	tests := []struct {
		name  string
		query string
		code  int
	}{
		{"converts", "?from=usd&to=eur&amount=10", http.StatusOK},
		{"missing parameter", "?from=USD&amount=10", http.StatusBadRequest},
		{"bad amount", "?from=USD&to=EUR&amount=ten", http.StatusBadRequest},
		{"unknown rate", "?from=USD&to=GBP&amount=10", http.StatusNotFound},
		{"upstream failure", "?from=XXX&to=EUR&amount=10", http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			env.ConvertHandler(rec, httptest.NewRequest(http.MethodGet, "/convert"+tt.query, nil))
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
		})
	}

	rec := httptest.NewRecorder()
	env.ConvertHandler(rec, httptest.NewRequest(http.MethodGet, "/convert?from=USD&to=EUR&amount=10", nil))
	var c Conversion
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&c))
	assert.True(t, decimal.RequireFromString("9.22").Equal(c.Result), "got %s", c.Result)
}

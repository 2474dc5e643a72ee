package eod

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"banking-ledger/account"
	"banking-ledger/auth"
)

func (f *fixture) router() http.Handler {
	accEnv := &account.Env{Repo: f.ledger}
	env := &Env{Aggregator: f.agg}

	r := chi.NewRouter()
	r.With(accEnv.RequireOwner).Get("/accounts/{accountID}/eod", env.EODHandler)
	return r
}

func get(h http.Handler, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req = req.WithContext(auth.WithUserID(req.Context(), "user-1"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestEODHandler(t *testing.T) {
	f := newFixture(t, "a")
	f.deposit(t, "a", at(day1), "100")
	f.deposit(t, "a", at(day2), "25.50")
	f.clock.Set(at(day4))
	_, err := f.agg.CloseThrough(context.Background(), "a", day3)
	require.NoError(t, err)
	h := f.router()

	rec := get(h, "/accounts/a/eod?from=2024-03-02&to=2024-03-03")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var sum Sum
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&sum))
	assert.Equal(t, "a", sum.AccountID)
	assert.Equal(t, 2, sum.Count)
	assert.True(t, d("251").Equal(sum.Total), "total %s", sum.Total)
	assert.Equal(t, day2, sum.Records[0].Day)

	rec = get(h, "/accounts/a/eod")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&sum))
	assert.Equal(t, 3, sum.Count)
}

func TestEODHandlerErrors(t *testing.T) {
	f := newFixture(t, "a")
	f.clock.Set(at(day3))
	_, err := f.agg.CloseThrough(context.Background(), "a", day2)
	require.NoError(t, err)
	h := f.router()

	tests := []struct {
		name   string
		target string
		code   int
	}{
		{"bad from", "/accounts/a/eod?from=yesterday", http.StatusBadRequest},
		{"bad to", "/accounts/a/eod?to=2024-13-01", http.StatusBadRequest},
		{"inverted window", "/accounts/a/eod?from=2024-03-02&to=2024-03-01", http.StatusBadRequest},
		{"empty window", "/accounts/a/eod?from=2023-01-01&to=2023-01-31", http.StatusNotFound},
		{"unknown account", "/accounts/missing/eod", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, get(h, tt.target).Code)
		})
	}
}

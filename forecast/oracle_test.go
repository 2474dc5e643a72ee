package forecast

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPOracle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		switch r.URL.Path {
		case "/fit":
			var req fitRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, []Point{{DS: "2024-01-01", Y: 10}, {DS: "2024-01-02", Y: 12.5}}, req.Series)
			_ = json.NewEncoder(w).Encode(fitResponse{Model: Model("fitted")})
		case "/predict":
			var req predictRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, Model("fitted"), req.Model)
			preds := make([]Prediction, 0, len(req.DS))
			for _, ds := range req.DS {
				preds = append(preds, Prediction{DS: ds, YHat: 13, YHatLower: 11, YHatUpper: 15})
			}
			_ = json.NewEncoder(w).Encode(predictResponse{Forecast: preds})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	o := NewHTTPOracle(srv.URL, time.Second)
	ctx := context.Background()

	model, err := o.Fit(ctx, []Point{{DS: "2024-01-01", Y: 10}, {DS: "2024-01-02", Y: 12.5}})
	require.NoError(t, err)
	assert.Equal(t, Model("fitted"), model)

	preds, err := o.Predict(ctx, model, []string{"2024-01-02", "2024-01-03"})
	require.NoError(t, err)
	require.Len(t, preds, 2)
	assert.Equal(t, Prediction{DS: "2024-01-03", YHat: 13, YHatLower: 11, YHatUpper: 15}, preds[1])
}

func TestHTTPOracleErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/fit" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"forecast":[]}`))
	}))
	defer srv.Close()

	o := NewHTTPOracle(srv.URL, time.Second)
	_, err := o.Fit(context.Background(), []Point{{DS: "2024-01-01", Y: 1}})
	assert.Error(t, err)

	_, err = o.Predict(context.Background(), Model("m"), []string{"2024-01-02"})
	assert.Error(t, err, "a short prediction series is rejected")
}

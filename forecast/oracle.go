package forecast

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// HTTPOracle calls a forecasting service over JSON:
//
//	POST /fit     {"series": [{"ds", "y"}]}         -> {"model": "<base64>"}
//	POST /predict {"model": "<base64>", "ds": [...]} -> {"forecast": [{"ds", "yhat", "yhat_lower", "yhat_upper"}]}
type HTTPOracle struct {
	BaseURL    string
	HTTPClient *http.Client
}

func NewHTTPOracle(baseURL string, timeout time.Duration) *HTTPOracle {
	return &HTTPOracle{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

type fitRequest struct {
	Series []Point `json:"series"`
}

type fitResponse struct {
	Model Model `json:"model"`
}

type predictRequest struct {
	Model Model    `json:"model"`
	DS    []string `json:"ds"`
}

type predictResponse struct {
	Forecast []Prediction `json:"forecast"`
}

func (o *HTTPOracle) Fit(ctx context.Context, series []Point) (Model, error) {
	var resp fitResponse
	if err := o.post(ctx, "/fit", fitRequest{Series: series}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Model) == 0 {
		return nil, fmt.Errorf("oracle returned an empty model")
	}
	return resp.Model, nil
}

func (o *HTTPOracle) Predict(ctx context.Context, model Model, dates []string) ([]Prediction, error) {
	var resp predictResponse
	if err := o.post(ctx, "/predict", predictRequest{Model: model, DS: dates}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Forecast) != len(dates) {
		return nil, fmt.Errorf("oracle returned %d predictions for %d dates", len(resp.Forecast), len(dates))
	}
	return resp.Forecast, nil
}

func (o *HTTPOracle) post(ctx context.Context, path string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.BaseURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("could not call oracle %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("oracle %s: %s", path, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("could not decode oracle %s response: %w", path, err)
	}
	return nil
}

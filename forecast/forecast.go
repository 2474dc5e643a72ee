// Package forecast feeds an account's end-of-day history to an external
// time-series model and keeps the fitted model for reuse.
package forecast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"banking-ledger/eod"
	"banking-ledger/logger"
)

var (
	ErrInsufficientHistory = errors.New("insufficient end-of-day history")
	ErrInvalidHorizon      = errors.New("invalid forecast horizon")
)

const (
	DefaultMinHistory = 14
	MaxHorizon        = 365
)

// --- Models ---

// Point is one training observation, in the column names the oracle expects.
type Point struct {
	DS string  `json:"ds"`
	Y  float64 `json:"y"`
}

type Prediction struct {
	DS        string  `json:"ds"`
	YHat      float64 `json:"yhat"`
	YHatLower float64 `json:"yhat_lower"`
	YHatUpper float64 `json:"yhat_upper"`
}

// Model is an opaque fitted model produced by a Forecaster.
type Model []byte

// Forecaster is the external prediction oracle.
type Forecaster interface {
	Fit(ctx context.Context, series []Point) (Model, error)
	Predict(ctx context.Context, model Model, dates []string) ([]Prediction, error)
}

// Artifact is a fitted model and the history it was trained on.
type Artifact struct {
	AccountID      string    `json:"account_id"`
	Model          Model     `json:"model"`
	TrainedThrough string    `json:"trained_through"`
	Points         int       `json:"points"`
	CreatedAt      time.Time `json:"created_at"`
}

type Forecast struct {
	AccountID      string       `json:"account_id"`
	Horizon        int          `json:"horizon_days"`
	TrainedThrough string       `json:"trained_through"`
	Cached         bool         `json:"cached"`
	Predictions    []Prediction `json:"predictions"`
}

// History supplies the most recent end-of-day records, oldest first.
type History interface {
	History(ctx context.Context, accountID string, limit int) ([]eod.Record, error)
}

// --- Adapter ---

type Adapter struct {
	history    History
	oracle     Forecaster
	cache      Cache
	minHistory int
	now        func() time.Time

	group singleflight.Group

	// publishMu orders artifact publication against invalidation. A fit that
	// started before an invalidation must not publish its artifact.
	publishMu   sync.Mutex
	generations map[string]uint64
}

type Option func(*Adapter)

func WithMinHistory(n int) Option {
	return func(a *Adapter) { a.minHistory = n }
}

func WithClock(now func() time.Time) Option {
	return func(a *Adapter) { a.now = now }
}

func NewAdapter(history History, oracle Forecaster, cache Cache, opts ...Option) *Adapter {
	a := &Adapter{
		history:     history,
		oracle:      oracle,
		cache:       cache,
		minHistory:  DefaultMinHistory,
		now:         time.Now,
		generations: make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Forecast predicts the account's end-of-day figure for horizonDays days after
// its last record. The series includes that last day, so it has horizonDays+1 points.
func (a *Adapter) Forecast(ctx context.Context, accountID string, horizonDays int) (*Forecast, error) {
	if horizonDays < 1 || horizonDays > MaxHorizon {
		return nil, fmt.Errorf("%w: %d days, must be between 1 and %d", ErrInvalidHorizon, horizonDays, MaxHorizon)
	}

	gen := a.generation(accountID)
	recs, err := a.history.History(ctx, accountID, eod.MaxHistory)
	if err != nil {
		return nil, fmt.Errorf("could not load eod history: %w", err)
	}
	if len(recs) < a.minHistory {
		return nil, fmt.Errorf("%w: %d records, need %d", ErrInsufficientHistory, len(recs), a.minHistory)
	}

	series := Series(recs)
	last := recs[len(recs)-1].Day
	trainedThrough := last.String()
	dates := FutureDates(last, horizonDays)

	artifact, err := a.cache.Get(ctx, accountID)
	if err != nil {
		logger.Log.Warn("could not read forecast cache", logger.String("account_id", accountID), logger.Error(err))
	}
	if artifact != nil && artifact.TrainedThrough == trainedThrough && artifact.Points == len(series) {
		preds, err := a.oracle.Predict(ctx, artifact.Model, dates)
		if err != nil {
			return nil, fmt.Errorf("could not predict: %w", err)
		}
		return &Forecast{AccountID: accountID, Horizon: horizonDays, TrainedThrough: trainedThrough, Cached: true, Predictions: preds}, nil
	}

	// A fit started before an invalidation is not shared with later callers.
	key := fmt.Sprintf("%s:%d:%d", accountID, horizonDays, gen)
	ch := a.group.DoChan(key, func() (any, error) {
		return a.fitAndPredict(ctx, accountID, gen, series, trainedThrough, dates)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		preds := res.Val.([]Prediction)
		return &Forecast{AccountID: accountID, Horizon: horizonDays, TrainedThrough: trainedThrough, Predictions: preds}, nil
	}
}

// fitAndPredict publishes the artifact only after both calls succeed.
func (a *Adapter) fitAndPredict(ctx context.Context, accountID string, gen uint64, series []Point, trainedThrough string, dates []string) ([]Prediction, error) {
	started := time.Now()
	model, err := a.oracle.Fit(ctx, series)
	if err != nil {
		return nil, fmt.Errorf("could not fit model: %w", err)
	}
	preds, err := a.oracle.Predict(ctx, model, dates)
	if err != nil {
		return nil, fmt.Errorf("could not predict: %w", err)
	}

	logger.Log.Info("forecast model fitted",
		logger.String("account_id", accountID),
		logger.Int("points", len(series)),
		logger.Duration("took", time.Since(started)))

	artifact := &Artifact{
		AccountID:      accountID,
		Model:          model,
		TrainedThrough: trainedThrough,
		Points:         len(series),
		CreatedAt:      a.now().UTC(),
	}
	if err := a.publish(ctx, gen, artifact); err != nil {
		logger.Log.Warn("could not cache forecast model", logger.String("account_id", accountID), logger.Error(err))
	}
	return preds, nil
}

func (a *Adapter) publish(ctx context.Context, gen uint64, artifact *Artifact) error {
	a.publishMu.Lock()
	defer a.publishMu.Unlock()
	if a.generations[artifact.AccountID] != gen {
		return nil
	}
	return a.cache.Set(ctx, artifact)
}

func (a *Adapter) generation(accountID string) uint64 {
	a.publishMu.Lock()
	defer a.publishMu.Unlock()
	return a.generations[accountID]
}

// Invalidate drops the account's cached model. Fits already running for the
// account will not publish theirs.
func (a *Adapter) Invalidate(ctx context.Context, accountID string) error {
	a.publishMu.Lock()
	defer a.publishMu.Unlock()
	a.generations[accountID]++
	return a.cache.Delete(ctx, accountID)
}

// Series shapes end-of-day records as oracle training points.
func Series(recs []eod.Record) []Point {
	points := make([]Point, 0, len(recs))
	for _, rec := range recs {
		y, _ := rec.Figure.Float64()
		points = append(points, Point{DS: rec.Day.String(), Y: y})
	}
	return points
}

// FutureDates returns n+1 consecutive days starting at from.
func FutureDates(from eod.Day, n int) []string {
	dates := make([]string, 0, n+1)
	for i := 0; i <= n; i++ {
		dates = append(dates, from.AddDays(i).String())
	}
	return dates
}

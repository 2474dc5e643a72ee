package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"banking-ledger/account"
	"banking-ledger/auth"
	"banking-ledger/config"
	"banking-ledger/currency"
	"banking-ledger/eod"
	"banking-ledger/forecast"
	"banking-ledger/ledger"
	"banking-ledger/logger"
	"banking-ledger/transactions"
)

func main() {
	issueFor := flag.String("issue-token", "", "print a bearer token for the given user id and exit")
	flag.Parse()

	if err := run(*issueFor); err != nil {
		logger.Log.Error("service stopped", logger.Error(err))
		logger.Sync()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger.Sync()
}

func run(issueFor string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := logger.Initialize(cfg.LogLevel); err != nil {
		return fmt.Errorf("couldn't initialize logger: %w", err)
	}

	tokens, err := auth.NewTokenManager(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		return err
	}
	if issueFor != "" {
		token, err := tokens.GenerateJWT(issueFor)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	}

	types, err := config.LoadAccountTypes(cfg.AccountTypesFile)
	if err != nil {
		return err
	}
	if _, err := types.Lookup(cfg.DefaultAccountType); err != nil {
		return fmt.Errorf("invalid DEFAULT_ACCOUNT_TYPE: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, records, closeStores, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStores()

	rates := currency.NewClient(cfg.ExchangeRatesURL, cfg.ExchangeTimeout)

	agg := eod.NewAggregator(store, records, eod.WithLocation(cfg.Location()))
	cache, closeCache := forecastCache(cfg)
	defer closeCache()
	adapter := forecast.NewAdapter(agg,
		forecast.NewHTTPOracle(cfg.ForecastURL, cfg.ForecastTimeout),
		cache,
		forecast.WithMinHistory(cfg.ForecastMinHistory))
	agg.AddInvalidator(adapter)

	engine := transactions.NewEngine(store, types,
		transactions.WithDepositLimit(cfg.DepositLimitAmount()),
		transactions.WithMaxRetries(cfg.MaxCommitRetries),
		transactions.WithConverter(currency.Converter{Rates: rates}),
		transactions.WithObserver(agg))

	accountEnv := &account.Env{
		Repo:            store,
		Types:           types,
		DefaultType:     cfg.DefaultAccountType,
		DefaultCurrency: cfg.DefaultCurrency,
	}
	transactionsEnv := &transactions.Env{Engine: engine, Store: store, Location: cfg.Location()}
	eodEnv := &eod.Env{Aggregator: agg}
	forecastEnv := &forecast.Env{Adapter: adapter}
	currencyEnv := &currency.Env{Rates: rates}
	rateLimiter := auth.NewRateLimiter(cfg.RateLimit, cfg.RateLimitWindow)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(auth.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		auth.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/convert", currencyEnv.ConvertHandler)

	r.Group(func(r chi.Router) {
		r.Use(tokens.AuthenticationMiddleware)

		r.Get("/status", auth.StatusHandler)
		r.Get("/accounts", accountEnv.GetAccountsHandler)
		r.With(rateLimiter.Middleware).Post("/accounts", accountEnv.CreateAccountHandler)

		r.Route("/accounts/{accountID}", func(r chi.Router) {
			r.Use(accountEnv.RequireOwner)

			r.Get("/", accountEnv.GetAccountHandler)
			r.With(rateLimiter.Middleware).Post("/deposit", transactionsEnv.DepositHandler)
			r.With(rateLimiter.Middleware).Post("/withdraw", transactionsEnv.WithdrawHandler)
			r.Get("/transactions", transactionsEnv.TransactionsHandler)
			r.Get("/eod", eodEnv.EODHandler)
			r.Get("/forecast", forecastEnv.ForecastHandler)
		})
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	scheduler := eod.NewScheduler(agg, cfg.EODInterval, func(ctx context.Context, asOf time.Time) error {
		n, err := engine.PostDueInterest(ctx, asOf)
		if n > 0 {
			logger.Log.Info("interest posted", logger.Int("postings", n))
		}
		return err
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Log.Info("starting server", logger.String("addr", cfg.Addr), logger.String("backend", cfg.Backend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return scheduler.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		logger.Log.Info("shutting down server")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// openStores returns the ledger and eod record stores for the configured backend.
func openStores(ctx context.Context, cfg *config.Config) (ledger.Store, eod.Store, func(), error) {
	switch cfg.Backend {
	case config.BackendPostgres:
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("couldn't open database: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, nil, nil, fmt.Errorf("couldn't connect to database: %w", err)
		}
		logger.Log.Info("connected to the database")

		ledgerStore := ledger.NewPostgresStore(db)
		recordStore := eod.NewPostgresStore(db)
		if err := ledgerStore.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, nil, err
		}
		if err := recordStore.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, nil, err
		}
		return ledgerStore, recordStore, func() { db.Close() }, nil

	case config.BackendFile:
		fs, err := ledger.OpenFileStore(cfg.JournalPath)
		if err != nil {
			return nil, nil, nil, err
		}
		closeFn := func() {
			if err := fs.Close(); err != nil {
				logger.Log.Error("couldn't close journal", logger.Error(err))
			}
		}
		return fs, eod.NewMemoryStore(), closeFn, nil

	default:
		logger.Log.Warn("using the in-memory ledger; balances are lost on restart")
		return ledger.NewMemoryStore(), eod.NewMemoryStore(), func() {}, nil
	}
}

func forecastCache(cfg *config.Config) (forecast.Cache, func()) {
	if cfg.RedisAddr == "" {
		return forecast.NewMemoryCache(cfg.ForecastCacheTTL), func() {}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	return forecast.NewRedisCache(client, cfg.ForecastCacheTTL), func() { client.Close() }
}

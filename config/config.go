package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"banking-ledger/account"
)

const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendPostgres = "postgres"
)

type Config struct {
	Addr     string `env:"RUN_ADDRESS" env-default:":8080"`
	LogLevel string `env:"LOG_LEVEL" env-default:"info"`

	Backend     string `env:"LEDGER_BACKEND" env-default:"memory"`
	DatabaseURL string `env:"DATABASE_URI"`
	JournalPath string `env:"LEDGER_JOURNAL" env-default:"ledger.jsonl"`

	JWTSecret string        `env:"JWT_SECRET" env-required:"true"`
	TokenTTL  time.Duration `env:"JWT_TTL" env-default:"15m"`

	RateLimit       int           `env:"RATE_LIMIT" env-default:"20"`
	RateLimitWindow time.Duration `env:"RATE_LIMIT_WINDOW" env-default:"1m"`

	AccountTypesFile   string `env:"ACCOUNT_TYPES_FILE" env-default:"account_types.yml"`
	DefaultAccountType string `env:"DEFAULT_ACCOUNT_TYPE" env-default:"savings"`
	DefaultCurrency    string `env:"DEFAULT_CURRENCY" env-default:"EUR"`

	DepositLimit     string `env:"DEPOSIT_LIMIT" env-default:"180000"`
	MaxCommitRetries int    `env:"MAX_COMMIT_RETRIES" env-default:"5"`

	TimeZone    string        `env:"EOD_TIME_ZONE" env-default:"UTC"`
	EODInterval time.Duration `env:"EOD_CHECK_INTERVAL" env-default:"1m"`

	ExchangeRatesURL string        `env:"EXCHANGE_RATES_URL" env-default:"http://frankfurter:8080"`
	ExchangeTimeout  time.Duration `env:"EXCHANGE_RATES_TIMEOUT" env-default:"5s"`

	ForecastURL        string        `env:"FORECAST_URL" env-default:"http://forecaster:8000"`
	ForecastTimeout    time.Duration `env:"FORECAST_TIMEOUT" env-default:"2m"`
	ForecastMinHistory int           `env:"FORECAST_MIN_HISTORY" env-default:"14"`
	ForecastCacheTTL   time.Duration `env:"FORECAST_CACHE_TTL" env-default:"24h"`

	// RedisAddr enables the shared forecast model cache; empty keeps it in memory.
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" env-default:"10s"`

	depositLimit decimal.Decimal
	location     *time.Location
}

// Load reads an optional .env file and then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("couldn't read .env file: %w", err)
	}

	cfg := &Config{}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("couldn't read environment variables: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Backend {
	case BackendMemory, BackendFile:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URI is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown LEDGER_BACKEND %q", c.Backend)
	}

	limit, err := decimal.NewFromString(c.DepositLimit)
	if err != nil || !limit.IsPositive() {
		return fmt.Errorf("DEPOSIT_LIMIT must be a positive amount, got %q", c.DepositLimit)
	}
	c.depositLimit = limit

	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return fmt.Errorf("invalid EOD_TIME_ZONE: %w", err)
	}
	c.location = loc

	if c.MaxCommitRetries < 0 {
		return errors.New("MAX_COMMIT_RETRIES cannot be negative")
	}
	if c.RateLimit < 1 {
		return errors.New("RATE_LIMIT must be at least 1")
	}
	return nil
}

func (c *Config) DepositLimitAmount() decimal.Decimal {
	return c.depositLimit
}

func (c *Config) Location() *time.Location {
	return c.location
}

// --- Account types ---

type accountTypesFile struct {
	AccountTypes []accountTypeEntry `yaml:"account_types" json:"account_types"`
}

type accountTypeEntry struct {
	Name                       string `yaml:"name" json:"name"`
	MaximumWithdrawalAmount    string `yaml:"maximum_withdrawal_amount" json:"maximum_withdrawal_amount"`
	AnnualInterestRate         string `yaml:"annual_interest_rate" json:"annual_interest_rate"`
	InterestCalculationPerYear int    `yaml:"interest_calculation_per_year" json:"interest_calculation_per_year"`
}

// LoadAccountTypes reads the account-type catalogue from a YAML (or JSON) file.
func LoadAccountTypes(path string) (*account.Types, error) {
	var file accountTypesFile
	if err := cleanenv.ReadConfig(path, &file); err != nil {
		return nil, fmt.Errorf("couldn't read account types: %w", err)
	}

	types := make([]account.Type, 0, len(file.AccountTypes))
	for _, e := range file.AccountTypes {
		maxWithdrawal, err := decimal.NewFromString(e.MaximumWithdrawalAmount)
		if err != nil {
			return nil, fmt.Errorf("account type %q: invalid maximum_withdrawal_amount: %w", e.Name, err)
		}
		rate, err := decimal.NewFromString(e.AnnualInterestRate)
		if err != nil {
			return nil, fmt.Errorf("account type %q: invalid annual_interest_rate: %w", e.Name, err)
		}
		types = append(types, account.Type{
			Name:                       e.Name,
			MaximumWithdrawalAmount:    maxWithdrawal,
			AnnualInterestRate:         rate,
			InterestCalculationPerYear: e.InterestCalculationPerYear,
		})
	}
	return account.NewTypes(types...)
}

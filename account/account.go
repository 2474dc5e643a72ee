package account

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"banking-ledger/auth"
	"banking-ledger/logger"
)

var ErrNotFound = errors.New("account not found")

// --- Models ---

// Account balances are changed only by committed ledger transactions.
type Account struct {
	ID                string          `json:"id"`
	UserID            string          `json:"user_id"`
	AccountNumber     string          `json:"account_number"`
	Balance           decimal.Decimal `json:"balance"`
	Currency          string          `json:"currency"`
	AccountType       string          `json:"account_type"`
	Version           int64           `json:"-"`
	InitialDepositAt  *time.Time      `json:"initial_deposit_date,omitempty"`
	InterestStartAt   *time.Time      `json:"interest_start_date,omitempty"`
	LastTransactionAt *time.Time      `json:"last_transaction_at,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Clone returns a copy that shares no pointers with a.
func (a *Account) Clone() *Account {
	cp := *a
	cp.InitialDepositAt = cloneTime(a.InitialDepositAt)
	cp.InterestStartAt = cloneTime(a.InterestStartAt)
	cp.LastTransactionAt = cloneTime(a.LastTransactionAt)
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

type CreateAccountRequest struct {
	AccountType string `json:"account_type"`
	Currency    string `json:"currency"`
}

// --- Repository ---

type Repository interface {
	CreateAccount(ctx context.Context, account *Account) error
	Account(ctx context.Context, id string) (*Account, error)
	AccountsByUser(ctx context.Context, userID string) ([]*Account, error)
}

// --- Handlers ---

type Env struct {
	Repo            Repository
	Types           *Types
	DefaultType     string
	DefaultCurrency string
}

var currencyCode = regexp.MustCompile(`^[A-Z]{3}$`)

func (env *Env) CreateAccountHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.GetUserIDFromContext(r)
	if err != nil {
		auth.RespondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		auth.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.AccountType == "" {
		req.AccountType = env.DefaultType
	}
	if req.Currency == "" {
		req.Currency = env.DefaultCurrency
	}
	req.Currency = strings.ToUpper(req.Currency)

	if _, err := env.Types.Lookup(req.AccountType); err != nil {
		auth.RespondWithDetails(w, http.StatusBadRequest, "Unknown account type",
			map[string]any{"account_types": env.Types.Names()})
		return
	}
	if !currencyCode.MatchString(req.Currency) {
		auth.RespondWithError(w, http.StatusBadRequest, "Currency must be a 3-letter ISO code")
		return
	}

	accountNumber, err := generateAccountNumber()
	if err != nil {
		auth.RespondWithError(w, http.StatusInternalServerError, "Failed to generate account number")
		return
	}

	now := time.Now().UTC()
	acc := &Account{
		ID:            uuid.NewString(),
		UserID:        userID,
		AccountNumber: accountNumber,
		Balance:       decimal.Zero,
		Currency:      req.Currency,
		AccountType:   req.AccountType,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := env.Repo.CreateAccount(r.Context(), acc); err != nil {
		logger.Log.Error("could not create account", logger.String("user_id", userID), logger.Error(err))
		auth.RespondWithError(w, http.StatusInternalServerError, "Failed to create account")
		return
	}

	logger.Log.Info("account created",
		logger.String("account_id", acc.ID),
		logger.String("account_type", acc.AccountType))
	auth.JSON(w, http.StatusCreated, acc)
}

func (env *Env) GetAccountsHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.GetUserIDFromContext(r)
	if err != nil {
		auth.RespondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	accounts, err := env.Repo.AccountsByUser(r.Context(), userID)
	if err != nil {
		logger.Log.Error("could not list accounts", logger.String("user_id", userID), logger.Error(err))
		auth.RespondWithError(w, http.StatusInternalServerError, "Failed to get accounts")
		return
	}

	if len(accounts) == 0 {
		auth.JSON(w, http.StatusOK, []*Account{})
		return
	}

	auth.JSON(w, http.StatusOK, accounts)
}

func (env *Env) GetAccountHandler(w http.ResponseWriter, r *http.Request) {
	acc, ok := FromContext(r.Context())
	if !ok {
		auth.RespondWithError(w, http.StatusNotFound, "Account not found")
		return
	}
	auth.JSON(w, http.StatusOK, acc)
}

// --- Middleware ---

type contextKey struct{}

// RequireOwner loads the {accountID} route parameter and rejects callers that do
// not own it. Downstream handlers read the account with FromContext.
func (env *Env) RequireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := auth.GetUserIDFromContext(r)
		if err != nil {
			auth.RespondWithError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		id := chi.URLParam(r, "accountID")
		acc, err := env.Repo.Account(r.Context(), id)
		if errors.Is(err, ErrNotFound) {
			auth.RespondWithError(w, http.StatusNotFound, "Account not found")
			return
		}
		if err != nil {
			logger.Log.Error("could not load account", logger.String("account_id", id), logger.Error(err))
			auth.RespondWithError(w, http.StatusInternalServerError, "Failed to load account")
			return
		}

		if acc.UserID != userID {
			auth.RespondWithError(w, http.StatusForbidden, "Account does not belong to the user")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKey{}, acc)))
	})
}

func FromContext(ctx context.Context) (*Account, bool) {
	acc, ok := ctx.Value(contextKey{}).(*Account)
	return acc, ok
}

func generateAccountNumber() (string, error) {
	// 10 random digits, first digit non-zero
	limit := big.NewInt(9_000_000_000)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d", n.Int64()+1_000_000_000), nil
}

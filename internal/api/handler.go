package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/async-payments-ledger/internal/ledger"
	"github.com/sheikh-saqib/async-payments-ledger/internal/models"
	"github.com/sheikh-saqib/async-payments-ledger/internal/storage"
)

// Service is the part of the ledger the HTTP layer talks to
type Service interface {
	SubmitCredit(ctx context.Context, req ledger.SubmitRequest) (string, error)
	SubmitDebit(ctx context.Context, req ledger.SubmitRequest) (string, error)
	SubmitTransfer(ctx context.Context, req ledger.SubmitRequest) (string, error)
	GetBalance(accountId string) decimal.Decimal
	GetAccount(accountId string) (models.Account, bool)
	GetTransaction(id string) (models.Transaction, bool)
	GetLedgerEntries(accountId string) ([]models.LedgerEntry, error)
	CreateAccount(ctx context.Context, ownerId string) (models.Account, error)
	CreateUser(ctx context.Context, name string) (models.User, error)
	GetUser(id string) (models.User, bool)
}

type API struct {
	ledger   Service
	validate *validator.Validate
	logger   zerolog.Logger
}

func NewAPI(service Service, logger zerolog.Logger) (*API, error) {
	v, err := newValidator()
	if err != nil {
		return nil, err
	}
	return &API{ledger: service, validate: v, logger: logger}, nil
}

// Router wires every endpoint onto a gorilla/mux router
func (api *API) Router() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/health", api.Health).Methods(http.MethodGet)
	router.HandleFunc("/users", api.CreateUser).Methods(http.MethodPost)
	router.HandleFunc("/users/{id}", api.GetUser).Methods(http.MethodGet)
	router.HandleFunc("/accounts", api.CreateAccount).Methods(http.MethodPost)
	router.HandleFunc("/accounts/{id}", api.GetAccount).Methods(http.MethodGet)
	router.HandleFunc("/accounts/{id}/balance", api.GetBalance).Methods(http.MethodGet)
	router.HandleFunc("/accounts/{id}/entries", api.GetLedgerEntries).Methods(http.MethodGet)
	router.HandleFunc("/transactions/credit", api.SubmitCredit).Methods(http.MethodPost)
	router.HandleFunc("/transactions/debit", api.SubmitDebit).Methods(http.MethodPost)
	router.HandleFunc("/transactions/transfer", api.SubmitTransfer).Methods(http.MethodPost)
	router.HandleFunc("/transactions/{id}", api.GetTransaction).Methods(http.MethodGet)

	return router
}

func (api *API) writeJSONResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		api.logger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (api *API) writeError(w http.ResponseWriter, status int, msg string) {
	api.writeJSONResponse(w, status, map[string]string{"error": msg})
}

// decode reads a JSON body into dst and validates it. An empty body is
// accepted when allowEmpty is set.
func (api *API) decode(r *http.Request, dst any, allowEmpty bool) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if !(allowEmpty && errors.Is(err, io.EOF)) {
			return errBadRequest("invalid request body")
		}
	}
	if err := api.validate.Struct(dst); err != nil {
		return validationError(err)
	}
	return nil
}

func (api *API) Health(w http.ResponseWriter, r *http.Request) {
	api.writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (api *API) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := api.decode(r, &req, true); err != nil {
		api.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := api.ledger.CreateUser(r.Context(), req.Name)
	if err != nil {
		api.writeServiceError(w, err)
		return
	}
	api.writeJSONResponse(w, http.StatusCreated, map[string]string{"user_id": user.ID})
}

func (api *API) GetUser(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	user, ok := api.ledger.GetUser(id)
	if !ok {
		api.writeError(w, http.StatusNotFound, "user not found")
		return
	}
	api.writeJSONResponse(w, http.StatusOK, user)
}

func (api *API) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := api.decode(r, &req, true); err != nil {
		api.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	account, err := api.ledger.CreateAccount(r.Context(), req.OwnerID)
	if err != nil {
		api.writeServiceError(w, err)
		return
	}
	api.writeJSONResponse(w, http.StatusCreated, map[string]string{"account_id": account.ID})
}

func (api *API) GetAccount(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	account, ok := api.ledger.GetAccount(id)
	if !ok {
		api.writeError(w, http.StatusNotFound, "account not found")
		return
	}
	api.writeJSONResponse(w, http.StatusOK, account)
}

// GetBalance answers zero for unknown accounts, matching the ledger contract.
func (api *API) GetBalance(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	api.writeJSONResponse(w, http.StatusOK, balanceResponse{
		AccountID: id,
		Balance:   api.ledger.GetBalance(id),
	})
}

func (api *API) GetLedgerEntries(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	entries, err := api.ledger.GetLedgerEntries(id)
	if err != nil {
		api.logger.Error().Err(err).Str("account_id", id).Msg("Failed to read ledger entries")
		api.writeError(w, http.StatusInternalServerError, "failed to read ledger entries")
		return
	}
	api.writeJSONResponse(w, http.StatusOK, entries)
}

func (api *API) SubmitCredit(w http.ResponseWriter, r *http.Request) {
	var req accountAmountRequest
	if err := api.decode(r, &req, false); err != nil {
		api.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	api.submit(w, r, api.ledger.SubmitCredit, ledger.SubmitRequest{
		ToAccount: req.AccountID,
		Amount:    req.Amount,
		CreatedAt: req.at(),
	})
}

func (api *API) SubmitDebit(w http.ResponseWriter, r *http.Request) {
	var req accountAmountRequest
	if err := api.decode(r, &req, false); err != nil {
		api.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	api.submit(w, r, api.ledger.SubmitDebit, ledger.SubmitRequest{
		FromAccount: req.AccountID,
		Amount:      req.Amount,
		CreatedAt:   req.at(),
	})
}

func (api *API) SubmitTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := api.decode(r, &req, false); err != nil {
		api.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	api.submit(w, r, api.ledger.SubmitTransfer, ledger.SubmitRequest{
		FromAccount: req.SourceAccountID,
		ToAccount:   req.DestinationAccountID,
		Amount:      req.Amount,
		CreatedAt:   req.at(),
	})
}

type submitFunc func(ctx context.Context, req ledger.SubmitRequest) (string, error)

func (api *API) submit(w http.ResponseWriter, r *http.Request, fn submitFunc, req ledger.SubmitRequest) {
	req.IdempotencyKey = r.Header.Get("Idempotency-Key")

	id, err := fn(r.Context(), req)
	if err != nil {
		api.writeServiceError(w, err)
		return
	}

	api.logger.Info().Str("tx_id", id).Msg("Transaction accepted")
	api.writeJSONResponse(w, http.StatusAccepted, submitResponse{
		TransactionID: id,
		Status:        models.StatusInProgress,
	})
}

func (api *API) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	tx, ok := api.ledger.GetTransaction(id)
	if !ok {
		api.writeError(w, http.StatusNotFound, "transaction not found")
		return
	}
	api.writeJSONResponse(w, http.StatusOK, tx)
}

func (api *API) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrMissingAccount),
		errors.Is(err, ledger.ErrSameAccount),
		errors.Is(err, ledger.ErrUnknownTransactionType):
		api.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, storage.ErrUserNotFound), errors.Is(err, storage.ErrAccountNotFound):
		api.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, storage.ErrDuplicateID):
		api.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ledger.ErrLedgerClosed):
		api.writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		api.logger.Error().Err(err).Msg("Request failed")
		api.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func requestTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}

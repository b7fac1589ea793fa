package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/metric"

	interfaces "github.com/sheikh-saqib/async-payments-ledger/internal/interfaces"
	"github.com/sheikh-saqib/async-payments-ledger/internal/models"
	"github.com/sheikh-saqib/async-payments-ledger/internal/queue"
	"github.com/sheikh-saqib/async-payments-ledger/internal/storage"
	"github.com/sheikh-saqib/async-payments-ledger/internal/storage/memory"
)

var (
	ErrInvalidAmount          = errors.New("amount must be positive")
	ErrMissingAccount         = errors.New("account id is required")
	ErrSameAccount            = errors.New("source and destination accounts must differ")
	ErrUnknownTransactionType = errors.New("unknown transaction type")
	ErrProcessingFailure      = errors.New("transaction processing failed")
	ErrTransactionNotFound    = errors.New("transaction not found")
	ErrLedgerClosed           = errors.New("ledger is shut down")
)

// TransferMode selects how the worker applies a DEBIT_AND_CREDIT transaction.
type TransferMode string

const (
	// TransferModeSourceToDestination debits the source and credits the destination.
	TransferModeSourceToDestination TransferMode = "source_to_destination"
	// TransferModeLegacy credits and then debits the destination, leaving the
	// source untouched.
	TransferModeLegacy TransferMode = "legacy"
)

const (
	defaultDeadLetterLimit = 1000
	defaultPublishTimeout  = 5 * time.Second
)

// Stores groups the collaborators a Ledger reads and writes. Nil fields are
// replaced with in-memory implementations.
type Stores struct {
	Accounts     interfaces.AccountStore
	Users        interfaces.UserStore
	Transactions interfaces.TransactionStore
	Journal      interfaces.LedgerStore
}

// Option configures a Ledger
type Option func(*Ledger)

func WithLogger(logger zerolog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

func WithPublisher(publisher interfaces.EventPublisher) Option {
	return func(l *Ledger) { l.publisher = publisher }
}

func WithTransferMode(mode TransferMode) Option {
	return func(l *Ledger) { l.transferMode = mode }
}

// WithDeadLetterLimit bounds how many failed results DeadLetters retains.
func WithDeadLetterLimit(n int) Option {
	return func(l *Ledger) { l.deadLetterLimit = n }
}

func WithMeterProvider(provider metric.MeterProvider) Option {
	return func(l *Ledger) { l.meterProvider = provider }
}

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// Ledger owns the stores, the transaction queue and the single worker that
// applies queued transactions. Construct one per process with New and call
// Start before accepting submissions.
type Ledger struct {
	accounts     interfaces.AccountStore
	users        interfaces.UserStore
	transactions interfaces.TransactionStore
	journal      interfaces.LedgerStore
	publisher    interfaces.EventPublisher

	queue   *queue.Queue
	metrics ledgerMetrics
	logger  zerolog.Logger
	now     func() time.Time

	transferMode    TransferMode
	deadLetterLimit int
	publishTimeout  time.Duration
	meterProvider   metric.MeterProvider

	lifecycle sync.RWMutex // held for reading by submitters, for writing by Shutdown
	closed    bool
	keyMu     sync.Mutex // serializes submissions that carry an idempotency key

	startOnce  sync.Once
	started    bool
	workerDone chan struct{}

	deadMu      sync.Mutex
	deadLetters []Result
}

// New builds a Ledger. The worker is not running until Start is called.
func New(stores Stores, opts ...Option) (*Ledger, error) {
	l := &Ledger{
		accounts:        stores.Accounts,
		users:           stores.Users,
		transactions:    stores.Transactions,
		journal:         stores.Journal,
		queue:           queue.New(),
		logger:          zerolog.Nop(),
		now:             func() time.Time { return time.Now().UTC() },
		transferMode:    TransferModeSourceToDestination,
		deadLetterLimit: defaultDeadLetterLimit,
		publishTimeout:  defaultPublishTimeout,
		workerDone:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}

	if l.accounts == nil {
		l.accounts = memory.NewMemoryAccountStore()
	}
	if l.users == nil {
		l.users = memory.NewMemoryUserStore()
	}
	if l.transactions == nil {
		l.transactions = memory.NewMemoryTransactionStore()
	}
	if l.journal == nil {
		l.journal = memory.NewMemoryLedgerStore()
	}

	switch l.transferMode {
	case TransferModeSourceToDestination, TransferModeLegacy:
	default:
		return nil, fmt.Errorf("unsupported transfer mode %q", l.transferMode)
	}
	if l.deadLetterLimit < 0 {
		return nil, fmt.Errorf("dead letter limit must not be negative, got %d", l.deadLetterLimit)
	}

	m, err := newLedgerMetrics(l.meterProvider)
	if err != nil {
		return nil, err
	}
	l.metrics = m
	l.logger = l.logger.With().Str("component", "ledger").Logger()

	return l, nil
}

// Start launches the worker. Calling it again is a no-op. Cancelling ctx stops
// the worker without draining the queue; use Shutdown for an orderly stop.
func (l *Ledger) Start(ctx context.Context) error {
	l.lifecycle.RLock()
	defer l.lifecycle.RUnlock()

	if l.closed {
		return ErrLedgerClosed
	}

	l.startOnce.Do(func() {
		l.started = true
		go l.run(ctx)
		l.logger.Info().Str("transfer_mode", string(l.transferMode)).Msg("Ledger worker started")
	})
	return nil
}

// Shutdown stops accepting submissions and waits until the worker has applied
// everything already queued, or ctx ends.
func (l *Ledger) Shutdown(ctx context.Context) error {
	l.lifecycle.Lock()
	l.closed = true
	l.queue.Close()
	started := l.started
	l.lifecycle.Unlock()

	if !started {
		return nil
	}

	select {
	case <-l.workerDone:
		l.logger.Info().Msg("Ledger worker drained")
		return nil
	case <-ctx.Done():
		l.logger.Warn().Int("pending", l.queue.Len()).Msg("Shutdown deadline reached before queue drained")
		return fmt.Errorf("shutdown: %w", ctx.Err())
	}
}

// SubmitRequest describes a money movement. CreatedAt defaults to the current
// time; IdempotencyKey, when set, makes resubmission return the original id.
type SubmitRequest struct {
	FromAccount    string
	ToAccount      string
	Amount         decimal.Decimal
	CreatedAt      time.Time
	IdempotencyKey string
}

// SubmitCredit queues a credit of req.Amount into req.ToAccount.
func (l *Ledger) SubmitCredit(ctx context.Context, req SubmitRequest) (string, error) {
	req.FromAccount = ""
	return l.submit(ctx, models.TransactionCredit, req)
}

// SubmitDebit queues a debit of req.Amount from req.FromAccount.
func (l *Ledger) SubmitDebit(ctx context.Context, req SubmitRequest) (string, error) {
	req.ToAccount = ""
	return l.submit(ctx, models.TransactionDebit, req)
}

// SubmitTransfer queues a move of req.Amount from req.FromAccount to req.ToAccount.
func (l *Ledger) SubmitTransfer(ctx context.Context, req SubmitRequest) (string, error) {
	return l.submit(ctx, models.TransactionDebitAndCredit, req)
}

func (l *Ledger) submit(ctx context.Context, txType models.TransactionType, req SubmitRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := validate(txType, req); err != nil {
		return "", err
	}

	l.lifecycle.RLock()
	defer l.lifecycle.RUnlock()

	if l.closed {
		return "", ErrLedgerClosed
	}

	if req.IdempotencyKey != "" {
		l.keyMu.Lock()
		defer l.keyMu.Unlock()

		if existing, ok := l.transactions.GetByIdempotencyKey(req.IdempotencyKey); ok {
			l.logger.Debug().Str("tx_id", existing.ID).Str("idempotency_key", req.IdempotencyKey).Msg("Replayed submission")
			return existing.ID, nil
		}
	}

	createdAt := req.CreatedAt
	if createdAt.IsZero() {
		createdAt = l.now()
	}

	tx := models.Transaction{
		ID:             uuid.New().String(),
		IdempotencyKey: req.IdempotencyKey,
		Type:           txType,
		FromAccount:    req.FromAccount,
		ToAccount:      req.ToAccount,
		Amount:         req.Amount,
		Status:         models.StatusInProgress,
		CreatedAt:      createdAt,
	}

	// store before enqueue so the worker always finds the record
	l.transactions.Put(tx)
	if err := l.queue.Enqueue(tx.ID); err != nil {
		// not expected while lifecycle is held
		l.transactions.UpdateStatus(tx.ID, models.StatusFailed, err.Error(), l.now())
		return "", fmt.Errorf("enqueue %s: %w", tx.ID, err)
	}

	l.metrics.submitted.Add(ctx, 1, metric.WithAttributes(typeAttr(txType)))
	l.logger.Debug().Str("tx_id", tx.ID).Str("type", string(txType)).Str("amount", tx.Amount.String()).Msg("Transaction queued")

	return tx.ID, nil
}

func validate(txType models.TransactionType, req SubmitRequest) error {
	if !req.Amount.IsPositive() {
		return fmt.Errorf("%w: got %s", ErrInvalidAmount, req.Amount.String())
	}
	switch txType {
	case models.TransactionCredit:
		if req.ToAccount == "" {
			return fmt.Errorf("credit destination: %w", ErrMissingAccount)
		}
	case models.TransactionDebit:
		if req.FromAccount == "" {
			return fmt.Errorf("debit source: %w", ErrMissingAccount)
		}
	case models.TransactionDebitAndCredit:
		if req.FromAccount == "" || req.ToAccount == "" {
			return fmt.Errorf("transfer: %w", ErrMissingAccount)
		}
		if req.FromAccount == req.ToAccount {
			return ErrSameAccount
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownTransactionType, txType)
	}
	return nil
}

// GetBalance returns the current balance, or zero for an unknown account.
func (l *Ledger) GetBalance(accountId string) decimal.Decimal {
	return l.accounts.GetBalance(accountId)
}

func (l *Ledger) GetAccount(accountId string) (models.Account, bool) {
	return l.accounts.GetAccount(accountId)
}

func (l *Ledger) GetTransaction(id string) (models.Transaction, bool) {
	return l.transactions.Get(id)
}

// GetTransactionStatus reports the status of a submitted transaction.
func (l *Ledger) GetTransactionStatus(id string) (models.TransactionStatus, bool) {
	tx, ok := l.transactions.Get(id)
	if !ok {
		return "", false
	}
	return tx.Status, true
}

func (l *Ledger) GetLedgerEntries(accountId string) ([]models.LedgerEntry, error) {
	return l.journal.GetEntriesByAccount(accountId)
}

func (l *Ledger) GetUser(id string) (models.User, bool) {
	return l.users.GetUser(id)
}

// CreateUser registers a user with a fresh id.
func (l *Ledger) CreateUser(ctx context.Context, name string) (models.User, error) {
	user, err := l.users.CreateUser(ctx, models.User{Name: name, CreatedAt: l.now()})
	if err != nil {
		return models.User{}, err
	}
	l.logger.Info().Str("user_id", user.ID).Msg("User created")
	return user, nil
}

// CreateAccount opens a zero-balance account, attached to ownerId when given.
func (l *Ledger) CreateAccount(ctx context.Context, ownerId string) (models.Account, error) {
	if ownerId != "" {
		if _, ok := l.users.GetUser(ownerId); !ok {
			return models.Account{}, fmt.Errorf("owner %s: %w", ownerId, storage.ErrUserNotFound)
		}
	}

	account, err := l.accounts.CreateAccount(ctx, models.Account{
		OwnerID:   ownerId,
		Balance:   decimal.Zero,
		CreatedAt: l.now(),
	})
	if err != nil {
		return models.Account{}, err
	}

	if ownerId != "" {
		if err := l.users.AttachAccount(ownerId, account.ID); err != nil {
			return models.Account{}, err
		}
	}

	l.logger.Info().Str("account_id", account.ID).Str("owner_id", ownerId).Msg("Account created")
	return account, nil
}

// DeadLetters returns the most recent failed results, oldest first.
func (l *Ledger) DeadLetters() []Result {
	l.deadMu.Lock()
	defer l.deadMu.Unlock()

	out := make([]Result, len(l.deadLetters))
	copy(out, l.deadLetters)
	return out
}

// QueueLen reports how many transactions are waiting for the worker.
func (l *Ledger) QueueLen() int {
	return l.queue.Len()
}

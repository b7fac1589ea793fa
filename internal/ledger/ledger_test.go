package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	interfaces "github.com/sheikh-saqib/async-payments-ledger/internal/interfaces"
	"github.com/sheikh-saqib/async-payments-ledger/internal/models"
	"github.com/sheikh-saqib/async-payments-ledger/internal/models/events"
	"github.com/sheikh-saqib/async-payments-ledger/internal/storage"
	"github.com/sheikh-saqib/async-payments-ledger/internal/storage/memory"
)

const waitFor = 5 * time.Second

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func newStarted(t *testing.T, stores Stores, opts ...Option) *Ledger {
	t.Helper()

	l, err := New(stores, opts...)
	require.NoError(t, err)
	require.NoError(t, l.Start(context.Background()))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = l.Shutdown(ctx)
	})
	return l
}

func newAccount(t *testing.T, l *Ledger) string {
	t.Helper()

	acc, err := l.CreateAccount(context.Background(), "")
	require.NoError(t, err)
	return acc.ID
}

func waitSettled(t *testing.T, l *Ledger, id string) models.Transaction {
	t.Helper()

	require.Eventually(t, func() bool {
		status, ok := l.GetTransactionStatus(id)
		return ok && status.Terminal()
	}, waitFor, time.Millisecond, "transaction %s never settled", id)

	tx, _ := l.GetTransaction(id)
	return tx
}

func assertBalance(t *testing.T, l *Ledger, accountId string, want int64) {
	t.Helper()
	got := l.GetBalance(accountId)
	assert.True(t, got.Equal(dec(want)), "balance of %s: want %d, got %s", accountId, want, got)
}

func TestLedger_CreditDebitTransferScenario(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := newStarted(t, Stores{})
	a := newAccount(t, l)
	b := newAccount(t, l)
	assertBalance(t, l, a, 0)

	id, err := l.SubmitCredit(ctx, SubmitRequest{ToAccount: a, Amount: dec(100)})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, waitSettled(t, l, id).Status)
	assertBalance(t, l, a, 100)

	id, err = l.SubmitDebit(ctx, SubmitRequest{FromAccount: a, Amount: dec(30)})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, waitSettled(t, l, id).Status)
	assertBalance(t, l, a, 70)

	id, err = l.SubmitTransfer(ctx, SubmitRequest{FromAccount: a, ToAccount: b, Amount: dec(20)})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, waitSettled(t, l, id).Status)
	assertBalance(t, l, a, 50)
	assertBalance(t, l, b, 20)
}

func TestLedger_LegacyTransferAppliesBothLegsToDestination(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := newStarted(t, Stores{}, WithTransferMode(TransferModeLegacy))
	a := newAccount(t, l)
	b := newAccount(t, l)

	_, err := l.SubmitCredit(ctx, SubmitRequest{ToAccount: a, Amount: dec(100)})
	require.NoError(t, err)
	_, err = l.SubmitDebit(ctx, SubmitRequest{FromAccount: a, Amount: dec(30)})
	require.NoError(t, err)
	id, err := l.SubmitTransfer(ctx, SubmitRequest{FromAccount: a, ToAccount: b, Amount: dec(20)})
	require.NoError(t, err)

	assert.Equal(t, models.StatusCompleted, waitSettled(t, l, id).Status)
	assertBalance(t, l, a, 70)
	assertBalance(t, l, b, 0)

	entries, err := l.GetLedgerEntries(b)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.True(t, entries[0].Amount.Equal(dec(20)))
	assert.True(t, entries[1].Amount.Equal(dec(-20)))
}

func TestLedger_CreditsSumToBalance(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := newStarted(t, Stores{})
	a := newAccount(t, l)

	amounts := []string{"0.01", "12.5", "3", "1000000.99", "7.49"}
	want := decimal.Zero
	var last string
	for _, s := range amounts {
		amt := decimal.RequireFromString(s)
		want = want.Add(amt)

		id, err := l.SubmitCredit(ctx, SubmitRequest{ToAccount: a, Amount: amt})
		require.NoError(t, err)
		last = id
	}

	waitSettled(t, l, last)
	assert.True(t, l.GetBalance(a).Equal(want), "want %s, got %s", want, l.GetBalance(a))
}

func TestLedger_InterleavedCreditsAndDebits(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := newStarted(t, Stores{})
	a := newAccount(t, l)

	ops := []struct {
		credit bool
		amount int64
	}{
		{false, 40}, {true, 10}, {true, 25}, {false, 5}, {true, 100}, {false, 60},
	}

	var want int64
	var ids []string
	for _, op := range ops {
		var (
			id  string
			err error
		)
		if op.credit {
			want += op.amount
			id, err = l.SubmitCredit(ctx, SubmitRequest{ToAccount: a, Amount: dec(op.amount)})
		} else {
			want -= op.amount
			id, err = l.SubmitDebit(ctx, SubmitRequest{FromAccount: a, Amount: dec(op.amount)})
		}
		require.NoError(t, err)
		ids = append(ids, id)
	}

	for _, id := range ids {
		assert.Equal(t, models.StatusCompleted, waitSettled(t, l, id).Status)
	}
	// overdraft is allowed by default, so the opening debit takes the balance negative
	assertBalance(t, l, a, want)
}

func TestLedger_ConcurrentCreditsNoLostUpdates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := newStarted(t, Stores{})
	a := newAccount(t, l)

	const n = 1000
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := l.SubmitCredit(ctx, SubmitRequest{ToAccount: a, Amount: dec(1)})
			assert.NoError(t, err)
			ids[i] = id
		}()
	}
	wg.Wait()

	unique := make(map[string]struct{}, n)
	for _, id := range ids {
		require.NotEmpty(t, id)
		unique[id] = struct{}{}
	}
	assert.Len(t, unique, n)

	require.Eventually(t, func() bool {
		return l.GetBalance(a).Equal(dec(n))
	}, waitFor, time.Millisecond)

	entries, err := l.GetLedgerEntries(a)
	require.NoError(t, err)
	assert.Len(t, entries, n)
}

func TestLedger_SubmitReturnsBeforeProcessing(t *testing.T) {
	t.Parallel()

	l, err := New(Stores{})
	require.NoError(t, err)
	a := newAccount(t, l)

	id, err := l.SubmitCredit(context.Background(), SubmitRequest{ToAccount: a, Amount: dec(5)})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	status, ok := l.GetTransactionStatus(id)
	require.True(t, ok)
	assert.Equal(t, models.StatusInProgress, status)
	assertBalance(t, l, a, 0)
	assert.Equal(t, 1, l.QueueLen())

	require.NoError(t, l.Start(context.Background()))
	assert.Equal(t, models.StatusCompleted, waitSettled(t, l, id).Status)
	assertBalance(t, l, a, 5)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, l.Shutdown(ctx))
}

func TestLedger_UnknownAccountFails(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := newStarted(t, Stores{})
	a := newAccount(t, l)

	tests := []struct {
		name   string
		submit func() (string, error)
	}{
		{"credit", func() (string, error) {
			return l.SubmitCredit(ctx, SubmitRequest{ToAccount: "missing", Amount: dec(1)})
		}},
		{"debit", func() (string, error) {
			return l.SubmitDebit(ctx, SubmitRequest{FromAccount: "missing", Amount: dec(1)})
		}},
		{"transfer to unknown", func() (string, error) {
			return l.SubmitTransfer(ctx, SubmitRequest{FromAccount: a, ToAccount: "missing", Amount: dec(1)})
		}},
		{"transfer from unknown", func() (string, error) {
			return l.SubmitTransfer(ctx, SubmitRequest{FromAccount: "missing", ToAccount: a, Amount: dec(1)})
		}},
	}

	for _, tt := range tests {
		id, err := tt.submit()
		require.NoError(t, err, tt.name)

		tx := waitSettled(t, l, id)
		assert.Equal(t, models.StatusFailed, tx.Status, tt.name)
		assert.Contains(t, tx.FailureReason, storage.ErrAccountNotFound.Error(), tt.name)
		assert.False(t, tx.ProcessedAt.IsZero(), tt.name)
	}

	assertBalance(t, l, a, 0)
	assertBalance(t, l, "missing", 0)

	dead := l.DeadLetters()
	require.Len(t, dead, len(tests))
	for _, r := range dead {
		assert.ErrorIs(t, r.Err, storage.ErrAccountNotFound)
	}
}

func TestLedger_OverdraftDisallowed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := newStarted(t, Stores{Accounts: memory.NewMemoryAccountStore(memory.WithOverdraft(false))})
	a := newAccount(t, l)
	b := newAccount(t, l)

	_, err := l.SubmitCredit(ctx, SubmitRequest{ToAccount: a, Amount: dec(10)})
	require.NoError(t, err)

	debit, err := l.SubmitDebit(ctx, SubmitRequest{FromAccount: a, Amount: dec(11)})
	require.NoError(t, err)
	transfer, err := l.SubmitTransfer(ctx, SubmitRequest{FromAccount: a, ToAccount: b, Amount: dec(15)})
	require.NoError(t, err)
	ok, err := l.SubmitTransfer(ctx, SubmitRequest{FromAccount: a, ToAccount: b, Amount: dec(10)})
	require.NoError(t, err)

	for _, id := range []string{debit, transfer} {
		tx := waitSettled(t, l, id)
		assert.Equal(t, models.StatusFailed, tx.Status)
		assert.Contains(t, tx.FailureReason, storage.ErrInsufficientFunds.Error())
	}
	assert.Equal(t, models.StatusCompleted, waitSettled(t, l, ok).Status)
	assertBalance(t, l, a, 0)
	assertBalance(t, l, b, 10)
}

func TestLedger_SubmitValidation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l, err := New(Stores{})
	require.NoError(t, err)

	tests := []struct {
		name    string
		submit  func() (string, error)
		wantErr error
	}{
		{"zero amount", func() (string, error) {
			return l.SubmitCredit(ctx, SubmitRequest{ToAccount: "a", Amount: decimal.Zero})
		}, ErrInvalidAmount},
		{"negative amount", func() (string, error) {
			return l.SubmitDebit(ctx, SubmitRequest{FromAccount: "a", Amount: dec(-5)})
		}, ErrInvalidAmount},
		{"credit without destination", func() (string, error) {
			return l.SubmitCredit(ctx, SubmitRequest{FromAccount: "a", Amount: dec(1)})
		}, ErrMissingAccount},
		{"debit without source", func() (string, error) {
			return l.SubmitDebit(ctx, SubmitRequest{ToAccount: "a", Amount: dec(1)})
		}, ErrMissingAccount},
		{"transfer without source", func() (string, error) {
			return l.SubmitTransfer(ctx, SubmitRequest{ToAccount: "a", Amount: dec(1)})
		}, ErrMissingAccount},
		{"transfer to self", func() (string, error) {
			return l.SubmitTransfer(ctx, SubmitRequest{FromAccount: "a", ToAccount: "a", Amount: dec(1)})
		}, ErrSameAccount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := tt.submit()
			require.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, id)
		})
	}
	assert.Zero(t, l.QueueLen())
}

func TestLedger_IdempotentSubmission(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := newStarted(t, Stores{})
	a := newAccount(t, l)

	req := SubmitRequest{ToAccount: a, Amount: dec(25), IdempotencyKey: "order-42"}

	var wg sync.WaitGroup
	ids := make([]string, 20)
	for i := range ids {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := l.SubmitCredit(ctx, req)
			assert.NoError(t, err)
			ids[i] = id
		}()
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	waitSettled(t, l, ids[0])

	again, err := l.SubmitCredit(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, ids[0], again)
	assertBalance(t, l, a, 25)
}

func TestLedger_StatusNeverReverts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := newStarted(t, Stores{})
	a := newAccount(t, l)

	id, err := l.SubmitCredit(ctx, SubmitRequest{ToAccount: a, Amount: dec(1)})
	require.NoError(t, err)
	waitSettled(t, l, id)

	// a duplicate delivery of the same id must not apply twice or change the status
	res := l.process(ctx, id)
	assert.Equal(t, models.StatusCompleted, res.Status)

	status, _ := l.GetTransactionStatus(id)
	assert.Equal(t, models.StatusCompleted, status)
	assertBalance(t, l, a, 1)
}

func TestLedger_UnknownTransactionIdDiscarded(t *testing.T) {
	t.Parallel()

	l, err := New(Stores{})
	require.NoError(t, err)

	res := l.process(context.Background(), "never-stored")
	require.ErrorIs(t, res.Err, ErrTransactionNotFound)
	_, ok := l.GetTransactionStatus("never-stored")
	assert.False(t, ok)
	assert.Empty(t, l.DeadLetters())
}

func TestLedger_ShutdownDrainsQueue(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l, err := New(Stores{})
	require.NoError(t, err)
	a := newAccount(t, l)

	const n = 200
	for _i := 0; _i < n; _i++ {
		_, err := l.SubmitCredit(ctx, SubmitRequest{ToAccount: a, Amount: dec(2)})
		require.NoError(t, err)
	}

	require.NoError(t, l.Start(ctx))

	shutdownCtx, cancel := context.WithTimeout(ctx, waitFor)
	defer cancel()
	require.NoError(t, l.Shutdown(shutdownCtx))

	assertBalance(t, l, a, 2*n)
	assert.Zero(t, l.QueueLen())

	_, err = l.SubmitCredit(ctx, SubmitRequest{ToAccount: a, Amount: dec(1)})
	require.ErrorIs(t, err, ErrLedgerClosed)
	require.ErrorIs(t, l.Start(ctx), ErrLedgerClosed)
}

func TestLedger_StartIsIdempotent(t *testing.T) {
	t.Parallel()

	l := newStarted(t, Stores{})
	require.NoError(t, l.Start(context.Background()))
	require.NoError(t, l.Start(context.Background()))

	a := newAccount(t, l)
	id, err := l.SubmitCredit(context.Background(), SubmitRequest{ToAccount: a, Amount: dec(3)})
	require.NoError(t, err)
	waitSettled(t, l, id)
	assertBalance(t, l, a, 3)
}

func TestLedger_NewRejectsBadOptions(t *testing.T) {
	t.Parallel()

	_, err := New(Stores{}, WithTransferMode("sideways"))
	require.Error(t, err)

	_, err = New(Stores{}, WithDeadLetterLimit(-1))
	require.Error(t, err)
}

func TestLedger_DeadLetterLimit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := newStarted(t, Stores{}, WithDeadLetterLimit(2))

	var last string
	for _i := 0; _i < 5; _i++ {
		id, err := l.SubmitCredit(ctx, SubmitRequest{ToAccount: "nope", Amount: dec(1)})
		require.NoError(t, err)
		last = id
	}
	waitSettled(t, l, last)

	dead := l.DeadLetters()
	require.Len(t, dead, 2)
	assert.Equal(t, last, dead[1].TransactionID)
}

type panickingAccounts struct {
	interfaces.AccountStore
}

func (p panickingAccounts) Credit(string, decimal.Decimal, time.Time) error {
	panic("balance table corrupted")
}

func TestLedger_PanicDuringApplyMarksFailed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	accounts := memory.NewMemoryAccountStore()
	l := newStarted(t, Stores{Accounts: panickingAccounts{accounts}})
	a := newAccount(t, l)

	crashed, err := l.SubmitCredit(ctx, SubmitRequest{ToAccount: a, Amount: dec(1)})
	require.NoError(t, err)
	// the worker keeps going after a panic
	debit, err := l.SubmitDebit(ctx, SubmitRequest{FromAccount: a, Amount: dec(4)})
	require.NoError(t, err)

	tx := waitSettled(t, l, crashed)
	assert.Equal(t, models.StatusFailed, tx.Status)
	assert.Contains(t, tx.FailureReason, "balance table corrupted")

	dead := l.DeadLetters()
	require.Len(t, dead, 1)
	assert.ErrorIs(t, dead[0].Err, ErrProcessingFailure)

	assert.Equal(t, models.StatusCompleted, waitSettled(t, l, debit).Status)
	assertBalance(t, l, a, -4)
}

type failingJournal struct {
	*memory.MemoryLedgerStore
	failAccount string
}

func (f failingJournal) SaveEntry(ctx context.Context, entry models.LedgerEntry) error {
	if entry.AccountID == f.failAccount && strings.HasSuffix(entry.ID, "-credit") {
		return errors.New("journal unavailable")
	}
	return f.MemoryLedgerStore.SaveEntry(ctx, entry)
}

func TestLedger_TransferRevertsDebitWhenCreditLegFails(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	journal := &failingJournal{MemoryLedgerStore: memory.NewMemoryLedgerStore()}
	l := newStarted(t, Stores{Journal: journal})
	a := newAccount(t, l)
	b := newAccount(t, l)
	journal.failAccount = b

	fund, err := l.SubmitCredit(ctx, SubmitRequest{ToAccount: a, Amount: dec(50)})
	require.NoError(t, err)
	waitSettled(t, l, fund)

	id, err := l.SubmitTransfer(ctx, SubmitRequest{FromAccount: a, ToAccount: b, Amount: dec(20)})
	require.NoError(t, err)

	tx := waitSettled(t, l, id)
	assert.Equal(t, models.StatusFailed, tx.Status)
	assertBalance(t, l, a, 50)
	assertBalance(t, l, b, 0)

	entries, err := l.GetLedgerEntries(a)
	require.NoError(t, err)
	sum := decimal.Zero
	for _, e := range entries {
		sum = sum.Add(e.Amount)
	}
	assert.True(t, sum.Equal(dec(50)), "journal must still match balance, got %s", sum)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.TransactionSettled
	err    error
}

func (r *recordingPublisher) Publish(ctx context.Context, key string, event any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	settled, ok := event.(events.TransactionSettled)
	if !ok {
		return fmt.Errorf("unexpected event %T", event)
	}
	if settled.TransactionID != key {
		return fmt.Errorf("key %s does not match transaction %s", key, settled.TransactionID)
	}
	r.events = append(r.events, settled)
	return r.err
}

func (r *recordingPublisher) snapshot() []events.TransactionSettled {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.TransactionSettled(nil), r.events...)
}

func TestLedger_PublishesSettledEvents(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	pub := &recordingPublisher{err: errors.New("broker down")}
	l := newStarted(t, Stores{}, WithPublisher(pub))
	a := newAccount(t, l)

	ok, err := l.SubmitCredit(ctx, SubmitRequest{ToAccount: a, Amount: dec(9)})
	require.NoError(t, err)
	bad, err := l.SubmitDebit(ctx, SubmitRequest{FromAccount: "ghost", Amount: dec(9)})
	require.NoError(t, err)

	// publish failures never affect the recorded status
	assert.Equal(t, models.StatusCompleted, waitSettled(t, l, ok).Status)
	assert.Equal(t, models.StatusFailed, waitSettled(t, l, bad).Status)

	require.Eventually(t, func() bool { return len(pub.snapshot()) == 2 }, waitFor, time.Millisecond)
	got := pub.snapshot()
	assert.Equal(t, ok, got[0].TransactionID)
	assert.Equal(t, string(models.StatusCompleted), got[0].Status)
	assert.Equal(t, bad, got[1].TransactionID)
	assert.Equal(t, string(models.StatusFailed), got[1].Status)
	assert.NotEmpty(t, got[1].FailureReason)
}

func TestLedger_CreateAccountForUser(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l, err := New(Stores{})
	require.NoError(t, err)

	user, err := l.CreateUser(ctx, "ada")
	require.NoError(t, err)
	require.NotEmpty(t, user.ID)

	acc, err := l.CreateAccount(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, user.ID, acc.OwnerID)
	assert.True(t, acc.Balance.IsZero())

	got, ok := l.GetUser(user.ID)
	require.True(t, ok)
	assert.Equal(t, []string{acc.ID}, got.Accounts)

	_, err = l.CreateAccount(ctx, "no-such-user")
	require.ErrorIs(t, err, storage.ErrUserNotFound)
}

func TestLedger_TransactionRecordShape(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	l, err := New(Stores{})
	require.NoError(t, err)

	id, err := l.SubmitTransfer(context.Background(), SubmitRequest{
		FromAccount: "src", ToAccount: "dst", Amount: dec(7), CreatedAt: at,
	})
	require.NoError(t, err)

	tx, ok := l.GetTransaction(id)
	require.True(t, ok)
	assert.Equal(t, models.TransactionDebitAndCredit, tx.Type)
	assert.Equal(t, "src", tx.FromAccount)
	assert.Equal(t, "dst", tx.ToAccount)
	assert.Equal(t, at, tx.CreatedAt)
	assert.Equal(t, models.StatusInProgress, tx.Status)
}

package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/metric"

	"github.com/sheikh-saqib/async-payments-ledger/internal/models"
	"github.com/sheikh-saqib/async-payments-ledger/internal/models/events"
	"github.com/sheikh-saqib/async-payments-ledger/internal/queue"
	"github.com/sheikh-saqib/async-payments-ledger/internal/storage"
)

// Result is the outcome of processing one dequeued transaction id.
type Result struct {
	TransactionID string                   `json:"transaction_id"`
	Status        models.TransactionStatus `json:"status"`
	Err           error                    `json:"-"`
	Reason        string                   `json:"reason,omitempty"`
	ProcessedAt   time.Time                `json:"processed_at"`
}

// run is the worker loop: wait for an id, look it up, apply it, record the outcome.
func (l *Ledger) run(ctx context.Context) {
	defer close(l.workerDone)

	for {
		id, err := l.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) {
				l.logger.Info().Msg("Transaction queue closed and drained, worker exiting")
			} else {
				l.logger.Warn().Err(err).Int("pending", l.queue.Len()).Msg("Worker stopped")
			}
			return
		}

		l.metrics.queueDepth.Record(ctx, int64(l.queue.Len()))
		l.process(ctx, id)
	}
}

func (l *Ledger) process(ctx context.Context, id string) Result {
	tx, ok := l.transactions.Get(id)
	if !ok {
		// store-then-enqueue makes this unreachable; drop the id rather than stall
		l.logger.Error().Str("tx_id", id).Msg("Dequeued transaction has no record, discarding")
		return Result{TransactionID: id, Err: ErrTransactionNotFound, ProcessedAt: l.now()}
	}

	if tx.Status.Terminal() {
		l.logger.Warn().Str("tx_id", id).Str("status", string(tx.Status)).Msg("Transaction already settled, skipping")
		return Result{TransactionID: id, Status: tx.Status, Reason: tx.FailureReason, ProcessedAt: tx.ProcessedAt}
	}

	start := time.Now()
	err := l.safeApply(ctx, tx)
	processedAt := l.now()

	res := Result{TransactionID: id, Status: models.StatusCompleted, ProcessedAt: processedAt}
	attrs := metric.WithAttributes(typeAttr(tx.Type))
	l.metrics.applyLatency.Record(ctx, time.Since(start).Seconds(), attrs)

	if err != nil {
		res.Status = models.StatusFailed
		res.Err = err
		res.Reason = err.Error()

		l.metrics.failed.Add(ctx, 1, attrs)
		l.addDeadLetter(res)
		l.logger.Error().Err(err).Str("tx_id", id).Str("type", string(tx.Type)).Msg("Transaction failed")
	} else {
		l.metrics.completed.Add(ctx, 1, attrs)
		l.logger.Debug().Str("tx_id", id).Str("type", string(tx.Type)).Msg("Transaction completed")
	}

	// status goes last so a caller that observes FAILED also finds the dead letter
	if !l.transactions.UpdateStatus(id, res.Status, res.Reason, processedAt) {
		l.logger.Error().Str("tx_id", id).Str("status", string(res.Status)).Msg("Transaction record vanished before status update")
		return res
	}

	l.publishSettled(ctx, tx, res)
	return res
}

func (l *Ledger) safeApply(ctx context.Context, tx models.Transaction) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrProcessingFailure, r)
		}
	}()

	return l.apply(ctx, tx)
}

func (l *Ledger) apply(ctx context.Context, tx models.Transaction) error {
	switch tx.Type {
	case models.TransactionCredit:
		return l.creditLeg(ctx, tx, tx.ToAccount)
	case models.TransactionDebit:
		return l.debitLeg(ctx, tx, tx.FromAccount)
	case models.TransactionDebitAndCredit:
		if l.transferMode == TransferModeLegacy {
			return l.legacyTransfer(ctx, tx)
		}
		return l.transfer(ctx, tx)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownTransactionType, tx.Type)
	}
}

// transfer checks both legs up front, then debits the source and credits the
// destination. A failed credit leg puts the debited amount back.
func (l *Ledger) transfer(ctx context.Context, tx models.Transaction) error {
	if err := l.accounts.CanDebit(tx.FromAccount, tx.Amount); err != nil {
		return err
	}
	if !l.accounts.AccountExists(tx.ToAccount) {
		return fmt.Errorf("credit %s: %w", tx.ToAccount, storage.ErrAccountNotFound)
	}

	if err := l.debitLeg(ctx, tx, tx.FromAccount); err != nil {
		return err
	}
	if err := l.creditLeg(ctx, tx, tx.ToAccount); err != nil {
		if revertErr := l.revertDebit(ctx, tx); revertErr != nil {
			return errors.Join(err, revertErr)
		}
		return err
	}
	return nil
}

// legacyTransfer applies both legs to the destination account.
func (l *Ledger) legacyTransfer(ctx context.Context, tx models.Transaction) error {
	if err := l.creditLeg(ctx, tx, tx.ToAccount); err != nil {
		return err
	}
	return l.debitLeg(ctx, tx, tx.ToAccount)
}

func (l *Ledger) creditLeg(ctx context.Context, tx models.Transaction, accountId string) error {
	if err := l.accounts.Credit(accountId, tx.Amount, tx.CreatedAt); err != nil {
		return err
	}
	if err := l.record(ctx, tx, "-credit", accountId, tx.Amount); err != nil {
		return errors.Join(err, l.accounts.Debit(accountId, tx.Amount, tx.CreatedAt))
	}
	return nil
}

func (l *Ledger) debitLeg(ctx context.Context, tx models.Transaction, accountId string) error {
	if err := l.accounts.Debit(accountId, tx.Amount, tx.CreatedAt); err != nil {
		return err
	}
	if err := l.record(ctx, tx, "-debit", accountId, tx.Amount.Neg()); err != nil {
		return errors.Join(err, l.accounts.Credit(accountId, tx.Amount, tx.CreatedAt))
	}
	return nil
}

func (l *Ledger) revertDebit(ctx context.Context, tx models.Transaction) error {
	if err := l.accounts.Credit(tx.FromAccount, tx.Amount, tx.CreatedAt); err != nil {
		return fmt.Errorf("revert debit of %s: %w", tx.FromAccount, err)
	}
	return l.record(ctx, tx, "-reversal", tx.FromAccount, tx.Amount)
}

func (l *Ledger) record(ctx context.Context, tx models.Transaction, suffix, accountId string, amount decimal.Decimal) error {
	err := l.journal.SaveEntry(ctx, models.LedgerEntry{
		ID:            tx.ID + suffix,
		TransactionID: tx.ID,
		AccountID:     accountId,
		Amount:        amount,
		CreatedAt:     tx.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("journal %s%s: %w", tx.ID, suffix, err)
	}
	return nil
}

func (l *Ledger) addDeadLetter(res Result) {
	if l.deadLetterLimit == 0 {
		return
	}

	l.deadMu.Lock()
	defer l.deadMu.Unlock()

	if len(l.deadLetters) >= l.deadLetterLimit {
		l.deadLetters = l.deadLetters[1:]
	}
	l.deadLetters = append(l.deadLetters, res)
}

// publishSettled is best effort: a failed publish never changes the status.
func (l *Ledger) publishSettled(ctx context.Context, tx models.Transaction, res Result) {
	if l.publisher == nil {
		return
	}

	event := events.TransactionSettled{
		TransactionID: tx.ID,
		Type:          string(tx.Type),
		Status:        string(res.Status),
		FromAccount:   tx.FromAccount,
		ToAccount:     tx.ToAccount,
		Amount:        tx.Amount,
		FailureReason: res.Reason,
		OccurredAt:    res.ProcessedAt,
	}

	pubCtx, cancel := context.WithTimeout(ctx, l.publishTimeout)
	defer cancel()

	if err := l.publisher.Publish(pubCtx, tx.ID, event); err != nil {
		l.logger.Warn().Err(err).Str("tx_id", tx.ID).Msg("Failed to publish settled event")
	}
}

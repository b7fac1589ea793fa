package ledger

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/sheikh-saqib/async-payments-ledger/internal/models"
)

type ledgerMetrics struct {
	submitted    metric.Int64Counter
	completed    metric.Int64Counter
	failed       metric.Int64Counter
	applyLatency metric.Float64Histogram
	queueDepth   metric.Int64Gauge
}

func newLedgerMetrics(provider metric.MeterProvider) (ledgerMetrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}

	meter := provider.Meter("ledger.worker")

	var (
		m   ledgerMetrics
		err error
	)

	m.submitted, err = meter.Int64Counter(
		"ledger.transactions.submitted",
		metric.WithDescription("Number of transactions accepted and queued"),
		metric.WithUnit("{transaction}"),
	)
	if err != nil {
		return ledgerMetrics{}, fmt.Errorf("create ledger.transactions.submitted counter: %w", err)
	}

	m.completed, err = meter.Int64Counter(
		"ledger.transactions.completed",
		metric.WithDescription("Number of transactions applied to account balances"),
		metric.WithUnit("{transaction}"),
	)
	if err != nil {
		return ledgerMetrics{}, fmt.Errorf("create ledger.transactions.completed counter: %w", err)
	}

	m.failed, err = meter.Int64Counter(
		"ledger.transactions.failed",
		metric.WithDescription("Number of transactions marked FAILED by the worker"),
		metric.WithUnit("{transaction}"),
	)
	if err != nil {
		return ledgerMetrics{}, fmt.Errorf("create ledger.transactions.failed counter: %w", err)
	}

	m.applyLatency, err = meter.Float64Histogram(
		"ledger.apply.latency",
		metric.WithDescription("Time taken to apply one transaction"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return ledgerMetrics{}, fmt.Errorf("create ledger.apply.latency histogram: %w", err)
	}

	m.queueDepth, err = meter.Int64Gauge(
		"ledger.queue.depth",
		metric.WithDescription("Transactions waiting for the worker"),
		metric.WithUnit("{transaction}"),
	)
	if err != nil {
		return ledgerMetrics{}, fmt.Errorf("create ledger.queue.depth gauge: %w", err)
	}

	return m, nil
}

func typeAttr(t models.TransactionType) attribute.KeyValue {
	return attribute.String("transaction.type", string(t))
}

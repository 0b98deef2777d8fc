package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "expertloop"

// Metrics holds all expertloop metric instruments.
type Metrics struct {
	QueriesSubmitted  metric.Int64Counter
	QueriesDuplicate  metric.Int64Counter
	RetrievalFailures metric.Int64Counter
	Escalations       metric.Int64Counter
	Expiries          metric.Int64Counter
	RemindersSent     metric.Int64Counter
	Deliveries        metric.Int64Counter
	DeliveryFailures  metric.Int64Counter
	Corrections       metric.Int64Counter
	StaleActions      metric.Int64Counter
	ReviewLatency     metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.QueriesSubmitted, err = meter.Int64Counter("expertloop.queries.submitted",
		metric.WithDescription("Number of queries accepted by submit"))
	if err != nil {
		return nil, err
	}

	m.QueriesDuplicate, err = meter.Int64Counter("expertloop.queries.duplicate",
		metric.WithDescription("Number of submits rejected as duplicate pending"))
	if err != nil {
		return nil, err
	}

	m.RetrievalFailures, err = meter.Int64Counter("expertloop.retrieval.failures",
		metric.WithDescription("Number of retrieval failures routed to the fallback path"))
	if err != nil {
		return nil, err
	}

	m.Escalations, err = meter.Int64Counter("expertloop.reviews.escalated",
		metric.WithDescription("Number of review tasks promoted to a higher tier"))
	if err != nil {
		return nil, err
	}

	m.Expiries, err = meter.Int64Counter("expertloop.reviews.expired",
		metric.WithDescription("Number of review tasks expired at max escalation level"))
	if err != nil {
		return nil, err
	}

	m.RemindersSent, err = meter.Int64Counter("expertloop.reminders.sent",
		metric.WithDescription("Number of reminder notifications dispatched"))
	if err != nil {
		return nil, err
	}

	m.Deliveries, err = meter.Int64Counter("expertloop.deliveries",
		metric.WithDescription("Number of answers delivered to users"))
	if err != nil {
		return nil, err
	}

	m.DeliveryFailures, err = meter.Int64Counter("expertloop.deliveries.failed",
		metric.WithDescription("Number of exhausted delivery attempts"))
	if err != nil {
		return nil, err
	}

	m.Corrections, err = meter.Int64Counter("expertloop.corrections",
		metric.WithDescription("Number of correction records appended to the ledger"))
	if err != nil {
		return nil, err
	}

	m.StaleActions, err = meter.Int64Counter("expertloop.reviews.stale_actions",
		metric.WithDescription("Number of decisions or timeouts discarded as stale"))
	if err != nil {
		return nil, err
	}

	m.ReviewLatency, err = meter.Float64Histogram("expertloop.review.latency_seconds",
		metric.WithDescription("Time from pending review to expert decision"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

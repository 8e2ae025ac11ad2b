package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "autoclerk"

// Metrics holds all autoclerk metric instruments.
type Metrics struct {
	EventsReceived  metric.Int64Counter
	EventsFailed    metric.Int64Counter
	DecisionsMade   metric.Int64Counter
	ReviewsRequired metric.Int64Counter
	DispatchSeconds metric.Float64Histogram
	MatchConfidence metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.EventsReceived, err = meter.Int64Counter("autoclerk.events.received",
		metric.WithDescription("Number of events accepted for dispatch"))
	if err != nil {
		return nil, err
	}

	m.EventsFailed, err = meter.Int64Counter("autoclerk.events.failed",
		metric.WithDescription("Number of events with at least one failed target"))
	if err != nil {
		return nil, err
	}

	m.DecisionsMade, err = meter.Int64Counter("autoclerk.decisions.made",
		metric.WithDescription("Number of decisions produced, by outcome"))
	if err != nil {
		return nil, err
	}

	m.ReviewsRequired, err = meter.Int64Counter("autoclerk.reviews.required",
		metric.WithDescription("Number of events escalated for human review"))
	if err != nil {
		return nil, err
	}

	m.DispatchSeconds, err = meter.Float64Histogram("autoclerk.dispatch.duration_seconds",
		metric.WithDescription("End-to-end dispatch duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.MatchConfidence, err = meter.Float64Histogram("autoclerk.match.confidence",
		metric.WithDescription("Final confidence of resolved matches"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the pipeline's metric instruments.
type Metrics struct {
	jobsProcessed   metric.Int64Counter
	jobsFailed      metric.Int64Counter
	jobDuration     metric.Float64Histogram
	completionCalls metric.Int64Counter
	uploads         metric.Int64Counter
}

// DefaultMetrics uses the globally registered MeterProvider.
func DefaultMetrics() *Metrics {
	return NewMetrics(otel.GetMeterProvider())
}

func NewMetrics(mp metric.MeterProvider) *Metrics {
	meter := mp.Meter(MeterName)
	m := &Metrics{}

	// Instrument creation only fails on invalid names; fall back to the bare
	// instrument so recording never dereferences nil.
	var err error

	m.jobsProcessed, err = meter.Int64Counter(
		"deckexplain.jobs.processed",
		metric.WithDescription("Uploads that reached the done state"),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		m.jobsProcessed, _ = meter.Int64Counter("deckexplain.jobs.processed")
	}

	m.jobsFailed, err = meter.Int64Counter(
		"deckexplain.jobs.failed",
		metric.WithDescription("Failed processing attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		m.jobsFailed, _ = meter.Int64Counter("deckexplain.jobs.failed")
	}

	m.jobDuration, err = meter.Float64Histogram(
		"deckexplain.job.duration",
		metric.WithDescription("Time spent processing one upload"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		m.jobDuration, _ = meter.Float64Histogram("deckexplain.job.duration")
	}

	m.completionCalls, err = meter.Int64Counter(
		"deckexplain.completion.calls",
		metric.WithDescription("Completion API calls by outcome"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		m.completionCalls, _ = meter.Int64Counter("deckexplain.completion.calls")
	}

	m.uploads, err = meter.Int64Counter(
		"deckexplain.uploads",
		metric.WithDescription("Accepted uploads"),
		metric.WithUnit("{upload}"),
	)
	if err != nil {
		m.uploads, _ = meter.Int64Counter("deckexplain.uploads")
	}

	return m
}

func (m *Metrics) RecordUpload(ctx context.Context) {
	m.uploads.Add(ctx, 1)
}

func (m *Metrics) RecordJobDone(ctx context.Context, duration time.Duration) {
	m.jobsProcessed.Add(ctx, 1)
	m.jobDuration.Record(ctx, float64(duration.Milliseconds()))
}

// RecordJobFailure counts a failed attempt; terminal is true when the upload
// was moved to the failed state.
func (m *Metrics) RecordJobFailure(ctx context.Context, terminal bool) {
	m.jobsFailed.Add(ctx, 1, metric.WithAttributes(attribute.Bool("deckexplain.terminal", terminal)))
}

func (m *Metrics) RecordCompletion(ctx context.Context, outcome string) {
	m.completionCalls.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrOutcome, outcome)))
}

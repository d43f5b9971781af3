package search

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/inquire/internal/search"

// Metrics holds search counters.
type Metrics struct {
	likelihoodRequests metric.Int64Counter
	hypotheses         metric.Int64Counter
	runs               metric.Int64Counter
}

// NewMetrics creates search metrics on the global meter provider.
func NewMetrics(logger *zap.Logger) *Metrics {
	meter := otel.Meter(instrumentationName)
	m := &Metrics{}
	var err error

	m.likelihoodRequests, err = meter.Int64Counter(
		"inquire.search.likelihood_requests_total",
		metric.WithDescription("Likelihood estimation requests issued on cluster cache misses"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		logger.Warn("failed to create likelihood requests counter", zap.Error(err))
	}

	m.hypotheses, err = meter.Int64Counter(
		"inquire.search.likelihood_hypotheses_total",
		metric.WithDescription("Hypotheses whose likelihoods were requested"),
		metric.WithUnit("{hypothesis}"),
	)
	if err != nil {
		logger.Warn("failed to create hypotheses counter", zap.Error(err))
	}

	m.runs, err = meter.Int64Counter(
		"inquire.search.runs_total",
		metric.WithDescription("Completed runs by outcome"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		logger.Warn("failed to create runs counter", zap.Error(err))
	}
	return m
}

// RecordLikelihoodRequest counts one request for n hypotheses.
func (m *Metrics) RecordLikelihoodRequest(ctx context.Context, n int) {
	if m == nil {
		return
	}
	if m.likelihoodRequests != nil {
		m.likelihoodRequests.Add(ctx, 1)
	}
	if m.hypotheses != nil {
		m.hypotheses.Add(ctx, int64(n))
	}
}

// RecordRun counts a finished run.
func (m *Metrics) RecordRun(ctx context.Context, err error) {
	if m == nil || m.runs == nil {
		return
	}
	outcome := "completed"
	if err != nil {
		outcome = "failed"
	}
	m.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

package clustering

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/inquire/internal/clustering"

// Metrics holds clustering lookup counters.
type Metrics struct {
	lookups metric.Int64Counter
}

// NewMetrics creates clustering metrics on the global meter provider.
func NewMetrics(logger *zap.Logger) *Metrics {
	m := &Metrics{}
	var err error
	m.lookups, err = otel.Meter(instrumentationName).Int64Counter(
		"inquire.clustering.lookups_total",
		metric.WithDescription("Question cluster lookups by result (hit reuses a cluster, miss creates one)"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		logger.Warn("failed to create lookups counter", zap.Error(err))
	}
	return m
}

// RecordLookup counts one GetCluster outcome.
func (m *Metrics) RecordLookup(ctx context.Context, hit bool) {
	if m == nil || m.lookups == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.lookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

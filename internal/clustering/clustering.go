// Package clustering groups semantically equivalent questions so that their
// answer likelihoods are estimated once and shared.
//
// Grouping is greedy and insertion-order dependent: a question joins the
// nearest existing cluster if it is similar enough, otherwise it seeds a new
// one. Clusters are never merged, split or removed.
package clustering

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("inquire.clustering")

// similarityTolerance absorbs float32 rounding so identical embeddings meet a
// threshold of exactly 1.0.
const similarityTolerance = 1e-6

var (
	// ErrInvalidConfig is returned for invalid constructor arguments.
	ErrInvalidConfig = errors.New("invalid clustering config")

	// ErrUnknownCluster is returned when the index names a cluster that is not registered.
	ErrUnknownCluster = errors.New("index returned unknown cluster id")

	// ErrStaleIndex is returned when a new clustering is given an index that
	// already holds vectors. Use Restore to reuse a saved index.
	ErrStaleIndex = errors.New("index holds vectors with no registered cluster")
)

// Embedder turns question text into a vector.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Index is a nearest-neighbour index over question embeddings.
type Index interface {
	// Len returns the number of stored vectors.
	Len(ctx context.Context) (int, error)
	// Add stores vec and returns its new id.
	Add(ctx context.Context, vec []float32, label string) (string, error)
	// Nearest returns the id and cosine similarity of the closest stored
	// vector. ok is false when the index is empty.
	Nearest(ctx context.Context, vec []float32) (id string, similarity float64, ok bool, err error)
}

// QuestionClustering owns the index and the clusters registered under its ids.
// It is safe for concurrent use and may be shared across runs.
type QuestionClustering struct {
	embedder  Embedder
	index     Index
	threshold float64
	logger    *zap.Logger
	metrics   *Metrics

	// mu serialises the query-then-insert decision.
	mu       sync.Mutex
	clusters map[string]*Cluster
	// checked is set once the index size has been matched against clusters.
	checked bool
}

// New creates a QuestionClustering. A question joins an existing cluster when
// its similarity to the nearest stored question is at least threshold.
func New(embedder Embedder, index Index, threshold float64, logger *zap.Logger) (*QuestionClustering, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	if index == nil {
		return nil, fmt.Errorf("%w: index is required", ErrInvalidConfig)
	}
	if threshold < -1 || threshold > 1 {
		return nil, fmt.Errorf("%w: threshold %v outside [-1, 1]", ErrInvalidConfig, threshold)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("setting up question clustering", zap.Float64("threshold", threshold))

	return &QuestionClustering{
		embedder:  embedder,
		index:     index,
		threshold: threshold,
		logger:    logger,
		metrics:   NewMetrics(logger),
		clusters:  make(map[string]*Cluster),
	}, nil
}

// Threshold returns the similarity threshold.
func (qc *QuestionClustering) Threshold() float64 { return qc.threshold }

// Index returns the underlying nearest-neighbour index.
func (qc *QuestionClustering) Index() Index { return qc.index }

// Len returns the number of clusters.
func (qc *QuestionClustering) Len() int {
	qc.mu.Lock()
	defer qc.mu.Unlock()
	return len(qc.clusters)
}

// Clusters returns the registered clusters keyed by index id.
func (qc *QuestionClustering) Clusters() map[string]*Cluster {
	qc.mu.Lock()
	defer qc.mu.Unlock()
	out := make(map[string]*Cluster, len(qc.clusters))
	for id, c := range qc.clusters {
		out[id] = c
	}
	return out
}

// IDs returns the registered cluster ids in sorted order.
func (qc *QuestionClustering) IDs() []string {
	qc.mu.Lock()
	defer qc.mu.Unlock()
	ids := make([]string, 0, len(qc.clusters))
	for id := range qc.clusters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// GetCluster returns the cluster question belongs to, creating one if no
// stored question is similar enough.
func (qc *QuestionClustering) GetCluster(ctx context.Context, question string) (*Cluster, error) {
	ctx, span := tracer.Start(ctx, "clustering.GetCluster")
	defer span.End()

	vec, err := qc.embedder.EmbedQuery(ctx, question)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("embedding question: %w", err)
	}

	qc.mu.Lock()
	defer qc.mu.Unlock()

	if !qc.checked {
		n, err := qc.index.Len(ctx)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("reading index size: %w", err)
		}
		if n != len(qc.clusters) {
			err := fmt.Errorf("%w: %d vectors, %d clusters", ErrStaleIndex, n, len(qc.clusters))
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		qc.checked = true
	}

	if len(qc.clusters) > 0 {
		id, similarity, ok, err := qc.index.Nearest(ctx, vec)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("querying index: %w", err)
		}
		if ok && similarity+similarityTolerance >= qc.threshold {
			cluster, found := qc.clusters[id]
			if !found {
				return nil, fmt.Errorf("%w: %s", ErrUnknownCluster, id)
			}
			cluster.RecordQuestion(question)
			qc.logger.Debug("cluster found",
				zap.String("question", question),
				zap.String("cluster_id", id),
				zap.Float64("similarity", similarity),
			)
			span.SetAttributes(attribute.String("result", "hit"), attribute.Float64("similarity", similarity))
			qc.metrics.RecordLookup(ctx, true)
			return cluster, nil
		}
	}

	id, err := qc.index.Add(ctx, vec, question)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("adding to index: %w", err)
	}
	cluster := newCluster(question)
	qc.clusters[id] = cluster

	qc.logger.Debug("cluster not found, created new cluster",
		zap.String("question", question),
		zap.String("cluster_id", id),
	)
	span.SetAttributes(attribute.String("result", "miss"))
	qc.metrics.RecordLookup(ctx, false)
	return cluster, nil
}

package embeddings

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/inquire/internal/config"
)

// Provider is an embedding backend.
type Provider interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	// Model returns the model name used for metric labels.
	Model() string
	Dimension() int
	Close() error
}

// NewProvider builds the configured FastEmbed provider with metrics and,
// unless CacheSize is negative, an LRU cache in front of it.
func NewProvider(ctx context.Context, cfg config.EmbeddingsConfig, logger *zap.Logger) (Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	rt := &ONNXRuntime{
		Dir:    filepath.Join(cfg.CacheDir, "onnxruntime"),
		Path:   cfg.ONNXPath,
		Logger: logger,
	}
	if _, err := rt.Ensure(ctx); err != nil {
		return nil, err
	}

	fe, err := NewFastEmbedProvider(FastEmbedConfig{Model: cfg.Model, CacheDir: cfg.CacheDir})
	if err != nil {
		return nil, err
	}
	logger.Info("loaded embedding model",
		zap.String("model", fe.Model()),
		zap.Int("dimension", fe.Dimension()),
	)

	metrics := NewMetrics(logger)
	var p Provider = Instrument(fe, metrics)
	if cfg.CacheSize > 0 {
		if p, err = NewCachedProvider(p, cfg.CacheSize, metrics); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Instrumented records generation metrics around a Provider.
type Instrumented struct {
	Provider
	metrics *Metrics
}

// Instrument wraps p so every backend call is measured.
func Instrument(p Provider, m *Metrics) *Instrumented {
	return &Instrumented{Provider: p, metrics: m}
}

func (i *Instrumented) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	vec, err := i.Provider.EmbedQuery(ctx, text)
	i.metrics.RecordGeneration(ctx, i.Model(), "embed_query", time.Since(start), err)
	return vec, err
}

func (i *Instrumented) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	vecs, err := i.Provider.EmbedDocuments(ctx, texts)
	i.metrics.RecordGeneration(ctx, i.Model(), "embed_documents", time.Since(start), err)
	if err == nil && len(vecs) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbeddingFailed, len(vecs), len(texts))
	}
	return vecs, err
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/inquire/internal/clustering"
	"github.com/fyrsmithlabs/inquire/internal/config"
	"github.com/fyrsmithlabs/inquire/internal/embeddings"
	"github.com/fyrsmithlabs/inquire/internal/eval"
	"github.com/fyrsmithlabs/inquire/internal/history"
	"github.com/fyrsmithlabs/inquire/internal/llm"
	"github.com/fyrsmithlabs/inquire/internal/logging"
	"github.com/fyrsmithlabs/inquire/internal/search"
	"github.com/fyrsmithlabs/inquire/internal/tasks/twentyq"
	"github.com/fyrsmithlabs/inquire/internal/telemetry"
)

// dependencies holds the process-wide clients a batch needs.
type dependencies struct {
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
	client    *llm.Client
	embedder  embeddings.Provider
}

// initDependencies builds telemetry, logging, the LLM client and the
// embedder. Logs also go to <outputDir>/logs.log unless logging.file is set.
func initDependencies(ctx context.Context, cfg *config.Config, outputDir string) (*dependencies, error) {
	tel, err := telemetry.New(ctx, telemetry.FromConfig(cfg.Telemetry, version))
	if err != nil {
		return nil, err
	}
	deps := &dependencies{telemetry: tel}

	logCfg, err := logging.FromConfig(cfg.Logging)
	if err != nil {
		deps.Close()
		return nil, err
	}
	if logCfg.Output.File == "" {
		logCfg.Output.File = filepath.Join(outputDir, "logs.log")
	}
	logCfg.Output.OTEL = tel.LoggerProvider() != nil
	if deps.logger, err = logging.NewLogger(logCfg, tel.LoggerProvider()); err != nil {
		deps.Close()
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	if h := tel.Health(); h.Degraded {
		deps.logger.Warn(ctx, "telemetry degraded", zap.String("error", h.LastError))
	}

	deps.client, err = llm.NewClient(llm.Config{
		BaseURL:           cfg.LLM.BaseURL,
		APIKey:            cfg.LLM.APIKey.Value(),
		RequestsPerMinute: cfg.LLM.RequestsPerMinute,
		MaxRetries:        cfg.LLM.MaxRetries,
		Timeout:           cfg.LLM.Timeout.Duration(),
	}, deps.logger.Underlying().Named("llm"))
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}

	deps.embedder, err = embeddings.NewProvider(ctx, cfg.Embeddings, deps.logger.Underlying().Named("embeddings"))
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	return deps, nil
}

// Close releases everything initDependencies created.
func (d *dependencies) Close() {
	if d.embedder != nil {
		_ = d.embedder.Close()
	}
	if d.telemetry != nil {
		_ = d.telemetry.Shutdown(context.Background())
	}
	if d.logger != nil {
		_ = d.logger.Close()
	}
}

// embedder is what clustering and answer matching need from embeddings.
type embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// batch runs one twenty-questions game per target.
type batch struct {
	cfg        *config.Config
	hypotheses []string
	outputDir  string
	client     twentyq.Completer
	embedder   embedder
	dimension  int
	logger     *logging.Logger
}

// targets returns the [start, end) slice of the hypothesis space, clamped.
func (b *batch) targets() []string {
	start := min(b.cfg.Batch.StartIdx, len(b.hypotheses))
	end := min(b.cfg.Batch.EndIdx, len(b.hypotheses))
	if end < start {
		end = start
	}
	return b.hypotheses[start:end]
}

// index opens the nearest-neighbour index for game idx. A fresh qdrant
// collection is recreated so points from an earlier batch cannot leak in.
func (b *batch) index(ctx context.Context, idx int, shared, fresh bool) (clustering.Index, error) {
	if b.cfg.Clustering.Backend != config.BackendQdrant {
		return clustering.NewChromemIndex()
	}
	q := b.cfg.Clustering.Qdrant
	collection := q.Collection
	if !shared {
		collection = fmt.Sprintf("%s_%d", collection, idx)
	}
	return clustering.NewQdrantIndex(ctx, clustering.QdrantConfig{
		Host:       q.Host,
		Port:       q.Port,
		UseTLS:     q.UseTLS,
		APIKey:     q.APIKey.Value(),
		Collection: collection,
		VectorSize: b.dimension,
		Recreate:   fresh,
	})
}

// newClustering starts game idx with an empty clustering, or with the one
// saved under clustering.from.
func (b *batch) newClustering(ctx context.Context, idx int, shared bool) (*clustering.QuestionClustering, error) {
	logger := b.logger.Underlying().Named("clustering")
	if from := b.cfg.Clustering.From; from != "" {
		return b.loadClustering(ctx, idx, shared, from, logger)
	}
	index, err := b.index(ctx, idx, shared, true)
	if err != nil {
		return nil, fmt.Errorf("creating clustering index: %w", err)
	}
	return clustering.New(b.embedder, index, b.cfg.Clustering.Threshold, logger)
}

func (b *batch) loadClustering(ctx context.Context, idx int, shared bool, prefix string, logger *zap.Logger) (*clustering.QuestionClustering, error) {
	jsonPath := prefix + "cluster.json"
	if b.cfg.Clustering.Backend != config.BackendQdrant {
		qc, err := history.LoadClustering(ctx, b.embedder, jsonPath, prefix+"cluster.idx", logger)
		if err != nil {
			return nil, fmt.Errorf("loading clustering from %s: %w", prefix, err)
		}
		return qc, nil
	}

	snap, err := history.LoadSnapshot(jsonPath)
	if err != nil {
		return nil, err
	}
	index, err := b.index(ctx, idx, shared, false)
	if err != nil {
		return nil, fmt.Errorf("opening clustering index: %w", err)
	}
	qc, err := clustering.Restore(ctx, b.embedder, index, snap, logger)
	if err != nil {
		if c, ok := index.(io.Closer); ok {
			_ = c.Close()
		}
		return nil, fmt.Errorf("restoring clustering from %s: %w", prefix, err)
	}
	return qc, nil
}

func (b *batch) searchOptions() search.Options {
	s := b.cfg.Search
	return search.Options{
		MaxLookaheadDepth:    s.MaxLookaheadDepth,
		MaxConversationDepth: s.MaxConversationDepth,
		ConfidenceThreshold:  s.ConfidenceThreshold,
		EstimatorConfidence:  s.EstimatorConfidence,
		SharpnessConstant:    s.SharpnessConstant,
		MinProbability:       s.MinProbability,
	}
}

// run plays every target with at most batch.max_concurrent games in flight.
// A failed game is recorded in its run file; only setup and I/O errors stop
// the batch.
func (b *batch) run(ctx context.Context) error {
	if err := os.MkdirAll(b.outputDir, 0o755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}
	targets := b.targets()
	if len(targets) == 0 {
		return fmt.Errorf("%w: no targets in [%d, %d) of %d hypotheses",
			config.ErrInvalidConfig, b.cfg.Batch.StartIdx, b.cfg.Batch.EndIdx, len(b.hypotheses))
	}

	var shared *clustering.QuestionClustering
	if b.cfg.Clustering.Shared {
		var err error
		if shared, err = b.newClustering(ctx, b.cfg.Batch.StartIdx, true); err != nil {
			return err
		}
		defer closeIndex(shared)
	}

	b.logger.Info(ctx, "running twenty questions batch",
		zap.Int("targets", len(targets)),
		zap.String("questioner", b.cfg.LLM.QuestionerModel),
		zap.String("answerer", b.cfg.LLM.AnswererModel),
		zap.String("output_dir", b.outputDir),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, b.cfg.Batch.MaxConcurrent))
	for i, target := range targets {
		idx := b.cfg.Batch.StartIdx + i
		g.Go(func() error {
			return b.runOne(gctx, idx, target, shared)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	b.logger.Info(ctx, "all runs completed")
	return nil
}

func (b *batch) runOne(ctx context.Context, idx int, target string, shared *clustering.QuestionClustering) error {
	ctx = logging.WithRun(ctx, strconv.Itoa(idx), target)
	qc := shared
	if qc == nil {
		var err error
		if qc, err = b.newClustering(ctx, idx, false); err != nil {
			return err
		}
		defer closeIndex(qc)
	}

	zl := b.logger.Underlying().With(zap.Int("idx", idx))
	questioner := llm.NewSession(b.cfg.LLM.QuestionerModel)
	answerer := llm.NewSession(b.cfg.LLM.AnswererModel)
	opts := b.searchOptions()

	task, err := twentyq.New(twentyq.Config{
		Hypotheses:       b.hypotheses,
		Target:           target,
		MaxQuestionNodes: b.cfg.Search.MaxQuestionNodes,
		Multi:            b.cfg.Search.Multi,
		Likelihood:       b.cfg.Search.Likelihood,
		Questioner:       questioner,
		Answerer:         answerer,
		Search:           opts,
	}, b.client, b.embedder, zl.Named("twentyq"))
	if err != nil {
		return err
	}
	engine, err := search.NewEngine(qc, opts, zl.Named("search"))
	if err != nil {
		return err
	}

	rec := engine.Run(ctx, task)
	if err := b.save(idx, qc, history.NewRunRecord(rec, questioner, answerer, target)); err != nil {
		return fmt.Errorf("run %d: %w", idx, err)
	}

	if rec.Err != nil {
		b.logger.Warn(ctx, "run failed", zap.Error(rec.Err))
		return nil
	}
	b.logger.Info(ctx, "game finished",
		zap.Int("exchanges", rec.Exchanges()),
		zap.Strings("top", topN(rec, 3)),
		zap.Int64("questioner_output_tokens", questioner.OutputTokens()),
	)
	return nil
}

// save writes <idx>_run.json and the clustering files.
func (b *batch) save(idx int, qc *clustering.QuestionClustering, r history.RunRecord) error {
	prefix := filepath.Join(b.outputDir, strconv.Itoa(idx)+"_")
	if err := history.WriteRunRecord(prefix+eval.RunSuffix, r); err != nil {
		return err
	}
	err := history.SaveClustering(qc, prefix+"cluster.json", prefix+"cluster.idx")
	if errors.Is(err, history.ErrIndexNotExportable) {
		return history.SaveSnapshot(qc, prefix+"cluster.json")
	}
	return err
}

func closeIndex(qc *clustering.QuestionClustering) {
	if c, ok := qc.Index().(io.Closer); ok {
		_ = c.Close()
	}
}

func topN(rec *search.Record, n int) []string {
	if rec.FinalBeliefState == nil {
		return nil
	}
	ranked := rec.FinalBeliefState.Ranked()
	return ranked[:min(n, len(ranked))]
}

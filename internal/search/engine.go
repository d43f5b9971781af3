package search

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/inquire/internal/belief"
	"github.com/fyrsmithlabs/inquire/internal/clustering"
	"github.com/fyrsmithlabs/inquire/internal/reward"
	"github.com/fyrsmithlabs/inquire/internal/tree"
)

// Record is the outcome of one run. A failed run still carries the tree,
// path and belief state reached before the failure.
type Record struct {
	ID         string
	Task       string
	StartedAt  time.Time
	FinishedAt time.Time

	// Path alternates evidence and question descriptions, starting at the root.
	Path []string

	FinalBeliefState belief.State
	Root             *tree.EvidenceNode
	Final            *tree.EvidenceNode

	// Err is the error that aborted the run, if any.
	Err error
}

// Exchanges returns the number of committed question/answer pairs.
func (r *Record) Exchanges() int { return len(r.Path) / 2 }

// Engine runs tasks against a question clustering.
type Engine struct {
	clustering *clustering.QuestionClustering
	opts       Options
	logger     *zap.Logger
	metrics    *Metrics
}

// NewEngine creates an Engine. The clustering may be shared between engines
// and across concurrent runs.
func NewEngine(qc *clustering.QuestionClustering, opts Options, logger *zap.Logger) (*Engine, error) {
	if qc == nil {
		return nil, fmt.Errorf("%w: clustering is required", ErrInvalidOptions)
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		clustering: qc,
		opts:       opts,
		logger:     logger,
		metrics:    NewMetrics(logger),
	}, nil
}

// Options returns the engine options.
func (en *Engine) Options() Options { return en.opts }

// Run searches until task reaches a terminal state or an error occurs. It
// never panics; failures are reported through Record.Err.
func (en *Engine) Run(ctx context.Context, task Task) *Record {
	rec := &Record{
		ID:        uuid.New().String(),
		StartedAt: time.Now(),
	}
	if s, ok := task.(fmt.Stringer); ok {
		rec.Task = s.String()
	}
	logger := en.logger.With(zap.String("run_id", rec.ID))

	ctx, span := tracer.Start(ctx, "search.Run")
	defer span.End()
	span.SetAttributes(attribute.String("run_id", rec.ID))

	err := en.run(ctx, task, rec, logger)
	rec.FinishedAt = time.Now()
	if rec.Final != nil {
		rec.FinalBeliefState = rec.Final.BeliefState
	}
	rec.Err = err
	en.metrics.RecordRun(ctx, err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("run aborted, keeping partial results",
			zap.Error(err),
			zap.Int("exchanges", rec.Exchanges()),
			zap.Stringer("belief_state", rec.FinalBeliefState),
		)
		return rec
	}

	span.SetAttributes(attribute.Int("exchanges", rec.Exchanges()))
	logger.Info("completed run",
		zap.Duration("elapsed", rec.FinishedAt.Sub(rec.StartedAt)),
		zap.Int("exchanges", rec.Exchanges()),
		zap.Stringer("belief_state", rec.FinalBeliefState),
	)
	return rec
}

func (en *Engine) run(ctx context.Context, task Task, rec *Record, logger *zap.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v\n%s", ErrExpansionPanic, r, debug.Stack())
		}
	}()

	initial, err := task.InitialBeliefState(ctx)
	if err != nil {
		return fmt.Errorf("creating initial belief state: %w", err)
	}
	rec.Root = tree.NewRoot(initial)
	rec.Final = rec.Root
	rec.Path = append(rec.Path, rec.Root.String())
	logger.Info("created root", zap.Stringer("node", rec.Root))

	expander := NewExpander(task, en.clustering, en.opts, logger, en.metrics)
	current := rec.Root
	for !isTerminal(task, en.opts, current) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := expander.Expand(ctx, current, 0); err != nil {
			return fmt.Errorf("expanding at depth %d: %w", tree.Depth(current), err)
		}
		if ce := logger.Check(zap.DebugLevel, "expanded lookahead window"); ce != nil {
			ce.Write(zap.Int("depth", tree.Depth(current)), zap.String("tree", "\n"+tree.Render(current)))
		}

		best, score, err := reward.SelectBest(current, en.opts.SharpnessConstant)
		if err != nil {
			return fmt.Errorf("selecting question: %w", err)
		}
		logger.Info("selected question",
			zap.String("question", best.Question),
			zap.Float64("expected_reward", score),
		)
		rec.Path = append(rec.Path, best.String())

		answer, err := task.Answer(ctx, best)
		if err != nil {
			return fmt.Errorf("answering %q: %w", best.Question, err)
		}
		if answer == nil || !best.HasChild(answer) {
			return fmt.Errorf("%w: %q", ErrForeignAnswer, best.Question)
		}
		logger.Info("answer committed", zap.Stringer("node", answer))

		current = answer
		rec.Final = current
		rec.Path = append(rec.Path, current.String())
	}
	return nil
}

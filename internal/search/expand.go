package search

import (
	"context"
	"fmt"
	"runtime/debug"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/inquire/internal/belief"
	"github.com/fyrsmithlabs/inquire/internal/clustering"
	"github.com/fyrsmithlabs/inquire/internal/tree"
)

var tracer = otel.Tracer("inquire.search")

// Expander materialises the lookahead window below an evidence node.
//
// Work on sibling subtrees runs concurrently; a level below a question only
// starts once that question's answer branches exist. The first error cancels
// the remaining work.
type Expander struct {
	task       Task
	clustering *clustering.QuestionClustering
	opts       Options
	logger     *zap.Logger
	metrics    *Metrics
}

// NewExpander creates an Expander.
func NewExpander(task Task, qc *clustering.QuestionClustering, opts Options, logger *zap.Logger, metrics *Metrics) *Expander {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Expander{
		task:       task,
		clustering: qc,
		opts:       opts,
		logger:     logger,
		metrics:    metrics,
	}
}

// Expand grows the tree below e, treating e as lookahead depth depth.
func (x *Expander) Expand(ctx context.Context, e *tree.EvidenceNode, depth int) error {
	return x.expandEvidence(ctx, e, depth)
}

func (x *Expander) expandEvidence(ctx context.Context, e *tree.EvidenceNode, depth int) error {
	if isTerminal(x.task, x.opts, e) || depth >= x.opts.MaxLookaheadDepth {
		return nil
	}

	// An empty generation is retried the next time the window reaches e.
	if len(e.Children) == 0 {
		if err := x.createQuestions(ctx, e, depth); err != nil {
			return err
		}
	}
	e.MarkExpanded()

	g, gctx := errgroup.WithContext(ctx)
	for _, q := range e.Children {
		q := q
		g.Go(recoverInto(func() error {
			return x.expandQuestion(gctx, q, depth)
		}))
	}
	return g.Wait()
}

func (x *Expander) createQuestions(ctx context.Context, e *tree.EvidenceNode, depth int) error {
	ctx, span := tracer.Start(ctx, "search.expandEvidence")
	defer span.End()
	span.SetAttributes(attribute.Int("depth", depth), attribute.String("answer", e.Answer))

	proposals, err := x.task.CreateQuestions(ctx, e)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("creating questions: %w", err)
	}
	for _, p := range proposals {
		e.AddQuestion(p.Question, p.Answers)
	}
	span.SetAttributes(attribute.Int("questions", len(proposals)))
	x.logger.Debug("created questions",
		zap.Int("depth", depth),
		zap.Int("count", len(proposals)),
		zap.String("evidence", e.Answer),
	)
	return nil
}

func (x *Expander) expandQuestion(ctx context.Context, q *tree.QuestionNode, depth int) error {
	if len(q.Children) == 0 {
		if err := x.branch(ctx, q); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, e := range q.Children {
		e := e
		g.Go(recoverInto(func() error {
			return x.expandEvidence(gctx, e, depth+1)
		}))
	}
	return g.Wait()
}

// branch creates one evidence child per answer of q, estimating any
// likelihoods its cluster does not yet hold.
func (x *Expander) branch(ctx context.Context, q *tree.QuestionNode) error {
	ctx, span := tracer.Start(ctx, "search.expandQuestion")
	defer span.End()
	span.SetAttributes(attribute.String("question", q.Question))

	prior := q.Parent.BeliefState
	answers, rows, err := x.resolveLikelihoods(ctx, q, prior)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	q.PossibleAnswers = answers
	uniform := 1 / float64(len(answers))
	for _, a := range answers {
		posterior, marginal := belief.ComputePosterior(
			x.logger.With(zap.String("question", q.Question), zap.String("answer", a)),
			prior,
			rows[a],
			x.opts.MinProbability,
			uniform,
			x.opts.EstimatorConfidence,
		)
		q.AddEvidence(a, posterior, marginal)
	}
	return nil
}

// resolveLikelihoods holds the cluster lock from the cache check through the
// merge, then returns a snapshot of the per-answer likelihood rows.
func (x *Expander) resolveLikelihoods(ctx context.Context, q *tree.QuestionNode, prior belief.State) ([]string, map[string]map[string]float64, error) {
	cluster, err := x.clustering.GetCluster(ctx, q.Question)
	if err != nil {
		return nil, nil, fmt.Errorf("resolving cluster for %q: %w", q.Question, err)
	}

	cluster.Lock()
	defer cluster.Unlock()

	answers, err := cluster.Answers()
	if err != nil {
		return nil, nil, err
	}
	if len(answers) == 0 {
		answers = dedupe(q.PossibleAnswers)
	}
	if len(answers) == 0 {
		return nil, nil, fmt.Errorf("%w: %q", ErrNoAnswers, q.Question)
	}

	if missing := cluster.Missing(prior.Hypotheses()); len(missing) > 0 {
		x.metrics.RecordLikelihoodRequest(ctx, len(missing))
		fetched, err := x.task.Likelihoods(ctx, q.Question, answers, missing)
		if err != nil {
			return nil, nil, fmt.Errorf("estimating likelihoods for %q: %w", q.Question, err)
		}
		if err := cluster.Merge(answers, fetched); err != nil {
			return nil, nil, fmt.Errorf("caching likelihoods for %q: %w", q.Question, err)
		}
	}

	rows := make(map[string]map[string]float64, len(answers))
	for _, a := range answers {
		rows[a] = cluster.LikelihoodsForAnswer(a)
	}
	return answers, rows, nil
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// recoverInto converts a panic in fn into ErrExpansionPanic.
func recoverInto(fn func() error) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: %v\n%s", ErrExpansionPanic, r, debug.Stack())
			}
		}()
		return fn()
	}
}

// Package twentyq implements the twenty-questions domain: the questioner
// tries to identify a secret entity drawn from a known hypothesis space by
// asking yes/no questions of a model impersonating that entity.
package twentyq

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/inquire/internal/belief"
	"github.com/fyrsmithlabs/inquire/internal/llm"
	"github.com/fyrsmithlabs/inquire/internal/search"
	"github.com/fyrsmithlabs/inquire/internal/tasks"
	"github.com/fyrsmithlabs/inquire/internal/tree"
)

// ErrInvalidConfig is returned for an unusable task configuration.
var ErrInvalidConfig = errors.New("invalid twenty questions config")

const defaultLikelihoodConcurrency = 8

// Likelihood estimation modes.
const (
	// LikelihoodLogprobs asks once per hypothesis and reads the answer
	// distribution from the questioner's next-token probabilities.
	LikelihoodLogprobs = "logprobs"
	// LikelihoodCategorical asks once per question for every hypothesis to
	// be assigned to exactly one answer.
	LikelihoodCategorical = "categorical"
)

// Completer is the subset of llm.Client used by the task.
type Completer interface {
	Complete(ctx context.Context, s *llm.Session, messages []openai.ChatCompletionMessage) (string, error)
	TopLogprobs(ctx context.Context, s *llm.Session, messages []openai.ChatCompletionMessage) ([]llm.Logprob, error)
}

// Config configures one twenty-questions run.
type Config struct {
	Hypotheses       []string
	Target           string
	MaxQuestionNodes int

	// Multi lets the questioner propose its own answer options per question
	// instead of Yes/No.
	Multi bool

	// Likelihood is LikelihoodLogprobs (default) or LikelihoodCategorical.
	Likelihood string

	// LikelihoodConcurrency bounds parallel per-hypothesis estimation calls.
	LikelihoodConcurrency int

	Questioner *llm.Session
	Answerer   *llm.Session

	// Search is reported in String so run records describe the full setup.
	Search search.Options
}

// Task implements search.Task for twenty questions.
type Task struct {
	cfg      Config
	client   Completer
	embedder tasks.Embedder
	space    map[string]struct{}
	logger   *zap.Logger
}

var _ search.Task = (*Task)(nil)

// New creates a Task. embedder maps free-text answers back onto branches
// and may be nil when the answerer is trusted to reply exactly.
func New(cfg Config, client Completer, embedder tasks.Embedder, logger *zap.Logger) (*Task, error) {
	if len(cfg.Hypotheses) == 0 {
		return nil, fmt.Errorf("%w: empty hypothesis space", ErrInvalidConfig)
	}
	if cfg.Target == "" {
		return nil, fmt.Errorf("%w: target is required", ErrInvalidConfig)
	}
	if cfg.MaxQuestionNodes < 1 {
		return nil, fmt.Errorf("%w: max question nodes must be at least 1", ErrInvalidConfig)
	}
	if cfg.Questioner == nil || cfg.Answerer == nil {
		return nil, fmt.Errorf("%w: questioner and answerer sessions are required", ErrInvalidConfig)
	}
	if client == nil {
		return nil, fmt.Errorf("%w: client is required", ErrInvalidConfig)
	}
	switch cfg.Likelihood {
	case "":
		cfg.Likelihood = LikelihoodLogprobs
	case LikelihoodLogprobs, LikelihoodCategorical:
	default:
		return nil, fmt.Errorf("%w: unknown likelihood mode %q", ErrInvalidConfig, cfg.Likelihood)
	}
	if cfg.LikelihoodConcurrency <= 0 {
		cfg.LikelihoodConcurrency = defaultLikelihoodConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	space := make(map[string]struct{}, len(cfg.Hypotheses))
	for _, h := range cfg.Hypotheses {
		space[h] = struct{}{}
	}
	return &Task{
		cfg:      cfg,
		client:   client,
		embedder: embedder,
		space:    space,
		logger:   logger.With(zap.String("target", cfg.Target)),
	}, nil
}

// Target returns the secret entity.
func (t *Task) Target() string { return t.cfg.Target }

// Questioner returns the questioner's session.
func (t *Task) Questioner() *llm.Session { return t.cfg.Questioner }

// Answerer returns the answerer's session.
func (t *Task) Answerer() *llm.Session { return t.cfg.Answerer }

func (t *Task) String() string {
	o := t.cfg.Search
	name := "Twenty Questions (Bayesian)"
	switch {
	case t.cfg.Likelihood == LikelihoodCategorical && t.cfg.Multi:
		name = "Twenty Questions (UoT, multi-branching)"
	case t.cfg.Likelihood == LikelihoodCategorical:
		name = "Twenty Questions (UoT)"
	case t.cfg.Multi:
		name = "Twenty Questions (Bayesian, multi-branching)"
	}
	return fmt.Sprintf("%s: questioner=%s answerer=%s max_question_nodes=%d "+
		"max_lookahead_depth=%d max_conversation_depth=%d confidence_threshold=%g estimator_confidence=%g",
		name, t.cfg.Questioner.Model, t.cfg.Answerer.Model, t.cfg.MaxQuestionNodes,
		o.MaxLookaheadDepth, o.MaxConversationDepth, o.ConfidenceThreshold, o.EstimatorConfidence)
}

// InitialBeliefState is uniform over the hypothesis space.
func (t *Task) InitialBeliefState(context.Context) (belief.State, error) {
	return belief.Uniform(t.cfg.Hypotheses), nil
}

// CreateQuestions asks the questioner for yes/no questions that split the
// hypotheses still alive at e.
func (t *Task) CreateQuestions(ctx context.Context, e *tree.EvidenceNode) ([]search.Proposal, error) {
	prompt := questionPrompt(e, t.cfg.MaxQuestionNodes, t.cfg.Multi)
	out, err := t.client.Complete(ctx, t.cfg.Questioner, []openai.ChatCompletionMessage{llm.User(prompt)})
	if err != nil {
		return nil, fmt.Errorf("generating questions: %w", err)
	}
	var proposals []search.Proposal
	if t.cfg.Multi {
		for _, p := range tasks.ParseMultiQuestions(out) {
			// A question needs at least two options to split anything.
			if len(p.Answers) >= 2 {
				proposals = append(proposals, p)
			}
		}
	} else {
		proposals = tasks.ParseBinaryQuestions(out)
	}
	if len(proposals) > t.cfg.MaxQuestionNodes {
		proposals = proposals[:t.cfg.MaxQuestionNodes]
	}
	if len(proposals) == 0 {
		t.logger.Warn("questioner proposed no parseable questions", zap.String("output", out))
	}
	return proposals, nil
}

// Likelihoods estimates each hypothesis' answer distribution, either from
// the questioner's next-token probabilities over the numbered answers or
// from one categorical assignment of all hypotheses. Hypotheses outside the
// space are skipped.
func (t *Task) Likelihoods(ctx context.Context, question string, answers, hypotheses []string) (map[string]map[string]float64, error) {
	if t.cfg.Likelihood == LikelihoodCategorical {
		return t.categoricalLikelihoods(ctx, question, answers, hypotheses)
	}
	var (
		mu  sync.Mutex
		out = make(map[string]map[string]float64, len(hypotheses))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.cfg.LikelihoodConcurrency)
	for _, h := range hypotheses {
		if _, ok := t.space[h]; !ok {
			t.logger.Debug("skipping hypothesis outside space", zap.String("hypothesis", h))
			continue
		}
		h := h
		g.Go(func() error {
			row, err := t.likelihoodFor(gctx, h, question, answers)
			if err != nil {
				return fmt.Errorf("likelihood for %q: %w", h, err)
			}
			mu.Lock()
			out[h] = row
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (t *Task) likelihoodFor(ctx context.Context, hypothesis, question string, answers []string) (map[string]float64, error) {
	messages := []openai.ChatCompletionMessage{
		llm.User(likelihoodPrompt(hypothesis, question, answers)),
		llm.Assistant(" "),
	}
	top, err := t.client.TopLogprobs(ctx, t.cfg.Questioner, messages)
	if err != nil {
		return nil, err
	}
	if len(top) == 0 {
		row := make(map[string]float64, len(answers))
		for _, a := range answers {
			row[a] = 1 / float64(len(answers))
		}
		return row, nil
	}

	lookup := make(map[string]float64, len(top))
	for _, lp := range top {
		lookup[lp.Token] = lp.LogProb
	}
	raw := make(map[string]float64, len(answers))
	for i, a := range answers {
		token := strconv.Itoa(i + 1)
		best := math.Inf(-1)
		for _, candidate := range []string{token, " " + token} {
			if lp, ok := lookup[candidate]; ok && lp > best {
				best = lp
			}
		}
		raw[a] = best
	}
	return tasks.NormaliseLogprobs(raw), nil
}

// categoricalLikelihoods asks the questioner to sort every hypothesis under
// one answer. Hypotheses the reply leaves out get no row.
func (t *Task) categoricalLikelihoods(ctx context.Context, question string, answers, hypotheses []string) (map[string]map[string]float64, error) {
	wanted := make(map[string]struct{}, len(hypotheses))
	inSpace := make([]string, 0, len(hypotheses))
	for _, h := range hypotheses {
		if _, ok := t.space[h]; !ok {
			t.logger.Debug("skipping hypothesis outside space", zap.String("hypothesis", h))
			continue
		}
		wanted[h] = struct{}{}
		inSpace = append(inSpace, h)
	}
	if len(inSpace) == 0 {
		return map[string]map[string]float64{}, nil
	}

	out, err := t.client.Complete(ctx, t.cfg.Questioner, []openai.ChatCompletionMessage{
		llm.User(categoricalPrompt(question, answers, inSpace)),
	})
	if err != nil {
		return nil, fmt.Errorf("categorical likelihoods: %w", err)
	}
	rows := tasks.ParseCategoricalLikelihoods(out, answers)
	for h := range rows {
		if _, ok := wanted[h]; !ok {
			delete(rows, h)
		}
	}
	if len(rows) < len(inSpace) {
		t.logger.Warn("categorical assignment left hypotheses out",
			zap.String("question", question),
			zap.Int("assigned", len(rows)),
			zap.Int("expected", len(inSpace)),
		)
	}
	return rows, nil
}

// Answer asks the answerer, impersonating the target, and maps its reply
// onto one of q's branches.
func (t *Task) Answer(ctx context.Context, q *tree.QuestionNode) (*tree.EvidenceNode, error) {
	out, err := t.client.Complete(ctx, t.cfg.Answerer, []openai.ChatCompletionMessage{
		llm.User(answerPrompt(t.cfg.Target, q)),
	})
	if err != nil {
		return nil, fmt.Errorf("answering: %w", err)
	}
	return tasks.MatchAnswer(ctx, t.embedder, out, q)
}

func questionPrompt(e *tree.EvidenceNode, n int, multi bool) string {
	var b strings.Builder
	b.WriteString("You are an expert player of the 20 Questions game. Your goal is to guess a secret entity, X. " +
		"I will be impersonating the secret entity, X.\n")
	if multi {
		b.WriteString("You will ask me up to 20 questions about X, each with a short list of possible answers, " +
			"and I will answer each one truthfully based on being X by picking one of the answers.\n\n")
	} else {
		b.WriteString("You will ask me up to 20 questions which start with 'Is X' and can only be answered by 'Yes' or 'No', " +
			"and I will answer each one truthfully based on being X.\n\n")
	}

	b.WriteString("The secret entity X is one of these:\n")
	for _, h := range e.BeliefState.Hypotheses() {
		fmt.Fprintf(&b, "- %s\n", h)
	}

	if history := tree.History(e); len(history) > 0 {
		b.WriteString("\nThe game has proceeded as follows:\n")
		for i, ex := range history {
			fmt.Fprintf(&b, "%d. Q: %s; A: %s\n", i+1, ex.Question, ex.Answer)
		}
	}

	if multi {
		fmt.Fprintf(&b, "\nYour task is to generate %d *excellent* questions to ask next, each with 2 to 5 "+
			"mutually exclusive answers that together cover every possibility.\n"+
			"The best questions are those that will help distinguish between these likely possibilities.\n"+
			"Format your response in this structure:\n"+
			"1. <Question 1> | <Answer 1> | <Answer 2> | ...\n2. <Question 2> | <Answer 1> | <Answer 2> | ...\n...", n)
		return b.String()
	}
	fmt.Fprintf(&b, "\nYour task is to generate %d *excellent* yes/no questions to ask next.\n"+
		"The best questions are those that will help distinguish between these likely possibilities.\n"+
		"Format your response in this structure:\n"+
		"1. <Question 1>\n2. <Question 2>\n...\nn. <Question n>", n)
	return b.String()
}

func likelihoodPrompt(hypothesis, question string, answers []string) string {
	var list strings.Builder
	for i, a := range answers {
		fmt.Fprintf(&list, "%d. %s\n", i+1, a)
	}
	return fmt.Sprintf(`You are playing a game of 20 Questions.
---
### Conditional Assumption
For the purpose of this question, **assume %[1]s is the secret entity.**
---

### Scenario
You asked the following question:
"%[2]s"

### Possible Answers
%[3]s
### Task
Given that %[1]s is the secret entity, which answer did the answerer give?
Respond with the number for the answer only.

The answer was number:`, hypothesis, question, list.String())
}

func categoricalPrompt(question string, answers, hypotheses []string) string {
	var entities, format strings.Builder
	for _, h := range hypotheses {
		fmt.Fprintf(&entities, "- %s\n", h)
	}
	quoted := make([]string, 0, len(answers))
	for i, a := range answers {
		quoted = append(quoted, "'"+a+"'")
		fmt.Fprintf(&format, "%s: Entity_%d, ...\n", a, i+1)
	}
	options := strings.Join(quoted, " or ")
	return fmt.Sprintf(`You are playing a game of 20 Questions.

### Possible entities
%s
### Question
"%s"

### Task
- Interpret the question and possible answers.
- For each entity, assume they are the mystery entity and decide whether the answerer would most likely say %s.
- Assign each entity to exactly one of %s (no omissions, no duplicates).
- Use the entity names exactly as given.
- Display the answers exactly in the order as given.

### Response Format

%s
Do not include commentary or explanations. Return only the formatted response.`,
		entities.String(), question, options, options, format.String())
}

func answerPrompt(target string, q *tree.QuestionNode) string {
	options := make([]string, 0, len(q.PossibleAnswers))
	for _, a := range q.PossibleAnswers {
		options = append(options, "'"+a+"'")
	}
	return fmt.Sprintf(`You are a player of the 20 Questions game. Your goal is to impersonate the secret entity, X. X is %s.
I will ask up to 20 questions and you should answer each one truthfully based on being X.

### Instructions
- Answer truthfully based on what X is.
- You must ONLY respond with one of %s, matching it EXACTLY.
- Do not add extra text or commentary. Return exactly one of the options.

### Question
"%s"`, target, strings.Join(options, ", "), q.Question)
}

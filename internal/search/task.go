// Package search drives the belief-tree lookahead: it expands candidate
// questions under the current evidence node, scores them and advances along
// the committed answer until a terminal state is reached.
package search

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/inquire/internal/belief"
	"github.com/fyrsmithlabs/inquire/internal/tree"
)

// Proposal is a generated question with its candidate answers.
type Proposal struct {
	Question string
	Answers  []string
}

// Task supplies the domain-specific collaborators of a run.
type Task interface {
	// InitialBeliefState returns a distribution over the hypothesis space.
	InitialBeliefState(ctx context.Context) (belief.State, error)

	// CreateQuestions proposes new questions to ask at e, in preference order.
	CreateQuestions(ctx context.Context, e *tree.EvidenceNode) ([]Proposal, error)

	// Likelihoods returns, for each hypothesis, a distribution over answers.
	Likelihoods(ctx context.Context, question string, answers, hypotheses []string) (map[string]map[string]float64, error)

	// Answer commits to one of q's existing answer branches.
	Answer(ctx context.Context, q *tree.QuestionNode) (*tree.EvidenceNode, error)
}

// Terminator lets a Task replace the default terminal predicate.
type Terminator interface {
	IsTerminal(e *tree.EvidenceNode) bool
}

var (
	// ErrNoAnswers is returned when a question resolves to an empty answer set.
	ErrNoAnswers = errors.New("question has no possible answers")

	// ErrForeignAnswer is returned when Task.Answer returns a node that is not
	// a child of the asked question.
	ErrForeignAnswer = errors.New("answer is not a branch of the asked question")

	// ErrExpansionPanic wraps a panic recovered during expansion.
	ErrExpansionPanic = errors.New("panic during expansion")

	// ErrInvalidOptions is returned for out-of-range options.
	ErrInvalidOptions = errors.New("invalid search options")
)

// Options tune expansion, scoring and termination.
type Options struct {
	// MaxLookaheadDepth bounds how many question levels are expanded below
	// the current node before scoring.
	MaxLookaheadDepth int

	// MaxConversationDepth bounds the number of committed exchanges.
	MaxConversationDepth int

	// ConfidenceThreshold ends the run once any hypothesis reaches it.
	ConfidenceThreshold float64

	// EstimatorConfidence blends estimated likelihoods with the uniform
	// likelihood; 1 trusts the estimator fully.
	EstimatorConfidence float64

	// SharpnessConstant scales the specificity penalty.
	SharpnessConstant float64

	// MinProbability prunes hypotheses whose unnormalised posterior falls below it.
	MinProbability float64
}

// DefaultOptions returns the defaults used by the CLI.
func DefaultOptions() Options {
	return Options{
		MaxLookaheadDepth:    3,
		MaxConversationDepth: 20,
		ConfidenceThreshold:  0.8,
		EstimatorConfidence:  0.7,
		SharpnessConstant:    0.4,
		MinProbability:       1.0 / 25000,
	}
}

// Validate checks option ranges.
func (o Options) Validate() error {
	switch {
	case o.MaxLookaheadDepth < 1:
		return fmt.Errorf("%w: max lookahead depth must be at least 1", ErrInvalidOptions)
	case o.MaxConversationDepth < 1:
		return fmt.Errorf("%w: max conversation depth must be at least 1", ErrInvalidOptions)
	case o.ConfidenceThreshold <= 0 || o.ConfidenceThreshold > 1:
		return fmt.Errorf("%w: confidence threshold must be in (0, 1]", ErrInvalidOptions)
	case o.EstimatorConfidence < 0 || o.EstimatorConfidence > 1:
		return fmt.Errorf("%w: estimator confidence must be in [0, 1]", ErrInvalidOptions)
	case o.SharpnessConstant < 0:
		return fmt.Errorf("%w: sharpness constant must not be negative", ErrInvalidOptions)
	case o.MinProbability < 0 || o.MinProbability >= 1:
		return fmt.Errorf("%w: min probability must be in [0, 1)", ErrInvalidOptions)
	}
	return nil
}

// IsTerminal reports whether e ends the run under o.
func (o Options) IsTerminal(e *tree.EvidenceNode) bool {
	if tree.Depth(e) >= o.MaxConversationDepth {
		return true
	}
	for _, p := range e.BeliefState {
		if p >= o.ConfidenceThreshold {
			return true
		}
	}
	return false
}

func isTerminal(task Task, opts Options, e *tree.EvidenceNode) bool {
	if t, ok := task.(Terminator); ok {
		return t.IsTerminal(e)
	}
	return opts.IsTerminal(e)
}

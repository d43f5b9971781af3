// Package reward scores candidate questions in an expanded belief tree.
//
// All functions are read-only walks over the tree; none of them expand it.
package reward

import (
	"errors"
	"fmt"
	"math"

	"github.com/fyrsmithlabs/inquire/internal/belief"
	"github.com/fyrsmithlabs/inquire/internal/tree"
)

var (
	// ErrRootReward is returned when an immediate reward is requested for a root node.
	ErrRootReward = errors.New("cannot determine reward of root node")

	// ErrUnexpandedQuestion is returned when a question without answer branches is scored.
	ErrUnexpandedQuestion = errors.New("question has no answers")

	// ErrNoQuestions is returned by SelectBest when the node has no question children.
	ErrNoQuestions = errors.New("evidence node has no questions")
)

// Entropy returns the Shannon entropy of s in bits.
func Entropy(s belief.State) float64 {
	var h float64
	for _, p := range s {
		if p > 0 {
			h -= p * math.Log2(p)
		}
	}
	return h
}

// InformationGain returns the entropy reduction from prior to posterior.
func InformationGain(prior, posterior belief.State) float64 {
	return Entropy(prior) - Entropy(posterior)
}

// SpecificityPenalty scales the spread of the answer-branch marginals of q.
// A question with no answer branches has no penalty.
func SpecificityPenalty(q *tree.QuestionNode, sharpness float64) float64 {
	if len(q.Children) == 0 {
		return 0
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, e := range q.Children {
		lo = math.Min(lo, e.MarginalLikelihood)
		hi = math.Max(hi, e.MarginalLikelihood)
	}
	return sharpness * (hi - lo)
}

// ImmediateReward is the penalised information gain of the single step that
// produced e.
func ImmediateReward(e *tree.EvidenceNode, sharpness float64) (float64, error) {
	if e.Parent == nil || e.Parent.Parent == nil {
		return 0, ErrRootReward
	}
	gain := InformationGain(e.Parent.Parent.BeliefState, e.BeliefState)
	return gain / (1 + SpecificityPenalty(e.Parent, sharpness)), nil
}

// AccumulatedReward sums the immediate rewards on the path from the root to e.
func AccumulatedReward(e *tree.EvidenceNode, sharpness float64) (float64, error) {
	var total float64
	for cur := e; cur != nil && cur.Parent != nil; cur = cur.Grandparent() {
		r, err := ImmediateReward(cur, sharpness)
		if err != nil {
			return 0, err
		}
		total += r
	}
	return total, nil
}

// ExpectedReward scores q over the lookahead window already materialised
// below it. Each answer branch contributes the mean expected reward of its
// follow-up questions when it has been expanded, or its accumulated path
// reward otherwise; contributions are weighted by branch marginal.
func ExpectedReward(q *tree.QuestionNode, sharpness float64) (float64, error) {
	if len(q.Children) == 0 {
		return 0, fmt.Errorf("%w: %q", ErrUnexpandedQuestion, q.Question)
	}

	var weighted float64
	for _, e := range q.Children {
		var contribution float64
		if e.Expanded() && len(e.Children) > 0 {
			var sum float64
			for _, next := range e.Children {
				r, err := ExpectedReward(next, sharpness)
				if err != nil {
					return 0, err
				}
				sum += r
			}
			contribution = sum / float64(len(e.Children))
		} else {
			r, err := AccumulatedReward(e, sharpness)
			if err != nil {
				return 0, err
			}
			contribution = r
		}
		weighted += e.MarginalLikelihood * contribution
	}
	return weighted, nil
}

// Scored pairs a question with its expected reward.
type Scored struct {
	Question *tree.QuestionNode
	Reward   float64
}

// Score computes the expected reward of every question child of e, in order.
func Score(e *tree.EvidenceNode, sharpness float64) ([]Scored, error) {
	out := make([]Scored, 0, len(e.Children))
	for _, q := range e.Children {
		r, err := ExpectedReward(q, sharpness)
		if err != nil {
			return nil, err
		}
		out = append(out, Scored{Question: q, Reward: r})
	}
	return out, nil
}

// SelectBest returns the question child of e with the highest expected
// reward. The first question wins ties.
func SelectBest(e *tree.EvidenceNode, sharpness float64) (*tree.QuestionNode, float64, error) {
	if len(e.Children) == 0 {
		return nil, 0, ErrNoQuestions
	}
	scores, err := Score(e, sharpness)
	if err != nil {
		return nil, 0, err
	}
	best := scores[0]
	for _, s := range scores[1:] {
		if s.Reward > best.Reward {
			best = s
		}
	}
	return best.Question, best.Reward, nil
}

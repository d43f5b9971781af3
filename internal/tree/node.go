// Package tree models the alternating evidence/question tree searched by the
// engine.
//
// Children are owned by their parent and only ever appended. Parent links are
// plain back-pointers used for depth and history walks.
package tree

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/inquire/internal/belief"
)

// RootAnswer is the answer text carried by every root node.
const RootAnswer = "ROOT"

// EvidenceNode records an answer and the belief state it implies.
type EvidenceNode struct {
	Answer      string
	BeliefState belief.State

	// MarginalLikelihood is the mass of reaching this branch from Parent.
	MarginalLikelihood float64

	Parent   *QuestionNode
	Children []*QuestionNode

	expanded bool
}

// QuestionNode records a candidate question and its answer branches.
type QuestionNode struct {
	Question        string
	PossibleAnswers []string

	Parent   *EvidenceNode
	Children []*EvidenceNode
}

// Exchange is one committed question and its answer.
type Exchange struct {
	Question string
	Answer   string
}

// NewRoot creates the root of a run with the initial belief state.
func NewRoot(state belief.State) *EvidenceNode {
	return &EvidenceNode{
		Answer:             RootAnswer,
		BeliefState:        state,
		MarginalLikelihood: 1.0,
	}
}

// AddQuestion appends a question child and returns it.
func (e *EvidenceNode) AddQuestion(question string, answers []string) *QuestionNode {
	q := &QuestionNode{
		Question:        question,
		PossibleAnswers: append([]string(nil), answers...),
		Parent:          e,
	}
	e.Children = append(e.Children, q)
	return q
}

// IsRoot reports whether e has no parent question.
func (e *EvidenceNode) IsRoot() bool { return e.Parent == nil }

// Expanded reports whether question generation has run for e.
// An expanded node may still have no children if the generator proposed none.
func (e *EvidenceNode) Expanded() bool { return e.expanded }

// MarkExpanded records that question generation has run for e.
func (e *EvidenceNode) MarkExpanded() { e.expanded = true }

// Grandparent returns the evidence node two hops up, or nil at the root.
func (e *EvidenceNode) Grandparent() *EvidenceNode {
	if e.Parent == nil {
		return nil
	}
	return e.Parent.Parent
}

func (e *EvidenceNode) String() string {
	return fmt.Sprintf("Answer: '%s' | Marginal Likelihood: %g | Belief State: %s",
		e.Answer, e.MarginalLikelihood, e.BeliefState)
}

// AddEvidence appends an answer branch and returns it.
func (q *QuestionNode) AddEvidence(answer string, state belief.State, marginal float64) *EvidenceNode {
	e := &EvidenceNode{
		Answer:             answer,
		BeliefState:        state,
		MarginalLikelihood: marginal,
		Parent:             q,
	}
	q.Children = append(q.Children, e)
	return e
}

// HasChild reports whether e is one of q's answer branches.
func (q *QuestionNode) HasChild(e *EvidenceNode) bool {
	for _, c := range q.Children {
		if c == e {
			return true
		}
	}
	return false
}

func (q *QuestionNode) String() string {
	return fmt.Sprintf("Question: '%s' | Possible Answers: [%s]",
		q.Question, strings.Join(q.PossibleAnswers, ", "))
}

// Depth returns the number of committed exchanges between the root and e.
func Depth(e *EvidenceNode) int {
	depth := 0
	for cur := e; cur != nil && cur.Parent != nil; cur = cur.Parent.Parent {
		depth++
	}
	return depth
}

// History returns the exchanges leading to e, oldest first.
func History(e *EvidenceNode) []Exchange {
	var out []Exchange
	for cur := e; cur != nil && cur.Parent != nil; cur = cur.Parent.Parent {
		out = append(out, Exchange{Question: cur.Parent.Question, Answer: cur.Answer})
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

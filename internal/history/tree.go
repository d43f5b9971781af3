// Package history persists run records, search trees and question
// clusterings so runs can be evaluated and caches shared between batches.
package history

import (
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/inquire/internal/belief"
	"github.com/fyrsmithlabs/inquire/internal/tree"
)

// Node type tags.
const (
	TypeEvidence = "evidence"
	TypeQuestion = "question"
)

// ErrMalformedTree is returned when a serialised tree has the wrong shape.
var ErrMalformedTree = errors.New("malformed serialised tree")

// EvidenceRecord is the serialised form of a tree.EvidenceNode.
type EvidenceRecord struct {
	Type               string           `json:"type"`
	Answer             string           `json:"answer"`
	BeliefState        belief.State     `json:"belief_state"`
	MarginalLikelihood float64          `json:"marginal_likelihood"`
	Expanded           bool             `json:"expanded,omitempty"`
	Children           []QuestionRecord `json:"children"`
}

// QuestionRecord is the serialised form of a tree.QuestionNode.
type QuestionRecord struct {
	Type            string           `json:"type"`
	Question        string           `json:"question"`
	PossibleAnswers []string         `json:"possible_answers"`
	Children        []EvidenceRecord `json:"children"`
}

// EncodeTree serialises the subtree rooted at e.
func EncodeTree(e *tree.EvidenceNode) EvidenceRecord {
	rec := EvidenceRecord{
		Type:               TypeEvidence,
		Answer:             e.Answer,
		BeliefState:        e.BeliefState,
		MarginalLikelihood: e.MarginalLikelihood,
		Expanded:           e.Expanded(),
		Children:           make([]QuestionRecord, 0, len(e.Children)),
	}
	for _, q := range e.Children {
		rec.Children = append(rec.Children, encodeQuestion(q))
	}
	return rec
}

func encodeQuestion(q *tree.QuestionNode) QuestionRecord {
	rec := QuestionRecord{
		Type:            TypeQuestion,
		Question:        q.Question,
		PossibleAnswers: q.PossibleAnswers,
		Children:        make([]EvidenceRecord, 0, len(q.Children)),
	}
	for _, e := range q.Children {
		rec.Children = append(rec.Children, EncodeTree(e))
	}
	return rec
}

// DecodeTree rebuilds a tree with its parent links. A node that was saved
// with children is marked expanded even if the flag was not recorded.
func DecodeTree(rec EvidenceRecord) (*tree.EvidenceNode, error) {
	if rec.Type != TypeEvidence {
		return nil, fmt.Errorf("%w: root has type %q", ErrMalformedTree, rec.Type)
	}
	root := tree.NewRoot(rec.BeliefState)
	root.Answer = rec.Answer
	root.MarginalLikelihood = rec.MarginalLikelihood
	if err := decodeChildren(root, rec); err != nil {
		return nil, err
	}
	return root, nil
}

func decodeChildren(e *tree.EvidenceNode, rec EvidenceRecord) error {
	if rec.Expanded || len(rec.Children) > 0 {
		e.MarkExpanded()
	}
	for _, qr := range rec.Children {
		if qr.Type != TypeQuestion {
			return fmt.Errorf("%w: child of %q has type %q", ErrMalformedTree, rec.Answer, qr.Type)
		}
		q := e.AddQuestion(qr.Question, qr.PossibleAnswers)
		for _, er := range qr.Children {
			if er.Type != TypeEvidence {
				return fmt.Errorf("%w: child of %q has type %q", ErrMalformedTree, qr.Question, er.Type)
			}
			if err := decodeChildren(q.AddEvidence(er.Answer, er.BeliefState, er.MarginalLikelihood), er); err != nil {
				return err
			}
		}
	}
	return nil
}

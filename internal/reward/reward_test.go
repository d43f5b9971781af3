package reward

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/inquire/internal/belief"
	"github.com/fyrsmithlabs/inquire/internal/tree"
)

const (
	tolerance = 1e-9
	sharpness = 0.4
)

func uniformRoot() *tree.EvidenceNode {
	return tree.NewRoot(belief.Uniform([]string{"A", "B", "C", "D"}))
}

func TestEntropy(t *testing.T) {
	tests := []struct {
		name  string
		state belief.State
		want  float64
	}{
		{"uniform four", belief.Uniform([]string{"A", "B", "C", "D"}), 2},
		{"certain", belief.State{"A": 1}, 0},
		{"zero entries ignored", belief.State{"A": 0.5, "B": 0.5, "C": 0}, 1},
		{"empty", belief.State{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Entropy(tt.state), tolerance)
		})
	}
}

func TestInformationGain(t *testing.T) {
	prior := belief.Uniform([]string{"A", "B", "C", "D"})

	assert.InDelta(t, 0, InformationGain(prior, prior.Clone()), tolerance)
	assert.Greater(t, InformationGain(prior, belief.State{"A": 0.5, "B": 0.5}), 0.0)
	assert.Greater(t, InformationGain(prior, belief.State{"A": 0.7, "B": 0.2, "C": 0.1}), 0.0)
}

func TestSpecificityPenalty(t *testing.T) {
	root := uniformRoot()
	q := root.AddQuestion("Is it A?", []string{"Yes", "No"})
	assert.Zero(t, SpecificityPenalty(q, sharpness))

	q.AddEvidence("Yes", belief.State{"A": 1}, 0.25)
	q.AddEvidence("No", belief.Uniform([]string{"B", "C", "D"}), 0.75)
	assert.InDelta(t, 0.2, SpecificityPenalty(q, sharpness), tolerance)
}

func TestImmediateReward_Root(t *testing.T) {
	_, err := ImmediateReward(uniformRoot(), sharpness)
	assert.ErrorIs(t, err, ErrRootReward)

	r, err := AccumulatedReward(uniformRoot(), sharpness)
	require.NoError(t, err)
	assert.Zero(t, r)
}

func TestExpectedReward_Unexpanded(t *testing.T) {
	root := uniformRoot()
	q := root.AddQuestion("Is it A?", []string{"Yes", "No"})

	_, err := ExpectedReward(q, sharpness)
	assert.ErrorIs(t, err, ErrUnexpandedQuestion)

	root.MarkExpanded()
	_, _, err = SelectBest(root, sharpness)
	assert.ErrorIs(t, err, ErrUnexpandedQuestion)
}

// twoLevelTree builds:
//
//	root {A,B,C,D}
//	├── Q1 "A or B?"   Yes {A,B} .5 (expanded) / No {C,D} .5
//	│   └── Q1a "A?"   Yes {A} .5 / No {B} .5
//	└── Q2 "A?"        Yes {A} .25 / No {B,C,D} .75
func twoLevelTree() (root *tree.EvidenceNode, q1, q1a, q2 *tree.QuestionNode) {
	root = uniformRoot()
	root.MarkExpanded()

	q1 = root.AddQuestion("Is it A or B?", []string{"Yes", "No"})
	yes := q1.AddEvidence("Yes", belief.State{"A": 0.5, "B": 0.5}, 0.5)
	q1.AddEvidence("No", belief.State{"C": 0.5, "D": 0.5}, 0.5)

	yes.MarkExpanded()
	q1a = yes.AddQuestion("Is it A?", []string{"Yes", "No"})
	q1a.AddEvidence("Yes", belief.State{"A": 1}, 0.5)
	q1a.AddEvidence("No", belief.State{"B": 1}, 0.5)

	q2 = root.AddQuestion("Is it A?", []string{"Yes", "No"})
	q2.AddEvidence("Yes", belief.State{"A": 1}, 0.25)
	q2.AddEvidence("No", belief.Uniform([]string{"B", "C", "D"}), 0.75)
	return root, q1, q1a, q2
}

func TestExpectedReward_TwoLevelTree(t *testing.T) {
	root, q1, q1a, q2 := twoLevelTree()

	// Q1a: each branch gains 1 bit at depth 2 on top of 1 bit at depth 1.
	r, err := ExpectedReward(q1a, sharpness)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, r, tolerance)

	// Q1: expanded Yes contributes mean(Q1a) = 2, leaf No contributes 1.
	r, err = ExpectedReward(q1, sharpness)
	require.NoError(t, err)
	assert.InDelta(t, 0.5*2+0.5*1, r, tolerance)

	// Q2: skewed split, penalty 0.4 * (0.75 - 0.25) = 0.2.
	yesGain := 2.0 / 1.2
	noGain := (2 - math.Log2(3)) / 1.2
	r, err = ExpectedReward(q2, sharpness)
	require.NoError(t, err)
	assert.InDelta(t, 0.25*yesGain+0.75*noGain, r, tolerance)

	best, score, err := SelectBest(root, sharpness)
	require.NoError(t, err)
	assert.Same(t, q1, best)
	assert.InDelta(t, 1.5, score, tolerance)
}

func TestExpectedReward_ExpandedLeafUsesAccumulated(t *testing.T) {
	root := uniformRoot()
	q := root.AddQuestion("Is it A or B?", []string{"Yes", "No"})
	yes := q.AddEvidence("Yes", belief.State{"A": 0.5, "B": 0.5}, 0.5)
	q.AddEvidence("No", belief.State{"C": 0.5, "D": 0.5}, 0.5)

	// Expanded but the generator proposed nothing.
	yes.MarkExpanded()

	r, err := ExpectedReward(q, sharpness)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, r, tolerance)
}

func TestAccumulatedReward_SumsPath(t *testing.T) {
	_, _, q1a, _ := twoLevelTree()

	r, err := AccumulatedReward(q1a.Children[0], sharpness)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, r, tolerance)
}

func TestSelectBest(t *testing.T) {
	t.Run("no questions", func(t *testing.T) {
		_, _, err := SelectBest(uniformRoot(), sharpness)
		assert.ErrorIs(t, err, ErrNoQuestions)
	})

	t.Run("first wins ties", func(t *testing.T) {
		root := uniformRoot()
		for _, text := range []string{"first", "second"} {
			q := root.AddQuestion(text, []string{"Yes", "No"})
			q.AddEvidence("Yes", belief.State{"A": 0.5, "B": 0.5}, 0.5)
			q.AddEvidence("No", belief.State{"C": 0.5, "D": 0.5}, 0.5)
		}

		best, _, err := SelectBest(root, sharpness)
		require.NoError(t, err)
		assert.Equal(t, "first", best.Question)
	})
}

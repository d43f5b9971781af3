package tree

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/inquire/internal/belief"
)

func letters() belief.State {
	return belief.State{"A": 0.25, "B": 0.25, "C": 0.25, "D": 0.25}
}

func TestDepth(t *testing.T) {
	root := NewRoot(letters())
	q1 := root.AddQuestion("Is it A or B?", []string{"Yes", "No"})
	e1 := q1.AddEvidence("Yes", belief.State{"A": 0.5, "B": 0.5}, 0.5)
	q2 := e1.AddQuestion("Is it A?", []string{"Yes", "No"})
	e2 := q2.AddEvidence("No", belief.State{"B": 1}, 0.5)

	assert.Equal(t, 0, Depth(root))
	assert.Equal(t, 1, Depth(e1))
	assert.Equal(t, 2, Depth(e2))
}

func TestHistory(t *testing.T) {
	root := NewRoot(letters())
	e1 := root.AddQuestion("Is it A or B?", []string{"Yes", "No"}).
		AddEvidence("Yes", belief.State{"A": 0.5, "B": 0.5}, 0.5)
	e2 := e1.AddQuestion("Is it A?", []string{"Yes", "No"}).
		AddEvidence("No", belief.State{"B": 1}, 0.5)

	assert.Empty(t, History(root))
	assert.Equal(t, []Exchange{
		{Question: "Is it A or B?", Answer: "Yes"},
		{Question: "Is it A?", Answer: "No"},
	}, History(e2))
}

func TestNewRoot(t *testing.T) {
	root := NewRoot(letters())
	assert.Equal(t, RootAnswer, root.Answer)
	assert.Equal(t, 1.0, root.MarginalLikelihood)
	assert.True(t, root.IsRoot())
	assert.Nil(t, root.Grandparent())
	assert.False(t, root.Expanded())

	root.MarkExpanded()
	assert.True(t, root.Expanded())
}

func TestAddQuestion_CopiesAnswers(t *testing.T) {
	root := NewRoot(letters())
	answers := []string{"Yes", "No"}
	q := root.AddQuestion("Is it A?", answers)
	answers[0] = "Maybe"

	assert.Equal(t, []string{"Yes", "No"}, q.PossibleAnswers)
	assert.Same(t, root, q.Parent)
}

func TestHasChild(t *testing.T) {
	root := NewRoot(letters())
	q := root.AddQuestion("Is it A?", []string{"Yes", "No"})
	yes := q.AddEvidence("Yes", belief.State{"A": 1}, 0.25)
	other := NewRoot(letters())

	assert.True(t, q.HasChild(yes))
	assert.False(t, q.HasChild(other))
	assert.Same(t, root, yes.Grandparent())
}

func TestRender(t *testing.T) {
	root := NewRoot(letters())
	q1 := root.AddQuestion("Is it greater than or equal to B?", []string{"Yes", "No"})
	q1.AddEvidence("Yes", belief.State{"A": 0.5, "B": 0.5}, 0.5)
	q1.AddEvidence("No", belief.State{"C": 0.5, "D": 0.5}, 0.5)
	q2 := root.AddQuestion("Is it an even letter?", []string{"Yes", "No"})
	q2.AddEvidence("Yes", belief.State{"B": 0.5, "D": 0.5}, 0.5)

	out := Render(root)
	lines := strings.Split(out, "\n")
	require.Len(t, lines, 6)
	assert.True(t, strings.HasPrefix(lines[0], "Answer: 'ROOT'"))
	assert.True(t, strings.HasPrefix(lines[1], "├── Question: 'Is it greater"))
	assert.True(t, strings.HasPrefix(lines[2], "│   ├── Answer: 'Yes'"))
	assert.True(t, strings.HasPrefix(lines[3], "│   └── Answer: 'No'"))
	assert.True(t, strings.HasPrefix(lines[4], "└── Question: 'Is it an even"))
	assert.True(t, strings.HasPrefix(lines[5], "    └── Answer: 'Yes'"))

	ev, qs := Count(root)
	assert.Equal(t, 4, ev)
	assert.Equal(t, 2, qs)
}

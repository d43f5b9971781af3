package history

import (
	"context"
	"errors"
	"hash/fnv"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/inquire/internal/belief"
	"github.com/fyrsmithlabs/inquire/internal/clustering"
	"github.com/fyrsmithlabs/inquire/internal/llm"
	"github.com/fyrsmithlabs/inquire/internal/search"
	"github.com/fyrsmithlabs/inquire/internal/tree"
)

type hashEmbedder struct{}

func (hashEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	h := fnv.New128a()
	h.Write([]byte(text))
	sum := h.Sum(nil)
	vec := make([]float32, len(sum))
	for i, b := range sum {
		vec[i] = float32(b) - 127.5
	}
	return vec, nil
}

func sampleTree() *tree.EvidenceNode {
	root := tree.NewRoot(belief.Uniform([]string{"cat", "car"}))
	root.MarkExpanded()
	q := root.AddQuestion("Is X alive?", []string{"Yes", "No"})
	yes := q.AddEvidence("Yes", belief.State{"cat": 0.9, "car": 0.1}, 0.5)
	q.AddEvidence("No", belief.State{"cat": 0.1, "car": 0.9}, 0.5)
	yes.MarkExpanded()
	return root
}

func TestTreeRoundTrip(t *testing.T) {
	root := sampleTree()

	decoded, err := DecodeTree(EncodeTree(root))
	require.NoError(t, err)

	assert.Equal(t, tree.Render(root), tree.Render(decoded))
	assert.True(t, decoded.Expanded())

	q := decoded.Children[0]
	assert.Same(t, decoded, q.Parent)
	assert.Equal(t, []string{"Yes", "No"}, q.PossibleAnswers)
	require.Len(t, q.Children, 2)
	assert.Same(t, q, q.Children[0].Parent)
	assert.True(t, q.Children[0].Expanded(), "expanded leaf keeps its flag")
	assert.False(t, q.Children[1].Expanded())
	assert.Equal(t, 1, tree.Depth(q.Children[1]))
}

func TestDecodeTree_Malformed(t *testing.T) {
	rec := EncodeTree(sampleTree())
	rec.Children[0].Type = TypeEvidence

	_, err := DecodeTree(rec)
	assert.ErrorIs(t, err, ErrMalformedTree)

	_, err = DecodeTree(EvidenceRecord{Type: TypeQuestion})
	assert.ErrorIs(t, err, ErrMalformedTree)
}

func TestRunRecordRoundTrip(t *testing.T) {
	questioner := llm.NewSession("deepseek-chat")
	answerer := llm.NewSession("deepseek-reasoner")
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	root := sampleTree()

	rec := &search.Record{
		ID:               "run-1",
		Task:             "Twenty Questions (Bayesian)",
		StartedAt:        start,
		FinishedAt:       start.Add(90 * time.Second),
		Path:             []string{root.String(), root.Children[0].String(), root.Children[0].Children[1].String()},
		FinalBeliefState: root.Children[0].Children[1].BeliefState,
		Root:             root,
		Final:            root.Children[0].Children[1],
		Err:              errors.New("answer failed"),
	}
	run := NewRunRecord(rec, questioner, answerer, "car")
	assert.True(t, run.Failed())
	assert.Equal(t, "deepseek-chat", run.QuestionerSession.Model)

	path := filepath.Join(t.TempDir(), "0_run.json")
	require.NoError(t, WriteRunRecord(path, run))

	withTree, err := ReadRunRecord(path, true)
	require.NoError(t, err)
	assert.Equal(t, run.FinalPath, withTree.FinalPath)
	assert.Equal(t, run.FinalBeliefState, withTree.FinalBeliefState)
	assert.True(t, run.StartTime.Equal(withTree.StartTime))
	assert.Equal(t, "answer failed", withTree.Error)
	require.NotNil(t, withTree.SerialisedTree)

	decoded, err := DecodeTree(*withTree.SerialisedTree)
	require.NoError(t, err)
	assert.Equal(t, tree.Render(root), tree.Render(decoded))

	withoutTree, err := ReadRunRecord(path, false)
	require.NoError(t, err)
	assert.Nil(t, withoutTree.SerialisedTree)
	assert.Equal(t, "car", withoutTree.ExpectedAnswer)
}

func TestReadRunRecord_Errors(t *testing.T) {
	_, err := ReadRunRecord(filepath.Join(t.TempDir(), "missing.json"), false)
	assert.Error(t, err)
}

func TestClusteringRoundTrip(t *testing.T) {
	ctx := context.Background()
	index, err := clustering.NewChromemIndex()
	require.NoError(t, err)
	qc, err := clustering.New(hashEmbedder{}, index, 1.0, nil)
	require.NoError(t, err)

	c, err := qc.GetCluster(ctx, "Is X alive?")
	require.NoError(t, err)
	c.Lock()
	require.NoError(t, c.Merge([]string{"Yes", "No"}, map[string]map[string]float64{
		"cat": {"Yes": 0.9, "No": 0.1},
	}))
	c.Unlock()
	_, err = qc.GetCluster(ctx, "Is X metal?")
	require.NoError(t, err)

	dir := t.TempDir()
	jsonPath, indexPath := filepath.Join(dir, "0_cluster.json"), filepath.Join(dir, "0_cluster.idx")
	require.NoError(t, SaveClustering(qc, jsonPath, indexPath))

	loaded, err := LoadClustering(ctx, hashEmbedder{}, jsonPath, indexPath, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Len())

	again, err := loaded.GetCluster(ctx, "Is X alive?")
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Len())
	assert.Equal(t, map[string]float64{"Yes": 0.9}, again.LikelihoodsForAnswer("Yes"))

	snap, err := LoadSnapshot(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, 1.0, snap.Threshold)
}

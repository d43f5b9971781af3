package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/inquire/internal/config"
	"github.com/fyrsmithlabs/inquire/internal/eval"
	"github.com/fyrsmithlabs/inquire/internal/history"
	"github.com/fyrsmithlabs/inquire/internal/llm"
	"github.com/fyrsmithlabs/inquire/internal/logging"
)

// scriptedLLM asks "Is X alive?" and answers it truthfully for the target
// named in the answerer prompt.
type scriptedLLM struct {
	alive map[string]bool
}

func (s *scriptedLLM) Complete(_ context.Context, _ *llm.Session, messages []openai.ChatCompletionMessage) (string, error) {
	prompt := messages[0].Content
	if strings.Contains(prompt, "impersonate") {
		for entity, yes := range s.alive {
			if strings.Contains(prompt, "X is "+entity+".") {
				if yes {
					return "Yes", nil
				}
				return "No", nil
			}
		}
	}
	if strings.Contains(prompt, "### Possible entities") {
		return "Yes: cat, dog\nNo: car, rock", nil
	}
	return "1. Is X alive?", nil
}

func (s *scriptedLLM) TopLogprobs(_ context.Context, _ *llm.Session, messages []openai.ChatCompletionMessage) ([]llm.Logprob, error) {
	prompt := messages[0].Content
	for entity, yes := range s.alive {
		if strings.Contains(prompt, "assume "+entity+" is") {
			if yes {
				return []llm.Logprob{{Token: "1", LogProb: -0.05}, {Token: "2", LogProb: -3}}, nil
			}
			return []llm.Logprob{{Token: "2", LogProb: -0.05}, {Token: "1", LogProb: -3}}, nil
		}
	}
	return nil, nil
}

type wordEmbedder struct{}

func (wordEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	switch strings.ToLower(text) {
	case "yes":
		return []float32{1, 0}, nil
	case "no":
		return []float32{0, 1}, nil
	}
	return []float32{1, 1}, nil
}

func testBatch(t *testing.T, shared bool) (*batch, *logging.TestLogger) {
	t.Helper()
	cfg := config.Default()
	cfg.Search.MaxQuestionNodes = 1
	cfg.Search.MaxLookaheadDepth = 1
	cfg.Search.MaxConversationDepth = 2
	cfg.Search.EstimatorConfidence = 1
	cfg.Clustering.Shared = shared
	cfg.Batch.StartIdx = 1
	cfg.Batch.EndIdx = 3
	cfg.Batch.MaxConcurrent = 2

	tl := logging.NewTestLogger()
	return &batch{
		cfg:        cfg,
		hypotheses: []string{"cat", "dog", "car", "rock"},
		outputDir:  filepath.Join(t.TempDir(), "out"),
		client:     &scriptedLLM{alive: map[string]bool{"cat": true, "dog": true, "car": false, "rock": false}},
		embedder:   wordEmbedder{},
		logger:     tl.Logger,
	}, tl
}

func TestBatch_WritesRecords(t *testing.T) {
	for _, shared := range []bool{false, true} {
		name := "per-run clustering"
		if shared {
			name = "shared clustering"
		}
		t.Run(name, func(t *testing.T) {
			b, tl := testBatch(t, shared)
			require.NoError(t, b.run(context.Background()))

			for idx, target := range map[int]string{1: "dog", 2: "car"} {
				prefix := filepath.Join(b.outputDir, strconv.Itoa(idx)+"_")
				assert.FileExists(t, prefix+"cluster.json")
				assert.FileExists(t, prefix+"cluster.idx")

				r, err := history.ReadRunRecord(prefix+eval.RunSuffix, true)
				require.NoError(t, err)
				assert.False(t, r.Failed(), r.Error)
				assert.Equal(t, target, r.ExpectedAnswer)
				assert.Equal(t, "deepseek-chat", r.QuestionerSession.Model)
				assert.NotNil(t, r.SerialisedTree)
				assert.Contains(t, r.FinalPath[1], "Is X alive?")
			}
			assert.NoFileExists(t, filepath.Join(b.outputDir, "0_"+eval.RunSuffix))
			assert.NoFileExists(t, filepath.Join(b.outputDir, "3_"+eval.RunSuffix))
			assert.Len(t, tl.FilterMessage("game finished").All(), 2)
			tl.AssertField(t, "game finished", "run.target", "car")

			exp, err := eval.EvaluateDir(b.outputDir, eval.DefaultPrices())
			require.NoError(t, err)
			assert.Equal(t, 2, exp.Group.NumRuns)
			assert.Zero(t, exp.Group.FailedRuns)
		})
	}
}

func TestBatch_Categorical(t *testing.T) {
	b, tl := testBatch(t, true)
	b.cfg.Search.Likelihood = config.LikelihoodCategorical
	require.NoError(t, b.run(context.Background()))

	for idx, target := range map[int]string{1: "dog", 2: "car"} {
		r, err := history.ReadRunRecord(filepath.Join(b.outputDir, strconv.Itoa(idx)+"_"+eval.RunSuffix), true)
		require.NoError(t, err)
		assert.False(t, r.Failed(), r.Error)
		assert.Equal(t, target, r.ExpectedAnswer)
	}
	assert.Len(t, tl.FilterMessage("game finished").All(), 2)
}

func TestBatch_ResumesClustering(t *testing.T) {
	first, _ := testBatch(t, false)
	require.NoError(t, first.run(context.Background()))
	from := filepath.Join(first.outputDir, "1_")
	saved, err := history.LoadSnapshot(from + "cluster.json")
	require.NoError(t, err)
	require.NotEmpty(t, saved.Clusters)

	tests := []struct {
		name   string
		shared bool
	}{
		{"per-run clustering", false},
		{"shared clustering", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, _ := testBatch(t, tt.shared)
			b.cfg.Clustering.From = from
			require.NoError(t, b.run(context.Background()))

			for _, idx := range []int{1, 2} {
				prefix := filepath.Join(b.outputDir, strconv.Itoa(idx)+"_")
				r, err := history.ReadRunRecord(prefix+eval.RunSuffix, true)
				require.NoError(t, err)
				assert.False(t, r.Failed(), r.Error)

				snap, err := history.LoadSnapshot(prefix + "cluster.json")
				require.NoError(t, err)
				for id := range saved.Clusters {
					assert.Contains(t, snap.Clusters, id, "saved clusters are carried over")
				}
			}
		})
	}

	t.Run("missing clustering", func(t *testing.T) {
		b, _ := testBatch(t, false)
		b.cfg.Clustering.From = filepath.Join(first.outputDir, "9_")
		assert.Error(t, b.run(context.Background()))
	})
}

func TestBatch_Targets(t *testing.T) {
	tests := []struct {
		start, end int
		want       []string
	}{
		{0, 2, []string{"cat", "dog"}},
		{2, 10, []string{"car", "rock"}},
		{3, 1, []string{}},
		{7, 9, []string{}},
	}
	for _, tt := range tests {
		b, _ := testBatch(t, false)
		b.cfg.Batch.StartIdx, b.cfg.Batch.EndIdx = tt.start, tt.end
		assert.Equal(t, tt.want, b.targets())
	}

	b, _ := testBatch(t, false)
	b.cfg.Batch.StartIdx, b.cfg.Batch.EndIdx = 4, 4
	assert.ErrorIs(t, b.run(context.Background()), config.ErrInvalidConfig)
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "twentyq"}
	f := cmd.Flags()
	var rf runFlags
	f.StringVar(&rf.hypotheses, "hypotheses", "", "")
	f.StringVar(&rf.outputDir, "output-dir", "", "")
	f.IntVar(&rf.start, "start", 0, "")
	f.IntVar(&rf.end, "end", 10, "")
	f.IntVar(&rf.maxConcurrent, "max-concurrent", 6, "")
	f.BoolVar(&rf.shared, "shared", false, "")
	f.BoolVar(&rf.multi, "multi", false, "")
	f.StringVar(&rf.likelihood, "likelihood", config.LikelihoodLogprobs, "")
	f.BoolVar(&rf.uot, "uot", false, "")
	f.StringVar(&rf.clusterFrom, "clustering-from", "", "")
	return cmd
}

func TestApplyRunFlags(t *testing.T) {
	now := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)

	t.Run("flags override config", func(t *testing.T) {
		cmd := newRunCmd()
		require.NoError(t, cmd.Flags().Parse([]string{"--hypotheses", "h.txt", "--start", "5", "--end", "8", "--shared", "--multi"}))
		cfg := config.Default()

		out, err := applyRunFlags(cmd, cfg, runFlags{hypotheses: "h.txt", start: 5, end: 8, shared: true, multi: true}, now)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join("logs", "20250304050607"), out)
		assert.Equal(t, "h.txt", cfg.Batch.Hypotheses)
		assert.Equal(t, 5, cfg.Batch.StartIdx)
		assert.Equal(t, 8, cfg.Batch.EndIdx)
		assert.True(t, cfg.Clustering.Shared)
		assert.True(t, cfg.Search.Multi)
		assert.Equal(t, 6, cfg.Batch.MaxConcurrent)
		assert.Equal(t, config.LikelihoodLogprobs, cfg.Search.Likelihood)
		assert.Empty(t, cfg.Clustering.From)
	})

	t.Run("likelihood and clustering source", func(t *testing.T) {
		tests := []struct {
			name string
			args []string
			rf   runFlags
			want string
		}{
			{"uot shorthand", []string{"--uot"}, runFlags{uot: true}, config.LikelihoodCategorical},
			{"explicit mode", []string{"--likelihood", "categorical"}, runFlags{likelihood: "categorical"}, config.LikelihoodCategorical},
			{"default mode", nil, runFlags{likelihood: "logprobs"}, config.LikelihoodLogprobs},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				cmd := newRunCmd()
				args := append([]string{"--hypotheses", "h.txt", "--clustering-from", "logs/x/3_"}, tt.args...)
				require.NoError(t, cmd.Flags().Parse(args))
				cfg := config.Default()
				tt.rf.hypotheses = "h.txt"
				tt.rf.clusterFrom = "logs/x/3_"

				_, err := applyRunFlags(cmd, cfg, tt.rf, now)
				require.NoError(t, err)
				assert.Equal(t, tt.want, cfg.Search.Likelihood)
				assert.Equal(t, "logs/x/3_", cfg.Clustering.From)
			})
		}
	})

	t.Run("unknown likelihood", func(t *testing.T) {
		cmd := newRunCmd()
		require.NoError(t, cmd.Flags().Parse([]string{"--hypotheses", "h.txt", "--likelihood", "votes"}))
		_, err := applyRunFlags(cmd, config.Default(), runFlags{hypotheses: "h.txt", likelihood: "votes"}, now)
		assert.ErrorIs(t, err, config.ErrInvalidConfig)
	})

	t.Run("explicit output dir", func(t *testing.T) {
		cmd := newRunCmd()
		require.NoError(t, cmd.Flags().Parse([]string{"--output-dir", "exact"}))
		cfg := config.Default()
		cfg.Batch.Hypotheses = "h.txt"

		out, err := applyRunFlags(cmd, cfg, runFlags{outputDir: "exact"}, now)
		require.NoError(t, err)
		assert.Equal(t, "exact", out)
	})

	t.Run("hypotheses required", func(t *testing.T) {
		_, err := applyRunFlags(newRunCmd(), config.Default(), runFlags{}, now)
		assert.ErrorIs(t, err, config.ErrInvalidConfig)
	})

	t.Run("invalid range", func(t *testing.T) {
		cmd := newRunCmd()
		require.NoError(t, cmd.Flags().Parse([]string{"--hypotheses", "h.txt", "--start", "9", "--end", "2"}))
		_, err := applyRunFlags(cmd, config.Default(), runFlags{hypotheses: "h.txt", start: 9, end: 2}, now)
		assert.ErrorIs(t, err, config.ErrInvalidConfig)
	})
}

func TestEvalCmd(t *testing.T) {
	dir := t.TempDir()
	start := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, history.WriteRunRecord(filepath.Join(dir, "0_"+eval.RunSuffix), history.RunRecord{
		ID:               "run-0",
		ExpectedAnswer:   "cat",
		StartTime:        start,
		EndTime:          start.Add(time.Minute),
		FinalPath:        []string{"root", "Is X alive?", "Yes"},
		FinalBeliefState: map[string]float64{"cat": 0.9, "dog": 0.1},
	}))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"eval", "--path", dir})
	t.Cleanup(func() { rootCmd.SetArgs(nil); rootCmd.SetOut(nil) })

	require.NoError(t, rootCmd.Execute())
	table := out.String()
	assert.Contains(t, table, "top1")
	assert.Contains(t, table, filepath.Base(dir))
	assert.Contains(t, table, "1.000")
	assert.Contains(t, table, "1m0s")
}

func TestVersionCmd(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() { rootCmd.SetArgs(nil); rootCmd.SetOut(nil) })

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "Version:    dev")
}

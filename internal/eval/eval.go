// Package eval scores finished runs: top-k accuracy, conversation length,
// token usage and cost.
package eval

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/fyrsmithlabs/inquire/internal/history"
)

// ErrNoRuns is returned when a group has nothing to evaluate.
var ErrNoRuns = errors.New("no runs to evaluate")

// RunSuffix names run record files inside an output directory.
const RunSuffix = "run.json"

// Run is the evaluation of one run.
type Run struct {
	Top1               bool
	Top3               bool
	Failed             bool
	StartTime          time.Time
	EndTime            time.Time
	ConversationLength int

	QuestionerInputTokens  int64
	QuestionerOutputTokens int64
	AnswererInputTokens    int64
	AnswererOutputTokens   int64
}

// EvaluateRun scores one run record.
func EvaluateRun(r history.RunRecord) Run {
	guesses := r.FinalBeliefState.Ranked()
	return Run{
		Top1:                   contains(guesses, 1, r.ExpectedAnswer),
		Top3:                   contains(guesses, 3, r.ExpectedAnswer),
		Failed:                 r.Failed(),
		StartTime:              r.StartTime,
		EndTime:                r.EndTime,
		ConversationLength:     len(r.FinalPath) / 2,
		QuestionerInputTokens:  r.QuestionerSession.TotalInputTokens,
		QuestionerOutputTokens: r.QuestionerSession.TotalOutputTokens,
		AnswererInputTokens:    r.AnswererSession.TotalInputTokens,
		AnswererOutputTokens:   r.AnswererSession.TotalOutputTokens,
	}
}

func contains(ranked []string, k int, want string) bool {
	for i := 0; i < k && i < len(ranked); i++ {
		if ranked[i] == want {
			return true
		}
	}
	return false
}

// Group aggregates a set of runs.
type Group struct {
	NumRuns    int
	FailedRuns int
	Top1       float64
	Top3       float64
	Duration   time.Duration

	MeanConversationLength float64
	// MeanSuccessfulLength is over top-1 hits only; zero when there are none.
	MeanSuccessfulLength float64

	QuestionerInputTokens  int64
	QuestionerOutputTokens int64
	AnswererInputTokens    int64
	AnswererOutputTokens   int64
}

// EvaluateGroup aggregates runs. Duration spans from the earliest start to
// the latest end.
func EvaluateGroup(runs []Run) (Group, error) {
	if len(runs) == 0 {
		return Group{}, ErrNoRuns
	}
	g := Group{NumRuns: len(runs)}
	var (
		top1, top3, length, successLength int
		first, last                       time.Time
	)
	for i, r := range runs {
		if r.Top1 {
			top1++
			successLength += r.ConversationLength
		}
		if r.Top3 {
			top3++
		}
		if r.Failed {
			g.FailedRuns++
		}
		length += r.ConversationLength
		g.QuestionerInputTokens += r.QuestionerInputTokens
		g.QuestionerOutputTokens += r.QuestionerOutputTokens
		g.AnswererInputTokens += r.AnswererInputTokens
		g.AnswererOutputTokens += r.AnswererOutputTokens

		if i == 0 || r.StartTime.Before(first) {
			first = r.StartTime
		}
		if i == 0 || r.EndTime.After(last) {
			last = r.EndTime
		}
	}

	n := float64(len(runs))
	g.Top1 = float64(top1) / n
	g.Top3 = float64(top3) / n
	g.MeanConversationLength = float64(length) / n
	if top1 > 0 {
		g.MeanSuccessfulLength = float64(successLength) / float64(top1)
	}
	g.Duration = last.Sub(first)
	return g, nil
}

// Prices are USD per million tokens.
type Prices struct {
	QuestionerInput  float64
	QuestionerOutput float64
	AnswererInput    float64
	AnswererOutput   float64
}

// DefaultPrices are the deepseek-chat list prices.
func DefaultPrices() Prices {
	return Prices{QuestionerInput: 0.28, QuestionerOutput: 0.42, AnswererInput: 0.28, AnswererOutput: 0.42}
}

// Cost returns the total price of a group's token usage.
func (p Prices) Cost(g Group) float64 {
	const perToken = 1.0 / 1_000_000
	return perToken * (p.QuestionerInput*float64(g.QuestionerInputTokens) +
		p.QuestionerOutput*float64(g.QuestionerOutputTokens) +
		p.AnswererInput*float64(g.AnswererInputTokens) +
		p.AnswererOutput*float64(g.AnswererOutputTokens))
}

// Experiment is one evaluated output directory.
type Experiment struct {
	Name  string
	Group Group
	Cost  float64
}

// EvaluateDir loads every run record under dir.
func EvaluateDir(dir string, prices Prices) (Experiment, error) {
	var runs []Run
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), RunSuffix) {
			return nil
		}
		r, err := history.ReadRunRecord(path, false)
		if err != nil {
			return err
		}
		runs = append(runs, EvaluateRun(r))
		return nil
	})
	if err != nil {
		return Experiment{}, fmt.Errorf("evaluating %s: %w", dir, err)
	}

	g, err := EvaluateGroup(runs)
	if err != nil {
		return Experiment{}, fmt.Errorf("evaluating %s: %w", dir, err)
	}
	return Experiment{
		Name:  filepath.Base(filepath.Clean(dir)),
		Group: g,
		Cost:  prices.Cost(g),
	}, nil
}

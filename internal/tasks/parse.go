// Package tasks holds parsing and scoring helpers shared by task domains.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/fyrsmithlabs/inquire/internal/search"
	"github.com/fyrsmithlabs/inquire/internal/tree"
)

// ErrNoBranches is returned by MatchAnswer for a question without answer branches.
var ErrNoBranches = errors.New("question has no answer branches")

var (
	numberedLine = regexp.MustCompile(`^\s*\d+\.\s+(.*)`)
	labelLine    = regexp.MustCompile(`^\s*([^:]+):\s*(.*)$`)
)

// Binary answers offered for yes/no questions.
var Binary = []string{"Yes", "No"}

// categoricalMiss is the likelihood assigned to answers that do not list a hypothesis.
const categoricalMiss = 1e-5

func unescapeNewlines(s string) string {
	return strings.ReplaceAll(s, `\n`, "\n")
}

// ParseBinaryQuestions extracts numbered questions, each answerable by Yes or No.
func ParseBinaryQuestions(output string) []search.Proposal {
	var out []search.Proposal
	for _, line := range strings.Split(unescapeNewlines(output), "\n") {
		m := numberedLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		q := strings.TrimSpace(m[1])
		if q == "" {
			continue
		}
		out = append(out, search.Proposal{Question: q, Answers: append([]string(nil), Binary...)})
	}
	return out
}

// ParseMultiQuestions extracts numbered questions of the form
// "question|answer|answer...".
func ParseMultiQuestions(output string) []search.Proposal {
	var out []search.Proposal
	for _, line := range strings.Split(unescapeNewlines(output), "\n") {
		m := numberedLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		parts := strings.Split(strings.TrimSpace(m[1]), "|")
		q := strings.TrimSpace(parts[0])
		if q == "" {
			continue
		}
		var answers []string
		for _, a := range parts[1:] {
			if a = strings.TrimSpace(a); a != "" {
				answers = append(answers, a)
			}
		}
		out = append(out, search.Proposal{Question: q, Answers: answers})
	}
	return out
}

// NormaliseLogprobs converts log probabilities into a distribution with a
// softmax. If every entry is -Inf the result is uniform.
func NormaliseLogprobs(logprobs map[string]float64) map[string]float64 {
	if len(logprobs) == 0 {
		return map[string]float64{}
	}
	maxLP := math.Inf(-1)
	for _, lp := range logprobs {
		maxLP = math.Max(maxLP, lp)
	}

	out := make(map[string]float64, len(logprobs))
	if math.IsInf(maxLP, -1) {
		for k := range logprobs {
			out[k] = 1 / float64(len(logprobs))
		}
		return out
	}

	var sum float64
	for k, lp := range logprobs {
		out[k] = math.Exp(lp - maxLP)
		sum += out[k]
	}
	for k := range out {
		out[k] /= sum
	}
	return out
}

// ParseCategoricalLikelihoods reads lines of the form "answer: item, item"
// and returns, for each listed item, 1 for the answers that list it and a
// small floor for the rest.
func ParseCategoricalLikelihoods(output string, answers []string) map[string]map[string]float64 {
	byLabel := make(map[string]map[string]bool)
	items := make(map[string]struct{})
	for _, line := range strings.Split(unescapeNewlines(output), "\n") {
		m := labelLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		label := strings.TrimSpace(m[1])
		set := make(map[string]bool)
		for _, item := range strings.Split(m[2], ",") {
			if item = strings.TrimSpace(item); item != "" {
				set[item] = true
				items[item] = struct{}{}
			}
		}
		byLabel[label] = set
	}

	sorted := make([]string, 0, len(items))
	for item := range items {
		sorted = append(sorted, item)
	}
	sort.Strings(sorted)

	out := make(map[string]map[string]float64, len(sorted))
	for _, item := range sorted {
		row := make(map[string]float64, len(answers))
		for _, a := range answers {
			if byLabel[a][item] {
				row[a] = 1
			} else {
				row[a] = categoricalMiss
			}
		}
		out[item] = row
	}
	return out
}

// Embedder turns text into a vector.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// MatchAnswer maps free-text output to one of q's answer branches: an exact
// case-insensitive match wins, otherwise the branch whose answer embeds
// closest to the output.
func MatchAnswer(ctx context.Context, embedder Embedder, output string, q *tree.QuestionNode) (*tree.EvidenceNode, error) {
	if len(q.Children) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrNoBranches, q.Question)
	}
	said := strings.ToLower(strings.TrimSpace(output))
	for _, e := range q.Children {
		if strings.ToLower(strings.TrimSpace(e.Answer)) == said {
			return e, nil
		}
	}
	if embedder == nil {
		return nil, fmt.Errorf("no branch of %q matches %q", q.Question, output)
	}

	target, err := embedder.EmbedQuery(ctx, said)
	if err != nil {
		return nil, fmt.Errorf("embedding answer: %w", err)
	}
	best, bestSim := q.Children[0], float32(math.Inf(-1))
	for _, e := range q.Children {
		vec, err := embedder.EmbedQuery(ctx, strings.TrimSpace(e.Answer))
		if err != nil {
			return nil, fmt.Errorf("embedding candidate %q: %w", e.Answer, err)
		}
		if sim := CosineSimilarity(target, vec); sim > bestSim {
			best, bestSim = e, sim
		}
	}
	return best, nil
}

// CosineSimilarity returns 0 for zero-norm vectors or mismatched lengths.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

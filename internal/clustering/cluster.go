package clustering

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrInconsistentAnswers is returned when hypothesis rows in a cluster do not
// share the same answer set.
var ErrInconsistentAnswers = errors.New("hypotheses in cluster do not have consistent answers")

// Cluster caches per-hypothesis answer likelihoods for one group of
// equivalent questions.
//
// Callers must hold Lock across any check-then-fetch-then-Merge sequence so
// concurrent branches never request the same hypothesis twice. Methods other
// than Questions and RecordQuestion read or write the likelihood cache and
// expect the lock to be held.
type Cluster struct {
	mu sync.Mutex

	// likelihoods maps hypothesis -> answer -> probability.
	likelihoods map[string]map[string]float64
	answers     []string

	qmu       sync.Mutex
	questions map[string]int
}

func newCluster(question string) *Cluster {
	return &Cluster{
		likelihoods: make(map[string]map[string]float64),
		questions:   map[string]int{question: 1},
	}
}

// Lock acquires the cluster's likelihood cache.
func (c *Cluster) Lock() { c.mu.Lock() }

// Unlock releases the cluster's likelihood cache.
func (c *Cluster) Unlock() { c.mu.Unlock() }

// RecordQuestion increments the occurrence count of question.
func (c *Cluster) RecordQuestion(question string) {
	c.qmu.Lock()
	c.questions[question]++
	c.qmu.Unlock()
}

// Questions returns a copy of the question occurrence counts.
func (c *Cluster) Questions() map[string]int {
	c.qmu.Lock()
	defer c.qmu.Unlock()
	out := make(map[string]int, len(c.questions))
	for q, n := range c.questions {
		out[q] = n
	}
	return out
}

// Hypotheses returns the cached hypotheses in sorted order.
func (c *Cluster) Hypotheses() []string {
	out := make([]string, 0, len(c.likelihoods))
	for h := range c.likelihoods {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// Missing returns the hypotheses not yet cached, preserving input order.
func (c *Cluster) Missing(hypotheses []string) []string {
	var out []string
	for _, h := range hypotheses {
		if _, ok := c.likelihoods[h]; !ok {
			out = append(out, h)
		}
	}
	return out
}

// Answers returns the canonical answer set of the cluster, or nil when
// nothing is cached yet.
func (c *Cluster) Answers() ([]string, error) {
	if len(c.likelihoods) == 0 {
		return nil, nil
	}
	for h, row := range c.likelihoods {
		if !sameKeys(row, c.answers) {
			return nil, fmt.Errorf("%w: hypothesis %q", ErrInconsistentAnswers, h)
		}
	}
	return append([]string(nil), c.answers...), nil
}

// LikelihoodsForAnswer returns P(answer | h) for every cached hypothesis.
func (c *Cluster) LikelihoodsForAnswer(answer string) map[string]float64 {
	out := make(map[string]float64, len(c.likelihoods))
	for h, row := range c.likelihoods {
		out[h] = row[answer]
	}
	return out
}

// Merge stores new hypothesis rows. The first merge into an empty cluster
// fixes its answer set; every row must carry exactly those answers.
func (c *Cluster) Merge(answers []string, rows map[string]map[string]float64) error {
	canonical := c.answers
	if len(c.likelihoods) == 0 {
		canonical = answers
	}
	for h, row := range rows {
		if !sameKeys(row, canonical) {
			return fmt.Errorf("%w: hypothesis %q has answers %v, want %v",
				ErrInconsistentAnswers, h, keys(row), canonical)
		}
	}
	if len(rows) == 0 {
		return nil
	}

	c.answers = append([]string(nil), canonical...)
	for h, row := range rows {
		copied := make(map[string]float64, len(row))
		for a, p := range row {
			copied[a] = p
		}
		c.likelihoods[h] = copied
	}
	return nil
}

func sameKeys(row map[string]float64, answers []string) bool {
	if len(row) != len(answers) {
		return false
	}
	for _, a := range answers {
		if _, ok := row[a]; !ok {
			return false
		}
	}
	return true
}

func keys(row map[string]float64) []string {
	out := make([]string, 0, len(row))
	for k := range row {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Package belief holds probability distributions over a finite hypothesis
// space and the Bayesian update that moves them when an answer is observed.
package belief

import (
	"sort"
	"strconv"
	"strings"
)

// State maps each hypothesis to its probability. A non-empty State sums to 1.
type State map[string]float64

// Uniform returns a State that spreads mass evenly over hypotheses.
// Duplicate hypotheses are collapsed.
func Uniform(hypotheses []string) State {
	s := make(State, len(hypotheses))
	for _, h := range hypotheses {
		s[h] = 0
	}
	if len(s) == 0 {
		return s
	}
	p := 1 / float64(len(s))
	for h := range s {
		s[h] = p
	}
	return s
}

// Sum returns the total probability mass.
func (s State) Sum() float64 {
	var total float64
	for _, p := range s {
		total += p
	}
	return total
}

// Max returns the largest probability, or 0 for an empty State.
func (s State) Max() float64 {
	var best float64
	for _, p := range s {
		if p > best {
			best = p
		}
	}
	return best
}

// Hypotheses returns the keys in lexical order.
func (s State) Hypotheses() []string {
	keys := make([]string, 0, len(s))
	for h := range s {
		keys = append(keys, h)
	}
	sort.Strings(keys)
	return keys
}

// Ranked returns hypotheses ordered by descending probability.
// Ties are broken lexically so the order is stable.
func (s State) Ranked() []string {
	keys := s.Hypotheses()
	sort.SliceStable(keys, func(i, j int) bool {
		return s[keys[i]] > s[keys[j]]
	})
	return keys
}

// Clone returns an independent copy.
func (s State) Clone() State {
	out := make(State, len(s))
	for h, p := range s {
		out[h] = p
	}
	return out
}

// String renders the state with sorted keys, e.g. "{A: 0.5, B: 0.5}".
func (s State) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, h := range s.Hypotheses() {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(h)
		b.WriteString(": ")
		b.WriteString(strconv.FormatFloat(s[h], 'g', 4, 64))
	}
	b.WriteByte('}')
	return b.String()
}

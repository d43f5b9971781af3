package twentyq

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// ReadHypotheses reads one entity per line. Blank lines and lines starting
// with '#' are skipped; duplicates keep their first position.
func ReadHypotheses(r io.Reader) ([]string, error) {
	var out []string
	seen := make(map[string]struct{})
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if _, dup := seen[line]; dup {
			continue
		}
		seen[line] = struct{}{}
		out = append(out, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading hypotheses: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: empty hypothesis space", ErrInvalidConfig)
	}
	return out, nil
}

// LoadHypotheses reads the hypothesis space from a file.
func LoadHypotheses(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening hypotheses: %w", err)
	}
	defer f.Close()
	return ReadHypotheses(f)
}

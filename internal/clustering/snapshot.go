package clustering

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// ClusterSnapshot is the serialisable content of a Cluster.
type ClusterSnapshot struct {
	Questions   map[string]int                `json:"questions"`
	Answers     []string                      `json:"answers,omitempty"`
	Likelihoods map[string]map[string]float64 `json:"likelihoods"`
}

// Snapshot is the serialisable content of a QuestionClustering, without its index.
type Snapshot struct {
	Threshold float64                    `json:"threshold"`
	Clusters  map[string]ClusterSnapshot `json:"clusters"`
}

// Snapshot copies every cluster, taking each cluster's lock in turn.
func (qc *QuestionClustering) Snapshot() Snapshot {
	clusters := qc.Clusters()
	out := Snapshot{
		Threshold: qc.threshold,
		Clusters:  make(map[string]ClusterSnapshot, len(clusters)),
	}
	for id, c := range clusters {
		out.Clusters[id] = c.snapshot()
	}
	return out
}

func (c *Cluster) snapshot() ClusterSnapshot {
	c.Lock()
	defer c.Unlock()
	s := ClusterSnapshot{
		Questions:   c.Questions(),
		Answers:     append([]string(nil), c.answers...),
		Likelihoods: make(map[string]map[string]float64, len(c.likelihoods)),
	}
	for h, row := range c.likelihoods {
		copied := make(map[string]float64, len(row))
		for a, p := range row {
			copied[a] = p
		}
		s.Likelihoods[h] = copied
	}
	return s
}

// Restore rebuilds a QuestionClustering from a snapshot and the index it was
// saved with. Every cluster id must exist in the index.
func Restore(ctx context.Context, embedder Embedder, index Index, snap Snapshot, logger *zap.Logger) (*QuestionClustering, error) {
	qc, err := New(embedder, index, snap.Threshold, logger)
	if err != nil {
		return nil, err
	}
	n, err := index.Len(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading index size: %w", err)
	}
	if n != len(snap.Clusters) {
		return nil, fmt.Errorf("%w: index holds %d vectors, snapshot %d clusters",
			ErrInvalidConfig, n, len(snap.Clusters))
	}
	for id, cs := range snap.Clusters {
		c, err := restoreCluster(cs)
		if err != nil {
			return nil, fmt.Errorf("restoring cluster %s: %w", id, err)
		}
		qc.clusters[id] = c
	}
	qc.checked = true
	return qc, nil
}

// restoreCluster rebuilds a cluster, deriving its answer order from the
// first row when the snapshot does not carry one.
func restoreCluster(s ClusterSnapshot) (*Cluster, error) {
	c := &Cluster{
		likelihoods: make(map[string]map[string]float64, len(s.Likelihoods)),
		answers:     append([]string(nil), s.Answers...),
		questions:   make(map[string]int, len(s.Questions)),
	}
	for q, n := range s.Questions {
		c.questions[q] = n
	}
	for h, row := range s.Likelihoods {
		if len(c.answers) == 0 {
			c.answers = keys(row)
		}
		copied := make(map[string]float64, len(row))
		for a, p := range row {
			copied[a] = p
		}
		c.likelihoods[h] = copied
	}
	if _, err := c.Answers(); err != nil {
		return nil, err
	}
	return c, nil
}

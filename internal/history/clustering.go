package history

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/inquire/internal/clustering"
)

// ErrIndexNotExportable is returned when saving a clustering whose index
// cannot be written to a file.
var ErrIndexNotExportable = errors.New("index does not support export")

// SaveClustering writes the cluster map and threshold to jsonPath and the
// chromem index blob to indexPath.
func SaveClustering(qc *clustering.QuestionClustering, jsonPath, indexPath string) error {
	data, err := json.Marshal(qc.Snapshot())
	if err != nil {
		return fmt.Errorf("failed to marshal clustering: %w", err)
	}

	idx, ok := qc.Index().(*clustering.ChromemIndex)
	if !ok {
		return fmt.Errorf("%w: %T", ErrIndexNotExportable, qc.Index())
	}
	var blob bytes.Buffer
	if err := idx.Export(&blob); err != nil {
		return err
	}

	if err := writeAtomic(jsonPath, data); err != nil {
		return err
	}
	return writeAtomic(indexPath, blob.Bytes())
}

// SaveSnapshot writes only the cluster map and threshold. It is used for
// indexes that persist themselves, such as Qdrant.
func SaveSnapshot(qc *clustering.QuestionClustering, jsonPath string) error {
	data, err := json.Marshal(qc.Snapshot())
	if err != nil {
		return fmt.Errorf("failed to marshal clustering: %w", err)
	}
	return writeAtomic(jsonPath, data)
}

// LoadSnapshot reads a cluster map written by SaveClustering or SaveSnapshot.
func LoadSnapshot(jsonPath string) (clustering.Snapshot, error) {
	data, err := os.ReadFile(jsonPath)
	if err != nil {
		return clustering.Snapshot{}, fmt.Errorf("failed to read clustering: %w", err)
	}
	var snap clustering.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return clustering.Snapshot{}, fmt.Errorf("failed to parse clustering %s: %w", jsonPath, err)
	}
	return snap, nil
}

// LoadClustering restores a clustering saved by SaveClustering.
func LoadClustering(ctx context.Context, embedder clustering.Embedder, jsonPath, indexPath string, logger *zap.Logger) (*clustering.QuestionClustering, error) {
	snap, err := LoadSnapshot(jsonPath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(indexPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}
	defer f.Close()

	idx, err := clustering.ImportChromemIndex(f)
	if err != nil {
		return nil, err
	}
	return clustering.Restore(ctx, embedder, idx, snap, logger)
}

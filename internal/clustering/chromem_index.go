package clustering

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	chromem "github.com/philippgille/chromem-go"
)

// DefaultCollection is the chromem collection holding question embeddings.
const DefaultCollection = "questions"

// errNoEmbeddingFunc guards against chromem falling back to its default
// remote embedding function. Embeddings are always supplied by the caller.
var errNoEmbeddingFunc = errors.New("chromem index requires precomputed embeddings")

func refuseEmbedding(context.Context, string) ([]float32, error) {
	return nil, errNoEmbeddingFunc
}

// ChromemIndex is an in-process Index backed by a chromem-go collection.
// Ids are sequential integers in insertion order.
type ChromemIndex struct {
	db         *chromem.DB
	collection *chromem.Collection
	name       string
}

// NewChromemIndex creates an empty in-memory index.
func NewChromemIndex() (*ChromemIndex, error) {
	db := chromem.NewDB()
	col, err := db.CreateCollection(DefaultCollection, nil, refuseEmbedding)
	if err != nil {
		return nil, fmt.Errorf("creating chromem collection: %w", err)
	}
	return &ChromemIndex{db: db, collection: col, name: DefaultCollection}, nil
}

// ImportChromemIndex restores an index written by Export.
func ImportChromemIndex(r io.ReadSeeker) (*ChromemIndex, error) {
	db := chromem.NewDB()
	if err := db.ImportFromReader(r, "", DefaultCollection); err != nil {
		return nil, fmt.Errorf("importing chromem index: %w", err)
	}
	col := db.GetCollection(DefaultCollection, refuseEmbedding)
	if col == nil {
		return nil, fmt.Errorf("importing chromem index: collection %q not found", DefaultCollection)
	}
	return &ChromemIndex{db: db, collection: col, name: DefaultCollection}, nil
}

// Export writes the index as a gzip-compressed gob stream.
func (i *ChromemIndex) Export(w io.Writer) error {
	if err := i.db.ExportToWriter(w, true, "", i.name); err != nil {
		return fmt.Errorf("exporting chromem index: %w", err)
	}
	return nil
}

// Len implements Index.
func (i *ChromemIndex) Len(context.Context) (int, error) {
	return i.collection.Count(), nil
}

// Add implements Index. Callers serialise Add so ids stay dense.
func (i *ChromemIndex) Add(ctx context.Context, vec []float32, label string) (string, error) {
	id := strconv.Itoa(i.collection.Count())
	err := i.collection.AddDocument(ctx, chromem.Document{
		ID:        id,
		Content:   label,
		Embedding: vec,
	})
	if err != nil {
		return "", fmt.Errorf("adding embedding %s: %w", id, err)
	}
	return id, nil
}

// Nearest implements Index.
func (i *ChromemIndex) Nearest(ctx context.Context, vec []float32) (string, float64, bool, error) {
	if i.collection.Count() == 0 {
		return "", 0, false, nil
	}
	results, err := i.collection.QueryEmbedding(ctx, vec, 1, nil, nil)
	if err != nil {
		return "", 0, false, fmt.Errorf("querying nearest embedding: %w", err)
	}
	if len(results) == 0 {
		return "", 0, false, nil
	}
	return results[0].ID, float64(results[0].Similarity), true, nil
}

package embeddings

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

var (
	// ErrEmptyInput is returned for empty texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig is returned for unsupported models or settings.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed wraps backend failures.
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

// DefaultModel is the model used when none is configured.
const DefaultModel = "BAAI/bge-small-en-v1.5"

// modelInfo describes a supported model. fastembedName is the identifier
// fastembed-go uses for it.
type modelInfo struct {
	fastembedName string
	dimension     int
}

var models = map[string]modelInfo{
	"BAAI/bge-small-en-v1.5":                 {"fast-bge-small-en-v1.5", 384},
	"BAAI/bge-small-en":                      {"fast-bge-small-en", 384},
	"BAAI/bge-base-en-v1.5":                  {"fast-bge-base-en-v1.5", 768},
	"BAAI/bge-base-en":                       {"fast-bge-base-en", 768},
	"BAAI/bge-small-zh-v1.5":                 {"fast-bge-small-zh-v1.5", 512},
	"sentence-transformers/all-MiniLM-L6-v2": {"fast-all-MiniLM-L6-v2", 384},
}

// lookupModel accepts either the Hugging Face name or the fastembed name.
func lookupModel(name string) (string, modelInfo, error) {
	if name == "" {
		name = DefaultModel
	}
	if info, ok := models[name]; ok {
		return name, info, nil
	}
	for hf, info := range models {
		if info.fastembedName == name {
			return hf, info, nil
		}
	}
	supported := make([]string, 0, len(models))
	for hf := range models {
		supported = append(supported, hf)
	}
	slices.Sort(supported)
	return "", modelInfo{}, fmt.Errorf("%w: unsupported model %q (supported: %s)",
		ErrInvalidConfig, name, strings.Join(supported, ", "))
}

// ModelDimension returns the embedding width of a supported model.
func ModelDimension(name string) (int, error) {
	_, info, err := lookupModel(name)
	if err != nil {
		return 0, err
	}
	return info.dimension, nil
}

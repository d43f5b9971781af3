// Package config loads inquire configuration from a YAML file and
// INQUIRE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the complete inquire configuration.
type Config struct {
	Search     SearchConfig     `koanf:"search"`
	Clustering ClusteringConfig `koanf:"clustering"`
	Embeddings EmbeddingsConfig `koanf:"embeddings"`
	LLM        LLMConfig        `koanf:"llm"`
	Batch      BatchConfig      `koanf:"batch"`
	Logging    LoggingConfig    `koanf:"logging"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
}

// SearchConfig controls tree expansion and termination.
type SearchConfig struct {
	MaxQuestionNodes     int     `koanf:"max_question_nodes"`
	MaxLookaheadDepth    int     `koanf:"max_lookahead_depth"`
	MaxConversationDepth int     `koanf:"max_conversation_depth"`
	ConfidenceThreshold  float64 `koanf:"confidence_threshold"`
	EstimatorConfidence  float64 `koanf:"estimator_confidence"`
	SharpnessConstant    float64 `koanf:"sharpness_constant"`
	MinProbability       float64 `koanf:"min_probability"`
	// Multi lets the questioner propose its own answer options.
	Multi bool `koanf:"multi"`
	// Likelihood selects how answer likelihoods are estimated.
	Likelihood string `koanf:"likelihood"`
}

// Likelihood estimation modes.
const (
	// LikelihoodLogprobs asks once per hypothesis and reads the answer
	// distribution from token log-probabilities.
	LikelihoodLogprobs = "logprobs"
	// LikelihoodCategorical asks once per question for a hypothesis to
	// answer assignment.
	LikelihoodCategorical = "categorical"
)

// Clustering backends.
const (
	BackendChromem = "chromem"
	BackendQdrant  = "qdrant"
)

// ClusteringConfig controls the question cache.
type ClusteringConfig struct {
	Threshold float64 `koanf:"threshold"`
	// Shared uses one clustering for every run of a batch.
	Shared  bool         `koanf:"shared"`
	Backend string       `koanf:"backend"`
	Qdrant  QdrantConfig `koanf:"qdrant"`
	// From is an output file prefix such as logs/20250101120000/3_ whose
	// saved clustering every game starts from.
	From string `koanf:"from"`
}

// QdrantConfig configures the qdrant clustering backend.
type QdrantConfig struct {
	Host       string `koanf:"host"`
	Port       int    `koanf:"port"`
	UseTLS     bool   `koanf:"use_tls"`
	APIKey     Secret `koanf:"api_key"`
	Collection string `koanf:"collection"`
}

// EmbeddingsConfig configures the local question embedder.
type EmbeddingsConfig struct {
	Model    string `koanf:"model"`
	CacheDir string `koanf:"cache_dir"`
	// CacheSize bounds the in-memory embedding cache; negative disables it.
	CacheSize int `koanf:"cache_size"`
	// ONNXPath points at an existing onnxruntime library. When empty the
	// runtime is downloaded into CacheDir on first use.
	ONNXPath string `koanf:"onnx_path"`
}

// LLMConfig configures the chat completions API.
type LLMConfig struct {
	BaseURL           string   `koanf:"base_url"`
	APIKey            Secret   `koanf:"api_key"`
	QuestionerModel   string   `koanf:"questioner_model"`
	AnswererModel     string   `koanf:"answerer_model"`
	RequestsPerMinute int      `koanf:"requests_per_minute"`
	MaxRetries        int      `koanf:"max_retries"`
	Timeout           Duration `koanf:"timeout"`
}

// BatchConfig selects the targets of a batch and where results go.
type BatchConfig struct {
	MaxConcurrent int    `koanf:"max_concurrent"`
	StartIdx      int    `koanf:"start_idx"`
	EndIdx        int    `koanf:"end_idx"`
	OutputDir     string `koanf:"output_dir"`
	// Hypotheses is a file with one candidate entity per line.
	Hypotheses string `koanf:"hypotheses"`
}

// LoggingConfig is the subset of logging options exposed to users.
type LoggingConfig struct {
	Level    string `koanf:"level"`
	Format   string `koanf:"format"`
	Sampling bool   `koanf:"sampling"`
	// File, when set, receives a copy of every log entry.
	File string `koanf:"file"`
}

// TelemetryConfig is the subset of OpenTelemetry options exposed to users.
type TelemetryConfig struct {
	Enabled        bool     `koanf:"enabled"`
	Endpoint       string   `koanf:"endpoint"`
	Protocol       string   `koanf:"protocol"`
	Insecure       bool     `koanf:"insecure"`
	SampleRate     float64  `koanf:"sample_rate"`
	Metrics        bool     `koanf:"metrics"`
	ExportInterval Duration `koanf:"export_interval"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	s := &cfg.Search
	if s.MaxQuestionNodes == 0 {
		s.MaxQuestionNodes = 2
	}
	if s.MaxLookaheadDepth == 0 {
		s.MaxLookaheadDepth = 3
	}
	if s.MaxConversationDepth == 0 {
		s.MaxConversationDepth = 20
	}
	if s.ConfidenceThreshold == 0 {
		s.ConfidenceThreshold = 0.8
	}
	if s.EstimatorConfidence == 0 {
		s.EstimatorConfidence = 0.7
	}
	if s.SharpnessConstant == 0 {
		s.SharpnessConstant = 0.4
	}
	if s.MinProbability == 0 {
		s.MinProbability = 1.0 / 25000
	}
	if s.Likelihood == "" {
		s.Likelihood = LikelihoodLogprobs
	}

	c := &cfg.Clustering
	if c.Threshold == 0 {
		c.Threshold = 1.0
	}
	if c.Backend == "" {
		c.Backend = BackendChromem
	}
	if c.Qdrant.Host == "" {
		c.Qdrant.Host = "localhost"
	}
	if c.Qdrant.Port == 0 {
		c.Qdrant.Port = 6334
	}
	if c.Qdrant.Collection == "" {
		c.Qdrant.Collection = "inquire_questions"
	}

	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = "BAAI/bge-small-en-v1.5"
	}
	if cfg.Embeddings.CacheDir == "" {
		cfg.Embeddings.CacheDir = "local_cache"
	}
	if cfg.Embeddings.CacheSize == 0 {
		cfg.Embeddings.CacheSize = 4096
	}

	l := &cfg.LLM
	if l.BaseURL == "" {
		l.BaseURL = "https://api.deepseek.com"
	}
	if l.QuestionerModel == "" {
		l.QuestionerModel = "deepseek-chat"
	}
	if l.AnswererModel == "" {
		l.AnswererModel = "deepseek-reasoner"
	}
	if l.RequestsPerMinute == 0 {
		l.RequestsPerMinute = 600
	}
	if l.MaxRetries == 0 {
		l.MaxRetries = 5
	}
	if l.Timeout == 0 {
		l.Timeout = Duration(120 * time.Second)
	}

	b := &cfg.Batch
	if b.MaxConcurrent == 0 {
		b.MaxConcurrent = 6
	}
	if b.EndIdx == 0 {
		b.EndIdx = 10
	}
	if b.OutputDir == "" {
		b.OutputDir = "logs"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}

	t := &cfg.Telemetry
	if t.Endpoint == "" {
		t.Endpoint = "localhost:4317"
	}
	if t.Protocol == "" {
		t.Protocol = "grpc"
	}
	if t.SampleRate == 0 {
		t.SampleRate = 1.0
	}
	if t.ExportInterval == 0 {
		t.ExportInterval = Duration(15 * time.Second)
	}
}

// Validate checks ranges and required values.
func (c *Config) Validate() error {
	s := c.Search
	switch {
	case s.MaxQuestionNodes < 1:
		return fmt.Errorf("%w: search.max_question_nodes must be >= 1, got %d", ErrInvalidConfig, s.MaxQuestionNodes)
	case s.MaxLookaheadDepth < 1:
		return fmt.Errorf("%w: search.max_lookahead_depth must be >= 1, got %d", ErrInvalidConfig, s.MaxLookaheadDepth)
	case s.MaxConversationDepth < 1:
		return fmt.Errorf("%w: search.max_conversation_depth must be >= 1, got %d", ErrInvalidConfig, s.MaxConversationDepth)
	}
	for name, v := range map[string]float64{
		"search.confidence_threshold": s.ConfidenceThreshold,
		"search.estimator_confidence": s.EstimatorConfidence,
		"search.min_probability":      s.MinProbability,
		"telemetry.sample_rate":       c.Telemetry.SampleRate,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%w: %s must be in [0, 1], got %g", ErrInvalidConfig, name, v)
		}
	}
	if s.SharpnessConstant < 0 {
		return fmt.Errorf("%w: search.sharpness_constant must be >= 0, got %g", ErrInvalidConfig, s.SharpnessConstant)
	}

	if c.Clustering.Threshold < -1 || c.Clustering.Threshold > 1 {
		return fmt.Errorf("%w: clustering.threshold must be in [-1, 1], got %g", ErrInvalidConfig, c.Clustering.Threshold)
	}
	if c.Clustering.Backend != BackendChromem && c.Clustering.Backend != BackendQdrant {
		return fmt.Errorf("%w: clustering.backend must be %q or %q, got %q",
			ErrInvalidConfig, BackendChromem, BackendQdrant, c.Clustering.Backend)
	}
	if c.Clustering.From != "" && c.Clustering.Backend == BackendQdrant && !c.Clustering.Shared {
		return fmt.Errorf("%w: clustering.from with the qdrant backend requires clustering.shared", ErrInvalidConfig)
	}
	if s.Likelihood != LikelihoodLogprobs && s.Likelihood != LikelihoodCategorical {
		return fmt.Errorf("%w: search.likelihood must be %q or %q, got %q",
			ErrInvalidConfig, LikelihoodLogprobs, LikelihoodCategorical, s.Likelihood)
	}

	if c.LLM.RequestsPerMinute < 1 || c.LLM.MaxRetries < 1 {
		return fmt.Errorf("%w: llm.requests_per_minute and llm.max_retries must be >= 1", ErrInvalidConfig)
	}

	b := c.Batch
	if b.MaxConcurrent < 1 {
		return fmt.Errorf("%w: batch.max_concurrent must be >= 1, got %d", ErrInvalidConfig, b.MaxConcurrent)
	}
	if b.StartIdx < 0 || b.EndIdx < b.StartIdx {
		return fmt.Errorf("%w: batch range [%d, %d) is empty or negative", ErrInvalidConfig, b.StartIdx, b.EndIdx)
	}

	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("%w: logging.format must be 'json' or 'console', got %q", ErrInvalidConfig, c.Logging.Format)
	}
	if c.Telemetry.Protocol != "grpc" && c.Telemetry.Protocol != "http/protobuf" {
		return fmt.Errorf("%w: telemetry.protocol must be 'grpc' or 'http/protobuf', got %q", ErrInvalidConfig, c.Telemetry.Protocol)
	}
	return nil
}

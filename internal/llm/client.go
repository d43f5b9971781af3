// Package llm talks to an OpenAI-compatible chat completions API with rate
// limiting, retries and per-session token accounting.
package llm

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"sync/atomic"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the API used when none is configured.
	DefaultBaseURL = "https://api.deepseek.com"

	defaultMaxRetries        = 5
	defaultMinBackoff        = 3 * time.Second
	defaultMaxBackoff        = 60 * time.Second
	defaultTimeout           = 120 * time.Second
	defaultRequestsPerMinute = 600

	// topLogprobs is the number of alternatives requested per token.
	topLogprobs = 20
)

var (
	// ErrMissingAPIKey is returned when no API key is configured.
	ErrMissingAPIKey = errors.New("llm api key required")

	// ErrEmptyResponse is returned when the API returns no choices.
	ErrEmptyResponse = errors.New("empty response from llm api")
)

// Config configures a Client.
type Config struct {
	BaseURL           string
	APIKey            string
	RequestsPerMinute int
	MaxRetries        int
	Timeout           time.Duration

	// MinBackoff and MaxBackoff bound the random exponential wait between attempts.
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// Session accumulates token usage for one model within a run.
type Session struct {
	Model string

	inputTokens  atomic.Int64
	outputTokens atomic.Int64
}

// NewSession creates a session for model.
func NewSession(model string) *Session {
	return &Session{Model: model}
}

// InputTokens returns the prompt tokens consumed so far.
func (s *Session) InputTokens() int64 { return s.inputTokens.Load() }

// OutputTokens returns the completion tokens consumed so far.
func (s *Session) OutputTokens() int64 { return s.outputTokens.Load() }

func (s *Session) record(u openai.Usage) {
	s.inputTokens.Add(int64(u.PromptTokens))
	s.outputTokens.Add(int64(u.CompletionTokens))
}

// Logprob is one candidate token and its log probability.
type Logprob struct {
	Token   string
	LogProb float64
}

// User builds a user message.
func User(content string) openai.ChatCompletionMessage {
	return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: content}
}

// Assistant builds an assistant message.
func Assistant(content string) openai.ChatCompletionMessage {
	return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: content}
}

// Client is safe for concurrent use.
type Client struct {
	api        *openai.Client
	limiter    *rate.Limiter
	maxRetries int
	minBackoff time.Duration
	maxBackoff time.Duration
	logger     *zap.Logger
}

// NewClient creates a Client.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = defaultRequestsPerMinute
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = defaultMinBackoff
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = max(defaultMaxBackoff, cfg.MinBackoff)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	apiCfg := openai.DefaultConfig(cfg.APIKey)
	apiCfg.BaseURL = cfg.BaseURL
	apiCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	perSecond := rate.Limit(float64(cfg.RequestsPerMinute) / 60)
	return &Client{
		api:        openai.NewClientWithConfig(apiCfg),
		limiter:    rate.NewLimiter(perSecond, max(1, cfg.RequestsPerMinute/60)),
		maxRetries: cfg.MaxRetries,
		minBackoff: cfg.MinBackoff,
		maxBackoff: cfg.MaxBackoff,
		logger:     logger,
	}, nil
}

// Complete returns the assistant's reply to messages.
func (c *Client) Complete(ctx context.Context, s *Session, messages []openai.ChatCompletionMessage) (string, error) {
	resp, err := c.create(ctx, s, openai.ChatCompletionRequest{
		Model:       s.Model,
		Messages:    messages,
		Temperature: 1.0,
	})
	if err != nil {
		return "", err
	}
	return resp.Choices[0].Message.Content, nil
}

// TopLogprobs generates a single token and returns the most likely
// alternatives for it.
func (c *Client) TopLogprobs(ctx context.Context, s *Session, messages []openai.ChatCompletionMessage) ([]Logprob, error) {
	resp, err := c.create(ctx, s, openai.ChatCompletionRequest{
		Model:       s.Model,
		Messages:    messages,
		Temperature: 1.0,
		LogProbs:    true,
		TopLogProbs: topLogprobs,
		MaxTokens:   1,
	})
	if err != nil {
		return nil, err
	}

	lp := resp.Choices[0].LogProbs
	if lp == nil || len(lp.Content) == 0 {
		return nil, nil
	}
	out := make([]Logprob, 0, len(lp.Content[0].TopLogProbs))
	for _, t := range lp.Content[0].TopLogProbs {
		out = append(out, Logprob{Token: t.Token, LogProb: t.LogProb})
	}
	return out, nil
}

func (c *Client) create(ctx context.Context, s *Session, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			wait := c.backoff(attempt)
			c.logger.Debug("retrying llm request",
				zap.String("model", req.Model),
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", wait),
				zap.Error(lastErr),
			)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return openai.ChatCompletionResponse{}, ctx.Err()
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return openai.ChatCompletionResponse{}, fmt.Errorf("rate limiter: %w", err)
		}

		resp, err := c.api.CreateChatCompletion(ctx, req)
		if err == nil {
			s.record(resp.Usage)
			if len(resp.Choices) == 0 {
				return resp, ErrEmptyResponse
			}
			return resp, nil
		}

		lastErr = err
		if !isRetryable(ctx, err) {
			return openai.ChatCompletionResponse{}, fmt.Errorf("chat completion: %w", err)
		}
	}
	return openai.ChatCompletionResponse{}, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// backoff returns a random wait in [minBackoff, min(maxBackoff, minBackoff*2^attempt)].
func (c *Client) backoff(attempt int) time.Duration {
	upper := c.minBackoff << attempt
	if upper > c.maxBackoff || upper <= 0 {
		upper = c.maxBackoff
	}
	span := upper - c.minBackoff
	if span <= 0 {
		return c.minBackoff
	}
	return c.minBackoff + rand.N(span+1)
}

func isRetryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return retryableStatus(reqErr.HTTPStatusCode)
	}
	// Transport failures carry no status.
	return true
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500 || code == 0
}

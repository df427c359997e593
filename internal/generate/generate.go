// Package generate wraps an OpenAI-compatible text-generation service.
//
// Responses are free-form text. Callers that expect structured output use
// ExtractJSON and skip responses that carry none.
package generate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/federated/internal/logging"
)

const (
	defaultModel     = "gpt-4o-mini"
	defaultRateLimit = 1.0
	defaultBurst     = 2
)

// ErrNoJSON is returned when a response carries no JSON object.
var ErrNoJSON = errors.New("no JSON object in response")

// Config configures a Client.
type Config struct {
	BaseURL string
	Model   string
	APIKey  string
	// RateLimit is requests per second.
	RateLimit float64
	Burst     int
}

// Completer generates text for a prompt.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Client is a rate-limited Completer over a langchaingo model.
type Client struct {
	model   llms.Model
	limiter *rate.Limiter
	logger  *logging.Logger
}

// New creates a Client for an OpenAI-compatible endpoint.
func New(cfg Config, logger *logging.Logger) (*Client, error) {
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	token := cfg.APIKey
	if token == "" {
		// Local OpenAI-compatible servers ignore the token but langchaingo
		// requires one.
		token = "unused"
	}
	opts := []openai.Option{
		openai.WithModel(cfg.Model),
		openai.WithToken(token),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create generation client: %w", err)
	}
	return NewWithModel(llm, cfg, logger), nil
}

// NewWithModel creates a Client over an existing model.
func NewWithModel(model llms.Model, cfg Config, logger *logging.Logger) *Client {
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.Burst <= 0 {
		cfg.Burst = defaultBurst
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Client{
		model:   model,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst),
		logger:  logger.Named("generate"),
	}
}

// Complete waits for the limiter and generates a completion.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}
	out, err := llms.GenerateFromSinglePrompt(ctx, c.model, prompt, llms.WithTemperature(0.1))
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	c.logger.Trace(ctx, "completion received", zap.Int("prompt_bytes", len(prompt)), zap.Int("response_bytes", len(out)))
	return out, nil
}

// ExtractJSON returns the first balanced JSON object in text. Braces inside
// JSON strings are ignored. Markdown fences around the object are harmless.
func ExtractJSON(text string) (string, error) {
	for start := strings.IndexByte(text, '{'); start >= 0; {
		if end := balancedEnd(text[start:]); end > 0 {
			return text[start : start+end], nil
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", ErrNoJSON
}

// balancedEnd returns the length of the object starting at s[0], or -1 when
// it is not closed.
func balancedEnd(s string) int {
	depth := 0
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case escaped:
			escaped = false
		case inString && ch == '\\':
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == '{':
			depth++
		case ch == '}':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return -1
}

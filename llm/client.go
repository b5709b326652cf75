// Package llm reconstructs invoice line items from raw OCR page text with
// a local language model when geometric extraction fails, then re-anchors
// the model's output onto the original OCR bounding boxes.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/schema"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/invexa/invexa-go/metrics"
)

// Error taxonomy for generation calls. Connection and timeout failures are
// retryable; malformed model output is terminal, the model will not become
// coherent on retry.
var (
	ErrConnection  = errors.New("llm: model server unreachable")
	ErrTimeout     = errors.New("llm: generation timed out")
	ErrInvalidJSON = errors.New("llm: model output is not valid JSON")
)

// ClientConfig configures a Client.
type ClientConfig struct {
	// ServerURL is the base URL of the Ollama server.
	ServerURL string

	// Model is the model name to generate with.
	Model string

	// Timeout bounds a single generation attempt. Cold model loads can take
	// tens of seconds, so values below a minute cause false failures.
	Timeout time.Duration

	// MaxRetries is the attempt count for retryable failures.
	MaxRetries int

	// RequestsPerSecond throttles calls to the model server. Zero means
	// no throttle.
	RequestsPerSecond float64
}

func (c *ClientConfig) applyDefaults() {
	if c.ServerURL == "" {
		c.ServerURL = "http://localhost:11434"
	}
	if c.Timeout < time.Minute {
		c.Timeout = 90 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
}

// Client wraps a langchaingo model with retry, timeout and rate limiting.
// Safe for concurrent use.
type Client struct {
	model   llms.Model
	cfg     ClientConfig
	log     *zap.Logger
	limiter *rate.Limiter
}

// NewClient connects to the configured Ollama server.
func NewClient(cfg ClientConfig, log *zap.Logger) (*Client, error) {
	cfg.applyDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	model, err := ollama.New(
		ollama.WithServerURL(cfg.ServerURL),
		ollama.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("creating ollama client: %w", err)
	}
	c := &Client{model: model, cfg: cfg, log: log}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return c, nil
}

// newClientWithModel is the test seam.
func newClientWithModel(model llms.Model, cfg ClientConfig, log *zap.Logger) *Client {
	cfg.applyDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{model: model, cfg: cfg, log: log}
}

// Generate sends the prompt and returns the raw completion text. Transient
// failures are retried with exponential backoff; context cancellation and
// terminal errors are returned immediately.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			metrics.LLMRetriesTotal.Inc()
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			c.log.Debug("retrying generation",
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", backoff))
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return "", err
			}
		}

		text, err := c.generateOnce(ctx, prompt)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !retryable(err) {
			return "", err
		}
		c.log.Warn("generation attempt failed",
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	return "", fmt.Errorf("all %d attempts failed: %w", c.cfg.MaxRetries, lastErr)
}

func (c *Client) generateOnce(ctx context.Context, prompt string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	completion, err := c.model.GenerateContent(callCtx, []llms.MessageContent{
		{
			Role:  schema.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{llms.TextPart(prompt)},
		},
	},
		llms.WithTemperature(0.1),
		llms.WithMaxTokens(4096),
	)
	if err != nil {
		return "", classify(err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("%w: empty completion", ErrConnection)
	}
	return completion.Choices[0].Content, nil
}

func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "eof") {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline") {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}

func retryable(err error) bool {
	return errors.Is(err, ErrConnection) || errors.Is(err, ErrTimeout)
}

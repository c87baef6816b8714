package gpt

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Jeffail/gabs/v2"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	requestTimeout = 120 * time.Second
)

// Client implements Service over the OpenAI chat-completions endpoint.
type Client struct {
	http   *resty.Client
	model  string
	logger *zap.Logger
}

// NewClient creates a completion client. An empty baseURL targets the OpenAI
// API; point it elsewhere for OpenAI-compatible providers.
func NewClient(baseURL, apiKey, model string, logger *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetAuthToken(apiKey).
		SetHeader("Content-Type", "application/json").
		SetTimeout(requestTimeout)

	return &Client{
		http:   httpClient,
		model:  model,
		logger: logger.Named("gpt"),
	}
}

// JSONChat sends the messages with JSON-object response format and returns
// the parsed object. Transport and server errors are retried with a delay;
// an unparseable completion is returned as an empty map because retrying a
// deterministic parse failure rarely helps.
func (c *Client) JSONChat(ctx context.Context, messages []Message, opts Options) (map[string]any, error) {
	if opts.Temperature == 0 {
		opts.Temperature = DefaultTemperature
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.RetryDelay == 0 {
		opts.RetryDelay = DefaultRetryDelay
	}

	body := map[string]any{
		"model":           c.model,
		"messages":        messages,
		"temperature":     opts.Temperature,
		"response_format": map[string]string{"type": "json_object"},
	}

	var lastErr error
	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Warn("Retrying completion request",
				zap.Int("attempt", attempt),
				zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(opts.RetryDelay):
			}
		}

		resp, err := c.http.R().
			SetContext(ctx).
			SetBody(body).
			Post("/chat/completions")
		if err != nil {
			lastErr = fmt.Errorf("completion request: %w", err)
			continue
		}
		if resp.StatusCode() != http.StatusOK {
			lastErr = fmt.Errorf("completion request returned status %d", resp.StatusCode())
			continue
		}

		result, err := ExtractJSON(resp.Body())
		if err != nil {
			c.logger.Error("Completion was not parseable JSON", zap.Error(err))
			return map[string]any{}, nil
		}
		c.logger.Debug("Received completion", zap.String("model", c.model))
		return result, nil
	}

	return nil, fmt.Errorf("completion failed after %d retries: %w", opts.MaxRetries, lastErr)
}

// ExtractJSON pulls the first choice's message content out of a completion
// response and parses it as a JSON object. Markdown code fences around the
// object are tolerated.
func ExtractJSON(response []byte) (map[string]any, error) {
	parsed, err := gabs.ParseJSON(response)
	if err != nil {
		return nil, fmt.Errorf("parse completion envelope: %w", err)
	}

	content, ok := parsed.Path("choices.0.message.content").Data().(string)
	if !ok {
		return nil, fmt.Errorf("completion has no message content")
	}

	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	inner, err := gabs.ParseJSON([]byte(content))
	if err != nil {
		return nil, fmt.Errorf("parse completion content: %w", err)
	}

	obj, ok := inner.Data().(map[string]any)
	if !ok {
		return nil, fmt.Errorf("completion content is not a JSON object")
	}
	return obj, nil
}

// Package gpt is a thin client for an OpenAI-compatible chat-completion API,
// constrained to JSON-object responses.
package gpt

import (
	"context"
	"time"
)

// ServiceName is the container key for the completion service.
const ServiceName = "gpt.Service"

// Message is one chat message in a completion request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options tunes a single completion call. Zero values fall back to the
// defaults below.
type Options struct {
	Temperature float64
	MaxRetries  int
	RetryDelay  time.Duration
}

// Completion defaults.
const (
	DefaultTemperature = 0.1
	DefaultMaxRetries  = 2
	DefaultRetryDelay  = time.Second
)

// Service sends chat messages and returns the parsed JSON object from the
// completion. An empty map with a nil error means the model answered but the
// answer was not usable JSON; callers treat that as "no result", not failure.
type Service interface {
	JSONChat(ctx context.Context, messages []Message, opts Options) (map[string]any, error)
}

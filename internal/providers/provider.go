// Package providers contains the LLM clients used for extraction and
// synthesis calls.
//
// Clients perform exactly one request per Complete call. Retry, backoff,
// and attempt timeouts belong to the caller's policy, so clients classify
// their errors (retryable, fatal, timeout) instead of retrying internally.
package providers

import (
	"context"
	"encoding/json"
	"time"
)

// LLMClient is the interface for chat/completion requests.
type LLMClient interface {
	// Complete sends a single chat completion request.
	Complete(ctx context.Context, req *Request) (*Result, error)

	// Name returns the client identifier (e.g., "openrouter").
	Name() string
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// ResponseFormat requests structured output conforming to a JSON Schema.
type ResponseFormat struct {
	Name       string          `json:"name"`
	JSONSchema json.RawMessage `json:"json_schema"`
}

// Request is a single completion request.
type Request struct {
	Messages []Message `json:"messages"`

	// Model selection (uses client default if empty)
	Model string `json:"model,omitempty"`

	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`

	// Structured output
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`

	// Request tracking
	RequestID string `json:"-"`
}

// Result is the response from a completion call.
type Result struct {
	Content    string          `json:"content"`
	ParsedJSON json.RawMessage `json:"parsed_json,omitempty"` // Set when ResponseFormat was requested

	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`

	ExecutionTime time.Duration `json:"execution_time"`

	Provider  string `json:"provider"`
	ModelUsed string `json:"model_used"`
	RequestID string `json:"request_id"`
}

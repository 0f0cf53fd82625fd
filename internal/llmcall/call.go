// Package llmcall records every LLM API call with its prompt key, response,
// and token usage for traceability.
package llmcall

import (
	"time"

	"github.com/google/uuid"

	"github.com/skeinlabs/skein/internal/docstore"
	"github.com/skeinlabs/skein/internal/providers"
)

// Call represents a recorded LLM API call.
type Call struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	LatencyMs int       `json:"latency_ms"`

	// Context references
	ChapterID string `json:"chapter_id,omitempty"`
	StoryID   string `json:"story_id,omitempty"`
	JobID     string `json:"job_id,omitempty"`

	// Prompt traceability
	PromptKey string `json:"prompt_key"`

	// Model info
	Provider string `json:"provider"`
	Model    string `json:"model"`

	// Token usage
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`

	// Response
	Response string `json:"response"`

	// Status
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// RecordOptions provides context for recording an LLM call.
type RecordOptions struct {
	ChapterID string
	StoryID   string
	JobID     string
	PromptKey string
}

// FromResult creates a Call from a provider result. Pass a nil result with
// a non-nil err to record a failed call.
func FromResult(result *providers.Result, err error, opts RecordOptions) *Call {
	call := &Call{
		ID:        uuid.New().String(),
		Timestamp: time.Now(),
		ChapterID: opts.ChapterID,
		StoryID:   opts.StoryID,
		JobID:     opts.JobID,
		PromptKey: opts.PromptKey,
		Success:   err == nil,
	}
	if err != nil {
		call.Error = err.Error()
	}
	if result != nil {
		call.LatencyMs = int(result.ExecutionTime.Milliseconds())
		call.Provider = result.Provider
		call.Model = result.ModelUsed
		call.InputTokens = result.PromptTokens
		call.OutputTokens = result.CompletionTokens
		call.Response = result.Content
	}
	return call
}

// ToMap converts the Call to a document for storage.
func (c *Call) ToMap() map[string]any {
	m := map[string]any{
		"id":            c.ID,
		"timestamp":     c.Timestamp.UTC().Format(time.RFC3339),
		"latency_ms":    c.LatencyMs,
		"prompt_key":    c.PromptKey,
		"provider":      c.Provider,
		"model":         c.Model,
		"input_tokens":  c.InputTokens,
		"output_tokens": c.OutputTokens,
		"response":      c.Response,
		"success":       c.Success,
	}
	if c.ChapterID != "" {
		m["chapter_id"] = c.ChapterID
	}
	if c.StoryID != "" {
		m["story_id"] = c.StoryID
	}
	if c.JobID != "" {
		m["job_id"] = c.JobID
	}
	if c.Error != "" {
		m["error"] = c.Error
	}
	return m
}

// Record queues the call record on the sink (fire-and-forget).
func (c *Call) Record(sink *docstore.Sink) {
	if sink == nil || c == nil {
		return
	}
	sink.Send(docstore.WriteOp{
		Collection: docstore.CollectionLLMCall,
		Op:         docstore.OpCreate,
		Document:   c.ToMap(),
	})
}

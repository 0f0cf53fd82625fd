// Package metrics provides token and timing tracking for pipeline LLM calls.
package metrics

import (
	"time"

	"github.com/skeinlabs/skein/internal/docstore"
)

// Stage names used for metric attribution.
const (
	StageExtraction = "extraction"
	StageSynthesis  = "synthesis"
	StageCheckpoint = "checkpoint"
)

// Metric is a single recorded measurement for an LLM call. Metrics are
// append-only documents with full chapter attribution.
type Metric struct {
	// Attribution
	JobID     string `json:"job_id,omitempty"`
	ChapterID string `json:"chapter_id,omitempty"`
	StoryID   string `json:"story_id,omitempty"`
	Stage     string `json:"stage,omitempty"`
	Kind      string `json:"kind,omitempty"` // Extraction kind, empty for synthesis

	// Provider info
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`

	// Tokens and timing
	PromptTokens     int     `json:"prompt_tokens,omitempty"`
	CompletionTokens int     `json:"completion_tokens,omitempty"`
	TotalTokens      int     `json:"total_tokens,omitempty"`
	ExecutionSeconds float64 `json:"execution_seconds,omitempty"`
	Attempts         int     `json:"attempts,omitempty"`

	// Status
	Success   bool   `json:"success"`
	ErrorType string `json:"error_type,omitempty"`

	CreatedAt time.Time `json:"created_at,omitempty"`
}

// ToMap converts the metric to a document for storage.
func (m *Metric) ToMap() map[string]any {
	data := map[string]any{
		"success":    m.Success,
		"created_at": m.CreatedAt.UTC().Format(time.RFC3339),
	}

	if m.JobID != "" {
		data["job_id"] = m.JobID
	}
	if m.ChapterID != "" {
		data["chapter_id"] = m.ChapterID
	}
	if m.StoryID != "" {
		data["story_id"] = m.StoryID
	}
	if m.Stage != "" {
		data["stage"] = m.Stage
	}
	if m.Kind != "" {
		data["kind"] = m.Kind
	}
	if m.Provider != "" {
		data["provider"] = m.Provider
	}
	if m.Model != "" {
		data["model"] = m.Model
	}
	if m.PromptTokens > 0 {
		data["prompt_tokens"] = m.PromptTokens
	}
	if m.CompletionTokens > 0 {
		data["completion_tokens"] = m.CompletionTokens
	}
	if m.TotalTokens > 0 {
		data["total_tokens"] = m.TotalTokens
	}
	if m.ExecutionSeconds > 0 {
		data["execution_seconds"] = m.ExecutionSeconds
	}
	if m.Attempts > 0 {
		data["attempts"] = m.Attempts
	}
	if m.ErrorType != "" {
		data["error_type"] = m.ErrorType
	}

	return data
}

// Record queues the metric on the sink (fire-and-forget).
func (m *Metric) Record(sink *docstore.Sink) {
	if sink == nil {
		return
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	sink.Send(docstore.WriteOp{
		Collection: docstore.CollectionMetric,
		Op:         docstore.OpCreate,
		Document:   m.ToMap(),
	})
}

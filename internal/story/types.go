// Package story provides shared domain types used across multiple packages.
// This package has no dependencies on other skein packages to avoid import cycles.
package story

import "time"

// Kind identifies one of the fixed extraction categories.
// The set is closed: new kinds require a schema, a prompt template, and a
// document collection, so they are compiled in rather than user-extensible.
type Kind string

const (
	KindCharacter Kind = "character"
	KindPlot      Kind = "plot"
	KindWorld     Kind = "world"
	KindStructure Kind = "structure"
)

// Kinds returns all extraction kinds in canonical order.
func Kinds() []Kind {
	return []Kind{KindCharacter, KindPlot, KindWorld, KindStructure}
}

// ParseKind converts a string to a Kind.
// Returns false if the string is not a known kind.
func ParseKind(s string) (Kind, bool) {
	switch Kind(s) {
	case KindCharacter, KindPlot, KindWorld, KindStructure:
		return Kind(s), true
	default:
		return "", false
	}
}

// ChapterStatus is the externally visible processing state of a chapter,
// stored in the relational store.
type ChapterStatus string

const (
	StatusPending    ChapterStatus = "pending"
	StatusProcessing ChapterStatus = "processing"
	StatusCompleted  ChapterStatus = "completed"
	StatusFailed     ChapterStatus = "failed"
)

// Chapter is a unit of narrative text. Chapters are created by an external
// collaborator before the pipeline runs; the pipeline only reads them.
type Chapter struct {
	ID      string // Chapter identity
	StoryID string // Parent story
	Ordinal int    // Position within the story, 1-based
	Title   string // Optional display title
	Body    string // Immutable text content
}

// WordCount returns an approximate word count for the chapter body.
func (c *Chapter) WordCount() int {
	n := 0
	inWord := false
	for _, r := range c.Body {
		switch {
		case r == ' ' || r == '\n' || r == '\t' || r == '\r':
			inWord = false
		case !inWord:
			inWord = true
			n++
		}
	}
	return n
}

// TokenUsage records token consumption for a single language-service call.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates usage from another call.
func (u *TokenUsage) Add(other TokenUsage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// ExtractionRecord is the structured output of one extraction task.
// (ChapterID, Kind) uniquely identifies a record; reruns replace, never
// append. The Payload is validated against the kind's schema before the
// record is considered committed.
type ExtractionRecord struct {
	ChapterID string     `json:"chapter_id"`
	StoryID   string     `json:"story_id"`
	Kind      Kind       `json:"kind"`
	Payload   []byte     `json:"payload"` // Kind-specific JSON, opaque to the orchestrator
	Usage     TokenUsage `json:"usage"`
	CreatedAt time.Time  `json:"created_at"`
}

// SynthesizedContext is the condensed rolling summary of everything known
// up to and including a chapter. Exactly one current version exists per
// chapter; reruns replace it wholesale with an incremented version.
type SynthesizedContext struct {
	ChapterID   string     `json:"chapter_id"`
	StoryID     string     `json:"story_id"`
	Version     int        `json:"version"`
	Condensed   string     `json:"condensed"`
	DerivedFrom []Kind     `json:"derived_from"`
	Usage       TokenUsage `json:"usage"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Empty reports whether this is the initial (absent) context.
func (s *SynthesizedContext) Empty() bool {
	return s == nil || s.Condensed == ""
}

// Package prompts holds the embedded prompt templates for extraction and
// synthesis and renders them against chapter data.
//
// Embedded .tmpl files in code are the source of truth. Each template pair
// is addressed by a hierarchical key (extract.character.system,
// synthesis.user, ...) so callers and stored LLM call records can reference
// the exact prompt used.
package prompts

// EmbeddedPrompt is a prompt loaded from an embedded .tmpl file.
type EmbeddedPrompt struct {
	Key       string   // Hierarchical key: extract.character.system
	Text      string   // The prompt text (Go template)
	Variables []string // Extracted template variables
	Hash      string   // SHA256 hash of the text for change detection
}

// ExtractionData is the render input for the per-kind extraction user prompts.
type ExtractionData struct {
	ChapterOrdinal int
	ChapterTitle   string
	ChapterBody    string
	PriorContext   string
}

// SynthesisData is the render input for the synthesis user prompt. The
// per-kind JSON fields carry the validated extraction payloads verbatim.
type SynthesisData struct {
	ChapterOrdinal int
	ChapterTitle   string
	WordCount      int
	CharacterJSON  string
	PlotJSON       string
	WorldJSON      string
	StructureJSON  string
}

package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/skeinlabs/skein/internal/docstore"
	"github.com/skeinlabs/skein/internal/llmcall"
	"github.com/skeinlabs/skein/internal/metrics"
	"github.com/skeinlabs/skein/internal/policy"
	"github.com/skeinlabs/skein/internal/prompts"
	"github.com/skeinlabs/skein/internal/providers"
	"github.com/skeinlabs/skein/internal/schema"
	"github.com/skeinlabs/skein/internal/story"
)

// DefaultMaxSynthesisChars bounds the condensed text carried forward to
// later chapters. Roughly 1500 words of dense prose.
const DefaultMaxSynthesisChars = 10000

// Synthesizer condenses the four extraction payloads into a single
// SynthesizedContext document.
type Synthesizer struct {
	Client   providers.LLMClient
	Policy   policy.Policy
	Model    string
	MaxChars int            // Bound on condensed text length (0 = DefaultMaxSynthesisChars)
	Sink     *docstore.Sink // Optional, records calls and metrics
	Logger   *slog.Logger
}

// condensedPayload is the schema-validated synthesis output. Only the
// condensed text is carried forward; the remaining fields exist to force
// the model through a structured summary before compressing.
type condensedPayload struct {
	CondensedText string `json:"condensed_text"`
}

// Synthesize runs the synthesis step. It requires a validated record for
// every extraction kind; a missing kind is a programming error upstream and
// fails fatally. currentVersion is the chapter's existing context version
// (0 when none exists); the result carries currentVersion+1.
func (s *Synthesizer) Synthesize(
	ctx context.Context,
	ch story.Chapter,
	records map[story.Kind]story.ExtractionRecord,
	currentVersion int,
	jobID string,
) (story.SynthesizedContext, policy.Outcome) {
	logger := s.loggerWith(ch)

	for _, kind := range story.Kinds() {
		if _, ok := records[kind]; !ok {
			return story.SynthesizedContext{}, fatalOutcome(fmt.Errorf("synthesis requires all extraction kinds, missing %s", kind))
		}
	}

	system, user, err := prompts.RenderSynthesis(prompts.SynthesisData{
		ChapterOrdinal: ch.Ordinal,
		ChapterTitle:   ch.Title,
		WordCount:      ch.WordCount(),
		CharacterJSON:  string(records[story.KindCharacter].Payload),
		PlotJSON:       string(records[story.KindPlot].Payload),
		WorldJSON:      string(records[story.KindWorld].Payload),
		StructureJSON:  string(records[story.KindStructure].Payload),
	})
	if err != nil {
		return story.SynthesizedContext{}, fatalOutcome(fmt.Errorf("render prompt: %w", err))
	}

	rawSchema, err := schema.Raw(schema.ContextKey)
	if err != nil {
		return story.SynthesizedContext{}, fatalOutcome(err)
	}

	op := func(ctx context.Context) (*providers.Result, error) {
		result, err := s.Client.Complete(ctx, &providers.Request{
			Messages: []providers.Message{
				{Role: "system", Content: system},
				{Role: "user", Content: user},
			},
			Model:          s.Model,
			ResponseFormat: &providers.ResponseFormat{Name: "chapter_context", JSONSchema: rawSchema},
		})

		llmcall.FromResult(result, err, llmcall.RecordOptions{
			ChapterID: ch.ID,
			StoryID:   ch.StoryID,
			JobID:     jobID,
			PromptKey: prompts.SynthesisKey + ".user",
		}).Record(s.Sink)

		if err != nil {
			return nil, err
		}
		if err := schema.Validate(schema.ContextKey, result.ParsedJSON); err != nil {
			return nil, policy.Retryable(fmt.Errorf("synthesis payload failed schema: %w", err))
		}
		return result, nil
	}

	result, outcome := policy.Run(ctx, s.Policy, op)

	metric := metrics.Metric{
		JobID:            jobID,
		ChapterID:        ch.ID,
		StoryID:          ch.StoryID,
		Stage:            metrics.StageSynthesis,
		Provider:         s.Client.Name(),
		Model:            s.Model,
		Attempts:         outcome.Attempts,
		ExecutionSeconds: outcome.Elapsed.Seconds(),
		Success:          !outcome.Failed(),
	}
	if result != nil {
		metric.PromptTokens = result.PromptTokens
		metric.CompletionTokens = result.CompletionTokens
		metric.TotalTokens = result.TotalTokens
		metric.Model = result.ModelUsed
	}
	if outcome.Failed() {
		metric.ErrorType = string(outcome.Class)
	}
	metric.Record(s.Sink)

	if outcome.Failed() {
		logger.Warn("synthesis failed",
			"status", outcome.Status,
			"class", outcome.Class,
			"attempts", outcome.Attempts,
			"error", outcome.Err)
		return story.SynthesizedContext{}, outcome
	}

	var payload condensedPayload
	if err := json.Unmarshal(result.ParsedJSON, &payload); err != nil {
		return story.SynthesizedContext{}, fatalOutcome(fmt.Errorf("decode synthesis payload: %w", err))
	}

	condensed := payload.CondensedText
	maxChars := s.MaxChars
	if maxChars <= 0 {
		maxChars = DefaultMaxSynthesisChars
	}
	if len(condensed) > maxChars {
		logger.Warn("condensed text over budget, truncating",
			"chars", len(condensed),
			"max", maxChars)
		condensed = truncateAtRune(condensed, maxChars)
	}

	logger.Debug("synthesis complete",
		"version", currentVersion+1,
		"chars", len(condensed),
		"tokens", result.TotalTokens)

	return story.SynthesizedContext{
		ChapterID:   ch.ID,
		StoryID:     ch.StoryID,
		Version:     currentVersion + 1,
		Condensed:   condensed,
		DerivedFrom: story.Kinds(),
		Usage: story.TokenUsage{
			PromptTokens:     result.PromptTokens,
			CompletionTokens: result.CompletionTokens,
			TotalTokens:      result.TotalTokens,
		},
		CreatedAt: time.Now(),
	}, outcome
}

func (s *Synthesizer) loggerWith(ch story.Chapter) *slog.Logger {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("chapter_id", ch.ID, "ordinal", ch.Ordinal)
}

// truncateAtRune cuts s to at most max bytes without splitting a rune.
func truncateAtRune(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

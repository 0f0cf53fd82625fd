// Package extraction runs the per-kind extraction tasks and the synthesis
// step that condenses their outputs into a rolling chapter context.
package extraction

import (
	"context"
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

// Task extracts one kind of structured data from a chapter.
type Task struct {
	Kind   story.Kind
	Client providers.LLMClient
	Policy policy.Policy
	Model  string
	Sink   *docstore.Sink // Optional, records calls and metrics
	Logger *slog.Logger
}

// Input carries the chapter and its accumulated prior context.
type Input struct {
	Chapter story.Chapter
	Prior   *story.SynthesizedContext
	JobID   string
}

// Run executes the extraction with the task's retry policy. The returned
// record is schema-valid; validation runs inside the retry loop so a
// malformed sample costs one attempt rather than the whole run.
func (t *Task) Run(ctx context.Context, in Input) (story.ExtractionRecord, policy.Outcome) {
	logger := t.logger().With("kind", t.Kind, "chapter_id", in.Chapter.ID)

	system, user, err := prompts.RenderExtraction(t.Kind, prompts.ExtractionData{
		ChapterOrdinal: in.Chapter.Ordinal,
		ChapterTitle:   in.Chapter.Title,
		ChapterBody:    in.Chapter.Body,
		PriorContext:   priorText(in.Prior),
	})
	if err != nil {
		return story.ExtractionRecord{}, fatalOutcome(fmt.Errorf("render prompt: %w", err))
	}

	rawSchema, err := schema.RawForKind(t.Kind)
	if err != nil {
		return story.ExtractionRecord{}, fatalOutcome(err)
	}

	promptKey := prompts.ExtractionKey(t.Kind) + ".user"

	op := func(ctx context.Context) (*providers.Result, error) {
		result, err := t.Client.Complete(ctx, &providers.Request{
			Messages: []providers.Message{
				{Role: "system", Content: system},
				{Role: "user", Content: user},
			},
			Model:          t.Model,
			ResponseFormat: &providers.ResponseFormat{Name: string(t.Kind), JSONSchema: rawSchema},
		})

		llmcall.FromResult(result, err, llmcall.RecordOptions{
			ChapterID: in.Chapter.ID,
			StoryID:   in.Chapter.StoryID,
			JobID:     in.JobID,
			PromptKey: promptKey,
		}).Record(t.Sink)

		if err != nil {
			return nil, err
		}
		if err := schema.ValidateKind(t.Kind, result.ParsedJSON); err != nil {
			// A different sample may validate; spend an attempt on it.
			return nil, policy.Retryable(fmt.Errorf("payload failed %s schema: %w", t.Kind, err))
		}
		return result, nil
	}

	result, outcome := policy.Run(ctx, t.Policy, op)

	metric := metrics.Metric{
		JobID:            in.JobID,
		ChapterID:        in.Chapter.ID,
		StoryID:          in.Chapter.StoryID,
		Stage:            metrics.StageExtraction,
		Kind:             string(t.Kind),
		Provider:         t.Client.Name(),
		Model:            t.Model,
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
	metric.Record(t.Sink)

	if outcome.Failed() {
		logger.Warn("extraction failed",
			"status", outcome.Status,
			"class", outcome.Class,
			"attempts", outcome.Attempts,
			"error", outcome.Err)
		return story.ExtractionRecord{}, outcome
	}

	logger.Debug("extraction complete",
		"attempts", outcome.Attempts,
		"tokens", result.TotalTokens)

	return story.ExtractionRecord{
		ChapterID: in.Chapter.ID,
		StoryID:   in.Chapter.StoryID,
		Kind:      t.Kind,
		Payload:   result.ParsedJSON,
		Usage: story.TokenUsage{
			PromptTokens:     result.PromptTokens,
			CompletionTokens: result.CompletionTokens,
			TotalTokens:      result.TotalTokens,
		},
		CreatedAt: time.Now(),
	}, outcome
}

func (t *Task) logger() *slog.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	return slog.Default()
}

// priorText returns the prior context body, or a marker for chapter one.
func priorText(prior *story.SynthesizedContext) string {
	if prior.Empty() {
		return "(none - this is the first chapter)"
	}
	return prior.Condensed
}

func fatalOutcome(err error) policy.Outcome {
	return policy.Outcome{
		Status: policy.StatusFatal,
		Class:  policy.ClassFatal,
		Err:    err,
	}
}

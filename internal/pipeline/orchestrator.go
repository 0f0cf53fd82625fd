package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/skeinlabs/skein/internal/checkpoint"
	"github.com/skeinlabs/skein/internal/docstore"
	"github.com/skeinlabs/skein/internal/extraction"
	"github.com/skeinlabs/skein/internal/metrics"
	"github.com/skeinlabs/skein/internal/policy"
	"github.com/skeinlabs/skein/internal/providers"
	"github.com/skeinlabs/skein/internal/story"
)

// DefaultFlowTimeout is the wall-clock ceiling for one chapter run,
// spanning extraction, synthesis, and checkpointing regardless of
// remaining retry budget.
const DefaultFlowTimeout = 30 * time.Minute

// Orchestrator runs the full pipeline for one chapter at a time. The
// four extraction tasks run concurrently and fail fast: the first fatal
// or exhausted outcome cancels the siblings. Synthesis and checkpointing
// follow sequentially.
type Orchestrator struct {
	Client providers.LLMClient
	Model  string

	ExtractionPolicy policy.Policy
	SynthesisPolicy  policy.Policy

	// MaxSynthesisChars bounds the condensed context; 0 uses the
	// synthesizer default.
	MaxSynthesisChars int

	// FlowTimeout is the per-chapter deadline; 0 uses DefaultFlowTimeout.
	FlowTimeout time.Duration

	Writer  *checkpoint.Writer
	Sink    *docstore.Sink // Optional, records calls and metrics
	Tracker *Tracker
	Logger  *slog.Logger
}

// Process runs a chapter through extraction, synthesis, and checkpoint.
// prior is the accumulated context from the nearest completed predecessor
// (nil for the first chapter); currentVersion is the chapter's existing
// context version, 0 when it has never been synthesized.
func (o *Orchestrator) Process(ctx context.Context, ch story.Chapter, prior *story.SynthesizedContext, currentVersion int, jobID string) Result {
	start := time.Now()
	logger := o.logger().With("chapter_id", ch.ID, "story_id", ch.StoryID, "ordinal", ch.Ordinal)

	timeout := o.FlowTimeout
	if timeout <= 0 {
		timeout = DefaultFlowTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	o.Tracker.Set(ch.ID, StateStarted)
	logger.Info("pipeline started", "context_version", currentVersion)

	records, err := o.extractAll(ctx, ch, prior, jobID)
	if err != nil {
		return o.fail(ch.ID, err, start, logger)
	}
	o.Tracker.Set(ch.ID, StateExtracted)

	o.Tracker.Set(ch.ID, StateSynthesizing)
	synth := &extraction.Synthesizer{
		Client:   o.Client,
		Policy:   o.SynthesisPolicy,
		Model:    o.Model,
		MaxChars: o.MaxSynthesisChars,
		Sink:     o.Sink,
		Logger:   o.Logger,
	}
	sc, outcome := synth.Synthesize(ctx, ch, records, currentVersion, jobID)
	if outcome.Failed() {
		return o.fail(ch.ID, &stageFailure{stage: metrics.StageSynthesis, outcome: outcome}, start, logger)
	}
	o.Tracker.Set(ch.ID, StateSynthesized)

	o.Tracker.Set(ch.ID, StateCheckpointing)
	cpIn := checkpoint.Input{Chapter: ch, Records: records, Context: sc}
	if err := o.Writer.Write(ctx, cpIn); err != nil {
		return o.fail(ch.ID, &stageFailure{stage: metrics.StageCheckpoint, outcome: checkpointOutcome(err)}, start, logger)
	}

	var usage story.TokenUsage
	for _, rec := range records {
		usage.Add(rec.Usage)
	}
	usage.Add(sc.Usage)

	o.Tracker.Set(ch.ID, StateCompleted)
	elapsed := time.Since(start)
	logger.Info("pipeline completed",
		"context_version", sc.Version,
		"total_tokens", usage.TotalTokens,
		"elapsed", elapsed)

	return Result{
		ChapterID:      ch.ID,
		Completed:      true,
		ContextVersion: sc.Version,
		Usage:          usage,
		Elapsed:        elapsed,
	}
}

// extractAll fans out one task per extraction kind and collects every
// validated record, or returns the first failure after cancelling the
// remaining tasks.
func (o *Orchestrator) extractAll(ctx context.Context, ch story.Chapter, prior *story.SynthesizedContext, jobID string) (map[story.Kind]story.ExtractionRecord, error) {
	o.Tracker.Set(ch.ID, StateExtracting)

	var mu sync.Mutex
	records := make(map[story.Kind]story.ExtractionRecord, len(story.Kinds()))

	g, gctx := errgroup.WithContext(ctx)
	for _, kind := range story.Kinds() {
		g.Go(func() error {
			task := &extraction.Task{
				Kind:   kind,
				Client: o.Client,
				Policy: o.ExtractionPolicy,
				Model:  o.Model,
				Sink:   o.Sink,
				Logger: o.Logger,
			}
			rec, outcome := task.Run(gctx, extraction.Input{Chapter: ch, Prior: prior, JobID: jobID})
			if outcome.Failed() {
				return &stageFailure{stage: metrics.StageExtraction, kind: kind, outcome: outcome}
			}
			mu.Lock()
			records[kind] = rec
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return records, nil
}

// fail records a failed run and converts the stage error into a Result.
func (o *Orchestrator) fail(chapterID string, err error, start time.Time, logger *slog.Logger) Result {
	res := Result{
		ChapterID: chapterID,
		Err:       err,
		Elapsed:   time.Since(start),
	}

	var sf *stageFailure
	if errors.As(err, &sf) {
		res.Stage = sf.stage
		res.Class = sf.outcome.Class
	} else {
		res.Stage = metrics.StageExtraction
		res.Class = policy.ClassFatal
	}

	o.Tracker.SetFailed(chapterID, res.Stage, err.Error())
	logger.Error("pipeline failed",
		"stage", res.Stage,
		"class", string(res.Class),
		"error", err)
	return res
}

func (o *Orchestrator) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// checkpointOutcome classifies a checkpoint error. Both partial and
// document-store failures are recoverable by rerunning the chapter, so
// they classify retryable unless the flow deadline expired.
func checkpointOutcome(err error) policy.Outcome {
	class := policy.ClassRetryable
	status := policy.StatusRetryExhausted
	if errors.Is(err, context.DeadlineExceeded) {
		class = policy.ClassTimeout
		status = policy.StatusTimedOut
	}
	return policy.Outcome{Status: status, Class: class, Err: err}
}

// Package pipeline orchestrates chapter processing: a concurrent fan-out
// of the four extraction tasks, a single synthesis call, and a dual-store
// checkpoint. One Process call handles one chapter end to end.
package pipeline

import (
	"fmt"
	"time"

	"github.com/skeinlabs/skein/internal/policy"
	"github.com/skeinlabs/skein/internal/story"
)

// State is the observable position of a chapter inside a pipeline run.
type State string

const (
	StateStarted       State = "started"
	StateExtracting    State = "extracting"
	StateExtracted     State = "extracted"
	StateSynthesizing  State = "synthesizing"
	StateSynthesized   State = "synthesized"
	StateCheckpointing State = "checkpointing"
	StateCompleted     State = "completed"
	StateFailed        State = "failed"
)

// Result is the caller-visible outcome of one pipeline run. A failed run
// always carries the stage it failed in and the error classification, so
// the caller can decide between retrying the chapter, skipping it, or
// alerting an operator.
type Result struct {
	ChapterID string
	Completed bool

	// Failure details, zero when Completed.
	Stage string
	Class policy.Classification
	Err   error

	// Success details.
	ContextVersion int
	Usage          story.TokenUsage

	Elapsed time.Duration
}

// stageFailure carries a classified task outcome out of the extraction
// group so the orchestrator can report which kind failed first.
type stageFailure struct {
	stage   string
	kind    story.Kind
	outcome policy.Outcome
}

func (f *stageFailure) Error() string {
	if f.kind != "" {
		return fmt.Sprintf("%s (%s): %v", f.stage, f.kind, f.outcome.Err)
	}
	return fmt.Sprintf("%s: %v", f.stage, f.outcome.Err)
}

func (f *stageFailure) Unwrap() error { return f.outcome.Err }

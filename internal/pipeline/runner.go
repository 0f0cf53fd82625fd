package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/skeinlabs/skein/internal/jobs"
	"github.com/skeinlabs/skein/internal/relstore"
	"github.com/skeinlabs/skein/internal/story"
)

// ChapterStore is the relational access the runner needs.
type ChapterStore interface {
	GetChapter(id string) (relstore.ChapterRow, error)
	ListStoryChapters(storyID string) ([]relstore.ChapterRow, error)
	MarkProcessing(id string) error
	MarkFailed(id, errClass, errMsg string) error
}

// JobRecorder persists job lifecycle records. Satisfied by *jobs.Manager.
type JobRecorder interface {
	Start(ctx context.Context, jobType, chapterID, storyID string) (*jobs.Record, error)
	Complete(ctx context.Context, rec *jobs.Record) error
	Fail(ctx context.Context, rec *jobs.Record, stage, errClass, errMsg string) error
}

// Runner is the submission surface of the pipeline. It resolves a
// chapter's inputs, runs the orchestrator, and records the outcome in
// the relational store and the job log.
type Runner struct {
	Chapters ChapterStore
	Acc      *Accumulator
	Orch     *Orchestrator
	Jobs     JobRecorder // Optional
	Logger   *slog.Logger
}

// Submit processes one chapter end to end. The returned error covers
// input resolution only; pipeline failures are reported in the Result.
func (r *Runner) Submit(ctx context.Context, chapterID string) (Result, error) {
	row, err := r.Chapters.GetChapter(chapterID)
	if err != nil {
		return Result{}, fmt.Errorf("load chapter %s: %w", chapterID, err)
	}
	return r.run(ctx, row, jobs.TypeProcessChapter)
}

// Reprocess reruns a story's chapters in ordinal order, so each
// chapter's synthesis sees the freshly rebuilt context of its
// predecessors. An empty chapterIDs reruns the whole story; otherwise
// only the named chapters run, still ordered by ordinal. Processing
// stops at the first failed chapter because later chapters would
// accumulate from a stale context.
func (r *Runner) Reprocess(ctx context.Context, storyID string, chapterIDs []string) ([]Result, error) {
	rows, err := r.Chapters.ListStoryChapters(storyID)
	if err != nil {
		return nil, fmt.Errorf("list story %s: %w", storyID, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("story %s has no chapters", storyID)
	}

	if len(chapterIDs) > 0 {
		want := make(map[string]bool, len(chapterIDs))
		for _, id := range chapterIDs {
			want[id] = true
		}
		selected := make([]relstore.ChapterRow, 0, len(chapterIDs))
		for _, row := range rows {
			if want[row.ID] {
				selected = append(selected, row)
				delete(want, row.ID)
			}
		}
		for id := range want {
			return nil, fmt.Errorf("chapter %s not in story %s", id, storyID)
		}
		rows = selected
	}

	results := make([]Result, 0, len(rows))
	for _, row := range rows {
		res, err := r.run(ctx, row, jobs.TypeReprocessStory)
		if err != nil {
			return results, err
		}
		results = append(results, res)
		if !res.Completed {
			r.logger().Warn("story reprocess stopped at failed chapter",
				"story_id", storyID,
				"chapter_id", row.ID,
				"ordinal", row.Ordinal,
				"stage", res.Stage)
			break
		}
	}
	return results, nil
}

func (r *Runner) run(ctx context.Context, row relstore.ChapterRow, jobType string) (Result, error) {
	logger := r.logger().With("chapter_id", row.ID, "story_id", row.StoryID)

	var job *jobs.Record
	if r.Jobs != nil {
		var err error
		job, err = r.Jobs.Start(ctx, jobType, row.ID, row.StoryID)
		if err != nil {
			logger.Warn("job record not persisted", "error", err)
		}
	}

	prior, err := r.Acc.Prior(ctx, row.Chapter)
	if err != nil {
		return Result{}, r.abort(ctx, job, row.ID, fmt.Errorf("resolve prior context: %w", err))
	}
	currentVersion, err := r.Acc.CurrentVersion(ctx, row.ID)
	if err != nil {
		return Result{}, r.abort(ctx, job, row.ID, fmt.Errorf("resolve context version: %w", err))
	}

	if err := r.Chapters.MarkProcessing(row.ID); err != nil {
		return Result{}, r.abort(ctx, job, row.ID, fmt.Errorf("mark processing: %w", err))
	}

	jobID := ""
	if job != nil {
		jobID = job.JobID
	}
	res := r.Orch.Process(ctx, row.Chapter, prior, currentVersion, jobID)

	if res.Completed {
		if job != nil {
			if err := r.Jobs.Complete(ctx, job); err != nil {
				logger.Warn("job completion not persisted", "error", err)
			}
		}
		return res, nil
	}

	errMsg := ""
	if res.Err != nil {
		errMsg = res.Err.Error()
	}
	if err := r.Chapters.MarkFailed(row.ID, string(res.Class), errMsg); err != nil {
		logger.Warn("chapter failure not persisted", "error", err)
	}
	if job != nil {
		if err := r.Jobs.Fail(ctx, job, res.Stage, string(res.Class), errMsg); err != nil {
			logger.Warn("job failure not persisted", "error", err)
		}
	}
	return res, nil
}

// abort closes the job record for a run that never reached the
// orchestrator and returns the original error.
func (r *Runner) abort(ctx context.Context, job *jobs.Record, chapterID string, err error) error {
	if r.Jobs != nil && job != nil {
		if ferr := r.Jobs.Fail(ctx, job, "", "", err.Error()); ferr != nil {
			r.logger().Warn("job failure not persisted", "chapter_id", chapterID, "error", ferr)
		}
	}
	return err
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// StatusFor reports the live tracker state for a chapter, falling back
// to the relational status when nothing is being tracked.
func (r *Runner) StatusFor(chapterID string) (Status, error) {
	if st, ok := r.Orch.Tracker.Get(chapterID); ok {
		return st, nil
	}
	row, err := r.Chapters.GetChapter(chapterID)
	if err != nil {
		return Status{}, err
	}
	st := Status{ChapterID: chapterID, UpdatedAt: row.UpdatedAt}
	switch row.Status {
	case story.StatusCompleted:
		st.State = StateCompleted
	case story.StatusFailed:
		st.State = StateFailed
		st.Error = row.Error
	case story.StatusProcessing:
		st.State = StateStarted
	default:
		st.State = State(row.Status)
	}
	return st, nil
}

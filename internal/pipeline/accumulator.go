package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/skeinlabs/skein/internal/relstore"
	"github.com/skeinlabs/skein/internal/story"
)

// ContextReader fetches synthesized contexts from the document store.
type ContextReader interface {
	GetChapterContext(ctx context.Context, chapterID string) (*story.SynthesizedContext, error)
}

// ChapterIndex locates chapters in the relational store.
type ChapterIndex interface {
	PriorCompletedChapter(storyID string, ordinal int) (relstore.ChapterRow, error)
}

// Accumulator resolves the prior-context input for a chapter run. The
// relational store decides which chapter's context is current (nearest
// completed predecessor by ordinal); the document store holds the payload.
// It is read-only with respect to the running chapter: context advances
// only when a later chapter's checkpoint commits.
type Accumulator struct {
	Rel  ChapterIndex
	Docs ContextReader
}

// Prior returns the accumulated context preceding the given chapter, or
// nil for the first chapter of a story (and for chapters whose
// predecessors have never completed).
func (a *Accumulator) Prior(ctx context.Context, ch story.Chapter) (*story.SynthesizedContext, error) {
	row, err := a.Rel.PriorCompletedChapter(ch.StoryID, ch.Ordinal)
	if errors.Is(err, relstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("locate prior chapter: %w", err)
	}

	sc, err := a.Docs.GetChapterContext(ctx, row.ID)
	if err != nil {
		return nil, fmt.Errorf("load context for chapter %s: %w", row.ID, err)
	}
	if sc == nil {
		// The relational row says completed but the document is gone.
		// Treat it as no prior context rather than failing the run.
		return nil, nil
	}
	return sc, nil
}

// CurrentVersion returns the chapter's existing context version, or 0
// when the chapter has never been synthesized. Reruns increment from here.
func (a *Accumulator) CurrentVersion(ctx context.Context, chapterID string) (int, error) {
	sc, err := a.Docs.GetChapterContext(ctx, chapterID)
	if err != nil {
		return 0, fmt.Errorf("load current context: %w", err)
	}
	if sc == nil {
		return 0, nil
	}
	return sc.Version, nil
}

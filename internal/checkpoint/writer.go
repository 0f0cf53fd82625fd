// Package checkpoint persists a completed pipeline run across the
// document store and the relational store. Writes are strictly ordered:
// all document upserts commit first, then the relational row. The
// relational row is the only externally visible completion signal, so a
// relational failure after the document writes leaves an orphaned but
// re-derivable copy that the next successful run overwrites.
package checkpoint

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/skeinlabs/skein/internal/relstore"
	"github.com/skeinlabs/skein/internal/story"
)

// Store names used in checkpoint errors.
const (
	StoreDocument   = "document"
	StoreRelational = "relational"
)

// Error reports which store a checkpoint write failed in.
type Error struct {
	Store string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("checkpoint %s store: %v", e.Store, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsPartial reports whether err is a checkpoint failure that left the
// document store updated but not the relational store. Partial
// checkpoints are benign: rerunning the chapter reconciles both stores.
func IsPartial(err error) bool {
	cerr, ok := err.(*Error)
	return ok && cerr.Store == StoreRelational
}

// DocumentStore holds the extraction and context payloads.
type DocumentStore interface {
	UpsertExtraction(ctx context.Context, rec story.ExtractionRecord) (string, error)
	UpsertChapterContext(ctx context.Context, sc story.SynthesizedContext) (string, error)
}

// RelationalStore records chapter completion metadata.
type RelationalStore interface {
	WriteCheckpoint(ctx context.Context, id string, cp relstore.Checkpoint) error
}

// Input carries everything a successful run produced for one chapter.
type Input struct {
	Chapter story.Chapter
	Records map[story.Kind]story.ExtractionRecord
	Context story.SynthesizedContext
}

// Writer commits pipeline results to both stores.
type Writer struct {
	Docs   DocumentStore
	Rel    RelationalStore
	Logger *slog.Logger
}

// Write upserts the four extraction payloads and the synthesized
// context into the document store, then marks the chapter completed in
// the relational store. Every write is an idempotent upsert keyed by
// (chapter, kind) or (chapter), so a failed checkpoint can be retried
// by rerunning the whole chapter.
func (w *Writer) Write(ctx context.Context, in Input) error {
	logger := w.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("chapter_id", in.Chapter.ID)

	var usage story.TokenUsage
	kinds := make([]story.Kind, 0, len(in.Records))

	for _, kind := range story.Kinds() {
		rec, ok := in.Records[kind]
		if !ok {
			return &Error{Store: StoreDocument, Err: fmt.Errorf("missing %s extraction for chapter %s", kind, in.Chapter.ID)}
		}
		if _, err := w.Docs.UpsertExtraction(ctx, rec); err != nil {
			return &Error{Store: StoreDocument, Err: fmt.Errorf("upsert %s extraction: %w", kind, err)}
		}
		usage.Add(rec.Usage)
		kinds = append(kinds, kind)
	}

	if _, err := w.Docs.UpsertChapterContext(ctx, in.Context); err != nil {
		return &Error{Store: StoreDocument, Err: fmt.Errorf("upsert chapter context: %w", err)}
	}
	usage.Add(in.Context.Usage)

	cp := relstore.Checkpoint{
		ContextVersion: in.Context.Version,
		Kinds:          kinds,
		Usage:          usage,
	}
	if err := ctx.Err(); err != nil {
		return &Error{Store: StoreRelational, Err: err}
	}
	if err := w.Rel.WriteCheckpoint(ctx, in.Chapter.ID, cp); err != nil {
		logger.Warn("relational checkpoint failed after document writes",
			"context_version", in.Context.Version,
			"error", err)
		return &Error{Store: StoreRelational, Err: err}
	}

	logger.Info("checkpoint committed",
		"context_version", in.Context.Version,
		"total_tokens", usage.TotalTokens)
	return nil
}

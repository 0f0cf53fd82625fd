package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/skeinlabs/skein/internal/relstore"
	"github.com/skeinlabs/skein/internal/story"
)

type fakeDocs struct {
	extractions []story.ExtractionRecord
	contexts    []story.SynthesizedContext
	failKind    story.Kind
	failContext bool
	onContext   func() // Invoked during the context upsert
}

func (f *fakeDocs) UpsertExtraction(_ context.Context, rec story.ExtractionRecord) (string, error) {
	if rec.Kind == f.failKind {
		return "", errors.New("store unavailable")
	}
	f.extractions = append(f.extractions, rec)
	return "doc-" + string(rec.Kind), nil
}

func (f *fakeDocs) UpsertChapterContext(_ context.Context, sc story.SynthesizedContext) (string, error) {
	if f.onContext != nil {
		f.onContext()
	}
	if f.failContext {
		return "", errors.New("store unavailable")
	}
	f.contexts = append(f.contexts, sc)
	return "doc-ctx", nil
}

type fakeRel struct {
	checkpoints map[string]relstore.Checkpoint
	err         error
}

func (f *fakeRel) WriteCheckpoint(_ context.Context, id string, cp relstore.Checkpoint) error {
	if f.err != nil {
		return f.err
	}
	if f.checkpoints == nil {
		f.checkpoints = map[string]relstore.Checkpoint{}
	}
	f.checkpoints[id] = cp
	return nil
}

func testInput() Input {
	records := make(map[story.Kind]story.ExtractionRecord, 4)
	for _, kind := range story.Kinds() {
		records[kind] = story.ExtractionRecord{
			ChapterID: "ch-3",
			StoryID:   "st-1",
			Kind:      kind,
			Payload:   json.RawMessage(`{}`),
			Usage:     story.TokenUsage{PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150},
		}
	}
	return Input{
		Chapter: story.Chapter{ID: "ch-3", StoryID: "st-1", Ordinal: 3},
		Records: records,
		Context: story.SynthesizedContext{
			ChapterID: "ch-3",
			StoryID:   "st-1",
			Version:   2,
			Condensed: "=== CHAPTER 3 ===",
			Usage:     story.TokenUsage{PromptTokens: 400, CompletionTokens: 200, TotalTokens: 600},
		},
	}
}

func TestWrite(t *testing.T) {
	docs := &fakeDocs{}
	rel := &fakeRel{}
	w := &Writer{Docs: docs, Rel: rel}

	if err := w.Write(context.Background(), testInput()); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	if len(docs.extractions) != 4 {
		t.Errorf("extraction upserts = %d, want 4", len(docs.extractions))
	}
	if len(docs.contexts) != 1 {
		t.Errorf("context upserts = %d, want 1", len(docs.contexts))
	}

	cp, ok := rel.checkpoints["ch-3"]
	if !ok {
		t.Fatal("relational checkpoint not written")
	}
	if cp.ContextVersion != 2 {
		t.Errorf("ContextVersion = %d, want 2", cp.ContextVersion)
	}
	if len(cp.Kinds) != 4 {
		t.Errorf("Kinds = %v", cp.Kinds)
	}
	// 4 extractions at 150 tokens plus one synthesis at 600.
	if cp.Usage.TotalTokens != 1200 {
		t.Errorf("TotalTokens = %d, want 1200", cp.Usage.TotalTokens)
	}
}

func TestWriteDocumentFailureSkipsRelational(t *testing.T) {
	docs := &fakeDocs{failKind: story.KindPlot}
	rel := &fakeRel{}
	w := &Writer{Docs: docs, Rel: rel}

	err := w.Write(context.Background(), testInput())
	if err == nil {
		t.Fatal("Write() error = nil, want document store error")
	}

	var cerr *Error
	if !errors.As(err, &cerr) || cerr.Store != StoreDocument {
		t.Errorf("error = %v, want document store error", err)
	}
	if IsPartial(err) {
		t.Error("IsPartial() = true for document failure")
	}
	if len(rel.checkpoints) != 0 {
		t.Error("relational store written despite document failure")
	}
}

func TestWriteContextFailureSkipsRelational(t *testing.T) {
	docs := &fakeDocs{failContext: true}
	rel := &fakeRel{}
	w := &Writer{Docs: docs, Rel: rel}

	err := w.Write(context.Background(), testInput())
	if err == nil {
		t.Fatal("Write() error = nil, want document store error")
	}
	if len(rel.checkpoints) != 0 {
		t.Error("relational store written despite context failure")
	}
}

func TestWriteRelationalFailureIsPartial(t *testing.T) {
	docs := &fakeDocs{}
	rel := &fakeRel{err: errors.New("database is locked")}
	w := &Writer{Docs: docs, Rel: rel}

	err := w.Write(context.Background(), testInput())
	if err == nil {
		t.Fatal("Write() error = nil, want relational store error")
	}
	if !IsPartial(err) {
		t.Errorf("IsPartial() = false for relational failure: %v", err)
	}
	// Document writes already committed before the relational failure.
	if len(docs.extractions) != 4 || len(docs.contexts) != 1 {
		t.Error("document writes missing before relational failure")
	}
}

func TestWriteCancelledBeforeRelational(t *testing.T) {
	docs := &fakeDocs{}
	rel := &fakeRel{}
	w := &Writer{Docs: docs, Rel: rel}

	// Cancellation lands while the context upsert is in flight; the
	// relational write must not start.
	ctx, cancel := context.WithCancel(context.Background())
	docs.onContext = cancel

	err := w.Write(ctx, testInput())
	if err == nil {
		t.Fatal("Write() error = nil, want cancellation")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if len(rel.checkpoints) != 0 {
		t.Error("relational store written after cancellation")
	}
}

func TestWriteMissingRecord(t *testing.T) {
	in := testInput()
	delete(in.Records, story.KindWorld)
	w := &Writer{Docs: &fakeDocs{}, Rel: &fakeRel{}}

	err := w.Write(context.Background(), in)
	if err == nil {
		t.Fatal("Write() error = nil, want missing record error")
	}
}

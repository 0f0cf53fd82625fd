package jobs

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/skeinlabs/skein/internal/docstore"
)

// fakeStore answers the GraphQL endpoint with canned responses keyed on
// the operation appearing in the query text.
type fakeStore struct {
	queries   []string
	responses map[string]string
}

func (f *fakeStore) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v0/graphql" {
			http.NotFound(w, r)
			return
		}
		var req docstore.GQLRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.queries = append(f.queries, req.Query)

		w.Header().Set("Content-Type", "application/json")
		for op, resp := range f.responses {
			if strings.Contains(req.Query, op) {
				_, _ = w.Write([]byte(resp))
				return
			}
		}
		_, _ = w.Write([]byte(`{"data":{}}`))
	}
}

func newTestManager(t *testing.T, fake *fakeStore) *Manager {
	t.Helper()
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)
	return NewManager(docstore.NewClient(srv.URL), nil)
}

func TestStartComplete(t *testing.T) {
	fake := &fakeStore{responses: map[string]string{
		"create_Job": `{"data":{"create_Job":[{"_docID":"doc-1"}]}}`,
		"update_Job": `{"data":{"update_Job":[{"_docID":"doc-1"}]}}`,
	}}
	mgr := newTestManager(t, fake)
	ctx := context.Background()

	rec, err := mgr.Start(ctx, TypeProcessChapter, "ch-1", "st-1")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if rec.DocID != "doc-1" {
		t.Errorf("DocID = %s, want doc-1", rec.DocID)
	}
	if rec.JobID == "" {
		t.Error("expected a generated job id")
	}
	if rec.Status != StatusRunning {
		t.Errorf("Status = %s, want running", rec.Status)
	}

	if err := mgr.Complete(ctx, rec); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if rec.Status != StatusCompleted {
		t.Errorf("Status = %s, want completed", rec.Status)
	}
	if rec.FinishedAt == nil {
		t.Error("expected FinishedAt to be set")
	}

	if len(fake.queries) != 2 {
		t.Fatalf("expected 2 store calls, got %d", len(fake.queries))
	}
	for _, want := range []string{"create_Job", `job_type: "process_chapter"`, `chapter_id: "ch-1"`} {
		if !strings.Contains(fake.queries[0], want) {
			t.Errorf("create mutation missing %q:\n%s", want, fake.queries[0])
		}
	}
	if !strings.Contains(fake.queries[1], `status: "completed"`) {
		t.Errorf("update mutation missing completed status:\n%s", fake.queries[1])
	}
}

func TestFailRecordsStageAndClass(t *testing.T) {
	fake := &fakeStore{responses: map[string]string{
		"create_Job": `{"data":{"create_Job":[{"_docID":"doc-2"}]}}`,
		"update_Job": `{"data":{"update_Job":[{"_docID":"doc-2"}]}}`,
	}}
	mgr := newTestManager(t, fake)
	ctx := context.Background()

	rec, err := mgr.Start(ctx, TypeProcessChapter, "ch-2", "st-1")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := mgr.Fail(ctx, rec, "extraction", "retryable", "provider unavailable"); err != nil {
		t.Fatalf("Fail() error = %v", err)
	}

	update := fake.queries[1]
	for _, want := range []string{`status: "failed"`, `stage: "extraction"`, `error_class: "retryable"`} {
		if !strings.Contains(update, want) {
			t.Errorf("update mutation missing %q:\n%s", want, update)
		}
	}
}

func TestStartWriteFailureStillUsable(t *testing.T) {
	fake := &fakeStore{responses: map[string]string{
		"create_Job": `{"errors":[{"message":"store down"}]}`,
	}}
	mgr := newTestManager(t, fake)
	ctx := context.Background()

	rec, err := mgr.Start(ctx, TypeProcessChapter, "ch-3", "st-1")
	if err == nil {
		t.Fatal("expected error from failed create")
	}
	if rec == nil || rec.JobID == "" {
		t.Fatal("expected a usable record despite the write failure")
	}

	// Finishing a record that never landed in the store is a no-op.
	if err := mgr.Complete(ctx, rec); err != nil {
		t.Errorf("Complete() error = %v, want nil", err)
	}
	if len(fake.queries) != 1 {
		t.Errorf("expected no update call, got %d queries", len(fake.queries))
	}
}

func TestFinishNilRecord(t *testing.T) {
	mgr := newTestManager(t, &fakeStore{})
	if err := mgr.Complete(context.Background(), nil); err != nil {
		t.Errorf("Complete(nil) error = %v, want nil", err)
	}
}

func TestGet(t *testing.T) {
	fake := &fakeStore{responses: map[string]string{
		"Job(filter": `{"data":{"Job":[{
			"_docID": "doc-4",
			"job_id": "job-4",
			"job_type": "reprocess_story",
			"story_id": "st-2",
			"status": "failed",
			"stage": "synthesis",
			"error_class": "fatal",
			"error": "unknown provider",
			"started_at": "2026-02-01T08:00:00Z",
			"finished_at": "2026-02-01T08:05:00Z",
			"created_at": "2026-02-01T08:00:00Z"
		}]}}`,
	}}
	mgr := newTestManager(t, fake)

	rec, err := mgr.Get(context.Background(), "job-4")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if rec.Type != TypeReprocessStory {
		t.Errorf("Type = %s, want reprocess_story", rec.Type)
	}
	if rec.Status != StatusFailed || rec.Stage != "synthesis" {
		t.Errorf("Status/Stage = %s/%s, want failed/synthesis", rec.Status, rec.Stage)
	}
	if rec.FinishedAt == nil {
		t.Error("expected FinishedAt to parse")
	}
}

func TestGetNotFound(t *testing.T) {
	fake := &fakeStore{responses: map[string]string{
		"Job(filter": `{"data":{"Job":[]}}`,
	}}
	mgr := newTestManager(t, fake)

	if _, err := mgr.Get(context.Background(), "missing"); err == nil {
		t.Error("expected error for unknown job")
	}
}

func TestListFilterClauses(t *testing.T) {
	fake := &fakeStore{responses: map[string]string{
		"Job(": `{"data":{"Job":[]}}`,
	}}
	mgr := newTestManager(t, fake)

	_, err := mgr.List(context.Background(), ListFilter{Status: StatusRunning, ChapterID: "ch-1", Limit: 5})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}

	q := fake.queries[0]
	for _, want := range []string{`status: {_eq: "running"}`, `chapter_id: {_eq: "ch-1"}`, "limit: 5"} {
		if !strings.Contains(q, want) {
			t.Errorf("query missing %q:\n%s", want, q)
		}
	}
}

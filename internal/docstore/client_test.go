package docstore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/skeinlabs/skein/internal/story"
)

// fakeStore is a minimal GraphQL endpoint that records queries and returns
// canned responses.
type fakeStore struct {
	queries  []string
	response string
}

func (f *fakeStore) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health-check":
			w.WriteHeader(http.StatusOK)
		case "/api/v0/graphql":
			var req GQLRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			f.queries = append(f.queries, req.Query)
			w.Header().Set("Content-Type", "application/json")
			resp := f.response
			if resp == "" {
				resp = `{"data":{}}`
			}
			_, _ = w.Write([]byte(resp))
		default:
			http.NotFound(w, r)
		}
	}
}

func TestHealthCheck(t *testing.T) {
	fake := &fakeStore{}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	client := NewClient(srv.URL)
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	client = NewClient("http://127.0.0.1:1")
	if err := client.HealthCheck(context.Background()); err == nil {
		t.Error("expected error for unreachable store")
	}
}

func TestUpsertExtraction(t *testing.T) {
	fake := &fakeStore{
		response: `{"data":{"upsert_Extraction":[{"_docID":"doc-1"}]}}`,
	}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	client := NewClient(srv.URL)
	docID, err := client.UpsertExtraction(context.Background(), story.ExtractionRecord{
		ChapterID: "ch-1",
		StoryID:   "st-1",
		Kind:      story.KindWorld,
		Payload:   []byte(`{"facts":[]}`),
		Usage:     story.TokenUsage{PromptTokens: 100, CompletionTokens: 20, TotalTokens: 120},
	})
	if err != nil {
		t.Fatalf("UpsertExtraction() error = %v", err)
	}
	if docID != "doc-1" {
		t.Errorf("docID = %s, want doc-1", docID)
	}

	if len(fake.queries) != 1 {
		t.Fatalf("expected 1 query, got %d", len(fake.queries))
	}
	q := fake.queries[0]
	for _, want := range []string{"upsert_Extraction", `chapter_id: {_eq: "ch-1"}`, `kind: {_eq: "world"}`} {
		if !strings.Contains(q, want) {
			t.Errorf("mutation missing %q:\n%s", want, q)
		}
	}
}

func TestGetChapterContext(t *testing.T) {
	fake := &fakeStore{
		response: `{"data":{"ChapterContext":[{
			"chapter_id": "ch-2",
			"story_id": "st-1",
			"version": 3,
			"condensed": "=== CHAPTER 2 ===",
			"derived_from": ["character","plot","world","structure"],
			"prompt_tokens": 400,
			"completion_tokens": 900,
			"total_tokens": 1300,
			"created_at": "2026-01-05T10:00:00Z"
		}]}}`,
	}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	client := NewClient(srv.URL)
	sc, err := client.GetChapterContext(context.Background(), "ch-2")
	if err != nil {
		t.Fatalf("GetChapterContext() error = %v", err)
	}
	if sc == nil {
		t.Fatal("expected context, got nil")
	}
	if sc.Version != 3 {
		t.Errorf("Version = %d, want 3", sc.Version)
	}
	if len(sc.DerivedFrom) != 4 {
		t.Errorf("DerivedFrom = %v, want 4 kinds", sc.DerivedFrom)
	}
	if sc.Usage.TotalTokens != 1300 {
		t.Errorf("TotalTokens = %d, want 1300", sc.Usage.TotalTokens)
	}
}

func TestGetExtractionMissing(t *testing.T) {
	fake := &fakeStore{response: `{"data":{"Extraction":[]}}`}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	client := NewClient(srv.URL)
	rec, err := client.GetExtraction(context.Background(), "ch-9", story.KindPlot)
	if err != nil {
		t.Fatalf("GetExtraction() error = %v", err)
	}
	if rec != nil {
		t.Errorf("expected nil record, got %+v", rec)
	}
}

func TestGraphQLErrorSurfaced(t *testing.T) {
	fake := &fakeStore{response: `{"errors":[{"message":"boom"}]}`}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	client := NewClient(srv.URL)
	_, err := client.Upsert(context.Background(), CollectionExtraction,
		map[string]any{"chapter_id": map[string]any{"_eq": "x"}},
		map[string]any{"chapter_id": "x"},
		map[string]any{"chapter_id": "x"})
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Errorf("error = %v, want graphql error", err)
	}
}

func TestValueToGraphQL(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  string
	}{
		{"string with newline", "a\nb", `"a\nb"`},
		{"int", 42, "42"},
		{"bool", true, "true"},
		{"string slice", []string{"a", "b"}, `["a", "b"]`},
		{"nested map", map[string]any{"x": 1}, "{x: 1}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := valueToGraphQL(tt.input)
			if err != nil {
				t.Fatalf("valueToGraphQL() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("valueToGraphQL(%v) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestAllSchemas(t *testing.T) {
	schemas, err := AllSchemas()
	if err != nil {
		t.Fatalf("AllSchemas() error = %v", err)
	}
	if len(schemas) != len(registry) {
		t.Fatalf("got %d schemas, want %d", len(schemas), len(registry))
	}
	for _, s := range schemas {
		if !strings.Contains(s.SDL, "type "+s.Name) {
			t.Errorf("schema %s SDL missing type declaration", s.Name)
		}
	}
}

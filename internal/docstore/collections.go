package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/skeinlabs/skein/internal/story"
)

// UpsertExtraction writes an extraction record keyed on (chapter_id, kind).
// A rerun replaces the previous record wholesale. Returns the document ID.
func (c *Client) UpsertExtraction(ctx context.Context, rec story.ExtractionRecord) (string, error) {
	doc := map[string]any{
		"chapter_id":        rec.ChapterID,
		"story_id":          rec.StoryID,
		"kind":              string(rec.Kind),
		"payload":           string(rec.Payload),
		"prompt_tokens":     rec.Usage.PromptTokens,
		"completion_tokens": rec.Usage.CompletionTokens,
		"total_tokens":      rec.Usage.TotalTokens,
		"created_at":        rec.CreatedAt.UTC().Format(time.RFC3339),
	}
	filter := map[string]any{
		"chapter_id": map[string]any{"_eq": rec.ChapterID},
		"kind":       map[string]any{"_eq": string(rec.Kind)},
	}
	return c.Upsert(ctx, CollectionExtraction, filter, doc, doc)
}

// GetExtraction returns the extraction record for a chapter and kind, or
// nil if none exists.
func (c *Client) GetExtraction(ctx context.Context, chapterID string, kind story.Kind) (*story.ExtractionRecord, error) {
	query := fmt.Sprintf(`{
		Extraction(filter: {chapter_id: {_eq: %q}, kind: {_eq: %q}}) {
			chapter_id
			story_id
			kind
			payload
			prompt_tokens
			completion_tokens
			total_tokens
			created_at
		}
	}`, chapterID, kind)

	docs, err := c.queryDocs(ctx, query, CollectionExtraction)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}
	rec := extractionFromDoc(docs[0])
	return &rec, nil
}

// ListChapterExtractions returns all extraction records for a chapter.
func (c *Client) ListChapterExtractions(ctx context.Context, chapterID string) ([]story.ExtractionRecord, error) {
	query := fmt.Sprintf(`{
		Extraction(filter: {chapter_id: {_eq: %q}}) {
			chapter_id
			story_id
			kind
			payload
			prompt_tokens
			completion_tokens
			total_tokens
			created_at
		}
	}`, chapterID)

	docs, err := c.queryDocs(ctx, query, CollectionExtraction)
	if err != nil {
		return nil, err
	}
	records := make([]story.ExtractionRecord, 0, len(docs))
	for _, doc := range docs {
		records = append(records, extractionFromDoc(doc))
	}
	return records, nil
}

// UpsertChapterContext writes the synthesized context for a chapter,
// replacing any previous version. Returns the document ID.
func (c *Client) UpsertChapterContext(ctx context.Context, sc story.SynthesizedContext) (string, error) {
	derived := make([]string, 0, len(sc.DerivedFrom))
	for _, k := range sc.DerivedFrom {
		derived = append(derived, string(k))
	}
	doc := map[string]any{
		"chapter_id":        sc.ChapterID,
		"story_id":          sc.StoryID,
		"version":           sc.Version,
		"condensed":         sc.Condensed,
		"derived_from":      derived,
		"prompt_tokens":     sc.Usage.PromptTokens,
		"completion_tokens": sc.Usage.CompletionTokens,
		"total_tokens":      sc.Usage.TotalTokens,
		"created_at":        sc.CreatedAt.UTC().Format(time.RFC3339),
	}
	filter := map[string]any{
		"chapter_id": map[string]any{"_eq": sc.ChapterID},
	}
	return c.Upsert(ctx, CollectionChapterContext, filter, doc, doc)
}

// GetChapterContext returns the synthesized context for a chapter, or nil
// if none exists.
func (c *Client) GetChapterContext(ctx context.Context, chapterID string) (*story.SynthesizedContext, error) {
	query := fmt.Sprintf(`{
		ChapterContext(filter: {chapter_id: {_eq: %q}}) {
			chapter_id
			story_id
			version
			condensed
			derived_from
			prompt_tokens
			completion_tokens
			total_tokens
			created_at
		}
	}`, chapterID)

	docs, err := c.queryDocs(ctx, query, CollectionChapterContext)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}

	doc := docs[0]
	sc := story.SynthesizedContext{
		ChapterID: docString(doc, "chapter_id"),
		StoryID:   docString(doc, "story_id"),
		Version:   docInt(doc, "version"),
		Condensed: docString(doc, "condensed"),
		Usage: story.TokenUsage{
			PromptTokens:     docInt(doc, "prompt_tokens"),
			CompletionTokens: docInt(doc, "completion_tokens"),
			TotalTokens:      docInt(doc, "total_tokens"),
		},
		CreatedAt: docTime(doc, "created_at"),
	}
	if raw, ok := doc["derived_from"].([]any); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				if kind, ok := story.ParseKind(s); ok {
					sc.DerivedFrom = append(sc.DerivedFrom, kind)
				}
			}
		}
	}
	return &sc, nil
}

// queryDocs runs a query and returns the documents under the collection key.
func (c *Client) queryDocs(ctx context.Context, query, collection string) ([]map[string]any, error) {
	resp, err := c.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	if errMsg := resp.Error(); errMsg != "" {
		return nil, fmt.Errorf("graphql error: %s", errMsg)
	}

	raw, ok := resp.Data[collection]
	if !ok || raw == nil {
		return nil, nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("unexpected response format for %s: %T", collection, raw)
	}

	docs := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if doc, ok := item.(map[string]any); ok {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

func extractionFromDoc(doc map[string]any) story.ExtractionRecord {
	kind, _ := story.ParseKind(docString(doc, "kind"))
	return story.ExtractionRecord{
		ChapterID: docString(doc, "chapter_id"),
		StoryID:   docString(doc, "story_id"),
		Kind:      kind,
		Payload:   json.RawMessage(docString(doc, "payload")),
		Usage: story.TokenUsage{
			PromptTokens:     docInt(doc, "prompt_tokens"),
			CompletionTokens: docInt(doc, "completion_tokens"),
			TotalTokens:      docInt(doc, "total_tokens"),
		},
		CreatedAt: docTime(doc, "created_at"),
	}
}

func docString(doc map[string]any, key string) string {
	s, _ := doc[key].(string)
	return s
}

func docInt(doc map[string]any, key string) int {
	// JSON numbers decode as float64.
	if f, ok := doc[key].(float64); ok {
		return int(f)
	}
	return 0
}

func docTime(doc map[string]any, key string) time.Time {
	t, err := time.Parse(time.RFC3339, docString(doc, key))
	if err != nil {
		return time.Time{}
	}
	return t
}

// Package jobs tracks pipeline runs as durable job records in the
// document store. Jobs are bookkeeping only; execution belongs to the
// pipeline, which reports status back through the Manager.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/skeinlabs/skein/internal/docstore"
)

// Job types.
const (
	TypeProcessChapter = "process_chapter"
	TypeReprocessStory = "reprocess_story"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Record is one tracked pipeline run.
type Record struct {
	// DocID is the store-assigned document id; JobID is ours and is the
	// id stamped on llm calls and metrics.
	DocID string
	JobID string

	Type      string
	ChapterID string
	StoryID   string

	Status     Status
	Stage      string // Failure stage, set on failed jobs
	ErrorClass string
	Error      string

	StartedAt  time.Time
	FinishedAt *time.Time
	CreatedAt  time.Time
}

// Manager persists job records.
type Manager struct {
	store  *docstore.Client
	logger *slog.Logger
}

func NewManager(client *docstore.Client, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: client, logger: logger}
}

// Start creates a running job record. The returned record is usable even
// if the store write fails; the error is reported so the caller can log it.
func (m *Manager) Start(ctx context.Context, jobType, chapterID, storyID string) (*Record, error) {
	now := time.Now().UTC()
	rec := &Record{
		JobID:     uuid.New().String(),
		Type:      jobType,
		ChapterID: chapterID,
		StoryID:   storyID,
		Status:    StatusRunning,
		StartedAt: now,
		CreatedAt: now,
	}

	input := map[string]any{
		"job_id":     rec.JobID,
		"job_type":   rec.Type,
		"status":     string(rec.Status),
		"started_at": now.Format(time.RFC3339),
		"created_at": now.Format(time.RFC3339),
	}
	if chapterID != "" {
		input["chapter_id"] = chapterID
	}
	if storyID != "" {
		input["story_id"] = storyID
	}

	docID, err := m.store.Create(ctx, docstore.CollectionJob, input)
	if err != nil {
		return rec, fmt.Errorf("create job record: %w", err)
	}
	rec.DocID = docID

	m.logger.Info("job started", "job_id", rec.JobID, "type", jobType, "chapter_id", chapterID)
	return rec, nil
}

// Complete marks a job finished successfully.
func (m *Manager) Complete(ctx context.Context, rec *Record) error {
	return m.finish(ctx, rec, StatusCompleted, "", "", "")
}

// Fail marks a job finished with a stage-tagged failure.
func (m *Manager) Fail(ctx context.Context, rec *Record, stage, errClass, errMsg string) error {
	return m.finish(ctx, rec, StatusFailed, stage, errClass, errMsg)
}

func (m *Manager) finish(ctx context.Context, rec *Record, status Status, stage, errClass, errMsg string) error {
	if rec == nil {
		return nil
	}
	now := time.Now().UTC()
	rec.Status = status
	rec.Stage = stage
	rec.ErrorClass = errClass
	rec.Error = errMsg
	rec.FinishedAt = &now

	if rec.DocID == "" {
		// The start write failed; nothing in the store to update.
		return nil
	}

	input := map[string]any{
		"status":      string(status),
		"finished_at": now.Format(time.RFC3339),
	}
	if stage != "" {
		input["stage"] = stage
	}
	if errClass != "" {
		input["error_class"] = errClass
	}
	if errMsg != "" {
		input["error"] = errMsg
	}

	if err := m.store.Update(ctx, docstore.CollectionJob, rec.DocID, input); err != nil {
		return fmt.Errorf("update job record: %w", err)
	}
	m.logger.Info("job finished", "job_id", rec.JobID, "status", string(status), "stage", stage)
	return nil
}

// Get returns the job with the given job id.
func (m *Manager) Get(ctx context.Context, jobID string) (*Record, error) {
	query := fmt.Sprintf(`{
		Job(filter: {job_id: {_eq: %q}}, limit: 1) {
			_docID job_id job_type chapter_id story_id status stage
			error_class error started_at finished_at created_at
		}
	}`, jobID)

	records, err := m.query(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("job not found: %s", jobID)
	}
	return records[0], nil
}

// ListFilter narrows List results.
type ListFilter struct {
	Status    Status
	ChapterID string
	Limit     int
}

// List returns jobs matching the filter.
func (m *Manager) List(ctx context.Context, filter ListFilter) ([]*Record, error) {
	clauses := ""
	if filter.Status != "" {
		clauses += fmt.Sprintf(`status: {_eq: %q}, `, filter.Status)
	}
	if filter.ChapterID != "" {
		clauses += fmt.Sprintf(`chapter_id: {_eq: %q}, `, filter.ChapterID)
	}
	filterArg := ""
	if clauses != "" {
		filterArg = fmt.Sprintf("filter: {%s}, ", clauses)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	query := fmt.Sprintf(`{
		Job(%slimit: %d) {
			_docID job_id job_type chapter_id story_id status stage
			error_class error started_at finished_at created_at
		}
	}`, filterArg, limit)

	return m.query(ctx, query)
}

func (m *Manager) query(ctx context.Context, query string) ([]*Record, error) {
	resp, err := m.store.Query(ctx, query)
	if err != nil {
		return nil, err
	}

	docs, ok := resp.Data[docstore.CollectionJob].([]any)
	if !ok {
		return []*Record{}, nil
	}

	records := make([]*Record, 0, len(docs))
	for _, d := range docs {
		doc, ok := d.(map[string]any)
		if !ok {
			continue
		}
		records = append(records, recordFromDoc(doc))
	}
	return records, nil
}

func recordFromDoc(doc map[string]any) *Record {
	rec := &Record{}
	if v, ok := doc["_docID"].(string); ok {
		rec.DocID = v
	}
	if v, ok := doc["job_id"].(string); ok {
		rec.JobID = v
	}
	if v, ok := doc["job_type"].(string); ok {
		rec.Type = v
	}
	if v, ok := doc["chapter_id"].(string); ok {
		rec.ChapterID = v
	}
	if v, ok := doc["story_id"].(string); ok {
		rec.StoryID = v
	}
	if v, ok := doc["status"].(string); ok {
		rec.Status = Status(v)
	}
	if v, ok := doc["stage"].(string); ok {
		rec.Stage = v
	}
	if v, ok := doc["error_class"].(string); ok {
		rec.ErrorClass = v
	}
	if v, ok := doc["error"].(string); ok {
		rec.Error = v
	}
	if v, ok := doc["started_at"].(string); ok && v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			rec.StartedAt = t
		}
	}
	if v, ok := doc["finished_at"].(string); ok && v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			rec.FinishedAt = &t
		}
	}
	if v, ok := doc["created_at"].(string); ok && v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			rec.CreatedAt = t
		}
	}
	return rec
}

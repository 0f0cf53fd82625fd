package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/skeinlabs/skein/internal/checkpoint"
	"github.com/skeinlabs/skein/internal/jobs"
	"github.com/skeinlabs/skein/internal/metrics"
	"github.com/skeinlabs/skein/internal/policy"
	"github.com/skeinlabs/skein/internal/providers"
	"github.com/skeinlabs/skein/internal/relstore"
	"github.com/skeinlabs/skein/internal/story"
)

var fastPolicy = policy.Policy{
	MaxAttempts:    2,
	Backoff:        []time.Duration{time.Millisecond},
	AttemptTimeout: time.Second,
}

func goodPayloads() map[string]json.RawMessage {
	return map[string]json.RawMessage{
		"character": json.RawMessage(`{"characters":[],"knowledge_gains":[],"dialogue_voices":[],"trait_evidence":[]}`),
		"plot":      json.RawMessage(`{"events":[],"threads":[],"setups":[],"payoffs":[],"story_questions":[]}`),
		"world":     json.RawMessage(`{"facts":[]}`),
		"structure": json.RawMessage(`{"scenes":[],"pacing":{"action_pct":40,"dialogue_pct":30,"introspection_pct":20,"exposition_pct":10,"pace":"moderate","tension":5},"themes":[]}`),
		"chapter_context": json.RawMessage(`{
			"timeline_context": "Day 5",
			"entities_summary": "Vex",
			"events_summary": "Signal traced.",
			"character_developments": "none",
			"plot_progression": "advanced",
			"worldbuilding_additions": "none",
			"themes_present": [],
			"emotional_arc": "tense",
			"condensed_text": "=== CHAPTER 3 === condensed"
		}`),
	}
}

type memDocs struct {
	extractions map[string]story.ExtractionRecord // keyed chapter/kind
	contexts    map[string]story.SynthesizedContext
}

func newMemDocs() *memDocs {
	return &memDocs{
		extractions: map[string]story.ExtractionRecord{},
		contexts:    map[string]story.SynthesizedContext{},
	}
}

func (m *memDocs) UpsertExtraction(_ context.Context, rec story.ExtractionRecord) (string, error) {
	m.extractions[rec.ChapterID+"/"+string(rec.Kind)] = rec
	return "doc", nil
}

func (m *memDocs) UpsertChapterContext(_ context.Context, sc story.SynthesizedContext) (string, error) {
	m.contexts[sc.ChapterID] = sc
	return "doc", nil
}

func (m *memDocs) GetChapterContext(_ context.Context, chapterID string) (*story.SynthesizedContext, error) {
	sc, ok := m.contexts[chapterID]
	if !ok {
		return nil, nil
	}
	return &sc, nil
}

type memRel struct {
	checkpoints map[string]relstore.Checkpoint
	err         error
}

func (m *memRel) WriteCheckpoint(_ context.Context, id string, cp relstore.Checkpoint) error {
	if m.err != nil {
		return m.err
	}
	if m.checkpoints == nil {
		m.checkpoints = map[string]relstore.Checkpoint{}
	}
	m.checkpoints[id] = cp
	return nil
}

func chapterThree() story.Chapter {
	return story.Chapter{ID: "ch-3", StoryID: "st-1", Ordinal: 3, Title: "The Signal", Body: "Vex traced the signal."}
}

func newOrchestrator(client providers.LLMClient, docs *memDocs, rel *memRel) *Orchestrator {
	return &Orchestrator{
		Client:           client,
		ExtractionPolicy: fastPolicy,
		SynthesisPolicy:  fastPolicy,
		Writer:           &checkpoint.Writer{Docs: docs, Rel: rel},
		Tracker:          NewTracker(),
	}
}

func TestProcessCompletes(t *testing.T) {
	mock := providers.NewMockClient()
	mock.ResponseFor = goodPayloads()
	docs := newMemDocs()
	rel := &memRel{}
	orch := newOrchestrator(mock, docs, rel)

	res := orch.Process(context.Background(), chapterThree(), nil, 1, "job-1")

	if !res.Completed {
		t.Fatalf("Result = %+v, want completed", res)
	}
	if res.ContextVersion != 2 {
		t.Errorf("ContextVersion = %d, want 2", res.ContextVersion)
	}
	if len(docs.extractions) != 4 {
		t.Errorf("extraction docs = %d, want 4", len(docs.extractions))
	}
	if _, ok := docs.contexts["ch-3"]; !ok {
		t.Error("context doc not written")
	}
	if cp, ok := rel.checkpoints["ch-3"]; !ok || cp.ContextVersion != 2 {
		t.Errorf("relational checkpoint = %+v", rel.checkpoints)
	}
	if st, _ := orch.Tracker.Get("ch-3"); st.State != StateCompleted {
		t.Errorf("tracker state = %s, want completed", st.State)
	}
	// 4 extractions and 1 synthesis call, no retries.
	if mock.Requests() != 5 {
		t.Errorf("provider calls = %d, want 5", mock.Requests())
	}
}

func TestProcessFailsFastOnExtraction(t *testing.T) {
	mock := providers.NewMockClient()
	payloads := goodPayloads()
	// Plot payload misses required fields, so its task exhausts retries.
	payloads["plot"] = json.RawMessage(`{"events":[]}`)
	mock.ResponseFor = payloads
	docs := newMemDocs()
	rel := &memRel{}
	orch := newOrchestrator(mock, docs, rel)

	res := orch.Process(context.Background(), chapterThree(), nil, 0, "")

	if res.Completed {
		t.Fatal("Result completed, want extraction failure")
	}
	if res.Stage != metrics.StageExtraction {
		t.Errorf("Stage = %s, want extraction", res.Stage)
	}
	if res.Class != policy.ClassRetryable {
		t.Errorf("Class = %s, want retryable", res.Class)
	}
	if len(docs.contexts) != 0 {
		t.Error("context written despite extraction failure")
	}
	if len(rel.checkpoints) != 0 {
		t.Error("checkpoint written despite extraction failure")
	}
	if st, _ := orch.Tracker.Get("ch-3"); st.State != StateFailed || st.Stage != metrics.StageExtraction {
		t.Errorf("tracker status = %+v", st)
	}
}

func TestProcessCheckpointFailure(t *testing.T) {
	mock := providers.NewMockClient()
	mock.ResponseFor = goodPayloads()
	docs := newMemDocs()
	rel := &memRel{err: errors.New("database is locked")}
	orch := newOrchestrator(mock, docs, rel)

	res := orch.Process(context.Background(), chapterThree(), nil, 0, "")

	if res.Completed {
		t.Fatal("Result completed, want checkpoint failure")
	}
	if res.Stage != metrics.StageCheckpoint {
		t.Errorf("Stage = %s, want checkpoint", res.Stage)
	}
	// Partial checkpoints are recoverable by rerunning.
	if res.Class != policy.ClassRetryable {
		t.Errorf("Class = %s, want retryable", res.Class)
	}
	if len(docs.contexts) != 1 {
		t.Error("document writes should precede the relational failure")
	}
}

func TestExtractionRunsConcurrently(t *testing.T) {
	mock := providers.NewMockClient()
	mock.ResponseFor = goodPayloads()
	// Staggered latencies per kind; run in sequence these sum to 500ms,
	// run concurrently the wall clock tracks the slowest task.
	mock.LatencyFor = map[string]time.Duration{
		"character": 50 * time.Millisecond,
		"plot":      100 * time.Millisecond,
		"world":     150 * time.Millisecond,
		"structure": 200 * time.Millisecond,
	}
	docs := newMemDocs()
	rel := &memRel{}
	orch := newOrchestrator(mock, docs, rel)

	start := time.Now()
	res := orch.Process(context.Background(), chapterThree(), nil, 0, "")
	elapsed := time.Since(start)

	if !res.Completed {
		t.Fatalf("Result = %+v, want completed", res)
	}
	if elapsed >= 450*time.Millisecond {
		t.Errorf("elapsed = %v, want well under the 500ms sequential sum", elapsed)
	}
}

func TestExtractionFatalCancelsSiblings(t *testing.T) {
	mock := providers.NewMockClient()
	mock.ResponseFor = goodPayloads()
	// Plot fails fatally at once; the other kinds would take two seconds
	// each, so a fast overall failure proves they were cancelled.
	mock.FailFor = map[string]error{
		"plot": policy.Fatal(errors.New("schema rejected by provider")),
	}
	mock.LatencyFor = map[string]time.Duration{
		"character": 2 * time.Second,
		"world":     2 * time.Second,
		"structure": 2 * time.Second,
	}
	docs := newMemDocs()
	rel := &memRel{}
	orch := newOrchestrator(mock, docs, rel)

	start := time.Now()
	res := orch.Process(context.Background(), chapterThree(), nil, 0, "")
	elapsed := time.Since(start)

	if res.Completed {
		t.Fatal("Result completed, want fatal extraction failure")
	}
	if res.Stage != metrics.StageExtraction {
		t.Errorf("Stage = %s, want extraction", res.Stage)
	}
	if res.Class != policy.ClassFatal {
		t.Errorf("Class = %s, want fatal", res.Class)
	}
	if elapsed >= time.Second {
		t.Errorf("elapsed = %v, siblings were not cancelled promptly", elapsed)
	}
	if len(docs.extractions) != 0 || len(docs.contexts) != 0 {
		t.Error("documents written despite fatal extraction failure")
	}
}

func TestProcessFlowDeadline(t *testing.T) {
	mock := providers.NewMockClient()
	mock.ResponseFor = goodPayloads()
	mock.Latency = 2 * time.Second
	docs := newMemDocs()
	rel := &memRel{}
	orch := newOrchestrator(mock, docs, rel)
	orch.FlowTimeout = 50 * time.Millisecond

	start := time.Now()
	res := orch.Process(context.Background(), chapterThree(), nil, 0, "")
	elapsed := time.Since(start)

	if res.Completed {
		t.Fatal("Result completed, want flow timeout")
	}
	if res.Stage != metrics.StageExtraction {
		t.Errorf("Stage = %s, want extraction", res.Stage)
	}
	if res.Class != policy.ClassTimeout {
		t.Errorf("Class = %s, want timeout", res.Class)
	}
	if elapsed >= time.Second {
		t.Errorf("elapsed = %v, flow deadline did not cut the run short", elapsed)
	}
	if len(rel.checkpoints) != 0 {
		t.Error("checkpoint written despite flow timeout")
	}
}

type fakeIndex struct {
	row relstore.ChapterRow
	err error
}

func (f *fakeIndex) PriorCompletedChapter(string, int) (relstore.ChapterRow, error) {
	return f.row, f.err
}

func TestAccumulatorPrior(t *testing.T) {
	docs := newMemDocs()
	docs.contexts["ch-2"] = story.SynthesizedContext{ChapterID: "ch-2", Version: 1, Condensed: "prior"}

	prior := relstore.ChapterRow{}
	prior.ID = "ch-2"
	acc := &Accumulator{Rel: &fakeIndex{row: prior}, Docs: docs}

	sc, err := acc.Prior(context.Background(), chapterThree())
	if err != nil {
		t.Fatalf("Prior() error = %v", err)
	}
	if sc == nil || sc.Condensed != "prior" {
		t.Errorf("Prior() = %+v", sc)
	}
}

func TestAccumulatorFirstChapter(t *testing.T) {
	acc := &Accumulator{Rel: &fakeIndex{err: relstore.ErrNotFound}, Docs: newMemDocs()}

	sc, err := acc.Prior(context.Background(), chapterThree())
	if err != nil {
		t.Fatalf("Prior() error = %v", err)
	}
	if sc != nil {
		t.Errorf("Prior() = %+v, want nil", sc)
	}
}

func TestAccumulatorMissingDocument(t *testing.T) {
	// Relational row says completed but the document store has no context.
	prior := relstore.ChapterRow{}
	prior.ID = "ch-2"
	acc := &Accumulator{Rel: &fakeIndex{row: prior}, Docs: newMemDocs()}

	sc, err := acc.Prior(context.Background(), chapterThree())
	if err != nil {
		t.Fatalf("Prior() error = %v", err)
	}
	if sc != nil {
		t.Errorf("Prior() = %+v, want nil", sc)
	}
}

func TestAccumulatorCurrentVersion(t *testing.T) {
	docs := newMemDocs()
	docs.contexts["ch-3"] = story.SynthesizedContext{ChapterID: "ch-3", Version: 4}
	acc := &Accumulator{Rel: &fakeIndex{err: relstore.ErrNotFound}, Docs: docs}

	v, err := acc.CurrentVersion(context.Background(), "ch-3")
	if err != nil || v != 4 {
		t.Errorf("CurrentVersion() = %d, %v, want 4", v, err)
	}
	v, err = acc.CurrentVersion(context.Background(), "ch-9")
	if err != nil || v != 0 {
		t.Errorf("CurrentVersion() = %d, %v, want 0", v, err)
	}
}

type memChapters struct {
	rows       map[string]relstore.ChapterRow
	order      []string
	processing []string
	failed     map[string]string // chapter -> error class
}

func newMemChapters(chapters ...story.Chapter) *memChapters {
	m := &memChapters{rows: map[string]relstore.ChapterRow{}, failed: map[string]string{}}
	for _, ch := range chapters {
		row := relstore.ChapterRow{Chapter: ch, Status: story.StatusPending}
		m.rows[ch.ID] = row
		m.order = append(m.order, ch.ID)
	}
	return m
}

func (m *memChapters) GetChapter(id string) (relstore.ChapterRow, error) {
	row, ok := m.rows[id]
	if !ok {
		return relstore.ChapterRow{}, relstore.ErrNotFound
	}
	return row, nil
}

func (m *memChapters) ListStoryChapters(storyID string) ([]relstore.ChapterRow, error) {
	var rows []relstore.ChapterRow
	for _, id := range m.order {
		if m.rows[id].StoryID == storyID {
			rows = append(rows, m.rows[id])
		}
	}
	return rows, nil
}

func (m *memChapters) MarkProcessing(id string) error {
	m.processing = append(m.processing, id)
	return nil
}

func (m *memChapters) MarkFailed(id, errClass, _ string) error {
	m.failed[id] = errClass
	return nil
}

type memJobs struct {
	started  []string // job types
	finished []jobs.Status
}

func (m *memJobs) Start(_ context.Context, jobType, chapterID, storyID string) (*jobs.Record, error) {
	m.started = append(m.started, jobType)
	return &jobs.Record{JobID: "job-test", Type: jobType, ChapterID: chapterID, StoryID: storyID}, nil
}

func (m *memJobs) Complete(context.Context, *jobs.Record) error {
	m.finished = append(m.finished, jobs.StatusCompleted)
	return nil
}

func (m *memJobs) Fail(_ context.Context, _ *jobs.Record, _, _, _ string) error {
	m.finished = append(m.finished, jobs.StatusFailed)
	return nil
}

func TestRunnerSubmit(t *testing.T) {
	mock := providers.NewMockClient()
	mock.ResponseFor = goodPayloads()
	docs := newMemDocs()
	rel := &memRel{}
	chapters := newMemChapters(chapterThree())
	jb := &memJobs{}

	r := &Runner{
		Chapters: chapters,
		Acc:      &Accumulator{Rel: &fakeIndex{err: relstore.ErrNotFound}, Docs: docs},
		Orch:     newOrchestrator(mock, docs, rel),
		Jobs:     jb,
	}

	res, err := r.Submit(context.Background(), "ch-3")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if !res.Completed {
		t.Fatalf("Result = %+v, want completed", res)
	}
	if len(chapters.processing) != 1 {
		t.Error("chapter not marked processing")
	}
	if len(jb.started) != 1 || jb.started[0] != jobs.TypeProcessChapter {
		t.Errorf("jobs started = %v", jb.started)
	}
	if len(jb.finished) != 1 || jb.finished[0] != jobs.StatusCompleted {
		t.Errorf("jobs finished = %v", jb.finished)
	}
}

func TestRunnerSubmitUnknownChapter(t *testing.T) {
	r := &Runner{Chapters: newMemChapters()}
	if _, err := r.Submit(context.Background(), "nope"); err == nil {
		t.Fatal("Submit() error = nil for unknown chapter")
	}
}

func TestRunnerMarksFailed(t *testing.T) {
	mock := providers.NewMockClient()
	payloads := goodPayloads()
	payloads["world"] = json.RawMessage(`{"wrong":true}`)
	mock.ResponseFor = payloads
	docs := newMemDocs()
	chapters := newMemChapters(chapterThree())

	r := &Runner{
		Chapters: chapters,
		Acc:      &Accumulator{Rel: &fakeIndex{err: relstore.ErrNotFound}, Docs: docs},
		Orch:     newOrchestrator(mock, docs, &memRel{}),
	}

	res, err := r.Submit(context.Background(), "ch-3")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if res.Completed {
		t.Fatal("Result completed, want failure")
	}
	if class, ok := chapters.failed["ch-3"]; !ok || class != string(policy.ClassRetryable) {
		t.Errorf("failed record = %v", chapters.failed)
	}
}

func TestReprocessStopsAtFailure(t *testing.T) {
	ch1 := story.Chapter{ID: "ch-1", StoryID: "st-1", Ordinal: 1, Body: "one"}
	ch2 := story.Chapter{ID: "ch-2", StoryID: "st-1", Ordinal: 2, Body: "two"}
	ch3 := story.Chapter{ID: "ch-3", StoryID: "st-1", Ordinal: 3, Body: "three"}

	mock := providers.NewMockClient()
	mock.ResponseFor = goodPayloads()
	docs := newMemDocs()
	rel := &memRel{}
	chapters := newMemChapters(ch1, ch2, ch3)

	r := &Runner{
		Chapters: chapters,
		Acc:      &Accumulator{Rel: &fakeIndex{err: relstore.ErrNotFound}, Docs: docs},
		Orch:     newOrchestrator(mock, docs, rel),
	}

	// First pass: everything succeeds, three results.
	results, err := r.Reprocess(context.Background(), "st-1", nil)
	if err != nil {
		t.Fatalf("Reprocess() error = %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("results = %d, want 3", len(results))
	}
	for _, res := range results {
		if !res.Completed {
			t.Errorf("chapter %s not completed: %+v", res.ChapterID, res)
		}
	}
	// Second pass with a failing relational store stops after chapter one.
	rel.err = errors.New("database is locked")
	results, err = r.Reprocess(context.Background(), "st-1", nil)
	if err != nil {
		t.Fatalf("Reprocess() error = %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1 (stop at first failure)", len(results))
	}
	if results[0].Completed {
		t.Error("first result completed despite checkpoint failure")
	}
}

func TestReprocessSubset(t *testing.T) {
	ch1 := story.Chapter{ID: "ch-1", StoryID: "st-1", Ordinal: 1, Body: "one"}
	ch2 := story.Chapter{ID: "ch-2", StoryID: "st-1", Ordinal: 2, Body: "two"}
	ch3 := story.Chapter{ID: "ch-3", StoryID: "st-1", Ordinal: 3, Body: "three"}

	mock := providers.NewMockClient()
	mock.ResponseFor = goodPayloads()
	docs := newMemDocs()
	rel := &memRel{}
	chapters := newMemChapters(ch1, ch2, ch3)

	r := &Runner{
		Chapters: chapters,
		Acc:      &Accumulator{Rel: &fakeIndex{err: relstore.ErrNotFound}, Docs: docs},
		Orch:     newOrchestrator(mock, docs, rel),
	}

	// Selection order does not matter; the run follows ordinals.
	results, err := r.Reprocess(context.Background(), "st-1", []string{"ch-3", "ch-1"})
	if err != nil {
		t.Fatalf("Reprocess() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if results[0].ChapterID != "ch-1" || results[1].ChapterID != "ch-3" {
		t.Errorf("result order = %s, %s, want ch-1, ch-3", results[0].ChapterID, results[1].ChapterID)
	}
	for _, res := range results {
		if !res.Completed {
			t.Errorf("chapter %s not completed: %+v", res.ChapterID, res)
		}
	}
	if _, ok := rel.checkpoints["ch-2"]; ok {
		t.Error("unselected chapter was reprocessed")
	}
}

func TestReprocessSubsetUnknownChapter(t *testing.T) {
	ch1 := story.Chapter{ID: "ch-1", StoryID: "st-1", Ordinal: 1, Body: "one"}
	r := &Runner{Chapters: newMemChapters(ch1)}
	if _, err := r.Reprocess(context.Background(), "st-1", []string{"ch-9"}); err == nil {
		t.Fatal("Reprocess() error = nil for chapter outside the story")
	}
}

func TestReprocessUnknownStory(t *testing.T) {
	r := &Runner{Chapters: newMemChapters()}
	if _, err := r.Reprocess(context.Background(), "st-9", nil); err == nil {
		t.Fatal("Reprocess() error = nil for empty story")
	}
}

func TestTracker(t *testing.T) {
	tr := NewTracker()
	tr.Set("ch-1", StateExtracting)
	tr.SetFailed("ch-2", metrics.StageSynthesis, "boom")

	if st, ok := tr.Get("ch-1"); !ok || st.State != StateExtracting {
		t.Errorf("Get(ch-1) = %+v, %v", st, ok)
	}
	if st, _ := tr.Get("ch-2"); st.Stage != metrics.StageSynthesis || st.Error != "boom" {
		t.Errorf("Get(ch-2) = %+v", st)
	}
	snap := tr.Snapshot()
	if len(snap) != 2 || snap[0].ChapterID != "ch-1" {
		t.Errorf("Snapshot() = %+v", snap)
	}

	// Nil tracker is a no-op.
	var nilTracker *Tracker
	nilTracker.Set("x", StateStarted)
	if _, ok := nilTracker.Get("x"); ok {
		t.Error("nil tracker returned a status")
	}
}

package pipeline

import (
	"sort"
	"sync"
	"time"
)

// Status is a point-in-time view of a chapter's pipeline position.
type Status struct {
	ChapterID string    `json:"chapter_id"`
	State     State     `json:"state"`
	Stage     string    `json:"stage,omitempty"` // Failure stage, set when State is failed
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Tracker holds the live pipeline state per chapter for observability.
// All methods are safe for concurrent use and safe on a nil receiver, so
// the orchestrator can run untracked in tests.
type Tracker struct {
	mu        sync.RWMutex
	byChapter map[string]Status
}

func NewTracker() *Tracker {
	return &Tracker{byChapter: make(map[string]Status)}
}

// Set records a chapter's current state.
func (t *Tracker) Set(chapterID string, state State) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byChapter[chapterID] = Status{
		ChapterID: chapterID,
		State:     state,
		UpdatedAt: time.Now().UTC(),
	}
}

// SetFailed records a failed run with its stage tag.
func (t *Tracker) SetFailed(chapterID, stage, errMsg string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byChapter[chapterID] = Status{
		ChapterID: chapterID,
		State:     StateFailed,
		Stage:     stage,
		Error:     errMsg,
		UpdatedAt: time.Now().UTC(),
	}
}

// Get returns the tracked status of a chapter.
func (t *Tracker) Get(chapterID string) (Status, bool) {
	if t == nil {
		return Status{}, false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	st, ok := t.byChapter[chapterID]
	return st, ok
}

// Snapshot returns all tracked statuses ordered by chapter id.
func (t *Tracker) Snapshot() []Status {
	if t == nil {
		return nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Status, 0, len(t.byChapter))
	for _, st := range t.byChapter {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChapterID < out[j].ChapterID })
	return out
}

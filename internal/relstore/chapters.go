package relstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/skeinlabs/skein/internal/story"
)

// ChapterRow is a chapter plus its checkpoint state as stored in the
// relational store.
type ChapterRow struct {
	story.Chapter

	Status         story.ChapterStatus
	ContextVersion int
	KindsDone      map[story.Kind]bool
	Usage          story.TokenUsage
	Error          string
	ErrorClass     string
	ProcessedAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Checkpoint is the durable completion record written after a successful run.
type Checkpoint struct {
	ContextVersion int
	Kinds          []story.Kind
	Usage          story.TokenUsage
}

const chapterColumns = `id, story_id, ordinal, title, body,
	status, context_version, character_done, plot_done, world_done, structure_done,
	prompt_tokens, completion_tokens, total_tokens,
	error, error_class, processed_at, created_at, updated_at`

// SaveChapter inserts a chapter or replaces its text fields, preserving any
// existing checkpoint state.
func (s *Store) SaveChapter(ch story.Chapter) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.Exec(`
		INSERT INTO chapters (id, story_id, ordinal, title, body, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			story_id = excluded.story_id,
			ordinal = excluded.ordinal,
			title = excluded.title,
			body = excluded.body,
			updated_at = excluded.updated_at`,
		ch.ID, ch.StoryID, ch.Ordinal, ch.Title, ch.Body, now, now,
	)
	return err
}

// GetChapter returns a chapter row by ID.
func (s *Store) GetChapter(id string) (ChapterRow, error) {
	row := s.db.QueryRow(`SELECT `+chapterColumns+` FROM chapters WHERE id = ?`, id)
	return scanChapter(row)
}

// ListStoryChapters returns all chapters of a story in ordinal order.
func (s *Store) ListStoryChapters(storyID string) ([]ChapterRow, error) {
	rows, err := s.db.Query(`SELECT `+chapterColumns+` FROM chapters WHERE story_id = ? ORDER BY ordinal ASC`, storyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chapters []ChapterRow
	for rows.Next() {
		ch, err := scanChapter(rows)
		if err != nil {
			return nil, err
		}
		chapters = append(chapters, ch)
	}
	return chapters, rows.Err()
}

// PriorChapter returns the chapter with the highest ordinal below the given
// one within a story, or ErrNotFound for the first chapter.
func (s *Store) PriorChapter(storyID string, ordinal int) (ChapterRow, error) {
	row := s.db.QueryRow(`SELECT `+chapterColumns+` FROM chapters
		WHERE story_id = ? AND ordinal < ?
		ORDER BY ordinal DESC LIMIT 1`, storyID, ordinal)
	return scanChapter(row)
}

// PriorCompletedChapter returns the nearest completed chapter below the
// given ordinal, or ErrNotFound when no completed chapter precedes it.
// Failed or pending chapters in between are skipped.
func (s *Store) PriorCompletedChapter(storyID string, ordinal int) (ChapterRow, error) {
	row := s.db.QueryRow(`SELECT `+chapterColumns+` FROM chapters
		WHERE story_id = ? AND ordinal < ? AND status = ?
		ORDER BY ordinal DESC LIMIT 1`, storyID, ordinal, story.StatusCompleted)
	return scanChapter(row)
}

// MarkProcessing transitions a chapter to the processing status.
func (s *Store) MarkProcessing(id string) error {
	return s.setStatus(id, story.StatusProcessing, "", "")
}

// MarkFailed records a failed run with its error class.
func (s *Store) MarkFailed(id, errClass, errMsg string) error {
	return s.setStatus(id, story.StatusFailed, errClass, errMsg)
}

func (s *Store) setStatus(id string, status story.ChapterStatus, errClass, errMsg string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`UPDATE chapters SET status = ?, error = ?, error_class = ?, updated_at = ?
		WHERE id = ?`, string(status), errMsg, errClass, now, id)
	if err != nil {
		return err
	}
	return requireRow(res, id)
}

// WriteCheckpoint marks a chapter completed. This row update is the commit
// point of a pipeline run: until it lands, the run does not count as done
// regardless of what reached the document store.
func (s *Store) WriteCheckpoint(ctx context.Context, id string, cp Checkpoint) error {
	done := map[story.Kind]int{}
	for _, k := range cp.Kinds {
		done[k] = 1
	}

	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.ExecContext(ctx, `UPDATE chapters SET
			status = ?,
			context_version = ?,
			character_done = ?, plot_done = ?, world_done = ?, structure_done = ?,
			prompt_tokens = ?, completion_tokens = ?, total_tokens = ?,
			error = '', error_class = '',
			processed_at = ?, updated_at = ?
		WHERE id = ?`,
		string(story.StatusCompleted),
		cp.ContextVersion,
		done[story.KindCharacter], done[story.KindPlot], done[story.KindWorld], done[story.KindStructure],
		cp.Usage.PromptTokens, cp.Usage.CompletionTokens, cp.Usage.TotalTokens,
		now, now, id,
	)
	if err != nil {
		return err
	}
	return requireRow(res, id)
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("chapter %s: %w", id, ErrNotFound)
	}
	return nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanChapter(row rowScanner) (ChapterRow, error) {
	var (
		ch                         ChapterRow
		status                     string
		charDone, plotDone         int
		worldDone, structDone      int
		processedAt                sql.NullString
		createdAt, updatedAt       string
	)

	err := row.Scan(
		&ch.ID, &ch.StoryID, &ch.Ordinal, &ch.Title, &ch.Body,
		&status, &ch.ContextVersion, &charDone, &plotDone, &worldDone, &structDone,
		&ch.Usage.PromptTokens, &ch.Usage.CompletionTokens, &ch.Usage.TotalTokens,
		&ch.Error, &ch.ErrorClass, &processedAt, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return ChapterRow{}, ErrNotFound
	}
	if err != nil {
		return ChapterRow{}, err
	}

	ch.Status = story.ChapterStatus(status)
	ch.KindsDone = map[story.Kind]bool{
		story.KindCharacter: charDone == 1,
		story.KindPlot:      plotDone == 1,
		story.KindWorld:     worldDone == 1,
		story.KindStructure: structDone == 1,
	}
	if processedAt.Valid {
		if t, err := time.Parse(time.RFC3339, processedAt.String); err == nil {
			ch.ProcessedAt = &t
		}
	}
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		ch.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		ch.UpdatedAt = t
	}
	return ch, nil
}

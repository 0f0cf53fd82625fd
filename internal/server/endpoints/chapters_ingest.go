package endpoints

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/skeinlabs/skein/internal/api"
	"github.com/skeinlabs/skein/internal/story"
	"github.com/skeinlabs/skein/internal/svcctx"
)

// IngestRequest is the body for POST /v1/chapters.
type IngestRequest struct {
	ID      string `json:"id,omitempty"`
	StoryID string `json:"story_id"`
	Ordinal int    `json:"ordinal"`
	Title   string `json:"title,omitempty"`
	Body    string `json:"body"`
}

// IngestResponse confirms a stored chapter.
type IngestResponse struct {
	ID        string `json:"id"`
	StoryID   string `json:"story_id"`
	Ordinal   int    `json:"ordinal"`
	WordCount int    `json:"word_count"`
	Status    string `json:"status"`
}

// ChaptersIngestEndpoint handles POST /v1/chapters.
type ChaptersIngestEndpoint struct{}

func (e *ChaptersIngestEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/v1/chapters", e.handler
}

func (e *ChaptersIngestEndpoint) RequiresInit() bool { return true }

func (e *ChaptersIngestEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if req.StoryID == "" {
		writeError(w, http.StatusBadRequest, "story_id is required")
		return
	}
	if req.Ordinal < 1 {
		writeError(w, http.StatusBadRequest, "ordinal must be >= 1")
		return
	}
	if req.Body == "" {
		writeError(w, http.StatusBadRequest, "body is required")
		return
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	ch := story.Chapter{
		ID:      req.ID,
		StoryID: req.StoryID,
		Ordinal: req.Ordinal,
		Title:   req.Title,
		Body:    req.Body,
	}

	rel := svcctx.RelStoreFrom(r.Context())
	if err := rel.SaveChapter(ch); err != nil {
		writeError(w, http.StatusInternalServerError, "save chapter: "+err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, IngestResponse{
		ID:        ch.ID,
		StoryID:   ch.StoryID,
		Ordinal:   ch.Ordinal,
		WordCount: ch.WordCount(),
		Status:    string(story.StatusPending),
	})
}

func (e *ChaptersIngestEndpoint) Command(getServerURL func() string) *cobra.Command {
	var (
		chapterID string
		storyID   string
		ordinal   int
		title     string
	)
	cmd := &cobra.Command{
		Use:   "ingest <body-file>",
		Short: "Store a chapter from a text file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read chapter body: %w", err)
			}

			client := api.NewClient(getServerURL())
			req := IngestRequest{
				ID:      chapterID,
				StoryID: storyID,
				Ordinal: ordinal,
				Title:   title,
				Body:    string(body),
			}
			var resp IngestResponse
			if err := client.Post(cmd.Context(), "/v1/chapters", req, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&chapterID, "id", "", "Chapter id (generated when empty)")
	cmd.Flags().StringVar(&storyID, "story", "", "Story id (required)")
	cmd.Flags().IntVar(&ordinal, "ordinal", 0, "Chapter position within the story (required)")
	cmd.Flags().StringVar(&title, "title", "", "Chapter title")
	_ = cmd.MarkFlagRequired("story")
	_ = cmd.MarkFlagRequired("ordinal")
	return cmd
}

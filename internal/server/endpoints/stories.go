package endpoints

import (
	"net/http"

	"github.com/spf13/cobra"

	"github.com/skeinlabs/skein/internal/api"
	"github.com/skeinlabs/skein/internal/svcctx"
)

// StoryChapterSummary is one row of a story listing.
type StoryChapterSummary struct {
	ChapterID      string `json:"chapter_id"`
	Ordinal        int    `json:"ordinal"`
	Title          string `json:"title,omitempty"`
	Status         string `json:"status"`
	ContextVersion int    `json:"context_version"`
	TotalTokens    int    `json:"total_tokens,omitempty"`
}

// StoriesChaptersEndpoint handles GET /v1/stories/{id}/chapters.
type StoriesChaptersEndpoint struct{}

func (e *StoriesChaptersEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/v1/stories/{id}/chapters", e.handler
}

func (e *StoriesChaptersEndpoint) RequiresInit() bool { return true }

func (e *StoriesChaptersEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	storyID := r.PathValue("id")
	rel := svcctx.RelStoreFrom(r.Context())

	rows, err := rel.ListStoryChapters(storyID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	summaries := make([]StoryChapterSummary, 0, len(rows))
	for _, row := range rows {
		summaries = append(summaries, StoryChapterSummary{
			ChapterID:      row.ID,
			Ordinal:        row.Ordinal,
			Title:          row.Title,
			Status:         string(row.Status),
			ContextVersion: row.ContextVersion,
			TotalTokens:    row.Usage.TotalTokens,
		})
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (e *StoriesChaptersEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "chapters <story-id>",
		Short: "List a story's chapters and their pipeline status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp []StoryChapterSummary
			if err := client.Get(cmd.Context(), "/v1/stories/"+args[0]+"/chapters", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

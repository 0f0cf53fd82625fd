package endpoints

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/skeinlabs/skein/internal/api"
	"github.com/skeinlabs/skein/internal/relstore"
	"github.com/skeinlabs/skein/internal/svcctx"
)

// ChapterStatusResponse reports a chapter's stored and live state.
type ChapterStatusResponse struct {
	ChapterID      string     `json:"chapter_id"`
	StoryID        string     `json:"story_id"`
	Ordinal        int        `json:"ordinal"`
	Title          string     `json:"title,omitempty"`
	Status         string     `json:"status"`
	PipelineState  string     `json:"pipeline_state,omitempty"`
	Stage          string     `json:"stage,omitempty"`
	ContextVersion int        `json:"context_version"`
	TotalTokens    int        `json:"total_tokens,omitempty"`
	Error          string     `json:"error,omitempty"`
	ErrorClass     string     `json:"error_class,omitempty"`
	ProcessedAt    *time.Time `json:"processed_at,omitempty"`
}

// ChaptersStatusEndpoint handles GET /v1/chapters/{id}/status.
type ChaptersStatusEndpoint struct{}

func (e *ChaptersStatusEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/v1/chapters/{id}/status", e.handler
}

func (e *ChaptersStatusEndpoint) RequiresInit() bool { return true }

func (e *ChaptersStatusEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	chapterID := r.PathValue("id")
	rel := svcctx.RelStoreFrom(r.Context())

	row, err := rel.GetChapter(chapterID)
	if errors.Is(err, relstore.ErrNotFound) {
		writeError(w, http.StatusNotFound, "chapter not found: "+chapterID)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := ChapterStatusResponse{
		ChapterID:      row.ID,
		StoryID:        row.StoryID,
		Ordinal:        row.Ordinal,
		Title:          row.Title,
		Status:         string(row.Status),
		ContextVersion: row.ContextVersion,
		TotalTokens:    row.Usage.TotalTokens,
		Error:          row.Error,
		ErrorClass:     row.ErrorClass,
		ProcessedAt:    row.ProcessedAt,
	}
	if runner := svcctx.RunnerFrom(r.Context()); runner != nil {
		if st, err := runner.StatusFor(chapterID); err == nil {
			resp.PipelineState = string(st.State)
			resp.Stage = st.Stage
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (e *ChaptersStatusEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "status <chapter-id>",
		Short: "Inspect a chapter's pipeline state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp ChapterStatusResponse
			if err := client.Get(cmd.Context(), "/v1/chapters/"+args[0]+"/status", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// ContextResponse carries a chapter's synthesized context.
type ContextResponse struct {
	ChapterID   string    `json:"chapter_id"`
	StoryID     string    `json:"story_id"`
	Version     int       `json:"version"`
	Condensed   string    `json:"condensed"`
	DerivedFrom []string  `json:"derived_from"`
	CreatedAt   time.Time `json:"created_at"`
}

// ChaptersContextEndpoint handles GET /v1/chapters/{id}/context.
type ChaptersContextEndpoint struct{}

func (e *ChaptersContextEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/v1/chapters/{id}/context", e.handler
}

func (e *ChaptersContextEndpoint) RequiresInit() bool { return true }

func (e *ChaptersContextEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	chapterID := r.PathValue("id")
	docs := svcctx.DocStoreFrom(r.Context())

	sc, err := docs.GetChapterContext(r.Context(), chapterID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if sc == nil {
		writeError(w, http.StatusNotFound, "no synthesized context for chapter: "+chapterID)
		return
	}

	derived := make([]string, 0, len(sc.DerivedFrom))
	for _, k := range sc.DerivedFrom {
		derived = append(derived, string(k))
	}

	writeJSON(w, http.StatusOK, ContextResponse{
		ChapterID:   sc.ChapterID,
		StoryID:     sc.StoryID,
		Version:     sc.Version,
		Condensed:   sc.Condensed,
		DerivedFrom: derived,
		CreatedAt:   sc.CreatedAt,
	})
}

func (e *ChaptersContextEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "context <chapter-id>",
		Short: "Show a chapter's synthesized context",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp ContextResponse
			if err := client.Get(cmd.Context(), "/v1/chapters/"+args[0]+"/context", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// ExtractionResponse carries one extraction payload.
type ExtractionResponse struct {
	ChapterID string          `json:"chapter_id"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// ChaptersExtractionsEndpoint handles GET /v1/chapters/{id}/extractions.
type ChaptersExtractionsEndpoint struct{}

func (e *ChaptersExtractionsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/v1/chapters/{id}/extractions", e.handler
}

func (e *ChaptersExtractionsEndpoint) RequiresInit() bool { return true }

func (e *ChaptersExtractionsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	chapterID := r.PathValue("id")
	docs := svcctx.DocStoreFrom(r.Context())

	records, err := docs.ListChapterExtractions(r.Context(), chapterID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resps := make([]ExtractionResponse, 0, len(records))
	for _, rec := range records {
		resps = append(resps, ExtractionResponse{
			ChapterID: rec.ChapterID,
			Kind:      string(rec.Kind),
			Payload:   json.RawMessage(rec.Payload),
			CreatedAt: rec.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resps)
}

func (e *ChaptersExtractionsEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "extractions <chapter-id>",
		Short: "List a chapter's extraction payloads",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp []ExtractionResponse
			if err := client.Get(cmd.Context(), "/v1/chapters/"+args[0]+"/extractions", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

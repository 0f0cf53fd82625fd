package endpoints

import (
	"encoding/json"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/skeinlabs/skein/internal/api"
	"github.com/skeinlabs/skein/internal/pipeline"
	"github.com/skeinlabs/skein/internal/svcctx"
)

// ProcessResponse reports one pipeline run.
type ProcessResponse struct {
	ChapterID      string  `json:"chapter_id"`
	Completed      bool    `json:"completed"`
	Stage          string  `json:"stage,omitempty"`
	Class          string  `json:"class,omitempty"`
	Error          string  `json:"error,omitempty"`
	ContextVersion int     `json:"context_version,omitempty"`
	TotalTokens    int     `json:"total_tokens,omitempty"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
}

func processResponse(res pipeline.Result) ProcessResponse {
	resp := ProcessResponse{
		ChapterID:      res.ChapterID,
		Completed:      res.Completed,
		Stage:          res.Stage,
		Class:          string(res.Class),
		ContextVersion: res.ContextVersion,
		TotalTokens:    res.Usage.TotalTokens,
		ElapsedSeconds: res.Elapsed.Seconds(),
	}
	if res.Err != nil {
		resp.Error = res.Err.Error()
	}
	return resp
}

// ChaptersProcessEndpoint handles POST /v1/chapters/{id}/process. The
// pipeline runs synchronously; the response is the run outcome.
type ChaptersProcessEndpoint struct{}

func (e *ChaptersProcessEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/v1/chapters/{id}/process", e.handler
}

func (e *ChaptersProcessEndpoint) RequiresInit() bool { return true }

func (e *ChaptersProcessEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	chapterID := r.PathValue("id")
	runner := svcctx.RunnerFrom(r.Context())

	res, err := runner.Submit(r.Context(), chapterID)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	status := http.StatusOK
	if !res.Completed {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, processResponse(res))
}

func (e *ChaptersProcessEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "process <chapter-id>",
		Short: "Run the extraction pipeline for a chapter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp ProcessResponse
			if err := client.Post(cmd.Context(), "/v1/chapters/"+args[0]+"/process", nil, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// StoriesReprocessEndpoint handles POST /v1/stories/{id}/reprocess.
// Chapters rerun in ordinal order and processing stops at the first
// failure. An optional body narrows the run to a subset of chapters.
type StoriesReprocessEndpoint struct{}

// ReprocessRequest selects which chapters to rerun. Empty means every
// chapter of the story.
type ReprocessRequest struct {
	ChapterIDs []string `json:"chapter_ids,omitempty"`
}

func (e *StoriesReprocessEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/v1/stories/{id}/reprocess", e.handler
}

func (e *StoriesReprocessEndpoint) RequiresInit() bool { return true }

func (e *StoriesReprocessEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	storyID := r.PathValue("id")
	runner := svcctx.RunnerFrom(r.Context())

	var req ReprocessRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
			return
		}
	}

	results, err := runner.Reprocess(r.Context(), storyID, req.ChapterIDs)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	resps := make([]ProcessResponse, 0, len(results))
	allCompleted := true
	for _, res := range results {
		resps = append(resps, processResponse(res))
		if !res.Completed {
			allCompleted = false
		}
	}

	status := http.StatusOK
	if !allCompleted {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, resps)
}

func (e *StoriesReprocessEndpoint) Command(getServerURL func() string) *cobra.Command {
	var chapters []string
	cmd := &cobra.Command{
		Use:   "reprocess <story-id>",
		Short: "Rerun the pipeline for a story's chapters in order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var body any
			if len(chapters) > 0 {
				body = ReprocessRequest{ChapterIDs: chapters}
			}
			var resp []ProcessResponse
			if err := client.Post(cmd.Context(), "/v1/stories/"+args[0]+"/reprocess", body, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringSliceVar(&chapters, "chapters", nil, "rerun only these chapter IDs (default: all)")
	return cmd
}

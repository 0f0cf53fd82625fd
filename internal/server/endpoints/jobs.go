package endpoints

import (
	"net/http"

	"github.com/spf13/cobra"

	"github.com/skeinlabs/skein/internal/api"
	"github.com/skeinlabs/skein/internal/jobs"
	"github.com/skeinlabs/skein/internal/svcctx"
)

// JobsGetEndpoint handles GET /v1/jobs/{id}.
type JobsGetEndpoint struct{}

func (e *JobsGetEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/v1/jobs/{id}", e.handler
}

func (e *JobsGetEndpoint) RequiresInit() bool { return true }

func (e *JobsGetEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	manager := svcctx.JobManagerFrom(r.Context())

	rec, err := manager.Get(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (e *JobsGetEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "get <job-id>",
		Short: "Get a job record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp jobs.Record
			if err := client.Get(cmd.Context(), "/v1/jobs/"+args[0], &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// JobsListEndpoint handles GET /v1/jobs.
type JobsListEndpoint struct{}

func (e *JobsListEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/v1/jobs", e.handler
}

func (e *JobsListEndpoint) RequiresInit() bool { return true }

func (e *JobsListEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	manager := svcctx.JobManagerFrom(r.Context())

	filter := jobs.ListFilter{
		Status:    jobs.Status(r.URL.Query().Get("status")),
		ChapterID: r.URL.Query().Get("chapter_id"),
	}
	records, err := manager.List(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (e *JobsListEndpoint) Command(getServerURL func() string) *cobra.Command {
	var status, chapterID string
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List pipeline jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/v1/jobs"
			sep := "?"
			if status != "" {
				path += sep + "status=" + status
				sep = "&"
			}
			if chapterID != "" {
				path += sep + "chapter_id=" + chapterID
			}

			client := api.NewClient(getServerURL())
			var resp []jobs.Record
			if err := client.Get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (running, completed, failed)")
	cmd.Flags().StringVar(&chapterID, "chapter", "", "Filter by chapter id")
	return cmd
}

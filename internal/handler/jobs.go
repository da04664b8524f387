package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/YannKr/deepscan/internal/db"
	"github.com/YannKr/deepscan/internal/model"
	"github.com/YannKr/deepscan/internal/sse"
)

type apiCallback struct {
	Kind        string `json:"kind"`
	Status      *int   `json:"status"`
	Error       string `json:"error,omitempty"`
	AttemptedAt string `json:"attemptedAt"`
}

type apiJob struct {
	JobID      string         `json:"jobId"`
	SourceURL  string         `json:"sourceUrl"`
	MediaKind  string         `json:"mediaKind"`
	State      model.JobState `json:"state"`
	RiskLevel  string         `json:"riskLevel,omitempty"`
	Score      *float64       `json:"score"`
	Error      string         `json:"error,omitempty"`
	CreatedAt  string         `json:"createdAt"`
	FinishedAt *string        `json:"finishedAt"`
	Callbacks  []apiCallback  `json:"callbacks"`
}

// JobStatus - GET /api/jobs/{jobID}
func (h *Handler) JobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	job, err := db.GetJob(h.DB, jobID)
	if err != nil {
		slog.Error("get job", "job", jobID, "error", err)
		renderJSONError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to get job")
		return
	}
	if job == nil {
		renderJSONError(w, http.StatusNotFound, "NOT_FOUND", "job not found")
		return
	}
	deliveries, err := db.ListCallbackDeliveries(h.DB, jobID)
	if err != nil {
		slog.Error("list callback deliveries", "job", jobID, "error", err)
		renderJSONError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to get job")
		return
	}

	out := apiJob{
		JobID:     job.ID,
		SourceURL: job.SourceURL,
		MediaKind: job.MediaKind,
		State:     job.State,
		RiskLevel: job.RiskLevel,
		Score:     job.Score,
		Error:     job.Error,
		CreatedAt: job.CreatedAt.UTC().Format(time.RFC3339),
		Callbacks: make([]apiCallback, 0, len(deliveries)),
	}
	if job.FinishedAt != nil {
		s := job.FinishedAt.UTC().Format(time.RFC3339)
		out.FinishedAt = &s
	}
	for _, d := range deliveries {
		out.Callbacks = append(out.Callbacks, apiCallback{
			Kind:        d.Kind,
			Status:      d.ResponseStatus,
			Error:       d.ErrorMessage,
			AttemptedAt: d.AttemptedAt.UTC().Format(time.RFC3339),
		})
	}
	renderJSON(w, http.StatusOK, out)
}

// JobEvents - GET /api/jobs/{jobID}/events
func (h *Handler) JobEvents(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	flusher, ok := w.(http.Flusher)
	if !ok {
		renderJSONError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, unsub := h.SSE.Subscribe(sse.JobTopic(jobID))
	defer unsub()

	fmt.Fprintf(w, ": connected\n\n")
	flusher.Flush()

	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()
		case evt, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, evt.Data)
			flusher.Flush()
			if evt.Type == "reported" || evt.Type == "failed" {
				return
			}
		}
	}
}

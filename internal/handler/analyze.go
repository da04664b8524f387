package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/YannKr/deepscan/internal/model"
	"github.com/YannKr/deepscan/internal/worker"
)

type analyzeResponse struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	JobID   string            `json:"jobId"`
	Preview *model.RiskReport `json:"preview"`
}

// Analyze - POST /api/analyze
//
// Runs a backend job to completion. The backend learns the outcome through
// its callback endpoints; the response mirrors it for the caller.
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	var req worker.JobRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		renderJSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body")
		return
	}
	if req.FileType == "" {
		req.FileType = string(model.MediaImage)
	}

	report, err := h.Pool.Submit(r.Context(), req)
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		status := statusForJobError(err)
		code := "JOB_FAILED"
		if status == http.StatusBadRequest {
			code = "BAD_REQUEST"
		}
		renderJSONError(w, status, code, err.Error())
		return
	}

	renderJSON(w, http.StatusOK, analyzeResponse{
		Success: true,
		Message: "Analysis completed",
		JobID:   req.JobID,
		Preview: report,
	})
}

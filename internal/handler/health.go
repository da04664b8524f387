package handler

import (
	"net/http"
)

type healthResponse struct {
	Status        string `json:"status"`
	ModelLoaded   bool   `json:"model_loaded"`
	Device        string `json:"device"`
	Backbone      string `json:"backbone"`
	DiskFreeBytes uint64 `json:"disk_free_bytes"`
}

// Health - GET /api/health
//
// Loads the model on first call. A checkpoint that exists but cannot be
// loaded reports unhealthy.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	state, err := h.Registry.EnsureLoaded()
	if err != nil {
		renderJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}

	resp := healthResponse{
		Status:      "healthy",
		ModelLoaded: !state.Fallback(),
		Device:      string(state.Device),
		Backbone:    state.Backbone,
	}
	if h.DiskCache != nil {
		resp.DiskFreeBytes = h.DiskCache.Get().FreeBytes
	}
	renderJSON(w, http.StatusOK, resp)
}

// Package handler exposes the HTTP API: synchronous prediction, backend
// analysis jobs, job status and events, and health.
package handler

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/YannKr/deepscan/internal/config"
	"github.com/YannKr/deepscan/internal/diskstat"
	"github.com/YannKr/deepscan/internal/fetch"
	"github.com/YannKr/deepscan/internal/registry"
	"github.com/YannKr/deepscan/internal/sse"
	"github.com/YannKr/deepscan/internal/worker"
)

type Handler struct {
	DB        *sql.DB
	Cfg       *config.Config
	Pool      *worker.Pool
	Registry  *registry.Registry
	Fetcher   *fetch.Fetcher
	SSE       *sse.Hub
	DiskCache *diskstat.Cache
}

func New(database *sql.DB, cfg *config.Config, pool *worker.Pool, reg *registry.Registry, fetcher *fetch.Fetcher, sseHub *sse.Hub) *Handler {
	return &Handler{
		DB:       database,
		Cfg:      cfg,
		Pool:     pool,
		Registry: reg,
		Fetcher:  fetcher,
		SSE:      sseHub,
	}
}

type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
}

func renderJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func renderJSONError(w http.ResponseWriter, status int, code, msg string) {
	renderJSON(w, status, errorBody{Success: false, Error: msg, Code: code})
}

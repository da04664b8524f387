package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/YannKr/deepscan/internal/imaging"
	"github.com/YannKr/deepscan/internal/media"
	"github.com/YannKr/deepscan/internal/model"
)

type predictDetails struct {
	FakePercent           float64 `json:"fake_percent"`
	RealPercent           float64 `json:"real_percent"`
	ProcessingTimeSeconds float64 `json:"processing_time_seconds"`
	FramesAnalyzed        *int    `json:"frames_analyzed,omitempty"`
	Fallback              bool    `json:"fallback,omitempty"`
}

type predictResponse struct {
	Success    bool            `json:"success"`
	Score      float64         `json:"score"`
	Confidence float64         `json:"confidence"`
	RiskLevel  model.RiskLevel `json:"riskLevel"`
	Prediction model.Label     `json:"prediction"`
	Details    predictDetails  `json:"details"`
}

// Predict - POST /api/predict
//
// Accepts a multipart "image" file, or an imageUrl given as a form field or
// JSON body, and scores it synchronously.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	if !h.admits(r.ContentLength) {
		renderJSONError(w, http.StatusInsufficientStorage, "INSUFFICIENT_STORAGE", "not enough free disk space")
		return
	}

	path, kind, status, err := h.stagePredictInput(w, r)
	if err != nil {
		code := "BAD_REQUEST"
		if status >= 500 {
			code = "INTERNAL_ERROR"
			slog.Error("stage predict input", "error", err)
		}
		renderJSONError(w, status, code, err.Error())
		return
	}
	defer func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Warn("remove predict input", "path", path, "error", err)
		}
	}()

	// Analyze returns only once no worker holds path, so the deferred
	// removal cannot race a running analysis.
	a, err := h.Pool.Analyze(r.Context(), path, kind)
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		slog.Error("predict", "path", path, "error", err)
		renderJSONError(w, statusForJobError(err), "ANALYSIS_FAILED", err.Error())
		return
	}

	p := a.Result.RawProbability
	resp := predictResponse{
		Success:    true,
		Score:      model.Round(p, 4),
		Confidence: model.Round(model.Confidence(p), 4),
		RiskLevel:  model.RiskFor(a.Result.FakePercent),
		Prediction: a.Result.Label,
		Details: predictDetails{
			FakePercent:           a.Result.FakePercent,
			RealPercent:           a.Result.RealPercent,
			ProcessingTimeSeconds: model.Round(time.Since(start).Seconds(), 2),
			Fallback:              a.Result.Fallback,
		},
	}
	if a.Video != nil {
		n := a.Video.FramesAnalyzed
		resp.Details.FramesAnalyzed = &n
	}
	renderJSON(w, http.StatusOK, resp)
}

// stagePredictInput writes the request media to a job-owned temp file.
func (h *Handler) stagePredictInput(w http.ResponseWriter, r *http.Request) (string, model.MediaKind, int, error) {
	uploads := h.Cfg.UploadsDir()
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	var imageURL string
	switch ct {
	case "multipart/form-data":
		r.Body = http.MaxBytesReader(w, r.Body, h.Cfg.MaxUploadBytes)
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			return "", "", http.StatusBadRequest, fmt.Errorf("failed to parse multipart form: %w", err)
		}
		file, header, err := r.FormFile("image")
		if err == nil {
			defer file.Close()
			kind, ext := media.KindForFilename(header.Filename)
			if kind == model.MediaUnsupported {
				return "", "", http.StatusBadRequest, fmt.Errorf("unsupported file type: %q", ext)
			}
			path, err := saveTemp(uploads, ext, file)
			if err != nil {
				return "", "", http.StatusInternalServerError, err
			}
			return path, kind, 0, nil
		}
		imageURL = r.FormValue("imageUrl")
	case "application/json":
		var body struct {
			ImageURL string `json:"imageUrl"`
		}
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&body); err != nil {
			return "", "", http.StatusBadRequest, fmt.Errorf("invalid JSON body")
		}
		imageURL = body.ImageURL
	default:
		imageURL = r.FormValue("imageUrl")
	}

	imageURL = strings.TrimSpace(imageURL)
	if imageURL == "" {
		return "", "", http.StatusBadRequest, errors.New("no image file or imageUrl provided")
	}

	dl, err := h.Fetcher.Fetch(r.Context(), imageURL, uploads, imaging.TempPrefix)
	if err != nil {
		return "", "", http.StatusBadRequest, fmt.Errorf("could not fetch imageUrl: %w", err)
	}
	kind, ext := media.Classify(imageURL, dl.ContentType, "")
	path := dl.Path + ext
	if err := os.Rename(dl.Path, path); err != nil {
		os.Remove(dl.Path)
		return "", "", http.StatusInternalServerError, fmt.Errorf("store media: %w", err)
	}
	return path, kind, 0, nil
}

func saveTemp(dir, ext string, src io.Reader) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create uploads dir: %w", err)
	}
	path := filepath.Join(dir, imaging.TempPrefix+uuid.New().String()+ext)
	dst, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	_, err = io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return "", fmt.Errorf("save upload: %w", err)
	}
	return path, nil
}

func (h *Handler) admits(contentLength int64) bool {
	if h.DiskCache == nil {
		return true
	}
	need := uint64(0)
	if contentLength > 0 {
		need = uint64(contentLength)
	}
	return h.DiskCache.Get().Admits(need, uint64(h.Cfg.MinFreeBytes))
}

func statusForJobError(err error) int {
	var je *model.JobError
	if errors.As(err, &je) && je.ClientError() {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

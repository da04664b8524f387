package worker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/YannKr/deepscan/internal/callback"
	"github.com/YannKr/deepscan/internal/db"
	"github.com/YannKr/deepscan/internal/fetch"
	"github.com/YannKr/deepscan/internal/imaging"
	"github.com/YannKr/deepscan/internal/media"
	"github.com/YannKr/deepscan/internal/model"
	"github.com/YannKr/deepscan/internal/registry"
	"github.com/YannKr/deepscan/internal/scorer"
	"github.com/YannKr/deepscan/internal/sse"
	"github.com/YannKr/deepscan/internal/video"
)

// JobRequest is the body of an analysis job submission.
type JobRequest struct {
	JobID    string `json:"jobId"`
	FileURL  string `json:"fileUrl"`
	FileType string `json:"fileType"`
}

func (r JobRequest) validate() error {
	var missing []string
	if strings.TrimSpace(r.JobID) == "" {
		missing = append(missing, "jobId")
	}
	if strings.TrimSpace(r.FileURL) == "" {
		missing = append(missing, "fileUrl")
	}
	if len(missing) > 0 {
		return model.NewJobError(model.KindValidation, "", fmt.Errorf("missing %s", strings.Join(missing, " and ")))
	}
	return nil
}

// Analysis is the scoring outcome of one local media file.
type Analysis struct {
	Kind     model.MediaKind
	Format   string
	Result   model.ScoreResult
	Backbone string
	Video    *video.Result
	Degraded string
	Metadata map[string]any
}

// Orchestrator runs analysis jobs end to end: fetch, classify, score and
// report back to the backend exactly once.
type Orchestrator struct {
	DB          *sql.DB
	Registry    *registry.Registry
	Scorer      *scorer.Scorer
	Video       video.Analyzer
	Fetcher     *fetch.Fetcher
	Callback    *callback.Client
	Hub         *sse.Hub
	UploadsDir  string
	FrameBudget int
}

// ProcessJob runs one job. Validation failures return before any I/O and
// are never reported. Every other failure is reported through the error
// callback and returned; success is reported through the result callback.
// Callbacks are bounded by their own timeouts only, so a job whose context
// is cancelled still reports its outcome.
func (o *Orchestrator) ProcessJob(ctx context.Context, req JobRequest) (*model.RiskReport, error) {
	start := time.Now()
	if err := req.validate(); err != nil {
		return nil, err
	}

	t := newTracker(req.JobID)
	if o.DB != nil {
		if err := db.UpsertJob(o.DB, req.JobID, req.FileURL); err != nil {
			slog.Error("ledger: record job", "job", req.JobID, "error", err)
		}
	}
	slog.Info("processing job", "job", req.JobID, "url", req.FileURL, "file_type", req.FileType)

	report, err := o.run(ctx, req, start)
	if err != nil {
		o.reportError(ctx, t, err)
		return nil, err
	}
	o.reportResult(ctx, t, report)
	return report, nil
}

func (o *Orchestrator) run(ctx context.Context, req JobRequest, start time.Time) (*model.RiskReport, error) {
	dl, err := o.Fetcher.Fetch(ctx, req.FileURL, o.UploadsDir, imaging.TempPrefix)
	if err != nil {
		return nil, model.NewJobError(model.KindFetch, "download media", err)
	}
	defer removeQuiet(dl.Path)

	kind, ext := media.Classify(req.FileURL, dl.ContentType, req.FileType)
	if kind == model.MediaUnsupported {
		return nil, model.NewJobError(model.KindUnsupported, "", fmt.Errorf("unsupported file type: %s", ext))
	}
	path := dl.Path + ext
	if err := os.Rename(dl.Path, path); err != nil {
		return nil, model.NewJobError(model.KindStorage, "store media", err)
	}
	defer removeQuiet(path)

	if o.DB != nil {
		if err := db.SetJobMediaKind(o.DB, req.JobID, kind); err != nil {
			slog.Error("ledger: set media kind", "job", req.JobID, "error", err)
		}
	}
	o.publish(req.JobID, "fetched", map[string]any{"media_kind": kind, "size": dl.Size})

	a, err := o.Analyze(ctx, path, kind)
	if err != nil {
		return nil, err
	}
	report := BuildReport(a, time.Since(start))
	o.publish(req.JobID, "scored", map[string]any{"score": report.Score, "riskLevel": report.RiskLevel})
	return report, nil
}

// Analyze scores a local file of the given kind. Errors are JobErrors.
func (o *Orchestrator) Analyze(ctx context.Context, path string, kind model.MediaKind) (*Analysis, error) {
	state, err := o.Registry.EnsureLoaded()
	if err != nil {
		return nil, model.NewJobError(model.KindAnalysis, "load model", err)
	}

	switch kind {
	case model.MediaImage:
		meta := imaging.Fingerprint(path)
		out, err := o.Scorer.ScoreFile(path)
		if err != nil {
			return nil, model.NewJobError(model.KindAnalysis, "score image", err)
		}
		if out.Kind == model.OutcomeDegraded {
			slog.Warn("scored unstandardized image", "path", path, "reason", out.Reason)
		}
		return &Analysis{Kind: kind, Format: filepath.Ext(path), Result: out.Result, Backbone: state.Backbone, Degraded: out.Reason, Metadata: meta}, nil

	case model.MediaVideo:
		if o.Video == nil {
			return nil, model.NewJobError(model.KindAnalysis, "analyze video", errors.New("video analysis unavailable"))
		}
		v, err := o.Video.Analyze(ctx, video.Request{Path: path, State: state, MaxFrames: o.FrameBudget})
		if err != nil {
			return nil, model.NewJobError(model.KindAnalysis, "analyze video", err)
		}
		res := model.ScoreResult{
			RawProbability: v.FakePercent / 100,
			FakePercent:    v.FakePercent,
			RealPercent:    v.RealPercent,
			Label:          model.LabelVideoAnalysis,
			Fallback:       state.Fallback(),
		}
		return &Analysis{Kind: kind, Format: filepath.Ext(path), Result: res, Backbone: state.Backbone, Video: v}, nil
	}
	return nil, model.NewJobError(model.KindUnsupported, "", errors.New("unsupported file type"))
}

// BuildReport assembles the wire payload for the result callback.
func BuildReport(a *Analysis, elapsed time.Duration) *model.RiskReport {
	p := a.Result.RawProbability
	meta := map[string]any{
		"raw_probability": p,
		"fake_percent":    a.Result.FakePercent,
		"real_percent":    a.Result.RealPercent,
		"prediction":      a.Result.Label,
		"media_kind":      a.Kind,
		"original_format": a.Format,
	}
	for k, v := range a.Metadata {
		meta[k] = v
	}
	if a.Result.Fallback {
		meta["fallback"] = true
	}
	if a.Degraded != "" {
		meta["degraded"] = a.Degraded
	}

	report := &model.RiskReport{
		Score:          model.Round(p, 4),
		Confidence:     model.Round(model.Confidence(p), 4),
		RiskLevel:      model.RiskFor(a.Result.FakePercent),
		ModelVersions:  map[string]string{a.Backbone: registry.ModelVersion},
		TamperRegions:  []model.TamperRegion{},
		ProcessingTime: model.Round(elapsed.Seconds(), 2),
		Metadata:       meta,
	}
	if a.Video != nil {
		n := a.Video.FramesAnalyzed
		meta["frames_analyzed"] = n
		report.PerFrameScores = a.Video.FrameScores
		report.FrameCount = &n
	}
	return report
}

func (o *Orchestrator) reportResult(ctx context.Context, t *tracker, report *model.RiskReport) {
	if err := t.finish(model.JobReportedSuccess); err != nil {
		slog.Error("job state", "error", err)
		return
	}
	if o.DB != nil {
		if err := db.CompleteJob(o.DB, t.jobID, report.RiskLevel, report.Score); err != nil {
			slog.Error("ledger: complete job", "job", t.jobID, "error", err)
		}
	}
	err := o.Callback.ReportResult(context.WithoutCancel(ctx), t.jobID, report)
	o.publish(t.jobID, "reported", map[string]any{"delivered": err == nil, "riskLevel": report.RiskLevel})
	slog.Info("job completed", "job", t.jobID, "risk", report.RiskLevel, "score", report.Score)
}

func (o *Orchestrator) reportError(ctx context.Context, t *tracker, jobErr error) {
	if err := t.finish(model.JobReportedError); err != nil {
		slog.Error("job state", "error", err)
		return
	}
	slog.Error("job failed", "job", t.jobID, "kind", model.KindOf(jobErr), "error", jobErr)
	if o.DB != nil {
		if err := db.FailJob(o.DB, t.jobID, jobErr.Error()); err != nil {
			slog.Error("ledger: fail job", "job", t.jobID, "error", err)
		}
	}
	err := o.Callback.ReportError(context.WithoutCancel(ctx), t.jobID, jobErr.Error())
	o.publish(t.jobID, "failed", map[string]any{"error": jobErr.Error(), "delivered": err == nil})
}

func (o *Orchestrator) publish(jobID, eventType string, data map[string]any) {
	o.Hub.PublishJSON(sse.JobTopic(jobID), eventType, data)
}

func removeQuiet(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("remove temp file", "path", path, "error", err)
	}
}

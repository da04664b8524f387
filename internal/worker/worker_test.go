package worker

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	deepscan "github.com/YannKr/deepscan"
	"github.com/YannKr/deepscan/internal/callback"
	"github.com/YannKr/deepscan/internal/db"
	"github.com/YannKr/deepscan/internal/fetch"
	"github.com/YannKr/deepscan/internal/model"
	"github.com/YannKr/deepscan/internal/registry"
	"github.com/YannKr/deepscan/internal/scorer"
	"github.com/YannKr/deepscan/internal/sse"
	"github.com/YannKr/deepscan/internal/testsupport"
	"github.com/YannKr/deepscan/internal/video"
)

type call struct {
	path string
	body map[string]any
}

type fakeBackend struct {
	mu         sync.Mutex
	calls      []call
	resultCode int
	srv        *httptest.Server
}

func newBackend(t *testing.T) *fakeBackend {
	b := &fakeBackend{resultCode: http.StatusOK}
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		json.Unmarshal(raw, &body)
		b.mu.Lock()
		b.calls = append(b.calls, call{path: r.URL.Path, body: body})
		code := b.resultCode
		b.mu.Unlock()
		if strings.HasSuffix(r.URL.Path, "/error") {
			code = http.StatusOK
		}
		w.WriteHeader(code)
	}))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBackend) Calls() []call {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]call(nil), b.calls...)
}

type stubAnalyzer struct {
	res *video.Result
	err error
	got video.Request
}

func (s *stubAnalyzer) Analyze(_ context.Context, req video.Request) (*video.Result, error) {
	s.got = req
	return s.res, s.err
}

type fixture struct {
	orch    *Orchestrator
	backend *fakeBackend
	media   *httptest.Server
	db      *sql.DB
	uploads string
}

func newFixture(t *testing.T, reg *registry.Registry, analyzer video.Analyzer) *fixture {
	t.Helper()
	png := testsupport.PNGBytes(t)
	mux := http.NewServeMux()
	mux.HandleFunc("/img.png", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(png)
	})
	mux.HandleFunc("/blob", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write([]byte("not really a video"))
	})
	media := httptest.NewServer(mux)
	t.Cleanup(media.Close)

	database, err := db.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.Migrate(database, deepscan.MigrationFS))

	backend := newBackend(t)
	uploads := filepath.Join(t.TempDir(), "uploads")
	orch := &Orchestrator{
		DB:       database,
		Registry: reg,
		Scorer:   scorer.New(reg),
		Video:    analyzer,
		Fetcher:  fetch.New(5*time.Second, 1<<20),
		Callback: &callback.Client{
			BaseURL:       backend.srv.URL,
			ResultTimeout: 2 * time.Second,
			ErrorTimeout:  2 * time.Second,
			DB:            database,
		},
		Hub:         sse.New(),
		UploadsDir:  uploads,
		FrameBudget: video.DefaultFrameBudget,
	}
	return &fixture{orch: orch, backend: backend, media: media, db: database, uploads: uploads}
}

func TestProcessJobHighRiskImage(t *testing.T) {
	f := newFixture(t, testsupport.ConstantRegistry(t, 0.85, 16), nil)
	events, unsub := f.orch.Hub.Subscribe(sse.JobTopic("job-a"))
	defer unsub()

	report, err := f.orch.ProcessJob(context.Background(), JobRequest{JobID: "job-a", FileURL: f.media.URL + "/img.png", FileType: "image"})
	require.NoError(t, err)
	assert.Equal(t, 0.85, report.Score)
	assert.Equal(t, 0.7, report.Confidence)
	assert.Equal(t, model.RiskHigh, report.RiskLevel)
	assert.Equal(t, map[string]string{"globalpool": "1.0"}, report.ModelVersions)
	assert.Empty(t, report.TamperRegions)
	assert.Equal(t, model.LabelFakeGenerated, report.Metadata["prediction"])
	assert.Contains(t, report.Metadata, "dhash")
	assert.Nil(t, report.FrameCount)

	calls := f.backend.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "/api/job/job-a/result", calls[0].path)
	assert.Equal(t, "HIGHRISK", calls[0].body["riskLevel"])

	assert.Empty(t, testsupport.Entries(t, f.uploads))

	job, err := db.GetJob(f.db, "job-a")
	require.NoError(t, err)
	assert.Equal(t, model.JobReportedSuccess, job.State)
	assert.Equal(t, "image", job.MediaKind)

	var types []string
	for len(events) > 0 {
		types = append(types, (<-events).Type)
	}
	assert.Equal(t, []string{"fetched", "scored", "reported"}, types)
}

func TestProcessJobBands(t *testing.T) {
	cases := []struct {
		p     float64
		risk  model.RiskLevel
		label model.Label
		conf  float64
	}{
		{0.45, model.RiskSuspicious, model.LabelFakeEdited, 0.1},
		{0.10, model.RiskLow, model.LabelReal, 0.8},
	}
	for _, tc := range cases {
		f := newFixture(t, testsupport.ConstantRegistry(t, tc.p, 16), nil)
		report, err := f.orch.ProcessJob(context.Background(), JobRequest{JobID: "j", FileURL: f.media.URL + "/img.png"})
		require.NoError(t, err)
		assert.Equal(t, tc.risk, report.RiskLevel)
		assert.Equal(t, tc.label, report.Metadata["prediction"])
		assert.Equal(t, tc.conf, report.Confidence)
	}
}

func TestProcessJobUnreachableSource(t *testing.T) {
	f := newFixture(t, testsupport.ConstantRegistry(t, 0.5, 16), nil)

	_, err := f.orch.ProcessJob(context.Background(), JobRequest{JobID: "job-d", FileURL: "http://127.0.0.1:1/missing.png"})
	require.Error(t, err)
	assert.Equal(t, model.KindFetch, model.KindOf(err))

	calls := f.backend.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "/api/job/job-d/error", calls[0].path)
	assert.NotEmpty(t, calls[0].body["error"])
	assert.Empty(t, testsupport.Entries(t, f.uploads))

	job, err := db.GetJob(f.db, "job-d")
	require.NoError(t, err)
	assert.Equal(t, model.JobReportedError, job.State)
}

func TestProcessJobNotFoundSource(t *testing.T) {
	f := newFixture(t, testsupport.FallbackRegistry(), nil)

	_, err := f.orch.ProcessJob(context.Background(), JobRequest{JobID: "job-404", FileURL: f.media.URL + "/nope.png"})
	var se *fetch.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.Status)
	require.Len(t, f.backend.Calls(), 1)
}

func TestProcessJobValidation(t *testing.T) {
	f := newFixture(t, testsupport.FallbackRegistry(), nil)

	_, err := f.orch.ProcessJob(context.Background(), JobRequest{FileURL: f.media.URL + "/img.png"})
	require.Error(t, err)
	assert.Equal(t, model.KindValidation, model.KindOf(err))
	assert.Contains(t, err.Error(), "jobId")
	assert.Empty(t, f.backend.Calls())

	job, err := db.GetJob(f.db, "")
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestProcessJobVideo(t *testing.T) {
	analyzer := &stubAnalyzer{res: &video.Result{FakePercent: 72.5, RealPercent: 27.5, FrameScores: []float64{0.7, 0.75}, FramesAnalyzed: 2}}
	f := newFixture(t, testsupport.FallbackRegistry(), analyzer)

	report, err := f.orch.ProcessJob(context.Background(), JobRequest{JobID: "job-v", FileURL: f.media.URL + "/blob", FileType: "video"})
	require.NoError(t, err)
	assert.Equal(t, model.RiskHigh, report.RiskLevel)
	assert.Equal(t, 0.725, report.Score)
	require.NotNil(t, report.FrameCount)
	assert.Equal(t, 2, *report.FrameCount)
	assert.Equal(t, []float64{0.7, 0.75}, report.PerFrameScores)
	assert.Equal(t, model.LabelVideoAnalysis, report.Metadata["prediction"])

	assert.Equal(t, video.DefaultFrameBudget, analyzer.got.MaxFrames)
	assert.Equal(t, ".mp4", filepath.Ext(analyzer.got.Path))
	assert.Empty(t, testsupport.Entries(t, f.uploads))
}

func TestProcessJobAnalysisFailureCleansUp(t *testing.T) {
	analyzer := &stubAnalyzer{err: video.ErrNoFrames}
	f := newFixture(t, testsupport.FallbackRegistry(), analyzer)

	_, err := f.orch.ProcessJob(context.Background(), JobRequest{JobID: "job-x", FileURL: f.media.URL + "/blob", FileType: "video"})
	require.ErrorIs(t, err, video.ErrNoFrames)
	assert.Equal(t, model.KindAnalysis, model.KindOf(err))

	calls := f.backend.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "/api/job/job-x/error", calls[0].path)
	assert.Empty(t, testsupport.Entries(t, f.uploads))
}

func TestFailedResultCallbackIsNotReportedAsError(t *testing.T) {
	f := newFixture(t, testsupport.FallbackRegistry(), nil)
	f.backend.mu.Lock()
	f.backend.resultCode = http.StatusInternalServerError
	f.backend.mu.Unlock()

	report, err := f.orch.ProcessJob(context.Background(), JobRequest{JobID: "job-r", FileURL: f.media.URL + "/img.png"})
	require.NoError(t, err)
	assert.Equal(t, 0.664, report.Score)
	assert.Equal(t, true, report.Metadata["fallback"])

	calls := f.backend.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "/api/job/job-r/result", calls[0].path)

	ds, err := db.ListCallbackDeliveries(f.db, "job-r")
	require.NoError(t, err)
	require.Len(t, ds, 1)
	assert.NotEmpty(t, ds[0].ErrorMessage)
}

func TestTrackerRejectsSecondTransition(t *testing.T) {
	tr := newTracker("j")
	require.NoError(t, tr.finish(model.JobReportedSuccess))
	require.ErrorIs(t, tr.finish(model.JobReportedError), ErrAlreadyReported)
	assert.Equal(t, model.JobReportedSuccess, tr.State())
	require.Error(t, newTracker("k").finish(model.JobPending))
}

func TestPoolSubmit(t *testing.T) {
	f := newFixture(t, testsupport.ConstantRegistry(t, 0.1, 16), nil)
	p := NewPool(f.orch, 2)
	p.Start(context.Background())

	var wg sync.WaitGroup
	for _, id := range []string{"p1", "p2", "p3"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			report, err := p.Submit(context.Background(), JobRequest{JobID: id, FileURL: f.media.URL + "/img.png"})
			assert.NoError(t, err)
			assert.Equal(t, model.RiskLow, report.RiskLevel)
		}(id)
	}
	wg.Wait()
	assert.Len(t, f.backend.Calls(), 3)

	p.Stop()
	_, err := p.Submit(context.Background(), JobRequest{JobID: "late", FileURL: f.media.URL + "/img.png"})
	require.ErrorIs(t, err, ErrPoolStopped)
}

func TestPoolSubmitValidatesBeforeQueueing(t *testing.T) {
	f := newFixture(t, testsupport.FallbackRegistry(), nil)
	p := NewPool(f.orch, 1)

	_, err := p.Submit(context.Background(), JobRequest{JobID: "x"})
	assert.Equal(t, model.KindValidation, model.KindOf(err))
}

func TestProcessJobUnknownHintIsUnsupported(t *testing.T) {
	f := newFixture(t, testsupport.FallbackRegistry(), nil)

	_, err := f.orch.ProcessJob(context.Background(), JobRequest{JobID: "job-g", FileURL: f.media.URL + "/blob", FileType: "gif"})
	require.Error(t, err)
	assert.Equal(t, model.KindUnsupported, model.KindOf(err))
	assert.Contains(t, err.Error(), ".gif")

	calls := f.backend.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "/api/job/job-g/error", calls[0].path)
	assert.Empty(t, testsupport.Entries(t, f.uploads))
}

func TestProcessJobCancelledContextStillReports(t *testing.T) {
	f := newFixture(t, testsupport.FallbackRegistry(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.orch.ProcessJob(ctx, JobRequest{JobID: "job-c", FileURL: f.media.URL + "/img.png"})
	require.Error(t, err)

	calls := f.backend.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "/api/job/job-c/error", calls[0].path)

	ds, err := db.ListCallbackDeliveries(f.db, "job-c")
	require.NoError(t, err)
	require.Len(t, ds, 1)
	assert.Empty(t, ds[0].ErrorMessage)
}

func TestPoolStopDrainsRunningJob(t *testing.T) {
	f := newFixture(t, testsupport.FallbackRegistry(), nil)
	f.orch.Fetcher = fetch.New(300*time.Millisecond, 1<<20)

	hit := make(chan struct{})
	var once sync.Once
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() { close(hit) })
		<-r.Context().Done()
	}))
	t.Cleanup(slow.Close)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := NewPool(f.orch, 1)
	p.Start(ctx)

	errc := make(chan error, 1)
	go func() {
		_, err := p.Submit(context.Background(), JobRequest{JobID: "job-s", FileURL: slow.URL + "/img.png"})
		errc <- err
	}()
	select {
	case <-hit:
	case <-time.After(5 * time.Second):
		t.Fatal("fetch never reached the media server")
	}

	// Shutdown: the parent context goes away, then the pool is stopped.
	cancel()
	p.Stop()

	select {
	case err := <-errc:
		assert.Equal(t, model.KindFetch, model.KindOf(err))
	case <-time.After(5 * time.Second):
		t.Fatal("Submit did not return after Stop")
	}

	calls := f.backend.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "/api/job/job-s/error", calls[0].path)

	ds, err := db.ListCallbackDeliveries(f.db, "job-s")
	require.NoError(t, err)
	require.Len(t, ds, 1)
	require.NotNil(t, ds[0].ResponseStatus)
	assert.Equal(t, http.StatusOK, *ds[0].ResponseStatus)
	assert.Empty(t, testsupport.Entries(t, f.uploads))
}

type blockingAnalyzer struct {
	started chan struct{}
	release chan struct{}
	present bool
}

func (b *blockingAnalyzer) Analyze(_ context.Context, req video.Request) (*video.Result, error) {
	close(b.started)
	<-b.release
	_, err := os.Stat(req.Path)
	b.present = err == nil
	return &video.Result{FakePercent: 10, RealPercent: 90, FrameScores: []float64{0.1}, FramesAnalyzed: 1}, nil
}

func TestPoolAnalyzeWaitsForStartedTask(t *testing.T) {
	analyzer := &blockingAnalyzer{started: make(chan struct{}), release: make(chan struct{})}
	f := newFixture(t, testsupport.FallbackRegistry(), analyzer)
	p := NewPool(f.orch, 1)
	p.Start(context.Background())
	defer p.Stop()

	path := filepath.Join(t.TempDir(), "temp_clip.mp4")
	require.NoError(t, os.WriteFile(path, []byte("clip"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	type outcome struct {
		a   *Analysis
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		// The caller owns the input and removes it once Analyze returns.
		defer os.Remove(path)
		a, err := p.Analyze(ctx, path, model.MediaVideo)
		done <- outcome{a, err}
	}()

	<-analyzer.started
	cancel()
	select {
	case <-done:
		t.Fatal("Analyze returned while the task was still running")
	case <-time.After(100 * time.Millisecond):
	}

	close(analyzer.release)
	out := <-done
	require.NoError(t, out.err)
	require.NotNil(t, out.a.Video)
	assert.Equal(t, 1, out.a.Video.FramesAnalyzed)
	assert.True(t, analyzer.present, "input removed while the task was running")
}

func TestPoolSkipsQueuedTaskOfDepartedCaller(t *testing.T) {
	analyzer := &blockingAnalyzer{started: make(chan struct{}), release: make(chan struct{})}
	f := newFixture(t, testsupport.FallbackRegistry(), analyzer)
	p := NewPool(f.orch, 1)
	p.Start(context.Background())
	defer p.Stop()

	first := make(chan error, 1)
	go func() {
		_, err := p.Analyze(context.Background(), "clip.mp4", model.MediaVideo)
		first <- err
	}()
	<-analyzer.started

	ctx, cancel := context.WithCancel(context.Background())
	second := make(chan error, 1)
	go func() {
		_, err := p.Analyze(ctx, "other.mp4", model.MediaVideo)
		second <- err
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	close(analyzer.release)

	require.NoError(t, <-first)
	assert.ErrorIs(t, <-second, context.Canceled)
}

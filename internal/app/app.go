// Package app wires the service together and owns its lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/time/rate"

	deepscan "github.com/YannKr/deepscan"
	"github.com/YannKr/deepscan/internal/callback"
	"github.com/YannKr/deepscan/internal/cleanup"
	"github.com/YannKr/deepscan/internal/config"
	"github.com/YannKr/deepscan/internal/db"
	"github.com/YannKr/deepscan/internal/diskstat"
	"github.com/YannKr/deepscan/internal/fetch"
	"github.com/YannKr/deepscan/internal/handler"
	"github.com/YannKr/deepscan/internal/registry"
	"github.com/YannKr/deepscan/internal/scorer"
	"github.com/YannKr/deepscan/internal/sse"
	"github.com/YannKr/deepscan/internal/video"
	"github.com/YannKr/deepscan/internal/worker"
)

// Models holds the model-facing components shared by the server and the
// offline CLI.
type Models struct {
	Registry *registry.Registry
	Scorer   *scorer.Scorer
	Video    video.Analyzer
}

func NewModels(cfg *config.Config) *Models {
	reg := registry.New(registry.Options{
		Candidates: cfg.CheckpointCandidates(),
		Device:     cfg.Device,
	})
	sc := scorer.New(reg)
	return &Models{
		Registry: reg,
		Scorer:   sc,
		Video: &video.FFmpegAnalyzer{
			FFmpeg:  cfg.FFmpegPath,
			FFprobe: cfg.FFprobePath,
			WorkDir: cfg.UploadsDir(),
			Scorer:  sc,
		},
	}
}

// Orchestrator builds a job orchestrator without ledger or backend, for
// local analysis.
func (m *Models) Orchestrator(cfg *config.Config) *worker.Orchestrator {
	return &worker.Orchestrator{
		Registry:    m.Registry,
		Scorer:      m.Scorer,
		Video:       m.Video,
		UploadsDir:  cfg.UploadsDir(),
		FrameBudget: cfg.FrameBudget,
	}
}

// acquireLock takes an exclusive lock on the data directory.
func acquireLock(dataDir string) (*flock.Flock, error) {
	lock := flock.New(filepath.Join(dataDir, "deepscan.lock"))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("another deepscan instance is using %s", dataDir)
	}
	return lock, nil
}

func Run(ctx context.Context, cfg *config.Config) error {
	for _, dir := range []string{cfg.DataDir, cfg.UploadsDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	lock, err := acquireLock(cfg.DataDir)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			slog.Warn("release data dir lock", "error", err)
		}
	}()

	database, err := db.Open(cfg.DataDir)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := db.Migrate(database, deepscan.MigrationFS); err != nil {
		return err
	}
	slog.Info("database ready")

	models := NewModels(cfg)
	sseHub := sse.New()
	fetcher := fetch.New(cfg.FetchTimeout, cfg.MaxFetchBytes)

	orch := models.Orchestrator(cfg)
	orch.DB = database
	orch.Fetcher = fetcher
	orch.Hub = sseHub
	orch.Callback = &callback.Client{
		BaseURL:       cfg.BackendURL,
		Secret:        cfg.CallbackSecret,
		ResultTimeout: cfg.ResultCallbackTimeout,
		ErrorTimeout:  cfg.ErrorCallbackTimeout,
		HTTP:          &http.Client{},
		DB:            database,
	}

	pool := worker.NewPool(orch, cfg.WorkerCount)
	pool.Start(ctx)
	defer pool.Stop()

	cleaner := &cleanup.Cleaner{
		DB:         database,
		UploadsDir: cfg.UploadsDir(),
		Interval:   time.Duration(cfg.CleanupIntervalMins) * time.Minute,
		MaxAge:     time.Duration(cfg.TempMaxAgeMins) * time.Minute,
	}
	cleaner.Start(ctx)
	defer cleaner.Stop()

	diskCache := diskstat.New(cfg.DataDir, 60*time.Second)
	diskCache.Start()
	defer diskCache.Stop()

	// 10 requests/second per client, burst of 20
	apiRL := handler.NewRateLimiter(rate.Limit(10), 20)
	defer apiRL.Stop()

	h := handler.New(database, cfg, pool, models.Registry, fetcher, sseHub)
	h.DiskCache = diskCache
	router := h.Routes(apiRL)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	slog.Info("server starting",
		"addr", cfg.ListenAddr,
		"backend_url", cfg.BackendURL,
		"workers", cfg.WorkerCount,
		"checkpoints", cfg.CheckpointCandidates(),
	)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

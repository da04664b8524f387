// Package cleanup sweeps orphaned job artifacts and prunes the ledger.
package cleanup

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/YannKr/deepscan/internal/db"
	"github.com/YannKr/deepscan/internal/imaging"
	"github.com/YannKr/deepscan/internal/video"
)

// ledgerRetention is how long finished jobs and deliveries are kept.
const ledgerRetention = 30 * 24 * time.Hour

// artifactPrefixes name files and directories owned by a single job.
var artifactPrefixes = []string{imaging.TempPrefix, imaging.ConvertedPrefix, video.FramesPrefix}

// Cleaner removes job artifacts left behind by a crash. Jobs delete their
// own files on every exit path, so anything older than MaxAge is orphaned.
type Cleaner struct {
	DB         *sql.DB
	UploadsDir string
	Interval   time.Duration
	MaxAge     time.Duration
	cancel     context.CancelFunc
	done       chan struct{}
}

func (c *Cleaner) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	go c.loop(ctx)
	slog.Info("cleanup scheduler started", "interval", c.Interval, "max_age", c.MaxAge)
}

func (c *Cleaner) Stop() {
	if c.cancel != nil {
		c.cancel()
		<-c.done
	}
	slog.Info("cleanup scheduler stopped")
}

func (c *Cleaner) loop(ctx context.Context) {
	defer close(c.done)

	c.RunOnce(time.Now())

	ticker := time.NewTicker(c.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			c.RunOnce(now)
		}
	}
}

// RunOnce performs a single sweep relative to now.
func (c *Cleaner) RunOnce(now time.Time) {
	removed, freed := c.sweepArtifacts(now.Add(-c.MaxAge))
	if removed > 0 {
		slog.Info("cleanup: removed orphaned artifacts", "count", removed, "freed", humanize.IBytes(freed))
	}

	if c.DB == nil {
		return
	}
	cutoff := now.Add(-ledgerRetention)
	if n, err := db.PruneOldCallbackDeliveries(c.DB, cutoff); err != nil {
		slog.Error("cleanup: prune callback deliveries", "error", err)
	} else if n > 0 {
		slog.Info("cleanup: pruned old callback deliveries", "count", n)
	}
	if n, err := db.PruneFinishedJobs(c.DB, cutoff); err != nil {
		slog.Error("cleanup: prune jobs", "error", err)
	} else if n > 0 {
		slog.Info("cleanup: pruned finished jobs", "count", n)
	}
}

func (c *Cleaner) sweepArtifacts(cutoff time.Time) (removed int, freed uint64) {
	entries, err := os.ReadDir(c.UploadsDir)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("cleanup: read uploads dir", "dir", c.UploadsDir, "error", err)
		}
		return 0, 0
	}
	for _, e := range entries {
		if !hasArtifactPrefix(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(c.UploadsDir, e.Name())
		size := dirSize(path, info)
		if err := os.RemoveAll(path); err != nil {
			slog.Warn("cleanup: remove artifact", "path", path, "error", err)
			continue
		}
		removed++
		freed += size
	}
	return removed, freed
}

func hasArtifactPrefix(name string) bool {
	for _, p := range artifactPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

func dirSize(path string, info os.FileInfo) uint64 {
	if !info.IsDir() {
		return uint64(info.Size())
	}
	var total uint64
	filepath.Walk(path, func(_ string, fi os.FileInfo, err error) error {
		if err == nil && !fi.IsDir() {
			total += uint64(fi.Size())
		}
		return nil
	})
	return total
}

package testsupport

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/YannKr/deepscan/internal/config"
)

// ConfigOption customizes the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config rooted in a per-test temp directory.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.DataDir = filepath.Join(base, "data")
	cfg.CheckpointDir = filepath.Join(base, "outputs")
	cfg.WorkerCount = 1
	cfg.Device = "cpu"

	for _, opt := range opts {
		opt(&cfg)
	}
	return &cfg
}

// WithBackend points callbacks at url.
func WithBackend(url string) ConfigOption {
	return func(c *config.Config) {
		c.BackendURL = url
	}
}

// WithFetchTimeout overrides the remote fetch timeout.
func WithFetchTimeout(d time.Duration) ConfigOption {
	return func(c *config.Config) {
		c.FetchTimeout = d
	}
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	ListenAddr    string `yaml:"listen_addr"`
	DataDir       string `yaml:"data_dir"`
	CheckpointDir string `yaml:"checkpoint_dir"`
	BackendURL    string `yaml:"backend_url"`
	LogLevel      string `yaml:"log_level"`

	WorkerCount int    `yaml:"worker_count"`
	Device      string `yaml:"device"` // auto, cpu or accelerated
	FrameBudget int    `yaml:"frame_budget"`

	FetchTimeout          time.Duration `yaml:"fetch_timeout"`
	ResultCallbackTimeout time.Duration `yaml:"result_callback_timeout"`
	ErrorCallbackTimeout  time.Duration `yaml:"error_callback_timeout"`

	MaxUploadBytes int64 `yaml:"max_upload_bytes"`
	MaxFetchBytes  int64 `yaml:"max_fetch_bytes"`
	MinFreeBytes   int64 `yaml:"min_free_bytes"`

	CallbackSecret string `yaml:"callback_secret"`
	APITokenHash   string `yaml:"api_token_hash"`

	FFmpegPath  string `yaml:"ffmpeg_path"`
	FFprobePath string `yaml:"ffprobe_path"`

	CleanupIntervalMins int `yaml:"cleanup_interval_mins"`
	TempMaxAgeMins      int `yaml:"temp_max_age_mins"`
}

func Default() Config {
	return Config{
		ListenAddr:            ":8001",
		DataDir:               "./data",
		CheckpointDir:         "./outputs",
		BackendURL:            "http://localhost:5000",
		LogLevel:              "info",
		WorkerCount:           2,
		Device:                "auto",
		FrameBudget:           120,
		FetchTimeout:          30 * time.Second,
		ResultCallbackTimeout: 10 * time.Second,
		ErrorCallbackTimeout:  5 * time.Second,
		MaxUploadBytes:        512 << 20,
		MaxFetchBytes:         512 << 20,
		MinFreeBytes:          256 << 20,
		FFmpegPath:            "ffmpeg",
		FFprobePath:           "ffprobe",
		CleanupIntervalMins:   15,
		TempMaxAgeMins:        60,
	}
}

// Load builds the configuration from defaults, the optional YAML file named by
// CONFIG_FILE, and finally the environment.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if port := os.Getenv("PORT"); port != "" {
		cfg.ListenAddr = ":" + port
	}
	cfg.ListenAddr = envOr("LISTEN_ADDR", cfg.ListenAddr)
	cfg.DataDir = envOr("DATA_DIR", cfg.DataDir)
	cfg.CheckpointDir = envOr("CHECKPOINT_DIR", cfg.CheckpointDir)
	cfg.BackendURL = envOr("BACKEND_URL", cfg.BackendURL)
	cfg.LogLevel = envOr("LOG_LEVEL", cfg.LogLevel)
	cfg.WorkerCount = envIntOr("WORKER_COUNT", cfg.WorkerCount)
	cfg.Device = envOr("DEVICE", cfg.Device)
	cfg.FrameBudget = envIntOr("FRAME_BUDGET", cfg.FrameBudget)
	cfg.FetchTimeout = envDurationOr("FETCH_TIMEOUT", cfg.FetchTimeout)
	cfg.ResultCallbackTimeout = envDurationOr("RESULT_CALLBACK_TIMEOUT", cfg.ResultCallbackTimeout)
	cfg.ErrorCallbackTimeout = envDurationOr("ERROR_CALLBACK_TIMEOUT", cfg.ErrorCallbackTimeout)
	cfg.MaxUploadBytes = envInt64Or("MAX_UPLOAD_BYTES", cfg.MaxUploadBytes)
	cfg.MaxFetchBytes = envInt64Or("MAX_FETCH_BYTES", cfg.MaxFetchBytes)
	cfg.MinFreeBytes = envInt64Or("MIN_FREE_BYTES", cfg.MinFreeBytes)
	cfg.CallbackSecret = envOr("CALLBACK_SECRET", cfg.CallbackSecret)
	cfg.APITokenHash = envOr("API_TOKEN_HASH", cfg.APITokenHash)
	cfg.FFmpegPath = envOr("FFMPEG_PATH", cfg.FFmpegPath)
	cfg.FFprobePath = envOr("FFPROBE_PATH", cfg.FFprobePath)
	cfg.CleanupIntervalMins = envIntOr("CLEANUP_INTERVAL_MINS", cfg.CleanupIntervalMins)
	cfg.TempMaxAgeMins = envIntOr("TEMP_MAX_AGE_MINS", cfg.TempMaxAgeMins)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.WorkerCount < 1 {
		return fmt.Errorf("worker_count must be at least 1, got %d", c.WorkerCount)
	}
	if c.FrameBudget < 1 {
		return fmt.Errorf("frame_budget must be at least 1, got %d", c.FrameBudget)
	}
	switch c.Device {
	case "auto", "cpu", "accelerated":
	default:
		return fmt.Errorf("device must be auto, cpu or accelerated, got %q", c.Device)
	}
	if c.BackendURL == "" {
		return fmt.Errorf("backend_url is required")
	}
	return nil
}

// UploadsDir holds job-scoped temporary media.
func (c *Config) UploadsDir() string {
	return filepath.Join(c.DataDir, "uploads")
}

// CheckpointCandidates lists checkpoint paths in load priority order.
func (c *Config) CheckpointCandidates() []string {
	return []string{
		filepath.Join(c.CheckpointDir, "best_model.json"),
		filepath.Join(c.CheckpointDir, "final_model.json"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64Or(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

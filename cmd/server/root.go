package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/YannKr/deepscan/internal/app"
	"github.com/YannKr/deepscan/internal/config"
	"github.com/YannKr/deepscan/internal/handler"
	"github.com/YannKr/deepscan/internal/media"
	"github.com/YannKr/deepscan/internal/model"
	"github.com/YannKr/deepscan/internal/worker"
)

func newRootCommand() *cobra.Command {
	var configFlag string

	rootCmd := &cobra.Command{
		Use:           "deepscan",
		Short:         "Deepfake detection inference service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if configFlag != "" {
				os.Setenv("CONFIG_FILE", configFlag)
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return app.Run(ctx, cfg)
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "YAML configuration file")

	rootCmd.AddCommand(newScoreCommand())
	rootCmd.AddCommand(newHashTokenCommand())
	return rootCmd
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	return cfg, nil
}

func newScoreCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "score <file>",
		Short: "Score a local image or video and print the risk report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			kind, ext := media.KindForFilename(args[0])
			if kind == model.MediaUnsupported {
				return fmt.Errorf("unsupported file type: %q", ext)
			}
			if err := os.MkdirAll(cfg.UploadsDir(), 0o755); err != nil {
				return err
			}

			start := time.Now()
			orch := app.NewModels(cfg).Orchestrator(cfg)
			a, err := orch.Analyze(cmd.Context(), args[0], kind)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(worker.BuildReport(a, time.Since(start)))
		},
	}
}

func newHashTokenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-token <token>",
		Short: "Print the bcrypt hash to use as API_TOKEN_HASH",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := handler.HashToken(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/tutor/internal/app"
	"github.com/MikeSquared-Agency/tutor/internal/config"
)

var cfg config.Config

var rootCmd = &cobra.Command{
	Use:           "tutor",
	Short:         "Course transcript tutor",
	Long:          "Ingests course transcripts and answers student questions from them.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()
	cfg = config.Load()
	setupLogging(cfg.LogLevel)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// newApp validates the configuration and builds the full service graph.
func newApp(ctx context.Context, opts ...app.Option) (*app.App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return app.New(ctx, cfg, slog.Default(), opts...)
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}

package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/MikeSquared-Agency/tutor/internal/api"
	"github.com/MikeSquared-Agency/tutor/internal/hermes"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Runs the HTTP API. On start it applies the schema, reindexes completed
courses when VECTOR_INDEX=memory, sweeps pending and failed courses (unless
SWEEP_ON_START=false) and, when NATS_URL is set, listens for sweep requests.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("tutor starting", "port", cfg.Port, "vector_index", cfg.VectorIndex, "llm", cfg.LLMProvider)

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Migrate(ctx); err != nil {
		return err
	}

	srv := api.NewServer(cfg.Port, a.Pipeline, a.Engine, slog.Default())
	g, gctx := errgroup.WithContext(ctx)

	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if cfg.SweepOnStart {
		g.Go(func() error {
			if _, err := a.Pipeline.Sweep(gctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("startup sweep failed", "error", err)
			}
			return nil
		})
	}

	if a.Events != nil {
		if err := a.Events.QueueSubscribe(hermes.SubjectSweepRequested, hermes.SweepQueue, a.Pipeline.SweepHandler(gctx)); err != nil {
			stop()
			_ = g.Wait()
			return err
		}
		hostname, _ := os.Hostname()
		if err := a.Events.Publish(hermes.SubjectRegistered, map[string]any{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"port":      cfg.Port,
			"host":      hostname,
		}); err != nil {
			slog.Warn("failed to publish registration", "error", err)
		}
	}

	slog.Info("tutor ready", "port", cfg.Port)
	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("tutor stopped")
	return nil
}

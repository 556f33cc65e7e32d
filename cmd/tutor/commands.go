package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/tutor/internal/app"
	"github.com/MikeSquared-Agency/tutor/internal/course"
	"github.com/MikeSquared-Agency/tutor/internal/ingest"
)

var (
	ingestCourseID string
	ingestTitle    string
	outputJSON     bool
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the course and chat history tables",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		recs, closeRecords, err := app.OpenRecords(ctx, cfg.DatabaseURL, slog.Default())
		if err != nil {
			return err
		}
		defer closeRecords()
		if err := recs.Migrate(ctx); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date.")
		return nil
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Process every pending or failed course",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.Pipeline.Sweep(ctx)
		if err != nil {
			return err
		}
		if outputJSON {
			return printJSON(cmd, report)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Attempted %d, completed %d, skipped %d, failed %d\n",
			report.Attempted, report.Completed, report.Skipped, len(report.Failed))
		for _, id := range report.Failed {
			fmt.Fprintf(cmd.OutOrStdout(), "  failed: %s\n", id)
		}
		return nil
	},
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <transcript-file>",
	Short: "Ingest a transcript from a file (- for stdin)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text, err := readTranscript(args[0])
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		a, err := newApp(ctx, app.WithoutEvents())
		if err != nil {
			return err
		}
		defer a.Close()

		meta := map[string]any{"dateAdded": time.Now().UTC().Format(time.RFC3339)}
		if ingestTitle != "" {
			meta["title"] = ingestTitle
		}
		id, err := a.Pipeline.Submit(ctx, ingest.SubmitRequest{
			CourseID:   ingestCourseID,
			Title:      ingestTitle,
			Transcript: text,
			Metadata:   meta,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Course %s processed.\n", id)
		return nil
	},
}

var askCmd = &cobra.Command{
	Use:   "ask <course-id> <question>",
	Short: "Ask a question about a course",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, app.WithoutEvents())
		if err != nil {
			return err
		}
		defer a.Close()

		answer, err := a.Engine.Ask(ctx, args[0], strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), answer)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <course-id>",
	Short: "Show a course's processing status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		recs, closeRecords, err := app.OpenRecords(ctx, cfg.DatabaseURL, slog.Default())
		if err != nil {
			return err
		}
		defer closeRecords()

		c, err := recs.Get(ctx, args[0])
		if err != nil {
			return err
		}
		if outputJSON {
			return printJSON(cmd, map[string]any{"status": c.Status, "processedAt": c.ProcessedAt})
		}
		printStatus(cmd, c)
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <course-id>",
	Short: "Print a course's chat history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		recs, closeRecords, err := app.OpenRecords(ctx, cfg.DatabaseURL, slog.Default())
		if err != nil {
			return err
		}
		defer closeRecords()

		msgs, err := recs.List(ctx, args[0])
		if err != nil {
			return err
		}
		if outputJSON {
			return printJSON(cmd, map[string]any{"history": msgs})
		}
		printHistory(cmd, msgs)
		return nil
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestCourseID, "course-id", "", "course id (generated when empty)")
	ingestCmd.Flags().StringVar(&ingestTitle, "title", "", "course title")
	for _, c := range []*cobra.Command{sweepCmd, statusCmd, historyCmd} {
		c.Flags().BoolVar(&outputJSON, "json", false, "output as JSON")
	}
	rootCmd.AddCommand(migrateCmd, sweepCmd, ingestCmd, askCmd, statusCmd, historyCmd)
}

func readTranscript(path string) (string, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("read transcript: %w", err)
	}
	return string(data), nil
}

func printStatus(cmd *cobra.Command, c *course.Course) {
	fmt.Fprintf(cmd.OutOrStdout(), "Course:    %s\n", c.ID)
	fmt.Fprintf(cmd.OutOrStdout(), "Title:     %s\n", c.Title)
	fmt.Fprintf(cmd.OutOrStdout(), "Status:    %s\n", c.Status)
	if c.ProcessedAt != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "Processed: %s\n", c.ProcessedAt.Format(time.RFC3339))
	}
}

func printHistory(cmd *cobra.Command, msgs []course.ChatMessage) {
	if len(msgs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No messages yet.")
		return
	}
	for _, m := range msgs {
		fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s: %s\n", m.Timestamp.Format(time.RFC3339), m.Role, m.Content)
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

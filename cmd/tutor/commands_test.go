package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/tutor/internal/config"
	"github.com/MikeSquared-Agency/tutor/internal/course"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	outputJSON = false
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func useSQLite(t *testing.T) {
	t.Helper()
	prev := cfg
	t.Cleanup(func() { cfg = prev })
	cfg = config.Config{DatabaseURL: "sqlite:" + filepath.Join(t.TempDir(), "tutor.db")}
}

func TestMigrateStatusHistory(t *testing.T) {
	useSQLite(t)

	out, err := run(t, "migrate")
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if !strings.Contains(out, "Schema is up to date.") {
		t.Errorf("unexpected migrate output %q", out)
	}

	_, err = run(t, "status", "ghost")
	if !errors.Is(err, course.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}

	out, err = run(t, "history", "ghost")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if !strings.Contains(out, "No messages yet.") {
		t.Errorf("unexpected history output %q", out)
	}
}

func TestPrintHistory(t *testing.T) {
	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	printHistory(cmd, []course.ChatMessage{
		{Role: course.RoleHuman, Content: "What is a heap?", Timestamp: ts},
		{Role: course.RoleAI, Content: "A tree with ordered parents.", Timestamp: ts},
	})

	want := "[2024-05-01T12:00:00Z] human: What is a heap?\n[2024-05-01T12:00:00Z] ai: A tree with ordered parents.\n"
	if out.String() != want {
		t.Errorf("got %q, want %q", out.String(), want)
	}
}

func TestPrintStatus(t *testing.T) {
	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	done := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	printStatus(cmd, &course.Course{ID: "cs201", Title: "Data Structures", Status: course.StatusCompleted, ProcessedAt: &done})

	for _, want := range []string{"cs201", "Data Structures", "completed", "2024-05-01T12:00:00Z"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output %q missing %q", out.String(), want)
		}
	}
}

func TestSetupLogging(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "bogus"} {
		setupLogging(level)
	}
}

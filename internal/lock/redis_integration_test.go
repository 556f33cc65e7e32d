//go:build integration

package lock

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestIntegration_RedisLock(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set, skipping integration test")
	}
	ctx := context.Background()

	r, err := NewRedis(ctx, addr, time.Minute, slog.Default())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer r.Close()

	key := "course:" + uuid.NewString()
	release, err := r.TryLock(ctx, key)
	if err != nil {
		t.Fatalf("first lock: %v", err)
	}
	if _, err := r.TryLock(ctx, key); !errors.Is(err, ErrHeld) {
		t.Errorf("expected ErrHeld, got %v", err)
	}
	release()

	again, err := r.TryLock(ctx, key)
	if err != nil {
		t.Fatalf("lock after release: %v", err)
	}
	again()
}

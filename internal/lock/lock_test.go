package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func TestLocal_ExclusivePerKey(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()

	release, err := l.TryLock(ctx, "course:a")
	if err != nil {
		t.Fatalf("first lock: %v", err)
	}
	if _, err := l.TryLock(ctx, "course:a"); !errors.Is(err, ErrHeld) {
		t.Errorf("expected ErrHeld, got %v", err)
	}

	other, err := l.TryLock(ctx, "course:b")
	if err != nil {
		t.Fatalf("independent key should lock: %v", err)
	}
	other()

	release()
	release()

	again, err := l.TryLock(ctx, "course:a")
	if err != nil {
		t.Fatalf("lock after release: %v", err)
	}
	again()
}

func TestLocal_ConcurrentOnlyOneWins(t *testing.T) {
	l := NewLocal()
	var wins atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := l.TryLock(context.Background(), "course:x"); err == nil {
				wins.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("expected exactly one winner, got %d", wins.Load())
	}
}

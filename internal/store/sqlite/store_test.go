package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/tutor/internal/course"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateAndGet(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	c := &course.Course{
		ID:         "algo-101",
		Title:      "Algorithms",
		Transcript: "Binary search trees keep keys ordered.",
		Metadata:   map[string]any{"title": "Course algo-101", "dateAdded": "2026-10-17T00:00:00Z"},
	}
	require.NoError(t, s.Create(ctx, c))
	assert.Equal(t, course.StatusPending, c.Status)
	assert.False(t, c.CreatedAt.IsZero())

	got, err := s.Get(ctx, "algo-101")
	require.NoError(t, err)
	assert.Equal(t, "Algorithms", got.Title)
	assert.Equal(t, c.Transcript, got.Transcript)
	assert.Equal(t, "Course algo-101", got.Metadata["title"])
	assert.Equal(t, course.StatusPending, got.Status)
	assert.Nil(t, got.ProcessedAt)
}

func TestCreate_DuplicateConflicts(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, &course.Course{ID: "c1", Transcript: "a"}))

	err := s.Create(ctx, &course.Course{ID: "c1", Transcript: "b"})
	assert.ErrorIs(t, err, course.ErrConflict)
}

func TestGet_NotFound(t *testing.T) {
	s := newStore(t)
	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, course.ErrNotFound)
}

func TestStatusTransitions(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, &course.Course{ID: "c1", Transcript: "a"}))

	retryable := []course.Status{course.StatusPending, course.StatusFailed}
	ok, err := s.TransitionStatus(ctx, "c1", retryable, course.StatusProcessing)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.TransitionStatus(ctx, "c1", retryable, course.StatusProcessing)
	require.NoError(t, err)
	assert.False(t, ok)

	done := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpdateStatus(ctx, "c1", course.StatusCompleted, &done))

	got, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, course.StatusCompleted, got.Status)
	require.NotNil(t, got.ProcessedAt)
	assert.True(t, done.Equal(*got.ProcessedAt))

	assert.ErrorIs(t, s.UpdateStatus(ctx, "ghost", course.StatusFailed, nil), course.ErrNotFound)
}

func TestListByStatus(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.Create(ctx, &course.Course{ID: id, Transcript: id}))
	}
	require.NoError(t, s.UpdateStatus(ctx, "b", course.StatusFailed, nil))
	now := time.Now()
	require.NoError(t, s.UpdateStatus(ctx, "c", course.StatusCompleted, &now))

	got, err := s.ListByStatus(ctx, course.StatusPending, course.StatusFailed)
	require.NoError(t, err)
	ids := []string{}
	for _, c := range got {
		ids = append(ids, c.ID)
	}
	assert.ElementsMatch(t, []string{"a", "b"}, ids)

	none, err := s.ListByStatus(ctx)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestChatHistory(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	h, err := s.Append(ctx, "c1", course.RoleHuman, "What is a heap?")
	require.NoError(t, err)
	a, err := s.Append(ctx, "c1", course.RoleAI, "A heap is a tree with an order property.")
	require.NoError(t, err)
	_, err = s.Append(ctx, "c2", course.RoleHuman, "other course")
	require.NoError(t, err)
	assert.Greater(t, a.ID, h.ID)

	msgs, err := s.List(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, course.RoleHuman, msgs[0].Role)
	assert.Equal(t, "What is a heap?", msgs[0].Content)
	assert.Equal(t, course.RoleAI, msgs[1].Role)

	empty, err := s.List(ctx, "nobody")
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestOpen_FileDatabasePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tutor.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Create(context.Background(), &course.Course{ID: "keep", Transcript: "x"}))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	_, err = s.Get(context.Background(), "keep")
	assert.NoError(t, err)
}

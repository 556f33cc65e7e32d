// Package ingest turns uploaded transcripts into indexed chunks and tracks
// each course through pending, processing, completed and failed.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/tutor/internal/chunker"
	"github.com/MikeSquared-Agency/tutor/internal/course"
	"github.com/MikeSquared-Agency/tutor/internal/hermes"
	"github.com/MikeSquared-Agency/tutor/internal/lock"
	"github.com/MikeSquared-Agency/tutor/internal/vectorindex"
)

// retryable are the statuses a course may be (re)processed from.
var retryable = []course.Status{course.StatusPending, course.StatusFailed}

// Publisher emits lifecycle events. *hermes.Client satisfies it.
type Publisher interface {
	Publish(subject string, data any) error
}

type Pipeline struct {
	courses course.Store
	vectors vectorindex.Index
	chunker *chunker.Chunker
	locker  lock.Locker
	events  Publisher
	logger  *slog.Logger
	now     func() time.Time

	sweepMu sync.Mutex
}

type Option func(*Pipeline)

// WithLocker replaces the default in-process lock.
func WithLocker(l lock.Locker) Option { return func(p *Pipeline) { p.locker = l } }

// WithPublisher enables status-change events.
func WithPublisher(pub Publisher) Option { return func(p *Pipeline) { p.events = pub } }

func WithClock(now func() time.Time) Option { return func(p *Pipeline) { p.now = now } }

func New(courses course.Store, vectors vectorindex.Index, ch *chunker.Chunker, logger *slog.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		courses: courses,
		vectors: vectors,
		chunker: ch,
		locker:  lock.NewLocal(),
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// SubmitRequest is a transcript upload.
type SubmitRequest struct {
	// CourseID is optional; a UUID is generated when empty.
	CourseID   string
	Title      string
	Transcript string
	Metadata   map[string]any
}

// Submit records the course as pending and processes it synchronously.
// Resubmitting an existing course with the same transcript retries it unless
// it already completed; a different transcript is rejected.
func (p *Pipeline) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	const op = "submit transcript"
	if strings.TrimSpace(req.Transcript) == "" {
		return "", course.Errorf(course.KindValidation, op, req.CourseID, "transcript is required")
	}
	id := strings.TrimSpace(req.CourseID)
	if id == "" {
		id = uuid.NewString()
	}

	meta := maps.Clone(req.Metadata)
	if meta == nil {
		meta = map[string]any{}
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		if t, ok := meta["title"].(string); ok && strings.TrimSpace(t) != "" {
			title = t
		} else {
			title = course.DefaultTitle
		}
	}

	c := &course.Course{ID: id, Title: title, Transcript: req.Transcript, Metadata: meta, Status: course.StatusPending}
	err := p.courses.Create(ctx, c)
	switch {
	case errors.Is(err, course.ErrConflict):
		existing, gerr := p.courses.Get(ctx, id)
		if gerr != nil {
			return "", gerr
		}
		if existing.Transcript != req.Transcript {
			return "", course.Errorf(course.KindValidation, op, id, "transcript is immutable once set")
		}
		if existing.Status == course.StatusCompleted {
			p.logger.Info("course already processed", "course_id", id)
			return id, nil
		}
		c = existing
	case err != nil:
		return "", fmt.Errorf("create course: %w", err)
	default:
		p.logger.Info("course submitted", "course_id", id, "title", title, "transcript_len", len(req.Transcript))
	}

	if err := p.Process(ctx, c); err != nil {
		return id, err
	}
	return id, nil
}

// Process chunks and indexes one course. Existing chunks for the course are
// removed first so retries never leave duplicates behind.
func (p *Pipeline) Process(ctx context.Context, c *course.Course) error {
	const op = "process course"
	release, err := p.locker.TryLock(ctx, "course:"+c.ID)
	if errors.Is(err, lock.ErrHeld) {
		return course.Errorf(course.KindConflict, op, c.ID, "ingestion already in progress")
	}
	if err != nil {
		return course.E(course.KindIngestion, op, c.ID, err)
	}
	defer release()

	ok, err := p.courses.TransitionStatus(ctx, c.ID, retryable, course.StatusProcessing)
	if err != nil {
		return course.E(course.KindIngestion, op, c.ID, err)
	}
	if !ok {
		return course.Errorf(course.KindConflict, op, c.ID, "course is not pending or failed")
	}
	c.Status = course.StatusProcessing
	p.publish(c.ID, course.StatusProcessing, 0, nil)
	p.logger.Info("processing course", "course_id", c.ID)

	n, err := p.indexChunks(ctx, c)
	if err == nil {
		processedAt := p.now()
		if err = p.courses.UpdateStatus(ctx, c.ID, course.StatusCompleted, &processedAt); err == nil {
			c.Status = course.StatusCompleted
			c.ProcessedAt = &processedAt
			p.publish(c.ID, course.StatusCompleted, n, nil)
			p.logger.Info("course processed", "course_id", c.ID, "chunks", n)
			return nil
		}
		err = fmt.Errorf("mark completed: %w", err)
	}

	p.markFailed(ctx, c, err)
	return course.E(course.KindIngestion, op, c.ID, err)
}

func (p *Pipeline) indexChunks(ctx context.Context, c *course.Course) (int, error) {
	spans := p.chunker.Split(c.Transcript)
	if len(spans) == 0 {
		return 0, errors.New("transcript produced no chunks")
	}

	if err := p.vectors.Delete(ctx, vectorindex.Filter{"courseId": c.ID}); err != nil {
		return 0, fmt.Errorf("clear previous chunks: %w", err)
	}

	docs := make([]vectorindex.Document, len(spans))
	for i, s := range spans {
		chunkID := uuid.NewString()
		meta := maps.Clone(c.Metadata)
		if meta == nil {
			meta = map[string]any{}
		}
		meta["courseId"] = c.ID
		meta["chunkId"] = chunkID
		meta["chunkIndex"] = s.Index
		docs[i] = vectorindex.Document{ID: chunkID, Text: s.Text, Metadata: meta}
	}
	if err := p.vectors.Add(ctx, docs); err != nil {
		return 0, fmt.Errorf("add chunks: %w", err)
	}
	return len(docs), nil
}

// markFailed records the failure even if ctx was cancelled mid-ingestion.
func (p *Pipeline) markFailed(ctx context.Context, c *course.Course, cause error) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := p.courses.UpdateStatus(fctx, c.ID, course.StatusFailed, nil); err != nil {
		p.logger.Error("failed to mark course failed", "course_id", c.ID, "error", err)
	} else {
		c.Status = course.StatusFailed
		c.ProcessedAt = nil
	}
	p.publish(c.ID, course.StatusFailed, 0, cause)
	p.logger.Error("course processing failed", "course_id", c.ID, "error", cause)
}

func (p *Pipeline) publish(courseID string, status course.Status, chunks int, cause error) {
	if p.events == nil {
		return
	}
	ev := hermes.CourseStatusEvent{
		CourseID:  courseID,
		Status:    string(status),
		Chunks:    chunks,
		Timestamp: p.now(),
	}
	if cause != nil {
		ev.Error = cause.Error()
	}
	if err := p.events.Publish(hermes.SubjectCourseStatus, ev); err != nil {
		p.logger.Warn("failed to publish course status", "course_id", courseID, "error", err)
	}
}

package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/MikeSquared-Agency/tutor/internal/course"
	"github.com/MikeSquared-Agency/tutor/internal/hermes"
	"github.com/MikeSquared-Agency/tutor/internal/lock"
)

// SweepReport summarises one pass over pending and failed courses.
type SweepReport struct {
	Attempted int      `json:"attempted"`
	Completed int      `json:"completed"`
	Skipped   int      `json:"skipped"`
	Failed    []string `json:"failed,omitempty"`
}

// Sweep reprocesses every pending or failed course, one at a time. A failing
// course is logged and left failed; the sweep moves on. It returns early only
// if listing fails or ctx is cancelled.
func (p *Pipeline) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	courses, err := p.courses.ListByStatus(ctx, retryable...)
	if err != nil {
		return report, fmt.Errorf("list unprocessed courses: %w", err)
	}
	p.logger.Info("sweep started", "courses", len(courses))

	for _, c := range courses {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Attempted++
		err := p.Process(ctx, c)
		switch course.KindOf(err) {
		case "":
			report.Completed++
		case course.KindConflict:
			report.Skipped++
			p.logger.Info("sweep skipped course", "course_id", c.ID, "reason", err)
		default:
			report.Failed = append(report.Failed, c.ID)
		}
	}

	p.logger.Info("sweep finished",
		"attempted", report.Attempted,
		"completed", report.Completed,
		"skipped", report.Skipped,
		"failed", len(report.Failed),
	)
	return report, nil
}

// Reindex rebuilds the chunks of every completed course without touching its
// status. It restores a non-durable index after a restart. A course that can
// no longer be indexed is marked failed so the next sweep retries it; one
// being ingested elsewhere is skipped.
func (p *Pipeline) Reindex(ctx context.Context) (SweepReport, error) {
	const op = "reindex course"
	var report SweepReport
	courses, err := p.courses.ListByStatus(ctx, course.StatusCompleted)
	if err != nil {
		return report, fmt.Errorf("list completed courses: %w", err)
	}
	p.logger.Info("reindex started", "courses", len(courses))

	for _, c := range courses {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Attempted++

		release, err := p.locker.TryLock(ctx, "course:"+c.ID)
		if errors.Is(err, lock.ErrHeld) {
			report.Skipped++
			p.logger.Info("reindex skipped course", "course_id", c.ID, "reason", "ingestion in progress")
			continue
		}
		if err != nil {
			report.Failed = append(report.Failed, c.ID)
			p.logger.Error("reindex lock failed", "course_id", c.ID, "error", err)
			continue
		}

		n, err := p.indexChunks(ctx, c)
		if err != nil {
			p.markFailed(ctx, c, course.E(course.KindIngestion, op, c.ID, err))
			report.Failed = append(report.Failed, c.ID)
		} else {
			report.Completed++
			p.logger.Debug("course reindexed", "course_id", c.ID, "chunks", n)
		}
		release()
	}

	p.logger.Info("reindex finished",
		"attempted", report.Attempted,
		"completed", report.Completed,
		"skipped", report.Skipped,
		"failed", len(report.Failed),
	)
	return report, nil
}

// SweepHandler returns a NATS handler that runs a sweep per request. Requests
// arriving while a sweep is running are dropped.
func (p *Pipeline) SweepHandler(ctx context.Context) func(subject string, data []byte) {
	return func(subject string, data []byte) {
		req, err := hermes.ParseSweepRequest(data)
		if err != nil {
			p.logger.Warn("ignoring sweep request", "subject", subject, "error", err)
			return
		}
		if !p.sweepMu.TryLock() {
			p.logger.Info("sweep already running", "requested_by", req.RequestedBy)
			return
		}
		defer p.sweepMu.Unlock()

		p.logger.Info("sweep requested", "requested_by", req.RequestedBy)
		if _, err := p.Sweep(ctx); err != nil {
			p.logger.Error("sweep failed", "error", err)
		}
	}
}

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/MikeSquared-Agency/tutor/internal/course"
)

const courseColumns = `id, title, transcript, metadata, processing_status, processed_at, created_at, updated_at`

// Create inserts a new course. An existing id yields a conflict error.
func (s *Store) Create(ctx context.Context, c *course.Course) error {
	meta := c.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	status := c.Status
	if status == "" {
		status = course.StatusPending
	}
	var createdAt, updatedAt time.Time
	err := s.pool.QueryRow(ctx, `
		INSERT INTO courses (id, title, transcript, metadata, processing_status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
		RETURNING created_at, updated_at`,
		c.ID, c.Title, c.Transcript, meta, string(status),
	).Scan(&createdAt, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return course.Errorf(course.KindConflict, "create course", c.ID, "course already exists")
	}
	if err != nil {
		return fmt.Errorf("insert course: %w", err)
	}
	c.Status = status
	c.CreatedAt = createdAt
	c.UpdatedAt = updatedAt
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*course.Course, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+courseColumns+` FROM courses WHERE id = $1`, id)
	c, err := scanCourse(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, course.E(course.KindNotFound, "get course", id, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("get course: %w", err)
	}
	return c, nil
}

func (s *Store) UpdateStatus(ctx context.Context, id string, status course.Status, processedAt *time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE courses SET processing_status = $2, processed_at = $3, updated_at = now()
		WHERE id = $1`,
		id, string(status), processedAt,
	)
	if err != nil {
		return fmt.Errorf("update course status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return course.E(course.KindNotFound, "update course status", id, nil)
	}
	return nil
}

func (s *Store) TransitionStatus(ctx context.Context, id string, from []course.Status, to course.Status) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE courses SET processing_status = $3, updated_at = now()
		WHERE id = $1 AND processing_status = ANY($2)`,
		id, statusStrings(from), string(to),
	)
	if err != nil {
		return false, fmt.Errorf("transition course status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) ListByStatus(ctx context.Context, statuses ...course.Status) ([]*course.Course, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+courseColumns+` FROM courses
		WHERE processing_status = ANY($1)
		ORDER BY created_at, id`,
		statusStrings(statuses),
	)
	if err != nil {
		return nil, fmt.Errorf("list courses: %w", err)
	}
	defer rows.Close()

	var out []*course.Course
	for rows.Next() {
		c, err := scanCourse(rows)
		if err != nil {
			return nil, fmt.Errorf("scan course: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCourse(row pgx.Row) (*course.Course, error) {
	var c course.Course
	var status string
	if err := row.Scan(&c.ID, &c.Title, &c.Transcript, &c.Metadata, &status, &c.ProcessedAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Status = course.Status(status)
	return &c, nil
}

func statusStrings(in []course.Status) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}

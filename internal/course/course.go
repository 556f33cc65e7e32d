package course

import (
	"context"
	"strings"
	"time"
)

// Status is the processing state of a course transcript.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// DefaultTitle is used when neither the caller nor the metadata names the course.
const DefaultTitle = "Untitled Course"

// Course is one uploaded transcript and its ingestion state.
type Course struct {
	ID          string
	Title       string
	Transcript  string
	Metadata    map[string]any
	Status      Status
	ProcessedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Topic returns the human-readable subject used in answers: metadata title,
// then course title, then an empty string.
func (c *Course) Topic() string {
	if c == nil {
		return ""
	}
	if t, ok := c.Metadata["title"].(string); ok && strings.TrimSpace(t) != "" {
		return t
	}
	return c.Title
}

// Role identifies the author of a chat message.
type Role string

const (
	RoleHuman Role = "human"
	RoleAI    Role = "ai"
)

// ChatMessage is a single persisted turn of a course conversation.
type ChatMessage struct {
	ID        int64     `json:"id"`
	CourseID  string    `json:"courseId"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Store persists courses and their processing state.
type Store interface {
	Create(ctx context.Context, c *Course) error
	Get(ctx context.Context, id string) (*Course, error)
	UpdateStatus(ctx context.Context, id string, status Status, processedAt *time.Time) error
	// TransitionStatus moves the course to `to` only if its current status is
	// one of `from`. It reports whether the transition happened.
	TransitionStatus(ctx context.Context, id string, from []Status, to Status) (bool, error)
	ListByStatus(ctx context.Context, statuses ...Status) ([]*Course, error)
}

// HistoryStore is the append-only chat log.
type HistoryStore interface {
	Append(ctx context.Context, courseID string, role Role, content string) (*ChatMessage, error)
	List(ctx context.Context, courseID string) ([]ChatMessage, error)
}

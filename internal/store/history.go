package store

import (
	"context"
	"fmt"

	"github.com/MikeSquared-Agency/tutor/internal/course"
)

func (s *Store) Append(ctx context.Context, courseID string, role course.Role, content string) (*course.ChatMessage, error) {
	msg := &course.ChatMessage{CourseID: courseID, Role: role, Content: content}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO chat_history (course_id, role, content)
		VALUES ($1, $2, $3)
		RETURNING id, timestamp`,
		courseID, string(role), content,
	).Scan(&msg.ID, &msg.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("insert chat message: %w", err)
	}
	return msg, nil
}

func (s *Store) List(ctx context.Context, courseID string) ([]course.ChatMessage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, course_id, role, content, timestamp
		FROM chat_history
		WHERE course_id = $1
		ORDER BY timestamp, id`,
		courseID,
	)
	if err != nil {
		return nil, fmt.Errorf("list chat history: %w", err)
	}
	defer rows.Close()

	out := []course.ChatMessage{}
	for rows.Next() {
		var m course.ChatMessage
		var role string
		if err := rows.Scan(&m.ID, &m.CourseID, &role, &m.Content, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		m.Role = course.Role(role)
		out = append(out, m)
	}
	return out, rows.Err()
}

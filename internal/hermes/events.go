package hermes

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	// SubjectCourseStatus carries every course processing-status change.
	SubjectCourseStatus = "swarm.tutor.course.status"
	// SubjectSweepRequested asks running instances to reprocess pending and
	// failed courses.
	SubjectSweepRequested = "swarm.tutor.sweep.requested"
	SubjectRegistered     = "swarm.agent.tutor.registered"

	// SweepQueue groups every tutor instance so one sweep request runs once.
	SweepQueue = "tutor-sweep"
)

// CourseStatusEvent is published when ingestion moves a course between states.
type CourseStatusEvent struct {
	CourseID  string    `json:"course_id"`
	Status    string    `json:"status"`
	Chunks    int       `json:"chunks,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SweepRequest optionally names who asked for the sweep.
type SweepRequest struct {
	RequestedBy string `json:"requested_by,omitempty"`
}

// ParseSweepRequest decodes a sweep request. An empty payload is valid.
func ParseSweepRequest(data []byte) (SweepRequest, error) {
	var req SweepRequest
	if len(data) == 0 {
		return req, nil
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return req, fmt.Errorf("parse sweep request: %w", err)
	}
	return req, nil
}

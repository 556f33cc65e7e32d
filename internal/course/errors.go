package course

import (
	"errors"
	"fmt"
)

// Kind classifies failures surfaced by the ingestion pipeline and query engine.
type Kind string

const (
	KindNotFound   Kind = "not_found"
	KindNotReady   Kind = "not_ready"
	KindIngestion  Kind = "ingestion_failure"
	KindUpstream   Kind = "upstream_failure"
	KindValidation Kind = "validation_error"
	KindTimeout    Kind = "timeout"
	KindConflict   Kind = "conflict"
	KindUnknown    Kind = "unknown"
)

// Error carries a Kind plus the operation and course it happened on.
type Error struct {
	Kind     Kind
	Op       string
	CourseID string
	Msg      string
	Err      error
}

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrNotFound   = &Error{Kind: KindNotFound}
	ErrNotReady   = &Error{Kind: KindNotReady}
	ErrIngestion  = &Error{Kind: KindIngestion}
	ErrUpstream   = &Error{Kind: KindUpstream}
	ErrValidation = &Error{Kind: KindValidation}
	ErrTimeout    = &Error{Kind: KindTimeout}
	ErrConflict   = &Error{Kind: KindConflict}
)

// E builds an *Error.
func E(kind Kind, op, courseID string, err error) error {
	return &Error{Kind: kind, Op: op, CourseID: courseID, Err: err}
}

// Errorf builds an *Error with a formatted message and no cause.
func Errorf(kind Kind, op, courseID, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, CourseID: courseID, Msg: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.CourseID != "" {
		msg += " (course " + e.CourseID + ")"
	}
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.CourseID == "" && t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

// KindOf returns the kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

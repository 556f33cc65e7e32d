// Package query answers student questions from a course's indexed transcript.
package query

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"text/template"

	"github.com/MikeSquared-Agency/tutor/internal/course"
	"github.com/MikeSquared-Agency/tutor/internal/vectorindex"
)

// Completer generates text for a prompt.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

type Engine struct {
	courses  course.Store
	history  course.HistoryStore
	index    vectorindex.Index
	llm      Completer
	strategy Strategy
	tmpl     templates
	logger   *slog.Logger
}

func New(courses course.Store, history course.HistoryStore, index vectorindex.Index, llm Completer, strategy Strategy, logger *slog.Logger) (*Engine, error) {
	if err := strategy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid strategy: %w", err)
	}
	tmpl, err := parseTemplates(strategy)
	if err != nil {
		return nil, err
	}
	return &Engine{
		courses:  courses,
		history:  history,
		index:    index,
		llm:      llm,
		strategy: strategy,
		tmpl:     tmpl,
		logger:   logger,
	}, nil
}

func (e *Engine) Strategy() Strategy { return e.strategy }

// Ask answers question for courseID and records the exchange in the chat
// history. Greetings are answered without consulting the course at all.
func (e *Engine) Ask(ctx context.Context, courseID, question string) (string, error) {
	const op = "ask"
	if strings.TrimSpace(courseID) == "" {
		return "", course.Errorf(course.KindValidation, op, "", "courseId is required")
	}
	if strings.TrimSpace(question) == "" {
		return "", course.Errorf(course.KindValidation, op, courseID, "question is required")
	}

	if IsGreeting(question, e.strategy.Greetings) {
		if err := e.record(ctx, courseID, course.RoleAI, e.strategy.GreetingReply); err != nil {
			return "", err
		}
		return e.strategy.GreetingReply, nil
	}

	answer, err := e.answer(ctx, courseID, question)
	if err != nil {
		e.logFailure(courseID, err)
		return "", err
	}
	return answer, nil
}

func (e *Engine) answer(ctx context.Context, courseID, question string) (string, error) {
	const op = "ask"
	c, err := e.courses.Get(ctx, courseID)
	if err != nil {
		return "", err
	}
	if c.Status != course.StatusCompleted {
		return "", course.Errorf(course.KindNotReady, op, courseID, "course is still being processed (status %s)", c.Status)
	}

	matches, err := e.index.Query(ctx, question, e.strategy.TopK, vectorindex.Filter{"courseId": courseID})
	if err != nil {
		return "", course.E(course.KindUpstream, "retrieve context", courseID, err)
	}

	if err := e.record(ctx, courseID, course.RoleHuman, question); err != nil {
		return "", err
	}

	topic := c.Topic()
	if strings.TrimSpace(topic) == "" || topic == course.DefaultTitle {
		topic = defaultTopic
	}

	if !e.relevant(matches) {
		reply, err := render(e.tmpl.outOfScope, promptData{Topic: topic, Question: question})
		if err != nil {
			return "", err
		}
		e.logger.Info("question out of scope", "course_id", courseID, "matches", len(matches))
		if err := e.record(ctx, courseID, course.RoleAI, reply); err != nil {
			return "", err
		}
		return reply, nil
	}

	texts := make([]string, len(matches))
	for i, m := range matches {
		texts[i] = m.Text
	}
	prompt, err := render(e.tmpl.prompt, promptData{
		Topic:    topic,
		Context:  strings.Join(texts, "\n\n"),
		Question: question,
	})
	if err != nil {
		return "", err
	}

	raw, err := e.generate(ctx, courseID, prompt)
	if err != nil {
		return "", err
	}
	answer := CleanAnswer(raw)
	if answer == "" {
		return "", course.Errorf(course.KindUpstream, "generate answer", courseID, "model returned an empty answer")
	}

	if err := e.record(ctx, courseID, course.RoleAI, answer); err != nil {
		return "", err
	}
	e.logger.Info("question answered", "course_id", courseID, "matches", len(matches), "best_distance", matches[0].Distance)
	return answer, nil
}

func (e *Engine) relevant(matches []vectorindex.Match) bool {
	if len(matches) == 0 {
		return false
	}
	if e.strategy.RelevanceThreshold <= 0 {
		return true
	}
	return matches[0].Distance <= e.strategy.RelevanceThreshold
}

func (e *Engine) generate(ctx context.Context, courseID, prompt string) (string, error) {
	gctx, cancel := context.WithTimeout(ctx, e.strategy.GenerationTimeout)
	defer cancel()

	raw, err := e.llm.Complete(gctx, prompt)
	if err == nil {
		return raw, nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(gctx.Err(), context.DeadlineExceeded) {
		return "", course.E(course.KindTimeout, "generate answer", courseID, err)
	}
	return "", course.E(course.KindUpstream, "generate answer", courseID, err)
}

func (e *Engine) record(ctx context.Context, courseID string, role course.Role, content string) error {
	if _, err := e.history.Append(ctx, courseID, role, content); err != nil {
		return fmt.Errorf("record %s message: %w", role, err)
	}
	return nil
}

func (e *Engine) logFailure(courseID string, err error) {
	switch course.KindOf(err) {
	case course.KindNotFound, course.KindNotReady:
		e.logger.Warn("question rejected", "course_id", courseID, "error", err)
	default:
		e.logger.Error("question failed", "course_id", courseID, "error", err)
	}
}

// History returns the chat log for courseID, oldest first.
func (e *Engine) History(ctx context.Context, courseID string) ([]course.ChatMessage, error) {
	return e.history.List(ctx, courseID)
}

// Status returns the course record, or a not-found error.
func (e *Engine) Status(ctx context.Context, courseID string) (*course.Course, error) {
	return e.courses.Get(ctx, courseID)
}

func render(t *template.Template, data promptData) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return buf.String(), nil
}

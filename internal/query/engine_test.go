package query

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/tutor/internal/course"
	"github.com/MikeSquared-Agency/tutor/internal/vectorindex"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeCourses struct {
	courses map[string]*course.Course
}

func (f *fakeCourses) Create(_ context.Context, c *course.Course) error {
	f.courses[c.ID] = c
	return nil
}

func (f *fakeCourses) Get(_ context.Context, id string) (*course.Course, error) {
	c, ok := f.courses[id]
	if !ok {
		return nil, course.E(course.KindNotFound, "get course", id, nil)
	}
	return c, nil
}

func (f *fakeCourses) UpdateStatus(_ context.Context, id string, status course.Status, processedAt *time.Time) error {
	f.courses[id].Status = status
	f.courses[id].ProcessedAt = processedAt
	return nil
}

func (f *fakeCourses) TransitionStatus(context.Context, string, []course.Status, course.Status) (bool, error) {
	return false, nil
}

func (f *fakeCourses) ListByStatus(context.Context, ...course.Status) ([]*course.Course, error) {
	return nil, nil
}

type fakeHistory struct {
	mu   sync.Mutex
	msgs []course.ChatMessage
}

func (f *fakeHistory) Append(_ context.Context, courseID string, role course.Role, content string) (*course.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := course.ChatMessage{ID: int64(len(f.msgs) + 1), CourseID: courseID, Role: role, Content: content, Timestamp: time.Now()}
	f.msgs = append(f.msgs, m)
	return &m, nil
}

func (f *fakeHistory) List(_ context.Context, courseID string) ([]course.ChatMessage, error) {
	var out []course.ChatMessage
	for _, m := range f.msgs {
		if m.CourseID == courseID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeHistory) roles() []course.Role {
	var out []course.Role
	for _, m := range f.msgs {
		out = append(out, m.Role)
	}
	return out
}

type fakeIndex struct {
	matches []vectorindex.Match
	err     error
	calls   int
	topK    int
	filter  vectorindex.Filter
}

func (f *fakeIndex) Add(context.Context, []vectorindex.Document) error { return nil }
func (f *fakeIndex) Delete(context.Context, vectorindex.Filter) error  { return nil }

func (f *fakeIndex) Query(_ context.Context, _ string, topK int, filter vectorindex.Filter) ([]vectorindex.Match, error) {
	f.calls++
	f.topK = topK
	f.filter = filter
	return f.matches, f.err
}

type fakeLLM struct {
	reply   string
	err     error
	block   bool
	prompts []string
}

func (f *fakeLLM) Complete(ctx context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.reply, f.err
}

type harness struct {
	courses *fakeCourses
	history *fakeHistory
	index   *fakeIndex
	llm     *fakeLLM
	engine  *Engine
}

func newHarness(t *testing.T, mutate ...func(*Strategy)) *harness {
	t.Helper()
	h := &harness{
		courses: &fakeCourses{courses: map[string]*course.Course{
			"algo": {ID: "algo", Title: "Algorithms", Status: course.StatusCompleted, Metadata: map[string]any{"title": "Data Structures"}},
			"busy": {ID: "busy", Status: course.StatusProcessing},
			"bare": {ID: "bare", Title: course.DefaultTitle, Status: course.StatusCompleted},
		}},
		history: &fakeHistory{},
		index:   &fakeIndex{},
		llm:     &fakeLLM{reply: "Answer: A binary search tree keeps keys ordered."},
	}
	s := DefaultStrategy()
	for _, m := range mutate {
		m(&s)
	}
	e, err := New(h.courses, h.history, h.index, h.llm, s, discardLogger())
	require.NoError(t, err)
	h.engine = e
	return h
}

func TestAsk_GreetingSkipsStatusGate(t *testing.T) {
	h := newHarness(t)

	answer, err := h.engine.Ask(context.Background(), "no-such-course", "Hi there")
	require.NoError(t, err)
	assert.Equal(t, defaultGreetingReply, answer)
	assert.Equal(t, []course.Role{course.RoleAI}, h.history.roles())
	assert.Zero(t, h.index.calls)
	assert.Empty(t, h.llm.prompts)
}

func TestAsk_GreetingPhrases(t *testing.T) {
	phrases := DefaultStrategy().Greetings
	tests := []struct {
		q    string
		want bool
	}{
		{"Hello", true},
		{"hey, quick one", true},
		{"Good Morning!", true},
		{"hiii", true},
		{"What is this algorithm?", false},
		{"Explain the history of sorting", false},
		{"Is the morning lecture good?", false},
		{"Which of this is on the exam?", false},
		{"Why is this one faster?", false},
	}
	for _, tt := range tests {
		if got := IsGreeting(tt.q, phrases); got != tt.want {
			t.Errorf("IsGreeting(%q) = %v, want %v", tt.q, got, tt.want)
		}
	}
}

func TestAsk_NotFound(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.Ask(context.Background(), "missing", "What is a heap?")
	assert.ErrorIs(t, err, course.ErrNotFound)
	assert.Empty(t, h.history.msgs)
}

func TestAsk_NotReady(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.Ask(context.Background(), "busy", "What is a heap?")
	assert.ErrorIs(t, err, course.ErrNotReady)
	assert.Empty(t, h.history.msgs)
	assert.Zero(t, h.index.calls)
}

func TestAsk_Validation(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.Ask(context.Background(), "", "What is a heap?")
	assert.ErrorIs(t, err, course.ErrValidation)
	_, err = h.engine.Ask(context.Background(), "algo", "   ")
	assert.ErrorIs(t, err, course.ErrValidation)
}

func TestAsk_EmptyRetrievalIsOutOfScope(t *testing.T) {
	h := newHarness(t)

	answer, err := h.engine.Ask(context.Background(), "algo", "Who won the cup final?")
	require.NoError(t, err)
	assert.Contains(t, answer, "I apologize, but I can only answer questions about Data Structures")
	assert.Equal(t, []course.Role{course.RoleHuman, course.RoleAI}, h.history.roles())
	assert.Equal(t, "Who won the cup final?", h.history.msgs[0].Content)
	assert.Equal(t, answer, h.history.msgs[1].Content)
	assert.Empty(t, h.llm.prompts)
	assert.Equal(t, 5, h.index.topK)
	assert.Equal(t, vectorindex.Filter{"courseId": "algo"}, h.index.filter)
}

func TestAsk_DistantMatchIsOutOfScope(t *testing.T) {
	h := newHarness(t)
	h.index.matches = []vectorindex.Match{{ID: "c1", Text: "unrelated", Distance: 0.81}}

	answer, err := h.engine.Ask(context.Background(), "algo", "Who won the cup final?")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(answer, "I apologize"))
	assert.Empty(t, h.llm.prompts)
}

func TestAsk_ThresholdDisabled(t *testing.T) {
	h := newHarness(t, func(s *Strategy) { s.RelevanceThreshold = 0 })
	h.index.matches = []vectorindex.Match{{ID: "c1", Text: "far away", Distance: 1.7}}

	_, err := h.engine.Ask(context.Background(), "algo", "What is a tree?")
	require.NoError(t, err)
	assert.Len(t, h.llm.prompts, 1)
}

func TestAsk_AnswersFromContext(t *testing.T) {
	h := newHarness(t)
	h.index.matches = []vectorindex.Match{
		{ID: "c1", Text: "Binary search trees keep keys ordered.", Distance: 0.2},
		{ID: "c2", Text: "Rotations rebalance the tree.", Distance: 0.5},
	}

	answer, err := h.engine.Ask(context.Background(), "algo", "What is a binary search tree?")
	require.NoError(t, err)
	assert.Equal(t, "A binary search tree keeps keys ordered.", answer)

	require.Len(t, h.llm.prompts, 1)
	prompt := h.llm.prompts[0]
	assert.Contains(t, prompt, "teaching assistant for a course about Data Structures")
	assert.Contains(t, prompt, "Binary search trees keep keys ordered.\n\nRotations rebalance the tree.")
	assert.Contains(t, prompt, "Question: What is a binary search tree?")
	assert.Contains(t, prompt, "5. Is well-structured and easy to understand")

	assert.Equal(t, []course.Role{course.RoleHuman, course.RoleAI}, h.history.roles())
	assert.Equal(t, answer, h.history.msgs[1].Content)
}

func TestAsk_TopicFallback(t *testing.T) {
	h := newHarness(t)
	h.index.matches = []vectorindex.Match{{ID: "c1", Text: "ctx", Distance: 0.1}}

	_, err := h.engine.Ask(context.Background(), "bare", "Explain it")
	require.NoError(t, err)
	assert.Contains(t, h.llm.prompts[0], "a course about the course material")
}

func TestAsk_GenerationTimeout(t *testing.T) {
	h := newHarness(t, func(s *Strategy) { s.GenerationTimeout = 20 * time.Millisecond })
	h.index.matches = []vectorindex.Match{{ID: "c1", Text: "ctx", Distance: 0.1}}
	h.llm.block = true

	_, err := h.engine.Ask(context.Background(), "algo", "What is a heap?")
	assert.ErrorIs(t, err, course.ErrTimeout)
	assert.Equal(t, []course.Role{course.RoleHuman}, h.history.roles(), "question stays recorded")
}

func TestAsk_UpstreamFailures(t *testing.T) {
	h := newHarness(t)
	h.index.err = errors.New("index down")
	_, err := h.engine.Ask(context.Background(), "algo", "What is a heap?")
	assert.ErrorIs(t, err, course.ErrUpstream)

	h = newHarness(t)
	h.index.matches = []vectorindex.Match{{ID: "c1", Text: "ctx", Distance: 0.1}}
	h.llm.err = errors.New("model overloaded")
	_, err = h.engine.Ask(context.Background(), "algo", "What is a heap?")
	assert.ErrorIs(t, err, course.ErrUpstream)
	assert.Equal(t, []course.Role{course.RoleHuman}, h.history.roles())

	h = newHarness(t)
	h.index.matches = []vectorindex.Match{{ID: "c1", Text: "ctx", Distance: 0.1}}
	h.llm.reply = "Response:   "
	_, err = h.engine.Ask(context.Background(), "algo", "What is a heap?")
	assert.ErrorIs(t, err, course.ErrUpstream)
}

func TestCleanAnswer(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Answer: heaps are trees", "heaps are trees"},
		{"  response:  Heaps.", "Heaps."},
		{"AI: Answer: nested", "nested"},
		{"assistant:\nmultiline\nanswer", "multiline\nanswer"},
		{"The Answer: stays inside", "The Answer: stays inside"},
		{"plain", "plain"},
	}
	for _, tt := range tests {
		if got := CleanAnswer(tt.in); got != tt.want {
			t.Errorf("CleanAnswer(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestHistoryAndStatus(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.Ask(context.Background(), "algo", "hello")
	require.NoError(t, err)

	msgs, err := h.engine.History(context.Background(), "algo")
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	c, err := h.engine.Status(context.Background(), "busy")
	require.NoError(t, err)
	assert.Equal(t, course.StatusProcessing, c.Status)

	_, err = h.engine.Status(context.Background(), "ghost")
	assert.ErrorIs(t, err, course.ErrNotFound)
}

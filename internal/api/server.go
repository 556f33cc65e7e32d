package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/MikeSquared-Agency/tutor/internal/course"
	"github.com/MikeSquared-Agency/tutor/internal/ingest"
)

const maxBodyBytes = 10 << 20

// Ingester accepts transcript uploads. *ingest.Pipeline satisfies it.
type Ingester interface {
	Submit(ctx context.Context, req ingest.SubmitRequest) (string, error)
}

// Tutor answers questions and exposes course state. *query.Engine satisfies it.
type Tutor interface {
	Ask(ctx context.Context, courseID, question string) (string, error)
	History(ctx context.Context, courseID string) ([]course.ChatMessage, error)
	Status(ctx context.Context, courseID string) (*course.Course, error)
}

type Server struct {
	router *chi.Mux
	ingest Ingester
	tutor  Tutor
	logger *slog.Logger
	now    func() time.Time
	http   *http.Server
}

func NewServer(port int, ingester Ingester, tutor Tutor, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Requested-With"},
	}))

	s := &Server{
		router: router,
		ingest: ingester,
		tutor:  tutor,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	router.Get("/", s.root)
	router.Get("/health", s.health)
	router.Post("/uploadTranscript", s.uploadTranscript)
	router.Post("/chat", s.chat)
	router.Get("/history/{courseId}", s.history)
	router.Get("/status/{courseId}", s.status)

	return s
}

func (s *Server) Handler() http.Handler { return s.router }

// Start serves until Shutdown is called. It returns nil after a clean
// shutdown.
func (s *Server) Start() error {
	s.logger.Info("API server starting", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) root(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("RAG chatbot backend is running"))
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type uploadRequest struct {
	TranscriptText string `json:"transcriptText"`
	CourseID       string `json:"courseId"`
	Title          string `json:"title,omitempty"`
}

func (s *Server) uploadTranscript(w http.ResponseWriter, r *http.Request) {
	var req uploadRequest
	if !decode(w, r, &req) {
		return
	}
	courseID := strings.TrimSpace(req.CourseID)
	if strings.TrimSpace(req.TranscriptText) == "" || courseID == "" {
		writeError(w, http.StatusBadRequest, "transcriptText and courseId are required", course.KindValidation)
		return
	}

	title := strings.TrimSpace(req.Title)
	metaTitle := title
	if metaTitle == "" {
		metaTitle = "Course " + courseID
	}
	id, err := s.ingest.Submit(r.Context(), ingest.SubmitRequest{
		CourseID:   courseID,
		Title:      title,
		Transcript: req.TranscriptText,
		Metadata: map[string]any{
			"title":     metaTitle,
			"dateAdded": s.now().Format(time.RFC3339),
		},
	})
	if err != nil {
		s.fail(w, "upload transcript", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message":  "Transcript processed successfully",
		"courseId": id,
	})
}

type chatRequest struct {
	Question string `json:"question"`
	CourseID string `json:"courseId"`
}

func (s *Server) chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Question) == "" || strings.TrimSpace(req.CourseID) == "" {
		writeError(w, http.StatusBadRequest, "question and courseId are required", course.KindValidation)
		return
	}
	answer, err := s.tutor.Ask(r.Context(), strings.TrimSpace(req.CourseID), req.Question)
	if err != nil {
		s.fail(w, "chat", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"answer": answer})
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.tutor.History(r.Context(), chi.URLParam(r, "courseId"))
	if err != nil {
		s.fail(w, "history", err)
		return
	}
	if msgs == nil {
		msgs = []course.ChatMessage{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": msgs})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	c, err := s.tutor.Status(r.Context(), chi.URLParam(r, "courseId"))
	if err != nil {
		if errors.Is(err, course.ErrNotFound) {
			writeError(w, http.StatusNotFound, "course not found", course.KindNotFound)
			return
		}
		s.fail(w, "status", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      c.Status,
		"processedAt": c.ProcessedAt,
	})
}

// fail maps a domain error to a response. Only validation and conflict
// errors get their own status codes; everything else is a 500.
func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	kind := course.KindOf(err)
	code := http.StatusInternalServerError
	switch kind {
	case course.KindValidation:
		code = http.StatusBadRequest
	case course.KindConflict:
		code = http.StatusConflict
	}
	if code == http.StatusInternalServerError {
		s.logger.Error("request failed", "op", op, "kind", kind, "error", err)
	}
	writeError(w, code, err.Error(), kind)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err), course.KindValidation)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string, kind course.Kind) {
	if kind == "" {
		kind = course.KindUnknown
	}
	writeJSON(w, code, map[string]string{"error": msg, "code": string(kind)})
}

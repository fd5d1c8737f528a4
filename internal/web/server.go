// Package web exposes a session service as the JSON API that remote.Client
// speaks, plus card source management.
package web

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/conorfennell/medstudy/internal/remote"
	"github.com/conorfennell/medstudy/internal/request"
	"github.com/conorfennell/medstudy/internal/storage"
	"github.com/conorfennell/medstudy/internal/sync"
)

const maxBodyBytes = 1 << 20

// Option configures a Server.
type Option func(*Server)

// WithToken requires every API call to carry "Authorization: Bearer token".
func WithToken(token string) Option {
	return func(s *Server) { s.token = token }
}

// WithLogger sets the server's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithSources enables the source management routes.
func WithSources(db *storage.DB, opts sync.Options) Option {
	return func(s *Server) {
		s.db = db
		s.syncOpts = opts
	}
}

// Server holds the dependencies for the HTTP server.
type Server struct {
	svc      remote.Service
	db       *storage.DB
	syncOpts sync.Options
	router   *http.ServeMux
	token    string
	logger   *slog.Logger
}

// NewServer creates and configures a new server.
func NewServer(svc remote.Service, opts ...Option) *Server {
	s := &Server{
		svc:    svc,
		router: http.NewServeMux(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.token != "" && !s.authorized(r) {
		s.writeError(w, r, remote.ErrUnauthorized)
		return
	}
	s.router.ServeHTTP(w, r)
}

func (s *Server) authorized(r *http.Request) bool {
	got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	return ok && subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) == 1
}

// routes sets up the routing for the server.
func (s *Server) routes() {
	s.router.HandleFunc("POST /api/quiz/sessions", s.handleStartQuiz())
	s.router.HandleFunc("POST /api/quiz/sessions/{id}/answers", s.handleSubmitAnswer())
	s.router.HandleFunc("PUT /api/quiz/sessions/{id}/flags/{item}", s.handleFlag())
	s.router.HandleFunc("POST /api/quiz/sessions/{id}/complete", s.handleCompleteQuiz())

	s.router.HandleFunc("POST /api/study/sessions", s.handleStartStudy())
	s.router.HandleFunc("POST /api/study/reviews", s.handleSubmitReview())
	s.router.HandleFunc("POST /api/study/reviews/bulk", s.handleBulkReviews())
	s.router.HandleFunc("GET /api/study/next", s.handleNextCard())

	s.router.HandleFunc("GET /api/decks", s.handleListDecks())

	if s.db != nil {
		s.router.HandleFunc("GET /api/sources", s.handleGetSources())
		s.router.HandleFunc("POST /api/sources", s.handlePostSource())
		s.router.HandleFunc("DELETE /api/sources/{id}", s.handleDeleteSource())
		s.router.HandleFunc("POST /api/sync", s.handlePostSync())
	}
}

func (s *Server) handleStartQuiz() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req remote.StartQuizRequest
		if !s.decode(w, r, &req) {
			return
		}
		res, err := s.svc.StartQuiz(r.Context(), req)
		s.respond(w, r, http.StatusCreated, res, err)
	}
}

func (s *Server) handleSubmitAnswer() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req remote.AnswerRequest
		if !s.decode(w, r, &req) {
			return
		}
		req.SessionID = r.PathValue("id")
		res, err := s.svc.SubmitAnswer(r.Context(), req)
		s.respond(w, r, http.StatusOK, res, err)
	}
}

func (s *Server) handleFlag() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req remote.FlagRequest
		if !s.decode(w, r, &req) {
			return
		}
		req.SessionID = r.PathValue("id")
		req.ItemID = r.PathValue("item")
		if err := s.svc.FlagQuestion(r.Context(), req); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleCompleteQuiz() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := s.svc.CompleteQuiz(r.Context(), r.PathValue("id"))
		s.respond(w, r, http.StatusOK, res, err)
	}
}

func (s *Server) handleStartStudy() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req remote.StartStudyRequest
		if !s.decode(w, r, &req) {
			return
		}
		res, err := s.svc.StartStudy(r.Context(), req)
		s.respond(w, r, http.StatusCreated, res, err)
	}
}

func (s *Server) handleSubmitReview() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req remote.ReviewRequest
		if !s.decode(w, r, &req) {
			return
		}
		res, err := s.svc.SubmitReview(r.Context(), req)
		s.respond(w, r, http.StatusOK, res, err)
	}
}

func (s *Server) handleBulkReviews() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Reviews []remote.ReviewRequest `json:"reviews"`
		}
		if !s.decode(w, r, &body) {
			return
		}
		res, err := s.svc.SubmitBulkReviews(r.Context(), body.Reviews)
		s.respond(w, r, http.StatusOK, res, err)
	}
}

func (s *Server) handleNextCard() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		card, err := s.svc.NextDueCard(r.Context(), remote.NextCardRequest{
			SessionID: q.Get("session"),
			Deck:      q.Get("deck"),
			Exclude:   q["exclude"],
		})
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"card": card})
	}
}

func (s *Server) handleListDecks() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page, err := intParam(r, "page", 1)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		size, err := intParam(r, "page_size", request.DefaultPageSize)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		res, err := s.svc.ListDecks(r.Context(), page, size)
		s.respond(w, r, http.StatusOK, res, err)
	}
}

func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be a number", remote.ErrValidation, name)
	}
	return n, nil
}

// handleGetSources lists the configured card sources.
func (s *Server) handleGetSources() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sources, err := s.db.GetAllSources(r.Context())
		s.respond(w, r, http.StatusOK, sourceViews(sources), err)
	}
}

// handlePostSource adds a new source.
func (s *Server) handlePostSource() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Path string `json:"path"`
		}
		if !s.decode(w, r, &body) {
			return
		}
		if body.Path == "" {
			s.writeError(w, r, fmt.Errorf("%w: path cannot be empty", remote.ErrValidation))
			return
		}
		src, err := sync.AddSource(r.Context(), s.db, body.Path)
		if err != nil {
			s.writeError(w, r, fmt.Errorf("%w: %v", remote.ErrValidation, err))
			return
		}
		s.writeJSON(w, http.StatusCreated, sourceViews([]storage.Source{*src})[0])
	}
}

// handleDeleteSource deletes a source and its cards.
func (s *Server) handleDeleteSource() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
		if err != nil {
			s.writeError(w, r, fmt.Errorf("%w: invalid source id", remote.ErrValidation))
			return
		}
		if err := s.db.DeleteSource(r.Context(), id); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// handlePostSync runs a sync in the foreground and reports per source.
func (s *Server) handlePostSync() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reports, err := sync.RunSync(r.Context(), s.db, s.syncOpts)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		type view struct {
			SourceID int64    `json:"source_id"`
			Parsed   int      `json:"parsed"`
			Inserted int      `json:"inserted"`
			Moved    int      `json:"moved"`
			Orphaned int      `json:"orphaned"`
			Errors   []string `json:"errors,omitempty"`
		}
		out := make([]view, len(reports))
		for i, rep := range reports {
			out[i] = view{SourceID: rep.SourceID, Parsed: rep.Parsed, Inserted: rep.Inserted, Moved: rep.Moved, Orphaned: rep.Orphaned}
			for _, e := range rep.Errors {
				out[i].Errors = append(out[i].Errors, e.Error())
			}
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"sources": out})
	}
}

type sourceView struct {
	ID          int64  `json:"id"`
	Path        string `json:"path"`
	Type        string `json:"type"`
	LastScanned string `json:"last_scanned,omitempty"`
}

func sourceViews(sources []storage.Source) []sourceView {
	out := make([]sourceView, len(sources))
	for i, src := range sources {
		out[i] = sourceView{ID: src.ID, Path: src.Path, Type: src.Type}
		if src.LastScanned.Valid {
			out[i].LastScanned = src.LastScanned.Time.Format("2006-01-02T15:04:05Z07:00")
		}
	}
	return out
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "request body too large"})
			return false
		}
		s.writeError(w, r, fmt.Errorf("%w: malformed JSON body: %v", remote.ErrValidation, err))
		return false
	}
	return true
}

func (s *Server) respond(w http.ResponseWriter, r *http.Request, status int, v any, err error) {
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, status, v)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}

// writeError reports err as {"error": "..."}. Internal failures are logged
// and their details withheld.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := remote.StatusFor(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		msg = http.StatusText(status)
	}
	s.writeJSON(w, status, map[string]string{"error": msg})
}

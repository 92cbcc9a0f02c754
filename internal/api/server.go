package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/MikeSquared-Agency/intake/internal/engine"
	"github.com/MikeSquared-Agency/intake/internal/flow"
)

const maxBodyBytes = 64 << 10

// Sessions is the part of engine.Service the HTTP layer needs.
type Sessions interface {
	StartSession(ctx context.Context) (*engine.Session, error)
	GetSession(ctx context.Context, id string) (*engine.Session, error)
	State(sess *engine.Session) (flow.State, error)
	HandleTurn(ctx context.Context, sessionID string, req engine.TurnRequest) (*engine.TurnResult, error)
}

type Server struct {
	router   *chi.Mux
	http     *http.Server
	sessions Sessions
	offerID  string
	validate *validator.Validate
	logger   *slog.Logger
	checks   []check
}

type check struct {
	name string
	fn   func(ctx context.Context) error
}

func NewServer(port int, sessions Sessions, offerID string, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router:   router,
		sessions: sessions,
		offerID:  offerID,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	router.Get("/health", s.health)
	router.Get("/api/v1/status", s.status)
	router.Route("/api/v1/sessions", func(r chi.Router) {
		r.Post("/", s.startSession)
		r.Get("/{sessionID}", s.getSession)
		r.Post("/{sessionID}/turns", s.submitTurn)
	})

	return s
}

// AddCheck registers a dependency reported by the status endpoint. It must be
// called before Start.
func (s *Server) AddCheck(name string, fn func(ctx context.Context) error) {
	s.checks = append(s.checks, check{name: name, fn: fn})
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown is called.
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

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	state := "ok"
	deps := make(map[string]string, len(s.checks))
	for _, c := range s.checks {
		if err := c.fn(ctx); err != nil {
			s.logger.Warn("dependency check failed", "dependency", c.name, "error", err)
			deps[c.name] = "unavailable"
			state = "degraded"
			continue
		}
		deps[c.name] = "ok"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"service":      "intake",
		"offer":        s.offerID,
		"status":       state,
		"dependencies": deps,
	})
}

type sessionResponse struct {
	Session *engine.Session        `json:"session"`
	Prompt  string                 `json:"prompt,omitempty"`
	Fields  []flow.FieldDescriptor `json:"fields,omitempty"`
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.StartSession(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.describe(sess))
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.describe(sess))
}

func (s *Server) submitTurn(w http.ResponseWriter, r *http.Request) {
	var req engine.TurnRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "utterance or selection is required")
		return
	}

	res, err := s.sessions.HandleTurn(r.Context(), chi.URLParam(r, "sessionID"), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) describe(sess *engine.Session) sessionResponse {
	out := sessionResponse{Session: sess}
	if sess.Completed {
		return out
	}
	if st, err := s.sessions.State(sess); err == nil {
		out.Prompt = st.Prompt
		out.Fields = st.Fields
	}
	return out
}

// fail maps domain errors to status codes. Internal details are logged,
// never returned.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, engine.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, engine.ErrSessionCompleted):
		writeError(w, http.StatusConflict, "session already completed")
	case errors.Is(err, engine.ErrMissingState):
		writeError(w, http.StatusUnprocessableEntity, "session has no conversation state")
	default:
		s.logger.Error("request failed",
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "something went wrong, please try again")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

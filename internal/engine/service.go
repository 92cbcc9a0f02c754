package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/intake/internal/flow"
	"github.com/MikeSquared-Agency/intake/internal/intent"
)

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionCompleted = errors.New("session already completed")
)

// SessionStore persists sessions. GetSession returns ErrSessionNotFound for
// unknown ids.
type SessionStore interface {
	GetSession(ctx context.Context, id string) (*Session, error)
	SaveSession(ctx context.Context, s *Session) error
}

// Notifier is told when a session completes. Failures are logged only.
type Notifier interface {
	SessionCompleted(ctx context.Context, s *Session) error
}

// Escalator is told the first time a session asks for a human. Failures are
// logged only.
type Escalator interface {
	SessionEscalated(ctx context.Context, s *Session, utterance string) error
}

// TurnRequest is a turn as submitted by a client.
type TurnRequest struct {
	Utterance string `json:"utterance" validate:"required_without=Selection,max=4000"`
	Selection string `json:"selection,omitempty" validate:"max=200"`
}

// Service owns session lifecycle around the Engine: load, process, persist.
// Turns for the same session are serialised; different sessions run in
// parallel.
type Service struct {
	engine   *Engine
	store    SessionStore
	notifier Notifier
	escalate Escalator
	offerID  string
	logger   *slog.Logger

	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// NewService creates a service. notifier may be nil.
func NewService(engine *Engine, store SessionStore, notifier Notifier, offerID string, logger *slog.Logger) *Service {
	return &Service{
		engine:   engine,
		store:    store,
		notifier: notifier,
		offerID:  offerID,
		logger:   logger,
		locks:    make(map[string]*sessionLock),
	}
}

// SetEscalator registers the escalation handoff. It must be called before
// the service handles turns.
func (s *Service) SetEscalator(e Escalator) {
	s.escalate = e
}

// StartSession creates a session positioned at the first state.
func (s *Service) StartSession(ctx context.Context) (*Session, error) {
	now := time.Now().UTC()
	sess := &Session{
		ID:        uuid.NewString(),
		OfferID:   s.offerID,
		Answers:   flow.Answers{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	tr := s.engine.Flow().NextState("", sess.Answers)
	if tr.Next != nil {
		sess.StateID = tr.Next.ID
	}
	sess.Completed = tr.Completed

	if err := s.store.SaveSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	s.logger.Info("session started", "session_id", sess.ID, "state_id", sess.StateID)
	return sess, nil
}

// GetSession returns a stored session.
func (s *Service) GetSession(ctx context.Context, id string) (*Session, error) {
	return s.store.GetSession(ctx, id)
}

// State resolves the conversation state a session is waiting on.
func (s *Service) State(sess *Session) (flow.State, error) {
	return s.engine.Flow().State(sess.StateID)
}

// HandleTurn processes one turn for sessionID and persists the outcome once.
func (s *Service) HandleTurn(ctx context.Context, sessionID string, req TurnRequest) (*TurnResult, error) {
	unlock := s.lock(sessionID)
	defer unlock()

	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Completed {
		return nil, ErrSessionCompleted
	}

	var state *flow.State
	if st, err := s.State(sess); err == nil {
		state = &st
	} else {
		s.logger.Error("session points at unknown state", "session_id", sess.ID, "state_id", sess.StateID, "error", err)
	}

	res, err := s.engine.ProcessTurn(ctx, TurnInput{
		SessionID: sess.ID,
		State:     state,
		Answers:   sess.Answers,
		History:   sess.History,
		Utterance: req.Utterance,
		Selection: req.Selection,
	})
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", sess.ID, err)
	}

	newlyEscalated := res.Escalate && !sess.Escalated
	sess.Answers = res.Answers
	sess.History = res.History
	sess.StateID = res.NextStateID
	sess.Completed = res.Completed
	sess.Escalated = sess.Escalated || res.Escalate
	sess.UpdatedAt = time.Now().UTC()
	if res.Completed {
		sess.StateID = ""
	}

	if err := s.store.SaveSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	if newlyEscalated && s.escalate != nil {
		if err := s.escalate.SessionEscalated(ctx, sess, req.Utterance); err != nil {
			s.logger.Warn("failed to hand off escalation", "session_id", sess.ID, "error", err)
		}
	}
	if res.Completed && s.notifier != nil {
		if err := s.notifier.SessionCompleted(ctx, sess); err != nil {
			s.logger.Warn("failed to publish session completion", "session_id", sess.ID, "error", err)
		}
	}
	return res, nil
}

// lock serialises turns per session and returns the matching unlock.
func (s *Service) lock(id string) func() {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &sessionLock{}
		s.locks[id] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, id)
		}
		s.mu.Unlock()
	}
}

// MemoryStore keeps sessions in process. It is used when no database is
// configured.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]Session)}
}

func (m *MemoryStore) GetSession(_ context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	sess.Answers = sess.Answers.Clone()
	sess.History = append([]intent.Turn(nil), sess.History...)
	return &sess, nil
}

func (m *MemoryStore) SaveSession(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	cp.Answers = s.Answers.Clone()
	cp.History = append([]intent.Turn(nil), s.History...)
	m.sessions[s.ID] = cp
	return nil
}

package hermes

import (
	"context"
	"time"

	"github.com/MikeSquared-Agency/intake/internal/engine"
	"github.com/MikeSquared-Agency/intake/internal/enrichment"
	"github.com/MikeSquared-Agency/intake/internal/flow"
)

const (
	// SubjectEnrichment carries captured turns for offline analysis.
	SubjectEnrichment = "intake.enrichment.captured"
	// SubjectSessionCompleted fires once per session when every field is collected.
	SubjectSessionCompleted = "intake.session.completed"
)

// Publisher is the publishing half of Client.
type Publisher interface {
	Publish(subject string, data any) error
}

// CompletedEvent is the payload of SubjectSessionCompleted.
type CompletedEvent struct {
	SessionID   string       `json:"session_id"`
	OfferID     string       `json:"offer_id"`
	Answers     flow.Answers `json:"answers"`
	Escalated   bool         `json:"escalated"`
	StartedAt   string       `json:"started_at"`
	CompletedAt string       `json:"completed_at"`
}

// Events publishes intake events. It is the enrichment sink and the
// session completion notifier.
type Events struct {
	pub Publisher
}

func NewEvents(pub Publisher) *Events {
	return &Events{pub: pub}
}

// Capture implements enrichment.Sink.
func (e *Events) Capture(_ context.Context, ev enrichment.Event) error {
	return e.pub.Publish(SubjectEnrichment, ev)
}

// SessionCompleted implements engine.Notifier.
func (e *Events) SessionCompleted(_ context.Context, s *engine.Session) error {
	return e.pub.Publish(SubjectSessionCompleted, CompletedEvent{
		SessionID:   s.ID,
		OfferID:     s.OfferID,
		Answers:     s.Answers,
		Escalated:   s.Escalated,
		StartedAt:   s.CreatedAt.UTC().Format(time.RFC3339),
		CompletedAt: s.UpdatedAt.UTC().Format(time.RFC3339),
	})
}

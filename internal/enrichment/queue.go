// Package enrichment captures interesting turns for later analysis without
// slowing the turn down. Producers hand events to a Queue; a Worker drains
// it into a Sink.
package enrichment

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/intake/internal/flow"
	"github.com/MikeSquared-Agency/intake/internal/intent"
)

const (
	DefaultBufferSize = 64
	lowConfidence     = 0.5
)

// Capture reasons.
const (
	ReasonObjection     = "objection"
	ReasonOffTopic      = "off_topic"
	ReasonClarification = "clarification"
	ReasonEscalation    = "escalation"
	ReasonDiscarded     = "discarded_extraction"
	ReasonLowConfidence = "low_confidence"
)

// Event is one captured turn.
type Event struct {
	ID          uuid.UUID         `json:"id"`
	SessionID   string            `json:"session_id"`
	StateID     string            `json:"state_id"`
	Reason      string            `json:"reason"`
	Category    intent.Category   `json:"category"`
	Subcategory string            `json:"subcategory,omitempty"`
	Confidence  float64           `json:"confidence"`
	Utterance   string            `json:"utterance"`
	Discarded   []flow.Extraction `json:"discarded,omitempty"`
	CapturedAt  time.Time         `json:"captured_at"`
}

// Reason returns why a turn is worth capturing, or "" when it is not.
func Reason(res intent.Result, discarded []flow.Extraction) string {
	switch res.Category {
	case intent.Objection:
		return ReasonObjection
	case intent.OffTopic:
		return ReasonOffTopic
	case intent.ClarificationQuestion:
		return ReasonClarification
	case intent.EscalationRequest:
		return ReasonEscalation
	}
	if len(discarded) > 0 {
		return ReasonDiscarded
	}
	if res.Confidence < lowConfidence {
		return ReasonLowConfidence
	}
	return ""
}

// Queue is a bounded, non-blocking event buffer. When full, events are
// dropped and counted.
type Queue struct {
	ch      chan Event
	logger  *slog.Logger
	dropped atomic.Int64

	closeOnce sync.Once
}

func NewQueue(size int, logger *slog.Logger) *Queue {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Queue{
		ch:     make(chan Event, size),
		logger: logger,
	}
}

// Add enqueues ev without ever blocking. It is safe to call after Close.
func (q *Queue) Add(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			q.dropped.Add(1)
		}
	}()

	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.CapturedAt.IsZero() {
		ev.CapturedAt = time.Now().UTC()
	}

	select {
	case q.ch <- ev:
	default:
		q.dropped.Add(1)
		q.logger.Warn("enrichment queue is full", "session_id", ev.SessionID, "reason", ev.Reason)
	}
}

// Dropped returns how many events were discarded.
func (q *Queue) Dropped() int64 {
	return q.dropped.Load()
}

// Len returns the number of buffered events.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops accepting events. Buffered events are still delivered by a
// running Worker.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.ch) })
}

package engine

import (
	"time"

	"github.com/MikeSquared-Agency/intake/internal/flow"
	"github.com/MikeSquared-Agency/intake/internal/intent"
)

// DefaultHistorySize is how many transcript entries a session keeps.
const DefaultHistorySize = 10

// Session is the persisted record of one conversation. Answers is the only
// part a turn mutates, and it is replaced wholesale once per turn.
type Session struct {
	ID        string        `json:"id"`
	OfferID   string        `json:"offer_id"`
	StateID   string        `json:"state_id"`
	Answers   flow.Answers  `json:"answers"`
	History   []intent.Turn `json:"history"`
	Completed bool          `json:"completed"`
	Escalated bool          `json:"escalated"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// appendHistory returns a new slice with turns appended, keeping at most size
// entries. The input slice is not modified.
func appendHistory(history []intent.Turn, size int, turns ...intent.Turn) []intent.Turn {
	if size <= 0 {
		size = DefaultHistorySize
	}
	out := make([]intent.Turn, 0, len(history)+len(turns))
	out = append(out, history...)
	out = append(out, turns...)
	if len(out) > size {
		out = out[len(out)-size:]
	}
	return out
}

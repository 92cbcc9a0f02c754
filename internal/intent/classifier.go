package intent

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/MikeSquared-Agency/intake/internal/flow"
)

// Fallback values used whenever classification is unavailable.
const (
	FallbackSubcategory = "classifier_unavailable"
	FallbackConfidence  = 0.1
)

// Turn is one entry of the recent conversation transcript.
type Turn struct {
	Role string `json:"role"` // "user" or "assistant"
	Text string `json:"text"`
}

// ClassifyRequest is everything a classifier may look at.
type ClassifyRequest struct {
	Utterance string
	State     flow.State
	History   []Turn
	Fields    []flow.FieldDescriptor
}

// Result is a categorized intent.
type Result struct {
	Category    Category `json:"category"`
	Subcategory string   `json:"subcategory,omitempty"`
	Confidence  float64  `json:"confidence"`
	Tone        string   `json:"tone,omitempty"`
}

// Fallback is the low-confidence clarification result used when the
// classifier cannot produce an answer.
func Fallback() Result {
	return Result{
		Category:    ClarificationQuestion,
		Subcategory: FallbackSubcategory,
		Confidence:  FallbackConfidence,
	}
}

// Classifier categorizes an utterance. Implementations may fail; callers
// that must always get a result wrap them in Guarded.
type Classifier interface {
	Classify(ctx context.Context, req ClassifyRequest) (Result, error)
}

// Guarded bounds a classifier with a timeout and converts every failure
// into Fallback.
type Guarded struct {
	inner   Classifier
	timeout time.Duration
	logger  *slog.Logger
}

func NewGuarded(inner Classifier, timeout time.Duration, logger *slog.Logger) *Guarded {
	return &Guarded{inner: inner, timeout: timeout, logger: logger}
}

// Classify never fails.
func (g *Guarded) Classify(ctx context.Context, req ClassifyRequest) (res Result) {
	defer func() {
		if rec := recover(); rec != nil {
			g.logger.Error("classifier panicked", "state_id", req.State.ID, "panic", rec)
			res = Fallback()
		}
	}()

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	res, err := g.inner.Classify(ctx, req)
	if err == nil && !res.Category.Valid() {
		err = fmt.Errorf("invalid category %d", uint8(res.Category))
	}
	if err != nil {
		g.logger.Warn("classification failed, using fallback", "state_id", req.State.ID, "error", err)
		return Fallback()
	}

	res.Confidence = clampUnit(res.Confidence)
	return res
}

func clampUnit(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

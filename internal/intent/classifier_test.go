package intent

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/intake/internal/anthropic"
	"github.com/MikeSquared-Agency/intake/internal/flow"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type classifierFunc func(ctx context.Context, req ClassifyRequest) (Result, error)

func (f classifierFunc) Classify(ctx context.Context, req ClassifyRequest) (Result, error) {
	return f(ctx, req)
}

var budgetState = flow.State{
	ID:     "budget",
	Goal:   "Understand the price range",
	Prompt: "What budget are you working with?",
	Fields: []flow.FieldDescriptor{{Key: "budget", Label: "Budget", Hint: "a price or range"}},
}

func TestGuarded_PassesThrough(t *testing.T) {
	inner := classifierFunc(func(context.Context, ClassifyRequest) (Result, error) {
		return Result{Category: Objection, Subcategory: "privacy", Confidence: 0.85, Tone: "empathetic"}, nil
	})

	res := NewGuarded(inner, time.Second, discardLogger()).Classify(context.Background(), ClassifyRequest{State: budgetState})
	assert.Equal(t, Result{Category: Objection, Subcategory: "privacy", Confidence: 0.85, Tone: "empathetic"}, res)
}

func TestGuarded_Fallbacks(t *testing.T) {
	tests := []struct {
		name  string
		inner classifierFunc
	}{
		{"error", func(context.Context, ClassifyRequest) (Result, error) {
			return Result{}, errors.New("503")
		}},
		{"invalid category", func(context.Context, ClassifyRequest) (Result, error) {
			return Result{Confidence: 0.9}, nil
		}},
		{"panic", func(context.Context, ClassifyRequest) (Result, error) {
			panic("nil map")
		}},
		{"timeout", func(ctx context.Context, _ ClassifyRequest) (Result, error) {
			<-ctx.Done()
			return Result{}, ctx.Err()
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGuarded(tt.inner, 10*time.Millisecond, discardLogger())
			res := g.Classify(context.Background(), ClassifyRequest{State: budgetState})
			assert.Equal(t, Fallback(), res)
			assert.Equal(t, RouteKnowledge, res.Category.Route())
		})
	}
}

func TestGuarded_ClampsConfidence(t *testing.T) {
	for in, want := range map[float64]float64{1.7: 1, -0.2: 0, 0.4: 0.4, math.NaN(): 0} {
		inner := classifierFunc(func(context.Context, ClassifyRequest) (Result, error) {
			return Result{Category: DirectAnswer, Confidence: in}, nil
		})
		res := NewGuarded(inner, 0, discardLogger()).Classify(context.Background(), ClassifyRequest{})
		assert.Equal(t, want, res.Confidence)
	}
}

func llmServer(t *testing.T, text string, check func(prompt string)) *anthropic.Client {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			System   string              `json:"system"`
			Messages []anthropic.Message `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if check != nil {
			check(body.Messages[0].Content)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"content":     []map[string]any{{"type": "text", "text": text}},
			"stop_reason": "end_turn",
		})
	}))
	t.Cleanup(server.Close)

	llm := anthropic.NewClient("test-key", "test-model")
	llm.SetTestTransport(server.URL)
	return llm
}

func TestLLMClassifier_Success(t *testing.T) {
	llm := llmServer(t, "```json\n{\"category\":\"objection\",\"subcategory\":\"privacy\",\"confidence\":0.88,\"tone\":\"empathetic\"}\n```", func(prompt string) {
		assert.Contains(t, prompt, "What budget are you working with?")
		assert.Contains(t, prompt, "- budget (Budget): a price or range")
		assert.Contains(t, prompt, "assistant: Where are you looking?")
		assert.Contains(t, prompt, "I don't want to share that")
	})

	res, err := NewLLMClassifier(llm, discardLogger()).Classify(context.Background(), ClassifyRequest{
		Utterance: "I don't want to share that",
		State:     budgetState,
		History:   []Turn{{Role: "assistant", Text: "Where are you looking?"}, {Role: "user", Text: "Toronto"}},
		Fields:    budgetState.Fields,
	})
	require.NoError(t, err)
	assert.Equal(t, Objection, res.Category)
	assert.Equal(t, "privacy", res.Subcategory)
	assert.Equal(t, "empathetic", res.Tone)
	assert.InDelta(t, 0.88, res.Confidence, 1e-9)
}

func TestLLMClassifier_UnusableOutput(t *testing.T) {
	for name, text := range map[string]string{
		"not json":         "I think this is an objection",
		"unknown category": `{"category":"complaint","confidence":0.9}`,
	} {
		t.Run(name, func(t *testing.T) {
			llm := llmServer(t, text, nil)
			classifier := NewLLMClassifier(llm, discardLogger())

			_, err := classifier.Classify(context.Background(), ClassifyRequest{Utterance: "hmm", State: budgetState})
			assert.Error(t, err)

			res := NewGuarded(classifier, time.Second, discardLogger()).Classify(context.Background(), ClassifyRequest{Utterance: "hmm", State: budgetState})
			assert.Equal(t, Fallback(), res)
		})
	}
}

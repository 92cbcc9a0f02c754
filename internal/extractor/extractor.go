// Package extractor pulls field values out of an utterance.
package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/intake/internal/anthropic"
	"github.com/MikeSquared-Agency/intake/internal/flow"
)

const extractMaxTokens = 1024

// Request is the input to a FieldExtractor. Universe is the full field set so
// one utterance can answer questions that have not been asked yet.
type Request struct {
	Utterance string
	Offered   []flow.FieldDescriptor
	Collected flow.Answers
	Universe  *flow.Universe
}

// FieldExtractor turns an utterance into zero or more extractions.
type FieldExtractor interface {
	Extract(ctx context.Context, req Request) ([]flow.Extraction, error)
}

// LLMExtractor extracts fields with a Messages API model.
type LLMExtractor struct {
	llm    anthropic.Completer
	logger *slog.Logger
}

func New(llm anthropic.Completer, logger *slog.Logger) *LLMExtractor {
	return &LLMExtractor{llm: llm, logger: logger}
}

type llmResponse struct {
	Extractions []llmExtraction `json:"extractions"`
}

// llmExtraction accepts any JSON scalar as the value; models sometimes
// answer numeric fields with bare numbers.
type llmExtraction struct {
	Key        string  `json:"mapping_key"`
	Value      any     `json:"value"`
	Confidence float64 `json:"confidence"`
}

func (x llmExtraction) extraction() flow.Extraction {
	return flow.Extraction{Key: x.Key, Value: valueString(x.Value), Confidence: x.Confidence}
}

func valueString(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			if s := valueString(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}

// Extract asks the model for every field value present in the utterance.
func (e *LLMExtractor) Extract(ctx context.Context, req Request) ([]flow.Extraction, error) {
	if strings.TrimSpace(req.Utterance) == "" {
		return nil, nil
	}

	prompt := fmt.Sprintf(extractionUserPrompt,
		formatOffered(req.Offered),
		formatUniverse(req.Universe),
		formatCollected(req.Collected),
		req.Utterance,
	)

	raw, err := e.llm.Complete(ctx, systemPrompt, []anthropic.Message{{Role: "user", Content: prompt}}, extractMaxTokens)
	if err != nil {
		return nil, fmt.Errorf("llm extraction: %w", err)
	}

	var resp llmResponse
	dec := json.NewDecoder(strings.NewReader(anthropic.StripFences(raw)))
	dec.UseNumber()
	if err := dec.Decode(&resp); err != nil {
		e.logger.Error("failed to parse extraction response", "error", err, "raw", raw)
		return nil, fmt.Errorf("parse extraction: %w", err)
	}

	out := make([]flow.Extraction, 0, len(resp.Extractions))
	for _, x := range resp.Extractions {
		out = append(out, x.extraction())
	}
	e.logger.Debug("extraction complete", "extractions", len(out))
	return out, nil
}

// Guarded bounds an extractor with a timeout. Failures yield no extractions
// so the turn re-prompts the same field.
type Guarded struct {
	inner   FieldExtractor
	timeout time.Duration
	logger  *slog.Logger
}

func NewGuarded(inner FieldExtractor, timeout time.Duration, logger *slog.Logger) *Guarded {
	return &Guarded{inner: inner, timeout: timeout, logger: logger}
}

// Extract never fails. Values are trimmed and confidences clamped to [0,1].
func (g *Guarded) Extract(ctx context.Context, req Request) (out []flow.Extraction) {
	defer func() {
		if rec := recover(); rec != nil {
			g.logger.Error("extractor panicked", "panic", rec)
			out = nil
		}
	}()

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	extractions, err := g.inner.Extract(ctx, req)
	if err != nil {
		g.logger.Warn("extraction failed, treating as empty", "error", err)
		return nil
	}

	out = make([]flow.Extraction, 0, len(extractions))
	for _, ex := range extractions {
		ex.Key = strings.TrimSpace(ex.Key)
		ex.Value = strings.TrimSpace(ex.Value)
		ex.Confidence = clampUnit(ex.Confidence)
		out = append(out, ex)
	}
	return out
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

func formatOffered(fields []flow.FieldDescriptor) string {
	if len(fields) == 0 {
		return "(none)\n"
	}
	var sb strings.Builder
	for _, f := range fields {
		fmt.Fprintf(&sb, "- %s\n", f.Key)
	}
	return sb.String()
}

func formatUniverse(u *flow.Universe) string {
	if u == nil || u.Len() == 0 {
		return "(none)\n"
	}
	var sb strings.Builder
	for _, f := range u.Fields() {
		fmt.Fprintf(&sb, "- %s (%s)", f.Key, f.Label)
		if f.Hint != "" {
			fmt.Fprintf(&sb, ": %s", f.Hint)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

func formatCollected(answers flow.Answers) string {
	if len(answers) == 0 {
		return "(none)\n"
	}
	var sb strings.Builder
	for _, k := range answers.Keys() {
		fmt.Fprintf(&sb, "- %s = %s\n", k, answers[k])
	}
	return sb.String()
}

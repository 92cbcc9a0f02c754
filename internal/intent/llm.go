package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MikeSquared-Agency/intake/internal/anthropic"
	"github.com/MikeSquared-Agency/intake/internal/flow"
)

const classifyMaxTokens = 256

// LLMClassifier classifies utterances with a Messages API model.
type LLMClassifier struct {
	llm    anthropic.Completer
	logger *slog.Logger
}

func NewLLMClassifier(llm anthropic.Completer, logger *slog.Logger) *LLMClassifier {
	return &LLMClassifier{llm: llm, logger: logger}
}

type llmResponse struct {
	Category    string  `json:"category"`
	Subcategory string  `json:"subcategory"`
	Confidence  float64 `json:"confidence"`
	Tone        string  `json:"tone"`
}

func (c *LLMClassifier) Classify(ctx context.Context, req ClassifyRequest) (Result, error) {
	prompt := fmt.Sprintf(classifyUserPrompt,
		req.State.Prompt,
		req.State.Goal,
		formatFields(req.Fields),
		formatHistory(req.History),
		req.Utterance,
	)

	raw, err := c.llm.Complete(ctx, systemPrompt, []anthropic.Message{{Role: "user", Content: prompt}}, classifyMaxTokens)
	if err != nil {
		return Result{}, fmt.Errorf("llm classification: %w", err)
	}

	var resp llmResponse
	if err := json.Unmarshal([]byte(anthropic.StripFences(raw)), &resp); err != nil {
		c.logger.Debug("unparsable classification", "raw", raw)
		return Result{}, fmt.Errorf("parse classification: %w", err)
	}

	category, err := ParseCategory(resp.Category)
	if err != nil {
		return Result{}, err
	}

	c.logger.Debug("utterance classified",
		"state_id", req.State.ID,
		"category", category.String(),
		"subcategory", resp.Subcategory,
		"confidence", resp.Confidence,
	)

	return Result{
		Category:    category,
		Subcategory: strings.TrimSpace(resp.Subcategory),
		Confidence:  resp.Confidence,
		Tone:        strings.TrimSpace(resp.Tone),
	}, nil
}

func formatFields(fields []flow.FieldDescriptor) string {
	var sb strings.Builder
	for _, f := range fields {
		fmt.Fprintf(&sb, "- %s (%s)", f.Key, f.Label)
		if f.Hint != "" {
			fmt.Fprintf(&sb, ": %s", f.Hint)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

func formatHistory(history []Turn) string {
	if len(history) == 0 {
		return "(none)\n"
	}
	var sb strings.Builder
	for _, t := range history {
		fmt.Fprintf(&sb, "%s: %s\n", t.Role, t.Text)
	}
	return sb.String()
}

// Package slack hands escalated conversations to a human channel.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/intake/internal/engine"
)

const defaultPostMessageURL = "https://slack.com/api/chat.postMessage"

type Poster struct {
	token   string
	channel string
	client  *http.Client
	logger  *slog.Logger
	apiURL  string
}

func NewPoster(token, channel string, logger *slog.Logger) *Poster {
	return &Poster{
		token:   token,
		channel: channel,
		client:  &http.Client{Timeout: 10 * time.Second},
		apiURL:  defaultPostMessageURL,
		logger:  logger,
	}
}

// SessionEscalated implements engine.Escalator by posting a handoff summary.
func (p *Poster) SessionEscalated(ctx context.Context, s *engine.Session, utterance string) error {
	ts, err := p.post(ctx, map[string]any{
		"channel": p.channel,
		"text":    formatEscalation(s, utterance),
	})
	if err != nil {
		return err
	}
	p.logger.Info("posted escalation to slack", "ts", ts, "session_id", s.ID)
	return nil
}

func (p *Poster) post(ctx context.Context, payload map[string]any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("slack post: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var slackResp struct {
		OK    bool   `json:"ok"`
		TS    string `json:"ts"`
		Error string `json:"error,omitempty"`
	}
	if err := json.Unmarshal(respBody, &slackResp); err != nil {
		return "", fmt.Errorf("parse slack response: %w", err)
	}
	if !slackResp.OK {
		return "", fmt.Errorf("slack error: %s", slackResp.Error)
	}
	return slackResp.TS, nil
}

func formatEscalation(s *engine.Session, utterance string) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "*Lead asked for a human* (offer %s, session %s)\n", s.OfferID, s.ID)
	if utterance != "" {
		fmt.Fprintf(&sb, "> %s\n", utterance)
	}
	if s.StateID != "" {
		fmt.Fprintf(&sb, "*Waiting on:* %s\n", s.StateID)
	}

	if len(s.Answers) == 0 {
		sb.WriteString("_Nothing collected yet._")
		return sb.String()
	}
	fmt.Fprintf(&sb, "\n*Collected: %d*\n", len(s.Answers))
	for _, key := range s.Answers.Keys() {
		fmt.Fprintf(&sb, "• %s: %s\n", key, s.Answers[key])
	}
	return sb.String()
}

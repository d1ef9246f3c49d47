package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// ErrNoTargets reports that no webhook target has a resolvable URL - a
// configuration problem, not a delivery failure.
var ErrNoTargets = errors.New("no webhook targets configured")

// Target is one webhook delivery destination.
type Target struct {
	// Type is one of: slack | teams | pagerduty | http.
	Type string

	// URL is the resolved webhook URL. Targets with an empty URL are skipped.
	URL string
}

// Webhook is a Sink that posts JSON payloads to one or more webhook targets.
type Webhook struct {
	targets []Target
	client  *http.Client
}

// NewWebhook creates a Webhook sink. At least one target must have a URL.
func NewWebhook(targets []Target) (*Webhook, error) {
	usable := 0
	for _, t := range targets {
		if t.URL != "" {
			usable++
		}
	}
	if usable == 0 {
		return nil, ErrNoTargets
	}
	return &Webhook{
		targets: targets,
		client:  &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// Deliver posts msg to every configured target. Per-target failures are
// logged and the remaining targets still get the message; Deliver returns
// an error only when no target accepted it.
func (w *Webhook) Deliver(ctx context.Context, msg Message) error {
	delivered := 0
	var firstErr error

	for _, t := range w.targets {
		if t.URL == "" {
			continue
		}

		var err error
		switch t.Type {
		case "slack":
			err = w.sendSlack(ctx, t.URL, msg)
		case "teams":
			err = w.sendTeams(ctx, t.URL, msg)
		case "pagerduty", "http":
			err = w.sendHTTP(ctx, t.URL, msg)
		default:
			slog.Warn("notify: unknown webhook type - skipping", "type", t.Type)
			continue
		}

		if err != nil {
			slog.Error("notify: webhook delivery failed", "type", t.Type, "err", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		delivered++
	}

	if delivered == 0 && firstErr != nil {
		return firstErr
	}
	return nil
}

func (w *Webhook) sendSlack(ctx context.Context, url string, msg Message) error {
	body, _ := json.Marshal(map[string]string{
		"text": fmt.Sprintf("*%s* %s\n%s", severityLabel(msg.Severity), msg.Title, msg.Body),
	})
	return w.post(ctx, url, body)
}

func (w *Webhook) sendTeams(ctx context.Context, url string, msg Message) error {
	payload := map[string]interface{}{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": severityColor(msg.Severity),
		"summary":    msg.Title,
		"title":      msg.Title,
		"text":       msg.Body,
	}
	body, _ := json.Marshal(payload)
	return w.post(ctx, url, body)
}

func (w *Webhook) sendHTTP(ctx context.Context, url string, msg Message) error {
	body, _ := json.Marshal(map[string]string{
		"title":    msg.Title,
		"body":     msg.Body,
		"severity": msg.Severity,
	})
	return w.post(ctx, url, body)
}

func (w *Webhook) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func severityLabel(s string) string {
	switch s {
	case "critical":
		return "[CRITICAL]"
	case "warning":
		return "[WARNING]"
	default:
		return "[INFO]"
	}
}

func severityColor(s string) string {
	switch s {
	case "critical":
		return "FF4F6A"
	case "warning":
		return "FFAB40"
	default:
		return "00D4FF"
	}
}

// Package slack posts emergency triage notifications to a Slack incoming
// webhook. Messages never include patient text or identifiers.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/arovia/internal/pipeline"
	"github.com/linnemanlabs/arovia/internal/triage"
)

const httpTimeout = 10 * time.Second

// Notifier sends emergency notifications to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     log.Logger
}

// New creates a new Slack notifier. If webhookURL is empty, NotifyEmergency is a no-op.
func New(webhookURL string, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout, Transport: otelhttp.NewTransport(http.DefaultTransport)},
		logger:     logger,
	}
}

// Enabled reports whether a webhook is configured.
func (n *Notifier) Enabled() bool { return n.webhookURL != "" }

// NotifyEmergency posts e to the configured webhook.
func (n *Notifier) NotifyEmergency(ctx context.Context, e *pipeline.Emergency) error {
	if n.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(buildMessage(e))
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	n.logger.Info(ctx, "emergency notification sent", "request_id", e.RequestID, "category", e.Category)
	return nil
}

func buildMessage(e *pipeline.Emergency) map[string]any {
	return map[string]any{
		"text": fmt.Sprintf("Emergency triage: %s, urgency %d/%d", strings.ToUpper(string(e.Category)), e.UrgencyScore, triage.MaxUrgencyScore),
		"blocks": []map[string]any{
			headerBlock(e),
			{"type": "divider"},
			fieldsBlock(e),
			contextBlock(e),
		},
	}
}

func headerBlock(e *pipeline.Emergency) map[string]any {
	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": fmt.Sprintf("%s Emergency triage: %s", categoryEmoji(e.Category), strings.ToUpper(string(e.Category))),
		},
	}
}

func fieldsBlock(e *pipeline.Emergency) map[string]any {
	specialty := e.Specialty
	if specialty == "" {
		specialty = "unspecified"
	}
	fields := []map[string]any{
		{"type": "mrkdwn", "text": fmt.Sprintf("*Urgency:* %d/%d", e.UrgencyScore, triage.MaxUrgencyScore)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Specialty:* %s", escape(specialty))},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Red flags:* %s", flagList(e.FlagTypes))},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Facilities matched:* %d", e.Facilities)},
	}
	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func contextBlock(e *pipeline.Emergency) map[string]any {
	ts := e.At
	if ts.IsZero() {
		ts = time.Now()
	}
	return map[string]any{
		"type": "context",
		"elements": []map[string]any{{
			"type": "mrkdwn",
			"text": fmt.Sprintf("arovia • request %s • %s", e.RequestID, ts.UTC().Format("2006-01-02 15:04 UTC")),
		}},
	}
}

func flagList(flags []triage.FlagType) string {
	if len(flags) == 0 {
		return "none"
	}
	seen := make(map[triage.FlagType]bool, len(flags))
	out := make([]string, 0, len(flags))
	for _, f := range flags {
		if !seen[f] {
			seen[f] = true
			out = append(out, string(f))
		}
	}
	return strings.Join(out, ", ")
}

func categoryEmoji(c triage.Category) string {
	switch c {
	case triage.CategoryImmediate:
		return "\U0001f534" // red circle
	case triage.CategoryUrgent:
		return "\U0001f7e0" // orange circle
	default:
		return "\U0001f7e1" // yellow circle
	}
}

// escape neutralises Slack mrkdwn control characters.
func escape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}

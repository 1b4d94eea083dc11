package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/yksanjo/domain-expiration-monitor/pkg/alert"
)

// Slack posts alerts to a Slack incoming webhook.
type Slack struct {
	webhook string
	client  *http.Client
}

// NewSlack creates the Slack channel, or nil when no webhook is
// configured.
func NewSlack(webhook string) *Slack {
	if webhook == "" {
		return nil
	}
	return &Slack{
		webhook: webhook,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Name implements Notifier.
func (s *Slack) Name() string { return "slack" }

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title"`
	Text   string       `json:"text,omitempty"`
	Fields []slackField `json:"fields,omitempty"`
	Footer string       `json:"footer"`
}

type slackPayload struct {
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments"`
}

// Send posts the event as an attachment colored by severity.
func (s *Slack) Send(ctx context.Context, ev alert.Event) error {
	attachment := slackAttachment{
		Color:  severityColor(ev.Severity),
		Title:  fmt.Sprintf("Domain: %s", ev.Domain),
		Footer: "Domain Expiration Monitor",
	}

	switch ev.Kind {
	case alert.KindThreshold, alert.KindExpired:
		value := fmt.Sprintf("%d days", ev.DaysRemaining)
		if ev.DaysRemaining < 0 {
			value = "EXPIRED"
		}
		attachment.Fields = []slackField{
			{Title: "Days Until Expiration", Value: value, Short: true},
			{Title: "Expiration Date", Value: ev.Expiration.Format("2006-01-02"), Short: true},
		}
	default:
		attachment.Text = Body(ev)
	}

	body, err := json.Marshal(slackPayload{
		Text:        Subject(ev),
		Attachments: []slackAttachment{attachment},
	})
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhook, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post to slack: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("slack webhook returned %s", resp.Status)
	}
	return nil
}

func severityColor(sev alert.Severity) string {
	switch sev {
	case alert.SeverityExpired:
		return "#FF0000"
	case alert.SeverityCritical:
		return "#FF6B00"
	case alert.SeverityWarning:
		return "#FFA500"
	case alert.SeverityOK:
		return "#36A64F"
	default:
		return "#808080"
	}
}

package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"github.com/tgcollect/tgcollect/internal/bus"
	"github.com/tgcollect/tgcollect/internal/config"
)

// SlackNotifier posts alerts to a Slack incoming webhook.
type SlackNotifier struct {
	webhookURL string
	channel    string
	client     *http.Client
}

// NewSlackNotifier creates a webhook notifier from config.
func NewSlackNotifier(cfg config.SlackConfig) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: cfg.WebhookURL,
		channel:    cfg.Channel,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Notify posts one alert as a webhook message with an attachment per match.
func (n *SlackNotifier) Notify(ctx context.Context, ev *bus.AlertEvent) error {
	if n.webhookURL == "" {
		return fmt.Errorf("slack webhook url not configured")
	}

	msg := &slack.WebhookMessage{
		Channel: n.channel,
		Text:    fmt.Sprintf("Keyword alert in %s", ev.GroupTitle),
		Attachments: []slack.Attachment{{
			Color: "#d9534f",
			Fields: []slack.AttachmentField{
				{Title: "Keywords", Value: strings.Join(ev.Keywords, ", "), Short: true},
				{Title: "Sender", Value: ev.SenderName, Short: true},
				{Title: "Message", Value: ev.Excerpt},
			},
			Footer: fmt.Sprintf("tenant %d · message %d", ev.TenantID, ev.MessageID),
			Ts:     json.Number(fmt.Sprintf("%d", ev.Timestamp.Unix())),
		}},
	}
	return slack.PostWebhookCustomHTTPContext(ctx, n.webhookURL, n.client, msg)
}

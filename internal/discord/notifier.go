// Package discord posts calendar notifications to a Discord webhook.
package discord

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"calsync/internal/bus"
	appLog "calsync/internal/log"
	"calsync/internal/notify"
)

// WebhookError reports a webhook call answered with a non-2xx status.
type WebhookError struct {
	Status int
	Body   string
}

func (e *WebhookError) Error() string {
	return fmt.Sprintf("discord webhook: status %d: %s", e.Status, e.Body)
}

type webhookPayload struct {
	Content string `json:"content"`
}

// Notifier implements notify.Handler by posting one message per
// notification.
type Notifier struct {
	client     *resty.Client
	webhookURL string
	format     Formatter
}

var _ notify.Handler = (*Notifier)(nil)

// NewNotifier returns a Notifier for webhookURL. Times are shown in loc.
func NewNotifier(webhookURL string, loc *time.Location, timeout time.Duration) *Notifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Notifier{
		client:     resty.New().SetTimeout(timeout),
		webhookURL: webhookURL,
		format:     Formatter{Location: loc},
	}
}

func (n *Notifier) HandleNew(ctx context.Context, e notify.NewEvent) error {
	return n.send(ctx, e)
}

func (n *Notifier) HandleUpdated(ctx context.Context, e notify.UpdatedEvent) error {
	return n.send(ctx, e)
}

func (n *Notifier) HandleDeleted(ctx context.Context, e notify.DeletedEvent) error {
	return n.send(ctx, e)
}

func (n *Notifier) HandleTomorrow(ctx context.Context, e notify.EventTomorrow) error {
	return n.send(ctx, e)
}

func (n *Notifier) send(ctx context.Context, note notify.Notification) error {
	content := n.format.Format(note)

	appLog.Info("sending message to discord", "kind", string(note.Kind()), "length", len(content))
	resp, err := n.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(webhookPayload{Content: content}).
		Post(n.webhookURL)
	if err != nil {
		return fmt.Errorf("discord webhook: %w", err)
	}
	if resp.IsError() {
		return &WebhookError{Status: resp.StatusCode(), Body: resp.String()}
	}
	return nil
}

// Subscribe attaches n to every notification group on b.
func Subscribe(b *bus.Bus, n *Notifier) (unsubscribe func()) {
	return bus.SubscribeHandler(b, n)
}

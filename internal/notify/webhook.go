package notify

import (
	"context"
	"net/http"

	"github.com/wolfman30/booking-reconciler/internal/outbound"
)

// CancellationWebhook forwards cancelled-after-completion payloads.
type CancellationWebhook interface {
	// Notify posts body and returns the response status.
	Notify(ctx context.Context, body map[string]any) (int, error)
}

// NotificationWebhook posts JSON to the configured notification URL.
type NotificationWebhook struct {
	client *outbound.Client
}

// NewNotificationWebhook creates a NotificationWebhook.
func NewNotificationWebhook(client *outbound.Client) *NotificationWebhook {
	return &NotificationWebhook{client: client}
}

func (n *NotificationWebhook) Notify(ctx context.Context, body map[string]any) (int, error) {
	resp, err := n.client.Do(ctx, outbound.Request{Method: http.MethodPost, JSON: body})
	if err != nil {
		return 0, err
	}
	return resp.StatusCode, nil
}

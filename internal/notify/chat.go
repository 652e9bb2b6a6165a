package notify

import (
	"context"
	"fmt"
	"net/http"

	"github.com/wolfman30/booking-reconciler/internal/bookings"
	"github.com/wolfman30/booking-reconciler/internal/outbound"
)

// Chat posts block messages to the team channel.
type Chat interface {
	PostBlocks(ctx context.Context, blocks []Block) error
}

// Block is one Slack layout block.
type Block struct {
	Type string     `json:"type"`
	Text *BlockText `json:"text,omitempty"`
}

// BlockText is mrkdwn text inside a block.
type BlockText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func section(text string) Block {
	return Block{Type: "section", Text: &BlockText{Type: "mrkdwn", Text: text}}
}

// SlackWebhook posts to an incoming webhook URL. The outbound client carries
// the bot token header when one is configured.
type SlackWebhook struct {
	client *outbound.Client
}

// NewSlackWebhook creates a SlackWebhook.
func NewSlackWebhook(client *outbound.Client) *SlackWebhook {
	return &SlackWebhook{client: client}
}

func (s *SlackWebhook) PostBlocks(ctx context.Context, blocks []Block) error {
	_, err := s.client.Expect(ctx, outbound.Request{
		Method: http.MethodPost,
		JSON:   map[string]any{"blocks": blocks},
	})
	return err
}

func cancelledAfterCompletionBlocks(appName string, rec *bookings.Record) []Block {
	name := deref(rec.Name)
	if name == "" {
		name = "unknown customer"
	}
	service := deref(rec.ServiceCategory)
	date := ""
	if rec.ServiceDate != nil {
		date = rec.ServiceDate.Format("02/01/2006")
	}
	return []Block{
		section(fmt.Sprintf("*%s*: completed booking %d was cancelled", appName, rec.ExternalID)),
		{Type: "divider"},
		section(fmt.Sprintf("%s %s %s %s", name, service, date, deref(rec.Location))),
	}
}

package notify

import (
	"context"

	"github.com/wolfman30/booking-reconciler/pkg/logging"
)

// TemplateMessage is a transactional email rendered by the provider.
type TemplateMessage struct {
	To         string
	ToName     string
	TemplateID string
	Data       map[string]any
}

// TemplateMailer sends provider-rendered transactional emails.
type TemplateMailer interface {
	SendTemplate(ctx context.Context, msg TemplateMessage) error
}

// StubTemplateMailer logs instead of sending.
type StubTemplateMailer struct {
	logger *logging.Logger
}

func NewStubTemplateMailer(logger *logging.Logger) *StubTemplateMailer {
	if logger == nil {
		logger = logging.Default()
	}
	return &StubTemplateMailer{logger: logger}
}

func (m *StubTemplateMailer) SendTemplate(_ context.Context, msg TemplateMessage) error {
	m.logger.Info("stub template mailer: would send email", "to", msg.To, "template_id", msg.TemplateID)
	return nil
}

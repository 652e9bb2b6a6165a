package notify

import (
	"context"
	"fmt"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/wolfman30/booking-reconciler/pkg/logging"
)

// SendGridConfig holds the SendGrid API key and sender identity.
type SendGridConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
}

// sendgridAPI is the subset of *sendgrid.Client used here.
type sendgridAPI interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// sendgridTransport is shared by the plain sender and the template mailer.
type sendgridTransport struct {
	client sendgridAPI
	from   *mail.Email
	logger *logging.Logger
}

func newSendGridTransport(client sendgridAPI, cfg SendGridConfig, logger *logging.Logger) sendgridTransport {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.FromName == "" {
		cfg.FromName = defaultFromName
	}
	return sendgridTransport{client: client, from: mail.NewEmail(cfg.FromName, cfg.FromEmail), logger: logger}
}

// deliver sends message and treats any 4xx or 5xx as a failure.
func (t sendgridTransport) deliver(ctx context.Context, message *mail.SGMailV3, to string) (int, error) {
	if t.client == nil {
		return 0, fmt.Errorf("notify: sendgrid client not configured")
	}
	response, err := t.client.SendWithContext(ctx, message)
	if err != nil {
		t.logger.Error("sendgrid send failed", "error", err, "to", to)
		return 0, fmt.Errorf("notify: sendgrid send failed: %w", err)
	}
	if response.StatusCode >= 400 {
		t.logger.Error("sendgrid returned error status", "status", response.StatusCode, "body", response.Body, "to", to)
		return response.StatusCode, fmt.Errorf("notify: sendgrid returned status %d", response.StatusCode)
	}
	return response.StatusCode, nil
}

// SendGridSender sends operator mail through SendGrid. Message tags are
// attached as custom args so they show up in the event webhook.
type SendGridSender struct {
	sendgridTransport
}

// NewSendGridSender returns nil without an API key.
func NewSendGridSender(cfg SendGridConfig, logger *logging.Logger) *SendGridSender {
	if cfg.APIKey == "" {
		return nil
	}
	return &SendGridSender{newSendGridTransport(sendgrid.NewSendClient(cfg.APIKey), cfg, logger)}
}

func (s *SendGridSender) Send(ctx context.Context, msg EmailMessage) error {
	html := msg.HTML
	if html == "" {
		html = msg.Body
	}
	message := mail.NewSingleEmail(s.from, msg.Subject, mail.NewEmail(msg.ToName, msg.To), msg.Body, html)
	for k, v := range msg.Tags {
		message.SetCustomArg(k, v)
	}

	status, err := s.deliver(ctx, message, msg.To)
	if err != nil {
		return err
	}
	s.logger.Info("email sent via sendgrid", "to", msg.To, "subject", msg.Subject, "status", status)
	return nil
}

// SendGridTemplateMailer sends SendGrid dynamic template emails.
type SendGridTemplateMailer struct {
	sendgridTransport
}

// NewSendGridTemplateMailer returns nil without an API key.
func NewSendGridTemplateMailer(cfg SendGridConfig, logger *logging.Logger) *SendGridTemplateMailer {
	if cfg.APIKey == "" {
		return nil
	}
	return &SendGridTemplateMailer{newSendGridTransport(sendgrid.NewSendClient(cfg.APIKey), cfg, logger)}
}

// SendTemplate sends msg with its dynamic template data.
func (m *SendGridTemplateMailer) SendTemplate(ctx context.Context, msg TemplateMessage) error {
	if msg.TemplateID == "" {
		return fmt.Errorf("notify: template id required")
	}
	message := mail.NewV3Mail()
	message.SetFrom(m.from)
	message.SetTemplateID(msg.TemplateID)

	p := mail.NewPersonalization()
	p.AddTos(mail.NewEmail(msg.ToName, msg.To))
	for k, v := range msg.Data {
		p.SetDynamicTemplateData(k, v)
	}
	message.AddPersonalizations(p)

	if _, err := m.deliver(ctx, message, msg.To); err != nil {
		return err
	}
	m.logger.Info("template email sent", "to", msg.To, "template_id", msg.TemplateID)
	return nil
}

var (
	_ EmailSender    = (*SendGridSender)(nil)
	_ TemplateMailer = (*SendGridTemplateMailer)(nil)
	_ EmailSender    = (*StubEmailSender)(nil)
	_ TemplateMailer = (*StubTemplateMailer)(nil)
)

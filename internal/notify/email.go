package notify

import (
	"context"
	"strings"

	"github.com/wolfman30/booking-reconciler/pkg/logging"
)

const defaultFromName = "Booking Reconciler"

// EmailSender delivers plain operator mail.
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// EmailMessage is one outgoing operator email.
type EmailMessage struct {
	To      string
	ToName  string
	Subject string
	Body    string // Plain text body
	HTML    string // Optional HTML body
	// Tags label the delivery with provider metadata, e.g. job_type.
	Tags map[string]string
}

// StubEmailSender logs instead of sending. It is the fallback when no
// provider is configured, so alerts still reach the logs.
type StubEmailSender struct {
	logger *logging.Logger
}

func NewStubEmailSender(logger *logging.Logger) *StubEmailSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &StubEmailSender{logger: logger}
}

func (s *StubEmailSender) Send(_ context.Context, msg EmailMessage) error {
	s.logger.Info("stub email sender: would send email", "to", msg.To, "subject", msg.Subject, "body", msg.Body)
	return nil
}

// errorAddress plus-addresses a mailbox for error mail:
// support@example.com becomes support+error@example.com.
func errorAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	at := strings.LastIndex(addr, "@")
	if at <= 0 || strings.Contains(addr[:at], "+") {
		return addr
	}
	return addr[:at] + "+error" + addr[at:]
}

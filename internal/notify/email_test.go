package notify

import (
	"context"
	"testing"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/wolfman30/booking-reconciler/pkg/logging"
)

func TestNewSendGridSender_NilWithoutAPIKey(t *testing.T) {
	sender := NewSendGridSender(SendGridConfig{
		APIKey:    "",
		FromEmail: "test@example.com",
	}, nil)

	if sender != nil {
		t.Error("expected nil sender when API key is empty")
	}
}

func TestNewSendGridSender_DefaultFromName(t *testing.T) {
	sender := NewSendGridSender(SendGridConfig{
		APIKey:    "test-key",
		FromEmail: "test@example.com",
		FromName:  "",
	}, nil)

	if sender == nil {
		t.Fatal("expected non-nil sender")
	}
	if sender.from.Name != defaultFromName {
		t.Errorf("expected default from name %q, got %q", defaultFromName, sender.from.Name)
	}
}

func TestNewSendGridSender_CustomFromName(t *testing.T) {
	sender := NewSendGridSender(SendGridConfig{
		APIKey:    "test-key",
		FromEmail: "test@example.com",
		FromName:  "Custom Name",
	}, nil)

	if sender == nil {
		t.Fatal("expected non-nil sender")
	}
	if sender.from.Name != "Custom Name" {
		t.Errorf("expected from name 'Custom Name', got %q", sender.from.Name)
	}
}

func TestSendGridSender_Send_NilClient(t *testing.T) {
	sender := &SendGridSender{newSendGridTransport(nil, SendGridConfig{}, logging.Discard())}

	err := sender.Send(context.Background(), EmailMessage{
		To:      "recipient@example.com",
		Subject: "Test",
		Body:    "Test body",
	})

	if err == nil {
		t.Error("expected error when client is nil")
	}
}

func TestStubEmailSender_Send(t *testing.T) {
	sender := NewStubEmailSender(nil)

	err := sender.Send(context.Background(), EmailMessage{
		To:      "recipient@example.com",
		Subject: "Test Subject",
		Body:    "Test body",
	})

	if err != nil {
		t.Errorf("stub sender should not return error, got: %v", err)
	}
}

type fakeSendGrid struct {
	status int
	sent   []*mail.SGMailV3
}

func (f *fakeSendGrid) SendWithContext(_ context.Context, email *mail.SGMailV3) (*rest.Response, error) {
	f.sent = append(f.sent, email)
	return &rest.Response{StatusCode: f.status}, nil
}

func TestSendGridSender_Send(t *testing.T) {
	fake := &fakeSendGrid{status: 202}
	sender := &SendGridSender{newSendGridTransport(fake, SendGridConfig{FromEmail: "ops@example.com"}, logging.Discard())}

	err := sender.Send(context.Background(), EmailMessage{To: "a@example.com", Subject: "Hi", Body: "body"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fake.sent) != 1 || fake.sent[0].Subject != "Hi" {
		t.Fatalf("unexpected sends: %+v", fake.sent)
	}
	if fake.sent[0].From.Address != "ops@example.com" {
		t.Errorf("from = %+v", fake.sent[0].From)
	}

	if err := sender.Send(context.Background(), EmailMessage{
		To: "a@example.com", Subject: "Tagged", Body: "body",
		Tags: map[string]string{"job_type": "operator_alert"},
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := fake.sent[1].CustomArgs["job_type"]; got != "operator_alert" {
		t.Errorf("custom arg job_type = %q", got)
	}

	fake.status = 400
	if err := sender.Send(context.Background(), EmailMessage{To: "a@example.com"}); err == nil {
		t.Error("expected error on 400 status")
	}
}

func TestSendGridTemplateMailer_SendTemplate(t *testing.T) {
	fake := &fakeSendGrid{status: 202}
	mailer := &SendGridTemplateMailer{newSendGridTransport(fake, SendGridConfig{FromEmail: "ops@example.com"}, logging.Discard())}

	err := mailer.SendTemplate(context.Background(), TemplateMessage{
		To:         "a@example.com",
		TemplateID: "d-123",
		Data:       map[string]any{"first_name": "Jo"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := fake.sent[0]
	if got.TemplateID != "d-123" {
		t.Errorf("template id = %q", got.TemplateID)
	}
	if got.Personalizations[0].DynamicTemplateData["first_name"] != "Jo" {
		t.Errorf("dynamic data = %+v", got.Personalizations[0].DynamicTemplateData)
	}

	if err := mailer.SendTemplate(context.Background(), TemplateMessage{To: "a@example.com"}); err == nil {
		t.Error("expected error without template id")
	}
}

func TestErrorAddress(t *testing.T) {
	tests := map[string]string{
		"support@example.com":     "support+error@example.com",
		" support@example.com ":   "support+error@example.com",
		"support+ops@example.com": "support+ops@example.com",
		"not-an-address":          "not-an-address",
	}
	for in, want := range tests {
		if got := errorAddress(in); got != want {
			t.Errorf("errorAddress(%q) = %q, want %q", in, got, want)
		}
	}
}

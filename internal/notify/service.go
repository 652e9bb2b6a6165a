package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/wolfman30/booking-reconciler/internal/archive"
	"github.com/wolfman30/booking-reconciler/internal/bookings"
	"github.com/wolfman30/booking-reconciler/internal/normalize"
	"github.com/wolfman30/booking-reconciler/pkg/logging"
)

// PayloadArchiver keeps alert payloads for replay.
type PayloadArchiver interface {
	ArchivePayload(ctx context.Context, record *archive.PayloadRecord) (string, error)
}

// ServiceConfig holds the addresses and names used in outgoing messages.
type ServiceConfig struct {
	AppName      string
	SupportEmail string
	// ConfirmationTemplateID is the dynamic template for booking
	// confirmations. Empty disables them.
	ConfirmationTemplateID string
	// Location is the business timezone for dates shown to people.
	Location *time.Location
}

// ServiceDeps are the outbound collaborators. Any of them may be nil; the
// matching side effect is then skipped.
type ServiceDeps struct {
	Email     EmailSender
	Templates TemplateMailer
	CRM       CRM
	Chat      Chat
	Webhook   CancellationWebhook
	Archive   PayloadArchiver
}

// Service executes side-effect jobs.
type Service struct {
	deps   ServiceDeps
	cfg    ServiceConfig
	logger *logging.Logger
}

// NewService creates a notification service.
func NewService(deps ServiceDeps, cfg ServiceConfig, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.AppName == "" {
		cfg.AppName = "booking-reconciler"
	}
	return &Service{deps: deps, cfg: cfg, logger: logger}
}

var _ JobHandler = (*Service)(nil)

// Handle dispatches a job by type.
func (s *Service) Handle(ctx context.Context, job Job) error {
	switch job.Type {
	case JobCancelledAfterCompletion:
		return s.cancelledAfterCompletion(ctx, job)
	case JobCRMSync:
		return s.syncCRM(ctx, job)
	case JobBookingConfirmation:
		return s.sendConfirmation(ctx, job)
	case JobOperatorAlert:
		return s.alertOperator(ctx, job)
	default:
		return fmt.Errorf("notify: unknown job type %q", job.Type)
	}
}

// cancelledAfterCompletion fans out to chat, the notification webhook and the
// operator mailbox. Each leg runs even if an earlier one failed.
func (s *Service) cancelledAfterCompletion(ctx context.Context, job Job) error {
	rec := cancelledRecord(job)
	if rec == nil {
		return fmt.Errorf("notify: %s job %s has no record", job.Type, job.ID)
	}
	var errs []error

	if s.deps.Chat != nil {
		if err := s.deps.Chat.PostBlocks(ctx, cancelledAfterCompletionBlocks(s.cfg.AppName, rec)); err != nil {
			errs = append(errs, fmt.Errorf("notify: chat: %w", err))
		}
	}

	if s.deps.Webhook != nil {
		status, err := s.deps.Webhook.Notify(ctx, s.cancellationBody(job, rec))
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("notify: cancellation webhook: %w", err))
		case status < 200 || status > 299:
			s.logger.Warn("cancellation webhook rejected notification",
				"status", status, "external_id", job.ExternalID)
			errs = append(errs, s.sendSupport(ctx, job,
				fmt.Sprintf("%s: Cancellation notification failed", s.cfg.AppName),
				fmt.Sprintf("Notification webhook returned %d for cancelled booking %d.", status, job.ExternalID)))
		}
	}

	body := fmt.Sprintf("Booking %d (%s) was cancelled after it had been completed.\n\nCustomer: %s\nEmail: %s\nService date: %s\nCancelled by: %s\nReason: %s\n",
		job.ExternalID, job.Category, deref(rec.Name), deref(rec.Email),
		s.formatDate(rec.ServiceDate), deref(rec.CancelledBy), deref(rec.CancellationReason))
	errs = append(errs, s.sendSupport(ctx, job,
		fmt.Sprintf("%s: Completed booking %d cancelled", s.cfg.AppName, job.ExternalID), body))

	return errors.Join(errs...)
}

// cancellationBody is the original webhook payload plus the app name and the
// cancellation date taken from updated_at.
func (s *Service) cancellationBody(job Job, rec *bookings.Record) map[string]any {
	body := map[string]any{}
	if len(job.Payload) > 0 {
		if err := json.Unmarshal(job.Payload, &body); err != nil || body == nil {
			body = map[string]any{"payload": string(job.Payload)}
		}
	} else {
		body["booking_id"] = job.ExternalID
	}
	body["app_name"] = s.cfg.AppName
	when := rec.UpdatedAt
	if when == nil {
		when = rec.CancellationDatetime
	}
	body["cancellation_date"] = s.formatDate(when)
	return body
}

// cancelledRecord falls back to the prior row for jobs queued without one.
func cancelledRecord(job Job) *bookings.Record {
	if job.Record != nil {
		return job.Record
	}
	return job.Prior
}

func (s *Service) syncCRM(ctx context.Context, job Job) error {
	if s.deps.CRM == nil {
		s.logger.Debug("notify: crm not configured, skipping", "external_id", job.ExternalID)
		return nil
	}
	rec := job.Record
	if rec == nil || !hasText(rec.Email) {
		return nil
	}
	email := strings.TrimSpace(*rec.Email)

	exists, err := s.deps.CRM.Exists(ctx, email)
	if err != nil {
		return crmError("lookup", err)
	}
	if exists {
		s.logger.Info("crm profile already exists", "external_id", job.ExternalID)
		return nil
	}
	if err := s.deps.CRM.Create(ctx, deref(rec.ServiceCategory), profileFor(rec)); err != nil {
		return crmError("create", err)
	}
	s.logger.Info("crm profile created", "external_id", job.ExternalID, "service_category", deref(rec.ServiceCategory))
	return nil
}

func (s *Service) sendConfirmation(ctx context.Context, job Job) error {
	if s.deps.Templates == nil || s.cfg.ConfirmationTemplateID == "" {
		s.logger.Debug("notify: confirmation template not configured, skipping", "external_id", job.ExternalID)
		return nil
	}
	rec := job.Record
	if rec == nil || !hasText(rec.Email) {
		return nil
	}
	data := map[string]any{
		"booking_id":       rec.ExternalID,
		"first_name":       deref(rec.FirstName),
		"service_category": deref(rec.ServiceCategory),
		"service_date":     s.formatDate(rec.ServiceDate),
		"service_time":     deref(rec.ServiceTime),
		"frequency":        deref(rec.Frequency),
		"address":          deref(rec.Address),
		"location":         deref(rec.Location),
	}
	if rec.FinalPrice != nil {
		data["final_price"] = normalize.CentsToDollarString(*rec.FinalPrice)
	}
	return s.deps.Templates.SendTemplate(ctx, TemplateMessage{
		To:         strings.TrimSpace(*rec.Email),
		ToName:     deref(rec.Name),
		TemplateID: s.cfg.ConfirmationTemplateID,
		Data:       data,
	})
}

// alertOperator archives the payload then mails the error address. The mail
// goes out even when archival fails.
func (s *Service) alertOperator(ctx context.Context, job Job) error {
	var errs []error
	key := ""
	if s.deps.Archive != nil {
		k, err := s.deps.Archive.ArchivePayload(ctx, &archive.PayloadRecord{
			AlertID:    job.ID,
			Category:   job.Category,
			Kind:       string(job.Kind),
			ExternalID: job.ExternalID,
			Reason:     job.Reason,
			Payload:    job.Payload,
		})
		if err != nil {
			errs = append(errs, err)
		}
		key = k
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Webhook %s/%s for id %d could not be applied.\n\n", job.Category, job.Kind, job.ExternalID)
	fmt.Fprintf(&b, "Reason: %s\n", job.Reason)
	if key != "" {
		fmt.Fprintf(&b, "Archived payload: %s\n", key)
	}
	if len(job.Payload) > 0 {
		fmt.Fprintf(&b, "\nPayload:\n%s\n", truncate(string(job.Payload), 8000))
	}

	if s.deps.Email == nil || s.cfg.SupportEmail == "" {
		s.logger.Error("operator alert not mailed, no sender configured",
			"external_id", job.ExternalID, "reason", job.Reason, "archive_key", key)
		return errors.Join(errs...)
	}
	err := s.deps.Email.Send(ctx, EmailMessage{
		To:      errorAddress(s.cfg.SupportEmail),
		Subject: fmt.Sprintf("%s: Error has occurred", s.cfg.AppName),
		Body:    b.String(),
		Tags:    jobTags(job),
	})
	if err != nil {
		errs = append(errs, fmt.Errorf("notify: alert email: %w", err))
	}
	return errors.Join(errs...)
}

func (s *Service) sendSupport(ctx context.Context, job Job, subject, body string) error {
	if s.deps.Email == nil || s.cfg.SupportEmail == "" {
		s.logger.Debug("notify: support email not configured, skipping", "subject", subject)
		return nil
	}
	if err := s.deps.Email.Send(ctx, EmailMessage{To: s.cfg.SupportEmail, Subject: subject, Body: body, Tags: jobTags(job)}); err != nil {
		return fmt.Errorf("notify: support email: %w", err)
	}
	return nil
}

func (s *Service) formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.In(s.cfg.Location).Format("02/01/2006")
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

func jobTags(job Job) map[string]string {
	tags := map[string]string{"job_type": string(job.Type)}
	if job.ExternalID != 0 {
		tags["booking_id"] = strconv.FormatInt(job.ExternalID, 10)
	}
	if job.Category != "" {
		tags["category"] = job.Category
	}
	return tags
}

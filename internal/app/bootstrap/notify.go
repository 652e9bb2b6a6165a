package bootstrap

import (
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/wolfman30/booking-reconciler/internal/archive"
	appconfig "github.com/wolfman30/booking-reconciler/internal/config"
	"github.com/wolfman30/booking-reconciler/internal/notify"
	"github.com/wolfman30/booking-reconciler/internal/outbound"
	"github.com/wolfman30/booking-reconciler/pkg/logging"
)

// BuildQueue returns the side-effect queue. SQS is used only when a queue URL
// and AWS config are present and the memory queue is not forced.
func BuildQueue(cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) notify.Queue {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.UseMemoryQueue || strings.TrimSpace(cfg.SQSQueueURL) == "" || awsCfg == nil {
		logger.Info("using in-memory side-effect queue")
		return notify.NewMemoryQueue(1024)
	}
	logger.Info("using SQS side-effect queue", "queue_url", cfg.SQSQueueURL)
	return notify.NewSQSQueue(sqs.NewFromConfig(*awsCfg), cfg.SQSQueueURL)
}

// BuildEmailSender selects the operator email provider. Misconfigured
// providers fall back to the stub so alerts still reach the logs.
func BuildEmailSender(cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) notify.EmailSender {
	if logger == nil {
		logger = logging.Default()
	}
	switch cfg.EmailProvider {
	case "sendgrid":
		if sender := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger); sender != nil {
			return sender
		}
		logger.Warn("EMAIL_PROVIDER=sendgrid but SENDGRID_API_KEY is empty; using stub sender")
	case "ses":
		if awsCfg != nil && cfg.SESFromEmail != "" {
			return notify.NewSESSender(sesv2.NewFromConfig(*awsCfg), notify.SESConfig{
				FromEmail:        cfg.SESFromEmail,
				FromName:         cfg.SendGridFromName,
				ConfigurationSet: cfg.SESConfigurationSet,
			}, logger)
		}
		logger.Warn("EMAIL_PROVIDER=ses but SES_FROM_EMAIL or AWS config missing; using stub sender")
	case "", "stub":
	default:
		logger.Warn("unknown EMAIL_PROVIDER, using stub sender", "provider", cfg.EmailProvider)
	}
	return notify.NewStubEmailSender(logger)
}

// BuildTemplateMailer returns the transactional mailer for confirmations.
func BuildTemplateMailer(cfg *appconfig.Config, logger *logging.Logger) notify.TemplateMailer {
	if m := notify.NewSendGridTemplateMailer(notify.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.SendGridFromEmail,
		FromName:  cfg.SendGridFromName,
	}, logger); m != nil {
		return m
	}
	return notify.NewStubTemplateMailer(logger)
}

// BuildArchiveStore returns the S3 payload archive, or nil without a bucket.
func BuildArchiveStore(cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) *archive.Store {
	if awsCfg == nil || strings.TrimSpace(cfg.ArchiveBucket) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	client := s3.NewFromConfig(*awsCfg, func(o *s3.Options) {
		// LocalStack serves buckets on the path, not a subdomain.
		o.UsePathStyle = cfg.AWSEndpointOverride != ""
	})
	return archive.NewStore(client, cfg.ArchiveBucket, logger.Logger)
}

// BuildArchive is BuildArchiveStore as the notify service's archiver.
func BuildArchive(cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) notify.PayloadArchiver {
	if store := BuildArchiveStore(cfg, awsCfg, logger); store != nil {
		return store
	}
	return nil
}

// BuildOutboundClient wires the shared retrying HTTP client for one
// collaborator. It returns nil when baseURL is empty.
func BuildOutboundClient(cfg *appconfig.Config, name, baseURL string, header http.Header, logger *logging.Logger) *outbound.Client {
	if strings.TrimSpace(baseURL) == "" {
		return nil
	}
	return outbound.New(outbound.Config{
		Name:       name,
		BaseURL:    baseURL,
		Header:     header,
		Timeout:    cfg.OutboundTimeout,
		MaxRetries: cfg.OutboundMaxRetries,
		Backoff:    cfg.OutboundBackoff,
		Logger:     logger,
	})
}

func bearer(token string) http.Header {
	if token == "" {
		return nil
	}
	return http.Header{"Authorization": []string{"Bearer " + token}}
}

// BuildNotifyService wires the job handler. Collaborators without
// configuration are left nil and their side effect is skipped.
func BuildNotifyService(cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) *notify.Service {
	if logger == nil {
		logger = logging.Default()
	}
	deps := notify.ServiceDeps{
		Email:     BuildEmailSender(cfg, awsCfg, logger),
		Templates: BuildTemplateMailer(cfg, logger),
		Archive:   BuildArchive(cfg, awsCfg, logger),
	}
	if c := BuildOutboundClient(cfg, "crm", cfg.CRMURL, bearer(cfg.CRMAPIKey), logger); c != nil {
		deps.CRM = notify.NewCRMClient(c)
	}
	if c := BuildOutboundClient(cfg, "slack", cfg.SlackWebhookURL, bearer(cfg.SlackToken), logger); c != nil {
		deps.Chat = notify.NewSlackWebhook(c)
	}
	if c := BuildOutboundClient(cfg, "notification", cfg.NotificationURL, nil, logger); c != nil {
		deps.Webhook = notify.NewNotificationWebhook(c)
	}

	return notify.NewService(deps, notify.ServiceConfig{
		AppName:                cfg.AppName,
		SupportEmail:           cfg.SupportEmail,
		ConfirmationTemplateID: cfg.TemplateIDConfirmation,
		Location:               LoadLocation(cfg.LocalTimezone, logger),
	}, logger)
}

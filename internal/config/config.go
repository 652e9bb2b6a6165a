package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port     string
	AppName  string
	Env      string
	LogLevel string

	DatabaseURL string

	// Inbound auth: a static bearer key, an HMAC JWT secret, or both.
	APIKey    string
	JWTSecret string

	RateLimitRPS       float64
	RateLimitBurst     int
	CORSAllowedOrigins []string

	LocalTimezone          string
	ServiceCategoryDefault string
	CRMCategories          []string

	RedisAddr        string
	RedisPassword    string
	RedisTLS         bool
	LocationCacheTTL time.Duration
	Zip2LocationURL  string

	OutboundTimeout    time.Duration
	OutboundMaxRetries int
	OutboundBackoff    time.Duration

	CRMURL          string
	CRMAPIKey       string
	SlackWebhookURL string
	SlackToken      string
	NotificationURL string
	SupportEmail    string

	EmailProvider          string
	SendGridAPIKey         string
	SendGridFromEmail      string
	SendGridFromName       string
	TemplateIDConfirmation string
	SESFromEmail           string
	SESConfigurationSet    string

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
	SQSQueueURL         string
	UseMemoryQueue      bool
	WorkerCount         int
	JobTimeout          time.Duration
	ArchiveBucket       string

	// CustomFields maps destination attribute names to the opaque upstream
	// form-field ids that carry them.
	CustomFields map[string]string
}

// customFieldEnv lists the env keys holding upstream ids per attribute.
var customFieldEnv = map[string]string{
	"lead_source":             "CUSTOM_SOURCE",
	"booked_by":               "CUSTOM_BOOKED_BY",
	"invoice_tobe_emailed":    "CUSTOM_EMAIL_INVOICE",
	"invoice_name":            "CUSTOM_INVOICE_NAME",
	"ndis_who_pays":           "CUSTOM_WHO_PAYS",
	"invoice_email":           "CUSTOM_INVOICE_EMAIL_ADDRESS",
	"last_service":            "CUSTOM_LAST_SERVICE",
	"invoice_reference":       "CUSTOM_INVOICE_REFERENCE",
	"invoice_reference_extra": "CUSTOM_INVOICE_REFERENCE_EXTRA",
	"ndis_reference":          "CUSTOM_NDIS_NUMBER",
	"flexible_date_time":      "CUSTOM_FLEXIBLE",
	"hourly_notes":            "CUSTOM_HOURLY_NOTES",
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		AppName:  getEnv("APP_NAME", "booking-reconciler"),
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		APIKey:    getEnv("API_KEY", ""),
		JWTSecret: getEnv("JWT_SECRET", ""),

		RateLimitRPS:       getEnvAsFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst:     getEnvAsInt("RATE_LIMIT_BURST", 40),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", nil),

		LocalTimezone:          getEnv("TZ_LOCALTIME", "Australia/Brisbane"),
		ServiceCategoryDefault: getEnv("SERVICE_CATEGORY_DEFAULT", "House Clean"),
		CRMCategories:          getEnvAsList("CRM_CATEGORIES", []string{"Bond Clean", "House Clean"}),

		RedisAddr:        getEnv("REDIS_ADDR", ""),
		RedisPassword:    getEnv("REDIS_PASSWORD", ""),
		RedisTLS:         getEnvAsBool("REDIS_TLS", false),
		LocationCacheTTL: getEnvAsDuration("LOCATION_CACHE_TTL", time.Hour),
		Zip2LocationURL:  getEnv("ZIP2LOCATION_URL", ""),

		OutboundTimeout:    getEnvAsDuration("OUTBOUND_TIMEOUT", 10*time.Second),
		OutboundMaxRetries: getEnvAsInt("OUTBOUND_MAX_RETRIES", 3),
		OutboundBackoff:    getEnvAsDuration("OUTBOUND_BACKOFF", 500*time.Millisecond),

		CRMURL:          getEnv("CRM_URL", ""),
		CRMAPIKey:       getEnv("CRM_API_KEY", ""),
		SlackWebhookURL: getEnv("SLACK_WEBHOOK_URL", ""),
		SlackToken:      getEnv("SLACK_TOKEN", ""),
		NotificationURL: getEnv("NOTIFICATION_URL", ""),
		SupportEmail:    getEnv("SUPPORT_EMAIL", ""),

		EmailProvider:          strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "stub"))),
		SendGridAPIKey:         getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail:      getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:       getEnv("SENDGRID_FROM_NAME", "Bookings"),
		TemplateIDConfirmation: getEnv("TEMPLATE_ID_CONFIRMATION", ""),
		SESFromEmail:           getEnv("SES_FROM_EMAIL", ""),
		SESConfigurationSet:    getEnv("SES_CONFIGURATION_SET", ""),

		AWSRegion:           getEnv("AWS_REGION", "ap-southeast-2"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		SQSQueueURL:         getEnv("SQS_QUEUE_URL", ""),
		UseMemoryQueue:      getEnvAsBool("USE_MEMORY_QUEUE", true),
		WorkerCount:         getEnvAsInt("WORKER_COUNT", 2),
		JobTimeout:          getEnvAsDuration("JOB_TIMEOUT", 30*time.Second),
		ArchiveBucket:       getEnv("ARCHIVE_BUCKET", ""),

		CustomFields: loadCustomFields(),
	}
}

func loadCustomFields() map[string]string {
	fields := make(map[string]string, len(customFieldEnv))
	for attr, key := range customFieldEnv {
		if id := strings.TrimSpace(os.Getenv(key)); id != "" {
			fields[attr] = id
		}
	}
	return fields
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma separated variable, dropping blank entries.
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

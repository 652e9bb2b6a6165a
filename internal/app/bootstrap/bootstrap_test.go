package bootstrap

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/booking-reconciler/internal/archive"
	"github.com/wolfman30/booking-reconciler/internal/bookings"
	appconfig "github.com/wolfman30/booking-reconciler/internal/config"
	"github.com/wolfman30/booking-reconciler/internal/normalize"
	"github.com/wolfman30/booking-reconciler/internal/notify"
	"github.com/wolfman30/booking-reconciler/internal/observability/metrics"
	"github.com/wolfman30/booking-reconciler/internal/webhooks"
	"github.com/wolfman30/booking-reconciler/pkg/logging"
)

func testConfig() *appconfig.Config {
	return &appconfig.Config{
		AppName:                "booking-reconciler",
		LocalTimezone:          "UTC",
		ServiceCategoryDefault: "House Clean",
		CRMCategories:          []string{"House Clean"},
		LocationCacheTTL:       time.Hour,
		OutboundTimeout:        time.Second,
		OutboundBackoff:        time.Millisecond,
		UseMemoryQueue:         true,
		EmailProvider:          "stub",
	}
}

func TestBuildRedisClient(t *testing.T) {
	logger := logging.Discard()
	assert.Nil(t, BuildRedisClient(context.Background(), testConfig(), logger, true))

	mr, err := miniredis.Run()
	require.NoError(t, err)
	cfg := testConfig()
	cfg.RedisAddr = mr.Addr()
	client := BuildRedisClient(context.Background(), cfg, logger, true)
	require.NotNil(t, client)
	defer client.Close()

	mr.Close()
	assert.Nil(t, BuildRedisClient(context.Background(), cfg, logger, true), "unreachable redis is disabled")
}

func TestConnectPostgresPoolEmptyURLReturnsNil(t *testing.T) {
	assert.Nil(t, ConnectPostgresPool(context.Background(), "", logging.Discard()))
	assert.Nil(t, ConnectPostgresPool(context.Background(), "not a url", logging.Discard()))
}

func TestLoadLocation(t *testing.T) {
	logger := logging.Discard()
	assert.Equal(t, time.UTC, LoadLocation("", logger))
	assert.Equal(t, time.UTC, LoadLocation("Mars/Olympus", logger))
}

func TestBuildQueue(t *testing.T) {
	logger := logging.Discard()
	cfg := testConfig()
	_, ok := BuildQueue(cfg, &aws.Config{}, logger).(*notify.MemoryQueue)
	assert.True(t, ok)

	cfg.UseMemoryQueue = false
	cfg.SQSQueueURL = "http://localhost:4566/000000000000/jobs"
	_, ok = BuildQueue(cfg, &aws.Config{Region: "ap-southeast-2"}, logger).(*notify.SQSQueue)
	assert.True(t, ok)

	_, ok = BuildQueue(cfg, nil, logger).(*notify.MemoryQueue)
	assert.True(t, ok, "no aws config falls back to memory")
}

func TestBuildEmailSender(t *testing.T) {
	logger := logging.Discard()
	tests := []struct {
		name     string
		mutate   func(*appconfig.Config)
		awsCfg   *aws.Config
		wantType any
	}{
		{name: "stub by default", mutate: func(*appconfig.Config) {}, wantType: &notify.StubEmailSender{}},
		{name: "sendgrid", mutate: func(c *appconfig.Config) {
			c.EmailProvider = "sendgrid"
			c.SendGridAPIKey = "SG.test"
		}, wantType: &notify.SendGridSender{}},
		{name: "sendgrid without key", mutate: func(c *appconfig.Config) {
			c.EmailProvider = "sendgrid"
		}, wantType: &notify.StubEmailSender{}},
		{name: "ses", mutate: func(c *appconfig.Config) {
			c.EmailProvider = "ses"
			c.SESFromEmail = "ops@example.com"
		}, awsCfg: &aws.Config{Region: "ap-southeast-2"}, wantType: &notify.SESSender{}},
		{name: "ses without aws", mutate: func(c *appconfig.Config) {
			c.EmailProvider = "ses"
			c.SESFromEmail = "ops@example.com"
		}, wantType: &notify.StubEmailSender{}},
		{name: "unknown", mutate: func(c *appconfig.Config) {
			c.EmailProvider = "pigeon"
		}, wantType: &notify.StubEmailSender{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(cfg)
			assert.IsType(t, tt.wantType, BuildEmailSender(cfg, tt.awsCfg, logger))
		})
	}
}

func TestBuildArchive(t *testing.T) {
	logger := logging.Discard()
	cfg := testConfig()
	assert.Nil(t, BuildArchive(cfg, &aws.Config{}, logger))

	assert.Nil(t, BuildArchiveStore(cfg, &aws.Config{}, logger))

	cfg.ArchiveBucket = "alerts"
	assert.IsType(t, &archive.Store{}, BuildArchive(cfg, &aws.Config{Region: "ap-southeast-2"}, logger))
	assert.True(t, BuildArchiveStore(cfg, &aws.Config{Region: "ap-southeast-2"}, logger).Enabled())
}

func TestBuildNotifyService(t *testing.T) {
	cfg := testConfig()
	cfg.CRMURL = "http://crm.invalid"
	svc := BuildNotifyService(cfg, nil, logging.Discard())
	require.NotNil(t, svc)
}

func TestBuildProcessorInMemory(t *testing.T) {
	lookups := 0
	lookupSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lookups++
		assert.Equal(t, "2000", r.URL.Query().Get("postcode"))
		_, _ = w.Write([]byte(`{"title": "Sydney CBD"}`))
	}))
	defer lookupSrv.Close()

	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.Zip2LocationURL = lookupSrv.URL
	cfg.RedisAddr = mr.Addr()
	logger := logging.Discard()
	redisClient := BuildRedisClient(context.Background(), cfg, logger, true)
	require.NotNil(t, redisClient)
	defer redisClient.Close()

	queue := notify.NewMemoryQueue(8)
	proc := BuildProcessor(ProcessorDeps{
		Config:  cfg,
		Redis:   redisClient,
		Queue:   queue,
		Metrics: metrics.NewReconcilerMetrics(prometheus.NewRegistry()),
		Logger:  logger,
	})

	for _, id := range []int64{1, 2} {
		body := []byte(`{"id": ` + strconv.FormatInt(id, 10) + `, "updated_at": "2024-03-01T09:00:00Z", "zip": "2000",
			"email": "jo@example.com", "frequency": "1 Time Service"}`)
		res := proc.ProcessBooking(context.Background(), bookings.CategoryBooking, normalize.KindNew, body)
		require.Equal(t, webhooks.StatusCommitted, res.Status, res.Err)
		require.NotNil(t, res.Outcome.Change.Record.Location)
		assert.Equal(t, "Sydney CBD", *res.Outcome.Change.Record.Location)
	}
	assert.Equal(t, 1, lookups, "second resolve is served from redis")
	assert.True(t, mr.Exists("location:2000"))
	assert.GreaterOrEqual(t, queue.Len(), 2, "each new one-off booking queues a confirmation")
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/wolfman30/booking-reconciler/cmd/mainconfig"
	"github.com/wolfman30/booking-reconciler/internal/app/bootstrap"
	"github.com/wolfman30/booking-reconciler/internal/archive"
	"github.com/wolfman30/booking-reconciler/internal/bookings"
	appconfig "github.com/wolfman30/booking-reconciler/internal/config"
	"github.com/wolfman30/booking-reconciler/internal/normalize"
	"github.com/wolfman30/booking-reconciler/internal/outbound"
	"github.com/wolfman30/booking-reconciler/pkg/logging"
)

// replay re-posts an archived alert payload to the webhook route it came
// from, once the cause of the alert has been fixed.
//
//	replay -key webhooks/v1/failed/2024/03/01/booking/42-<alert>.json [-api http://localhost:8080]
func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	key := flag.String("key", "", "archive key from the alert email")
	api := flag.String("api", "http://localhost:"+cfg.Port, "API base URL")
	flag.Parse()

	ctx := context.Background()
	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}
	store := bootstrap.BuildArchiveStore(cfg, &awsCfg, logger)
	if store == nil {
		logger.Error("replay needs ARCHIVE_BUCKET")
		os.Exit(1)
	}

	header := http.Header{}
	if cfg.APIKey != "" {
		header.Set("Authorization", "Bearer "+cfg.APIKey)
	}
	client := outbound.New(outbound.Config{
		Name:       "replay",
		BaseURL:    strings.TrimRight(*api, "/"),
		Header:     header,
		Timeout:    cfg.OutboundTimeout,
		MaxRetries: cfg.OutboundMaxRetries,
		Backoff:    cfg.OutboundBackoff,
		Logger:     logger,
	})

	if err := replay(ctx, store, client, *key, logger); err != nil {
		logger.Error("replay failed", "key", *key, "error", err)
		os.Exit(1)
	}
}

type payloadFetcher interface {
	Fetch(ctx context.Context, key string) (*archive.PayloadRecord, error)
}

func replay(ctx context.Context, fetcher payloadFetcher, client *outbound.Client, key string, logger *logging.Logger) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("-key is required")
	}
	record, err := fetcher.Fetch(ctx, key)
	if err != nil {
		return err
	}
	if len(record.Payload) == 0 {
		return fmt.Errorf("archived record %s has no payload", key)
	}
	path, err := routeFor(record.Category, record.Kind)
	if err != nil {
		return err
	}

	resp, err := client.Expect(ctx, outbound.Request{
		Method: http.MethodPost,
		Path:   path,
		JSON:   record.Payload,
	})
	if err != nil {
		return err
	}
	logger.Info("payload replayed", "path", path, "external_id", record.ExternalID,
		"alert_id", record.AlertID, "response", strings.TrimSpace(string(resp.Body)))
	return nil
}

// routeFor maps an archived category and kind back onto the webhook route.
// Customer alerts carry no category.
func routeFor(category, kind string) (string, error) {
	k, ok := normalize.ParseKind(kind)
	if !ok {
		return "", fmt.Errorf("unknown kind %q", kind)
	}
	if category == "" {
		return "/customer/" + string(k), nil
	}
	c, ok := bookings.ParseCategory(category)
	if !ok {
		return "", fmt.Errorf("unknown category %q", category)
	}
	switch c {
	case bookings.CategoryNDISReservation:
		return "/reservation/ndis/" + string(k), nil
	case bookings.CategorySalesReservation:
		return "/reservation/sales/" + string(k), nil
	default:
		return "/booking/" + string(k), nil
	}
}

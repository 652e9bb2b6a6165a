package archive

import (
	"encoding/json"
	"time"
)

// PayloadRecord is a webhook payload kept for replay after an operator
// alert.
type PayloadRecord struct {
	Version    string          `json:"version"` // "1.0"
	AlertID    string          `json:"alert_id"`
	Category   string          `json:"category"`
	Kind       string          `json:"kind"`
	ExternalID int64           `json:"external_id"`
	Reason     string          `json:"reason"`
	ArchivedAt time.Time       `json:"archived_at"`
	Payload    json.RawMessage `json:"payload"`
}

// ManifestEntry is one JSONL line in the monthly manifest file.
type ManifestEntry struct {
	AlertID    string `json:"alert_id"`
	S3Key      string `json:"s3_key"`
	Category   string `json:"category"`
	Kind       string `json:"kind"`
	ExternalID int64  `json:"external_id"`
	Reason     string `json:"reason"`
	ArchivedAt string `json:"archived_at"`
}

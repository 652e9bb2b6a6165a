// Package main replays a booking lifecycle against a running reconciler and
// checks each acknowledgement.
//
// Usage:
//
//	go run ./scripts/smoke --api=http://localhost:8080 [--key=KEY | --secret=JWT_SECRET] [--id=N]
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	flagAPI    string
	flagKey    string
	flagSecret string
	flagID     int64
	token      string
)

func init() {
	flag.StringVar(&flagAPI, "api", "http://localhost:8080", "API base URL")
	flag.StringVar(&flagKey, "key", os.Getenv("API_KEY"), "Static API key")
	flag.StringVar(&flagSecret, "secret", os.Getenv("JWT_SECRET"), "JWT secret, used when no key is given")
	flag.Int64Var(&flagID, "id", time.Now().Unix(), "Booking id to create")
}

type step struct {
	name       string
	method     string
	path       string
	body       map[string]any
	wantCode   int
	wantStatus string
	wantAction string
}

type result struct {
	step   step
	pass   bool
	detail string
}

func main() {
	flag.Parse()
	var err error
	token, err = bearerToken()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	created := time.Now().UTC().Truncate(time.Second)
	booking := func(updated time.Time, extra map[string]any) map[string]any {
		body := map[string]any{
			"id":               flagID,
			"created_at":       created.Format(time.RFC3339),
			"updated_at":       updated.Format(time.RFC3339),
			"service_date":     created.Format("2006-01-02"),
			"service_category": "House Clean",
			"frequency":        "1 Time Service",
			"final_price":      "120.50",
			"email":            "smoke@example.com",
			"first_name":       "Smoke",
			"last_name":        "Test",
		}
		for k, v := range extra {
			body[k] = v
		}
		return body
	}

	steps := []step{
		{name: "create", method: http.MethodPost, path: "/booking/new",
			body: booking(created, nil), wantCode: http.StatusOK, wantStatus: "committed", wantAction: "created"},
		{name: "redelivery reapplies", method: http.MethodPost, path: "/booking/new",
			body: booking(created, nil), wantCode: http.StatusOK, wantStatus: "committed", wantAction: "updated"},
		{name: "complete", method: http.MethodPost, path: "/booking/completed",
			body: booking(created.Add(time.Minute), nil), wantCode: http.StatusOK, wantStatus: "committed"},
		{name: "older update is skipped", method: http.MethodPost, path: "/booking/updated",
			body: booking(created, nil), wantCode: http.StatusOK, wantStatus: "committed", wantAction: "stale"},
		{name: "read back", method: http.MethodGet, path: fmt.Sprintf("/booking/%d", flagID), wantCode: http.StatusOK},
		{name: "cancel", method: http.MethodPost, path: "/booking/cancellation",
			body: booking(created.Add(2*time.Minute), map[string]any{"cancellation_reason": "smoke test"}),
			wantCode: http.StatusOK, wantStatus: "committed"},
		{name: "missing id is rejected", method: http.MethodPost, path: "/booking/updated",
			body: map[string]any{"updated_at": created.Format(time.RFC3339)}, wantCode: http.StatusUnprocessableEntity, wantStatus: "invalid"},
	}

	var results []result
	for _, s := range steps {
		results = append(results, run(s))
	}

	failed := 0
	for _, r := range results {
		mark := "✅"
		if !r.pass {
			mark = "❌"
			failed++
		}
		fmt.Printf("%s %-30s %s\n", mark, r.step.name, r.detail)
	}
	if failed > 0 {
		fmt.Printf("\n❌ %d of %d steps failed\n", failed, len(results))
		os.Exit(1)
	}
	fmt.Println("\n✅ ALL STEPS PASSED")
}

func bearerToken() (string, error) {
	if flagKey != "" {
		return flagKey, nil
	}
	if flagSecret == "" {
		return "", fmt.Errorf("set --key or --secret")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   "smoke",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(flagSecret))
}

func run(s step) result {
	var body io.Reader
	if s.body != nil {
		raw, _ := json.Marshal(s.body)
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(s.method, flagAPI+s.path, body)
	if err != nil {
		return result{step: s, detail: err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return result{step: s, detail: err.Error()}
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != s.wantCode {
		return result{step: s, detail: fmt.Sprintf("got %d want %d: %s", resp.StatusCode, s.wantCode, raw)}
	}
	if s.wantStatus == "" {
		return result{step: s, pass: true, detail: fmt.Sprintf("%d", resp.StatusCode)}
	}
	var ack struct {
		Status string `json:"status"`
		Action string `json:"action"`
	}
	if err := json.Unmarshal(raw, &ack); err != nil {
		return result{step: s, detail: "undecodable ack: " + string(raw)}
	}
	if ack.Status != s.wantStatus {
		return result{step: s, detail: fmt.Sprintf("status %q want %q", ack.Status, s.wantStatus)}
	}
	if s.wantAction != "" && ack.Action != s.wantAction {
		return result{step: s, detail: fmt.Sprintf("action %q want %q", ack.Action, s.wantAction)}
	}
	return result{step: s, pass: true, detail: ack.Status + " " + ack.Action}
}

package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/booking-reconciler/internal/bookings"
	"github.com/wolfman30/booking-reconciler/internal/outbound"
	"github.com/wolfman30/booking-reconciler/pkg/logging"
)

func testClient(url string) *outbound.Client {
	return outbound.New(outbound.Config{
		Name:       "test",
		BaseURL:    url,
		MaxRetries: 0,
		Backoff:    time.Millisecond,
		Logger:     logging.Discard(),
	})
}

func TestCRMClient_Exists(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/profiles", r.URL.Path)
		switch r.URL.Query().Get("email") {
		case "known@example.com":
			_, _ = io.WriteString(w, `{"data":[{"id":"p1"}]}`)
		case "empty@example.com":
			_, _ = io.WriteString(w, `{"data":[]}`)
		case "gone@example.com":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	defer srv.Close()

	crm := NewCRMClient(testClient(srv.URL))
	ctx := context.Background()

	ok, err := crm.Exists(ctx, "known@example.com")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = crm.Exists(ctx, "empty@example.com")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = crm.Exists(ctx, "gone@example.com")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = crm.Exists(ctx, "bad")
	var statusErr *outbound.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadRequest, statusErr.StatusCode)
}

func TestCRMClient_CreateRoutesByCategory(t *testing.T) {
	var paths []string
	var last CRMProfile
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&last)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	crm := NewCRMClient(testClient(srv.URL))
	ctx := context.Background()

	require.NoError(t, crm.Create(ctx, "House Clean", CRMProfile{Email: "a@example.com"}))
	require.NoError(t, crm.Create(ctx, "Bond Clean", CRMProfile{Email: "b@example.com"}))
	assert.Equal(t, []string{"/house/new", "/bond/new"}, paths)
	assert.Equal(t, "b@example.com", last.Email)
}

func TestSlackWebhook_PostBlocks(t *testing.T) {
	var got struct {
		Blocks []Block `json:"blocks"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	name := "Jo Bloggs"
	blocks := cancelledAfterCompletionBlocks("Reconciler", &bookings.Record{ExternalID: 12, Name: &name})
	require.NoError(t, NewSlackWebhook(testClient(srv.URL)).PostBlocks(context.Background(), blocks))

	require.Len(t, got.Blocks, 3)
	assert.Equal(t, "divider", got.Blocks[1].Type)
	assert.Contains(t, got.Blocks[2].Text.Text, "Jo Bloggs")
}

func TestNotificationWebhook_ReturnsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	status, err := NewNotificationWebhook(testClient(srv.URL)).Notify(context.Background(), map[string]any{"id": 1})
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, status)
}

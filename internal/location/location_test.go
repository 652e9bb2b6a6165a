package location

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/booking-reconciler/internal/outbound"
	"github.com/wolfman30/booking-reconciler/pkg/logging"
)

type countingLookup struct {
	names map[string]string
	err   error
	calls int
}

func (l *countingLookup) Lookup(_ context.Context, postcode string) (string, bool, error) {
	l.calls++
	if l.err != nil {
		return "", false, l.err
	}
	name, ok := l.names[postcode]
	return name, ok, nil
}

func TestMemoryCacheExpires(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cache := NewMemoryCache(time.Hour, func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "4000", "Brisbane City"))
	name, ok, err := cache.Get(ctx, "4000")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Brisbane City", name)

	now = now.Add(time.Hour)
	has, err := cache.Has(ctx, "4000")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewRedisCache(client, time.Minute)
	ctx := context.Background()

	_, ok, err := cache.Get(ctx, "4000")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cache.Set(ctx, "4000", "Brisbane City"))
	name, ok, err := cache.Get(ctx, "4000")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Brisbane City", name)
	assert.Equal(t, time.Minute, mr.TTL("location:4000"))

	mr.FastForward(time.Minute)
	has, err := cache.Has(ctx, "4000")
	require.NoError(t, err)
	assert.False(t, has)
}

type resultCounter map[string]int

func (c resultCounter) ObserveLocationLookup(result string) { c[result]++ }

func TestResolverCachesOnlyHits(t *testing.T) {
	lookup := &countingLookup{names: map[string]string{"4000": "Brisbane City"}}
	results := resultCounter{}
	r := NewResolver(NewMemoryCache(time.Hour, nil), lookup, logging.Discard()).WithObserver(results)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		name, ok, err := r.Resolve(ctx, "4000")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "Brisbane City", name)
	}
	assert.Equal(t, 1, lookup.calls)

	for i := 0; i < 2; i++ {
		_, ok, err := r.Resolve(ctx, "9999")
		require.NoError(t, err)
		assert.False(t, ok)
	}
	assert.Equal(t, 3, lookup.calls)
	assert.Equal(t, resultCounter{"hit": 1, "cache_hit": 2, "miss": 2}, results)
}

func TestResolverPropagatesLookupErrors(t *testing.T) {
	lookup := &countingLookup{err: errors.New("down")}
	r := NewResolver(NewMemoryCache(time.Hour, nil), lookup, logging.Discard())

	_, ok, err := r.Resolve(context.Background(), "4000")
	assert.Error(t, err)
	assert.False(t, ok)
}

type blockingLookup struct {
	release chan struct{}
	calls   atomic.Int32
}

func (l *blockingLookup) Lookup(context.Context, string) (string, bool, error) {
	l.calls.Add(1)
	<-l.release
	return "Brisbane City", true, nil
}

func TestResolverCollapsesConcurrentLookups(t *testing.T) {
	lookup := &blockingLookup{release: make(chan struct{})}
	r := NewResolver(NewMemoryCache(time.Hour, nil), lookup, logging.Discard())

	var wg sync.WaitGroup
	names := make([]string, 5)
	for i := range names {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			names[i], _, _ = r.Resolve(context.Background(), "4000")
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(lookup.release)
	wg.Wait()

	assert.Equal(t, int32(1), lookup.calls.Load())
	for _, name := range names {
		assert.Equal(t, "Brisbane City", name)
	}
}

type contextLookup struct {
	release chan struct{}
	calls   atomic.Int32
}

func (l *contextLookup) Lookup(ctx context.Context, _ string) (string, bool, error) {
	l.calls.Add(1)
	select {
	case <-ctx.Done():
		return "", false, ctx.Err()
	case <-l.release:
		return "Brisbane City", true, nil
	}
}

func TestResolverCancelledCallerDoesNotFailOthers(t *testing.T) {
	lookup := &contextLookup{release: make(chan struct{})}
	cache := NewMemoryCache(time.Hour, nil)
	r := NewResolver(cache, lookup, logging.Discard())

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, _, err := r.Resolve(leaderCtx, "4000")
		leaderErr <- err
	}()
	require.Eventually(t, func() bool { return lookup.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	type result struct {
		name string
		ok   bool
		err  error
	}
	follower := make(chan result, 1)
	go func() {
		name, ok, err := r.Resolve(context.Background(), "4000")
		follower <- result{name, ok, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelLeader()
	assert.ErrorIs(t, <-leaderErr, context.Canceled)

	close(lookup.release)
	got := <-follower
	require.NoError(t, got.err)
	assert.True(t, got.ok)
	assert.Equal(t, "Brisbane City", got.name)
	assert.Equal(t, int32(1), lookup.calls.Load())

	name, ok, err := cache.Get(context.Background(), "4000")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Brisbane City", name)
}

func TestResolverSurvivesCacheOutage(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	mr.Close()

	lookup := &countingLookup{names: map[string]string{"4000": "Brisbane City"}}
	r := NewResolver(NewRedisCache(client, time.Minute), lookup, logging.Discard())

	name, ok, err := r.Resolve(context.Background(), "4000")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Brisbane City", name)
}

func TestHTTPLookup(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		switch r.URL.Query().Get("postcode") {
		case "4000":
			if n == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			_, _ = w.Write([]byte(`{"title": "Brisbane City"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	lookup := NewHTTPLookup(outbound.New(outbound.Config{
		Name:       "zip2location",
		BaseURL:    server.URL,
		MaxRetries: 3,
		Backoff:    time.Millisecond,
		Logger:     logging.Discard(),
	}))

	name, ok, err := lookup.Lookup(context.Background(), "4000")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Brisbane City", name)

	_, ok, err = lookup.Lookup(context.Background(), "0000")
	require.NoError(t, err)
	assert.False(t, ok)
}

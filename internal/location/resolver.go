// Package location resolves postcodes to location names through a
// cache-through lookup.
package location

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/wolfman30/booking-reconciler/internal/outbound"
	"github.com/wolfman30/booking-reconciler/pkg/logging"
)

// Lookup queries the authoritative postcode source.
type Lookup interface {
	Lookup(ctx context.Context, postcode string) (string, bool, error)
}

// HTTPLookup calls the zip2location service: GET ?postcode=X returning
// {"title": "..."} on a hit.
type HTTPLookup struct {
	client *outbound.Client
}

// NewHTTPLookup wraps an outbound client pointed at the lookup URL.
func NewHTTPLookup(client *outbound.Client) *HTTPLookup {
	return &HTTPLookup{client: client}
}

func (l *HTTPLookup) Lookup(ctx context.Context, postcode string) (string, bool, error) {
	resp, err := l.client.Do(ctx, outbound.Request{
		Method: http.MethodGet,
		Query:  url.Values{"postcode": []string{postcode}},
	})
	if err != nil {
		return "", false, err
	}
	if resp.StatusCode != http.StatusOK {
		return "", false, nil
	}
	var body struct {
		Title string `json:"title"`
	}
	if err := resp.Decode(&body); err != nil {
		return "", false, fmt.Errorf("location: %w", err)
	}
	title := strings.TrimSpace(body.Title)
	return title, title != "", nil
}

// Resolver answers from the cache first and only caches hits, so a postcode
// unknown today is looked up again next time.
type Resolver struct {
	cache    Cache
	lookup   Lookup
	logger   *logging.Logger
	observer Observer
	inflight singleflight.Group
}

// Observer counts lookups by result: cache_hit, hit, miss or error.
type Observer interface {
	ObserveLocationLookup(result string)
}

// WithObserver attaches a lookup observer.
func (r *Resolver) WithObserver(o Observer) *Resolver {
	r.observer = o
	return r
}

func (r *Resolver) observe(result string) {
	if r.observer != nil {
		r.observer.ObserveLocationLookup(result)
	}
}

// NewResolver creates a Resolver.
func NewResolver(cache Cache, lookup Lookup, logger *logging.Logger) *Resolver {
	if logger == nil {
		logger = logging.Default()
	}
	return &Resolver{cache: cache, lookup: lookup, logger: logger}
}

// Resolve returns the location for postcode. A cache failure degrades to a
// direct lookup.
func (r *Resolver) Resolve(ctx context.Context, postcode string) (string, bool, error) {
	postcode = strings.TrimSpace(postcode)
	if postcode == "" {
		return "", false, nil
	}
	name, ok, err := r.cache.Get(ctx, postcode)
	if err != nil {
		r.logger.Warn("location cache read failed", "postcode", postcode, "error", err)
	} else if ok {
		r.observe("cache_hit")
		return name, true, nil
	}

	// Concurrent webhooks for one postcode share a single upstream call. The
	// call outlives a cancelled caller so the others still get an answer.
	flight := r.inflight.DoChan(postcode, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flightTimeout)
		defer cancel()
		return r.fetch(fctx, postcode)
	})
	select {
	case <-ctx.Done():
		return "", false, ctx.Err()
	case res := <-flight:
		if res.Err != nil {
			return "", false, res.Err
		}
		found := res.Val.(lookupResult)
		return found.name, found.found, nil
	}
}

// flightTimeout bounds a shared lookup once it no longer follows any caller.
const flightTimeout = 30 * time.Second

type lookupResult struct {
	name  string
	found bool
}

func (r *Resolver) fetch(ctx context.Context, postcode string) (lookupResult, error) {
	name, ok, err := r.lookup.Lookup(ctx, postcode)
	switch {
	case err != nil:
		r.observe("error")
		return lookupResult{}, err
	case !ok:
		r.observe("miss")
		return lookupResult{}, nil
	}
	r.observe("hit")
	if err := r.cache.Set(ctx, postcode, name); err != nil {
		r.logger.Warn("location cache write failed", "postcode", postcode, "error", err)
	}
	return lookupResult{name: name, found: true}, nil
}

package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/booking-reconciler/internal/bookings"
	"github.com/wolfman30/booking-reconciler/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/booking-reconciler/internal/http/middleware"
	"github.com/wolfman30/booking-reconciler/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger   *logging.Logger
	AppName  string
	Webhooks *handlers.BookingWebhookHandler
	Search   *handlers.BookingSearchHandler

	// APIKey and JWTSecret guard every route except health and metrics.
	APIKey    string
	JWTSecret string

	// RateLimiter, when set, throttles the webhook routes.
	RateLimiter *httpmiddleware.RateLimiter

	MetricsHandler     http.Handler
	CORSAllowedOrigins []string
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Public endpoints
	r.Group(func(public chi.Router) {
		public.Get("/", handlers.Health(cfg.AppName))
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		// Preflights carry no credentials, so they are answered ahead of auth.
		if cfg.Search != nil && len(cfg.CORSAllowedOrigins) > 0 {
			preflight := public.With(httpmiddleware.ReadOnlyCORS(cfg.CORSAllowedOrigins))
			for _, path := range searchPaths {
				preflight.Options(path, noContent)
			}
		}
	})

	r.Group(func(protected chi.Router) {
		protected.Use(httpmiddleware.BearerAuth(cfg.APIKey, cfg.JWTSecret))

		if cfg.Webhooks != nil {
			protected.Group(func(wh chi.Router) {
				if cfg.RateLimiter != nil {
					wh.Use(cfg.RateLimiter.Middleware)
				}
				wh.Post("/booking/{kind}", cfg.Webhooks.HandleBooking(bookings.CategoryBooking))
				wh.Post("/reservation/ndis/{kind}", cfg.Webhooks.HandleBooking(bookings.CategoryNDISReservation))
				wh.Post("/reservation/sales/{kind}", cfg.Webhooks.HandleBooking(bookings.CategorySalesReservation))
				wh.Post("/customer/{kind}", cfg.Webhooks.HandleCustomer)
			})
		}

		if cfg.Search != nil {
			protected.Group(func(rd chi.Router) {
				if len(cfg.CORSAllowedOrigins) > 0 {
					rd.Use(httpmiddleware.ReadOnlyCORS(cfg.CORSAllowedOrigins))
				}
				rd.Get("/booking", cfg.Search.ListCreatedOn)
				rd.Get("/booking/{id}", cfg.Search.GetBooking)
				rd.Get("/booking/was_new_customer/{id}", cfg.Search.WasNewCustomer)
				rd.Get("/booking/search/completed", cfg.Search.CompletedBetween)
				rd.Get("/booking/service_date/search", cfg.Search.ByEmailInServiceWeek)
			})
		}
	})

	return r
}

var searchPaths = []string{
	"/booking",
	"/booking/{id}",
	"/booking/was_new_customer/{id}",
	"/booking/search/completed",
	"/booking/service_date/search",
}

func noContent(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

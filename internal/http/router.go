package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robertarktes/capacity-bookings/internal/idempotency"
	"github.com/robertarktes/capacity-bookings/internal/observability"
	"github.com/robertarktes/capacity-bookings/internal/rateLimit"
)

type RouterOptions struct {
	Logger observability.Logger
	Auth   *Authenticator
	// Limiter and Idempotency are optional.
	Limiter            *rateLimit.RateLimiter
	RateLimitPerMinute int
	Idempotency        *idempotency.Idempotency
}

func SetupRouter(h *Handlers, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(opts.Logger))
	r.Use(MetricsMiddleware)
	r.Use(TracingMiddleware)

	r.Get("/v1/healthz", h.Healthz)
	r.Get("/v1/readyz", h.Readyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(opts.Auth.Middleware)
		r.Use(RateLimitMiddleware(opts.Limiter, opts.RateLimitPerMinute))
		if opts.Idempotency != nil {
			r.Use(opts.Idempotency.Middleware(func(req *http.Request) string {
				if actor, ok := actorFrom(req.Context()); ok {
					return actor.String()
				}
				return "anonymous"
			}))
		}

		r.Post("/v1/offerings", h.PublishOffering)
		r.Get("/v1/offerings/{id}/availability", h.Availability)
		r.Post("/v1/bookings", h.CreateBooking)
		r.Get("/v1/bookings/{id}", h.GetBooking)
		r.Post("/v1/bookings/{id}/cancel", h.CancelBooking)
		r.Post("/v1/bookings/{id}/refund", h.MarkRefundIssued)
		r.Post("/v1/bookings/{id}/status", h.AdvanceStatus)
		r.Post("/v1/payments/callback", h.PaymentCallback)
	})

	return r
}

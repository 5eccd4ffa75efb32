package idempotency

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/robertarktes/capacity-bookings/internal/observability"
)

const (
	Header      = "Idempotency-Key"
	minKeyLen   = 16
	maxKeyLen   = 128
	lockTimeout = 30 * time.Second
)

// Response is a recorded reply that is replayed for a repeated key.
type Response struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type,omitempty"`
	Result      []byte `json:"result"`
}

type Store interface {
	Get(ctx context.Context, key string) (*Response, error)
	Set(ctx context.Context, key string, resp Response, ttl time.Duration) error
	Lock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

type Idempotency struct {
	store  Store
	ttl    time.Duration
	logger observability.Logger
}

func NewIdempotency(store Store, ttl time.Duration, logger observability.Logger) *Idempotency {
	return &Idempotency{store: store, ttl: ttl, logger: logger}
}

// Middleware replays the stored response for a POST carrying a key it has
// already answered. Requests without the header pass through untouched.
// Server errors are not recorded so the client can retry them.
func (i *Idempotency) Middleware(scope func(r *http.Request) string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(Header)
			if r.Method != http.MethodPost || key == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) < minKeyLen || len(key) > maxKeyLen {
				http.Error(w, "invalid Idempotency-Key", http.StatusBadRequest)
				return
			}
			full := r.Method + ":" + r.URL.Path + ":" + key
			if scope != nil {
				full = scope(r) + ":" + full
			}

			ctx := r.Context()
			if i.replayed(w, r, full) {
				return
			}

			locked, err := i.store.Lock(ctx, full, lockTimeout)
			if err != nil {
				i.logger.WithError(err).Error("idempotency lock failed")
				http.Error(w, "idempotency store unavailable", http.StatusServiceUnavailable)
				return
			}
			if !locked {
				http.Error(w, "request with this Idempotency-Key is in progress", http.StatusConflict)
				return
			}
			defer func() {
				if err := i.store.Unlock(context.WithoutCancel(ctx), full); err != nil {
					i.logger.WithError(err).Warn("idempotency unlock failed")
				}
			}()
			// A request holding the lock may have finished between the first
			// lookup and Lock.
			if i.replayed(w, r, full) {
				return
			}

			var body bytes.Buffer
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			ww.Tee(&body)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			if status >= http.StatusInternalServerError {
				return
			}
			resp := Response{Status: status, ContentType: ww.Header().Get("Content-Type"), Result: body.Bytes()}
			if err := i.store.Set(context.WithoutCancel(ctx), full, resp, i.ttl); err != nil {
				i.logger.WithError(err).Warn("idempotency record failed")
			}
		})
	}
}

// replayed writes the recorded response for key, if any, and reports whether
// the request has been answered.
func (i *Idempotency) replayed(w http.ResponseWriter, r *http.Request, key string) bool {
	existing, err := i.store.Get(r.Context(), key)
	if err != nil {
		i.logger.WithError(err).Error("idempotency lookup failed")
		http.Error(w, "idempotency store unavailable", http.StatusServiceUnavailable)
		return true
	}
	if existing == nil {
		return false
	}
	replay(w, existing)
	return true
}

func replay(w http.ResponseWriter, resp *Response) {
	if resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}
	w.Header().Set("Idempotent-Replayed", "true")
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Result)
}

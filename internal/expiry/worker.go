// Package expiry cancels pending bookings that were never paid so their
// inventory returns to sale.
package expiry

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/capacity-bookings/internal/booking"
	"github.com/robertarktes/capacity-bookings/internal/domain"
	"github.com/robertarktes/capacity-bookings/internal/observability"
)

type Lister interface {
	ExpiredPending(ctx context.Context, createdBefore time.Time, limit int) ([]uuid.UUID, error)
}

type Canceller interface {
	Cancel(ctx context.Context, bookingID uuid.UUID, reason string) (*booking.CancellationResult, error)
}

type Config struct {
	TTL      time.Duration
	Interval time.Duration
	Batch    int
	Retries  int
	Backoff  time.Duration
}

type Worker struct {
	lister    Lister
	canceller Canceller
	cfg       Config
	logger    observability.Logger
	now       func() time.Time
}

func NewWorker(lister Lister, canceller Canceller, cfg Config, logger observability.Logger) *Worker {
	if cfg.Batch <= 0 {
		cfg.Batch = 100
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	return &Worker{
		lister:    lister,
		canceller: canceller,
		cfg:       cfg,
		logger:    logger.WithField("component", "expiry"),
		now:       time.Now,
	}
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := w.Sweep(ctx)
			if err != nil {
				w.logger.WithError(err).Error("expiry sweep failed")
				continue
			}
			if n > 0 {
				w.logger.WithField("cancelled", n).Info("expired bookings cancelled")
			}
		}
	}
}

// Sweep cancels one batch of expired bookings and returns how many it
// cancelled. Bookings that were paid or changed since listing are skipped.
func (w *Worker) Sweep(ctx context.Context) (int, error) {
	ids, err := w.lister.ExpiredPending(ctx, w.now().Add(-w.cfg.TTL), w.cfg.Batch)
	if err != nil {
		return 0, errors.Wrap(err, "list expired bookings")
	}
	cancelled := 0
	for _, id := range ids {
		err := w.cancelWithRetry(ctx, id)
		switch {
		case err == nil:
			cancelled++
		case errors.Is(err, domain.ErrIllegalTransition), errors.Is(err, domain.ErrNotFound):
			w.logger.WithField("booking_id", id).WithError(err).Debug("booking no longer expirable")
		case ctx.Err() != nil:
			return cancelled, ctx.Err()
		default:
			w.logger.WithField("booking_id", id).WithError(err).Error("failed to expire booking after retries")
		}
	}
	return cancelled, nil
}

func (w *Worker) cancelWithRetry(ctx context.Context, id uuid.UUID) error {
	var err error
	for i := 0; i < w.cfg.Retries; i++ {
		_, err = w.canceller.Cancel(ctx, id, domain.ReasonExpired)
		if err == nil || errors.Is(err, domain.ErrIllegalTransition) || errors.Is(err, domain.ErrNotFound) {
			return err
		}
		backoff := time.Duration(1<<i) * w.cfg.Backoff
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return errors.Wrapf(err, "failed after %d retries", w.cfg.Retries)
}

package booking

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/capacity-bookings/internal/domain"
	"github.com/robertarktes/capacity-bookings/internal/observability"
)

type pendingEvent struct {
	typ  string
	data map[string]any
}

// change is what a mutation produced beyond the aggregate itself.
type change struct {
	noop         bool
	events       []pendingEvent
	transactions []domain.Transaction
}

// mutate loads a booking, applies fn and saves the result under the loaded
// version. Inventory the booking stopped holding is released in the same
// transaction. A lost race reloads and reapplies fn.
func (s *Service) mutate(ctx context.Context, op string, id uuid.UUID, fn func(b *domain.Booking, now time.Time) (*change, error)) (*domain.Booking, error) {
	var (
		b        *domain.Booking
		from     domain.Status
		seenHist int
		ch       *change
	)
	err := s.retry(ctx, op, func() error {
		var err error
		b, err = s.store.Load(ctx, id)
		if err != nil {
			return err
		}
		from = b.Status
		seenHist = len(b.StatusHistory)
		expected := b.Version
		now := s.now()

		ch, err = fn(b, now)
		if err != nil {
			return err
		}
		if ch.noop {
			return nil
		}

		return s.store.WithTx(ctx, func(tx Tx) error {
			if n := b.TakeReleasable(); n > 0 {
				if err := tx.Release(ctx, b.OfferingID, n); err != nil {
					return errors.Wrapf(err, "release %d units for %s", n, b.Reference)
				}
			}
			if err := b.CheckInvariants(s.ledger); err != nil {
				return err
			}
			if err := tx.Save(ctx, b, expected); err != nil {
				return err
			}
			for _, entry := range b.StatusHistory[seenHist:] {
				evt, err := domain.NewEvent(domain.EventBookingStatusChanged, b, map[string]any{
					"to":    entry.Status,
					"actor": entry.Actor,
					"note":  entry.Note,
				}, now)
				if err != nil {
					return err
				}
				if err := tx.Enqueue(ctx, evt); err != nil {
					return err
				}
			}
			for _, pe := range ch.events {
				evt, err := domain.NewEvent(pe.typ, b, pe.data, now)
				if err != nil {
					return err
				}
				if err := tx.Enqueue(ctx, evt); err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if ch.noop {
		return b, nil
	}

	added := b.StatusHistory[seenHist:]
	prev := from
	for _, entry := range added {
		observability.BookingTransitions.WithLabelValues(string(prev), string(entry.Status)).Inc()
		prev = entry.Status
	}
	s.auditEntries(ctx, b, added)
	for _, tx := range ch.transactions {
		if s.audit == nil {
			break
		}
		if err := s.audit.RecordTransaction(ctx, b, tx); err != nil {
			s.logger.WithError(err).WithField("booking_id", b.ID).Warn("audit transaction failed")
		}
	}
	s.logger.WithFields(map[string]interface{}{
		"op":         op,
		"booking_id": b.ID,
		"reference":  b.Reference,
		"from":       from,
		"status":     b.Status,
		"paid":       b.Payment.PaidAmount,
		"due":        b.Payment.DueAmount,
		"version":    b.Version,
	}).Info("booking updated")
	return b, nil
}

// retry runs fn until it succeeds, fails with a non-retryable error or the
// attempt budget is spent.
func (s *Service) retry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = fn()
		if err == nil || !domain.IsRetryable(err) {
			return err
		}
		observability.VersionConflicts.WithLabelValues(op).Inc()
		s.logger.WithFields(map[string]interface{}{
			"op":      op,
			"attempt": attempt,
		}).WithError(err).Debug("lost concurrent update, retrying")
	}
	return errors.Wrapf(err, "%s: gave up after %d attempts", op, s.attempts)
}

func (s *Service) auditEntries(ctx context.Context, b *domain.Booking, entries []domain.StatusEntry) {
	if s.audit == nil {
		return
	}
	for _, entry := range entries {
		if err := s.audit.RecordTransition(ctx, b, entry); err != nil {
			s.logger.WithError(err).WithField("booking_id", b.ID).Warn("audit transition failed")
		}
	}
}

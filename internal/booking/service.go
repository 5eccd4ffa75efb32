package booking

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/capacity-bookings/internal/domain"
	"github.com/robertarktes/capacity-bookings/internal/observability"
)

const DefaultMaxAttempts = 3

type CreateRequest struct {
	UserID         uuid.UUID             `json:"user_id" validate:"required"`
	OfferingID     uuid.UUID             `json:"offering_id" validate:"required"`
	Quantity       int                   `json:"quantity" validate:"required,min=1,max=10000"`
	Schedule       domain.Schedule       `json:"schedule"`
	Contact        domain.Contact        `json:"contact"`
	PaymentMethod  string                `json:"payment_method" validate:"required,max=64"`
	Specifications domain.Specifications `json:"specifications,omitempty"`
}

// PaymentConfirmation is a gateway signal that has already been verified by
// the adapter that received it.
type PaymentConfirmation struct {
	BookingID        uuid.UUID      `json:"booking_id" validate:"required"`
	Amount           float64        `json:"amount"`
	Method           string         `json:"method" validate:"max=64"`
	GatewayReference string         `json:"gateway_reference" validate:"required,max=128"`
	Outcome          domain.Outcome `json:"outcome" validate:"required,oneof=captured failed"`
}

type CancellationResult struct {
	Booking      *domain.Booking
	RefundAmount float64
}

type Service struct {
	store    Store
	catalog  Catalog
	audit    AuditTrail
	logger   observability.Logger
	ledger   domain.Ledger
	policies domain.RefundPolicies
	attempts int
	now      func() time.Time
}

type Option func(*Service)

func WithAuditTrail(a AuditTrail) Option {
	return func(s *Service) { s.audit = a }
}

func WithLedger(l domain.Ledger) Option {
	return func(s *Service) { s.ledger = l }
}

func WithRefundPolicies(p domain.RefundPolicies) Option {
	return func(s *Service) { s.policies = p }
}

func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.attempts = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store Store, catalog Catalog, logger observability.Logger, opts ...Option) *Service {
	s := &Service{
		store:    store,
		catalog:  catalog,
		logger:   logger.WithField("component", "booking"),
		ledger:   domain.DefaultLedger,
		policies: domain.RefundPolicies{},
		attempts: DefaultMaxAttempts,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PublishOffering registers an offering in the catalog and opens its
// inventory counter.
func (s *Service) PublishOffering(ctx context.Context, actor domain.Actor, o domain.Offering) error {
	if actor.Role != domain.RoleAdmin && actor.Role != domain.RoleSystem {
		return errors.Wrap(domain.ErrForbidden, "only admins publish offerings")
	}
	if err := o.Validate(); err != nil {
		return err
	}
	// The counter claims the id. The catalog is only written once that
	// succeeded, so a rejected publish leaves both untouched.
	if err := s.store.CreateCounter(ctx, o.ID, o.Capacity); err != nil {
		if !errors.Is(err, domain.ErrConflict) || !s.unfinishedPublish(ctx, o) {
			return errors.Wrapf(err, "create inventory counter for %s", o.ID)
		}
	}
	if err := s.catalog.SaveOffering(ctx, o); err != nil {
		return errors.Wrapf(err, "save offering %s", o.ID)
	}
	s.logger.WithFields(map[string]interface{}{
		"offering_id":  o.ID,
		"service_type": o.ServiceType,
		"capacity":     o.Capacity,
	}).Info("offering published")
	return nil
}

// unfinishedPublish reports whether an earlier publish of o created the
// counter but never reached the catalog. Retrying it with the same capacity
// completes that publish.
func (s *Service) unfinishedPublish(ctx context.Context, o domain.Offering) bool {
	if _, err := s.catalog.GetOffering(ctx, o.ID); !errors.Is(err, domain.ErrNotFound) {
		return false
	}
	c, err := s.store.Counter(ctx, o.ID)
	if err != nil {
		return false
	}
	return c.CapacityTotal == o.Capacity && c.CapacityAvailable == c.CapacityTotal
}

func (s *Service) Availability(ctx context.Context, offeringID uuid.UUID) (domain.InventoryCounter, error) {
	return s.store.Counter(ctx, offeringID)
}

// CreateBooking reserves capacity and persists a pending booking in one
// transaction. When the reservation fails nothing is written.
func (s *Service) CreateBooking(ctx context.Context, actor domain.Actor, req CreateRequest) (*domain.Booking, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	if st, en := req.Schedule.StartAt, req.Schedule.EndAt; st != nil && en != nil && en.Before(*st) {
		return nil, errors.Wrap(domain.ErrInvalidInput, "schedule ends before it starts")
	}
	if !actor.Privileged() && actor.ID != req.UserID {
		return nil, errors.Wrap(domain.ErrForbidden, "customers may only book for themselves")
	}

	offering, err := s.catalog.GetOffering(ctx, req.OfferingID)
	if err != nil {
		return nil, errors.Wrapf(err, "offering %s", req.OfferingID)
	}
	if err := offering.SpecSchema.Validate(req.Specifications); err != nil {
		return nil, err
	}

	params := domain.NewBookingParams{
		UserID:         req.UserID,
		Offering:       *offering,
		Quantity:       req.Quantity,
		Schedule:       req.Schedule,
		Contact:        req.Contact,
		PaymentMethod:  req.PaymentMethod,
		Specifications: req.Specifications,
	}

	var b *domain.Booking
	err = s.retry(ctx, "create", func() error {
		now := s.now()
		b = domain.NewBooking(params, actor, now)
		if b.Pricing.TotalAmount <= 0 {
			if err := b.Transition(domain.StatusConfirmed, domain.System("pricing"), "nothing due", now); err != nil {
				return err
			}
		}
		return s.store.WithTx(ctx, func(tx Tx) error {
			if err := tx.Reserve(ctx, offering.ID, req.Quantity); err != nil {
				return err
			}
			if err := b.CheckInvariants(s.ledger); err != nil {
				return err
			}
			if err := tx.Insert(ctx, b); err != nil {
				return err
			}
			evt, err := domain.NewEvent(domain.EventBookingCreated, b, map[string]any{
				"user_id":      b.UserID,
				"offering_id":  b.OfferingID,
				"service_type": b.ServiceType,
				"quantity":     b.Quantity,
				"total_amount": b.Pricing.TotalAmount,
				"currency":     b.Pricing.Currency,
			}, now)
			if err != nil {
				return err
			}
			return tx.Enqueue(ctx, evt)
		})
	})
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientCapacity) {
			observability.CapacityRejections.Inc()
			s.logger.WithFields(map[string]interface{}{
				"offering_id": req.OfferingID,
				"quantity":    req.Quantity,
			}).Info("booking rejected: insufficient capacity")
		}
		return nil, err
	}

	observability.BookingsCreated.WithLabelValues(string(b.ServiceType)).Inc()
	s.auditEntries(ctx, b, b.StatusHistory)
	s.logger.WithFields(map[string]interface{}{
		"op":           "create",
		"booking_id":   b.ID,
		"reference":    b.Reference,
		"offering_id":  b.OfferingID,
		"quantity":     b.Quantity,
		"total_amount": b.Pricing.TotalAmount,
	}).Info("booking created")
	return b, nil
}

// ConfirmPayment appends a gateway signal to the booking's ledger. A
// reference already recorded with the same outcome is a replay and changes
// nothing.
func (s *Service) ConfirmPayment(ctx context.Context, pc PaymentConfirmation) (*domain.Booking, error) {
	if err := validateStruct(pc); err != nil {
		return nil, err
	}
	actor := domain.System("payment-gateway")

	return s.mutate(ctx, "confirm_payment", pc.BookingID, func(b *domain.Booking, now time.Time) (*change, error) {
		if b.Status.IsTerminal() {
			return nil, errors.Wrapf(domain.ErrIllegalTransition, "booking %s is %s and accepts no payments", b.Reference, b.Status)
		}
		if b.Payment.HasTransaction(pc.GatewayReference, pc.Outcome) {
			return &change{noop: true}, nil
		}
		tx, err := b.RecordPayment(s.ledger, domain.PaymentInput{
			Amount:           pc.Amount,
			Method:           pc.Method,
			GatewayReference: pc.GatewayReference,
			Outcome:          pc.Outcome,
		}, actor, now)
		if err != nil {
			return nil, err
		}
		return &change{
			transactions: []domain.Transaction{tx},
			events: []pendingEvent{{typ: domain.EventPaymentRecorded, data: map[string]any{
				"transaction_id":    tx.ID,
				"amount":            tx.Amount,
				"outcome":           tx.Status,
				"gateway_reference": tx.GatewayReference,
				"paid_amount":       b.Payment.PaidAmount,
				"due_amount":        b.Payment.DueAmount,
			}}},
		}, nil
	})
}

// RequestCancellation cancels a booking on behalf of its owner or an admin,
// computing the refund and releasing held inventory in the same write.
func (s *Service) RequestCancellation(ctx context.Context, actor domain.Actor, bookingID uuid.UUID, reason string) (*CancellationResult, error) {
	if reason == "" {
		reason = "requested by " + string(actor.Role)
	}
	return s.cancel(ctx, actor, bookingID, reason, nil)
}

// Cancel is the system entry point used by the expiry sweeper. With reason
// domain.ReasonExpired it only cancels bookings that are still pending and
// unpaid.
func (s *Service) Cancel(ctx context.Context, bookingID uuid.UUID, reason string) (*CancellationResult, error) {
	if reason != domain.ReasonExpired {
		return s.cancel(ctx, domain.System("cancel"), bookingID, reason, nil)
	}
	return s.cancel(ctx, domain.System("expiry"), bookingID, reason, func(b *domain.Booking) error {
		if b.Status != domain.StatusPending || b.Payment.PaidAmount > 0 {
			return errors.Wrapf(domain.ErrIllegalTransition, "booking %s is %s with %.2f paid and cannot expire",
				b.Reference, b.Status, b.Payment.PaidAmount)
		}
		return nil
	})
}

func (s *Service) cancel(ctx context.Context, actor domain.Actor, bookingID uuid.UUID, reason string, guard func(*domain.Booking) error) (*CancellationResult, error) {
	b, err := s.mutate(ctx, "cancel", bookingID, func(b *domain.Booking, now time.Time) (*change, error) {
		if !actor.CanAccess(b) {
			return nil, errors.Wrapf(domain.ErrForbidden, "booking %s", b.Reference)
		}
		if guard != nil {
			if err := guard(b); err != nil {
				return nil, err
			}
		}
		refund := s.policies.For(b.ServiceType).Refund(b.Payment.PaidAmount, b.Schedule.StartAt, now)
		if err := b.Cancel(actor, reason, refund, now); err != nil {
			return nil, err
		}
		return &change{events: []pendingEvent{{typ: domain.EventBookingCancelled, data: map[string]any{
			"reason":        reason,
			"refund_amount": b.Cancellation.RefundAmount,
			"refund_status": b.Cancellation.RefundStatus,
		}}}}, nil
	})
	if err != nil {
		return nil, err
	}
	return &CancellationResult{Booking: b, RefundAmount: b.Cancellation.RefundAmount}, nil
}

// MarkRefundIssued records that the refund computed at cancellation was paid
// out.
func (s *Service) MarkRefundIssued(ctx context.Context, actor domain.Actor, bookingID uuid.UUID, gatewayReference string) (*domain.Booking, error) {
	if !actor.Privileged() {
		return nil, errors.Wrap(domain.ErrForbidden, "refunds are recorded by admins or the gateway")
	}
	return s.mutate(ctx, "refund", bookingID, func(b *domain.Booking, now time.Time) (*change, error) {
		if b.Status == domain.StatusRefunded && b.Payment.HasTransaction(gatewayReference, domain.OutcomeRefunded) {
			return &change{noop: true}, nil
		}
		tx, err := b.IssueRefund(s.ledger, actor, gatewayReference, now)
		if err != nil {
			return nil, err
		}
		return &change{
			transactions: []domain.Transaction{tx},
			events: []pendingEvent{{typ: domain.EventRefundIssued, data: map[string]any{
				"amount":            -tx.Amount,
				"gateway_reference": gatewayReference,
				"paid_amount":       b.Payment.PaidAmount,
			}}},
		}, nil
	})
}

// AdvanceStatus applies a manual transition. Cancellation is routed through
// the cancellation flow so the refund is computed; refunded is only reachable
// through MarkRefundIssued.
func (s *Service) AdvanceStatus(ctx context.Context, actor domain.Actor, bookingID uuid.UUID, target domain.Status) (*domain.Booking, error) {
	if !actor.Privileged() {
		return nil, errors.Wrap(domain.ErrForbidden, "manual status changes require an admin")
	}
	switch target {
	case domain.StatusCancelled:
		res, err := s.RequestCancellation(ctx, actor, bookingID, "cancelled by "+actor.String())
		if err != nil {
			return nil, err
		}
		return res.Booking, nil
	case domain.StatusRefunded:
		return nil, errors.Wrap(domain.ErrIllegalTransition, "refunds are recorded with MarkRefundIssued")
	}
	if !target.IsValid() {
		return nil, errors.Wrapf(domain.ErrInvalidInput, "unknown status %q", target)
	}
	return s.mutate(ctx, "advance", bookingID, func(b *domain.Booking, now time.Time) (*change, error) {
		if err := b.Transition(target, actor, "manual", now); err != nil {
			return nil, err
		}
		return &change{}, nil
	})
}

func (s *Service) GetBooking(ctx context.Context, actor domain.Actor, bookingID uuid.UUID) (*domain.Booking, error) {
	b, err := s.store.Load(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !actor.CanAccess(b) {
		return nil, errors.Wrapf(domain.ErrForbidden, "booking %s", b.Reference)
	}
	return b, nil
}

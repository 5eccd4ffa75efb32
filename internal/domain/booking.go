package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// Reasons recorded on cancellations initiated by the system.
const (
	ReasonExpired = "expired"
)

type RefundStatus string

const (
	RefundPending RefundStatus = "pending"
	RefundIssued  RefundStatus = "issued"
	RefundNone    RefundStatus = "none"
)

type StatusEntry struct {
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Actor     string    `json:"actor"`
	Note      string    `json:"note,omitempty"`
}

type Cancellation struct {
	Reason       string       `json:"reason"`
	RequestedAt  time.Time    `json:"requested_at"`
	ApprovedAt   *time.Time   `json:"approved_at,omitempty"`
	RefundAmount float64      `json:"refund_amount"`
	RefundStatus RefundStatus `json:"refund_status"`
	RequestedBy  string       `json:"requested_by"`
}

// Booking is the aggregate root. Every status change goes through
// Transition.
type Booking struct {
	ID             uuid.UUID      `json:"id"`
	Reference      string         `json:"reference"`
	UserID         uuid.UUID      `json:"user_id"`
	OfferingID     uuid.UUID      `json:"offering_id"`
	ServiceType    ServiceType    `json:"service_type"`
	Schedule       Schedule       `json:"schedule"`
	Quantity       int            `json:"quantity"`
	Status         Status         `json:"status"`
	StatusHistory  []StatusEntry  `json:"status_history"`
	Pricing        Pricing        `json:"pricing"`
	Payment        Payment        `json:"payment"`
	Cancellation   *Cancellation  `json:"cancellation,omitempty"`
	Contact        Contact        `json:"contact"`
	Specifications Specifications `json:"specifications,omitempty"`
	// InventoryHeld is the number of units this booking currently holds on
	// its offering. Release uses it and zeroes it.
	InventoryHeld int       `json:"inventory_held"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	Version       int64     `json:"-"`
}

type NewBookingParams struct {
	UserID         uuid.UUID
	Offering       Offering
	Quantity       int
	Schedule       Schedule
	Contact        Contact
	PaymentMethod  string
	Specifications Specifications
}

// NewBooking builds a pending booking that holds Quantity units. The caller
// must persist it in the same transaction as the reservation.
func NewBooking(p NewBookingParams, actor Actor, now time.Time) *Booking {
	now = now.UTC()
	schedule := p.Schedule
	if schedule.StartAt == nil {
		schedule.StartAt = p.Offering.StartAt
	}
	if schedule.EndAt == nil {
		schedule.EndAt = p.Offering.EndAt
	}
	pricing := ComputePricing(p.Offering, p.Quantity)

	return &Booking{
		ID:          uuid.New(),
		Reference:   NewReference(now),
		UserID:      p.UserID,
		OfferingID:  p.Offering.ID,
		ServiceType: p.Offering.ServiceType,
		Schedule:    schedule,
		Quantity:    p.Quantity,
		Status:      StatusPending,
		StatusHistory: []StatusEntry{
			{Status: StatusPending, Timestamp: now, Actor: actor.String(), Note: "booking created"},
		},
		Pricing:        pricing,
		Payment:        NewPayment(pricing.TotalAmount, p.PaymentMethod),
		Contact:        p.Contact,
		Specifications: p.Specifications,
		InventoryHeld:  p.Quantity,
		CreatedAt:      now,
		UpdatedAt:      now,
		Version:        1,
	}
}

// NewReference returns a human-readable booking reference such as
// BK-20261016-3F9A1C2E.
func NewReference(now time.Time) string {
	id := uuid.New()
	return fmt.Sprintf("BK-%s-%s", now.UTC().Format("20060102"),
		strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")[:8]))
}

// Transition moves the booking to status to and appends exactly one history
// entry. An illegal move leaves the booking untouched.
func (b *Booking) Transition(to Status, actor Actor, note string, now time.Time) error {
	if !b.Status.CanTransitionTo(to) {
		return errors.Wrapf(ErrIllegalTransition, "booking %s: %s -> %s", b.Reference, b.Status, to)
	}
	now = now.UTC()
	b.Status = to
	b.StatusHistory = append(b.StatusHistory, StatusEntry{
		Status:    to,
		Timestamp: now,
		Actor:     actor.String(),
		Note:      note,
	})
	b.UpdatedAt = now
	return nil
}

// TakeReleasable returns the units to give back to inventory once the status
// no longer holds them, and forgets them so they cannot be released twice.
func (b *Booking) TakeReleasable() int {
	if b.Status.HoldsInventory() || b.InventoryHeld == 0 {
		return 0
	}
	n := b.InventoryHeld
	b.InventoryHeld = 0
	return n
}

// RecordPayment appends a gateway signal to the ledger and confirms a
// pending booking once nothing is due.
func (b *Booking) RecordPayment(l Ledger, in PaymentInput, actor Actor, now time.Time) (Transaction, error) {
	if b.Status.IsTerminal() {
		return Transaction{}, errors.Wrapf(ErrIllegalTransition, "booking %s is %s and accepts no payments", b.Reference, b.Status)
	}
	if in.Outcome == OutcomeRefunded {
		return Transaction{}, errors.Wrap(ErrInvalidInput, "refunds are issued through cancellation")
	}
	tx, err := l.Record(&b.Payment, b.Pricing.TotalAmount, in, now)
	if err != nil {
		return Transaction{}, err
	}
	b.UpdatedAt = now.UTC()
	if in.Outcome == OutcomeCaptured && b.Status == StatusPending && b.Payment.Settled() {
		if err := b.Transition(StatusConfirmed, actor, "payment settled", now); err != nil {
			return Transaction{}, err
		}
	}
	return tx, nil
}

// Cancel records the cancellation and its refund entitlement.
func (b *Booking) Cancel(actor Actor, reason string, refund float64, now time.Time) error {
	if err := b.Transition(StatusCancelled, actor, reason, now); err != nil {
		return err
	}
	now = now.UTC()
	status := RefundPending
	if refund <= 0 {
		refund = 0
		status = RefundNone
	}
	approved := now
	b.Cancellation = &Cancellation{
		Reason:       reason,
		RequestedAt:  now,
		ApprovedAt:   &approved,
		RefundAmount: roundCents(refund),
		RefundStatus: status,
		RequestedBy:  actor.String(),
	}
	return nil
}

// IssueRefund books the refund as a negative ledger entry and moves the
// booking to refunded.
func (b *Booking) IssueRefund(l Ledger, actor Actor, gatewayReference string, now time.Time) (Transaction, error) {
	if b.Status != StatusCancelled || !b.Status.CanTransitionTo(StatusRefunded) {
		return Transaction{}, errors.Wrapf(ErrIllegalTransition, "booking %s: %s -> %s", b.Reference, b.Status, StatusRefunded)
	}
	if b.Cancellation == nil || b.Cancellation.RefundStatus != RefundPending {
		return Transaction{}, errors.Wrapf(ErrIllegalTransition, "booking %s has no pending refund", b.Reference)
	}
	tx, err := l.Record(&b.Payment, b.Pricing.TotalAmount, PaymentInput{
		Amount:           -b.Cancellation.RefundAmount,
		Method:           b.Payment.Method,
		GatewayReference: gatewayReference,
		Outcome:          OutcomeRefunded,
	}, now)
	if err != nil {
		return Transaction{}, err
	}
	b.Cancellation.RefundStatus = RefundIssued
	if err := b.Transition(StatusRefunded, actor, "refund issued", now); err != nil {
		return Transaction{}, err
	}
	return tx, nil
}

// CheckInvariants reports the first broken aggregate invariant.
func (b *Booking) CheckInvariants(l Ledger) error {
	if len(b.StatusHistory) == 0 {
		return errors.Newf("booking %s has empty status history", b.Reference)
	}
	if last := b.StatusHistory[len(b.StatusHistory)-1].Status; last != b.Status {
		return errors.Newf("booking %s: history ends in %s but status is %s", b.Reference, last, b.Status)
	}
	if b.Status.HoldsInventory() != (b.InventoryHeld > 0) {
		return errors.Newf("booking %s: status %s with %d units held", b.Reference, b.Status, b.InventoryHeld)
	}
	if b.InventoryHeld != 0 && b.InventoryHeld != b.Quantity {
		return errors.Newf("booking %s holds %d of %d units", b.Reference, b.InventoryHeld, b.Quantity)
	}
	if !l.Balanced(b.Payment, b.Pricing.TotalAmount) {
		return errors.Newf("booking %s: paid %.2f + due %.2f does not reconcile with total %.2f",
			b.Reference, b.Payment.PaidAmount, b.Payment.DueAmount, b.Pricing.TotalAmount)
	}
	cancelled := b.Status == StatusCancelled || b.Status == StatusRefunded
	if cancelled != (b.Cancellation != nil) {
		return errors.Newf("booking %s: status %s disagrees with cancellation record", b.Reference, b.Status)
	}
	return nil
}

// Clone returns a deep copy.
func (b *Booking) Clone() *Booking {
	c := *b
	c.StatusHistory = append([]StatusEntry(nil), b.StatusHistory...)
	c.Pricing.Taxes = append([]Tax(nil), b.Pricing.Taxes...)
	c.Pricing.Discounts = append([]Discount(nil), b.Pricing.Discounts...)
	c.Payment.Transactions = append([]Transaction(nil), b.Payment.Transactions...)
	if b.Cancellation != nil {
		cc := *b.Cancellation
		if b.Cancellation.ApprovedAt != nil {
			at := *b.Cancellation.ApprovedAt
			cc.ApprovedAt = &at
		}
		c.Cancellation = &cc
	}
	if b.Specifications != nil {
		c.Specifications = make(Specifications, len(b.Specifications))
		for k, v := range b.Specifications {
			c.Specifications[k] = v
		}
	}
	return &c
}

package booking

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/capacity-bookings/internal/domain"
)

// InventoryStore holds per-offering capacity counters. Reserve must be a
// single conditional write so concurrent callers can never oversell.
type InventoryStore interface {
	CreateCounter(ctx context.Context, offeringID uuid.UUID, capacity int) error
	Reserve(ctx context.Context, offeringID uuid.UUID, qty int) error
	Release(ctx context.Context, offeringID uuid.UUID, qty int) error
	Counter(ctx context.Context, offeringID uuid.UUID) (domain.InventoryCounter, error)
}

// BookingRepository persists booking aggregates with optimistic concurrency.
// Save fails with domain.ErrVersionConflict when the stored version is not
// expectedVersion and bumps b.Version on success.
type BookingRepository interface {
	Load(ctx context.Context, id uuid.UUID) (*domain.Booking, error)
	Insert(ctx context.Context, b *domain.Booking) error
	Save(ctx context.Context, b *domain.Booking, expectedVersion int64) error
}

type Outbox interface {
	Enqueue(ctx context.Context, evt domain.Event) error
}

// Tx is one atomic unit of work over inventory, bookings and the outbox.
type Tx interface {
	InventoryStore
	BookingRepository
	Outbox
}

type Store interface {
	Tx
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	// ExpiredPending lists unpaid pending bookings created before the cutoff.
	ExpiredPending(ctx context.Context, createdBefore time.Time, limit int) ([]uuid.UUID, error)
}

type Catalog interface {
	GetOffering(ctx context.Context, id uuid.UUID) (*domain.Offering, error)
	SaveOffering(ctx context.Context, o domain.Offering) error
}

// AuditTrail receives a copy of committed history entries and ledger
// transactions. Failures are logged and never undo the commit.
type AuditTrail interface {
	RecordTransition(ctx context.Context, b *domain.Booking, entry domain.StatusEntry) error
	RecordTransaction(ctx context.Context, b *domain.Booking, tx domain.Transaction) error
}

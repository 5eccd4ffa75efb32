package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/capacity-bookings/internal/booking"
	"github.com/robertarktes/capacity-bookings/internal/domain"
)

// DefaultOutboxLimit is how many events a Store retains when no limit is
// given. Nothing relays them out of process memory, so older ones are
// dropped.
const DefaultOutboxLimit = 1024

// Store keeps bookings, counters and outbox events in process memory. It
// honours the same contracts as the CockroachDB store and is used when no
// database is configured and in tests.
type Store struct {
	mu          sync.Mutex
	state       state
	outboxLimit int
}

type state struct {
	counters   map[uuid.UUID]domain.InventoryCounter
	bookings   map[uuid.UUID]*domain.Booking
	references map[string]uuid.UUID
	outbox     []domain.Event
}

type Option func(*Store)

// WithOutboxLimit bounds the retained outbox. Zero or less keeps the default.
func WithOutboxLimit(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.outboxLimit = n
		}
	}
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		state: state{
			counters:   map[uuid.UUID]domain.InventoryCounter{},
			bookings:   map[uuid.UUID]*domain.Booking{},
			references: map[string]uuid.UUID{},
		},
		outboxLimit: DefaultOutboxLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ booking.Store = (*Store)(nil)

// WithTx runs fn against a write set layered over the committed state and
// merges it only if fn succeeds. The store lock is held for the whole call,
// so fn must not call back into the Store itself.
func (s *Store) WithTx(ctx context.Context, fn func(tx booking.Tx) error) error {
	return s.apply(func(tx *txView) error { return fn(tx) })
}

func (s *Store) apply(fn func(tx *txView) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := newTxView(&s.state)
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit(s.outboxLimit)
	return nil
}

func (s *Store) CreateCounter(ctx context.Context, offeringID uuid.UUID, capacity int) error {
	return s.apply(func(tx *txView) error { return tx.CreateCounter(ctx, offeringID, capacity) })
}

func (s *Store) Reserve(ctx context.Context, offeringID uuid.UUID, qty int) error {
	return s.apply(func(tx *txView) error { return tx.Reserve(ctx, offeringID, qty) })
}

func (s *Store) Release(ctx context.Context, offeringID uuid.UUID, qty int) error {
	return s.apply(func(tx *txView) error { return tx.Release(ctx, offeringID, qty) })
}

func (s *Store) Counter(ctx context.Context, offeringID uuid.UUID) (domain.InventoryCounter, error) {
	var c domain.InventoryCounter
	err := s.apply(func(tx *txView) error {
		var err error
		c, err = tx.Counter(ctx, offeringID)
		return err
	})
	return c, err
}

func (s *Store) Load(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	var b *domain.Booking
	err := s.apply(func(tx *txView) error {
		var err error
		b, err = tx.Load(ctx, id)
		return err
	})
	return b, err
}

func (s *Store) Insert(ctx context.Context, b *domain.Booking) error {
	return s.apply(func(tx *txView) error { return tx.Insert(ctx, b) })
}

func (s *Store) Save(ctx context.Context, b *domain.Booking, expectedVersion int64) error {
	return s.apply(func(tx *txView) error { return tx.Save(ctx, b, expectedVersion) })
}

func (s *Store) Enqueue(ctx context.Context, evt domain.Event) error {
	return s.apply(func(tx *txView) error { return tx.Enqueue(ctx, evt) })
}

func (s *Store) ExpiredPending(ctx context.Context, createdBefore time.Time, limit int) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var found []*domain.Booking
	for _, b := range s.state.bookings {
		if b.Status == domain.StatusPending && b.Payment.PaidAmount == 0 && !b.CreatedAt.After(createdBefore) {
			found = append(found, b)
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].CreatedAt.Before(found[j].CreatedAt) })
	if limit > 0 && len(found) > limit {
		found = found[:limit]
	}
	ids := make([]uuid.UUID, len(found))
	for i, b := range found {
		ids[i] = b.ID
	}
	return ids, nil
}

// Events returns the retained outbox in enqueue order.
func (s *Store) Events() []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Event(nil), s.state.outbox...)
}

// txView buffers writes on top of base. Reads fall through to base for
// anything the transaction has not touched.
type txView struct {
	base       *state
	counters   map[uuid.UUID]domain.InventoryCounter
	bookings   map[uuid.UUID]*domain.Booking
	references map[string]uuid.UUID
	outbox     []domain.Event
}

func newTxView(base *state) *txView {
	return &txView{
		base:       base,
		counters:   map[uuid.UUID]domain.InventoryCounter{},
		bookings:   map[uuid.UUID]*domain.Booking{},
		references: map[string]uuid.UUID{},
	}
}

func (t *txView) counter(id uuid.UUID) (domain.InventoryCounter, bool) {
	if c, ok := t.counters[id]; ok {
		return c, true
	}
	c, ok := t.base.counters[id]
	return c, ok
}

func (t *txView) booking(id uuid.UUID) (*domain.Booking, bool) {
	if b, ok := t.bookings[id]; ok {
		return b, true
	}
	b, ok := t.base.bookings[id]
	return b, ok
}

func (t *txView) referenceTaken(ref string) bool {
	if _, ok := t.references[ref]; ok {
		return true
	}
	_, ok := t.base.references[ref]
	return ok
}

// commit merges the write set into base and trims the outbox to limit.
func (t *txView) commit(limit int) {
	for id, c := range t.counters {
		t.base.counters[id] = c
	}
	for id, b := range t.bookings {
		t.base.bookings[id] = b
	}
	for ref, id := range t.references {
		t.base.references[ref] = id
	}
	if len(t.outbox) == 0 {
		return
	}
	t.base.outbox = append(t.base.outbox, t.outbox...)
	if over := len(t.base.outbox) - limit; over > 0 {
		t.base.outbox = append([]domain.Event(nil), t.base.outbox[over:]...)
	}
}

func (t *txView) CreateCounter(_ context.Context, offeringID uuid.UUID, capacity int) error {
	if _, ok := t.counter(offeringID); ok {
		return errors.Wrapf(domain.ErrConflict, "inventory counter for %s already exists", offeringID)
	}
	if capacity < 0 {
		return errors.Wrap(domain.ErrInvalidInput, "capacity must not be negative")
	}
	t.counters[offeringID] = domain.NewInventoryCounter(offeringID, capacity)
	return nil
}

func (t *txView) Reserve(_ context.Context, offeringID uuid.UUID, qty int) error {
	c, ok := t.counter(offeringID)
	if !ok {
		return errors.Wrapf(domain.ErrNotFound, "inventory counter for %s", offeringID)
	}
	if err := c.Reserve(qty); err != nil {
		return err
	}
	t.counters[offeringID] = c
	return nil
}

func (t *txView) Release(_ context.Context, offeringID uuid.UUID, qty int) error {
	c, ok := t.counter(offeringID)
	if !ok {
		return errors.Wrapf(domain.ErrNotFound, "inventory counter for %s", offeringID)
	}
	if err := c.Release(qty); err != nil {
		return err
	}
	t.counters[offeringID] = c
	return nil
}

func (t *txView) Counter(_ context.Context, offeringID uuid.UUID) (domain.InventoryCounter, error) {
	c, ok := t.counter(offeringID)
	if !ok {
		return domain.InventoryCounter{}, errors.Wrapf(domain.ErrNotFound, "inventory counter for %s", offeringID)
	}
	return c, nil
}

func (t *txView) Load(_ context.Context, id uuid.UUID) (*domain.Booking, error) {
	b, ok := t.booking(id)
	if !ok {
		return nil, errors.Wrapf(domain.ErrNotFound, "booking %s", id)
	}
	return b.Clone(), nil
}

func (t *txView) Insert(_ context.Context, b *domain.Booking) error {
	if _, ok := t.booking(b.ID); ok {
		return errors.Wrapf(domain.ErrConflict, "booking %s already exists", b.ID)
	}
	if t.referenceTaken(b.Reference) {
		return errors.Wrapf(domain.ErrConflict, "reference %s already used", b.Reference)
	}
	if b.Version == 0 {
		b.Version = 1
	}
	t.bookings[b.ID] = b.Clone()
	t.references[b.Reference] = b.ID
	return nil
}

func (t *txView) Save(_ context.Context, b *domain.Booking, expectedVersion int64) error {
	cur, ok := t.booking(b.ID)
	if !ok {
		return errors.Wrapf(domain.ErrNotFound, "booking %s", b.ID)
	}
	if cur.Version != expectedVersion {
		return errors.Wrapf(domain.ErrVersionConflict, "booking %s: stored version %d, expected %d",
			b.Reference, cur.Version, expectedVersion)
	}
	b.Version = expectedVersion + 1
	t.bookings[b.ID] = b.Clone()
	return nil
}

func (t *txView) Enqueue(_ context.Context, evt domain.Event) error {
	t.outbox = append(t.outbox, evt)
	return nil
}

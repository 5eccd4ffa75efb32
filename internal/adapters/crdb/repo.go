package crdb

import (
	"context"
	_ "embed"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robertarktes/capacity-bookings/internal/booking"
	"github.com/robertarktes/capacity-bookings/internal/domain"
	"github.com/robertarktes/capacity-bookings/internal/observability"
)

const (
	SerializationFailureCode = "40001"
	UniqueViolationCode      = "23505"
)

//go:embed schema.sql
var schema string

// Migrate creates the tables the store needs. It is safe to run repeatedly.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, schema)
	return errors.Wrap(err, "apply schema")
}

// dbtx is satisfied by both the pool and an open transaction.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// queries implements booking.Tx on top of any dbtx.
type queries struct {
	db dbtx
}

type Repository struct {
	queries
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{queries: queries{db: pool}, pool: pool}
}

var _ booking.Store = (*Repository)(nil)

func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *Repository) WithTx(ctx context.Context, fn func(tx booking.Tx) error) error {
	start := time.Now()
	defer func() { observability.DBTxDuration.Observe(time.Since(start).Seconds()) }()

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return mapErr(err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&queries{db: tx}); err != nil {
		return mapErr(err)
	}
	return mapErr(tx.Commit(ctx))
}

// mapErr marks CockroachDB retry errors so the engine can recognise them.
// Commit is where they most often surface.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case SerializationFailureCode:
			return errors.Mark(err, domain.ErrSerializationFailure)
		case UniqueViolationCode:
			return errors.Mark(err, domain.ErrConflict)
		}
	}
	return err
}

func (q *queries) CreateCounter(ctx context.Context, offeringID uuid.UUID, capacity int) error {
	if capacity < 0 {
		return errors.Wrap(domain.ErrInvalidInput, "capacity must not be negative")
	}
	result, err := q.db.Exec(ctx, `
		INSERT INTO inventory_counters (offering_id, capacity_total, capacity_available)
		VALUES ($1, $2, $2)
		ON CONFLICT (offering_id) DO NOTHING
	`, offeringID, capacity)
	if err != nil {
		return mapErr(err)
	}
	if result.RowsAffected() == 0 {
		return errors.Wrapf(domain.ErrConflict, "inventory counter for %s already exists", offeringID)
	}
	return nil
}

// Reserve is a single conditional decrement; the WHERE clause is what keeps
// concurrent reservations from overselling.
func (q *queries) Reserve(ctx context.Context, offeringID uuid.UUID, qty int) error {
	if qty < 1 {
		return errors.Wrapf(domain.ErrInvalidInput, "reserve quantity %d", qty)
	}
	result, err := q.db.Exec(ctx, `
		UPDATE inventory_counters SET capacity_available = capacity_available - $2
		WHERE offering_id = $1 AND capacity_available >= $2
	`, offeringID, qty)
	if err != nil {
		return mapErr(err)
	}
	if result.RowsAffected() == 1 {
		return nil
	}
	c, err := q.Counter(ctx, offeringID)
	if err != nil {
		return err
	}
	return errors.Wrapf(domain.ErrInsufficientCapacity, "offering %s: requested %d, available %d",
		offeringID, qty, c.CapacityAvailable)
}

func (q *queries) Release(ctx context.Context, offeringID uuid.UUID, qty int) error {
	if qty < 1 {
		return errors.Wrapf(domain.ErrInvalidInput, "release quantity %d", qty)
	}
	result, err := q.db.Exec(ctx, `
		UPDATE inventory_counters SET capacity_available = capacity_available + $2
		WHERE offering_id = $1 AND capacity_available + $2 <= capacity_total
	`, offeringID, qty)
	if err != nil {
		return mapErr(err)
	}
	if result.RowsAffected() == 1 {
		return nil
	}
	c, err := q.Counter(ctx, offeringID)
	if err != nil {
		return err
	}
	return errors.Wrapf(domain.ErrOverRelease, "offering %s: releasing %d onto %d/%d",
		offeringID, qty, c.CapacityAvailable, c.CapacityTotal)
}

func (q *queries) Counter(ctx context.Context, offeringID uuid.UUID) (domain.InventoryCounter, error) {
	c := domain.InventoryCounter{OfferingID: offeringID}
	err := q.db.QueryRow(ctx, `
		SELECT capacity_total, capacity_available FROM inventory_counters WHERE offering_id = $1
	`, offeringID).Scan(&c.CapacityTotal, &c.CapacityAvailable)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.InventoryCounter{}, errors.Wrapf(domain.ErrNotFound, "inventory counter for %s", offeringID)
	}
	if err != nil {
		return domain.InventoryCounter{}, mapErr(err)
	}
	return c, nil
}

func (q *queries) Load(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	var (
		doc     []byte
		version int64
	)
	err := q.db.QueryRow(ctx, `SELECT doc, version FROM bookings WHERE id = $1`, id).Scan(&doc, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(domain.ErrNotFound, "booking %s", id)
	}
	if err != nil {
		return nil, mapErr(err)
	}
	var b domain.Booking
	if err := json.Unmarshal(doc, &b); err != nil {
		return nil, errors.Wrapf(err, "decode booking %s", id)
	}
	b.Version = version
	return &b, nil
}

func (q *queries) Insert(ctx context.Context, b *domain.Booking) error {
	if b.Version == 0 {
		b.Version = 1
	}
	doc, err := json.Marshal(b)
	if err != nil {
		return errors.Wrapf(err, "encode booking %s", b.ID)
	}
	_, err = q.db.Exec(ctx, `
		INSERT INTO bookings (id, reference, user_id, offering_id, status, paid_amount, version, created_at, updated_at, doc)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, b.ID, b.Reference, b.UserID, b.OfferingID, string(b.Status), b.Payment.PaidAmount, b.Version,
		b.CreatedAt, b.UpdatedAt, doc)
	if err != nil {
		return errors.Wrapf(mapErr(err), "insert booking %s", b.Reference)
	}
	return nil
}

func (q *queries) Save(ctx context.Context, b *domain.Booking, expectedVersion int64) error {
	doc, err := json.Marshal(b)
	if err != nil {
		return errors.Wrapf(err, "encode booking %s", b.ID)
	}
	result, err := q.db.Exec(ctx, `
		UPDATE bookings
		SET status = $3, paid_amount = $4, updated_at = $5, doc = $6, version = version + 1
		WHERE id = $1 AND version = $2
	`, b.ID, expectedVersion, string(b.Status), b.Payment.PaidAmount, b.UpdatedAt, doc)
	if err != nil {
		return mapErr(err)
	}
	if result.RowsAffected() == 0 {
		var stored int64
		err := q.db.QueryRow(ctx, `SELECT version FROM bookings WHERE id = $1`, b.ID).Scan(&stored)
		if errors.Is(err, pgx.ErrNoRows) {
			return errors.Wrapf(domain.ErrNotFound, "booking %s", b.ID)
		}
		if err != nil {
			return mapErr(err)
		}
		return errors.Wrapf(domain.ErrVersionConflict, "booking %s: stored version %d, expected %d",
			b.Reference, stored, expectedVersion)
	}
	b.Version = expectedVersion + 1
	return nil
}

func (r *Repository) ExpiredPending(ctx context.Context, createdBefore time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id FROM bookings
		WHERE status = 'pending' AND paid_amount = 0 AND created_at <= $1
		ORDER BY created_at ASC LIMIT $2
	`, createdBefore, limit)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

package mongo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/capacity-bookings/internal/domain"
	"github.com/robertarktes/capacity-bookings/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// AuditLogger keeps an append-only copy of booking history and ledger
// entries for reporting. The bookings table stays the source of truth.
type AuditLogger struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewAuditLogger(db *mongo.Database, logger observability.Logger) *AuditLogger {
	return &AuditLogger{
		coll:   db.Collection("booking_audit"),
		logger: logger,
	}
}

type AuditLog struct {
	ID        string    `bson:"_id"`
	Action    string    `bson:"action"`
	BookingID string    `bson:"booking_id"`
	Reference string    `bson:"reference"`
	UserID    string    `bson:"user_id"`
	Actor     string    `bson:"actor,omitempty"`
	Timestamp time.Time `bson:"timestamp"`
	Data      bson.M    `bson:"data"`
}

func (a *AuditLogger) logEvent(ctx context.Context, action string, b *domain.Booking, actor string, at time.Time, data bson.M) error {
	log := AuditLog{
		ID:        uuid.NewString(),
		Action:    action,
		BookingID: b.ID.String(),
		Reference: b.Reference,
		UserID:    b.UserID.String(),
		Actor:     actor,
		Timestamp: at,
		Data:      data,
	}
	_, err := a.coll.InsertOne(ctx, log)
	if err != nil {
		a.logger.WithError(err).WithField("booking_id", b.ID).Error("failed to insert audit log")
		return err
	}
	return nil
}

func (a *AuditLogger) RecordTransition(ctx context.Context, b *domain.Booking, entry domain.StatusEntry) error {
	return a.logEvent(ctx, "status_changed", b, entry.Actor, entry.Timestamp, bson.M{
		"status":  string(entry.Status),
		"note":    entry.Note,
		"version": b.Version,
	})
}

func (a *AuditLogger) RecordTransaction(ctx context.Context, b *domain.Booking, tx domain.Transaction) error {
	return a.logEvent(ctx, "transaction", b, "", tx.Timestamp, bson.M{
		"transaction_id":    tx.ID.String(),
		"amount":            tx.Amount,
		"method":            tx.Method,
		"outcome":           string(tx.Status),
		"gateway_reference": tx.GatewayReference,
		"paid_amount":       b.Payment.PaidAmount,
		"due_amount":        b.Payment.DueAmount,
	})
}

package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/robertarktes/capacity-bookings/internal/booking"
	"github.com/robertarktes/capacity-bookings/internal/domain"
	"github.com/robertarktes/capacity-bookings/internal/observability"
)

// OfferingCache is a read-through cache in front of the catalog. Cache
// failures fall back to the catalog.
type OfferingCache struct {
	client *redis.Client
	next   booking.Catalog
	ttl    time.Duration
	logger observability.Logger
}

func NewOfferingCache(client *redis.Client, next booking.Catalog, ttl time.Duration, logger observability.Logger) *OfferingCache {
	return &OfferingCache{client: client, next: next, ttl: ttl, logger: logger}
}

var _ booking.Catalog = (*OfferingCache)(nil)

func offeringKey(id uuid.UUID) string {
	return "offering:" + id.String()
}

func (c *OfferingCache) GetOffering(ctx context.Context, id uuid.UUID) (*domain.Offering, error) {
	val, err := c.client.Get(ctx, offeringKey(id)).Bytes()
	switch {
	case err == nil:
		var o domain.Offering
		if err := json.Unmarshal(val, &o); err == nil {
			return &o, nil
		}
		c.logger.WithField("offering_id", id).Warn("dropping undecodable cached offering")
	case !errors.Is(err, redis.Nil):
		c.logger.WithError(err).WithField("offering_id", id).Warn("offering cache read failed")
	}

	o, err := c.next.GetOffering(ctx, id)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(o); err == nil {
		if err := c.client.Set(ctx, offeringKey(id), data, c.ttl).Err(); err != nil {
			c.logger.WithError(err).WithField("offering_id", id).Warn("offering cache write failed")
		}
	}
	return o, nil
}

func (c *OfferingCache) SaveOffering(ctx context.Context, o domain.Offering) error {
	if err := c.next.SaveOffering(ctx, o); err != nil {
		return err
	}
	if err := c.client.Del(ctx, offeringKey(o.ID)).Err(); err != nil {
		c.logger.WithError(err).WithField("offering_id", o.ID).Warn("offering cache invalidation failed")
	}
	return nil
}

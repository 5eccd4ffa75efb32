package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"github.com/robertarktes/capacity-bookings/internal/idempotency"
)

const (
	responsePrefix = "idemp:"
	lockPrefix     = "idemp:lock:"
)

// Idempotency keeps recorded responses and in-flight markers for the
// Idempotency-Key middleware. Both expire on their own.
type Idempotency struct {
	client *redis.Client
}

func NewIdempotency(client *redis.Client) *Idempotency {
	return &Idempotency{client: client}
}

var _ idempotency.Store = (*Idempotency)(nil)

// Get returns nil without an error when nothing was recorded for key.
func (i *Idempotency) Get(ctx context.Context, key string) (*idempotency.Response, error) {
	raw, err := i.client.Get(ctx, responsePrefix+key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, nil
	case err != nil:
		return nil, errors.Wrapf(err, "load idempotent response %s", key)
	}

	var resp idempotency.Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, errors.Wrapf(err, "decode idempotent response %s", key)
	}
	return &resp, nil
}

func (i *Idempotency) Set(ctx context.Context, key string, resp idempotency.Response, ttl time.Duration) error {
	raw, err := json.Marshal(resp)
	if err != nil {
		return errors.Wrap(err, "encode idempotent response")
	}
	return i.client.Set(ctx, responsePrefix+key, raw, ttl).Err()
}

// Lock marks key as in flight. It returns false when another request holds it.
func (i *Idempotency) Lock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return i.client.SetNX(ctx, lockPrefix+key, time.Now().UTC().Format(time.RFC3339Nano), ttl).Result()
}

func (i *Idempotency) Unlock(ctx context.Context, key string) error {
	return i.client.Del(ctx, lockPrefix+key).Err()
}

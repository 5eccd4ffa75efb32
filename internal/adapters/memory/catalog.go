package memory

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/capacity-bookings/internal/domain"
)

type Catalog struct {
	mu        sync.RWMutex
	offerings map[uuid.UUID]domain.Offering
}

func NewCatalog() *Catalog {
	return &Catalog{offerings: map[uuid.UUID]domain.Offering{}}
}

func (c *Catalog) GetOffering(_ context.Context, id uuid.UUID) (*domain.Offering, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	o, ok := c.offerings[id]
	if !ok {
		return nil, errors.Wrapf(domain.ErrNotFound, "offering %s", id)
	}
	return &o, nil
}

func (c *Catalog) SaveOffering(_ context.Context, o domain.Offering) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offerings[o.ID] = o
	return nil
}

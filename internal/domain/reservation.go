package domain

import (
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

func NewInventoryCounter(offeringID uuid.UUID, capacity int) InventoryCounter {
	return InventoryCounter{
		OfferingID:        offeringID,
		CapacityTotal:     capacity,
		CapacityAvailable: capacity,
	}
}

// Reserve takes qty units if and only if that many are available. Stores
// that cannot express this as one conditional write must hold a lock around
// it.
func (c *InventoryCounter) Reserve(qty int) error {
	if qty < 1 {
		return errors.Wrapf(ErrInvalidInput, "reserve quantity %d", qty)
	}
	if c.CapacityAvailable < qty {
		return errors.Wrapf(ErrInsufficientCapacity, "offering %s: requested %d, available %d",
			c.OfferingID, qty, c.CapacityAvailable)
	}
	c.CapacityAvailable -= qty
	return nil
}

func (c *InventoryCounter) Release(qty int) error {
	if qty < 1 {
		return errors.Wrapf(ErrInvalidInput, "release quantity %d", qty)
	}
	if c.CapacityAvailable+qty > c.CapacityTotal {
		return errors.Wrapf(ErrOverRelease, "offering %s: releasing %d onto %d/%d",
			c.OfferingID, qty, c.CapacityAvailable, c.CapacityTotal)
	}
	c.CapacityAvailable += qty
	return nil
}

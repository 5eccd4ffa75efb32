package domain

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

type ServiceType string

const (
	ServiceScheduledTransport ServiceType = "scheduled_transport"
	ServiceFreight            ServiceType = "freight"
	ServiceTour               ServiceType = "tour"
	ServiceRental             ServiceType = "rental"
	ServiceMaterialOrder      ServiceType = "material_order"
)

func (t ServiceType) IsValid() bool {
	switch t {
	case ServiceScheduledTransport, ServiceFreight, ServiceTour, ServiceRental, ServiceMaterialOrder:
		return true
	}
	return false
}

// Offering is a sellable unit of capacity as described by the catalog.
type Offering struct {
	ID            uuid.UUID      `json:"id"`
	Name          string         `json:"name"`
	ServiceType   ServiceType    `json:"service_type"`
	BasePrice     float64        `json:"base_price"`
	TaxRates      []TaxRate      `json:"tax_rates,omitempty"`
	DiscountRules []DiscountRule `json:"discount_rules,omitempty"`
	Currency      string         `json:"currency"`
	Capacity      int            `json:"capacity"`
	StartAt       *time.Time     `json:"start_at,omitempty"`
	EndAt         *time.Time     `json:"end_at,omitempty"`
	SpecSchema    SpecSchema     `json:"spec_schema,omitempty"`
}

type TaxRate struct {
	Name string  `json:"name"`
	Rate float64 `json:"rate"`
}

type DiscountRule struct {
	Code string  `json:"code"`
	Rate float64 `json:"rate"`
}

func (o Offering) Validate() error {
	if o.ID == uuid.Nil {
		return errors.Wrap(ErrInvalidInput, "offering id is required")
	}
	if !o.ServiceType.IsValid() {
		return errors.Wrapf(ErrInvalidInput, "unknown service type %q", o.ServiceType)
	}
	if o.BasePrice < 0 {
		return errors.Wrap(ErrInvalidInput, "base price must not be negative")
	}
	if o.Capacity < 0 {
		return errors.Wrap(ErrInvalidInput, "capacity must not be negative")
	}
	if o.Currency == "" {
		return errors.Wrap(ErrInvalidInput, "currency is required")
	}
	for _, r := range o.TaxRates {
		if r.Rate < 0 {
			return errors.Wrapf(ErrInvalidInput, "tax %q has a negative rate", r.Name)
		}
	}
	for _, r := range o.DiscountRules {
		if r.Rate < 0 || r.Rate > 1 {
			return errors.Wrapf(ErrInvalidInput, "discount %q rate must be within [0,1]", r.Code)
		}
	}
	if o.StartAt != nil && o.EndAt != nil && o.EndAt.Before(*o.StartAt) {
		return errors.Wrap(ErrInvalidInput, "offering ends before it starts")
	}
	return o.SpecSchema.validateSelf()
}

// Schedule is the requested use window. StartAt is nil when the offering has
// no fixed start, as for material orders.
type Schedule struct {
	StartAt *time.Time `json:"start_at,omitempty"`
	EndAt   *time.Time `json:"end_at,omitempty"`
}

// Contact is captured when the booking is made and never refreshed from the
// user profile.
type Contact struct {
	Name  string `json:"name" validate:"required,max=200"`
	Phone string `json:"phone" validate:"omitempty,max=32"`
	Email string `json:"email" validate:"omitempty,email"`
}

// InventoryCounter tracks capacity for one offering.
type InventoryCounter struct {
	OfferingID        uuid.UUID `json:"offering_id"`
	CapacityTotal     int       `json:"capacity_total"`
	CapacityAvailable int       `json:"capacity_available"`
}

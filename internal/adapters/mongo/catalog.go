package mongo

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/capacity-bookings/internal/domain"
	"github.com/robertarktes/capacity-bookings/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CatalogRepository stores offerings, one document per offering.
type CatalogRepository struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewCatalogRepository(db *mongo.Database, logger observability.Logger) *CatalogRepository {
	return &CatalogRepository{
		coll:   db.Collection("offerings"),
		logger: logger,
	}
}

type OfferingDoc struct {
	ID            string                  `bson:"_id"`
	Name          string                  `bson:"name"`
	ServiceType   string                  `bson:"service_type"`
	BasePrice     float64                 `bson:"base_price"`
	Currency      string                  `bson:"currency"`
	Capacity      int                     `bson:"capacity"`
	TaxRates      []RateDoc               `bson:"tax_rates,omitempty"`
	DiscountRules []RateDoc               `bson:"discount_rules,omitempty"`
	StartAt       *time.Time              `bson:"start_at,omitempty"`
	EndAt         *time.Time              `bson:"end_at,omitempty"`
	SpecSchema    map[string]SpecFieldDoc `bson:"spec_schema,omitempty"`
	CreatedAt     time.Time               `bson:"created_at"`
	UpdatedAt     time.Time               `bson:"updated_at"`
}

type RateDoc struct {
	Name string  `bson:"name"`
	Rate float64 `bson:"rate"`
}

type SpecFieldDoc struct {
	Kind     string `bson:"kind"`
	Required bool   `bson:"required"`
}

func (c *CatalogRepository) GetOffering(ctx context.Context, id uuid.UUID) (*domain.Offering, error) {
	var doc OfferingDoc
	err := c.coll.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errors.Wrapf(domain.ErrNotFound, "offering %s", id)
	}
	if err != nil {
		c.logger.WithError(err).WithField("offering_id", id).Error("failed to get offering")
		return nil, err
	}
	return doc.toDomain()
}

// SaveOffering upserts the offering, keeping the original created_at.
func (c *CatalogRepository) SaveOffering(ctx context.Context, o domain.Offering) error {
	doc := offeringDoc(o)
	now := time.Now().UTC()
	_, err := c.coll.UpdateOne(ctx,
		bson.M{"_id": doc.ID},
		bson.M{
			"$set": bson.M{
				"name":           doc.Name,
				"service_type":   doc.ServiceType,
				"base_price":     doc.BasePrice,
				"currency":       doc.Currency,
				"capacity":       doc.Capacity,
				"tax_rates":      doc.TaxRates,
				"discount_rules": doc.DiscountRules,
				"start_at":       doc.StartAt,
				"end_at":         doc.EndAt,
				"spec_schema":    doc.SpecSchema,
				"updated_at":     now,
			},
			"$setOnInsert": bson.M{"created_at": now},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		c.logger.WithError(err).WithField("offering_id", o.ID).Error("failed to save offering")
		return err
	}
	return nil
}

func offeringDoc(o domain.Offering) OfferingDoc {
	doc := OfferingDoc{
		ID:          o.ID.String(),
		Name:        o.Name,
		ServiceType: string(o.ServiceType),
		BasePrice:   o.BasePrice,
		Currency:    o.Currency,
		Capacity:    o.Capacity,
		StartAt:     o.StartAt,
		EndAt:       o.EndAt,
	}
	for _, r := range o.TaxRates {
		doc.TaxRates = append(doc.TaxRates, RateDoc{Name: r.Name, Rate: r.Rate})
	}
	for _, r := range o.DiscountRules {
		doc.DiscountRules = append(doc.DiscountRules, RateDoc{Name: r.Code, Rate: r.Rate})
	}
	if len(o.SpecSchema) > 0 {
		doc.SpecSchema = make(map[string]SpecFieldDoc, len(o.SpecSchema))
		for name, f := range o.SpecSchema {
			doc.SpecSchema[name] = SpecFieldDoc{Kind: string(f.Kind), Required: f.Required}
		}
	}
	return doc
}

func (d OfferingDoc) toDomain() (*domain.Offering, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, errors.Wrapf(err, "offering document id %q", d.ID)
	}
	o := &domain.Offering{
		ID:          id,
		Name:        d.Name,
		ServiceType: domain.ServiceType(d.ServiceType),
		BasePrice:   d.BasePrice,
		Currency:    d.Currency,
		Capacity:    d.Capacity,
		StartAt:     d.StartAt,
		EndAt:       d.EndAt,
	}
	for _, r := range d.TaxRates {
		o.TaxRates = append(o.TaxRates, domain.TaxRate{Name: r.Name, Rate: r.Rate})
	}
	for _, r := range d.DiscountRules {
		o.DiscountRules = append(o.DiscountRules, domain.DiscountRule{Code: r.Name, Rate: r.Rate})
	}
	if len(d.SpecSchema) > 0 {
		o.SpecSchema = make(domain.SpecSchema, len(d.SpecSchema))
		for name, f := range d.SpecSchema {
			o.SpecSchema[name] = domain.SpecField{Kind: domain.SpecKind(f.Kind), Required: f.Required}
		}
	}
	return o, nil
}

package domain

import "math"

type Tax struct {
	Name   string  `json:"name"`
	Rate   float64 `json:"rate"`
	Amount float64 `json:"amount"`
}

type Discount struct {
	Code   string  `json:"code"`
	Amount float64 `json:"amount"`
}

// Pricing is fixed when the booking is created.
type Pricing struct {
	BaseAmount  float64    `json:"base_amount"`
	Taxes       []Tax      `json:"taxes"`
	Discounts   []Discount `json:"discounts"`
	TotalAmount float64    `json:"total_amount"`
	Currency    string     `json:"currency"`
}

// ComputePricing prices qty units of an offering. Discounts apply to the base
// amount and taxes to what remains after discounts.
func ComputePricing(o Offering, qty int) Pricing {
	base := roundCents(o.BasePrice * float64(qty))
	p := Pricing{
		BaseAmount: base,
		Taxes:      []Tax{},
		Discounts:  []Discount{},
		Currency:   o.Currency,
	}

	taxable := base
	for _, d := range o.DiscountRules {
		amt := roundCents(base * d.Rate)
		p.Discounts = append(p.Discounts, Discount{Code: d.Code, Amount: amt})
		taxable -= amt
	}
	taxable = math.Max(0, roundCents(taxable))

	total := taxable
	for _, t := range o.TaxRates {
		amt := roundCents(taxable * t.Rate)
		p.Taxes = append(p.Taxes, Tax{Name: t.Name, Rate: t.Rate, Amount: amt})
		total += amt
	}
	p.TotalAmount = roundCents(total)
	return p
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

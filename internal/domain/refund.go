package domain

import (
	"sort"
	"time"
)

// RefundPolicy maps what was paid and how far away the start is to a refund.
// Implementations must be pure.
type RefundPolicy interface {
	Refund(paid float64, scheduledStart *time.Time, now time.Time) float64
}

type RefundTier struct {
	MinLead time.Duration
	Percent float64
}

// TieredRefundPolicy refunds the percent of the first tier whose MinLead the
// lead time reaches. Below every tier the refund is zero.
type TieredRefundPolicy struct {
	Tiers           []RefundTier
	DefaultLeadTime time.Duration
}

var DefaultRefundPolicy = TieredRefundPolicy{
	Tiers: []RefundTier{
		{MinLead: 24 * time.Hour, Percent: 1.0},
		{MinLead: 2 * time.Hour, Percent: 0.5},
	},
	DefaultLeadTime: 24 * time.Hour,
}

func (p TieredRefundPolicy) Refund(paid float64, scheduledStart *time.Time, now time.Time) float64 {
	if paid <= 0 {
		return 0
	}
	lead := p.DefaultLeadTime
	if scheduledStart != nil {
		lead = scheduledStart.Sub(now)
	}

	tiers := append([]RefundTier(nil), p.Tiers...)
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].MinLead > tiers[j].MinLead })
	for _, t := range tiers {
		if lead >= t.MinLead {
			return roundCents(paid * t.Percent)
		}
	}
	return 0
}

// ComputeRefund applies the default policy.
func ComputeRefund(paid float64, scheduledStart *time.Time, now time.Time) float64 {
	return DefaultRefundPolicy.Refund(paid, scheduledStart, now)
}

// RefundPolicies selects a policy per service type, falling back to
// DefaultRefundPolicy.
type RefundPolicies map[ServiceType]RefundPolicy

func (r RefundPolicies) For(t ServiceType) RefundPolicy {
	if p, ok := r[t]; ok && p != nil {
		return p
	}
	return DefaultRefundPolicy
}

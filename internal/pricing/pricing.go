// Package pricing resolves unit prices against tiered price schedules.
package pricing

import (
	"fmt"

	"github.com/utafrali/cartengine/internal/domain"
)

// ResolveUnitPrice returns the unit price for quantity. Tiers are tried in
// fixed priority order (distributor, wholesale, retail) and the first whose
// minimum quantity is met wins; the legacy flat price is the fallback.
// Priority decides, not threshold order: a schedule whose thresholds are out
// of numeric order resolves exactly as configured.
func ResolveUnitPrice(s domain.PriceSchedule, quantity int) int64 {
	if t := s.Distributor; t != nil && quantity >= t.MinQty {
		return t.Price
	}
	if t := s.Wholesale; t != nil && quantity >= t.MinQty {
		return t.Price
	}
	if t := s.Retail; t != nil && quantity >= retailMinQty(t) {
		return t.Price
	}
	return s.Price
}

func retailMinQty(t *domain.Tier) int {
	if t.MinQty < 1 {
		return 1
	}
	return t.MinQty
}

// AnomalyKind classifies a suspicious schedule configuration.
type AnomalyKind string

const (
	// ThresholdOrder means a higher-priority tier starts at or below the
	// minimum quantity of a lower-priority one, shadowing it.
	ThresholdOrder AnomalyKind = "threshold_order"
	// PriceOrder means a higher-priority tier costs more per unit than a
	// lower-priority one.
	PriceOrder AnomalyKind = "price_order"
)

// Anomaly describes one pair of tiers configured out of order.
type Anomaly struct {
	Kind   AnomalyKind
	Higher string
	Lower  string
	Detail string
}

func (a Anomaly) String() string {
	return fmt.Sprintf("%s: %s vs %s (%s)", a.Kind, a.Higher, a.Lower, a.Detail)
}

type namedTier struct {
	name string
	tier *domain.Tier
}

// Anomalies reports tier pairs whose thresholds or prices are out of order.
// It never alters the schedule; ResolveUnitPrice keeps its priority rule.
func Anomalies(s domain.PriceSchedule) []Anomaly {
	var tiers []namedTier
	if s.Distributor != nil {
		tiers = append(tiers, namedTier{"distributor", s.Distributor})
	}
	if s.Wholesale != nil {
		tiers = append(tiers, namedTier{"wholesale", s.Wholesale})
	}
	if s.Retail != nil {
		r := *s.Retail
		r.MinQty = retailMinQty(&r)
		tiers = append(tiers, namedTier{"retail", &r})
	}

	var out []Anomaly
	for i := 0; i < len(tiers); i++ {
		for j := i + 1; j < len(tiers); j++ {
			hi, lo := tiers[i], tiers[j]
			if hi.tier.MinQty <= lo.tier.MinQty {
				out = append(out, Anomaly{
					Kind:   ThresholdOrder,
					Higher: hi.name,
					Lower:  lo.name,
					Detail: fmt.Sprintf("minQty %d <= %d", hi.tier.MinQty, lo.tier.MinQty),
				})
			}
			if hi.tier.Price > lo.tier.Price {
				out = append(out, Anomaly{
					Kind:   PriceOrder,
					Higher: hi.name,
					Lower:  lo.name,
					Detail: fmt.Sprintf("price %d > %d", hi.tier.Price, lo.tier.Price),
				})
			}
		}
	}
	return out
}

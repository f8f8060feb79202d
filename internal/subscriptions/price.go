package subscriptions

import (
	"strings"

	"github.com/vodstream/vod-backend/pkg/config"
	"github.com/vodstream/vod-backend/pkg/enums"
)

// PriceTable binds provider price ids to entitlement tiers. It is immutable after construction.
type PriceTable struct {
	tiers map[string]enums.SubscriptionTier
}

// NewPriceTable copies the provided bindings, skipping blank ids and non-paid tiers.
func NewPriceTable(bindings map[string]enums.SubscriptionTier) PriceTable {
	tiers := make(map[string]enums.SubscriptionTier, len(bindings))
	for id, tier := range bindings {
		id = strings.TrimSpace(id)
		if id == "" || !tier.IsPaid() {
			continue
		}
		tiers[id] = tier
	}
	return PriceTable{tiers: tiers}
}

// PriceTableFromConfig builds the table from the three configured price ids.
func PriceTableFromConfig(cfg config.StripeConfig) PriceTable {
	return NewPriceTable(cfg.PriceTable())
}

// Resolve maps a price id to its tier. Unknown or empty ids resolve to free.
func (p PriceTable) Resolve(priceID string) enums.SubscriptionTier {
	if tier, ok := p.tiers[strings.TrimSpace(priceID)]; ok {
		return tier
	}
	return enums.SubscriptionTierFree
}

// Contains reports whether the price id is one of the configured paid prices.
func (p PriceTable) Contains(priceID string) bool {
	_, ok := p.tiers[strings.TrimSpace(priceID)]
	return ok
}

// Len returns the number of configured prices.
func (p PriceTable) Len() int {
	return len(p.tiers)
}

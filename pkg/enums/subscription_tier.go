package enums

import "fmt"

// SubscriptionTier is the entitlement level granted to a profile.
type SubscriptionTier string

const (
	SubscriptionTierFree     SubscriptionTier = "free"
	SubscriptionTierBasic    SubscriptionTier = "basic"
	SubscriptionTierStandard SubscriptionTier = "standard"
	SubscriptionTierPremium  SubscriptionTier = "premium"
)

var validSubscriptionTiers = []SubscriptionTier{
	SubscriptionTierFree,
	SubscriptionTierBasic,
	SubscriptionTierStandard,
	SubscriptionTierPremium,
}

func (t SubscriptionTier) String() string {
	return string(t)
}

// IsValid reports whether the value is a known tier.
func (t SubscriptionTier) IsValid() bool {
	for _, candidate := range validSubscriptionTiers {
		if candidate == t {
			return true
		}
	}
	return false
}

// IsPaid reports whether the tier is anything above free.
func (t SubscriptionTier) IsPaid() bool {
	return t.IsValid() && t != SubscriptionTierFree
}

// ParseSubscriptionTier converts raw input into a SubscriptionTier.
func ParseSubscriptionTier(value string) (SubscriptionTier, error) {
	for _, candidate := range validSubscriptionTiers {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid subscription tier %q", value)
}

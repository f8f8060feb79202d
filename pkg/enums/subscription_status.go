package enums

import "fmt"

// SubscriptionStatus mirrors the billing provider's subscription state.
// Provider "canceled" is normalized to "cancelled" before it is persisted.
type SubscriptionStatus string

const (
	SubscriptionStatusTrialing          SubscriptionStatus = "trialing"
	SubscriptionStatusActive            SubscriptionStatus = "active"
	SubscriptionStatusPastDue           SubscriptionStatus = "past_due"
	SubscriptionStatusCancelled         SubscriptionStatus = "cancelled"
	SubscriptionStatusIncomplete        SubscriptionStatus = "incomplete"
	SubscriptionStatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
	SubscriptionStatusUnpaid            SubscriptionStatus = "unpaid"
	SubscriptionStatusPaused            SubscriptionStatus = "paused"
)

// providerCanceled is the American spelling used on the wire.
const providerCanceled = "canceled"

var validSubscriptionStatuses = []SubscriptionStatus{
	SubscriptionStatusTrialing,
	SubscriptionStatusActive,
	SubscriptionStatusPastDue,
	SubscriptionStatusCancelled,
	SubscriptionStatusIncomplete,
	SubscriptionStatusIncompleteExpired,
	SubscriptionStatusUnpaid,
	SubscriptionStatusPaused,
}

// String implements fmt.Stringer.
func (s SubscriptionStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is known.
func (s SubscriptionStatus) IsValid() bool {
	for _, candidate := range validSubscriptionStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ProfileStatus collapses a subscription status into the profile-level vocabulary.
func (s SubscriptionStatus) ProfileStatus() ProfileSubscriptionStatus {
	switch s {
	case SubscriptionStatusActive, SubscriptionStatusTrialing:
		return ProfileStatusActive
	case SubscriptionStatusPastDue, SubscriptionStatusUnpaid:
		return ProfileStatusPastDue
	case SubscriptionStatusCancelled:
		return ProfileStatusCancelled
	case SubscriptionStatusIncompleteExpired:
		return ProfileStatusExpired
	default:
		return ProfileStatusInactive
	}
}

// ParseSubscriptionStatus converts raw input into a SubscriptionStatus.
// The provider spelling "canceled" is accepted and normalized.
func ParseSubscriptionStatus(value string) (SubscriptionStatus, error) {
	if value == providerCanceled {
		return SubscriptionStatusCancelled, nil
	}
	for _, candidate := range validSubscriptionStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid subscription status %q", value)
}

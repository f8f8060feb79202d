package enums

import "fmt"

// ProfileSubscriptionStatus is the subscription status surfaced on a profile.
type ProfileSubscriptionStatus string

const (
	ProfileStatusActive    ProfileSubscriptionStatus = "active"
	ProfileStatusPastDue   ProfileSubscriptionStatus = "past_due"
	ProfileStatusCancelled ProfileSubscriptionStatus = "cancelled"
	ProfileStatusExpired   ProfileSubscriptionStatus = "expired"
	ProfileStatusInactive  ProfileSubscriptionStatus = "inactive"
)

var validProfileStatuses = []ProfileSubscriptionStatus{
	ProfileStatusActive,
	ProfileStatusPastDue,
	ProfileStatusCancelled,
	ProfileStatusExpired,
	ProfileStatusInactive,
}

func (s ProfileSubscriptionStatus) String() string {
	return string(s)
}

func (s ProfileSubscriptionStatus) IsValid() bool {
	for _, candidate := range validProfileStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseProfileSubscriptionStatus converts raw input into a ProfileSubscriptionStatus.
func ParseProfileSubscriptionStatus(value string) (ProfileSubscriptionStatus, error) {
	for _, candidate := range validProfileStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid profile subscription status %q", value)
}

package enums

import "fmt"

// OutboxAggregateType identifies the entity an outbox event describes.
type OutboxAggregateType string

const (
	AggregateProfile      OutboxAggregateType = "profile"
	AggregateSubscription OutboxAggregateType = "subscription"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateProfile,
	AggregateSubscription,
}

// IsValid reports whether the value matches a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType names a domain event emitted via the outbox.
type OutboxEventType string

const (
	EventEntitlementChanged OutboxEventType = "entitlement_changed"
)

var validOutboxEventTypes = []OutboxEventType{
	EventEntitlementChanged,
}

// IsValid reports whether the value matches a known event type.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}

package service

import "github.com/google/uuid"

const (
	EventUsageLimitReached = "license.usage_limit_reached"
	EventKeyRegenerated    = "license.key_regenerated"
	EventLicenseActivated  = "license.activated"
	EventLicenseSuspended  = "license.suspended"
	EventMembershipChanged = "clinic.membership_changed"
)

// Event is pushed to connected clients of one clinic.
type Event struct {
	Type     string      `json:"type"`
	ClinicID uuid.UUID   `json:"clinic_id"`
	Payload  interface{} `json:"payload,omitempty"`
}

// EventPublisher delivers events to clinic subscribers. Delivery is best effort.
type EventPublisher interface {
	Publish(event Event)
}

type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}

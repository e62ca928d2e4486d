package models

import "time"

// RegistrationEventType labels domain events emitted after a transition.
type RegistrationEventType string

const (
	EventRegistrationCreated   RegistrationEventType = "REGISTRATION_CREATED"
	EventRegistrationApproved  RegistrationEventType = "REGISTRATION_APPROVED"
	EventRegistrationRejected  RegistrationEventType = "REGISTRATION_REJECTED"
	EventRegistrationCancelled RegistrationEventType = "REGISTRATION_CANCELLED"
	EventRegistrationAttended  RegistrationEventType = "REGISTRATION_ATTENDED"
	EventRegistrationAbsent    RegistrationEventType = "REGISTRATION_ABSENT"
)

// RegistrationEvent carries the full post-transition snapshot plus the acting
// identity, for notification and audit consumers. Events are emitted only
// after the conditional update succeeded, so a lost race never dispatches a
// duplicate.
type RegistrationEvent struct {
	Type         RegistrationEventType `json:"type"`
	Registration Registration          `json:"registration"`
	Actor        Actor                 `json:"actor"`
	OccurredAt   time.Time             `json:"occurred_at"`
}

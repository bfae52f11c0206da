package events

import "time"

// Event envelope for all events
type Envelope struct {
	EventID        string         `json:"event_id"`
	EventType      string         `json:"event_type"`
	SchemaVersion  string         `json:"schema_version"`
	IdempotencyKey string         `json:"idempotency_key"`
	Timestamp      time.Time      `json:"timestamp"`
	Source         string         `json:"source"`
	Subject        string         `json:"subject,omitempty"`
	Data           map[string]any `json:"data"`
}

// Event type constants
const (
	// Job Events
	EventJobPosted    = "job.posted"
	EventJobCompleted = "job.completed"
	EventJobClosed    = "job.closed"
	EventJobReopened  = "job.reopened"

	// Offer Events
	EventOfferSubmitted     = "offer.submitted"
	EventOfferEdited        = "offer.edited"
	EventNegotiationStarted = "negotiation.started"
	EventCounterOfferAdded  = "counter_offer.added"
	EventOfferAccepted      = "offer.accepted"
	EventOfferWithdrawn     = "offer.withdrawn"

	// Payment Events
	EventPaymentInitiated = "payment.initiated"
	EventPaymentSettled   = "payment.settled"

	// Rating Events
	EventRatingSubmitted = "rating.submitted"
)

// AllEventTypes lists every event the negotiation service emits.
var AllEventTypes = []string{
	EventJobPosted,
	EventOfferSubmitted,
	EventOfferEdited,
	EventNegotiationStarted,
	EventCounterOfferAdded,
	EventOfferAccepted,
	EventOfferWithdrawn,
	EventJobCompleted,
	EventJobClosed,
	EventJobReopened,
	EventPaymentInitiated,
	EventPaymentSettled,
	EventRatingSubmitted,
}

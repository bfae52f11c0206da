package model

import "time"

// OfferStatus represents the lifecycle state of an offer
type OfferStatus string

const (
	OfferStatusPending     OfferStatus = "PENDING"
	OfferStatusNegotiating OfferStatus = "NEGOTIATING"
	OfferStatusOngoing     OfferStatus = "ONGOING"
	OfferStatusCompleted   OfferStatus = "COMPLETED"
	OfferStatusWithdrawn   OfferStatus = "WITHDRAWN"
)

// WithdrawReason records why an offer left the negotiation
type WithdrawReason string

const (
	WithdrawnByProvider   WithdrawReason = "provider_withdrew"
	WithdrawnSiblingWon   WithdrawReason = "sibling_accepted"
	WithdrawnByJobClosure WithdrawReason = "job_closed"
)

// Offer is a provider's bid against exactly one job
type Offer struct {
	ID          string      `json:"offer_id" bson:"_id" firestore:"offer_id"`
	JobID       string      `json:"job_id" bson:"job_id" firestore:"job_id"`
	ProviderID  string      `json:"provider_id" bson:"provider_id" firestore:"provider_id"`
	Price       string      `json:"price" bson:"price" firestore:"price"` // Decimal as string, minor currency unit
	Description string      `json:"description" bson:"description" firestore:"description"`
	Status      OfferStatus `json:"status" bson:"status" firestore:"status"`

	Accepted               bool           `json:"accepted" bson:"accepted" firestore:"accepted"`
	AgreedPrice            string         `json:"agreed_price,omitempty" bson:"agreed_price,omitempty" firestore:"agreed_price,omitempty"`
	AcceptedCounterOfferID string         `json:"accepted_counter_offer_id,omitempty" bson:"accepted_counter_offer_id,omitempty" firestore:"accepted_counter_offer_id,omitempty"`
	WithdrawReason         WithdrawReason `json:"withdraw_reason,omitempty" bson:"withdraw_reason,omitempty" firestore:"withdraw_reason,omitempty"`

	Version     int64      `json:"version" bson:"version" firestore:"version"`
	CreatedAt   time.Time  `json:"created_at" bson:"created_at" firestore:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" bson:"updated_at" firestore:"updated_at"`
	WithdrawnAt *time.Time `json:"withdrawn_at,omitempty" bson:"withdrawn_at,omitempty" firestore:"withdrawn_at,omitempty"`
}

// Live reports whether the offer still takes part in its job.
func (o Offer) Live() bool {
	return o.Status != OfferStatusWithdrawn
}

func (o Offer) Clone() Offer {
	out := o
	if o.WithdrawnAt != nil {
		t := *o.WithdrawnAt
		out.WithdrawnAt = &t
	}
	return out
}

// CounterOffer is one entry in the append-only negotiation thread of an offer.
// Accepted is never stored; it is filled in on read from the owning offer.
type CounterOffer struct {
	ID          string    `json:"counter_offer_id" bson:"_id" firestore:"counter_offer_id"`
	OfferID     string    `json:"offer_id" bson:"offer_id" firestore:"offer_id"`
	AuthorID    string    `json:"author_id" bson:"author_id" firestore:"author_id"`
	AuthorRole  Role      `json:"author_role" bson:"author_role" firestore:"author_role"`
	Price       string    `json:"price" bson:"price" firestore:"price"` // Decimal as string, minor currency unit
	Description string    `json:"description" bson:"description" firestore:"description"`
	Accepted    bool      `json:"accepted" bson:"-" firestore:"-"`
	CreatedAt   time.Time `json:"created_at" bson:"created_at" firestore:"created_at"`
}

// Before orders counter-offers by creation time, then by id.
func (c CounterOffer) Before(other CounterOffer) bool {
	if !c.CreatedAt.Equal(other.CreatedAt) {
		return c.CreatedAt.Before(other.CreatedAt)
	}
	return c.ID < other.ID
}

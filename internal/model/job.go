package model

import "time"

// JobStatus represents the lifecycle state of a job
type JobStatus string

const (
	JobStatusOpen        JobStatus = "OPEN"
	JobStatusNegotiating JobStatus = "NEGOTIATING"
	JobStatusOngoing     JobStatus = "ONGOING"
	JobStatusCompleted   JobStatus = "COMPLETED"
	JobStatusClosed      JobStatus = "CLOSED"
)

// PaymentStatus tracks the outcome of the payment trigger for an accepted offer
type PaymentStatus string

const (
	PaymentStatusRequested      PaymentStatus = "REQUESTED"
	PaymentStatusCheckoutIssued PaymentStatus = "CHECKOUT_ISSUED"
	PaymentStatusUnavailable    PaymentStatus = "UNAVAILABLE"
	PaymentStatusSettled        PaymentStatus = "SETTLED"
	PaymentStatusFailed         PaymentStatus = "FAILED"
)

// Retryable reports whether a new payment attempt may be started.
func (s PaymentStatus) Retryable() bool {
	return s == PaymentStatusUnavailable || s == PaymentStatusFailed
}

// PaymentRecord is the payment state for the accepted offer of a job
type PaymentRecord struct {
	OfferID       string        `json:"offer_id" bson:"offer_id" firestore:"offer_id"`
	Amount        string        `json:"amount" bson:"amount" firestore:"amount"` // Decimal as string
	Method        string        `json:"method" bson:"method" firestore:"method"`
	Status        PaymentStatus `json:"status" bson:"status" firestore:"status"`
	CheckoutURL   string        `json:"checkout_url,omitempty" bson:"checkout_url,omitempty" firestore:"checkout_url,omitempty"`
	Reference     string        `json:"reference,omitempty" bson:"reference,omitempty" firestore:"reference,omitempty"`
	Round         int           `json:"round" bson:"round" firestore:"round"`
	Attempts      int           `json:"attempts" bson:"attempts" firestore:"attempts"`
	LastError     string        `json:"last_error,omitempty" bson:"last_error,omitempty" firestore:"last_error,omitempty"`
	NextAttemptAt *time.Time    `json:"next_attempt_at,omitempty" bson:"next_attempt_at,omitempty" firestore:"next_attempt_at,omitempty"`
	UpdatedAt     time.Time     `json:"updated_at" bson:"updated_at" firestore:"updated_at"`
}

// Rating is a post-completion rating left by one party of the accepted offer
type Rating struct {
	RaterID   string    `json:"rater_id" bson:"rater_id" firestore:"rater_id"`
	RaterRole Role      `json:"rater_role" bson:"rater_role" firestore:"rater_role"`
	Score     int       `json:"score" bson:"score" firestore:"score"`
	Comment   string    `json:"comment,omitempty" bson:"comment,omitempty" firestore:"comment,omitempty"`
	CreatedAt time.Time `json:"created_at" bson:"created_at" firestore:"created_at"`
}

// Job is a service need posted by a client
type Job struct {
	ID          string    `json:"job_id" bson:"_id" firestore:"job_id"`
	ClientID    string    `json:"client_id" bson:"client_id" firestore:"client_id"`
	CategoryID  string    `json:"category_id" bson:"category_id" firestore:"category_id"`
	Description string    `json:"description" bson:"description" firestore:"description"`
	Address     string    `json:"address" bson:"address" firestore:"address"`
	Status      JobStatus `json:"status" bson:"status" firestore:"status"`

	PaymentPending bool           `json:"payment_pending" bson:"payment_pending" firestore:"payment_pending"`
	Payment        *PaymentRecord `json:"payment,omitempty" bson:"payment,omitempty" firestore:"payment,omitempty"`
	Ratings        []Rating       `json:"ratings,omitempty" bson:"ratings,omitempty" firestore:"ratings,omitempty"`

	Version     int64      `json:"version" bson:"version" firestore:"version"`
	CreatedAt   time.Time  `json:"created_at" bson:"created_at" firestore:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" bson:"updated_at" firestore:"updated_at"`
	ClosedAt    *time.Time `json:"closed_at,omitempty" bson:"closed_at,omitempty" firestore:"closed_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty" bson:"completed_at,omitempty" firestore:"completed_at,omitempty"`
}

// Clone returns a copy that shares no mutable state with j.
func (j Job) Clone() Job {
	out := j
	if j.Payment != nil {
		p := *j.Payment
		if j.Payment.NextAttemptAt != nil {
			t := *j.Payment.NextAttemptAt
			p.NextAttemptAt = &t
		}
		out.Payment = &p
	}
	if j.Ratings != nil {
		out.Ratings = append([]Rating(nil), j.Ratings...)
	}
	if j.ClosedAt != nil {
		t := *j.ClosedAt
		out.ClosedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		out.CompletedAt = &t
	}
	return out
}

// HasRated reports whether raterID already rated this job.
func (j Job) HasRated(raterID string) bool {
	for _, r := range j.Ratings {
		if r.RaterID == raterID {
			return true
		}
	}
	return false
}

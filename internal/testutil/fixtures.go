package testutil

import (
	"time"

	"github.com/parlakisik/agent-exchange/aex-negotiation/internal/model"
)

// Fixed parties used across tests
var (
	Client   = model.Caller{ID: "client_test001", Role: model.RoleClient}
	Provider = model.Caller{ID: "provider_test001", Role: model.RoleProvider}
	Rival    = model.Caller{ID: "provider_test002", Role: model.RoleProvider}
	Stranger = model.Caller{ID: "client_test999", Role: model.RoleClient}
)

// JobFixture builds jobs for store-level tests
type JobFixture struct {
	job model.Job
}

// NewJobFixture creates an open job owned by Client
func NewJobFixture() JobFixture {
	now := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	return JobFixture{job: model.Job{
		ID:          "job_test_001",
		ClientID:    Client.ID,
		CategoryID:  "plumbing",
		Description: "Fix leaking kitchen tap",
		Address:     "12 Test Street",
		Status:      model.JobStatusOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}}
}

// WithID sets the job ID
func (f JobFixture) WithID(id string) JobFixture {
	f.job.ID = id
	return f
}

// AwaitingPayment marks the job as having an unavailable payment due at due
func (f JobFixture) AwaitingPayment(offerID string, due time.Time) JobFixture {
	f.job.Status = model.JobStatusOngoing
	f.job.PaymentPending = true
	f.job.Payment = &model.PaymentRecord{
		OfferID:       offerID,
		Amount:        "100",
		Method:        "wallet",
		Status:        model.PaymentStatusUnavailable,
		Attempts:      1,
		NextAttemptAt: &due,
		UpdatedAt:     f.job.UpdatedAt,
	}
	return f
}

func (f JobFixture) Build() model.Job {
	return f.job.Clone()
}

// OfferFixture builds offers for store-level tests
type OfferFixture struct {
	offer model.Offer
}

// NewOfferFixture creates a pending offer by Provider on the default job
func NewOfferFixture() OfferFixture {
	now := time.Date(2026, 1, 2, 11, 0, 0, 0, time.UTC)
	return OfferFixture{offer: model.Offer{
		ID:          "offer_test_001",
		JobID:       "job_test_001",
		ProviderID:  Provider.ID,
		Price:       "120",
		Description: "Can come tomorrow",
		Status:      model.OfferStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}}
}

// WithID sets the offer ID
func (f OfferFixture) WithID(id string) OfferFixture {
	f.offer.ID = id
	return f
}

// WithJobID sets the job the offer belongs to
func (f OfferFixture) WithJobID(jobID string) OfferFixture {
	f.offer.JobID = jobID
	return f
}

// WithPrice sets the offer price
func (f OfferFixture) WithPrice(price string) OfferFixture {
	f.offer.Price = price
	return f
}

func (f OfferFixture) Build() model.Offer {
	return f.offer.Clone()
}

// NewCounterOfferFixture creates a counter-offer on offerID at the given time
func NewCounterOfferFixture(id, offerID string, author model.Caller, price string, at time.Time) model.CounterOffer {
	return model.CounterOffer{
		ID:          id,
		OfferID:     offerID,
		AuthorID:    author.ID,
		AuthorRole:  author.Role,
		Price:       price,
		Description: "counter " + price,
		CreatedAt:   at,
	}
}

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/parlakisik/agent-exchange/aex-negotiation/internal/model"
)

// Transition is a set of entity writes committed all-or-nothing.
//
// A job or offer whose Version is 0 is inserted; any other Version is the
// version the caller read, and the write only succeeds if the stored entity
// still carries it. On success the Version fields are advanced in place.
// Counter-offers are always inserts.
type Transition struct {
	Jobs          []model.Job
	Offers        []model.Offer
	CounterOffers []model.CounterOffer
}

// EntityStore defines the interface for negotiation persistence
type EntityStore interface {
	GetJob(ctx context.Context, jobID string) (model.Job, error)
	GetOffer(ctx context.Context, offerID string) (model.Offer, error)
	ListOffersForJob(ctx context.Context, jobID string) ([]model.Offer, error)
	ListCounterOffers(ctx context.Context, offerID string) ([]model.CounterOffer, error)
	// ListJobsAwaitingPayment returns jobs whose payment trigger failed or
	// never reported back, and whose next attempt is due at or before now.
	ListJobsAwaitingPayment(ctx context.Context, now time.Time, limit int) ([]model.Job, error)

	ApplyTransition(ctx context.Context, tx *Transition) error
	Close() error
}

// CreateJob inserts a new job.
func CreateJob(ctx context.Context, s EntityStore, job *model.Job) error {
	tx := &Transition{Jobs: []model.Job{*job}}
	if err := s.ApplyTransition(ctx, tx); err != nil {
		return err
	}
	job.Version = tx.Jobs[0].Version
	return nil
}

// CreateOffer inserts an offer and bumps the version of the job it was
// validated against, so concurrent offers on the same job serialize.
func CreateOffer(ctx context.Context, s EntityStore, job *model.Job, offer *model.Offer) error {
	tx := &Transition{Jobs: []model.Job{*job}, Offers: []model.Offer{*offer}}
	if err := s.ApplyTransition(ctx, tx); err != nil {
		return err
	}
	job.Version = tx.Jobs[0].Version
	offer.Version = tx.Offers[0].Version
	return nil
}

// AppendCounterOffer appends co to the offer's thread, bumping both the job
// and the offer so racing appends on one thread conflict.
func AppendCounterOffer(ctx context.Context, s EntityStore, job *model.Job, offer *model.Offer, co model.CounterOffer) error {
	tx := &Transition{
		Jobs:          []model.Job{*job},
		Offers:        []model.Offer{*offer},
		CounterOffers: []model.CounterOffer{co},
	}
	if err := s.ApplyTransition(ctx, tx); err != nil {
		return err
	}
	job.Version = tx.Jobs[0].Version
	offer.Version = tx.Offers[0].Version
	return nil
}

// sweepStatuses are the payment states the retry worker picks up. A
// REQUESTED payment past its deadline was interrupted before its outcome
// could be recorded.
var sweepStatuses = []model.PaymentStatus{model.PaymentStatusRequested, model.PaymentStatusUnavailable}

func retrySweepable(s model.PaymentStatus) bool {
	for _, st := range sweepStatuses {
		if s == st {
			return true
		}
	}
	return false
}

func conflictf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{model.ErrConflict}, args...)...)
}

func notFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{model.ErrNotFound}, args...)...)
}

// advance sets every entity version in tx to the committed value.
func advance(tx *Transition) {
	for i := range tx.Jobs {
		tx.Jobs[i].Version++
	}
	for i := range tx.Offers {
		tx.Offers[i].Version++
	}
}

// checkDistinct rejects transitions writing the same id twice.
func checkDistinct(tx *Transition) error {
	seen := make(map[string]struct{}, len(tx.Jobs)+len(tx.Offers)+len(tx.CounterOffers))
	add := func(id string) error {
		if id == "" {
			return conflictf("empty entity id")
		}
		if _, ok := seen[id]; ok {
			return conflictf("entity %s written twice in one transition", id)
		}
		seen[id] = struct{}{}
		return nil
	}
	for _, j := range tx.Jobs {
		if err := add(j.ID); err != nil {
			return err
		}
	}
	for _, o := range tx.Offers {
		if err := add(o.ID); err != nil {
			return err
		}
	}
	for _, c := range tx.CounterOffers {
		if err := add(c.ID); err != nil {
			return err
		}
	}
	return nil
}

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/parlakisik/agent-exchange/aex-negotiation/internal/model"
)

// MemoryStore is an in-memory implementation of EntityStore for development
// and tests. A single lock covers every transition.
type MemoryStore struct {
	mu       sync.RWMutex
	jobs     map[string]model.Job
	offers   map[string]model.Offer
	byJob    map[string][]string
	threads  map[string][]model.CounterOffer
	counters map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:     make(map[string]model.Job),
		offers:   make(map[string]model.Offer),
		byJob:    make(map[string][]string),
		threads:  make(map[string][]model.CounterOffer),
		counters: make(map[string]struct{}),
	}
}

func (s *MemoryStore) GetJob(ctx context.Context, jobID string) (model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return model.Job{}, notFoundf("job %s", jobID)
	}
	return job.Clone(), nil
}

func (s *MemoryStore) GetOffer(ctx context.Context, offerID string) (model.Offer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	offer, ok := s.offers[offerID]
	if !ok {
		return model.Offer{}, notFoundf("offer %s", offerID)
	}
	return offer.Clone(), nil
}

func (s *MemoryStore) ListOffersForJob(ctx context.Context, jobID string) ([]model.Offer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byJob[jobID]
	out := make([]model.Offer, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.offers[id].Clone())
	}
	return out, nil
}

func (s *MemoryStore) ListCounterOffers(ctx context.Context, offerID string) ([]model.CounterOffer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.CounterOffer(nil), s.threads[offerID]...), nil
}

func (s *MemoryStore) ListJobsAwaitingPayment(ctx context.Context, now time.Time, limit int) ([]model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Job
	for _, job := range s.jobs {
		if !awaitingRetry(job, now) {
			continue
		}
		out = append(out, job.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Payment.NextAttemptAt.Before(*out[j].Payment.NextAttemptAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ApplyTransition(ctx context.Context, tx *Transition) error {
	if err := checkDistinct(tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, j := range tx.Jobs {
		cur, ok := s.jobs[j.ID]
		if err := checkVersion("job", j.ID, j.Version, cur.Version, ok); err != nil {
			return err
		}
	}
	pendingOffers := make(map[string]struct{}, len(tx.Offers))
	for _, o := range tx.Offers {
		cur, ok := s.offers[o.ID]
		if err := checkVersion("offer", o.ID, o.Version, cur.Version, ok); err != nil {
			return err
		}
		pendingOffers[o.ID] = struct{}{}
	}
	for _, c := range tx.CounterOffers {
		if _, ok := s.counters[c.ID]; ok {
			return conflictf("counter-offer %s already exists", c.ID)
		}
		_, known := s.offers[c.OfferID]
		_, inTx := pendingOffers[c.OfferID]
		if !known && !inTx {
			return conflictf("counter-offer %s references unknown offer %s", c.ID, c.OfferID)
		}
	}

	advance(tx)
	for _, j := range tx.Jobs {
		s.jobs[j.ID] = j.Clone()
	}
	for _, o := range tx.Offers {
		if _, ok := s.offers[o.ID]; !ok {
			s.byJob[o.JobID] = append(s.byJob[o.JobID], o.ID)
		}
		s.offers[o.ID] = o.Clone()
	}
	for _, c := range tx.CounterOffers {
		c.Accepted = false
		s.threads[c.OfferID] = append(s.threads[c.OfferID], c)
		s.counters[c.ID] = struct{}{}
	}
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func checkVersion(kind, id string, want, have int64, exists bool) error {
	if want == 0 {
		if exists {
			return conflictf("%s %s already exists", kind, id)
		}
		return nil
	}
	if !exists {
		return conflictf("%s %s no longer exists", kind, id)
	}
	if have != want {
		return conflictf("%s %s is at version %d, expected %d", kind, id, have, want)
	}
	return nil
}

func awaitingRetry(job model.Job, now time.Time) bool {
	if !job.PaymentPending || job.Payment == nil {
		return false
	}
	if !retrySweepable(job.Payment.Status) || job.Payment.NextAttemptAt == nil {
		return false
	}
	return !job.Payment.NextAttemptAt.After(now)
}

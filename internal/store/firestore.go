package store

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/parlakisik/agent-exchange/aex-negotiation/internal/model"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreStore keeps each entity kind in its own collection, keyed by id.
// Transitions run inside RunTransaction, which retries on contention.
type FirestoreStore struct {
	client        *firestore.Client
	jobs          string
	offers        string
	counterOffers string
}

func NewFirestoreStore(projectID, prefix string) (*FirestoreStore, error) {
	client, err := firestore.NewClient(context.Background(), projectID)
	if err != nil {
		return nil, fmt.Errorf("firestore client: %w", err)
	}
	return &FirestoreStore{
		client:        client,
		jobs:          prefix + "jobs",
		offers:        prefix + "offers",
		counterOffers: prefix + "counter_offers",
	}, nil
}

func (s *FirestoreStore) GetJob(ctx context.Context, jobID string) (model.Job, error) {
	doc, err := s.client.Collection(s.jobs).Doc(jobID).Get(ctx)
	if missing(doc) {
		return model.Job{}, notFoundf("job %s", jobID)
	}
	if err != nil {
		return model.Job{}, fmt.Errorf("get job: %w", err)
	}

	var job model.Job
	if err := doc.DataTo(&job); err != nil {
		return model.Job{}, fmt.Errorf("decode job: %w", err)
	}
	return job, nil
}

func (s *FirestoreStore) GetOffer(ctx context.Context, offerID string) (model.Offer, error) {
	doc, err := s.client.Collection(s.offers).Doc(offerID).Get(ctx)
	if missing(doc) {
		return model.Offer{}, notFoundf("offer %s", offerID)
	}
	if err != nil {
		return model.Offer{}, fmt.Errorf("get offer: %w", err)
	}

	var offer model.Offer
	if err := doc.DataTo(&offer); err != nil {
		return model.Offer{}, fmt.Errorf("decode offer: %w", err)
	}
	return offer, nil
}

func (s *FirestoreStore) ListOffersForJob(ctx context.Context, jobID string) ([]model.Offer, error) {
	iter := s.client.Collection(s.offers).
		Where("job_id", "==", jobID).
		OrderBy("created_at", firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var offers []model.Offer
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterate offers: %w", err)
		}
		var offer model.Offer
		if err := doc.DataTo(&offer); err != nil {
			return nil, fmt.Errorf("decode offer: %w", err)
		}
		offers = append(offers, offer)
	}
	return offers, nil
}

func (s *FirestoreStore) ListCounterOffers(ctx context.Context, offerID string) ([]model.CounterOffer, error) {
	iter := s.client.Collection(s.counterOffers).
		Where("offer_id", "==", offerID).
		OrderBy("created_at", firestore.Asc).
		OrderBy("counter_offer_id", firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var thread []model.CounterOffer
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterate counter-offers: %w", err)
		}
		var co model.CounterOffer
		if err := doc.DataTo(&co); err != nil {
			return nil, fmt.Errorf("decode counter-offer: %w", err)
		}
		thread = append(thread, co)
	}
	return thread, nil
}

func (s *FirestoreStore) ListJobsAwaitingPayment(ctx context.Context, now time.Time, limit int) ([]model.Job, error) {
	iter := s.client.Collection(s.jobs).
		Where("payment_pending", "==", true).
		Where("payment.status", "in", []string{
			string(model.PaymentStatusRequested),
			string(model.PaymentStatusUnavailable),
		}).
		Documents(ctx)
	defer iter.Stop()

	var jobs []model.Job
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterate jobs: %w", err)
		}
		var job model.Job
		if err := doc.DataTo(&job); err != nil {
			return nil, fmt.Errorf("decode job: %w", err)
		}
		if !awaitingRetry(job, now) {
			continue
		}
		jobs = append(jobs, job)
		if limit > 0 && len(jobs) == limit {
			break
		}
	}
	return jobs, nil
}

func (s *FirestoreStore) ApplyTransition(ctx context.Context, tx *Transition) error {
	if err := checkDistinct(tx); err != nil {
		return err
	}

	err := s.client.RunTransaction(ctx, func(ctx context.Context, t *firestore.Transaction) error {
		// Firestore requires every read to happen before the first write.
		for _, j := range tx.Jobs {
			if err := s.checkVersion(t, s.jobs, "job", j.ID, j.Version); err != nil {
				return err
			}
		}
		inTx := make(map[string]struct{}, len(tx.Offers))
		for _, o := range tx.Offers {
			if err := s.checkVersion(t, s.offers, "offer", o.ID, o.Version); err != nil {
				return err
			}
			inTx[o.ID] = struct{}{}
		}
		for _, c := range tx.CounterOffers {
			doc, err := t.Get(s.client.Collection(s.counterOffers).Doc(c.ID))
			if !missing(doc) {
				if err != nil {
					return err
				}
				return conflictf("counter-offer %s already exists", c.ID)
			}
			if _, ok := inTx[c.OfferID]; ok {
				continue
			}
			doc, err = t.Get(s.client.Collection(s.offers).Doc(c.OfferID))
			if missing(doc) {
				return conflictf("counter-offer %s references unknown offer %s", c.ID, c.OfferID)
			}
			if err != nil {
				return err
			}
		}

		for _, j := range tx.Jobs {
			next := j.Clone()
			next.Version = j.Version + 1
			if err := t.Set(s.client.Collection(s.jobs).Doc(j.ID), next); err != nil {
				return err
			}
		}
		for _, o := range tx.Offers {
			next := o.Clone()
			next.Version = o.Version + 1
			if err := t.Set(s.client.Collection(s.offers).Doc(o.ID), next); err != nil {
				return err
			}
		}
		for _, c := range tx.CounterOffers {
			if err := t.Create(s.client.Collection(s.counterOffers).Doc(c.ID), c); err != nil {
				return err
			}
		}
		return nil
	})
	if status.Code(err) == codes.Aborted {
		// RunTransaction gave up retrying against concurrent writers.
		return conflictf("transition aborted under contention: %v", err)
	}
	if err != nil {
		return err
	}

	advance(tx)
	return nil
}

func (s *FirestoreStore) checkVersion(t *firestore.Transaction, collection, kind, id string, want int64) error {
	doc, err := t.Get(s.client.Collection(collection).Doc(id))
	if missing(doc) {
		return checkVersion(kind, id, want, 0, false)
	}
	if err != nil {
		return err
	}
	raw, err := doc.DataAt("version")
	if err != nil {
		return fmt.Errorf("read %s version: %w", kind, err)
	}
	have, ok := raw.(int64)
	if !ok {
		return fmt.Errorf("%s %s has malformed version %v", kind, id, raw)
	}
	return checkVersion(kind, id, want, have, true)
}

// missing reports whether a Get returned a snapshot for an absent document.
// Firestore returns such a snapshot together with a NotFound error.
func missing(doc *firestore.DocumentSnapshot) bool {
	return doc != nil && !doc.Exists()
}

func (s *FirestoreStore) Close() error {
	return s.client.Close()
}

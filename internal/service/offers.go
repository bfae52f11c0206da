package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/parlakisik/agent-exchange/aex-negotiation/internal/events"
	"github.com/parlakisik/agent-exchange/aex-negotiation/internal/model"
	"github.com/parlakisik/agent-exchange/aex-negotiation/internal/policy"
	"github.com/parlakisik/agent-exchange/aex-negotiation/internal/store"
)

// SubmitOffer places a provider's bid on an open job.
func (s *Service) SubmitOffer(ctx context.Context, caller model.Caller, req model.SubmitOfferRequest) (snap model.Snapshot, err error) {
	defer func(start time.Time) { observe("SubmitOffer", start, err) }(time.Now())

	if err := validateCaller(caller); err != nil {
		return model.Snapshot{}, err
	}
	price, err := validateSubmitOffer(req)
	if err != nil {
		return model.Snapshot{}, err
	}
	st, err := s.loadJob(ctx, req.JobID)
	if err != nil {
		return model.Snapshot{}, err
	}
	if err := checkVersion(st.job, req.IfVersion); err != nil {
		return model.Snapshot{}, err
	}
	if err := policy.Authorize(st.view(caller), policy.SubmitOffer); err != nil {
		return model.Snapshot{}, err
	}

	now := s.clock()
	offer := model.Offer{
		ID:          newID("offer_"),
		JobID:       st.job.ID,
		ProviderID:  caller.ID,
		Price:       price.String(),
		Description: strings.TrimSpace(req.Description),
		Status:      model.OfferStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	job := st.job
	settle(&job, withOffers(st.offers, offer), now)
	if err := store.CreateOffer(ctx, s.store, &job, &offer); err != nil {
		return model.Snapshot{}, err
	}

	s.publish(ctx, events.EventOfferSubmitted, job, map[string]any{
		"offer_id":    offer.ID,
		"provider_id": offer.ProviderID,
		"price":       offer.Price,
	})
	slog.InfoContext(ctx, "offer_submitted", "job_id", job.ID, "offer_id", offer.ID, "provider_id", offer.ProviderID)

	return model.Snapshot{Job: job, Offer: &offer}, nil
}

// EditOffer changes the price or description of an offer nobody has
// started negotiating yet.
func (s *Service) EditOffer(ctx context.Context, caller model.Caller, req model.EditOfferRequest) (snap model.Snapshot, err error) {
	defer func(start time.Time) { observe("EditOffer", start, err) }(time.Now())

	if err := validateCaller(caller); err != nil {
		return model.Snapshot{}, err
	}
	price, err := validateEditOffer(req)
	if err != nil {
		return model.Snapshot{}, err
	}
	st, err := s.loadOffer(ctx, req.OfferID)
	if err != nil {
		return model.Snapshot{}, err
	}
	if err := checkVersion(st.job, req.IfVersion); err != nil {
		return model.Snapshot{}, err
	}
	if err := policy.Authorize(st.view(caller), policy.EditOffer); err != nil {
		return model.Snapshot{}, err
	}

	now := s.clock()
	offer := st.offer
	if price != nil {
		offer.Price = price.String()
	}
	if d := strings.TrimSpace(req.Description); d != "" {
		offer.Description = d
	}
	offer.UpdatedAt = now
	job := st.job
	settle(&job, withOffers(st.offers, offer), now)

	tx := &store.Transition{Jobs: []model.Job{job}, Offers: []model.Offer{offer}}
	if err := s.store.ApplyTransition(ctx, tx); err != nil {
		return model.Snapshot{}, err
	}
	job, offer = tx.Jobs[0], tx.Offers[0]

	s.publish(ctx, events.EventOfferEdited, job, map[string]any{
		"offer_id": offer.ID,
		"price":    offer.Price,
	})
	slog.InfoContext(ctx, "offer_edited", "job_id", job.ID, "offer_id", offer.ID)

	return model.Snapshot{Job: job, Offer: &offer}, nil
}

// StartNegotiation opens the counter-offer thread on a pending offer.
func (s *Service) StartNegotiation(ctx context.Context, caller model.Caller, req model.OfferRequest) (snap model.Snapshot, err error) {
	defer func(start time.Time) { observe("StartNegotiation", start, err) }(time.Now())

	if err := validateCaller(caller); err != nil {
		return model.Snapshot{}, err
	}
	if err := requireID("offer_id", req.OfferID); err != nil {
		return model.Snapshot{}, err
	}
	st, err := s.loadOffer(ctx, req.OfferID)
	if err != nil {
		return model.Snapshot{}, err
	}
	if err := checkVersion(st.job, req.IfVersion); err != nil {
		return model.Snapshot{}, err
	}
	if err := policy.Authorize(st.view(caller), policy.StartNegotiation); err != nil {
		return model.Snapshot{}, err
	}

	now := s.clock()
	offer := st.offer
	offer.Status = model.OfferStatusNegotiating
	offer.UpdatedAt = now
	job := st.job
	settle(&job, withOffers(st.offers, offer), now)

	tx := &store.Transition{Jobs: []model.Job{job}, Offers: []model.Offer{offer}}
	if err := s.store.ApplyTransition(ctx, tx); err != nil {
		return model.Snapshot{}, err
	}
	job, offer = tx.Jobs[0], tx.Offers[0]

	s.publish(ctx, events.EventNegotiationStarted, job, map[string]any{
		"offer_id":   offer.ID,
		"started_by": caller.ID,
	})
	slog.InfoContext(ctx, "negotiation_started", "job_id", job.ID, "offer_id", offer.ID, "started_by", caller.ID)

	return model.Snapshot{Job: job, Offer: &offer}, nil
}

// SubmitCounterOffer appends a proposal to the offer's thread. Parties
// alternate: a caller cannot answer their own latest counter-offer.
func (s *Service) SubmitCounterOffer(ctx context.Context, caller model.Caller, req model.CounterOfferRequest) (snap model.Snapshot, err error) {
	defer func(start time.Time) { observe("SubmitCounterOffer", start, err) }(time.Now())

	if err := validateCaller(caller); err != nil {
		return model.Snapshot{}, err
	}
	price, err := validateCounterOffer(req)
	if err != nil {
		return model.Snapshot{}, err
	}
	st, err := s.loadOffer(ctx, req.OfferID)
	if err != nil {
		return model.Snapshot{}, err
	}
	if err := checkVersion(st.job, req.IfVersion); err != nil {
		return model.Snapshot{}, err
	}
	if err := policy.Authorize(st.view(caller), policy.SubmitCounterOffer); err != nil {
		return model.Snapshot{}, err
	}

	now := s.clock()
	co := model.CounterOffer{
		ID:          newID("co_"),
		OfferID:     st.offer.ID,
		AuthorID:    caller.ID,
		AuthorRole:  caller.Role,
		Price:       price.String(),
		Description: strings.TrimSpace(req.Description),
		CreatedAt:   threadTime(st.thread, now),
	}
	offer := st.offer
	offer.UpdatedAt = now
	job := st.job
	settle(&job, withOffers(st.offers, offer), now)
	if err := store.AppendCounterOffer(ctx, s.store, &job, &offer, co); err != nil {
		return model.Snapshot{}, err
	}

	s.publish(ctx, events.EventCounterOfferAdded, job, map[string]any{
		"offer_id":         offer.ID,
		"counter_offer_id": co.ID,
		"author_role":      co.AuthorRole,
		"price":            co.Price,
	})
	slog.InfoContext(ctx, "counter_offer_added",
		"job_id", job.ID,
		"offer_id", offer.ID,
		"counter_offer_id", co.ID,
		"author_role", co.AuthorRole,
	)

	return model.Snapshot{Job: job, Offer: &offer, CounterOffer: &co}, nil
}

// WithdrawOffer takes a provider's own unaccepted offer out of the job.
func (s *Service) WithdrawOffer(ctx context.Context, caller model.Caller, req model.OfferRequest) (snap model.Snapshot, err error) {
	defer func(start time.Time) { observe("WithdrawOffer", start, err) }(time.Now())

	if err := validateCaller(caller); err != nil {
		return model.Snapshot{}, err
	}
	if err := requireID("offer_id", req.OfferID); err != nil {
		return model.Snapshot{}, err
	}
	st, err := s.loadOffer(ctx, req.OfferID)
	if err != nil {
		return model.Snapshot{}, err
	}
	if err := checkVersion(st.job, req.IfVersion); err != nil {
		return model.Snapshot{}, err
	}
	if err := policy.Authorize(st.view(caller), policy.WithdrawOffer); err != nil {
		return model.Snapshot{}, err
	}

	now := s.clock()
	offer := st.offer
	offer.Status = model.OfferStatusWithdrawn
	offer.WithdrawReason = model.WithdrawnByProvider
	offer.WithdrawnAt = &now
	offer.UpdatedAt = now
	job := st.job
	settle(&job, withOffers(st.offers, offer), now)

	tx := &store.Transition{Jobs: []model.Job{job}, Offers: []model.Offer{offer}}
	if err := s.store.ApplyTransition(ctx, tx); err != nil {
		return model.Snapshot{}, err
	}
	job, offer = tx.Jobs[0], tx.Offers[0]

	s.publishWithdrawals(ctx, job, []model.Offer{offer})
	slog.InfoContext(ctx, "offer_withdrawn", "job_id", job.ID, "offer_id", offer.ID, "job_status", job.Status)

	return model.Snapshot{Job: job, Offer: &offer}, nil
}

// threadTime stamps a new entry at millisecond precision, strictly after
// every entry already in thread, so stored order survives backends that
// truncate timestamps.
func threadTime(thread []model.CounterOffer, now time.Time) time.Time {
	at := now.Truncate(time.Millisecond)
	for _, c := range thread {
		if !at.After(c.CreatedAt) {
			at = c.CreatedAt.Truncate(time.Millisecond).Add(time.Millisecond)
		}
	}
	return at
}

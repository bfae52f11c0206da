package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/parlakisik/agent-exchange/aex-negotiation/internal/events"
	"github.com/parlakisik/agent-exchange/aex-negotiation/internal/model"
	"github.com/parlakisik/agent-exchange/aex-negotiation/internal/payment"
	"github.com/parlakisik/agent-exchange/aex-negotiation/internal/policy"
	"github.com/parlakisik/agent-exchange/aex-negotiation/internal/projection"
	"github.com/parlakisik/agent-exchange/aex-negotiation/internal/store"
)

// AcceptOffer closes the negotiation on an offer at the latest proposed
// price, withdraws every other live offer on the job and triggers payment.
//
// The acceptance is committed before the wallet is called and is never
// rolled back. A payment failure is recorded on the job and reported in
// Snapshot.PaymentError; the job stays payment-pending until a retry
// succeeds. Accepting an already accepted offer returns the current state.
func (s *Service) AcceptOffer(ctx context.Context, caller model.Caller, req model.AcceptOfferRequest) (snap model.Snapshot, err error) {
	defer func(start time.Time) { observe("AcceptOffer", start, err) }(time.Now())

	if err := validateCaller(caller); err != nil {
		return model.Snapshot{}, err
	}
	if err := validateAccept(req); err != nil {
		return model.Snapshot{}, err
	}
	st, err := s.loadOffer(ctx, req.OfferID)
	if err != nil {
		return model.Snapshot{}, err
	}
	if st.offer.Accepted && caller.Role == model.RoleClient && caller.ID == st.job.ClientID {
		return acceptedSnapshot(st), nil
	}
	if err := checkVersion(st.job, req.IfVersion); err != nil {
		return model.Snapshot{}, err
	}
	if err := policy.Authorize(st.view(caller), policy.AcceptOffer); err != nil {
		return model.Snapshot{}, err
	}

	now := s.clock()
	offer := st.offer
	offer.AgreedPrice = offer.Price
	latest, countered := projection.Latest(st.thread)
	if countered {
		offer.AgreedPrice = latest.Price
		offer.AcceptedCounterOfferID = latest.ID
		latest.Accepted = true
	}
	offer.Status = model.OfferStatusOngoing
	offer.Accepted = true
	offer.UpdatedAt = now

	siblings := withdrawLive(st.offers, offer.ID, model.WithdrawnSiblingWon, now)

	method := req.PaymentMethod
	if method == "" {
		method = payment.DefaultMethod
	}
	due := now.Add(s.retry.StaleAfter)
	job := st.job
	job.PaymentPending = true
	job.Payment = &model.PaymentRecord{
		OfferID:       offer.ID,
		Amount:        offer.AgreedPrice,
		Method:        method,
		Status:        model.PaymentStatusRequested,
		Round:         1,
		Attempts:      1,
		NextAttemptAt: &due,
		UpdatedAt:     now,
	}
	written := append([]model.Offer{offer}, siblings...)
	settle(&job, withOffers(st.offers, written...), now)

	tx := &store.Transition{Jobs: []model.Job{job}, Offers: written}
	if err := s.store.ApplyTransition(ctx, tx); err != nil {
		return model.Snapshot{}, err
	}
	job, offer = tx.Jobs[0], tx.Offers[0]
	accepted := job
	slog.InfoContext(ctx, "offer_accepted",
		"job_id", job.ID,
		"offer_id", offer.ID,
		"agreed_price", offer.AgreedPrice,
		"withdrawn_offers", len(siblings),
	)

	job, recorded, payErr := s.attemptPayment(ctx, job, 1)

	s.publish(ctx, events.EventOfferAccepted, accepted, map[string]any{
		"offer_id":                  offer.ID,
		"provider_id":               offer.ProviderID,
		"agreed_price":              offer.AgreedPrice,
		"accepted_counter_offer_id": offer.AcceptedCounterOfferID,
		"withdrawn_offers":          len(siblings),
	})
	s.publishWithdrawals(ctx, accepted, tx.Offers[1:])
	if recorded {
		s.publishPayment(ctx, job)
	}

	snap = model.Snapshot{Job: job, Offer: &offer}
	if countered {
		snap.CounterOffer = &latest
	}
	if payErr != nil {
		snap.PaymentError = payErr.Error()
	}
	return snap, nil
}

func acceptedSnapshot(st offerState) model.Snapshot {
	offer := st.offer
	snap := model.Snapshot{Job: st.job, Offer: &offer}
	thread := projection.MarkAccepted(offer, st.thread)
	for i := range thread {
		if thread[i].Accepted {
			co := thread[i]
			snap.CounterOffer = &co
		}
	}
	if p := st.job.Payment; p != nil && p.Status == model.PaymentStatusUnavailable {
		snap.PaymentError = p.LastError
	}
	return snap
}

package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/parlakisik/agent-exchange/aex-negotiation/internal/events"
	"github.com/parlakisik/agent-exchange/aex-negotiation/internal/model"
	"github.com/parlakisik/agent-exchange/aex-negotiation/internal/policy"
	"github.com/parlakisik/agent-exchange/aex-negotiation/internal/store"
)

// PostJob creates an open job owned by the calling client.
func (s *Service) PostJob(ctx context.Context, caller model.Caller, req model.PostJobRequest) (snap model.Snapshot, err error) {
	defer func(start time.Time) { observe("PostJob", start, err) }(time.Now())

	if err := validateCaller(caller); err != nil {
		return model.Snapshot{}, err
	}
	if err := validatePostJob(req); err != nil {
		return model.Snapshot{}, err
	}
	if err := policy.Authorize(policy.View{Caller: caller}, policy.PostJob); err != nil {
		return model.Snapshot{}, err
	}

	if s.catalog != nil {
		ok, err := s.catalog.CategoryExists(ctx, req.CategoryID)
		switch {
		case err != nil:
			// Continue even if the catalog is unreachable
			slog.WarnContext(ctx, "category_lookup_failed", "category_id", req.CategoryID, "error", err)
		case !ok:
			return model.Snapshot{}, fmt.Errorf("%w: unknown category %q", model.ErrInvalidPayload, req.CategoryID)
		}
	}

	now := s.clock()
	job := model.Job{
		ID:          newID("job_"),
		ClientID:    caller.ID,
		CategoryID:  req.CategoryID,
		Description: strings.TrimSpace(req.Description),
		Address:     strings.TrimSpace(req.Address),
		Status:      model.JobStatusOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := store.CreateJob(ctx, s.store, &job); err != nil {
		return model.Snapshot{}, fmt.Errorf("create job: %w", err)
	}

	s.publish(ctx, events.EventJobPosted, job, map[string]any{
		"client_id":   job.ClientID,
		"category_id": job.CategoryID,
	})
	slog.InfoContext(ctx, "job_posted", "job_id", job.ID, "client_id", job.ClientID, "category_id", job.CategoryID)

	return model.Snapshot{Job: job}, nil
}

// CompleteJob marks the accepted offer as fulfilled, which unlocks ratings.
func (s *Service) CompleteJob(ctx context.Context, caller model.Caller, req model.JobRequest) (snap model.Snapshot, err error) {
	defer func(start time.Time) { observe("CompleteJob", start, err) }(time.Now())

	if err := validateCaller(caller); err != nil {
		return model.Snapshot{}, err
	}
	if err := requireID("job_id", req.JobID); err != nil {
		return model.Snapshot{}, err
	}
	st, err := s.loadJob(ctx, req.JobID)
	if err != nil {
		return model.Snapshot{}, err
	}
	if err := checkVersion(st.job, req.IfVersion); err != nil {
		return model.Snapshot{}, err
	}
	if err := policy.Authorize(st.view(caller), policy.CompleteJob); err != nil {
		return model.Snapshot{}, err
	}

	accepted, _ := model.AcceptedOffer(st.offers)
	now := s.clock()
	accepted.Status = model.OfferStatusCompleted
	accepted.UpdatedAt = now
	job := st.job
	job.CompletedAt = &now
	settle(&job, withOffers(st.offers, accepted), now)

	tx := &store.Transition{Jobs: []model.Job{job}, Offers: []model.Offer{accepted}}
	if err := s.store.ApplyTransition(ctx, tx); err != nil {
		return model.Snapshot{}, err
	}
	job, accepted = tx.Jobs[0], tx.Offers[0]

	s.publish(ctx, events.EventJobCompleted, job, map[string]any{
		"offer_id":     accepted.ID,
		"provider_id":  accepted.ProviderID,
		"completed_by": caller.ID,
	})
	slog.InfoContext(ctx, "job_completed", "job_id", job.ID, "offer_id", accepted.ID, "completed_by", caller.ID)

	return model.Snapshot{Job: job, Offer: &accepted}, nil
}

// CloseJob closes a job that has not reached agreement and withdraws every
// live offer on it.
func (s *Service) CloseJob(ctx context.Context, caller model.Caller, req model.JobRequest) (snap model.Snapshot, err error) {
	defer func(start time.Time) { observe("CloseJob", start, err) }(time.Now())

	if err := validateCaller(caller); err != nil {
		return model.Snapshot{}, err
	}
	if err := requireID("job_id", req.JobID); err != nil {
		return model.Snapshot{}, err
	}
	st, err := s.loadJob(ctx, req.JobID)
	if err != nil {
		return model.Snapshot{}, err
	}
	if err := checkVersion(st.job, req.IfVersion); err != nil {
		return model.Snapshot{}, err
	}
	if err := policy.Authorize(st.view(caller), policy.CloseJob); err != nil {
		return model.Snapshot{}, err
	}

	now := s.clock()
	withdrawn := withdrawLive(st.offers, "", model.WithdrawnByJobClosure, now)
	job := st.job
	job.ClosedAt = &now
	settle(&job, withOffers(st.offers, withdrawn...), now)

	tx := &store.Transition{Jobs: []model.Job{job}, Offers: withdrawn}
	if err := s.store.ApplyTransition(ctx, tx); err != nil {
		return model.Snapshot{}, err
	}
	job = tx.Jobs[0]

	s.publish(ctx, events.EventJobClosed, job, map[string]any{"withdrawn_offers": len(withdrawn)})
	s.publishWithdrawals(ctx, job, tx.Offers)
	slog.InfoContext(ctx, "job_closed", "job_id", job.ID, "withdrawn_offers", len(withdrawn))

	return model.Snapshot{Job: job}, nil
}

// ReopenJob returns a closed job to Open. Offers withdrawn by the closure
// stay withdrawn; providers may bid again.
func (s *Service) ReopenJob(ctx context.Context, caller model.Caller, req model.JobRequest) (snap model.Snapshot, err error) {
	defer func(start time.Time) { observe("ReopenJob", start, err) }(time.Now())

	if err := validateCaller(caller); err != nil {
		return model.Snapshot{}, err
	}
	if err := requireID("job_id", req.JobID); err != nil {
		return model.Snapshot{}, err
	}
	st, err := s.loadJob(ctx, req.JobID)
	if err != nil {
		return model.Snapshot{}, err
	}
	if err := checkVersion(st.job, req.IfVersion); err != nil {
		return model.Snapshot{}, err
	}
	if err := policy.Authorize(st.view(caller), policy.ReopenJob); err != nil {
		return model.Snapshot{}, err
	}

	now := s.clock()
	job := st.job
	job.ClosedAt = nil
	settle(&job, st.offers, now)

	tx := &store.Transition{Jobs: []model.Job{job}}
	if err := s.store.ApplyTransition(ctx, tx); err != nil {
		return model.Snapshot{}, err
	}
	job = tx.Jobs[0]

	s.publish(ctx, events.EventJobReopened, job, map[string]any{})
	slog.InfoContext(ctx, "job_reopened", "job_id", job.ID)

	return model.Snapshot{Job: job}, nil
}

// withdrawLive returns withdrawn copies of every live, unaccepted offer
// other than keep.
func withdrawLive(offers []model.Offer, keep string, reason model.WithdrawReason, now time.Time) []model.Offer {
	var out []model.Offer
	for _, o := range offers {
		if o.ID == keep || !o.Live() || o.Accepted {
			continue
		}
		o = o.Clone()
		o.Status = model.OfferStatusWithdrawn
		o.WithdrawReason = reason
		o.WithdrawnAt = &now
		o.UpdatedAt = now
		out = append(out, o)
	}
	return out
}

func (s *Service) publishWithdrawals(ctx context.Context, job model.Job, withdrawn []model.Offer) {
	for _, o := range withdrawn {
		s.publish(ctx, events.EventOfferWithdrawn, job, map[string]any{
			"offer_id":    o.ID,
			"provider_id": o.ProviderID,
			"reason":      o.WithdrawReason,
		})
	}
}

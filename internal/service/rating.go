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

// RatingEligible reports whether raterID may still rate the job: the job is
// completed, raterID is the client or the accepted provider, and has not
// rated yet.
func (s *Service) RatingEligible(ctx context.Context, jobID, raterID string) (bool, error) {
	if err := requireID("job_id", jobID); err != nil {
		return false, err
	}
	if err := requireID("rater_id", raterID); err != nil {
		return false, err
	}
	st, err := s.loadJob(ctx, jobID)
	if err != nil {
		return false, err
	}
	if st.job.Status != model.JobStatusCompleted || st.job.HasRated(raterID) {
		return false, nil
	}
	accepted, ok := model.AcceptedOffer(st.offers)
	if !ok {
		return false, nil
	}
	return raterID == st.job.ClientID || raterID == accepted.ProviderID, nil
}

// SubmitRating stores the caller's rating of a completed job.
func (s *Service) SubmitRating(ctx context.Context, caller model.Caller, req model.RatingRequest) (snap model.Snapshot, err error) {
	defer func(start time.Time) { observe("SubmitRating", start, err) }(time.Now())

	if err := validateCaller(caller); err != nil {
		return model.Snapshot{}, err
	}
	if err := validateRating(req); err != nil {
		return model.Snapshot{}, err
	}
	st, err := s.loadJob(ctx, req.JobID)
	if err != nil {
		return model.Snapshot{}, err
	}
	if err := policy.Authorize(st.view(caller), policy.SubmitRating); err != nil {
		return model.Snapshot{}, err
	}

	now := s.clock()
	job := st.job.Clone()
	job.Ratings = append(job.Ratings, model.Rating{
		RaterID:   caller.ID,
		RaterRole: caller.Role,
		Score:     req.Score,
		Comment:   strings.TrimSpace(req.Comment),
		CreatedAt: now,
	})
	job.UpdatedAt = now

	tx := &store.Transition{Jobs: []model.Job{job}}
	if err := s.store.ApplyTransition(ctx, tx); err != nil {
		return model.Snapshot{}, err
	}
	job = tx.Jobs[0]

	s.publish(ctx, events.EventRatingSubmitted, job, map[string]any{
		"rater_id":   caller.ID,
		"rater_role": caller.Role,
		"score":      req.Score,
	})
	slog.InfoContext(ctx, "rating_submitted", "job_id", job.ID, "rater_role", caller.Role, "score", req.Score)

	return model.Snapshot{Job: job}, nil
}

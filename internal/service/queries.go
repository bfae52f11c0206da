package service

import (
	"context"
	"fmt"

	"github.com/parlakisik/agent-exchange/aex-negotiation/internal/model"
	"github.com/parlakisik/agent-exchange/aex-negotiation/internal/policy"
	"github.com/parlakisik/agent-exchange/aex-negotiation/internal/projection"
)

// JobView returns the job with the offers the caller may see: all of them
// for the job owner, a provider's own offers otherwise. Payment details are
// limited to the two parties of the accepted offer.
func (s *Service) JobView(ctx context.Context, caller model.Caller, jobID string) (projection.JobView, error) {
	if err := validateCaller(caller); err != nil {
		return projection.JobView{}, err
	}
	if err := requireID("job_id", jobID); err != nil {
		return projection.JobView{}, err
	}
	view, err := s.projector.Job(ctx, jobID)
	if err != nil {
		return projection.JobView{}, err
	}
	if owns(caller, view.Job) {
		return view, nil
	}

	visible := make([]projection.ThreadView, 0, len(view.Offers))
	acceptedParty := false
	for _, tv := range view.Offers {
		if caller.Role == model.RoleProvider && tv.Offer.ProviderID == caller.ID {
			visible = append(visible, tv)
			acceptedParty = acceptedParty || tv.Offer.Accepted
		}
	}
	view.Offers = visible
	if !acceptedParty {
		view.Job.Payment = nil
	}
	return view, nil
}

// Thread returns an offer's negotiation thread to either party.
func (s *Service) Thread(ctx context.Context, caller model.Caller, offerID string) (projection.ThreadView, error) {
	if err := validateCaller(caller); err != nil {
		return projection.ThreadView{}, err
	}
	if err := requireID("offer_id", offerID); err != nil {
		return projection.ThreadView{}, err
	}
	tv, err := s.projector.Thread(ctx, offerID)
	if err != nil {
		return projection.ThreadView{}, err
	}
	job, err := s.store.GetJob(ctx, tv.Offer.JobID)
	if err != nil {
		return projection.ThreadView{}, err
	}
	if !owns(caller, job) && !(caller.Role == model.RoleProvider && caller.ID == tv.Offer.ProviderID) {
		return projection.ThreadView{}, fmt.Errorf("%w: offer %s", model.ErrNotFound, offerID)
	}
	return tv, nil
}

// AcceptedOfferForJob returns the accepted offer to the job owner, or nil
// when no offer has been accepted. The accepted provider sees it too; any
// other caller gets ErrNotFound.
func (s *Service) AcceptedOfferForJob(ctx context.Context, caller model.Caller, jobID string) (*model.Offer, error) {
	if err := validateCaller(caller); err != nil {
		return nil, err
	}
	if err := requireID("job_id", jobID); err != nil {
		return nil, err
	}
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	offer, err := s.projector.AcceptedOfferForJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if owns(caller, job) {
		return offer, nil
	}
	if offer == nil || caller.Role != model.RoleProvider || caller.ID != offer.ProviderID {
		return nil, fmt.Errorf("%w: accepted offer for job %s", model.ErrNotFound, jobID)
	}
	return offer, nil
}

// OfferAvailability evaluates the role policy for the caller on an offer.
func (s *Service) OfferAvailability(ctx context.Context, caller model.Caller, offerID string) (policy.Availability, error) {
	if err := validateCaller(caller); err != nil {
		return policy.Availability{}, err
	}
	if err := requireID("offer_id", offerID); err != nil {
		return policy.Availability{}, err
	}
	st, err := s.loadOffer(ctx, offerID)
	if err != nil {
		return policy.Availability{}, err
	}
	return policy.Available(st.view(caller)), nil
}

// JobAvailability evaluates the job-level rules for the caller.
func (s *Service) JobAvailability(ctx context.Context, caller model.Caller, jobID string) (policy.Availability, error) {
	if err := validateCaller(caller); err != nil {
		return policy.Availability{}, err
	}
	if err := requireID("job_id", jobID); err != nil {
		return policy.Availability{}, err
	}
	st, err := s.loadJob(ctx, jobID)
	if err != nil {
		return policy.Availability{}, err
	}
	return policy.Available(st.view(caller)), nil
}

func owns(caller model.Caller, job model.Job) bool {
	return caller.Role == model.RoleClient && caller.ID == job.ClientID
}

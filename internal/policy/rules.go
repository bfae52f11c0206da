package policy

import (
	"github.com/parlakisik/agent-exchange/aex-negotiation/internal/model"
)

type scope int

const (
	scopeJob scope = iota
	scopeOffer
)

// who is the set of callers a rule admits.
type who int

const (
	anyClient who = iota
	anyProvider
	jobOwner
	offerOwner
	offerParty
	acceptedParty
)

type rule struct {
	scope     scope
	who       who
	jobFrom   []model.JobStatus
	offerFrom []model.OfferStatus
	guard     func(View) bool
}

// rules mirrors the negotiation state machine. jobFrom and offerFrom are the
// statuses an action may start from; an empty list places no constraint.
var rules = map[Action]rule{
	PostJob: {
		scope: scopeJob,
		who:   anyClient,
		guard: func(v View) bool { return v.Job.ID == "" },
	},
	SubmitOffer: {
		scope:   scopeJob,
		who:     anyProvider,
		jobFrom: []model.JobStatus{model.JobStatusOpen},
		guard:   func(v View) bool { return !hasLiveOffer(v.Offers, v.Caller.ID) },
	},
	CloseJob: {
		scope:   scopeJob,
		who:     jobOwner,
		jobFrom: []model.JobStatus{model.JobStatusOpen, model.JobStatusNegotiating},
	},
	ReopenJob: {
		scope:   scopeJob,
		who:     jobOwner,
		jobFrom: []model.JobStatus{model.JobStatusClosed},
	},
	CompleteJob: {
		scope:   scopeJob,
		who:     acceptedParty,
		jobFrom: []model.JobStatus{model.JobStatusOngoing},
	},
	RetryPayment: {
		scope:   scopeJob,
		who:     jobOwner,
		jobFrom: []model.JobStatus{model.JobStatusOngoing, model.JobStatusCompleted},
		guard: func(v View) bool {
			return v.Job.PaymentPending && v.Job.Payment != nil && v.Job.Payment.Status.Retryable()
		},
	},
	SubmitRating: {
		scope:   scopeJob,
		who:     acceptedParty,
		jobFrom: []model.JobStatus{model.JobStatusCompleted},
		guard:   func(v View) bool { return !v.Job.HasRated(v.Caller.ID) },
	},
	EditOffer: {
		scope:     scopeOffer,
		who:       offerOwner,
		jobFrom:   []model.JobStatus{model.JobStatusOpen, model.JobStatusNegotiating},
		offerFrom: []model.OfferStatus{model.OfferStatusPending},
	},
	StartNegotiation: {
		scope:     scopeOffer,
		who:       offerParty,
		jobFrom:   []model.JobStatus{model.JobStatusOpen, model.JobStatusNegotiating},
		offerFrom: []model.OfferStatus{model.OfferStatusPending},
	},
	SubmitCounterOffer: {
		scope:     scopeOffer,
		who:       offerParty,
		jobFrom:   []model.JobStatus{model.JobStatusNegotiating},
		offerFrom: []model.OfferStatus{model.OfferStatusNegotiating},
		guard:     func(v View) bool { return v.Latest == nil || v.Latest.AuthorRole != v.Caller.Role },
	},
	AcceptOffer: {
		scope:     scopeOffer,
		who:       jobOwner,
		jobFrom:   []model.JobStatus{model.JobStatusNegotiating},
		offerFrom: []model.OfferStatus{model.OfferStatusNegotiating},
		guard: func(v View) bool {
			_, taken := model.AcceptedOffer(v.Offers)
			return !taken
		},
	},
	WithdrawOffer: {
		scope:     scopeOffer,
		who:       offerOwner,
		offerFrom: []model.OfferStatus{model.OfferStatusPending, model.OfferStatusNegotiating},
		guard:     func(v View) bool { return !v.Offer.Accepted },
	},
	SendMessage: {
		scope: scopeOffer,
		who:   offerParty,
		offerFrom: []model.OfferStatus{
			model.OfferStatusPending, model.OfferStatusNegotiating,
			model.OfferStatusOngoing, model.OfferStatusCompleted,
		},
	},
}

func (r rule) allows(v View) bool {
	if !r.admits(v) {
		return false
	}
	if len(r.jobFrom) > 0 && !contains(r.jobFrom, v.Job.Status) {
		return false
	}
	if len(r.offerFrom) > 0 && !contains(r.offerFrom, v.Offer.Status) {
		return false
	}
	return r.guard == nil || r.guard(v)
}

func (r rule) admits(v View) bool {
	switch r.who {
	case anyClient:
		return v.Caller.Role == model.RoleClient
	case anyProvider:
		return v.Caller.Role == model.RoleProvider
	case jobOwner:
		return isJobOwner(v)
	case offerOwner:
		return isOfferOwner(v)
	case offerParty:
		return isOfferParty(v)
	case acceptedParty:
		accepted, ok := model.AcceptedOffer(v.Offers)
		if !ok {
			return false
		}
		return isJobOwner(v) || (v.Caller.Role == model.RoleProvider && v.Caller.ID == accepted.ProviderID)
	}
	return false
}

func isJobOwner(v View) bool {
	return v.Caller.Role == model.RoleClient && v.Job.ID != "" && v.Caller.ID == v.Job.ClientID
}

func isOfferOwner(v View) bool {
	return v.Offer != nil && v.Caller.Role == model.RoleProvider && v.Caller.ID == v.Offer.ProviderID
}

func isOfferParty(v View) bool {
	return isJobOwner(v) || isOfferOwner(v)
}

func hasLiveOffer(offers []model.Offer, providerID string) bool {
	for _, o := range offers {
		if o.ProviderID == providerID && o.Live() {
			return true
		}
	}
	return false
}

func contains[T comparable](set []T, v T) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

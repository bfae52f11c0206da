// Package projection derives read views of negotiations from the entity
// store. Nothing here is cached; every call recomputes from stored state.
package projection

import (
	"context"
	"sort"

	"github.com/parlakisik/agent-exchange/aex-negotiation/internal/model"
)

// Reader is the read side of the entity store.
type Reader interface {
	GetJob(ctx context.Context, jobID string) (model.Job, error)
	GetOffer(ctx context.Context, offerID string) (model.Offer, error)
	ListOffersForJob(ctx context.Context, jobID string) ([]model.Offer, error)
	ListCounterOffers(ctx context.Context, offerID string) ([]model.CounterOffer, error)
}

// ThreadView is an offer together with its negotiation thread.
type ThreadView struct {
	Offer        model.Offer          `json:"offer"`
	Thread       []model.CounterOffer `json:"thread"`
	Latest       *model.CounterOffer  `json:"latest_counter_offer,omitempty"`
	AwaitingRole model.Role           `json:"awaiting_role"`
}

// JobView is a job with every offer and thread on it.
type JobView struct {
	Job    model.Job    `json:"job"`
	Offers []ThreadView `json:"offers"`
}

type Projector struct {
	store Reader
}

func New(store Reader) *Projector {
	return &Projector{store: store}
}

// LatestCounterOffer returns nil when the thread is empty.
func (p *Projector) LatestCounterOffer(ctx context.Context, offerID string) (*model.CounterOffer, error) {
	tv, err := p.Thread(ctx, offerID)
	if err != nil {
		return nil, err
	}
	return tv.Latest, nil
}

func (p *Projector) AwaitingRole(ctx context.Context, offerID string) (model.Role, error) {
	tv, err := p.Thread(ctx, offerID)
	if err != nil {
		return "", err
	}
	return tv.AwaitingRole, nil
}

// AcceptedOfferForJob returns nil when no offer on the job is accepted.
func (p *Projector) AcceptedOfferForJob(ctx context.Context, jobID string) (*model.Offer, error) {
	if _, err := p.store.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	offers, err := p.store.ListOffersForJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	accepted, ok := model.AcceptedOffer(offers)
	if !ok {
		return nil, nil
	}
	return &accepted, nil
}

func (p *Projector) Thread(ctx context.Context, offerID string) (ThreadView, error) {
	offer, err := p.store.GetOffer(ctx, offerID)
	if err != nil {
		return ThreadView{}, err
	}
	return p.thread(ctx, offer)
}

func (p *Projector) Job(ctx context.Context, jobID string) (JobView, error) {
	job, err := p.store.GetJob(ctx, jobID)
	if err != nil {
		return JobView{}, err
	}
	offers, err := p.store.ListOffersForJob(ctx, jobID)
	if err != nil {
		return JobView{}, err
	}
	view := JobView{Job: job, Offers: make([]ThreadView, 0, len(offers))}
	for _, o := range offers {
		tv, err := p.thread(ctx, o)
		if err != nil {
			return JobView{}, err
		}
		view.Offers = append(view.Offers, tv)
	}
	return view, nil
}

func (p *Projector) thread(ctx context.Context, offer model.Offer) (ThreadView, error) {
	thread, err := p.store.ListCounterOffers(ctx, offer.ID)
	if err != nil {
		return ThreadView{}, err
	}
	return BuildThread(offer, thread), nil
}

// BuildThread orders thread, fills in the accepted flag from offer and
// derives the latest entry and the awaiting role.
func BuildThread(offer model.Offer, thread []model.CounterOffer) ThreadView {
	thread = MarkAccepted(offer, Sorted(thread))
	tv := ThreadView{
		Offer:        offer,
		Thread:       thread,
		AwaitingRole: Awaiting(thread),
	}
	if latest, ok := Latest(thread); ok {
		tv.Latest = &latest
	}
	return tv
}

// Sorted returns a copy of thread ordered by creation time, then id.
func Sorted(thread []model.CounterOffer) []model.CounterOffer {
	out := append([]model.CounterOffer{}, thread...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// Latest returns the most recent counter-offer in thread.
func Latest(thread []model.CounterOffer) (model.CounterOffer, bool) {
	if len(thread) == 0 {
		return model.CounterOffer{}, false
	}
	latest := thread[0]
	for _, c := range thread[1:] {
		if latest.Before(c) {
			latest = c
		}
	}
	return latest, true
}

// Awaiting is the role that must respond next: the opposite of the latest
// author, or the client when the provider's offer has not been countered.
func Awaiting(thread []model.CounterOffer) model.Role {
	latest, ok := Latest(thread)
	if !ok {
		return model.RoleProvider.Opposite()
	}
	return latest.AuthorRole.Opposite()
}

// MarkAccepted sets Accepted on the entry the offer was accepted at.
func MarkAccepted(offer model.Offer, thread []model.CounterOffer) []model.CounterOffer {
	for i := range thread {
		thread[i].Accepted = offer.Accepted && thread[i].ID == offer.AcceptedCounterOfferID
	}
	return thread
}

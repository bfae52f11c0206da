// Package policy decides which negotiation actions a caller may take on a job
// or offer in its current state. It is a pure function of its inputs and is
// used both to authorize commands and to tell clients what to render.
package policy

import (
	"fmt"

	"github.com/parlakisik/agent-exchange/aex-negotiation/internal/model"
)

// Action is a command a caller can issue, or SendMessage, which is always
// offered to the parties of a live offer.
type Action string

const (
	PostJob            Action = "PostJob"
	SubmitOffer        Action = "SubmitOffer"
	EditOffer          Action = "EditOffer"
	StartNegotiation   Action = "StartNegotiation"
	SubmitCounterOffer Action = "SubmitCounterOffer"
	AcceptOffer        Action = "AcceptOffer"
	WithdrawOffer      Action = "WithdrawOffer"
	CompleteJob        Action = "CompleteJob"
	CloseJob           Action = "CloseJob"
	ReopenJob          Action = "ReopenJob"
	RetryPayment       Action = "RetryPayment"
	SubmitRating       Action = "SubmitRating"
	SendMessage        Action = "SendMessage"
)

// AllActions lists every action in display order.
var AllActions = []Action{
	PostJob, SubmitOffer, EditOffer, StartNegotiation, SubmitCounterOffer,
	AcceptOffer, WithdrawOffer, CompleteJob, CloseJob, ReopenJob,
	RetryPayment, SubmitRating, SendMessage,
}

// View is the state a decision is made on. Offer is nil for job-level
// decisions; Latest is the most recent counter-offer on Offer, if any.
// Offers holds every offer of Job.
type View struct {
	Caller model.Caller
	Job    model.Job
	Offers []model.Offer
	Offer  *model.Offer
	Latest *model.CounterOffer
}

// ActionSet is an ordered set of actions.
type ActionSet []Action

func (s ActionSet) Has(a Action) bool {
	for _, x := range s {
		if x == a {
			return true
		}
	}
	return false
}

// Availability is what a caller may do. AwaitingOther is set when the caller
// authored the latest counter-offer and the other party must respond.
type Availability struct {
	Actions       ActionSet `json:"actions"`
	AwaitingOther bool      `json:"awaiting_other"`
}

func (a Availability) Allows(act Action) bool {
	return a.Actions.Has(act)
}

// Prompts returns the actions a presentation layer should offer. While the
// caller is waiting on the other party it is reduced to messaging and
// withdrawal.
func (a Availability) Prompts() ActionSet {
	if !a.AwaitingOther {
		return a.Actions
	}
	out := ActionSet{}
	for _, act := range a.Actions {
		if act == SendMessage || act == WithdrawOffer {
			out = append(out, act)
		}
	}
	return out
}

// Available evaluates every rule in scope of v: job-level rules when
// v.Offer is nil, offer-level rules otherwise.
func Available(v View) Availability {
	sc := scopeJob
	if v.Offer != nil {
		sc = scopeOffer
	}
	out := Availability{Actions: ActionSet{}}
	for _, act := range AllActions {
		r := rules[act]
		if r.scope != sc {
			continue
		}
		if r.allows(v) {
			out.Actions = append(out.Actions, act)
		}
	}
	if v.Offer != nil && v.Offer.Status == model.OfferStatusNegotiating &&
		v.Latest != nil && v.Latest.AuthorRole == v.Caller.Role && isOfferParty(v) {
		out.AwaitingOther = true
	}
	return out
}

// Authorize returns ErrForbiddenTransition unless act is available in v.
func Authorize(v View, act Action) error {
	if Available(v).Allows(act) {
		return nil
	}
	target := v.Job.ID
	if v.Offer != nil {
		target = v.Offer.ID
	}
	if target == "" {
		return fmt.Errorf("%w: %s not allowed for %s", model.ErrForbiddenTransition, act, v.Caller.Role)
	}
	return fmt.Errorf("%w: %s not allowed for %s on %s", model.ErrForbiddenTransition, act, v.Caller.Role, target)
}

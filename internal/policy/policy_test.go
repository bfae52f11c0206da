package policy

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/parlakisik/agent-exchange/aex-negotiation/internal/model"
)

var (
	client   = model.Caller{ID: "client_1", Role: model.RoleClient}
	provider = model.Caller{ID: "provider_1", Role: model.RoleProvider}
	rival    = model.Caller{ID: "provider_2", Role: model.RoleProvider}
	stranger = model.Caller{ID: "client_2", Role: model.RoleClient}
)

func job(status model.JobStatus) model.Job {
	return model.Job{ID: "job_1", ClientID: client.ID, Status: status}
}

func offer(status model.OfferStatus) model.Offer {
	return model.Offer{ID: "offer_1", JobID: "job_1", ProviderID: provider.ID, Price: "5000", Status: status}
}

func latest(role model.Role) *model.CounterOffer {
	return &model.CounterOffer{ID: "co_1", OfferID: "offer_1", AuthorRole: role, Price: "4500", CreatedAt: time.Now()}
}

func TestEveryActionHasRule(t *testing.T) {
	for _, act := range AllActions {
		if _, ok := rules[act]; !ok {
			t.Errorf("action %s has no rule", act)
		}
	}
	if len(rules) != len(AllActions) {
		t.Errorf("rules has %d entries, AllActions has %d", len(rules), len(AllActions))
	}
}

func TestOfferAvailability(t *testing.T) {
	tests := []struct {
		name         string
		caller       model.Caller
		job          model.JobStatus
		offer        model.OfferStatus
		accepted     bool
		latest       *model.CounterOffer
		wantActions  ActionSet
		wantPrompts  ActionSet
		wantAwaiting bool
	}{
		{
			name:        "provider on pending offer",
			caller:      provider,
			job:         model.JobStatusOpen,
			offer:       model.OfferStatusPending,
			wantActions: ActionSet{EditOffer, StartNegotiation, WithdrawOffer, SendMessage},
			wantPrompts: ActionSet{EditOffer, StartNegotiation, WithdrawOffer, SendMessage},
		},
		{
			name:        "client on pending offer",
			caller:      client,
			job:         model.JobStatusOpen,
			offer:       model.OfferStatusPending,
			wantActions: ActionSet{StartNegotiation, SendMessage},
			wantPrompts: ActionSet{StartNegotiation, SendMessage},
		},
		{
			name:        "client answering provider counter",
			caller:      client,
			job:         model.JobStatusNegotiating,
			offer:       model.OfferStatusNegotiating,
			latest:      latest(model.RoleProvider),
			wantActions: ActionSet{SubmitCounterOffer, AcceptOffer, SendMessage},
			wantPrompts: ActionSet{SubmitCounterOffer, AcceptOffer, SendMessage},
		},
		{
			name:         "client waiting on provider",
			caller:       client,
			job:          model.JobStatusNegotiating,
			offer:        model.OfferStatusNegotiating,
			latest:       latest(model.RoleClient),
			wantActions:  ActionSet{AcceptOffer, SendMessage},
			wantPrompts:  ActionSet{SendMessage},
			wantAwaiting: true,
		},
		{
			name:         "provider waiting on client",
			caller:       provider,
			job:          model.JobStatusNegotiating,
			offer:        model.OfferStatusNegotiating,
			latest:       latest(model.RoleProvider),
			wantActions:  ActionSet{WithdrawOffer, SendMessage},
			wantPrompts:  ActionSet{WithdrawOffer, SendMessage},
			wantAwaiting: true,
		},
		{
			name:        "either party may open an empty thread",
			caller:      provider,
			job:         model.JobStatusNegotiating,
			offer:       model.OfferStatusNegotiating,
			wantActions: ActionSet{SubmitCounterOffer, WithdrawOffer, SendMessage},
			wantPrompts: ActionSet{SubmitCounterOffer, WithdrawOffer, SendMessage},
		},
		{
			name:        "accepted offer cannot be withdrawn",
			caller:      provider,
			job:         model.JobStatusOngoing,
			offer:       model.OfferStatusOngoing,
			accepted:    true,
			wantActions: ActionSet{SendMessage},
			wantPrompts: ActionSet{SendMessage},
		},
		{
			name:        "withdrawn offer is inert",
			caller:      provider,
			job:         model.JobStatusOpen,
			offer:       model.OfferStatusWithdrawn,
			wantActions: ActionSet{},
			wantPrompts: ActionSet{},
		},
		{
			name:        "other provider sees nothing",
			caller:      rival,
			job:         model.JobStatusNegotiating,
			offer:       model.OfferStatusNegotiating,
			wantActions: ActionSet{},
			wantPrompts: ActionSet{},
		},
		{
			name:        "other client sees nothing",
			caller:      stranger,
			job:         model.JobStatusNegotiating,
			offer:       model.OfferStatusNegotiating,
			latest:      latest(model.RoleProvider),
			wantActions: ActionSet{},
			wantPrompts: ActionSet{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := offer(tt.offer)
			o.Accepted = tt.accepted
			v := View{
				Caller: tt.caller,
				Job:    job(tt.job),
				Offers: []model.Offer{o},
				Offer:  &o,
				Latest: tt.latest,
			}
			got := Available(v)
			if !reflect.DeepEqual(got.Actions, tt.wantActions) {
				t.Errorf("Actions = %v, want %v", got.Actions, tt.wantActions)
			}
			if !reflect.DeepEqual(got.Prompts(), tt.wantPrompts) {
				t.Errorf("Prompts() = %v, want %v", got.Prompts(), tt.wantPrompts)
			}
			if got.AwaitingOther != tt.wantAwaiting {
				t.Errorf("AwaitingOther = %v, want %v", got.AwaitingOther, tt.wantAwaiting)
			}
		})
	}
}

func TestJobAvailability(t *testing.T) {
	accepted := offer(model.OfferStatusOngoing)
	accepted.Accepted = true
	completed := offer(model.OfferStatusCompleted)
	completed.Accepted = true

	tests := []struct {
		name   string
		caller model.Caller
		job    model.Job
		offers []model.Offer
		want   ActionSet
	}{
		{
			name:   "client with no job may post",
			caller: client,
			job:    model.Job{},
			want:   ActionSet{PostJob},
		},
		{
			name:   "provider may not post",
			caller: provider,
			job:    model.Job{},
			want:   ActionSet{},
		},
		{
			name:   "owner of open job",
			caller: client,
			job:    job(model.JobStatusOpen),
			want:   ActionSet{CloseJob},
		},
		{
			name:   "provider on open job",
			caller: provider,
			job:    job(model.JobStatusOpen),
			want:   ActionSet{SubmitOffer},
		},
		{
			name:   "provider with live offer may not bid again",
			caller: provider,
			job:    job(model.JobStatusOpen),
			offers: []model.Offer{offer(model.OfferStatusPending)},
			want:   ActionSet{},
		},
		{
			name:   "provider whose offer was withdrawn may bid again",
			caller: provider,
			job:    job(model.JobStatusOpen),
			offers: []model.Offer{offer(model.OfferStatusWithdrawn)},
			want:   ActionSet{SubmitOffer},
		},
		{
			name:   "closed job",
			caller: client,
			job:    job(model.JobStatusClosed),
			want:   ActionSet{ReopenJob},
		},
		{
			name:   "provider on closed job",
			caller: provider,
			job:    job(model.JobStatusClosed),
			want:   ActionSet{},
		},
		{
			name:   "accepted provider on ongoing job",
			caller: provider,
			job:    job(model.JobStatusOngoing),
			offers: []model.Offer{accepted},
			want:   ActionSet{CompleteJob},
		},
		{
			name:   "losing provider on ongoing job",
			caller: rival,
			job:    job(model.JobStatusOngoing),
			offers: []model.Offer{accepted},
			want:   ActionSet{},
		},
		{
			name:   "owner of completed job",
			caller: client,
			job:    job(model.JobStatusCompleted),
			offers: []model.Offer{completed},
			want:   ActionSet{SubmitRating},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Available(View{Caller: tt.caller, Job: tt.job, Offers: tt.offers})
			if !reflect.DeepEqual(got.Actions, tt.want) {
				t.Errorf("Actions = %v, want %v", got.Actions, tt.want)
			}
		})
	}
}

func TestRetryPaymentAvailability(t *testing.T) {
	accepted := offer(model.OfferStatusOngoing)
	accepted.Accepted = true

	for _, status := range []model.PaymentStatus{
		model.PaymentStatusRequested,
		model.PaymentStatusCheckoutIssued,
		model.PaymentStatusUnavailable,
		model.PaymentStatusSettled,
		model.PaymentStatusFailed,
	} {
		t.Run(string(status), func(t *testing.T) {
			j := job(model.JobStatusOngoing)
			j.PaymentPending = status != model.PaymentStatusSettled
			j.Payment = &model.PaymentRecord{OfferID: accepted.ID, Status: status}

			got := Available(View{Caller: client, Job: j, Offers: []model.Offer{accepted}})
			want := status == model.PaymentStatusUnavailable || status == model.PaymentStatusFailed
			if got.Allows(RetryPayment) != want {
				t.Errorf("Allows(RetryPayment) = %v, want %v", got.Allows(RetryPayment), want)
			}
		})
	}
}

func TestRatingOncePerParty(t *testing.T) {
	completed := offer(model.OfferStatusCompleted)
	completed.Accepted = true
	j := job(model.JobStatusCompleted)
	j.Ratings = []model.Rating{{RaterID: client.ID, RaterRole: model.RoleClient, Score: 5}}

	v := View{Caller: client, Job: j, Offers: []model.Offer{completed}}
	if Available(v).Allows(SubmitRating) {
		t.Error("client may not rate twice")
	}
	v.Caller = provider
	if !Available(v).Allows(SubmitRating) {
		t.Error("provider should still be able to rate")
	}
}

func TestAcceptBlockedBySiblingAcceptance(t *testing.T) {
	mine := offer(model.OfferStatusNegotiating)
	other := model.Offer{ID: "offer_2", JobID: "job_1", ProviderID: rival.ID, Status: model.OfferStatusOngoing, Accepted: true}
	v := View{Caller: client, Job: job(model.JobStatusNegotiating), Offers: []model.Offer{mine, other}, Offer: &mine}
	if Available(v).Allows(AcceptOffer) {
		t.Error("second acceptance on a job must not be offered")
	}
}

func TestAuthorize(t *testing.T) {
	o := offer(model.OfferStatusNegotiating)
	v := View{
		Caller: client,
		Job:    job(model.JobStatusNegotiating),
		Offers: []model.Offer{o},
		Offer:  &o,
		Latest: latest(model.RoleClient),
	}

	err := Authorize(v, SubmitCounterOffer)
	if !errors.Is(err, model.ErrForbiddenTransition) {
		t.Fatalf("Authorize() error = %v, want ErrForbiddenTransition", err)
	}
	if err := Authorize(v, AcceptOffer); err != nil {
		t.Fatalf("Authorize(AcceptOffer) error = %v", err)
	}
}

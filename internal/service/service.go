package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/parlakisik/agent-exchange/aex-negotiation/internal/metrics"
	"github.com/parlakisik/agent-exchange/aex-negotiation/internal/model"
	"github.com/parlakisik/agent-exchange/aex-negotiation/internal/payment"
	"github.com/parlakisik/agent-exchange/aex-negotiation/internal/policy"
	"github.com/parlakisik/agent-exchange/aex-negotiation/internal/projection"
	"github.com/parlakisik/agent-exchange/aex-negotiation/internal/store"
)

// PaymentTrigger is the payment side effect of AcceptOffer.
type PaymentTrigger interface {
	InitiatePayment(ctx context.Context, req payment.Request) (payment.Result, error)
}

// EventPublisher delivers domain events to the messaging collaborator.
type EventPublisher interface {
	Publish(ctx context.Context, eventType, subject, key string, data map[string]any) error
}

// CategoryChecker validates category ids against the catalog.
type CategoryChecker interface {
	CategoryExists(ctx context.Context, categoryID string) (bool, error)
}

// RetryPolicy controls engine-initiated payment retries.
type RetryPolicy struct {
	// MaxAttempts bounds automatic attempts; RetryPayment is always allowed.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// StaleAfter is how long a REQUESTED payment may go unrecorded before the
	// sweep treats the trigger as lost. It must exceed the adapter timeout.
	StaleAfter time.Duration
	// SweepInterval is how often the background worker looks for due jobs.
	SweepInterval time.Duration
	BatchSize     int
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   5,
		BaseDelay:     30 * time.Second,
		MaxDelay:      15 * time.Minute,
		StaleAfter:    time.Minute,
		SweepInterval: 30 * time.Second,
		BatchSize:     50,
	}
}

type Service struct {
	store     store.EntityStore
	projector *projection.Projector
	payments  PaymentTrigger
	events    EventPublisher
	catalog   CategoryChecker
	retry     RetryPolicy
	now       func() time.Time
}

type Option func(*Service)

// WithCatalog enables category validation on PostJob.
func WithCatalog(c CategoryChecker) Option {
	return func(s *Service) { s.catalog = c }
}

func WithRetryPolicy(p RetryPolicy) Option {
	return func(s *Service) { s.retry = p }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(st store.EntityStore, payments PaymentTrigger, publisher EventPublisher, opts ...Option) *Service {
	s := &Service{
		store:     st,
		projector: projection.New(st),
		payments:  payments,
		events:    publisher,
		retry:     DefaultRetryPolicy(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// jobState is everything a command reads from one consistency domain.
type jobState struct {
	job    model.Job
	offers []model.Offer
}

// offerState adds the focused offer and its ordered thread.
type offerState struct {
	jobState
	offer  model.Offer
	thread []model.CounterOffer
}

func (st jobState) view(caller model.Caller) policy.View {
	return policy.View{Caller: caller, Job: st.job, Offers: st.offers}
}

func (st offerState) view(caller model.Caller) policy.View {
	v := st.jobState.view(caller)
	offer := st.offer
	v.Offer = &offer
	if latest, ok := projection.Latest(st.thread); ok {
		v.Latest = &latest
	}
	return v
}

func (s *Service) loadJob(ctx context.Context, jobID string) (jobState, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return jobState{}, err
	}
	offers, err := s.store.ListOffersForJob(ctx, jobID)
	if err != nil {
		return jobState{}, fmt.Errorf("list offers: %w", err)
	}
	return jobState{job: job, offers: offers}, nil
}

func (s *Service) loadOffer(ctx context.Context, offerID string) (offerState, error) {
	offer, err := s.store.GetOffer(ctx, offerID)
	if err != nil {
		return offerState{}, err
	}
	js, err := s.loadJob(ctx, offer.JobID)
	if err != nil {
		return offerState{}, err
	}
	thread, err := s.store.ListCounterOffers(ctx, offerID)
	if err != nil {
		return offerState{}, fmt.Errorf("list counter-offers: %w", err)
	}
	// Prefer the copy listed alongside the job.
	for _, o := range js.offers {
		if o.ID == offerID {
			offer = o
		}
	}
	return offerState{jobState: js, offer: offer, thread: projection.Sorted(thread)}, nil
}

// checkVersion enforces a caller-supplied job version token.
func checkVersion(job model.Job, ifVersion int64) error {
	if ifVersion != 0 && job.Version != ifVersion {
		return fmt.Errorf("%w: job %s is at version %d, caller saw %d", model.ErrConflict, job.ID, job.Version, ifVersion)
	}
	return nil
}

// settle recomputes the job status from offers and stamps the update time.
func settle(job *model.Job, offers []model.Offer, now time.Time) {
	job.Status = model.DeriveJobStatus(*job, offers)
	job.UpdatedAt = now
}

// withOffers returns offers with each entry replaced by its updated version.
func withOffers(offers []model.Offer, updated ...model.Offer) []model.Offer {
	out := append([]model.Offer(nil), offers...)
	for _, u := range updated {
		found := false
		for i := range out {
			if out[i].ID == u.ID {
				out[i] = u
				found = true
			}
		}
		if !found {
			out = append(out, u)
		}
	}
	return out
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

// publish emits an event for a committed transition. The job version keys
// the event; offer-scoped events add the offer id since one transition can
// withdraw several offers.
func (s *Service) publish(ctx context.Context, eventType string, job model.Job, data map[string]any) {
	data["job_id"] = job.ID
	data["job_status"] = job.Status
	data["job_version"] = job.Version
	key := fmt.Sprintf("v%d", job.Version)
	if offerID, ok := data["offer_id"].(string); ok {
		key = offerID + "_" + key
	}
	if err := s.events.Publish(ctx, eventType, job.ID, key, data); err != nil {
		slog.WarnContext(ctx, "event_publish_failed", "event_type", eventType, "job_id", job.ID, "error", err)
	}
}

func observe(command string, start time.Time, err error) {
	metrics.ObserveCommand(command, start, err)
}

func newID(prefix string) string {
	return prefix + uuid.Must(uuid.NewV7()).String()
}

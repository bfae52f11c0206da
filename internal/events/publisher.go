package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/parlakisik/agent-exchange/aex-negotiation/internal/httpclient"
	"github.com/parlakisik/agent-exchange/aex-negotiation/internal/metrics"
)

// AnyEvent registers an endpoint for every event type.
const AnyEvent = "*"

const (
	// DefaultQueueSize bounds the deliveries waiting for Run.
	DefaultQueueSize = 1024
	drainTimeout     = 10 * time.Second
)

// Publisher delivers events to registered webhooks. Publish only enqueues;
// Run performs the deliveries. Failures are logged and never returned, and
// events published while the queue is full are dropped.
type Publisher struct {
	source     string
	httpClient *httpclient.Client
	endpoints  map[string][]string // eventType -> webhook URLs
	queue      chan delivery
}

type delivery struct {
	ctx      context.Context
	url      string
	envelope Envelope
}

// NewPublisher creates a new event publisher
func NewPublisher(source string) *Publisher {
	return NewPublisherWithQueue(source, DefaultQueueSize)
}

func NewPublisherWithQueue(source string, size int) *Publisher {
	return &Publisher{
		source:     source,
		httpClient: httpclient.New("webhook", 5*time.Second),
		endpoints:  make(map[string][]string),
		queue:      make(chan delivery, size),
	}
}

// RegisterEndpoint registers a webhook endpoint for an event type, or for
// every type when eventType is AnyEvent. Not safe for use once publishing
// has started.
func (p *Publisher) RegisterEndpoint(eventType, webhookURL string) {
	p.endpoints[eventType] = append(p.endpoints[eventType], webhookURL)
}

// Publish sends an event. subject is the id of the aggregate the event is
// about and key distinguishes one occurrence from a redelivery; together
// they form the idempotency key receivers deduplicate on.
func (p *Publisher) Publish(ctx context.Context, eventType, subject, key string, data map[string]any) error {
	envelope := Envelope{
		EventID:        generateEventID(),
		EventType:      eventType,
		SchemaVersion:  "1.0",
		IdempotencyKey: fmt.Sprintf("%s_%s_%s", eventType, subject, key),
		Timestamp:      time.Now().UTC(),
		Source:         p.source,
		Subject:        subject,
		Data:           data,
	}

	slog.InfoContext(ctx, "event_published",
		"event_id", envelope.EventID,
		"event_type", envelope.EventType,
		"subject", envelope.Subject,
	)

	for _, url := range p.endpoints[eventType] {
		p.enqueue(ctx, url, envelope)
	}
	for _, url := range p.endpoints[AnyEvent] {
		p.enqueue(ctx, url, envelope)
	}
	return nil
}

// enqueue never blocks. The delivery keeps ctx's values for logging but not
// its cancellation, so it outlives the request that published it.
func (p *Publisher) enqueue(ctx context.Context, url string, envelope Envelope) {
	select {
	case p.queue <- delivery{ctx: context.WithoutCancel(ctx), url: url, envelope: envelope}:
	default:
		metrics.Measures.OutboundCalls.WithLabelValues("webhook", "dropped").Inc()
		slog.WarnContext(ctx, "event_dropped",
			"url", url,
			"event_type", envelope.EventType,
			"event_id", envelope.EventID,
		)
	}
}

// Run delivers queued events until ctx is cancelled, then drains what is
// left for at most drainTimeout.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case d := <-p.queue:
			p.sendWebhook(d.ctx, d.url, d.envelope)
		case <-ctx.Done():
			p.drain()
			return nil
		}
	}
}

func (p *Publisher) drain() {
	deadline := time.Now().Add(drainTimeout)
	for time.Now().Before(deadline) {
		select {
		case d := <-p.queue:
			dctx, cancel := context.WithDeadline(d.ctx, deadline)
			p.sendWebhook(dctx, d.url, d.envelope)
			cancel()
		default:
			return
		}
	}
	if n := len(p.queue); n > 0 {
		slog.Warn("event_queue_abandoned", "pending", n)
	}
}

func (p *Publisher) sendWebhook(ctx context.Context, url string, envelope Envelope) {
	err := httpclient.Post(url, "").
		Header("X-Event-ID", envelope.EventID).
		Header("X-Event-Type", envelope.EventType).
		IdempotencyKey(envelope.IdempotencyKey).
		JSON(envelope).
		Send(ctx, p.httpClient, nil)
	if err != nil {
		slog.WarnContext(ctx, "webhook_failed",
			"url", url,
			"event_type", envelope.EventType,
			"error", err,
		)
	}
}

func generateEventID() string {
	return "evt_" + uuid.Must(uuid.NewV7()).String()
}

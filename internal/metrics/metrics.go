package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/parlakisik/agent-exchange/aex-negotiation/internal/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	pre            = "negotiation_"
	latencyBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
	commandLabels  = []string{"command", "outcome"}
	paymentLabels  = []string{"outcome"}
	httpLabels     = []string{"method", "route", "status"}
	outboundLabels = []string{"target", "outcome"}
)

// Measures groups all negotiation service metrics.
var Measures = struct {
	Commands        *prometheus.CounterVec
	CommandLatency  *prometheus.HistogramVec
	Conflicts       prometheus.Counter
	PaymentTriggers *prometheus.CounterVec
	HTTPRequests    *prometheus.CounterVec
	OutboundCalls   *prometheus.CounterVec
}{
	Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: pre + "commands_total",
		Help: "Commands handled by the engine, by outcome.",
	}, commandLabels),
	CommandLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    pre + "command_seconds",
		Buckets: latencyBuckets,
		Help:    "Time spent handling a command, including the payment trigger.",
	}, []string{"command"}),
	Conflicts: prometheus.NewCounter(prometheus.CounterOpts{
		Name: pre + "transition_conflicts_total",
		Help: "Transitions rejected because an entity version had moved.",
	}),
	PaymentTriggers: prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: pre + "payment_triggers_total",
		Help: "Calls to the wallet collaborator, by outcome.",
	}, paymentLabels),
	HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: pre + "http_requests_total",
		Help: "HTTP requests served, by route and status.",
	}, httpLabels),
	OutboundCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: pre + "outbound_calls_total",
		Help: "Calls to collaborators and webhooks, by target and outcome. Retries count separately.",
	}, outboundLabels),
}

func init() {
	prometheus.MustRegister(
		Measures.Commands,
		Measures.CommandLatency,
		Measures.Conflicts,
		Measures.PaymentTriggers,
		Measures.HTTPRequests,
		Measures.OutboundCalls,
	)
}

// Outcome classifies err into a low-cardinality label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, model.ErrForbiddenTransition):
		return "forbidden"
	case errors.Is(err, model.ErrConflict):
		return "conflict"
	case errors.Is(err, model.ErrInvalidPayload):
		return "invalid"
	case errors.Is(err, model.ErrNotFound):
		return "not_found"
	case errors.Is(err, model.ErrPaymentAdapterUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}

// ObserveCommand records one handled command.
func ObserveCommand(command string, start time.Time, err error) {
	Measures.Commands.WithLabelValues(command, Outcome(err)).Inc()
	Measures.CommandLatency.WithLabelValues(command).Observe(time.Since(start).Seconds())
	if errors.Is(err, model.ErrConflict) {
		Measures.Conflicts.Inc()
	}
}

func Handler() http.Handler {
	return promhttp.Handler()
}

package httpapi

import (
	"net/http"

	"github.com/parlakisik/agent-exchange/aex-negotiation/internal/metrics"
	"github.com/parlakisik/agent-exchange/aex-negotiation/internal/middleware"
	"github.com/parlakisik/agent-exchange/aex-negotiation/internal/service"
)

// NewRouter mounts the negotiation API. walletKey guards the settlement
// webhook; an empty key leaves it open.
func NewRouter(svc *service.Service, auth *middleware.Authenticator, walletKey string) http.Handler {
	h := NewHandlers(svc)
	mux := http.NewServeMux()

	// Health and metrics (no auth required)
	mux.HandleFunc("GET /health", h.Health)
	mux.Handle("GET /metrics", metrics.Handler())

	api := func(fn http.HandlerFunc) http.Handler {
		return auth.Middleware(fn)
	}

	// Jobs
	mux.Handle("POST /v1/jobs", api(h.PostJob))
	mux.Handle("GET /v1/jobs/{job_id}", api(h.GetJob))
	mux.Handle("POST /v1/jobs/{job_id}/offers", api(h.SubmitOffer))
	mux.Handle("POST /v1/jobs/{job_id}/complete", api(h.CompleteJob))
	mux.Handle("POST /v1/jobs/{job_id}/close", api(h.CloseJob))
	mux.Handle("POST /v1/jobs/{job_id}/reopen", api(h.ReopenJob))
	mux.Handle("POST /v1/jobs/{job_id}/payment/retry", api(h.RetryPayment))
	mux.Handle("POST /v1/jobs/{job_id}/ratings", api(h.SubmitRating))
	mux.Handle("GET /v1/jobs/{job_id}/ratings/eligibility", api(h.RatingEligibility))
	mux.Handle("GET /v1/jobs/{job_id}/accepted-offer", api(h.AcceptedOffer))
	mux.Handle("GET /v1/jobs/{job_id}/actions", api(h.JobActions))

	// Offers
	mux.Handle("GET /v1/offers/{offer_id}", api(h.GetOffer))
	mux.Handle("PATCH /v1/offers/{offer_id}", api(h.EditOffer))
	mux.Handle("POST /v1/offers/{offer_id}/negotiate", api(h.StartNegotiation))
	mux.Handle("POST /v1/offers/{offer_id}/counter", api(h.SubmitCounterOffer))
	mux.Handle("POST /v1/offers/{offer_id}/accept", api(h.AcceptOffer))
	mux.Handle("POST /v1/offers/{offer_id}/withdraw", api(h.WithdrawOffer))
	mux.Handle("GET /v1/offers/{offer_id}/thread", api(h.GetThread))
	mux.Handle("GET /v1/offers/{offer_id}/actions", api(h.OfferActions))

	// Internal API
	mux.Handle("POST /internal/payments/settled", middleware.RequireAPIKey(walletKey)(http.HandlerFunc(h.SettlePayment)))

	return applyMiddleware(mux,
		middleware.RequestID,
		middleware.Logging,
		middleware.Recovery,
	)
}

func applyMiddleware(handler http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	// Apply in reverse order so first middleware is outermost
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return handler
}

package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/parlakisik/agent-exchange/aex-negotiation/internal/middleware"
	"github.com/parlakisik/agent-exchange/aex-negotiation/internal/model"
	"github.com/parlakisik/agent-exchange/aex-negotiation/internal/policy"
	"github.com/parlakisik/agent-exchange/aex-negotiation/internal/service"
)

const maxBodyBytes = 1 << 20

type Handlers struct {
	svc *service.Service
}

func NewHandlers(svc *service.Service) *Handlers {
	return &Handlers{svc: svc}
}

// PostJob creates a job
// POST /v1/jobs
func (h *Handlers) PostJob(w http.ResponseWriter, r *http.Request) {
	var req model.PostJobRequest
	if !decodeBody(w, r, &req, true) {
		return
	}
	snap, err := h.svc.PostJob(r.Context(), caller(r), req)
	respondCommand(w, r, http.StatusCreated, snap, err)
}

// GetJob returns the job with the offers visible to the caller
// GET /v1/jobs/{job_id}
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.JobView(r.Context(), caller(r), r.PathValue("job_id"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

// SubmitOffer bids on a job
// POST /v1/jobs/{job_id}/offers
func (h *Handlers) SubmitOffer(w http.ResponseWriter, r *http.Request) {
	var req model.SubmitOfferRequest
	if !decodeBody(w, r, &req, true) {
		return
	}
	req.JobID = r.PathValue("job_id")
	snap, err := h.svc.SubmitOffer(r.Context(), caller(r), req)
	respondCommand(w, r, http.StatusCreated, snap, err)
}

// CompleteJob marks the accepted work as done
// POST /v1/jobs/{job_id}/complete
func (h *Handlers) CompleteJob(w http.ResponseWriter, r *http.Request) {
	req, ok := jobRequest(w, r)
	if !ok {
		return
	}
	snap, err := h.svc.CompleteJob(r.Context(), caller(r), req)
	respondCommand(w, r, http.StatusOK, snap, err)
}

// CloseJob stops a job from taking offers
// POST /v1/jobs/{job_id}/close
func (h *Handlers) CloseJob(w http.ResponseWriter, r *http.Request) {
	req, ok := jobRequest(w, r)
	if !ok {
		return
	}
	snap, err := h.svc.CloseJob(r.Context(), caller(r), req)
	respondCommand(w, r, http.StatusOK, snap, err)
}

// ReopenJob opens a closed job again
// POST /v1/jobs/{job_id}/reopen
func (h *Handlers) ReopenJob(w http.ResponseWriter, r *http.Request) {
	req, ok := jobRequest(w, r)
	if !ok {
		return
	}
	snap, err := h.svc.ReopenJob(r.Context(), caller(r), req)
	respondCommand(w, r, http.StatusOK, snap, err)
}

// RetryPayment re-triggers a failed payment
// POST /v1/jobs/{job_id}/payment/retry
func (h *Handlers) RetryPayment(w http.ResponseWriter, r *http.Request) {
	var req model.RetryPaymentRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	req.JobID = r.PathValue("job_id")
	snap, err := h.svc.RetryPayment(r.Context(), caller(r), req)
	respondCommand(w, r, http.StatusOK, snap, err)
}

// SubmitRating rates the other party of a completed job
// POST /v1/jobs/{job_id}/ratings
func (h *Handlers) SubmitRating(w http.ResponseWriter, r *http.Request) {
	var req model.RatingRequest
	if !decodeBody(w, r, &req, true) {
		return
	}
	req.JobID = r.PathValue("job_id")
	snap, err := h.svc.SubmitRating(r.Context(), caller(r), req)
	respondCommand(w, r, http.StatusCreated, snap, err)
}

// RatingEligibility reports whether rater_id (default: the caller) may rate
// GET /v1/jobs/{job_id}/ratings/eligibility?rater_id={id}
func (h *Handlers) RatingEligibility(w http.ResponseWriter, r *http.Request) {
	raterID := r.URL.Query().Get("rater_id")
	if raterID == "" {
		raterID = caller(r).ID
	}
	ok, err := h.svc.RatingEligible(r.Context(), r.PathValue("job_id"), raterID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"rater_id": raterID, "eligible": ok})
}

// AcceptedOffer returns the accepted offer, or 404 when there is none
// GET /v1/jobs/{job_id}/accepted-offer
func (h *Handlers) AcceptedOffer(w http.ResponseWriter, r *http.Request) {
	offer, err := h.svc.AcceptedOfferForJob(r.Context(), caller(r), r.PathValue("job_id"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if offer == nil {
		middleware.RespondError(w, r, http.StatusNotFound, "not_found", "No offer has been accepted")
		return
	}
	respondJSON(w, http.StatusOK, offer)
}

// JobActions returns the job-level actions open to the caller
// GET /v1/jobs/{job_id}/actions
func (h *Handlers) JobActions(w http.ResponseWriter, r *http.Request) {
	av, err := h.svc.JobAvailability(r.Context(), caller(r), r.PathValue("job_id"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, availability(av))
}

// GetOffer returns an offer to either party
// GET /v1/offers/{offer_id}
func (h *Handlers) GetOffer(w http.ResponseWriter, r *http.Request) {
	tv, err := h.svc.Thread(r.Context(), caller(r), r.PathValue("offer_id"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, tv.Offer)
}

// EditOffer changes a pending offer
// PATCH /v1/offers/{offer_id}
func (h *Handlers) EditOffer(w http.ResponseWriter, r *http.Request) {
	var req model.EditOfferRequest
	if !decodeBody(w, r, &req, true) {
		return
	}
	req.OfferID = r.PathValue("offer_id")
	snap, err := h.svc.EditOffer(r.Context(), caller(r), req)
	respondCommand(w, r, http.StatusOK, snap, err)
}

// StartNegotiation opens the counter-offer thread
// POST /v1/offers/{offer_id}/negotiate
func (h *Handlers) StartNegotiation(w http.ResponseWriter, r *http.Request) {
	req, ok := offerRequest(w, r)
	if !ok {
		return
	}
	snap, err := h.svc.StartNegotiation(r.Context(), caller(r), req)
	respondCommand(w, r, http.StatusOK, snap, err)
}

// SubmitCounterOffer appends to the thread
// POST /v1/offers/{offer_id}/counter
func (h *Handlers) SubmitCounterOffer(w http.ResponseWriter, r *http.Request) {
	var req model.CounterOfferRequest
	if !decodeBody(w, r, &req, true) {
		return
	}
	req.OfferID = r.PathValue("offer_id")
	snap, err := h.svc.SubmitCounterOffer(r.Context(), caller(r), req)
	respondCommand(w, r, http.StatusCreated, snap, err)
}

// AcceptOffer accepts the offer at the latest proposed price
// POST /v1/offers/{offer_id}/accept
func (h *Handlers) AcceptOffer(w http.ResponseWriter, r *http.Request) {
	var req model.AcceptOfferRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	req.OfferID = r.PathValue("offer_id")
	snap, err := h.svc.AcceptOffer(r.Context(), caller(r), req)
	respondCommand(w, r, http.StatusOK, snap, err)
}

// WithdrawOffer withdraws the caller's offer
// POST /v1/offers/{offer_id}/withdraw
func (h *Handlers) WithdrawOffer(w http.ResponseWriter, r *http.Request) {
	req, ok := offerRequest(w, r)
	if !ok {
		return
	}
	snap, err := h.svc.WithdrawOffer(r.Context(), caller(r), req)
	respondCommand(w, r, http.StatusOK, snap, err)
}

// GetThread returns the thread, its latest entry and who must respond
// GET /v1/offers/{offer_id}/thread
func (h *Handlers) GetThread(w http.ResponseWriter, r *http.Request) {
	tv, err := h.svc.Thread(r.Context(), caller(r), r.PathValue("offer_id"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, tv)
}

// OfferActions returns the role policy for the caller on an offer
// GET /v1/offers/{offer_id}/actions
func (h *Handlers) OfferActions(w http.ResponseWriter, r *http.Request) {
	av, err := h.svc.OfferAvailability(r.Context(), caller(r), r.PathValue("offer_id"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, availability(av))
}

// SettlePayment receives checkout outcomes from the wallet
// POST /internal/payments/settled
func (h *Handlers) SettlePayment(w http.ResponseWriter, r *http.Request) {
	var notice model.SettlementNotice
	if !decodeBody(w, r, &notice, true) {
		return
	}
	snap, err := h.svc.SettlePayment(r.Context(), notice)
	respondCommand(w, r, http.StatusOK, snap, err)
}

// Health check
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func caller(r *http.Request) model.Caller {
	c, _ := middleware.CallerFrom(r.Context())
	return c
}

func jobRequest(w http.ResponseWriter, r *http.Request) (model.JobRequest, bool) {
	var req model.JobRequest
	if !decodeBody(w, r, &req, false) {
		return req, false
	}
	req.JobID = r.PathValue("job_id")
	return req, true
}

func offerRequest(w http.ResponseWriter, r *http.Request) (model.OfferRequest, bool) {
	var req model.OfferRequest
	if !decodeBody(w, r, &req, false) {
		return req, false
	}
	req.OfferID = r.PathValue("offer_id")
	return req, true
}

// decodeBody reads a JSON body into v. An empty body is accepted unless
// required is set.
func decodeBody(w http.ResponseWriter, r *http.Request, v any, required bool) bool {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	switch {
	case err == nil:
		return true
	case errors.Is(err, io.EOF) && !required:
		return true
	case errors.Is(err, io.EOF):
		middleware.RespondError(w, r, http.StatusBadRequest, "invalid_payload", "Request body is required")
	default:
		middleware.RespondError(w, r, http.StatusBadRequest, "invalid_payload", "Invalid JSON body: "+err.Error())
	}
	return false
}

type availabilityResponse struct {
	Actions       policy.ActionSet `json:"actions"`
	Prompts       policy.ActionSet `json:"prompts"`
	AwaitingOther bool             `json:"awaiting_other"`
}

func availability(av policy.Availability) availabilityResponse {
	return availabilityResponse{Actions: av.Actions, Prompts: av.Prompts(), AwaitingOther: av.AwaitingOther}
}

func respondCommand(w http.ResponseWriter, r *http.Request, status int, snap model.Snapshot, err error) {
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, status, snap)
}

func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, model.ErrInvalidPayload):
		middleware.RespondError(w, r, http.StatusBadRequest, "invalid_payload", err.Error())
	case errors.Is(err, model.ErrNotFound):
		middleware.RespondError(w, r, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, model.ErrForbiddenTransition):
		middleware.RespondError(w, r, http.StatusForbidden, "forbidden_transition", err.Error())
	case errors.Is(err, model.ErrConflict):
		middleware.RespondError(w, r, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, model.ErrPaymentAdapterUnavailable):
		middleware.RespondError(w, r, http.StatusServiceUnavailable, "payment_unavailable", err.Error())
	default:
		slog.ErrorContext(r.Context(), "request_failed", "path", r.URL.Path, "error", err)
		middleware.RespondError(w, r, http.StatusInternalServerError, "internal_error", "An internal error occurred")
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

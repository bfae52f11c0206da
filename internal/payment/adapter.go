// Package payment triggers the wallet collaborator once an offer is
// accepted. Every failure is reported as ErrPaymentAdapterUnavailable so the
// engine can record it and retry later.
package payment

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/parlakisik/agent-exchange/aex-negotiation/internal/clients"
	"github.com/parlakisik/agent-exchange/aex-negotiation/internal/model"
	"github.com/shopspring/decimal"
)

// Payment methods accepted on AcceptOffer
const (
	MethodWallet = "wallet"
	MethodCard   = "card"
)

// DefaultMethod is used when a command names none.
const DefaultMethod = MethodWallet

func ValidMethod(m string) bool {
	return m == MethodWallet || m == MethodCard
}

// Gateway is the wallet collaborator.
type Gateway interface {
	Checkout(ctx context.Context, req clients.CheckoutRequest, idempotencyKey string) (clients.CheckoutResponse, error)
}

// Request is one payment trigger. Round identifies the charge: retries after
// an unavailable wallet reuse it so the wallet can collapse them, and it only
// advances once a settlement has definitively failed.
type Request struct {
	JobID   string
	OfferID string
	Amount  decimal.Decimal
	Method  string
	Round   int
}

// Result is either a checkout redirect or a completed wallet debit.
type Result struct {
	CheckoutURL   string
	WalletDebited bool
	Reference     string
}

type Adapter struct {
	gateway Gateway
	timeout time.Duration
}

func NewAdapter(gateway Gateway, timeout time.Duration) *Adapter {
	return &Adapter{gateway: gateway, timeout: timeout}
}

func (a *Adapter) InitiatePayment(ctx context.Context, req Request) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	resp, err := a.gateway.Checkout(ctx, clients.CheckoutRequest{
		JobID:   req.JobID,
		OfferID: req.OfferID,
		Amount:  req.Amount.String(),
		Method:  req.Method,
	}, fmt.Sprintf("%s_%s_%d", req.JobID, req.OfferID, req.Round))
	if err != nil {
		slog.WarnContext(ctx, "payment_trigger_failed",
			"job_id", req.JobID,
			"offer_id", req.OfferID,
			"round", req.Round,
			"error", err,
		)
		return Result{}, fmt.Errorf("%w: %v", model.ErrPaymentAdapterUnavailable, err)
	}

	switch resp.Status {
	case clients.WalletDebited:
		return Result{WalletDebited: true, Reference: resp.Reference}, nil
	case clients.CheckoutIssued:
		if resp.CheckoutURL == "" {
			return Result{}, fmt.Errorf("%w: checkout issued without url", model.ErrPaymentAdapterUnavailable)
		}
		return Result{CheckoutURL: resp.CheckoutURL, Reference: resp.Reference}, nil
	default:
		return Result{}, fmt.Errorf("%w: unexpected wallet status %q", model.ErrPaymentAdapterUnavailable, resp.Status)
	}
}

package clients

import (
	"context"
	"time"

	"github.com/parlakisik/agent-exchange/aex-negotiation/internal/httpclient"
)

// Wallet checkout outcomes
const (
	CheckoutIssued = "checkout_issued"
	WalletDebited  = "debited"
)

// CheckoutRequest asks the wallet to charge the client for an accepted offer
type CheckoutRequest struct {
	JobID   string `json:"job_id"`
	OfferID string `json:"offer_id"`
	Amount  string `json:"amount"` // Decimal as string
	Method  string `json:"method"`
}

type CheckoutResponse struct {
	Status      string `json:"status"`
	CheckoutURL string `json:"checkout_url,omitempty"`
	Reference   string `json:"reference"`
}

type WalletClient struct {
	baseURL string
	client  *httpclient.Client
}

func NewWalletClient(baseURL, apiKey string, timeout time.Duration) *WalletClient {
	var opts []httpclient.Option
	if apiKey != "" {
		opts = append(opts, httpclient.WithBearer(apiKey))
	}
	return &WalletClient{
		baseURL: baseURL,
		client:  httpclient.New("wallet", timeout, opts...),
	}
}

// Checkout opens a checkout session or debits the client's wallet directly.
// idempotencyKey lets the wallet collapse retried deliveries of one attempt.
func (c *WalletClient) Checkout(ctx context.Context, req CheckoutRequest, idempotencyKey string) (CheckoutResponse, error) {
	var resp CheckoutResponse
	err := httpclient.Post(c.baseURL, "/v1/checkout").
		IdempotencyKey(idempotencyKey).
		JSON(req).
		Send(ctx, c.client, &resp)
	return resp, err
}

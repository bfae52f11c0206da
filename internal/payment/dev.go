package payment

import (
	"context"

	"github.com/google/uuid"
	"github.com/parlakisik/agent-exchange/aex-negotiation/internal/clients"
)

// DevGateway stands in for the wallet when none is configured. Wallet
// payments settle at once; card payments get a placeholder checkout page.
type DevGateway struct {
	BaseURL string
}

func (g DevGateway) Checkout(ctx context.Context, req clients.CheckoutRequest, idempotencyKey string) (clients.CheckoutResponse, error) {
	ref := "dev_" + uuid.NewSHA1(uuid.NameSpaceURL, []byte(idempotencyKey)).String()
	if req.Method == MethodCard {
		return clients.CheckoutResponse{
			Status:      clients.CheckoutIssued,
			CheckoutURL: g.BaseURL + "/dev/checkout/" + ref,
			Reference:   ref,
		}, nil
	}
	return clients.CheckoutResponse{Status: clients.WalletDebited, Reference: ref}, nil
}

package rail

import (
	"context"

	"github.com/sunnypayments/core/internal/domain"
)

// ChargeResult is a hosted rail's answer to one charge.
type ChargeResult struct {
	Approved    bool
	ProviderRef string
	Message     string
}

// Provider is the contract for hosted card rails that sit behind a vendor
// API rather than a raw bank socket.
type Provider interface {
	Charge(ctx context.Context, intent *domain.PaymentIntent, transactionID string) (*ChargeResult, error)
	Refund(ctx context.Context, providerRef string) error
}

package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// AddressStatus is what a ledger node reports for a receiving address.
type AddressStatus struct {
	// Received is the total amount observed at the address, in the
	// chain's native denomination.
	Received      decimal.Decimal `json:"received"`
	Confirmations int             `json:"confirmations"`
}

// Provider queries a distributed ledger for receipt status. Swappable so
// the settlement monitor can be tested against deterministic fakes.
type Provider interface {
	AddressStatus(ctx context.Context, currency, address string) (*AddressStatus, error)
}

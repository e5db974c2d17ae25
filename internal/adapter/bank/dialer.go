package bank

import (
	"context"

	"go.uber.org/zap"

	"github.com/sunnypayments/core/internal/adapter/pool"
	"github.com/sunnypayments/core/internal/ports"
	"github.com/sunnypayments/core/pkg/config"
)

// NewDialer adapts the connector into the socket pool's dial contract.
// Each dial yields a fresh, signed-on session.
func NewDialer(cfg config.BankRailConfig, creds ports.CredentialSource, log *zap.Logger) pool.BankDialer {
	return func(ctx context.Context) (pool.BankConn, error) {
		c := NewConnector(cfg, creds, log)
		if err := c.Connect(ctx); err != nil {
			return nil, err
		}
		return c, nil
	}
}

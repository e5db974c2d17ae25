package ports

import (
	"context"
	"time"

	"github.com/sunnypayments/core/internal/domain"
)

// Cache is the shared key/value cache used for in-flight attempt status.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Delete(ctx context.Context, key string) error
	Ping() error
	Close() error
}

// AttemptRepository persists the in-flight state the core needs to track.
type AttemptRepository interface {
	Save(ctx context.Context, attempt *domain.Attempt) error
	Get(ctx context.Context, transactionID string) (*domain.Attempt, error)
	GetByChallengeID(ctx context.Context, challengeID string) (*domain.Attempt, error)
}

// CredentialSource resolves a named rail credential. Implementations are the
// file-backed secret store and the Vault client; callers never learn which.
type CredentialSource interface {
	Credential(ctx context.Context, name string) (string, error)
}

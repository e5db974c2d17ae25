package mocks

import (
	"context"
	"sync"

	"github.com/sunnypayments/core/internal/domain"
)

// MockAttemptRepository is a mock implementation of AttemptRepository
type MockAttemptRepository struct {
	mu       sync.Mutex
	attempts map[string]*domain.Attempt

	SaveFunc             func(ctx context.Context, attempt *domain.Attempt) error
	GetFunc              func(ctx context.Context, transactionID string) (*domain.Attempt, error)
	GetByChallengeIDFunc func(ctx context.Context, challengeID string) (*domain.Attempt, error)
}

func NewMockAttemptRepository() *MockAttemptRepository {
	return &MockAttemptRepository{
		attempts: make(map[string]*domain.Attempt),
	}
}

func (m *MockAttemptRepository) Save(ctx context.Context, attempt *domain.Attempt) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, attempt)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *attempt
	m.attempts[attempt.TransactionID] = &cp
	return nil
}

func (m *MockAttemptRepository) Get(ctx context.Context, transactionID string) (*domain.Attempt, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, transactionID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.attempts[transactionID]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, nil
}

func (m *MockAttemptRepository) GetByChallengeID(ctx context.Context, challengeID string) (*domain.Attempt, error) {
	if m.GetByChallengeIDFunc != nil {
		return m.GetByChallengeIDFunc(ctx, challengeID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.attempts {
		if a.ChallengeID == challengeID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

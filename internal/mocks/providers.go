package mocks

import (
	"context"
	"fmt"

	"github.com/sunnypayments/core/internal/adapter/ledger"
	"github.com/sunnypayments/core/internal/adapter/rail"
	"github.com/sunnypayments/core/internal/adapter/stepup"
	"github.com/sunnypayments/core/internal/domain"
)

// MockLedgerProvider is a mock implementation of ledger.Provider
type MockLedgerProvider struct {
	Statuses          map[string]*ledger.AddressStatus
	AddressStatusFunc func(ctx context.Context, currency, address string) (*ledger.AddressStatus, error)
}

func NewMockLedgerProvider() *MockLedgerProvider {
	return &MockLedgerProvider{
		Statuses: make(map[string]*ledger.AddressStatus),
	}
}

func (m *MockLedgerProvider) AddressStatus(ctx context.Context, currency, address string) (*ledger.AddressStatus, error) {
	if m.AddressStatusFunc != nil {
		return m.AddressStatusFunc(ctx, currency, address)
	}
	if s, ok := m.Statuses[address]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("no status for address %s", address)
}

// MockRailProvider is a mock implementation of rail.Provider
type MockRailProvider struct {
	ChargeFunc func(ctx context.Context, intent *domain.PaymentIntent, transactionID string) (*rail.ChargeResult, error)
	RefundFunc func(ctx context.Context, providerRef string) error
}

func (m *MockRailProvider) Charge(ctx context.Context, intent *domain.PaymentIntent, transactionID string) (*rail.ChargeResult, error) {
	if m.ChargeFunc != nil {
		return m.ChargeFunc(ctx, intent, transactionID)
	}
	return &rail.ChargeResult{Approved: true, ProviderRef: "pi_mock"}, nil
}

func (m *MockRailProvider) Refund(ctx context.Context, providerRef string) error {
	if m.RefundFunc != nil {
		return m.RefundFunc(ctx, providerRef)
	}
	return nil
}

// MockStepUpProvider is a mock implementation of stepup.Provider
type MockStepUpProvider struct {
	CreateChallengeFunc func(ctx context.Context, req *stepup.ChallengeRequest) (*stepup.ChallengeResponse, error)
	ValidateProofFunc   func(ctx context.Context, challengeID string, proof []byte) (*stepup.ProofResult, error)
}

func (m *MockStepUpProvider) CreateChallenge(ctx context.Context, req *stepup.ChallengeRequest) (*stepup.ChallengeResponse, error) {
	if m.CreateChallengeFunc != nil {
		return m.CreateChallengeFunc(ctx, req)
	}
	return &stepup.ChallengeResponse{
		ChallengeRequired: true,
		ChallengeURL:      "https://stepup.example.com/challenge/" + req.ChallengeID,
	}, nil
}

func (m *MockStepUpProvider) ValidateProof(ctx context.Context, challengeID string, proof []byte) (*stepup.ProofResult, error) {
	if m.ValidateProofFunc != nil {
		return m.ValidateProofFunc(ctx, challengeID, proof)
	}
	return &stepup.ProofResult{Valid: true}, nil
}

// MockCredentialSource is a mock implementation of CredentialSource
type MockCredentialSource struct {
	Credentials    map[string]string
	CredentialFunc func(ctx context.Context, name string) (string, error)
}

func (m *MockCredentialSource) Credential(ctx context.Context, name string) (string, error) {
	if m.CredentialFunc != nil {
		return m.CredentialFunc(ctx, name)
	}
	if v, ok := m.Credentials[name]; ok {
		return v, nil
	}
	return "", domain.ErrSecretNotFound
}

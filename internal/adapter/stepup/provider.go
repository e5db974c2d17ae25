package stepup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// ChallengeRequest is the payload sent to the step-up service when a
// risk-flagged card payment needs cardholder authentication.
type ChallengeRequest struct {
	ChallengeID string `json:"challenge_id"`
	MerchantID  string `json:"merchant_id"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	CardNumber  string `json:"card_number"`
	CallbackURL string `json:"callback_url"`
}

// ChallengeResponse is the step-up service's answer: either a challenge
// the payer must complete, or a frictionless pass with a signed token.
type ChallengeResponse struct {
	ChallengeRequired bool   `json:"challenge_required"`
	ChallengeURL      string `json:"challenge_url,omitempty"`
	AuthToken         string `json:"auth_token,omitempty"`
}

// ProofResult is the service's verdict on a callback proof.
type ProofResult struct {
	Valid     bool   `json:"valid"`
	AuthToken string `json:"auth_token,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// Provider is the outbound step-up service contract. Swappable so tests
// run against a deterministic fake.
type Provider interface {
	CreateChallenge(ctx context.Context, req *ChallengeRequest) (*ChallengeResponse, error)
	ValidateProof(ctx context.Context, challengeID string, proof []byte) (*ProofResult, error)
}

// HTTPProvider talks to the step-up service over its JSON API.
type HTTPProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
	log     *zap.Logger
}

func NewHTTPProvider(baseURL, apiKey string, log *zap.Logger) Provider {
	return &HTTPProvider{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 15 * time.Second},
		log:     log,
	}
}

func (p *HTTPProvider) CreateChallenge(ctx context.Context, req *ChallengeRequest) (*ChallengeResponse, error) {
	var resp ChallengeResponse
	if err := p.post(ctx, "/v1/challenges", req, &resp); err != nil {
		return nil, fmt.Errorf("stepup: create challenge: %w", err)
	}
	return &resp, nil
}

func (p *HTTPProvider) ValidateProof(ctx context.Context, challengeID string, proof []byte) (*ProofResult, error) {
	body := map[string]interface{}{
		"challenge_id": challengeID,
		"proof":        json.RawMessage(proof),
	}
	var resp ProofResult
	if err := p.post(ctx, "/v1/challenges/"+challengeID+"/validate", body, &resp); err != nil {
		return nil, fmt.Errorf("stepup: validate proof: %w", err)
	}
	return &resp, nil
}

func (p *HTTPProvider) post(ctx context.Context, path string, in, out interface{}) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

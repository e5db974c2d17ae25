package stepup

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sunnypayments/core/internal/domain"
)

type ChallengeStatus string

const (
	ChallengeStatusPending   ChallengeStatus = "pending"
	ChallengeStatusCompleted ChallengeStatus = "completed"
	ChallengeStatusFailed    ChallengeStatus = "failed"
)

// AuthResult is what the orchestrator gets back from Authenticate: either
// a redirect the payer must follow, or a frictionless pass-through token.
type AuthResult struct {
	RequiresChallenge bool
	ChallengeID       string
	ChallengeURL      string
	AuthToken         string
}

// CallbackResult is the outcome of one challenge callback.
type CallbackResult struct {
	ChallengeID   string
	TransactionID string
	Completed     bool
	AuthToken     string
	Reason        string
}

type challengeRecord struct {
	id            string
	transactionID string
	merchantID    string
	amount        int64
	currency      string
	status        ChallengeStatus
	authToken     string
	reason        string
	createdAt     time.Time
	resolvedAt    time.Time
}

// Controller owns the step-up challenge lifecycle: it opens challenges
// against the step-up service, resolves callbacks, absorbs duplicate
// callbacks for a short retention window, and sweeps abandoned records.
type Controller struct {
	provider   Provider
	signingKey []byte

	lifetime        time.Duration
	completedRetain time.Duration

	challenges map[string]*challengeRecord
	mu         sync.Mutex

	clk    clock.Clock
	log    *zap.Logger
	stopCh chan struct{}
	once   sync.Once
}

func NewController(provider Provider, signingKey []byte, lifetime, completedRetain, sweepInterval time.Duration, clk clock.Clock, log *zap.Logger) *Controller {
	if lifetime <= 0 {
		lifetime = time.Hour
	}
	if completedRetain <= 0 {
		completedRetain = 5 * time.Minute
	}
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}
	if clk == nil {
		clk = clock.New()
	}

	c := &Controller{
		provider:        provider,
		signingKey:      signingKey,
		lifetime:        lifetime,
		completedRetain: completedRetain,
		challenges:      make(map[string]*challengeRecord),
		clk:             clk,
		log:             log,
		stopCh:          make(chan struct{}),
	}

	go c.sweepLoop(sweepInterval)
	return c
}

// Authenticate opens a challenge for a risk-flagged card payment. The
// callback URL is the intent's return URL with the challenge id appended.
func (c *Controller) Authenticate(ctx context.Context, intent *domain.PaymentIntent, transactionID string) (*AuthResult, error) {
	if intent.Card == nil {
		return nil, fmt.Errorf("%w: step-up requires card details", domain.ErrValidation)
	}

	challengeID := uuid.New().String()
	callbackURL, err := appendChallengeID(intent.ReturnURL, challengeID)
	if err != nil {
		return nil, &domain.ValidationError{Field: "return_url", Detail: err.Error()}
	}

	rec := &challengeRecord{
		id:            challengeID,
		transactionID: transactionID,
		merchantID:    intent.MerchantID,
		amount:        intent.Amount,
		currency:      intent.Currency,
		status:        ChallengeStatusPending,
		createdAt:     c.clk.Now(),
	}

	c.mu.Lock()
	c.challenges[challengeID] = rec
	c.mu.Unlock()

	resp, err := c.provider.CreateChallenge(ctx, &ChallengeRequest{
		ChallengeID: challengeID,
		MerchantID:  intent.MerchantID,
		Amount:      intent.Amount,
		Currency:    intent.Currency,
		CardNumber:  intent.Card.Number,
		CallbackURL: callbackURL,
	})
	if err != nil {
		c.mu.Lock()
		delete(c.challenges, challengeID)
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", domain.ErrRailFault, err)
	}

	if !resp.ChallengeRequired {
		if _, err := VerifyAuthToken(resp.AuthToken, c.signingKey); err != nil {
			return nil, fmt.Errorf("%w: frictionless token rejected: %v", domain.ErrRailFault, err)
		}
		c.mu.Lock()
		delete(c.challenges, challengeID)
		c.mu.Unlock()

		c.log.Info("Step-up frictionless pass",
			zap.String("transaction_id", transactionID),
			zap.String("merchant_id", intent.MerchantID),
		)
		return &AuthResult{AuthToken: resp.AuthToken}, nil
	}

	c.log.Info("Step-up challenge opened",
		zap.String("challenge_id", challengeID),
		zap.String("transaction_id", transactionID),
	)
	return &AuthResult{
		RequiresChallenge: true,
		ChallengeID:       challengeID,
		ChallengeURL:      resp.ChallengeURL,
	}, nil
}

// HandleCallback resolves a challenge with the proof the payer's browser
// posted back. Duplicate callbacks within the retention window return the
// stored outcome; unknown or swept challenges fail with
// ErrChallengeInvalid.
func (c *Controller) HandleCallback(ctx context.Context, challengeID string, proof []byte) (*CallbackResult, error) {
	c.mu.Lock()
	rec, ok := c.challenges[challengeID]
	if !ok {
		c.mu.Unlock()
		return nil, domain.ErrChallengeInvalid
	}

	if rec.status != ChallengeStatusPending {
		result := rec.result()
		c.mu.Unlock()
		return result, nil
	}

	if c.clk.Now().Sub(rec.createdAt) > c.lifetime {
		delete(c.challenges, challengeID)
		c.mu.Unlock()
		return nil, domain.ErrChallengeInvalid
	}
	c.mu.Unlock()

	verdict, err := c.provider.ValidateProof(ctx, challengeID, proof)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrRailFault, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Re-check: a concurrent callback may have resolved it first.
	if rec.status != ChallengeStatusPending {
		return rec.result(), nil
	}

	rec.resolvedAt = c.clk.Now()
	if verdict.Valid {
		if _, err := VerifyAuthToken(verdict.AuthToken, c.signingKey); err != nil {
			rec.status = ChallengeStatusFailed
			rec.reason = "auth token rejected"
		} else {
			rec.status = ChallengeStatusCompleted
			rec.authToken = verdict.AuthToken
		}
	} else {
		rec.status = ChallengeStatusFailed
		rec.reason = verdict.Reason
	}

	c.log.Info("Step-up challenge resolved",
		zap.String("challenge_id", challengeID),
		zap.String("status", string(rec.status)),
	)
	return rec.result(), nil
}

func (r *challengeRecord) result() *CallbackResult {
	return &CallbackResult{
		ChallengeID:   r.id,
		TransactionID: r.transactionID,
		Completed:     r.status == ChallengeStatusCompleted,
		AuthToken:     r.authToken,
		Reason:        r.reason,
	}
}

func (c *Controller) sweepLoop(interval time.Duration) {
	ticker := c.clk.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stopCh:
			return
		}
	}
}

// sweep bounds memory: resolved challenges outlive their retention window
// and abandoned pending ones outlive the total lifetime.
func (c *Controller) sweep() {
	now := c.clk.Now()
	removed := 0

	c.mu.Lock()
	for id, rec := range c.challenges {
		expired := false
		switch rec.status {
		case ChallengeStatusPending:
			expired = now.Sub(rec.createdAt) > c.lifetime
		default:
			expired = now.Sub(rec.resolvedAt) > c.completedRetain
		}
		if expired {
			delete(c.challenges, id)
			removed++
		}
	}
	c.mu.Unlock()

	if removed > 0 {
		c.log.Debug("Step-up sweep completed", zap.Int("removed", removed))
	}
}

// Close stops the sweep loop. Pending challenges are dropped; callbacks
// arriving afterward fail as invalid.
func (c *Controller) Close() error {
	c.once.Do(func() { close(c.stopCh) })
	return nil
}

func appendChallengeID(returnURL, challengeID string) (string, error) {
	if returnURL == "" {
		return "", fmt.Errorf("return URL required for step-up")
	}
	u, err := url.Parse(returnURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("challengeId", challengeID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

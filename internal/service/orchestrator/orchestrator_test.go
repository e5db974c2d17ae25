package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"go.uber.org/zap"

	"github.com/sunnypayments/core/internal/adapter/bank"
	"github.com/sunnypayments/core/internal/adapter/pool"
	"github.com/sunnypayments/core/internal/adapter/queue"
	"github.com/sunnypayments/core/internal/adapter/stepup"
	"github.com/sunnypayments/core/internal/domain"
	"github.com/sunnypayments/core/internal/mocks"
	"github.com/sunnypayments/core/internal/ports"
	"github.com/sunnypayments/core/internal/service/settlement"
)

// fakeSession is a pooled bank connection with a scripted response.
type fakeSession struct {
	authorizeFunc func(ctx context.Context, intent *domain.PaymentIntent, transactionID, stepUpToken string) (*bank.AuthResponse, error)
	lastToken     string
}

func (f *fakeSession) Healthy() bool { return true }
func (f *fakeSession) Close() error  { return nil }

func (f *fakeSession) Authorize(ctx context.Context, intent *domain.PaymentIntent, transactionID, stepUpToken string) (*bank.AuthResponse, error) {
	f.lastToken = stepUpToken
	return f.authorizeFunc(ctx, intent, transactionID, stepUpToken)
}

// fakePools hands out scripted sessions per rail and counts borrowing.
type fakePools struct {
	sessions map[string]*fakeSession
	cache    ports.Cache
	acquires map[string]int
	releases map[string]int
}

func newFakePools() *fakePools {
	return &fakePools{
		sessions: make(map[string]*fakeSession),
		cache:    mocks.NewMockCache(),
		acquires: make(map[string]int),
		releases: make(map[string]int),
	}
}

func (f *fakePools) AcquireBank(ctx context.Context, rail string) (pool.BankConn, error) {
	f.acquires[rail]++
	s, ok := f.sessions[rail]
	if !ok {
		return nil, domain.ErrNoAvailableBackend
	}
	return s, nil
}

func (f *fakePools) ReleaseBank(rail string, conn pool.BankConn) {
	f.releases[rail]++
}

func (f *fakePools) Cache() ports.Cache { return f.cache }

// fakeRouter returns a fixed decision and records outcome updates.
type fakeRouter struct {
	decision    *domain.RoutingDecision
	rateUpdates []bool
}

func (f *fakeRouter) GetOptimalRoute(intent *domain.PaymentIntent) *domain.RoutingDecision {
	d := *f.decision
	return &d
}

func (f *fakeRouter) UpdateSuccessRate(method domain.PaymentMethod, success bool) {
	f.rateUpdates = append(f.rateUpdates, success)
}

func (f *fakeRouter) RecordRailOutcome(rail domain.Rail, success bool, latency time.Duration) {}

type fakeStepUp struct {
	authenticateFunc func(ctx context.Context, intent *domain.PaymentIntent, transactionID string) (*stepup.AuthResult, error)
	callbackFunc     func(ctx context.Context, challengeID string, proof []byte) (*stepup.CallbackResult, error)
}

func (f *fakeStepUp) Authenticate(ctx context.Context, intent *domain.PaymentIntent, transactionID string) (*stepup.AuthResult, error) {
	return f.authenticateFunc(ctx, intent, transactionID)
}

func (f *fakeStepUp) HandleCallback(ctx context.Context, challengeID string, proof []byte) (*stepup.CallbackResult, error) {
	return f.callbackFunc(ctx, challengeID, proof)
}

type fakeTracker struct {
	tracked []*settlement.TrackedSettlement
}

func (f *fakeTracker) Track(s *settlement.TrackedSettlement) {
	f.tracked = append(f.tracked, s)
}

type fixture struct {
	orch    *Orchestrator
	router  *fakeRouter
	pools   *fakePools
	stepUp  *fakeStepUp
	tracker *fakeTracker
	hosted  *mocks.MockRailProvider
	repo    *mocks.MockAttemptRepository
	events  *mocks.MockQueue
}

func newFixture(decision *domain.RoutingDecision) *fixture {
	logger, _ := zap.NewDevelopment()
	f := &fixture{
		router:  &fakeRouter{decision: decision},
		pools:   newFakePools(),
		stepUp:  &fakeStepUp{},
		tracker: &fakeTracker{},
		hosted:  &mocks.MockRailProvider{},
		repo:    mocks.NewMockAttemptRepository(),
		events:  mocks.NewMockQueue(),
	}
	f.orch = New(f.router, f.pools, f.stepUp, f.tracker, f.hosted, f.repo, f.events, time.Hour, clock.NewMock(), logger)
	return f
}

func validCardIntent() *domain.PaymentIntent {
	return &domain.PaymentIntent{
		Amount:         10000,
		Currency:       "USD",
		Method:         domain.PaymentMethodCard,
		MerchantID:     "merchant-1",
		IdempotencyKey: "idem-1",
		Card: &domain.Card{
			Number:      "4111111111111111",
			ExpiryMonth: "12",
			ExpiryYear:  "2030",
			CVV:         "123",
			HolderName:  "J DOE",
		},
	}
}

func approvedResponse(transactionID string) *bank.AuthResponse {
	return &bank.AuthResponse{
		Approved:      true,
		ResponseCode:  "00",
		Message:       "Approved",
		TransactionID: transactionID,
		AuthCode:      "A00042",
		CardTail:      "1111",
	}
}

func TestSubmitPayment_ApprovedSettles(t *testing.T) {
	// Arrange
	f := newFixture(&domain.RoutingDecision{
		Rail:         domain.RailBankPrimary,
		FallbackRail: domain.RailBankSecondary,
		Confidence:   0.9,
	})
	f.pools.sessions["bank_primary"] = &fakeSession{
		authorizeFunc: func(ctx context.Context, intent *domain.PaymentIntent, txID, token string) (*bank.AuthResponse, error) {
			return approvedResponse("TX123"), nil
		},
	}

	// Act
	result, err := f.orch.SubmitPayment(context.Background(), validCardIntent())

	// Assert
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !result.Success {
		t.Error("expected success")
	}
	if result.Status != domain.AttemptStatusSettled {
		t.Errorf("status = %s, want settled", result.Status)
	}
	if result.TransactionID != "TX123" {
		t.Errorf("transaction id = %q, want TX123", result.TransactionID)
	}
	if result.CardLast4 != "1111" {
		t.Errorf("card tail = %q", result.CardLast4)
	}

	if len(f.router.rateUpdates) != 1 || !f.router.rateUpdates[0] {
		t.Errorf("expected one success-rate update with success=true, got %v", f.router.rateUpdates)
	}
	if f.pools.releases["bank_primary"] != 1 {
		t.Error("pooled session must be released")
	}
	if len(f.events.MessagesOn(queue.SubjectAttemptSettled)) != 1 {
		t.Error("expected one settled event")
	}
}

func TestSubmitPayment_HardDeclineNoRetry(t *testing.T) {
	f := newFixture(&domain.RoutingDecision{
		Rail:         domain.RailBankPrimary,
		FallbackRail: domain.RailBankSecondary,
	})
	f.pools.sessions["bank_primary"] = &fakeSession{
		authorizeFunc: func(ctx context.Context, intent *domain.PaymentIntent, txID, token string) (*bank.AuthResponse, error) {
			return &bank.AuthResponse{
				Approved:     false,
				ResponseCode: "51",
				Message:      "Insufficient funds",
			}, nil
		},
	}
	f.pools.sessions["bank_secondary"] = &fakeSession{
		authorizeFunc: func(ctx context.Context, intent *domain.PaymentIntent, txID, token string) (*bank.AuthResponse, error) {
			t.Fatal("hard decline must never hit the fallback rail")
			return nil, nil
		},
	}

	result, err := f.orch.SubmitPayment(context.Background(), validCardIntent())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if result.Success {
		t.Error("expected failure")
	}
	if result.Status != domain.AttemptStatusFailed {
		t.Errorf("status = %s, want failed", result.Status)
	}
	if result.RailResponse != "Insufficient funds" {
		t.Errorf("rail response = %q, want Insufficient funds", result.RailResponse)
	}
	if f.pools.acquires["bank_secondary"] != 0 {
		t.Error("fallback rail must not be touched on a hard decline")
	}
	if len(f.router.rateUpdates) != 1 || f.router.rateUpdates[0] {
		t.Errorf("expected one success-rate update with success=false, got %v", f.router.rateUpdates)
	}
}

func TestSubmitPayment_TimeoutRetriesFallbackOnce(t *testing.T) {
	f := newFixture(&domain.RoutingDecision{
		Rail:         domain.RailBankPrimary,
		FallbackRail: domain.RailBankSecondary,
	})
	primaryCalls := 0
	f.pools.sessions["bank_primary"] = &fakeSession{
		authorizeFunc: func(ctx context.Context, intent *domain.PaymentIntent, txID, token string) (*bank.AuthResponse, error) {
			primaryCalls++
			return nil, domain.ErrBankTimeout
		},
	}
	f.pools.sessions["bank_secondary"] = &fakeSession{
		authorizeFunc: func(ctx context.Context, intent *domain.PaymentIntent, txID, token string) (*bank.AuthResponse, error) {
			return approvedResponse("TX456"), nil
		},
	}

	result, err := f.orch.SubmitPayment(context.Background(), validCardIntent())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if primaryCalls != 1 {
		t.Errorf("primary rail called %d times, want 1 (no in-place retry)", primaryCalls)
	}
	if f.pools.acquires["bank_secondary"] != 1 {
		t.Errorf("fallback acquired %d times, want exactly 1", f.pools.acquires["bank_secondary"])
	}
	if !result.Success || result.TransactionID != "TX456" {
		t.Errorf("expected fallback approval, got %+v", result)
	}
	if result.Rail != domain.RailBankSecondary {
		t.Errorf("rail = %s, want %s", result.Rail, domain.RailBankSecondary)
	}
}

func TestSubmitPayment_TimeoutNoFallbackFails(t *testing.T) {
	f := newFixture(&domain.RoutingDecision{Rail: domain.RailBankPrimary})
	f.pools.sessions["bank_primary"] = &fakeSession{
		authorizeFunc: func(ctx context.Context, intent *domain.PaymentIntent, txID, token string) (*bank.AuthResponse, error) {
			return nil, domain.ErrBankTimeout
		},
	}

	result, err := f.orch.SubmitPayment(context.Background(), validCardIntent())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if result.Success || result.Status != domain.AttemptStatusFailed {
		t.Errorf("expected failed result, got %+v", result)
	}
	// Internal cause must not leak to the caller.
	if result.RailResponse != genericFailure {
		t.Errorf("rail response = %q, want %q", result.RailResponse, genericFailure)
	}
}

func TestSubmitPayment_ValidationErrors(t *testing.T) {
	f := newFixture(&domain.RoutingDecision{Rail: domain.RailBankPrimary})

	cases := []struct {
		name   string
		mutate func(*domain.PaymentIntent)
	}{
		{"zero amount", func(i *domain.PaymentIntent) { i.Amount = 0 }},
		{"bad currency", func(i *domain.PaymentIntent) { i.Currency = "US" }},
		{"missing merchant", func(i *domain.PaymentIntent) { i.MerchantID = "" }},
		{"missing idempotency key", func(i *domain.PaymentIntent) { i.IdempotencyKey = "" }},
		{"bad luhn", func(i *domain.PaymentIntent) { i.Card.Number = "4111111111111112" }},
		{"expired card", func(i *domain.PaymentIntent) { i.Card.ExpiryYear = "1969" }},
		{"missing card", func(i *domain.PaymentIntent) { i.Card = nil }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			intent := validCardIntent()
			tc.mutate(intent)

			_, err := f.orch.SubmitPayment(context.Background(), intent)
			if !errors.Is(err, domain.ErrValidation) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
		})
	}

	if len(f.router.rateUpdates) != 0 {
		t.Error("validation failures must not touch success rates")
	}
}

func TestSubmitPayment_ChallengeFlow(t *testing.T) {
	f := newFixture(&domain.RoutingDecision{
		Rail:                         domain.RailBankPrimary,
		RequiresEnhancedVerification: true,
	})
	f.stepUp.authenticateFunc = func(ctx context.Context, intent *domain.PaymentIntent, txID string) (*stepup.AuthResult, error) {
		return &stepup.AuthResult{
			RequiresChallenge: true,
			ChallengeID:       "ch-1",
			ChallengeURL:      "https://acs.example.com/c/ch-1",
		}, nil
	}
	session := &fakeSession{
		authorizeFunc: func(ctx context.Context, intent *domain.PaymentIntent, txID, token string) (*bank.AuthResponse, error) {
			return approvedResponse("TX789"), nil
		},
	}
	f.pools.sessions["bank_primary"] = session

	// Act 1: submission parks behind the challenge.
	result, err := f.orch.SubmitPayment(context.Background(), validCardIntent())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result.Status != domain.AttemptStatusChallengePending {
		t.Fatalf("status = %s, want challenge_pending", result.Status)
	}
	if result.ChallengeURL == "" || result.ChallengeID != "ch-1" {
		t.Fatalf("expected challenge url and id, got %+v", result)
	}
	if f.pools.acquires["bank_primary"] != 0 {
		t.Fatal("no authorization may run before the challenge resolves")
	}
	if len(f.events.MessagesOn(queue.SubjectAttemptChallenge)) != 1 {
		t.Error("expected one challenge event")
	}

	// Act 2: callback resolves and authorization resumes with the token.
	f.stepUp.callbackFunc = func(ctx context.Context, challengeID string, proof []byte) (*stepup.CallbackResult, error) {
		return &stepup.CallbackResult{
			ChallengeID: challengeID,
			Completed:   true,
			AuthToken:   "signed-token",
		}, nil
	}
	final, err := f.orch.ResumeChallenge(context.Background(), "ch-1", []byte(`{}`))
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if !final.Success || final.Status != domain.AttemptStatusSettled {
		t.Errorf("expected settled result, got %+v", final)
	}
	if session.lastToken != "signed-token" {
		t.Errorf("step-up token not forwarded to the rail, got %q", session.lastToken)
	}
}

func TestSubmitPayment_FrictionlessSkipsChallenge(t *testing.T) {
	f := newFixture(&domain.RoutingDecision{
		Rail:                         domain.RailBankPrimary,
		RequiresEnhancedVerification: true,
	})
	f.stepUp.authenticateFunc = func(ctx context.Context, intent *domain.PaymentIntent, txID string) (*stepup.AuthResult, error) {
		return &stepup.AuthResult{AuthToken: "frictionless-token"}, nil
	}
	session := &fakeSession{
		authorizeFunc: func(ctx context.Context, intent *domain.PaymentIntent, txID, token string) (*bank.AuthResponse, error) {
			return approvedResponse("TX321"), nil
		},
	}
	f.pools.sessions["bank_primary"] = session

	result, err := f.orch.SubmitPayment(context.Background(), validCardIntent())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !result.Success || result.Status != domain.AttemptStatusSettled {
		t.Errorf("expected settled, got %+v", result)
	}
	if session.lastToken != "frictionless-token" {
		t.Errorf("token = %q", session.lastToken)
	}
}

func TestResumeChallenge_FailedChallenge(t *testing.T) {
	f := newFixture(&domain.RoutingDecision{
		Rail:                         domain.RailBankPrimary,
		RequiresEnhancedVerification: true,
	})
	f.stepUp.authenticateFunc = func(ctx context.Context, intent *domain.PaymentIntent, txID string) (*stepup.AuthResult, error) {
		return &stepup.AuthResult{RequiresChallenge: true, ChallengeID: "ch-2", ChallengeURL: "https://acs.example.com/c/ch-2"}, nil
	}
	f.stepUp.callbackFunc = func(ctx context.Context, challengeID string, proof []byte) (*stepup.CallbackResult, error) {
		return &stepup.CallbackResult{ChallengeID: challengeID, Completed: false, Reason: "cardholder abandoned"}, nil
	}

	if _, err := f.orch.SubmitPayment(context.Background(), validCardIntent()); err != nil {
		t.Fatalf("submit: %v", err)
	}

	result, err := f.orch.ResumeChallenge(context.Background(), "ch-2", []byte(`{}`))
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if result.Success || result.Status != domain.AttemptStatusFailed {
		t.Errorf("expected failed result, got %+v", result)
	}
	if result.RailResponse != "cardholder abandoned" {
		t.Errorf("rail response = %q", result.RailResponse)
	}
}

func TestResumeChallenge_UnknownChallenge(t *testing.T) {
	f := newFixture(&domain.RoutingDecision{Rail: domain.RailBankPrimary})
	f.stepUp.callbackFunc = func(ctx context.Context, challengeID string, proof []byte) (*stepup.CallbackResult, error) {
		return nil, domain.ErrChallengeInvalid
	}

	_, err := f.orch.ResumeChallenge(context.Background(), "no-such", []byte(`{}`))
	if !errors.Is(err, domain.ErrChallengeInvalid) {
		t.Errorf("expected ErrChallengeInvalid, got %v", err)
	}
}

func TestSubmitPayment_CryptoTracksSettlement(t *testing.T) {
	f := newFixture(&domain.RoutingDecision{Rail: domain.RailCrypto})
	intent := &domain.PaymentIntent{
		Amount:         10000,
		Currency:       "USD",
		Method:         domain.PaymentMethodCrypto,
		MerchantID:     "merchant-1",
		IdempotencyKey: "idem-2",
		Crypto: &domain.CryptoDetails{
			Currency:         "BTC",
			ReceivingAddress: "bc1qexample",
			Amount:           "0.5",
		},
	}

	result, err := f.orch.SubmitPayment(context.Background(), intent)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if !result.Success {
		t.Error("expected acceptance")
	}
	if len(f.tracker.tracked) != 1 {
		t.Fatalf("expected one tracked settlement, got %d", len(f.tracker.tracked))
	}
	tracked := f.tracker.tracked[0]
	if tracked.Currency != "BTC" || tracked.Address != "bc1qexample" {
		t.Errorf("tracked = %+v", tracked)
	}
	if tracked.TransactionID != result.TransactionID {
		t.Error("tracked settlement must carry the attempt's transaction id")
	}
}

func TestWatchSettlements_ConfirmSettlesAttempt(t *testing.T) {
	f := newFixture(&domain.RoutingDecision{Rail: domain.RailCrypto})
	if err := f.orch.WatchSettlements(); err != nil {
		t.Fatalf("watch: %v", err)
	}

	intent := &domain.PaymentIntent{
		Amount:         10000,
		Currency:       "USD",
		Method:         domain.PaymentMethodCrypto,
		MerchantID:     "merchant-1",
		IdempotencyKey: "idem-3",
		Crypto: &domain.CryptoDetails{
			Currency:         "BTC",
			ReceivingAddress: "bc1qexample",
			Amount:           "0.5",
		},
	}
	result, err := f.orch.SubmitPayment(context.Background(), intent)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	// The monitor's confirmation event lands on the queue; the mock
	// dispatches it synchronously to the orchestrator's subscription.
	event := []byte(`{"transaction_id":"` + result.TransactionID + `","currency":"BTC"}`)
	if err := f.events.Publish(queue.SubjectSettlementConfirmed, event); err != nil {
		t.Fatalf("publish: %v", err)
	}

	attempt, err := f.repo.Get(context.Background(), result.TransactionID)
	if err != nil || attempt == nil {
		t.Fatalf("load attempt: %v", err)
	}
	if attempt.Status != domain.AttemptStatusSettled {
		t.Errorf("attempt status = %s, want settled", attempt.Status)
	}
	if attempt.SettledAt == nil {
		t.Error("expected settled timestamp")
	}
}

func TestSubmitPayment_HostedRail(t *testing.T) {
	f := newFixture(&domain.RoutingDecision{Rail: domain.RailStripe})
	result, err := f.orch.SubmitPayment(context.Background(), validCardIntent())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !result.Success || result.Rail != domain.RailStripe {
		t.Errorf("expected settled on hosted rail, got %+v", result)
	}
	if result.CardLast4 != "1111" {
		t.Errorf("card tail = %q", result.CardLast4)
	}
}

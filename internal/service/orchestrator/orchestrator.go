package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sunnypayments/core/internal/adapter/bank"
	"github.com/sunnypayments/core/internal/adapter/pool"
	"github.com/sunnypayments/core/internal/adapter/queue"
	"github.com/sunnypayments/core/internal/adapter/rail"
	"github.com/sunnypayments/core/internal/adapter/stepup"
	"github.com/sunnypayments/core/internal/domain"
	"github.com/sunnypayments/core/internal/ports"
	"github.com/sunnypayments/core/internal/service/settlement"
)

// genericFailure is what callers see when the attempt dies on an internal
// fault; the real cause stays in the logs.
const genericFailure = "Payment could not be processed"

// Router is the slice of the routing engine the orchestrator drives.
type Router interface {
	GetOptimalRoute(intent *domain.PaymentIntent) *domain.RoutingDecision
	UpdateSuccessRate(method domain.PaymentMethod, success bool)
	RecordRailOutcome(rail domain.Rail, success bool, latency time.Duration)
}

// StepUpAuthenticator opens and resolves cardholder challenges.
type StepUpAuthenticator interface {
	Authenticate(ctx context.Context, intent *domain.PaymentIntent, transactionID string) (*stepup.AuthResult, error)
	HandleCallback(ctx context.Context, challengeID string, proof []byte) (*stepup.CallbackResult, error)
}

// SettlementTracker registers expected crypto receipts.
type SettlementTracker interface {
	Track(s *settlement.TrackedSettlement)
}

// BankPools borrows and returns pooled bank sessions.
type BankPools interface {
	AcquireBank(ctx context.Context, rail string) (pool.BankConn, error)
	ReleaseBank(rail string, conn pool.BankConn)
	Cache() ports.Cache
}

// authSession is what a pooled bank connection must expose to authorize.
type authSession interface {
	Authorize(ctx context.Context, intent *domain.PaymentIntent, transactionID, stepUpToken string) (*bank.AuthResponse, error)
}

// pendingAttempt snapshots an intent parked behind a step-up challenge so
// the authorization can resume once the callback lands.
type pendingAttempt struct {
	intent    *domain.PaymentIntent
	decision  *domain.RoutingDecision
	attempt   *domain.Attempt
	createdAt time.Time
}

// Orchestrator drives one payment attempt end to end:
// accepted → routed → authorizing → [challenge_pending → challenge_resolved]
// → settled | failed. It owns the intent for the life of the attempt and
// always updates success rates and releases pooled resources on exit.
type Orchestrator struct {
	router  Router
	pools   BankPools
	stepUp  StepUpAuthenticator
	monitor SettlementTracker
	hosted  rail.Provider
	repo    ports.AttemptRepository
	events  queue.MessageQueue

	pending   map[string]*pendingAttempt
	pendingMu sync.Mutex

	challengeLifetime time.Duration
	settlementTTL     time.Duration
	statusTTL         time.Duration

	clk clock.Clock
	log *zap.Logger
}

func New(router Router, pools BankPools, stepUp StepUpAuthenticator, monitor SettlementTracker, hosted rail.Provider, repo ports.AttemptRepository, events queue.MessageQueue, challengeLifetime time.Duration, clk clock.Clock, log *zap.Logger) *Orchestrator {
	if challengeLifetime <= 0 {
		challengeLifetime = time.Hour
	}
	if clk == nil {
		clk = clock.New()
	}

	return &Orchestrator{
		router:            router,
		pools:             pools,
		stepUp:            stepUp,
		monitor:           monitor,
		hosted:            hosted,
		repo:              repo,
		events:            events,
		pending:           make(map[string]*pendingAttempt),
		challengeLifetime: challengeLifetime,
		settlementTTL:     2 * time.Hour,
		statusTTL:         24 * time.Hour,
		clk:               clk,
		log:               log,
	}
}

// SubmitPayment is the public entry point. Validation failures come back
// as an error; every processed attempt comes back as a result, settled,
// failed, or parked behind a challenge.
func (o *Orchestrator) SubmitPayment(ctx context.Context, intent *domain.PaymentIntent) (*domain.PaymentResult, error) {
	if err := o.validateIntent(intent); err != nil {
		return nil, err
	}

	transactionID := uuid.New().String()
	attempt := &domain.Attempt{
		TransactionID: transactionID,
		MerchantID:    intent.MerchantID,
		Amount:        intent.Amount,
		Currency:      intent.Currency,
		Method:        intent.Method,
		Status:        domain.AttemptStatusAccepted,
		CreatedAt:     o.clk.Now(),
	}
	o.saveAttempt(ctx, attempt)

	decision := o.router.GetOptimalRoute(intent)
	attempt.Rail = decision.Rail
	attempt.Status = domain.AttemptStatusRouted
	o.saveAttempt(ctx, attempt)

	// Step-up comes before any authorization on risk-flagged card
	// payments; frictionless passes fall straight through with a token.
	stepUpToken := ""
	if decision.RequiresEnhancedVerification && intent.Method == domain.PaymentMethodCard {
		auth, err := o.stepUp.Authenticate(ctx, intent, transactionID)
		if err != nil {
			return o.finalizeFailure(ctx, intent, attempt, genericFailure, err), nil
		}
		if auth.RequiresChallenge {
			attempt.Status = domain.AttemptStatusChallengePending
			attempt.ChallengeID = auth.ChallengeID
			o.saveAttempt(ctx, attempt)
			o.park(auth.ChallengeID, intent, decision, attempt)
			o.publishEvent(queue.SubjectAttemptChallenge, attempt)

			return &domain.PaymentResult{
				Status:        domain.AttemptStatusChallengePending,
				TransactionID: transactionID,
				Rail:          decision.Rail,
				ChallengeURL:  auth.ChallengeURL,
				ChallengeID:   auth.ChallengeID,
			}, nil
		}
		stepUpToken = auth.AuthToken
	}

	return o.authorize(ctx, intent, decision, attempt, stepUpToken), nil
}

// ResumeChallenge continues a parked attempt once the payer's browser
// posts the challenge proof back.
func (o *Orchestrator) ResumeChallenge(ctx context.Context, challengeID string, proof []byte) (*domain.PaymentResult, error) {
	outcome, err := o.stepUp.HandleCallback(ctx, challengeID, proof)
	if err != nil {
		o.dropParked(challengeID)
		return nil, err
	}

	parked := o.takeParked(challengeID)
	if parked == nil {
		return nil, domain.ErrChallengeInvalid
	}
	intent, decision, attempt := parked.intent, parked.decision, parked.attempt

	if !outcome.Completed {
		reason := outcome.Reason
		if reason == "" {
			reason = "challenge failed"
		}
		return o.finalizeFailure(ctx, intent, attempt, reason, domain.ErrChallengeInvalid), nil
	}

	attempt.Status = domain.AttemptStatusChallengeResolved
	o.saveAttempt(ctx, attempt)

	return o.authorize(ctx, intent, decision, attempt, outcome.AuthToken), nil
}

// authorize dispatches to the chosen rail, retrying exactly once against
// the fallback when the failure is rail-side rather than a decline.
func (o *Orchestrator) authorize(ctx context.Context, intent *domain.PaymentIntent, decision *domain.RoutingDecision, attempt *domain.Attempt, stepUpToken string) *domain.PaymentResult {
	attempt.Status = domain.AttemptStatusAuthorizing
	o.saveAttempt(ctx, attempt)

	result, err := o.dispatch(ctx, intent, decision.Rail, attempt, stepUpToken)
	if err != nil && decision.FallbackRail != "" && domain.IsRailSide(err) {
		o.log.Warn("Rail-side failure, retrying on fallback",
			zap.String("transaction_id", attempt.TransactionID),
			zap.String("rail", string(decision.Rail)),
			zap.String("fallback", string(decision.FallbackRail)),
			zap.Error(err),
		)
		attempt.Rail = decision.FallbackRail
		result, err = o.dispatch(ctx, intent, decision.FallbackRail, attempt, stepUpToken)
	}
	if err != nil {
		return o.finalizeFailure(ctx, intent, attempt, genericFailure, err)
	}
	return result
}

func (o *Orchestrator) dispatch(ctx context.Context, intent *domain.PaymentIntent, railID domain.Rail, attempt *domain.Attempt, stepUpToken string) (*domain.PaymentResult, error) {
	switch railID {
	case domain.RailCrypto:
		return o.dispatchCrypto(ctx, intent, attempt)
	case domain.RailStripe:
		return o.dispatchHosted(ctx, intent, attempt)
	default:
		return o.dispatchBank(ctx, intent, railID, attempt, stepUpToken)
	}
}

func (o *Orchestrator) dispatchBank(ctx context.Context, intent *domain.PaymentIntent, railID domain.Rail, attempt *domain.Attempt, stepUpToken string) (*domain.PaymentResult, error) {
	conn, err := o.pools.AcquireBank(ctx, string(railID))
	if err != nil {
		o.router.RecordRailOutcome(railID, false, 0)
		return nil, err
	}
	defer o.pools.ReleaseBank(string(railID), conn)

	session, ok := conn.(authSession)
	if !ok {
		return nil, fmt.Errorf("%w: pooled connection cannot authorize", domain.ErrNoAvailableBackend)
	}

	started := o.clk.Now()
	resp, err := session.Authorize(ctx, intent, attempt.TransactionID, stepUpToken)
	latency := o.clk.Now().Sub(started)
	if err != nil {
		o.router.RecordRailOutcome(railID, false, latency)
		return nil, err
	}

	if resp.RailFault() {
		o.router.RecordRailOutcome(railID, false, latency)
		return nil, fmt.Errorf("%w: issuer code %s", domain.ErrRailFault, resp.ResponseCode)
	}

	o.router.RecordRailOutcome(railID, resp.Approved, latency)

	if !resp.Approved {
		return o.finalizeFailure(ctx, intent, attempt, resp.Message, &domain.DeclineError{
			ResponseCode: resp.ResponseCode,
			Message:      resp.Message,
		}), nil
	}

	tail := resp.CardTail
	if tail == "" && intent.Card != nil {
		tail = maskedTail(intent.Card.Number)
	}
	return o.finalizeSuccess(ctx, intent, attempt, &domain.PaymentResult{
		Success:       true,
		Status:        domain.AttemptStatusSettled,
		TransactionID: resp.TransactionID,
		Rail:          railID,
		RailResponse:  resp.Message,
		AuthCode:      resp.AuthCode,
		CardLast4:     tail,
	}), nil
}

func (o *Orchestrator) dispatchHosted(ctx context.Context, intent *domain.PaymentIntent, attempt *domain.Attempt) (*domain.PaymentResult, error) {
	started := o.clk.Now()
	charge, err := o.hosted.Charge(ctx, intent, attempt.TransactionID)
	latency := o.clk.Now().Sub(started)
	if err != nil {
		o.router.RecordRailOutcome(domain.RailStripe, false, latency)
		return nil, err
	}

	o.router.RecordRailOutcome(domain.RailStripe, charge.Approved, latency)

	if !charge.Approved {
		return o.finalizeFailure(ctx, intent, attempt, charge.Message, &domain.DeclineError{
			Message: charge.Message,
		}), nil
	}

	var tail string
	if intent.Card != nil {
		tail = maskedTail(intent.Card.Number)
	}
	return o.finalizeSuccess(ctx, intent, attempt, &domain.PaymentResult{
		Success:       true,
		Status:        domain.AttemptStatusSettled,
		TransactionID: attempt.TransactionID,
		Rail:          domain.RailStripe,
		RailResponse:  charge.ProviderRef,
		CardLast4:     tail,
	}), nil
}

// dispatchCrypto registers the expected receipt with the settlement
// monitor. The attempt settles asynchronously when the confirmation event
// arrives; the caller gets the tracking state back immediately.
func (o *Orchestrator) dispatchCrypto(ctx context.Context, intent *domain.PaymentIntent, attempt *domain.Attempt) (*domain.PaymentResult, error) {
	expected, err := decimal.NewFromString(intent.Crypto.Amount)
	if err != nil {
		return nil, &domain.ValidationError{Field: "crypto.amount", Detail: "must be a decimal string"}
	}

	o.monitor.Track(&settlement.TrackedSettlement{
		TransactionID: attempt.TransactionID,
		Currency:      intent.Crypto.Currency,
		Address:       intent.Crypto.ReceivingAddress,
		Expected:      expected,
		ExpiresAt:     o.clk.Now().Add(o.settlementTTL),
	})

	o.saveAttempt(ctx, attempt)
	return &domain.PaymentResult{
		Success:       true,
		Status:        domain.AttemptStatusAuthorizing,
		TransactionID: attempt.TransactionID,
		Rail:          domain.RailCrypto,
		RailResponse:  "awaiting ledger confirmations",
	}, nil
}

// WatchSettlements subscribes to the settlement monitor's events and
// drives tracked crypto attempts to their terminal status.
func (o *Orchestrator) WatchSettlements() error {
	handle := func(terminal domain.AttemptStatus, reason string) func(data []byte) error {
		return func(data []byte) error {
			var event settlement.Event
			if err := json.Unmarshal(data, &event); err != nil {
				return fmt.Errorf("decode settlement event: %w", err)
			}
			return o.settleCrypto(event.TransactionID, terminal, reason)
		}
	}

	if err := o.events.Subscribe(queue.SubjectSettlementConfirmed, handle(domain.AttemptStatusSettled, "")); err != nil {
		return err
	}
	return o.events.Subscribe(queue.SubjectSettlementExpired, handle(domain.AttemptStatusFailed, "settlement expired"))
}

func (o *Orchestrator) settleCrypto(transactionID string, terminal domain.AttemptStatus, reason string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	attempt, err := o.repo.Get(ctx, transactionID)
	if err != nil || attempt == nil {
		return err
	}

	attempt.Status = terminal
	attempt.FailureReason = reason
	success := terminal == domain.AttemptStatusSettled
	if success {
		now := o.clk.Now()
		attempt.SettledAt = &now
	}
	o.saveAttempt(ctx, attempt)

	o.router.UpdateSuccessRate(attempt.Method, success)
	o.router.RecordRailOutcome(domain.RailCrypto, success, 0)
	if success {
		o.publishEvent(queue.SubjectAttemptSettled, attempt)
	} else {
		o.publishEvent(queue.SubjectAttemptFailed, attempt)
	}
	return nil
}

func (o *Orchestrator) finalizeSuccess(ctx context.Context, intent *domain.PaymentIntent, attempt *domain.Attempt, result *domain.PaymentResult) *domain.PaymentResult {
	attempt.Status = domain.AttemptStatusSettled
	now := o.clk.Now()
	attempt.SettledAt = &now
	o.saveAttempt(ctx, attempt)

	o.router.UpdateSuccessRate(intent.Method, true)
	o.publishEvent(queue.SubjectAttemptSettled, attempt)

	o.log.Info("Payment settled",
		zap.String("transaction_id", result.TransactionID),
		zap.String("rail", string(result.Rail)),
		zap.Int64("amount", intent.Amount),
	)
	return result
}

func (o *Orchestrator) finalizeFailure(ctx context.Context, intent *domain.PaymentIntent, attempt *domain.Attempt, message string, cause error) *domain.PaymentResult {
	attempt.Status = domain.AttemptStatusFailed
	attempt.FailureReason = message
	o.saveAttempt(ctx, attempt)

	o.router.UpdateSuccessRate(intent.Method, false)
	o.publishEvent(queue.SubjectAttemptFailed, attempt)

	o.log.Warn("Payment failed",
		zap.String("transaction_id", attempt.TransactionID),
		zap.String("rail", string(attempt.Rail)),
		zap.String("reason", message),
		zap.Error(cause),
	)
	return &domain.PaymentResult{
		Status:        domain.AttemptStatusFailed,
		TransactionID: attempt.TransactionID,
		Rail:          attempt.Rail,
		RailResponse:  message,
	}
}

// saveAttempt persists and caches the attempt state. Both are tracking
// aids; their failure is logged but never fails the payment itself.
func (o *Orchestrator) saveAttempt(ctx context.Context, attempt *domain.Attempt) {
	attempt.UpdatedAt = o.clk.Now()
	if err := o.repo.Save(ctx, attempt); err != nil {
		o.log.Error("Failed to persist attempt",
			zap.String("transaction_id", attempt.TransactionID),
			zap.Error(err),
		)
	}

	if data, err := json.Marshal(attempt); err == nil {
		if err := o.pools.Cache().Set(ctx, "attempt:"+attempt.TransactionID, data, o.statusTTL); err != nil {
			o.log.Debug("Failed to cache attempt status",
				zap.String("transaction_id", attempt.TransactionID),
				zap.Error(err),
			)
		}
	}
}

func (o *Orchestrator) publishEvent(subject string, attempt *domain.Attempt) {
	data, err := json.Marshal(attempt)
	if err != nil {
		return
	}
	if err := o.events.Publish(subject, data); err != nil {
		o.log.Error("Failed to publish attempt event",
			zap.String("subject", subject),
			zap.Error(err),
		)
	}
}

func (o *Orchestrator) park(challengeID string, intent *domain.PaymentIntent, decision *domain.RoutingDecision, attempt *domain.Attempt) {
	o.pendingMu.Lock()
	defer o.pendingMu.Unlock()

	// Opportunistic prune keeps abandoned snapshots from accumulating.
	cutoff := o.clk.Now().Add(-o.challengeLifetime)
	for id, p := range o.pending {
		if p.createdAt.Before(cutoff) {
			delete(o.pending, id)
		}
	}

	o.pending[challengeID] = &pendingAttempt{
		intent:    intent,
		decision:  decision,
		attempt:   attempt,
		createdAt: o.clk.Now(),
	}
}

func (o *Orchestrator) takeParked(challengeID string) *pendingAttempt {
	o.pendingMu.Lock()
	defer o.pendingMu.Unlock()

	p, ok := o.pending[challengeID]
	if !ok {
		return nil
	}
	delete(o.pending, challengeID)
	if o.clk.Now().Sub(p.createdAt) > o.challengeLifetime {
		return nil
	}
	return p
}

func (o *Orchestrator) dropParked(challengeID string) {
	o.pendingMu.Lock()
	defer o.pendingMu.Unlock()
	delete(o.pending, challengeID)
}

// AttemptStatus reads back one attempt, preferring the cache.
func (o *Orchestrator) AttemptStatus(ctx context.Context, transactionID string) (*domain.Attempt, error) {
	if cached, err := o.pools.Cache().Get(ctx, "attempt:"+transactionID); err == nil && cached != "" {
		var attempt domain.Attempt
		if err := json.Unmarshal([]byte(cached), &attempt); err == nil {
			return &attempt, nil
		}
	}

	attempt, err := o.repo.Get(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if attempt == nil {
		return nil, errors.New("attempt not found")
	}
	return attempt, nil
}

package routing

import (
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"go.uber.org/zap"

	"github.com/sunnypayments/core/internal/domain"
)

// Factors is everything the scorer sees for one routing decision.
type Factors struct {
	Amount       int64
	Currency     string
	Country      string
	Method       domain.PaymentMethod
	RiskScore    float64
	Hour         int
	Weekday      time.Weekday
	History      []domain.Rail
	RailHealth   map[domain.Rail]domain.RailHealth
	SuccessRates map[domain.PaymentMethod]float64
}

// Scorer turns routing factors into a rail choice. Pluggable so scoring
// strategies can be swapped without touching the engine.
type Scorer interface {
	Score(f *Factors) (rail, fallback domain.Rail, confidence float64, reason string)
}

type rateCounter struct {
	successes uint64
	total     uint64
}

// Engine produces one RoutingDecision per attempt. Per-merchant history,
// rail health, and success-rate counters are shared mutable state updated
// from concurrent attempts, so every touch goes through the lock.
type Engine struct {
	scorer Scorer

	highValueThreshold int64
	riskThreshold      float64
	historySize        int

	history      map[string][]domain.Rail
	health       map[domain.Rail]*domain.RailHealth
	successRates map[domain.PaymentMethod]*rateCounter
	mu           sync.Mutex

	clk clock.Clock
	log *zap.Logger
}

func NewEngine(scorer Scorer, highValueThreshold int64, riskThreshold float64, historySize int, clk clock.Clock, log *zap.Logger) *Engine {
	if scorer == nil {
		scorer = DefaultScorer{}
	}
	if historySize <= 0 {
		historySize = 100
	}
	if clk == nil {
		clk = clock.New()
	}

	return &Engine{
		scorer:             scorer,
		highValueThreshold: highValueThreshold,
		riskThreshold:      riskThreshold,
		historySize:        historySize,
		history:            make(map[string][]domain.Rail),
		health:             make(map[domain.Rail]*domain.RailHealth),
		successRates:       make(map[domain.PaymentMethod]*rateCounter),
		clk:                clk,
		log:                log,
	}
}

// GetOptimalRoute scores the candidate rails and layers the business
// rules on top: high-value attempts are flagged for manual review, high
// risk scores for enhanced verification. Each decision feeds the
// merchant's bounded history for future scoring.
func (e *Engine) GetOptimalRoute(intent *domain.PaymentIntent) *domain.RoutingDecision {
	now := e.clk.Now()

	e.mu.Lock()
	factors := &Factors{
		Amount:       intent.Amount,
		Currency:     intent.Currency,
		Country:      intent.Country,
		Method:       intent.Method,
		RiskScore:    intent.RiskScore,
		Hour:         now.Hour(),
		Weekday:      now.Weekday(),
		History:      append([]domain.Rail(nil), e.history[intent.MerchantID]...),
		RailHealth:   e.healthSnapshot(),
		SuccessRates: e.ratesSnapshot(),
	}
	e.mu.Unlock()

	rail, fallback, confidence, reason := e.scorer.Score(factors)

	decision := &domain.RoutingDecision{
		Rail:         rail,
		FallbackRail: fallback,
		Confidence:   confidence,
		Reason:       reason,
	}
	if intent.Amount > e.highValueThreshold {
		decision.RequiresManualReview = true
	}
	if intent.RiskScore > e.riskThreshold {
		decision.RequiresEnhancedVerification = true
	}

	e.appendHistory(intent.MerchantID, rail)

	e.log.Info("Routing decision",
		zap.String("merchant_id", intent.MerchantID),
		zap.String("rail", string(rail)),
		zap.String("fallback", string(fallback)),
		zap.Float64("confidence", confidence),
		zap.Bool("manual_review", decision.RequiresManualReview),
		zap.Bool("enhanced_verification", decision.RequiresEnhancedVerification),
	)
	return decision
}

// UpdateSuccessRate records a terminal outcome for a payment method. The
// orchestrator calls this once per attempt.
func (e *Engine) UpdateSuccessRate(method domain.PaymentMethod, success bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	counter, ok := e.successRates[method]
	if !ok {
		counter = &rateCounter{}
		e.successRates[method] = counter
	}
	counter.total++
	if success {
		counter.successes++
	}
}

// RecordRailOutcome updates a rail's rolling health counters.
func (e *Engine) RecordRailOutcome(rail domain.Rail, success bool, latency time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	h, ok := e.health[rail]
	if !ok {
		h = &domain.RailHealth{Up: true}
		e.health[rail] = h
	}
	if success {
		h.Successes++
	} else {
		h.Failures++
	}
	h.LastLatency = latency
}

// SetRailUp marks a rail as reachable or not, typically from the pool's
// health checks.
func (e *Engine) SetRailUp(rail domain.Rail, up bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	h, ok := e.health[rail]
	if !ok {
		h = &domain.RailHealth{}
		e.health[rail] = h
	}
	h.Up = up
}

func (e *Engine) appendHistory(merchantID string, rail domain.Rail) {
	e.mu.Lock()
	defer e.mu.Unlock()

	hist := append(e.history[merchantID], rail)
	if len(hist) > e.historySize {
		hist = hist[len(hist)-e.historySize:]
	}
	e.history[merchantID] = hist
}

func (e *Engine) healthSnapshot() map[domain.Rail]domain.RailHealth {
	out := make(map[domain.Rail]domain.RailHealth, len(e.health))
	for rail, h := range e.health {
		out[rail] = *h
	}
	return out
}

func (e *Engine) ratesSnapshot() map[domain.PaymentMethod]float64 {
	out := make(map[domain.PaymentMethod]float64, len(e.successRates))
	for method, c := range e.successRates {
		if c.total == 0 {
			continue
		}
		out[method] = float64(c.successes) / float64(c.total)
	}
	return out
}

package routing

import (
	"fmt"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"go.uber.org/zap"

	"github.com/sunnypayments/core/internal/domain"
)

func newTestEngine() *Engine {
	logger, _ := zap.NewDevelopment()
	return NewEngine(DefaultScorer{}, 1_000_000, 70, 100, clock.NewMock(), logger)
}

func cardIntent(amount int64, risk float64) *domain.PaymentIntent {
	return &domain.PaymentIntent{
		Amount:     amount,
		Currency:   "USD",
		Method:     domain.PaymentMethodCard,
		MerchantID: "merchant-1",
		RiskScore:  risk,
	}
}

func TestGetOptimalRoute_LowValueLowRisk(t *testing.T) {
	e := newTestEngine()

	decision := e.GetOptimalRoute(cardIntent(10000, 10))

	if decision.RequiresManualReview {
		t.Error("amount 10000 must not require manual review")
	}
	if decision.RequiresEnhancedVerification {
		t.Error("risk 10 must not require enhanced verification")
	}
	if decision.Rail == "" {
		t.Error("expected a rail")
	}
	if decision.Confidence <= 0 || decision.Confidence > 1 {
		t.Errorf("confidence %f outside (0,1]", decision.Confidence)
	}
}

func TestGetOptimalRoute_HighValueFlagged(t *testing.T) {
	e := newTestEngine()

	decision := e.GetOptimalRoute(cardIntent(2_000_000, 10))

	if !decision.RequiresManualReview {
		t.Error("amount 2000000 must require manual review")
	}
	if decision.RequiresEnhancedVerification {
		t.Error("risk 10 must not require enhanced verification")
	}
}

func TestGetOptimalRoute_HighRiskFlagged(t *testing.T) {
	e := newTestEngine()

	decision := e.GetOptimalRoute(cardIntent(10000, 85))

	if decision.RequiresManualReview {
		t.Error("amount 10000 must not require manual review")
	}
	if !decision.RequiresEnhancedVerification {
		t.Error("risk 85 must require enhanced verification")
	}
}

func TestGetOptimalRoute_CardUsesBankWithFallback(t *testing.T) {
	e := newTestEngine()

	decision := e.GetOptimalRoute(cardIntent(10000, 10))

	if decision.Rail != domain.RailBankPrimary {
		t.Errorf("rail = %s, want %s", decision.Rail, domain.RailBankPrimary)
	}
	if decision.FallbackRail != domain.RailBankSecondary {
		t.Errorf("fallback = %s, want %s", decision.FallbackRail, domain.RailBankSecondary)
	}
}

func TestGetOptimalRoute_PrimaryDownUsesSecondary(t *testing.T) {
	e := newTestEngine()
	e.SetRailUp(domain.RailBankPrimary, false)

	decision := e.GetOptimalRoute(cardIntent(10000, 10))

	if decision.Rail != domain.RailBankSecondary {
		t.Errorf("rail = %s, want %s", decision.Rail, domain.RailBankSecondary)
	}
	if decision.FallbackRail != domain.RailStripe {
		t.Errorf("fallback = %s, want %s", decision.FallbackRail, domain.RailStripe)
	}
}

func TestGetOptimalRoute_CryptoMethod(t *testing.T) {
	e := newTestEngine()
	intent := &domain.PaymentIntent{
		Amount:     10000,
		Currency:   "USD",
		Method:     domain.PaymentMethodCrypto,
		MerchantID: "merchant-1",
	}

	decision := e.GetOptimalRoute(intent)

	if decision.Rail != domain.RailCrypto {
		t.Errorf("rail = %s, want %s", decision.Rail, domain.RailCrypto)
	}
	if decision.FallbackRail != "" {
		t.Error("crypto rail has no fallback")
	}
}

func TestHistory_Bounded(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	e := NewEngine(DefaultScorer{}, 1_000_000, 70, 5, clock.NewMock(), logger)

	for i := 0; i < 20; i++ {
		e.GetOptimalRoute(cardIntent(10000, 10))
	}

	e.mu.Lock()
	n := len(e.history["merchant-1"])
	e.mu.Unlock()
	if n != 5 {
		t.Errorf("history length = %d, want 5 (oldest evicted)", n)
	}
}

func TestHistory_PerMerchant(t *testing.T) {
	e := newTestEngine()

	for i := 0; i < 3; i++ {
		intent := cardIntent(10000, 10)
		intent.MerchantID = fmt.Sprintf("merchant-%d", i)
		e.GetOptimalRoute(intent)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for i := 0; i < 3; i++ {
		key := fmt.Sprintf("merchant-%d", i)
		if len(e.history[key]) != 1 {
			t.Errorf("history[%s] length = %d, want 1", key, len(e.history[key]))
		}
	}
}

func TestUpdateSuccessRate(t *testing.T) {
	e := newTestEngine()

	e.UpdateSuccessRate(domain.PaymentMethodCard, true)
	e.UpdateSuccessRate(domain.PaymentMethodCard, true)
	e.UpdateSuccessRate(domain.PaymentMethodCard, false)

	e.mu.Lock()
	rates := e.ratesSnapshot()
	e.mu.Unlock()

	got := rates[domain.PaymentMethodCard]
	want := 2.0 / 3.0
	if got < want-0.001 || got > want+0.001 {
		t.Errorf("success rate = %f, want %f", got, want)
	}
}

func TestRecordRailOutcome_FeedsConfidence(t *testing.T) {
	e := newTestEngine()

	for i := 0; i < 9; i++ {
		e.RecordRailOutcome(domain.RailBankPrimary, true, 50*time.Millisecond)
	}
	e.RecordRailOutcome(domain.RailBankPrimary, false, 2*time.Second)

	decision := e.GetOptimalRoute(cardIntent(10000, 10))
	if decision.Confidence < 0.5 {
		t.Errorf("confidence %f too low for a 90%% healthy rail", decision.Confidence)
	}

	e.mu.Lock()
	h := e.health[domain.RailBankPrimary]
	e.mu.Unlock()
	if h.Successes != 9 || h.Failures != 1 {
		t.Errorf("counters = %d/%d, want 9/1", h.Successes, h.Failures)
	}
	if h.LastLatency != 2*time.Second {
		t.Errorf("last latency = %v", h.LastLatency)
	}
}

package routing

import (
	"fmt"

	"github.com/sunnypayments/core/internal/domain"
)

// DefaultScorer picks the cheapest healthy rail for the method and backs
// it with the next-best alternative.
type DefaultScorer struct{}

func (DefaultScorer) Score(f *Factors) (domain.Rail, domain.Rail, float64, string) {
	switch f.Method {
	case domain.PaymentMethodCrypto:
		// Single rail, settlement confirmed asynchronously.
		return domain.RailCrypto, "", 0.9, "crypto method maps to ledger rail"

	case domain.PaymentMethodBankTransfer:
		if railDown(f, domain.RailBankPrimary) {
			return domain.RailBankSecondary, "", confidence(f, domain.RailBankSecondary), "primary bank rail down"
		}
		return domain.RailBankPrimary, domain.RailBankSecondary, confidence(f, domain.RailBankPrimary), "bank transfer on primary rail"

	default: // card
		primary, fallback := domain.RailBankPrimary, domain.RailBankSecondary
		reason := "card on primary bank rail"
		if railDown(f, primary) {
			primary, fallback = domain.RailBankSecondary, domain.RailStripe
			reason = "primary bank rail down, using secondary"
		}
		// Off-hours batches skew toward the hosted rail, which keeps
		// its approval rate overnight when acquirer cutoffs bite.
		if f.Hour < 6 && !railDown(f, domain.RailStripe) && successRate(f, domain.PaymentMethodCard) < 0.5 {
			primary, fallback = domain.RailStripe, primary
			reason = fmt.Sprintf("low card success rate (%.0f%%), preferring hosted rail", successRate(f, domain.PaymentMethodCard)*100)
		}
		return primary, fallback, confidence(f, primary), reason
	}
}

func railDown(f *Factors, rail domain.Rail) bool {
	h, ok := f.RailHealth[rail]
	return ok && !h.Up
}

// confidence blends the rail's own counters with the method's recent
// success rate, clamped to [0.1, 0.99] so the score never claims
// certainty either way.
func confidence(f *Factors, rail domain.Rail) float64 {
	score := 0.8
	if h, ok := f.RailHealth[rail]; ok {
		total := h.Successes + h.Failures
		if total > 0 {
			score = float64(h.Successes) / float64(total)
		}
	}
	if rate, ok := f.SuccessRates[f.Method]; ok {
		score = 0.7*score + 0.3*rate
	}
	if score < 0.1 {
		return 0.1
	}
	if score > 0.99 {
		return 0.99
	}
	return score
}

func successRate(f *Factors, method domain.PaymentMethod) float64 {
	if rate, ok := f.SuccessRates[method]; ok {
		return rate
	}
	return 1
}

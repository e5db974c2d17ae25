package domain

import (
	"time"
)

// AttemptStatus represents the lifecycle state of one payment attempt.
type AttemptStatus string

const (
	AttemptStatusAccepted          AttemptStatus = "accepted"
	AttemptStatusRouted            AttemptStatus = "routed"
	AttemptStatusAuthorizing       AttemptStatus = "authorizing"
	AttemptStatusChallengePending  AttemptStatus = "challenge_pending"
	AttemptStatusChallengeResolved AttemptStatus = "challenge_resolved"
	AttemptStatusSettled           AttemptStatus = "settled"
	AttemptStatusFailed            AttemptStatus = "failed"
)

// PaymentMethod represents the payment method type.
type PaymentMethod string

const (
	PaymentMethodCard         PaymentMethod = "card"
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
	PaymentMethodCrypto       PaymentMethod = "crypto"
)

// Rail identifies a distinct processing path a payment can take.
type Rail string

const (
	RailBankPrimary   Rail = "bank_primary"
	RailBankSecondary Rail = "bank_secondary"
	RailStripe        Rail = "stripe"
	RailCrypto        Rail = "crypto"
)

// Card carries counterparty card details. The full PAN lives only inside
// an intent; results carry the masked tail.
type Card struct {
	Number      string `json:"number"`
	ExpiryMonth string `json:"expiry_month"`
	ExpiryYear  string `json:"expiry_year"`
	CVV         string `json:"cvv"`
	HolderName  string `json:"holder_name"`
}

// CryptoDetails carries the receiving side of a crypto-rail payment.
type CryptoDetails struct {
	Currency         string `json:"currency"`
	ReceivingAddress string `json:"receiving_address"`
	// Amount in the chain's native denomination, decimal string.
	Amount string `json:"amount"`
}

// PaymentIntent is the normalized inbound payment request. It is immutable
// once accepted and owned by the orchestrator for the life of one attempt.
type PaymentIntent struct {
	Amount         int64          `json:"amount"` // minor units
	Currency       string         `json:"currency"`
	Method         PaymentMethod  `json:"method"`
	Card           *Card          `json:"card,omitempty"`
	Crypto         *CryptoDetails `json:"crypto,omitempty"`
	MerchantID     string         `json:"merchant_id"`
	IdempotencyKey string         `json:"idempotency_key"`
	Country        string         `json:"country"`
	RiskScore      float64        `json:"risk_score"`
	ReturnURL      string         `json:"return_url,omitempty"`
}

// RoutingDecision is produced once per attempt and read-only afterward.
type RoutingDecision struct {
	Rail                         Rail    `json:"rail"`
	FallbackRail                 Rail    `json:"fallback_rail,omitempty"`
	Confidence                   float64 `json:"confidence"`
	RequiresManualReview         bool    `json:"requires_manual_review"`
	RequiresEnhancedVerification bool    `json:"requires_enhanced_verification"`
	Reason                       string  `json:"reason,omitempty"`
}

// RailHealth holds rolling counters for one rail. Mutated only by the
// component that owns the rail's traffic.
type RailHealth struct {
	Up          bool          `json:"up"`
	Successes   uint64        `json:"successes"`
	Failures    uint64        `json:"failures"`
	LastLatency time.Duration `json:"last_latency"`
}

// PaymentResult is the orchestrator's answer to the request handler.
type PaymentResult struct {
	Success       bool          `json:"success"`
	Status        AttemptStatus `json:"status"`
	TransactionID string        `json:"transaction_id"`
	Rail          Rail          `json:"rail,omitempty"`
	RailResponse  string        `json:"rail_response,omitempty"`
	ChallengeURL  string        `json:"challenge_url,omitempty"`
	ChallengeID   string        `json:"challenge_id,omitempty"`
	CardLast4     string        `json:"card_last4,omitempty"`
	AuthCode      string        `json:"auth_code,omitempty"`
}

// Attempt is the in-flight record the core persists for one submission.
type Attempt struct {
	TransactionID string        `json:"transaction_id" gorm:"primaryKey"`
	MerchantID    string        `json:"merchant_id" gorm:"index"`
	Amount        int64         `json:"amount"`
	Currency      string        `json:"currency"`
	Method        PaymentMethod `json:"method"`
	Rail          Rail          `json:"rail"`
	Status        AttemptStatus `json:"status"`
	FailureReason string        `json:"failure_reason,omitempty"`
	ChallengeID   string        `json:"challenge_id,omitempty" gorm:"index"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	SettledAt     *time.Time    `json:"settled_at,omitempty"`
}

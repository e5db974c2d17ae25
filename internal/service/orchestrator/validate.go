package orchestrator

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sunnypayments/core/internal/domain"
)

func (o *Orchestrator) validateIntent(intent *domain.PaymentIntent) error {
	if intent == nil {
		return &domain.ValidationError{Field: "intent", Detail: "missing"}
	}
	if intent.Amount <= 0 {
		return &domain.ValidationError{Field: "amount", Detail: "must be positive"}
	}
	if len(intent.Currency) != 3 {
		return &domain.ValidationError{Field: "currency", Detail: "must be a 3-letter ISO 4217 code"}
	}
	if intent.MerchantID == "" {
		return &domain.ValidationError{Field: "merchant_id", Detail: "required"}
	}
	if intent.IdempotencyKey == "" {
		return &domain.ValidationError{Field: "idempotency_key", Detail: "required"}
	}

	switch intent.Method {
	case domain.PaymentMethodCard:
		return o.validateCard(intent.Card)
	case domain.PaymentMethodBankTransfer:
		return nil
	case domain.PaymentMethodCrypto:
		return validateCrypto(intent.Crypto)
	default:
		return &domain.ValidationError{Field: "method", Detail: "unknown payment method"}
	}
}

func (o *Orchestrator) validateCard(card *domain.Card) error {
	if card == nil {
		return &domain.ValidationError{Field: "card", Detail: "required for card payments"}
	}
	if !luhnValid(card.Number) {
		return &domain.ValidationError{Field: "card.number", Detail: "failed check digit"}
	}
	if len(card.CVV) < 3 || len(card.CVV) > 4 {
		return &domain.ValidationError{Field: "card.cvv", Detail: "must be 3 or 4 digits"}
	}

	month, err := strconv.Atoi(card.ExpiryMonth)
	if err != nil || month < 1 || month > 12 {
		return &domain.ValidationError{Field: "card.expiry_month", Detail: "must be 01-12"}
	}
	year, err := strconv.Atoi(card.ExpiryYear)
	if err != nil {
		return &domain.ValidationError{Field: "card.expiry_year", Detail: "must be numeric"}
	}
	if year < 100 {
		year += 2000
	}

	// Cards stay valid through the last day of the expiry month.
	expiry := time.Date(year, time.Month(month)+1, 1, 0, 0, 0, 0, time.UTC)
	if !o.clk.Now().Before(expiry) {
		return &domain.ValidationError{Field: "card.expiry_year", Detail: "card expired"}
	}
	return nil
}

func validateCrypto(details *domain.CryptoDetails) error {
	if details == nil {
		return &domain.ValidationError{Field: "crypto", Detail: "required for crypto payments"}
	}
	if details.ReceivingAddress == "" {
		return &domain.ValidationError{Field: "crypto.receiving_address", Detail: "required"}
	}
	amount, err := decimal.NewFromString(details.Amount)
	if err != nil {
		return &domain.ValidationError{Field: "crypto.amount", Detail: "must be a decimal string"}
	}
	if !amount.IsPositive() {
		return &domain.ValidationError{Field: "crypto.amount", Detail: "must be positive"}
	}
	return nil
}

// luhnValid runs the Luhn check-digit algorithm over a PAN.
func luhnValid(number string) bool {
	if len(number) < 12 || len(number) > 19 {
		return false
	}

	sum := 0
	double := false
	for i := len(number) - 1; i >= 0; i-- {
		c := number[i]
		if c < '0' || c > '9' {
			return false
		}
		d := int(c - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

func maskedTail(number string) string {
	if len(number) < 4 {
		return number
	}
	return number[len(number)-4:]
}

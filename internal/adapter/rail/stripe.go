package rail

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/paymentintent"
	"github.com/stripe/stripe-go/v76/refund"

	"github.com/sunnypayments/core/internal/domain"
)

type StripeProvider struct {
	apiKey string
	log    *zap.Logger
}

func NewStripeProvider(apiKey string, log *zap.Logger) Provider {
	stripe.Key = apiKey
	return &StripeProvider{
		apiKey: apiKey,
		log:    log,
	}
}

func (s *StripeProvider) Charge(ctx context.Context, intent *domain.PaymentIntent, transactionID string) (*ChargeResult, error) {
	if intent.Amount <= 0 {
		return nil, errors.New("invalid amount")
	}

	s.log.Info("Creating payment intent",
		zap.Int64("amount", intent.Amount),
		zap.String("currency", intent.Currency),
		zap.String("transaction_id", transactionID),
	)

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(intent.Amount),
		Currency: stripe.String(strings.ToLower(intent.Currency)),
		Confirm:  stripe.Bool(true),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled:        stripe.Bool(true),
			AllowRedirects: stripe.String("never"),
		},
	}
	params.Context = ctx
	params.SetIdempotencyKey(transactionID)
	params.AddMetadata("transaction_id", transactionID)
	params.AddMetadata("merchant_id", intent.MerchantID)

	pi, err := paymentintent.New(params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Type == stripe.ErrorTypeCard {
			res := &ChargeResult{Message: stripeErr.Msg}
			if stripeErr.PaymentIntent != nil {
				res.ProviderRef = stripeErr.PaymentIntent.ID
			}
			return res, nil
		}
		s.log.Error("Failed to create payment intent", zap.Error(err))
		return nil, fmt.Errorf("%w: stripe: %v", domain.ErrRailFault, err)
	}

	s.log.Info("Payment intent created",
		zap.String("payment_intent_id", pi.ID),
		zap.String("status", string(pi.Status)),
	)

	return &ChargeResult{
		Approved:    pi.Status == stripe.PaymentIntentStatusSucceeded,
		ProviderRef: pi.ID,
		Message:     string(pi.Status),
	}, nil
}

func (s *StripeProvider) Refund(ctx context.Context, providerRef string) error {
	if providerRef == "" {
		return errors.New("provider reference is required")
	}

	s.log.Info("Refunding payment", zap.String("provider_ref", providerRef))

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(providerRef),
	}
	params.Context = ctx

	r, err := refund.New(params)
	if err != nil {
		s.log.Error("Failed to refund payment", zap.String("provider_ref", providerRef), zap.Error(err))
		return fmt.Errorf("stripe: refund payment: %w", err)
	}

	s.log.Info("Payment refunded",
		zap.String("refund_id", r.ID),
		zap.String("status", string(r.Status)),
	)
	return nil
}

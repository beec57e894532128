package payments

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
)

var ErrInvalidFare = errors.New("invalid fare amount")

// maxFare bounds held amounts to what fits in int64 minor units.
var maxFare = decimal.New(1, 15)

// StripeClient places and releases fare holds through PaymentIntents.
type StripeClient struct {
	Currency string
}

// NewStripeClient sets the package-level stripe key and returns a client
// that holds fares in currency.
func NewStripeClient(apiKey, currency string) *StripeClient {
	stripe.Key = apiKey
	return &StripeClient{Currency: currency}
}

// Hold creates a manual-capture PaymentIntent for amount minor units and
// tags it with the rider. It returns the PaymentIntent ID.
func (s *StripeClient) Hold(ctx context.Context, amount int64, rider string) (string, error) {
	params := holdParams(amount, s.Currency, rider)
	params.Context = ctx
	pi, err := paymentintent.New(params)
	if err != nil {
		return "", err
	}
	return pi.ID, nil
}

func holdParams(amount int64, currency, rider string) *stripe.PaymentIntentParams {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(amount),
		Currency:      stripe.String(currency),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
	}
	if rider != "" {
		params.AddMetadata("rider", rider)
	}
	return params
}

// Cancel releases the hold on a PaymentIntent.
func (s *StripeClient) Cancel(ctx context.Context, paymentIntentID string) error {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	_, err := paymentintent.Cancel(paymentIntentID, params)
	return err
}

// ParseFare converts a decimal amount such as "12.5" or "$8.75" to minor
// units. Signs, exponents and more than two decimals are rejected.
func ParseFare(amount string) (int64, error) {
	s := strings.TrimPrefix(strings.TrimSpace(amount), "$")
	if s == "" || strings.Trim(s, "0123456789.") != "" {
		return 0, ErrInvalidFare
	}
	if strings.HasSuffix(s, ".") {
		s += "0"
	}
	if strings.HasPrefix(s, ".") {
		s = "0" + s
	}
	d, err := decimal.NewFromString(s)
	if err != nil || d.Exponent() < -2 || d.GreaterThanOrEqual(maxFare) {
		return 0, ErrInvalidFare
	}
	return d.Shift(2).IntPart(), nil
}

package x608

import (
	"context"

	"github.com/shopspring/decimal"
)

// RateProvider is the exchange-rate oracle collaborator. GetRates returns an
// asset -> USD rate for each requested asset. Assets the provider does not
// recognize may be omitted from the result; the core falls back to a rate of
// 1.0 for missing assets (see ChallengeGenerator).
type RateProvider interface {
	GetRates(ctx context.Context, assets []AssetID) (map[AssetID]decimal.Decimal, error)
}

// ChainVerifier is the on-chain verification collaborator. Given a challenge
// and a transaction reference it either reconstructs the Payment the
// transaction settles or returns an error describing why the transaction is
// not a valid settlement of the challenge.
//
// Implementations live outside this package (blockchain RPC clients, test
// stubs). The core never retries; retry policy belongs to the implementation.
type ChainVerifier interface {
	VerifyPayment(ctx context.Context, challenge Challenge, txHash string) (Payment, error)
}

// PaymentEvent is the payload delivered to webhook collaborators when a
// wallet records spending or a settlement completes.
type PaymentEvent struct {
	Type      string          `json:"type"`
	Amount    decimal.Decimal `json:"amount"`
	Merchant  string          `json:"merchant"`
	Timestamp int64           `json:"timestamp"`
}

// WebhookNotifier delivers payment events to an external endpoint.
// Deliveries are fire-and-forget: callers log failures and never let them
// affect a payment decision already made.
type WebhookNotifier interface {
	Notify(ctx context.Context, event PaymentEvent) error
}

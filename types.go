package x608

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// AssetID identifies a settlement asset in chain:symbol format
// (e.g., "base:USDC", "sol:USDC", "tron:USDT").
type AssetID string

// Parse splits the asset id into chain and symbol components.
func (a AssetID) Parse() (chain, symbol string, err error) {
	parts := strings.Split(string(a), ":")
	if len(parts) != 2 {
		return "", "", fmt.Errorf("invalid asset format: %s", a)
	}
	return parts[0], parts[1], nil
}

// PaymentRoute describes one acceptable settlement path on a challenge.
// It is a value object with no identity beyond its asset.
type PaymentRoute struct {
	Asset        AssetID         `json:"asset"`
	ChainID      int             `json:"chainId,omitempty"`
	Rate         decimal.Decimal `json:"rate"` // exchange rate to USD
	RateSource   string          `json:"rateSource"`
	EstimatedGas string          `json:"estimatedGas,omitempty"`
}

// StreamUnit is the unit of consumption a streaming session charges by.
type StreamUnit string

const (
	UnitKB    StreamUnit = "kb"
	UnitToken StreamUnit = "token"
	UnitCall  StreamUnit = "call"
)

// StreamConfig configures metered billing for a streaming challenge.
type StreamConfig struct {
	Unit        StreamUnit      `json:"unit"`
	RatePerUnit decimal.Decimal `json:"ratePerUnit"`
	BudgetCap   decimal.Decimal `json:"budgetCap"`
}

// ChallengeMode distinguishes one-shot payments from metered streams.
type ChallengeMode string

const (
	ModeSingle ChallengeMode = "single"
	ModeStream ChallengeMode = "stream"
)

// Challenge is a merchant-issued payment request descriptor. It is immutable
// once issued; mutating a copy has no effect on settlement.
type Challenge struct {
	ChallengeID      string          `json:"challengeId"`
	PriceUSD         decimal.Decimal `json:"priceUSD"`
	Routes           []PaymentRoute  `json:"routes"`
	SettleAsset      AssetID         `json:"settleAsset"`
	RecipientAddress string          `json:"recipientAddress"`
	ContentHash      string          `json:"contentHash,omitempty"`
	EscrowSeconds    int             `json:"escrowSeconds,omitempty"`
	IdempotencyKey   string          `json:"idempotencyKey"`
	Mode             ChallengeMode   `json:"mode"`
	StreamConfig     *StreamConfig   `json:"streamConfig,omitempty"`
	Timestamp        time.Time       `json:"timestamp"`
	ExpiresAt        time.Time       `json:"expiresAt"`
}

// Payment is the record of one verified on-chain payment against a challenge.
type Payment struct {
	ChallengeID     string     `json:"challengeId"`
	IdempotencyKey  string     `json:"idempotencyKey"`
	TxHash          string     `json:"txHash"`
	FromAddress     string     `json:"fromAddress"`
	Amount          string     `json:"amount"`
	Route           AssetID    `json:"route"`
	Timestamp       time.Time  `json:"timestamp"`
	EscrowReleaseAt *time.Time `json:"escrowReleaseAt,omitempty"`
}

// MerchantConfig is the merchant-side configuration a ChallengeGenerator is
// built from.
type MerchantConfig struct {
	PriceUSD         decimal.Decimal `json:"priceUSD"`
	Routes           []AssetID       `json:"routes" validate:"min=1,dive,required"`
	SettleAsset      AssetID         `json:"settleAsset" validate:"required"`
	RecipientAddress string          `json:"recipientAddress" validate:"required"`
	EscrowSeconds    int             `json:"escrowSeconds,omitempty" validate:"gte=0"`
	EnableStreaming  bool            `json:"enableStreaming,omitempty"`
	StreamUnit       StreamUnit      `json:"streamUnit,omitempty" validate:"omitempty,oneof=kb token call"`
	StreamRate       decimal.Decimal `json:"streamRate,omitempty"`
	EnableReputation bool            `json:"enableReputation,omitempty"`
}

var validate = validator.New()

// Validate checks the configuration for completeness. Decimal fields are
// checked by hand; the validator cannot see inside decimal.Decimal.
func (c MerchantConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.PriceUSD.Sign() <= 0 {
		return fmt.Errorf("priceUSD must be positive, got %s", c.PriceUSD)
	}
	if c.EnableStreaming {
		if c.StreamUnit == "" {
			return fmt.Errorf("streamUnit is required when streaming is enabled")
		}
		if c.StreamRate.Sign() <= 0 {
			return fmt.Errorf("streamRate must be positive when streaming is enabled")
		}
	}
	return nil
}

// Protocol header names. Absence of an optional header signals the
// corresponding challenge field was unset.
const (
	HeaderChallenge      = "X-608-Challenge"
	HeaderPriceUSD       = "X-608-Price-USD"
	HeaderRoutes         = "X-608-Routes"
	HeaderSettle         = "X-608-Settle"
	HeaderHash           = "X-608-Hash"
	HeaderEscrow         = "X-608-Escrow"
	HeaderIdempotencyKey = "X-608-Idempotency-Key"
	HeaderMode           = "X-608-Mode"
	HeaderQuoteRef       = "X-608-Quote-Ref"

	// HeaderPayment carries the caller's payment submission on a request.
	HeaderPayment = "X-608-Payment"
)

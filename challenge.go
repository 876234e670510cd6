package x608

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/x608-foundation/x608/go/logger"
)

// DefaultChallengeExpiry is how long an issued challenge remains payable.
const DefaultChallengeExpiry = 5 * time.Minute

// defaultRateSource tags quotes produced by the configured RateProvider.
const defaultRateSource = "oracle:coinbase-spot"

// ChallengeGenerator assembles payment challenges from a merchant
// configuration and current exchange rates. It is stateless apart from the
// configuration; GenerateChallenge is pure given the rate lookup.
type ChallengeGenerator struct {
	config MerchantConfig
	rates  RateProvider
	expiry time.Duration
	now    func() time.Time
	log    logger.Logger
}

// GeneratorOption configures a ChallengeGenerator.
type GeneratorOption func(*ChallengeGenerator)

// WithChallengeExpiry overrides the default 5 minute challenge expiry.
func WithChallengeExpiry(d time.Duration) GeneratorOption {
	return func(g *ChallengeGenerator) {
		g.expiry = d
	}
}

// WithGeneratorClock overrides the time source. Intended for tests.
func WithGeneratorClock(now func() time.Time) GeneratorOption {
	return func(g *ChallengeGenerator) {
		g.now = now
	}
}

// WithGeneratorLogger sets the logger used for rate-lookup warnings.
func WithGeneratorLogger(log logger.Logger) GeneratorOption {
	return func(g *ChallengeGenerator) {
		g.log = log
	}
}

// NewChallengeGenerator creates a generator for the given merchant
// configuration. The RateProvider is queried once per generated challenge.
func NewChallengeGenerator(config MerchantConfig, rates RateProvider, opts ...GeneratorOption) (*ChallengeGenerator, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid merchant config: %w", err)
	}
	g := &ChallengeGenerator{
		config: config,
		rates:  rates,
		expiry: DefaultChallengeExpiry,
		now:    time.Now,
		log:    logger.NoopLogger{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// GenerateChallenge builds a fresh challenge. contentHash, when non-empty, is
// attached so escrow can later verify delivered content against it.
//
// Rate lookup failures do not fail the challenge: unquoted routes fall back
// to a rate of 1.0. This is a documented fallback for stablecoin-denominated
// routes, not a silent default; the miss is logged.
func (g *ChallengeGenerator) GenerateChallenge(ctx context.Context, contentHash string) (Challenge, error) {
	now := g.now()

	rates, err := g.rates.GetRates(ctx, g.config.Routes)
	if err != nil {
		g.log.Warn("rate lookup failed, using fallback rate 1.0", map[string]any{
			"error": err.Error(),
		})
		rates = map[AssetID]decimal.Decimal{}
	}

	routes := make([]PaymentRoute, 0, len(g.config.Routes))
	for _, asset := range g.config.Routes {
		rate, ok := rates[asset]
		if !ok {
			g.log.Debug("no rate for asset, falling back to 1.0", map[string]any{
				"asset": string(asset),
			})
			rate = decimal.NewFromInt(1)
		}
		routes = append(routes, PaymentRoute{
			Asset:        asset,
			Rate:         rate,
			RateSource:   defaultRateSource,
			EstimatedGas: "0.001",
		})
	}

	challenge := Challenge{
		ChallengeID:      GenerateID("x608"),
		PriceUSD:         g.config.PriceUSD,
		Routes:           routes,
		SettleAsset:      g.config.SettleAsset,
		RecipientAddress: g.config.RecipientAddress,
		ContentHash:      contentHash,
		EscrowSeconds:    g.config.EscrowSeconds,
		IdempotencyKey:   GenerateID("ik"),
		Mode:             ModeSingle,
		Timestamp:        now,
		ExpiresAt:        now.Add(g.expiry),
	}

	if g.config.EnableStreaming {
		challenge.Mode = ModeStream
		challenge.StreamConfig = &StreamConfig{
			Unit:        g.config.StreamUnit,
			RatePerUnit: g.config.StreamRate,
			BudgetCap:   g.config.PriceUSD,
		}
	}

	return challenge, nil
}

// GenerateHeaders renders a challenge into the protocol's canonical header
// set. Optional headers are omitted when the corresponding field is unset.
func (g *ChallengeGenerator) GenerateHeaders(challenge Challenge) map[string]string {
	assets := make([]string, 0, len(challenge.Routes))
	sources := make([]string, 0, len(challenge.Routes))
	for _, route := range challenge.Routes {
		assets = append(assets, string(route.Asset))
		sources = append(sources, route.RateSource)
	}
	assetList, _ := json.Marshal(assets)

	headers := map[string]string{
		HeaderChallenge:      challenge.ChallengeID,
		HeaderPriceUSD:       challenge.PriceUSD.String(),
		HeaderRoutes:         string(assetList),
		HeaderSettle:         string(challenge.SettleAsset),
		HeaderIdempotencyKey: challenge.IdempotencyKey,
	}

	if challenge.ContentHash != "" {
		headers[HeaderHash] = challenge.ContentHash
	}
	if challenge.EscrowSeconds > 0 {
		headers[HeaderEscrow] = fmt.Sprintf("%ds", challenge.EscrowSeconds)
	}
	if challenge.Mode == ModeStream && challenge.StreamConfig != nil {
		headers[HeaderMode] = fmt.Sprintf("stream; cap=%s", challenge.StreamConfig.BudgetCap.String())
	}
	headers[HeaderQuoteRef] = strings.Join(sources, ",")

	return headers
}

// IsExpired reports whether the challenge's expiry has passed.
func (g *ChallengeGenerator) IsExpired(challenge Challenge) bool {
	return g.now().After(challenge.ExpiresAt)
}

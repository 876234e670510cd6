package x608

import (
	"context"

	"github.com/shopspring/decimal"
)

// StaticRateProvider is a table-driven RateProvider for tests and local
// development. Production deployments should implement RateProvider against a
// live oracle.
type StaticRateProvider struct {
	rates map[AssetID]decimal.Decimal
}

// NewStaticRateProvider creates a provider over a fixed rate table.
// The table is copied; later mutation of rates has no effect.
func NewStaticRateProvider(rates map[AssetID]decimal.Decimal) *StaticRateProvider {
	copied := make(map[AssetID]decimal.Decimal, len(rates))
	for asset, rate := range rates {
		copied[asset] = rate
	}
	return &StaticRateProvider{rates: copied}
}

// DefaultRateTable mirrors the spot rates of the common stablecoin routes.
func DefaultRateTable() map[AssetID]decimal.Decimal {
	return map[AssetID]decimal.Decimal{
		"base:USDC":  decimal.NewFromInt(1),
		"sol:USDC":   decimal.NewFromInt(1),
		"base:EUROC": decimal.RequireFromString("1.08"),
		"tron:USDT":  decimal.NewFromInt(1),
		"base:ETH":   decimal.NewFromInt(2500),
		"arb:USDC":   decimal.NewFromInt(1),
		"op:USDC":    decimal.NewFromInt(1),
	}
}

// GetRates returns rates for the assets present in the table. Unknown assets
// are omitted; the caller applies its own fallback.
func (p *StaticRateProvider) GetRates(_ context.Context, assets []AssetID) (map[AssetID]decimal.Decimal, error) {
	rates := make(map[AssetID]decimal.Decimal, len(assets))
	for _, asset := range assets {
		if rate, ok := p.rates[asset]; ok {
			rates[asset] = rate
		}
	}
	return rates, nil
}

var _ RateProvider = (*StaticRateProvider)(nil)

// Package gin provides the x608 payment middleware for Gin servers: requests
// without a payment header receive a 402 challenge rendered into X-608-*
// headers; requests carrying a payment are deduplicated, optionally verified
// on-chain, escrowed, and passed through.
package gin

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	x608 "github.com/x608-foundation/x608/go"
	"github.com/x608-foundation/x608/go/logger"
)

// MiddlewareOptions configures the PaymentMiddleware.
type MiddlewareOptions struct {
	Rates    x608.RateProvider
	Verifier x608.ChainVerifier
	Cache    *x608.IdempotencyCache
	Escrow   *x608.EscrowLedger
	Logger   logger.Logger
}

// Option mutates MiddlewareOptions.
type Option func(*MiddlewareOptions)

// WithRateProvider sets the exchange-rate oracle used for challenge quotes.
// Default: the static table in x608.DefaultRateTable.
func WithRateProvider(rates x608.RateProvider) Option {
	return func(o *MiddlewareOptions) {
		o.Rates = rates
	}
}

// WithVerifier enables on-chain verification of submitted payments. Without
// it, payments are accepted on presentation, which is only appropriate for
// local development.
func WithVerifier(verifier x608.ChainVerifier) Option {
	return func(o *MiddlewareOptions) {
		o.Verifier = verifier
	}
}

// WithCache replaces the default idempotency cache.
func WithCache(cache *x608.IdempotencyCache) Option {
	return func(o *MiddlewareOptions) {
		o.Cache = cache
	}
}

// WithEscrow replaces the default escrow ledger.
func WithEscrow(ledger *x608.EscrowLedger) Option {
	return func(o *MiddlewareOptions) {
		o.Escrow = ledger
	}
}

// WithLogger sets the middleware logger.
func WithLogger(log logger.Logger) Option {
	return func(o *MiddlewareOptions) {
		o.Logger = log
	}
}

// PaymentMiddleware gates the wrapped handlers behind the x608 protocol for
// the given merchant configuration.
func PaymentMiddleware(config x608.MerchantConfig, opts ...Option) (gin.HandlerFunc, error) {
	options := &MiddlewareOptions{
		Rates:  x608.NewStaticRateProvider(x608.DefaultRateTable()),
		Logger: logger.NoopLogger{},
	}
	for _, opt := range opts {
		opt(options)
	}

	generator, err := x608.NewChallengeGenerator(config, options.Rates,
		x608.WithGeneratorLogger(options.Logger))
	if err != nil {
		return nil, err
	}

	if options.Cache == nil {
		options.Cache = x608.NewIdempotencyCache()
	}
	if options.Escrow == nil {
		options.Escrow = x608.NewEscrowLedger(x608.WithEscrowRecipient(config.RecipientAddress))
	}

	issued := &challengeStore{challenges: make(map[string]x608.Challenge)}

	return func(c *gin.Context) {
		paymentHeader := c.GetHeader(x608.HeaderPayment)

		if paymentHeader == "" {
			challenge, err := generator.GenerateChallenge(c.Request.Context(), "")
			if err != nil {
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": err.Error(),
				})
				return
			}
			issued.put(challenge)

			for name, value := range generator.GenerateHeaders(challenge) {
				c.Header(name, value)
			}

			assets := make([]string, 0, len(challenge.Routes))
			for _, route := range challenge.Routes {
				assets = append(assets, string(route.Asset))
			}
			c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{
				"error":     "Payment Required",
				"challenge": challenge.ChallengeID,
				"routes":    assets,
				"priceUSD":  challenge.PriceUSD,
			})
			return
		}

		var payment x608.Payment
		if err := json.Unmarshal([]byte(paymentHeader), &payment); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "Invalid payment",
				"message": err.Error(),
			})
			return
		}

		// A retry of an already-settled payment proceeds without
		// re-verification or double-charging.
		if options.Cache.HasPayment(payment.IdempotencyKey) {
			options.Logger.Info("duplicate payment detected, using cached result", map[string]any{
				"idempotencyKey": payment.IdempotencyKey,
			})
			c.Next()
			return
		}

		if options.Verifier != nil {
			challenge, ok := issued.get(payment.ChallengeID)
			if !ok || generator.IsExpired(challenge) {
				c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{
					"error": "unknown or expired challenge",
				})
				return
			}

			verified, err := options.Verifier.VerifyPayment(c.Request.Context(), challenge, payment.TxHash)
			if err != nil {
				options.Logger.Warn("payment verification failed", map[string]any{
					"txHash": payment.TxHash,
					"error":  err.Error(),
				})
				c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{
					"error": "payment verification failed",
				})
				return
			}
			payment = verified
		}

		options.Cache.RecordPayment(payment.IdempotencyKey, payment)

		if config.EscrowSeconds > 0 {
			options.Escrow.CreateEscrow(payment, "", time.Duration(config.EscrowSeconds)*time.Second)
		}

		c.Next()
	}, nil
}

// challengeStore remembers issued challenges so submitted payments can be
// verified against them. Expired challenges are pruned on insert.
type challengeStore struct {
	mu         sync.Mutex
	challenges map[string]x608.Challenge
}

func (s *challengeStore) put(challenge x608.Challenge) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for id, ch := range s.challenges {
		if now.After(ch.ExpiresAt) {
			delete(s.challenges, id)
		}
	}
	s.challenges[challenge.ChallengeID] = challenge
}

func (s *challengeStore) get(id string) (x608.Challenge, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	challenge, ok := s.challenges[id]
	return challenge, ok
}

package x608

import (
	"context"
	"time"

	"github.com/x608-foundation/x608/go/logger"
	"github.com/x608-foundation/x608/go/metrics"
)

// SettleResult is the outcome of a successful Settle call.
type SettleResult struct {
	Payment Payment `json:"payment"`
	// Duplicate is true when the idempotency cache short-circuited a retry.
	// The payment is the originally settled one; no re-verification happened.
	Duplicate bool `json:"duplicate"`
	// Escrow is the hold created for this payment, if the challenge asked
	// for one.
	Escrow *EscrowRecord `json:"escrow,omitempty"`
}

// SettlementService orchestrates the settlement flow across the engines:
// challenge issuance, on-chain verification through the ChainVerifier
// collaborator, idempotent duplicate suppression, escrowed holding, and
// reputation recording.
type SettlementService struct {
	generator  *ChallengeGenerator
	verifier   ChainVerifier
	cache      *IdempotencyCache
	escrow     *EscrowLedger
	reputation *ReputationTracker

	log logger.Logger
	rec metrics.Recorder
	now func() time.Time

	beforeSettleHooks    []BeforeSettleHook
	afterSettleHooks     []AfterSettleHook
	onSettleFailureHooks []OnSettleFailureHook
}

// ServiceOption configures a SettlementService.
type ServiceOption func(*SettlementService)

// WithIdempotencyCache replaces the default cache.
func WithIdempotencyCache(cache *IdempotencyCache) ServiceOption {
	return func(s *SettlementService) {
		s.cache = cache
	}
}

// WithEscrowLedger replaces the default ledger.
func WithEscrowLedger(ledger *EscrowLedger) ServiceOption {
	return func(s *SettlementService) {
		s.escrow = ledger
	}
}

// WithReputationTracker replaces the default tracker.
func WithReputationTracker(tracker *ReputationTracker) ServiceOption {
	return func(s *SettlementService) {
		s.reputation = tracker
	}
}

// WithServiceLogger sets the logger for settlement events.
func WithServiceLogger(log logger.Logger) ServiceOption {
	return func(s *SettlementService) {
		s.log = log
	}
}

// WithMetrics sets the metrics recorder. Default: no-op.
func WithMetrics(rec metrics.Recorder) ServiceOption {
	return func(s *SettlementService) {
		s.rec = rec
	}
}

// WithServiceClock overrides the time source. Intended for tests.
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *SettlementService) {
		s.now = now
	}
}

// NewSettlementService wires a service around the generator's merchant
// configuration. Engines not supplied via options are created with defaults;
// the default escrow ledger stamps records with the merchant's recipient
// address.
func NewSettlementService(generator *ChallengeGenerator, verifier ChainVerifier, opts ...ServiceOption) *SettlementService {
	s := &SettlementService{
		generator: generator,
		verifier:  verifier,
		log:       logger.NoopLogger{},
		rec:       metrics.NoopRecorder{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cache == nil {
		s.cache = NewIdempotencyCache()
	}
	if s.escrow == nil {
		s.escrow = NewEscrowLedger(WithEscrowRecipient(generator.config.RecipientAddress))
	}
	if s.reputation == nil {
		s.reputation = NewReputationTracker()
	}
	return s
}

// Escrow returns the ledger the service settles into.
func (s *SettlementService) Escrow() *EscrowLedger {
	return s.escrow
}

// Reputation returns the tracker the service records outcomes on.
func (s *SettlementService) Reputation() *ReputationTracker {
	return s.reputation
}

// IssueChallenge generates a challenge and its rendered header set.
func (s *SettlementService) IssueChallenge(ctx context.Context, contentHash string) (Challenge, map[string]string, error) {
	challenge, err := s.generator.GenerateChallenge(ctx, contentHash)
	if err != nil {
		return Challenge{}, nil, err
	}

	s.rec.IncCounter(metrics.EventChallengeIssued, map[string]string{
		"asset": string(challenge.SettleAsset),
	})
	return challenge, s.generator.GenerateHeaders(challenge), nil
}

// Settle verifies the payment for challenge referenced by txHash and commits
// it through the engines. A retry carrying an already-settled idempotency key
// returns the original payment with Duplicate=true and performs no
// re-verification.
func (s *SettlementService) Settle(ctx context.Context, challenge Challenge, txHash string) (*SettleResult, error) {
	start := s.now()
	labels := map[string]string{"asset": string(challenge.SettleAsset)}
	sctx := SettleContext{Ctx: ctx, Challenge: challenge, TxHash: txHash, Timestamp: start}

	if s.generator.IsExpired(challenge) {
		s.rec.IncCounter(metrics.EventSettleFailed, labels)
		return nil, NewPaymentError(ErrCodeChallengeExpired, "challenge has expired", map[string]interface{}{
			"challengeId": challenge.ChallengeID,
		})
	}

	if payment, ok := s.cache.GetPayment(challenge.IdempotencyKey); ok {
		s.log.Info("duplicate payment detected, returning cached result", map[string]any{
			"idempotencyKey": challenge.IdempotencyKey,
		})
		s.rec.IncCounter(metrics.EventSettleDuplicate, labels)
		return &SettleResult{Payment: payment, Duplicate: true}, nil
	}

	for _, hook := range s.beforeSettleHooks {
		result, err := hook(sctx)
		if err != nil {
			return nil, err
		}
		if result != nil && result.Abort {
			s.rec.IncCounter(metrics.EventSettleFailed, labels)
			return nil, NewPaymentError(ErrCodeVerificationFailed, result.Reason, nil)
		}
	}

	verifyStart := s.now()
	payment, err := s.verifier.VerifyPayment(ctx, challenge, txHash)
	s.rec.ObserveLatency(metrics.OpVerify, s.now().Sub(verifyStart), labels)
	if err != nil {
		payment, err = s.recoverSettleFailure(sctx, err, start)
		if err != nil {
			elapsed := s.now().Sub(start)
			s.reputation.RecordTransaction(challenge.RecipientAddress, false, elapsed.Milliseconds(), false)
			s.rec.IncCounter(metrics.EventSettleFailed, labels)
			s.rec.ObserveLatency(metrics.OpSettle, elapsed, labels)
			return nil, NewPaymentError(ErrCodeVerificationFailed, err.Error(), map[string]interface{}{
				"challengeId": challenge.ChallengeID,
				"txHash":      txHash,
			})
		}
	}

	result := &SettleResult{Payment: payment}

	if challenge.EscrowSeconds > 0 {
		record := s.escrow.CreateEscrow(payment, challenge.ContentHash, time.Duration(challenge.EscrowSeconds)*time.Second)
		result.Escrow = &record
		result.Payment.EscrowReleaseAt = &record.ReleaseAt

		// Refunds count against the merchant's reputation.
		merchant := challenge.RecipientAddress
		s.escrow.OnRefund(record.PaymentID, func(EscrowRecord) {
			s.reputation.RecordTransaction(merchant, false, 0, true)
			s.rec.IncCounter(metrics.EventEscrowRefunded, labels)
		})
		s.escrow.OnRelease(record.PaymentID, func(EscrowRecord) {
			s.rec.IncCounter(metrics.EventEscrowReleased, labels)
		})
		s.rec.IncCounter(metrics.EventEscrowCreated, labels)
	}

	s.cache.RecordPayment(challenge.IdempotencyKey, result.Payment)

	elapsed := s.now().Sub(start)
	s.reputation.RecordTransaction(challenge.RecipientAddress, true, elapsed.Milliseconds(), false)
	s.rec.IncCounter(metrics.EventSettleSuccess, labels)
	s.rec.ObserveLatency(metrics.OpSettle, elapsed, labels)

	rctx := SettleResultContext{SettleContext: sctx, Result: *result, Duration: elapsed}
	for _, hook := range s.afterSettleHooks {
		if err := hook(rctx); err != nil {
			s.log.Warn("after-settle hook failed", map[string]any{"error": err.Error()})
		}
	}

	s.log.Info("payment settled", map[string]any{
		"challengeId": challenge.ChallengeID,
		"txHash":      result.Payment.TxHash,
		"escrowed":    result.Escrow != nil,
	})
	return result, nil
}

// recoverSettleFailure runs the failure hooks, returning a recovered payment
// or the (possibly hook-replaced) error.
func (s *SettlementService) recoverSettleFailure(sctx SettleContext, cause error, start time.Time) (Payment, error) {
	fctx := SettleFailureContext{SettleContext: sctx, Error: cause, Duration: s.now().Sub(start)}
	for _, hook := range s.onSettleFailureHooks {
		result, err := hook(fctx)
		if err != nil {
			s.log.Warn("settle-failure hook failed", map[string]any{"error": err.Error()})
			continue
		}
		if result != nil && result.Recovered {
			return result.Payment, nil
		}
	}
	return Payment{}, cause
}

// Close releases background resources held by the service's engines.
func (s *SettlementService) Close() {
	s.cache.Close()
	s.escrow.Close()
}

package x608

import (
	"context"
	"time"
)

// SettleContext contains information passed to settle hooks.
type SettleContext struct {
	Ctx       context.Context
	Challenge Challenge
	TxHash    string
	Timestamp time.Time
}

// SettleResultContext contains a settle operation result and its context.
type SettleResultContext struct {
	SettleContext
	Result   SettleResult
	Duration time.Duration
}

// SettleFailureContext contains a settle operation failure and its context.
type SettleFailureContext struct {
	SettleContext
	Error    error
	Duration time.Duration
}

// BeforeHookResult represents the result of a "before" hook.
// If Abort is true, the settlement is aborted with the given Reason.
type BeforeHookResult struct {
	Abort  bool
	Reason string
}

// SettleFailureHookResult represents the result of a settle failure hook.
// If Recovered is true, the hook has recovered from the verification failure
// with the given payment.
type SettleFailureHookResult struct {
	Recovered bool
	Payment   Payment
}

// BeforeSettleHook is called before on-chain verification. If it returns a
// result with Abort=true, the settlement is aborted with the provided reason.
type BeforeSettleHook func(SettleContext) (*BeforeHookResult, error)

// AfterSettleHook is called after a successful settlement. Any error returned
// is logged but does not affect the settlement result.
type AfterSettleHook func(SettleResultContext) error

// OnSettleFailureHook is called when on-chain verification fails. If it
// returns a result with Recovered=true, the provided payment is settled
// instead of propagating the failure.
type OnSettleFailureHook func(SettleFailureContext) (*SettleFailureHookResult, error)

// WithBeforeSettleHook registers a hook to execute before verification.
func WithBeforeSettleHook(hook BeforeSettleHook) ServiceOption {
	return func(s *SettlementService) {
		s.beforeSettleHooks = append(s.beforeSettleHooks, hook)
	}
}

// WithAfterSettleHook registers a hook to execute after successful settlement.
func WithAfterSettleHook(hook AfterSettleHook) ServiceOption {
	return func(s *SettlementService) {
		s.afterSettleHooks = append(s.afterSettleHooks, hook)
	}
}

// WithOnSettleFailureHook registers a hook to execute when verification fails.
func WithOnSettleFailureHook(hook OnSettleFailureHook) ServiceOption {
	return func(s *SettlementService) {
		s.onSettleFailureHooks = append(s.onSettleFailureHooks, hook)
	}
}

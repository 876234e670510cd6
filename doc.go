// Package x608 implements the settlement core of the x608 micropayment
// protocol: an HTTP 402 challenge/response flow extended with multi-currency
// route quoting, escrowed fund holding, idempotent duplicate-payment
// suppression, metered streaming billing, policy-bounded autonomous spending,
// and merchant trust scoring.
//
// # Overview
//
// The package provides six stateful engines, each safe for concurrent use:
//
//   - ChallengeGenerator assembles payment challenges from a merchant
//     configuration and current exchange rates, and renders them into the
//     protocol's X-608-* header set.
//   - IdempotencyCache deduplicates payments by idempotency key with TTL
//     expiry and a background sweep.
//   - EscrowLedger holds a payment in trust until content is verified
//     (release) or the escrow window elapses, with exactly-once status
//     transitions under concurrent access.
//   - StreamingMeter charges per unit of consumption (KB, token, or call)
//     against a per-session budget cap.
//   - PolicyWallet gates autonomous spend attempts against allow/block
//     lists, a rolling daily cap, and an approval threshold.
//   - ReputationTracker aggregates per-merchant transaction outcomes into
//     coarse trust levels.
//
// SettlementService ties the engines together for the common flow: issue a
// challenge, verify the payment through a ChainVerifier collaborator,
// short-circuit duplicates, escrow the funds, and record the outcome.
//
// # What This Package Does Not Do
//
// On-chain transaction verification, exchange-rate lookup, and webhook
// delivery are collaborator interfaces (ChainVerifier, RateProvider,
// WebhookNotifier) implemented outside this package. State is held for the
// lifetime of the process; distributed deployments should back the engines
// with a shared store.
package x608

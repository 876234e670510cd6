// Package metrics defines the instrumentation hooks recorded by the x608
// settlement core. The default recorder is a no-op; wire the Prometheus
// recorder for production visibility.
package metrics

import "time"

// Recorder receives settlement events and operation latencies.
type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}

// Event and operation names recorded by the settlement core.
const (
	EventChallengeIssued = "challenge_issued"
	EventSettleSuccess   = "settle_success"
	EventSettleDuplicate = "settle_duplicate"
	EventSettleFailed    = "settle_failed"
	EventEscrowCreated   = "escrow_created"
	EventEscrowReleased  = "escrow_released"
	EventEscrowRefunded  = "escrow_refunded"
	EventSpendDenied     = "spend_denied"
	EventSpendApproved   = "spend_approved"
	EventStreamRejected  = "stream_rejected"

	OpSettle = "settle"
	OpVerify = "verify"
)

package x608

import (
	"sync"
	"time"

	"github.com/x608-foundation/x608/go/logger"
)

// EscrowStatus is the state of an escrow record. held is the only non-terminal
// state; a record transitions out of it exactly once.
type EscrowStatus string

const (
	EscrowHeld     EscrowStatus = "held"
	EscrowReleased EscrowStatus = "released"
	EscrowRefunded EscrowStatus = "refunded"
)

// DefaultEscrowWindow is the hold duration when the caller does not specify one.
const DefaultEscrowWindow = 60 * time.Second

// EscrowRecord holds one payment in trust pending content verification or
// timeout. Records are keyed by the challenge id of the payment.
type EscrowRecord struct {
	PaymentID   string       `json:"paymentId"`
	Amount      string       `json:"amount"`
	Asset       AssetID      `json:"asset"`
	FromAddress string       `json:"fromAddress"`
	ToAddress   string       `json:"toAddress"`
	ContentHash string       `json:"contentHash,omitempty"`
	ReleaseAt   time.Time    `json:"releaseAt"`
	Status      EscrowStatus `json:"status"`
	CreatedAt   time.Time    `json:"createdAt"`
}

// RefundCallback is invoked at most once when the record it is registered for
// transitions to refunded.
type RefundCallback func(record EscrowRecord)

// ReleaseCallback is invoked at most once when the record it is registered
// for transitions to released, whether by VerifyAndRelease or the automatic
// release timer.
type ReleaseCallback func(record EscrowRecord)

// EscrowLedger manages escrow records through the held -> released|refunded
// state machine. The automatic release timer, VerifyAndRelease, and Refund
// race on the same record; the transition is serialized so exactly one winner
// performs it and registered side effects fire at most once.
type EscrowLedger struct {
	mu       sync.Mutex
	records  map[string]*EscrowRecord
	refunds  map[string]RefundCallback
	releases map[string]ReleaseCallback
	timers   map[string]*time.Timer

	recipient string
	now       func() time.Time
	log       logger.Logger
}

// EscrowOption configures an EscrowLedger.
type EscrowOption func(*EscrowLedger)

// WithEscrowRecipient sets the merchant address stamped on created records.
func WithEscrowRecipient(address string) EscrowOption {
	return func(l *EscrowLedger) {
		l.recipient = address
	}
}

// WithEscrowClock overrides the time source. Intended for tests. The
// auto-release timer still runs on wall-clock time.
func WithEscrowClock(now func() time.Time) EscrowOption {
	return func(l *EscrowLedger) {
		l.now = now
	}
}

// WithEscrowLogger sets the logger for refund and release events.
func WithEscrowLogger(log logger.Logger) EscrowOption {
	return func(l *EscrowLedger) {
		l.log = log
	}
}

// NewEscrowLedger creates an empty ledger.
func NewEscrowLedger(opts ...EscrowOption) *EscrowLedger {
	l := &EscrowLedger{
		records:  make(map[string]*EscrowRecord),
		refunds:  make(map[string]RefundCallback),
		releases: make(map[string]ReleaseCallback),
		timers:   make(map[string]*time.Timer),
		now:      time.Now,
		log:      logger.NoopLogger{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CreateEscrow places payment in a held record and schedules an automatic
// release once the hold window elapses, unless the record has transitioned by
// then. A non-positive window falls back to DefaultEscrowWindow.
//
// One record exists per payment id: creating an escrow for an id that already
// has one returns the existing record untouched.
func (l *EscrowLedger) CreateEscrow(payment Payment, contentHash string, holdFor time.Duration) EscrowRecord {
	if holdFor <= 0 {
		holdFor = DefaultEscrowWindow
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.records[payment.ChallengeID]; ok {
		return *existing
	}

	now := l.now()
	record := &EscrowRecord{
		PaymentID:   payment.ChallengeID,
		Amount:      payment.Amount,
		Asset:       payment.Route,
		FromAddress: payment.FromAddress,
		ToAddress:   l.recipient,
		ContentHash: contentHash,
		ReleaseAt:   now.Add(holdFor),
		Status:      EscrowHeld,
		CreatedAt:   now,
	}
	l.records[payment.ChallengeID] = record

	id := payment.ChallengeID
	l.timers[id] = time.AfterFunc(holdFor, func() {
		l.autoRelease(id)
	})

	return *record
}

// VerifyAndRelease attempts the held -> released transition for paymentID.
//
// When the record was created with a content hash, the supplied content is
// hashed and compared first. A mismatch forces an automatic refund (reason
// "content hash mismatch") and reports ErrCodeContentMismatch; the failure is
// never silently dropped.
//
// Returns the record after the attempt and a *PaymentError carrying
// ErrCodeEscrowNotFound, ErrCodeAlreadyFinalized, or ErrCodeContentMismatch
// on failure.
func (l *EscrowLedger) VerifyAndRelease(paymentID string, content []byte) (EscrowRecord, error) {
	l.mu.Lock()

	record, ok := l.records[paymentID]
	if !ok {
		l.mu.Unlock()
		return EscrowRecord{}, NewPaymentError(ErrCodeEscrowNotFound, "escrow not found", map[string]interface{}{
			"paymentId": paymentID,
		})
	}

	if record.Status != EscrowHeld {
		snapshot := *record
		l.mu.Unlock()
		return snapshot, NewPaymentError(ErrCodeAlreadyFinalized, "escrow already "+string(record.Status), map[string]interface{}{
			"paymentId": paymentID,
			"status":    string(record.Status),
		})
	}

	if record.ContentHash != "" && !VerifyContentHash(content, record.ContentHash) {
		// Mismatch: refund while still holding the lock so the auto-release
		// timer cannot slip in between the check and the transition.
		snapshot, cb := l.refundLocked(record, "content hash mismatch")
		l.mu.Unlock()
		if cb != nil {
			cb(snapshot)
		}
		return snapshot, NewPaymentError(ErrCodeContentMismatch, "content verification failed - refunded", map[string]interface{}{
			"paymentId": paymentID,
		})
	}

	record.Status = EscrowReleased
	l.stopTimerLocked(paymentID)
	snapshot, cb := l.popReleaseLocked(record)
	l.mu.Unlock()

	if cb != nil {
		cb(snapshot)
	}
	l.log.Info("escrow released", map[string]any{
		"paymentId": paymentID,
		"amount":    snapshot.Amount,
	})
	return snapshot, nil
}

// popReleaseLocked snapshots the released record and drops both registered
// callbacks, returning the release callback for the caller to invoke after
// unlocking. A record in a terminal state can never fire a callback again.
func (l *EscrowLedger) popReleaseLocked(record *EscrowRecord) (EscrowRecord, ReleaseCallback) {
	cb := l.releases[record.PaymentID]
	delete(l.releases, record.PaymentID)
	delete(l.refunds, record.PaymentID)
	return *record, cb
}

// Refund forces the held -> refunded transition and invokes the registered
// refund callback, if any, exactly once. Refunding a record that has already
// left the held state is a no-op. Returns ErrCodeEscrowNotFound for unknown
// payment ids.
func (l *EscrowLedger) Refund(paymentID, reason string) error {
	l.mu.Lock()

	record, ok := l.records[paymentID]
	if !ok {
		l.mu.Unlock()
		return NewPaymentError(ErrCodeEscrowNotFound, "escrow not found", map[string]interface{}{
			"paymentId": paymentID,
		})
	}

	if record.Status != EscrowHeld {
		l.mu.Unlock()
		return nil
	}

	snapshot, cb := l.refundLocked(record, reason)
	l.mu.Unlock()

	if cb != nil {
		cb(snapshot)
	}
	return nil
}

// refundLocked performs the refund transition and pops the callback. The
// caller must hold l.mu and invoke the returned callback after unlocking.
func (l *EscrowLedger) refundLocked(record *EscrowRecord, reason string) (EscrowRecord, RefundCallback) {
	record.Status = EscrowRefunded
	l.stopTimerLocked(record.PaymentID)

	cb := l.refunds[record.PaymentID]
	delete(l.refunds, record.PaymentID)
	delete(l.releases, record.PaymentID)

	snapshot := *record
	l.log.Info("escrow refunded", map[string]any{
		"paymentId": record.PaymentID,
		"reason":    reason,
	})
	return snapshot, cb
}

// OnRefund registers a callback fired if paymentID is refunded. Registering
// again replaces the previous callback; the callback fires at most once.
func (l *EscrowLedger) OnRefund(paymentID string, cb RefundCallback) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refunds[paymentID] = cb
}

// OnRelease registers a callback fired if paymentID is released. Registering
// again replaces the previous callback; the callback fires at most once.
func (l *EscrowLedger) OnRelease(paymentID string, cb ReleaseCallback) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.releases[paymentID] = cb
}

// GetEscrow returns a snapshot of the record for paymentID.
func (l *EscrowLedger) GetEscrow(paymentID string) (EscrowRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	record, ok := l.records[paymentID]
	if !ok {
		return EscrowRecord{}, false
	}
	return *record, true
}

// Close cancels all pending auto-release timers. Held records stay held.
func (l *EscrowLedger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for id, timer := range l.timers {
		timer.Stop()
		delete(l.timers, id)
	}
}

// autoRelease is the timer path of the state machine. It loses cleanly to a
// concurrent VerifyAndRelease or Refund: if the record already transitioned,
// nothing happens.
func (l *EscrowLedger) autoRelease(paymentID string) {
	l.mu.Lock()

	record, ok := l.records[paymentID]
	if !ok || record.Status != EscrowHeld || l.now().Before(record.ReleaseAt) {
		l.mu.Unlock()
		return
	}

	record.Status = EscrowReleased
	delete(l.timers, paymentID)
	snapshot, cb := l.popReleaseLocked(record)
	l.mu.Unlock()

	if cb != nil {
		cb(snapshot)
	}
	l.log.Info("escrow auto-released", map[string]any{
		"paymentId": paymentID,
	})
}

func (l *EscrowLedger) stopTimerLocked(paymentID string) {
	if timer, ok := l.timers[paymentID]; ok {
		timer.Stop()
		delete(l.timers, paymentID)
	}
}

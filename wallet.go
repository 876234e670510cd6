package x608

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/x608-foundation/x608/go/logger"
	"github.com/x608-foundation/x608/go/metrics"
)

// DefaultApprovalWait bounds how long CanSpend waits for an approval signal
// before treating the silence as denial.
const DefaultApprovalWait = 5 * time.Minute

// spendingWindow is the trailing window the daily cap applies to.
const spendingWindow = 24 * time.Hour

// PolicyConfig bounds what a policy wallet may spend autonomously.
type PolicyConfig struct {
	DailyCapUSD decimal.Decimal `json:"dailyCapUSD"`
	// Allowlist, when non-empty, restricts spending to the listed merchants
	// (fail closed). Blocklist denies listed merchants regardless.
	Allowlist []string `json:"allowlist,omitempty"`
	Blocklist []string `json:"blocklist,omitempty"`
	// RequireApprovalAbove, when positive, routes larger amounts through the
	// external approval flow. Zero disables the threshold.
	RequireApprovalAbove decimal.Decimal `json:"requireApprovalAbove,omitempty"`
	NotificationWebhook  string          `json:"notificationWebhook,omitempty"`
}

// SpendingRecord is one attempted spend appended to the wallet's rolling log.
type SpendingRecord struct {
	Timestamp time.Time       `json:"timestamp"`
	Amount    decimal.Decimal `json:"amount"`
	Merchant  string          `json:"merchant"`
	Approved  bool            `json:"approved"`
}

// PolicyWallet gates a spender's payment attempts against allow/block lists,
// a rolling 24 hour cap, and an approval threshold.
//
// CanSpend and RecordSpending are individually safe for concurrent use, but
// the pair is a check-then-act sequence; concurrent spenders sharing one
// wallet should go through Spend, which serializes the sequence so
// interleaved approvals cannot push the trailing total past the cap. An
// approval wait releases the serialization — only the requester suspends —
// and the cap is re-checked once the approval resolves.
type PolicyWallet struct {
	config PolicyConfig

	// spendMu serializes the check-then-act path in Spend.
	spendMu sync.Mutex

	// mu guards the spending log and pending approvals.
	mu       sync.Mutex
	spending []SpendingRecord
	pending  map[string]chan bool

	approvalWait time.Duration
	now          func() time.Time
	notifier     WebhookNotifier
	log          logger.Logger
	rec          metrics.Recorder
}

// WalletOption configures a PolicyWallet.
type WalletOption func(*PolicyWallet)

// WithApprovalWait bounds the approval wait window. Default: 5 minutes.
func WithApprovalWait(d time.Duration) WalletOption {
	return func(w *PolicyWallet) {
		w.approvalWait = d
	}
}

// WithWalletClock overrides the time source. Intended for tests.
func WithWalletClock(now func() time.Time) WalletOption {
	return func(w *PolicyWallet) {
		w.now = now
	}
}

// WithWalletNotifier replaces the webhook notifier built from
// PolicyConfig.NotificationWebhook.
func WithWalletNotifier(n WebhookNotifier) WalletOption {
	return func(w *PolicyWallet) {
		w.notifier = n
	}
}

// WithWalletLogger sets the logger for denial and webhook-failure events.
func WithWalletLogger(log logger.Logger) WalletOption {
	return func(w *PolicyWallet) {
		w.log = log
	}
}

// WithWalletMetrics sets the metrics recorder. Default: no-op.
func WithWalletMetrics(rec metrics.Recorder) WalletOption {
	return func(w *PolicyWallet) {
		w.rec = rec
	}
}

// NewPolicyWallet creates a wallet enforcing config.
func NewPolicyWallet(config PolicyConfig, opts ...WalletOption) *PolicyWallet {
	w := &PolicyWallet{
		config:       config,
		pending:      make(map[string]chan bool),
		approvalWait: DefaultApprovalWait,
		now:          time.Now,
		log:          logger.NoopLogger{},
		rec:          metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.notifier == nil && config.NotificationWebhook != "" {
		w.notifier = NewHTTPWebhookNotifier(config.NotificationWebhook)
	}
	return w
}

// CanSpend decides whether amount may be spent at merchant. The decision
// order is: allowlist (fail closed), blocklist, trailing 24h cap, approval
// threshold. Amounts above the threshold suspend the caller until Approve or
// Reject resolves the request, or the bounded wait elapses; an elapsed wait
// is a denial reported as ErrCodeApprovalTimeout.
//
// Denials carry a *PaymentError reason; an explicit rejection through Reject
// returns (false, nil).
func (w *PolicyWallet) CanSpend(ctx context.Context, amount decimal.Decimal, merchant string) (bool, error) {
	needsApproval, err := w.checkPolicy(amount, merchant)
	if err != nil {
		return false, err
	}
	if needsApproval {
		return w.requestApproval(ctx, amount, merchant)
	}
	return true, nil
}

// checkPolicy runs the immediate policy gates: allowlist (fail closed),
// blocklist, trailing 24h cap. It never blocks; needsApproval reports whether
// the amount must additionally go through the approval flow.
func (w *PolicyWallet) checkPolicy(amount decimal.Decimal, merchant string) (needsApproval bool, err error) {
	if len(w.config.Allowlist) > 0 && !contains(w.config.Allowlist, merchant) {
		w.log.Debug("merchant not in allowlist", map[string]any{"merchant": merchant})
		return false, NewPaymentError(ErrCodeMerchantNotAllowed, "merchant not in allowlist", map[string]interface{}{
			"merchant": merchant,
		})
	}

	if contains(w.config.Blocklist, merchant) {
		w.log.Debug("merchant is blocked", map[string]any{"merchant": merchant})
		return false, NewPaymentError(ErrCodeMerchantNotAllowed, "merchant is blocked", map[string]interface{}{
			"merchant": merchant,
		})
	}

	w.mu.Lock()
	trailing := w.trailingSpendLocked()
	w.mu.Unlock()

	if trailing.Add(amount).GreaterThan(w.config.DailyCapUSD) {
		w.log.Debug("daily cap exceeded", map[string]any{
			"trailing": trailing.String(),
			"amount":   amount.String(),
			"cap":      w.config.DailyCapUSD.String(),
		})
		return false, w.budgetExceededError(trailing, amount)
	}

	return w.config.RequireApprovalAbove.Sign() > 0 && amount.GreaterThan(w.config.RequireApprovalAbove), nil
}

func (w *PolicyWallet) budgetExceededError(trailing, amount decimal.Decimal) error {
	return NewPaymentError(ErrCodeBudgetExceeded, "daily cap exceeded", map[string]interface{}{
		"trailing": trailing.String(),
		"amount":   amount.String(),
		"dailyCap": w.config.DailyCapUSD.String(),
	})
}

// Spend runs the CanSpend decision and records the attempt. The immediate
// policy gates and the recording run as one serialized step, so interleaved
// spends cannot push the trailing total past the cap. When the amount needs
// approval, the wait happens outside the serialized section — other spenders
// proceed while the requester suspends — and the cap is validated again after
// the approval resolves, since spends approved during the wait may have
// consumed the budget.
func (w *PolicyWallet) Spend(ctx context.Context, amount decimal.Decimal, merchant string) (bool, error) {
	w.spendMu.Lock()
	needsApproval, err := w.checkPolicy(amount, merchant)
	if err != nil || !needsApproval {
		allowed := err == nil
		w.RecordSpending(amount, merchant, allowed)
		w.spendMu.Unlock()
		return allowed, err
	}
	w.spendMu.Unlock()

	approved, err := w.requestApproval(ctx, amount, merchant)
	if err != nil || !approved {
		w.RecordSpending(amount, merchant, false)
		return false, err
	}

	w.spendMu.Lock()
	defer w.spendMu.Unlock()

	w.mu.Lock()
	trailing := w.trailingSpendLocked()
	w.mu.Unlock()

	if trailing.Add(amount).GreaterThan(w.config.DailyCapUSD) {
		w.RecordSpending(amount, merchant, false)
		return false, w.budgetExceededError(trailing, amount)
	}

	w.RecordSpending(amount, merchant, true)
	return true, nil
}

// RecordSpending appends the attempt to the rolling log and, when a webhook
// is configured, notifies it in the background. Webhook failures are logged
// and never surfaced; the payment decision is already made.
func (w *PolicyWallet) RecordSpending(amount decimal.Decimal, merchant string, approved bool) {
	record := SpendingRecord{
		Timestamp: w.now(),
		Amount:    amount,
		Merchant:  merchant,
		Approved:  approved,
	}

	w.mu.Lock()
	w.spending = append(w.spending, record)
	w.mu.Unlock()

	if approved {
		w.rec.IncCounter(metrics.EventSpendApproved, nil)
	} else {
		w.rec.IncCounter(metrics.EventSpendDenied, nil)
	}

	if w.notifier != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			event := PaymentEvent{
				Type:      "payment",
				Amount:    amount,
				Merchant:  merchant,
				Timestamp: record.Timestamp.UnixMilli(),
			}
			if err := w.notifier.Notify(ctx, event); err != nil {
				w.log.Warn("webhook notification failed", map[string]any{
					"merchant": merchant,
					"error":    err.Error(),
				})
			}
		}()
	}
}

// GetRemainingBudget returns max(0, dailyCap - trailing 24h approved spend).
func (w *PolicyWallet) GetRemainingBudget() decimal.Decimal {
	w.mu.Lock()
	defer w.mu.Unlock()

	remaining := w.config.DailyCapUSD.Sub(w.trailingSpendLocked())
	if remaining.Sign() < 0 {
		return decimal.Zero
	}
	return remaining
}

// GetSpendingHistory returns a copy of the rolling spend log.
func (w *PolicyWallet) GetSpendingHistory() []SpendingRecord {
	w.mu.Lock()
	defer w.mu.Unlock()

	history := make([]SpendingRecord, len(w.spending))
	copy(history, w.spending)
	return history
}

// PendingApprovals lists the ids of approval requests currently waiting.
func (w *PolicyWallet) PendingApprovals() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	ids := make([]string, 0, len(w.pending))
	for id := range w.pending {
		ids = append(ids, id)
	}
	return ids
}

// Approve resolves a pending approval request affirmatively.
func (w *PolicyWallet) Approve(approvalID string) {
	w.resolve(approvalID, true)
}

// Reject resolves a pending approval request negatively.
func (w *PolicyWallet) Reject(approvalID string) {
	w.resolve(approvalID, false)
}

func (w *PolicyWallet) resolve(approvalID string, approved bool) {
	w.mu.Lock()
	ch, ok := w.pending[approvalID]
	if ok {
		delete(w.pending, approvalID)
	}
	w.mu.Unlock()

	if ok {
		ch <- approved
	}
}

// requestApproval suspends the calling goroutine until the request is
// resolved, the wait window elapses, or ctx is cancelled. Only the requester
// blocks; other wallet operations proceed.
func (w *PolicyWallet) requestApproval(ctx context.Context, amount decimal.Decimal, merchant string) (bool, error) {
	approvalID := fmt.Sprintf("%d-%s", w.now().UnixNano(), merchant)
	ch := make(chan bool, 1)

	w.mu.Lock()
	w.pending[approvalID] = ch
	w.mu.Unlock()

	w.log.Info("approval required", map[string]any{
		"approvalId": approvalID,
		"amount":     amount.String(),
		"merchant":   merchant,
	})

	timer := time.NewTimer(w.approvalWait)
	defer timer.Stop()

	select {
	case approved := <-ch:
		return approved, nil
	case <-timer.C:
	case <-ctx.Done():
	}

	// Timed out or cancelled: withdraw the request. A concurrent Approve may
	// have already popped it; its buffered send is then simply dropped.
	w.mu.Lock()
	delete(w.pending, approvalID)
	w.mu.Unlock()

	return false, NewPaymentError(ErrCodeApprovalTimeout, "approval not received in time", map[string]interface{}{
		"approvalId": approvalID,
		"merchant":   merchant,
	})
}

func (w *PolicyWallet) trailingSpendLocked() decimal.Decimal {
	cutoff := w.now().Add(-spendingWindow)
	total := decimal.Zero
	for _, record := range w.spending {
		if record.Approved && record.Timestamp.After(cutoff) {
			total = total.Add(record.Amount)
		}
	}
	return total
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}

package x608

import (
	"encoding/json"
	"math"
	"sync"
	"time"
)

// TrustLevel is a coarse reputation tier derived from a merchant's history.
type TrustLevel string

const (
	TrustUnknown TrustLevel = "unknown"
	TrustHigh    TrustLevel = "high"
	TrustMedium  TrustLevel = "medium"
	TrustLow     TrustLevel = "low"
)

// minScoredTransactions is the history size below which a merchant's trust
// level stays unknown regardless of outcomes.
const minScoredTransactions = 10

// ReputationScore aggregates a merchant's transaction outcomes.
type ReputationScore struct {
	MerchantAddress        string    `json:"merchantAddress"`
	TotalTransactions      int       `json:"totalTransactions"`
	SuccessfulTransactions int       `json:"successfulTransactions"`
	RefundCount            int       `json:"refundCount"`
	AverageResponseMs      int64     `json:"averageResponseMs"`
	UptimePercent          float64   `json:"uptimePercent"`
	LastUpdated            time.Time `json:"lastUpdated"`
}

type transactionRecord struct {
	merchant   string
	success    bool
	refunded   bool
	responseMs int64
	timestamp  time.Time
}

// ReputationTracker records per-merchant transaction outcomes and derives
// trust scores from them. Scores are recomputed from the full history on each
// new transaction; the history is assumed bounded for this core, and a
// production store would maintain running aggregates instead.
type ReputationTracker struct {
	mu           sync.Mutex
	scores       map[string]ReputationScore
	transactions []transactionRecord
	now          func() time.Time
}

// TrackerOption configures a ReputationTracker.
type TrackerOption func(*ReputationTracker)

// WithTrackerClock overrides the time source. Intended for tests.
func WithTrackerClock(now func() time.Time) TrackerOption {
	return func(t *ReputationTracker) {
		t.now = now
	}
}

// NewReputationTracker creates an empty tracker.
func NewReputationTracker(opts ...TrackerOption) *ReputationTracker {
	t := &ReputationTracker{
		scores: make(map[string]ReputationScore),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RecordTransaction appends one outcome to the history and recomputes the
// merchant's score.
func (t *ReputationTracker) RecordTransaction(merchant string, success bool, responseTimeMs int64, refunded bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.transactions = append(t.transactions, transactionRecord{
		merchant:   merchant,
		success:    success,
		refunded:   refunded,
		responseMs: responseTimeMs,
		timestamp:  t.now(),
	})

	t.updateScoreLocked(merchant)
}

func (t *ReputationTracker) updateScoreLocked(merchant string) {
	var (
		total      int
		successes  int
		refunds    int
		responseMs int64
	)
	for _, tx := range t.transactions {
		if tx.merchant != merchant {
			continue
		}
		total++
		if tx.success {
			successes++
		}
		if tx.refunded {
			refunds++
		}
		responseMs += tx.responseMs
	}

	if total == 0 {
		return
	}

	uptime := float64(successes) / float64(total) * 100

	t.scores[merchant] = ReputationScore{
		MerchantAddress:        merchant,
		TotalTransactions:      total,
		SuccessfulTransactions: successes,
		RefundCount:            refunds,
		AverageResponseMs:      int64(math.Round(float64(responseMs) / float64(total))),
		UptimePercent:          math.Round(uptime*100) / 100,
		LastUpdated:            t.now(),
	}
}

// GetScore returns the current score for merchant.
func (t *ReputationTracker) GetScore(merchant string) (ReputationScore, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	score, ok := t.scores[merchant]
	return score, ok
}

// GetAllScores returns the scores of every merchant seen so far.
func (t *ReputationTracker) GetAllScores() []ReputationScore {
	t.mu.Lock()
	defer t.mu.Unlock()

	scores := make([]ReputationScore, 0, len(t.scores))
	for _, score := range t.scores {
		scores = append(scores, score)
	}
	return scores
}

// GetTrustLevel derives the merchant's trust tier:
//
//	unknown  below 10 recorded transactions
//	high     uptime >= 99% and refund rate < 1%
//	medium   uptime >= 95% and refund rate < 5%
//	low      everything else
//
// Boundaries are exact: a merchant at 95.0% uptime with exactly a 5% refund
// rate is low, not medium.
func (t *ReputationTracker) GetTrustLevel(merchant string) TrustLevel {
	score, ok := t.GetScore(merchant)
	if !ok || score.TotalTransactions < minScoredTransactions {
		return TrustUnknown
	}

	refundRate := float64(score.RefundCount) / float64(score.TotalTransactions)

	if score.UptimePercent >= 99 && refundRate < 0.01 {
		return TrustHigh
	}
	if score.UptimePercent >= 95 && refundRate < 0.05 {
		return TrustMedium
	}
	return TrustLow
}

// ExportScores serializes all scores as indented JSON.
func (t *ReputationTracker) ExportScores() ([]byte, error) {
	return json.MarshalIndent(t.GetAllScores(), "", "  ")
}

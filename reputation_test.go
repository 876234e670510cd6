package x608

import (
	"encoding/json"
	"sync"
	"testing"
)

func recordN(tracker *ReputationTracker, merchant string, n int, success, refunded bool) {
	for i := 0; i < n; i++ {
		tracker.RecordTransaction(merchant, success, 100, refunded)
	}
}

func TestReputationTracker_Score(t *testing.T) {
	tracker := NewReputationTracker()

	tracker.RecordTransaction("0xm", true, 100, false)
	tracker.RecordTransaction("0xm", true, 200, false)
	tracker.RecordTransaction("0xm", false, 300, false)

	score, ok := tracker.GetScore("0xm")
	if !ok {
		t.Fatal("Expected score")
	}
	if score.TotalTransactions != 3 {
		t.Errorf("Expected 3 transactions, got %d", score.TotalTransactions)
	}
	if score.SuccessfulTransactions != 2 {
		t.Errorf("Expected 2 successes, got %d", score.SuccessfulTransactions)
	}
	if score.AverageResponseMs != 200 {
		t.Errorf("Expected mean response 200ms, got %d", score.AverageResponseMs)
	}
	// 2/3 = 66.666..., rounded to 2 decimals
	if score.UptimePercent != 66.67 {
		t.Errorf("Expected uptime 66.67, got %v", score.UptimePercent)
	}
}

func TestReputationTracker_UnknownMerchant(t *testing.T) {
	tracker := NewReputationTracker()

	if _, ok := tracker.GetScore("0xnobody"); ok {
		t.Error("Expected no score for unseen merchant")
	}
	if level := tracker.GetTrustLevel("0xnobody"); level != TrustUnknown {
		t.Errorf("Expected unknown, got %s", level)
	}
}

func TestReputationTracker_TrustLevelBoundaries(t *testing.T) {
	// 10 transactions, 100% uptime, 0 refunds: high
	tracker := NewReputationTracker()
	recordN(tracker, "0xperfect", 10, true, false)
	if level := tracker.GetTrustLevel("0xperfect"); level != TrustHigh {
		t.Errorf("Expected high, got %s", level)
	}

	// 9 transactions stays unknown regardless of outcomes
	tracker = NewReputationTracker()
	recordN(tracker, "0xnew", 9, true, false)
	if level := tracker.GetTrustLevel("0xnew"); level != TrustUnknown {
		t.Errorf("Expected unknown below 10 transactions, got %s", level)
	}
}

func TestReputationTracker_TrustLevelExactBoundary(t *testing.T) {
	// 100 transactions: 95 successes (95.0% uptime), 5 refunds (5% rate)
	tracker := NewReputationTracker()
	recordN(tracker, "0xedge", 95, true, false)
	recordN(tracker, "0xedge", 5, false, true)

	score, _ := tracker.GetScore("0xedge")
	if score.UptimePercent != 95.0 {
		t.Fatalf("Expected 95.0 uptime, got %v", score.UptimePercent)
	}
	if score.RefundCount != 5 {
		t.Fatalf("Expected 5 refunds, got %d", score.RefundCount)
	}

	if level := tracker.GetTrustLevel("0xedge"); level != TrustLow {
		t.Errorf("Expected low at the excluded boundary, got %s", level)
	}
}

func TestReputationTracker_MediumTier(t *testing.T) {
	// 100 transactions: 97 successes, 2 refunds: medium
	tracker := NewReputationTracker()
	recordN(tracker, "0xok", 97, true, false)
	recordN(tracker, "0xok", 1, false, false)
	recordN(tracker, "0xok", 2, false, true)

	if level := tracker.GetTrustLevel("0xok"); level != TrustMedium {
		t.Errorf("Expected medium, got %s", level)
	}
}

func TestReputationTracker_RefundRateBlocksHigh(t *testing.T) {
	// Perfect uptime but a 2% refund rate caps the tier at medium
	tracker := NewReputationTracker()
	recordN(tracker, "0xrefundy", 98, true, false)
	recordN(tracker, "0xrefundy", 2, true, true)

	if level := tracker.GetTrustLevel("0xrefundy"); level != TrustMedium {
		t.Errorf("Expected medium, got %s", level)
	}
}

func TestReputationTracker_ExportScores(t *testing.T) {
	tracker := NewReputationTracker()
	recordN(tracker, "0xa", 3, true, false)
	recordN(tracker, "0xb", 2, false, false)

	data, err := tracker.ExportScores()
	if err != nil {
		t.Fatalf("ExportScores failed: %v", err)
	}

	var scores []ReputationScore
	if err := json.Unmarshal(data, &scores); err != nil {
		t.Fatalf("Export is not valid JSON: %v", err)
	}
	if len(scores) != 2 {
		t.Errorf("Expected 2 scores, got %d", len(scores))
	}
}

func TestReputationTracker_ConcurrentRecording(t *testing.T) {
	tracker := NewReputationTracker()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				tracker.RecordTransaction("0xshared", true, 100, false)
			}
		}()
	}
	wg.Wait()

	score, _ := tracker.GetScore("0xshared")
	if score.TotalTransactions != 200 {
		t.Errorf("Expected 200 transactions, got %d", score.TotalTransactions)
	}
	if level := tracker.GetTrustLevel("0xshared"); level != TrustHigh {
		t.Errorf("Expected high, got %s", level)
	}
}

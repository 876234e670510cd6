package x608

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func testPayment(key string) Payment {
	return Payment{
		ChallengeID:    "x608_abc",
		IdempotencyKey: key,
		TxHash:         "0x123",
		FromAddress:    "0xpayer",
		Amount:         "0.05",
		Route:          "base:USDC",
		Timestamp:      time.Now(),
	}
}

func TestIdempotencyCache_RecordAndGet(t *testing.T) {
	cache := NewIdempotencyCache()
	defer cache.Close()

	payment := testPayment("ik_1")
	cache.RecordPayment("ik_1", payment)

	got, ok := cache.GetPayment("ik_1")
	if !ok {
		t.Fatal("Expected payment for recorded key")
	}
	if got.TxHash != "0x123" {
		t.Errorf("Expected tx 0x123, got %s", got.TxHash)
	}

	// Repeated lookups within the TTL return the identical payment
	for i := 0; i < 3; i++ {
		again, ok := cache.GetPayment("ik_1")
		if !ok || again != got {
			t.Fatalf("Expected identical payment on lookup %d", i)
		}
	}

	if !cache.HasPayment("ik_1") {
		t.Error("Expected HasPayment true for recorded key")
	}
	if cache.HasPayment("ik_missing") {
		t.Error("Expected HasPayment false for unknown key")
	}
}

func TestIdempotencyCache_Expiry(t *testing.T) {
	cache := NewIdempotencyCache(WithTTL(50 * time.Millisecond))
	defer cache.Close()

	cache.RecordPayment("ik_exp", testPayment("ik_exp"))

	if !cache.HasPayment("ik_exp") {
		t.Fatal("Expected payment before expiry")
	}

	time.Sleep(60 * time.Millisecond)

	if _, ok := cache.GetPayment("ik_exp"); ok {
		t.Error("Expected payment to expire")
	}
	// Lazy eviction removed the record
	if cache.Len() != 0 {
		t.Errorf("Expected expired record to be evicted, %d left", cache.Len())
	}
}

func TestIdempotencyCache_BackgroundSweep(t *testing.T) {
	cache := NewIdempotencyCache(
		WithTTL(20*time.Millisecond),
		WithSweepInterval(30*time.Millisecond),
	)
	defer cache.Close()

	for i := 0; i < 5; i++ {
		key := fmt.Sprintf("ik_%d", i)
		cache.RecordPayment(key, testPayment(key))
	}

	// The sweep evicts expired entries without any lookups touching them
	time.Sleep(80 * time.Millisecond)

	if cache.Len() != 0 {
		t.Errorf("Expected sweep to evict all expired records, %d left", cache.Len())
	}
}

func TestIdempotencyCache_ReRecordSameKey(t *testing.T) {
	cache := NewIdempotencyCache()
	defer cache.Close()

	payment := testPayment("ik_retry")
	cache.RecordPayment("ik_retry", payment)
	// Safe-retry semantics: re-recording the same key is harmless
	cache.RecordPayment("ik_retry", payment)

	got, ok := cache.GetPayment("ik_retry")
	if !ok || got != payment {
		t.Error("Expected the payment to survive a re-record")
	}
	if cache.Len() != 1 {
		t.Errorf("Expected a single record, got %d", cache.Len())
	}
}

func TestIdempotencyCache_Clear(t *testing.T) {
	cache := NewIdempotencyCache()
	defer cache.Close()

	cache.RecordPayment("ik_a", testPayment("ik_a"))
	cache.RecordPayment("ik_b", testPayment("ik_b"))
	cache.Clear()

	if cache.Len() != 0 {
		t.Errorf("Expected empty cache after Clear, got %d", cache.Len())
	}
}

func TestIdempotencyCache_ConcurrentAccess(t *testing.T) {
	cache := NewIdempotencyCache(WithSweepInterval(time.Millisecond))
	defer cache.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := fmt.Sprintf("ik_%d", n%5)
			for j := 0; j < 100; j++ {
				cache.RecordPayment(key, testPayment(key))
				cache.GetPayment(key)
				cache.HasPayment(key)
			}
		}(i)
	}
	wg.Wait()

	// All 5 distinct keys resolve after the storm
	for i := 0; i < 5; i++ {
		key := fmt.Sprintf("ik_%d", i)
		if !cache.HasPayment(key) {
			t.Errorf("Expected payment for %s", key)
		}
	}
}

func TestIdempotencyCache_SameKeySameResult(t *testing.T) {
	cache := NewIdempotencyCache()
	defer cache.Close()

	payment := testPayment("ik_stable")
	cache.RecordPayment("ik_stable", payment)

	var wg sync.WaitGroup
	results := make([]Payment, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			results[idx], _ = cache.GetPayment("ik_stable")
		}(i)
	}
	wg.Wait()

	for i, got := range results {
		if got != payment {
			t.Errorf("Reader %d observed a divergent payment", i)
		}
	}
}

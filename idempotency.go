package x608

import (
	"sync"
	"time"
)

// DefaultIdempotencyTTL is how long a recorded payment deduplicates retries.
const DefaultIdempotencyTTL = time.Hour

// DefaultSweepInterval is how often the background sweep evicts expired
// records independent of lookups.
const DefaultSweepInterval = 5 * time.Minute

// IdempotencyRecord associates an idempotency key with the payment that
// settled under it.
type IdempotencyRecord struct {
	Key       string    `json:"key"`
	Payment   Payment   `json:"payment"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// IdempotencyCache deduplicates payments by idempotency key. A recorded key
// resolves to the same payment for the full TTL window; expired entries are
// evicted lazily on lookup and eagerly by a background sweep.
//
// RecordPayment inserts unconditionally. Callers implementing safe-retry
// semantics check HasPayment first; re-recording the same key with the same
// payment is harmless.
type IdempotencyCache struct {
	mu      sync.Mutex
	records map[string]IdempotencyRecord

	ttl   time.Duration
	sweep time.Duration
	now   func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// CacheOption configures an IdempotencyCache.
type CacheOption func(*IdempotencyCache)

// WithTTL sets how long recorded payments deduplicate retries.
// Default: one hour.
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *IdempotencyCache) {
		c.ttl = ttl
	}
}

// WithSweepInterval sets the background eviction cadence. Default: 5 minutes.
func WithSweepInterval(d time.Duration) CacheOption {
	return func(c *IdempotencyCache) {
		c.sweep = d
	}
}

// WithCacheClock overrides the time source. Intended for tests.
func WithCacheClock(now func() time.Time) CacheOption {
	return func(c *IdempotencyCache) {
		c.now = now
	}
}

// NewIdempotencyCache creates a cache and starts its background sweep.
// Call Close to stop the sweeper when the cache is no longer needed.
func NewIdempotencyCache(opts ...CacheOption) *IdempotencyCache {
	c := &IdempotencyCache{
		records: make(map[string]IdempotencyRecord),
		ttl:     DefaultIdempotencyTTL,
		sweep:   DefaultSweepInterval,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	go c.sweepLoop()

	return c
}

// RecordPayment associates key with payment for the TTL window. The insert is
// unconditional: a caller that wants collision detection checks HasPayment
// before recording.
func (c *IdempotencyCache) RecordPayment(key string, payment Payment) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.records[key] = IdempotencyRecord{
		Key:       key,
		Payment:   payment,
		CreatedAt: now,
		ExpiresAt: now.Add(c.ttl),
	}
}

// GetPayment returns the payment recorded under key, if present and
// unexpired. Expired entries are evicted on the way out.
func (c *IdempotencyCache) GetPayment(key string) (Payment, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	record, exists := c.records[key]
	if !exists {
		return Payment{}, false
	}

	if c.now().After(record.ExpiresAt) {
		delete(c.records, key)
		return Payment{}, false
	}

	return record.Payment, true
}

// HasPayment reports whether an unexpired payment exists for key.
func (c *IdempotencyCache) HasPayment(key string) bool {
	_, ok := c.GetPayment(key)
	return ok
}

// Clear removes all records regardless of expiry.
func (c *IdempotencyCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = make(map[string]IdempotencyRecord)
}

// Len returns the number of records currently held, expired or not.
func (c *IdempotencyCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

// Close stops the background sweep. The cache remains usable; only eager
// eviction stops.
func (c *IdempotencyCache) Close() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

func (c *IdempotencyCache) sweepLoop() {
	ticker := time.NewTicker(c.sweep)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.evictExpired()
		case <-c.stop:
			return
		}
	}
}

func (c *IdempotencyCache) evictExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, record := range c.records {
		if now.After(record.ExpiresAt) {
			delete(c.records, key)
		}
	}
}

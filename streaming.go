package x608

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/x608-foundation/x608/go/metrics"
)

// UsageResult reports the outcome of one RecordUsage call.
type UsageResult struct {
	// Allowed is false when the charge would exceed the budget cap or the
	// session is already inactive. Nothing is charged on a disallowed call.
	Allowed bool `json:"allowed"`
	// Cost is the incremental cost committed by this call; zero when not
	// allowed.
	Cost decimal.Decimal `json:"cost"`
	// Remaining is the budget left after this call. It may be zero.
	Remaining decimal.Decimal `json:"remaining"`
}

// Usage is a point-in-time snapshot of a session's consumption.
type Usage struct {
	Units     int64           `json:"units"`
	Cost      decimal.Decimal `json:"cost"`
	Remaining decimal.Decimal `json:"remaining"`
}

// StreamSession tracks metered usage and running cost against a budget cap.
// The budget check and the commit happen as one atomic step, so the invariant
// cumulative cost <= budget cap holds under concurrent RecordUsage calls.
// A session that rejects a charge is permanently inactive.
type StreamSession struct {
	ID     string
	Config StreamConfig

	mu     sync.Mutex
	units  int64
	cost   decimal.Decimal
	active bool
	rec    metrics.Recorder
}

// RecordUsage charges units * ratePerUnit against the remaining budget.
// If the charge fits, it is committed and the call reports the incremental
// cost and new remaining budget. If it would push the cumulative cost over
// the cap, nothing is charged, the session is deactivated for good, and the
// call reports the untouched remaining budget.
func (s *StreamSession) RecordUsage(units int64) UsageResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		s.rec.IncCounter(metrics.EventStreamRejected, nil)
		return UsageResult{Allowed: false, Cost: decimal.Zero, Remaining: s.remainingLocked()}
	}

	cost := s.Config.RatePerUnit.Mul(decimal.NewFromInt(units))
	newTotal := s.cost.Add(cost)

	if newTotal.GreaterThan(s.Config.BudgetCap) {
		s.active = false
		s.rec.IncCounter(metrics.EventStreamRejected, nil)
		return UsageResult{Allowed: false, Cost: decimal.Zero, Remaining: s.remainingLocked()}
	}

	s.units += units
	s.cost = newTotal

	return UsageResult{Allowed: true, Cost: cost, Remaining: s.remainingLocked()}
}

// GetUsage returns a snapshot of cumulative units, cost, and remaining budget.
func (s *StreamSession) GetUsage() Usage {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Usage{
		Units:     s.units,
		Cost:      s.cost,
		Remaining: s.remainingLocked(),
	}
}

// IsActive reports whether the session can still accept usage.
func (s *StreamSession) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Close permanently deactivates the session.
func (s *StreamSession) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
}

func (s *StreamSession) remainingLocked() decimal.Decimal {
	remaining := s.Config.BudgetCap.Sub(s.cost)
	if remaining.Sign() < 0 {
		return decimal.Zero
	}
	return remaining
}

// StreamingMeter manages the streaming sessions of a process. One session
// exists per streaming interaction.
type StreamingMeter struct {
	mu       sync.RWMutex
	sessions map[string]*StreamSession
	rec      metrics.Recorder
}

// MeterOption configures a StreamingMeter.
type MeterOption func(*StreamingMeter)

// WithMeterMetrics sets the recorder sessions report rejected charges to.
// Default: no-op.
func WithMeterMetrics(rec metrics.Recorder) MeterOption {
	return func(m *StreamingMeter) {
		m.rec = rec
	}
}

// NewStreamingMeter creates an empty meter.
func NewStreamingMeter(opts ...MeterOption) *StreamingMeter {
	m := &StreamingMeter{
		sessions: make(map[string]*StreamSession),
		rec:      metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateSession registers a new active session with zero usage. Creating a
// session under an id that already exists replaces the old session.
func (m *StreamingMeter) CreateSession(id string, config StreamConfig) *StreamSession {
	session := &StreamSession{
		ID:     id,
		Config: config,
		cost:   decimal.Zero,
		active: true,
		rec:    m.rec,
	}

	m.mu.Lock()
	m.sessions[id] = session
	m.mu.Unlock()

	return session
}

// GetSession returns the session registered under id.
func (m *StreamingMeter) GetSession(id string) (*StreamSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[id]
	return session, ok
}

// CloseSession deactivates and forgets the session under id.
func (m *StreamingMeter) CloseSession(id string) {
	m.mu.Lock()
	session, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if ok {
		session.Close()
	}
}

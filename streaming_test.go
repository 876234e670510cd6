package x608

import (
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x608-foundation/x608/go/metrics"
)

func kbStreamConfig() StreamConfig {
	return StreamConfig{
		Unit:        UnitKB,
		RatePerUnit: decimal.RequireFromString("0.001"),
		BudgetCap:   decimal.RequireFromString("1.0"),
	}
}

func TestStreamSession_UsageSequence(t *testing.T) {
	meter := NewStreamingMeter()
	session := meter.CreateSession("sess-1", kbStreamConfig())

	// 100 KB at 0.001/KB = 0.1, remaining 0.9
	result := session.RecordUsage(100)
	require.True(t, result.Allowed)
	assert.Equal(t, "0.1", result.Cost.String())
	assert.Equal(t, "0.9", result.Remaining.String())

	// 250 KB = 0.25, remaining 0.65
	result = session.RecordUsage(250)
	require.True(t, result.Allowed)
	assert.Equal(t, "0.25", result.Cost.String())
	assert.Equal(t, "0.65", result.Remaining.String())

	// 500 KB = 0.5, remaining 0.15
	result = session.RecordUsage(500)
	require.True(t, result.Allowed)
	assert.Equal(t, "0.5", result.Cost.String())
	assert.Equal(t, "0.15", result.Remaining.String())

	// 300 KB would cost 0.3 and total 1.15 > 1.0: rejected, nothing charged
	result = session.RecordUsage(300)
	require.False(t, result.Allowed)
	assert.True(t, result.Cost.IsZero())
	assert.Equal(t, "0.15", result.Remaining.String())

	usage := session.GetUsage()
	assert.Equal(t, int64(850), usage.Units)
	assert.Equal(t, "0.85", usage.Cost.String())
}

func TestStreamSession_InactiveStaysInactive(t *testing.T) {
	meter := NewStreamingMeter()
	session := meter.CreateSession("sess-1", kbStreamConfig())

	session.RecordUsage(900)
	rejected := session.RecordUsage(200)
	require.False(t, rejected.Allowed)

	// Even a charge that would have fit is rejected once the session tripped
	result := session.RecordUsage(1)
	assert.False(t, result.Allowed)
	assert.False(t, session.IsActive())
}

func TestStreamSession_ExactBudgetAllowed(t *testing.T) {
	meter := NewStreamingMeter()
	session := meter.CreateSession("sess-1", kbStreamConfig())

	// Exactly the cap is allowed; remaining may be zero
	result := session.RecordUsage(1000)
	require.True(t, result.Allowed)
	assert.True(t, result.Remaining.IsZero())

	// The next unit tips over the cap
	result = session.RecordUsage(1)
	assert.False(t, result.Allowed)
}

func TestStreamSession_Close(t *testing.T) {
	meter := NewStreamingMeter()
	session := meter.CreateSession("sess-1", kbStreamConfig())

	session.Close()

	result := session.RecordUsage(10)
	assert.False(t, result.Allowed)
	assert.False(t, session.IsActive())
}

func TestStreamingMeter_Sessions(t *testing.T) {
	meter := NewStreamingMeter()
	meter.CreateSession("sess-1", kbStreamConfig())

	session, ok := meter.GetSession("sess-1")
	require.True(t, ok)
	assert.Equal(t, "sess-1", session.ID)

	_, ok = meter.GetSession("missing")
	assert.False(t, ok)

	meter.CloseSession("sess-1")
	_, ok = meter.GetSession("sess-1")
	assert.False(t, ok)
	assert.False(t, session.IsActive())
}

func TestStreamSession_RecordsRejectionMetric(t *testing.T) {
	rec := newCaptureRecorder()
	meter := NewStreamingMeter(WithMeterMetrics(rec))
	session := meter.CreateSession("sess-1", kbStreamConfig())

	session.RecordUsage(900)
	session.RecordUsage(200)
	session.RecordUsage(1)

	// The tripping charge and the inactive retry are both rejections
	assert.Equal(t, 2, rec.count(metrics.EventStreamRejected))
}

func TestStreamSession_BudgetInvariantUnderConcurrency(t *testing.T) {
	meter := NewStreamingMeter()
	session := meter.CreateSession("sess-1", kbStreamConfig())

	// 50 goroutines each trying 100 KB (0.1 each): at most 10 can fit
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			session.RecordUsage(100)
		}()
	}
	wg.Wait()

	usage := session.GetUsage()
	assert.True(t, usage.Cost.LessThanOrEqual(session.Config.BudgetCap),
		"cumulative cost %s exceeds cap %s", usage.Cost, session.Config.BudgetCap)
}

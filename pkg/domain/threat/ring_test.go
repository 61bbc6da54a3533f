package threat_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axiestudio/aichatbot-sub000/pkg/domain/threat"
	"github.com/axiestudio/aichatbot-sub000/pkg/types"
)

func eventAt(id int, level types.ThreatLevel, ts time.Time) threat.Event {
	return threat.Event{
		ID:          fmt.Sprintf("evt-%03d", id),
		Timestamp:   ts,
		Identity:    "alice",
		ThreatLevel: level,
	}
}

func TestRecentReturnsNewestFirst(t *testing.T) {
	ring := threat.NewRing(8)
	base := time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		ring.Append(eventAt(i, types.ThreatLevelLow, base.Add(time.Duration(i)*time.Second)))
	}

	recent := ring.Recent(3)
	require.Len(t, recent, 3)
	assert.Equal(t, "evt-004", recent[0].ID)
	assert.Equal(t, "evt-003", recent[1].ID)
	assert.Equal(t, "evt-002", recent[2].ID)

	assert.Len(t, ring.Recent(0), 5, "n<=0 returns everything retained")
}

func TestAppendEvictsOldestAtCapacity(t *testing.T) {
	ring := threat.NewRing(3)
	base := time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		ring.Append(eventAt(i, types.ThreatLevelLow, base.Add(time.Duration(i)*time.Second)))
	}

	require.Equal(t, 3, ring.Len())
	recent := ring.Recent(0)
	require.Len(t, recent, 3)
	assert.Equal(t, "evt-004", recent[0].ID)
	assert.Equal(t, "evt-002", recent[2].ID, "evt-000 and evt-001 evicted")
}

func TestSummarizeCountsByLevelInsideWindow(t *testing.T) {
	ring := threat.NewRing(16)
	now := time.Date(2025, 3, 3, 12, 0, 0, 0, time.UTC)

	ring.Append(eventAt(0, types.ThreatLevelLow, now.Add(-2*time.Hour)))
	ring.Append(eventAt(1, types.ThreatLevelMedium, now.Add(-30*time.Minute)))
	ring.Append(eventAt(2, types.ThreatLevelHigh, now.Add(-10*time.Minute)))
	ring.Append(eventAt(3, types.ThreatLevelHigh, now.Add(-5*time.Minute)))
	ring.Append(eventAt(4, types.ThreatLevelCritical, now.Add(-time.Minute)))

	summary := ring.Summarize(time.Hour, now)
	assert.Equal(t, 4, summary.Total, "two-hour-old event excluded")
	assert.Equal(t, 0, summary.Levels[types.ThreatLevelLow])
	assert.Equal(t, 1, summary.Levels[types.ThreatLevelMedium])
	assert.Equal(t, 2, summary.Levels[types.ThreatLevelHigh])
	assert.Equal(t, 1, summary.Levels[types.ThreatLevelCritical])
}

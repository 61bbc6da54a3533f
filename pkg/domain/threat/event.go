package threat

import (
	"time"

	"github.com/axiestudio/aichatbot-sub000/pkg/types"
)

// Event is one scored request and the automated response it triggered.
// Immutable after creation: the action list is fixed at write time from
// the threat level, never re-derived from state that may have moved on.
type Event struct {
	ID            string                 `json:"id"`
	Timestamp     time.Time              `json:"timestamp"`
	Identity      string                 `json:"identity"`
	SourceAddress string                 `json:"source_address"`
	UserAgent     string                 `json:"user_agent"`
	Endpoint      string                 `json:"endpoint"`
	RiskScore     float64                `json:"risk_score"`
	ThreatLevel   types.ThreatLevel      `json:"threat_level"`
	Signatures    []string               `json:"signatures,omitempty"`
	Actions       []types.ResponseAction `json:"actions"`
	Decision      types.Action           `json:"decision"`
}

// Summary aggregates recent events by threat level for the ops surface.
type Summary struct {
	Window time.Duration             `json:"window"`
	Total  int                       `json:"total"`
	Levels map[types.ThreatLevel]int `json:"levels"`
}

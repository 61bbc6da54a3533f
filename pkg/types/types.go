package types

import (
	"time"
)

// ThreatLevel classifies a risk score into one of four ordered bands.
type ThreatLevel string

const (
	ThreatLevelLow      ThreatLevel = "low"
	ThreatLevelMedium   ThreatLevel = "medium"
	ThreatLevelHigh     ThreatLevel = "high"
	ThreatLevelCritical ThreatLevel = "critical"
)

// Rank orders levels so callers can compare severities.
func (l ThreatLevel) Rank() int {
	switch l {
	case ThreatLevelLow:
		return 0
	case ThreatLevelMedium:
		return 1
	case ThreatLevelHigh:
		return 2
	case ThreatLevelCritical:
		return 3
	default:
		return -1
	}
}

// Action is the verdict the engine hands back to the calling layer.
type Action string

const (
	ActionAllow      Action = "allow"
	ActionChallenge  Action = "challenge"
	ActionBlock      Action = "block"
	ActionQuarantine Action = "quarantine"
)

// ResponseAction is one step of the automated response triggered by a
// threat level. The calling layer never sees these directly; they drive
// side effects inside the engine.
type ResponseAction string

const (
	ResponseActionLog       ResponseAction = "log"
	ResponseActionMonitor   ResponseAction = "monitor"
	ResponseActionRateLimit ResponseAction = "rate_limit"
	ResponseActionBlock     ResponseAction = "block"
	ResponseActionAlert     ResponseAction = "alert"
)

// RequestRecord is the inbound contract from the HTTP layer: one request
// described as plain data. Every field may be empty; downstream stages
// treat missing values as zero instead of failing.
type RequestRecord struct {
	Method        string              `json:"method"`
	Path          string              `json:"path"`
	Query         map[string][]string `json:"query,omitempty"`
	Headers       map[string][]string `json:"headers,omitempty"`
	Body          []byte              `json:"body,omitempty"`
	SourceAddress string              `json:"source_address"`
	UserAgent     string              `json:"user_agent"`
	Identity      string              `json:"identity,omitempty"`
	Timestamp     time.Time           `json:"timestamp"`

	// Signals from the previous response for this identity, when the
	// caller has them. Used for retrospective error-rate scoring.
	PriorStatus  int           `json:"prior_status,omitempty"`
	PriorLatency time.Duration `json:"prior_latency,omitempty"`
}

// EffectiveIdentity returns the resolved identity, falling back to the
// source address when authentication did not supply one.
func (r *RequestRecord) EffectiveIdentity() string {
	if r.Identity != "" {
		return r.Identity
	}
	return r.SourceAddress
}

// Decision is what the engine returns for one request. The calling layer
// translates it into a response (403 for block, 429 plus Retry-After for a
// rate-limited block, a challenge response for challenge).
type Decision struct {
	Action            Action      `json:"action"`
	RiskScore         float64     `json:"risk_score"`
	ThreatLevel       ThreatLevel `json:"threat_level"`
	RetryAfterSeconds int         `json:"retry_after_seconds,omitempty"`
	Reasons           []string    `json:"reasons,omitempty"`
}

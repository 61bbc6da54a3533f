package scoring

import (
	"fmt"
	"sync"

	"github.com/axiestudio/aichatbot-sub000/pkg/config"
	"github.com/axiestudio/aichatbot-sub000/pkg/features"
	"github.com/axiestudio/aichatbot-sub000/pkg/signatures"
	"github.com/axiestudio/aichatbot-sub000/pkg/types"
)

// Saturation points for the open-ended signals. A signal at or past its
// saturation contributes the full 100 before weighting.
const (
	frequencySaturation = 120.0 // requests per minute
	entropySaturation   = 8.0   // bits per character
	diversitySaturation = 20.0  // distinct endpoints
)

// structureBonus is the flat pre-clamp addition for a request whose
// path/query shape tripped the structural rules, well below the
// signature bonus since shape alone is weak evidence.
const structureBonus = 10.0

// GeoSignalProvider rates the geographic/velocity anomaly of a request,
// in [0,1]. The engine ships with the no-op default; a real geo-IP
// implementation slots in without touching the scoring engine.
type GeoSignalProvider interface {
	Velocity(identity, sourceAddress string) float64
}

// NoopGeo is the default GeoSignalProvider: no geo data, no signal.
type NoopGeo struct{}

func (NoopGeo) Velocity(string, string) float64 { return 0 }

// Signals are the per-identity inputs gathered around the pure feature
// set: activity counters, the behavioral anomaly, the fingerprint
// verdicts and the geo signal. All zero values are safe defaults.
type Signals struct {
	// RequestsPerMinute is the identity's recent request frequency.
	RequestsPerMinute float64

	// ErrorRate is the fraction of the identity's recent requests that
	// ended in an error status, in [0,1].
	ErrorRate float64

	// EndpointCount is how many distinct endpoints the identity touched
	// recently.
	EndpointCount int

	// Anomaly is the behavioral baseline deviation, in [0,1].
	Anomaly float64

	// GeoVelocity is the geographic/velocity anomaly, in [0,1].
	GeoVelocity float64

	// FingerprintDistrust is how far the device's trust has sunk below
	// neutral, in [0,1].
	FingerprintDistrust float64

	// FingerprintSuspicious marks a device flagged by the registry's
	// header heuristics.
	FingerprintSuspicious bool
}

// Outcome is one scored request: the clamped risk score, the level it
// falls into and the reasons that moved the score.
type Outcome struct {
	RiskScore float64
	Level     types.ThreatLevel
	Reasons   []string
}

// Engine combines the feature set, the gathered signals and the
// signature matches into one 0-100 risk score. Weights and thresholds
// are configuration; a policy reload swaps them atomically.
type Engine struct {
	mu  sync.RWMutex
	cfg config.ScoringConfig
}

func NewEngine(cfg config.ScoringConfig) *Engine {
	return &Engine{cfg: cfg}
}

// SetConfig swaps the weight and threshold tables.
func (e *Engine) SetConfig(cfg config.ScoringConfig) {
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
}

// Score computes the weighted sum over the normalized signals, adds the
// flat signature bonus when any family matched, and clamps to [0,100].
// Pure given its inputs: the same features, signals and matches always
// produce the same outcome.
func (e *Engine) Score(f *features.RequestFeatures, sig Signals, matches []signatures.Match) Outcome {
	e.mu.RLock()
	cfg := e.cfg
	e.mu.RUnlock()

	w := cfg.Weights

	uaSuspicion := f.UASuspicion
	if sig.FingerprintSuspicious && uaSuspicion < 0.8 {
		uaSuspicion = 0.8
	}
	if sig.FingerprintDistrust > uaSuspicion {
		uaSuspicion = sig.FingerprintDistrust
	}

	frequency := normalize(sig.RequestsPerMinute, frequencySaturation)
	errorRate := normalize(sig.ErrorRate, 1)
	entropy := normalize(f.PayloadEntropy, entropySaturation)
	userAgent := normalize(uaSuspicion, 1)
	geo := normalize(sig.GeoVelocity, 1)
	anomaly := normalize(sig.Anomaly, 1)
	diversity := normalize(float64(sig.EndpointCount), diversitySaturation)

	score := frequency*w.RequestFrequency +
		errorRate*w.ErrorRate +
		entropy*w.PayloadEntropy +
		userAgent*w.UserAgent +
		geo*w.GeoVelocity +
		anomaly*w.Behavior +
		diversity*w.EndpointDiversity

	var reasons []string
	if frequency >= 50 {
		reasons = append(reasons, "high_request_frequency")
	}
	if errorRate >= 50 {
		reasons = append(reasons, "high_error_rate")
	}
	if entropy >= 50 {
		reasons = append(reasons, "high_payload_entropy")
	}
	if userAgent >= 50 {
		reasons = append(reasons, "suspicious_user_agent")
	}
	if geo >= 50 {
		reasons = append(reasons, "geo_velocity_anomaly")
	}
	if anomaly >= 50 {
		reasons = append(reasons, "behavioral_anomaly")
	}
	if diversity >= 50 {
		reasons = append(reasons, "endpoint_scanning")
	}

	if f.SuspiciousPattern {
		score += structureBonus
		reasons = append(reasons, "suspicious_structure")
	}
	if len(matches) > 0 {
		score += cfg.SignatureBonus
		for _, m := range matches {
			reasons = append(reasons, fmt.Sprintf("signature:%s", m.Family))
		}
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	return Outcome{
		RiskScore: score,
		Level:     e.LevelFor(score),
		Reasons:   reasons,
	}
}

// LevelFor maps a risk score to its threat band. A pure, order-preserving
// step function of the score and the configured thresholds.
func (e *Engine) LevelFor(score float64) types.ThreatLevel {
	e.mu.RLock()
	t := e.cfg.Thresholds
	e.mu.RUnlock()

	switch {
	case score >= t.Critical:
		return types.ThreatLevelCritical
	case score >= t.High:
		return types.ThreatLevelHigh
	case score >= t.Medium:
		return types.ThreatLevelMedium
	default:
		return types.ThreatLevelLow
	}
}

// normalize scales value to [0,100] against its saturation point.
func normalize(value, saturation float64) float64 {
	if value <= 0 || saturation <= 0 {
		return 0
	}
	scaled := value / saturation * 100
	if scaled > 100 {
		return 100
	}
	return scaled
}

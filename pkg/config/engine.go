package config

// EngineConfig carries every tunable policy table. All numbers here are
// defaults, not laws; operators override them per deployment and a SIGHUP
// reload pushes the new tables into the running engine.
type EngineConfig struct {
	Scoring     ScoringConfig       `mapstructure:"scoring"`
	Signatures  map[string][]string `mapstructure:"signatures"`
	RateLimit   RateLimitConfig     `mapstructure:"rate_limit"`
	Breaker     BreakerConfig       `mapstructure:"breaker"`
	Behavior    BehaviorConfig      `mapstructure:"behavior"`
	Events      EventsConfig        `mapstructure:"events"`
	Fingerprint FingerprintConfig   `mapstructure:"fingerprint"`
}

type ScoringConfig struct {
	Weights        ScoringWeights `mapstructure:"weights"`
	SignatureBonus float64        `mapstructure:"signature_bonus"`
	Thresholds     Thresholds     `mapstructure:"thresholds"`
}

// ScoringWeights sum to 1.0 with the defaults below. Each signal is
// normalized to [0,100] before its weight applies.
type ScoringWeights struct {
	RequestFrequency  float64 `mapstructure:"request_frequency"`
	ErrorRate         float64 `mapstructure:"error_rate"`
	PayloadEntropy    float64 `mapstructure:"payload_entropy"`
	UserAgent         float64 `mapstructure:"user_agent"`
	GeoVelocity       float64 `mapstructure:"geo_velocity"`
	Behavior          float64 `mapstructure:"behavior"`
	EndpointDiversity float64 `mapstructure:"endpoint_diversity"`
}

// Thresholds are the lower bounds of the medium, high and critical bands.
type Thresholds struct {
	Medium   float64 `mapstructure:"medium"`
	High     float64 `mapstructure:"high"`
	Critical float64 `mapstructure:"critical"`
}

type RateLimitConfig struct {
	Categories     map[string]CategoryLimit `mapstructure:"categories"`
	FailedAttempts FailedAttemptsConfig     `mapstructure:"failed_attempts"`

	// ViolationWindowSeconds is the tracking period for the adaptive
	// penalty tiers.
	ViolationWindowSeconds int `mapstructure:"violation_window_seconds"`
}

type CategoryLimit struct {
	MaxRequests   int `mapstructure:"max_requests"`
	WindowSeconds int `mapstructure:"window_seconds"`
}

type FailedAttemptsConfig struct {
	Max              int `mapstructure:"max"`
	WindowSeconds    int `mapstructure:"window_seconds"`
	BlacklistSeconds int `mapstructure:"blacklist_seconds"`
}

type BreakerConfig struct {
	FailureThreshold int `mapstructure:"failure_threshold"`
	CooldownSeconds  int `mapstructure:"cooldown_seconds"`
}

type BehaviorConfig struct {
	RetentionDays int `mapstructure:"retention_days"`

	// FastRepeatRatio marks an action as anomalous when it recurs in less
	// than this fraction of its typical interval.
	FastRepeatRatio float64 `mapstructure:"fast_repeat_ratio"`

	// MaxHistory bounds the per-identity action list independently of age.
	MaxHistory int `mapstructure:"max_history"`
}

type EventsConfig struct {
	RingCapacity         int `mapstructure:"ring_capacity"`
	QueueSize            int `mapstructure:"queue_size"`
	SummaryWindowMinutes int `mapstructure:"summary_window_minutes"`
}

type FingerprintConfig struct {
	RetentionDays int `mapstructure:"retention_days"`
}

func (c *EngineConfig) applyDefaults() {
	w := &c.Scoring.Weights
	if w.RequestFrequency == 0 {
		w.RequestFrequency = 0.20
	}
	if w.ErrorRate == 0 {
		w.ErrorRate = 0.25
	}
	if w.PayloadEntropy == 0 {
		w.PayloadEntropy = 0.15
	}
	if w.UserAgent == 0 {
		w.UserAgent = 0.10
	}
	if w.GeoVelocity == 0 {
		w.GeoVelocity = 0.10
	}
	if w.Behavior == 0 {
		w.Behavior = 0.10
	}
	if w.EndpointDiversity == 0 {
		w.EndpointDiversity = 0.10
	}
	if c.Scoring.SignatureBonus == 0 {
		c.Scoring.SignatureBonus = 50
	}
	t := &c.Scoring.Thresholds
	if t.Medium == 0 {
		t.Medium = 30
	}
	if t.High == 0 {
		t.High = 60
	}
	if t.Critical == 0 {
		t.Critical = 80
	}

	if c.RateLimit.Categories == nil {
		c.RateLimit.Categories = map[string]CategoryLimit{}
	}
	defaults := map[string]CategoryLimit{
		"default": {MaxRequests: 100, WindowSeconds: 60},
		"auth":    {MaxRequests: 10, WindowSeconds: 60},
		"admin":   {MaxRequests: 30, WindowSeconds: 60},
		"upload":  {MaxRequests: 5, WindowSeconds: 60},
	}
	for name, limit := range defaults {
		if _, ok := c.RateLimit.Categories[name]; !ok {
			c.RateLimit.Categories[name] = limit
		}
	}
	if c.RateLimit.ViolationWindowSeconds == 0 {
		c.RateLimit.ViolationWindowSeconds = 600
	}
	fa := &c.RateLimit.FailedAttempts
	if fa.Max == 0 {
		fa.Max = 10
	}
	if fa.WindowSeconds == 0 {
		fa.WindowSeconds = 300
	}
	if fa.BlacklistSeconds == 0 {
		fa.BlacklistSeconds = 3600
	}

	if c.Breaker.FailureThreshold == 0 {
		c.Breaker.FailureThreshold = 5
	}
	if c.Breaker.CooldownSeconds == 0 {
		c.Breaker.CooldownSeconds = 60
	}

	if c.Behavior.RetentionDays == 0 {
		c.Behavior.RetentionDays = 30
	}
	if c.Behavior.FastRepeatRatio == 0 {
		c.Behavior.FastRepeatRatio = 0.2
	}
	if c.Behavior.MaxHistory == 0 {
		c.Behavior.MaxHistory = 1000
	}

	if c.Events.RingCapacity == 0 {
		c.Events.RingCapacity = 2048
	}
	if c.Events.QueueSize == 0 {
		c.Events.QueueSize = 4096
	}
	if c.Events.SummaryWindowMinutes == 0 {
		c.Events.SummaryWindowMinutes = 60
	}

	if c.Fingerprint.RetentionDays == 0 {
		c.Fingerprint.RetentionDays = 30
	}
}

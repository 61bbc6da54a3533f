package scoring_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axiestudio/aichatbot-sub000/pkg/config"
	"github.com/axiestudio/aichatbot-sub000/pkg/features"
	"github.com/axiestudio/aichatbot-sub000/pkg/scoring"
	"github.com/axiestudio/aichatbot-sub000/pkg/signatures"
	"github.com/axiestudio/aichatbot-sub000/pkg/types"
)

func defaultScoringConfig() config.ScoringConfig {
	return config.ScoringConfig{
		Weights: config.ScoringWeights{
			RequestFrequency:  0.20,
			ErrorRate:         0.25,
			PayloadEntropy:    0.15,
			UserAgent:         0.10,
			GeoVelocity:       0.10,
			Behavior:          0.10,
			EndpointDiversity: 0.10,
		},
		SignatureBonus: 50,
		Thresholds:     config.Thresholds{Medium: 30, High: 60, Critical: 80},
	}
}

func cleanRequest() *types.RequestRecord {
	return &types.RequestRecord{
		Method:        "GET",
		Path:          "/v1/messages",
		Headers:       map[string][]string{"User-Agent": {"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 Chrome/120.0 Safari/537.36"}},
		SourceAddress: "203.0.113.10",
		UserAgent:     "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 Chrome/120.0 Safari/537.36",
		Timestamp:     time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC),
	}
}

func TestCleanRequestScoresLowAndBelowThirty(t *testing.T) {
	engine := scoring.NewEngine(defaultScoringConfig())

	f := features.Extract(cleanRequest())
	out := engine.Score(&f, scoring.Signals{RequestsPerMinute: 2}, nil)

	assert.Less(t, out.RiskScore, 30.0)
	assert.Equal(t, types.ThreatLevelLow, out.Level)
}

func TestSignatureMatchAddsAtLeastTheFlatBonus(t *testing.T) {
	engine := scoring.NewEngine(defaultScoringConfig())
	matcher := signatures.Default()

	clean := features.Extract(cleanRequest())
	baseline := engine.Score(&clean, scoring.Signals{}, matcher.Match(&clean))

	record := cleanRequest()
	record.Body = []byte(`{"q":"union select * from users"}`)
	dirty := features.Extract(record)
	matches := matcher.Match(&dirty)
	require.NotEmpty(t, matches, "attack substring must trip the signature table")

	attacked := engine.Score(&dirty, scoring.Signals{}, matches)
	assert.GreaterOrEqual(t, attacked.RiskScore-baseline.RiskScore, 50.0)
	assert.Contains(t, attacked.Reasons, "signature:sql_injection")
}

func TestLevelIsAnOrderPreservingStepFunction(t *testing.T) {
	engine := scoring.NewEngine(defaultScoringConfig())

	cases := []struct {
		score float64
		level types.ThreatLevel
	}{
		{0, types.ThreatLevelLow},
		{29.9, types.ThreatLevelLow},
		{30, types.ThreatLevelMedium},
		{59.9, types.ThreatLevelMedium},
		{60, types.ThreatLevelHigh},
		{79.9, types.ThreatLevelHigh},
		{80, types.ThreatLevelCritical},
		{100, types.ThreatLevelCritical},
	}
	prev := -1
	for _, tc := range cases {
		level := engine.LevelFor(tc.score)
		assert.Equal(t, tc.level, level, "score %.1f", tc.score)
		assert.GreaterOrEqual(t, level.Rank(), prev, "level never drops as score rises")
		prev = level.Rank()
	}
}

func TestScoreClampsToOneHundred(t *testing.T) {
	engine := scoring.NewEngine(defaultScoringConfig())

	record := cleanRequest()
	record.Path = "/admin/backup.php"
	record.Body = []byte("' OR 1=1 -- <script>alert(1)</script>")
	f := features.Extract(record)
	matches := signatures.Default().Match(&f)
	require.NotEmpty(t, matches)

	out := engine.Score(&f, scoring.Signals{
		RequestsPerMinute: 500,
		ErrorRate:         1,
		Anomaly:           1,
		GeoVelocity:       1,
		EndpointCount:     50,
	}, matches)

	assert.Equal(t, 100.0, out.RiskScore)
	assert.Equal(t, types.ThreatLevelCritical, out.Level)
}

func TestScoringIsDeterministic(t *testing.T) {
	engine := scoring.NewEngine(defaultScoringConfig())

	f := features.Extract(cleanRequest())
	sig := scoring.Signals{RequestsPerMinute: 30, ErrorRate: 0.2, EndpointCount: 4}

	first := engine.Score(&f, sig, nil)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, engine.Score(&f, sig, nil))
	}
}

func TestFingerprintSignalsRaiseTheUserAgentTerm(t *testing.T) {
	engine := scoring.NewEngine(defaultScoringConfig())
	f := features.Extract(cleanRequest())

	trusted := engine.Score(&f, scoring.Signals{}, nil)
	flagged := engine.Score(&f, scoring.Signals{FingerprintSuspicious: true}, nil)
	distrusted := engine.Score(&f, scoring.Signals{FingerprintDistrust: 1}, nil)

	assert.Greater(t, flagged.RiskScore, trusted.RiskScore)
	assert.Greater(t, distrusted.RiskScore, trusted.RiskScore)
	assert.Contains(t, flagged.Reasons, "suspicious_user_agent")
}

func TestNoopGeoContributesNothing(t *testing.T) {
	var geo scoring.GeoSignalProvider = scoring.NoopGeo{}
	assert.Zero(t, geo.Velocity("alice", "203.0.113.10"))
}

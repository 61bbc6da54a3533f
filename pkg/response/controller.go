package response

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/axiestudio/aichatbot-sub000/pkg/features"
	"github.com/axiestudio/aichatbot-sub000/pkg/ratelimit"
	"github.com/axiestudio/aichatbot-sub000/pkg/scoring"
	"github.com/axiestudio/aichatbot-sub000/pkg/types"
)

// Throttle and block durations registered by the automated actions. The
// block TTL runs longer than the critical throttle on purpose: the
// identity stays listed after its throttle would have lapsed.
const (
	highThrottleTTL     = 30 * time.Minute
	criticalThrottleTTL = time.Hour
	criticalBlockTTL    = 2 * time.Hour
)

// Reasons the controller adds on top of the scoring reasons.
const (
	ReasonCircuitOpen    = "circuit_breaker_open"
	ReasonCriticalThreat = "critical_threat_level"
	ReasonHighThreat     = "high_threat_level"
)

// defaultActionTable maps each threat level to its automated response.
// Fixed defaults; config overrides replace a level's list wholesale.
var defaultActionTable = map[types.ThreatLevel][]types.ResponseAction{
	types.ThreatLevelLow:      {types.ResponseActionLog},
	types.ThreatLevelMedium:   {types.ResponseActionLog, types.ResponseActionMonitor},
	types.ThreatLevelHigh:     {types.ResponseActionLog, types.ResponseActionMonitor, types.ResponseActionRateLimit},
	types.ThreatLevelCritical: {types.ResponseActionLog, types.ResponseActionMonitor, types.ResponseActionRateLimit, types.ResponseActionBlock, types.ResponseActionAlert},
}

// Alert is the fire-and-forget payload handed to the alert sink on
// critical events.
type Alert struct {
	Identity    string                 `json:"identity"`
	ThreatLevel types.ThreatLevel      `json:"threat_level"`
	Details     map[string]interface{} `json:"details"`
	Timestamp   time.Time              `json:"timestamp"`
}

// AlertSink receives critical-event notifications. Delivery failures
// must never reach the decision path.
type AlertSink interface {
	Send(ctx context.Context, alert Alert)
}

// NoopAlertSink drops every alert. Default when no notifier is
// configured.
type NoopAlertSink struct{}

func (NoopAlertSink) Send(context.Context, Alert) {}

// Config tunes the controller.
type Config struct {
	Breaker BreakerConfig

	// ActionOverrides replaces a level's action list wholesale. Unknown
	// action names survive into the table and are skipped with a warning
	// at execution time, never fatal.
	ActionOverrides map[types.ThreatLevel][]types.ResponseAction
}

// Controller turns a scored request into the final decision and drives
// the automated side effects: the per-identity circuit breaker, throttle
// and blacklist registration, and alerting.
type Controller struct {
	limiter  *ratelimit.Limiter
	breakers *BreakerSet
	alerts   AlertSink
	logger   *logrus.Logger
	actions  map[types.ThreatLevel][]types.ResponseAction
	now      func() time.Time
}

func NewController(limiter *ratelimit.Limiter, alerts AlertSink, logger *logrus.Logger, cfg Config, now func() time.Time) *Controller {
	if alerts == nil {
		alerts = NoopAlertSink{}
	}
	if now == nil {
		now = time.Now
	}

	actions := make(map[types.ThreatLevel][]types.ResponseAction, len(defaultActionTable))
	for level, list := range defaultActionTable {
		actions[level] = list
	}
	for level, list := range cfg.ActionOverrides {
		actions[level] = list
	}

	return &Controller{
		limiter:  limiter,
		breakers: NewBreakerSet(cfg.Breaker, now),
		alerts:   alerts,
		logger:   logger,
		actions:  actions,
		now:      now,
	}
}

// Breakers exposes the circuit set for the engine's fail-fast check and
// the ops surface.
func (c *Controller) Breakers() *BreakerSet {
	return c.breakers
}

// ActionsFor returns the action list the level triggers. The list is
// fixed at call time; stored threat events carry it verbatim.
func (c *Controller) ActionsFor(level types.ThreatLevel) []types.ResponseAction {
	list := c.actions[level]
	out := make([]types.ResponseAction, len(list))
	copy(out, list)
	return out
}

// Respond maps the scored request to its final decision and executes the
// level's automated actions. The rate-limit verdict was computed before
// scoring; a denied check always wins over the score.
func (c *Controller) Respond(ctx context.Context, f *features.RequestFeatures, outcome scoring.Outcome, limit ratelimit.Result) (types.Decision, []types.ResponseAction) {
	identity := f.Identity
	actions := c.ActionsFor(outcome.Level)

	decision := types.Decision{
		Action:      types.ActionAllow,
		RiskScore:   outcome.RiskScore,
		ThreatLevel: outcome.Level,
		Reasons:     append([]string(nil), outcome.Reasons...),
	}

	switch {
	case !limit.Allowed:
		decision.Action = types.ActionBlock
		decision.RetryAfterSeconds = retryAfterSeconds(limit.RetryAfter)
		decision.Reasons = append(decision.Reasons, limit.Reason)
	case outcome.Level == types.ThreatLevelCritical:
		decision.Action = types.ActionBlock
		decision.Reasons = append(decision.Reasons, ReasonCriticalThreat)
	case outcome.Level == types.ThreatLevelHigh:
		decision.Action = types.ActionChallenge
		decision.Reasons = append(decision.Reasons, ReasonHighThreat)
	}

	c.execute(ctx, identity, f, outcome, actions)

	// High and critical events count as breaker failures; anything less
	// is a success and closes a surviving half-open trial.
	if outcome.Level.Rank() >= types.ThreatLevelHigh.Rank() {
		c.breakers.RecordFailure(identity)
	} else {
		c.breakers.RecordSuccess(identity)
	}

	return decision, actions
}

func (c *Controller) execute(ctx context.Context, identity string, f *features.RequestFeatures, outcome scoring.Outcome, actions []types.ResponseAction) {
	for _, action := range actions {
		switch action {
		case types.ResponseActionLog:
			c.logger.WithFields(logrus.Fields{
				"identity":     identity,
				"endpoint":     f.Path,
				"risk_score":   outcome.RiskScore,
				"threat_level": outcome.Level,
			}).Info("threat event recorded")
		case types.ResponseActionMonitor:
			c.logger.WithFields(logrus.Fields{
				"identity":     identity,
				"threat_level": outcome.Level,
			}).Warn("identity placed under monitoring")
		case types.ResponseActionRateLimit:
			ttl := highThrottleTTL
			if outcome.Level == types.ThreatLevelCritical {
				ttl = criticalThrottleTTL
			}
			c.limiter.Throttle(ctx, identity, ttl)
		case types.ResponseActionBlock:
			c.limiter.Lists().Blacklist(ctx, identity, ReasonCriticalThreat, criticalBlockTTL)
		case types.ResponseActionAlert:
			alert := Alert{
				Identity:    identity,
				ThreatLevel: outcome.Level,
				Details: map[string]interface{}{
					"endpoint":   f.Path,
					"source":     f.SourceAddress,
					"risk_score": outcome.RiskScore,
					"reasons":    outcome.Reasons,
				},
				Timestamp: c.now(),
			}
			// Fire and forget; the sink owns its own timeout.
			go c.alerts.Send(context.WithoutCancel(ctx), alert)
		default:
			c.logger.WithFields(logrus.Fields{
				"action":       string(action),
				"threat_level": outcome.Level,
			}).Warn("unknown response action skipped")
		}
	}
}

func retryAfterSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	secs := int(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	return secs
}

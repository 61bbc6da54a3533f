package engine

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/axiestudio/aichatbot-sub000/pkg/behavior"
	"github.com/axiestudio/aichatbot-sub000/pkg/config"
	"github.com/axiestudio/aichatbot-sub000/pkg/domain/threat"
	"github.com/axiestudio/aichatbot-sub000/pkg/features"
	"github.com/axiestudio/aichatbot-sub000/pkg/infra/fingerprint"
	"github.com/axiestudio/aichatbot-sub000/pkg/infra/metrics"
	"github.com/axiestudio/aichatbot-sub000/pkg/ratelimit"
	"github.com/axiestudio/aichatbot-sub000/pkg/response"
	"github.com/axiestudio/aichatbot-sub000/pkg/scoring"
	"github.com/axiestudio/aichatbot-sub000/pkg/signatures"
	"github.com/axiestudio/aichatbot-sub000/pkg/types"
)

// Trust adjustments applied to the device record after each decision.
const (
	trustDeltaCritical   = -0.2
	trustDeltaHigh       = -0.1
	trustDeltaSuspicious = -0.05
	trustDeltaClean      = 0.02
)

// EventSink receives every scored threat event for durable storage. The
// engine's ring buffer stays the fast in-memory mirror.
type EventSink interface {
	Enqueue(event threat.Event)
}

// Dependencies wires the engine's collaborators together, following the
// same dependency-struct style the servers use.
type Dependencies struct {
	Logger       *logrus.Logger
	Fingerprints fingerprint.Registry
	Behavior     behavior.Store
	Limiter      *ratelimit.Limiter
	Controller   *response.Controller
	Scorer       *scoring.Engine
	Geo          scoring.GeoSignalProvider
	Ring         *threat.Ring
	Audit        EventSink
}

// Options inject the clock, id source and activity window for tests.
type Options struct {
	ActivityWindow time.Duration
	TimeProvider   func() time.Time
	UUIDProvider   func() uuid.UUID
}

// Engine is the request risk pipeline: extract features, gather the
// fingerprint, behavioral and signature signals in parallel, score,
// respond. One Evaluate call never blocks on anything slower than a
// bounded cache round trip.
type Engine struct {
	logger       *logrus.Logger
	fingerprints fingerprint.Registry
	behavior     behavior.Store
	limiter      *ratelimit.Limiter
	controller   *response.Controller
	scorer       *scoring.Engine
	geo          scoring.GeoSignalProvider
	ring         *threat.Ring
	audit        EventSink
	activity     *activityTracker
	matcher      atomic.Pointer[signatures.Matcher]

	now     func() time.Time
	newUUID func() uuid.UUID
}

func New(deps Dependencies, matcher *signatures.Matcher, opts *Options) *Engine {
	now := time.Now
	newUUID := uuid.New
	window := time.Duration(0)
	if opts != nil {
		if opts.TimeProvider != nil {
			now = opts.TimeProvider
		}
		if opts.UUIDProvider != nil {
			newUUID = opts.UUIDProvider
		}
		window = opts.ActivityWindow
	}

	geo := deps.Geo
	if geo == nil {
		geo = scoring.NoopGeo{}
	}

	e := &Engine{
		logger:       deps.Logger,
		fingerprints: deps.Fingerprints,
		behavior:     deps.Behavior,
		limiter:      deps.Limiter,
		controller:   deps.Controller,
		scorer:       deps.Scorer,
		geo:          geo,
		ring:         deps.Ring,
		audit:        deps.Audit,
		activity:     newActivityTracker(window, now),
		now:          now,
		newUUID:      newUUID,
	}
	if matcher == nil {
		matcher = signatures.Default()
	}
	e.matcher.Store(matcher)

	breakers := deps.Controller.Breakers()
	if breakers.OnTransition == nil {
		breakers.OnTransition = func(identity string, from, to response.BreakerState) {
			metrics.BreakerTransition(string(to))
			deps.Logger.WithFields(logrus.Fields{
				"identity": identity,
				"from":     from,
				"to":       to,
			}).Warn("identity circuit transitioned")
		}
	}
	return e
}

// Evaluate scores one request and returns the decision. The only error
// it surfaces is the caller's own cancellation; every internal failure
// degrades toward allowing traffic instead.
func (e *Engine) Evaluate(ctx context.Context, record *types.RequestRecord) (types.Decision, error) {
	started := e.now()
	f := features.Extract(record)
	if f.Timestamp.IsZero() {
		f.Timestamp = started
	}
	identity := f.Identity

	limit := e.limiter.Check(ctx, identity, Categorize(f.Path))
	metrics.RateLimitOutcome(limit.Category, limit.Allowed)

	// Whitelist and blacklist are explicit prior decisions; neither runs
	// through scoring, but both still land in the event log.
	switch limit.Reason {
	case ratelimit.ReasonWhitelisted:
		e.emit(&f, scoring.Outcome{Level: types.ThreatLevelLow}, nil,
			[]types.ResponseAction{types.ResponseActionLog}, types.ActionAllow)
		return e.finish(started, types.Decision{
			Action:      types.ActionAllow,
			ThreatLevel: types.ThreatLevelLow,
			Reasons:     []string{ratelimit.ReasonWhitelisted},
		}), nil
	case ratelimit.ReasonBlacklisted:
		e.emit(&f, scoring.Outcome{Level: types.ThreatLevelLow}, nil,
			[]types.ResponseAction{types.ResponseActionBlock}, types.ActionBlock)
		return e.finish(started, types.Decision{
			Action:            types.ActionBlock,
			ThreatLevel:       types.ThreatLevelLow,
			RetryAfterSeconds: retryAfterSeconds(limit.RetryAfter),
			Reasons:           []string{ratelimit.ReasonBlacklisted},
		}), nil
	}

	// Fail fast for identities whose circuit is open; the half-open trial
	// falls through and is judged by its own score.
	if allowed, state := e.controller.Breakers().Allow(identity); !allowed {
		e.logger.WithFields(logrus.Fields{
			"identity": identity,
			"state":    state,
		}).Debug("request rejected by open circuit")
		return e.finish(started, types.Decision{
			Action:      types.ActionQuarantine,
			ThreatLevel: types.ThreatLevelLow,
			Reasons:     []string{response.ReasonCircuitOpen},
		}), nil
	}

	token := e.fingerprints.Compute(f.Headers, f.SourceAddress)
	suspicious := e.fingerprints.IsSuspicious(f.Headers)

	var (
		matches []signatures.Match
		anomaly float64
		device  *fingerprint.Device
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		matches = e.matcher.Load().Match(&f)
		return nil
	})
	g.Go(func() error {
		anomaly = e.behavior.ScoreAnomaly(gctx, identity, f.Action(), behavior.ActionContext{
			SourceAddress: f.SourceAddress,
			Timestamp:     f.Timestamp,
		})
		return nil
	})
	g.Go(func() error {
		device, _ = e.fingerprints.Get(gctx, token)
		return nil
	})
	if err := g.Wait(); err != nil {
		return types.Decision{}, err
	}
	// Abandon a cancelled request before any counter is touched further.
	if err := ctx.Err(); err != nil {
		return types.Decision{}, err
	}

	stats := e.activity.Observe(identity, f.Path, f.PriorStatus)
	sig := scoring.Signals{
		RequestsPerMinute:     stats.RequestsPerMinute,
		ErrorRate:             stats.ErrorRate,
		EndpointCount:         stats.EndpointCount,
		Anomaly:               anomaly,
		GeoVelocity:           e.geo.Velocity(identity, f.SourceAddress),
		FingerprintDistrust:   device.Distrust(),
		FingerprintSuspicious: suspicious,
	}

	outcome := e.scorer.Score(&f, sig, matches)
	decision, actions := e.controller.Respond(ctx, &f, outcome, limit)

	e.fingerprints.UpdateTrust(ctx, token, trustDelta(outcome.Level, len(matches) > 0, suspicious), f.Timestamp)
	e.emit(&f, outcome, matches, actions, decision.Action)

	for _, m := range matches {
		metrics.SignatureHit(string(m.Family))
	}
	metrics.ObserveRiskScore(outcome.RiskScore)
	return e.finish(started, decision), nil
}

// ApplyConfig pushes freshly loaded policy tables into the running
// engine: signature families, scoring weights and rate-limit categories.
func (e *Engine) ApplyConfig(cfg config.EngineConfig) error {
	matcher, err := signatures.NewMatcher(cfg.Signatures)
	if err != nil {
		return err
	}
	e.matcher.Store(matcher)
	e.scorer.SetConfig(cfg.Scoring)
	e.limiter.SetPolicies(PoliciesFrom(cfg.RateLimit))
	e.logger.Info("engine policy tables reloaded")
	return nil
}

// Ring exposes the recent-event mirror for the ops surface.
func (e *Engine) Ring() *threat.Ring {
	return e.ring
}

// Limiter exposes the rate limiter for the ops surface and middleware.
func (e *Engine) Limiter() *ratelimit.Limiter {
	return e.limiter
}

// Breakers exposes the per-identity circuit set for the ops surface.
func (e *Engine) Breakers() *response.BreakerSet {
	return e.controller.Breakers()
}

// CompactActivity drops idle activity windows. Janitor work.
func (e *Engine) CompactActivity() int {
	return e.activity.Compact()
}

// Categorize maps a request path to its rate-limit category.
func Categorize(path string) string {
	p := strings.ToLower(path)
	switch {
	case strings.Contains(p, "/auth") || strings.Contains(p, "/login") || strings.Contains(p, "/token"):
		return "auth"
	case strings.Contains(p, "/admin"):
		return "admin"
	case strings.Contains(p, "/upload"):
		return "upload"
	default:
		return ratelimit.CategoryDefault
	}
}

// PoliciesFrom converts the config category table into limiter policies.
func PoliciesFrom(cfg config.RateLimitConfig) map[string]ratelimit.Policy {
	policies := make(map[string]ratelimit.Policy, len(cfg.Categories))
	for name, limit := range cfg.Categories {
		policies[name] = ratelimit.Policy{
			MaxRequests: limit.MaxRequests,
			Window:      time.Duration(limit.WindowSeconds) * time.Second,
		}
	}
	return policies
}

func (e *Engine) emit(f *features.RequestFeatures, outcome scoring.Outcome, matches []signatures.Match, actions []types.ResponseAction, decided types.Action) {
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, string(m.Family))
	}

	event := threat.Event{
		ID:            e.newUUID().String(),
		Timestamp:     f.Timestamp,
		Identity:      f.Identity,
		SourceAddress: f.SourceAddress,
		UserAgent:     f.UserAgent,
		Endpoint:      f.Path,
		RiskScore:     outcome.RiskScore,
		ThreatLevel:   outcome.Level,
		Signatures:    names,
		Actions:       actions,
		Decision:      decided,
	}
	e.ring.Append(event)
	if e.audit != nil {
		e.audit.Enqueue(event)
	}
}

func (e *Engine) finish(started time.Time, decision types.Decision) types.Decision {
	metrics.ObserveDecision(string(decision.Action), string(decision.ThreatLevel))
	metrics.ObserveEvaluateDuration(e.now().Sub(started))
	return decision
}

func trustDelta(level types.ThreatLevel, matched, suspicious bool) float64 {
	switch {
	case level == types.ThreatLevelCritical:
		return trustDeltaCritical
	case level == types.ThreatLevelHigh || matched:
		return trustDeltaHigh
	case suspicious:
		return trustDeltaSuspicious
	default:
		return trustDeltaClean
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

package ratelimit

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/axiestudio/aichatbot-sub000/internal/syncutil"
	"github.com/axiestudio/aichatbot-sub000/pkg/cache"
)

const (
	windowKeyPattern   = "rl:%s:%s"
	violationsPattern  = "rlviol:%s"
	attemptsPattern    = "rlfail:%s:%s"
	throttleKeyPattern = "rlthrottle:%s"

	windowsMapName    = "rl_windows"
	violationsMapName = "rl_violations"
	attemptsMapName   = "rl_attempts"
	throttlesMapName  = "rl_throttles"

	// Penalty tiers for repeat offenders. The factor multiplies the
	// category limit, never the window.
	softPenaltyViolations = 3
	softPenaltyFactor     = 0.75
	hardPenaltyViolations = 5
	hardPenaltyFactor     = 0.5

	// CategoryDefault catches every request without a more specific
	// category.
	CategoryDefault = "default"
)

// Reasons reported in Result and surfaced as decision reasons.
const (
	ReasonWhitelisted   = "whitelisted"
	ReasonBlacklisted   = "blacklisted"
	ReasonLimitExceeded = "rate_limit_exceeded"
)

// Policy is one category's limit over a sliding window.
type Policy struct {
	MaxRequests int
	Window      time.Duration
}

// Config tunes the limiter outside of the per-category policies.
type Config struct {
	// ViolationWindow is the tracking period for the adaptive penalty
	// tiers.
	ViolationWindow time.Duration

	// FailedAttemptsMax failures of one kind within FailedAttemptsWindow
	// blacklist the identity for BlacklistDuration.
	FailedAttemptsMax    int
	FailedAttemptsWindow time.Duration
	BlacklistDuration    time.Duration
}

func (c *Config) applyDefaults() {
	if c.ViolationWindow <= 0 {
		c.ViolationWindow = 10 * time.Minute
	}
	if c.FailedAttemptsMax <= 0 {
		c.FailedAttemptsMax = 10
	}
	if c.FailedAttemptsWindow <= 0 {
		c.FailedAttemptsWindow = 5 * time.Minute
	}
	if c.BlacklistDuration <= 0 {
		c.BlacklistDuration = time.Hour
	}
}

// Result is the outcome of one admission check.
type Result struct {
	Allowed    bool
	Category   string
	Limit      int
	Remaining  int
	RetryAfter time.Duration
	Reason     string
}

// CategoryStatus describes one identity's standing in one category, for
// the ops surface.
type CategoryStatus struct {
	Category      string        `json:"category"`
	Limit         int           `json:"limit"`
	Window        time.Duration `json:"window"`
	Used          int           `json:"used"`
	Remaining     int           `json:"remaining"`
	PenaltyFactor float64       `json:"penalty_factor"`
}

// Opts injects the clock and id source so tests drive windows without
// real time.
type Opts struct {
	TimeProvider func() time.Time
	UUIDProvider func() uuid.UUID
}

// Limiter enforces per-(identity, category) sliding windows with
// whitelist/blacklist overrides and adaptive penalties. The shared cache
// carries the windows across instances; the check-then-record sequence
// is atomic on either side, so a burst of concurrent requests can never
// admit more than the limit.
type Limiter struct {
	cache  cache.Client
	lists  *ListStore
	logger *logrus.Logger
	cfg    Config

	mu       sync.RWMutex
	policies map[string]Policy

	locks      syncutil.KeyMutex
	windows    *cache.TTLMap
	violations *cache.TTLMap
	attempts   *cache.TTLMap
	throttles  *cache.TTLMap

	now     func() time.Time
	newUUID func() uuid.UUID
}

type localWindow struct {
	times []time.Time
}

type counterEntry struct {
	count     int64
	expiresAt time.Time
}

func NewLimiter(c cache.Client, lists *ListStore, logger *logrus.Logger, policies map[string]Policy, cfg Config, opts *Opts) *Limiter {
	cfg.applyDefaults()

	now := time.Now
	newUUID := uuid.New
	if opts != nil && opts.TimeProvider != nil {
		now = opts.TimeProvider
	}
	if opts != nil && opts.UUIDProvider != nil {
		newUUID = opts.UUIDProvider
	}

	l := &Limiter{
		cache:      c,
		lists:      lists,
		logger:     logger,
		cfg:        cfg,
		windows:    c.CreateTTLMap(windowsMapName, 0),
		violations: c.CreateTTLMap(violationsMapName, cfg.ViolationWindow),
		attempts:   c.CreateTTLMap(attemptsMapName, cfg.FailedAttemptsWindow),
		throttles:  c.CreateTTLMap(throttlesMapName, 0),
		now:        now,
		newUUID:    newUUID,
	}
	l.SetPolicies(policies)
	return l
}

// SetPolicies swaps the category table; a policy reload calls this with
// the fresh tables. Unknown categories resolve to "default".
func (l *Limiter) SetPolicies(policies map[string]Policy) {
	table := make(map[string]Policy, len(policies)+1)
	for name, p := range policies {
		if p.MaxRequests > 0 && p.Window > 0 {
			table[name] = p
		}
	}
	if _, ok := table[CategoryDefault]; !ok {
		table[CategoryDefault] = Policy{MaxRequests: 100, Window: time.Minute}
	}

	l.mu.Lock()
	l.policies = table
	l.mu.Unlock()
}

// Lists exposes the underlying list store for the response controller
// and the ops surface.
func (l *Limiter) Lists() *ListStore {
	return l.lists
}

// Check admits or rejects one request for (identity, category).
// Whitelisted identities pass without consuming a slot; blacklisted ones
// are rejected until their entry expires. Everyone else runs against the
// sliding window with the penalty-adjusted limit.
func (l *Limiter) Check(ctx context.Context, identity, category string) Result {
	policy, category := l.resolve(category)

	if _, ok := l.lists.IsWhitelisted(ctx, identity); ok {
		return Result{Allowed: true, Category: category, Limit: policy.MaxRequests, Remaining: policy.MaxRequests, Reason: ReasonWhitelisted}
	}
	if entry, ok := l.lists.IsBlacklisted(ctx, identity); ok {
		retry := time.Duration(0)
		if !entry.ExpiresAt.IsZero() {
			retry = entry.ExpiresAt.Sub(l.now())
		}
		return Result{Allowed: false, Category: category, Limit: 0, RetryAfter: retry, Reason: ReasonBlacklisted}
	}

	factor := l.penaltyFactor(ctx, identity)
	allowance := float64(policy.MaxRequests) * factor

	res, ok := l.checkShared(ctx, identity, category, policy, allowance)
	if !ok {
		res = l.checkLocal(identity, category, policy, allowance)
	}

	if !res.Allowed {
		l.recordViolation(ctx, identity)
	}
	return res
}

// RecordFailedAttempt counts one failed attempt of the given kind (e.g.
// "auth") against the identity. Reaching the configured maximum inside
// the attempt window blacklists the identity and reports true.
func (l *Limiter) RecordFailedAttempt(ctx context.Context, identity, kind string) (int64, bool) {
	key := fmt.Sprintf(attemptsPattern, kind, identity)
	count := l.bumpCounter(ctx, key, l.attempts, l.cfg.FailedAttemptsWindow)

	if count >= int64(l.cfg.FailedAttemptsMax) {
		l.lists.Blacklist(ctx, identity, fmt.Sprintf("%d failed %s attempts", count, kind), l.cfg.BlacklistDuration)
		return count, true
	}
	return count, false
}

// Throttle halves the identity's limits for d. Registered by the
// response controller's rate_limit action.
func (l *Limiter) Throttle(ctx context.Context, identity string, d time.Duration) {
	l.throttles.SetFor(identity, l.now().Add(d), d)
	if err := l.cache.Execute(ctx, func(ctx context.Context) error {
		return l.cache.RedisClient().Set(ctx, fmt.Sprintf(throttleKeyPattern, identity), "1", d).Err()
	}); err != nil {
		l.logger.WithError(err).Debug("throttle write skipped shared cache")
	}
}

// Status reports the identity's standing per category from local state,
// cheap enough to serve dashboards on every poll.
func (l *Limiter) Status(identity string) []CategoryStatus {
	l.mu.RLock()
	policies := l.policies
	l.mu.RUnlock()

	factor := l.localPenaltyFactor(identity)
	now := l.now()

	names := make([]string, 0, len(policies))
	for name := range policies {
		names = append(names, name)
	}
	sort.Strings(names)

	statuses := make([]CategoryStatus, 0, len(names))
	for _, name := range names {
		policy := policies[name]
		used := l.localCount(identity, name, policy, now)
		limit := int(math.Floor(float64(policy.MaxRequests) * factor))
		remaining := limit - used
		if remaining < 0 {
			remaining = 0
		}
		statuses = append(statuses, CategoryStatus{
			Category:      name,
			Limit:         limit,
			Window:        policy.Window,
			Used:          used,
			Remaining:     remaining,
			PenaltyFactor: factor,
		})
	}
	return statuses
}

// Compact drops expired local windows and counters. Janitor work; never
// touches the shared cache, whose keys expire by TTL.
func (l *Limiter) Compact() int {
	return l.windows.PruneExpired() +
		l.violations.PruneExpired() +
		l.attempts.PruneExpired() +
		l.throttles.PruneExpired() +
		l.lists.Prune()
}

func (l *Limiter) resolve(category string) (Policy, string) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if policy, ok := l.policies[category]; ok {
		return policy, category
	}
	return l.policies[CategoryDefault], CategoryDefault
}

// checkShared runs the window against Redis. The request is added first
// and rolled back when over the allowance: every concurrent adder counts
// its own entry, so the window can reject spuriously under a race but
// never over-admit. Returns ok=false when the cache is unavailable.
func (l *Limiter) checkShared(ctx context.Context, identity, category string, policy Policy, allowance float64) (Result, bool) {
	if !l.cache.Healthy() {
		return Result{}, false
	}

	key := fmt.Sprintf(windowKeyPattern, category, identity)
	now := l.now()
	windowStart := now.Add(-policy.Window)
	member := fmt.Sprintf("%d:%s", now.UnixMilli(), l.newUUID().String())

	var count int64
	var oldest []redis.Z
	err := l.cache.Execute(ctx, func(ctx context.Context) error {
		pipe := l.cache.RedisClient().TxPipeline()
		pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart.UnixMilli(), 10))
		pipe.ZAdd(ctx, key, &redis.Z{Score: float64(now.UnixMilli()), Member: member})
		cardCmd := pipe.ZCard(ctx, key)
		oldestCmd := pipe.ZRangeWithScores(ctx, key, 0, 0)
		pipe.Expire(ctx, key, policy.Window)
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
		count = cardCmd.Val()
		oldest = oldestCmd.Val()
		return nil
	})
	if err != nil {
		l.logger.WithError(err).Debug("rate limit check fell back to local window")
		return Result{}, false
	}

	if float64(count) > allowance {
		if err := l.cache.Execute(ctx, func(ctx context.Context) error {
			return l.cache.RedisClient().ZRem(ctx, key, member).Err()
		}); err != nil {
			// The stray member ages out of the window on its own.
			l.logger.WithError(err).Debug("rate limit rollback skipped")
		}
		retry := policy.Window
		if len(oldest) > 0 {
			age := time.Duration(now.UnixMilli()-int64(oldest[0].Score)) * time.Millisecond
			if age > 0 && age < policy.Window {
				retry = policy.Window - age
			}
		}
		return Result{Allowed: false, Category: category, Limit: int(math.Floor(allowance)), RetryAfter: retry, Reason: ReasonLimitExceeded}, true
	}

	remaining := int(math.Floor(allowance)) - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Result{Allowed: true, Category: category, Limit: int(math.Floor(allowance)), Remaining: remaining}, true
}

// checkLocal is the strict in-process window used when the shared cache
// is down. Prune, compare, append happen under the key's lock, so the
// admit count stays exact.
func (l *Limiter) checkLocal(identity, category string, policy Policy, allowance float64) Result {
	key := category + "|" + identity
	release := l.locks.Lock(key)
	defer release()

	now := l.now()
	cutoff := now.Add(-policy.Window)

	var win *localWindow
	if value, ok := l.windows.Get(key); ok {
		win, _ = value.(*localWindow)
	}
	if win == nil {
		win = &localWindow{}
	}

	retained := win.times[:0]
	for _, t := range win.times {
		if t.After(cutoff) {
			retained = append(retained, t)
		}
	}
	win.times = retained

	if float64(len(win.times))+1 > allowance {
		retry := policy.Window
		if len(win.times) > 0 {
			age := now.Sub(win.times[0])
			if age > 0 && age < policy.Window {
				retry = policy.Window - age
			}
		}
		l.windows.SetFor(key, win, policy.Window)
		return Result{Allowed: false, Category: category, Limit: int(math.Floor(allowance)), RetryAfter: retry, Reason: ReasonLimitExceeded}
	}

	win.times = append(win.times, now)
	l.windows.SetFor(key, win, policy.Window)

	remaining := int(math.Floor(allowance)) - len(win.times)
	if remaining < 0 {
		remaining = 0
	}
	return Result{Allowed: true, Category: category, Limit: int(math.Floor(allowance)), Remaining: remaining}
}

func (l *Limiter) localCount(identity, category string, policy Policy, now time.Time) int {
	key := category + "|" + identity
	release := l.locks.Lock(key)
	defer release()

	value, ok := l.windows.Get(key)
	if !ok {
		return 0
	}
	win, ok := value.(*localWindow)
	if !ok {
		return 0
	}
	cutoff := now.Add(-policy.Window)
	count := 0
	for _, t := range win.times {
		if t.After(cutoff) {
			count++
		}
	}
	return count
}

// penaltyFactor combines the violation tiers with any active throttle,
// keeping whichever shrinks the limit more.
func (l *Limiter) penaltyFactor(ctx context.Context, identity string) float64 {
	factor := 1.0

	violations := l.readCounter(ctx, fmt.Sprintf(violationsPattern, identity), l.violations)
	switch {
	case violations >= hardPenaltyViolations:
		factor = hardPenaltyFactor
	case violations >= softPenaltyViolations:
		factor = softPenaltyFactor
	}

	if l.isThrottled(ctx, identity) && hardPenaltyFactor < factor {
		factor = hardPenaltyFactor
	}
	return factor
}

// localPenaltyFactor is the no-I/O variant for the ops surface.
func (l *Limiter) localPenaltyFactor(identity string) float64 {
	factor := 1.0
	if value, ok := l.violations.Get(fmt.Sprintf(violationsPattern, identity)); ok {
		if entry, ok := value.(counterEntry); ok {
			switch {
			case entry.count >= hardPenaltyViolations:
				factor = hardPenaltyFactor
			case entry.count >= softPenaltyViolations:
				factor = softPenaltyFactor
			}
		}
	}
	if _, ok := l.throttles.Get(identity); ok && hardPenaltyFactor < factor {
		factor = hardPenaltyFactor
	}
	return factor
}

func (l *Limiter) isThrottled(ctx context.Context, identity string) bool {
	if _, ok := l.throttles.Get(identity); ok {
		return true
	}
	if !l.cache.Healthy() {
		return false
	}
	throttled := false
	err := l.cache.Execute(ctx, func(ctx context.Context) error {
		res, err := l.cache.RedisClient().Exists(ctx, fmt.Sprintf(throttleKeyPattern, identity)).Result()
		if err != nil {
			return err
		}
		throttled = res > 0
		return nil
	})
	if err != nil {
		return false
	}
	return throttled
}

func (l *Limiter) recordViolation(ctx context.Context, identity string) {
	count := l.bumpCounter(ctx, fmt.Sprintf(violationsPattern, identity), l.violations, l.cfg.ViolationWindow)
	l.logger.WithFields(logrus.Fields{
		"identity":   identity,
		"violations": count,
	}).Debug("rate limit violation recorded")
}

// bumpCounter increments a rolling counter that expires window after its
// first increment. The shared cache is authoritative when reachable; the
// local mirror keeps the count across an outage.
func (l *Limiter) bumpCounter(ctx context.Context, key string, local *cache.TTLMap, window time.Duration) int64 {
	release := l.locks.Lock(key)
	defer release()

	now := l.now()
	entry := counterEntry{count: 0, expiresAt: now.Add(window)}
	if value, ok := local.Get(key); ok {
		if existing, ok := value.(counterEntry); ok && existing.expiresAt.After(now) {
			entry = existing
		}
	}
	entry.count++
	local.SetFor(key, entry, entry.expiresAt.Sub(now))

	if l.cache.Healthy() {
		var shared int64
		err := l.cache.Execute(ctx, func(ctx context.Context) error {
			v, err := l.cache.RedisClient().Incr(ctx, key).Result()
			if err != nil {
				return err
			}
			if v == 1 {
				if err := l.cache.RedisClient().Expire(ctx, key, window).Err(); err != nil {
					return err
				}
			}
			shared = v
			return nil
		})
		if err == nil {
			if shared > entry.count {
				entry.count = shared
				local.SetFor(key, entry, entry.expiresAt.Sub(now))
			}
			return shared
		}
		l.logger.WithError(err).Debug("counter bump skipped shared cache")
	}
	return entry.count
}

func (l *Limiter) readCounter(ctx context.Context, key string, local *cache.TTLMap) int64 {
	if l.cache.Healthy() {
		var data string
		err := l.cache.Execute(ctx, func(ctx context.Context) error {
			res, err := l.cache.RedisClient().Get(ctx, key).Result()
			if err != nil {
				if err == redis.Nil {
					return nil
				}
				return err
			}
			data = res
			return nil
		})
		if err == nil {
			if data == "" {
				return l.readLocalCounter(key, local)
			}
			if v, err := strconv.ParseInt(data, 10, 64); err == nil {
				return v
			}
		}
	}
	return l.readLocalCounter(key, local)
}

func (l *Limiter) readLocalCounter(key string, local *cache.TTLMap) int64 {
	value, ok := local.Get(key)
	if !ok {
		return 0
	}
	entry, ok := value.(counterEntry)
	if !ok || !entry.expiresAt.After(l.now()) {
		return 0
	}
	return entry.count
}

package behavior

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/axiestudio/aichatbot-sub000/internal/syncutil"
	"github.com/axiestudio/aichatbot-sub000/pkg/cache"
)

const (
	profileKeyPattern = "behavior:%s"
	localMapName      = "behavior_profiles"

	atypicalHourPenalty    = 0.3
	atypicalAddressPenalty = 0.4
	fastRepeatPenalty      = 0.5
)

// Config tunes the baseline store. Zero values fall back to the
// defaults below.
type Config struct {
	Retention       time.Duration
	FastRepeatRatio float64
	MaxHistory      int
}

func (c *Config) applyDefaults() {
	if c.Retention <= 0 {
		c.Retention = 30 * 24 * time.Hour
	}
	if c.FastRepeatRatio <= 0 {
		c.FastRepeatRatio = 0.2
	}
	if c.MaxHistory <= 0 {
		c.MaxHistory = 1000
	}
}

// ActionContext carries the request-side inputs an anomaly score is
// computed against.
type ActionContext struct {
	SourceAddress string
	Timestamp     time.Time
}

// Observation is one recorded action in an identity's rolling history.
type Observation struct {
	Action        string    `json:"action"`
	SourceAddress string    `json:"source_address,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Profile is the rolling baseline for one identity. The hour and address
// sets and the frequency map are rebuilt from the retained history on
// every write, so they never describe behavior older than the retention
// window.
type Profile struct {
	Identity        string           `json:"identity"`
	History         []Observation    `json:"history"`
	TypicalHours    map[int]bool     `json:"typical_hours"`
	TypicalAddrs    map[string]bool  `json:"typical_addresses"`
	ActionFrequency map[string]int64 `json:"action_frequency"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

//go:generate mockery --name=Store --dir=. --output=../../mocks --filename=behavior_store_mock.go --case=underscore --with-expecter
type Store interface {
	// ScoreAnomaly rates how far the request deviates from the identity's
	// baseline, in [0,1], then folds the action into that baseline. Score
	// and record are one atomic unit per identity.
	ScoreAnomaly(ctx context.Context, identity, action string, actx ActionContext) float64
	Profile(ctx context.Context, identity string) (*Profile, bool)
	Prune() int
}

type store struct {
	cache  cache.Client
	logger *logrus.Logger
	cfg    Config
	local  *cache.TTLMap
	locks  syncutil.KeyMutex
}

func NewStore(c cache.Client, logger *logrus.Logger, cfg Config) Store {
	cfg.applyDefaults()
	return &store{
		cache:  c,
		logger: logger,
		cfg:    cfg,
		local:  c.CreateTTLMap(localMapName, cfg.Retention),
	}
}

func (s *store) ScoreAnomaly(ctx context.Context, identity, action string, actx ActionContext) float64 {
	release := s.locks.Lock(identity)
	defer release()

	profile, ok := s.load(ctx, identity)
	score := 0.0
	if ok {
		score = s.rate(profile, action, actx)
	}

	if !ok {
		profile = &Profile{Identity: identity}
	}
	s.record(profile, action, actx)
	s.persist(ctx, profile)

	return score
}

func (s *store) Profile(ctx context.Context, identity string) (*Profile, bool) {
	release := s.locks.Lock(identity)
	defer release()
	return s.load(ctx, identity)
}

// Prune drops local profiles whose identities have been idle past
// retention. History inside live profiles is pruned on every write.
func (s *store) Prune() int {
	return s.local.PruneExpired()
}

// rate applies the three deviation penalties against the baseline as it
// stood before this request.
func (s *store) rate(profile *Profile, action string, actx ActionContext) float64 {
	score := 0.0

	if len(profile.TypicalHours) > 0 && !profile.TypicalHours[actx.Timestamp.Hour()] {
		score += atypicalHourPenalty
	}
	if len(profile.TypicalAddrs) > 0 && actx.SourceAddress != "" && !profile.TypicalAddrs[actx.SourceAddress] {
		score += atypicalAddressPenalty
	}
	if typical := typicalInterval(profile.History, action); typical > 0 {
		if last, ok := lastSeen(profile.History, action); ok {
			interval := actx.Timestamp.Sub(last)
			if interval >= 0 && interval.Seconds() < s.cfg.FastRepeatRatio*typical.Seconds() {
				score += fastRepeatPenalty
			}
		}
	}

	if score > 1 {
		return 1
	}
	return score
}

func (s *store) record(profile *Profile, action string, actx ActionContext) {
	profile.History = append(profile.History, Observation{
		Action:        action,
		SourceAddress: actx.SourceAddress,
		Timestamp:     actx.Timestamp,
	})

	cutoff := actx.Timestamp.Add(-s.cfg.Retention)
	retained := profile.History[:0]
	for _, obs := range profile.History {
		if obs.Timestamp.After(cutoff) {
			retained = append(retained, obs)
		}
	}
	profile.History = retained
	if excess := len(profile.History) - s.cfg.MaxHistory; excess > 0 {
		profile.History = append([]Observation(nil), profile.History[excess:]...)
	}

	profile.TypicalHours = make(map[int]bool, 24)
	profile.TypicalAddrs = make(map[string]bool)
	profile.ActionFrequency = make(map[string]int64)
	for _, obs := range profile.History {
		profile.TypicalHours[obs.Timestamp.Hour()] = true
		if obs.SourceAddress != "" {
			profile.TypicalAddrs[obs.SourceAddress] = true
		}
		profile.ActionFrequency[obs.Action]++
	}
	profile.UpdatedAt = actx.Timestamp
}

// typicalInterval is the mean gap between consecutive occurrences of the
// action in the retained history. Zero when the action has fewer than two
// occurrences.
func typicalInterval(history []Observation, action string) time.Duration {
	var prev time.Time
	var total time.Duration
	gaps := 0
	for _, obs := range history {
		if obs.Action != action {
			continue
		}
		if !prev.IsZero() {
			total += obs.Timestamp.Sub(prev)
			gaps++
		}
		prev = obs.Timestamp
	}
	if gaps == 0 {
		return 0
	}
	return total / time.Duration(gaps)
}

func lastSeen(history []Observation, action string) (time.Time, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Action == action {
			return history[i].Timestamp, true
		}
	}
	return time.Time{}, false
}

func (s *store) load(ctx context.Context, identity string) (*Profile, bool) {
	if s.cache.Healthy() {
		var data string
		err := s.cache.Execute(ctx, func(ctx context.Context) error {
			res, err := s.cache.RedisClient().Get(ctx, fmt.Sprintf(profileKeyPattern, identity)).Result()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					return nil
				}
				return err
			}
			data = res
			return nil
		})
		if err != nil {
			s.logger.WithError(err).Debug("behavior read fell back to local state")
		} else if data != "" {
			var profile Profile
			if err := json.Unmarshal([]byte(data), &profile); err == nil {
				return &profile, true
			}
			s.logger.WithField("identity", identity).Warn("discarding undecodable behavior profile")
		}
	}
	if value, ok := s.local.Get(identity); ok {
		if profile, ok := value.(Profile); ok {
			clone := profile
			clone.History = append([]Observation(nil), profile.History...)
			return &clone, true
		}
	}
	return nil, false
}

func (s *store) persist(ctx context.Context, profile *Profile) {
	s.local.SetFor(profile.Identity, *profile, s.cfg.Retention)

	data, err := json.Marshal(profile)
	if err != nil {
		return
	}
	if err := s.cache.Execute(ctx, func(ctx context.Context) error {
		return s.cache.RedisClient().Set(ctx, fmt.Sprintf(profileKeyPattern, profile.Identity), string(data), s.cfg.Retention).Err()
	}); err != nil {
		s.logger.WithError(err).Debug("behavior write skipped shared cache")
	}
}

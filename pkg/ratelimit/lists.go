package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/axiestudio/aichatbot-sub000/pkg/cache"
)

const (
	blacklistKeyPattern = "bl:%s"
	whitelistKeyPattern = "wl:%s"

	blacklistMapName = "rl_blacklist"
	whitelistMapName = "rl_whitelist"
)

// Entry is one blacklist or whitelist record. A zero ExpiresAt means the
// entry never expires.
type Entry struct {
	Identity  string    `json:"identity"`
	Reason    string    `json:"reason,omitempty"`
	AddedAt   time.Time `json:"added_at"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// ListStore holds the blacklist and whitelist. Entries are mirrored to
// the shared cache so every instance converges on the same verdicts, with
// the local copy answering when the cache is unreachable. Blacklist
// lookups fail closed: an identity this instance flagged stays blocked
// through a cache outage.
type ListStore struct {
	cache  cache.Client
	logger *logrus.Logger
	black  *cache.TTLMap
	white  *cache.TTLMap
	now    func() time.Time
}

func NewListStore(c cache.Client, logger *logrus.Logger, now func() time.Time) *ListStore {
	if now == nil {
		now = time.Now
	}
	return &ListStore{
		cache:  c,
		logger: logger,
		black:  c.CreateTTLMap(blacklistMapName, 0),
		white:  c.CreateTTLMap(whitelistMapName, 0),
		now:    now,
	}
}

// Blacklist blocks the identity for d. d <= 0 blocks it until an operator
// removes the entry.
func (s *ListStore) Blacklist(ctx context.Context, identity, reason string, d time.Duration) Entry {
	entry := Entry{
		Identity: identity,
		Reason:   reason,
		AddedAt:  s.now(),
	}
	if d > 0 {
		entry.ExpiresAt = entry.AddedAt.Add(d)
	}

	s.black.SetFor(identity, entry, d)
	s.mirror(ctx, fmt.Sprintf(blacklistKeyPattern, identity), entry, d)

	s.logger.WithFields(logrus.Fields{
		"identity": identity,
		"reason":   reason,
		"duration": d.String(),
	}).Warn("identity blacklisted")
	return entry
}

// Whitelist exempts the identity from scoring and rate limits for d;
// d <= 0 keeps the exemption until removed.
func (s *ListStore) Whitelist(ctx context.Context, identity, reason string, d time.Duration) Entry {
	entry := Entry{
		Identity: identity,
		Reason:   reason,
		AddedAt:  s.now(),
	}
	if d > 0 {
		entry.ExpiresAt = entry.AddedAt.Add(d)
	}

	s.white.SetFor(identity, entry, d)
	s.mirror(ctx, fmt.Sprintf(whitelistKeyPattern, identity), entry, d)
	return entry
}

func (s *ListStore) RemoveFromBlacklist(ctx context.Context, identity string) {
	s.black.Delete(identity)
	if err := s.cache.Delete(ctx, fmt.Sprintf(blacklistKeyPattern, identity)); err != nil {
		s.logger.WithError(err).Debug("blacklist removal skipped shared cache")
	}
}

func (s *ListStore) RemoveFromWhitelist(ctx context.Context, identity string) {
	s.white.Delete(identity)
	if err := s.cache.Delete(ctx, fmt.Sprintf(whitelistKeyPattern, identity)); err != nil {
		s.logger.WithError(err).Debug("whitelist removal skipped shared cache")
	}
}

// IsBlacklisted reports whether the identity is currently blocked, and
// the entry behind the verdict.
func (s *ListStore) IsBlacklisted(ctx context.Context, identity string) (Entry, bool) {
	return s.lookup(ctx, identity, s.black, blacklistKeyPattern)
}

// IsWhitelisted reports whether the identity bypasses scoring and limits.
func (s *ListStore) IsWhitelisted(ctx context.Context, identity string) (Entry, bool) {
	return s.lookup(ctx, identity, s.white, whitelistKeyPattern)
}

func (s *ListStore) lookup(ctx context.Context, identity string, local *cache.TTLMap, pattern string) (Entry, bool) {
	if value, ok := local.Get(identity); ok {
		if entry, ok := value.(Entry); ok {
			return entry, true
		}
	}
	if !s.cache.Healthy() {
		return Entry{}, false
	}

	var data string
	err := s.cache.Execute(ctx, func(ctx context.Context) error {
		res, err := s.cache.RedisClient().Get(ctx, fmt.Sprintf(pattern, identity)).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil
			}
			return err
		}
		data = res
		return nil
	})
	if err != nil || data == "" {
		return Entry{}, false
	}

	var entry Entry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		s.logger.WithField("identity", identity).Warn("discarding undecodable list entry")
		return Entry{}, false
	}

	// Adopt the shared entry locally so this instance keeps the verdict
	// through an outage.
	ttl := time.Duration(0)
	if !entry.ExpiresAt.IsZero() {
		ttl = entry.ExpiresAt.Sub(s.now())
		if ttl <= 0 {
			return Entry{}, false
		}
	}
	local.SetFor(identity, entry, ttl)
	return entry, true
}

// Entries snapshots both lists from local state for the ops surface.
func (s *ListStore) Entries() (blacklist, whitelist []Entry) {
	s.black.Range(func(_ string, value interface{}, _ time.Time) bool {
		if entry, ok := value.(Entry); ok {
			blacklist = append(blacklist, entry)
		}
		return true
	})
	s.white.Range(func(_ string, value interface{}, _ time.Time) bool {
		if entry, ok := value.(Entry); ok {
			whitelist = append(whitelist, entry)
		}
		return true
	})
	return blacklist, whitelist
}

// Prune drops expired local entries; shared entries expire on the Redis
// side via their TTL.
func (s *ListStore) Prune() int {
	return s.black.PruneExpired() + s.white.PruneExpired()
}

func (s *ListStore) mirror(ctx context.Context, key string, entry Entry, ttl time.Duration) {
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := s.cache.Execute(ctx, func(ctx context.Context) error {
		return s.cache.RedisClient().Set(ctx, key, string(data), ttl).Err()
	}); err != nil {
		s.logger.WithError(err).Debug("list write skipped shared cache")
	}
}

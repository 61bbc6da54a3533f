package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/axiestudio/aichatbot-sub000/internal/syncutil"
	"github.com/axiestudio/aichatbot-sub000/pkg/cache"
	"github.com/axiestudio/aichatbot-sub000/pkg/features"
)

const (
	deviceKeyPattern = "fp:%s"
	localMapName     = "fingerprints"

	initialTrust = 0.5
	maxTrustStep = 0.2
)

// expectedHeaders are sent by effectively every real browser. A client
// missing more than one of them is either a broken proxy or a script.
var expectedHeaders = []string{"User-Agent", "Accept", "Accept-Language"}

// Device is the tracked record behind one fingerprint token.
type Device struct {
	Token            string    `json:"token"`
	TrustScore       float64   `json:"trust_score"`
	FirstSeen        time.Time `json:"first_seen"`
	LastSeen         time.Time `json:"last_seen"`
	InteractionCount int64     `json:"interaction_count"`
}

// Distrust reports how far below neutral the device trust has sunk,
// normalized to [0,1]. Devices at or above the initial trust contribute 0.
func (d *Device) Distrust() float64 {
	if d == nil || d.TrustScore >= initialTrust {
		return 0
	}
	return (initialTrust - d.TrustScore) / initialTrust
}

//go:generate mockery --name=Registry --dir=. --output=../../../mocks --filename=fingerprint_registry_mock.go --case=underscore --with-expecter
type Registry interface {
	Compute(headers map[string][]string, sourceAddress string) string
	IsSuspicious(headers map[string][]string) bool
	UpdateTrust(ctx context.Context, token string, delta float64, now time.Time) *Device
	Get(ctx context.Context, token string) (*Device, bool)
	EvictStale() int
}

type registry struct {
	cache     cache.Client
	logger    *logrus.Logger
	retention time.Duration
	local     *cache.TTLMap
	locks     syncutil.KeyMutex
}

func NewRegistry(c cache.Client, logger *logrus.Logger, retention time.Duration) Registry {
	return &registry{
		cache:     c,
		logger:    logger,
		retention: retention,
		local:     c.CreateTTLMap(localMapName, retention),
	}
}

// Compute derives the stable fingerprint token for a request. Identical
// header shapes from the same address class always hash to the same token.
func (r *registry) Compute(headers map[string][]string, sourceAddress string) string {
	parts := []string{
		canonicalValue(headers, "User-Agent"),
		canonicalValue(headers, "Accept"),
		canonicalValue(headers, "Accept-Language"),
		canonicalValue(headers, "Accept-Encoding"),
		strconv.FormatBool(isPrivateAddress(sourceAddress)),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// IsSuspicious flags automation user agents and clients stripped of the
// headers ordinary browsers always send.
func (r *registry) IsSuspicious(headers map[string][]string) bool {
	if ua := canonicalValue(headers, "User-Agent"); ua != "" && features.MatchesAutomation(ua) {
		return true
	}
	missing := 0
	for _, name := range expectedHeaders {
		if canonicalValue(headers, name) == "" {
			missing++
		}
	}
	return missing > 1
}

// UpdateTrust applies a bounded trust adjustment to the device record,
// creating it at the neutral score on first sight. The returned copy is
// never nil; shared cache failures degrade to instance-local state.
func (r *registry) UpdateTrust(ctx context.Context, token string, delta float64, now time.Time) *Device {
	release := r.locks.Lock(token)
	defer release()

	dev, ok := r.load(ctx, token)
	if !ok {
		dev = &Device{Token: token, TrustScore: initialTrust, FirstSeen: now}
	}

	if delta > maxTrustStep {
		delta = maxTrustStep
	}
	if delta < -maxTrustStep {
		delta = -maxTrustStep
	}
	dev.TrustScore = clamp01(dev.TrustScore + delta)
	dev.LastSeen = now
	dev.InteractionCount++

	r.store(ctx, dev)
	return dev
}

func (r *registry) Get(ctx context.Context, token string) (*Device, bool) {
	release := r.locks.Lock(token)
	defer release()
	return r.load(ctx, token)
}

// EvictStale drops local records past retention. Shared cache entries
// carry their own TTL and expire on the Redis side.
func (r *registry) EvictStale() int {
	return r.local.PruneExpired()
}

func (r *registry) load(ctx context.Context, token string) (*Device, bool) {
	if r.cache.Healthy() {
		var data string
		err := r.cache.Execute(ctx, func(ctx context.Context) error {
			res, err := r.cache.RedisClient().Get(ctx, fmt.Sprintf(deviceKeyPattern, token)).Result()
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
			r.logger.WithError(err).Debug("fingerprint read fell back to local state")
		} else if data != "" {
			var dev Device
			if err := json.Unmarshal([]byte(data), &dev); err == nil {
				return &dev, true
			}
			r.logger.WithField("token", token).Warn("discarding undecodable fingerprint record")
		}
	}
	if value, ok := r.local.Get(token); ok {
		if dev, ok := value.(Device); ok {
			return &dev, true
		}
	}
	return nil, false
}

func (r *registry) store(ctx context.Context, dev *Device) {
	r.local.SetFor(dev.Token, *dev, r.retention)

	data, err := json.Marshal(dev)
	if err != nil {
		return
	}
	if err := r.cache.Execute(ctx, func(ctx context.Context) error {
		return r.cache.RedisClient().Set(ctx, fmt.Sprintf(deviceKeyPattern, dev.Token), string(data), r.retention).Err()
	}); err != nil {
		r.logger.WithError(err).Debug("fingerprint write skipped shared cache")
	}
}

func canonicalValue(headers map[string][]string, name string) string {
	values := headers[textproto.CanonicalMIMEHeaderKey(name)]
	if len(values) == 0 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(values[0]))
}

func isPrivateAddress(sourceAddress string) bool {
	host := sourceAddress
	if h, _, err := net.SplitHostPort(sourceAddress); err == nil {
		host = h
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast()
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

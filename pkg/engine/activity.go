package engine

import (
	"time"

	"github.com/axiestudio/aichatbot-sub000/internal/syncutil"
	"github.com/axiestudio/aichatbot-sub000/pkg/cache"
)

const defaultActivityWindow = 5 * time.Minute

// activitySample is one observed request in an identity's recent window.
type activitySample struct {
	timestamp time.Time
	endpoint  string
	errored   bool
}

type activityRecord struct {
	samples []activitySample
}

// ActivityStats feed the frequency, error-rate and endpoint-diversity
// terms of the risk score.
type ActivityStats struct {
	RequestsPerMinute float64
	ErrorRate         float64
	EndpointCount     int
}

// activityTracker keeps a short instance-local window of requests per
// identity. Frequency signals tolerate per-instance visibility, so this
// never touches the shared cache.
type activityTracker struct {
	window  time.Duration
	locks   syncutil.KeyMutex
	entries *cache.TTLMap
	now     func() time.Time
}

func newActivityTracker(window time.Duration, now func() time.Time) *activityTracker {
	if window <= 0 {
		window = defaultActivityWindow
	}
	if now == nil {
		now = time.Now
	}
	return &activityTracker{
		window:  window,
		entries: cache.NewTTLMap(window),
		now:     now,
	}
}

// Observe folds the current request into the identity's window and
// returns the stats including it. The error flag comes from the caller's
// prior response status, the only retrospective signal available at
// decision time.
func (t *activityTracker) Observe(identity, endpoint string, priorStatus int) ActivityStats {
	release := t.locks.Lock(identity)
	defer release()

	now := t.now()
	cutoff := now.Add(-t.window)

	var rec *activityRecord
	if value, ok := t.entries.Get(identity); ok {
		rec, _ = value.(*activityRecord)
	}
	if rec == nil {
		rec = &activityRecord{}
	}

	retained := rec.samples[:0]
	for _, s := range rec.samples {
		if s.timestamp.After(cutoff) {
			retained = append(retained, s)
		}
	}
	rec.samples = append(retained, activitySample{
		timestamp: now,
		endpoint:  endpoint,
		errored:   priorStatus >= 400,
	})
	t.entries.SetFor(identity, rec, t.window)

	return t.stats(rec)
}

func (t *activityTracker) stats(rec *activityRecord) ActivityStats {
	total := len(rec.samples)
	if total == 0 {
		return ActivityStats{}
	}

	errored := 0
	endpoints := make(map[string]struct{}, total)
	for _, s := range rec.samples {
		if s.errored {
			errored++
		}
		endpoints[s.endpoint] = struct{}{}
	}

	return ActivityStats{
		RequestsPerMinute: float64(total) / t.window.Minutes(),
		ErrorRate:         float64(errored) / float64(total),
		EndpointCount:     len(endpoints),
	}
}

// Compact drops idle identities. Janitor work.
func (t *activityTracker) Compact() int {
	return t.entries.PruneExpired()
}

package engine

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/axiestudio/aichatbot-sub000/pkg/behavior"
	"github.com/axiestudio/aichatbot-sub000/pkg/infra/fingerprint"
)

// Default janitor cadences. Each loop runs on its own ticker, decoupled
// from the request path; none holds a shard lock beyond one key's
// update.
const (
	defaultFingerprintSweep = 10 * time.Minute
	defaultBehaviorSweep    = 15 * time.Minute
	defaultWindowSweep      = time.Minute
	defaultBreakerSweep     = 5 * time.Minute
	breakerIdleRetention    = time.Hour
)

// Janitor runs the periodic pruning loops: stale fingerprints, expired
// behavioral profiles, aged-out rate-limit windows and idle circuits.
type Janitor struct {
	engine       *Engine
	fingerprints fingerprint.Registry
	behavior     behavior.Store
	logger       *logrus.Logger

	stop     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func NewJanitor(engine *Engine, fingerprints fingerprint.Registry, store behavior.Store, logger *logrus.Logger) *Janitor {
	return &Janitor{
		engine:       engine,
		fingerprints: fingerprints,
		behavior:     store,
		logger:       logger,
		stop:         make(chan struct{}),
	}
}

// Start launches the sweep loops.
func (j *Janitor) Start() {
	j.loop("fingerprints", defaultFingerprintSweep, func() int {
		return j.fingerprints.EvictStale()
	})
	j.loop("behavior", defaultBehaviorSweep, func() int {
		return j.behavior.Prune()
	})
	j.loop("windows", defaultWindowSweep, func() int {
		return j.engine.Limiter().Compact() + j.engine.CompactActivity()
	})
	j.loop("breakers", defaultBreakerSweep, func() int {
		return j.engine.Breakers().Sweep(breakerIdleRetention)
	})
}

// Stop halts every loop and waits for in-flight sweeps to finish.
func (j *Janitor) Stop() {
	j.stopOnce.Do(func() {
		close(j.stop)
	})
	j.wg.Wait()
}

func (j *Janitor) loop(name string, every time.Duration, sweep func() int) {
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()

		ticker := time.NewTicker(every)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				j.sweepSafely(name, sweep)
			case <-j.stop:
				return
			}
		}
	}()
}

// sweepSafely keeps one panicking sweep from taking the whole janitor
// down.
func (j *Janitor) sweepSafely(name string, sweep func() int) {
	defer func() {
		if r := recover(); r != nil {
			j.logger.WithFields(logrus.Fields{
				"loop":  name,
				"panic": r,
			}).Error("janitor sweep panicked")
		}
	}()

	if removed := sweep(); removed > 0 {
		j.logger.WithFields(logrus.Fields{
			"loop":    name,
			"removed": removed,
		}).Debug("janitor sweep completed")
	}
}

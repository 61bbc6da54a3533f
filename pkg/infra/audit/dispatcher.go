package audit

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/axiestudio/aichatbot-sub000/pkg/domain/threat"
	"github.com/axiestudio/aichatbot-sub000/pkg/infra/metrics"
)

const (
	defaultQueueSize  = 4096
	defaultBatchSize  = 64
	defaultFlushEvery = time.Second
	sinkWriteTimeout  = 5 * time.Second
)

// Sink stores a batch of threat events durably.
type Sink interface {
	Name() string
	Write(ctx context.Context, events []threat.Event) error
	Close()
}

// Dispatcher decouples the decision path from the audit sinks: Enqueue
// never blocks, the worker drains the queue in batches, and when the
// queue is full the oldest event is dropped in favor of the newest. A
// full audit pipeline must never slow a decision down.
type Dispatcher struct {
	queue  chan threat.Event
	sinks  []Sink
	logger *logrus.Logger

	batchSize  int
	flushEvery time.Duration

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

type DispatcherOpts struct {
	QueueSize  int
	BatchSize  int
	FlushEvery time.Duration
}

func NewDispatcher(sinks []Sink, logger *logrus.Logger, opts DispatcherOpts) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.FlushEvery <= 0 {
		opts.FlushEvery = defaultFlushEvery
	}

	d := &Dispatcher{
		queue:      make(chan threat.Event, opts.QueueSize),
		sinks:      sinks,
		logger:     logger,
		batchSize:  opts.BatchSize,
		flushEvery: opts.FlushEvery,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	go d.run()
	return d
}

// Enqueue hands an event to the worker without ever blocking. On a full
// queue the oldest queued event is dropped to make room.
func (d *Dispatcher) Enqueue(event threat.Event) {
	for {
		select {
		case d.queue <- event:
			return
		default:
		}
		select {
		case <-d.queue:
			metrics.AuditEventDropped()
		default:
		}
	}
}

// Stop drains the queue into the sinks, bounded by the given timeout,
// then closes them.
func (d *Dispatcher) Stop(timeout time.Duration) {
	d.stopOnce.Do(func() {
		close(d.stop)
		select {
		case <-d.done:
		case <-time.After(timeout):
			d.logger.Warn("audit queue drain timed out")
		}
		for _, sink := range d.sinks {
			sink.Close()
		}
	})
}

func (d *Dispatcher) run() {
	defer close(d.done)

	ticker := time.NewTicker(d.flushEvery)
	defer ticker.Stop()

	batch := make([]threat.Event, 0, d.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		d.write(batch)
		batch = batch[:0]
	}

	for {
		select {
		case event := <-d.queue:
			batch = append(batch, event)
			if len(batch) >= d.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-d.stop:
			for {
				select {
				case event := <-d.queue:
					batch = append(batch, event)
					if len(batch) >= d.batchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

func (d *Dispatcher) write(batch []threat.Event) {
	events := make([]threat.Event, len(batch))
	copy(events, batch)

	for _, sink := range d.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), sinkWriteTimeout)
		if err := sink.Write(ctx, events); err != nil {
			d.logger.WithError(err).WithField("sink", sink.Name()).Warn("audit sink write failed")
		}
		cancel()
	}
}

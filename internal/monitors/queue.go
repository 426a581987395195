package monitors

import (
	"context"
	"log/slog"
	"time"

	"github.com/miradorstack/mirador-ir/internal/classify"
	"github.com/miradorstack/mirador-ir/internal/metrics"
	"github.com/miradorstack/mirador-ir/internal/models"
)

// Queue is a bounded in-memory buffer for signals produced by in-process
// callers (agents embedding the engine). Offer never blocks; a full queue
// drops the signal and counts it.
type Queue struct {
	ch     chan models.Signal
	logger *slog.Logger
}

// NewQueue constructs a Queue holding up to size signals.
func NewQueue(logger *slog.Logger, size int) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	if size <= 0 {
		size = 256
	}
	return &Queue{ch: make(chan models.Signal, size), logger: logger}
}

// Offer enqueues a signal without blocking. It reports whether the signal
// was accepted.
func (q *Queue) Offer(sig models.Signal) bool {
	select {
	case q.ch <- sig:
		return true
	default:
		q.logger.Warn("signal queue full, dropping", slog.String("origin", sig.Origin))
		metrics.ObserveSignal("queue", metrics.OutcomeMalformed)
		return false
	}
}

// Len returns the number of buffered signals.
func (q *Queue) Len() int { return len(q.ch) }

// QueueDrainer periodically drains batches from a Queue into the registry.
type QueueDrainer struct {
	logger    *slog.Logger
	matcher   *classify.Matcher
	submitter Submitter
	queue     *Queue
	interval  time.Duration
	batchSize int
}

// NewQueueDrainer constructs a QueueDrainer.
func NewQueueDrainer(logger *slog.Logger, matcher *classify.Matcher, submitter Submitter,
	queue *Queue, interval time.Duration, batchSize int) *QueueDrainer {

	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 32
	}
	return &QueueDrainer{
		logger:    logger,
		matcher:   matcher,
		submitter: submitter,
		queue:     queue,
		interval:  interval,
		batchSize: batchSize,
	}
}

// Name implements Monitor.
func (d *QueueDrainer) Name() string { return "queue" }

// Run implements Monitor.
func (d *QueueDrainer) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Drain(ctx)
		}
	}
}

// Drain submits up to one batch of queued signals.
func (d *QueueDrainer) Drain(ctx context.Context) {
	for i := 0; i < d.batchSize; i++ {
		if ctx.Err() != nil {
			return
		}
		select {
		case sig := <-d.queue.ch:
			submitSignal(d.logger, d.matcher, d.submitter, d.Name(), sig, models.SourceQueue, nil, nil)
		default:
			return
		}
	}
}

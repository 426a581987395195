// Package reports turns terminal incidents into durable artifacts: escalation
// notices for operators and closure reports for the record. Payloads are
// journalled to the sink before delivery so a crash never loses one.
package reports

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-ir/internal/metrics"
	"github.com/miradorstack/mirador-ir/internal/models"
)

const (
	// KindEscalation labels operator hand-off notices.
	KindEscalation = "escalation"
	// KindReport labels closure reports.
	KindReport = "report"
)

// Notifier delivers terminal-incident payloads to the outside world.
type Notifier interface {
	NotifyEscalation(ctx context.Context, notice models.EscalationNotice) error
	NotifyClosure(ctx context.Context, report models.IncidentReport) error
}

// LogNotifier writes notifications to the structured log. It is the default
// delivery channel when no external notifier is configured.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier constructs a LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// NotifyEscalation implements Notifier.
func (n *LogNotifier) NotifyEscalation(_ context.Context, notice models.EscalationNotice) error {
	n.logger.Warn("ESCALATION: human intervention required",
		slog.String("incident_id", notice.IncidentID),
		slog.String("severity", notice.Severity.String()),
		slog.String("title", notice.Title),
		slog.String("reason", notice.Reason))
	return nil
}

// NotifyClosure implements Notifier.
func (n *LogNotifier) NotifyClosure(_ context.Context, report models.IncidentReport) error {
	n.logger.Info("incident report",
		slog.String("report_id", report.ReportID),
		slog.String("narrative", RenderNarrative(report)))
	return nil
}

// Envelope is one journalled payload awaiting delivery. Exactly one of
// Notice or Report is set, matching Kind.
type Envelope struct {
	Kind   string
	Key    string
	Notice *models.EscalationNotice
	Report *models.IncidentReport
}

// Sink persists payloads and tracks which ones have been delivered.
type Sink interface {
	Save(env Envelope) error
	MarkEmitted(key string) error
	Unemitted() ([]Envelope, error)
	Close() error
}

// DeadLetter records a payload that exhausted its delivery attempts.
type DeadLetter struct {
	Kind       string    `json:"kind"`
	Key        string    `json:"key"`
	IncidentID string    `json:"incidentId"`
	Attempts   int       `json:"attempts"`
	LastError  string    `json:"lastError"`
	FailedAt   time.Time `json:"failedAt"`
}

// Emitter journals terminal-incident payloads and delivers them
// asynchronously with bounded retries. Publish methods never block the
// registry's advancement path.
type Emitter struct {
	logger        *slog.Logger
	notifier      Notifier
	sink          Sink
	retryInterval time.Duration
	maxAttempts   int
	now           func() time.Time

	queue chan Envelope
	wg    sync.WaitGroup

	mu          sync.Mutex
	closed      bool
	deadLetters []DeadLetter
}

// NewEmitter constructs an Emitter. Zero retry settings fall back to five
// attempts spaced from five seconds.
func NewEmitter(logger *slog.Logger, notifier Notifier, sink Sink, retryInterval time.Duration, maxAttempts int) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = NewLogNotifier(logger)
	}
	if retryInterval <= 0 {
		retryInterval = 5 * time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Emitter{
		logger:        logger,
		notifier:      notifier,
		sink:          sink,
		retryInterval: retryInterval,
		maxAttempts:   maxAttempts,
		now:           time.Now,
		queue:         make(chan Envelope, 256),
	}
}

// Start launches the delivery worker and replays any payloads journalled but
// not yet delivered before the last shutdown.
func (e *Emitter) Start(ctx context.Context) {
	if e.sink != nil {
		pending, err := e.sink.Unemitted()
		if err != nil {
			e.logger.Error("replay scan failed", slog.Any("error", err))
		}
		for _, env := range pending {
			e.enqueue(env)
		}
		if len(pending) > 0 {
			e.logger.Info("replaying undelivered payloads", slog.Int("count", len(pending)))
		}
	}

	e.wg.Add(1)
	go e.worker(ctx)
}

// Close drains the queue and stops the worker. Publishes arriving after
// Close are journalled but not delivered until the next start replays them.
func (e *Emitter) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	close(e.queue)
	e.mu.Unlock()
	e.wg.Wait()
}

// PublishEscalation implements the registry's publisher contract.
func (e *Emitter) PublishEscalation(inc *models.Incident) {
	notice := models.EscalationNotice{
		IncidentID: inc.ID,
		Title:      inc.Title,
		Severity:   inc.Severity,
		Reason:     inc.EscalationReason,
		CreatedAt:  inc.CreatedAt,
	}
	if inc.EscalatedAt != nil {
		notice.EscalatedAt = *inc.EscalatedAt
	}

	env := Envelope{Kind: KindEscalation, Key: EscalationKey(inc.ID), Notice: &notice}
	e.journalAndEnqueue(env)
}

// PublishClosure implements the registry's publisher contract.
func (e *Emitter) PublishClosure(inc *models.Incident) {
	report := BuildReport(inc, uuid.NewString(), e.now())
	env := Envelope{Kind: KindReport, Key: ReportKey(report.ReportID), Report: &report}
	e.journalAndEnqueue(env)
}

// DeadLetters returns payloads that exhausted their delivery attempts.
func (e *Emitter) DeadLetters() []DeadLetter {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]DeadLetter(nil), e.deadLetters...)
}

func (e *Emitter) journalAndEnqueue(env Envelope) {
	if e.sink != nil {
		if err := e.sink.Save(env); err != nil {
			e.logger.Error("journal write failed",
				slog.String("kind", env.Kind),
				slog.String("key", env.Key),
				slog.Any("error", err))
		}
	}
	e.enqueue(env)
}

func (e *Emitter) enqueue(env Envelope) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		// Emitter already shut down. The payload is journalled; replay picks
		// it up on the next start.
		e.logger.Warn("delivery queue closed, deferring to replay",
			slog.String("kind", env.Kind),
			slog.String("key", env.Key))
		metrics.ObserveDelivery(env.Kind, metrics.OutcomeFailure)
		return
	}

	select {
	case e.queue <- env:
	default:
		// Queue full. The payload is journalled; replay picks it up on the
		// next start.
		e.logger.Warn("delivery queue full, deferring to replay",
			slog.String("kind", env.Kind),
			slog.String("key", env.Key))
		metrics.ObserveDelivery(env.Kind, metrics.OutcomeFailure)
	}
}

func (e *Emitter) worker(ctx context.Context) {
	defer e.wg.Done()

	for env := range e.queue {
		e.deliver(ctx, env)
	}
}

// deliver attempts delivery with linearly growing backoff, dead-lettering
// after maxAttempts.
func (e *Emitter) deliver(ctx context.Context, env Envelope) {
	var lastErr error
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		lastErr = e.notify(ctx, env)
		if lastErr == nil {
			if e.sink != nil {
				if err := e.sink.MarkEmitted(env.Key); err != nil {
					e.logger.Error("mark emitted failed",
						slog.String("key", env.Key),
						slog.Any("error", err))
				}
			}
			metrics.ObserveDelivery(env.Kind, metrics.OutcomeSuccess)
			return
		}

		e.logger.Warn("delivery attempt failed",
			slog.String("kind", env.Kind),
			slog.String("key", env.Key),
			slog.Int("attempt", attempt),
			slog.Any("error", lastErr))
		if attempt == e.maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(e.retryInterval * time.Duration(attempt)):
		}
	}

	metrics.ObserveDelivery(env.Kind, metrics.OutcomeFailure)
	e.mu.Lock()
	e.deadLetters = append(e.deadLetters, DeadLetter{
		Kind:       env.Kind,
		Key:        env.Key,
		IncidentID: env.incidentID(),
		Attempts:   e.maxAttempts,
		LastError:  lastErr.Error(),
		FailedAt:   e.now(),
	})
	e.mu.Unlock()
}

func (e *Emitter) notify(ctx context.Context, env Envelope) error {
	switch {
	case env.Notice != nil:
		return e.notifier.NotifyEscalation(ctx, *env.Notice)
	case env.Report != nil:
		return e.notifier.NotifyClosure(ctx, *env.Report)
	default:
		return nil
	}
}

func (env Envelope) incidentID() string {
	switch {
	case env.Notice != nil:
		return env.Notice.IncidentID
	case env.Report != nil:
		return env.Report.IncidentID
	default:
		return ""
	}
}

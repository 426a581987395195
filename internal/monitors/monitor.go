// Package monitors contains the independent signal producers: log scanner,
// health prober, workflow-failure listener, and queue drainer. Monitors
// classify raw signals and hand candidates to the registry; they never touch
// incident state directly.
package monitors

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/miradorstack/mirador-ir/internal/classify"
	"github.com/miradorstack/mirador-ir/internal/metrics"
	"github.com/miradorstack/mirador-ir/internal/models"
)

// Submitter is the registry surface monitors submit through.
type Submitter interface {
	Submit(cand models.Candidate) (string, bool, error)
}

// Monitor is one long-running signal producer.
type Monitor interface {
	Name() string
	Run(ctx context.Context)
}

// Set starts monitors concurrently and waits for all of them on shutdown.
type Set struct {
	logger   *slog.Logger
	monitors []Monitor
	wg       sync.WaitGroup
}

// NewSet constructs an empty monitor set.
func NewSet(logger *slog.Logger) *Set {
	if logger == nil {
		logger = slog.Default()
	}
	return &Set{logger: logger}
}

// Add registers monitors to run.
func (s *Set) Add(monitors ...Monitor) {
	s.monitors = append(s.monitors, monitors...)
}

// Start launches every monitor in its own goroutine.
func (s *Set) Start(ctx context.Context) {
	for _, m := range s.monitors {
		s.wg.Add(1)
		go func(m Monitor) {
			defer s.wg.Done()
			s.logger.Info("monitor started", slog.String("monitor", m.Name()))
			m.Run(ctx)
			s.logger.Info("monitor stopped", slog.String("monitor", m.Name()))
		}(m)
	}
}

// Wait blocks until all monitors have returned.
func (s *Set) Wait() {
	s.wg.Wait()
}

// submitSignal classifies one raw signal and submits the resulting candidate.
// Suppressed and malformed signals are counted and dropped.
func submitSignal(logger *slog.Logger, matcher *classify.Matcher, submitter Submitter,
	monitor string, sig models.Signal, source models.Source, agents, services []string) {

	if strings.TrimSpace(sig.RawText) == "" {
		metrics.ObserveSignal(monitor, metrics.OutcomeMalformed)
		return
	}

	result := matcher.Classify(sig.RawText)
	if result.Suppressed {
		metrics.ObserveSignal(monitor, metrics.OutcomeSuppressed)
		return
	}

	cand := models.Candidate{
		Title:            classify.TitleFromSignal(sig.RawText),
		Description:      sig.RawText,
		Severity:         result.Severity,
		Source:           source,
		Tags:             result.Tags,
		AffectedAgents:   agents,
		AffectedServices: services,
		ObservedAt:       sig.Timestamp,
	}

	id, created, err := submitter.Submit(cand)
	if err != nil {
		metrics.ObserveSignal(monitor, metrics.OutcomeMalformed)
		logger.Warn("candidate rejected",
			slog.String("monitor", monitor),
			slog.Any("error", err))
		return
	}
	if !created {
		metrics.ObserveSignal(monitor, metrics.OutcomeDuplicate)
		return
	}
	metrics.ObserveSignal(monitor, metrics.OutcomeAccepted)
	logger.Info("signal accepted",
		slog.String("monitor", monitor),
		slog.String("incident_id", id),
		slog.String("origin", sig.Origin))
}

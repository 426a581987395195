package registry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/miradorstack/mirador-ir/internal/models"
)

// Dispatcher periodically advances every active incident by one pipeline
// stage. Incidents the skip hook claims (resolver-eligible ones) are left for
// the resolver sweep.
type Dispatcher struct {
	registry *Registry
	logger   *slog.Logger
	interval time.Duration
	skip     func(inc *models.Incident) bool
}

// NewDispatcher constructs a Dispatcher. A nil skip hook advances everything.
func NewDispatcher(registry *Registry, logger *slog.Logger, interval time.Duration, skip func(*models.Incident) bool) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Dispatcher{
		registry: registry,
		logger:   logger,
		interval: interval,
		skip:     skip,
	}
}

// Run drives the tick loop until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.logger.Info("dispatcher started", slog.Duration("interval", d.interval))
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopped")
			return
		case <-ticker.C:
			d.Tick(ctx)
		}
	}
}

// Tick advances each active incident once. Exposed for tests and for the
// resolver to piggyback on.
func (d *Dispatcher) Tick(ctx context.Context) {
	for _, inc := range d.registry.Active() {
		if ctx.Err() != nil {
			return
		}
		if d.skip != nil && d.skip(inc) {
			continue
		}
		if err := d.registry.Advance(ctx, inc.ID); err != nil {
			if errors.Is(err, ErrTerminalState) || errors.Is(err, ErrUnknownIncident) {
				continue
			}
			d.logger.Error("advance failed",
				slog.String("incident_id", inc.ID),
				slog.Any("error", err))
		}
	}
}

// Package resolver periodically sweeps detected incidents and closes the
// ones whose error pattern has a reliable remediation history, bypassing the
// full pipeline.
package resolver

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/miradorstack/mirador-ir/internal/models"
	"github.com/miradorstack/mirador-ir/internal/patterns"
	"github.com/miradorstack/mirador-ir/internal/registry"
)

// RootCauseNote is recorded on incidents the resolver closes.
const RootCauseNote = "auto-resolved from historical pattern"

// ErrIneligible is returned when an incident does not qualify for
// auto-resolution.
var ErrIneligible = errors.New("incident not eligible for auto-resolution")

// Thresholds gate which patterns are trusted for unattended resolution.
type Thresholds struct {
	// MinSeen is the occurrence count a pattern must exceed.
	MinSeen int
	// MinRate is the resolution success rate a pattern must exceed.
	MinRate float64
}

// DefaultThresholds requires a pattern seen more than five times with a
// success rate above 0.9.
func DefaultThresholds() Thresholds {
	return Thresholds{MinSeen: 5, MinRate: 0.9}
}

// Resolver owns the auto-resolution sweep.
type Resolver struct {
	registry   *registry.Registry
	store      *patterns.Store
	logger     *slog.Logger
	thresholds Thresholds
	interval   time.Duration
}

// New constructs a Resolver.
func New(reg *registry.Registry, store *patterns.Store, logger *slog.Logger, thresholds Thresholds, interval time.Duration) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	if thresholds.MinSeen <= 0 {
		thresholds = DefaultThresholds()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Resolver{
		registry:   reg,
		store:      store,
		logger:     logger,
		thresholds: thresholds,
		interval:   interval,
	}
}

// Eligible reports whether an incident qualifies for auto-resolution: either
// it is informational, or its pattern has a trusted fix history. The fix list
// is returned for eligible incidents.
func (r *Resolver) Eligible(inc *models.Incident) ([]string, bool) {
	if inc == nil || inc.Status != models.StatusDetected {
		return nil, false
	}

	pattern, ok := r.store.Lookup(inc.Title)
	if !ok {
		return nil, inc.Severity == models.SeverityP5
	}

	trusted := pattern.OccurrenceCount > r.thresholds.MinSeen &&
		pattern.ResolutionSuccessRate > r.thresholds.MinRate &&
		len(pattern.KnownFixes) > 0
	if trusted {
		return pattern.KnownFixes, true
	}
	return nil, inc.Severity == models.SeverityP5
}

// TryResolve auto-resolves a single incident if it qualifies.
func (r *Resolver) TryResolve(inc *models.Incident) error {
	fixes, ok := r.Eligible(inc)
	if !ok {
		return ErrIneligible
	}

	if err := r.registry.AutoResolve(inc.ID, fixes, RootCauseNote); err != nil {
		return err
	}
	r.logger.Info("incident auto-resolved",
		slog.String("incident_id", inc.ID),
		slog.String("title", inc.Title),
		slog.Any("fixes", fixes))
	return nil
}

// Sweep scans all active incidents once and auto-resolves the eligible ones.
// It returns the number of incidents closed.
func (r *Resolver) Sweep(ctx context.Context) int {
	resolved := 0
	for _, inc := range r.registry.Active() {
		if ctx.Err() != nil {
			return resolved
		}
		err := r.TryResolve(inc)
		switch {
		case err == nil:
			resolved++
		case errors.Is(err, ErrIneligible),
			errors.Is(err, registry.ErrUnknownIncident),
			errors.Is(err, registry.ErrInvalidTransition):
			// Lost the race with the dispatcher or simply not qualified.
		default:
			r.logger.Error("auto-resolution failed",
				slog.String("incident_id", inc.ID),
				slog.Any("error", err))
		}
	}
	return resolved
}

// Run drives the sweep loop until the context is cancelled.
func (r *Resolver) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("resolver started", slog.Duration("interval", r.interval))
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("resolver stopped")
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

package monitors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/miradorstack/mirador-ir/internal/classify"
	"github.com/miradorstack/mirador-ir/internal/models"
)

// ProbeTarget names one HTTP endpoint to check.
type ProbeTarget struct {
	Name string
	URL  string
}

// HealthProber checks configured endpoints on an interval. Each failed check
// yields exactly one signal; the next tick is the retry. Duplicate
// suppression in the registry keeps a persistently down endpoint from
// flooding the incident map.
type HealthProber struct {
	logger           *slog.Logger
	matcher          *classify.Matcher
	submitter        Submitter
	targets          []ProbeTarget
	interval         time.Duration
	timeout          time.Duration
	latencyThreshold time.Duration
	client           *http.Client
	now              func() time.Time
}

// NewHealthProber constructs a HealthProber.
func NewHealthProber(logger *slog.Logger, matcher *classify.Matcher, submitter Submitter,
	targets []ProbeTarget, interval, timeout, latencyThreshold time.Duration) *HealthProber {

	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if latencyThreshold <= 0 {
		latencyThreshold = 2 * time.Second
	}
	return &HealthProber{
		logger:           logger,
		matcher:          matcher,
		submitter:        submitter,
		targets:          targets,
		interval:         interval,
		timeout:          timeout,
		latencyThreshold: latencyThreshold,
		client:           &http.Client{Timeout: timeout},
		now:              time.Now,
	}
}

// Name implements Monitor.
func (p *HealthProber) Name() string { return "health-probe" }

// Run implements Monitor.
func (p *HealthProber) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.ProbeAll(ctx)
		}
	}
}

// ProbeAll checks every target once.
func (p *HealthProber) ProbeAll(ctx context.Context) {
	for _, target := range p.targets {
		if ctx.Err() != nil {
			return
		}
		if raw, unhealthy := p.probe(ctx, target); unhealthy {
			sig := models.Signal{Timestamp: p.now(), Origin: target.Name, RawText: raw}
			submitSignal(p.logger, p.matcher, p.submitter, p.Name(), sig,
				models.SourceHealthProbe, nil, []string{target.Name})
		}
	}
}

// probe performs one bounded check and, when unhealthy, phrases the finding
// so the classifier assigns the intended severity.
func (p *HealthProber) probe(ctx context.Context, target ProbeTarget) (string, bool) {
	probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, target.URL, nil)
	if err != nil {
		return fmt.Sprintf("ERROR: health probe misconfigured for %s: %v", target.Name, err), true
	}

	start := p.now()
	resp, err := p.client.Do(req)
	elapsed := p.now().Sub(start)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || probeCtx.Err() != nil {
			return fmt.Sprintf("ERROR: health probe timed out for %s after %s", target.Name, p.timeout), true
		}
		return fmt.Sprintf("ERROR: connection failed probing %s (%s): %v", target.Name, target.URL, err), true
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 500 {
		return fmt.Sprintf("ERROR: service unavailable at %s: status %d", target.Name, resp.StatusCode), true
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Sprintf("ERROR: health probe failed for %s: unexpected status %d", target.Name, resp.StatusCode), true
	}
	if elapsed > p.latencyThreshold {
		return fmt.Sprintf("Response time exceeded threshold for %s: %s > %s", target.Name, elapsed, p.latencyThreshold), true
	}
	return "", false
}

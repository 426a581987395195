// Package registry owns the incident lifecycle: it is the only writer of
// incident state, enforces the transition table, deduplicates bursts, and
// drives incidents through the remediation pipeline one stage at a time.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-ir/internal/metrics"
	"github.com/miradorstack/mirador-ir/internal/models"
	"github.com/miradorstack/mirador-ir/internal/patterns"
	"github.com/miradorstack/mirador-ir/internal/pipeline"
	"github.com/miradorstack/mirador-ir/internal/reports"
	"github.com/miradorstack/mirador-ir/internal/utils"
)

var (
	// ErrUnknownIncident is returned when no incident with the given id exists.
	ErrUnknownIncident = errors.New("unknown incident")
	// ErrTerminalState is returned when an operation targets a closed or
	// escalated incident.
	ErrTerminalState = errors.New("incident in terminal state")
	// ErrInvalidTransition is returned on a state-machine edge that does not exist.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrEmptyTitle is returned for candidates without a usable title.
	ErrEmptyTitle = errors.New("candidate title is empty")
)

// Publisher receives terminal-state notifications. Implementations must not
// block; the registry calls them while holding no locks but inside the
// advancement path.
type Publisher interface {
	PublishEscalation(inc *models.Incident)
	PublishClosure(inc *models.Incident)
}

// Options configures a Registry.
type Options struct {
	Logger          *slog.Logger
	Stages          []pipeline.StageExecutor
	StageDeps       *pipeline.Deps
	Patterns        *patterns.Store
	Publisher       Publisher
	DuplicateWindow time.Duration
	HistoryLimit    int
	Now             func() time.Time
}

// Registry tracks all incidents, active and historical. It serialises
// per-incident advancement so an incident is never driven by two goroutines
// at once.
type Registry struct {
	logger    *slog.Logger
	stages    []pipeline.StageExecutor
	deps      *pipeline.Deps
	patterns  *patterns.Store
	publisher Publisher
	dupWindow time.Duration
	histLimit int
	now       func() time.Time
	latency   *utils.LatencyTracker

	mu          sync.RWMutex
	active      map[string]*models.Incident
	activeTitle map[string]string
	history     []*models.Incident
	historyByID map[string]*models.Incident

	flightMu sync.Mutex
	flights  map[string]*sync.Mutex
}

// New constructs a Registry from Options, filling sensible defaults.
func New(opts Options) *Registry {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.DuplicateWindow <= 0 {
		opts.DuplicateWindow = 5 * time.Minute
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 1024
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	r := &Registry{
		logger:      opts.Logger,
		stages:      opts.Stages,
		deps:        opts.StageDeps,
		patterns:    opts.Patterns,
		publisher:   opts.Publisher,
		dupWindow:   opts.DuplicateWindow,
		histLimit:   opts.HistoryLimit,
		now:         opts.Now,
		latency:     utils.NewLatencyTracker(512),
		active:      make(map[string]*models.Incident),
		activeTitle: make(map[string]string),
		historyByID: make(map[string]*models.Incident),
		flights:     make(map[string]*sync.Mutex),
	}
	if r.deps == nil {
		r.deps = &pipeline.Deps{}
	}
	if r.deps.History == nil {
		r.deps.History = r
	}
	if r.deps.Patterns == nil {
		r.deps.Patterns = r.patterns
	}
	if r.deps.Now == nil {
		r.deps.Now = r.now
	}
	return r
}

// Submit registers a classified candidate. It returns the incident id and
// whether a new incident was created; a recent active incident with the same
// title suppresses the candidate and returns the existing id.
func (r *Registry) Submit(cand models.Candidate) (string, bool, error) {
	if cand.Title == "" {
		return "", false, ErrEmptyTitle
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existingID, ok := r.activeTitle[cand.Title]; ok {
		existing := r.active[existingID]
		if existing != nil && r.now().Sub(existing.CreatedAt) < r.dupWindow {
			r.logger.Debug("duplicate candidate suppressed",
				slog.String("incident_id", existingID),
				slog.String("title", cand.Title))
			return existingID, false, nil
		}
	}

	severity := cand.Severity
	if severity < models.SeverityP1 || severity > models.SeverityP5 {
		severity = models.SeverityP3
	}
	createdAt := cand.ObservedAt
	if createdAt.IsZero() {
		createdAt = r.now()
	}

	inc := &models.Incident{
		ID:               uuid.NewString(),
		Title:            cand.Title,
		Description:      cand.Description,
		Severity:         severity,
		Status:           models.StatusDetected,
		Source:           cand.Source,
		Tags:             append([]string(nil), cand.Tags...),
		AffectedAgents:   append([]string(nil), cand.AffectedAgents...),
		AffectedServices: append([]string(nil), cand.AffectedServices...),
		CreatedAt:        createdAt,
	}

	r.active[inc.ID] = inc
	r.activeTitle[inc.Title] = inc.ID
	if r.patterns != nil {
		r.patterns.Observe(inc.Title)
	}
	metrics.SetActiveIncidents(len(r.active))

	r.logger.Info("incident created",
		slog.String("incident_id", inc.ID),
		slog.String("title", inc.Title),
		slog.String("severity", inc.Severity.String()),
		slog.String("source", string(inc.Source)))
	return inc.ID, true, nil
}

// Advance drives one incident forward by exactly one pipeline stage. Stage
// failures are converted into escalations, not returned; the error return
// covers unknown ids, terminal states, and context cancellation.
func (r *Registry) Advance(ctx context.Context, id string) error {
	flight := r.flight(id)
	flight.Lock()
	defer flight.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.RLock()
	inc, ok := r.active[id]
	var status models.Status
	var snapshot *models.Incident
	if ok {
		status = inc.Status
		snapshot = inc.Clone()
	}
	r.mu.RUnlock()

	if !ok {
		if _, closed := r.lookupHistory(id); closed {
			return ErrTerminalState
		}
		return ErrUnknownIncident
	}

	switch status {
	case models.StatusDetected:
		return r.runStage(ctx, snapshot, models.StageCommander)
	case models.StatusAssigned:
		return r.runStage(ctx, snapshot, models.StageDiagnostician)
	case models.StatusInvestigating:
		return r.runStage(ctx, snapshot, models.StageFixer)
	case models.StatusResolved:
		return r.close(id)
	default:
		return fmt.Errorf("%w: %s", ErrTerminalState, status)
	}
}

// runStage executes one stage against a snapshot and folds the response back
// into the live incident. A panic inside a stage escalates the incident
// instead of crashing the dispatcher.
func (r *Registry) runStage(ctx context.Context, snapshot *models.Incident, name models.StageName) (err error) {
	stage := r.stageByName(name)
	if stage == nil {
		return fmt.Errorf("stage %s not configured", name)
	}

	start := r.now()
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("stage panicked",
				slog.String("incident_id", snapshot.ID),
				slog.String("stage", string(name)),
				slog.Any("panic", rec))
			metrics.ObserveStage(string(name), metrics.OutcomeFailure, r.now().Sub(start))
			err = r.Escalate(snapshot.ID, fmt.Sprintf("stage %s panicked: %v", name, rec))
		}
	}()

	resp, stageErr := stage.Execute(ctx, snapshot, r.deps)
	elapsed := r.now().Sub(start)
	r.latency.Observe(elapsed)

	if stageErr != nil {
		metrics.ObserveStage(string(name), metrics.OutcomeFailure, elapsed)
		reason := stageErr.Error()
		var failure *pipeline.StageFailure
		if errors.As(stageErr, &failure) {
			reason = failure.Reason
		}
		if name == models.StageCommander {
			// Acknowledge before escalating so the escape edge exists.
			r.acknowledge(snapshot.ID, snapshot.Severity)
		}
		if name == models.StageFixer {
			r.markFixing(snapshot.ID)
		}
		return r.Escalate(snapshot.ID, reason)
	}
	metrics.ObserveStage(string(name), metrics.OutcomeSuccess, elapsed)

	switch name {
	case models.StageCommander:
		if resp.Severity >= models.SeverityP1 && resp.Severity <= models.SeverityP5 {
			snapshot.Severity = resp.Severity
		}
		r.acknowledge(snapshot.ID, snapshot.Severity)
		r.appendResponse(snapshot.ID, resp)
		if resp.Escalate {
			return r.Escalate(snapshot.ID, resp.Reason)
		}
		return nil
	case models.StageDiagnostician:
		r.appendResponse(snapshot.ID, resp)
		return r.applyDiagnosis(snapshot.ID, resp)
	case models.StageFixer:
		r.markFixing(snapshot.ID)
		r.appendResponse(snapshot.ID, resp)
		return r.applyFix(snapshot.ID, resp)
	default:
		return fmt.Errorf("unexpected stage %s", name)
	}
}

// acknowledge moves a detected incident to assigned with the confirmed severity.
func (r *Registry) acknowledge(id string, severity models.Severity) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inc, ok := r.active[id]
	if !ok || inc.Status != models.StatusDetected {
		return
	}
	if err := setStatus(inc, models.StatusAssigned); err != nil {
		return
	}
	now := r.now()
	inc.AcknowledgedAt = &now
	inc.Severity = severity
}

func (r *Registry) applyDiagnosis(id string, resp models.StageResponse) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	inc, ok := r.active[id]
	if !ok {
		return ErrUnknownIncident
	}
	if err := setStatus(inc, models.StatusInvestigating); err != nil {
		return err
	}
	inc.RootCause = resp.RootCause
	inc.MergeTags(resp.Tags...)
	return nil
}

func (r *Registry) markFixing(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if inc, ok := r.active[id]; ok && inc.Status == models.StatusInvestigating {
		_ = setStatus(inc, models.StatusFixing)
	}
}

func (r *Registry) applyFix(id string, resp models.StageResponse) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	inc, ok := r.active[id]
	if !ok {
		return ErrUnknownIncident
	}
	if err := setStatus(inc, models.StatusResolved); err != nil {
		return err
	}
	now := r.now()
	inc.ResolvedAt = &now
	inc.ResolutionActions = append([]string(nil), resp.Actions...)
	return nil
}

func (r *Registry) appendResponse(id string, resp models.StageResponse) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if inc, ok := r.active[id]; ok {
		inc.StageResponses = append(inc.StageResponses, resp)
	}
}

// Escalate hands an active incident to a human operator. It records the
// failed outcome against the error pattern and publishes a notice.
func (r *Registry) Escalate(id, reason string) error {
	r.mu.Lock()
	inc, ok := r.active[id]
	if !ok {
		r.mu.Unlock()
		return ErrUnknownIncident
	}
	if err := setStatus(inc, models.StatusEscalated); err != nil {
		r.mu.Unlock()
		return err
	}
	now := r.now()
	inc.EscalatedAt = &now
	inc.EscalationReason = reason
	r.retireLocked(inc)
	clone := inc.Clone()
	r.mu.Unlock()

	if r.patterns != nil {
		r.patterns.RecordOutcome(clone.Title, false, nil)
	}
	metrics.ObserveTerminal(string(models.StatusEscalated), clone.Severity.String())

	r.logger.Warn("incident escalated",
		slog.String("incident_id", id),
		slog.String("severity", clone.Severity.String()),
		slog.String("reason", reason))
	if r.publisher != nil {
		r.publisher.PublishEscalation(clone)
	}
	return nil
}

// close moves a resolved incident to closed: closure notes are derived, the
// pattern store learns the outcome, and a report is published.
func (r *Registry) close(id string) error {
	r.mu.Lock()
	inc, ok := r.active[id]
	if !ok {
		r.mu.Unlock()
		return ErrUnknownIncident
	}
	if err := setStatus(inc, models.StatusClosed); err != nil {
		r.mu.Unlock()
		return err
	}
	inc.LessonsLearned, inc.FollowUpTasks = reports.DeriveClosureNotes(inc)
	r.retireLocked(inc)
	clone := inc.Clone()
	r.mu.Unlock()

	if r.patterns != nil {
		r.patterns.RecordOutcome(clone.Title, true, clone.ResolutionActions)
	}
	metrics.ObserveTerminal(string(models.StatusClosed), clone.Severity.String())

	r.logger.Info("incident closed",
		slog.String("incident_id", id),
		slog.String("root_cause", clone.RootCause),
		slog.Duration("p95_advance", r.latency.Percentile(95)))
	if r.publisher != nil {
		r.publisher.PublishClosure(clone)
	}
	return nil
}

// AutoResolve applies a historically known fix set to a detected incident,
// bypassing the pipeline, and closes it. Only the resolver sweep calls this.
func (r *Registry) AutoResolve(id string, fixes []string, rootCause string) error {
	flight := r.flight(id)
	flight.Lock()
	defer flight.Unlock()

	r.mu.Lock()
	inc, ok := r.active[id]
	if !ok {
		r.mu.Unlock()
		return ErrUnknownIncident
	}
	if inc.Status != models.StatusDetected {
		r.mu.Unlock()
		return fmt.Errorf("%w: auto-resolve requires detected, have %s", ErrInvalidTransition, inc.Status)
	}
	if err := setStatus(inc, models.StatusResolved); err != nil {
		r.mu.Unlock()
		return err
	}
	now := r.now()
	inc.ResolvedAt = &now
	inc.ResolutionActions = append([]string(nil), fixes...)
	inc.RootCause = rootCause
	inc.AutoResolved = true
	r.mu.Unlock()

	metrics.ObserveAutoResolution()
	return r.close(id)
}

// retireLocked moves an incident out of the active set into bounded history.
// Caller holds r.mu.
func (r *Registry) retireLocked(inc *models.Incident) {
	delete(r.active, inc.ID)
	if r.activeTitle[inc.Title] == inc.ID {
		delete(r.activeTitle, inc.Title)
	}
	r.history = append(r.history, inc)
	r.historyByID[inc.ID] = inc
	for len(r.history) > r.histLimit {
		oldest := r.history[0]
		r.history = r.history[1:]
		delete(r.historyByID, oldest.ID)
	}
	metrics.SetActiveIncidents(len(r.active))

	r.flightMu.Lock()
	delete(r.flights, inc.ID)
	r.flightMu.Unlock()
}

// Get returns a copy of the incident with the given id, active or historical.
func (r *Registry) Get(id string) (*models.Incident, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if inc, ok := r.active[id]; ok {
		return inc.Clone(), true
	}
	if inc, ok := r.historyByID[id]; ok {
		return inc.Clone(), true
	}
	return nil, false
}

func (r *Registry) lookupHistory(id string) (*models.Incident, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inc, ok := r.historyByID[id]
	return inc, ok
}

// ActiveIDs returns the ids of all non-terminal incidents.
func (r *Registry) ActiveIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.active))
	for id := range r.active {
		ids = append(ids, id)
	}
	return ids
}

// Active returns copies of all non-terminal incidents.
func (r *Registry) Active() []*models.Incident {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.Incident, 0, len(r.active))
	for _, inc := range r.active {
		out = append(out, inc.Clone())
	}
	return out
}

// RecentIncidents implements pipeline.HistoryProvider: terminal incidents,
// newest first.
func (r *Registry) RecentIncidents(limit int) []*models.Incident {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 || limit > len(r.history) {
		limit = len(r.history)
	}
	out := make([]*models.Incident, 0, limit)
	for i := len(r.history) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.history[i].Clone())
	}
	return out
}

// Snapshot summarises registry state for the operator API.
type Snapshot struct {
	Active      int            `json:"active"`
	ByStatus    map[string]int `json:"byStatus"`
	BySeverity  map[string]int `json:"bySeverity"`
	History     int            `json:"history"`
	AdvanceP95  string         `json:"advanceP95"`
	GeneratedAt time.Time      `json:"generatedAt"`
}

// Summarize returns current counts by status and severity.
func (r *Registry) Summarize() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := Snapshot{
		Active:      len(r.active),
		ByStatus:    make(map[string]int),
		BySeverity:  make(map[string]int),
		History:     len(r.history),
		AdvanceP95:  r.latency.Percentile(95).String(),
		GeneratedAt: r.now(),
	}
	for _, inc := range r.active {
		snap.ByStatus[string(inc.Status)]++
		snap.BySeverity[inc.Severity.String()]++
	}
	for _, inc := range r.history {
		snap.ByStatus[string(inc.Status)]++
	}
	return snap
}

func (r *Registry) stageByName(name models.StageName) pipeline.StageExecutor {
	for _, stage := range r.stages {
		if stage.Name() == name {
			return stage
		}
	}
	return nil
}

// flight returns the per-incident advancement mutex, creating it on demand.
func (r *Registry) flight(id string) *sync.Mutex {
	r.flightMu.Lock()
	defer r.flightMu.Unlock()

	m, ok := r.flights[id]
	if !ok {
		m = &sync.Mutex{}
		r.flights[id] = m
	}
	return m
}

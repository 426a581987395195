package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/miradorstack/mirador-ir/internal/models"
)

// Effector applies one remediation action against the world. The concrete
// repair behaviour is pluggable; the engine only sequences and verifies.
type Effector interface {
	Apply(ctx context.Context, action string, inc *models.Incident) error
}

// EffectorFunc adapts a function to the Effector interface.
type EffectorFunc func(ctx context.Context, action string, inc *models.Incident) error

// Apply implements Effector.
func (f EffectorFunc) Apply(ctx context.Context, action string, inc *models.Incident) error {
	return f(ctx, action, inc)
}

// Verifier checks whether an applied fix actually restored service. A nil
// return means verification passed.
type Verifier interface {
	Verify(ctx context.Context, inc *models.Incident, deps *Deps) error
}

// VerifierFunc adapts a function to the Verifier interface.
type VerifierFunc func(ctx context.Context, inc *models.Incident, deps *Deps) error

// Verify implements Verifier.
func (f VerifierFunc) Verify(ctx context.Context, inc *models.Incident, deps *Deps) error {
	return f(ctx, inc, deps)
}

// Fixer proposes remediation actions, applies them through the effector, and
// verifies the outcome. A verification failure is a stage failure and
// escalates; it is never retried within the same incident.
type Fixer struct {
	logger   *slog.Logger
	effector Effector
	verifier Verifier
}

// NewFixer constructs the fixer stage. A nil effector logs actions without
// touching anything; a nil verifier checks affected-agent health through the
// directory.
func NewFixer(logger *slog.Logger, effector Effector, verifier Verifier) *Fixer {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Fixer{logger: logger, effector: effector, verifier: verifier}
	if f.effector == nil {
		f.effector = EffectorFunc(func(_ context.Context, action string, inc *models.Incident) error {
			logger.Info("remediation action applied",
				slog.String("incident_id", inc.ID),
				slog.String("action", action))
			return nil
		})
	}
	if f.verifier == nil {
		f.verifier = VerifierFunc(verifyAffectedAgents)
	}
	return f
}

// Name implements StageExecutor.
func (f *Fixer) Name() models.StageName { return models.StageFixer }

// Execute implements StageExecutor.
func (f *Fixer) Execute(ctx context.Context, inc *models.Incident, deps *Deps) (models.StageResponse, error) {
	resp := models.StageResponse{
		Stage:       models.StageFixer,
		CompletedAt: deps.now(),
	}

	actions := f.proposeActions(inc, deps)
	if len(actions) == 0 {
		return resp, Failf(models.StageFixer, "no remediation action available for %q", inc.Title)
	}

	for _, action := range actions {
		if err := f.effector.Apply(ctx, action, inc); err != nil {
			return resp, Failf(models.StageFixer, "fix failed applying %s: %v", action, err)
		}
		resp.Actions = append(resp.Actions, action)
	}

	if err := f.verifier.Verify(ctx, inc, deps); err != nil {
		return resp, Failf(models.StageFixer, "fix failed verification: %v", err)
	}

	resp.Verified = true
	resp.Summary = fmt.Sprintf("applied %s; verification passed", strings.Join(resp.Actions, ", "))
	return resp, nil
}

// proposeActions prefers fixes that closed this pattern before, then falls
// back to the tag playbook.
func (f *Fixer) proposeActions(inc *models.Incident, deps *Deps) []string {
	if deps != nil && deps.Patterns != nil {
		if pattern, ok := deps.Patterns.Lookup(inc.Title); ok && len(pattern.KnownFixes) > 0 {
			return pattern.KnownFixes
		}
	}

	switch {
	case inc.HasTag("database"), inc.HasTag("connectivity"):
		return []string{"restart_agent"}
	case inc.HasTag("performance"):
		return []string{"throttle_requests"}
	case inc.HasTag("api"):
		return []string{"recycle_endpoint"}
	default:
		return []string{"restart_agent"}
	}
}

// verifyAffectedAgents passes when every affected agent the directory knows
// about reports healthy.
func verifyAffectedAgents(ctx context.Context, inc *models.Incident, deps *Deps) error {
	if deps == nil || deps.Directory == nil || len(inc.AffectedAgents) == 0 {
		return nil
	}
	agents, err := deps.Directory.ListAgents(ctx)
	if err != nil {
		return fmt.Errorf("agent directory unreachable: %w", err)
	}
	health := make(map[string]bool, len(agents))
	for _, agent := range agents {
		health[agent.ID] = agent.Healthy
	}
	for _, id := range inc.AffectedAgents {
		if healthy, known := health[id]; known && !healthy {
			return fmt.Errorf("agent %s still unhealthy", id)
		}
	}
	return nil
}

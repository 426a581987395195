package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/miradorstack/mirador-ir/internal/directory"
	"github.com/miradorstack/mirador-ir/internal/models"
	"github.com/miradorstack/mirador-ir/internal/utils"
)

// Commander assesses incident severity against live agent health and decides
// whether this class of incident is eligible for automated remediation at
// all. Unhealthy affected agents raise the severity one level; non-critical
// incidents whose affected agents all report healthy are lowered one level.
// Signalling "escalate to human" here is a legitimate outcome, not a failure.
type Commander struct {
	logger *slog.Logger

	// automationWindowStart/End bound the hours during which non-critical
	// incidents may be remediated unattended. Equal values mean always-on.
	automationWindowStart int
	automationWindowEnd   int
}

// NewCommander constructs the commander stage.
func NewCommander(logger *slog.Logger, windowStart, windowEnd int) *Commander {
	if logger == nil {
		logger = slog.Default()
	}
	return &Commander{
		logger:                logger,
		automationWindowStart: windowStart,
		automationWindowEnd:   windowEnd,
	}
}

// Name implements StageExecutor.
func (c *Commander) Name() models.StageName { return models.StageCommander }

// Execute implements StageExecutor.
func (c *Commander) Execute(ctx context.Context, inc *models.Incident, deps *Deps) (models.StageResponse, error) {
	resp := models.StageResponse{
		Stage:       models.StageCommander,
		Severity:    inc.Severity,
		CompletedAt: deps.now(),
	}

	if deps == nil || deps.Directory == nil {
		return resp, Failf(models.StageCommander, "agent directory not configured")
	}

	agents, err := deps.Directory.ListAgents(ctx)
	if err != nil {
		return resp, Failf(models.StageCommander, "agent directory unreachable: %v", err)
	}

	unhealthy := unhealthyAffected(agents, inc.AffectedAgents)
	assessed := inc.Severity
	switch {
	case len(unhealthy) > 0 && assessed > models.SeverityP1:
		assessed--
		c.logger.Debug("commander raised severity",
			slog.String("incident_id", inc.ID),
			slog.String("severity", assessed.String()),
			slog.Int("unhealthy_affected", len(unhealthy)))
	case len(inc.AffectedAgents) > 0 && allKnownHealthy(agents, inc.AffectedAgents) &&
		assessed >= models.SeverityP3 && assessed < models.SeverityP5:
		// Non-critical incident whose affected agents all report healthy;
		// the blast radius is smaller than the classifier assumed.
		assessed++
		c.logger.Debug("commander lowered severity",
			slog.String("incident_id", inc.ID),
			slog.String("severity", assessed.String()))
	}
	resp.Severity = assessed

	// P1 incidents are always worth automated remediation. Everything else
	// respects the automation window so unattended fixes only run when
	// operators chose to allow them.
	if assessed != models.SeverityP1 && !utils.WithinHourWindow(deps.now(), c.automationWindowStart, c.automationWindowEnd) {
		resp.Escalate = true
		resp.Reason = "outside automation window"
		resp.Summary = fmt.Sprintf("severity %s confirmed; handed to operator outside automation window", assessed)
		return resp, nil
	}

	resp.Summary = fmt.Sprintf("severity %s confirmed; %d of %d affected agents unhealthy",
		assessed, len(unhealthy), len(inc.AffectedAgents))
	return resp, nil
}

func unhealthyAffected(agents []directory.Agent, affected []string) []string {
	affectedSet := make(map[string]struct{}, len(affected))
	for _, id := range affected {
		affectedSet[id] = struct{}{}
	}

	var unhealthy []string
	for _, agent := range agents {
		if agent.Healthy {
			continue
		}
		if _, ok := affectedSet[agent.ID]; ok {
			unhealthy = append(unhealthy, agent.ID)
		}
	}
	return unhealthy
}

// allKnownHealthy reports whether every affected agent appears in the
// directory and reports healthy. Unknown agents block the lowering path.
func allKnownHealthy(agents []directory.Agent, affected []string) bool {
	health := make(map[string]bool, len(agents))
	for _, agent := range agents {
		health[agent.ID] = agent.Healthy
	}
	for _, id := range affected {
		healthy, known := health[id]
		if !known || !healthy {
			return false
		}
	}
	return true
}

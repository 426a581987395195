package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/miradorstack/mirador-ir/internal/directory"
	"github.com/miradorstack/mirador-ir/internal/models"
	"github.com/miradorstack/mirador-ir/internal/patterns"
)

type failingDirectory struct{}

func (failingDirectory) ListAgents(context.Context) ([]directory.Agent, error) {
	return nil, errors.New("connection refused")
}

type fakeHistory struct {
	incidents []*models.Incident
}

func (f *fakeHistory) RecentIncidents(int) []*models.Incident {
	return f.incidents
}

func testDeps(dir directory.AgentDirectory) *Deps {
	return &Deps{
		Directory: dir,
		Patterns:  patterns.NewStore(nil, 64, time.Hour),
		History:   &fakeHistory{},
		Now:       func() time.Time { return time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC) },
	}
}

func dbIncident() *models.Incident {
	return &models.Incident{
		ID:             "inc-1",
		Title:          "ERROR: Database connection failed to host db-1",
		Severity:       models.SeverityP1,
		Status:         models.StatusDetected,
		Tags:           []string{"database", "connectivity"},
		AffectedAgents: []string{"agent-a"},
	}
}

func TestCommanderConfirmsSeverity(t *testing.T) {
	dir := directory.NewStatic(directory.Agent{ID: "agent-a", Healthy: false})
	cmd := NewCommander(nil, 0, 0)

	resp, err := cmd.Execute(context.Background(), dbIncident(), testDeps(dir))
	if err != nil {
		t.Fatalf("commander failed: %v", err)
	}
	if resp.Severity != models.SeverityP1 {
		t.Fatalf("severity = %s, want P1", resp.Severity)
	}
	if resp.Escalate {
		t.Fatalf("unexpected escalate directive: %s", resp.Reason)
	}
}

func TestCommanderRaisesSeverityForUnhealthyAgents(t *testing.T) {
	dir := directory.NewStatic(directory.Agent{ID: "agent-a", Healthy: false})
	cmd := NewCommander(nil, 0, 0)

	inc := dbIncident()
	inc.Severity = models.SeverityP3
	resp, err := cmd.Execute(context.Background(), inc, testDeps(dir))
	if err != nil {
		t.Fatalf("commander failed: %v", err)
	}
	if resp.Severity != models.SeverityP2 {
		t.Fatalf("severity = %s, want P2 after raise", resp.Severity)
	}
}

func TestCommanderLowersSeverityForHealthyAgents(t *testing.T) {
	dir := directory.NewStatic(directory.Agent{ID: "agent-a", Healthy: true})
	cmd := NewCommander(nil, 0, 0)

	inc := dbIncident()
	inc.Severity = models.SeverityP3
	resp, err := cmd.Execute(context.Background(), inc, testDeps(dir))
	if err != nil {
		t.Fatalf("commander failed: %v", err)
	}
	if resp.Severity != models.SeverityP4 {
		t.Fatalf("severity = %s, want P4 after lowering", resp.Severity)
	}

	// P2 stays put: lowering only applies to non-critical incidents.
	inc = dbIncident()
	inc.Severity = models.SeverityP2
	resp, err = cmd.Execute(context.Background(), inc, testDeps(dir))
	if err != nil {
		t.Fatalf("commander failed: %v", err)
	}
	if resp.Severity != models.SeverityP2 {
		t.Fatalf("severity = %s, want P2 unchanged", resp.Severity)
	}

	// Affected agents unknown to the directory block the lowering path.
	inc = dbIncident()
	inc.Severity = models.SeverityP3
	inc.AffectedAgents = []string{"agent-z"}
	resp, err = cmd.Execute(context.Background(), inc, testDeps(dir))
	if err != nil {
		t.Fatalf("commander failed: %v", err)
	}
	if resp.Severity != models.SeverityP3 {
		t.Fatalf("severity = %s, want P3 unchanged for unknown agent", resp.Severity)
	}
}

func TestCommanderEscalatesOutsideAutomationWindow(t *testing.T) {
	dir := directory.NewStatic(directory.Agent{ID: "agent-a", Healthy: true})
	// Deps clock reports 14:00; window is 18:00-06:00.
	cmd := NewCommander(nil, 18, 6)

	inc := dbIncident()
	inc.Severity = models.SeverityP3
	resp, err := cmd.Execute(context.Background(), inc, testDeps(dir))
	if err != nil {
		t.Fatalf("commander failed: %v", err)
	}
	if !resp.Escalate {
		t.Fatalf("expected escalate directive outside window")
	}
	if resp.Reason == "" {
		t.Fatalf("escalate directive missing reason")
	}
}

func TestCommanderAlwaysAutomatesP1(t *testing.T) {
	dir := directory.NewStatic(directory.Agent{ID: "agent-a", Healthy: true})
	cmd := NewCommander(nil, 18, 6)

	resp, err := cmd.Execute(context.Background(), dbIncident(), testDeps(dir))
	if err != nil {
		t.Fatalf("commander failed: %v", err)
	}
	if resp.Escalate {
		t.Fatalf("P1 should bypass the automation window")
	}
}

func TestCommanderDirectoryUnreachableIsStageFailure(t *testing.T) {
	cmd := NewCommander(nil, 0, 0)

	_, err := cmd.Execute(context.Background(), dbIncident(), testDeps(failingDirectory{}))
	var failure *StageFailure
	if !errors.As(err, &failure) {
		t.Fatalf("expected StageFailure, got %v", err)
	}
	if failure.Stage != models.StageCommander {
		t.Fatalf("failure attributed to %s", failure.Stage)
	}
}

func TestDiagnosticianHeuristicCause(t *testing.T) {
	diag := NewDiagnostician(nil)

	resp, err := diag.Execute(context.Background(), dbIncident(), testDeps(directory.NewStatic()))
	if err != nil {
		t.Fatalf("diagnostician failed: %v", err)
	}
	if resp.RootCause != "connection pool exhaustion" {
		t.Fatalf("rootCause = %q", resp.RootCause)
	}
}

func TestDiagnosticianReusesRelatedIncident(t *testing.T) {
	diag := NewDiagnostician(nil)
	deps := testDeps(directory.NewStatic())
	deps.History = &fakeHistory{incidents: []*models.Incident{
		{
			ID:        "inc-old",
			Title:     "ERROR: Database connection failed to host db-2",
			Tags:      []string{"database", "connectivity"},
			RootCause: "stale replica credentials",
		},
	}}

	resp, err := diag.Execute(context.Background(), dbIncident(), deps)
	if err != nil {
		t.Fatalf("diagnostician failed: %v", err)
	}
	if resp.RootCause != "stale replica credentials" {
		t.Fatalf("expected reused root cause, got %q", resp.RootCause)
	}
}

func TestDiagnosticianUndeterminedIsSuccess(t *testing.T) {
	diag := NewDiagnostician(nil)

	inc := &models.Incident{ID: "inc-2", Title: "something odd happened error"}
	resp, err := diag.Execute(context.Background(), inc, testDeps(directory.NewStatic()))
	if err != nil {
		t.Fatalf("undetermined cause must not be a stage failure: %v", err)
	}
	if resp.RootCause != "undetermined" {
		t.Fatalf("rootCause = %q", resp.RootCause)
	}
}

func TestFixerAppliesAndVerifies(t *testing.T) {
	dir := directory.NewStatic(directory.Agent{ID: "agent-a", Healthy: true})
	fixer := NewFixer(nil, nil, nil)

	resp, err := fixer.Execute(context.Background(), dbIncident(), testDeps(dir))
	if err != nil {
		t.Fatalf("fixer failed: %v", err)
	}
	if !resp.Verified {
		t.Fatalf("expected verification to pass")
	}
	if len(resp.Actions) != 1 || resp.Actions[0] != "restart_agent" {
		t.Fatalf("actions = %v, want [restart_agent]", resp.Actions)
	}
}

func TestFixerVerificationFailureEscalates(t *testing.T) {
	dir := directory.NewStatic(directory.Agent{ID: "agent-a", Healthy: false})
	fixer := NewFixer(nil, nil, nil)

	_, err := fixer.Execute(context.Background(), dbIncident(), testDeps(dir))
	var failure *StageFailure
	if !errors.As(err, &failure) {
		t.Fatalf("expected StageFailure, got %v", err)
	}
	if failure.Reason == "" {
		t.Fatalf("stage failure missing reason")
	}
	if want := "fix failed"; !strings.Contains(failure.Reason, want) {
		t.Fatalf("reason %q does not mention %q", failure.Reason, want)
	}
}

func TestFixerPrefersKnownFixes(t *testing.T) {
	dir := directory.NewStatic(directory.Agent{ID: "agent-a", Healthy: true})
	deps := testDeps(dir)
	inc := dbIncident()
	deps.Patterns.Observe(inc.Title)
	deps.Patterns.RecordOutcome(inc.Title, true, []string{"reset_connection_pool"})

	fixer := NewFixer(nil, nil, nil)
	resp, err := fixer.Execute(context.Background(), inc, deps)
	if err != nil {
		t.Fatalf("fixer failed: %v", err)
	}
	if len(resp.Actions) != 1 || resp.Actions[0] != "reset_connection_pool" {
		t.Fatalf("actions = %v, want known fix first", resp.Actions)
	}
}

func TestFixerEffectorErrorIsStageFailure(t *testing.T) {
	dir := directory.NewStatic(directory.Agent{ID: "agent-a", Healthy: true})
	effector := EffectorFunc(func(context.Context, string, *models.Incident) error {
		return errors.New("effector offline")
	})

	fixer := NewFixer(nil, effector, nil)
	_, err := fixer.Execute(context.Background(), dbIncident(), testDeps(dir))
	var failure *StageFailure
	if !errors.As(err, &failure) {
		t.Fatalf("expected StageFailure, got %v", err)
	}
}

func TestJaccardSimilarity(t *testing.T) {
	a := map[string]struct{}{"database": {}, "connection": {}, "failed": {}}
	b := map[string]struct{}{"database": {}, "connection": {}, "failed": {}, "again": {}}

	score := jaccard(a, b)
	if score < 0.74 || score > 0.76 {
		t.Fatalf("jaccard = %f, want 0.75", score)
	}
	if jaccard(a, map[string]struct{}{}) != 0 {
		t.Fatalf("empty set must score zero")
	}
}

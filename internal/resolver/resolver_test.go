package resolver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/miradorstack/mirador-ir/internal/directory"
	"github.com/miradorstack/mirador-ir/internal/models"
	"github.com/miradorstack/mirador-ir/internal/patterns"
	"github.com/miradorstack/mirador-ir/internal/pipeline"
	"github.com/miradorstack/mirador-ir/internal/registry"
)

type noopPublisher struct{}

func (noopPublisher) PublishEscalation(*models.Incident) {}
func (noopPublisher) PublishClosure(*models.Incident)    {}

func newTestRegistry(store *patterns.Store) *registry.Registry {
	dir := directory.NewStatic(directory.Agent{ID: "agent-a", Healthy: true})
	return registry.New(registry.Options{
		Stages: []pipeline.StageExecutor{
			pipeline.NewCommander(nil, 0, 0),
			pipeline.NewDiagnostician(nil),
			pipeline.NewFixer(nil, nil, nil),
		},
		StageDeps: &pipeline.Deps{Directory: dir},
		Patterns:  store,
		Publisher: noopPublisher{},
	})
}

// trainPattern builds up occurrence count and success rate for a title.
func trainPattern(store *patterns.Store, title string, rounds int, fixes []string) {
	for i := 0; i < rounds; i++ {
		store.Observe(title)
		store.RecordOutcome(title, true, fixes)
	}
}

func TestSweepResolvesTrustedPattern(t *testing.T) {
	store := patterns.NewStore(nil, 128, time.Hour)
	reg := newTestRegistry(store)
	res := New(reg, store, nil, DefaultThresholds(), time.Second)

	title := "ERROR: Database connection failed to host db-1"
	trainPattern(store, title, 6, []string{"restart_agent"})

	id, _, err := reg.Submit(models.Candidate{
		Title:    title,
		Severity: models.SeverityP2,
		Source:   models.SourceAgentError,
		Tags:     []string{"database"},
	})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	if n := res.Sweep(context.Background()); n != 1 {
		t.Fatalf("sweep resolved %d, want 1", n)
	}

	inc, _ := reg.Get(id)
	if inc.Status != models.StatusClosed {
		t.Fatalf("status = %s, want closed", inc.Status)
	}
	if !inc.AutoResolved {
		t.Fatalf("autoResolved flag not set")
	}
	if inc.RootCause != RootCauseNote {
		t.Fatalf("rootCause = %q", inc.RootCause)
	}
	if len(inc.ResolutionActions) != 1 || inc.ResolutionActions[0] != "restart_agent" {
		t.Fatalf("actions = %v", inc.ResolutionActions)
	}
	if len(inc.StageResponses) != 0 {
		t.Fatalf("auto-resolution must bypass the pipeline")
	}
}

func TestSweepSkipsUntrustedPattern(t *testing.T) {
	store := patterns.NewStore(nil, 128, time.Hour)
	reg := newTestRegistry(store)
	res := New(reg, store, nil, DefaultThresholds(), time.Second)

	title := "ERROR: Database connection failed to host db-1"
	trainPattern(store, title, 3, []string{"restart_agent"})

	id, _, err := reg.Submit(models.Candidate{
		Title:    title,
		Severity: models.SeverityP2,
		Source:   models.SourceAgentError,
	})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	if n := res.Sweep(context.Background()); n != 0 {
		t.Fatalf("sweep resolved %d, want 0", n)
	}
	inc, _ := reg.Get(id)
	if inc.Status != models.StatusDetected {
		t.Fatalf("status = %s, want detected", inc.Status)
	}
}

func TestInformationalIncidentsAutoResolve(t *testing.T) {
	store := patterns.NewStore(nil, 128, time.Hour)
	reg := newTestRegistry(store)
	res := New(reg, store, nil, DefaultThresholds(), time.Second)

	id, _, err := reg.Submit(models.Candidate{
		Title:    "INFO: scheduled maintenance notice",
		Severity: models.SeverityP5,
		Source:   models.SourceLogScan,
	})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	if n := res.Sweep(context.Background()); n != 1 {
		t.Fatalf("sweep resolved %d, want 1", n)
	}
	inc, _ := reg.Get(id)
	if inc.Status != models.StatusClosed || !inc.AutoResolved {
		t.Fatalf("status = %s autoResolved = %v", inc.Status, inc.AutoResolved)
	}
}

func TestTryResolveRejectsAdvancedIncident(t *testing.T) {
	store := patterns.NewStore(nil, 128, time.Hour)
	reg := newTestRegistry(store)
	res := New(reg, store, nil, DefaultThresholds(), time.Second)

	title := "ERROR: Database connection failed to host db-1"
	trainPattern(store, title, 6, []string{"restart_agent"})

	id, _, err := reg.Submit(models.Candidate{
		Title:    title,
		Severity: models.SeverityP2,
		Source:   models.SourceAgentError,
		Tags:     []string{"database"},
	})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if err := reg.Advance(context.Background(), id); err != nil {
		t.Fatalf("advance failed: %v", err)
	}

	inc, _ := reg.Get(id)
	if err := res.TryResolve(inc); !errors.Is(err, ErrIneligible) {
		t.Fatalf("err = %v, want ErrIneligible", err)
	}
}

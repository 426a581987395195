// Package pipeline contains the staged remediation workflow: Commander,
// Diagnostician, and Fixer. Each stage is a strategy behind the
// StageExecutor interface so the registry's sequencing logic stays agnostic
// to stage internals.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/miradorstack/mirador-ir/internal/directory"
	"github.com/miradorstack/mirador-ir/internal/models"
	"github.com/miradorstack/mirador-ir/internal/patterns"
)

// HistoryProvider gives stages read access to recently closed incidents for
// similarity search.
type HistoryProvider interface {
	RecentIncidents(limit int) []*models.Incident
}

// Deps bundles the read-only collaborators available to every stage.
type Deps struct {
	Directory directory.AgentDirectory
	Patterns  *patterns.Store
	History   HistoryProvider
	Now       func() time.Time
}

func (d *Deps) now() time.Time {
	if d != nil && d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// StageExecutor runs one phase of the remediation pipeline against an
// incident snapshot and returns its structured response.
type StageExecutor interface {
	Name() models.StageName
	Execute(ctx context.Context, inc *models.Incident, deps *Deps) (models.StageResponse, error)
}

// StageFailure is the error returned when an executor cannot complete its
// stage. The registry converts it into an escalation; it is never retried
// within the same incident.
type StageFailure struct {
	Stage  models.StageName
	Reason string
}

func (f *StageFailure) Error() string {
	return fmt.Sprintf("stage %s failed: %s", f.Stage, f.Reason)
}

// Failf builds a StageFailure with a formatted reason.
func Failf(stage models.StageName, format string, args ...any) *StageFailure {
	return &StageFailure{Stage: stage, Reason: fmt.Sprintf(format, args...)}
}

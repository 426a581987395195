package reports

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/miradorstack/mirador-ir/internal/models"
)

type fakeNotifier struct {
	failEscalations bool
	failClosures    bool
	escalations     []models.EscalationNotice
	closures        []models.IncidentReport
}

func (f *fakeNotifier) NotifyEscalation(_ context.Context, notice models.EscalationNotice) error {
	if f.failEscalations {
		return errors.New("pager endpoint unavailable")
	}
	f.escalations = append(f.escalations, notice)
	return nil
}

func (f *fakeNotifier) NotifyClosure(_ context.Context, report models.IncidentReport) error {
	if f.failClosures {
		return errors.New("report endpoint unavailable")
	}
	f.closures = append(f.closures, report)
	return nil
}

func newMemorySink(t *testing.T) *BadgerSink {
	t.Helper()
	sink, err := NewBadgerSink(nil, "", true)
	if err != nil {
		t.Fatalf("open in-memory sink: %v", err)
	}
	t.Cleanup(func() { _ = sink.Close() })
	return sink
}

func closedIncident() *models.Incident {
	created := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	resolved := created.Add(12 * time.Minute)
	return &models.Incident{
		ID:                "inc-1",
		Title:             "ERROR: Database connection failed to host db-1",
		Severity:          models.SeverityP2,
		Status:            models.StatusClosed,
		Source:            models.SourceAgentError,
		RootCause:         "connection pool exhaustion",
		ResolutionActions: []string{"restart_agent"},
		CreatedAt:         created,
		ResolvedAt:        &resolved,
	}
}

func TestDeriveClosureNotes(t *testing.T) {
	lessons, followUps := DeriveClosureNotes(closedIncident())
	if len(lessons) == 0 {
		t.Fatalf("expected lessons")
	}
	if !strings.Contains(lessons[0], "connection pool exhaustion") {
		t.Fatalf("lessons[0] = %q", lessons[0])
	}
	// P2 closure always schedules a review.
	found := false
	for _, task := range followUps {
		if strings.Contains(task, "post-incident review") {
			found = true
		}
	}
	if !found {
		t.Fatalf("followUps = %v, want post-incident review", followUps)
	}
}

func TestDeriveClosureNotesUndeterminedCause(t *testing.T) {
	inc := closedIncident()
	inc.RootCause = "undetermined"

	_, followUps := DeriveClosureNotes(inc)
	found := false
	for _, task := range followUps {
		if strings.Contains(task, "investigate underlying cause") {
			found = true
		}
	}
	if !found {
		t.Fatalf("followUps = %v, want offline investigation task", followUps)
	}
}

func TestEmitterDeliversClosureReport(t *testing.T) {
	notifier := &fakeNotifier{}
	sink := newMemorySink(t)
	emitter := NewEmitter(nil, notifier, sink, time.Millisecond, 3)

	emitter.Start(context.Background())
	emitter.PublishClosure(closedIncident())
	emitter.Close()

	if len(notifier.closures) != 1 {
		t.Fatalf("closures delivered = %d, want 1", len(notifier.closures))
	}
	report := notifier.closures[0]
	if report.IncidentID != "inc-1" || report.ReportID == "" {
		t.Fatalf("report = %+v", report)
	}

	pending, err := sink.Unemitted()
	if err != nil {
		t.Fatalf("unemitted scan failed: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("delivered payloads must be marked emitted, have %d pending", len(pending))
	}
}

func TestEmitterDeadLettersAfterMaxAttempts(t *testing.T) {
	notifier := &fakeNotifier{failEscalations: true}
	sink := newMemorySink(t)
	emitter := NewEmitter(nil, notifier, sink, time.Millisecond, 2)

	inc := closedIncident()
	inc.Status = models.StatusEscalated
	inc.EscalationReason = "fix failed verification"
	escalatedAt := inc.CreatedAt.Add(5 * time.Minute)
	inc.EscalatedAt = &escalatedAt

	emitter.Start(context.Background())
	emitter.PublishEscalation(inc)
	emitter.Close()

	dead := emitter.DeadLetters()
	if len(dead) != 1 {
		t.Fatalf("dead letters = %d, want 1", len(dead))
	}
	if dead[0].IncidentID != "inc-1" || dead[0].Attempts != 2 {
		t.Fatalf("dead letter = %+v", dead[0])
	}

	pending, err := sink.Unemitted()
	if err != nil {
		t.Fatalf("unemitted scan failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("undelivered payload must stay journalled, have %d", len(pending))
	}
}

func TestEmitterPublishAfterCloseIsJournalled(t *testing.T) {
	notifier := &fakeNotifier{}
	sink := newMemorySink(t)
	emitter := NewEmitter(nil, notifier, sink, time.Millisecond, 3)

	emitter.Start(context.Background())
	emitter.Close()

	// A terminal transition racing shutdown must not panic; the payload is
	// journalled for replay on the next start.
	emitter.PublishClosure(closedIncident())

	if len(notifier.closures) != 0 {
		t.Fatalf("closures delivered = %d, want 0 after close", len(notifier.closures))
	}
	pending, err := sink.Unemitted()
	if err != nil {
		t.Fatalf("unemitted scan failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("payload must stay journalled for replay, have %d", len(pending))
	}

	// Close is idempotent.
	emitter.Close()
}

func TestEmitterReplaysJournalledPayloads(t *testing.T) {
	sink := newMemorySink(t)
	report := BuildReport(closedIncident(), "rep-1", time.Now())
	err := sink.Save(Envelope{Kind: KindReport, Key: ReportKey(report.ReportID), Report: &report})
	if err != nil {
		t.Fatalf("journal write failed: %v", err)
	}

	notifier := &fakeNotifier{}
	emitter := NewEmitter(nil, notifier, sink, time.Millisecond, 3)
	emitter.Start(context.Background())
	emitter.Close()

	if len(notifier.closures) != 1 {
		t.Fatalf("replayed closures = %d, want 1", len(notifier.closures))
	}
	if notifier.closures[0].ReportID != "rep-1" {
		t.Fatalf("report = %+v", notifier.closures[0])
	}
}

func TestBadgerSinkListsReports(t *testing.T) {
	sink := newMemorySink(t)
	report := BuildReport(closedIncident(), "rep-1", time.Now())
	if err := sink.Save(Envelope{Kind: KindReport, Key: ReportKey(report.ReportID), Report: &report}); err != nil {
		t.Fatalf("journal write failed: %v", err)
	}

	reports, err := sink.Reports()
	if err != nil {
		t.Fatalf("reports scan failed: %v", err)
	}
	if len(reports) != 1 || reports[0].ReportID != "rep-1" {
		t.Fatalf("reports = %+v", reports)
	}
}

func TestRenderNarrative(t *testing.T) {
	report := BuildReport(closedIncident(), "rep-1", time.Now())
	narrative := RenderNarrative(report)
	if !strings.Contains(narrative, "connection pool exhaustion") {
		t.Fatalf("narrative missing root cause: %s", narrative)
	}
	if !strings.Contains(narrative, "P2") {
		t.Fatalf("narrative missing severity: %s", narrative)
	}
}

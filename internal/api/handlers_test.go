package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/miradorstack/mirador-ir/internal/models"
	"github.com/miradorstack/mirador-ir/internal/registry"
	"github.com/miradorstack/mirador-ir/internal/reports"
)

type fakeReader struct {
	active  []*models.Incident
	history []*models.Incident
}

func (f *fakeReader) Get(id string) (*models.Incident, bool) {
	for _, inc := range append(f.active, f.history...) {
		if inc.ID == id {
			return inc, true
		}
	}
	return nil, false
}

func (f *fakeReader) Active() []*models.Incident { return f.active }

func (f *fakeReader) RecentIncidents(int) []*models.Incident { return f.history }

func (f *fakeReader) Summarize() registry.Snapshot {
	return registry.Snapshot{
		Active:     len(f.active),
		ByStatus:   map[string]int{"detected": len(f.active)},
		BySeverity: map[string]int{"P1": len(f.active)},
		History:    len(f.history),
	}
}

type fakeDeadLetters struct {
	letters []reports.DeadLetter
}

func (f *fakeDeadLetters) DeadLetters() []reports.DeadLetter { return f.letters }

func testRouter(reader *fakeReader, dead *fakeDeadLetters, failures chan models.WorkflowFailure) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewHandlers(nil, reader, dead, failures).Register(router)
	return router
}

func sampleIncidents() *fakeReader {
	return &fakeReader{
		active: []*models.Incident{
			{
				ID:        "inc-1",
				Title:     "ERROR: Database connection failed to host db-1",
				Severity:  models.SeverityP1,
				Status:    models.StatusDetected,
				CreatedAt: time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC),
			},
		},
		history: []*models.Incident{
			{
				ID:        "inc-0",
				Title:     "old incident",
				Severity:  models.SeverityP3,
				Status:    models.StatusClosed,
				CreatedAt: time.Date(2026, 3, 10, 13, 0, 0, 0, time.UTC),
			},
		},
	}
}

func TestHealthz(t *testing.T) {
	router := testRouter(sampleIncidents(), &fakeDeadLetters{}, make(chan models.WorkflowFailure, 1))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestSummary(t *testing.T) {
	router := testRouter(sampleIncidents(), &fakeDeadLetters{}, make(chan models.WorkflowFailure, 1))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/summary", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var snap registry.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.Active != 1 || snap.History != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestListIncidentsNewestFirst(t *testing.T) {
	router := testRouter(sampleIncidents(), &fakeDeadLetters{}, make(chan models.WorkflowFailure, 1))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/incidents", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var body struct {
		Incidents []models.Incident `json:"incidents"`
		Count     int               `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 2 {
		t.Fatalf("count = %d", body.Count)
	}
	if body.Incidents[0].ID != "inc-1" {
		t.Fatalf("order = %s first, want inc-1", body.Incidents[0].ID)
	}
}

func TestListIncidentsStatusFilter(t *testing.T) {
	router := testRouter(sampleIncidents(), &fakeDeadLetters{}, make(chan models.WorkflowFailure, 1))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/incidents?status=closed", nil))

	var body struct {
		Incidents []models.Incident `json:"incidents"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Incidents) != 1 || body.Incidents[0].ID != "inc-0" {
		t.Fatalf("filtered = %+v", body.Incidents)
	}
}

func TestGetIncident(t *testing.T) {
	router := testRouter(sampleIncidents(), &fakeDeadLetters{}, make(chan models.WorkflowFailure, 1))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/incidents/inc-1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/incidents/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestDeadLetterList(t *testing.T) {
	dead := &fakeDeadLetters{letters: []reports.DeadLetter{
		{Kind: reports.KindEscalation, IncidentID: "inc-1", Attempts: 5, LastError: "pager down"},
	}}
	router := testRouter(sampleIncidents(), dead, make(chan models.WorkflowFailure, 1))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/escalations/deadletter", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "pager down") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestWorkflowFailureWebhook(t *testing.T) {
	failures := make(chan models.WorkflowFailure, 1)
	router := testRouter(sampleIncidents(), &fakeDeadLetters{}, failures)

	payload := `{"workflow":"nightly-sync","task":"load","error":"upstream api returned 502"}`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/workflow-failures", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	select {
	case failure := <-failures:
		if failure.Workflow != "nightly-sync" || failure.Task != "load" {
			t.Fatalf("failure = %+v", failure)
		}
	default:
		t.Fatalf("failure not forwarded to channel")
	}
}

func TestWorkflowFailureValidation(t *testing.T) {
	failures := make(chan models.WorkflowFailure, 1)
	router := testRouter(sampleIncidents(), &fakeDeadLetters{}, failures)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/workflow-failures", strings.NewReader(`{"task":"load"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestWorkflowFailureBackpressure(t *testing.T) {
	failures := make(chan models.WorkflowFailure) // unbuffered, nobody reading
	router := testRouter(sampleIncidents(), &fakeDeadLetters{}, failures)

	payload := `{"workflow":"nightly-sync","error":"boom failed"}`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/workflow-failures", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

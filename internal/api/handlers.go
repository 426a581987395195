package api

import (
	"log/slog"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"github.com/miradorstack/mirador-ir/internal/models"
	"github.com/miradorstack/mirador-ir/internal/registry"
	"github.com/miradorstack/mirador-ir/internal/reports"
)

// IncidentReader is the registry surface the API reads from.
type IncidentReader interface {
	Get(id string) (*models.Incident, bool)
	Active() []*models.Incident
	RecentIncidents(limit int) []*models.Incident
	Summarize() registry.Snapshot
}

// DeadLetterSource exposes undeliverable notifications.
type DeadLetterSource interface {
	DeadLetters() []reports.DeadLetter
}

// Handlers holds the route dependencies.
type Handlers struct {
	logger      *slog.Logger
	incidents   IncidentReader
	deadLetters DeadLetterSource
	failures    chan<- models.WorkflowFailure
}

// NewHandlers constructs the handler set. The failures channel feeds the
// workflow-failure monitor.
func NewHandlers(logger *slog.Logger, incidents IncidentReader, deadLetters DeadLetterSource,
	failures chan<- models.WorkflowFailure) *Handlers {

	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		logger:      logger,
		incidents:   incidents,
		deadLetters: deadLetters,
		failures:    failures,
	}
}

// Register attaches all routes to the router.
func (h *Handlers) Register(router *gin.Engine) {
	router.GET("/healthz", h.healthz)

	v1 := router.Group("/api/v1")
	v1.GET("/summary", h.summary)
	v1.GET("/incidents", h.listIncidents)
	v1.GET("/incidents/:id", h.getIncident)
	v1.GET("/escalations/deadletter", h.deadLetterList)
	v1.POST("/workflow-failures", h.workflowFailure)
}

func (h *Handlers) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handlers) summary(c *gin.Context) {
	c.JSON(http.StatusOK, h.incidents.Summarize())
}

// listIncidents returns active incidents plus recent history, newest first,
// optionally filtered by ?status=.
func (h *Handlers) listIncidents(c *gin.Context) {
	statusFilter := c.Query("status")

	incidents := h.incidents.Active()
	incidents = append(incidents, h.incidents.RecentIncidents(100)...)

	if statusFilter != "" {
		filtered := incidents[:0]
		for _, inc := range incidents {
			if string(inc.Status) == statusFilter {
				filtered = append(filtered, inc)
			}
		}
		incidents = filtered
	}

	sort.Slice(incidents, func(i, j int) bool {
		return incidents[i].CreatedAt.After(incidents[j].CreatedAt)
	})

	c.JSON(http.StatusOK, gin.H{
		"incidents": incidents,
		"count":     len(incidents),
	})
}

func (h *Handlers) getIncident(c *gin.Context) {
	inc, ok := h.incidents.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "incident not found"})
		return
	}
	c.JSON(http.StatusOK, inc)
}

func (h *Handlers) deadLetterList(c *gin.Context) {
	letters := h.deadLetters.DeadLetters()
	c.JSON(http.StatusOK, gin.H{
		"deadLetters": letters,
		"count":       len(letters),
	})
}

// workflowFailure accepts an external failure event and hands it to the
// workflow monitor. A full channel returns 503 so the caller can retry.
func (h *Handlers) workflowFailure(c *gin.Context) {
	var failure models.WorkflowFailure
	if err := c.ShouldBindJSON(&failure); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload: " + err.Error()})
		return
	}
	if failure.Workflow == "" || failure.Error == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "workflow and error are required"})
		return
	}

	select {
	case h.failures <- failure:
		c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
	default:
		h.logger.Warn("workflow-failure channel full",
			slog.String("workflow", failure.Workflow))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event backlog full, retry later"})
	}
}

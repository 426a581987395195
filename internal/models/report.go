package models

import "time"

// IncidentReport is the machine-readable record emitted once per closed
// incident.
type IncidentReport struct {
	ReportID          string          `json:"reportId"`
	IncidentID        string          `json:"incidentId"`
	Title             string          `json:"title"`
	Severity          Severity        `json:"severity"`
	Source            Source          `json:"source"`
	RootCause         string          `json:"rootCause,omitempty"`
	ResolutionActions []string        `json:"resolutionActions,omitempty"`
	LessonsLearned    []string        `json:"lessonsLearned,omitempty"`
	FollowUpTasks     []string        `json:"followUpTasks,omitempty"`
	AutoResolved      bool            `json:"autoResolved"`
	StageResponses    []StageResponse `json:"stageResponses,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
	ResolvedAt        *time.Time      `json:"resolvedAt,omitempty"`
	GeneratedAt       time.Time       `json:"generatedAt"`
}

// EscalationNotice is the payload delivered on the notification channel when
// automation hands an incident to a human operator.
type EscalationNotice struct {
	IncidentID  string    `json:"incidentId"`
	Title       string    `json:"title"`
	Severity    Severity  `json:"severity"`
	Reason      string    `json:"reason"`
	CreatedAt   time.Time `json:"createdAt"`
	EscalatedAt time.Time `json:"escalatedAt"`
}

// WorkflowFailure is the inbound webhook payload describing a failed
// workflow or task run.
type WorkflowFailure struct {
	Workflow string   `json:"workflow"`
	Task     string   `json:"task,omitempty"`
	Error    string   `json:"error"`
	Agents   []string `json:"agents,omitempty"`
	Services []string `json:"services,omitempty"`
}

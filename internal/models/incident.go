package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Severity is the ordered urgency classification, P1 (critical) to P5 (informational).
type Severity int

const (
	SeverityP1 Severity = iota + 1
	SeverityP2
	SeverityP3
	SeverityP4
	SeverityP5
)

func (s Severity) String() string {
	switch s {
	case SeverityP1:
		return "P1"
	case SeverityP2:
		return "P2"
	case SeverityP3:
		return "P3"
	case SeverityP4:
		return "P4"
	case SeverityP5:
		return "P5"
	default:
		return fmt.Sprintf("P?(%d)", int(s))
	}
}

// MarshalJSON renders the severity as its P-level string.
func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts the P-level string form.
func (s *Severity) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch raw {
	case "P1":
		*s = SeverityP1
	case "P2":
		*s = SeverityP2
	case "P3":
		*s = SeverityP3
	case "P4":
		*s = SeverityP4
	case "P5":
		*s = SeverityP5
	default:
		return fmt.Errorf("unknown severity %q", raw)
	}
	return nil
}

// Status enumerates the incident lifecycle states.
type Status string

const (
	StatusDetected      Status = "detected"
	StatusAssigned      Status = "assigned"
	StatusInvestigating Status = "investigating"
	StatusFixing        Status = "fixing"
	StatusResolved      Status = "resolved"
	StatusClosed        Status = "closed"
	StatusEscalated     Status = "escalated"
)

// Terminal reports whether no further automated transitions exist from the status.
func (s Status) Terminal() bool {
	return s == StatusClosed || s == StatusEscalated
}

// Source tags the origin of the signal that created an incident.
type Source string

const (
	SourceAgentError      Source = "agent-error"
	SourceHealthProbe     Source = "health-probe"
	SourceWorkflowFailure Source = "workflow-failure"
	SourceLogScan         Source = "log-scan"
	SourceQueue           Source = "queue"
)

// StageName identifies one phase of the remediation pipeline.
type StageName string

const (
	StageCommander     StageName = "commander"
	StageDiagnostician StageName = "diagnostician"
	StageFixer         StageName = "fixer"
)

// StageResponse is the structured output of a single pipeline stage. One is
// appended per executed stage and never overwritten.
type StageResponse struct {
	Stage       StageName `json:"stage"`
	Summary     string    `json:"summary"`
	Severity    Severity  `json:"severity,omitempty"`
	Escalate    bool      `json:"escalate,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	RootCause   string    `json:"rootCause,omitempty"`
	Actions     []string  `json:"actions,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	Verified    bool      `json:"verified,omitempty"`
	CompletedAt time.Time `json:"completedAt"`
}

// Incident is a tracked occurrence of an abnormal condition, carrying its own
// state machine. All mutation goes through the Registry.
type Incident struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Severity    Severity `json:"severity"`
	Status      Status   `json:"status"`
	Source      Source   `json:"source"`

	AffectedAgents   []string `json:"affectedAgents,omitempty"`
	AffectedServices []string `json:"affectedServices,omitempty"`
	Tags             []string `json:"tags,omitempty"`

	CreatedAt      time.Time  `json:"createdAt"`
	AcknowledgedAt *time.Time `json:"acknowledgedAt,omitempty"`
	ResolvedAt     *time.Time `json:"resolvedAt,omitempty"`
	EscalatedAt    *time.Time `json:"escalatedAt,omitempty"`

	StageResponses    []StageResponse `json:"stageResponses,omitempty"`
	RootCause         string          `json:"rootCause,omitempty"`
	ResolutionActions []string        `json:"resolutionActions,omitempty"`
	LessonsLearned    []string        `json:"lessonsLearned,omitempty"`
	FollowUpTasks     []string        `json:"followUpTasks,omitempty"`
	EscalationReason  string          `json:"escalationReason,omitempty"`

	// AutoResolved marks incidents closed by the resolver sweep rather than
	// the full pipeline.
	AutoResolved bool `json:"autoResolved,omitempty"`
}

// Clone returns a deep copy so callers can read incident state without
// holding registry locks.
func (i *Incident) Clone() *Incident {
	if i == nil {
		return nil
	}
	dup := *i
	dup.AffectedAgents = append([]string(nil), i.AffectedAgents...)
	dup.AffectedServices = append([]string(nil), i.AffectedServices...)
	dup.Tags = append([]string(nil), i.Tags...)
	dup.StageResponses = append([]StageResponse(nil), i.StageResponses...)
	dup.ResolutionActions = append([]string(nil), i.ResolutionActions...)
	dup.LessonsLearned = append([]string(nil), i.LessonsLearned...)
	dup.FollowUpTasks = append([]string(nil), i.FollowUpTasks...)
	dup.AcknowledgedAt = cloneTime(i.AcknowledgedAt)
	dup.ResolvedAt = cloneTime(i.ResolvedAt)
	dup.EscalatedAt = cloneTime(i.EscalatedAt)
	return &dup
}

// HasTag reports whether the incident carries the given classification tag.
func (i *Incident) HasTag(tag string) bool {
	for _, t := range i.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// MergeTags unions new tags into the incident's tag set.
func (i *Incident) MergeTags(tags ...string) {
	for _, tag := range tags {
		if tag == "" || i.HasTag(tag) {
			continue
		}
		i.Tags = append(i.Tags, tag)
	}
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	dup := *t
	return &dup
}

// Candidate is a classified signal proposed to the Registry by a monitor.
type Candidate struct {
	Title            string
	Description      string
	Severity         Severity
	Source           Source
	Tags             []string
	AffectedAgents   []string
	AffectedServices []string
	ObservedAt       time.Time
}

// Signal is one raw record from an event source, before classification.
type Signal struct {
	Timestamp time.Time `json:"timestamp"`
	Origin    string    `json:"origin"`
	RawText   string    `json:"rawText"`
}

package reports

import (
	"fmt"
	"time"

	"github.com/miradorstack/mirador-ir/internal/models"
	"github.com/miradorstack/mirador-ir/internal/utils"
)

// DeriveClosureNotes produces lessons-learned and follow-up tasks from a
// resolved incident's record. Called by the registry at closure time.
func DeriveClosureNotes(inc *models.Incident) (lessons, followUps []string) {
	if inc == nil {
		return nil, nil
	}

	if inc.RootCause != "" && inc.RootCause != "undetermined" {
		lessons = append(lessons, fmt.Sprintf("root cause identified as %s", inc.RootCause))
	} else {
		lessons = append(lessons, "root cause undetermined; remediation succeeded without diagnosis")
		followUps = append(followUps, "investigate underlying cause offline")
	}

	if inc.AutoResolved {
		lessons = append(lessons, "resolved automatically from historical pattern")
	} else if len(inc.ResolutionActions) > 0 {
		lessons = append(lessons, fmt.Sprintf("remediation %v restored service", inc.ResolutionActions))
	}

	if inc.ResolvedAt != nil {
		minutes := utils.DurationMinutes(inc.CreatedAt, *inc.ResolvedAt)
		if minutes > 60 {
			followUps = append(followUps, "review why resolution exceeded one hour")
		}
		lessons = append(lessons, fmt.Sprintf("resolved in %.0f minutes", minutes))
	}

	if inc.Severity <= models.SeverityP2 {
		followUps = append(followUps, "schedule post-incident review with affected service owners")
	}
	return lessons, followUps
}

// BuildReport assembles the machine-readable closure report for an incident.
func BuildReport(inc *models.Incident, reportID string, now time.Time) models.IncidentReport {
	return models.IncidentReport{
		ReportID:          reportID,
		IncidentID:        inc.ID,
		Title:             inc.Title,
		Severity:          inc.Severity,
		Source:            inc.Source,
		RootCause:         inc.RootCause,
		ResolutionActions: append([]string(nil), inc.ResolutionActions...),
		LessonsLearned:    append([]string(nil), inc.LessonsLearned...),
		FollowUpTasks:     append([]string(nil), inc.FollowUpTasks...),
		AutoResolved:      inc.AutoResolved,
		StageResponses:    append([]models.StageResponse(nil), inc.StageResponses...),
		CreatedAt:         inc.CreatedAt,
		ResolvedAt:        inc.ResolvedAt,
		GeneratedAt:       now,
	}
}

// RenderNarrative formats a human-readable summary of a closure report.
func RenderNarrative(report models.IncidentReport) string {
	resolved := "unresolved"
	if report.ResolvedAt != nil {
		resolved = report.ResolvedAt.Format(time.RFC3339)
	}
	mode := "pipeline"
	if report.AutoResolved {
		mode = "auto-resolution"
	}
	return fmt.Sprintf("[%s] %s (%s via %s)\nroot cause: %s\nactions: %v\nresolved at: %s",
		report.Severity, report.Title, report.IncidentID, mode,
		orUnknown(report.RootCause), report.ResolutionActions, resolved)
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/miradorstack/mirador-ir/internal/models"
)

// RelatedThreshold is the Jaccard similarity above which two incidents are
// considered related.
const RelatedThreshold = 0.7

// Diagnostician performs root-cause search: it compares the incident against
// recent history for similar cases and falls back to tag-driven heuristics.
// An undetermined cause is still a successful diagnosis.
type Diagnostician struct {
	logger *slog.Logger
}

// NewDiagnostician constructs the diagnostician stage.
func NewDiagnostician(logger *slog.Logger) *Diagnostician {
	if logger == nil {
		logger = slog.Default()
	}
	return &Diagnostician{logger: logger}
}

// Name implements StageExecutor.
func (d *Diagnostician) Name() models.StageName { return models.StageDiagnostician }

// Execute implements StageExecutor.
func (d *Diagnostician) Execute(_ context.Context, inc *models.Incident, deps *Deps) (models.StageResponse, error) {
	resp := models.StageResponse{
		Stage:       models.StageDiagnostician,
		CompletedAt: deps.now(),
	}

	if related, score := d.findRelated(inc, deps); related != nil {
		resp.RootCause = related.RootCause
		resp.Tags = related.Tags
		resp.Summary = fmt.Sprintf("matched prior incident %s (similarity %.2f)", related.ID, score)
		return resp, nil
	}

	resp.RootCause = heuristicCause(inc)
	if resp.RootCause == "undetermined" {
		resp.Summary = "no related history and no matching heuristic"
	} else {
		resp.Summary = "derived from classification tags"
	}
	return resp, nil
}

// findRelated returns the most similar historical incident carrying a root
// cause, or nil when nothing clears the threshold.
func (d *Diagnostician) findRelated(inc *models.Incident, deps *Deps) (*models.Incident, float64) {
	if deps == nil || deps.History == nil {
		return nil, 0
	}

	incSet := featureSet(inc)
	var best *models.Incident
	bestScore := 0.0
	for _, past := range deps.History.RecentIncidents(200) {
		if past == nil || past.ID == inc.ID || past.RootCause == "" {
			continue
		}
		score := jaccard(incSet, featureSet(past))
		if score >= RelatedThreshold && score > bestScore {
			best = past
			bestScore = score
		}
	}
	if best != nil {
		d.logger.Debug("diagnostician found related incident",
			slog.String("incident_id", inc.ID),
			slog.String("related_id", best.ID),
			slog.Float64("similarity", bestScore))
	}
	return best, bestScore
}

func heuristicCause(inc *models.Incident) string {
	title := strings.ToLower(inc.Title)
	switch {
	case inc.HasTag("database") && strings.Contains(title, "connection"):
		return "connection pool exhaustion"
	case inc.HasTag("database"):
		return "database backend failure"
	case inc.HasTag("connectivity"):
		return "network partition between service and dependency"
	case inc.HasTag("performance"):
		return "resource saturation"
	case inc.HasTag("api"):
		return "upstream api degradation"
	default:
		return "undetermined"
	}
}

// featureSet is the union of lowercased title words and tags.
func featureSet(inc *models.Incident) map[string]struct{} {
	set := make(map[string]struct{})
	for _, word := range strings.Fields(strings.ToLower(inc.Title)) {
		set[strings.Trim(word, ".,:;!?")] = struct{}{}
	}
	for _, tag := range inc.Tags {
		set[strings.ToLower(tag)] = struct{}{}
	}
	delete(set, "")
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for item := range a {
		if _, ok := b[item]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

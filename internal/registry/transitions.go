package registry

import (
	"fmt"

	"github.com/miradorstack/mirador-ir/internal/models"
)

// transitions is the exhaustive edge table of the incident state machine.
// DETECTED -> RESOLVED exists only for resolver-driven auto-resolution; the
// registry guards that edge separately.
var transitions = map[models.Status][]models.Status{
	models.StatusDetected:      {models.StatusAssigned, models.StatusResolved},
	models.StatusAssigned:      {models.StatusInvestigating, models.StatusEscalated},
	models.StatusInvestigating: {models.StatusFixing, models.StatusEscalated},
	models.StatusFixing:        {models.StatusResolved, models.StatusEscalated},
	models.StatusResolved:      {models.StatusClosed},
	models.StatusClosed:        nil,
	models.StatusEscalated:     nil,
}

// canTransition reports whether the edge from -> to exists.
func canTransition(from, to models.Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// setStatus applies a transition or returns ErrInvalidTransition.
func setStatus(inc *models.Incident, to models.Status) error {
	if !canTransition(inc.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, inc.Status, to)
	}
	inc.Status = to
	return nil
}

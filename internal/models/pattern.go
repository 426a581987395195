package models

import "time"

// ErrorPattern aggregates the history of one recurring incident type, keyed
// by a normalized prefix of the incident title.
type ErrorPattern struct {
	Key                   string    `json:"key"`
	OccurrenceCount       int       `json:"occurrenceCount"`
	LastSeenAt            time.Time `json:"lastSeenAt"`
	ResolutionSuccessRate float64   `json:"resolutionSuccessRate"`
	KnownFixes            []string  `json:"knownFixes,omitempty"`
}

// Clone returns a copy safe to hand outside the pattern store.
func (p *ErrorPattern) Clone() *ErrorPattern {
	if p == nil {
		return nil
	}
	dup := *p
	dup.KnownFixes = append([]string(nil), p.KnownFixes...)
	return &dup
}

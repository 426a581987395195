package utils

import "time"

// DurationMinutes converts a pair of timestamps into minute duration.
func DurationMinutes(start, end time.Time) float64 {
	if end.Before(start) {
		start, end = end, start
	}
	return end.Sub(start).Minutes()
}

// WithinHourWindow reports whether t falls inside the [start, end) hour
// window. A zero-width window (start == end) always matches, which is how an
// always-on automation policy is expressed. Windows may wrap midnight, e.g.
// start=22 end=6.
func WithinHourWindow(t time.Time, start, end int) bool {
	if start == end {
		return true
	}
	h := t.Hour()
	if start < end {
		return h >= start && h < end
	}
	return h >= start || h < end
}

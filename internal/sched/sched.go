// Package sched decides how long the bridge waits between polls.
package sched

import "time"

const (
	DayInterval     = 3 * time.Second  // [06:00, 18:00)
	EveningInterval = 5 * time.Second  // [18:00, 23:00)
	NightInterval   = 10 * time.Second // [23:00, 06:00)
)

// NextInterval picks the poll interval for the local hour of now. Polling
// is densest when players are around and backs off overnight; the interval
// applies uniformly whether or not the previous poll found a question.
func NextInterval(now time.Time) time.Duration {
	hour := now.Hour()
	switch {
	case hour >= 6 && hour < 18:
		return DayInterval
	case hour >= 18 && hour < 23:
		return EveningInterval
	default:
		return NightInterval
	}
}

package models

import "time"

// SyncReport summarizes one drain of the action log.
type SyncReport struct {
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	Skipped    int       `json:"skipped"` // left untouched because the drain was cancelled
	Trigger    string    `json:"trigger"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Total returns the number of actions in the drained snapshot.
func (r SyncReport) Total() int {
	return r.Succeeded + r.Failed + r.Skipped
}

// Duration returns the wall time the drain took.
func (r SyncReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

package model

import "time"

// RunStatus represents the current state of a harvest run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// RunSummary holds the per-outcome counters of a finished run.
type RunSummary struct {
	Total    int `json:"total"`
	Resolved int `json:"resolved"` // at least one address found
	Empty    int `json:"empty"`    // resolved cleanly to zero addresses
	Failed   int `json:"failed"`   // static fetch failed, recorded as ERROR
	Skipped  int `json:"skipped"`  // blank website cell, never fetched
}

// HarvestRun represents one batch invocation over a sheet.
type HarvestRun struct {
	ID         string     `json:"id"`
	Source     string     `json:"source"`
	Status     RunStatus  `json:"status"`
	Summary    RunSummary `json:"summary"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at,omitempty"`
}

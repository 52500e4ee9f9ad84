package models

import "time"

// ThemeKind distinguishes what a mined theme was grouped on.
type ThemeKind string

const (
	ThemeRootCause ThemeKind = "root_cause"
	ThemeIssue     ThemeKind = "issue"
	ThemePriority  ThemeKind = "priority"
)

// ThemePattern is a recurring theme observed across the results of one job.
type ThemePattern struct {
	Theme         string    `json:"theme"`
	Kind          ThemeKind `json:"kind"`
	Count         int       `json:"count"`
	TicketIDs     []string  `json:"ticket_ids"`
	TestCaseRatio float64   `json:"test_case_ratio"`
	LastSeen      time.Time `json:"last_seen"`
}

// JobReport summarises the analyses produced by a bulk job.
type JobReport struct {
	JobID             string         `json:"job_id"`
	Analyses          int            `json:"analyses"`
	TestCasesNeeded   int            `json:"test_cases_needed"`
	ValidationFailed  int            `json:"validation_failed"`
	Regenerated       int            `json:"regenerated"`
	PriorityBreakdown map[string]int `json:"priority_breakdown"`
	Patterns          []ThemePattern `json:"patterns"`
	GeneratedAt       time.Time      `json:"generated_at"`
}

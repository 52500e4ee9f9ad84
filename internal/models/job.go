package models

import "time"

// JobStatus is the lifecycle state of a bulk job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status is absorbing.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobCancelled
}

// CanTransition reports whether moving from s to next is legal. Status never regresses and
// terminal states never change.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case JobPending:
		return next == JobRunning || next == JobCancelled || next == JobCompleted
	case JobRunning:
		return next == JobCompleted || next == JobCancelled
	default:
		return false
	}
}

// ItemStatus is the per-record outcome inside a job.
type ItemStatus string

const (
	ItemSuccess ItemStatus = "success"
	ItemFailed  ItemStatus = "failed"
)

// ItemResult records what happened to one record of a job.
type ItemResult struct {
	Status ItemStatus `json:"status"`
	Error  string     `json:"error,omitempty"`
}

// BulkOptions selects which analyses a bulk job runs for each record.
type BulkOptions struct {
	EnableTestCases bool `json:"enable_test_cases"`
	EnablePriority  bool `json:"enable_priority"`
}

// AnyEnabled reports whether at least one analysis kind is selected.
func (o BulkOptions) AnyEnabled() bool {
	return o.EnableTestCases || o.EnablePriority
}

// Job is the progress record of a bulk submission.
type Job struct {
	ID             string                `json:"id"`
	TotalItems     int                   `json:"total_items"`
	ProcessedCount int                   `json:"processed_count"`
	SuccessCount   int                   `json:"success_count"`
	FailedCount    int                   `json:"failed_count"`
	Status         JobStatus             `json:"status"`
	Items          map[string]ItemResult `json:"items"`
	Options        BulkOptions           `json:"options"`
	CreatedAt      time.Time             `json:"created_at"`
	StartedAt      *time.Time            `json:"started_at,omitempty"`
	FinishedAt     *time.Time            `json:"finished_at,omitempty"`
}

// Clone returns a deep copy safe to hand to callers.
func (j Job) Clone() Job {
	out := j
	out.Items = make(map[string]ItemResult, len(j.Items))
	for k, v := range j.Items {
		out.Items[k] = v
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		out.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		out.FinishedAt = &t
	}
	return out
}

// Consistent reports whether the job's counters satisfy the progress invariants.
func (j Job) Consistent() bool {
	return j.ProcessedCount == j.SuccessCount+j.FailedCount &&
		j.ProcessedCount <= j.TotalItems &&
		len(j.Items) == j.ProcessedCount
}

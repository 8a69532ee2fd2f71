// Package types provides common type definitions for the weather collector system.
package types

import "time"

// JobState represents the lifecycle state of a scheduled job
type JobState string

const (
	// JobStateIdle represents a recurring job waiting for its next trigger
	JobStateIdle JobState = "idle"
	// JobStatePending represents a one-time job scheduled but not yet started
	JobStatePending JobState = "pending"
	// JobStateRunning represents a job currently executing a tick
	JobStateRunning JobState = "running"
	// JobStateCompleted represents a one-time job that finished successfully
	JobStateCompleted JobState = "completed"
	// JobStateFailed represents a one-time job that exhausted its retries
	JobStateFailed JobState = "failed"
)

// Terminal reports whether a job in this state will never run again.
func (s JobState) Terminal() bool {
	return s == JobStateCompleted || s == JobStateFailed
}

// UpdateKind distinguishes the two manually triggerable pipelines
type UpdateKind string

const (
	// UpdateKindCurrent triggers one collection tick for current conditions
	UpdateKindCurrent UpdateKind = "current"
	// UpdateKindBackfill triggers a historical backfill run
	UpdateKindBackfill UpdateKind = "backfill"
)

// DateRange is a half-open UTC time interval [From, To)
type DateRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Valid reports whether the range is well-formed and non-empty.
func (r DateRange) Valid() bool {
	return !r.From.IsZero() && !r.To.IsZero() && r.From.Before(r.To)
}

// Contains reports whether t falls inside the range.
func (r DateRange) Contains(t time.Time) bool {
	return !t.Before(r.From) && t.Before(r.To)
}

// Days returns the UTC day boundaries covered by the range, ascending.
// A day is included if any instant of it falls inside the range.
func (r DateRange) Days() []time.Time {
	if !r.Valid() {
		return nil
	}
	var days []time.Time
	for d := StartOfDay(r.From); d.Before(r.To); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

// StartOfDay truncates t to midnight UTC.
func StartOfDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// HorizonStart returns the earliest instant the backfill window must reach:
// now minus horizonMonths calendar months.
func HorizonStart(now time.Time, horizonMonths int) time.Time {
	return now.UTC().AddDate(0, -horizonMonths, 0)
}

// ServiceError represents a structured error payload surfaced by the HTTP API
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}

package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist (or has
// passed its expiry and is merely awaiting the reaper).
var ErrNotFound = errors.New("not found")

// ErrInvalidTransition is returned when a state change would move a job
// backwards or out of a terminal state.
var ErrInvalidTransition = errors.New("invalid state transition")

// Status is the job lifecycle state. Transitions are monotonic:
// pending → processing → completed|failed, nothing else.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether s is an end state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is the persisted OCR job record. The record is the sole owner of
// FilePath and ResultPath; only failure-path cleanup and the reaper delete
// those files.
type Job struct {
	ID         string
	Status     Status
	Engine     string
	ParamsJSON string // validated parameters, stored verbatim for reproducibility
	FilePath   string
	ResultPath string

	// ErrorKind / ErrorMessage are populated only in the failed state.
	ErrorKind    string
	ErrorMessage string

	CreatedAt   time.Time
	StartedAt   time.Time // zero until claimed
	CompletedAt time.Time // zero until terminal
	// ExpiresAt is the auto-eviction deadline: a short safety TTL while
	// pending/processing, recomputed to completed_at + retention once
	// terminal.
	ExpiresAt time.Time
}

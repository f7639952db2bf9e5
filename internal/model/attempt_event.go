package model

import (
	"encoding/json"
	"time"
)

// AttemptEventType enumerates audit events recorded for operators.
type AttemptEventType string

const (
	AttemptEventStarted          AttemptEventType = "STARTED"
	AttemptEventLoadFailed       AttemptEventType = "LOAD_FAILED"
	AttemptEventViolation        AttemptEventType = "VIOLATION"
	AttemptEventSubmitted        AttemptEventType = "SUBMITTED"
	AttemptEventSubmissionFailed AttemptEventType = "SUBMISSION_FAILED"
	AttemptEventBestEffortSent   AttemptEventType = "BEST_EFFORT_SENT"
	AttemptEventScratchError     AttemptEventType = "SCRATCH_ERROR"
)

// AttemptEvent is one row of the attempt audit trail.
type AttemptEvent struct {
	ID         int64            `json:"id"`
	AttemptID  string           `json:"attempt_id"`
	Type       AttemptEventType `json:"type"`
	Reason     string           `json:"reason,omitempty"`
	Detail     json.RawMessage  `json:"detail,omitempty"`
	RecordedAt time.Time        `json:"recorded_at"`
}

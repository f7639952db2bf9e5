package model

// BestEffortJob is a submission handed off when the page unloads. The
// beacon worker replays it against the backend.
type BestEffortJob struct {
	AttemptID string        `json:"attempt_id"`
	Answers   []AnswerEntry `json:"answers"`
	Attempts  int           `json:"attempts"`
	QueuedAt  int64         `json:"queued_at"`
}

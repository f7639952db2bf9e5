package config

type WorkerKeyStruct struct {
	BestEffortSubmissionsQueue string
	PersistAttemptEventsQueue  string
}

var WorkerKey = &WorkerKeyStruct{
	BestEffortSubmissionsQueue: "best_effort_submissions_queue",
	PersistAttemptEventsQueue:  "persist_attempt_events_queue",
}

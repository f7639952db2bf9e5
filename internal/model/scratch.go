package model

// ScratchSnapshot is the in-flight answer set written on page teardown so a
// reload can be detected and submitted. Timestamp is Unix milliseconds.
type ScratchSnapshot struct {
	Answers   map[int]int `json:"answers"`
	Timestamp int64       `json:"timestamp"`
}

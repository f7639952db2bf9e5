package session

import "fmt"

// Status is the lifecycle state of one attempt.
type Status int32

const (
	StatusLoading Status = iota
	StatusInProgress
	StatusSubmitting
	StatusSubmitted
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusLoading:
		return "LOADING"
	case StatusInProgress:
		return "IN_PROGRESS"
	case StatusSubmitting:
		return "SUBMITTING"
	case StatusSubmitted:
		return "SUBMITTED"
	case StatusFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the status by name in JSON payloads.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a status name.
func (s *Status) UnmarshalText(b []byte) error {
	for st := StatusLoading; st <= StatusFailed; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", b)
}

// Terminal reports whether no further transition can happen.
func (s Status) Terminal() bool {
	return s == StatusSubmitted || s == StatusFailed
}

// Reason records which trigger moved the attempt into Submitting.
type Reason string

const (
	ReasonNone           Reason = ""
	ReasonManual         Reason = "MANUAL"
	ReasonTimeout        Reason = "TIMEOUT"
	ReasonTabSwitch      Reason = "TAB_SWITCH"
	ReasonReload         Reason = "RELOAD"
	ReasonFullscreenExit Reason = "FULLSCREEN_EXIT"
)

// Automatic reports whether the submission was forced rather than confirmed
// by the candidate.
func (r Reason) Automatic() bool {
	return r != ReasonNone && r != ReasonManual
}

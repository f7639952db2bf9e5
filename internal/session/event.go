package session

import "github.com/candorworks/exam-proctor/internal/model"

// Signal is an environment notification from the candidate's page.
type Signal string

const (
	SignalVisibilityHidden Signal = "visibility_hidden"
	SignalFullscreenExit   Signal = "fullscreen_exit"
	SignalReloadKey        Signal = "reload_key"
	SignalUnload           Signal = "unload"
	SignalCopy             Signal = "copy"
)

// Valid reports whether s is a known signal.
func (s Signal) Valid() bool {
	switch s {
	case SignalVisibilityHidden, SignalFullscreenExit, SignalReloadKey, SignalUnload, SignalCopy:
		return true
	}
	return false
}

// CommandKind names a transition request.
type CommandKind string

const (
	CmdSelect        CommandKind = "select"
	CmdNext          CommandKind = "next"
	CmdGoTo          CommandKind = "goto"
	CmdRequestSubmit CommandKind = "request_submit"
	CmdConfirmSubmit CommandKind = "confirm_submit"
	CmdCancelSubmit  CommandKind = "cancel_submit"
	CmdSignal        CommandKind = "signal"
)

// Command is one input to the controller's event loop.
type Command struct {
	Kind   CommandKind
	Option int
	Index  int
	Signal Signal
}

// EventType names an outbound notification.
type EventType string

const (
	EventState        EventType = "state"
	EventTick         EventType = "tick"
	EventPrompt       EventType = "prompt"
	EventViolation    EventType = "violation"
	EventCopy         EventType = "copy"
	EventSubmitFailed EventType = "submit_failed"
	EventSubmitted    EventType = "submitted"
	EventFailed       EventType = "failed"
)

// PromptCode identifies the dialog the page should show.
type PromptCode string

const (
	PromptUnanswered     PromptCode = "UNANSWERED"
	PromptConfirmSubmit  PromptCode = "CONFIRM_SUBMIT"
	PromptBackward       PromptCode = "BACKWARD_NAVIGATION"
	PromptNotFinal       PromptCode = "NOT_FINAL_QUESTION"
	PromptInvalidRequest PromptCode = "INVALID_REQUEST"
)

// CopyPlaceholder replaces clipboard content copied from question text.
const CopyPlaceholder = "Cheating is not allowed!"

// Event is sent to the page through the Emitter.
type Event struct {
	Type          EventType  `json:"event"`
	State         *View      `json:"state,omitempty"`
	TimeRemaining *int       `json:"time_remaining,omitempty"`
	Prompt        PromptCode `json:"prompt,omitempty"`
	Title         string     `json:"title,omitempty"`
	Message       string     `json:"message,omitempty"`
	Reason        Reason     `json:"reason,omitempty"`
	Text          string     `json:"text,omitempty"`
}

// View is the page-facing snapshot of the attempt.
type View struct {
	AttemptID       string          `json:"attempt_id"`
	Candidate       model.Candidate `json:"candidate"`
	Status          Status          `json:"status"`
	CurrentIndex    int             `json:"current_index"`
	TotalQuestions  int             `json:"total_questions"`
	Question        *model.Question `json:"question,omitempty"`
	Selected        *int            `json:"selected,omitempty"`
	AnsweredCount   int             `json:"answered_count"`
	ProgressPercent int             `json:"progress_percent"`
	TimeRemaining   int             `json:"time_remaining"`
	TimePercent     int             `json:"time_percent"`
}

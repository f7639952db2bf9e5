package websocket

import (
	"errors"
	"fmt"

	"github.com/candorworks/exam-proctor/internal/session"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionSelect        Action = "select"
	ActionNext          Action = "next"
	ActionGoTo          Action = "goto"
	ActionRequestSubmit Action = "request_submit"
	ActionConfirmSubmit Action = "confirm_submit"
	ActionCancelSubmit  Action = "cancel_submit"
	ActionSignal        Action = "signal"
	ActionPing          Action = "ping"
)

// RequestPayload is every client message. Fields are used per action.
type RequestPayload struct {
	Action Action `json:"action"`
	Option *int   `json:"option,omitempty"`
	Index  *int   `json:"index,omitempty"`
	Kind   string `json:"kind,omitempty"`
}

var errMissingField = errors.New("missing field")

// ToCommand converts a client message into a controller command.
func (p *RequestPayload) ToCommand() (session.Command, error) {
	switch p.Action {
	case ActionSelect:
		if p.Option == nil {
			return session.Command{}, fmt.Errorf("select: %w option", errMissingField)
		}
		return session.Command{Kind: session.CmdSelect, Option: *p.Option}, nil
	case ActionNext:
		return session.Command{Kind: session.CmdNext}, nil
	case ActionGoTo:
		if p.Index == nil {
			return session.Command{}, fmt.Errorf("goto: %w index", errMissingField)
		}
		return session.Command{Kind: session.CmdGoTo, Index: *p.Index}, nil
	case ActionRequestSubmit:
		return session.Command{Kind: session.CmdRequestSubmit}, nil
	case ActionConfirmSubmit:
		return session.Command{Kind: session.CmdConfirmSubmit}, nil
	case ActionCancelSubmit:
		return session.Command{Kind: session.CmdCancelSubmit}, nil
	case ActionSignal:
		sig := session.Signal(p.Kind)
		if !sig.Valid() {
			return session.Command{}, fmt.Errorf("unknown signal: %q", p.Kind)
		}
		return session.Command{Kind: session.CmdSignal, Signal: sig}, nil
	default:
		return session.Command{}, fmt.Errorf("unknown action: %s", p.Action)
	}
}

// ─── Events (Server → Client) ───────────────────────────────────────
// Controller events are written as session.Event; these cover the rest.

type Event string

const (
	EventError Event = "error"
	EventPong  Event = "pong"
)

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}

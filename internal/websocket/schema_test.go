package websocket

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/candorworks/exam-proctor/internal/session"
)

func decode(t *testing.T, raw string) *RequestPayload {
	t.Helper()
	var p RequestPayload
	require.NoError(t, json.Unmarshal([]byte(raw), &p))
	return &p
}

func TestToCommand(t *testing.T) {
	cases := []struct {
		raw  string
		want session.Command
	}{
		{`{"action":"select","option":0}`, session.Command{Kind: session.CmdSelect, Option: 0}},
		{`{"action":"next"}`, session.Command{Kind: session.CmdNext}},
		{`{"action":"goto","index":3}`, session.Command{Kind: session.CmdGoTo, Index: 3}},
		{`{"action":"request_submit"}`, session.Command{Kind: session.CmdRequestSubmit}},
		{`{"action":"confirm_submit"}`, session.Command{Kind: session.CmdConfirmSubmit}},
		{`{"action":"cancel_submit"}`, session.Command{Kind: session.CmdCancelSubmit}},
		{`{"action":"signal","kind":"visibility_hidden"}`, session.Command{Kind: session.CmdSignal, Signal: session.SignalVisibilityHidden}},
		{`{"action":"signal","kind":"copy"}`, session.Command{Kind: session.CmdSignal, Signal: session.SignalCopy}},
	}
	for _, tc := range cases {
		cmd, err := decode(t, tc.raw).ToCommand()
		require.NoError(t, err, tc.raw)
		assert.Equal(t, tc.want, cmd, tc.raw)
	}
}

func TestToCommandRejects(t *testing.T) {
	for _, raw := range []string{
		`{"action":"select"}`,
		`{"action":"goto"}`,
		`{"action":"signal","kind":"devtools"}`,
		`{"action":"autosave"}`,
	} {
		_, err := decode(t, raw).ToCommand()
		assert.Error(t, err, raw)
	}
}

package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/candorworks/exam-proctor/internal/session"
)

const (
	writeWait = 10 * time.Second
	readWait  = 5 * time.Minute
)

// Writer serialises writes to one connection. The controller and the read
// loop both write, and gorilla allows a single concurrent writer.
type Writer struct {
	mu   sync.Mutex
	conn *websocket.Conn
	log  zerolog.Logger
}

// NewWriter wraps conn.
func NewWriter(conn *websocket.Conn, log zerolog.Logger) *Writer {
	return &Writer{conn: conn, log: log}
}

// WriteTyped sends a strongly-typed payload over the WebSocket.
func (w *Writer) WriteTyped(v interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteJSON(v)
}

// WriteError sends a typed ErrorResponse over the WebSocket.
func (w *Writer) WriteError(errMsg string) error {
	return w.WriteTyped(ErrorResponse{
		Event: EventError,
		Error: errMsg,
	})
}

// Emit implements session.Emitter. A failed write means the page is gone;
// the read loop reports that, so the error is only logged.
func (w *Writer) Emit(ev session.Event) {
	if err := w.WriteTyped(ev); err != nil {
		w.log.Debug().Err(err).Str("event", string(ev.Type)).Msg("Dropping event for closed connection")
	}
}

// Close sends a normal close frame.
func (w *Writer) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}

// ReadJSON reads and decodes a message into the provided structure.
// It sets a read deadline.
func ReadJSON(conn *websocket.Conn, v interface{}) error {
	conn.SetReadDeadline(time.Now().Add(readWait))
	return conn.ReadJSON(v)
}

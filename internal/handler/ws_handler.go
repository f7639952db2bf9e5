package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/candorworks/exam-proctor/internal/repository"
	"github.com/candorworks/exam-proctor/internal/response"
	"github.com/candorworks/exam-proctor/internal/service"
	"github.com/candorworks/exam-proctor/internal/session"
	ws "github.com/candorworks/exam-proctor/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler runs one session controller per attempt stream.
type WSHandler struct {
	attempts    *service.AttemptService
	submissions *service.SubmissionService
	audit       *service.AuditService
	cache       *repository.AttemptCacheRepository
	scratch     *repository.ScratchRepository
	log         zerolog.Logger
	upgrader    websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(
	attempts *service.AttemptService,
	submissions *service.SubmissionService,
	audit *service.AuditService,
	cache *repository.AttemptCacheRepository,
	scratch *repository.ScratchRepository,
	log zerolog.Logger,
	allowedOrigins []string,
) *WSHandler {
	return &WSHandler{
		attempts:    attempts,
		submissions: submissions,
		audit:       audit,
		cache:       cache,
		scratch:     scratch,
		log:         log.With().Str("component", "ws_handler").Logger(),
		upgrader:    buildUpgrader(allowedOrigins),
	}
}

// AttemptStream godoc
// WS /ws/v1/attempts/:attempt_id/stream?token=...
// Runs the attempt: the page sends actions and signals, the server pushes
// state, ticks, prompts and the final outcome.
func (h *WSHandler) AttemptStream(c *gin.Context) {
	attemptID := strings.ToUpper(c.Param("attempt_id"))
	ctx := c.Request.Context()

	if err := h.attempts.CheckOpen(ctx, attemptID); err != nil {
		if errors.Is(err, service.ErrAlreadySubmitted) {
			response.Fail(c, http.StatusConflict, response.ErrAlreadySubmitted)
			return
		}
		h.log.Error().Err(err).Str("attempt_id", attemptID).Msg("Check submitted failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	data, err := h.attempts.LoadTestData(ctx, attemptID)
	if err != nil {
		h.log.Error().Err(err).Str("attempt_id", attemptID).Msg("Load test data failed")
	}

	// The claim outlives a crashed process by at most the attempt's own span.
	owner := uuid.New().String()
	ok, err := h.cache.AcquireStream(ctx, attemptID, owner, h.attempts.StreamTTL(data))
	if err != nil {
		h.log.Error().Err(err).Str("attempt_id", attemptID).Msg("Stream claim failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	if !ok {
		response.Fail(c, http.StatusConflict, response.ErrStreamActive)
		return
	}
	defer func() {
		if err := h.cache.ReleaseStream(context.Background(), attemptID, owner); err != nil {
			h.log.Warn().Err(err).Str("attempt_id", attemptID).Msg("Stream release failed")
		}
	}()

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().Str("attempt_id", attemptID).Logger()
	writer := ws.NewWriter(conn, wsLog)

	h.audit.SessionOpened()
	defer h.audit.SessionClosed()

	// The attempt outlives the HTTP request: an unload still has to finish
	// its snapshot and best-effort hand-off.
	runCtx := context.WithoutCancel(ctx)

	ctrl := session.New(attemptID, session.Deps{
		Submitter:  h.submissions,
		BestEffort: h.submissions,
		Closer:     h.submissions,
		Scratch:    h.scratch,
		Emitter:    writer,
		Reporter:   h.audit,
		Log:        wsLog,
	})

	wsLog.Info().Msg("Candidate connected")

	if err := ctrl.Start(runCtx, data); err != nil {
		writer.Close()
		return
	}

	cmds := make(chan session.Command)
	done := make(chan struct{})
	defer close(done)
	go h.readLoop(conn, writer, wsLog, cmds, done)

	if err := ctrl.Run(runCtx, cmds); err != nil {
		wsLog.Warn().Err(err).Msg("Controller stopped")
	}

	wsLog.Info().
		Str("status", ctrl.Status().String()).
		Str("reason", string(ctrl.SubmittedReason())).
		Msg("Attempt stream finished")
	writer.Close()
}

// readLoop turns client messages into commands. It closes cmds when the
// connection drops, which the controller treats as an unload.
func (h *WSHandler) readLoop(conn *websocket.Conn, writer *ws.Writer, wsLog zerolog.Logger, cmds chan<- session.Command, done <-chan struct{}) {
	defer close(cmds)

	for {
		var msg ws.RequestPayload
		if err := ws.ReadJSON(conn, &msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		if msg.Action == ws.ActionPing {
			writer.WriteTyped(ws.PongResponse{Event: ws.EventPong})
			continue
		}

		cmd, err := msg.ToCommand()
		if err != nil {
			wsLog.Warn().Str("action", string(msg.Action)).Msg("Rejected action")
			writer.WriteError(err.Error())
			continue
		}

		select {
		case cmds <- cmd:
		case <-done:
			return
		}
	}
}

package handler

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/candorworks/exam-proctor/internal/config"
	"github.com/candorworks/exam-proctor/internal/model"
	"github.com/candorworks/exam-proctor/internal/response"
	"github.com/candorworks/exam-proctor/internal/service"
)

const keepAliveInterval = 30 * time.Second

// MonitorHandler serves the operator view of an attempt's audit trail.
type MonitorHandler struct {
	rdb   *redis.Client
	audit *service.AuditService
	log   zerolog.Logger
}

func NewMonitorHandler(rdb *redis.Client, audit *service.AuditService, log zerolog.Logger) *MonitorHandler {
	return &MonitorHandler{
		rdb:   rdb,
		audit: audit,
		log:   log.With().Str("component", "monitor_handler").Logger(),
	}
}

// ListEvents godoc
// GET /api/v1/ops/attempts/:attempt_id/events
func (h *MonitorHandler) ListEvents(c *gin.Context) {
	attemptID := strings.ToUpper(c.Param("attempt_id"))

	events, err := h.audit.ListEvents(c.Request.Context(), attemptID)
	if err != nil {
		log := response.Logger(c, h.log)
		log.Error().Err(err).Str("attempt_id", attemptID).Msg("List events failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"attempt_id": attemptID, "events": events})
}

// MonitorAttemptSSE godoc
// GET /api/v1/ops/attempts/:attempt_id/monitor
// Sends the stored trail, then forwards live events as they are reported.
func (h *MonitorHandler) MonitorAttemptSSE(c *gin.Context) {
	attemptID := strings.ToUpper(c.Param("attempt_id"))
	reqCtx := c.Request.Context()

	// Subscribe before reading history so nothing falls between the two.
	pubsub := h.rdb.Subscribe(reqCtx, config.CacheKey.AttemptMonitorChannel(attemptID))
	defer pubsub.Close()

	history, err := h.audit.ListEvents(reqCtx, attemptID)
	if err != nil {
		h.log.Warn().Err(err).Str("attempt_id", attemptID).Msg("History unavailable, streaming live only")
		history = []model.AttemptEvent{}
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	snapshot, _ := json.Marshal(gin.H{"type": "snapshot", "events": history})
	writeSSE(c, snapshot)

	ch := pubsub.Channel()
	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	pingPayload, _ := json.Marshal(map[string]string{"type": "ping"})

	h.log.Info().Str("attempt_id", attemptID).Msg("Operator attached to attempt monitor")

	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Str("attempt_id", attemptID).Msg("Operator detached from attempt monitor")
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			writeSSE(c, []byte(msg.Payload))
		case <-keepAlive.C:
			writeSSE(c, pingPayload)
		}
	}
}

func writeSSE(c *gin.Context, payload []byte) {
	c.Writer.Write([]byte("data: "))
	c.Writer.Write(payload)
	c.Writer.Write([]byte("\n\n"))
	c.Writer.Flush()
}

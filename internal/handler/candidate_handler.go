package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/candorworks/exam-proctor/internal/delivery"
	"github.com/candorworks/exam-proctor/internal/model"
	"github.com/candorworks/exam-proctor/internal/response"
	"github.com/candorworks/exam-proctor/internal/service"
	"github.com/candorworks/exam-proctor/internal/validator"
)

// CandidateHandler handles the candidate's entry point.
type CandidateHandler struct {
	attemptService *service.AttemptService
	log            zerolog.Logger
}

// NewCandidateHandler creates a new CandidateHandler.
func NewCandidateHandler(attemptService *service.AttemptService, log zerolog.Logger) *CandidateHandler {
	return &CandidateHandler{
		attemptService: attemptService,
		log:            log.With().Str("component", "candidate_handler").Logger(),
	}
}

// Redeem godoc
// POST /api/v1/candidate/redeem
// Exchanges a shortcode for test data and an attempt token.
func (h *CandidateHandler) Redeem(c *gin.Context) {
	var req model.RedeemRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrInvalidShortcode, fields)
		return
	}

	resp, err := h.attemptService.Redeem(c.Request.Context(), req.Shortcode)
	if err != nil {
		status, code := redeemFailure(err)
		if status >= http.StatusInternalServerError {
			log := response.Logger(c, h.log)
			log.Error().Err(err).Str("shortcode", req.Shortcode).Msg("Redeem failed")
		}
		response.Fail(c, status, code)
		return
	}

	response.Success(c, http.StatusOK, resp)
}

func redeemFailure(err error) (int, response.ErrCode) {
	switch {
	case errors.Is(err, service.ErrInvalidShortcode):
		return http.StatusBadRequest, response.ErrInvalidShortcode
	case errors.Is(err, service.ErrAlreadySubmitted):
		return http.StatusConflict, response.ErrAlreadySubmitted
	case errors.Is(err, delivery.ErrNotFound):
		return http.StatusNotFound, response.ErrShortcodeNotFound
	case errors.Is(err, delivery.ErrExpired):
		return http.StatusGone, response.ErrShortcodeExpired
	case errors.Is(err, delivery.ErrAlreadyUsed):
		return http.StatusConflict, response.ErrShortcodeAlreadyUsed
	default:
		return http.StatusBadGateway, response.ErrBackendUnavailable
	}
}

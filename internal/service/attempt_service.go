package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/candorworks/exam-proctor/internal/model"
	"github.com/candorworks/exam-proctor/internal/repository"
	"github.com/rs/zerolog"
)

// Attempt errors.
var (
	ErrInvalidShortcode = errors.New("shortcode must be 8 letters or digits")
	ErrAlreadySubmitted = errors.New("attempt already submitted")
)

// ShortcodeRedeemer exchanges a shortcode for test content.
type ShortcodeRedeemer interface {
	RedeemShortcode(ctx context.Context, code string) (*model.TestData, error)
}

// AttemptService redeems shortcodes and serves the cached attempt payload to
// the session stream.
type AttemptService struct {
	backend ShortcodeRedeemer
	cache   *repository.AttemptCacheRepository
	tokens  *AttemptTokenService
	grace   time.Duration
	log     zerolog.Logger
}

// NewAttemptService creates a new AttemptService.
func NewAttemptService(
	backend ShortcodeRedeemer,
	cache *repository.AttemptCacheRepository,
	tokens *AttemptTokenService,
	grace time.Duration,
	log zerolog.Logger,
) *AttemptService {
	return &AttemptService{
		backend: backend,
		cache:   cache,
		tokens:  tokens,
		grace:   grace,
		log:     log.With().Str("component", "attempt_service").Logger(),
	}
}

// Redeem validates code, fetches the test, caches it for the attempt's
// lifetime and issues the attempt token.
func (s *AttemptService) Redeem(ctx context.Context, code string) (*model.RedeemResponse, error) {
	if !model.ValidShortcode(code) {
		return nil, ErrInvalidShortcode
	}
	attemptID := strings.ToUpper(code)

	closed, err := s.cache.IsClosed(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("check closed: %w", err)
	}
	if closed {
		return nil, ErrAlreadySubmitted
	}

	data, err := s.backend.RedeemShortcode(ctx, attemptID)
	if err != nil {
		return nil, err
	}

	ttl := s.StreamTTL(data)
	if err := s.cache.SavePayload(ctx, data, ttl); err != nil {
		return nil, fmt.Errorf("cache payload: %w", err)
	}

	token, err := s.tokens.Issue(attemptID, ttl)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("attempt_id", attemptID).
		Int("questions", len(data.Questions)).
		Int("duration_minutes", data.DurationMinutes).
		Msg("Shortcode redeemed")

	return &model.RedeemResponse{AttemptID: attemptID, Token: token, TestData: data}, nil
}

// LoadTestData returns the cached payload for attemptID, or nil when it is
// missing or expired.
func (s *AttemptService) LoadTestData(ctx context.Context, attemptID string) (*model.TestData, error) {
	data, err := s.cache.GetPayload(ctx, attemptID)
	if err != nil {
		if errors.Is(err, repository.ErrPayloadNotCached) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

// CheckOpen fails with ErrAlreadySubmitted once the attempt has a confirmed
// submission or was closed after a failed automatic one.
func (s *AttemptService) CheckOpen(ctx context.Context, attemptID string) error {
	closed, err := s.cache.IsClosed(ctx, attemptID)
	if err != nil {
		return fmt.Errorf("check closed: %w", err)
	}
	if closed {
		return ErrAlreadySubmitted
	}
	return nil
}

// StreamTTL bounds the single-stream claim of an attempt: its duration plus
// grace. A missing payload gets the grace alone.
func (s *AttemptService) StreamTTL(data *model.TestData) time.Duration {
	if data == nil {
		return s.grace
	}
	return time.Duration(data.DurationMinutes)*time.Minute + s.grace
}

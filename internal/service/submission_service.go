package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/candorworks/exam-proctor/internal/config"
	"github.com/candorworks/exam-proctor/internal/model"
	"github.com/candorworks/exam-proctor/internal/repository"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// enqueueTimeout bounds the best-effort push; the page is already gone.
const enqueueTimeout = 2 * time.Second

// AttemptSubmitter is the backend submission endpoint.
type AttemptSubmitter interface {
	SubmitAttempt(ctx context.Context, attemptID string, answers []model.AnswerEntry) error
}

// SubmissionService submits attempts to the backend, either awaited or
// through the best-effort queue.
type SubmissionService struct {
	backend      AttemptSubmitter
	cache        *repository.AttemptCacheRepository
	rdb          *redis.Client
	submittedTTL time.Duration
	log          zerolog.Logger
}

// NewSubmissionService creates a new SubmissionService.
func NewSubmissionService(
	backend AttemptSubmitter,
	cache *repository.AttemptCacheRepository,
	rdb *redis.Client,
	submittedTTL time.Duration,
	log zerolog.Logger,
) *SubmissionService {
	return &SubmissionService{
		backend:      backend,
		cache:        cache,
		rdb:          rdb,
		submittedTTL: submittedTTL,
		log:          log.With().Str("component", "submission_service").Logger(),
	}
}

// SubmitAttempt sends answers and waits for the backend. On success the
// attempt is marked submitted so it cannot be redeemed or streamed again.
func (s *SubmissionService) SubmitAttempt(ctx context.Context, attemptID string, answers []model.AnswerEntry) error {
	if err := s.backend.SubmitAttempt(ctx, attemptID, answers); err != nil {
		return err
	}
	if err := s.cache.MarkSubmitted(ctx, attemptID, s.submittedTTL); err != nil {
		s.log.Warn().Err(err).Str("attempt_id", attemptID).Msg("Failed to record submitted marker")
	}
	return nil
}

// CloseAttempt ends an attempt whose automatic submission failed, so it can be
// neither redeemed nor streamed again while its answers are redelivered.
func (s *SubmissionService) CloseAttempt(ctx context.Context, attemptID string) error {
	if err := s.cache.MarkClosed(ctx, attemptID, s.submittedTTL); err != nil {
		return fmt.Errorf("close attempt: %w", err)
	}
	return nil
}

// SubmitBestEffort queues answers for the beacon worker and returns at once.
// The outcome is never reported back.
func (s *SubmissionService) SubmitBestEffort(attemptID string, answers []model.AnswerEntry) {
	if answers == nil {
		answers = []model.AnswerEntry{}
	}
	job, err := json.Marshal(model.BestEffortJob{
		AttemptID: attemptID,
		Answers:   answers,
		QueuedAt:  time.Now().Unix(),
	})
	if err != nil {
		s.log.Error().Err(err).Str("attempt_id", attemptID).Msg("Failed to encode best-effort job")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), enqueueTimeout)
	defer cancel()

	if err := s.rdb.RPush(ctx, config.WorkerKey.BestEffortSubmissionsQueue, job).Err(); err != nil {
		s.log.Error().Err(fmt.Errorf("enqueue best-effort job: %w", err)).
			Str("attempt_id", attemptID).
			Msg("Best-effort submission lost")
	}
}

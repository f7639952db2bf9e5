package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/candorworks/exam-proctor/internal/config"
	"github.com/candorworks/exam-proctor/internal/metrics"
	"github.com/candorworks/exam-proctor/internal/model"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Submitter replays a queued submission against the backend.
type Submitter interface {
	SubmitAttempt(ctx context.Context, attemptID string, answers []model.AnswerEntry) error
}

// SubmittedChecker reports whether an attempt already has a confirmed submission.
type SubmittedChecker interface {
	IsSubmitted(ctx context.Context, attemptID string) (bool, error)
}

// BeaconWorker consumes best_effort_submissions_queue and delivers each job
// to the backend, retrying up to maxAttempts.
type BeaconWorker struct {
	rdb         *redis.Client
	submitter   Submitter
	checker     SubmittedChecker
	maxAttempts int
	retryDelay  time.Duration
	log         zerolog.Logger
}

// NewBeaconWorker creates a new BeaconWorker.
func NewBeaconWorker(rdb *redis.Client, submitter Submitter, checker SubmittedChecker, maxAttempts int, log zerolog.Logger) *BeaconWorker {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &BeaconWorker{
		rdb:         rdb,
		submitter:   submitter,
		checker:     checker,
		maxAttempts: maxAttempts,
		retryDelay:  2 * time.Second,
		log:         log.With().Str("component", "beacon_worker").Logger(),
	}
}

// Start begins the worker loop. Call in a goroutine.
func (w *BeaconWorker) Start(ctx context.Context) {
	w.log.Info().Int("max_attempts", w.maxAttempts).Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping...")
			drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			w.drain(drainCtx)
			cancel()
			w.log.Info().Msg("Worker stopped")
			return
		default:
			w.processNext(ctx)
		}
	}
}

func (w *BeaconWorker) processNext(ctx context.Context) {
	result, err := w.rdb.BLPop(ctx, PollTimeout, config.WorkerKey.BestEffortSubmissionsQueue).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			time.Sleep(3 * time.Second)
		}
		return
	}
	if len(result) < 2 {
		return
	}

	if !w.handle(ctx, result[1]) {
		time.Sleep(w.retryDelay)
	}
}

// handle delivers one raw job. It returns false when the job was requeued.
func (w *BeaconWorker) handle(ctx context.Context, raw string) bool {
	var job model.BestEffortJob
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		w.log.Error().Err(err).Str("data", raw).Msg("Discarding malformed job")
		metrics.QueueJobs.WithLabelValues("best_effort", "malformed").Inc()
		return true
	}

	if done, err := w.checker.IsSubmitted(ctx, job.AttemptID); err == nil && done {
		w.log.Debug().Str("attempt_id", job.AttemptID).Msg("Attempt already submitted, skipping job")
		metrics.QueueJobs.WithLabelValues("best_effort", "duplicate").Inc()
		return true
	}

	err := w.submitter.SubmitAttempt(ctx, job.AttemptID, job.Answers)
	if err == nil {
		w.log.Info().
			Str("attempt_id", job.AttemptID).
			Int("answers", len(job.Answers)).
			Int("attempt", job.Attempts+1).
			Msg("Best-effort submission delivered")
		metrics.QueueJobs.WithLabelValues("best_effort", "delivered").Inc()
		return true
	}

	job.Attempts++
	if job.Attempts >= w.maxAttempts {
		w.log.Error().Err(err).
			Str("attempt_id", job.AttemptID).
			Int("attempts", job.Attempts).
			Msg("Best-effort submission dropped after max attempts")
		metrics.QueueJobs.WithLabelValues("best_effort", "dropped").Inc()
		return true
	}

	w.log.Warn().Err(err).
		Str("attempt_id", job.AttemptID).
		Int("attempts", job.Attempts).
		Msg("Best-effort submission failed, requeueing")
	data, _ := json.Marshal(job)
	if err := w.rdb.RPush(ctx, config.WorkerKey.BestEffortSubmissionsQueue, data).Err(); err != nil {
		w.log.Error().Err(err).Str("attempt_id", job.AttemptID).Msg("CRITICAL: Failed to requeue job. Data loss occurred.")
	}
	metrics.QueueJobs.WithLabelValues("best_effort", "requeued").Inc()
	return false
}

// drain delivers what is left in the queue before shutdown, one pass each.
func (w *BeaconWorker) drain(ctx context.Context) {
	pending, err := w.rdb.LLen(ctx, config.WorkerKey.BestEffortSubmissionsQueue).Result()
	if err != nil || pending == 0 {
		return
	}

	drained := 0
	for i := int64(0); i < pending; i++ {
		raw, err := w.rdb.LPop(ctx, config.WorkerKey.BestEffortSubmissionsQueue).Result()
		if err != nil {
			break
		}
		if w.handle(ctx, raw) {
			drained++
		}
	}
	w.log.Info().Int("count", drained).Msg("Drained remaining jobs")
}

package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/candorworks/exam-proctor/internal/config"
	"github.com/candorworks/exam-proctor/internal/model"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	BatchSize    = 50
	BatchTimeout = 2 * time.Second
	PollTimeout  = 1 * time.Second // Must be >= 1s to satisfy Redis
)

// EventStore persists audit events.
type EventStore interface {
	CopyBatch(ctx context.Context, events []*model.AttemptEvent) (int64, error)
	Insert(ctx context.Context, e *model.AttemptEvent) error
}

// EventWorker moves audit events from persist_attempt_events_queue into the
// attempt_events table in batches.
type EventWorker struct {
	store EventStore
	rdb   *redis.Client
	log   zerolog.Logger
}

// NewEventWorker creates a new EventWorker.
func NewEventWorker(store EventStore, rdb *redis.Client, log zerolog.Logger) *EventWorker {
	return &EventWorker{
		store: store,
		rdb:   rdb,
		log:   log.With().Str("component", "event_worker").Logger(),
	}
}

// Start begins the worker loop. Call in a goroutine.
func (w *EventWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	buffer := make([]*model.AttemptEvent, 0, BatchSize)
	lastFlush := time.Now()

	for {
		if len(buffer) > 0 && (len(buffer) >= BatchSize || time.Since(lastFlush) >= BatchTimeout) {
			w.flushSafe(ctx, buffer)
			buffer = buffer[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.shutdown(buffer)
			return
		default:
		}

		result, err := w.rdb.BLPop(ctx, PollTimeout, config.WorkerKey.PersistAttemptEventsQueue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				continue
			}
			w.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			time.Sleep(3 * time.Second)
			continue
		}
		if len(result) < 2 {
			continue
		}

		if ev := w.decode(result[1]); ev != nil {
			buffer = append(buffer, ev)
		}
	}
}

func (w *EventWorker) decode(raw string) *model.AttemptEvent {
	var ev model.AttemptEvent
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		w.log.Error().Err(err).Str("data", raw).Msg("Discarding malformed event")
		return nil
	}
	if ev.AttemptID == "" || ev.Type == "" {
		w.log.Error().Str("data", raw).Msg("Discarding incomplete event")
		return nil
	}
	if ev.RecordedAt.IsZero() {
		ev.RecordedAt = time.Now().UTC()
	}
	return &ev
}

// flushSafe tries COPY, then row inserts, then requeues what still fails.
func (w *EventWorker) flushSafe(ctx context.Context, batch []*model.AttemptEvent) {
	n, err := w.store.CopyBatch(ctx, batch)
	if err == nil {
		w.log.Debug().Int64("rows", n).Msg("Flushed audit batch")
		return
	}
	w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk insert failed, attempting row-by-row recovery")

	var failed []*model.AttemptEvent
	for _, ev := range batch {
		if err := w.store.Insert(ctx, ev); err != nil {
			w.log.Error().Err(err).Str("attempt_id", ev.AttemptID).Msg("Insert failed, requeueing")
			failed = append(failed, ev)
		}
	}
	if len(failed) > 0 {
		w.requeue(ctx, failed)
	}
}

func (w *EventWorker) requeue(ctx context.Context, items []*model.AttemptEvent) {
	pipe := w.rdb.Pipeline()
	for _, ev := range items {
		data, _ := json.Marshal(ev)
		pipe.RPush(ctx, config.WorkerKey.PersistAttemptEventsQueue, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.log.Error().Err(err).Msg("CRITICAL: Failed to requeue events to Redis. Data loss occurred.")
		return
	}
	w.log.Info().Int("count", len(items)).Msg("Requeued failed events back to Redis")
}

func (w *EventWorker) shutdown(buffer []*model.AttemptEvent) {
	w.log.Info().Msg("Worker stopping, flushing remaining buffer...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if len(buffer) > 0 {
		w.flushSafe(ctx, buffer)
	}
}

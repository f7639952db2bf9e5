package repository

import (
	"context"

	"github.com/candorworks/exam-proctor/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var attemptEventColumns = []string{"attempt_id", "event_type", "reason", "detail", "recorded_at"}

// AttemptEventRepository handles the attempt_events audit table.
type AttemptEventRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptEventRepository creates a new AttemptEventRepository.
func NewAttemptEventRepository(pool *pgxpool.Pool) *AttemptEventRepository {
	return &AttemptEventRepository{pool: pool}
}

// CopyBatch bulk-loads events with COPY.
func (r *AttemptEventRepository) CopyBatch(ctx context.Context, events []*model.AttemptEvent) (int64, error) {
	rows := make([][]interface{}, 0, len(events))
	for _, e := range events {
		rows = append(rows, []interface{}{e.AttemptID, string(e.Type), e.Reason, detailOrNull(e), e.RecordedAt})
	}
	return r.pool.CopyFrom(ctx, pgx.Identifier{"attempt_events"}, attemptEventColumns, pgx.CopyFromRows(rows))
}

// Insert writes one event.
func (r *AttemptEventRepository) Insert(ctx context.Context, e *model.AttemptEvent) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO attempt_events (attempt_id, event_type, reason, detail, recorded_at)
		 VALUES ($1, $2, $3, $4::jsonb, $5)
		 RETURNING id`,
		e.AttemptID, string(e.Type), e.Reason, detailOrNull(e), e.RecordedAt,
	).Scan(&e.ID)
}

// ListByAttempt returns the events of attemptID, oldest first.
func (r *AttemptEventRepository) ListByAttempt(ctx context.Context, attemptID string, limit int) ([]model.AttemptEvent, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, attempt_id, event_type, reason, detail, recorded_at
		 FROM attempt_events
		 WHERE attempt_id = $1
		 ORDER BY recorded_at ASC, id ASC
		 LIMIT $2`, attemptID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]model.AttemptEvent, 0)
	for rows.Next() {
		var e model.AttemptEvent
		var detail []byte
		if err := rows.Scan(&e.ID, &e.AttemptID, &e.Type, &e.Reason, &detail, &e.RecordedAt); err != nil {
			return nil, err
		}
		e.Detail = detail
		events = append(events, e)
	}
	return events, rows.Err()
}

func detailOrNull(e *model.AttemptEvent) interface{} {
	if len(e.Detail) == 0 {
		return nil
	}
	return string(e.Detail)
}

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/candorworks/exam-proctor/internal/config"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// The audit trail is written in batches by one worker, so the pool stays small.
const (
	minAuditConns     = 1
	maxConnIdleTime   = 5 * time.Minute
	healthCheckPeriod = 30 * time.Second
)

// NewPostgresPool creates the pool backing the attempt audit trail and checks
// that the attempt_events table has been migrated.
func NewPostgresPool(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxDBConns
	poolCfg.MinConns = minAuditConns
	poolCfg.MaxConnIdleTime = maxConnIdleTime
	poolCfg.HealthCheckPeriod = healthCheckPeriod
	poolCfg.ConnConfig.RuntimeParams["application_name"] = "exam-proctor"

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	var table *string
	if err := pool.QueryRow(ctx, `SELECT to_regclass('public.attempt_events')::text`).Scan(&table); err != nil {
		pool.Close()
		return nil, fmt.Errorf("check schema: %w", err)
	}
	if table == nil {
		log.Warn().Msg("attempt_events is missing; run `migrate up` or audit rows will be requeued")
	}

	log.Info().
		Int32("max_conns", cfg.MaxDBConns).
		Str("database", poolCfg.ConnConfig.Database).
		Bool("schema_ready", table != nil).
		Msg("PostgreSQL connected")

	return pool, nil
}

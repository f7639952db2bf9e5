package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/candorworks/exam-proctor/internal/config"
	"github.com/candorworks/exam-proctor/internal/model"
	"github.com/redis/go-redis/v9"
)

// ErrPayloadNotCached is returned when an attempt was never redeemed or its
// payload expired.
var ErrPayloadNotCached = errors.New("attempt payload not cached")

// releaseStreamScript deletes the stream lock only if the caller still owns it.
var releaseStreamScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// AttemptCacheRepository holds redeemed attempt state in Redis.
type AttemptCacheRepository struct {
	rdb *redis.Client
}

// NewAttemptCacheRepository creates a new AttemptCacheRepository.
func NewAttemptCacheRepository(rdb *redis.Client) *AttemptCacheRepository {
	return &AttemptCacheRepository{rdb: rdb}
}

// SavePayload caches the redeemed test data for ttl.
func (r *AttemptCacheRepository) SavePayload(ctx context.Context, data *model.TestData, ttl time.Duration) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return r.rdb.Set(ctx, config.CacheKey.AttemptPayloadKey(data.AttemptID), payload, ttl).Err()
}

// GetPayload returns the cached test data of attemptID.
func (r *AttemptCacheRepository) GetPayload(ctx context.Context, attemptID string) (*model.TestData, error) {
	data, err := r.rdb.Get(ctx, config.CacheKey.AttemptPayloadKey(attemptID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrPayloadNotCached
		}
		return nil, fmt.Errorf("get payload: %w", err)
	}

	var td model.TestData
	if err := json.Unmarshal(data, &td); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return &td, nil
}

// MarkSubmitted records a confirmed submission and drops the cached payload.
func (r *AttemptCacheRepository) MarkSubmitted(ctx context.Context, attemptID string, ttl time.Duration) error {
	pipe := r.rdb.TxPipeline()
	pipe.Set(ctx, config.CacheKey.AttemptSubmittedKey(attemptID), time.Now().Unix(), ttl)
	pipe.Del(ctx, config.CacheKey.AttemptPayloadKey(attemptID))
	_, err := pipe.Exec(ctx)
	return err
}

// IsSubmitted reports whether attemptID has a confirmed submission.
func (r *AttemptCacheRepository) IsSubmitted(ctx context.Context, attemptID string) (bool, error) {
	n, err := r.rdb.Exists(ctx, config.CacheKey.AttemptSubmittedKey(attemptID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkClosed ends attemptID without a confirmed submission and drops the
// cached payload.
func (r *AttemptCacheRepository) MarkClosed(ctx context.Context, attemptID string, ttl time.Duration) error {
	pipe := r.rdb.TxPipeline()
	pipe.Set(ctx, config.CacheKey.AttemptClosedKey(attemptID), time.Now().Unix(), ttl)
	pipe.Del(ctx, config.CacheKey.AttemptPayloadKey(attemptID))
	_, err := pipe.Exec(ctx)
	return err
}

// IsClosed reports whether attemptID is submitted or closed.
func (r *AttemptCacheRepository) IsClosed(ctx context.Context, attemptID string) (bool, error) {
	n, err := r.rdb.Exists(ctx,
		config.CacheKey.AttemptSubmittedKey(attemptID),
		config.CacheKey.AttemptClosedKey(attemptID),
	).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// AcquireStream claims the single live stream of attemptID for owner.
func (r *AttemptCacheRepository) AcquireStream(ctx context.Context, attemptID, owner string, ttl time.Duration) (bool, error) {
	return r.rdb.SetNX(ctx, config.CacheKey.AttemptStreamKey(attemptID), owner, ttl).Result()
}

// ReleaseStream frees the stream claim if owner still holds it.
func (r *AttemptCacheRepository) ReleaseStream(ctx context.Context, attemptID, owner string) error {
	return releaseStreamScript.Run(ctx, r.rdb, []string{config.CacheKey.AttemptStreamKey(attemptID)}, owner).Err()
}

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

// ScratchRepository stores the reload-recovery snapshot of each attempt.
// Each attempt has one slot; a read removes it.
type ScratchRepository struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewScratchRepository creates a new ScratchRepository. Slots expire after ttl.
func NewScratchRepository(rdb *redis.Client, ttl time.Duration) *ScratchRepository {
	return &ScratchRepository{rdb: rdb, ttl: ttl}
}

// Save overwrites the snapshot of attemptID.
func (r *ScratchRepository) Save(ctx context.Context, attemptID string, snap model.ScratchSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := r.rdb.Set(ctx, config.CacheKey.AttemptScratchKey(attemptID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Take returns and deletes the snapshot of attemptID. A missing slot
// returns nil without error.
func (r *ScratchRepository) Take(ctx context.Context, attemptID string) (*model.ScratchSnapshot, error) {
	data, err := r.rdb.GetDel(ctx, config.CacheKey.AttemptScratchKey(attemptID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("take snapshot: %w", err)
	}

	var snap model.ScratchSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	if snap.Answers == nil {
		snap.Answers = map[int]int{}
	}
	return &snap, nil
}

package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// AttemptPayloadKey returns the cache key for the redeemed test data of an attempt.
func (r *CacheKeyStruct) AttemptPayloadKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:payload", attemptID)
}

// AttemptScratchKey returns the key of the single reload-recovery slot of an attempt.
func (r *CacheKeyStruct) AttemptScratchKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:scratch", attemptID)
}

// AttemptSubmittedKey marks an attempt whose submission was confirmed by the backend.
func (r *CacheKeyStruct) AttemptSubmittedKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:submitted", attemptID)
}

// AttemptClosedKey marks an attempt ended by a failed automatic submission.
// Its answers are still being redelivered.
func (r *CacheKeyStruct) AttemptClosedKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:closed", attemptID)
}

// AttemptStreamKey guards the single live stream allowed per attempt.
func (r *CacheKeyStruct) AttemptStreamKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:stream", attemptID)
}

// AttemptMonitorChannel returns the Redis PubSub channel for live attempt events.
func (r *CacheKeyStruct) AttemptMonitorChannel(attemptID string) string {
	return fmt.Sprintf("attempt:%s:monitor", attemptID)
}

var CacheKey = NewCacheKeyStruct()

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("BACKEND_BASE_URL", "http://backend.local/api/")
	t.Setenv("ATTEMPT_GRACE_MINUTES", "")
	t.Setenv("SCRATCH_TTL_MINUTES", "0")

	cfg := Load()
	assert.Equal(t, "http://backend.local/api", cfg.BackendBaseURL)
	assert.Equal(t, 30*time.Minute, cfg.AttemptGrace)
	assert.Equal(t, 2*time.Hour, cfg.ScratchTTL, "non-positive values fall back")
	assert.Equal(t, 24*time.Hour, cfg.SubmittedTTL)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("BACKEND_TIMEOUT_SECONDS", "3")
	t.Setenv("REDEEM_RATE_PER_MINUTE", "abc")
	t.Setenv("ALLOWED_ORIGINS", " https://a.example , ,https://b.example")

	cfg := Load()
	assert.Equal(t, 3*time.Second, cfg.BackendTimeout)
	assert.Equal(t, 20, cfg.RedeemRatePerMinute)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
}

func TestCacheKeys(t *testing.T) {
	assert.Equal(t, "attempt:AB12CD34:scratch", CacheKey.AttemptScratchKey("AB12CD34"))
	assert.Equal(t, "attempt:AB12CD34:monitor", CacheKey.AttemptMonitorChannel("AB12CD34"))
}

package resilience

import (
	"time"

	"github.com/hackscraper/hackscraper/internal/config"
)

// FromFetchConfig derives the retry policy for page fetches. MaxRetries
// counts retries, so the attempt count is one more.
func FromFetchConfig(cfg config.FetchConfig) RetryConfig {
	rc := DefaultRetryConfig()
	if cfg.MaxRetries >= 0 {
		rc.MaxAttempts = cfg.MaxRetries + 1
	}
	return rc
}

// CircuitFromFetchConfig derives per-host breaker settings.
func CircuitFromFetchConfig(cfg config.FetchConfig) CircuitBreakerConfig {
	cb := DefaultCircuitBreakerConfig()
	if cfg.CircuitFailureThreshold > 0 {
		cb.FailureThreshold = cfg.CircuitFailureThreshold
	}
	if cfg.CircuitResetSecs > 0 {
		cb.ResetTimeout = time.Duration(cfg.CircuitResetSecs) * time.Second
	}
	return cb
}

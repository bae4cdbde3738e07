// Package resilience classifies fetch failures and provides retry and
// per-host circuit breaking for outbound scraping.
package resilience

import (
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// CircuitState represents the state of a host's circuit.
type CircuitState int

const (
	// CircuitClosed lets requests through.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects requests until the reset timeout elapses.
	CircuitOpen
	// CircuitHalfOpen lets a single probe through.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when a host has failed too often recently.
var ErrCircuitOpen = eris.New("circuit open for host")

// CircuitBreakerConfig controls per-host breaker behavior.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive transient failures
	// before a host's circuit opens. Default: 5.
	FailureThreshold int

	// ResetTimeout is how long the circuit stays open before one probe
	// request is allowed. Default: 5m.
	ResetTimeout time.Duration
}

// DefaultCircuitBreakerConfig returns the defaults used by the fetcher.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     5 * time.Minute,
	}
}

type hostCircuit struct {
	state               CircuitState
	consecutiveFailures int
	openedAt            time.Time
	probing             bool
}

// HostBreakers tracks one circuit per host. Many discovered sources often
// live on the same site, so a dead host fails fast instead of burning the
// per-source timeout for each of them.
type HostBreakers struct {
	cfg      CircuitBreakerConfig
	mu       sync.Mutex
	circuits map[string]*hostCircuit
	nowFunc  func() time.Time
	log      *zap.Logger
}

// NewHostBreakers creates an empty registry.
func NewHostBreakers(cfg CircuitBreakerConfig) *HostBreakers {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 5 * time.Minute
	}
	return &HostBreakers{
		cfg:      cfg,
		circuits: make(map[string]*hostCircuit),
		nowFunc:  time.Now,
		log:      zap.L().With(zap.String("component", "circuit")),
	}
}

// Allow returns ErrCircuitOpen (wrapped as transient) when host should not
// be contacted right now.
func (hb *HostBreakers) Allow(host string) error {
	hb.mu.Lock()
	defer hb.mu.Unlock()

	c, ok := hb.circuits[host]
	if !ok {
		return nil
	}
	switch c.state {
	case CircuitOpen:
		if hb.nowFunc().Sub(c.openedAt) < hb.cfg.ResetTimeout {
			return &TransientError{Err: ErrCircuitOpen, URL: host}
		}
		c.state = CircuitHalfOpen
		c.probing = true
		return nil
	case CircuitHalfOpen:
		if c.probing {
			return &TransientError{Err: ErrCircuitOpen, URL: host}
		}
		c.probing = true
	}
	return nil
}

// Record updates host's circuit with the outcome of a request. Only
// retryable failures count; a 404 says nothing about the host's health.
func (hb *HostBreakers) Record(host string, err error) {
	hb.mu.Lock()
	defer hb.mu.Unlock()

	c, ok := hb.circuits[host]
	if !ok {
		if err == nil {
			return
		}
		c = &hostCircuit{}
		hb.circuits[host] = c
	}

	if err == nil || !IsRetryable(err) {
		if c.state != CircuitClosed {
			hb.log.Info("circuit closed", zap.String("host", host))
		}
		delete(hb.circuits, host)
		return
	}

	c.consecutiveFailures++
	c.probing = false
	switch c.state {
	case CircuitClosed:
		if c.consecutiveFailures >= hb.cfg.FailureThreshold {
			c.state = CircuitOpen
			c.openedAt = hb.nowFunc()
			hb.log.Warn("circuit opened", zap.String("host", host), zap.Int("failures", c.consecutiveFailures))
		}
	case CircuitHalfOpen:
		c.state = CircuitOpen
		c.openedAt = hb.nowFunc()
	}
}

// State returns the current state for host.
func (hb *HostBreakers) State(host string) CircuitState {
	hb.mu.Lock()
	defer hb.mu.Unlock()

	c, ok := hb.circuits[host]
	if !ok {
		return CircuitClosed
	}
	if c.state == CircuitOpen && hb.nowFunc().Sub(c.openedAt) >= hb.cfg.ResetTimeout {
		return CircuitHalfOpen
	}
	return c.state
}

// States returns a snapshot of every host that is not fully healthy.
func (hb *HostBreakers) States() map[string]CircuitState {
	hb.mu.Lock()
	hosts := make([]string, 0, len(hb.circuits))
	for h := range hb.circuits {
		hosts = append(hosts, h)
	}
	hb.mu.Unlock()

	out := make(map[string]CircuitState, len(hosts))
	for _, h := range hosts {
		out[h] = hb.State(h)
	}
	return out
}

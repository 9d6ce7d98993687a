// Package circuit_breaker implements a three-state (closed/open/half-open)
// circuit breaker guarding calls to an unreliable downstream, used by
// pkg/fanout's Kafka observer so a wedged broker doesn't pile up goroutines
// behind blocking publishes.
package circuit_breaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned by Execute while the breaker is open and the reset
// timeout hasn't elapsed.
var ErrOpen = errors.New("circuit breaker is open")

const (
	StateClosed   = "closed"
	StateOpen     = "open"
	StateHalfOpen = "half_open"
)

// Config tunes the breaker's failure threshold and recovery timing.
type Config struct {
	MaxFailures  int64         `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// DefaultConfig opens after 5 consecutive failures and probes again after 30s.
func DefaultConfig() Config {
	return Config{MaxFailures: 5, ResetTimeout: 30 * time.Second}
}

// Stats is a snapshot of breaker activity.
type Stats struct {
	State         string    `json:"state"`
	Failures      int64     `json:"failures"`
	Successes     int64     `json:"successes"`
	Requests      int64     `json:"requests"`
	LastFailure   time.Time `json:"last_failure,omitempty"`
	NextRetryTime time.Time `json:"next_retry_time,omitempty"`
}

// Breaker wraps calls to a downstream with failure counting. Closed lets
// calls through; Open rejects them immediately until ResetTimeout elapses;
// Half-Open lets exactly one probe call through to decide whether to close
// or re-open.
type Breaker struct {
	config Config

	mu            sync.Mutex
	state         string
	failures      int64
	successes     int64
	requests      int64
	lastFailure   time.Time
	nextRetryTime time.Time
}

// New constructs a closed Breaker.
func New(config Config) *Breaker {
	if config.MaxFailures <= 0 {
		config.MaxFailures = 5
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = 30 * time.Second
	}
	return &Breaker{config: config, state: StateClosed}
}

// Execute runs fn if the breaker allows it, recording the outcome.
func (b *Breaker) Execute(fn func() error) error {
	b.mu.Lock()
	b.requests++
	if b.state == StateOpen {
		if time.Now().Before(b.nextRetryTime) {
			b.mu.Unlock()
			return ErrOpen
		}
		b.state = StateHalfOpen
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.failures++
		b.lastFailure = time.Now()
		if b.failures >= b.config.MaxFailures {
			b.state = StateOpen
			b.nextRetryTime = time.Now().Add(b.config.ResetTimeout)
		}
		return err
	}

	b.successes++
	if b.state == StateHalfOpen {
		b.state = StateClosed
		b.failures = 0
	}
	return nil
}

// State returns the breaker's current state.
func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats returns a snapshot of breaker activity.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		State:         b.state,
		Failures:      b.failures,
		Successes:     b.successes,
		Requests:      b.requests,
		LastFailure:   b.lastFailure,
		NextRetryTime: b.nextRetryTime,
	}
}

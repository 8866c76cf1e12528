package twin

import (
	"fmt"
	"sync"
	"time"

	"github.com/synapseshield/shield/internal/domain"
)

// ═══════════════════════════════════════════════════════════════════════════
// Circuit Breaker
// ═══════════════════════════════════════════════════════════════════════════

// BreakerState is the state of a circuit breaker.
type BreakerState int

const (
	// BreakerClosed passes every request through.
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects requests until the reset timeout elapses.
	BreakerOpen
	// BreakerHalfOpen lets a limited number of trial requests through.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON.
func (s BreakerState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// ErrCircuitOpen is returned without contacting the service while the
// breaker is open.
var ErrCircuitOpen = fmt.Errorf("circuit open: %w", domain.ErrTwinUnavailable)

// BreakerConfig tunes a Breaker.
type BreakerConfig struct {
	FailureThreshold int           // consecutive failures before opening
	ResetTimeout     time.Duration // open → half-open delay
	HalfOpenMax      int           // successful trial requests needed to close again
}

// DefaultBreakerConfig trips after five consecutive failures and retries
// after thirty seconds.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
		HalfOpenMax:      1,
	}
}

// Breaker stops hammering the twin service once it keeps failing.
type Breaker struct {
	mu  sync.Mutex
	cfg BreakerConfig
	now func() time.Time

	state      BreakerState
	failures   int
	successes  int
	trippedAt  time.Time
	totalTrips int
}

// NewBreaker creates a closed breaker. Zero config fields take defaults.
func NewBreaker(cfg BreakerConfig) *Breaker {
	def := DefaultBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = def.ResetTimeout
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = def.HalfOpenMax
	}
	return &Breaker{cfg: cfg, now: time.Now}
}

// advance moves an expired open breaker to half-open. Caller holds mu.
func (b *Breaker) advance() {
	if b.state == BreakerOpen && b.now().Sub(b.trippedAt) >= b.cfg.ResetTimeout {
		b.state = BreakerHalfOpen
		b.successes = 0
	}
}

func (b *Breaker) trip() {
	b.state = BreakerOpen
	b.trippedAt = b.now()
	b.totalTrips++
}

// Allow reports whether a request may proceed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance()
	return b.state != BreakerOpen
}

// RecordSuccess notes a successful request.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case BreakerClosed:
		b.failures = 0
	case BreakerHalfOpen:
		b.successes++
		if b.successes >= b.cfg.HalfOpenMax {
			b.state = BreakerClosed
			b.failures = 0
		}
	}
}

// RecordFailure notes a failed request. Any failure while half-open reopens
// the breaker.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case BreakerClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.trip()
		}
	case BreakerHalfOpen:
		b.trip()
	}
}

// State returns the current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance()
	return b.state
}

// BreakerSnapshot is a point-in-time view of a Breaker.
type BreakerSnapshot struct {
	State      BreakerState `json:"state"`
	Failures   int          `json:"failures"`
	TotalTrips int          `json:"total_trips"`
	TrippedAt  *time.Time   `json:"tripped_at,omitempty"`
}

// Snapshot returns the current state and counters.
func (b *Breaker) Snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance()
	snap := BreakerSnapshot{State: b.state, Failures: b.failures, TotalTrips: b.totalTrips}
	if !b.trippedAt.IsZero() {
		t := b.trippedAt
		snap.TrippedAt = &t
	}
	return snap
}

// Reset closes the breaker and clears the failure count.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.failures = 0
	b.successes = 0
}

// Package resilience provides the fault-tolerance primitives used around the
// indexer's external dependencies and long-running stages: a breaker for
// the shared template cache backend, exponential-backoff retry for event
// publishing, and a ceiling that turns a hung cascade stage into an error.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/pkg/metrics"
)

// ErrCircuitOpen is returned for calls the breaker refuses to send to the
// backend.
var ErrCircuitOpen = errors.New("cache backend circuit open")

// State is the breaker phase. The numeric values are exported as the
// kg_circuit_breaker_state gauge.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig describes the backend a Breaker guards.
type BreakerConfig struct {
	// Backend labels logs and metrics, e.g. "redis".
	Backend string
	// FailureThreshold consecutive backend failures open the circuit.
	FailureThreshold int
	// Cooldown is how long an open circuit refuses calls before letting a
	// single trial call through.
	Cooldown time.Duration
	Metrics  *metrics.Metrics
}

// BreakerStats is a point-in-time view of a Breaker.
type BreakerStats struct {
	State               State
	ConsecutiveFailures int
	Trips               int64
	Rejected            int64
}

// Breaker stops calls to a failing cache backend so that lookups fall
// back to local builds without waiting on a dead connection. Errors caused
// by the caller's own context ending are not held against the backend.
type Breaker struct {
	cfg    BreakerConfig
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	trial    bool
	trips    int64
	rejected int64
}

func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.Backend == "" {
		cfg.Backend = "cache"
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	cfg.Metrics.SetBreakerState(cfg.Backend, int(StateClosed))
	return &Breaker{
		cfg:    cfg,
		logger: slog.Default().With("component", "cache-breaker", "backend", cfg.Backend),
		now:    time.Now,
	}
}

// Do runs fn against the backend unless the circuit is open. op names the
// cache operation for logs and the rejection counter.
func (b *Breaker) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	trial, err := b.admit(op)
	if err != nil {
		b.cfg.Metrics.BreakerRejected(b.cfg.Backend, op)
		return err
	}
	err = fn(ctx)
	b.record(op, trial, err != nil && ctx.Err() == nil, err == nil)
	return err
}

func (b *Breaker) admit(op string) (trial bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateOpen:
		wait := b.cfg.Cooldown - b.now().Sub(b.openedAt)
		if wait > 0 {
			b.rejected++
			return false, fmt.Errorf("%s %s: %w (retry in %v)", b.cfg.Backend, op, ErrCircuitOpen, wait)
		}
		b.setState(StateHalfOpen)
		b.logger.Info("cooldown elapsed, sending trial call", "op", op)
		fallthrough
	case StateHalfOpen:
		if b.trial {
			b.rejected++
			return false, fmt.Errorf("%s %s: %w (trial call in flight)", b.cfg.Backend, op, ErrCircuitOpen)
		}
		b.trial = true
		return true, nil
	}
	return false, nil
}

// record settles a finished call. A call that neither failed nor succeeded
// (the caller's context ended) only releases the trial slot.
func (b *Breaker) record(op string, trial, failed, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if trial {
		b.trial = false
	}
	switch {
	case ok:
		b.failures = 0
		if b.state != StateClosed {
			b.setState(StateClosed)
			b.logger.Info("backend recovered", "op", op)
		}
	case failed:
		b.failures++
		if b.state == StateHalfOpen || (b.state == StateClosed && b.failures >= b.cfg.FailureThreshold) {
			b.open(op)
		}
	}
}

func (b *Breaker) open(op string) {
	b.openedAt = b.now()
	b.trips++
	b.setState(StateOpen)
	b.logger.Warn("backend circuit opened",
		"op", op,
		"consecutive_failures", b.failures,
		"cooldown", b.cfg.Cooldown,
	)
}

func (b *Breaker) setState(s State) {
	if b.state == s {
		return
	}
	b.state = s
	b.cfg.Metrics.SetBreakerState(b.cfg.Backend, int(s))
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) Stats() BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerStats{
		State:               b.state,
		ConsecutiveFailures: b.failures,
		Trips:               b.trips,
		Rejected:            b.rejected,
	}
}

// Reset closes the circuit, e.g. after the backend has been replaced.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.trial = false
	b.setState(StateClosed)
}

// Package resilience implements the orchestrator's Circuit Breaker Set
// (C3) and Recovery Manager backoff primitive (part of C7), adapting
// github.com/sony/gobreaker/v2 and github.com/cenkalti/backoff/v4 behind
// a closed/open/half-open FSM.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// State is a circuit breaker's closed/open/half-open FSM state.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half_open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Sentinel errors surfaced by Execute.
var (
	ErrCircuitOpen     = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// Config configures a single breaker.
type Config struct {
	FailureThreshold int
	SuccessThreshold int
	RecoveryTimeout  time.Duration
	OnStateChange    func(service string, from, to State)
}

// DefaultConfig matches the source's "default" breaker.
func DefaultConfig() Config {
	return Config{FailureThreshold: 5, SuccessThreshold: 1, RecoveryTimeout: 60 * time.Second}
}

// Breaker wraps gobreaker while exposing cumulative lifetime counters.
type Breaker struct {
	service string
	gb      *gobreaker.CircuitBreaker[any]

	mu             sync.Mutex
	totalCalls     int64
	totalFailures  int64
	totalSuccesses int64
	opens          int64
}

// New builds a Breaker named service with cfg.
func New(service string, cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 1
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 60 * time.Second
	}

	b := &Breaker{service: service}

	failThresh := uint32(cfg.FailureThreshold)
	successThresh := uint32(cfg.SuccessThreshold)

	settings := gobreaker.Settings{
		Name:        service,
		MaxRequests: successThresh,
		Interval:    0,
		Timeout:     cfg.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failThresh
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.mu.Lock()
			if to == gobreaker.StateOpen {
				b.opens++
			}
			b.mu.Unlock()
			if cfg.OnStateChange != nil {
				cfg.OnStateChange(name, mapState(from), mapState(to))
			}
		},
	}

	b.gb = gobreaker.NewCircuitBreaker[any](settings)
	return b
}

func mapState(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// State returns the breaker's current state.
func (b *Breaker) State() State {
	return mapState(b.gb.State())
}

// Execute runs fn under the breaker's protection. ctx is honored only in
// that callers should cancel fn's own work; gobreaker itself is synchronous.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	b.mu.Lock()
	b.totalCalls++
	b.mu.Unlock()

	_, err := b.gb.Execute(func() (any, error) {
		return nil, fn(ctx)
	})

	b.mu.Lock()
	if err == nil {
		b.totalSuccesses++
	} else if !errors.Is(err, gobreaker.ErrOpenState) && !errors.Is(err, gobreaker.ErrTooManyRequests) {
		b.totalFailures++
	}
	b.mu.Unlock()

	if err != nil {
		return mapGobreakerError(err)
	}
	return nil
}

func mapGobreakerError(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) {
		return ErrCircuitOpen
	}
	if errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrTooManyRequests
	}
	return err
}

// Counts captures the lifetime call counters for analytics/admin surfaces.
type Counts struct {
	State      State
	Calls      int64
	Failures   int64
	Successes  int64
	Opens      int64
}

// Stats returns the breaker's lifetime counters.
func (b *Breaker) Stats() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Counts{
		State:     b.State(),
		Calls:     b.totalCalls,
		Failures:  b.totalFailures,
		Successes: b.totalSuccesses,
		Opens:     b.opens,
	}
}

// Reset forces the breaker back to closed with all counters zeroed.
// gobreaker has no public reset, so this replaces the underlying breaker.
func (b *Breaker) Reset(cfg Config) {
	*b = *New(b.service, cfg)
}

// Set manages one Breaker per downstream service key.
type Set struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	defaults map[string]Config
	onChange func(service string, from, to State)
}

// DefaultServiceConfigs returns the per-service breaker defaults for the
// well-known service keys.
func DefaultServiceConfigs() map[string]Config {
	return map[string]Config{
		"default":         {FailureThreshold: 5, SuccessThreshold: 1, RecoveryTimeout: 60 * time.Second},
		"comfyui":         {FailureThreshold: 3, SuccessThreshold: 2, RecoveryTimeout: 30 * time.Second},
		"storage":         {FailureThreshold: 5, SuccessThreshold: 3, RecoveryTimeout: 60 * time.Second},
		"gpu_allocation":  {FailureThreshold: 2, SuccessThreshold: 1, RecoveryTimeout: 120 * time.Second},
		"external_api":    {FailureThreshold: 4, SuccessThreshold: 2, RecoveryTimeout: 45 * time.Second},
	}
}

// NewSet builds a Set preloaded with the well-known service breakers.
func NewSet(onChange func(service string, from, to State)) *Set {
	s := &Set{
		breakers: make(map[string]*Breaker),
		defaults: DefaultServiceConfigs(),
		onChange: onChange,
	}
	for service, cfg := range s.defaults {
		cfg.OnStateChange = onChange
		s.breakers[service] = New(service, cfg)
	}
	return s
}

// Get returns the breaker for service, creating one from the "default"
// config if service was never registered, supporting dynamically-added
// service keys.
func (s *Set) Get(service string) *Breaker {
	s.mu.RLock()
	b, ok := s.breakers[service]
	s.mu.RUnlock()
	if ok {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok = s.breakers[service]; ok {
		return b
	}
	cfg := s.defaults["default"]
	cfg.OnStateChange = s.onChange
	b = New(service, cfg)
	s.breakers[service] = b
	return b
}

// Add registers (or replaces) a breaker for service with cfg.
func (s *Set) Add(service string, cfg Config) *Breaker {
	cfg.OnStateChange = s.onChange
	b := New(service, cfg)
	s.mu.Lock()
	s.breakers[service] = b
	s.mu.Unlock()
	return b
}

// All returns a snapshot of every registered breaker's stats, keyed by
// service name.
func (s *Set) All() map[string]Counts {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Counts, len(s.breakers))
	for name, b := range s.breakers {
		out[name] = b.Stats()
	}
	return out
}

// Reset forces the named breaker back to closed.
func (s *Set) Reset(service string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.breakers[service]
	if !ok {
		return false
	}
	cfg := s.defaults[service]
	if cfg.FailureThreshold == 0 {
		cfg = s.defaults["default"]
	}
	cfg.OnStateChange = s.onChange
	s.breakers[service] = New(service, cfg)
	_ = b
	return true
}

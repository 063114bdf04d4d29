// Package resilience guards framecast's outbound sinks (history writes and
// MQTT publishes) with a three-state circuit breaker.
//
// A [Breaker] starts closed. After MaxFailures consecutive failures it opens
// and rejects calls with [ErrCircuitOpen] until ResetTimeout has passed. It
// then lets up to HalfOpenMax probe calls through: that many successes close
// it again, while any failure re-opens it.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [Breaker.Execute] while the breaker rejects calls.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// State is the operating mode of a [Breaker].
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

// Config tunes a [Breaker].
type Config struct {
	// Name labels log lines and state-change callbacks.
	Name string

	// MaxFailures is the number of consecutive failures that opens the
	// breaker. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of probe calls allowed while half-open, and
	// the number of successes needed to close. Default: 1.
	HalfOpenMax int

	// OnStateChange, when set, is called outside the lock on every transition.
	OnStateChange func(name string, from, to State)

	// Now overrides the clock. Default: time.Now.
	Now func() time.Time
}

// Breaker implements the circuit breaker.
type Breaker struct {
	cfg Config

	mu           sync.Mutex
	state        State
	failures     int
	openedAt     time.Time
	probes       int
	probeSuccess int
	lastErr      error
}

// New returns a closed breaker. Zero config fields take their defaults.
func New(cfg Config) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 1
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Breaker{cfg: cfg}
}

// Execute runs fn unless the breaker is open. The caller's error is
// returned unchanged.
func (b *Breaker) Execute(fn func() error) error {
	probe, err := b.acquire()
	if err != nil {
		return err
	}
	err = fn()
	b.release(probe, err)
	return err
}

func (b *Breaker) acquire() (probe bool, err error) {
	b.mu.Lock()
	var changed func()
	defer func() {
		b.mu.Unlock()
		if changed != nil {
			changed()
		}
	}()

	if b.state == StateOpen {
		if b.cfg.Now().Sub(b.openedAt) < b.cfg.ResetTimeout {
			return false, ErrCircuitOpen
		}
		changed = b.transition(StateHalfOpen)
		b.probes = 0
		b.probeSuccess = 0
	}
	if b.state == StateHalfOpen {
		if b.probes >= b.cfg.HalfOpenMax {
			return false, ErrCircuitOpen
		}
		b.probes++
		return true, nil
	}
	return false, nil
}

func (b *Breaker) release(probe bool, err error) {
	b.mu.Lock()
	var changed func()
	switch {
	case err != nil:
		b.lastErr = err
		if probe {
			changed = b.open()
			break
		}
		b.failures++
		if b.state == StateClosed && b.failures >= b.cfg.MaxFailures {
			changed = b.open()
		}
	case probe:
		b.probeSuccess++
		if b.state == StateHalfOpen && b.probeSuccess >= b.cfg.HalfOpenMax {
			b.failures = 0
			changed = b.transition(StateClosed)
		}
	default:
		b.failures = 0
	}
	b.mu.Unlock()
	if changed != nil {
		changed()
	}
}

func (b *Breaker) open() func() {
	b.openedAt = b.cfg.Now()
	return b.transition(StateOpen)
}

// transition sets the state and returns the notification to run after
// unlocking. Must be called with b.mu held.
func (b *Breaker) transition(to State) func() {
	from := b.state
	if from == to {
		return nil
	}
	b.state = to
	name, failures, lastErr := b.cfg.Name, b.failures, b.lastErr
	hook := b.cfg.OnStateChange
	return func() {
		if to == StateOpen {
			slog.Warn("resilience: circuit opened", "name", name, "from", from.String(), "failures", failures, "err", lastErr)
		} else {
			slog.Info("resilience: circuit state changed", "name", name, "from", from.String(), "to", to.String())
		}
		if hook != nil {
			hook(name, from, to)
		}
	}
}

// State returns the current state. An open breaker whose timeout has passed
// reports [StateHalfOpen]; the transition itself happens on the next call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.cfg.Now().Sub(b.openedAt) >= b.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return b.state
}

// Reset forces the breaker closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	b.failures = 0
	b.probes = 0
	b.probeSuccess = 0
	changed := b.transition(StateClosed)
	b.mu.Unlock()
	if changed != nil {
		changed()
	}
}

// Check reports an error while the breaker is open. It is shaped for the
// readiness endpoint.
func (b *Breaker) Check(context.Context) error {
	if s := b.State(); s == StateOpen {
		b.mu.Lock()
		last := b.lastErr
		b.mu.Unlock()
		return fmt.Errorf("%w (%s): last error: %v", ErrCircuitOpen, b.cfg.Name, last)
	}
	return nil
}

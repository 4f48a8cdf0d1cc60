// Package circuitbreaker provides a per-destination circuit breaker with a
// single-trial half-open state.
package circuitbreaker

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the breaker rejects a call without attempting it.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the state of the circuit breaker
type State int

const (
	// StateClosed lets every call through.
	StateClosed State = iota
	// StateOpen rejects calls until the cooldown elapses.
	StateOpen
	// StateHalfOpen admits a single trial call.
	StateHalfOpen
)

// String returns the string representation of the state
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

// MarshalText renders the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Config configures a circuit breaker
type Config struct {
	// FailureThreshold is the number of consecutive failures before opening the circuit
	FailureThreshold int
	// Cooldown is how long the circuit stays open before admitting a trial call
	Cooldown time.Duration
	// OnStateChange is an optional callback invoked outside the lock on every transition
	OnStateChange func(name string, from, to State)
	// Now overrides the clock. Tests only.
	Now func() time.Time
}

// DefaultConfig returns a default circuit breaker configuration
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Cooldown:         60 * time.Second,
	}
}

func (c *Config) setDefaults() {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 60 * time.Second
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Breaker guards calls to one destination.
type Breaker struct {
	name   string
	config Config

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	// generation changes on every transition; results of calls admitted in an
	// older generation are ignored.
	generation    uint64
	trialInFlight bool
}

// New creates a new circuit breaker with the given configuration
func New(name string, config Config) *Breaker {
	config.setDefaults()
	return &Breaker{name: name, config: config, state: StateClosed}
}

// Ticket is the permission to make one call. Exactly one of Success,
// Failure or Cancel should be called; later calls are ignored.
type Ticket struct {
	b    *Breaker
	gen  uint64
	once sync.Once
}

// Success records a call that reached the destination and got a usable answer.
func (t *Ticket) Success() {
	t.once.Do(func() { t.b.record(t.gen, outcomeSuccess) })
}

// Failure records a call that counts against the destination.
func (t *Ticket) Failure() {
	t.once.Do(func() { t.b.record(t.gen, outcomeFailure) })
}

// Cancel gives the ticket back without a verdict, e.g. when the caller's
// context was cancelled. A half-open trial slot is released for the next caller.
func (t *Ticket) Cancel() {
	t.once.Do(func() { t.b.record(t.gen, outcomeCancelled) })
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeFailure
	outcomeCancelled
)

// Allow asks permission for one call. It fails fast with ErrCircuitOpen while
// the circuit is open or while another caller holds the half-open trial.
func (b *Breaker) Allow() (*Ticket, error) {
	b.mu.Lock()

	var transition func()
	if b.state == StateOpen {
		remaining := b.config.Cooldown - b.config.Now().Sub(b.openedAt)
		if remaining > 0 {
			b.mu.Unlock()
			return nil, fmt.Errorf("%w: %s retry in %v", ErrCircuitOpen, b.name, remaining.Round(time.Millisecond))
		}
		transition = b.transitionTo(StateHalfOpen)
	}

	if b.state == StateHalfOpen {
		if b.trialInFlight {
			b.mu.Unlock()
			notify(transition)
			return nil, fmt.Errorf("%w: %s trial call in flight", ErrCircuitOpen, b.name)
		}
		b.trialInFlight = true
	}

	ticket := &Ticket{b: b, gen: b.generation}
	b.mu.Unlock()
	notify(transition)

	return ticket, nil
}

func (b *Breaker) record(gen uint64, result outcome) {
	b.mu.Lock()
	if gen != b.generation {
		b.mu.Unlock()
		return
	}

	var transition func()
	switch b.state {
	case StateClosed:
		switch result {
		case outcomeSuccess:
			b.failures = 0
		case outcomeFailure:
			b.failures++
			if b.failures >= b.config.FailureThreshold {
				transition = b.transitionTo(StateOpen)
			}
		case outcomeCancelled:
		}
	case StateHalfOpen:
		switch result {
		case outcomeSuccess:
			transition = b.transitionTo(StateClosed)
		case outcomeFailure:
			transition = b.transitionTo(StateOpen)
		case outcomeCancelled:
			b.trialInFlight = false
		}
	case StateOpen:
	}
	b.mu.Unlock()
	notify(transition)
}

// transitionTo must be called with mu held. It returns the state-change
// notification to run once the lock is released.
func (b *Breaker) transitionTo(newState State) func() {
	if b.state == newState {
		return nil
	}

	from := b.state
	b.state = newState
	b.generation++
	b.failures = 0
	b.trialInFlight = false
	if newState == StateOpen {
		b.openedAt = b.config.Now()
	}

	if b.config.OnStateChange == nil {
		return nil
	}
	cb, name := b.config.OnStateChange, b.name
	return func() { cb(name, from, newState) }
}

func notify(fn func()) {
	if fn != nil {
		fn()
	}
}

// State returns the current state. An open breaker whose cooldown elapsed
// still reports open until the next call arrives.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forces the breaker closed and clears its failure count.
func (b *Breaker) Reset() {
	b.mu.Lock()
	transition := b.transitionTo(StateClosed)
	b.failures = 0
	b.mu.Unlock()
	notify(transition)
}

// Stats is a point-in-time view of a breaker.
type Stats struct {
	Name     string    `json:"name"`
	State    State     `json:"state"`
	Failures int       `json:"failures"`
	OpenedAt time.Time `json:"openedAt,omitzero"`
}

// GetStats returns current statistics
func (b *Breaker) GetStats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{Name: b.name, State: b.state, Failures: b.failures, OpenedAt: b.openedAt}
}

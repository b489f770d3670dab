package resilience

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hypertool-ai/mcp-proxy/internal/mcperrors"
)

// State is one of the three circuit breaker states from spec.md §4.7.
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// Thresholds configures a CircuitBreaker's transition points.
type Thresholds struct {
	FailureThreshold  int
	SuccessThreshold  int
	RecoveryTimeout   time.Duration
}

// DefaultThresholds matches the numbers used in spec.md §8's scenario 4.
func DefaultThresholds() Thresholds {
	return Thresholds{FailureThreshold: 3, SuccessThreshold: 1, RecoveryTimeout: 30 * time.Second}
}

// StateChange is emitted whenever the breaker transitions.
type StateChange struct {
	Name string
	From State
	To   State
	At   time.Time
}

// CircuitBreaker gates calls to one (server, operation-class) pair.
type CircuitBreaker struct {
	Name string
	id   string

	mu              sync.Mutex
	state           State
	failureCount    int
	successCount    int
	lastFailureTime time.Time
	probing         bool // true while a HALF_OPEN probe call is outstanding
	thresholds      Thresholds
	onChange        func(StateChange)
}

// NewCircuitBreaker constructs a breaker in the CLOSED state.
func NewCircuitBreaker(name string, thresholds Thresholds, onChange func(StateChange)) *CircuitBreaker {
	return &CircuitBreaker{
		Name:       name,
		id:         uuid.NewString(),
		state:      StateClosed,
		thresholds: thresholds,
		onChange:   onChange,
	}
}

// State returns the breaker's current state, first applying the OPEN ->
// HALF_OPEN timeout transition if due.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeHalfOpenLocked()
	return cb.state
}

func (cb *CircuitBreaker) maybeHalfOpenLocked() {
	if cb.state == StateOpen && time.Since(cb.lastFailureTime) >= cb.thresholds.RecoveryTimeout {
		cb.transitionLocked(StateHalfOpen)
		cb.successCount = 0
		cb.probing = false
	}
}

func (cb *CircuitBreaker) transitionLocked(to State) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to
	if cb.onChange != nil {
		change := StateChange{Name: cb.Name, From: from, To: to, At: time.Now()}
		go cb.onChange(change)
	}
}

// Allow reports whether a call may proceed right now. When it returns
// false, the caller must treat it as CircuitOpenError — a ConnectionError
// with retryable=false (spec.md §4.7).
func (cb *CircuitBreaker) Allow() (bool, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeHalfOpenLocked()
	switch cb.state {
	case StateOpen:
		return false, mcperrors.ConnectionNonRetryable(nil, "circuit %s is open", cb.Name)
	case StateHalfOpen:
		// Only the probing call gets through; subsequent concurrent callers
		// while the probe is outstanding are also rejected until the state
		// resolves, since exactly one probe must decide the transition.
		if cb.probing {
			return false, mcperrors.ConnectionNonRetryable(nil, "circuit %s is half-open and already probing", cb.Name)
		}
		cb.probing = true
		return true, nil
	default:
		return true, nil
	}
}

// RecordSuccess reports a successful call outcome.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case StateHalfOpen:
		cb.probing = false
		cb.successCount++
		if cb.successCount >= max(1, cb.thresholds.SuccessThreshold) {
			cb.transitionLocked(StateClosed)
			cb.failureCount = 0
			cb.successCount = 0
		}
	case StateClosed:
		cb.failureCount = 0
	}
}

// RecordFailure reports a failed call outcome.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.lastFailureTime = time.Now()
	switch cb.state {
	case StateHalfOpen:
		cb.probing = false
		cb.transitionLocked(StateOpen)
		cb.successCount = 0
	case StateClosed:
		cb.failureCount++
		if cb.failureCount >= max(1, cb.thresholds.FailureThreshold) {
			cb.transitionLocked(StateOpen)
		}
	}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Manager owns one CircuitBreaker per name, created lazily.
type Manager struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	thresholds Thresholds
	onChange func(StateChange)
}

// NewManager constructs a circuit breaker Manager.
func NewManager(thresholds Thresholds, onChange func(StateChange)) *Manager {
	return &Manager{breakers: make(map[string]*CircuitBreaker), thresholds: thresholds, onChange: onChange}
}

// Get returns (creating if necessary) the breaker for name.
func (m *Manager) Get(name string) *CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cb, ok := m.breakers[name]; ok {
		return cb
	}
	cb := NewCircuitBreaker(name, m.thresholds, m.onChange)
	m.breakers[name] = cb
	return cb
}

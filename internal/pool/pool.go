// Package pool owns the live connection to every configured downstream MCP
// server: one entry per serverName, a background health loop per entry, and
// exponential-backoff-with-jitter reconnection on failure (spec.md §4.1).
package pool

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hypertool-ai/mcp-proxy/internal/events"
	"github.com/hypertool-ai/mcp-proxy/internal/mcperrors"
	"github.com/hypertool-ai/mcp-proxy/internal/resilience"
	"github.com/hypertool-ai/mcp-proxy/internal/transport"
)

// State is the per-connection lifecycle state from spec.md §3.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
)

// Options configures the pool.
type Options struct {
	MaxConcurrentConnections int
	HealthCheckInterval      time.Duration
	RetryPolicy              resilience.RetryPolicy
	Breakers                 resilience.Thresholds
}

// DefaultOptions matches the small-integer defaults spec.md §4.1 asks for.
func DefaultOptions() Options {
	return Options{
		MaxConcurrentConnections: 8,
		HealthCheckInterval:      30 * time.Second,
		RetryPolicy:              resilience.DefaultRetryPolicy(),
		Breakers:                 resilience.DefaultThresholds(),
	}
}

// entry is one connection's pool-owned bookkeeping. Only the owning
// goroutine (run) and pool-synchronized accessors touch conn/state.
type entry struct {
	serverName string
	cfg        transport.ServerConfig
	conn       transport.Connection

	mu                  sync.RWMutex
	state               State
	lastErr             error
	consecutiveFailures int
	lastHealthCheckAt   time.Time

	breaker *resilience.CircuitBreaker
	cancel  context.CancelFunc
	done    chan struct{}
}

func (e *entry) snapshot() ConnectionStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return ConnectionStatus{
		ServerName:          e.serverName,
		State:               e.state,
		LastError:           e.lastErr,
		ConsecutiveFailures: e.consecutiveFailures,
		LastHealthCheckAt:   e.lastHealthCheckAt,
	}
}

// ConnectionStatus is the read-only projection exposed to callers (status
// endpoint, CLI, discovery engine).
type ConnectionStatus struct {
	ServerName          string
	State               State
	LastError           error
	ConsecutiveFailures int
	LastHealthCheckAt   time.Time
}

// Pool maps serverName to its connection entry and enforces
// maxConcurrentConnections via a FIFO semaphore.
type Pool struct {
	opts Options
	log  *zap.Logger
	bus  *events.Bus

	mu      sync.RWMutex
	entries map[string]*entry
	sem     chan struct{}

	wg sync.WaitGroup
}

// New constructs a Pool. bus may be nil if no events are needed.
func New(opts Options, log *zap.Logger, bus *events.Bus) *Pool {
	if opts.MaxConcurrentConnections <= 0 {
		opts.MaxConcurrentConnections = DefaultOptions().MaxConcurrentConnections
	}
	return &Pool{
		opts:    opts,
		log:     log,
		bus:     bus,
		entries: make(map[string]*entry),
		sem:     make(chan struct{}, opts.MaxConcurrentConnections),
	}
}

// Add registers a downstream server and starts its connection + health loop.
// Refuses stdio configs that trip the self-reference guard (spec.md §4.1).
func (p *Pool) Add(ctx context.Context, cfg transport.ServerConfig) error {
	if transport.IsSelfReference(cfg) {
		p.log.Warn("refusing self-referential stdio server", zap.String("server", cfg.Name), zap.String("command", cfg.Command))
		return mcperrors.Configuration("server %q would recurse into this process, skipped", cfg.Name)
	}
	conn, err := transport.New(cfg)
	if err != nil {
		return err
	}

	p.mu.Lock()
	if _, exists := p.entries[cfg.Name]; exists {
		p.mu.Unlock()
		return mcperrors.Configuration("server %q already registered", cfg.Name)
	}
	e := &entry{
		serverName: cfg.Name,
		cfg:        cfg,
		conn:       conn,
		state:      StateDisconnected,
		breaker:    resilience.NewCircuitBreaker(cfg.Name, p.opts.Breakers, p.onBreakerChange),
		done:       make(chan struct{}),
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	p.entries[cfg.Name] = e
	p.mu.Unlock()

	p.wg.Add(1)
	go p.run(runCtx, e)
	return nil
}

func (p *Pool) onBreakerChange(change resilience.StateChange) {
	p.log.Info("circuit breaker transition",
		zap.String("server", change.Name), zap.String("from", string(change.From)), zap.String("to", string(change.To)))
	if p.bus != nil {
		p.bus.PublishCircuitStateChanged(change)
	}
}

// run owns e.conn/e.state exclusively: connects, holds the health loop, and
// reconnects with exponential backoff and jitter on failure, until ctx is
// cancelled by Remove/Shutdown.
func (p *Pool) run(ctx context.Context, e *entry) {
	defer p.wg.Done()
	defer close(e.done)

	p.acquireSlot(ctx)
	defer p.releaseSlot()

	p.connectWithRetry(ctx, e)

	ticker := time.NewTicker(p.opts.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = e.conn.Close()
			p.setState(e, StateDisconnected, nil)
			return
		case <-ticker.C:
			p.healthCheck(ctx, e)
		}
	}
}

func (p *Pool) acquireSlot(ctx context.Context) {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
	}
}

func (p *Pool) releaseSlot() {
	select {
	case <-p.sem:
	default:
	}
}

func (p *Pool) connectWithRetry(ctx context.Context, e *entry) {
	p.setState(e, StateConnecting, nil)
	allowed, err := e.breaker.Allow()
	if !allowed {
		p.setState(e, StateFailed, err)
		return
	}

	err = resilience.Do(ctx, p.opts.RetryPolicy, func(callCtx context.Context, attempt int) error {
		p.log.Debug("connecting to upstream", zap.String("server", e.serverName), zap.Int("attempt", attempt))
		return e.conn.Connect(callCtx)
	})
	if err != nil {
		e.breaker.RecordFailure()
		p.setState(e, StateFailed, err)
		return
	}
	e.breaker.RecordSuccess()
	p.setState(e, StateConnected, nil)
}

func (p *Pool) healthCheck(ctx context.Context, e *entry) {
	e.mu.Lock()
	e.lastHealthCheckAt = time.Now()
	e.mu.Unlock()

	if e.conn.IsHealthy() {
		e.mu.Lock()
		e.consecutiveFailures = 0
		e.mu.Unlock()
		if e.breaker.State() != resilience.StateOpen {
			p.setState(e, StateConnected, nil)
		}
		return
	}

	e.mu.Lock()
	e.consecutiveFailures++
	e.mu.Unlock()
	p.setState(e, StateReconnecting, mcperrors.Connection(nil, "%s failed health check", e.serverName))
	_ = e.conn.Close()
	p.connectWithRetry(ctx, e)
}

func (p *Pool) setState(e *entry, s State, err error) {
	e.mu.Lock()
	e.state = s
	e.lastErr = err
	e.mu.Unlock()
}

// GetConnection returns the live connection for serverName, or an error if
// unknown or unavailable.
func (p *Pool) GetConnection(serverName string) (transport.Connection, error) {
	p.mu.RLock()
	e, ok := p.entries[serverName]
	p.mu.RUnlock()
	if !ok {
		return nil, mcperrors.ServerUnavailable("server %q is not configured", serverName)
	}
	if ok, err := e.breaker.Allow(); !ok {
		return nil, err
	}
	e.mu.RLock()
	state := e.state
	e.mu.RUnlock()
	if state != StateConnected {
		return nil, mcperrors.ServerUnavailable("server %q is not connected (state=%s)", serverName, state)
	}
	return e.conn, nil
}

// ListConnected returns the status of every server currently in the
// connected state.
func (p *Pool) ListConnected() []ConnectionStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]ConnectionStatus, 0, len(p.entries))
	for _, e := range p.entries {
		if st := e.snapshot(); st.State == StateConnected {
			out = append(out, st)
		}
	}
	return out
}

// Status returns every entry's status regardless of state.
func (p *Pool) Status() []ConnectionStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]ConnectionStatus, 0, len(p.entries))
	for _, e := range p.entries {
		out = append(out, e.snapshot())
	}
	return out
}

// Remove stops and forgets serverName's connection.
func (p *Pool) Remove(serverName string) {
	p.mu.Lock()
	e, ok := p.entries[serverName]
	if ok {
		delete(p.entries, serverName)
	}
	p.mu.Unlock()
	if !ok {
		return
	}
	e.cancel()
	<-e.done
}

// Shutdown stops every connection's run loop and waits for completion.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	names := make([]string, 0, len(p.entries))
	for name := range p.entries {
		names = append(names, name)
	}
	p.mu.Unlock()
	for _, name := range names {
		p.Remove(name)
	}
	p.wg.Wait()
}

// RecordCallFailure lets the router report a failed call so the breaker
// trips even when the health loop hasn't yet noticed.
func (p *Pool) RecordCallFailure(serverName string) {
	p.mu.RLock()
	e, ok := p.entries[serverName]
	p.mu.RUnlock()
	if ok {
		e.breaker.RecordFailure()
	}
}

// RecordCallSuccess lets the router report a successful call.
func (p *Pool) RecordCallSuccess(serverName string) {
	p.mu.RLock()
	e, ok := p.entries[serverName]
	p.mu.RUnlock()
	if ok {
		e.breaker.RecordSuccess()
	}
}

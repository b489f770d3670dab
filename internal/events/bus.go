// Package events is the proxy's internal pub/sub: discovery, toolset,
// persona and circuit-breaker state changes fan out to subscribers without
// coupling publishers to what's listening. Grounded on the teacher's
// Observer/Notify pattern (internal/config's MCPServersConfig), generalized
// from one config-change event to a small typed set and reworked so each
// subscriber's own channel+goroutine preserves per-subscriber delivery
// order (the teacher's go observer.OnConfigChange(...) per call does not
// guarantee that across rapid successive Notify calls).
package events

import (
	"sync"

	"github.com/hypertool-ai/mcp-proxy/internal/resilience"
)

// ToolsChanged carries the discovery engine's three-way diff for one server.
type ToolsChanged struct {
	ServerName string
	Added      []string
	Updated    []string
	Removed    []string
}

// ToolsetChanged is emitted whenever a stored toolset or the active toolset
// selection mutates.
type ToolsetChanged struct {
	ToolsetName string
	Reason      string
}

// PersonaActivated is emitted after a persona activation completes
// successfully.
type PersonaActivated struct {
	PersonaName   string
	ActiveToolset string
}

// PersonaDeactivated is emitted after a persona is torn down.
type PersonaDeactivated struct {
	PersonaName string
}

// envelope is the union of everything the bus can carry, dispatched to the
// subscriber-specific handler that matches its concrete type.
type envelope struct {
	toolsChanged       *ToolsChanged
	toolsetChanged     *ToolsetChanged
	personaActivated   *PersonaActivated
	personaDeactivated *PersonaDeactivated
	circuitStateChange *resilience.StateChange
}

// Handlers is the set of callbacks a subscriber registers; any may be nil.
type Handlers struct {
	OnToolsChanged       func(ToolsChanged)
	OnToolsetChanged     func(ToolsetChanged)
	OnPersonaActivated   func(PersonaActivated)
	OnPersonaDeactivated func(PersonaDeactivated)
	OnCircuitStateChange func(resilience.StateChange)
}

type subscriber struct {
	handlers Handlers
	queue    chan envelope
	done     chan struct{}
}

// Bus fans events out to subscribers, one buffered queue + one drain
// goroutine per subscriber so a slow subscriber never blocks another or
// reorders its own events.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]*subscriber
	next int
}

// NewBus constructs an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]*subscriber)}
}

// Subscribe registers h and returns an id usable with Unsubscribe.
func (b *Bus) Subscribe(h Handlers) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	s := &subscriber{handlers: h, queue: make(chan envelope, 64), done: make(chan struct{})}
	b.subs[id] = s
	go s.drain()
	return id
}

// Unsubscribe removes a subscriber, stopping its drain goroutine.
func (b *Bus) Unsubscribe(id int) {
	b.mu.Lock()
	s, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()
	if ok {
		close(s.queue)
		<-s.done
	}
}

func (s *subscriber) drain() {
	defer close(s.done)
	for e := range s.queue {
		switch {
		case e.toolsChanged != nil && s.handlers.OnToolsChanged != nil:
			s.handlers.OnToolsChanged(*e.toolsChanged)
		case e.toolsetChanged != nil && s.handlers.OnToolsetChanged != nil:
			s.handlers.OnToolsetChanged(*e.toolsetChanged)
		case e.personaActivated != nil && s.handlers.OnPersonaActivated != nil:
			s.handlers.OnPersonaActivated(*e.personaActivated)
		case e.personaDeactivated != nil && s.handlers.OnPersonaDeactivated != nil:
			s.handlers.OnPersonaDeactivated(*e.personaDeactivated)
		case e.circuitStateChange != nil && s.handlers.OnCircuitStateChange != nil:
			s.handlers.OnCircuitStateChange(*e.circuitStateChange)
		}
	}
}

func (b *Bus) publish(e envelope) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		select {
		case s.queue <- e:
		default:
			// Subscriber queue is full; drop rather than block the publisher.
			// A bounded queue of 64 absorbing bursts is judged sufficient for
			// the debounced event volume this bus carries.
		}
	}
}

// PublishToolsChanged fans out a discovery diff.
func (b *Bus) PublishToolsChanged(ev ToolsChanged) { b.publish(envelope{toolsChanged: &ev}) }

// PublishToolsetChanged fans out a toolset mutation.
func (b *Bus) PublishToolsetChanged(ev ToolsetChanged) { b.publish(envelope{toolsetChanged: &ev}) }

// PublishPersonaActivated fans out a completed activation.
func (b *Bus) PublishPersonaActivated(ev PersonaActivated) {
	b.publish(envelope{personaActivated: &ev})
}

// PublishPersonaDeactivated fans out a completed deactivation.
func (b *Bus) PublishPersonaDeactivated(ev PersonaDeactivated) {
	b.publish(envelope{personaDeactivated: &ev})
}

// PublishCircuitStateChanged fans out a circuit breaker transition.
func (b *Bus) PublishCircuitStateChanged(ev resilience.StateChange) {
	b.publish(envelope{circuitStateChange: &ev})
}

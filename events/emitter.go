// Package events is the chain manager's listener notifier (spec.md §6
// "Event stream", §9 "cyclic references": listeners are identified by
// opaque handles returned on register and removed on unregister).
package events

import (
	"log"
	"sync"

	"github.com/albatross-core/chaincore/block"
	"github.com/albatross-core/chaincore/crypto"
)

// EventType labels what happened to the chain.
type EventType string

const (
	// EventFinalized fires when a (non-election) macro block is admitted.
	EventFinalized EventType = "finalized"
	// EventEpochFinalized fires when an election macro block is admitted.
	EventEpochFinalized EventType = "epoch_finalized"
	// EventRebranched fires when a rebranch changes the canonical head.
	EventRebranched EventType = "rebranched"
	// EventForkDetected fires when admission observes two conflicting
	// headers signed by the same slot owner at the same height/view.
	EventForkDetected EventType = "fork_detected"
)

// Event carries a typed payload emitted after a chain-state change. Only
// the field matching Type is populated; the others stay at their zero
// value, mirroring the teacher's single flat Event shape rather than a
// Go sum type, since spec.md §9 asks for "relation + lookup" (store
// hashes, materialize via the chain store), not payload objects.
type Event struct {
	Type EventType

	// Hash is set for EventFinalized and EventEpochFinalized.
	Hash crypto.Hash

	// Reverted and Adopted are set for EventRebranched: the hashes
	// dropped from, and added to, the main chain, oldest first.
	Reverted []crypto.Hash
	Adopted  []crypto.Hash

	// ForkProof is set for EventForkDetected.
	ForkProof block.ForkProof
}

// Handler is a callback invoked for matching events. Emit calls handlers
// after releasing the emitter's lock, and the chain manager emits after
// releasing its state lock, so no read lock is held while a handler runs.
// Handlers must not re-enter the chain manager (spec.md §7 "Propagation").
type Handler func(Event)

// Handle is the opaque token returned by Subscribe and required by
// Unsubscribe.
type Handle uint64

// Emitter is a simple pub/sub broker. Subscribe before Emit.
type Emitter struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[EventType]map[Handle]Handler
}

// NewEmitter creates an Emitter with no subscribers.
func NewEmitter() *Emitter {
	return &Emitter{handlers: make(map[EventType]map[Handle]Handler)}
}

// Subscribe registers h to be called whenever typ is emitted, returning an
// opaque handle that Unsubscribe accepts.
func (e *Emitter) Subscribe(typ EventType, h Handler) Handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	id := Handle(e.nextID)
	if e.handlers[typ] == nil {
		e.handlers[typ] = make(map[Handle]Handler)
	}
	e.handlers[typ][id] = h
	return id
}

// Unsubscribe removes the handler registered under handle for typ.
func (e *Emitter) Unsubscribe(typ EventType, handle Handle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.handlers[typ], handle)
}

// Emit delivers ev to all subscribers for ev.Type synchronously.
// Each handler is guarded by panic recovery so a misbehaving subscriber
// cannot crash the node or halt block production (spec.md §7
// "exceptions thrown by listeners are isolated from the manager").
func (e *Emitter) Emit(ev Event) {
	e.mu.RLock()
	handlers := make([]Handler, 0, len(e.handlers[ev.Type]))
	for _, h := range e.handlers[ev.Type] {
		handlers = append(handlers, h)
	}
	e.mu.RUnlock()
	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("[events] handler panicked for %s: %v", ev.Type, r)
				}
			}()
			h(ev)
		}()
	}
}

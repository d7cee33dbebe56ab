package emitter

import (
	"sync"

	"github.com/emirpasic/gods/maps/linkedhashmap"
	"go.uber.org/atomic"
)

// Listener receives the arguments passed to Emit.
type Listener func(args ...interface{})

// Handle identifies one registration. Off needs the handle On returned,
// registering the same function twice yields two handles.
type Handle struct {
	Event string
	id    uint64
}

// Valid reports whether h came from On.
func (h Handle) Valid() bool {
	return h.id != 0
}

// Emitter is a small event emitter in the style of wallet SDK providers.
// Listeners of one event run in registration order.
type Emitter struct {
	mu        sync.RWMutex
	seq       atomic.Uint64
	listeners map[string]*linkedhashmap.Map
}

func New() *Emitter {
	return &Emitter{listeners: make(map[string]*linkedhashmap.Map)}
}

func (e *Emitter) On(event string, fn Listener) Handle {
	h := Handle{Event: event, id: e.seq.Inc()}
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.listeners[event]
	if !ok {
		m = linkedhashmap.New()
		e.listeners[event] = m
	}
	m.Put(h.id, fn)
	return h
}

// Off removes the registration behind h and reports whether it was present.
func (e *Emitter) Off(h Handle) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.listeners[h.Event]
	if !ok {
		return false
	}
	if _, found := m.Get(h.id); !found {
		return false
	}
	m.Remove(h.id)
	if m.Empty() {
		delete(e.listeners, h.Event)
	}
	return true
}

// Emit calls every listener of event and returns how many ran. Listeners are
// called outside the lock so they may register or remove listeners.
func (e *Emitter) Emit(event string, args ...interface{}) int {
	e.mu.RLock()
	m, ok := e.listeners[event]
	var fns []interface{}
	if ok {
		fns = m.Values()
	}
	e.mu.RUnlock()

	for _, fn := range fns {
		fn.(Listener)(args...)
	}
	return len(fns)
}

// ListenerCount returns the number of listeners registered for event.
func (e *Emitter) ListenerCount(event string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if m, ok := e.listeners[event]; ok {
		return m.Size()
	}
	return 0
}

// RemoveAll drops every listener.
func (e *Emitter) RemoveAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = make(map[string]*linkedhashmap.Map)
}

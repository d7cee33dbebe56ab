package connector

import (
	"sync"
	"time"

	"moff.io/wallet-connector/internal/chains"
	"moff.io/wallet-connector/pkg/log"
)

// EventName is the normalized name of a wallet event.
type EventName string

const (
	EventConnect         EventName = "connect"
	EventAccountsChanged EventName = "accountsChanged"
	EventChainChanged    EventName = "chainChanged"
)

// Event is a normalized wallet event.
type Event struct {
	Name    EventName       `json:"name"`
	Address string          `json:"address"`
	Network *chains.Network `json:"network,omitempty"`
}

// Notification is one element of a connector stream, either an event or an error.
type Notification struct {
	Event *Event `json:"event,omitempty"`
	Err   *Error `json:"error,omitempty"`
}

// Name labels the notification for logs and metrics.
func (n Notification) Name() string {
	if n.Event != nil {
		return string(n.Event.Name)
	}
	if n.Err != nil {
		return "error"
	}
	return ""
}

// Record is a notification tagged with the session it came from, the unit
// event sinks consume.
type Record struct {
	SessionID string `json:"session_id"`
	Kind      Kind   `json:"kind"`
	Notification
	Time time.Time `json:"time"`
}

func NewRecord(sessionID string, kind Kind, n Notification) *Record {
	return &Record{SessionID: sessionID, Kind: kind, Notification: n, Time: time.Now()}
}

const defaultBufferSize = 32

// Bus is the per-adapter publish point. Publishing never blocks: a
// subscriber whose buffer is full misses the notification.
type Bus struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	buffer int
}

func NewBus() *Bus {
	return &Bus{
		subs:   make(map[*Subscription]struct{}),
		buffer: defaultBufferSize,
	}
}

// Subscription is one downstream listener of a Bus.
type Subscription struct {
	bus    *Bus
	ch     chan Notification
	closed bool
}

// Notifications is closed once the subscription or its bus is closed.
func (s *Subscription) Notifications() <-chan Notification {
	return s.ch
}

// Close detaches the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.bus.remove(s)
}

func (b *Bus) Subscribe() *Subscription {
	s := &Subscription{bus: b, ch: make(chan Notification, b.buffer)}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

func (b *Bus) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	delete(b.subs, s)
	close(s.ch)
}

// Publish delivers n to every subscription and returns how many received it.
func (b *Bus) Publish(n Notification) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	delivered := 0
	for s := range b.subs {
		select {
		case s.ch <- n:
			delivered++
		default:
			log.Warnf("connector bus - subscriber buffer full, dropping %s notification", n.Name())
		}
	}
	return delivered
}

func (b *Bus) PublishEvent(e *Event) int {
	return b.Publish(Notification{Event: e})
}

func (b *Bus) PublishError(err *Error) int {
	return b.Publish(Notification{Err: err})
}

// Len is the number of open subscriptions.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every open subscription. The bus stays usable.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs {
		s.closed = true
		close(s.ch)
	}
	b.subs = make(map[*Subscription]struct{})
}

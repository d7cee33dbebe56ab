// Package sessions keeps the wallet connections opened through the service
// and forwards their notifications to the event sinks.
package sessions

import (
	"context"
	"sync"
	"time"

	"moff.io/wallet-connector/internal/connector"
	"moff.io/wallet-connector/internal/metrics"
	"moff.io/wallet-connector/pkg/common"
	"moff.io/wallet-connector/pkg/concurrent"
	"moff.io/wallet-connector/pkg/errors"
	"moff.io/wallet-connector/pkg/log"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrUnsupportedKind = errors.New("unsupported wallet kind")
	ErrTooManyPending  = errors.New("too many sessions waiting for approval")
	ErrSessionBusy     = errors.New("session is connecting, connected, failed or closed")
)

// Sink receives every notification of every session.
type Sink interface {
	Publish(ctx context.Context, rec *connector.Record) error
}

// AccountCache keeps the last account read from a session.
type AccountCache interface {
	SaveAccount(ctx context.Context, sessionID string, account *connector.Account) error
	DeleteAccount(ctx context.Context, sessionID string) error
}

// Factory builds a fresh adapter of kind.
type Factory func(kind connector.Kind) (connector.Connector, error)

type State string

const (
	StateCreated    State = "created"
	StateConnecting State = "connecting"
	StateConnected  State = "connected"
	StateFailed     State = "failed"
	StateClosed     State = "closed"
)

// Session is one wallet connection held by the service.
type Session struct {
	ID        string
	Kind      connector.Kind
	Connector connector.Connector
	CreatedAt time.Time

	mu     sync.Mutex
	state  State
	result *connector.ConnectionResult
	err    error
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Result returns the outcome of the last connect attempt.
func (s *Session) Result() (*connector.ConnectionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result, s.err
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

type Manager struct {
	factory Factory
	sinks   []Sink
	cache   AccountCache
	pending concurrent.Limiter

	mu       sync.RWMutex
	sessions map[string]*Session
}

type Option func(*Manager)

func WithSinks(sinks ...Sink) Option {
	return func(m *Manager) {
		m.sinks = append(m.sinks, sinks...)
	}
}

func WithAccountCache(cache AccountCache) Option {
	return func(m *Manager) {
		m.cache = cache
	}
}

// WithMaxPending caps the sessions connecting at the same time.
func WithMaxPending(n int) Option {
	return func(m *Manager) {
		m.pending = concurrent.NewLimiter(n)
	}
}

func NewManager(factory Factory, opts ...Option) *Manager {
	m := &Manager{
		factory:  factory,
		pending:  concurrent.NewLimiter(100),
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create registers a new, not yet connected session of kind.
func (m *Manager) Create(kind connector.Kind) (*Session, error) {
	c, err := m.factory(kind)
	if err != nil {
		return nil, err
	}
	s := &Session{
		ID:        common.NewSessionID(),
		Kind:      kind,
		Connector: c,
		CreatedAt: time.Now(),
		state:     StateCreated,
	}
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	metrics.SessionOpened(kind)
	log.Infof("session %s - created %s", s.ID, kind)
	return s, nil
}

func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Connect runs the connect attempt of s and, on success, forwards its
// notifications to the sinks until the session is closed.
func (m *Manager) Connect(ctx context.Context, s *Session, opts *connector.Options) (*connector.ConnectionResult, error) {
	if !m.pending.TryAdd() {
		return nil, ErrTooManyPending
	}
	defer m.pending.Done()

	s.mu.Lock()
	if s.state != StateCreated {
		s.mu.Unlock()
		return nil, ErrSessionBusy
	}
	s.state = StateConnecting
	s.mu.Unlock()

	res, err := s.Connector.Connect(ctx, opts)
	metrics.ObserveConnect(s.Kind, err)

	s.mu.Lock()
	s.result, s.err = res, err
	// Close 可能已在连接过程中发生
	if s.state == StateConnecting {
		s.state = StateConnected
		if err != nil {
			s.state = StateFailed
		}
	}
	state := s.state
	s.mu.Unlock()
	if err != nil {
		log.Warnf("session %s - connect:%v", s.ID, err)
		m.drop(s)
		return nil, err
	}
	if state != StateConnected {
		// closed while connecting
		return res, nil
	}

	sub, err := s.Connector.Subscribe(ctx)
	if err != nil {
		log.Warnf("session %s - subscribe:%v", s.ID, err)
		return res, nil
	}
	go m.forward(s, sub)
	return res, nil
}

func (m *Manager) forward(s *Session, sub *connector.Subscription) {
	for n := range sub.Notifications() {
		rec := connector.NewRecord(s.ID, s.Kind, n)
		for _, sink := range m.sinks {
			if err := sink.Publish(context.Background(), rec); err != nil {
				log.Warnf("session %s - publish %s:%v", s.ID, rec.Name(), err)
			}
		}
	}
	log.Debugf("session %s - notifications closed", s.ID)
}

// drop forgets a session whose connect failed, it cannot be retried.
func (m *Manager) drop(s *Session) {
	m.mu.Lock()
	held := m.sessions[s.ID] == s
	if held {
		delete(m.sessions, s.ID)
	}
	m.mu.Unlock()
	if !held {
		return
	}
	metrics.SessionClosed(s.Kind)
	if err := s.Connector.Unsubscribe(context.Background()); err != nil {
		log.Warnf("session %s - release failed session:%v", s.ID, err)
	}
}

// Accounts asks the adapter of session id for the current account.
func (m *Manager) Accounts(ctx context.Context, id string) (*connector.Account, error) {
	s, ok := m.Get(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	account, err := s.Connector.GetAccounts(ctx)
	if err != nil {
		return nil, err
	}
	if m.cache != nil {
		if err := m.cache.SaveAccount(ctx, id, account); err != nil {
			log.Warnf("session %s - cache account:%v", id, err)
		}
	}
	return account, nil
}

// Close unsubscribes the session and forgets it.
func (m *Manager) Close(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	s.setState(StateClosed)
	metrics.SessionClosed(s.Kind)
	log.Infof("session %s - closed", id)
	if m.cache != nil {
		if err := m.cache.DeleteAccount(ctx, id); err != nil {
			log.Warnf("session %s - delete cached account:%v", id, err)
		}
	}
	return s.Connector.Unsubscribe(ctx)
}

// Start closes every session when ctx is done.
func (m *Manager) Start(ctx context.Context) {
	go func() {
		<-ctx.Done()
		m.Stop()
	}()
}

func (m *Manager) Stop() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	for _, id := range ids {
		if err := m.Close(context.Background(), id); err != nil && !errors.Is(err, ErrSessionNotFound) {
			log.Warnf("session %s - close:%v", id, err)
		}
	}
}

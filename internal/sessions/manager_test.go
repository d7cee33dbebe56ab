package sessions

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"moff.io/wallet-connector/internal/chains"
	"moff.io/wallet-connector/internal/connector"
	"moff.io/wallet-connector/pkg/common"
	"moff.io/wallet-connector/pkg/errors"
)

// fakeConnector publishes whatever the test pushes to its bus.
type fakeConnector struct {
	bus          *connector.Bus
	connectErr   error
	block        chan struct{}
	unsubscribed int
}

func newFakeConnector() *fakeConnector {
	return &fakeConnector{bus: connector.NewBus()}
}

func (c *fakeConnector) Connect(ctx context.Context, _ *connector.Options) (*connector.ConnectionResult, error) {
	if c.block != nil {
		select {
		case <-c.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if c.connectErr != nil {
		return nil, c.connectErr
	}
	return connector.Connected("handle", "Connect success", "connected"), nil
}

func (c *fakeConnector) Subscribe(context.Context) (*connector.Subscription, error) {
	return c.bus.Subscribe(), nil
}

func (c *fakeConnector) GetAccounts(context.Context) (*connector.Account, error) {
	return &connector.Account{Address: "0xabc", Network: chains.Default().Lookup(1)}, nil
}

func (c *fakeConnector) Unsubscribe(context.Context) error {
	c.unsubscribed++
	c.bus.Close()
	return nil
}

type recordingSink struct {
	mu      sync.Mutex
	records []*connector.Record
}

func (s *recordingSink) Publish(_ context.Context, rec *connector.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *recordingSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

type failingSink struct{}

func (failingSink) Publish(context.Context, *connector.Record) error {
	return errors.New("sink down")
}

type memoryCache struct {
	accounts map[string]*connector.Account
}

func (c *memoryCache) SaveAccount(_ context.Context, id string, a *connector.Account) error {
	c.accounts[id] = a
	return nil
}

func (c *memoryCache) DeleteAccount(_ context.Context, id string) error {
	delete(c.accounts, id)
	return nil
}

func factoryOf(c *fakeConnector) Factory {
	return func(kind connector.Kind) (connector.Connector, error) {
		if kind != connector.KindInjected {
			return nil, ErrUnsupportedKind
		}
		return c, nil
	}
}

func TestManagerLifecycle(t *testing.T) {
	ctx := context.Background()
	fake := newFakeConnector()
	sink := &recordingSink{}
	cache := &memoryCache{accounts: make(map[string]*connector.Account)}
	m := NewManager(factoryOf(fake), WithSinks(failingSink{}, sink), WithAccountCache(cache))

	_, err := m.Create("ledger")
	assert.ErrorIs(t, err, ErrUnsupportedKind)

	s, err := m.Create(connector.KindInjected)
	require.NoError(t, err)
	assert.Equal(t, StateCreated, s.State())
	assert.NotNil(t, common.DecodeTimeInSessionID(s.ID))
	got, ok := m.Get(s.ID)
	require.True(t, ok)
	assert.Equal(t, s, got)

	res, err := m.Connect(ctx, s, nil)
	require.NoError(t, err)
	assert.True(t, res.Connected)
	assert.Equal(t, StateConnected, s.State())

	_, err = m.Connect(ctx, s, nil)
	assert.ErrorIs(t, err, ErrSessionBusy)

	fake.bus.PublishEvent(&connector.Event{Name: connector.EventAccountsChanged, Address: "0xdef"})
	assert.Eventually(t, func() bool { return sink.len() == 1 }, time.Second, 10*time.Millisecond)
	sink.mu.Lock()
	assert.Equal(t, s.ID, sink.records[0].SessionID)
	assert.Equal(t, connector.KindInjected, sink.records[0].Kind)
	sink.mu.Unlock()

	account, err := m.Accounts(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "0xabc", account.Address)
	assert.Equal(t, account, cache.accounts[s.ID])

	require.NoError(t, m.Close(ctx, s.ID))
	assert.Equal(t, 1, fake.unsubscribed)
	assert.Empty(t, cache.accounts)
	assert.Equal(t, StateClosed, s.State())
	assert.ErrorIs(t, m.Close(ctx, s.ID), ErrSessionNotFound)
	_, err = m.Accounts(ctx, s.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestManagerConnectFailure(t *testing.T) {
	fake := newFakeConnector()
	fake.connectErr = connector.ErrWalletNotFound
	m := NewManager(factoryOf(fake))
	s, err := m.Create(connector.KindInjected)
	require.NoError(t, err)

	_, err = m.Connect(context.Background(), s, nil)
	assert.True(t, connector.HasCode(err, connector.CodeWalletNotFound))
	assert.Equal(t, StateFailed, s.State())
	res, err := s.Result()
	assert.Nil(t, res)
	assert.Error(t, err)

	// a failed session is released and forgotten
	assert.Equal(t, 0, m.Len())
	_, ok := m.Get(s.ID)
	assert.False(t, ok)
	assert.Equal(t, 1, fake.unsubscribed)
	assert.ErrorIs(t, m.Close(context.Background(), s.ID), ErrSessionNotFound)

	fake.connectErr = nil
	_, err = m.Connect(context.Background(), s, nil)
	assert.ErrorIs(t, err, ErrSessionBusy)
}

func TestManagerFailedConnectsDoNotAccumulate(t *testing.T) {
	m := NewManager(func(connector.Kind) (connector.Connector, error) {
		c := newFakeConnector()
		c.connectErr = connector.ErrWalletNotFound
		return c, nil
	})
	for i := 0; i < 3; i++ {
		s, err := m.Create(connector.KindInjected)
		require.NoError(t, err)
		_, err = m.Connect(context.Background(), s, nil)
		require.Error(t, err)
	}
	assert.Equal(t, 0, m.Len())
}

func TestManagerMaxPending(t *testing.T) {
	fake := newFakeConnector()
	fake.block = make(chan struct{})
	m := NewManager(factoryOf(fake), WithMaxPending(1))
	first, err := m.Create(connector.KindInjected)
	require.NoError(t, err)
	second, err := m.Create(connector.KindInjected)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := m.Connect(context.Background(), first, nil)
		done <- err
	}()
	assert.Eventually(t, func() bool { return first.State() == StateConnecting }, time.Second, 10*time.Millisecond)

	_, err = m.Connect(context.Background(), second, nil)
	assert.ErrorIs(t, err, ErrTooManyPending)

	close(fake.block)
	assert.NoError(t, <-done)
}

func TestManagerStopClosesEverything(t *testing.T) {
	m := NewManager(func(connector.Kind) (connector.Connector, error) { return newFakeConnector(), nil })
	for i := 0; i < 3; i++ {
		_, err := m.Create(connector.KindInjected)
		require.NoError(t, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	cancel()
	assert.Eventually(t, func() bool { return m.Len() == 0 }, time.Second, 10*time.Millisecond)
}

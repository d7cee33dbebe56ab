package walletconnect

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"moff.io/wallet-connector/internal/connector"
	"moff.io/wallet-connector/internal/emitter"
	"moff.io/wallet-connector/pkg/errors"
)

type fakeSession struct {
	*emitter.Emitter

	mu          sync.Mutex
	accounts    []string
	chainID     int
	enableErr   error
	enables     int
	disconnects int
	signature   string
	signErr     error
}

func (s *fakeSession) Enable(context.Context) ([]string, error) {
	s.mu.Lock()
	s.enables++
	err := s.enableErr
	accounts := append([]string(nil), s.accounts...)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

func (s *fakeSession) Accounts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.accounts...)
}

func (s *fakeSession) ChainID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chainID
}

func (s *fakeSession) Disconnect(context.Context) error {
	s.mu.Lock()
	s.disconnects++
	s.mu.Unlock()
	s.Emit(EventDisconnect, nil)
	return nil
}

func (s *fakeSession) Sign(context.Context, string, string) (string, error) {
	return s.signature, s.signErr
}

type factoryRecorder struct {
	session *fakeSession
	calls   int
	opts    connector.ProviderOptions
}

func (f *factoryRecorder) factory(_ context.Context, opts connector.ProviderOptions) (Session, error) {
	f.calls++
	f.opts = opts
	return f.session, nil
}

func newFakeSession(chainID int, accounts ...string) *fakeSession {
	return &fakeSession{Emitter: emitter.New(), chainID: chainID, accounts: accounts}
}

func wcOptions() *connector.Options {
	return &connector.Options{
		Providers:   map[string]connector.ProviderOptions{"walletconnect": {ProjectID: "pid", ChainID: 1}},
		UseProvider: "walletconnect",
	}
}

func receive(t *testing.T, s *connector.Subscription) connector.Notification {
	select {
	case n := <-s.Notifications():
		return n
	case <-time.After(time.Second):
		t.Fatal("no notification")
	}
	return connector.Notification{}
}

func TestConnectMissingConfiguration(t *testing.T) {
	rec := &factoryRecorder{session: newFakeSession(1, "0xabc")}
	c := New(WithSessionFactory(rec.factory))

	for _, opts := range []*connector.Options{
		nil,
		{},
		{Providers: map[string]connector.ProviderOptions{"walletconnect": {}}, UseProvider: "other"},
	} {
		res, err := c.Connect(context.Background(), opts)
		assert.Nil(t, res)
		ce, ok := connector.AsError(err)
		require.True(t, ok)
		assert.Equal(t, connector.CodeMissingConfiguration, ce.Code)
		assert.Equal(t, "Project Id is required", ce.Message)
	}
	assert.Equal(t, 0, rec.calls)
}

func TestConnectCreatesSessionOnce(t *testing.T) {
	rec := &factoryRecorder{session: newFakeSession(1, "0xabc")}
	c := New(WithSessionFactory(rec.factory))

	res, err := c.Connect(context.Background(), wcOptions())
	require.NoError(t, err)
	assert.Equal(t, connector.CodeSuccess, res.Code)
	assert.Equal(t, "Wallet Connect connected.", res.Message.Text)
	assert.Equal(t, rec.session, res.Provider)
	assert.Equal(t, "pid", rec.opts.ProjectID)

	_, err = c.Connect(context.Background(), wcOptions())
	require.NoError(t, err)
	assert.Equal(t, 1, rec.calls)
	assert.Equal(t, 2, rec.session.enables)
}

func TestConnectEnableFails(t *testing.T) {
	session := newFakeSession(1)
	session.enableErr = errors.New("qr modal closed")
	rec := &factoryRecorder{session: session}
	c := New(WithSessionFactory(rec.factory))

	_, err := c.Connect(context.Background(), wcOptions())
	ce, ok := connector.AsError(err)
	require.True(t, ok)
	assert.Equal(t, connector.CodeUserClosedDialog, ce.Code)
	assert.Equal(t, "User closed qr modal window.", ce.Message)

	_, err = c.GetAccounts(context.Background())
	assert.True(t, connector.HasCode(err, connector.CodeProviderUnavailable))
}

func TestConnectSignMessage(t *testing.T) {
	key, address := testKey(t)
	opts := wcOptions()
	popts := opts.Providers["walletconnect"]
	popts.SignMessage = "Sign in to moff"
	opts.Providers["walletconnect"] = popts

	t.Run("valid signature", func(t *testing.T) {
		session := newFakeSession(1, address)
		session.signature = sign(t, key, popts.SignMessage)
		c := New(WithSessionFactory((&factoryRecorder{session: session}).factory))
		_, err := c.Connect(context.Background(), opts)
		require.NoError(t, err)
		assert.Equal(t, 0, session.disconnects)
	})

	t.Run("signed by someone else", func(t *testing.T) {
		other, _ := testKey(t)
		session := newFakeSession(1, address)
		session.signature = sign(t, other, popts.SignMessage)
		c := New(WithSessionFactory((&factoryRecorder{session: session}).factory))
		_, err := c.Connect(context.Background(), opts)
		ce, ok := connector.AsError(err)
		require.True(t, ok)
		assert.Equal(t, connector.CodeUnauthorized, ce.Code)
		assert.Equal(t, address, ce.Address)
		assert.Equal(t, 1, session.disconnects)
	})

	t.Run("sign rejected", func(t *testing.T) {
		session := newFakeSession(1, address)
		session.signErr = &RPCError{Code: 4001, Message: "User rejected"}
		c := New(WithSessionFactory((&factoryRecorder{session: session}).factory))
		_, err := c.Connect(context.Background(), opts)
		assert.True(t, connector.HasCode(err, connector.CodeUnauthorized))
	})
}

func TestUnsubscribeBeforeConnect(t *testing.T) {
	rec := &factoryRecorder{session: newFakeSession(1)}
	c := New(WithSessionFactory(rec.factory))
	assert.NoError(t, c.Unsubscribe(context.Background()))
	assert.NoError(t, c.Unsubscribe(context.Background()))
	assert.Equal(t, 0, rec.calls)

	_, err := c.Subscribe(context.Background())
	assert.True(t, connector.HasCode(err, connector.CodeProviderUnavailable))
}

func TestGetAccountsFromSession(t *testing.T) {
	session := newFakeSession(137, "0xabc")
	c := New(WithSessionFactory((&factoryRecorder{session: session}).factory))
	_, err := c.Connect(context.Background(), wcOptions())
	require.NoError(t, err)

	account, err := c.GetAccounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0xabc", account.Address)
	assert.Equal(t, "polygon", account.Network.Key)

	session.mu.Lock()
	session.chainID = 99999
	session.mu.Unlock()
	account, err = c.GetAccounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 99999, account.Network.ChainID)
}

func TestSessionEvents(t *testing.T) {
	session := newFakeSession(56, "0xabc")
	c := New(WithSessionFactory((&factoryRecorder{session: session}).factory))
	_, err := c.Connect(context.Background(), wcOptions())
	require.NoError(t, err)
	sub, err := c.Subscribe(context.Background())
	require.NoError(t, err)
	again, err := c.Subscribe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, session.ListenerCount(EventAccountsChanged))

	session.Emit(EventConnect, []string{"0xabc"}, 56)
	n := receive(t, sub)
	require.NotNil(t, n.Event)
	assert.Equal(t, connector.EventConnect, n.Event.Name)
	assert.Equal(t, "0xabc", n.Event.Address)
	assert.Equal(t, 56, n.Event.Network.ChainID)
	receive(t, again)

	session.Emit(EventAccountsChanged, []string{"0xdef", "0x123"})
	n = receive(t, sub)
	require.NotNil(t, n.Event)
	assert.Equal(t, connector.EventAccountsChanged, n.Event.Name)
	assert.Equal(t, "0xdef", n.Event.Address)
	assert.Equal(t, "bsc", n.Event.Network.Key)
	receive(t, again)

	session.Emit(EventChainChanged, 1)
	assert.Len(t, sub.Notifications(), 0)

	session.Emit(EventDisconnect, errors.New("wallet killed the session"))
	n = receive(t, sub)
	require.NotNil(t, n.Err)
	assert.Equal(t, connector.CodeSessionDisconnected, n.Err.Code)

	_, err = c.GetAccounts(context.Background())
	assert.True(t, connector.HasCode(err, connector.CodeProviderUnavailable))
}

func TestUnsubscribeDisconnectsThenDetaches(t *testing.T) {
	session := newFakeSession(1, "0xabc")
	c := New(WithSessionFactory((&factoryRecorder{session: session}).factory))
	_, err := c.Connect(context.Background(), wcOptions())
	require.NoError(t, err)
	sub, err := c.Subscribe(context.Background())
	require.NoError(t, err)

	require.NoError(t, c.Unsubscribe(context.Background()))
	assert.Equal(t, 1, session.disconnects)
	for _, event := range []string{EventConnect, EventDisconnect, EventAccountsChanged, EventChainChanged} {
		assert.Equal(t, 0, session.ListenerCount(event), event)
	}
	// local teardown is not an error
	_, open := <-sub.Notifications()
	assert.False(t, open)

	require.NoError(t, c.Unsubscribe(context.Background()))
	assert.Equal(t, 1, session.disconnects)
}

func TestInstancesHaveOwnStreams(t *testing.T) {
	a := newFakeSession(1, "0xaaa")
	b := newFakeSession(1, "0xbbb")
	ca := New(WithSessionFactory((&factoryRecorder{session: a}).factory))
	cb := New(WithSessionFactory((&factoryRecorder{session: b}).factory))
	for _, c := range []*Connector{ca, cb} {
		_, err := c.Connect(context.Background(), wcOptions())
		require.NoError(t, err)
	}
	subA, err := ca.Subscribe(context.Background())
	require.NoError(t, err)
	subB, err := cb.Subscribe(context.Background())
	require.NoError(t, err)

	a.Emit(EventAccountsChanged, []string{"0xa2"})
	assert.Equal(t, "0xa2", receive(t, subA).Event.Address)
	assert.Len(t, subB.Notifications(), 0)
}

func assertDetached(t *testing.T, session *fakeSession) {
	t.Helper()
	for _, event := range []string{EventConnect, EventDisconnect, EventAccountsChanged, EventChainChanged} {
		assert.Equal(t, 0, session.ListenerCount(event), event)
	}
}

func TestRemoteDropDetachesListeners(t *testing.T) {
	session := newFakeSession(1, "0xabc")
	c := New(WithSessionFactory((&factoryRecorder{session: session}).factory))
	_, err := c.Connect(context.Background(), wcOptions())
	require.NoError(t, err)
	sub, err := c.Subscribe(context.Background())
	require.NoError(t, err)

	session.Emit(EventDisconnect, errors.New("wallet killed the session"))
	assertDetached(t, session)
	assert.True(t, connector.HasCode(receive(t, sub).Err, connector.CodeSessionDisconnected))

	require.NoError(t, c.Unsubscribe(context.Background()))
	assert.Equal(t, 0, session.disconnects)
	assertDetached(t, session)
}

func TestFailedReEnableDetachesListeners(t *testing.T) {
	session := newFakeSession(1, "0xabc")
	c := New(WithSessionFactory((&factoryRecorder{session: session}).factory))
	_, err := c.Connect(context.Background(), wcOptions())
	require.NoError(t, err)
	_, err = c.Subscribe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, session.ListenerCount(EventAccountsChanged))

	session.mu.Lock()
	session.enableErr = errors.New("qr modal closed")
	session.mu.Unlock()
	_, err = c.Connect(context.Background(), wcOptions())
	assert.True(t, connector.HasCode(err, connector.CodeUserClosedDialog))
	assertDetached(t, session)
}

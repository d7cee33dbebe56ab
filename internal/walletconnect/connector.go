package walletconnect

import (
	"context"
	"sync"

	"moff.io/wallet-connector/internal/chains"
	"moff.io/wallet-connector/internal/connector"
	"moff.io/wallet-connector/internal/emitter"
	"moff.io/wallet-connector/pkg/log"
)

// Connector is the remote-session adapter. Every instance publishes to its own
// bus, so several sessions can run side by side.
type Connector struct {
	factory SessionFactory
	table   *chains.Table
	bus     *connector.Bus

	// bound once so the same listeners are attached and detached
	listeners map[string]emitter.Listener

	connecting sync.Mutex

	mu      sync.Mutex
	session Session
	handles []emitter.Handle
}

var _ connector.Connector = (*Connector)(nil)

type Option func(*Connector)

// WithSessionFactory replaces the relay session, mostly for tests.
func WithSessionFactory(factory SessionFactory) Option {
	return func(c *Connector) {
		c.factory = factory
	}
}

// WithChainTable replaces the table used to describe networks.
func WithChainTable(table *chains.Table) Option {
	return func(c *Connector) {
		c.table = table
	}
}

func New(opts ...Option) *Connector {
	c := &Connector{
		factory: NewRelaySession,
		table:   chains.Default(),
		bus:     connector.NewBus(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.listeners = map[string]emitter.Listener{
		EventConnect:         c.onConnect,
		EventDisconnect:      c.onDisconnect,
		EventAccountsChanged: c.onAccountsChanged,
		EventChainChanged:    c.onChainChanged,
	}
	return c
}

// Connect creates the session on first use and enables it. Without options for
// opts.UseProvider nothing is created.
func (c *Connector) Connect(ctx context.Context, opts *connector.Options) (*connector.ConnectionResult, error) {
	providerOpts, ok := opts.Selected()
	if !ok {
		return nil, connector.ErrMissingConfig
	}
	c.connecting.Lock()
	defer c.connecting.Unlock()

	session := c.current()
	if session == nil {
		var err error
		session, err = c.factory(ctx, providerOpts)
		if err != nil {
			log.Errorf("wallet connect - init session:%v", err)
			return nil, connector.NewError(connector.CodeProviderUnavailable, "Provider error", err.Error())
		}
		c.mu.Lock()
		c.session = session
		c.mu.Unlock()
	}

	accounts, err := session.Enable(ctx)
	if err != nil {
		log.Warnf("wallet connect - enable session:%v", err)
		// 配对失败的会话不可复用，下次 Connect 重新生成二维码
		c.release(session)
		return nil, connector.ErrDialogClosed
	}
	if providerOpts.SignMessage != "" {
		if err := c.verify(ctx, session, accounts, providerOpts.SignMessage); err != nil {
			return nil, err
		}
	}
	log.Infof("wallet connect - connected %v", accounts)
	return connector.Connected(session, "Wallet Connect", "Wallet Connect connected."), nil
}

// verify asks the wallet to sign message and checks the signer.
func (c *Connector) verify(ctx context.Context, session Session, accounts []string, message string) error {
	if len(accounts) == 0 {
		return connector.ErrUnauthorized
	}
	signature, err := session.Sign(ctx, accounts[0], message)
	if err == nil && VerifySignature(accounts[0], signature, []byte(message)) {
		return nil
	}
	log.Warnf("wallet connect - signature of %s rejected:%v", accounts[0], err)
	if derr := session.Disconnect(ctx); derr != nil {
		log.Warnf("wallet connect - disconnect after bad signature:%v", derr)
	}
	c.release(session)
	return connector.NewError(connector.CodeUnauthorized, "Signature error", "Signature verification failed").WithAddress(accounts[0])
}

func (c *Connector) current() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// release forgets session if it is still the current one and detaches the
// listeners attached to it.
func (c *Connector) release(session Session) {
	c.mu.Lock()
	if c.session != session {
		c.mu.Unlock()
		return
	}
	handles := c.handles
	c.session, c.handles = nil, nil
	c.mu.Unlock()
	detach(session, handles)
}

func detach(session Session, handles []emitter.Handle) {
	for _, h := range handles {
		session.Off(h)
	}
}

// Subscribe attaches the bound listeners to the session once and returns a
// new subscription to the adapter's stream.
func (c *Connector) Subscribe(_ context.Context) (*connector.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil, connector.ErrNotConnected.WithType(string(connector.KindWalletConnect))
	}
	if c.handles == nil {
		for _, event := range []string{EventConnect, EventDisconnect, EventAccountsChanged, EventChainChanged} {
			c.handles = append(c.handles, c.session.On(event, c.listeners[event]))
		}
	}
	return c.bus.Subscribe(), nil
}

// GetAccounts answers from the session state, no round trip.
func (c *Connector) GetAccounts(_ context.Context) (*connector.Account, error) {
	session := c.current()
	if session == nil {
		return nil, connector.ErrNotConnected.WithType(string(connector.KindWalletConnect))
	}
	accounts := session.Accounts()
	if len(accounts) == 0 {
		return nil, connector.ErrUnauthorized.WithType(string(connector.KindWalletConnect))
	}
	return &connector.Account{
		Address: accounts[0],
		Network: c.network(session.ChainID()),
	}, nil
}

// Unsubscribe kills the remote session first, then detaches the listeners and
// closes every subscription.
func (c *Connector) Unsubscribe(ctx context.Context) error {
	c.mu.Lock()
	session, handles := c.session, c.handles
	c.session, c.handles = nil, nil
	c.mu.Unlock()

	if session != nil {
		if err := session.Disconnect(ctx); err != nil {
			log.Warnf("wallet connect - disconnect session:%v", err)
		}
		detach(session, handles)
	}
	c.bus.Close()
	return nil
}

func (c *Connector) network(chainID int) *chains.Network {
	if n := c.table.Lookup(chainID); n != nil {
		return n
	}
	return &chains.Network{ChainID: chainID}
}

func (c *Connector) onConnect(args ...interface{}) {
	accounts := stringsArg(args, 0)
	if len(accounts) == 0 {
		return
	}
	chainID, _ := arg(args, 1).(int)
	c.bus.PublishEvent(&connector.Event{
		Name:    connector.EventConnect,
		Address: accounts[0],
		Network: &chains.Network{ChainID: chainID},
	})
}

func (c *Connector) onDisconnect(args ...interface{}) {
	c.mu.Lock()
	session, handles := c.session, c.handles
	c.session, c.handles = nil, nil
	c.mu.Unlock()
	if session != nil {
		detach(session, handles)
	}

	if err, _ := arg(args, 0).(error); err != nil {
		log.Warnf("wallet connect - session disconnected:%v", err)
		c.bus.PublishError(connector.ErrDisconnected)
	}
}

func (c *Connector) onAccountsChanged(args ...interface{}) {
	accounts := stringsArg(args, 0)
	session := c.current()
	if len(accounts) == 0 || session == nil {
		c.bus.PublishError(connector.ErrUnauthorized)
		return
	}
	c.bus.PublishEvent(&connector.Event{
		Name:    connector.EventAccountsChanged,
		Address: accounts[0],
		Network: c.table.Lookup(session.ChainID()),
	})
}

func (c *Connector) onChainChanged(args ...interface{}) {
	log.Debugf("wallet connect - chain changed:%v", arg(args, 0))
}

func arg(args []interface{}, i int) interface{} {
	if i >= len(args) {
		return nil
	}
	return args[i]
}

func stringsArg(args []interface{}, i int) []string {
	accounts, _ := arg(args, i).([]string)
	return accounts
}

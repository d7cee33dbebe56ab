// Package injected adapts a wallet extension that injects an EIP-1193
// provider under a global name (MetaMask style) to the connector contract.
package injected

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"moff.io/wallet-connector/internal/chains"
	"moff.io/wallet-connector/internal/connector"
	"moff.io/wallet-connector/internal/eip1193"
	"moff.io/wallet-connector/internal/emitter"
	"moff.io/wallet-connector/pkg/errors"
	"moff.io/wallet-connector/pkg/log"
)

// DefaultWalletName is the global name the extension registers under.
const DefaultWalletName = "gamestop"

// Connector is the injected-extension adapter. It holds at most one provider
// handle, looked up by name on Connect.
type Connector struct {
	name     string
	registry *eip1193.Registry
	network  chains.Network
	table    *chains.Table
	bus      *connector.Bus

	connecting sync.Mutex

	mu       sync.Mutex
	provider eip1193.Provider
	watch    emitter.Handle // disconnect listener, attached on Connect
	handles  []emitter.Handle
	ctx      context.Context
	cancel   context.CancelFunc
}

var _ connector.Connector = (*Connector)(nil)

type Option func(*Connector)

// WithWalletName changes the global name looked up on Connect.
func WithWalletName(name string) Option {
	return func(c *Connector) {
		if name != "" {
			c.name = name
		}
	}
}

// WithChainTable replaces the table used to describe networks in events.
func WithChainTable(table *chains.Table) Option {
	return func(c *Connector) {
		c.table = table
	}
}

// New builds an adapter targeting network. Only network.ChainID is required;
// with full metadata the wallet is asked to add the chain when it does not know it.
func New(registry *eip1193.Registry, network chains.Network, opts ...Option) *Connector {
	c := &Connector{
		name:     DefaultWalletName,
		registry: registry,
		network:  *network.Copy(),
		table:    chains.Default(),
		bus:      connector.NewBus(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name is the wallet name the adapter looks up.
func (c *Connector) Name() string {
	return c.name
}

// Connect looks the extension up and keeps its handle. Options are ignored.
func (c *Connector) Connect(_ context.Context, _ *connector.Options) (*connector.ConnectionResult, error) {
	c.connecting.Lock()
	defer c.connecting.Unlock()

	provider, ok := c.registry.Lookup(c.name)
	if !ok {
		c.logger().Warn("injected wallet - extension not found")
		return nil, connector.NewError(connector.CodeWalletNotFound, "Error connect",
			c.name+" not found, please install the wallet extension.")
	}
	c.mu.Lock()
	previous := c.provider
	c.mu.Unlock()
	if previous != provider {
		if previous != nil {
			c.forget(previous)
		}
		c.mu.Lock()
		c.provider = provider
		c.watch = provider.On(eip1193.EventDisconnect, func(args ...interface{}) {
			c.onDisconnect(provider, args...)
		})
		c.mu.Unlock()
	}
	c.logger().Info("injected wallet - connected")
	return connector.Connected(provider, "Connect success", c.name+" found and connected."), nil
}

// Disconnect has nothing to tear down, extensions keep no session.
func (c *Connector) Disconnect(context.Context) error {
	return nil
}

func (c *Connector) handle() eip1193.Provider {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.provider
}

// GetAccounts checks the network, requests the accounts and re-reads the
// chain id, in that order, stopping at the first failure.
func (c *Connector) GetAccounts(ctx context.Context) (*connector.Account, error) {
	provider := c.handle()
	if provider == nil {
		return nil, connector.ErrNoExtension.WithType(c.name)
	}
	if err := c.checkNet(ctx, provider); err != nil {
		c.logger().Warnf("injected wallet - check network:%v", err)
		if disconnected(err) {
			return nil, c.lost(provider)
		}
		return nil, connector.NewError(connector.CodeChainMismatch, "Network error", err.Error())
	}
	accounts, err := requestAccounts(ctx, provider)
	if err != nil {
		c.logger().Warnf("injected wallet - request accounts:%v", err)
		if disconnected(err) {
			return nil, c.lost(provider)
		}
		return nil, connector.ErrUserRejected.WithType(c.name)
	}
	if len(accounts) == 0 || accounts[0] == "" {
		return nil, connector.ErrUnauthorized.WithType(c.name)
	}
	chainID, err := chainID(ctx, provider)
	if err != nil {
		if disconnected(err) {
			return nil, c.lost(provider)
		}
		return nil, connector.NewError(connector.CodeChainMismatch, "Network error", err.Error())
	}
	return &connector.Account{
		Address: accounts[0],
		Network: c.table.Lookup(chainID),
	}, nil
}

// Subscribe attaches the chainChanged and accountsChanged listeners on the
// first call and hands out a new subscription on every call.
func (c *Connector) Subscribe(_ context.Context) (*connector.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.provider == nil {
		return nil, connector.ErrNotConnected.WithType(c.name)
	}
	if c.handles == nil {
		c.ctx, c.cancel = context.WithCancel(context.Background())
		c.handles = []emitter.Handle{
			c.provider.On(eip1193.EventChainChanged, c.onChainChanged),
			c.provider.On(eip1193.EventAccountsChanged, c.onAccountsChanged),
		}
	}
	return c.bus.Subscribe(), nil
}

// Unsubscribe detaches exactly the listeners this adapter attached, closes the
// stream and forgets the provider.
func (c *Connector) Unsubscribe(_ context.Context) error {
	if provider := c.handle(); provider != nil {
		c.forget(provider)
	}
	c.bus.Close()
	return nil
}

// forget drops provider if it is still the current handle, detaching the
// listeners attached to it. Subscriptions stay open.
func (c *Connector) forget(provider eip1193.Provider) bool {
	c.mu.Lock()
	if c.provider != provider {
		c.mu.Unlock()
		return false
	}
	watch, handles, cancel := c.watch, c.handles, c.cancel
	c.provider, c.handles, c.cancel = nil, nil, nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	provider.Off(watch)
	for _, h := range handles {
		provider.Off(h)
	}
	return true
}

// lost forgets a provider whose transport is gone and tells the caller to
// connect again.
func (c *Connector) lost(provider eip1193.Provider) error {
	c.forget(provider)
	return connector.ErrNotConnected.WithType(c.name)
}

// disconnected reports whether err says the provider can no longer serve
// requests (EIP-1193 code 4900).
func disconnected(err error) bool {
	var rpcErr *eip1193.RPCError
	return errors.As(err, &rpcErr) && rpcErr.Code == eip1193.CodeDisconnected
}

func (c *Connector) listenerContext() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx == nil {
		return context.Background()
	}
	return c.ctx
}

func (c *Connector) onChainChanged(args ...interface{}) {
	provider := c.handle()
	if provider == nil {
		return
	}
	raw := stringArg(args)
	accounts, err := requestAccounts(c.listenerContext(), provider)
	if err != nil {
		c.logger().Warnf("injected wallet - request accounts on chainChanged:%v", err)
		c.bus.PublishError(connector.ErrUserRejected.WithType(c.name))
		return
	}
	address := first(accounts)

	chainID, err := chains.ParseChainID(raw)
	if err != nil || chainID != c.network.ChainID {
		c.logger().Warnf("injected wallet - chain changed to %q, expected %d", raw, c.network.ChainID)
		c.bus.PublishError(connector.ErrChainMismatch.WithAddress(address))
		return
	}
	c.bus.PublishEvent(&connector.Event{
		Name:    connector.EventChainChanged,
		Address: address,
		Network: c.table.Lookup(chainID),
	})
}

func (c *Connector) onDisconnect(provider eip1193.Provider, args ...interface{}) {
	if !c.forget(provider) {
		return
	}
	c.logger().Warnf("injected wallet - provider disconnected:%v", firstArg(args))
	c.bus.PublishError(connector.ErrDisconnected.WithType(c.name))
}

func (c *Connector) onAccountsChanged(args ...interface{}) {
	accounts := stringsArg(args)
	if len(accounts) == 0 {
		c.bus.PublishError(connector.ErrUnauthorized)
		return
	}
	c.bus.PublishEvent(&connector.Event{
		Name:    connector.EventAccountsChanged,
		Address: accounts[0],
		Network: c.table.Lookup(c.network.ChainID),
	})
}

func (c *Connector) logger() *logrus.Entry {
	return log.WithFields(log.Fields{"wallet": c.name, "kind": connector.KindInjected})
}

func requestAccounts(ctx context.Context, provider eip1193.Provider) ([]string, error) {
	raw, err := provider.Request(ctx, eip1193.MethodRequestAccounts)
	if err != nil {
		return nil, err
	}
	var accounts []string
	if err := json.Unmarshal(raw, &accounts); err != nil {
		return nil, errors.Wrap(err, "decode accounts")
	}
	return accounts, nil
}

// chainID reads eth_chainId, accepting a hex string or a plain number.
func chainID(ctx context.Context, provider eip1193.Provider) (int, error) {
	raw, err := provider.Request(ctx, eip1193.MethodChainID)
	if err != nil {
		return 0, err
	}
	result := gjson.ParseBytes(raw)
	switch result.Type {
	case gjson.String:
		return chains.ParseChainID(result.String())
	case gjson.Number:
		return int(result.Int()), nil
	}
	return 0, errors.Errorf("unexpected chain id %s", raw)
}

func first(accounts []string) string {
	if len(accounts) == 0 {
		return ""
	}
	return accounts[0]
}

func firstArg(args []interface{}) interface{} {
	if len(args) == 0 {
		return nil
	}
	return args[0]
}

func stringArg(args []interface{}) string {
	if len(args) == 0 {
		return ""
	}
	s, _ := args[0].(string)
	return s
}

func stringsArg(args []interface{}) []string {
	if len(args) == 0 {
		return nil
	}
	switch v := args[0].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, a := range v {
			if s, ok := a.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

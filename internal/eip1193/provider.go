// Package eip1193 holds the contract of an injected (EIP-1193) wallet
// provider, a registry standing in for the browser global scope, and a
// websocket JSON-RPC transport implementing the contract.
package eip1193

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"moff.io/wallet-connector/internal/emitter"
)

const (
	MethodRequestAccounts = "eth_requestAccounts"
	MethodChainID         = "eth_chainId"
	MethodSwitchChain     = "wallet_switchEthereumChain"
	MethodAddChain        = "wallet_addEthereumChain"

	EventChainChanged    = "chainChanged"
	EventAccountsChanged = "accountsChanged"
	EventConnect         = "connect"
	EventDisconnect      = "disconnect"
)

// Provider error codes defined by EIP-1193 and EIP-3326.
const (
	CodeUserRejected      = 4001
	CodeUnauthorized      = 4100
	CodeUnsupportedMethod = 4200
	CodeDisconnected      = 4900
	CodeUnrecognizedChain = 4902
)

// Provider is what a wallet extension exposes. Listeners of chainChanged
// receive the chain id string, listeners of accountsChanged a []string.
type Provider interface {
	Request(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error)
	On(event string, fn emitter.Listener) emitter.Handle
	Off(h emitter.Handle) bool
}

// RPCError is an error returned by the wallet for a request.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("provider rpc error %d: %s", e.Code, e.Message)
}

// Registry maps wallet names to providers, the way extensions inject
// themselves under a well known global name.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

func (r *Registry) Register(name string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = p
}

func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.providers, name)
}

// Lookup returns the provider registered under name.
func (r *Registry) Lookup(name string) (Provider, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// Names lists the registered wallets.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}

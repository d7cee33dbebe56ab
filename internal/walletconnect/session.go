// Package walletconnect adapts a WalletConnect remote session (QR pairing and
// relay transport) to the connector contract.
package walletconnect

import (
	"context"

	"moff.io/wallet-connector/internal/connector"
	"moff.io/wallet-connector/internal/emitter"
)

// Events emitted by a Session.
//
//	connect         accounts []string, chainID int
//	disconnect      err error, nil when closed locally
//	accountsChanged accounts []string
//	chainChanged    chainID int
const (
	EventConnect         = "connect"
	EventDisconnect      = "disconnect"
	EventAccountsChanged = "accountsChanged"
	EventChainChanged    = "chainChanged"
)

// Session is a remote wallet session.
type Session interface {
	// Enable pairs with the wallet, showing the QR code when needed, and
	// returns the approved accounts. It returns the cached accounts when the
	// session is already established.
	Enable(ctx context.Context) ([]string, error)
	Accounts() []string
	ChainID() int
	// Disconnect kills the session on both ends. It is a no-op on a closed session.
	Disconnect(ctx context.Context) error
	// Sign asks the wallet to eth_sign message with address.
	Sign(ctx context.Context, address, message string) (string, error)

	On(event string, fn emitter.Listener) emitter.Handle
	Off(h emitter.Handle) bool
}

// SessionFactory creates a session from provider options.
type SessionFactory func(ctx context.Context, opts connector.ProviderOptions) (Session, error)

// Package connector defines the contract every wallet adapter implements and
// the normalized event shape adapters publish.
package connector

import (
	"context"
	"time"

	"moff.io/wallet-connector/internal/chains"
)

// Connector is implemented by every wallet adapter.
type Connector interface {
	// Connect establishes a session with the wallet. Failures are *Error.
	Connect(ctx context.Context, opts *Options) (*ConnectionResult, error)

	// Subscribe returns a stream of normalized notifications. Native listeners
	// are attached on the first call only; later calls add a downstream
	// subscription to the same stream.
	Subscribe(ctx context.Context) (*Subscription, error)

	// GetAccounts resolves the current account and network.
	GetAccounts(ctx context.Context) (*Account, error)

	// Unsubscribe detaches the native listeners, closes every subscription and
	// releases the provider handle. It never fails on an idle connector.
	Unsubscribe(ctx context.Context) error
}

// Kind names a wallet adapter.
type Kind string

const (
	KindInjected      Kind = "injected"
	KindWalletConnect Kind = "walletconnect"
)

// Message is the human readable part of a result or error.
type Message struct {
	Title    string `json:"title"`
	Subtitle string `json:"subtitle"`
	Text     string `json:"text"`
}

// ConnectionResult is produced once per successful connect attempt.
type ConnectionResult struct {
	Code      int         `json:"code"`
	Connected bool        `json:"connected"`
	Provider  interface{} `json:"-"`
	Message   Message     `json:"message"`
}

// Connected builds the success result of a connect attempt.
func Connected(provider interface{}, subtitle, text string) *ConnectionResult {
	return &ConnectionResult{
		Code:      CodeSuccess,
		Connected: true,
		Provider:  provider,
		Message: Message{
			Title:    "Success",
			Subtitle: subtitle,
			Text:     text,
		},
	}
}

// Account is what GetAccounts resolves with.
type Account struct {
	Address string          `json:"address"`
	Network *chains.Network `json:"network"`
}

// DisplayQRCodeFn shows the pairing uri to the user, png is the rendered QR code.
type DisplayQRCodeFn func(uri string, png []byte) error

// ClientMeta is how the application presents itself to a remote wallet.
type ClientMeta struct {
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description" json:"description"`
	URL         string   `yaml:"url" json:"url"`
	Icons       []string `yaml:"icons" json:"icons"`
}

// ProviderOptions configures one remote-session provider.
type ProviderOptions struct {
	ProjectID   string          `yaml:"project_id"`
	BridgeURL   string          `yaml:"bridge_url"`
	ChainID     int             `yaml:"chain_id"`
	Metadata    ClientMeta      `yaml:"metadata"`
	SignMessage string          `yaml:"sign_message"`
	QRCodeSize  int             `yaml:"qr_code_size"`
	ReadTimeout time.Duration   `yaml:"read_timeout"`
	DisplayQR   DisplayQRCodeFn `yaml:"-"`
}

// Options selects provider options by key, UseProvider picks the entry used
// by Connect.
type Options struct {
	Providers   map[string]ProviderOptions
	UseProvider string
}

// Selected returns the options of UseProvider.
func (o *Options) Selected() (ProviderOptions, bool) {
	if o == nil || o.Providers == nil {
		return ProviderOptions{}, false
	}
	p, ok := o.Providers[o.UseProvider]
	return p, ok
}

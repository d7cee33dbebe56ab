package chains

import (
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"moff.io/wallet-connector/pkg/errors"
)

// NativeCurrency is the gas token of a network as wallet_addEthereumChain expects it.
type NativeCurrency struct {
	Name     string `yaml:"name" json:"name"`
	Symbol   string `yaml:"symbol" json:"symbol"`
	Decimals int    `yaml:"decimals" json:"decimals"`
}

// Network describes a chain. Only ChainID is required, the rest is needed to
// ask a wallet to add a chain it does not know yet.
type Network struct {
	ChainID          int             `yaml:"chain_id" json:"chainId"`
	Key              string          `yaml:"key" json:"key,omitempty"`
	Name             string          `yaml:"name" json:"name,omitempty"`
	NativeCurrency   *NativeCurrency `yaml:"native_currency" json:"nativeCurrency,omitempty"`
	RPC              string          `yaml:"rpc" json:"rpc,omitempty"`
	BlockExplorerURL string          `yaml:"block_explorer_url" json:"blockExplorerUrl,omitempty"`
}

// HexChainID returns the chain id the way EIP-1193 wallets expect it, e.g. 0x89.
func (n *Network) HexChainID() string {
	return hexutil.EncodeUint64(uint64(n.ChainID))
}

// CanAdd reports whether the network carries enough metadata for wallet_addEthereumChain.
func (n *Network) CanAdd() bool {
	return n.Name != "" && n.NativeCurrency != nil && n.RPC != "" && n.BlockExplorerURL != ""
}

// Copy returns a deep copy, nil stays nil.
func (n *Network) Copy() *Network {
	if n == nil {
		return nil
	}
	cp := *n
	if n.NativeCurrency != nil {
		currency := *n.NativeCurrency
		cp.NativeCurrency = &currency
	}
	return &cp
}

// ParseChainID parses a chain id reported by a wallet. 0x-prefixed values are
// hex (eth_chainId), anything else is decimal.
func ParseChainID(v string) (int, error) {
	v = strings.TrimSpace(v)
	id, ok := math.ParseUint64(v)
	if !ok || v == "" {
		return 0, errors.Errorf("invalid chain id %q", v)
	}
	return int(id), nil
}

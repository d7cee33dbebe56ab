package injected

import (
	"context"

	"moff.io/wallet-connector/internal/eip1193"
	"moff.io/wallet-connector/pkg/errors"
)

type switchChainParams struct {
	ChainID string `json:"chainId"`
}

type nativeCurrencyParams struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
}

type addChainParams struct {
	ChainID           string               `json:"chainId"`
	ChainName         string               `json:"chainName"`
	NativeCurrency    nativeCurrencyParams `json:"nativeCurrency"`
	RPCUrls           []string             `json:"rpcUrls"`
	BlockExplorerUrls []string             `json:"blockExplorerUrls"`
}

// checkNet makes sure the wallet is on the configured chain. It asks the
// wallet to switch, and to add the chain first when the wallet does not know
// it and the full chain metadata is configured.
func (c *Connector) checkNet(ctx context.Context, provider eip1193.Provider) error {
	current, err := chainID(ctx, provider)
	if err != nil {
		return errors.Wrap(err, "read chain id")
	}
	if current == c.network.ChainID {
		return nil
	}
	c.logger().Infof("injected wallet - switch network %d -> %d", current, c.network.ChainID)

	_, err = provider.Request(ctx, eip1193.MethodSwitchChain, switchChainParams{ChainID: c.network.HexChainID()})
	if err == nil {
		return nil
	}
	var rpcErr *eip1193.RPCError
	if !errors.As(err, &rpcErr) || rpcErr.Code != eip1193.CodeUnrecognizedChain {
		return errors.Wrap(err, "user reject switch network")
	}
	// 4902: 钱包里没有这条链
	if !c.network.CanAdd() {
		c.logger().Warnf("injected wallet - chain %d unknown to wallet and no metadata to add it", c.network.ChainID)
		return nil
	}
	params := addChainParams{
		ChainID:   c.network.HexChainID(),
		ChainName: c.network.Name,
		NativeCurrency: nativeCurrencyParams{
			Name:     c.network.NativeCurrency.Name,
			Symbol:   c.network.NativeCurrency.Symbol,
			Decimals: c.network.NativeCurrency.Decimals,
		},
		RPCUrls:           []string{c.network.RPC},
		BlockExplorerUrls: []string{c.network.BlockExplorerURL},
	}
	if _, err := provider.Request(ctx, eip1193.MethodAddChain, params); err != nil {
		return errors.Wrap(err, "user reject add chain")
	}
	return nil
}

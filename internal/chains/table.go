package chains

// Table is the static two-level lookup used to normalize wallet events:
// chain id -> canonical key -> network. It is never mutated after NewTable,
// lookups hand out copies.
type Table struct {
	keys     map[int]string
	networks map[string]*Network
}

// NewTable copies ids and networks into a read-only table. Every network gets
// its map key as Key.
func NewTable(ids map[int]string, networks map[string]Network) *Table {
	t := &Table{
		keys:     make(map[int]string, len(ids)),
		networks: make(map[string]*Network, len(networks)),
	}
	for id, key := range ids {
		t.keys[id] = key
	}
	for key, network := range networks {
		n := network.Copy()
		n.Key = key
		t.networks[key] = n
	}
	return t
}

// Key returns the canonical key of a chain id.
func (t *Table) Key(chainID int) (string, bool) {
	key, ok := t.keys[chainID]
	return key, ok
}

// Lookup resolves a chain id through both levels. Unknown ids yield nil.
func (t *Table) Lookup(chainID int) *Network {
	key, ok := t.keys[chainID]
	if !ok {
		return nil
	}
	return t.networks[key].Copy()
}

// LookupHex resolves a wallet reported chain id such as 0x1.
func (t *Table) LookupHex(chainID string) *Network {
	id, err := ParseChainID(chainID)
	if err != nil {
		return nil
	}
	return t.Lookup(id)
}

// Len is the number of chain ids known to the table.
func (t *Table) Len() int {
	return len(t.keys)
}

var defaultTable = NewTable(
	map[int]string{
		1:        "eth",
		5:        "goerli",
		11155111: "sepolia",
		56:       "bsc",
		97:       "bsc-testnet",
		137:      "polygon",
		80001:    "mumbai",
		43114:    "avalanche",
		43113:    "avalanche-testnet",
		250:      "fantom",
		25:       "cronos",
		42161:    "arbitrum",
		10:       "optimism",
	},
	map[string]Network{
		"eth": {
			ChainID:          1,
			Name:             "Ethereum",
			NativeCurrency:   &NativeCurrency{Name: "Ether", Symbol: "ETH", Decimals: 18},
			RPC:              "https://cloudflare-eth.com",
			BlockExplorerURL: "https://etherscan.io",
		},
		"goerli": {
			ChainID:          5,
			Name:             "Goerli",
			NativeCurrency:   &NativeCurrency{Name: "Goerli Ether", Symbol: "ETH", Decimals: 18},
			RPC:              "https://rpc.ankr.com/eth_goerli",
			BlockExplorerURL: "https://goerli.etherscan.io",
		},
		"sepolia": {
			ChainID:          11155111,
			Name:             "Sepolia",
			NativeCurrency:   &NativeCurrency{Name: "Sepolia Ether", Symbol: "ETH", Decimals: 18},
			RPC:              "https://rpc.sepolia.org",
			BlockExplorerURL: "https://sepolia.etherscan.io",
		},
		"bsc": {
			ChainID:          56,
			Name:             "BNB Smart Chain",
			NativeCurrency:   &NativeCurrency{Name: "BNB", Symbol: "BNB", Decimals: 18},
			RPC:              "https://bsc-dataseed.binance.org",
			BlockExplorerURL: "https://bscscan.com",
		},
		"bsc-testnet": {
			ChainID:          97,
			Name:             "BNB Smart Chain Testnet",
			NativeCurrency:   &NativeCurrency{Name: "tBNB", Symbol: "tBNB", Decimals: 18},
			RPC:              "https://data-seed-prebsc-1-s1.binance.org:8545",
			BlockExplorerURL: "https://testnet.bscscan.com",
		},
		"polygon": {
			ChainID:          137,
			Name:             "Polygon",
			NativeCurrency:   &NativeCurrency{Name: "MATIC", Symbol: "MATIC", Decimals: 18},
			RPC:              "https://polygon-rpc.com",
			BlockExplorerURL: "https://polygonscan.com",
		},
		"mumbai": {
			ChainID:          80001,
			Name:             "Polygon Mumbai",
			NativeCurrency:   &NativeCurrency{Name: "MATIC", Symbol: "MATIC", Decimals: 18},
			RPC:              "https://rpc-mumbai.maticvigil.com",
			BlockExplorerURL: "https://mumbai.polygonscan.com",
		},
		"avalanche": {
			ChainID:          43114,
			Name:             "Avalanche C-Chain",
			NativeCurrency:   &NativeCurrency{Name: "Avalanche", Symbol: "AVAX", Decimals: 18},
			RPC:              "https://api.avax.network/ext/bc/C/rpc",
			BlockExplorerURL: "https://snowtrace.io",
		},
		"avalanche-testnet": {
			ChainID:          43113,
			Name:             "Avalanche Fuji",
			NativeCurrency:   &NativeCurrency{Name: "Avalanche", Symbol: "AVAX", Decimals: 18},
			RPC:              "https://api.avax-test.network/ext/bc/C/rpc",
			BlockExplorerURL: "https://testnet.snowtrace.io",
		},
		"fantom": {
			ChainID:          250,
			Name:             "Fantom Opera",
			NativeCurrency:   &NativeCurrency{Name: "Fantom", Symbol: "FTM", Decimals: 18},
			RPC:              "https://rpc.ftm.tools",
			BlockExplorerURL: "https://ftmscan.com",
		},
		"cronos": {
			ChainID:          25,
			Name:             "Cronos",
			NativeCurrency:   &NativeCurrency{Name: "Cronos", Symbol: "CRO", Decimals: 18},
			RPC:              "https://evm.cronos.org",
			BlockExplorerURL: "https://cronoscan.com",
		},
		"arbitrum": {
			ChainID:          42161,
			Name:             "Arbitrum One",
			NativeCurrency:   &NativeCurrency{Name: "Ether", Symbol: "ETH", Decimals: 18},
			RPC:              "https://arb1.arbitrum.io/rpc",
			BlockExplorerURL: "https://arbiscan.io",
		},
		"optimism": {
			ChainID:          10,
			Name:             "Optimism",
			NativeCurrency:   &NativeCurrency{Name: "Ether", Symbol: "ETH", Decimals: 18},
			RPC:              "https://mainnet.optimism.io",
			BlockExplorerURL: "https://optimistic.etherscan.io",
		},
	},
)

// Default returns the built-in table.
func Default() *Table {
	return defaultTable
}

package flashbots

import (
	"errors"
	"net/url"
	"strings"
)

const (
	SepoliaNetwork = "sepolia"
	Mainnet        = "mainnet"

	SepoliaChainID = 11155111
	MainnetChainID = 1
)

const (
	FlashbotsMainnetRPC   = "https://rpc.flashbots.net"
	FlashbotsMainnetRelay = "https://relay.flashbots.net"

	FlashbotsSepoliaRPC   = "https://rpc-sepolia.flashbots.net"
	FlashbotsSepoliaRelay = "https://relay-sepolia.flashbots.net"
)

var ErrUnsupportedNetwork = errors.New("unsupported network")

// Network holds the endpoints and wallet parameters for one chain.
type Network struct {
	Name        string
	ChainID     int64
	RelayURL    string
	BundleRPC   string // Flashbots Protect RPC that caches bundle transactions
	ExplorerURL string
	Currency    string
}

// LookupNetwork resolves a network selector ("sepolia" or "mainnet").
func LookupNetwork(name string) (Network, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case SepoliaNetwork:
		return Network{
			Name:        "Flashbots Protect (Sepolia)",
			ChainID:     SepoliaChainID,
			RelayURL:    FlashbotsSepoliaRelay,
			BundleRPC:   FlashbotsSepoliaRPC,
			ExplorerURL: "https://sepolia.etherscan.io",
			Currency:    "SepoliaETH",
		}, nil
	case Mainnet:
		return Network{
			Name:        "Flashbots Protect",
			ChainID:     MainnetChainID,
			RelayURL:    FlashbotsMainnetRelay,
			BundleRPC:   FlashbotsMainnetRPC,
			ExplorerURL: "https://etherscan.io",
			Currency:    "ETH",
		}, nil
	}
	return Network{}, ErrUnsupportedNetwork
}

// BundleRPCURL is the wallet RPC URL that collects every transaction sent
// through it into the bundle cache under id.
func (n Network) BundleRPCURL(id string) string {
	u, err := url.Parse(n.BundleRPC)
	if err != nil {
		return n.BundleRPC + "?bundle=" + url.QueryEscape(id)
	}
	q := u.Query()
	q.Set("bundle", id)
	u.RawQuery = q.Encode()
	return u.String()
}

// BundleCacheURL is where the cached raw transactions for id can be read back.
func (n Network) BundleCacheURL(id string) string {
	return strings.TrimRight(n.BundleRPC, "/") + "/bundle?id=" + url.QueryEscape(id)
}

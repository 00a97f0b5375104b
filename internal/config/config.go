package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ligun0805/bundle-recovery/internal/bundlecore"
	"github.com/ligun0805/bundle-recovery/internal/flashbots"
)

// Settings keeps all configuration options.
type Settings struct {
	RPCURL       string
	Network      string
	ChainID      int64
	RelayURL     string
	BundleRPCURL string

	FlashbotsAuthPKHex string
	SecurePrivateKey   string
	HackedPrivateKey   string

	DiscoveryAPIKey string
	DiscoveryURL    string
	DiscoveryChain  string

	PollInterval   time.Duration
	BlockInterval  time.Duration
	WindowBlocks   uint64
	SubmitAttempts int
	SubmitBackoff  time.Duration

	BaseMul          int64
	PriorityBumpGwei int64
	GasBufferPct     int64
	FundingBufferWei *big.Int
	Builders         []string

	ListenAddr    string
	MetricsAPIKey string
	LogLevel      string
	LogColoring   bool
}

// Load reads settings from environment supporting both UPPER_CASE and lower_case keys.
func Load() (Settings, error) {
	get := func(keys []string, def string) string {
		for _, k := range keys {
			if v := strings.TrimSpace(os.Getenv(k)); v != "" {
				return v
			}
		}
		return def
	}
	getInt := func(keys []string, def int) int {
		s := get(keys, "")
		if s == "" {
			return def
		}
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
		return def
	}
	getInt64 := func(keys []string, def int64) int64 {
		s := get(keys, "")
		if s == "" {
			return def
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
		return def
	}
	getBool := func(keys []string, def bool) bool {
		s := strings.ToLower(get(keys, ""))
		if s == "" {
			return def
		}
		return s == "1" || s == "true" || s == "yes" || s == "on"
	}
	getMillis := func(keys []string, def int64) time.Duration {
		return time.Duration(getInt64(keys, def)) * time.Millisecond
	}

	st := Settings{}
	st.RPCURL = get([]string{"rpc_url", "RPC_URL"}, "")
	st.Network = strings.ToLower(get([]string{"network", "NETWORK"}, flashbots.SepoliaNetwork))
	st.ChainID = getInt64([]string{"chain_id", "CHAIN_ID"}, 0)
	st.RelayURL = get([]string{"relay_url", "RELAY_URL"}, "")
	st.BundleRPCURL = get([]string{"bundle_rpc_url", "BUNDLE_RPC_URL"}, "")

	st.FlashbotsAuthPKHex = get([]string{"flashbots_auth_pk", "FLASHBOTS_AUTH_PK"}, "")
	st.SecurePrivateKey = get([]string{"secure_private_key", "SECURE_PRIVATE_KEY"}, "")
	st.HackedPrivateKey = get([]string{"hacked_private_key", "HACKED_PRIVATE_KEY"}, "")

	st.DiscoveryAPIKey = get([]string{"moralis_api_key", "MORALIS_API_KEY"}, "")
	st.DiscoveryURL = get([]string{"moralis_url", "MORALIS_URL"}, "")
	st.DiscoveryChain = get([]string{"discovery_chain", "DISCOVERY_CHAIN"}, "")

	st.PollInterval = getMillis([]string{"poll_interval_ms", "POLL_INTERVAL_MS"}, 2000)
	st.BlockInterval = getMillis([]string{"block_interval_ms", "BLOCK_INTERVAL_MS"}, 12000)
	st.WindowBlocks = uint64(getInt([]string{"window_blocks", "WINDOW_BLOCKS"}, 20))
	st.SubmitAttempts = getInt([]string{"submit_max_attempts", "SUBMIT_MAX_ATTEMPTS"}, 3)
	st.SubmitBackoff = getMillis([]string{"submit_backoff_ms", "SUBMIT_BACKOFF_MS"}, 500)

	st.BaseMul = getInt64([]string{"basefee_mul", "BASE_MUL"}, 2)
	st.PriorityBumpGwei = getInt64([]string{"priority_bump_gwei", "PRIORITY_BUMP_GWEI"}, 1)
	st.GasBufferPct = getInt64([]string{"gas_buffer_pct", "GAS_BUFFER_PCT"}, 10)
	st.FundingBufferWei, _ = new(big.Int).SetString(get([]string{"funding_buffer_wei", "FUNDING_BUFFER_WEI"}, "10000000000000000"), 10)
	st.Builders = splitCSV(get([]string{"builders", "BUILDERS"}, "flashbots"))

	st.ListenAddr = get([]string{"listen_addr", "LISTEN_ADDR"}, ":8080")
	st.MetricsAPIKey = get([]string{"metrics_api_key", "METRICS_API_KEY"}, "")
	st.LogLevel = get([]string{"log_level", "LOG_LEVEL"}, "info")
	st.LogColoring = getBool([]string{"log_coloring", "LOG_COLORING"}, true)

	if err := st.Validate(); err != nil {
		return Settings{}, err
	}
	return st, nil
}

// Validate checks ranges and resolves the network preset.
func (st Settings) Validate() error {
	if _, err := st.ResolveNetwork(); err != nil {
		return err
	}
	if st.WindowBlocks < 1 || st.WindowBlocks > bundlecore.MaxWindowBlocks {
		return fmt.Errorf("WINDOW_BLOCKS must be between 1 and %d, got %d", bundlecore.MaxWindowBlocks, st.WindowBlocks)
	}
	if st.PollInterval <= 0 {
		return errors.New("POLL_INTERVAL_MS must be positive")
	}
	if st.BlockInterval <= 0 {
		return errors.New("BLOCK_INTERVAL_MS must be positive")
	}
	if st.SubmitAttempts < 1 {
		return errors.New("SUBMIT_MAX_ATTEMPTS must be at least 1")
	}
	if st.FundingBufferWei == nil || st.FundingBufferWei.Sign() < 0 {
		return errors.New("FUNDING_BUFFER_WEI must be a non-negative integer")
	}
	if len(st.Builders) == 0 {
		return errors.New("BUILDERS must name at least one builder")
	}
	return nil
}

// ResolveNetwork applies RELAY_URL, BUNDLE_RPC_URL and CHAIN_ID overrides to the selected preset.
func (st Settings) ResolveNetwork() (flashbots.Network, error) {
	n, err := flashbots.LookupNetwork(st.Network)
	if err != nil {
		return flashbots.Network{}, fmt.Errorf("NETWORK %q: %w", st.Network, err)
	}
	if st.RelayURL != "" {
		n.RelayURL = st.RelayURL
	}
	if st.BundleRPCURL != "" {
		n.BundleRPC = st.BundleRPCURL
	}
	if st.ChainID != 0 {
		n.ChainID = st.ChainID
	}
	return n, nil
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

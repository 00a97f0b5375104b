package main

import (
	"bufio"
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/urfave/cli/v2"

	"github.com/ligun0805/bundle-recovery/internal/bundlecore"
	"github.com/ligun0805/bundle-recovery/internal/config"
	"github.com/ligun0805/bundle-recovery/internal/discovery"
	"github.com/ligun0805/bundle-recovery/internal/flashbots"
	"github.com/ligun0805/bundle-recovery/internal/logger"
	"github.com/ligun0805/bundle-recovery/internal/monitor"
	"github.com/ligun0805/bundle-recovery/internal/recovery"
	"github.com/ligun0805/bundle-recovery/internal/server"
	"github.com/ligun0805/bundle-recovery/internal/wallet"
)

type handler struct {
	settings config.Settings
	network  flashbots.Network
	logger   logger.Logger
}

func (h *handler) dialChain(ctx context.Context) (*ethclient.Client, error) {
	if h.settings.RPCURL == "" {
		return nil, errors.New("RPC_URL is not set")
	}
	ec, err := ethclient.DialContext(ctx, h.settings.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial RPC: %w", err)
	}
	return ec, nil
}

func (h *handler) relay() (*flashbots.Client, error) {
	var auth *ecdsa.PrivateKey
	if h.settings.FlashbotsAuthPKHex != "" {
		k, err := bundlecore.ParsePrivateKey(h.settings.FlashbotsAuthPKHex)
		if err != nil {
			return nil, fmt.Errorf("FLASHBOTS_AUTH_PK: %w", err)
		}
		auth = k
	}
	return flashbots.NewClient(h.network.RelayURL, auth, nil, h.logger)
}

func (h *handler) privacy() *bundlecore.PrivacyHints {
	p := bundlecore.DefaultPrivacyHints()
	p.Builders = append([]string(nil), h.settings.Builders...)
	return &p
}

func (h *handler) monitorConfig() monitor.Config {
	return monitor.Config{
		PollInterval:  h.settings.PollInterval,
		BlockInterval: h.settings.BlockInterval,
		ChainID:       int(h.network.ChainID),
	}
}

func (h *handler) Serve(ctx context.Context) func(*cli.Context) error {
	return func(_ *cli.Context) error {
		relay, err := h.relay()
		if err != nil {
			return err
		}
		var chain server.HeadReader
		if h.settings.RPCURL != "" {
			ec, err := h.dialChain(ctx)
			if err != nil {
				return err
			}
			defer ec.Close()
			chain = ec
		}
		gate := recovery.NewGate(relay, h.settings.SubmitAttempts, h.settings.SubmitBackoff, h.logger)
		h.logger.InfoWithChain(int(h.network.ChainID), "relay %s, auth %s", relay.RelayURL, relay.AuthAddress())
		srv := server.NewServer(h.settings.ListenAddr, gate, chain, h.privacy(), h.settings.MetricsAPIKey, h.logger)
		return srv.Start(ctx)
	}
}

func (h *handler) discoveryClient() *discovery.Client {
	chain := h.settings.DiscoveryChain
	if chain == "" {
		chain = discoveryChain(h.network.ChainID)
	}
	return discovery.NewClient(h.settings.DiscoveryURL, h.settings.DiscoveryAPIKey, chain, nil, h.logger)
}

func (h *handler) Discover(ctx context.Context) func(*cli.Context) error {
	return func(cCtx *cli.Context) error {
		addr, err := parseAddress(cCtx.String("address"))
		if err != nil {
			return err
		}
		assets, err := h.discoveryClient().Discover(ctx, addr)
		if err != nil {
			return err
		}
		printAssets(os.Stdout, assets)
		return nil
	}
}

func (h *handler) Watch(ctx context.Context) func(*cli.Context) error {
	return func(cCtx *cli.Context) error {
		hashStr := strings.TrimSpace(cCtx.String("tx-hash"))
		if len(strings.TrimPrefix(hashStr, "0x")) != 64 {
			return fmt.Errorf("bad tx hash %q", hashStr)
		}
		ec, err := h.dialChain(ctx)
		if err != nil {
			return err
		}
		defer ec.Close()

		head, err := ec.BlockNumber(ctx)
		if err != nil {
			return fmt.Errorf("current block: %w", err)
		}
		size := cCtx.Uint64("window")
		if size == 0 {
			size = h.settings.WindowBlocks
		}
		window := bundlecore.NewWindow(head, size)
		if t := cCtx.Uint64("target-block"); t != 0 {
			window = bundlecore.InclusionWindow{TargetBlock: t, MaxBlock: t + size}
		}

		m := monitor.New(ec, h.monitorConfig(), h.logger)
		fmt.Printf("watching %s for blocks [%d,%d], %d polls every %s\n", hashStr, window.TargetBlock, window.MaxBlock, m.TickBudget(window), h.settings.PollInterval)
		out := m.Watch(ctx, common.HexToHash(hashStr), window)
		printOutcome(os.Stdout, out)
		if out.Kind == monitor.Exhausted {
			return bundlecore.ErrWindowExhausted
		}
		return nil
	}
}

func (h *handler) Recover(ctx context.Context) func(*cli.Context) error {
	return func(cCtx *cli.Context) error {
		keys := wallet.NewKeyring(h.logger)
		defer keys.Close()

		secureKey := h.settings.SecurePrivateKey
		if secureKey == "" {
			secureKey = readPassword("Secure wallet private key: ")
		}
		secure, err := keys.Import(secureKey)
		if err != nil {
			return fmt.Errorf("secure key: %w", err)
		}
		hackedKey := h.settings.HackedPrivateKey
		if hackedKey == "" {
			hackedKey = readPassword("Compromised wallet private key: ")
		}
		hacked, err := keys.Import(hackedKey)
		if err != nil {
			return fmt.Errorf("compromised key: %w", err)
		}
		if err := matchFlag(cCtx.String("secure"), secure, "secure"); err != nil {
			return err
		}
		if err := matchFlag(cCtx.String("hacked"), hacked, "hacked"); err != nil {
			return err
		}

		assets, err := parseAssetFlags(cCtx.StringSlice("asset"))
		if err != nil {
			return err
		}
		if len(assets) == 0 {
			if assets, err = h.discoveryClient().Discover(ctx, hacked); err != nil {
				return err
			}
		}
		if len(assets) == 0 {
			return fmt.Errorf("no assets found on %s", hacked.Hex())
		}

		ec, err := h.dialChain(ctx)
		if err != nil {
			return err
		}
		defer ec.Close()
		relay, err := h.relay()
		if err != nil {
			return err
		}

		printConfig(os.Stdout, h.settings, h.network, secure, hacked, relay.AuthAddress())
		printAssets(os.Stdout, assets)
		printNetworkState(ctx, os.Stdout, ec, h.settings, assets)
		if !cCtx.Bool("yes") && !yes(readLine(bufio.NewReader(os.Stdin), "Proceed? [y/N]: ")) {
			return errors.New("aborted")
		}

		sess, err := recovery.NewSession(recovery.Config{
			Network:        h.network,
			WindowBlocks:   h.settings.WindowBlocks,
			Monitor:        h.monitorConfig(),
			BaseMul:        h.settings.BaseMul,
			PriorityBump:   bundlecore.GweiToWei(h.settings.PriorityBumpGwei),
			GasBufferPct:   h.settings.GasBufferPct,
			FundingBuffer:  h.settings.FundingBufferWei,
			SubmitAttempts: h.settings.SubmitAttempts,
			SubmitBackoff:  h.settings.SubmitBackoff,
			Privacy:        h.privacy(),
		}, recovery.Deps{
			Chain:     ec,
			Relay:     relay,
			Signer:    keys,
			Wallet:    keys,
			Registrar: keys,
			RawTxs:    flashbots.NewBundleCache(h.network, nil),
			Logger:    h.logger,
		})
		if err != nil {
			return err
		}
		sess.OnTransition = func(from, to recovery.State) {
			fmt.Printf("  [%s] %s -> %s\n", time.Now().Format("15:04:05"), from, to)
		}
		stop := context.AfterFunc(ctx, sess.Cancel)
		defer stop()

		res, err := runRecovery(ctx, sess, keys, recovery.Params{Hacked: hacked, Secure: secure, Assets: assets}, cCtx.Int("retries"))
		printResult(os.Stdout, res, h.network)
		return err
	}
}

// accountSwitcher is the keyring surface used to play both wallet roles.
type accountSwitcher interface {
	Use(addr common.Address) error
}

// runRecovery drives a session through both phases and resubmits exhausted windows up to retries times.
func runRecovery(ctx context.Context, sess *recovery.Session, keys accountSwitcher, p recovery.Params, retries int) (recovery.Result, error) {
	if err := sess.Start(ctx, p); err != nil {
		return sess.Snapshot(), err
	}
	fmt.Printf("bundle id: %s\n", sess.BundleID())

	if err := keys.Use(p.Secure); err != nil {
		return sess.Snapshot(), err
	}
	hash, err := sess.Fund(ctx)
	if err != nil {
		return sess.Snapshot(), err
	}
	fmt.Printf("funding tx: %s\n", hash.Hex())

	if err := keys.Use(p.Hacked); err != nil {
		return sess.Snapshot(), err
	}
	res, err := sess.Continue(ctx)
	for attempt := 1; attempt <= retries && errors.Is(err, bundlecore.ErrWindowExhausted) && ctx.Err() == nil; attempt++ {
		fmt.Printf("window exhausted, resubmitting (%d/%d)\n", attempt, retries)
		res, err = sess.Retry(ctx)
	}
	return res, err
}

func matchFlag(flag string, key common.Address, role string) error {
	if strings.TrimSpace(flag) == "" {
		return nil
	}
	addr, err := parseAddress(flag)
	if err != nil {
		return fmt.Errorf("--%s: %w", role, err)
	}
	if addr != key {
		return fmt.Errorf("--%s %s does not match the %s key (%s)", role, addr.Hex(), role, key.Hex())
	}
	return nil
}

func parseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("bad address %q", s)
	}
	return common.HexToAddress(s), nil
}

// parseAssetFlags reads type:contract[:tokenId][:amount] selectors.
func parseAssetFlags(in []string) ([]bundlecore.AssetDescriptor, error) {
	out := make([]bundlecore.AssetDescriptor, 0, len(in))
	for _, raw := range in {
		parts := strings.Split(strings.TrimSpace(raw), ":")
		if len(parts) < 3 {
			return nil, fmt.Errorf("asset %q: want type:contract:id[:amount]", raw)
		}
		typ, err := bundlecore.ParseAssetType(parts[0])
		if err != nil {
			return nil, err
		}
		contract, err := parseAddress(parts[1])
		if err != nil {
			return nil, fmt.Errorf("asset %q: %w", raw, err)
		}
		a := bundlecore.AssetDescriptor{Type: typ, Contract: contract}
		n, ok := new(big.Int).SetString(parts[2], 10)
		if !ok {
			return nil, fmt.Errorf("asset %q: bad number %q", raw, parts[2])
		}
		switch typ {
		case bundlecore.AssetERC20:
			a.Amount = n
		case bundlecore.AssetERC721:
			a.TokenID = n
		case bundlecore.AssetERC1155:
			a.TokenID = n
			a.Amount = big.NewInt(1)
			if len(parts) > 3 {
				amt, ok := new(big.Int).SetString(parts[3], 10)
				if !ok {
					return nil, fmt.Errorf("asset %q: bad amount %q", raw, parts[3])
				}
				a.Amount = amt
			}
		}
		if err := a.Validate(); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func discoveryChain(chainID int64) string {
	switch chainID {
	case flashbots.SepoliaChainID:
		return "sepolia"
	case 17000:
		return "holesky"
	}
	return "eth"
}

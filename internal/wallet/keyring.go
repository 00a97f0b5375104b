package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/ligun0805/bundle-recovery/internal/bundlecore"
	"github.com/ligun0805/bundle-recovery/internal/flashbots"
	"github.com/ligun0805/bundle-recovery/internal/logger"
)

var (
	ErrNoActiveAccount = errors.New("no active account")
	ErrUnknownAccount  = errors.New("account not in keyring")
	ErrNetworkNotAdded = errors.New("bundle network not added")
)

// Broadcaster is the node surface used to dispatch signed transactions.
type Broadcaster interface {
	ChainID(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	Close()
}

// DialFunc opens a Broadcaster on rawurl.
type DialFunc func(ctx context.Context, rawurl string) (Broadcaster, error)

func dialEthclient(ctx context.Context, rawurl string) (Broadcaster, error) {
	c, err := ethclient.DialContext(ctx, rawurl)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Keyring holds private keys and plays the part of a browser wallet: one
// account is active at a time and every transaction goes out through the
// network added last, which is the bundle-collecting RPC of the current recovery.
type Keyring struct {
	mu      sync.RWMutex
	keys    map[common.Address]*ecdsa.PrivateKey
	order   []common.Address
	active  common.Address
	client  Broadcaster
	network flashbots.Network
	dial    DialFunc
	logger  logger.Logger
}

func NewKeyring(log logger.Logger) *Keyring {
	return &Keyring{
		keys:   make(map[common.Address]*ecdsa.PrivateKey),
		dial:   dialEthclient,
		logger: logger.OrEmpty(log),
	}
}

// WithDialer swaps the dialer used by AddNetwork.
func (k *Keyring) WithDialer(d DialFunc) *Keyring {
	k.mu.Lock()
	k.dial = d
	k.mu.Unlock()
	return k
}

// Import adds a key from hex and returns its address. The first key imported becomes active.
func (k *Keyring) Import(hexKey string) (common.Address, error) {
	prv, err := bundlecore.ParsePrivateKey(hexKey)
	if err != nil {
		return common.Address{}, err
	}
	return k.Add(prv), nil
}

// Add registers prv. The first key added becomes active.
func (k *Keyring) Add(prv *ecdsa.PrivateKey) common.Address {
	addr := crypto.PubkeyToAddress(prv.PublicKey)
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, ok := k.keys[addr]; !ok {
		k.order = append(k.order, addr)
	}
	k.keys[addr] = prv
	if k.active == (common.Address{}) {
		k.active = addr
	}
	return addr
}

// Accounts lists the imported addresses in import order.
func (k *Keyring) Accounts() []common.Address {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return append([]common.Address(nil), k.order...)
}

// Use switches the active account.
func (k *Keyring) Use(addr common.Address) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, ok := k.keys[addr]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAccount, addr.Hex())
	}
	k.active = addr
	k.logger.Debug("active account: %s", addr.Hex())
	return nil
}

func (k *Keyring) ActiveAddress(_ context.Context) (common.Address, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.active == (common.Address{}) {
		return common.Address{}, ErrNoActiveAccount
	}
	return k.active, nil
}

// AddNetwork points the keyring at the bundle RPC for bundleID. The endpoint
// must report the network's chain id.
func (k *Keyring) AddNetwork(ctx context.Context, network flashbots.Network, bundleID string) error {
	k.mu.RLock()
	dial := k.dial
	k.mu.RUnlock()

	rpcURL := network.BundleRPCURL(bundleID)
	client, err := dial(ctx, rpcURL)
	if err != nil {
		return fmt.Errorf("dial %s: %w", network.Name, err)
	}
	id, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return fmt.Errorf("chain id from %s: %w", network.Name, err)
	}
	if id.Int64() != network.ChainID {
		client.Close()
		return fmt.Errorf("%s reports chain %s, want %d", network.Name, id, network.ChainID)
	}

	k.mu.Lock()
	prev := k.client
	k.client = client
	k.network = network
	k.mu.Unlock()
	if prev != nil {
		prev.Close()
	}
	k.logger.InfoWithChain(int(network.ChainID), "added network %q for bundle %s", network.Name, bundleID)
	return nil
}

// Send signs intent with the active key and broadcasts it to the added network.
func (k *Keyring) Send(ctx context.Context, intent bundlecore.TransactionIntent) (common.Hash, error) {
	k.mu.RLock()
	active := k.active
	prv := k.keys[active]
	client := k.client
	chainID := k.network.ChainID
	k.mu.RUnlock()

	switch {
	case prv == nil:
		return common.Hash{}, bundlecore.NewSigningError(ErrNoActiveAccount)
	case client == nil:
		return common.Hash{}, bundlecore.NewSigningError(ErrNetworkNotAdded)
	case intent.From != nil && *intent.From != active:
		return common.Hash{}, bundlecore.NewSigningError(fmt.Errorf("intent is from %s but active account is %s", intent.From.Hex(), active.Hex()))
	}
	if intent.ChainID == nil {
		intent.ChainID = big.NewInt(chainID)
	}

	tx, err := bundlecore.SignIntent(intent, prv)
	if err != nil {
		return common.Hash{}, bundlecore.NewSigningError(err)
	}
	if err := client.SendTransaction(ctx, tx); err != nil {
		return common.Hash{}, bundlecore.NewSigningError(err)
	}
	k.logger.DebugWithChain(int(chainID), "sent %s nonce=%d from %s", tx.Hash().Hex(), tx.Nonce(), active.Hex())
	return tx.Hash(), nil
}

// Close releases the network connection.
func (k *Keyring) Close() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.client != nil {
		k.client.Close()
		k.client = nil
	}
}

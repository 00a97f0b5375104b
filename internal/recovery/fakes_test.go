package recovery

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/ligun0805/bundle-recovery/internal/bundlecore"
	"github.com/ligun0805/bundle-recovery/internal/flashbots"
	"github.com/ligun0805/bundle-recovery/internal/monitor"
)

// fakeChain serves a receipt for the reference hash once receipt calls exceed hideFor.
type fakeChain struct {
	mu       sync.Mutex
	head     uint64
	hideFor  int
	calls    int
	status   uint64
	block    uint64
	nonces   map[common.Address]uint64
	onPoll   func(n int)
	received []common.Hash
}

func (f *fakeChain) HeaderByNumber(_ context.Context, _ *big.Int) (*types.Header, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &types.Header{Number: new(big.Int).SetUint64(f.head), BaseFee: bundlecore.GweiToWei(10)}, nil
}

func (f *fakeChain) SuggestGasTipCap(_ context.Context) (*big.Int, error) {
	return bundlecore.GweiToWei(2), nil
}

func (f *fakeChain) PendingNonceAt(_ context.Context, a common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonces[a], nil
}

func (f *fakeChain) EstimateGas(_ context.Context, _ ethereum.CallMsg) (uint64, error) {
	return 60_000, nil
}

func (f *fakeChain) BlockNumber(_ context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head, nil
}

func (f *fakeChain) setHead(h uint64) {
	f.mu.Lock()
	f.head = h
	f.mu.Unlock()
}

func (f *fakeChain) TransactionReceipt(_ context.Context, h common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.received = append(f.received, h)
	hook := f.onPoll
	show := n > f.hideFor
	status, block := f.status, f.block
	f.mu.Unlock()
	if hook != nil {
		hook(n)
	}
	if !show {
		return nil, ethereum.NotFound
	}
	return &types.Receipt{Status: status, BlockNumber: new(big.Int).SetUint64(block), TxHash: h}, nil
}

func (f *fakeChain) polls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeRelay records calls and replays configured answers. When simRelease is
// set, SimulateBundle closes simStarted and blocks until simRelease is closed.
type fakeRelay struct {
	mu         sync.Mutex
	sim        bundlecore.SimulationResult
	simErr     error
	sendErrs   []error
	simCalls   int
	sendCalls  int
	bundles    []*bundlecore.Bundle
	simStarted chan struct{}
	simRelease chan struct{}
}

func (r *fakeRelay) SimulateBundle(_ context.Context, b *bundlecore.Bundle) (bundlecore.SimulationResult, error) {
	r.mu.Lock()
	r.simCalls++
	r.bundles = append(r.bundles, b)
	sim, err := r.sim, r.simErr
	started, release := r.simStarted, r.simRelease
	r.mu.Unlock()
	if release != nil {
		close(started)
		<-release
	}
	return sim, err
}

func (r *fakeRelay) SendBundle(_ context.Context, _ *bundlecore.Bundle) (bundlecore.SubmissionAck, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sendCalls++
	if len(r.sendErrs) > 0 {
		err := r.sendErrs[0]
		r.sendErrs = r.sendErrs[1:]
		if err != nil {
			return bundlecore.SubmissionAck{}, err
		}
	}
	return bundlecore.SubmissionAck{BundleHash: "0xb0b"}, nil
}

func (r *fakeRelay) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.simCalls, r.sendCalls
}

// fakeWallet holds keys for both accounts, signs intents and keeps the raw
// transactions it dispatched, like the bundle RPC cache would.
type fakeWallet struct {
	mu      sync.Mutex
	keys    map[common.Address]*ecdsa.PrivateKey
	active  common.Address
	sendErr error
	failOn  int // 1-based send that fails with failErr
	failErr error
	sends   int
	sent    map[common.Hash]*types.Transaction
	order   []common.Hash
}

func newFakeWallet(t *testing.T, keys ...*ecdsa.PrivateKey) *fakeWallet {
	t.Helper()
	w := &fakeWallet{keys: map[common.Address]*ecdsa.PrivateKey{}, sent: map[common.Hash]*types.Transaction{}}
	for _, k := range keys {
		w.keys[crypto.PubkeyToAddress(k.PublicKey)] = k
	}
	return w
}

func (w *fakeWallet) use(a common.Address) {
	w.mu.Lock()
	w.active = a
	w.mu.Unlock()
}

func (w *fakeWallet) ActiveAddress(_ context.Context) (common.Address, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active, nil
}

func (w *fakeWallet) Send(_ context.Context, it bundlecore.TransactionIntent) (common.Hash, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sendErr != nil {
		return common.Hash{}, w.sendErr
	}
	w.sends++
	if w.sends == w.failOn {
		return common.Hash{}, w.failErr
	}
	key, ok := w.keys[w.active]
	if !ok {
		return common.Hash{}, errors.New("no key for active account")
	}
	tx, err := bundlecore.SignIntent(it, key)
	if err != nil {
		return common.Hash{}, err
	}
	w.sent[tx.Hash()] = tx
	w.order = append(w.order, tx.Hash())
	return tx.Hash(), nil
}

// Transactions returns the sent transactions newest first, then reorders by hash.
func (w *fakeWallet) Transactions(_ context.Context, _ string, hashes []common.Hash) ([]*types.Transaction, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	raw := make([]string, 0, len(w.order))
	for i := len(w.order) - 1; i >= 0; i-- {
		raw = append(raw, bundlecore.TxAsHex(w.sent[w.order[i]]))
	}
	return flashbots.OrderByHash(raw, hashes)
}

type fakeRegistrar struct {
	err   error
	calls int
	id    string
}

func (w *fakeWallet) sentTxs() []*types.Transaction {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]*types.Transaction, 0, len(w.order))
	for _, h := range w.order {
		out = append(out, w.sent[h])
	}
	return out
}

func (r *fakeRegistrar) AddNetwork(_ context.Context, _ flashbots.Network, id string) error {
	r.calls++
	r.id = id
	return r.err
}

type fixture struct {
	chain     *fakeChain
	relay     *fakeRelay
	wallet    *fakeWallet
	registrar *fakeRegistrar
	session   *Session
	hacked    common.Address
	secure    common.Address
	asset     bundlecore.AssetDescriptor
	states    []State
	statesMu  sync.Mutex
}

const headN = 1000

func newFixture(t *testing.T) *fixture {
	t.Helper()
	hk, err := crypto.GenerateKey()
	require.NoError(t, err)
	sk, err := crypto.GenerateKey()
	require.NoError(t, err)

	f := &fixture{
		chain:     &fakeChain{head: headN, hideFor: 2, status: types.ReceiptStatusSuccessful, block: headN + 3, nonces: map[common.Address]uint64{}},
		relay:     &fakeRelay{sim: bundlecore.SimulationSuccess(headN, 81_000)},
		wallet:    newFakeWallet(t, hk, sk),
		registrar: &fakeRegistrar{},
		hacked:    crypto.PubkeyToAddress(hk.PublicKey),
		secure:    crypto.PubkeyToAddress(sk.PublicKey),
		asset: bundlecore.AssetDescriptor{
			Type:     bundlecore.AssetERC721,
			Contract: common.HexToAddress("0xCCC0000000000000000000000000000000000CCC"),
			TokenID:  big.NewInt(186),
		},
	}
	network, err := flashbots.LookupNetwork(flashbots.SepoliaNetwork)
	require.NoError(t, err)

	f.session, err = NewSession(Config{
		Network:       network,
		WindowBlocks:  20,
		Monitor:       monitor.Config{PollInterval: time.Millisecond, BlockInterval: time.Millisecond},
		SubmitBackoff: time.Millisecond,
	}, Deps{
		Chain:     f.chain,
		Relay:     f.relay,
		Signer:    f.wallet,
		Wallet:    f.wallet,
		Registrar: f.registrar,
		RawTxs:    f.wallet,
	})
	require.NoError(t, err)
	f.session.OnTransition = func(_, to State) {
		f.statesMu.Lock()
		f.states = append(f.states, to)
		f.statesMu.Unlock()
	}
	return f
}

func (f *fixture) params() Params {
	return Params{Hacked: f.hacked, Secure: f.secure, Assets: []bundlecore.AssetDescriptor{f.asset}}
}

func (f *fixture) seen() []State {
	f.statesMu.Lock()
	defer f.statesMu.Unlock()
	return append([]State(nil), f.states...)
}

// runToContinue drives start and fund, then switches to the hacked wallet.
func (f *fixture) runToContinue(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.session.Start(ctx, f.params()))
	f.wallet.use(f.secure)
	_, err := f.session.Fund(ctx)
	require.NoError(t, err)
	require.Equal(t, AwaitingWalletSwitch, f.session.State())
	f.wallet.use(f.hacked)
}

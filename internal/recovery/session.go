package recovery

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"

	"github.com/ligun0805/bundle-recovery/internal/bundlecore"
	"github.com/ligun0805/bundle-recovery/internal/flashbots"
	"github.com/ligun0805/bundle-recovery/internal/logger"
	"github.com/ligun0805/bundle-recovery/internal/metrics"
	"github.com/ligun0805/bundle-recovery/internal/monitor"
)

// Chain is the chain RPC surface a session needs.
type Chain interface {
	bundlecore.ChainReader
	monitor.ChainReader
}

// Signer signs and dispatches a fully resolved intent.
type Signer interface {
	Send(ctx context.Context, intent bundlecore.TransactionIntent) (common.Hash, error)
}

// ActiveWallet reports which account the signer currently acts for.
type ActiveWallet interface {
	ActiveAddress(ctx context.Context) (common.Address, error)
}

// NetworkRegistrar adds the bundle RPC network to the wallet. Failures are not fatal.
type NetworkRegistrar interface {
	AddNetwork(ctx context.Context, network flashbots.Network, bundleID string) error
}

// RawTxSource returns the signed transactions for hashes, in the order given.
type RawTxSource interface {
	Transactions(ctx context.Context, bundleID string, hashes []common.Hash) ([]*types.Transaction, error)
}

// Params is what the caller supplies to start a recovery.
type Params struct {
	Hacked common.Address
	Secure common.Address
	Assets []bundlecore.AssetDescriptor
}

// Config is per-session tuning.
type Config struct {
	Network        flashbots.Network
	WindowBlocks   uint64
	Monitor        monitor.Config
	BaseMul        int64
	PriorityBump   *big.Int
	GasBufferPct   int64
	FundingBuffer  *big.Int
	SubmitAttempts int
	SubmitBackoff  time.Duration
	Privacy        *bundlecore.PrivacyHints
}

// Deps are the collaborators a session is wired with.
type Deps struct {
	Chain     Chain
	Relay     bundlecore.Relay
	Signer    Signer
	Wallet    ActiveWallet
	Registrar NetworkRegistrar // optional
	RawTxs    RawTxSource
	Logger    logger.Logger
}

// Result is what a terminal (or in-flight) session reports.
type Result struct {
	State          State
	BundleID       string
	BlockNumber    uint64
	Window         bundlecore.InclusionWindow
	Simulation     *bundlecore.SimulationResult
	BundleHash     string
	FundingHash    common.Hash
	TransferHashes []common.Hash
	Partial        bool
	Err            error
}

// Session is one recovery attempt. It is not reentrant; concurrent recoveries
// need separate sessions, each with its own bundle id.
type Session struct {
	cfg     Config
	deps    Deps
	logger  logger.Logger
	chainID int

	fees    *bundlecore.FeeEstimator
	intents *bundlecore.IntentBuilder
	gate    *Gate
	monitor *monitor.Monitor

	// OnTransition is called after every phase change, outside the session lock.
	OnTransition func(from, to State)

	mu          sync.Mutex
	state       State
	busy        bool
	cancelled   bool
	bundleID    string
	params      Params
	fundingHash common.Hash
	transfers   []common.Hash
	nextNonce   *uint64
	bundle      *bundlecore.Bundle
	handle      *monitor.Handle
	result      Result
}

func NewSession(cfg Config, deps Deps) (*Session, error) {
	switch {
	case deps.Chain == nil:
		return nil, errors.New("session: chain is required")
	case deps.Relay == nil:
		return nil, errors.New("session: relay is required")
	case deps.Signer == nil:
		return nil, errors.New("session: signer is required")
	case deps.Wallet == nil:
		return nil, errors.New("session: active wallet is required")
	case deps.RawTxs == nil:
		return nil, errors.New("session: raw tx source is required")
	case cfg.Network.ChainID == 0:
		return nil, errors.New("session: network chain id is required")
	}
	if cfg.WindowBlocks == 0 {
		cfg.WindowBlocks = 20
	}
	log := logger.OrEmpty(deps.Logger)
	chainID := big.NewInt(cfg.Network.ChainID)
	cfg.Monitor.ChainID = int(cfg.Network.ChainID)

	intents := bundlecore.NewIntentBuilder(deps.Chain, chainID)
	if cfg.GasBufferPct > 0 {
		intents.GasBufferPct = cfg.GasBufferPct
	}
	if cfg.FundingBuffer != nil {
		intents.FundingBuffer = cfg.FundingBuffer
	}
	intents.Logf = func(format string, a ...any) { log.DebugWithChain(int(cfg.Network.ChainID), format, a...) }

	return &Session{
		cfg:      cfg,
		deps:     deps,
		logger:   log,
		chainID:  int(cfg.Network.ChainID),
		fees:     bundlecore.NewFeeEstimator(deps.Chain, cfg.BaseMul, cfg.PriorityBump),
		intents:  intents,
		gate:     NewGate(deps.Relay, cfg.SubmitAttempts, cfg.SubmitBackoff, log),
		monitor:  monitor.New(deps.Chain, cfg.Monitor, log),
		state:    Idle,
		bundleID: uuid.NewString(),
	}, nil
}

// State returns the current phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// BundleID is the relay-side identifier scoped to this session.
func (s *Session) BundleID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bundleID
}

// Snapshot returns the latest result, including partial progress.
func (s *Session) Snapshot() Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.result
	r.State = s.state
	r.BundleID = s.bundleID
	r.FundingHash = s.fundingHash
	r.TransferHashes = append([]common.Hash(nil), s.transfers...)
	return r
}

// enter checks the event guard and marks the session busy.
func (s *Session) enter(event string, want ...State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return &bundlecore.GuardError{State: string(s.state), Event: event, Guard: "another operation is in progress"}
	}
	for _, w := range want {
		if s.state == w {
			s.busy = true
			if w.Terminal() {
				s.cancelled = false
			}
			return nil
		}
	}
	return &bundlecore.GuardError{State: string(s.state), Event: event, Guard: fmt.Sprintf("requires state %v", want)}
}

// leave clears busy. A cancel that arrived while busy is applied here if the
// operation stopped short of a transition.
func (s *Session) leave() {
	s.mu.Lock()
	s.busy = false
	abandon := s.cancelled && !s.state.Terminal() && s.state != Idle
	s.mu.Unlock()
	if abandon {
		_ = s.transition(Abandoned)
	}
}

func (s *Session) currentParams() Params {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params
}

// transition moves to next. A pending cancel turns any non-terminal move into Abandoned.
func (s *Session) transition(next State) error {
	s.mu.Lock()
	from := s.state
	var err error
	if s.cancelled && !next.Terminal() {
		next = Abandoned
		err = bundlecore.ErrCancelled
	}
	s.state = next
	cb := s.OnTransition
	s.mu.Unlock()

	s.logger.InfoWithChain(s.chainID, "recovery %s: %s -> %s", s.BundleID(), from, next)
	if next.Terminal() {
		metrics.Outcomes.WithLabelValues(string(next)).Inc()
	}
	if cb != nil {
		cb(from, next)
	}
	return err
}

// Start validates the request and moves to AwaitingFunding. Network
// registration is best-effort.
func (s *Session) Start(ctx context.Context, p Params) error {
	s.mu.Lock()
	if s.busy || (s.state != Idle && !s.state.Terminal()) {
		s.mu.Unlock()
		return bundlecore.ErrSessionBusy
	}
	s.mu.Unlock()

	if err := validateParams(p); err != nil {
		return err
	}
	s.resetLocked(true)
	if err := s.enter("start", Idle); err != nil {
		return err
	}
	defer s.leave()

	s.mu.Lock()
	s.params = Params{Hacked: p.Hacked, Secure: p.Secure, Assets: append([]bundlecore.AssetDescriptor(nil), p.Assets...)}
	id := s.bundleID
	s.mu.Unlock()

	if err := s.transition(AddingNetwork); err != nil {
		return err
	}
	if s.deps.Registrar != nil {
		if err := s.deps.Registrar.AddNetwork(ctx, s.cfg.Network, id); err != nil {
			s.logger.ErrorWithChain(s.chainID, "add network (continuing): %v", err)
		}
	}
	return s.transition(AwaitingFunding)
}

func validateParams(p Params) error {
	guard := func(msg string) error {
		return &bundlecore.GuardError{State: string(Idle), Event: "start", Guard: msg}
	}
	switch {
	case p.Hacked == (common.Address{}):
		return guard("hacked address is required")
	case p.Secure == (common.Address{}):
		return guard("secure address is required")
	case p.Hacked == p.Secure:
		return guard("hacked and secure addresses must differ")
	case len(p.Assets) == 0:
		return guard("at least one asset must be selected")
	}
	for i, a := range p.Assets {
		if err := a.Validate(); err != nil {
			return guard(fmt.Sprintf("asset %d: %v", i, err))
		}
	}
	return nil
}

// Fund sends the secure -> hacked funding transfer. The active wallet must not be the hacked one.
func (s *Session) Fund(ctx context.Context) (common.Hash, error) {
	if err := s.enter("fund", AwaitingFunding); err != nil {
		return common.Hash{}, err
	}
	defer s.leave()

	active, err := s.deps.Wallet.ActiveAddress(ctx)
	if err != nil {
		return common.Hash{}, bundlecore.NewSigningError(fmt.Errorf("active wallet: %w", err))
	}
	p := s.currentParams()
	if active == p.Hacked {
		return common.Hash{}, &bundlecore.GuardError{State: string(AwaitingFunding), Event: "fund", Guard: "active wallet must not be the hacked address"}
	}

	bid, fd, err := s.fees.Bid(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("fee data: %w", err)
	}
	s.logger.InfoWithChain(s.chainID, "fees: base=%s gwei bid maxFee=%s prio=%s gwei", bundlecore.FormatGwei(fd.BaseFee), bundlecore.FormatGwei(bid.MaxFeePerGas), bundlecore.FormatGwei(bid.MaxPriorityFeePerGas))

	transfers, err := s.intents.Transfers(ctx, p.Hacked, p.Secure, p.Assets, bid)
	if err != nil {
		return common.Hash{}, fmt.Errorf("transfer intents: %w", err)
	}
	funding, err := s.intents.Funding(ctx, active, p.Hacked, transfers, bid)
	if err != nil {
		return common.Hash{}, fmt.Errorf("funding intent: %w", err)
	}
	s.logger.InfoWithChain(s.chainID, "funding %s with %s ETH", p.Hacked.Hex(), bundlecore.FormatETH(funding.Value))

	hash, err := s.deps.Signer.Send(ctx, funding)
	if err != nil {
		return common.Hash{}, bundlecore.NewSigningError(err)
	}
	s.mu.Lock()
	s.fundingHash = hash
	s.mu.Unlock()

	if err := s.transition(FundingSent); err != nil {
		return hash, err
	}
	return hash, s.transition(AwaitingWalletSwitch)
}

// Continue sends the transfers from the hacked wallet, then bundles,
// simulates, submits and monitors. It returns once a terminal state is reached.
func (s *Session) Continue(ctx context.Context) (Result, error) {
	if err := s.enter("continue", AwaitingWalletSwitch); err != nil {
		return s.Snapshot(), err
	}
	defer s.leave()

	active, err := s.deps.Wallet.ActiveAddress(ctx)
	if err != nil {
		return s.Snapshot(), bundlecore.NewSigningError(fmt.Errorf("active wallet: %w", err))
	}
	p := s.currentParams()
	if active != p.Hacked {
		return s.Snapshot(), &bundlecore.GuardError{State: string(AwaitingWalletSwitch), Event: "continue", Guard: "active wallet must be the hacked address"}
	}

	if err := s.sendTransfers(ctx, p); err != nil {
		return s.Snapshot(), err
	}
	if err := s.transition(TransferSent); err != nil {
		return s.finish(err)
	}

	s.mu.Lock()
	hashes := append([]common.Hash{s.fundingHash}, s.transfers...)
	id := s.bundleID
	s.mu.Unlock()

	if err := s.transition(Bundling); err != nil {
		return s.finish(err)
	}
	txs, err := s.deps.RawTxs.Transactions(ctx, id, hashes)
	if err != nil {
		return s.fail(fmt.Errorf("collect raw transactions: %w", err))
	}
	return s.bundleAndSubmit(ctx, txs)
}

// sendTransfers rebuilds transfer intents with fresh fees and nonces and sends
// the ones not yet sent. A signing error leaves the session in AwaitingWalletSwitch.
func (s *Session) sendTransfers(ctx context.Context, p Params) error {
	s.mu.Lock()
	sent := len(s.transfers)
	s.mu.Unlock()
	remaining := p.Assets[sent:]
	if len(remaining) == 0 {
		return nil
	}

	bid, _, err := s.fees.Bid(ctx)
	if err != nil {
		return fmt.Errorf("fee data: %w", err)
	}
	intents, err := s.intents.Transfers(ctx, p.Hacked, p.Secure, remaining, bid)
	if err != nil {
		return fmt.Errorf("transfer intents: %w", err)
	}
	s.mu.Lock()
	next := s.nextNonce
	s.mu.Unlock()
	// The bundle RPC may not count transfers it is still holding.
	if next != nil && *intents[0].Nonce < *next {
		for i := range intents {
			n := *next + uint64(i)
			intents[i].Nonce = &n
		}
	}
	for i, it := range intents {
		hash, err := s.deps.Signer.Send(ctx, it)
		if err != nil {
			return bundlecore.NewSigningError(fmt.Errorf("transfer %s: %w", remaining[i], err))
		}
		s.logger.InfoWithChain(s.chainID, "transfer %s sent: %s", remaining[i], hash.Hex())
		n := *it.Nonce + 1
		s.mu.Lock()
		s.transfers = append(s.transfers, hash)
		s.nextNonce = &n
		s.mu.Unlock()
	}
	return nil
}

// Retry rebuilds the bundle with a window anchored on the current block and
// runs simulate, submit and monitor again. Only valid after Abandoned with a built bundle.
func (s *Session) Retry(ctx context.Context) (Result, error) {
	if err := s.enter("retry", Abandoned); err != nil {
		return s.Snapshot(), err
	}
	defer s.leave()
	return s.retry(ctx)
}

func (s *Session) retry(ctx context.Context) (Result, error) {
	s.mu.Lock()
	prev := s.bundle
	s.result = Result{}
	s.mu.Unlock()
	if prev == nil {
		return s.Snapshot(), &bundlecore.GuardError{State: string(Abandoned), Event: "retry", Guard: "no bundle was built; start a new recovery"}
	}

	txs := make([]*types.Transaction, 0, len(prev.Txs))
	for _, t := range prev.Txs {
		tx := new(types.Transaction)
		if err := tx.UnmarshalBinary(t.Raw); err != nil {
			return s.fail(fmt.Errorf("decode bundled tx: %w", err))
		}
		txs = append(txs, tx)
	}
	if err := s.transition(Bundling); err != nil {
		return s.finish(err)
	}
	return s.bundleAndSubmit(ctx, txs)
}

func (s *Session) bundleAndSubmit(ctx context.Context, txs []*types.Transaction) (Result, error) {
	head, err := s.deps.Chain.BlockNumber(ctx)
	if err != nil {
		return s.fail(fmt.Errorf("current block: %w", err))
	}
	window := bundlecore.NewWindow(head, s.cfg.WindowBlocks)
	b, err := bundlecore.BuildBundle(txs, window, &bundlecore.BundleOptions{Privacy: s.cfg.Privacy})
	if err != nil {
		return s.fail(err)
	}
	s.mu.Lock()
	s.bundle = b
	s.result.Window = window
	s.mu.Unlock()
	s.logger.InfoWithChain(s.chainID, "bundle of %d txs for blocks [%d,%d], reference %s", len(b.Txs), window.TargetBlock, window.MaxBlock, b.ReferenceHash().Hex())

	if err := s.transition(Simulating); err != nil {
		return s.finish(err)
	}
	sim, err := s.gate.Simulate(ctx, b)
	if sim.Success || sim.Reason != "" {
		s.mu.Lock()
		s.result.Simulation = &sim
		s.mu.Unlock()
	}
	if err != nil {
		return s.fail(err)
	}

	if err := s.transition(Submitting); err != nil {
		return s.finish(err)
	}
	ack, err := s.gate.Submit(ctx, b)
	if err != nil {
		return s.fail(err)
	}
	s.mu.Lock()
	s.result.BundleHash = ack.BundleHash
	s.mu.Unlock()

	if err := s.transition(Monitoring); err != nil {
		return s.finish(err)
	}
	return s.watch(ctx, b)
}

func (s *Session) watch(ctx context.Context, b *bundlecore.Bundle) (Result, error) {
	started := time.Now()
	h := s.monitor.Start(ctx, b.ReferenceHash(), b.Window)
	s.mu.Lock()
	s.handle = h
	if s.cancelled {
		h.Cancel()
	}
	s.mu.Unlock()

	out := h.Wait()
	metrics.InclusionWait.Observe(time.Since(started).Seconds())
	s.mu.Lock()
	s.handle = nil
	s.mu.Unlock()

	switch out.Kind {
	case monitor.Included:
		s.mu.Lock()
		s.result.BlockNumber = out.BlockNumber
		s.mu.Unlock()
		if out.Success {
			return s.finish(s.transition(Recovered))
		}
		s.mu.Lock()
		s.result.Partial = true
		s.mu.Unlock()
		return s.fail(fmt.Errorf("block %d: %w", out.BlockNumber, bundlecore.ErrPartialRecovery))
	case monitor.Cancelled:
		if err := s.transition(Abandoned); err != nil {
			return s.finish(err)
		}
		return s.finish(bundlecore.ErrCancelled)
	default:
		if err := s.transition(Abandoned); err != nil {
			return s.finish(err)
		}
		return s.finish(bundlecore.ErrWindowExhausted)
	}
}

func (s *Session) fail(err error) (Result, error) {
	if errors.Is(err, bundlecore.ErrCancelled) || errors.Is(err, context.Canceled) || s.isCancelled() {
		_ = s.transition(Abandoned)
		return s.finish(bundlecore.ErrCancelled)
	}
	s.logger.ErrorWithChain(s.chainID, "recovery %s failed: %v", s.BundleID(), err)
	_ = s.transition(Failed)
	return s.finish(err)
}

func (s *Session) finish(err error) (Result, error) {
	s.mu.Lock()
	s.result.Err = err
	s.mu.Unlock()
	return s.Snapshot(), err
}

func (s *Session) isCancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// Cancel abandons the session. A session waiting on the caller moves to
// Abandoned at once; a running one stops at its next tick or phase boundary.
// A Retry that has not left Abandoned yet is stopped too.
func (s *Session) Cancel() {
	s.mu.Lock()
	if !s.busy && (s.state.Terminal() || s.state == Idle) {
		s.mu.Unlock()
		return
	}
	s.cancelled = true
	if s.handle != nil {
		s.handle.Cancel()
	}
	idle := !s.busy && s.state.waiting()
	s.mu.Unlock()

	if idle {
		_ = s.transition(Abandoned)
	}
}

// Reset returns a terminal session to Idle with a fresh bundle id.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy || (s.state != Idle && !s.state.Terminal()) {
		return bundlecore.ErrSessionBusy
	}
	s.resetFields()
	return nil
}

func (s *Session) resetLocked(onlyIfTerminal bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if onlyIfTerminal && !s.state.Terminal() {
		return
	}
	s.resetFields()
}

func (s *Session) resetFields() {
	s.state = Idle
	s.cancelled = false
	s.bundleID = uuid.NewString()
	s.params = Params{}
	s.fundingHash = common.Hash{}
	s.transfers = nil
	s.nextNonce = nil
	s.bundle = nil
	s.handle = nil
	s.result = Result{}
}

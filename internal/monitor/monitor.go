package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/ligun0805/bundle-recovery/internal/bundlecore"
	"github.com/ligun0805/bundle-recovery/internal/logger"
	"github.com/ligun0805/bundle-recovery/internal/metrics"
)

const (
	DefaultPollInterval  = 2 * time.Second
	DefaultBlockInterval = 12 * time.Second
	defaultCallTimeout   = 10 * time.Second
)

// ChainReader is the chain RPC surface the monitor polls.
type ChainReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// OutcomeKind is the terminal state of one monitoring run.
type OutcomeKind int

const (
	Included OutcomeKind = iota + 1
	Exhausted
	Cancelled
)

func (k OutcomeKind) String() string {
	switch k {
	case Included:
		return "included"
	case Exhausted:
		return "exhausted"
	case Cancelled:
		return "cancelled"
	}
	return "unknown"
}

// Outcome reports how monitoring ended. BlockNumber and Success are set only for Included.
type Outcome struct {
	Kind        OutcomeKind
	BlockNumber uint64
	Success     bool
	Ticks       int
	LastHead    uint64
	Receipt     *types.Receipt
}

// Config controls poll cadence and how a block window maps to wall-clock time.
type Config struct {
	PollInterval  time.Duration
	BlockInterval time.Duration
	CallTimeout   time.Duration
	ChainID       int
}

// Monitor polls for the receipt of a bundle's reference transaction.
type Monitor struct {
	chain  ChainReader
	cfg    Config
	logger logger.Logger
}

func New(chain ChainReader, cfg Config, log logger.Logger) *Monitor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.BlockInterval <= 0 {
		cfg.BlockInterval = DefaultBlockInterval
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	return &Monitor{chain: chain, cfg: cfg, logger: logger.OrEmpty(log)}
}

// TickBudget translates the window's block span into poll ticks.
func (m *Monitor) TickBudget(w bundlecore.InclusionWindow) int {
	perBlock := int(m.cfg.BlockInterval / m.cfg.PollInterval)
	if perBlock < 1 {
		perBlock = 1
	}
	blocks := int(w.Blocks())
	if blocks < 1 {
		blocks = 1
	}
	return blocks * perBlock
}

// Handle controls a running monitor.
type Handle struct {
	cancel  context.CancelFunc
	done    chan struct{}
	outcome Outcome
}

// Cancel stops polling at the next tick boundary. Safe to call more than once.
func (h *Handle) Cancel() { h.cancel() }

// Done is closed once the outcome is available.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the monitor reaches a terminal outcome.
func (h *Handle) Wait() Outcome {
	<-h.done
	return h.outcome
}

// Start begins polling for hash in the background and returns immediately.
// Cancelling ctx has the same effect as Handle.Cancel.
func (m *Monitor) Start(ctx context.Context, hash common.Hash, w bundlecore.InclusionWindow) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(h.done)
		defer cancel()
		h.outcome = m.run(ctx, hash, w)
	}()
	return h
}

// Watch is Start followed by Wait.
func (m *Monitor) Watch(ctx context.Context, hash common.Hash, w bundlecore.InclusionWindow) Outcome {
	return m.Start(ctx, hash, w).Wait()
}

func (m *Monitor) run(ctx context.Context, hash common.Hash, w bundlecore.InclusionWindow) Outcome {
	budget := m.TickBudget(w)
	m.logger.InfoWithChain(m.cfg.ChainID, "monitoring %s for blocks [%d,%d], %d ticks of %s", hash.Hex(), w.TargetBlock, w.MaxBlock, budget, m.cfg.PollInterval)

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	out := Outcome{}
	for {
		select {
		case <-ctx.Done():
			out.Kind = Cancelled
			m.logger.InfoWithChain(m.cfg.ChainID, "monitoring %s cancelled after %d ticks", hash.Hex(), out.Ticks)
			return out
		case <-ticker.C:
		}
		out.Ticks++

		head, headErr := m.blockNumber(ctx)
		rcpt, rcptErr := m.receipt(ctx, hash)

		// results of calls in flight during cancellation are discarded
		if ctx.Err() != nil {
			out.Kind = Cancelled
			return out
		}
		if headErr != nil {
			metrics.InclusionPolls.WithLabelValues("error").Inc()
			m.logger.ErrorWithChain(m.cfg.ChainID, "tick %d: block number: %v", out.Ticks, headErr)
		} else {
			out.LastHead = head
		}
		if rcptErr != nil {
			metrics.InclusionPolls.WithLabelValues("error").Inc()
			m.logger.ErrorWithChain(m.cfg.ChainID, "tick %d: receipt %s: %v", out.Ticks, hash.Hex(), rcptErr)
		}

		if rcpt != nil {
			metrics.InclusionPolls.WithLabelValues("included").Inc()
			out.Kind = Included
			out.Receipt = rcpt
			out.Success = rcpt.Status == types.ReceiptStatusSuccessful
			if rcpt.BlockNumber != nil {
				out.BlockNumber = rcpt.BlockNumber.Uint64()
			}
			m.logger.NoticeWithChain(m.cfg.ChainID, "%s included in block %d (status=%d) after %d ticks", hash.Hex(), out.BlockNumber, rcpt.Status, out.Ticks)
			return out
		}
		if rcptErr == nil && headErr == nil {
			metrics.InclusionPolls.WithLabelValues("pending").Inc()
		}
		m.logger.DebugWithChain(m.cfg.ChainID, "tick %d/%d head=%d: %s not included yet", out.Ticks, budget, out.LastHead, hash.Hex())

		if out.Ticks >= budget || (headErr == nil && head > w.MaxBlock) {
			out.Kind = Exhausted
			m.logger.InfoWithChain(m.cfg.ChainID, "window [%d,%d] exhausted for %s (head=%d, ticks=%d)", w.TargetBlock, w.MaxBlock, hash.Hex(), out.LastHead, out.Ticks)
			return out
		}
	}
}

func (m *Monitor) blockNumber(ctx context.Context) (uint64, error) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.CallTimeout)
	defer cancel()
	return m.chain.BlockNumber(cctx)
}

func (m *Monitor) receipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.CallTimeout)
	defer cancel()
	r, err := m.chain.TransactionReceipt(cctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get receipt: %w", err)
	}
	return r, nil
}

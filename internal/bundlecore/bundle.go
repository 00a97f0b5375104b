package bundlecore

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

// DefaultBuilder is the relay builder used when none is configured.
const DefaultBuilder = "flashbots"

// MaxWindowBlocks is the widest inclusion range mev-share accepts.
const MaxWindowBlocks = 30

// InclusionWindow is the block range the relay may try to land a bundle in.
type InclusionWindow struct {
	TargetBlock uint64 `json:"targetBlock"`
	MaxBlock    uint64 `json:"maxBlockNumber"`
}

// NewWindow anchors a window of size blocks on the block after current.
func NewWindow(current, size uint64) InclusionWindow {
	if size == 0 {
		size = 1
	}
	return InclusionWindow{TargetBlock: current + 1, MaxBlock: current + 1 + size}
}

// Blocks is the number of block-equivalents the window spans.
func (w InclusionWindow) Blocks() uint64 {
	if w.MaxBlock <= w.TargetBlock {
		return 0
	}
	return w.MaxBlock - w.TargetBlock
}

// Validate checks maxBlock > targetBlock >= current+1 and the MaxWindowBlocks cap.
// A zero current skips the lower bound.
func (w InclusionWindow) Validate(current uint64) error {
	if w.MaxBlock <= w.TargetBlock {
		return &InvalidBundleError{Reason: fmt.Sprintf("maxBlock %d must be greater than targetBlock %d", w.MaxBlock, w.TargetBlock)}
	}
	if w.Blocks() > MaxWindowBlocks {
		return &InvalidBundleError{Reason: fmt.Sprintf("window [%d,%d] spans %d blocks, max %d", w.TargetBlock, w.MaxBlock, w.Blocks(), MaxWindowBlocks)}
	}
	if current > 0 && w.TargetBlock < current+1 {
		return &InvalidBundleError{Reason: fmt.Sprintf("targetBlock %d is not after current block %d", w.TargetBlock, current)}
	}
	return nil
}

// PrivacyHints are the disclosure flags and permitted builders sent with a bundle.
type PrivacyHints struct {
	TxHash           bool
	Calldata         bool
	Logs             bool
	FunctionSelector bool
	ContractAddress  bool
	Builders         []string
}

// DefaultPrivacyHints sets every hint flag and routes to the default builder only.
func DefaultPrivacyHints() PrivacyHints {
	return PrivacyHints{
		TxHash:           true,
		Calldata:         true,
		Logs:             true,
		FunctionSelector: true,
		ContractAddress:  true,
		Builders:         []string{DefaultBuilder},
	}
}

// Names returns the relay wire names of the set hint flags.
func (h PrivacyHints) Names() []string {
	out := []string{"hash"}
	if h.TxHash {
		out = append(out, "tx_hash")
	}
	if h.Calldata {
		out = append(out, "calldata")
	}
	if h.Logs {
		out = append(out, "logs")
	}
	if h.FunctionSelector {
		out = append(out, "function_selector")
	}
	if h.ContractAddress {
		out = append(out, "contract_address")
	}
	return out
}

// BundleTx is one signed transaction of a bundle.
type BundleTx struct {
	Raw       []byte
	Hash      common.Hash
	Intent    TransactionIntent
	CanRevert bool
}

// Bundle is an ordered, atomically included set of signed transactions.
// Index 0 executes first. Resubmission needs a new Bundle with a fresh window.
type Bundle struct {
	Txs     []BundleTx
	Privacy PrivacyHints
	Window  InclusionWindow
}

// ReferenceHash is the hash of the first transaction, used to detect inclusion.
func (b *Bundle) ReferenceHash() common.Hash {
	if len(b.Txs) == 0 {
		return common.Hash{}
	}
	return b.Txs[0].Hash
}

// RawHex returns the 0x-prefixed raw transactions in bundle order.
func (b *Bundle) RawHex() []string {
	out := make([]string, len(b.Txs))
	for i, t := range b.Txs {
		out[i] = hexutil.Encode(t.Raw)
	}
	return out
}

// BundleOptions overrides the builder defaults.
type BundleOptions struct {
	// CanRevert, when set, must have one entry per transaction.
	// Only index 0 may be true. Nil means index 0 revertible, the rest not.
	CanRevert []bool
	// Privacy overrides DefaultPrivacyHints when non-nil.
	Privacy *PrivacyHints
}

// BuildBundle assembles txs in the given order into a Bundle. Pure construction.
func BuildBundle(txs []*types.Transaction, window InclusionWindow, opts *BundleOptions) (*Bundle, error) {
	if len(txs) == 0 {
		return nil, &InvalidBundleError{Reason: "empty transaction list"}
	}
	if err := window.Validate(0); err != nil {
		return nil, err
	}
	if opts == nil {
		opts = &BundleOptions{}
	}
	revert, err := revertPolicy(len(txs), opts.CanRevert)
	if err != nil {
		return nil, err
	}
	privacy := DefaultPrivacyHints()
	if opts.Privacy != nil {
		privacy = *opts.Privacy
		privacy.Builders = append([]string(nil), opts.Privacy.Builders...)
	}
	if len(privacy.Builders) == 0 {
		return nil, &InvalidBundleError{Reason: "builder list is empty"}
	}

	b := &Bundle{Privacy: privacy, Window: window, Txs: make([]BundleTx, 0, len(txs))}
	seen := make(map[common.Hash]bool, len(txs))
	for i, tx := range txs {
		if tx == nil {
			return nil, &InvalidBundleError{Reason: fmt.Sprintf("tx %d is nil", i)}
		}
		raw, err := tx.MarshalBinary()
		if err != nil {
			return nil, &InvalidBundleError{Reason: fmt.Sprintf("tx %d: %v", i, err)}
		}
		h := tx.Hash()
		if seen[h] {
			return nil, &InvalidBundleError{Reason: fmt.Sprintf("tx %d duplicates %s", i, h.Hex())}
		}
		seen[h] = true
		b.Txs = append(b.Txs, BundleTx{
			Raw:       raw,
			Hash:      h,
			Intent:    IntentFromTransaction(tx),
			CanRevert: revert[i],
		})
	}
	return b, nil
}

func revertPolicy(n int, req []bool) ([]bool, error) {
	out := make([]bool, n)
	if req == nil {
		out[0] = true
		return out, nil
	}
	if len(req) != n {
		return nil, &InvalidBundleError{Reason: fmt.Sprintf("revert policy has %d entries for %d transactions", len(req), n)}
	}
	count, bad := 0, -1
	for i, r := range req {
		if !r {
			continue
		}
		count++
		if i != 0 && bad < 0 {
			bad = i
		}
	}
	if count > 1 {
		return nil, &InvalidBundleError{Reason: "more than one transaction requests revertibility"}
	}
	if bad > 0 {
		return nil, &InvalidBundleError{Reason: fmt.Sprintf("tx %d requests revertibility; only the funding tx may revert", bad)}
	}
	copy(out, req)
	return out, nil
}

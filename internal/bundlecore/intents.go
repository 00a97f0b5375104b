package bundlecore

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

// ChainReader is the chain RPC surface the intent builder needs.
type ChainReader interface {
	FeeSource
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
}

// IntentBuilder constructs funding and transfer intents with resolved nonce and fees.
type IntentBuilder struct {
	chain   ChainReader
	chainID *big.Int

	GasBufferPct  int64    // added on top of estimated transfer gas
	FundingBuffer *big.Int // extra wei sent with the funding transfer
	Logf          func(string, ...any)
}

func NewIntentBuilder(chain ChainReader, chainID *big.Int) *IntentBuilder {
	return &IntentBuilder{
		chain:         chain,
		chainID:       new(big.Int).Set(chainID),
		GasBufferPct:  10,
		FundingBuffer: big.NewInt(10_000_000_000_000_000),
	}
}

func (b *IntentBuilder) logf(format string, a ...any) {
	if b.Logf != nil {
		b.Logf(format, a...)
	}
}

// Transfers builds one transfer intent per asset, moving each from hacked to secure.
// Nonces are sequential starting at the hacked account's pending nonce.
func (b *IntentBuilder) Transfers(ctx context.Context, hacked, secure common.Address, assets []AssetDescriptor, bid Bid) ([]TransactionIntent, error) {
	if len(assets) == 0 {
		return nil, errors.New("no assets selected")
	}
	nonce, err := b.chain.PendingNonceAt(ctx, hacked)
	if err != nil {
		return nil, fmt.Errorf("pending nonce of %s: %w", hacked.Hex(), err)
	}
	out := make([]TransactionIntent, 0, len(assets))
	for i, a := range assets {
		data, err := a.TransferCalldata(hacked, secure)
		if err != nil {
			return nil, fmt.Errorf("asset %d: %w", i, err)
		}
		gas := b.estimateGas(ctx, hacked, a, data)
		n := nonce + uint64(i)
		from := hacked
		out = append(out, TransactionIntent{
			From:                 &from,
			To:                   a.Contract,
			Value:                new(big.Int),
			Data:                 data,
			GasLimit:             gas,
			MaxFeePerGas:         copyBig(bid.MaxFeePerGas),
			MaxPriorityFeePerGas: copyBig(bid.MaxPriorityFeePerGas),
			Nonce:                &n,
			ChainID:              copyBig(b.chainID),
		})
	}
	return out, nil
}

func (b *IntentBuilder) estimateGas(ctx context.Context, from common.Address, a AssetDescriptor, data []byte) uint64 {
	to := a.Contract
	g, err := b.chain.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Data: data})
	if err != nil || g == 0 {
		b.logf("estimateGas %s failed, using fallback %d: %v", a, a.FallbackGas(), err)
		return a.FallbackGas()
	}
	return g + g*uint64(b.GasBufferPct)/100
}

// Funding builds the secure -> hacked transfer that pays for every transfer intent.
// Value = sum(transfer gas) * maxFee + FundingBuffer.
func (b *IntentBuilder) Funding(ctx context.Context, secure, hacked common.Address, transfers []TransactionIntent, bid Bid) (TransactionIntent, error) {
	if secure == hacked {
		return TransactionIntent{}, errors.New("secure and hacked addresses are the same")
	}
	nonce, err := b.chain.PendingNonceAt(ctx, secure)
	if err != nil {
		return TransactionIntent{}, fmt.Errorf("pending nonce of %s: %w", secure.Hex(), err)
	}
	value := FundingValue(transfers, bid, b.FundingBuffer)
	from := secure
	return TransactionIntent{
		From:                 &from,
		To:                   hacked,
		Value:                value,
		GasLimit:             FundingGasLimit,
		MaxFeePerGas:         copyBig(bid.MaxFeePerGas),
		MaxPriorityFeePerGas: copyBig(bid.MaxPriorityFeePerGas),
		Nonce:                &nonce,
		ChainID:              copyBig(b.chainID),
	}, nil
}

// FundingValue is the wei the hacked wallet needs to pay for the transfers at bid.
func FundingValue(transfers []TransactionIntent, bid Bid, buffer *big.Int) *big.Int {
	var gas uint64
	for _, t := range transfers {
		gas += t.GasLimit
	}
	v := new(big.Int).SetUint64(gas)
	v.Mul(v, bid.MaxFeePerGas)
	return addBig(v, buffer)
}

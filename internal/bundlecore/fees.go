package bundlecore

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"
)

// FeeSource is the chain-data provider used for fee reads.
type FeeSource interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
}

// FeeData is a snapshot of the network's fee levels.
type FeeData struct {
	BaseFee              *big.Int
	MaxPriorityFeePerGas *big.Int
	MaxFeePerGas         *big.Int
}

// Bid is the fee pair attached to every intent of one phase.
type Bid struct {
	MaxPriorityFeePerGas *big.Int
	MaxFeePerGas         *big.Int
}

// FeeEstimator derives bids from current fee levels. Nothing is cached:
// every call reads fresh data.
type FeeEstimator struct {
	src          FeeSource
	BaseMul      int64    // maxFee = base*BaseMul + tip
	PriorityBump *big.Int // safety margin added on top of the suggested tip
}

func NewFeeEstimator(src FeeSource, baseMul int64, bump *big.Int) *FeeEstimator {
	if baseMul <= 0 {
		baseMul = 2
	}
	if bump == nil {
		bump = GweiToWei(1)
	}
	return &FeeEstimator{src: src, BaseMul: baseMul, PriorityBump: bump}
}

// FeeData reads the latest base fee and the node's suggested tip.
func (e *FeeEstimator) FeeData(ctx context.Context) (FeeData, error) {
	h, err := e.src.HeaderByNumber(ctx, nil)
	if err != nil {
		return FeeData{}, fmt.Errorf("latest header: %w", err)
	}
	if h.BaseFee == nil {
		return FeeData{}, errors.New("latest header has no base fee (pre-London chain?)")
	}
	tip, err := e.src.SuggestGasTipCap(ctx)
	if err != nil {
		return FeeData{}, fmt.Errorf("suggest tip: %w", err)
	}
	return FeeData{
		BaseFee:              copyBig(h.BaseFee),
		MaxPriorityFeePerGas: copyBig(tip),
		MaxFeePerGas:         addBig(mulBig(h.BaseFee, e.BaseMul), tip),
	}, nil
}

// Bid bumps the suggested tip by the safety margin and carries it into maxFee.
func (e *FeeEstimator) Bid(ctx context.Context) (Bid, FeeData, error) {
	fd, err := e.FeeData(ctx)
	if err != nil {
		return Bid{}, FeeData{}, err
	}
	return BidFrom(fd, e.PriorityBump), fd, nil
}

// BidFrom applies the margin rule: priority = tip + bump, maxFee = feeData.maxFee + priority.
func BidFrom(fd FeeData, bump *big.Int) Bid {
	prio := addBig(fd.MaxPriorityFeePerGas, bump)
	return Bid{
		MaxPriorityFeePerGas: prio,
		MaxFeePerGas:         addBig(fd.MaxFeePerGas, prio),
	}
}

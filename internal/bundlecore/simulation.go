package bundlecore

import (
	"context"
	"math/big"
)

// SimulationResult is the outcome of a dry run. Success carries effects,
// failure carries the relay's reason and the failing index (-1 when unknown).
type SimulationResult struct {
	Success      bool     `json:"success"`
	Reason       string   `json:"error,omitempty"`
	FailingIndex int      `json:"index"`
	StateBlock   uint64   `json:"stateBlock,omitempty"`
	GasUsed      uint64   `json:"gasUsed,omitempty"`
	Profit       *big.Int `json:"profit,omitempty"`
	MevGasPrice  *big.Int `json:"mevGasPrice,omitempty"`
}

// SimulationSuccess builds a passing result.
func SimulationSuccess(stateBlock, gasUsed uint64) SimulationResult {
	return SimulationResult{Success: true, FailingIndex: -1, StateBlock: stateBlock, GasUsed: gasUsed}
}

// SimulationFailure builds a failing result. Pass index -1 when unknown.
func SimulationFailure(reason string, index int) SimulationResult {
	return SimulationResult{Success: false, Reason: reason, FailingIndex: index}
}

// SubmissionAck is the relay's accepted-for-routing acknowledgment.
type SubmissionAck struct {
	BundleHash string `json:"bundleHash"`
}

// Relay is the simulation and submission surface of a private relay.
type Relay interface {
	SimulateBundle(ctx context.Context, b *Bundle) (SimulationResult, error)
	SendBundle(ctx context.Context, b *Bundle) (SubmissionAck, error)
}

package recovery

import (
	"context"
	"errors"
	"time"

	"github.com/ligun0805/bundle-recovery/internal/bundlecore"
	"github.com/ligun0805/bundle-recovery/internal/logger"
	"github.com/ligun0805/bundle-recovery/internal/metrics"
)

const (
	defaultSubmitAttempts = 3
	defaultSubmitBackoff  = 500 * time.Millisecond
)

// Gate enforces simulate-before-send and retries transient submission failures.
type Gate struct {
	relay       bundlecore.Relay
	MaxAttempts int
	Backoff     time.Duration
	logger      logger.Logger
}

func NewGate(relay bundlecore.Relay, maxAttempts int, backoff time.Duration, log logger.Logger) *Gate {
	if maxAttempts <= 0 {
		maxAttempts = defaultSubmitAttempts
	}
	if backoff <= 0 {
		backoff = defaultSubmitBackoff
	}
	return &Gate{relay: relay, MaxAttempts: maxAttempts, Backoff: backoff, logger: logger.OrEmpty(log)}
}

// Simulate dry-runs b. A failing simulation returns the result together with
// a *bundlecore.SimulationFailedError carrying the relay's reason verbatim.
func (g *Gate) Simulate(ctx context.Context, b *bundlecore.Bundle) (bundlecore.SimulationResult, error) {
	res, err := g.relay.SimulateBundle(ctx, b)
	if err != nil {
		metrics.BundlesSimulated.WithLabelValues("error").Inc()
		return res, err
	}
	if !res.Success {
		metrics.BundlesSimulated.WithLabelValues("failed").Inc()
		g.logger.Notice("simulation failed: %s (tx index %d)", res.Reason, res.FailingIndex)
		return res, &bundlecore.SimulationFailedError{Result: res}
	}
	metrics.BundlesSimulated.WithLabelValues("success").Inc()
	g.logger.Notice("simulation passed: gasUsed=%d stateBlock=%d", res.GasUsed, res.StateBlock)
	return res, nil
}

// Submit sends b, retrying RelayUnavailableError with exponential backoff up to
// MaxAttempts. RelayRejectedError is returned immediately.
func (g *Gate) Submit(ctx context.Context, b *bundlecore.Bundle) (bundlecore.SubmissionAck, error) {
	backoff := g.Backoff
	var lastErr error
	for attempt := 1; attempt <= g.MaxAttempts; attempt++ {
		ack, err := g.relay.SendBundle(ctx, b)
		if err == nil {
			metrics.BundlesSubmitted.WithLabelValues("accepted").Inc()
			return ack, nil
		}
		lastErr = err
		var unavailable *bundlecore.RelayUnavailableError
		if !errors.As(err, &unavailable) {
			metrics.BundlesSubmitted.WithLabelValues("rejected").Inc()
			return bundlecore.SubmissionAck{}, err
		}
		if attempt == g.MaxAttempts {
			break
		}
		metrics.SubmitRetries.Inc()
		g.logger.Error("submit attempt %d/%d failed, retrying in %s: %v", attempt, g.MaxAttempts, backoff, err)
		select {
		case <-ctx.Done():
			return bundlecore.SubmissionAck{}, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	metrics.BundlesSubmitted.WithLabelValues("unavailable").Inc()
	return bundlecore.SubmissionAck{}, lastErr
}

// SimulateAndSubmit never calls Submit unless Simulate passed.
func (g *Gate) SimulateAndSubmit(ctx context.Context, b *bundlecore.Bundle) (bundlecore.SimulationResult, bundlecore.SubmissionAck, error) {
	res, err := g.Simulate(ctx, b)
	if err != nil {
		return res, bundlecore.SubmissionAck{}, err
	}
	ack, err := g.Submit(ctx, b)
	return res, ack, err
}

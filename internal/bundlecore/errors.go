package bundlecore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrWindowExhausted reports that no receipt appeared within the inclusion window.
	// It is an outcome, not a fault: the caller may rebuild with a fresh window.
	ErrWindowExhausted = errors.New("inclusion window exhausted")
	// ErrCancelled reports a caller-initiated stop.
	ErrCancelled = errors.New("recovery cancelled")
	// ErrPartialRecovery reports that the bundle landed but a transfer reverted.
	ErrPartialRecovery = errors.New("bundle included but transfer reverted")
	// ErrSessionBusy is returned when start is called on a session that is already running.
	ErrSessionBusy = errors.New("recovery already in progress")
)

// InvalidBundleError is a construction-time rejection the caller can fix.
type InvalidBundleError struct {
	Reason string
}

func (e *InvalidBundleError) Error() string {
	return "invalid bundle: " + e.Reason
}

// SimulationFailedError wraps a failing simulation. It is never retried automatically.
type SimulationFailedError struct {
	Result SimulationResult
}

func (e *SimulationFailedError) Error() string {
	if e.Result.FailingIndex >= 0 {
		return fmt.Sprintf("simulation failed at tx %d: %s", e.Result.FailingIndex, e.Result.Reason)
	}
	return "simulation failed: " + e.Result.Reason
}

// RelayRejectedError is a fatal relay response (malformed bundle, policy violation).
type RelayRejectedError struct {
	Code    int
	Message string
}

func (e *RelayRejectedError) Error() string {
	return fmt.Sprintf("relay rejected bundle (%d): %s", e.Code, e.Message)
}

// RelayUnavailableError is a transient transport failure (network, timeout, 5xx).
type RelayUnavailableError struct {
	Err error
}

func (e *RelayUnavailableError) Error() string {
	return "relay unavailable: " + e.Err.Error()
}

func (e *RelayUnavailableError) Unwrap() error { return e.Err }

// DiscoveryError is returned by the asset lookup service.
type DiscoveryError struct {
	Address common.Address
	Err     error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("asset discovery for %s: %v", e.Address.Hex(), e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// SigningErrorKind is a coarse class of signer/broadcast failures.
type SigningErrorKind string

const (
	SigningInsufficientFunds SigningErrorKind = "insufficient_funds"
	SigningNonceTooLow       SigningErrorKind = "nonce_too_low"
	SigningGasTooLow         SigningErrorKind = "gas_too_low"
	SigningAlreadyKnown      SigningErrorKind = "already_known"
	SigningRejected          SigningErrorKind = "rejected"
	SigningUnknown           SigningErrorKind = "unknown"
)

// SigningError is returned when the signer fails to sign or dispatch an intent.
type SigningError struct {
	Kind SigningErrorKind
	Err  error
}

func (e *SigningError) Error() string {
	return fmt.Sprintf("signing failed (%s): %v", e.Kind, e.Err)
}

func (e *SigningError) Unwrap() error { return e.Err }

// NewSigningError classifies err by the node's broadcast error text.
func NewSigningError(err error) *SigningError {
	var se *SigningError
	if errors.As(err, &se) {
		return se
	}
	return &SigningError{Kind: classifySigningError(err), Err: err}
}

func classifySigningError(err error) SigningErrorKind {
	if err == nil {
		return SigningUnknown
	}
	s := strings.ToLower(err.Error())
	switch {
	case strings.Contains(s, "insufficient funds"):
		return SigningInsufficientFunds
	case strings.Contains(s, "nonce too low"):
		return SigningNonceTooLow
	case strings.Contains(s, "intrinsic gas too low"), strings.Contains(s, "gas limit too low"):
		return SigningGasTooLow
	case strings.Contains(s, "already known"), strings.Contains(s, "known transaction"):
		return SigningAlreadyKnown
	case strings.Contains(s, "user rejected"), strings.Contains(s, "denied"):
		return SigningRejected
	}
	return SigningUnknown
}

// GuardError names the state-machine guard that was not satisfied.
type GuardError struct {
	State string
	Event string
	Guard string
}

func (e *GuardError) Error() string {
	return fmt.Sprintf("%s in state %s: %s", e.Event, e.State, e.Guard)
}

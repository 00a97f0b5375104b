package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ligun0805/bundle-recovery/internal/bundlecore"
)

// friendlyErr normalizes common relay and signer errors for readable CLI output.
func friendlyErr(err error) string {
	var (
		simErr   *bundlecore.SimulationFailedError
		rejected *bundlecore.RelayRejectedError
		unavail  *bundlecore.RelayUnavailableError
		signErr  *bundlecore.SigningError
		guardErr *bundlecore.GuardError
	)
	switch {
	case errors.As(err, &simErr):
		return fmt.Sprintf("simulation failed at tx %d: %s", simErr.Result.FailingIndex, friendlySimErr(simErr.Result.Reason))
	case errors.As(err, &rejected):
		return "relay rejected the bundle: " + friendlySimErr(rejected.Message)
	case errors.As(err, &unavail):
		return friendlySimErr(unavail.Error())
	case errors.As(err, &signErr):
		switch signErr.Kind {
		case bundlecore.SigningInsufficientFunds:
			return "not enough ETH on the sending wallet: " + signErr.Err.Error()
		case bundlecore.SigningNonceTooLow:
			return "nonce already used (the wallet sent something in between); run recover again"
		}
		return err.Error()
	case errors.As(err, &guardErr):
		return guardErr.Guard
	case errors.Is(err, bundlecore.ErrWindowExhausted):
		return "bundle was not included within the block window"
	case errors.Is(err, bundlecore.ErrPartialRecovery):
		return "bundle landed but a transfer reverted; check the assets on the compromised wallet"
	}
	return err.Error()
}

func friendlySimErr(s string) string {
	ls := strings.ToLower(strings.TrimSpace(s))
	switch {
	case strings.Contains(ls, "method not found"), strings.Contains(ls, "invalid method"):
		return "simulation not supported by relay"
	case strings.Contains(ls, "insufficient funds for gas"):
		return "insufficient ETH for simulation"
	case strings.Contains(ls, "invalid character '<'"):
		return "non-JSON/HTML response (proxy/cf?)"
	case strings.Contains(ls, "dial tcp"), strings.Contains(ls, "lookup "):
		return "network/DNS error"
	}
	return s
}

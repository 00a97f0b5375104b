package flashbots

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/flashbots/go-utils/rpcclient"
	"github.com/flashbots/go-utils/rpctypes"
	"github.com/flashbots/go-utils/signature"

	"github.com/ligun0805/bundle-recovery/internal/bundlecore"
	"github.com/ligun0805/bundle-recovery/internal/logger"
)

const defaultAPIVersion = "v0.1"

// Client talks to the relay's mev_simBundle / mev_sendBundle endpoints.
// Requests carry an X-Flashbots-Signature made with the auth key.
type Client struct {
	RelayURL string
	rpc      rpcclient.RPCClient
	auth     *ecdsa.PrivateKey
	logger   logger.Logger
}

var _ bundlecore.Relay = (*Client)(nil)

// NewClient builds a relay client. A nil auth key gets a fresh random identity.
func NewClient(relayURL string, authKey *ecdsa.PrivateKey, httpClient *http.Client, log logger.Logger) (*Client, error) {
	if relayURL == "" {
		return nil, errors.New("relay url is empty")
	}
	if authKey == nil {
		k, err := crypto.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("generate auth key: %w", err)
		}
		authKey = k
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 12 * time.Second}
	}
	signer := signature.NewSigner(authKey)
	rpc := rpcclient.NewClientWithOpts(relayURL, &rpcclient.RPCClientOpts{
		HTTPClient: httpClient,
		Signer:     &signer,
	})
	return &Client{RelayURL: relayURL, rpc: rpc, auth: authKey, logger: logger.OrEmpty(log)}, nil
}

// AuthAddress is the reputation identity the relay sees.
func (c *Client) AuthAddress() string {
	return crypto.PubkeyToAddress(c.auth.PublicKey).Hex()
}

type bundlePrivacy struct {
	Hints    []string `json:"hints,omitempty"`
	Builders []string `json:"builders,omitempty"`
}

type sendBundleArgs struct {
	Version   string                      `json:"version"`
	Inclusion rpctypes.MevBundleInclusion `json:"inclusion"`
	Body      []rpctypes.MevBundleBody    `json:"body"`
	Privacy   *bundlePrivacy              `json:"privacy,omitempty"`
}

type simMevBodyLogs struct {
	TxLogs     []map[string]any `json:"txLogs,omitempty"`
	BundleLogs []simMevBodyLogs `json:"bundleLogs,omitempty"`
}

type simulateBundleResponse struct {
	Success     bool             `json:"success"`
	Error       string           `json:"error,omitempty"`
	StateBlock  hexutil.Uint64   `json:"stateBlock"`
	MevGasPrice *hexutil.Big     `json:"mevGasPrice"`
	Profit      *hexutil.Big     `json:"profit"`
	GasUsed     hexutil.Uint64   `json:"gasUsed"`
	BodyLogs    []simMevBodyLogs `json:"logs,omitempty"`
	ExecError   string           `json:"execError,omitempty"`
	Revert      hexutil.Bytes    `json:"revert,omitempty"`
}

type sendBundleResponse struct {
	BundleHash string `json:"bundleHash"`
}

func toArgs(b *bundlecore.Bundle) *sendBundleArgs {
	args := &sendBundleArgs{
		Version: defaultAPIVersion,
		Inclusion: rpctypes.MevBundleInclusion{
			BlockNumber: hexutil.Uint64(b.Window.TargetBlock),
			MaxBlock:    hexutil.Uint64(b.Window.MaxBlock),
		},
		Body: make([]rpctypes.MevBundleBody, 0, len(b.Txs)),
		Privacy: &bundlePrivacy{
			Hints:    b.Privacy.Names(),
			Builders: b.Privacy.Builders,
		},
	}
	for _, t := range b.Txs {
		raw := hexutil.Bytes(t.Raw)
		args.Body = append(args.Body, rpctypes.MevBundleBody{Tx: &raw, CanRevert: t.CanRevert})
	}
	return args
}

// SimulateBundle dry-runs b with mev_simBundle. A failing simulation is a
// result, not an error; errors are transport or relay faults.
func (c *Client) SimulateBundle(ctx context.Context, b *bundlecore.Bundle) (bundlecore.SimulationResult, error) {
	var resp simulateBundleResponse
	if err := c.rpc.CallFor(ctx, &resp, "mev_simBundle", toArgs(b)); err != nil {
		return bundlecore.SimulationResult{}, classifyRelayError(err)
	}
	res := simulationResult(&resp, len(b.Txs))
	c.logger.Debug("mev_simBundle target=%d success=%v gasUsed=%d reason=%q", b.Window.TargetBlock, res.Success, res.GasUsed, res.Reason)
	return res, nil
}

func simulationResult(resp *simulateBundleResponse, n int) bundlecore.SimulationResult {
	if resp.Success {
		res := bundlecore.SimulationSuccess(uint64(resp.StateBlock), uint64(resp.GasUsed))
		if resp.Profit != nil {
			res.Profit = resp.Profit.ToInt()
		}
		if resp.MevGasPrice != nil {
			res.MevGasPrice = resp.MevGasPrice.ToInt()
		}
		return res
	}
	reason := resp.Error
	if reason == "" {
		reason = resp.ExecError
	}
	if reason == "" && len(resp.Revert) > 0 {
		reason = "reverted: " + resp.Revert.String()
	}
	if reason == "" {
		reason = "simulation failed"
	}
	// Logs are reported for each body executed before the failure.
	idx := -1
	if l := len(resp.BodyLogs); l > 0 && l < n {
		idx = l
	}
	res := bundlecore.SimulationFailure(reason, idx)
	res.StateBlock = uint64(resp.StateBlock)
	return res
}

// SendBundle submits b with mev_sendBundle and returns the relay's acknowledgment.
func (c *Client) SendBundle(ctx context.Context, b *bundlecore.Bundle) (bundlecore.SubmissionAck, error) {
	var resp sendBundleResponse
	if err := c.rpc.CallFor(ctx, &resp, "mev_sendBundle", toArgs(b)); err != nil {
		return bundlecore.SubmissionAck{}, classifyRelayError(err)
	}
	c.logger.Info("mev_sendBundle accepted: bundleHash=%s window=[%d,%d]", resp.BundleHash, b.Window.TargetBlock, b.Window.MaxBlock)
	return bundlecore.SubmissionAck{BundleHash: resp.BundleHash}, nil
}

// classifyRelayError maps a JSON-RPC error or HTTP 4xx to RelayRejectedError,
// and transport failures, timeouts, 429 and 5xx to RelayUnavailableError.
func classifyRelayError(err error) error {
	var rpcErr *rpcclient.RPCError
	if errors.As(err, &rpcErr) {
		return &bundlecore.RelayRejectedError{Code: rpcErr.Code, Message: rpcErr.Message}
	}
	var httpErr *rpcclient.HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.Code == http.StatusTooManyRequests || httpErr.Code >= 500 {
			return &bundlecore.RelayUnavailableError{Err: err}
		}
		return &bundlecore.RelayRejectedError{Code: httpErr.Code, Message: httpErr.Error()}
	}
	return &bundlecore.RelayUnavailableError{Err: err}
}

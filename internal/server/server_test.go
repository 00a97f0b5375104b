package server

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ligun0805/bundle-recovery/internal/bundlecore"
	"github.com/ligun0805/bundle-recovery/internal/recovery"
)

type stubRelay struct {
	mu      sync.Mutex
	sim     bundlecore.SimulationResult
	simErr  error
	sendErr error
	sims    int
	sent    []*bundlecore.Bundle
}

func (r *stubRelay) SimulateBundle(_ context.Context, _ *bundlecore.Bundle) (bundlecore.SimulationResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sims++
	return r.sim, r.simErr
}

func (r *stubRelay) SendBundle(_ context.Context, b *bundlecore.Bundle) (bundlecore.SubmissionAck, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, b)
	return bundlecore.SubmissionAck{BundleHash: "0xabc"}, r.sendErr
}

type stubHead struct {
	head uint64
	err  error
}

func (h stubHead) BlockNumber(context.Context) (uint64, error) { return h.head, h.err }

func signedTxs(t *testing.T, n int) []string {
	t.Helper()
	prv, err := crypto.GenerateKey()
	require.NoError(t, err)
	out := make([]string, n)
	for i := range out {
		nonce := uint64(i)
		tx, err := bundlecore.SignIntent(bundlecore.TransactionIntent{
			To:                   common.HexToAddress("0x00000000000000000000000000000000000000b0"),
			Value:                big.NewInt(1),
			GasLimit:             21_000,
			MaxFeePerGas:         bundlecore.GweiToWei(20),
			MaxPriorityFeePerGas: bundlecore.GweiToWei(2),
			Nonce:                &nonce,
			ChainID:              big.NewInt(11155111),
		}, prv)
		require.NoError(t, err)
		out[i] = bundlecore.TxAsHex(tx)
	}
	return out
}

func post(t *testing.T, h http.Handler, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/bundle", strings.NewReader(string(raw))))
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return rec, out
}

func newTestServer(relay *stubRelay, chain HeadReader, key string) http.Handler {
	gate := recovery.NewGate(relay, 2, time.Millisecond, nil)
	return NewServer(":0", gate, chain, nil, key, nil).Handler()
}

func TestBundle_Success(t *testing.T) {
	relay := &stubRelay{sim: bundlecore.SimulationSuccess(100, 63_000)}
	h := newTestServer(relay, stubHead{head: 100}, "")

	rec, out := post(t, h, map[string]any{"txs": signedTxs(t, 2), "targetBlock": 101, "maxBlockNumber": 121})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	require.Len(t, relay.sent, 1)
	b := relay.sent[0]
	assert.Equal(t, bundlecore.InclusionWindow{TargetBlock: 101, MaxBlock: 121}, b.Window)
	assert.True(t, b.Txs[0].CanRevert)
	assert.False(t, b.Txs[1].CanRevert)
	assert.Equal(t, []string{bundlecore.DefaultBuilder}, b.Privacy.Builders)
}

func TestBundle_SimulationFailure(t *testing.T) {
	relay := &stubRelay{sim: bundlecore.SimulationFailure("insufficient funds for gas", 1)}
	h := newTestServer(relay, nil, "")

	rec, out := post(t, h, map[string]any{"txs": signedTxs(t, 2), "targetBlock": 101, "maxBlockNumber": 121})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	simOut, ok := out["error"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, false, simOut["success"])
	assert.Equal(t, "insufficient funds for gas", simOut["error"])
	assert.EqualValues(t, 1, simOut["index"])
	assert.Empty(t, relay.sent)
}

func TestBundle_Errors(t *testing.T) {
	tests := map[string]struct {
		relay *stubRelay
		chain HeadReader
		body  map[string]any
	}{
		"empty txs": {
			relay: &stubRelay{sim: bundlecore.SimulationSuccess(1, 1)},
			body:  map[string]any{"txs": []string{}, "targetBlock": 2, "maxBlockNumber": 3},
		},
		"bad hex": {
			relay: &stubRelay{sim: bundlecore.SimulationSuccess(1, 1)},
			body:  map[string]any{"txs": []string{"0xzz"}, "targetBlock": 2, "maxBlockNumber": 3},
		},
		"inverted window": {
			relay: &stubRelay{sim: bundlecore.SimulationSuccess(1, 1)},
			body:  map[string]any{"txs": signedTxs(t, 1), "targetBlock": 9, "maxBlockNumber": 3},
		},
		"stale window": {
			relay: &stubRelay{sim: bundlecore.SimulationSuccess(1, 1)},
			chain: stubHead{head: 500},
			body:  map[string]any{"txs": signedTxs(t, 1), "targetBlock": 101, "maxBlockNumber": 121},
		},
		"relay down": {
			relay: &stubRelay{simErr: &bundlecore.RelayUnavailableError{Err: errors.New("connection refused")}},
			body:  map[string]any{"txs": signedTxs(t, 1), "targetBlock": 101, "maxBlockNumber": 121},
		},
		"rejected": {
			relay: &stubRelay{sim: bundlecore.SimulationSuccess(1, 1), sendErr: &bundlecore.RelayRejectedError{Code: -32000, Message: "bundle too large"}},
			body:  map[string]any{"txs": signedTxs(t, 1), "targetBlock": 101, "maxBlockNumber": 121},
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			rec, out := post(t, newTestServer(tc.relay, tc.chain, ""), tc.body)
			assert.Equal(t, http.StatusInternalServerError, rec.Code)
			msg, ok := out["error"].(string)
			assert.True(t, ok)
			assert.NotEmpty(t, msg)
			assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}

func TestBundle_WindowOverCapNeverReachesRelay(t *testing.T) {
	relay := &stubRelay{sim: bundlecore.SimulationSuccess(1, 1)}
	rec, out := post(t, newTestServer(relay, stubHead{head: 100}, ""), map[string]any{
		"txs": signedTxs(t, 1), "targetBlock": 101, "maxBlockNumber": 101 + bundlecore.MaxWindowBlocks + 1,
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, out["error"], "invalid bundle")
	assert.Zero(t, relay.sims)
	assert.Empty(t, relay.sent)
}

func TestBundle_Options(t *testing.T) {
	h := newTestServer(&stubRelay{}, nil, "")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/bundle", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{}`, rec.Body.String())
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "POST, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Content-Type", rec.Header().Get("Access-Control-Allow-Headers"))
}

func TestHealthReadyMetrics(t *testing.T) {
	h := newTestServer(&stubRelay{}, stubHead{err: errors.New("dial")}, "secret")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
